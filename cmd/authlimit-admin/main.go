// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/zeebo/clingy"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/pkg/failrate"
)

var (
	zapLogger = zap.NewNop()

	backend     string
	maxAttempts uint32
)

func main() {
	ok, err := clingy.Environment{}.Run(context.Background(), func(cmds clingy.Commands) {
		logEnabled := cmds.Flag("log.enabled", "log debug messages", false,
			clingy.Transform(strconv.ParseBool), clingy.Boolean,
		).(bool)
		if logEnabled {
			if l, err := zap.NewDevelopment(); err == nil {
				zapLogger = l
			}
		}

		backend = cmds.Flag("backend", "state storage connection string (file:///path, badger:///path, redis://..., postgres://...)", "").(string)
		maxAttempts = cmds.Flag("max-attempts", "failed attempts before a lockout, used to compute attempts remaining", uint32(failrate.DefaultMaxAttempts),
			clingy.Transform(parseUint32),
		).(uint32)

		cmds.Group("identity", "identity commands", func() {
			cmds.New("list", "list tracked identities", new(cmdIdentityList))
			cmds.New("show", "show an identity", new(cmdIdentityShow))
			cmds.New("reset", "forget an identity", new(cmdIdentityReset))
			cmds.New("clear", "forget every identity", new(cmdIdentityClear))
		})
		cmds.Group("global", "global bucket commands", func() {
			cmds.New("show", "show the global bucket", new(cmdGlobalShow))
			cmds.New("reset", "reset the global bucket", new(cmdGlobalReset))
		})
		cmds.New("message", "print the message for a status and remaining seconds", new(cmdMessage))
	})
	_ = zapLogger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
	}
	if !ok || err != nil {
		os.Exit(1)
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// openLimiter opens the configured storage and restores a Limiter from it.
// The caller must call close when done.
func openLimiter(ctx context.Context) (l *failrate.Limiter, close func() error, err error) {
	if backend == "" {
		return nil, nil, errs.New("--backend must be set")
	}

	storage, err := failrate.OpenStorage(ctx, zapLogger, failrate.StorageConfig{Backend: backend})
	if err != nil {
		return nil, nil, errs.New("open storage: %w", err)
	}

	config := failrate.DefaultConfig()
	config.MaxAttempts = maxAttempts

	l, err = failrate.Open(ctx, zapLogger, config, storage)
	if err != nil {
		return nil, nil, errs.Combine(errs.New("load state: %w", err), storage.Close())
	}

	return l, storage.Close, nil
}
