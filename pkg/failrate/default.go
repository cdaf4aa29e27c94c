// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"storj.io/authlimit/pkg/failrate/filestate"
	"storj.io/authlimit/pkg/failrate/memstate"
	"storj.io/authlimit/pkg/failrate/statedb"
)

var (
	defaultMu      sync.Mutex
	defaultLimiter *Limiter
)

// Default returns the process-wide Limiter, creating it on first use with
// DefaultConfig and a state file in the user's configuration directory.
//
// Prefer constructing a Limiter with New and passing it around; Default is
// for call sites that have no natural place to hold one.
func Default() *Limiter {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultLimiter == nil {
		defaultLimiter = newDefault()
	}
	return defaultLimiter
}

// SetDefault replaces the process-wide Limiter and returns the previous one,
// which may be nil. Passing nil makes the next Default call create a new one.
func SetDefault(l *Limiter) (previous *Limiter) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	previous, defaultLimiter = defaultLimiter, l
	return previous
}

// DefaultStatePath returns where Default keeps its state.
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", Error.Wrap(err)
	}
	return filepath.Join(dir, "authlimit", "state.bin"), nil
}

func newDefault() *Limiter {
	log := zap.L().Named("failrate")

	var storage statedb.Storage
	if path, err := DefaultStatePath(); err == nil {
		storage = filestate.New(path)
	} else {
		log.Warn("no configuration directory; rate limit state will not survive a restart", zap.Error(err))
		storage = memstate.New()
	}

	return New(context.Background(), log, DefaultConfig(), storage)
}
