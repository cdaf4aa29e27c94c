// Copyright (C) 2023 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zeebo/clingy"
	"github.com/zeebo/errs"

	"storj.io/authlimit/pkg/failrate"
)

type cmdGlobalShow struct {
	output string
}

func (cmd *cmdGlobalShow) Setup(params clingy.Parameters) {
	cmd.output = params.Flag("output", "output format (either json or leave empty to output as text)", "", clingy.Short('o')).(string)
}

func (cmd *cmdGlobalShow) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	switch cmd.output {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(l.GlobalInfo())
	default:
		printBucket(os.Stdout, l.GlobalInfo(), time.Now(), l.Config())
		return nil
	}
}

type cmdGlobalReset struct{}

func (cmd *cmdGlobalReset) Setup(params clingy.Parameters) {}

func (cmd *cmdGlobalReset) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	// The write that follows ResetGlobal is best-effort; Save reports its
	// error and writes again only when it failed.
	l.ResetGlobal(ctx)
	return l.Save(ctx)
}

type cmdMessage struct {
	status  string
	seconds string
}

func (cmd *cmdMessage) Setup(params clingy.Parameters) {
	cmd.status = params.Arg("status", "allowed, backoff or locked-out").(string)
	cmd.seconds = params.Arg("seconds", "seconds until the next attempt is allowed").(string)
}

func (cmd *cmdMessage) Execute(ctx context.Context) error {
	message, err := formatMessage(cmd.status, cmd.seconds)
	if err != nil {
		return err
	}
	fmt.Println(message)
	return nil
}

func formatMessage(status, seconds string) (string, error) {
	s, err := failrate.ParseStatus(status)
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return "", errs.New("invalid seconds %q: %w", seconds, err)
	}
	return failrate.FormatMessage(s, time.Duration(n)*time.Second), nil
}
