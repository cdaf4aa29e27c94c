// Copyright (C) 2023 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/zeebo/clingy"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/pkg/failrate"
)

type cmdIdentityList struct {
	output string
}

func (cmd *cmdIdentityList) Setup(params clingy.Parameters) {
	cmd.output = params.Flag("output", "output format (either json or leave empty to output as text)", "", clingy.Short('o')).(string)
}

func (cmd *cmdIdentityList) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	identities := l.ListIdentities()

	switch cmd.output {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(identities)
	default:
		return printIdentities(os.Stdout, identities, time.Now(), l.Config())
	}
}

type cmdIdentityShow struct {
	identity string
	output   string
}

func (cmd *cmdIdentityShow) Setup(params clingy.Parameters) {
	cmd.output = params.Flag("output", "output format (either json or leave empty to output as text)", "", clingy.Short('o')).(string)
	cmd.identity = params.Arg("identity", "identity, usually a public key").(string)
}

func (cmd *cmdIdentityShow) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	info, ok := l.IdentityInfo(cmd.identity)
	if !ok {
		return errs.New("identity %q is not tracked", cmd.identity)
	}

	switch cmd.output {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(info)
	default:
		printFixed(os.Stdout, "Identity:", info.Identity)
		printBucket(os.Stdout, info.Bucket, time.Now(), l.Config())
		return nil
	}
}

type cmdIdentityReset struct {
	identity string
}

func (cmd *cmdIdentityReset) Setup(params clingy.Parameters) {
	cmd.identity = params.Arg("identity", "identity, usually a public key").(string)
}

func (cmd *cmdIdentityReset) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	if _, ok := l.IdentityInfo(cmd.identity); !ok {
		return errs.New("identity %q is not tracked", cmd.identity)
	}

	l.ResetIdentity(ctx, cmd.identity)
	zapLogger.Debug("identity reset", zap.String("identity", cmd.identity))

	// Save only writes again when the best-effort write that followed the
	// reset failed, and reports that error.
	return l.Save(ctx)
}

type cmdIdentityClear struct{}

func (cmd *cmdIdentityClear) Setup(params clingy.Parameters) {}

func (cmd *cmdIdentityClear) Execute(ctx context.Context) (err error) {
	l, closeStorage, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStorage()) }()

	n := l.ClearIdentities(ctx)
	if err := l.Save(ctx); err != nil {
		return err
	}

	fmt.Printf("Cleared %d identities\n", n)
	return nil
}

func printIdentities(w io.Writer, identities []failrate.Info, now time.Time, config failrate.Config) error {
	tw := tabwriter.NewWriter(w, 2, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tSTATUS\tFAILED\tREMAINING\tMULTIPLIER\tLAST ATTEMPT")
	for _, info := range identities {
		status, _ := info.Check(now, config)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			info.Identity,
			status,
			info.FailedAttempts,
			info.AttemptsRemaining(now, config),
			info.BackoffMultiplier,
			formatTime(info.LastAttempt()),
		)
	}
	return tw.Flush()
}

func printBucket(w io.Writer, b failrate.Bucket, now time.Time, config failrate.Config) {
	status, remaining := b.Check(now, config)
	printFixed(w, "Status:", status.String())
	printFixed(w, "Message:", failrate.FormatMessage(status, remaining))
	printFixed(w, "Failed attempts:", strconv.FormatUint(uint64(b.FailedAttempts), 10))
	printFixed(w, "Attempts left:", strconv.FormatUint(uint64(b.AttemptsRemaining(now, config)), 10))
	printFixed(w, "Multiplier:", strconv.FormatUint(uint64(b.BackoffMultiplier), 10))
	if !b.LockoutUntil().IsZero() {
		printFixed(w, "Lockout until:", formatTime(b.LockoutUntil()))
	}
	printFixed(w, "Last attempt:", formatTime(b.LastAttempt()))
}

func printFixed(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%-20s %s\n", name, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
