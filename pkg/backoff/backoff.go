// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

// Package backoff contains the delay computations shared by the limiter and
// its storage backends.
package backoff

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// ExponentialBackoff provides delays between retries of a failing storage
// operation.
type ExponentialBackoff struct {
	Delay time.Duration `help:"the active time between retries, typically not set" default:"0ms"`
	Max   time.Duration `help:"the maximum time between retries; retrying stops once it is reached" default:"1s"`
	Min   time.Duration `help:"the minimum time between retries" default:"5ms"`
}

func (e *ExponentialBackoff) init() {
	if e.Max == 0 {
		e.Max = time.Second
	}
	if e.Min == 0 {
		e.Min = 5 * time.Millisecond
	}
}

// Wait should be called after a failure. Each call sleeps twice as long as
// the previous one, up to Max. It returns early with the context's error.
func (e *ExponentialBackoff) Wait(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.init()
	if e.Delay == 0 {
		e.Delay = e.Min
	} else {
		e.Delay *= 2
	}
	if e.Delay > e.Max {
		e.Delay = e.Max
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t := time.NewTimer(e.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls f until it succeeds, fails with an error retryable rejects, or
// the delay has maxed out, waiting between attempts. The receiver keeps the
// configuration; each call starts again from Min.
func (e ExponentialBackoff) Retry(ctx context.Context, retryable func(error) bool, f func() error) (err error) {
	defer mon.Task()(&ctx)(&err)

	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil || !retryable(err) {
			return err
		}
		if e.Maxed() {
			mon.IntVal("backoff_retry_attempts").Observe(int64(attempt))
			return err
		}
		if err := e.Wait(ctx); err != nil {
			return err
		}
	}
}

// Maxed returns true if the wait time has maxed out.
func (e *ExponentialBackoff) Maxed() bool {
	e.init()
	return e.Delay == e.Max
}
