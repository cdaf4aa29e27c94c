// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package backoff

import (
	"math"
	"time"
)

// LockoutPolicy computes lockout durations that grow exponentially with each
// lockout a subject enters.
//
// The zero value is usable and always returns a zero lockout.
type LockoutPolicy struct {
	// Base is the duration of the first lockout.
	Base time.Duration
	// Max is the ceiling for any single lockout.
	Max time.Duration
	// MaxMultiplier caps the growth of the multiplier.
	MaxMultiplier uint32
}

// NextLockout returns the lockout to apply for the current multiplier, that
// is min(Base*multiplier, Max).
func (p LockoutPolicy) NextLockout(multiplier uint32) time.Duration {
	if multiplier == 0 || p.Base <= 0 {
		return 0
	}
	if p.Base > time.Duration(math.MaxInt64/int64(multiplier)) {
		return p.Max
	}
	if d := p.Base * time.Duration(multiplier); d < p.Max {
		return d
	}
	return p.Max
}

// AdvanceMultiplier returns the multiplier to use for the following lockout,
// that is min(multiplier*2, MaxMultiplier). A zero multiplier advances to 1.
func (p LockoutPolicy) AdvanceMultiplier(multiplier uint32) uint32 {
	next := uint64(multiplier) * 2
	if next == 0 {
		next = 1
	}
	if next > uint64(p.MaxMultiplier) {
		return p.MaxMultiplier
	}
	return uint32(next)
}
