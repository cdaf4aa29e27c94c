// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"time"
)

// Bucket is the rate limit state of one subject: the global subject or a
// single identity. All timestamps are Unix seconds.
//
// Bucket is not safe for concurrent use; Limiter serializes access to it.
type Bucket struct {
	FailedAttempts uint32 `json:"failed_attempts"`
	// LockoutUntilUnix is zero when no lockout was set.
	LockoutUntilUnix  int64  `json:"lockout_until"`
	BackoffMultiplier uint32 `json:"backoff_multiplier"`
	LastAttemptUnix   int64  `json:"last_attempt"`
}

// NewBucket returns a Bucket in its initial state.
func NewBucket() Bucket {
	return Bucket{BackoffMultiplier: 1}
}

// LockoutUntil returns the end of the lockout, or the zero time if no
// lockout was set.
func (b Bucket) LockoutUntil() time.Time {
	if b.LockoutUntilUnix == 0 {
		return time.Time{}
	}
	return time.Unix(b.LockoutUntilUnix, 0)
}

// LastAttempt returns the time of the last recorded attempt, or the zero
// time if none was recorded.
func (b Bucket) LastAttempt() time.Time {
	if b.LastAttemptUnix == 0 {
		return time.Time{}
	}
	return time.Unix(b.LastAttemptUnix, 0)
}

// IsZero reports whether b is indistinguishable from a fresh Bucket.
func (b Bucket) IsZero() bool {
	return b.FailedAttempts == 0 && b.LockoutUntilUnix == 0 && b.BackoffMultiplier <= 1
}

func (b Bucket) lockedAt(now int64) bool {
	return b.LockoutUntilUnix != 0 && now < b.LockoutUntilUnix
}

// IsLockedOut reports whether the lockout is active at now.
func (b Bucket) IsLockedOut(now time.Time) bool {
	return b.lockedAt(now.Unix())
}

// RemainingLockout returns how long the lockout lasts after now, in whole
// seconds, or zero if it is not active.
func (b Bucket) RemainingLockout(now time.Time) time.Duration {
	n := now.Unix()
	if !b.lockedAt(n) {
		return 0
	}
	return time.Duration(b.LockoutUntilUnix-n) * time.Second
}

// Check returns the status of the bucket at now and, unless the status is
// Allowed, how long the subject has to wait.
func (b Bucket) Check(now time.Time, config Config) (Status, time.Duration) {
	n := now.Unix()
	if b.lockedAt(n) {
		return LockedOut, time.Duration(b.LockoutUntilUnix-n) * time.Second
	}

	if config.ThrottleBetweenFailures && b.FailedAttempts > 0 && b.FailedAttempts < config.MaxAttempts {
		pause := config.policy().NextLockout(max(b.BackoffMultiplier, 1))
		nextAllowed := b.LastAttemptUnix + int64(pause/time.Second)
		if n < nextAllowed {
			return Backoff, time.Duration(nextAllowed-n) * time.Second
		}
	}

	return Allowed, 0
}

// AttemptsRemaining returns how many consecutive failures are left before a
// lockout. It is zero while the lockout is active.
func (b Bucket) AttemptsRemaining(now time.Time, config Config) uint32 {
	if b.lockedAt(now.Unix()) || b.FailedAttempts >= config.MaxAttempts {
		return 0
	}
	return config.MaxAttempts - b.FailedAttempts
}

// RecordFailure records a failed attempt at now. When the failure reaches
// config.MaxAttempts the bucket enters a lockout, the multiplier advances and
// RecordFailure returns the lockout duration and true.
//
// A failure recorded during an active lockout only updates the last attempt.
// Once a lockout has passed, the failure counter stays saturated, so the next
// failure immediately enters a longer lockout.
func (b *Bucket) RecordFailure(now time.Time, config Config) (lockout time.Duration, locked bool) {
	n := now.Unix()
	b.LastAttemptUnix = n

	if b.lockedAt(n) {
		return 0, false
	}

	if b.BackoffMultiplier == 0 {
		b.BackoffMultiplier = 1
	}

	if b.FailedAttempts < config.MaxAttempts {
		b.FailedAttempts++
	}
	if b.FailedAttempts < config.MaxAttempts {
		return 0, false
	}

	policy := config.policy()
	lockout = policy.NextLockout(b.BackoffMultiplier)
	b.LockoutUntilUnix = n + int64(lockout/time.Second)
	b.BackoffMultiplier = policy.AdvanceMultiplier(b.BackoffMultiplier)

	return lockout, true
}

// RecordSuccess records a successful attempt at now, forgiving all previous
// failures. It reports whether a lockout was active.
func (b *Bucket) RecordSuccess(now time.Time) (wasLocked bool) {
	n := now.Unix()
	wasLocked = b.lockedAt(n)
	*b = NewBucket()
	b.LastAttemptUnix = n
	return wasLocked
}

// Reset returns the counters to their initial state without recording an
// attempt.
func (b *Bucket) Reset() {
	last := b.LastAttemptUnix
	*b = NewBucket()
	b.LastAttemptUnix = last
}
