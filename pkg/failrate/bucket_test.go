// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func testConfig(maxAttempts uint32) Config {
	return Config{
		MaxAttempts:          maxAttempts,
		BaseLockout:          time.Second,
		MaxLockout:           300 * time.Second,
		MaxBackoffMultiplier: 256,
	}.Normalize()
}

func TestBucket_LockedExactlyOnMaxAttempts(t *testing.T) {
	for _, maxAttempts := range []uint32{1, 2, 3, 5, 10} {
		config := testConfig(maxAttempts)
		b := NewBucket()

		for i := uint32(1); i < maxAttempts; i++ {
			lockout, locked := b.RecordFailure(epoch, config)
			require.Falsef(t, locked, "failure %d of %d", i, maxAttempts)
			require.Zero(t, lockout)

			status, remaining := b.Check(epoch, config)
			require.Equal(t, Allowed, status)
			require.Zero(t, remaining)
			require.Equal(t, maxAttempts-i, b.AttemptsRemaining(epoch, config))
		}

		lockout, locked := b.RecordFailure(epoch, config)
		require.True(t, locked)
		require.Equal(t, time.Second, lockout)

		status, remaining := b.Check(epoch, config)
		require.Equal(t, LockedOut, status)
		require.Equal(t, time.Second, remaining)
		require.Zero(t, b.AttemptsRemaining(epoch, config))
		require.Equal(t, maxAttempts, b.FailedAttempts)
		require.EqualValues(t, 2, b.BackoffMultiplier)
	}
}

func TestBucket_SuccessForgives(t *testing.T) {
	config := testConfig(3)

	testCases := []struct {
		desc       string
		failures   int
		wantLocked bool
	}{
		{desc: "fresh", failures: 0},
		{desc: "some failures", failures: 2},
		{desc: "locked out", failures: 3, wantLocked: true},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			b := NewBucket()
			for i := 0; i < tC.failures; i++ {
				b.RecordFailure(epoch, config)
			}

			now := epoch.Add(100 * time.Millisecond)
			assert.Equal(t, tC.wantLocked, b.RecordSuccess(now))
			assert.Zero(t, b.FailedAttempts)
			assert.Zero(t, b.LockoutUntilUnix)
			assert.EqualValues(t, 1, b.BackoffMultiplier)
			assert.Equal(t, now.Unix(), b.LastAttemptUnix)
			assert.True(t, b.IsZero())
			assert.Equal(t, config.MaxAttempts, b.AttemptsRemaining(now, config))
		})
	}
}

func TestBucket_FailureDuringLockoutIsIgnored(t *testing.T) {
	config := testConfig(2)
	b := NewBucket()

	b.RecordFailure(epoch, config)
	_, locked := b.RecordFailure(epoch, config)
	require.True(t, locked)
	before := b

	later := epoch.Add(500 * time.Millisecond)
	_, locked = b.RecordFailure(later, config)
	require.False(t, locked)
	require.Equal(t, before.FailedAttempts, b.FailedAttempts)
	require.Equal(t, before.LockoutUntilUnix, b.LockoutUntilUnix)
	require.Equal(t, before.BackoffMultiplier, b.BackoffMultiplier)
	require.LessOrEqual(t, b.FailedAttempts, config.MaxAttempts)
}

func TestBucket_EscalatesAfterPassiveExpiry(t *testing.T) {
	config := testConfig(3)
	b := NewBucket()
	now := epoch

	for i := 0; i < 3; i++ {
		b.RecordFailure(now, config)
	}
	require.True(t, b.IsLockedOut(now))

	var (
		lockouts    []time.Duration
		multipliers []uint32
	)
	for i := 0; i < 10; i++ {
		now = now.Add(b.RemainingLockout(now))
		require.False(t, b.IsLockedOut(now), "lockout expires by time alone")
		status, _ := b.Check(now, config)
		require.Equal(t, Allowed, status)

		previous := b.BackoffMultiplier
		lockout, locked := b.RecordFailure(now, config)
		require.True(t, locked, "a failure after an expired lockout locks again")
		require.GreaterOrEqual(t, b.BackoffMultiplier, previous)
		require.LessOrEqual(t, b.BackoffMultiplier, config.MaxBackoffMultiplier)
		require.Equal(t, config.MaxAttempts, b.FailedAttempts)

		lockouts = append(lockouts, lockout)
		multipliers = append(multipliers, b.BackoffMultiplier)
	}

	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
		64 * time.Second, 128 * time.Second, 256 * time.Second, 256 * time.Second, 256 * time.Second,
	}, lockouts)
	assert.Equal(t, []uint32{4, 8, 16, 32, 64, 128, 256, 256, 256, 256}, multipliers)
}

func TestBucket_MaxLockoutCeiling(t *testing.T) {
	config := Config{
		MaxAttempts:          1,
		BaseLockout:          10 * time.Second,
		MaxLockout:           25 * time.Second,
		MaxBackoffMultiplier: 1024,
	}.Normalize()

	b := NewBucket()
	now := epoch
	var lockouts []time.Duration
	for i := 0; i < 4; i++ {
		lockout, locked := b.RecordFailure(now, config)
		require.True(t, locked)
		lockouts = append(lockouts, lockout)
		require.Equal(t, now.Add(lockout).Unix(), b.LockoutUntilUnix)
		now = now.Add(lockout)
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 25 * time.Second, 25 * time.Second}, lockouts)
}

func TestBucket_Reset(t *testing.T) {
	config := testConfig(1)
	b := NewBucket()
	b.RecordFailure(epoch, config)
	require.True(t, b.IsLockedOut(epoch))

	b.Reset()
	assert.False(t, b.IsLockedOut(epoch))
	assert.True(t, b.IsZero())
	assert.Equal(t, epoch.Unix(), b.LastAttemptUnix, "reset is not an attempt")
}

func TestBucket_ClockMovesBackward(t *testing.T) {
	config := testConfig(1)
	b := NewBucket()
	b.RecordFailure(epoch, config)

	// A lockout in the past reads as allowed, and one far in the future
	// stays in force.
	assert.True(t, b.IsLockedOut(epoch.Add(-time.Hour)))
	assert.False(t, b.IsLockedOut(epoch.Add(time.Hour)))
}

func TestBucket_ThrottleBetweenFailures(t *testing.T) {
	config := testConfig(3)

	b := NewBucket()
	b.RecordFailure(epoch, config)

	status, remaining := b.Check(epoch, config)
	require.Equal(t, Allowed, status, "throttling is disabled by default")
	require.Zero(t, remaining)

	config.ThrottleBetweenFailures = true

	status, remaining = b.Check(epoch, config)
	require.Equal(t, Backoff, status)
	require.Equal(t, time.Second, remaining)

	status, _ = b.Check(epoch.Add(time.Second), config)
	require.Equal(t, Allowed, status)

	b.RecordFailure(epoch.Add(time.Second), config)
	b.RecordFailure(epoch.Add(2*time.Second), config)
	status, remaining = b.Check(epoch.Add(2*time.Second), config)
	require.Equal(t, LockedOut, status, "lockout takes precedence over backoff")
	require.Equal(t, time.Second, remaining)
}

func TestBucket_Times(t *testing.T) {
	b := NewBucket()
	assert.True(t, b.LockoutUntil().IsZero())
	assert.True(t, b.LastAttempt().IsZero())

	b.RecordFailure(epoch, testConfig(1))
	assert.Equal(t, epoch.Add(time.Second), b.LockoutUntil())
	assert.Equal(t, epoch, b.LastAttempt())
}
