// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"time"

	"storj.io/authlimit/pkg/backoff"
)

// Defaults of Config.
const (
	DefaultMaxAttempts          = 5
	DefaultWindowSeconds        = 300
	DefaultBaseLockout          = time.Second
	DefaultMaxLockout           = 300 * time.Second
	DefaultMaxBackoffMultiplier = 256
)

// Config configures a Limiter.
type Config struct {
	MaxAttempts   uint32 `help:"consecutive failed attempts allowed before a lockout" default:"5" testDefault:"3"`
	WindowSeconds uint32 `help:"reserved; not used to compute lockouts" default:"300"`

	BaseLockout          time.Duration `help:"duration of the first lockout, in whole seconds" default:"1s"`
	MaxLockout           time.Duration `help:"ceiling of any single lockout, in whole seconds" default:"5m"`
	MaxBackoffMultiplier uint32        `help:"cap on the growth of the lockout multiplier" default:"256"`

	MaxIdentities           int  `help:"maximum number of tracked identities, 0 means unbounded" default:"0"`
	ThrottleBetweenFailures bool `help:"require a growing pause between consecutive failed attempts before the lockout is reached" default:"false"`
}

// DefaultConfig returns the configuration used by Default.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          DefaultMaxAttempts,
		WindowSeconds:        DefaultWindowSeconds,
		BaseLockout:          DefaultBaseLockout,
		MaxLockout:           DefaultMaxLockout,
		MaxBackoffMultiplier: DefaultMaxBackoffMultiplier,
	}
}

// Normalize returns c with degenerate values replaced by the most
// restrictive safe value. Durations are truncated to whole seconds.
func (c Config) Normalize() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 1
	}

	c.BaseLockout = c.BaseLockout.Truncate(time.Second)
	if c.BaseLockout < time.Second {
		c.BaseLockout = time.Second
	}

	c.MaxLockout = c.MaxLockout.Truncate(time.Second)
	if c.MaxLockout < c.BaseLockout {
		c.MaxLockout = c.BaseLockout
	}

	if c.MaxBackoffMultiplier == 0 {
		c.MaxBackoffMultiplier = 1
	}

	if c.MaxIdentities < 0 {
		c.MaxIdentities = 0
	}

	return c
}

func (c Config) policy() backoff.LockoutPolicy {
	return backoff.LockoutPolicy{
		Base:          c.BaseLockout,
		Max:           c.MaxLockout,
		MaxMultiplier: c.MaxBackoffMultiplier,
	}
}
