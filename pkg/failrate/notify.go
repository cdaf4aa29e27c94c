// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"time"
)

// Notifier observes lockout transitions of a Limiter.
//
// Methods are called synchronously on the goroutine of the call that caused
// the transition, after the Limiter's lock has been released, so they may
// call back into the Limiter. Each transition is delivered exactly once.
type Notifier interface {
	// GlobalExceeded is called when the global bucket enters a lockout.
	GlobalExceeded(lockout time.Duration)
	// GlobalExpired is called when a success clears an active global lockout.
	GlobalExpired()
	// IdentityExceeded is called when an identity enters a lockout.
	IdentityExceeded(identity string, lockout time.Duration)
	// IdentityExpired is called when a success clears an active lockout of
	// an identity.
	IdentityExpired(identity string)
}

// NotifierFuncs implements Notifier with optional functions.
type NotifierFuncs struct {
	OnGlobalExceeded   func(lockout time.Duration)
	OnGlobalExpired    func()
	OnIdentityExceeded func(identity string, lockout time.Duration)
	OnIdentityExpired  func(identity string)
}

var _ Notifier = NotifierFuncs{}

// GlobalExceeded implements Notifier.
func (f NotifierFuncs) GlobalExceeded(lockout time.Duration) {
	if f.OnGlobalExceeded != nil {
		f.OnGlobalExceeded(lockout)
	}
}

// GlobalExpired implements Notifier.
func (f NotifierFuncs) GlobalExpired() {
	if f.OnGlobalExpired != nil {
		f.OnGlobalExpired()
	}
}

// IdentityExceeded implements Notifier.
func (f NotifierFuncs) IdentityExceeded(identity string, lockout time.Duration) {
	if f.OnIdentityExceeded != nil {
		f.OnIdentityExceeded(identity, lockout)
	}
}

// IdentityExpired implements Notifier.
func (f NotifierFuncs) IdentityExpired(identity string) {
	if f.OnIdentityExpired != nil {
		f.OnIdentityExpired(identity)
	}
}

type transitionKind int

const (
	noTransition transitionKind = iota
	exceeded
	expired
)

// transition is a lockout edge crossed inside the critical section, kept
// for delivery after unlock.
type transition struct {
	kind       transitionKind
	identity   string // empty for the global bucket
	lockout    time.Duration
	failed     uint32
	multiplier uint32
}

func (t transition) scope() string {
	if t.identity == "" {
		return "global"
	}
	return "identity"
}
