// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

// Package failrate protects authentication against brute force by locking
// out subjects that fail too often.
//
// A Limiter tracks one global subject, typically the local unlock secret,
// and any number of identities, typically the public keys of remote clients.
// Each subject has a Bucket counting its consecutive failures.
//
// The caller checks a subject before attempting authentication, performs the
// attempt against its own verifier and records the outcome. Reaching
// Config.MaxAttempts consecutive failures locks the subject out for
// BaseLockout times the subject's multiplier, capped at MaxLockout, and
// doubles the multiplier for the next lockout. A success forgives every
// previous failure.
//
// Lockouts expire by the passing of time only; nothing runs in the
// background. Every check recomputes the status from the clock.
//
// After every mutation the Limiter writes its state to a statedb.Storage.
// Writing is best-effort: failures are logged and the Limiter keeps working
// in memory.
package failrate
