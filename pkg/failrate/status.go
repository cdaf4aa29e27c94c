// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"strings"

	"github.com/zeebo/errs"
)

// Status is the outcome of a check.
type Status int

const (
	// Allowed means an authentication attempt may proceed.
	Allowed Status = iota
	// Backoff means the subject must pause before its next attempt. It is
	// only reported when Config.ThrottleBetweenFailures is set.
	Backoff
	// LockedOut means the subject is locked out.
	LockedOut
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Backoff:
		return "backoff"
	case LockedOut:
		return "locked-out"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allowed":
		return Allowed, nil
	case "backoff":
		return Backoff, nil
	case "locked-out", "lockedout", "locked":
		return LockedOut, nil
	default:
		return 0, errs.New("unknown status %q", s)
	}
}
