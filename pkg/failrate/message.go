// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"fmt"
	"time"
)

// FormatMessage returns a user-facing description of status. remaining is
// the wait reported together with status and is rounded down to whole
// seconds.
func FormatMessage(status Status, remaining time.Duration) string {
	seconds := int64(remaining / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	switch status {
	case Allowed:
		return "Authentication allowed"
	case LockedOut:
		return "Locked out: too many failed authentication attempts. Try again in " + lockoutDuration(seconds) + "."
	case Backoff:
		return "Too many failed attempts. Retry after " + backoffDuration(seconds) + "."
	default:
		return "Unknown rate limit status"
	}
}

func lockoutDuration(seconds int64) string {
	switch {
	case seconds < 60:
		return plural(seconds, "second")
	case seconds < 3600:
		// rounded to the nearest minute
		return plural((seconds+30)/60, "minute")
	default:
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	}
}

func backoffDuration(seconds int64) string {
	switch {
	case seconds < 60:
		return plural(seconds, "second")
	case seconds < 3600:
		if s := seconds % 60; s > 0 {
			return plural(seconds/60, "minute") + " and " + plural(s, "second")
		}
		return plural(seconds/60, "minute")
	default:
		return plural(seconds/3600, "hour")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
