// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dbutil parses the connection strings that select a state storage
// backend.
package dbutil

import (
	"strings"

	"github.com/zeebo/errs"
)

// Implementation type of valid storage backends.
type Implementation int

const (
	// Unknown is an unknown backend.
	Unknown Implementation = iota
	// Memory keeps state in process memory.
	Memory
	// File keeps state in a single file.
	File
	// Badger is a BadgerDB kv store.
	Badger
	// Redis is a Redis kv store.
	Redis
	// Postgres is a Postgres database.
	Postgres
)

// String returns the name of the implementation.
func (impl Implementation) String() string {
	switch impl {
	case Memory:
		return "memory"
	case File:
		return "file"
	case Badger:
		return "badger"
	case Redis:
		return "redis"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// ImplementationForScheme returns the Implementation that is used for
// the url with the provided scheme.
func ImplementationForScheme(scheme string) Implementation {
	switch scheme {
	case "memory", "mem":
		return Memory
	case "file":
		return File
	case "badger":
		return Badger
	case "redis", "rediss":
		return Redis
	case "pgx", "postgres", "postgresql":
		return Postgres
	default:
		return Unknown
	}
}

// SplitConnStr returns the driver and the source of a connection string of
// the form scheme://source.
//
// Postgres and Redis drivers take the whole URL as their source; the "pgx"
// scheme is rewritten to "postgres" for them.
func SplitConnStr(s string) (driver string, source string, implementation Implementation, err error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 {
		return "", "", Unknown, errs.New("could not parse connection string %q", s)
	}

	driver, source = parts[0], parts[1]
	implementation = ImplementationForScheme(driver)

	switch implementation {
	case Postgres:
		source = "postgres://" + source
	case Redis:
		source = s
	}

	return driver, source, implementation, nil
}
