// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

// Package statedb defines the storage contract for the persisted state of
// failrate.Limiter.
package statedb

import (
	"context"

	"github.com/zeebo/errs"
)

// Error is the class of errors returned by storage backends.
var Error = errs.Class("statedb")

// ErrNotFound is returned by Load when no state has been saved yet.
var ErrNotFound = Error.New("state not found")

// Storage holds a single opaque state blob.
type Storage interface {
	// Load retrieves the most recently saved state.
	// It returns ErrNotFound if nothing has been saved yet.
	Load(ctx context.Context) (state []byte, err error)

	// Save replaces the stored state. The caller may reuse state after
	// Save returns.
	Save(ctx context.Context, state []byte) (err error)

	// Close releases the resources held by the storage.
	Close() error
}
