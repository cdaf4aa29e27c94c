// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memstate implements statedb.Storage in process memory. State does
// not survive a restart.
package memstate

import (
	"context"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"

	"storj.io/authlimit/pkg/failrate/statedb"
)

var mon = monkit.Package()

var _ statedb.Storage = (*Storage)(nil)

// Storage is a state storage backed by a byte slice.
type Storage struct {
	mu    sync.Mutex
	state []byte
	saved bool
}

// New constructs a Storage.
func New() *Storage {
	return &Storage{}
}

// Load returns a copy of the last saved state.
func (s *Storage) Load(ctx context.Context) (state []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.saved {
		return nil, statedb.ErrNotFound
	}

	return append([]byte{}, s.state...), nil
}

// Save stores a copy of state.
func (s *Storage) Save(ctx context.Context, state []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = append(s.state[:0:0], state...)
	s.saved = true
	return nil
}

// Close is a no-op.
func (s *Storage) Close() error { return nil }
