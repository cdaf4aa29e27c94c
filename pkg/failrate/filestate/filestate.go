// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filestate implements statedb.Storage as a single file that is
// replaced atomically on every save.
package filestate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/authlimit/pkg/failrate/statedb"
)

var mon = monkit.Package()

// Error is the class of filestate errors.
var Error = errs.Class("filestate")

var _ statedb.Storage = (*Storage)(nil)

// Storage keeps the state in the file at Path.
type Storage struct {
	path string

	// mu serializes writers within the process so temporary files of
	// concurrent saves don't race on rename.
	mu sync.Mutex
}

// New returns a Storage for the file at path. Neither the file nor its
// directory has to exist.
func New(path string) *Storage {
	return &Storage{path: path}
}

// Path returns the location of the state file.
func (s *Storage) Path() string { return s.path }

// Load reads the state file.
func (s *Storage) Load(ctx context.Context) (state []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	state, err = os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, statedb.ErrNotFound
		}
		return nil, Error.Wrap(err)
	}
	return state, nil
}

// Save writes state to a temporary file next to the target and renames it
// over the target, so readers never observe a partial write.
func (s *Storage) Save(ctx context.Context, state []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Error.Wrap(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(os.Remove(tmp.Name())))
		}
	}()

	if _, err = tmp.Write(state); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(tmp.Close()))
	}
	if err = tmp.Sync(); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(tmp.Close()))
	}
	if err = tmp.Close(); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(os.Rename(tmp.Name(), s.path))
}

// Close is a no-op; the file is not held open between calls.
func (s *Storage) Close() error { return nil }
