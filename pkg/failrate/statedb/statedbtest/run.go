// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

// Package statedbtest contains the conformance tests every statedb.Storage
// implementation must pass.
package statedbtest

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"storj.io/authlimit/pkg/failrate/statedb"
	"storj.io/common/testcontext"
)

// Run runs the conformance tests. open must return a new, empty storage on
// every call.
func Run(t *testing.T, open func(ctx *testcontext.Context, t *testing.T) statedb.Storage) {
	t.Run("LoadEmpty", func(t *testing.T) {
		ctx := testcontext.New(t)

		storage := open(ctx, t)
		defer ctx.Check(storage.Close)

		_, err := storage.Load(ctx)
		require.ErrorIs(t, err, statedb.ErrNotFound)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		ctx := testcontext.New(t)

		storage := open(ctx, t)
		defer ctx.Check(storage.Close)

		state := []byte{0x08, 0x01, 0x00, 0xff}
		require.NoError(t, storage.Save(ctx, state))

		loaded, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, state, loaded)

		// The storage must not alias the caller's buffer.
		state[0] = 0x42
		loaded, err = storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x08, 0x01, 0x00, 0xff}, loaded)

		loaded[1] = 0x42
		again, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x08, 0x01, 0x00, 0xff}, again)
	})

	t.Run("Overwrite", func(t *testing.T) {
		ctx := testcontext.New(t)

		storage := open(ctx, t)
		defer ctx.Check(storage.Close)

		require.NoError(t, storage.Save(ctx, []byte("first")))
		require.NoError(t, storage.Save(ctx, []byte("second state")))

		loaded, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("second state"), loaded)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		ctx := testcontext.New(t)

		storage := open(ctx, t)
		defer ctx.Check(storage.Close)

		var states [][]byte
		for i := 0; i < 10; i++ {
			states = append(states, []byte("state-"+strconv.Itoa(i)))
		}

		var group errgroup.Group
		for _, state := range states {
			state := state
			group.Go(func() error { return storage.Save(ctx, state) })
		}
		require.NoError(t, group.Wait())

		loaded, err := storage.Load(ctx)
		require.NoError(t, err)

		var found bool
		for _, state := range states {
			if bytes.Equal(state, loaded) {
				found = true
			}
		}
		assert.Truef(t, found, "loaded state %q must be one of the saved states", loaded)
	})
}
