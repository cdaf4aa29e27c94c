// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

package badgerstate

import (
	"testing"
	"time"

	badger "github.com/outcaste-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/authlimit/pkg/backoff"
	"storj.io/authlimit/pkg/failrate/statedb"
	"storj.io/authlimit/pkg/failrate/statedb/statedbtest"
	"storj.io/common/testcontext"
)

func TestStorage_InMemory(t *testing.T) {
	statedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T) statedb.Storage {
		storage, err := Open(zaptest.NewLogger(t), Config{})
		require.NoError(t, err)
		return storage
	})
}

func TestStorage_OnDisk(t *testing.T) {
	statedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T) statedb.Storage {
		storage, err := Open(zaptest.NewLogger(t), Config{Path: ctx.Dir("badger")})
		require.NoError(t, err)
		return storage
	})
}

func TestStorage_Reopen(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)
	config := Config{Path: ctx.Dir("badger")}

	storage, err := Open(log, config)
	require.NoError(t, err)
	require.NoError(t, storage.Save(ctx, []byte("durable")))
	require.NoError(t, storage.Close())

	storage, err = Open(log, config)
	require.NoError(t, err)
	defer ctx.Check(storage.Close)

	state, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), state)
}

func TestOpen_NilLogger(t *testing.T) {
	_, err := Open(nil, Config{})
	require.Error(t, err)
	require.True(t, Error.Has(err))
}

func TestErrorName(t *testing.T) {
	testCases := []struct {
		desc     string
		err      error
		expected string
		ok       bool
	}{
		{desc: "not found", err: statedb.ErrNotFound, expected: "NotFound", ok: true},
		{desc: "wrapped conflict", err: Error.Wrap(badger.ErrConflict), expected: "Conflict", ok: true},
		{desc: "db closed", err: badger.ErrDBClosed, expected: "DBClosed", ok: true},
		{desc: "class only", err: Error.New("boom"), expected: "BadgerState", ok: true},
		{desc: "unknown", err: assert.AnError, expected: "", ok: false},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			name, ok := errorName(tC.err)
			assert.Equal(t, tC.expected, name)
			assert.Equal(t, tC.ok, ok)
		})
	}
}

func TestStorage_ConflictsAreRetried(t *testing.T) {
	ctx := testcontext.New(t)

	storage, err := Open(zaptest.NewLogger(t), Config{
		ConflictBackoff: backoff.ExponentialBackoff{Min: time.Millisecond, Max: 4 * time.Millisecond},
	})
	require.NoError(t, err)
	defer ctx.Check(storage.Close)

	calls := 0
	require.NoError(t, storage.txnWithBackoff(ctx, func(txn *badger.Txn) error {
		calls++
		if calls < 3 {
			return badger.ErrConflict
		}
		return txn.Set([]byte(stateKey), []byte("state"))
	}))
	assert.Equal(t, 3, calls)

	state, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), state)

	calls = 0
	err = storage.txnWithBackoff(ctx, func(txn *badger.Txn) error {
		calls++
		return badger.ErrConflict
	})
	require.ErrorIs(t, err, badger.ErrConflict)
	assert.Equal(t, 4, calls, "retrying stops once the backoff maxes out")

	calls = 0
	err = storage.txnWithBackoff(ctx, func(txn *badger.Txn) error {
		calls++
		return badger.ErrEmptyKey
	})
	require.ErrorIs(t, err, badger.ErrEmptyKey)
	assert.Equal(t, 1, calls, "other errors are not retried")
}
