// Copyright (C) 2023 Storj Labs, Inc.
// See LICENSE for copying information.

package pgstate

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/authlimit/pkg/failrate/statedb"
	"storj.io/common/testcontext"
)

const (
	selectQuery = `SELECT state FROM failrate_state WHERE name = \$1`
	upsertQuery = `INSERT INTO failrate_state \(name, state, updated_at\) VALUES \(\$1, \$2, now\(\)\)`
)

func newStorage(t *testing.T, name string) (*Storage, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return New(zaptest.NewLogger(t), mock, name), mock
}

func TestStorage_Load(t *testing.T) {
	ctx := testcontext.New(t)
	storage, mock := newStorage(t, "")
	defer mock.Close()

	mock.ExpectQuery(selectQuery).
		WithArgs(DefaultName).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow([]byte{0x08, 0x01}))

	state, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01}, state)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadNotFound(t *testing.T) {
	ctx := testcontext.New(t)
	storage, mock := newStorage(t, "signer")
	defer mock.Close()

	mock.ExpectQuery(selectQuery).
		WithArgs("signer").
		WillReturnError(pgx.ErrNoRows)

	_, err := storage.Load(ctx)
	require.ErrorIs(t, err, statedb.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadError(t *testing.T) {
	ctx := testcontext.New(t)
	storage, mock := newStorage(t, "")
	defer mock.Close()

	mock.ExpectQuery(selectQuery).
		WithArgs(DefaultName).
		WillReturnError(errors.New("connection reset"))

	_, err := storage.Load(ctx)
	require.Error(t, err)
	require.True(t, Error.Has(err))
	require.NotErrorIs(t, err, statedb.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Save(t *testing.T) {
	ctx := testcontext.New(t)
	storage, mock := newStorage(t, "")
	defer mock.Close()

	mock.ExpectExec(upsertQuery).
		WithArgs(DefaultName, []byte("state")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, storage.Save(ctx, []byte("state")))

	mock.ExpectExec(upsertQuery).
		WithArgs(DefaultName, []byte{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, storage.Save(ctx, nil))

	mock.ExpectExec(upsertQuery).
		WithArgs(DefaultName, []byte("state")).
		WillReturnError(errors.New("read-only transaction"))
	err := storage.Save(ctx, []byte("state"))
	require.Error(t, err)
	require.True(t, Error.Has(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Embedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	data, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS failrate_state")
}

func TestStorage_NilLogger(t *testing.T) {
	ctx := testcontext.New(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	storage := New(nil, mock, "")

	mock.ExpectExec(upsertQuery).
		WithArgs(DefaultName, []byte("state")).
		WillReturnError(errors.New("connection reset"))

	require.NotPanics(t, func() {
		err = storage.Save(ctx, []byte("state"))
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
