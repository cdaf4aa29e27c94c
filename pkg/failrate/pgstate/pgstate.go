// Copyright (C) 2023 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pgstate implements statedb.Storage as a row in a PostgreSQL table.
package pgstate

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrations
	"github.com/pressly/goose/v3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/pkg/failrate/statedb"
)

// DefaultName is the row used when Config.Name is empty.
const DefaultName = "default"

var (
	mon = monkit.Package()

	// Error is the default error class for the pgstate package.
	Error = errs.Class("pgstate")
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ statedb.Storage = (*Storage)(nil)

// Pool is the subset of *pgxpool.Pool used by Storage.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config configures Storage.
type Config struct {
	// DSN is a PostgreSQL connection string.
	DSN string
	// Name selects the row, so several limiters can share one table.
	Name string
}

// Storage is a state storage backed by PostgreSQL.
type Storage struct {
	log  *zap.Logger
	pool Pool
	name string
}

// Open connects to the database at config.DSN. The schema must already
// exist; see Migrate.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *Storage, err error) {
	defer mon.Task()(&ctx)(&err)

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, Error.New("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, Error.New("ping: %w", err)
	}

	return New(log, pool, config.Name), nil
}

// New returns a Storage using pool. The Storage takes ownership of pool. A
// nil log discards messages.
func New(log *zap.Logger, pool Pool, name string) *Storage {
	if log == nil {
		log = zap.NewNop()
	}
	if name == "" {
		name = DefaultName
	}
	return &Storage{
		log:  log,
		pool: pool,
		name: name,
	}
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(ctx context.Context, log *zap.Logger, dsn string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(db.Close())) }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return Error.Wrap(err)
	}

	log.Info("applying migrations")
	return Error.Wrap(goose.UpContext(ctx, db, "migrations"))
}

// Load retrieves the state row.
func (s *Storage) Load(ctx context.Context) (state []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	err = s.pool.QueryRow(ctx,
		`SELECT state FROM failrate_state WHERE name = $1`,
		s.name,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, statedb.ErrNotFound
		}
		return nil, Error.Wrap(err)
	}
	if state == nil {
		state = []byte{}
	}
	return state, nil
}

// Save upserts the state row.
func (s *Storage) Save(ctx context.Context, state []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if state == nil {
		state = []byte{}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO failrate_state (name, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		s.name, state,
	)
	if err != nil {
		s.log.Debug("postgres save failed", zap.String("name", s.name), zap.Error(err))
	}
	return Error.Wrap(err)
}

// Close closes the pool.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}
