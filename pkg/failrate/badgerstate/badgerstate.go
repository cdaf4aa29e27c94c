// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

// Package badgerstate implements statedb.Storage on top of BadgerDB.
package badgerstate

import (
	"context"

	badger "github.com/outcaste-io/badger/v3"
	"github.com/outcaste-io/badger/v3/options"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/pkg/backoff"
	"storj.io/authlimit/pkg/failrate/statedb"
)

const stateKey = "failrate/state"

var (
	mon = monkit.Package()

	// Error is the default error class for the badgerstate package.
	Error = errs.Class("badgerstate")
)

var _ statedb.Storage = (*Storage)(nil)

// Config configures Storage.
type Config struct {
	// Path is where to store data. Empty means in memory.
	Path string
	// ConflictBackoff configures retries for conflicting transactions.
	ConflictBackoff backoff.ExponentialBackoff
}

// Storage is a state storage backed by BadgerDB.
type Storage struct {
	log *zap.Logger
	db  *badger.DB

	config Config
}

// Open opens the underlying BadgerDB.
func Open(log *zap.Logger, config Config) (*Storage, error) {
	if log == nil {
		return nil, Error.New("needs non-nil logger")
	}

	opt := badger.DefaultOptions(config.Path)

	if inMemory := config.Path == ""; inMemory {
		log.Warn("in-memory mode enabled. Rate limit state will be lost on shutdown!")
		opt = opt.WithInMemory(inMemory)
	}

	// A lockout that is not durable can be bypassed by crashing the process.
	opt = opt.WithSyncWrites(true)
	opt = opt.WithCompression(options.None)
	// Without compression and encryption the block cache only adds overhead.
	opt = opt.WithBlockCacheSize(0)
	opt = opt.WithLogger(badgerLogger{log.Sugar().Named("storage")})

	db, err := badger.Open(opt)
	if err != nil {
		return nil, Error.New("open: %w", err)
	}

	return &Storage{
		log:    log,
		db:     db,
		config: config,
	}, nil
}

// Load retrieves the stored state.
func (s *Storage) Load(ctx context.Context) (state []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}
		state, err = item.ValueCopy(nil)
		return err
	})
	if errs.Is(err, badger.ErrKeyNotFound) {
		return nil, statedb.ErrNotFound
	}
	return state, Error.Wrap(err)
}

// Save replaces the stored state.
func (s *Storage) Save(ctx context.Context, state []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	value := append([]byte{}, state...)

	return Error.Wrap(s.txnWithBackoff(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), value)
	}))
}

// Close closes the underlying BadgerDB.
func (s *Storage) Close() error {
	return Error.Wrap(s.db.Close())
}

// txnWithBackoff runs f in an update transaction, retrying it with the
// configured backoff while it conflicts with a concurrent transaction.
func (s *Storage) txnWithBackoff(ctx context.Context, f func(txn *badger.Txn) error) error {
	return s.config.ConflictBackoff.Retry(ctx, isConflict, func() error {
		return s.db.Update(f)
	})
}

func isConflict(err error) bool {
	if errs.Is(err, badger.ErrConflict) {
		mon.Event("failrate_badger_txn_backoff")
		return true
	}
	return false
}

// badgerLogger wraps zap's SugaredLogger, so it's possible to use it as badger's Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

// Warningf wraps zap's Warnf.
func (l badgerLogger) Warningf(format string, v ...interface{}) {
	l.Warnf(format, v...)
}
