// Copyright (C) 2023 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisstate implements statedb.Storage as a single Redis key.
package redisstate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/pkg/failrate/statedb"
)

// DefaultKey is the key used when Config.Key is empty.
const DefaultKey = "authlimit:state"

var (
	mon = monkit.Package()

	// Error is the default error class for the redisstate package.
	Error = errs.Class("redisstate")
)

var _ statedb.Storage = (*Storage)(nil)

// Config configures Storage.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// Key holds the state.
	Key string
	// TTL expires the state after the last save. Zero keeps it forever.
	TTL time.Duration
}

// Storage is a state storage backed by a Redis key.
type Storage struct {
	log    *zap.Logger
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Open connects to the Redis server at config.URL.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *Storage, err error) {
	defer mon.Task()(&ctx)(&err)

	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, Error.New("parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping: %w", err), client.Close())
	}

	return New(log, client, config), nil
}

// New returns a Storage using client. The Storage takes ownership of client
// and closes it on Close. A nil log discards messages.
func New(log *zap.Logger, client *redis.Client, config Config) *Storage {
	if log == nil {
		log = zap.NewNop()
	}
	key := config.Key
	if key == "" {
		key = DefaultKey
	}
	return &Storage{
		log:    log,
		client: client,
		key:    key,
		ttl:    config.TTL,
	}
}

// Load retrieves the state stored under the key.
func (s *Storage) Load(ctx context.Context) (state []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	state, err = s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, statedb.ErrNotFound
		}
		return nil, Error.Wrap(err)
	}
	return state, nil
}

// Save stores state under the key, refreshing its TTL.
func (s *Storage) Save(ctx context.Context, state []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := s.client.Set(ctx, s.key, state, s.ttl).Err(); err != nil {
		s.log.Debug("redis save failed", zap.String("key", s.key), zap.Error(err))
		return Error.Wrap(err)
	}
	return nil
}

// Close closes the client.
func (s *Storage) Close() error {
	return Error.Wrap(s.client.Close())
}
