// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/authlimit/internal/dbutil"
	"storj.io/authlimit/pkg/backoff"
	"storj.io/authlimit/pkg/failrate/badgerstate"
	"storj.io/authlimit/pkg/failrate/filestate"
	"storj.io/authlimit/pkg/failrate/memstate"
	"storj.io/authlimit/pkg/failrate/pgstate"
	"storj.io/authlimit/pkg/failrate/redisstate"
	"storj.io/authlimit/pkg/failrate/statedb"
)

// StorageConfig selects and configures the state storage.
type StorageConfig struct {
	Backend string `help:"state storage as a connection string: memory://, file:///path, badger:///path (badger:// for in-memory), redis://host:port/db or postgres://..." default:"memory://"`

	ConflictBackoff backoff.ExponentialBackoff

	RedisKey string        `help:"redis key holding the state" default:"authlimit:state"`
	RedisTTL time.Duration `help:"expire the redis state after the last save, 0 keeps it" default:"0s"`

	PostgresName string `help:"row of the failrate_state table holding the state" default:"default"`
}

// OpenStorage opens the state storage, determining the backend based on the
// connection string.
func OpenStorage(ctx context.Context, log *zap.Logger, config StorageConfig) (_ statedb.Storage, err error) {
	defer mon.Task()(&ctx)(&err)

	if log == nil {
		log = zap.NewNop()
	}

	driver, source, impl, err := dbutil.SplitConnStr(config.Backend)
	if err != nil {
		return nil, err
	}

	log = log.Named(impl.String())

	switch impl {
	case dbutil.Memory:
		return memstate.New(), nil
	case dbutil.File:
		if source == "" {
			return nil, errs.New("file backend needs a path: %q", config.Backend)
		}
		return filestate.New(source), nil
	case dbutil.Badger:
		storage, err := badgerstate.Open(log, badgerstate.Config{
			Path:            source,
			ConflictBackoff: config.ConflictBackoff,
		})
		if err != nil {
			return nil, err
		}
		return storage, nil
	case dbutil.Redis:
		storage, err := redisstate.Open(ctx, log, redisstate.Config{
			URL: source,
			Key: config.RedisKey,
			TTL: config.RedisTTL,
		})
		if err != nil {
			return nil, err
		}
		return storage, nil
	case dbutil.Postgres:
		storage, err := pgstate.Open(ctx, log, pgstate.Config{
			DSN:  source,
			Name: config.PostgresName,
		})
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return nil, errs.New("unknown scheme: %q", driver)
	}
}
