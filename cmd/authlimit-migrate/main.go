// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/authlimit/internal/dbutil"
	"storj.io/authlimit/pkg/failrate"
	"storj.io/authlimit/pkg/failrate/pgstate"
	"storj.io/authlimit/pkg/failrate/statedb"
)

var mon = monkit.Package()

var (
	rootCmd = &cobra.Command{
		Use:          "authlimit-migrate",
		Short:        "copy persisted rate limit state between storage backends",
		RunE:         migrateCommand,
		SilenceUsage: true,
	}
	config Config
)

// Config holds flags' values.
type Config struct {
	Source      string
	Destination string
	DryRun      bool
	PGMigrate   bool
}

func (config *Config) bindFlags(set *pflag.FlagSet) {
	set.StringVar(&config.Source, "source", "", "connection string of the storage to copy the state from")
	set.StringVar(&config.Destination, "destination", "", "connection string of the storage to copy the state to")
	set.BoolVar(&config.DryRun, "dry-run", false, "specifying this flag will only validate the source state and will not write it")
	set.BoolVar(&config.PGMigrate, "pg-migrate", false, "create the state table when the destination is postgres")
}

// VerifyFlags verifies whether flags have correct values and reports any error
// encountered.
func (config *Config) VerifyFlags() error {
	var errlist errs.Group

	if config.Source == "" {
		errlist.Add(errors.New("source must be set"))
	}
	if config.Destination == "" {
		errlist.Add(errors.New("destination must be set"))
	}
	if config.Source != "" && config.Source == config.Destination {
		errlist.Add(errors.New("source and destination must differ"))
	}
	for _, connstr := range []string{config.Source, config.Destination} {
		if connstr == "" {
			continue
		}
		_, _, impl, err := dbutil.SplitConnStr(connstr)
		if err != nil {
			errlist.Add(err)
			continue
		}
		switch impl {
		case dbutil.Unknown:
			errlist.Add(errs.New("unknown storage %q", connstr))
		case dbutil.Memory:
			errlist.Add(errs.New("memory storage does not outlive this process: %q", connstr))
		}
	}
	if config.PGMigrate {
		if _, _, impl, err := dbutil.SplitConnStr(config.Destination); err == nil && impl != dbutil.Postgres {
			errlist.Add(errors.New("pg-migrate requires a postgres destination"))
		}
	}

	return errlist.Err()
}

func init() {
	config.bindFlags(rootCmd.Flags())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(log)

	err = rootCmd.ExecuteContext(ctx)
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func migrateCommand(cmd *cobra.Command, _ []string) error {
	if err := config.VerifyFlags(); err != nil {
		return err
	}

	log := zap.L()

	identities, err := Migrate(cmd.Context(), log, config, failrate.OpenStorage)
	if err != nil {
		return err
	}

	if config.DryRun {
		log.Sugar().Infof("Would copy %d identities", identities)
	} else {
		log.Info("Copied", zap.Int("identities", identities))
	}
	return nil
}

// Opener opens a state storage.
type Opener func(ctx context.Context, log *zap.Logger, config failrate.StorageConfig) (statedb.Storage, error)

// Migrate copies the state from cfg.Source to cfg.Destination and returns the
// number of identities in it. The source state is decoded before anything is
// written, so a corrupt source never overwrites a valid destination.
func Migrate(ctx context.Context, log *zap.Logger, cfg Config, open Opener) (identities int, err error) {
	defer mon.Task()(&ctx)(&err)

	if cfg.PGMigrate && !cfg.DryRun {
		_, dsn, _, err := dbutil.SplitConnStr(cfg.Destination)
		if err != nil {
			return 0, err
		}
		if err := pgstate.Migrate(ctx, log, dsn); err != nil {
			return 0, errs.New("migrate destination: %w", err)
		}
	}

	var src, dst statedb.Storage
	defer func() {
		for _, s := range []statedb.Storage{src, dst} {
			if s != nil {
				err = errs.Combine(err, s.Close())
			}
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		src, err = open(gctx, log.Named("source"), failrate.StorageConfig{Backend: cfg.Source})
		if err != nil {
			return errs.New("open source: %w", err)
		}
		return nil
	})
	group.Go(func() (err error) {
		dst, err = open(gctx, log.Named("destination"), failrate.StorageConfig{Backend: cfg.Destination})
		if err != nil {
			return errs.New("open destination: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return 0, err
	}

	data, err := src.Load(ctx)
	if err != nil {
		return 0, errs.New("load source: %w", err)
	}

	var state failrate.State
	if err := state.UnmarshalBinary(data); err != nil {
		return 0, errs.New("decode source: %w", err)
	}

	log.Debug("source state",
		zap.Int("identities", len(state.Identities)),
		zap.Int64("saved_at", state.SavedAtUnix))

	if cfg.DryRun {
		return len(state.Identities), nil
	}

	if err := dst.Save(ctx, data); err != nil {
		return 0, errs.New("save destination: %w", err)
	}

	return len(state.Identities), nil
}
