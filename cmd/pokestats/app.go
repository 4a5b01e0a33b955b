package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/client"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/config"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/logging"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/pipeline"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/retrieval"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/csvstore"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/parquet"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/sqlite"
)

// pinger is implemented by stores that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

// app holds the resources one command invocation uses.
type app struct {
	cfg      config.Config
	store    store.Store
	snapshot *parquet.Snapshot
	redis    *redis.Client
	client   *client.Client
	logger   zerolog.Logger
}

// openApp opens the store and, when withClient is set, the Redis cache and
// the API client.
func openApp(ctx context.Context, cfg config.Config, withClient bool) (*app, error) {
	a := &app{cfg: cfg, logger: logging.NewLogger("pokestats")}

	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = s

	if cfg.Store.ParquetPath != "" {
		if a.snapshot, err = parquet.NewSnapshot(cfg.Store.ParquetPath); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	if withClient {
		if a.client, err = client.New(cfg.ClientConfig(a.redis)); err != nil {
			a.Close()
			return nil, fmt.Errorf("create client: %w", err)
		}
	}
	return a, nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLiteFile())
	case config.BackendCSV:
		return csvstore.Open(cfg.Store.Dir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// percentiles returns the store lookups read from: the primary store, or
// the Parquet snapshot when one is configured.
func (a *app) percentiles() store.PercentileStore {
	if a.snapshot != nil {
		return a.snapshot
	}
	return a.store
}

func (a *app) pipeline(incremental bool) *pipeline.Pipeline {
	var r pipeline.Retriever
	if a.client != nil {
		r = retrieval.New(a.client, a.cfg.RetrievalConfig())
	}
	var opts []pipeline.Option
	if a.snapshot != nil {
		opts = append(opts, pipeline.WithSnapshot(a.snapshot))
	}
	return pipeline.New(r, a.store, a.store, pipeline.Config{
		MaxID:       a.cfg.MaxID,
		Kind:        a.cfg.Kind(),
		Incremental: incremental,
	}, opts...)
}

// ready checks every backing service.
func (a *app) ready(ctx context.Context) error {
	var errs []error
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) Close() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
