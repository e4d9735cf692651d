package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/adapters/file"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/postgres"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/nodes"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildEngine wires the engine described by cfg: checkpoint store and its
// middleware, optional distributed lock, query catalog and runner.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, hooks ...domain.LifecycleHooks) (eng *espalier.Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cl closers
	defer func() {
		if err != nil {
			_ = cl.close()
		}
	}()

	store, redisClient, err := openStore(ctx, cfg, &cl)
	if err != nil {
		return nil, err
	}
	store, err = wrapStore(cfg, store)
	if err != nil {
		return nil, err
	}

	policies, err := cfg.NodePolicies()
	if err != nil {
		return nil, err
	}
	nodeCfg, err := nodeConfig(ctx, cfg, &cl)
	if err != nil {
		return nil, err
	}

	opts := []espalier.Option{
		espalier.WithStore(store),
		espalier.WithNodes(nodes.Pipeline(nodeCfg)),
		espalier.WithParams(cfg.Params()),
		espalier.WithPolicy(cfg.Policy()),
		espalier.WithNodePolicies(policies),
		espalier.WithMaxSteps(cfg.Engine.MaxSteps),
		espalier.WithLogger(logger),
		espalier.WithLifecycleHooks(debugHooks(logger)),
	}
	for _, h := range hooks {
		opts = append(opts, espalier.WithLifecycleHooks(h))
	}

	if cfg.Store.Redis.Lock {
		if redisClient == nil {
			redisClient = goredis.NewClient(&goredis.Options{
				Addr:     cfg.Store.Redis.Addr,
				Password: cfg.Store.Redis.Password,
				DB:       cfg.Store.Redis.DB,
			})
			cl = append(cl, redisClient.Close)
		}
		locker := redis.NewLocker(redisClient, cfg.Store.Redis.Prefix)
		opts = append(opts, espalier.WithLocker(locker, cfg.Store.LockTTL))
	}
	for _, c := range cl {
		opts = append(opts, espalier.WithCloser(c))
	}

	eng, err = espalier.New(opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("engine ready",
		"store", cfg.Store.Driver,
		"encrypted", cfg.Store.EncryptionKey != "",
		"distributed_lock", cfg.Store.Redis.Lock)
	return eng, nil
}

// openStore opens the configured backend. The Redis client is returned so
// the distributed lock can share it.
func openStore(ctx context.Context, cfg *config.Config, cl *closers) (ports.CheckpointStore, *goredis.Client, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil, nil
	case config.DriverFile:
		return file.New(cfg.Store.Path), nil, nil
	case config.DriverRedis:
		rc := cfg.Store.Redis
		store := redis.New(rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.Prefix), redis.WithTTL(rc.TTL))
		*cl = append(*cl, store.Close)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", rc.Addr, err)
		}
		return store, store.Client(), nil
	case config.DriverPostgres:
		var opts []postgres.Option
		if cfg.Store.Postgres.Table != "" {
			opts = append(opts, postgres.WithTable(cfg.Store.Postgres.Table))
		}
		store, err := postgres.Open(ctx, cfg.Store.Postgres.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		*cl = append(*cl, store.Close)
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// wrapStore applies column masking and then encryption, so masked values
// never reach the ciphertext.
func wrapStore(cfg *config.Config, store ports.CheckpointStore) (ports.CheckpointStore, error) {
	var mws []middleware.Middleware
	if len(cfg.Store.MaskColumns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.Store.MaskColumns)
		if err != nil {
			return nil, fmt.Errorf("store.mask_columns: %w", err)
		}
		mws = append(mws, pii)
	}
	active, fallback, err := cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return middleware.Chain(store, mws...), nil
}

func nodeConfig(ctx context.Context, cfg *config.Config, cl *closers) (nodes.Config, error) {
	out := nodes.Config{
		RowLimit: cfg.Pipeline.RowLimit,
		MaxBytes: cfg.Pipeline.MaxBytes,
	}
	if path := cfg.Pipeline.Catalog; path != "" {
		catalog, err := nodes.LoadCatalog(path)
		if err != nil {
			return out, err
		}
		out.Catalog = catalog
	}
	if dsn := cfg.Pipeline.DatabaseDSN; dsn != "" {
		db, err := nodes.OpenPostgres(ctx, dsn)
		if err != nil {
			return out, err
		}
		*cl = append(*cl, db.Close)
		out.Runner = &nodes.SQLRunner{DB: db, Timeout: cfg.Pipeline.QueryTimeout}
	}
	if cfg.Pipeline.Command.Enabled() {
		runner, err := process.NewRunner(cfg.Pipeline.Command, process.WithTimeout(cfg.Pipeline.QueryTimeout))
		if err != nil {
			return out, err
		}
		out.Runner = runner
	}
	return out, nil
}
