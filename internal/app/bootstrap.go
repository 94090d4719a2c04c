package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clubroster/clubroster/internal/club"
	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/members"
	"github.com/clubroster/clubroster/internal/platform/cache"
	"github.com/clubroster/clubroster/internal/platform/db"
	"github.com/clubroster/clubroster/internal/shared"
	"github.com/clubroster/clubroster/internal/storage/sqlite"
)

// IdempotencyStore claims request keys for retried submissions.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Runtime holds the wired services shared by the server and the worker.
type Runtime struct {
	Graph       *lifecycle.Graph
	Engine      *lifecycle.Engine
	Club        *club.Service
	Members     *members.Service
	Idempotency IdempotencyStore
	Redis       *redis.Client
	Checks      map[string]HealthChecker

	closers []func() error
}

type storeSet struct {
	lifecycle   lifecycle.Repository
	club        club.Repository
	members     members.Repository
	audit       lifecycle.AuditRecorder
	idempotency IdempotencyStore
	ping        HealthChecker
	close       func() error
}

// Bootstrap opens the configured store and Redis and wires the lifecycle engine.
// Redis is optional: without it the engine runs without cache or cross-process lock.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, observer lifecycle.Observer) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	graph, err := buildGraph(cfg.LifecyclePeriodStatuses)
	if err != nil {
		return nil, err
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Graph: graph, Idempotency: stores.idempotency, Checks: map[string]HealthChecker{"db": stores.ping}}
	rt.closers = append(rt.closers, stores.close)

	var (
		locker      lifecycle.Locker
		statusCache *lifecycle.StatusCache
	)
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, running without status cache and member lock", slog.Any("error", err))
	} else {
		rt.Redis = redisClient
		rt.closers = append(rt.closers, redisClient.Close)
		rt.Checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		locker = shared.NewMemberLocker(redisClient, cfg.MemberLockTTL)
		statusCache = lifecycle.NewStatusCache(redisClient, cfg.StatusCacheTTL)
	}

	rt.Club = club.NewService(stores.club)
	rt.Members = members.NewService(stores.members, graph)
	rt.Engine = lifecycle.NewEngine(graph, stores.lifecycle, lifecycle.Dependencies{
		Locker:   locker,
		Types:    rt.Club,
		Cache:    statusCache,
		Audit:    stores.audit,
		Observer: observer,
		Logger:   logger,
	})
	return rt, nil
}

// Close releases stores and connections in reverse order of opening.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func buildGraph(raw string) (*lifecycle.Graph, error) {
	if raw == "" {
		return lifecycle.NewGraph(), nil
	}
	statuses, err := lifecycle.NewGraph().ParseStatuses(raw)
	if err != nil {
		return nil, fmt.Errorf("config: LIFECYCLE_PERIOD_STATUSES: %w", err)
	}
	return lifecycle.NewGraph(lifecycle.WithPeriodStatuses(statuses...)), nil
}

func openStores(ctx context.Context, cfg *Config) (storeSet, error) {
	switch cfg.DBDriver {
	case DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return storeSet{}, err
		}
		return storeSet{
			lifecycle:   store,
			club:        store,
			members:     store,
			audit:       store,
			idempotency: store,
			ping:        store.Ping,
			close:       store.Close,
		}, nil
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return storeSet{}, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return storeSet{}, err
		}
		return storeSet{
			lifecycle:   lifecycle.NewRepository(pool),
			club:        club.NewRepository(pool),
			members:     members.NewRepository(pool),
			audit:       shared.NewAuditLogger(pool),
			idempotency: shared.NewIdempotencyStore(pool),
			ping:        pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	default:
		return storeSet{}, fmt.Errorf("config: unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
