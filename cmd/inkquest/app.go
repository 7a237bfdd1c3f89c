package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkquest/inkquest/config"
	"github.com/inkquest/inkquest/internal/application/command"
	"github.com/inkquest/inkquest/internal/application/query"
	"github.com/inkquest/inkquest/internal/application/saga"
	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
	"github.com/inkquest/inkquest/internal/infrastructure/catalog"
	"github.com/inkquest/inkquest/internal/infrastructure/messaging"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/memory"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/postgres"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/redis"
	"github.com/inkquest/inkquest/internal/interface/http/handlers"
	"github.com/inkquest/inkquest/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

// store is everything the engine needs from persistence.
type store interface {
	progression.ExperienceRepository
	achievement.StatsProvider
	achievement.CatalogRepository
	achievement.ActivityFeed
}

// pgStore joins the two Postgres repositories into one store.
type pgStore struct {
	*postgres.ExperienceRepository
	*postgres.StatsRepository
}

// app holds the wired engine. Fields that depend on optional infrastructure
// (Redis) may be nil.
type app struct {
	cfg *config.Config
	log *slog.Logger

	pg    *postgres.Connection
	cache *redis.Cache

	store   store
	catalog *catalog.Catalog

	bus        *messaging.Bus
	levelCache *redis.LevelCache

	flow       *saga.AchievementFlowSaga
	awardXP    *command.AwardXPHandler
	resetStats *command.ResetStatsHandler
	getLevel   *query.GetLevelHandler
	listAch    *query.ListAchievementsHandler

	health *handlers.CompositeHealthChecker
}

// gatedTrigger forwards evaluation triggers only for users inside the
// evaluation.auto_trigger rollout.
type gatedTrigger struct {
	flags *config.FeatureFlags
	next  command.EvaluationTrigger
}

func (g gatedTrigger) Trigger(userID string) {
	if g.flags.EnabledFor(config.FeatureEvaluationAutoTrigger, userID) {
		g.next.Trigger(userID)
	}
}

// buildApp connects to the configured stores and wires every handler.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.openRedis(ctx)

	cat, err := catalog.Load(cfg.Engine.CatalogFile)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.catalog = cat
	if mem, ok := a.store.(*memory.Store); ok {
		if _, err := seedCatalog(ctx, mem, cat); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	log.Info("catalog loaded",
		"source", cat.Source,
		"achievements", len(cat.Definitions),
		"xp_rules", len(cat.Rules.Rules()),
	)

	// Event bus
	a.bus = messaging.NewBus(messaging.Options{
		Workers: cfg.Engine.EventWorkers,
		Logger:  log,
	})

	if a.cache != nil {
		fanout := redis.NewEventFanout(a.cache, log)
		flags := cfg.Features
		if err := a.bus.SubscribeAll(func(event shared.Event) error {
			if !flags.IsEnabled(config.FeatureEventsRedisFanout) {
				return nil
			}
			return fanout.Handle(event)
		}); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to subscribe event fan-out: %w", err)
		}
	}

	// Level cache
	var (
		levelCache  query.LevelCache
		invalidator command.LevelCacheInvalidator
	)
	if a.cache != nil && cfg.Features.IsEnabled(config.FeatureCacheLevel) {
		breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
		a.levelCache = redis.NewLevelCache(a.cache, cfg.Engine.LevelCacheTTL).WithBreaker(breaker)
		levelCache = a.levelCache
		invalidator = a.levelCache
	}

	// Application layer
	flowConfig := saga.DefaultAchievementFlowConfig()
	flowConfig.Timeout = cfg.Engine.EvalTimeout
	a.flow = saga.NewAchievementFlowSaga(a.store, a.bus, log, flowConfig)

	awardConfig := command.DefaultAwardXPConfig()
	awardConfig.MaxAwardPerCall = cfg.Engine.MaxAwardPerCall
	a.awardXP = command.NewAwardXPHandler(
		a.store, cat.Rules, invalidator, a.bus,
		gatedTrigger{flags: cfg.Features, next: a.flow},
		log, awardConfig,
	)
	a.resetStats = command.NewResetStatsHandler(a.store, invalidator, a.bus, log)
	a.getLevel = query.NewGetLevelHandler(a.store, levelCache, log)
	a.listAch = query.NewListAchievementsHandler(a.store)

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StoreMemory:
		mem := memory.NewStore()
		a.store = mem
		a.health.AddCheck("memory", mem.Ping)
		a.log.Warn("using in-memory store, data is lost on exit")
		return nil

	case config.StorePostgres:
		conn, err := connectPostgres(ctx, a.cfg, a.log)
		if err != nil {
			return err
		}
		a.pg = conn
		a.health.AddChecker(conn)

		if a.cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(a.cfg.Database.URL, a.log).Up(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			a.log.Info("database schema is up to date", "applied", applied)
		}

		experience := postgres.NewExperienceRepository(conn)
		a.store = pgStore{
			ExperienceRepository: experience,
			StatsRepository:      postgres.NewStatsRepository(conn, experience),
		}
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store)
	}
}

// connectPostgres opens the pool described by cfg.Database.
func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	pgConfig := postgres.DefaultConfig()
	pgConfig.URL = cfg.Database.URL
	pgConfig.MaxConns = cfg.Database.MaxConns
	pgConfig.MinConns = cfg.Database.MinConns
	pgConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

// openRedis connects to Redis unless disabled. Redis is optional: on failure
// the engine runs without cache, fan-out and distributed locks.
func (a *app) openRedis(ctx context.Context) {
	if a.cfg.Redis.Disabled {
		return
	}

	rc := a.cfg.Redis
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	if err != nil {
		a.log.Warn("failed to connect to Redis, caching disabled", "error", err)
		return
	}
	a.cache = cache
	a.health.AddChecker(cache)
	a.log.Info("Redis connection established")
}

// close drains in-flight evaluations and events, then closes connections.
func (a *app) close(ctx context.Context) {
	if a.flow != nil {
		if err := a.flow.Close(ctx); err != nil {
			a.log.Warn("evaluations still running at shutdown", "error", err)
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("failed to close event bus", "error", err)
		}
		published, failed := a.bus.Stats()
		a.log.Info("event bus closed", "published", published, "failed", failed)
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// shutdownContext bounds the graceful shutdown.
func (a *app) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
