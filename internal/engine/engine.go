// Package engine assembles the case engine from configuration. Both the HTTP server and
// the one-shot sweeper build on it.
package engine

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/persistence"
	"github.com/spec-kit/case-engine/internal/policystore"
	"github.com/spec-kit/case-engine/internal/repository"
	"github.com/spec-kit/case-engine/internal/repository/memory"
	"github.com/spec-kit/case-engine/internal/service"
	"github.com/spec-kit/case-engine/internal/sla"
	"github.com/spec-kit/case-engine/internal/worker"
)

// Engine holds the wired services and the connections they share.
type Engine struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   clock.Clock

	Postgres   *persistence.Postgres
	Redis      *persistence.Redis
	Store      repository.Store
	Dispatcher events.Dispatcher
	Kafka      *events.KafkaPublisher
	SweepLock  worker.Lock

	Cases         *service.CaseService
	Presence      *service.PresenceService
	Router        *service.AssignmentService
	Sweep         *service.SweepService
	Notifications *service.NotificationService
}

// New connects the configured backends and wires every service. Without POSTGRES_DSN
// the in-memory store is used; without REDIS_ADDR idempotency keys and the sweep lock
// stay in-process; without KAFKA_BROKERS events are only logged.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		Config:     cfg,
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
		Clock:      clock.Real(),
		Dispatcher: events.NewInMemoryDispatcher(),
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	e.Postgres = pg
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				e.Close()
				return nil, err
			}
		}
		e.Store = repository.NewPostgresStore(pg.Pool)
	} else {
		e.Store = memory.New()
	}

	e.Redis = persistence.NewRedis(ctx, cfg.Redis, logger)
	var idempotency repository.IdempotencyStore
	if e.Redis.Enabled() {
		idempotency = repository.NewRedisIdempotencyStore(e.Redis.Client, cfg.Redis.KeyPrefix)
		e.SweepLock = worker.NewRedisLock(e.Redis.Client, cfg.Redis.KeyPrefix)
	} else {
		idempotency = memory.NewIdempotencyStore(e.Clock)
		e.SweepLock = worker.NewMemoryLock(e.Clock)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Kafka = publisher
	}

	calendars := sla.NewCalendars()
	if path := cfg.Engine.PolicySeedFile; path != "" {
		seed, err := policystore.Load(path)
		if err != nil {
			e.Close()
			return nil, err
		}
		if err := seed.Apply(ctx, e.Store.Policies(), calendars, logger); err != nil {
			e.Close()
			return nil, goerr.Wrap(err, "apply policy seed", goerr.V("path", path))
		}
	}

	e.Router = service.NewAssignmentService(service.AssignmentDependencies{
		Store:      e.Store,
		Dispatcher: e.Dispatcher,
		Clock:      e.Clock,
		Config:     cfg.Engine,
		Logger:     logger.Named("router"),
		Metrics:    e.Metrics,
	})
	e.Presence = service.NewPresenceService(service.PresenceDependencies{
		Store:   e.Store,
		Drainer: e.Router,
		Clock:   e.Clock,
		Config:  cfg.Engine,
		Logger:  logger.Named("presence"),
	})
	e.Cases = service.NewCaseService(service.CaseDependencies{
		Store:       e.Store,
		Router:      e.Router,
		Evaluator:   sla.NewEvaluator(calendars),
		Idempotency: idempotency,
		Dispatcher:  e.Dispatcher,
		Clock:       e.Clock,
		Config:      cfg.Engine,
		Logger:      logger.Named("cases"),
		Metrics:     e.Metrics,
	})
	e.Sweep = service.NewSweepService(service.SweepDependencies{
		Store:   e.Store,
		Cases:   e.Cases,
		Router:  e.Router,
		Clock:   e.Clock,
		Config:  cfg.Engine,
		Logger:  logger.Named("sweep"),
		Metrics: e.Metrics,
	})
	e.Notifications = service.NewNotificationService(e.Dispatcher, logger.Named("events"))
	worker.StartNotificationWorker(e.Dispatcher, e.Notifications, e.Kafka)

	return e, nil
}

// NewSweepWorker builds the scheduler configured for this engine.
func (e *Engine) NewSweepWorker() *worker.SweepWorker {
	return worker.NewSweepWorker(e.Sweep, e.SweepLock, e.Config.Engine.SweepInterval, e.Config.Engine.SweepLockTTL, e.Logger.Named("scheduler"))
}

// Close releases connections. Safe to call on a partially built engine.
func (e *Engine) Close() {
	if e.Kafka != nil {
		if err := e.Kafka.Close(); err != nil {
			e.Logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	e.Redis.Close()
	e.Postgres.Close()
}
