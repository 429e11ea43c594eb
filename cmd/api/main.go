package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/case-engine/internal/api/http"
	"github.com/spec-kit/case-engine/internal/api/http/handlers"
	"github.com/spec-kit/case-engine/internal/auth"
	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/engine"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer e.Close()

	var sweeper *worker.SweepWorker
	if cfg.Engine.SweepEnabled {
		sweeper = e.NewSweepWorker()
		sweeper.Start(ctx)
	}

	dependencies := map[string]handlers.Pinger{"store": e.Store}
	if e.Redis.Enabled() {
		dependencies["redis"] = e.Redis
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger, e.Metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, e.Metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies, e.Metrics),
		Cases:          handlers.NewCasesHandler(e.Cases, e.Clock),
		Presence:       handlers.NewPresenceHandler(e.Presence),
		SLA:            handlers.NewSLAHandler(e.Sweep),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if sweeper != nil {
		sweeper.Stop()
	}
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
