// Command sweeper runs one SLA sweep and exits. It is meant for cron schedulers that
// prefer an external trigger over the in-process ticker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/engine"
	"github.com/spec-kit/case-engine/internal/observability"
	"github.com/spec-kit/case-engine/internal/service"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	var (
		tenantID string
		noLock   bool
	)

	return &cli.Command{
		Name:    "sweeper",
		Usage:   "Run a single SLA sweep: refresh breach flags, escalate, auto-close and drain queues",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "tenant",
				Usage:       "Restrict the sweep to one tenant",
				Sources:     cli.EnvVars("SWEEP_TENANT_ID"),
				Destination: &tenantID,
			},
			&cli.BoolFlag{
				Name:        "no-lock",
				Usage:       "Skip the leader lock and sweep even if another instance holds it",
				Destination: &noLock,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return goerr.Wrap(err, "failed to load config")
			}
			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return goerr.Wrap(err, "failed to init logger")
			}
			defer logger.Sync() //nolint:errcheck

			e, err := engine.New(ctx, cfg, logger)
			if err != nil {
				return goerr.Wrap(err, "failed to build engine")
			}
			defer e.Close()

			var result *service.SweepResult
			switch {
			case noLock || tenantID != "":
				var scope *string
				if tenantID != "" {
					scope = &tenantID
				}
				result, err = e.Sweep.RunSLASweep(ctx, scope)
			default:
				var ran bool
				ran, result, err = e.NewSweepWorker().RunOnce(ctx)
				if err == nil && !ran {
					logger.Info("another instance holds the sweep lock; nothing to do")
					return nil
				}
			}
			if err != nil {
				return goerr.Wrap(err, "sla sweep failed")
			}

			logger.Info("sweep complete", zap.Int("re_evaluated", result.ReEvaluated), zap.Int("newly_escalated", result.NewlyEscalated))
			return json.NewEncoder(os.Stdout).Encode(result)
		},
	}
}
