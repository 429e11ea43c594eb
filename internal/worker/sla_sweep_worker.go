package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/service"
)

// Sweeper runs one SLA sweep.
type Sweeper interface {
	RunSLASweep(ctx context.Context, tenantID *string) (*service.SweepResult, error)
}

// SweepWorker runs the SLA sweep on a fixed interval. It owns the cancellation of the
// sweep it started, so Stop interrupts a sweep between cases.
type SweepWorker struct {
	sweeper  Sweeper
	lock     Lock
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepWorker builds the scheduler.
func NewSweepWorker(sweeper Sweeper, lock Lock, interval, lockTTL time.Duration, logger *zap.Logger) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepWorker{sweeper: sweeper, lock: lock, interval: interval, lockTTL: lockTTL, logger: logger}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (w *SweepWorker) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
}

// Stop cancels the loop and waits for the running sweep to return.
func (w *SweepWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *SweepWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("sla sweep iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps if this instance wins the leader lock. ran is false when another
// instance holds the lock.
func (w *SweepWorker) RunOnce(ctx context.Context) (ran bool, result *service.SweepResult, err error) {
	release, err := w.lock.TryAcquire(ctx, w.lockTTL)
	if err != nil {
		return false, nil, err
	}
	if release == nil {
		w.logger.Debug("sla sweep skipped, lock held elsewhere")
		return false, nil, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := release(releaseCtx); relErr != nil {
			w.logger.Warn("failed to release sweep lock", zap.Error(relErr))
		}
	}()
	result, err = w.sweeper.RunSLASweep(ctx, nil)
	return true, result, err
}
