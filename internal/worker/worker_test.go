package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/clock"
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/service"
	"github.com/spec-kit/case-engine/internal/worker"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (s *countingSweeper) RunSLASweep(ctx context.Context, _ *string) (*service.SweepResult, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &service.SweepResult{ReEvaluated: 2}, nil
}

func TestMemoryLockHonoursTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	lock := worker.NewMemoryLock(clk)
	ctx := context.Background()

	release, err := lock.TryAcquire(ctx, time.Minute)
	gt.NoError(t, err).Required()
	gt.Value(t, release).NotNil()

	second, err := lock.TryAcquire(ctx, time.Minute)
	gt.NoError(t, err)
	gt.Value(t, second).Nil()

	clk.Advance(2 * time.Minute)
	third, err := lock.TryAcquire(ctx, time.Minute)
	gt.NoError(t, err)
	gt.Value(t, third).NotNil()

	// the expired holder must not free the lock taken after it
	gt.NoError(t, release(ctx))
	fourth, err := lock.TryAcquire(ctx, time.Minute)
	gt.NoError(t, err)
	gt.Value(t, fourth).Nil()

	gt.NoError(t, third(ctx))
	fifth, err := lock.TryAcquire(ctx, time.Minute)
	gt.NoError(t, err)
	gt.Value(t, fifth).NotNil()
}

func TestRunOnceSweepsUnderLock(t *testing.T) {
	sweeper := &countingSweeper{}
	lock := worker.NewMemoryLock(nil)
	w := worker.NewSweepWorker(sweeper, lock, time.Minute, time.Minute, zap.NewNop())

	ran, result, err := w.RunOnce(context.Background())
	gt.NoError(t, err).Required()
	gt.Bool(t, ran).True()
	gt.Value(t, result.ReEvaluated).Equal(2)

	// the lock was released, so a second tick sweeps again
	ran, _, err = w.RunOnce(context.Background())
	gt.NoError(t, err)
	gt.Bool(t, ran).True()
	gt.Value(t, sweeper.calls.Load()).Equal(int32(2))
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	sweeper := &countingSweeper{}
	lock := worker.NewMemoryLock(nil)
	release, err := lock.TryAcquire(context.Background(), time.Hour)
	gt.NoError(t, err).Required()
	defer func() { _ = release(context.Background()) }()

	w := worker.NewSweepWorker(sweeper, lock, time.Minute, time.Minute, nil)
	ran, result, err := w.RunOnce(context.Background())
	gt.NoError(t, err)
	gt.Bool(t, ran).False()
	gt.Value(t, result).Nil()
	gt.Value(t, sweeper.calls.Load()).Equal(int32(0))
}

func TestRunOnceReportsSweepErrors(t *testing.T) {
	boom := errors.New("store down")
	w := worker.NewSweepWorker(&countingSweeper{err: boom}, worker.NewMemoryLock(nil), time.Minute, time.Minute, nil)

	ran, _, err := w.RunOnce(context.Background())
	gt.Bool(t, ran).True()
	gt.Error(t, err).Is(boom)
}

func TestStopCancelsRunningSweep(t *testing.T) {
	sweeper := &countingSweeper{block: make(chan struct{})}
	w := worker.NewSweepWorker(sweeper, worker.NewMemoryLock(nil), time.Hour, time.Minute, nil)

	w.Start(context.Background())
	w.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.Value(t, sweeper.calls.Load()).Equal(int32(1))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the sweep")
	}
	w.Stop()
}

type memoryWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestNotificationWorkerRegistersSinks(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	writer := &memoryWriter{}
	publisher := events.NewKafkaPublisherWithWriter(writer, "cases", zap.NewNop())

	worker.StartNotificationWorker(dispatcher, service.NewNotificationService(dispatcher, zap.NewNop()), publisher)

	err := dispatcher.Publish(context.Background(), events.Event{
		ID:       "e1",
		Type:     events.EventSLABreached,
		TenantID: "t1",
		CaseID:   "c1",
	})
	gt.NoError(t, err)
	gt.Array(t, writer.msgs).Length(1)
	gt.Value(t, writer.msgs[0].Topic).Equal("cases.sla_breached")
}

func TestNotificationWorkerWithoutKafka(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(dispatcher, service.NewNotificationService(dispatcher, zap.NewNop()), nil)
	gt.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventCaseQueued}))
}
