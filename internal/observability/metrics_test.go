package observability_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/case-engine/internal/config"
	"github.com/spec-kit/case-engine/internal/observability"
)

func TestMetricsSnapshot(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordRequest("/v1/cases", "POST", 201, time.Millisecond)
	m.RecordTransition("NEW", "OPEN")
	m.RecordTransition("NEW", "OPEN")
	m.RecordRouting(observability.RoutingQueued)
	m.RecordSweep(3, 1, 0, 2, 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	snap := m.Snapshot()
	gt.Value(t, snap.Requests["/v1/cases|POST|201"]).Equal(int64(1))
	gt.Value(t, snap.Transitions["NEW->OPEN"]).Equal(int64(2))
	gt.Value(t, snap.Routing[observability.RoutingQueued]).Equal(int64(1))
	gt.Value(t, snap.Sweep.Runs).Equal(int64(1))
	gt.Value(t, snap.Sweep.ReEvaluated).Equal(int64(3))
	gt.Value(t, snap.Sweep.LastRunAt).Equal("2026-01-01T00:00:00Z")

	snap.Transitions["NEW->OPEN"] = 100
	gt.Value(t, m.Snapshot().Transitions["NEW->OPEN"]).Equal(int64(2))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *observability.Metrics
	m.RecordRouting(observability.RoutingAssigned)
	m.RecordTransition("A", "B")
	gt.Value(t, len(m.Snapshot().Routing)).Equal(0)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := observability.NewLogger(config.LoggerConfig{Level: "chatty", Format: "console", Service: "case-engine"})
	gt.NoError(t, err).Required()
	gt.Bool(t, logger.Core().Enabled(zapcore.InfoLevel)).True()
	gt.Bool(t, logger.Core().Enabled(zapcore.DebugLevel)).False()
}
