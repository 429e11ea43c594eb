package config_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/spec-kit/case-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("ENGINE_STALENESS_THRESHOLD", "")

	cfg, err := config.Load()
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.App.Addr()).Equal("0.0.0.0:8080")
	gt.Value(t, cfg.Engine.StalenessThreshold).Equal(5 * time.Minute)
	gt.Value(t, cfg.Engine.TransitionRetries).Equal(3)
	gt.Array(t, cfg.Kafka.Brokers).Length(0)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_STALENESS_THRESHOLD", "90s")
	t.Setenv("ENGINE_REOPEN_WINDOW", "48h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENGINE_SWEEP_CONCURRENCY", "not-a-number")

	cfg, err := config.Load()
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Engine.StalenessThreshold).Equal(90 * time.Second)
	gt.Value(t, cfg.Engine.ReopenWindow).Equal(48 * time.Hour)
	gt.Array(t, cfg.Kafka.Brokers).Length(2)
	gt.Value(t, cfg.Engine.SweepConcurrency).Equal(8)
}

func TestLoadRejectsInvalidEngineSettings(t *testing.T) {
	t.Setenv("ENGINE_TRANSITION_RETRIES", "0")

	_, err := config.Load()
	gt.Value(t, err).NotNil()
}
