package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Engine   EngineConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// KafkaConfig configures the audit sink. No brokers means the sink is disabled.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format  string
	Service string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// EngineConfig tunes the lifecycle, SLA and routing engine.
type EngineConfig struct {
	StalenessThreshold   time.Duration
	ReopenWindow         time.Duration
	AutoCloseGrace       time.Duration
	SweepInterval        time.Duration
	SweepConcurrency     int
	SweepLockTTL         time.Duration
	SweepEnabled         bool
	TransitionRetries    int
	QueueDrainBatch      int
	IdempotencyTTL       time.Duration
	PolicySeedFile       string
	DependencyTimeoutSec int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid REDIS_DB")
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "case-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "case-engine"),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "case-engine"),
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Service: getEnv("APP_NAME", "case-engine"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Engine: EngineConfig{
			StalenessThreshold:   getEnvAsDuration("ENGINE_STALENESS_THRESHOLD", 5*time.Minute),
			ReopenWindow:         getEnvAsDuration("ENGINE_REOPEN_WINDOW", 7*24*time.Hour),
			AutoCloseGrace:       getEnvAsDuration("ENGINE_AUTO_CLOSE_GRACE", 72*time.Hour),
			SweepInterval:        getEnvAsDuration("ENGINE_SWEEP_INTERVAL", time.Minute),
			SweepConcurrency:     getEnvAsInt("ENGINE_SWEEP_CONCURRENCY", 8),
			SweepLockTTL:         getEnvAsDuration("ENGINE_SWEEP_LOCK_TTL", 50*time.Second),
			SweepEnabled:         getEnvAsBool("ENGINE_SWEEP_ENABLED", true),
			TransitionRetries:    getEnvAsInt("ENGINE_TRANSITION_RETRIES", 3),
			QueueDrainBatch:      getEnvAsInt("ENGINE_QUEUE_DRAIN_BATCH", 50),
			IdempotencyTTL:       getEnvAsDuration("ENGINE_IDEMPOTENCY_TTL", 24*time.Hour),
			PolicySeedFile:       os.Getenv("ENGINE_POLICY_SEED_FILE"),
			DependencyTimeoutSec: getEnvAsInt("ENGINE_DEPENDENCY_TIMEOUT_SECONDS", 5),
		},
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects engine settings that would break the SLA or routing guarantees.
func (e EngineConfig) Validate() error {
	if e.StalenessThreshold <= 0 {
		return goerr.New("ENGINE_STALENESS_THRESHOLD must be positive")
	}
	if e.SweepInterval <= 0 {
		return goerr.New("ENGINE_SWEEP_INTERVAL must be positive")
	}
	if e.SweepConcurrency < 1 {
		return goerr.New("ENGINE_SWEEP_CONCURRENCY must be >= 1")
	}
	if e.TransitionRetries < 1 {
		return goerr.New("ENGINE_TRANSITION_RETRIES must be >= 1")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DependencyTimeout bounds a single call to Postgres or Redis from the engine.
func (e EngineConfig) DependencyTimeout() time.Duration {
	if e.DependencyTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(e.DependencyTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
