package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/case-engine/internal/config"
)

// NewLogger creates a structured zap.Logger configured via env settings. Every entry
// carries the service name so sweeper and API logs can share one index.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if strings.EqualFold(cfg.Format, "console") {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: level == zapcore.DebugLevel,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			LevelKey:      "level",
			TimeKey:       "ts",
			NameKey:       "component",
			CallerKey:     "caller",
			StacktraceKey: "stack",
			EncodeLevel:   encodeLevel,
			EncodeTime:    zapcore.ISO8601TimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeName:    zapcore.FullNameEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	return zapCfg.Build(opts...)
}
