package logging

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for the process logger
type Config struct {
	Level       string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format      string `json:"format" yaml:"format" validate:"oneof=json console"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Development bool   `json:"development" yaml:"development"`
}

// DefaultConfig returns the production logging defaults
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "apm-monitor",
	}
}

// NewLogger builds a logr.Logger backed by zap. The returned AtomicLevel can
// be used to change verbosity while the process is running.
func NewLogger(cfg Config) (logr.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return logr.Discard(), zap.AtomicLevel{}, err
	}
	atom := zap.NewAtomicLevelAt(level)

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = atom
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zapConfig.Encoding = "json"
	case "console":
		zapConfig.Encoding = "console"
	default:
		return logr.Discard(), zap.AtomicLevel{}, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	if cfg.ServiceName != "" {
		zapConfig.InitialFields = map[string]interface{}{
			"service": cfg.ServiceName,
		}
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return logr.Discard(), zap.AtomicLevel{}, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return zapr.NewLogger(zapLogger), atom, nil
}

// ParseLevel maps a level name onto a zap level. logr verbosity V(1) maps to
// zap debug.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel changes the level of a logger created by NewLogger.
func SetLevel(atom zap.AtomicLevel, level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	atom.SetLevel(l)
	return nil
}

// ForComponent scopes a logger to one APM component.
func ForComponent(base logr.Logger, component string) logr.Logger {
	return base.WithName(component).WithValues("component", component)
}

// OrDiscard returns logger, or a discarding logger when logger has no sink.
func OrDiscard(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger
}
