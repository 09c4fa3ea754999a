// Package logging builds the process-wide zap logger from config.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

// New builds a logger. A nil config yields an info-level JSON logger.
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	levelName, format := config.DefaultLogLevel, config.DefaultLogFormat
	if cfg != nil {
		if cfg.Level != "" {
			levelName = cfg.Level
		}
		if cfg.Format != "" {
			format = cfg.Format
		}
	}

	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a config level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch name {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}
