// Package logging builds the process's structured logger.
//
// Grounded on cory-johannsen-mud's internal/observability/logging.go:
// pick a zap base config by environment, pin the level, and normalize
// the time encoding. Simplified to the single knob this service reads
// from its own config — development mode and nothing else — since it
// has no separate log-level or log-format setting of its own.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. In development mode it uses a
// human-readable console encoder at debug level; otherwise a JSON
// encoder at info level, suitable for ingestion by a log collector.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
