// Package logging builds the zap loggers used across the module.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for a verbosity level. Level 0 logs info and above
// as JSON; any higher level switches to the console encoder at debug.
func New(verbosity int) (*zap.Logger, error) {
	return Config(verbosity).Build()
}

// Config is the zap configuration behind New.
func Config(verbosity int) zap.Config {
	if verbosity <= 0 {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = verbosity < 2
	return cfg
}

// OrNop returns l, or a logger that discards everything when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
