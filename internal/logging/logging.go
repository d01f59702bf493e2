// Package logging builds the logr.Logger every component receives.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level strings accepted by New.
const (
	ErrorLevelString   = "error"
	WarningLevelString = "warning"
	InfoLevelString    = "info"
	DebugLevelString   = "debug"
	TraceLevelString   = "trace"
)

// Levels. logr's V(1) is debug and V(2) is trace.
const (
	ErrorLevel   = zapcore.ErrorLevel
	WarningLevel = zapcore.WarnLevel
	InfoLevel    = zapcore.InfoLevel
	DebugLevel   = zapcore.Level(-1)
	TraceLevel   = zapcore.Level(-2)
)

// ParseLevel maps a level string to a zap level.
func ParseLevel(l string) (zapcore.Level, error) {
	switch l {
	case ErrorLevelString:
		return ErrorLevel, nil
	case WarningLevelString:
		return WarningLevel, nil
	case "", InfoLevelString:
		return InfoLevel, nil
	case DebugLevelString:
		return DebugLevel, nil
	case TraceLevelString:
		return TraceLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level %q, one of error, warning, info, debug, trace", l)
	}
}

func levelString(l zapcore.Level) string {
	switch {
	case l >= ErrorLevel:
		return ErrorLevelString
	case l == WarningLevel:
		return WarningLevelString
	case l == InfoLevel:
		return InfoLevelString
	case l == DebugLevel:
		return DebugLevelString
	default:
		return TraceLevelString
	}
}

// New returns a logger writing JSON to stderr, or console output when development is set.
func New(level string, development bool) (logr.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(levelString(l))
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("building logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}
