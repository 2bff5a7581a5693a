package server

import (
	"fmt"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger for level and wraps it as an abstractlogger.Logger. The
// returned func flushes buffered entries.
func NewLogger(level string) (abstractlogger.Logger, func() error, error) {
	zapLevel, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if zapLevel == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return abstractlogger.NewZapLogger(logger, abstractLevel(zapLevel)), logger.Sync, nil
}

func abstractLevel(l zapcore.Level) abstractlogger.Level {
	switch l {
	case zapcore.DebugLevel:
		return abstractlogger.DebugLevel
	case zapcore.InfoLevel:
		return abstractlogger.InfoLevel
	case zapcore.WarnLevel:
		return abstractlogger.WarnLevel
	case zapcore.ErrorLevel:
		return abstractlogger.ErrorLevel
	default:
		return abstractlogger.FatalLevel
	}
}
