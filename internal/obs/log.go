package obs

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger used across the service.
// The level is taken from BIDFLOW_LOG_LEVEL (debug, info, warn, error);
// unset or unknown values fall back to info.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("BIDFLOW_LOG_LEVEL"))) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
