package observability

import (
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLoggerWithService constructs a production zap.Logger named after serviceName.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names match the Promtail pipeline
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// getLogLevel reads LOG_LEVEL, falling back to debug in development and info
// everywhere else.
func getLogLevel() zapcore.Level {
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return zap.InfoLevel
		}
		return level
	}
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

// ShouldSample returns true if the log should be sampled based on the given rate
// rate should be between 0.0 and 1.0 (e.g., 0.1 for 10% sampling)
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() < rate
}

// GetSamplingRate returns the appropriate sampling rate based on environment
func GetSamplingRate() float64 {
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return 1.0 // No sampling in development
	case "staging", "test":
		return 0.5
	default: // production
		return 0.1
	}
}
