package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a global logger instance
var Logger *zap.Logger

// Init initializes the global logger. "production" logs JSON at info level,
// "test" discards everything and any other env logs colored console output
// at debug level.
func Init(env string) error {
	if env == "test" {
		Logger = zap.NewNop()
		return nil
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := config.Build(zap.Fields(zap.String("service", "fundgraph"), zap.String("env", env)))
	if err != nil {
		return err
	}
	Logger = built
	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger, or a no-op logger before Init
func Get() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// Named returns the global logger scoped to one component, so every line a
// package writes carries its "logger" name
func Named(component string) *zap.Logger {
	return Get().Named(component)
}
