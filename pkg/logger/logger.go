package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// getLogLevel converts a LOGGING_LEVEL value to a zapcore.Level.
func getLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG", "DEVELOPMENT":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the process logger and installs it as the zap global, which is
// what every package in this module logs through.
func New(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(level, "DEVELOPMENT") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(getLogLevel(level))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	zap.ReplaceGlobals(log)
	return log
}
