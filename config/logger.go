package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Development forces console output at
// debug level; otherwise LoggerConfig decides.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zc = zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.Logger.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Logger.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
		if cfg.Logger.Encoding != "" {
			zc.Encoding = cfg.Logger.Encoding
		}
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
