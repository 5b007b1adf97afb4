// Package logging 构建 zap 日志
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 根据级别和格式创建 logger，format 为 json 或 console
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// CLI 结果写 stdout，日志统一走 stderr
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Must 同 New，失败时退回生产配置
func Must(level, format string) *zap.Logger {
	l, err := New(level, format)
	if err == nil {
		return l
	}
	l, _ = zap.NewProduction()
	l.Warn("falling back to default logger", zap.Error(err))
	return l
}
