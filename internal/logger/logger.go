// Package logger 提供基于 zap 的结构化日志
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tangzhangming/solatrans/internal/config"
)

// New 根据配置创建日志记录器
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Encoding == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Encoding = "console"
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.Outputs) > 0 {
		zc.OutputPaths = cfg.Outputs
	}
	zc.DisableStacktrace = true
	return zc.Build()
}

// Nop 不输出任何内容的日志记录器
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named 返回带阶段名的子记录器，nil 时返回 Nop
func Named(l *zap.Logger, phase string) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l.Named(phase)
}
