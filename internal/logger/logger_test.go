package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tangzhangming/solatrans/internal/config"
)

// TestNew 测试按配置创建
func TestNew(t *testing.T) {
	l, err := New(config.LogConfig{Level: "debug", Encoding: "json", Outputs: []string{"stderr"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !l.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level should be enabled")
	}

	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

// TestNamed 测试子记录器
func TestNamed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := Named(zap.New(core), "annotator")
	l.Info("fixpoint", zap.Int("blocks", 3))
	entries := logs.All()
	if len(entries) != 1 || entries[0].LoggerName != "annotator" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if Named(nil, "x") == nil {
		t.Error("Named(nil) should return a nop logger")
	}
}
