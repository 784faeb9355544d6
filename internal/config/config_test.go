package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.JIT.MaxConstLen != 100 {
		t.Errorf("expected max_const_len 100, got %d", cfg.JIT.MaxConstLen)
	}
	if !cfg.JIT.OptEnabled("heap") {
		t.Error("heap optimization should be enabled by default")
	}
}

// TestParseOverlay 测试文件中未给出的键保留默认值
func TestParseOverlay(t *testing.T) {
	data := []byte(`
[translation]
gc = "ref"

[jit]
trace_eagerness = 3
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Translation.GC != "ref" {
		t.Errorf("expected gc ref, got %s", cfg.Translation.GC)
	}
	if cfg.JIT.TraceEagerness != 3 {
		t.Errorf("expected trace_eagerness 3, got %d", cfg.JIT.TraceEagerness)
	}
	if cfg.JIT.Threshold != 1039 {
		t.Errorf("threshold should keep default, got %d", cfg.JIT.Threshold)
	}
}

// TestParseInvalid 测试非法取值
func TestParseInvalid(t *testing.T) {
	tests := []string{
		"[translation]\ngc = \"boehm\"\n",
		"[jit]\ncounter_size = 1000\n",
		"[regalloc]\nregisters = 2\ncaller_saved = [5]\n",
		"not toml at all [",
	}
	for _, src := range tests {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("expected error for %q", src)
		}
	}
}

// TestSaveLoad 测试保存后重新加载
func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := Default()
	cfg.RegAlloc.Registers = 4
	cfg.RegAlloc.CallerSaved = []int{0, 1}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RegAlloc.Registers != 4 || len(loaded.RegAlloc.CallerSaved) != 2 {
		t.Errorf("unexpected regalloc config: %+v", loaded.RegAlloc)
	}
}
