// Package config 实现翻译器配置（solatrans.toml）
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// 常量定义
const (
	ConfigFileName = "solatrans.toml" // 配置文件名
)

// Config 翻译器配置
type Config struct {
	Translation TranslationConfig `toml:"translation"`
	Annotator   AnnotatorConfig   `toml:"annotator"`
	JIT         JITConfig         `toml:"jit"`
	RegAlloc    RegAllocConfig    `toml:"regalloc"`
	Log         LogConfig         `toml:"log"`
}

// TranslationConfig 翻译选项
type TranslationConfig struct {
	// GC GC 策略：none / ref / framework
	GC string `toml:"gc"`

	// NoTypePtr 实例布局省略 vtable 指针
	NoTypePtr bool `toml:"no_typeptr"`

	// CheckStrWithoutNul 追踪字符串是否不含 NUL
	CheckStrWithoutNul bool `toml:"check_str_without_nul"`

	// ListComprehension 启用列表推导的预分配优化
	ListComprehension bool `toml:"list_comprehension"`
}

// AnnotatorConfig 注解器选项
type AnnotatorConfig struct {
	// MaxReflows 单个块最多重新处理次数，0 表示不限制
	MaxReflows int `toml:"max_reflows"`

	// DefaultSpecializer 没有标签时使用的特化器
	DefaultSpecializer string `toml:"default_specializer"`
}

// JITConfig JIT 选项
type JITConfig struct {
	Threshold      int      `toml:"threshold"`       // 循环变热阈值
	TraceEagerness int      `toml:"trace_eagerness"` // guard 失败多少次后编译 bridge
	Decay          int      `toml:"decay"`           // 计数器衰减百分比
	CounterSize    int      `toml:"counter_size"`    // 计数器表大小（2 的幂）
	MaxConstLen    int      `toml:"max_const_len"`   // 虚拟字符串的最大常量长度
	UnrollConst    int      `toml:"unroll_const"`    // copystrcontent 展开上限（源为常量）
	UnrollVar      int      `toml:"unroll_var"`      // copystrcontent 展开上限（其他情况）
	LoopLongevity  int      `toml:"loop_longevity"`  // 循环多少代未使用后释放
	Enable         []string `toml:"enable"`          // 启用的优化
}

// RegAllocConfig 寄存器分配选项
type RegAllocConfig struct {
	Registers   int   `toml:"registers"`    // 通用寄存器数量
	CallerSaved []int `toml:"caller_saved"` // 调用者保存寄存器
	ResultReg   int   `toml:"result_reg"`   // 返回值寄存器
}

// LogConfig 日志选项
type LogConfig struct {
	Level    string   `toml:"level"`    // debug / info / warn / error
	Encoding string   `toml:"encoding"` // console / json
	Outputs  []string `toml:"outputs"`  // 输出路径
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Translation: TranslationConfig{
			GC:                 "framework",
			CheckStrWithoutNul: false,
		},
		Annotator: AnnotatorConfig{
			MaxReflows:         0,
			DefaultSpecializer: "default",
		},
		JIT: JITConfig{
			Threshold:      1039,
			TraceEagerness: 200,
			Decay:          40,
			CounterSize:    1 << 14,
			MaxConstLen:    100,
			UnrollConst:    5,
			UnrollVar:      2,
			LoopLongevity:  1000,
			Enable:         []string{"intbounds", "rewrite", "virtualize", "string", "pure", "heap"},
		},
		RegAlloc: RegAllocConfig{
			Registers:   8,
			CallerSaved: []int{0, 1, 2, 3},
			ResultReg:   0,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
			Outputs:  []string{"stderr"},
		},
	}
}

// Load 从文件加载配置，未出现的键保留默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 TOML 内容
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Translation.GC {
	case "none", "ref", "framework":
	default:
		return fmt.Errorf("unknown gc policy %q", c.Translation.GC)
	}
	if c.JIT.CounterSize <= 0 || c.JIT.CounterSize&(c.JIT.CounterSize-1) != 0 {
		return fmt.Errorf("jit.counter_size must be a power of two, got %d", c.JIT.CounterSize)
	}
	if c.JIT.Decay < 0 || c.JIT.Decay > 100 {
		return fmt.Errorf("jit.decay must be in [0, 100], got %d", c.JIT.Decay)
	}
	if c.JIT.MaxConstLen < 0 || c.JIT.UnrollConst < 0 || c.JIT.UnrollVar < 0 {
		return fmt.Errorf("jit string limits must be non-negative")
	}
	if c.RegAlloc.Registers <= 0 {
		return fmt.Errorf("regalloc.registers must be positive")
	}
	for _, r := range c.RegAlloc.CallerSaved {
		if r < 0 || r >= c.RegAlloc.Registers {
			return fmt.Errorf("caller-saved register %d out of range", r)
		}
	}
	return nil
}

// OptEnabled 判断某个优化是否启用
func (c *JITConfig) OptEnabled(name string) bool {
	for _, n := range c.Enable {
		if n == name {
			return true
		}
	}
	return false
}
