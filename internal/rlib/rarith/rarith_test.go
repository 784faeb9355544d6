package rarith

import (
	"errors"
	"math"
	"testing"
)

// TestMaskBits 测试截断与符号扩展
func TestMaskBits(t *testing.T) {
	tests := []struct {
		n      int64
		bits   int
		signed bool
		want   int64
	}{
		{0xff, 8, false, 255},
		{0xff, 8, true, -1},
		{0x17f, 8, true, 127},
		{-1, 16, false, 0xffff},
		{-2, 64, true, -2},
	}
	for _, tt := range tests {
		if got := MaskBits(tt.n, tt.bits, tt.signed); got != tt.want {
			t.Errorf("MaskBits(%#x, %d, %v) = %d, want %d", tt.n, tt.bits, tt.signed, got, tt.want)
		}
	}
	if IntMask(RUint(-5)) != -5 {
		t.Error("intmask(r_uint(x)) should round trip")
	}
}

// TestOverflowChecks 测试带溢出检查的算术
func TestOverflowChecks(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (int64, error)
		want int64
		ovf  bool
	}{
		{"add", func() (int64, error) { return OvfAdd(1, 2) }, 3, false},
		{"add max", func() (int64, error) { return OvfAdd(math.MaxInt64, 1) }, 0, true},
		{"add min", func() (int64, error) { return OvfAdd(math.MinInt64, -1) }, 0, true},
		{"add zero", func() (int64, error) { return OvfAdd(math.MinInt64, 0) }, math.MinInt64, false},
		{"sub", func() (int64, error) { return OvfSub(-3, 4) }, -7, false},
		{"sub min", func() (int64, error) { return OvfSub(math.MinInt64, 1) }, 0, true},
		{"sub neg", func() (int64, error) { return OvfSub(0, math.MinInt64) }, 0, true},
		{"mul", func() (int64, error) { return OvfMul(-6, 7) }, -42, false},
		{"mul big", func() (int64, error) { return OvfMul(1<<32, 1<<31) }, 0, true},
		{"mul min", func() (int64, error) { return OvfMul(math.MinInt64, -1) }, 0, true},
		{"neg", func() (int64, error) { return OvfNeg(5) }, -5, false},
		{"neg min", func() (int64, error) { return OvfNeg(math.MinInt64) }, 0, true},
		{"lshift", func() (int64, error) { return OvfLshift(-1, 63) }, math.MinInt64, false},
		{"lshift lost", func() (int64, error) { return OvfLshift(3, 62) }, 0, true},
		{"lshift wide", func() (int64, error) { return OvfLshift(1, 64) }, 0, true},
		{"float", func() (int64, error) { return OvfFloatToInt(-2.9) }, -2, false},
		{"float big", func() (int64, error) { return OvfFloatToInt(9223372036854775808.0) }, 0, true},
	}
	for _, tt := range tests {
		got, err := tt.fn()
		if tt.ovf {
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("%s: expected overflow, got %d, %v", tt.name, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %d, %v, want %d", tt.name, got, err, tt.want)
		}
	}
	if _, err := OvfFloatToInt(math.NaN()); err == nil || errors.Is(err, ErrOverflow) {
		t.Errorf("NaN should fail without overflow, got %v", err)
	}
}

// TestStringToInt 测试整数字面量解析
func TestStringToInt(t *testing.T) {
	tests := []struct {
		s    string
		base int
		want int64
	}{
		{"0", 10, 0},
		{"  -17 ", 10, -17},
		{"+ 42", 10, 42},
		{"0x1F", 0, 31},
		{"1f", 16, 31},
		{"0X1f", 16, 31},
		{"0o17", 0, 15},
		{"017", 0, 15},
		{"0b101", 0, 5},
		{"z", 36, 35},
		{"9223372036854775807", 10, math.MaxInt64},
		{"-9223372036854775808", 10, math.MinInt64},
	}
	for _, tt := range tests {
		got, err := StringToInt(tt.s, tt.base)
		if err != nil {
			t.Errorf("StringToInt(%q, %d) error: %v", tt.s, tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("StringToInt(%q, %d) = %d, want %d", tt.s, tt.base, got, tt.want)
		}
	}
}

// TestStringToIntErrors 测试非法字面量与溢出
func TestStringToIntErrors(t *testing.T) {
	tests := []struct {
		s        string
		base     int
		overflow bool
	}{
		{"", 10, false},
		{"-", 10, false},
		{"12a", 10, false},
		{"0x", 16, false},
		{"8", 8, false},
		{"0b12", 0, false},
		{"1", 37, false},
		{"9223372036854775808", 10, true},
		{"-9223372036854775809", 10, true},
		{"0x10000000000000000", 0, true},
	}
	for _, tt := range tests {
		_, err := StringToInt(tt.s, tt.base)
		var ovf *ParseStringOverflowError
		var bad *ParseStringError
		switch {
		case tt.overflow && !errors.As(err, &ovf):
			t.Errorf("StringToInt(%q) = %v, want overflow", tt.s, err)
		case !tt.overflow && !errors.As(err, &bad):
			t.Errorf("StringToInt(%q) = %v, want parse error", tt.s, err)
		}
	}
	_, err := StringToInt("abc", 10)
	if err == nil || err.Error() != "invalid literal for int() with base 10" {
		t.Errorf("message = %v", err)
	}
}

// TestBitHelpers 测试位运算辅助函数
func TestBitHelpers(t *testing.T) {
	if !IntBetween(1, 1, 2) || IntBetween(1, 2, 2) || IntBetween(3, 2, 5) {
		t.Error("IntBetween is a half-open range")
	}
	if n, err := HighestBit(1 << 12); err != nil || n != 12 {
		t.Errorf("HighestBit(4096) = %d, %v", n, err)
	}
	if _, err := HighestBit(6); err == nil {
		t.Error("6 is not a power of two")
	}
	if Byteswap16(0x1234) != 0x3412 || Byteswap32(0x12345678) != 0x78563412 {
		t.Error("byteswap")
	}
	if Byteswap64(0x0102030405060708) != 0x0807060504030201 {
		t.Error("byteswap64")
	}
	if LongLong2Float(Float2LongLong(1.5)) != 1.5 {
		t.Error("float bits should round trip")
	}
	if SingleFloat2Uint(Uint2SingleFloat(0x3fc00000)) != 0x3fc00000 || Uint2SingleFloat(0x3fc00000) != 1.5 {
		t.Error("single float bits")
	}
}
