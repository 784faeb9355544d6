package optimizeopt

import (
	"math"
	"testing"
)

// TestIntBoundArith 测试区间运算
func TestIntBoundArith(t *testing.T) {
	tests := []struct {
		name string
		got  *IntBound
		want string
	}{
		{"add", NewIntBound(1, 5).AddBound(NewIntBound(-2, 3)), "[-1, 8]"},
		{"add half open", LowerBound(0).AddBound(NewIntBound(1, 1)), "[1, +inf]"},
		{"add overflow", NewIntBound(0, math.MaxInt64).AddBound(NewIntBound(1, 1)), "[1, +inf]"},
		{"sub", NewIntBound(10, 20).SubBound(NewIntBound(1, 5)), "[5, 19]"},
		{"mul", NewIntBound(-2, 3).MulBound(NewIntBound(4, 5)), "[-10, 15]"},
		{"mul unbounded", LowerBound(0).MulBound(NewIntBound(2, 2)), "[-inf, +inf]"},
		{"div", NewIntBound(-7, 7).DivBound(NewIntBound(2, 2)), "[-3, 3]"},
		{"div by range with zero", NewIntBound(1, 2).DivBound(NewIntBound(-1, 1)), "[-inf, +inf]"},
		{"lshift", NewIntBound(1, 3).LshiftBound(NewIntBound(2, 2)), "[4, 12]"},
		{"lshift wide", NewIntBound(1, 3).LshiftBound(NewIntBound(0, 64)), "[-inf, +inf]"},
		{"rshift", NewIntBound(-8, 8).RshiftBound(NewIntBound(1, 1)), "[-4, 4]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got.String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// TestIntBoundCompare 测试已知比较
func TestIntBoundCompare(t *testing.T) {
	a := NewIntBound(0, 4)
	b := NewIntBound(5, 10)
	c := NewIntBound(4, 10)

	if !a.KnownLt(b) || a.KnownLt(c) {
		t.Error("KnownLt")
	}
	if !a.KnownLe(c) {
		t.Error("KnownLe")
	}
	if !b.KnownGt(a) || !c.KnownGe(a) {
		t.Error("KnownGt/KnownGe")
	}
	if Unbounded().KnownLt(b) {
		t.Error("unbounded is never known less")
	}
	if !a.KnownNonNegative() || UpperBound(3).KnownNonNegative() {
		t.Error("KnownNonNegative")
	}
}

// TestIntBoundTighten 测试收紧与求交
func TestIntBoundTighten(t *testing.T) {
	b := Unbounded()
	if !b.MakeLt(NewIntBound(10, 10)) || b.String() != "[-inf, 9]" {
		t.Errorf("MakeLt: %s", b)
	}
	if !b.MakeGe(NewIntBound(0, 0)) || b.String() != "[0, 9]" {
		t.Errorf("MakeGe: %s", b)
	}
	if b.MakeLe(NewIntBound(20, 20)) {
		t.Error("looser bound should not change anything")
	}
	if !b.Intersect(NewIntBound(3, 100)) || b.String() != "[3, 9]" {
		t.Errorf("Intersect: %s", b)
	}
	if b.Intersect(NewIntBound(0, 50)) {
		t.Error("intersect with a superset should not change anything")
	}
	if !b.MakeGt(NewIntBound(8, 8)) {
		t.Fatal("MakeGt")
	}
	if v, ok := b.IsConstant(); !ok || v != 9 {
		t.Errorf("IsConstant = %d, %v", v, ok)
	}
	if !NewIntBound(0, 10).ContainsBound(b) || b.ContainsBound(NewIntBound(0, 10)) {
		t.Error("ContainsBound")
	}
}

// TestNextPow2M1 测试掩码计算
func TestNextPow2M1(t *testing.T) {
	tests := []struct{ in, want int64 }{
		{0, 0}, {1, 1}, {2, 3}, {5, 7}, {8, 15}, {255, 255},
	}
	for _, tt := range tests {
		if got := NextPow2M1(tt.in); got != tt.want {
			t.Errorf("NextPow2M1(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
