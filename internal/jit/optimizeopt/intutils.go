// intutils.go - 整数区间
package optimizeopt

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/rlib/rarith"
)

// IntBound 整数值的已知区间；缺少的一端表示不受限
type IntBound struct {
	HasLower bool
	HasUpper bool
	Lower    int64
	Upper    int64
}

// NewIntBound 闭区间 [lo, hi]
func NewIntBound(lo, hi int64) *IntBound {
	return &IntBound{HasLower: true, HasUpper: true, Lower: lo, Upper: hi}
}

// Unbounded 不受限的区间
func Unbounded() *IntBound { return &IntBound{} }

// LowerBound 只有下界
func LowerBound(lo int64) *IntBound { return &IntBound{HasLower: true, Lower: lo} }

// UpperBound 只有上界
func UpperBound(hi int64) *IntBound { return &IntBound{HasUpper: true, Upper: hi} }

// Clone 复制
func (b *IntBound) Clone() *IntBound {
	c := *b
	return &c
}

func (b *IntBound) String() string {
	lo, hi := "-inf", "+inf"
	if b.HasLower {
		lo = fmt.Sprint(b.Lower)
	}
	if b.HasUpper {
		hi = fmt.Sprint(b.Upper)
	}
	return "[" + lo + ", " + hi + "]"
}

// Bounded 两端都有界
func (b *IntBound) Bounded() bool { return b.HasLower && b.HasUpper }

// IsConstant 区间只含一个值
func (b *IntBound) IsConstant() (int64, bool) {
	if b.Bounded() && b.Lower == b.Upper {
		return b.Lower, true
	}
	return 0, false
}

// Contains 区间是否包含 v
func (b *IntBound) Contains(v int64) bool {
	if b.HasLower && v < b.Lower {
		return false
	}
	if b.HasUpper && v > b.Upper {
		return false
	}
	return true
}

// ContainsBound other 是否完全落在区间里
func (b *IntBound) ContainsBound(other *IntBound) bool {
	if b.HasLower && (!other.HasLower || other.Lower < b.Lower) {
		return false
	}
	if b.HasUpper && (!other.HasUpper || other.Upper > b.Upper) {
		return false
	}
	return true
}

// ============================================================================
// 收紧
// ============================================================================

// MakeLe 收紧为 <= other 的上界；返回是否改变
func (b *IntBound) MakeLe(other *IntBound) bool {
	if other.HasUpper && (!b.HasUpper || other.Upper < b.Upper) {
		b.HasUpper = true
		b.Upper = other.Upper
		return true
	}
	return false
}

// MakeLt 收紧为 < other
func (b *IntBound) MakeLt(other *IntBound) bool { return b.MakeLe(other.add(-1)) }

// MakeGe 收紧为 >= other 的下界
func (b *IntBound) MakeGe(other *IntBound) bool {
	if other.HasLower && (!b.HasLower || other.Lower > b.Lower) {
		b.HasLower = true
		b.Lower = other.Lower
		return true
	}
	return false
}

// MakeGt 收紧为 > other
func (b *IntBound) MakeGt(other *IntBound) bool { return b.MakeGe(other.add(1)) }

// Intersect 与 other 求交
func (b *IntBound) Intersect(other *IntBound) bool {
	r := b.MakeGe(other)
	if b.MakeLe(other) {
		r = true
	}
	return r
}

// ============================================================================
// 比较
// ============================================================================

func (b *IntBound) KnownLt(other *IntBound) bool {
	return b.HasUpper && other.HasLower && b.Upper < other.Lower
}

func (b *IntBound) KnownLe(other *IntBound) bool {
	return b.HasUpper && other.HasLower && b.Upper <= other.Lower
}

func (b *IntBound) KnownGt(other *IntBound) bool { return other.KnownLt(b) }
func (b *IntBound) KnownGe(other *IntBound) bool { return other.KnownLe(b) }

// KnownNonNegative 区间内都 >= 0
func (b *IntBound) KnownNonNegative() bool { return b.HasLower && b.Lower >= 0 }

// ============================================================================
// 运算
// ============================================================================

func (b *IntBound) add(offset int64) *IntBound {
	r := b.Clone()
	if r.HasLower {
		v, err := rarith.OvfAdd(r.Lower, offset)
		r.Lower, r.HasLower = v, err == nil
	}
	if r.HasUpper {
		v, err := rarith.OvfAdd(r.Upper, offset)
		r.Upper, r.HasUpper = v, err == nil
	}
	return r
}

// AddBound a + b 的区间
func (b *IntBound) AddBound(other *IntBound) *IntBound {
	r := b.Clone()
	if other.HasUpper && r.HasUpper {
		v, err := rarith.OvfAdd(r.Upper, other.Upper)
		r.Upper, r.HasUpper = v, err == nil
	} else {
		r.HasUpper = false
	}
	if other.HasLower && r.HasLower {
		v, err := rarith.OvfAdd(r.Lower, other.Lower)
		r.Lower, r.HasLower = v, err == nil
	} else {
		r.HasLower = false
	}
	return r
}

// SubBound a - b 的区间
func (b *IntBound) SubBound(other *IntBound) *IntBound {
	r := b.Clone()
	if other.HasLower && r.HasUpper {
		v, err := rarith.OvfSub(r.Upper, other.Lower)
		r.Upper, r.HasUpper = v, err == nil
	} else {
		r.HasUpper = false
	}
	if other.HasUpper && r.HasLower {
		v, err := rarith.OvfSub(r.Lower, other.Upper)
		r.Lower, r.HasLower = v, err == nil
	} else {
		r.HasLower = false
	}
	return r
}

// corners 在四个角上求值，任何一个失败则不受限
func (b *IntBound) corners(other *IntBound, f func(x, y int64) (int64, bool)) *IntBound {
	if !b.Bounded() || !other.Bounded() {
		return Unbounded()
	}
	xs := [2]int64{b.Lower, b.Upper}
	ys := [2]int64{other.Lower, other.Upper}
	var lo, hi int64
	first := true
	for _, x := range xs {
		for _, y := range ys {
			v, ok := f(x, y)
			if !ok {
				return Unbounded()
			}
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return NewIntBound(lo, hi)
}

// MulBound a * b 的区间
func (b *IntBound) MulBound(other *IntBound) *IntBound {
	return b.corners(other, func(x, y int64) (int64, bool) {
		v, err := rarith.OvfMul(x, y)
		return v, err == nil
	})
}

// DivBound 截断除法的区间；除数区间含 0 时不受限
func (b *IntBound) DivBound(other *IntBound) *IntBound {
	if other.Contains(0) {
		return Unbounded()
	}
	return b.corners(other, func(x, y int64) (int64, bool) {
		if y == -1 && x == -1<<63 {
			return 0, false
		}
		return x / y, true
	})
}

// LshiftBound 左移的区间；可能溢出时不受限
func (b *IntBound) LshiftBound(other *IntBound) *IntBound {
	if !other.KnownGe(NewIntBound(0, 0)) || !other.KnownLt(NewIntBound(64, 64)) {
		return Unbounded()
	}
	return b.corners(other, func(x, y int64) (int64, bool) {
		v, err := rarith.OvfLshift(x, uint(y))
		return v, err == nil
	})
}

// RshiftBound 算术右移的区间
func (b *IntBound) RshiftBound(other *IntBound) *IntBound {
	if !other.KnownGe(NewIntBound(0, 0)) || !other.KnownLt(NewIntBound(64, 64)) {
		return Unbounded()
	}
	return b.corners(other, func(x, y int64) (int64, bool) { return x >> uint(y), true })
}

// NextPow2M1 不小于 n 的 2 的幂减一
func NextPow2M1(n int64) int64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n
}
