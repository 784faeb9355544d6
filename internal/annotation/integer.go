// integer.go - 整数注解与区间格
//
// 整数注解携带宽度、符号、非负标志和可选区间。
// 区间的合并取外包区间后把端点量化到集合
//
//	S = {MinInt64, MaxInt64, 2^k-1, -2^k}
//
// 上（下端向下取、上端向上取）。S 对取 hull 封闭，因此合并满足结合律，
// 每个变量最多加宽约 2×64 次后到达全区间，保证不动点终止。
// 传递函数（加减乘等）本身保持精确。
package annotation

import (
	"fmt"
	"math"
	"math/bits"

	"modernc.org/mathutil"

	"github.com/tangzhangming/solatrans/internal/rlib/rarith"
)

// Range 闭区间 [Lo, Hi]
type Range struct {
	Lo, Hi int64
}

// FullRange 全区间
var FullRange = Range{math.MinInt64, math.MaxInt64}

// IsFull 是否为全区间
func (r Range) IsFull() bool { return r == FullRange }

// Contains r ⊇ o
func (r Range) Contains(o Range) bool { return r.Lo <= o.Lo && o.Hi <= r.Hi }

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.Lo, r.Hi) }

// Hull 外包区间
func (r Range) Hull(o Range) Range {
	return Range{mathutil.MinInt64(r.Lo, o.Lo), mathutil.MaxInt64(r.Hi, o.Hi)}
}

// quantizeDown 不大于 v 的最大量化点
func quantizeDown(v int64) int64 {
	if v >= 0 {
		// 2^k-1 <= v
		if v == math.MaxInt64 {
			return v
		}
		k := bits.Len64(uint64(v) + 1)
		return int64(uint64(1)<<(k-1)) - 1
	}
	if v == math.MinInt64 {
		return v
	}
	// -2^k <= v，取最小的 k
	k := bits.Len64(uint64(-v) - 1)
	if k >= 63 {
		return math.MinInt64
	}
	return -int64(uint64(1) << k)
}

// quantizeUp 不小于 v 的最小量化点
func quantizeUp(v int64) int64 {
	if v < 0 {
		// -2^k >= v，取最大的 k
		if v == math.MinInt64 {
			return v
		}
		k := bits.Len64(uint64(-v)) - 1
		return -int64(uint64(1) << k)
	}
	k := bits.Len64(uint64(v))
	if k >= 63 {
		return math.MaxInt64
	}
	return int64(uint64(1)<<k) - 1
}

// widen 合并两个不同区间
func widen(a, b Range) Range {
	h := a.Hull(b)
	return Range{quantizeDown(h.Lo), quantizeUp(h.Hi)}
}

// Integer 机器整数
type Integer struct {
	constant
	noKTD
	// Unsigned 无符号（r_uint 系列）
	Unsigned bool
	// Bits 位宽，默认 64
	Bits int
	// Nonneg 已知非负
	Nonneg bool
	// Range 可选区间，nil 表示该宽度的全区间
	Range *Range
}

// NewInteger 有符号 64 位整数
func NewInteger(nonneg bool) *Integer {
	i := &Integer{Bits: 64, Nonneg: nonneg}
	if nonneg {
		i.Range = &Range{0, math.MaxInt64}
	}
	return i
}

// NewIntegerRange 带区间的有符号整数
func NewIntegerRange(lo, hi int64) *Integer {
	i := &Integer{Bits: 64}
	i.setRange(Range{lo, hi})
	return i
}

// NewUnsigned 无符号整数
func NewUnsigned(bits int) *Integer {
	return &Integer{Bits: bits, Unsigned: true, Nonneg: true}
}

// NewIntegerOfWidth 指定宽度与符号的整数
func NewIntegerOfWidth(bits int, unsigned bool) *Integer {
	return &Integer{Bits: bits, Unsigned: unsigned, Nonneg: unsigned}
}

// ConstInt 常量整数
func ConstInt(v int64) *Integer {
	i := &Integer{constant: constant{true, v}, Bits: 64}
	i.setRange(Range{v, v})
	return i
}

func (i *Integer) setRange(r Range) {
	if i.Unsigned {
		i.Range = nil
		i.Nonneg = true
		return
	}
	if r.IsFull() {
		i.Range = nil
		i.Nonneg = false
		return
	}
	i.Range = &r
	i.Nonneg = r.Lo >= 0
}

// GetRange 当前区间（无区间时返回宽度对应的全区间）
func (i *Integer) GetRange() Range {
	if i.Range != nil {
		return *i.Range
	}
	if i.Nonneg {
		return Range{0, math.MaxInt64}
	}
	return FullRange
}

// KnownType 对应的机器类型名
func (i *Integer) KnownType() string {
	switch {
	case i.Unsigned && i.Bits > 64:
		return "r_ulonglonglong"
	case i.Unsigned:
		return "r_uint"
	case i.Bits > 64:
		return "r_longlonglong"
	case i.Bits != 64:
		return fmt.Sprintf("r_int%d", i.Bits)
	}
	return "int"
}

func (*Integer) Kind() Kind      { return KInteger }
func (*Integer) CanBeNone() bool { return false }
func (i *Integer) String() string {
	r := ""
	if i.Range != nil {
		r = ", range=" + i.Range.String()
	}
	return fmt.Sprintf("SomeInteger(%s, nonneg=%v%s%s)", i.KnownType(), i.Nonneg, r, i.constSuffix())
}
func (i *Integer) equal(other SomeValue) bool {
	o, ok := other.(*Integer)
	if !ok || i.Unsigned != o.Unsigned || i.Bits != o.Bits || i.Nonneg != o.Nonneg || !i.constEqual(o.constant) {
		return false
	}
	if (i.Range == nil) != (o.Range == nil) {
		return false
	}
	return i.Range == nil || *i.Range == *o.Range
}

// unionInteger 合并两个整数注解
func unionInteger(a, b *Integer) *Integer {
	out := &Integer{
		Bits:     max(a.Bits, b.Bits),
		Unsigned: a.Unsigned || b.Unsigned,
	}
	if a.constEqual(b.constant) {
		out.constant = a.constant
	}
	if out.Unsigned {
		out.Nonneg = true
		return out
	}
	if a.Range == nil && b.Range == nil {
		out.Nonneg = a.Nonneg && b.Nonneg
		if out.Nonneg {
			out.Range = &Range{0, math.MaxInt64}
		}
		return out
	}
	ra, rb := a.GetRange(), b.GetRange()
	if ra == rb {
		out.setRange(ra)
	} else {
		out.setRange(widen(ra, rb))
	}
	return out
}

// boolAsInteger Bool 看作 [0,1] 整数
func boolAsInteger(b *Bool) *Integer {
	if b.IsConstant() {
		if b.Const().(bool) {
			return ConstInt(1)
		}
		return ConstInt(0)
	}
	return NewIntegerRange(0, 1)
}

// ============================================================================
// 区间算术（传递函数用）
// ============================================================================

func addSat(a, b int64) (int64, bool) {
	s, err := rarith.OvfAdd(a, b)
	return s, err == nil
}

func subSat(a, b int64) (int64, bool) {
	s, err := rarith.OvfSub(a, b)
	return s, err == nil
}

func mulSat(a, b int64) (int64, bool) {
	p, err := rarith.OvfMul(a, b)
	return p, err == nil
}

// IntegerArith 整数二元运算结果注解
func IntegerArith(op string, a, b *Integer) *Integer {
	unsigned := a.Unsigned || b.Unsigned
	out := &Integer{Bits: max(a.Bits, b.Bits), Unsigned: unsigned}
	if unsigned {
		out.Nonneg = true
		return out
	}
	ra, rb := a.GetRange(), b.GetRange()
	var (
		r  Range
		ok = true
	)
	switch op {
	case "add", "inplace_add", "add_ovf":
		var ok1, ok2 bool
		r.Lo, ok1 = addSat(ra.Lo, rb.Lo)
		r.Hi, ok2 = addSat(ra.Hi, rb.Hi)
		ok = ok1 && ok2
		if !ok && a.Nonneg && b.Nonneg {
			r, ok = Range{0, math.MaxInt64}, true
		}
	case "sub", "inplace_sub", "sub_ovf":
		var ok1, ok2 bool
		r.Lo, ok1 = subSat(ra.Lo, rb.Hi)
		r.Hi, ok2 = subSat(ra.Hi, rb.Lo)
		ok = ok1 && ok2
	case "mul", "inplace_mul", "mul_ovf":
		c := [4]int64{}
		for i, p := range [4][2]int64{{ra.Lo, rb.Lo}, {ra.Lo, rb.Hi}, {ra.Hi, rb.Lo}, {ra.Hi, rb.Hi}} {
			v, good := mulSat(p[0], p[1])
			if !good {
				ok = false
				break
			}
			c[i] = v
		}
		if ok {
			r = Range{mathutil.MinInt64Val(c[0], c[1:]...), mathutil.MaxInt64Val(c[0], c[1:]...)}
		} else if a.Nonneg && b.Nonneg {
			r, ok = Range{0, math.MaxInt64}, true
		}
	case "floordiv", "div", "mod", "and_", "rshift":
		// 两侧非负时结果非负，上界不超过左操作数
		if a.Nonneg && b.Nonneg {
			r = Range{0, ra.Hi}
			if op == "mod" {
				r.Hi = mathutil.MinInt64(ra.Hi, mathutil.MaxInt64(rb.Hi-1, 0))
			}
			if op == "and_" {
				r.Hi = mathutil.MinInt64(ra.Hi, rb.Hi)
			}
		} else if op == "and_" && (a.Nonneg || b.Nonneg) {
			if a.Nonneg {
				r = Range{0, ra.Hi}
			} else {
				r = Range{0, rb.Hi}
			}
		} else {
			ok = false
		}
	case "or_", "xor", "lshift":
		if a.Nonneg && b.Nonneg && op != "lshift" {
			r = Range{0, math.MaxInt64}
		} else {
			ok = false
		}
	default:
		ok = false
	}
	if !ok {
		out.Nonneg = false
		return out
	}
	out.setRange(r)
	if a.IsConstant() && b.IsConstant() && r.Lo == r.Hi {
		out.constant = constant{true, r.Lo}
	}
	return out
}

// IntegerUnary 整数一元运算结果注解
func IntegerUnary(op string, a *Integer) *Integer {
	if a.Unsigned {
		return NewUnsigned(a.Bits)
	}
	r := a.GetRange()
	out := &Integer{Bits: a.Bits}
	switch op {
	case "pos":
		return a
	case "neg":
		if r.Lo == math.MinInt64 {
			return out
		}
		out.setRange(Range{-r.Hi, -r.Lo})
	case "abs":
		if r.Lo == math.MinInt64 {
			out.setRange(Range{0, math.MaxInt64})
			return out
		}
		lo := int64(0)
		if r.Lo > 0 {
			lo = r.Lo
		} else if r.Hi < 0 {
			lo = -r.Hi
		}
		out.setRange(Range{lo, mathutil.MaxInt64(-r.Lo, r.Hi)})
	case "invert":
		out.setRange(Range{^r.Hi, ^r.Lo})
	default:
		return out
	}
	if a.IsConstant() && out.Range != nil && out.Range.Lo == out.Range.Hi {
		out.constant = constant{true, out.Range.Lo}
	}
	return out
}
