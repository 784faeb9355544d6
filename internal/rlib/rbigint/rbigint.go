// Package rbigint 任意精度整数
//
// 翻译期遇到超出机器字的整数常量、long 类型的运算以及 int.to_bytes 一类的
// 转换都经过这里。值不可变：每个运算返回新的 Bigint。除法与取模按向下取整，
// 与源语言一致；浮点转换保证正确舍入。
package rbigint

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"modernc.org/mathutil"

	"github.com/tangzhangming/solatrans/internal/rlib/rarith"
)

var (
	// ErrOverflow 结果超出目标类型的范围
	ErrOverflow = errors.New("int too large to convert")
	// ErrZeroDivision 除数为零
	ErrZeroDivision = errors.New("integer division or modulo by zero")
	// ErrInvalidValue 数值在语义上非法，例如 NaN 或负指数
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidEndianness 字节序既不是 big 也不是 little
	ErrInvalidEndianness = errors.New("byteorder must be either 'little' or 'big'")
	// ErrInvalidSignedness 无符号转换遇到负数
	ErrInvalidSignedness = errors.New("can't convert negative int to unsigned")
)

var (
	bigOne = big.NewInt(1)
	// floatLimit 2^1024 - 2^970：达到它的值舍入后是无穷大
	floatLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 1024), new(big.Int).Lsh(bigOne, 970))
)

// Bigint 不可变的任意精度整数
type Bigint struct {
	v big.Int
}

func wrap(v *big.Int) *Bigint {
	b := &Bigint{}
	b.v.Set(v)
	return b
}

// ============================================================================
// 构造
// ============================================================================

// FromInt 由机器字构造
func FromInt(n int64) *Bigint {
	b := &Bigint{}
	b.v.SetInt64(n)
	return b
}

// FromUint 由无符号机器字构造
func FromUint(n uint64) *Bigint {
	b := &Bigint{}
	b.v.SetUint64(n)
	return b
}

// FromBool True 为 1，False 为 0
func FromBool(v bool) *Bigint {
	if v {
		return FromInt(1)
	}
	return FromInt(0)
}

// FromBig 复制一个 big.Int
func FromBig(v *big.Int) *Bigint { return wrap(v) }

// FromFloat 向零截断；NaN 与无穷大不能转换
func FromFloat(f float64) (*Bigint, error) {
	switch {
	case math.IsNaN(f):
		return nil, fmt.Errorf("cannot convert float NaN to integer: %w", ErrInvalidValue)
	case math.IsInf(f, 0):
		return nil, fmt.Errorf("cannot convert float infinity to integer: %w", ErrOverflow)
	}
	bf := new(big.Float).SetFloat64(f)
	b := &Bigint{}
	bf.Int(&b.v)
	return b, nil
}

// FromString 解析整数字面量；进制规则与 rarith.ParseNumberString 相同
func FromString(s string, base int) (*Bigint, error) {
	ns, err := rarith.ParseNumberString(s, base)
	if err != nil {
		return nil, err
	}
	b := &Bigint{}
	if _, ok := b.v.SetString(strings.ToLower(ns.Digits), ns.Base); !ok {
		return nil, &rarith.ParseStringError{Msg: fmt.Sprintf("invalid literal for int() with base %d", base)}
	}
	if ns.Negative {
		b.v.Neg(&b.v)
	}
	return b, nil
}

// FromDecimal 十进制字面量
func FromDecimal(s string) (*Bigint, error) { return FromString(s, 10) }

// ============================================================================
// 转换
// ============================================================================

// ToInt 转换为机器字
func (b *Bigint) ToInt() (int64, error) {
	if !b.v.IsInt64() {
		return 0, ErrOverflow
	}
	return b.v.Int64(), nil
}

// ToUint 转换为无符号机器字
func (b *Bigint) ToUint() (uint64, error) {
	if b.v.Sign() < 0 {
		return 0, ErrInvalidSignedness
	}
	if !b.v.IsUint64() {
		return 0, ErrOverflow
	}
	return b.v.Uint64(), nil
}

// UintMask 截断到低 64 位，等价于 r_uint(x)
func (b *Bigint) UintMask() uint64 {
	var m big.Int
	m.And(&b.v, new(big.Int).SetUint64(math.MaxUint64))
	return m.Uint64()
}

// ULongLongMask 截断到低 64 位后按补码解释为有符号数
func (b *Bigint) ULongLongMask() int64 { return rarith.IntMask(b.UintMask()) }

// ToFloat 正确舍入为浮点数
func (b *Bigint) ToFloat() (float64, error) {
	if new(big.Int).Abs(&b.v).Cmp(floatLimit) >= 0 {
		return 0, fmt.Errorf("int too large to convert to float: %w", ErrOverflow)
	}
	f, _ := new(big.Rat).SetInt(&b.v).Float64()
	return f, nil
}

// Big 返回副本
func (b *Bigint) Big() *big.Int { return new(big.Int).Set(&b.v) }

// ============================================================================
// 比较
// ============================================================================

// Sign -1、0 或 1
func (b *Bigint) Sign() int { return b.v.Sign() }

// Compare 比较大小，返回 -1、0 或 1
func (b *Bigint) Compare(o *Bigint) int { return b.v.Cmp(&o.v) }

// Eq 是否相等
func (b *Bigint) Eq(o *Bigint) bool { return b.v.Cmp(&o.v) == 0 }

// Lt 小于
func (b *Bigint) Lt(o *Bigint) bool { return b.v.Cmp(&o.v) < 0 }

// IntEq 与机器字比较
func (b *Bigint) IntEq(n int64) bool { return b.v.IsInt64() && b.v.Int64() == n }

// IsZero 是否为零
func (b *Bigint) IsZero() bool { return b.v.Sign() == 0 }

// BitLength 不含符号位的二进制位数
func (b *Bigint) BitLength() int { return b.v.BitLen() }

// Hash 与机器字取值相同的整数得到同一个哈希
func (b *Bigint) Hash() int64 {
	if b.v.IsInt64() {
		return b.v.Int64()
	}
	return b.ULongLongMask()
}

// ============================================================================
// 算术
// ============================================================================

// Add b + o
func (b *Bigint) Add(o *Bigint) *Bigint { return wrap(new(big.Int).Add(&b.v, &o.v)) }

// Sub b - o
func (b *Bigint) Sub(o *Bigint) *Bigint { return wrap(new(big.Int).Sub(&b.v, &o.v)) }

// Mul b * o
func (b *Bigint) Mul(o *Bigint) *Bigint { return wrap(new(big.Int).Mul(&b.v, &o.v)) }

// Neg -b
func (b *Bigint) Neg() *Bigint { return wrap(new(big.Int).Neg(&b.v)) }

// Abs |b|
func (b *Bigint) Abs() *Bigint { return wrap(new(big.Int).Abs(&b.v)) }

// DivMod 向下取整的商与余数；余数与除数同号
func (b *Bigint) DivMod(o *Bigint) (*Bigint, *Bigint, error) {
	if o.v.Sign() == 0 {
		return nil, nil, ErrZeroDivision
	}
	q, r := new(big.Int).QuoRem(&b.v, &o.v, new(big.Int))
	if r.Sign() != 0 && r.Sign() != o.v.Sign() {
		q.Sub(q, bigOne)
		r.Add(r, &o.v)
	}
	return wrap(q), wrap(r), nil
}

// FloorDiv b // o
func (b *Bigint) FloorDiv(o *Bigint) (*Bigint, error) {
	q, _, err := b.DivMod(o)
	return q, err
}

// Mod b % o
func (b *Bigint) Mod(o *Bigint) (*Bigint, error) {
	_, r, err := b.DivMod(o)
	return r, err
}

// maxFloatRat 最大有限浮点数的精确值
var maxFloatRat = new(big.Rat).SetFloat64(math.MaxFloat64)

// Truediv 真除法，返回正确舍入的浮点商
func (b *Bigint) Truediv(o *Bigint) (float64, error) {
	if o.v.Sign() == 0 {
		return 0, fmt.Errorf("division by zero: %w", ErrZeroDivision)
	}
	q := new(big.Rat).SetFrac(&b.v, &o.v)
	if new(big.Rat).Abs(q).Cmp(maxFloatRat) > 0 {
		return 0, fmt.Errorf("integer division result too large for a float: %w", ErrOverflow)
	}
	f, _ := q.Float64()
	return f, nil
}

// Pow b ** e，mod 非空时结果对 mod 取模，符号跟随 mod
func (b *Bigint) Pow(e, mod *Bigint) (*Bigint, error) {
	if e.v.Sign() < 0 {
		if mod != nil {
			return nil, fmt.Errorf("pow() 2nd argument cannot be negative when 3rd argument specified: %w", ErrInvalidValue)
		}
		return nil, fmt.Errorf("bigint pow() negative: %w", ErrInvalidValue)
	}
	if mod == nil {
		return wrap(new(big.Int).Exp(&b.v, &e.v, nil)), nil
	}
	if mod.v.Sign() == 0 {
		return nil, fmt.Errorf("pow() 3rd argument cannot be 0: %w", ErrInvalidValue)
	}
	m := new(big.Int).Abs(&mod.v)
	var r *big.Int
	if e.v.Sign() == 0 {
		r = new(big.Int).Mod(bigOne, m)
	} else {
		base := new(big.Int).Mod(&b.v, m)
		if base.Sign() == 0 {
			r = new(big.Int)
		} else {
			r = mathutil.ModPowBigInt(base, &e.v, m)
		}
	}
	if mod.v.Sign() < 0 && r.Sign() != 0 {
		r.Add(r, &mod.v)
	}
	return wrap(r), nil
}

// ============================================================================
// 位运算
// ============================================================================

// Lshift b << n
func (b *Bigint) Lshift(n int64) (*Bigint, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative shift count: %w", ErrInvalidValue)
	}
	return wrap(new(big.Int).Lsh(&b.v, uint(n))), nil
}

// Rshift b >> n，负数向负无穷方向移位
func (b *Bigint) Rshift(n int64) (*Bigint, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative shift count: %w", ErrInvalidValue)
	}
	return wrap(new(big.Int).Rsh(&b.v, uint(n))), nil
}

// And 按补码语义的按位与
func (b *Bigint) And(o *Bigint) *Bigint { return wrap(new(big.Int).And(&b.v, &o.v)) }

// Or 按位或
func (b *Bigint) Or(o *Bigint) *Bigint { return wrap(new(big.Int).Or(&b.v, &o.v)) }

// Xor 按位异或
func (b *Bigint) Xor(o *Bigint) *Bigint { return wrap(new(big.Int).Xor(&b.v, &o.v)) }

// Invert ~b，即 -(b+1)
func (b *Bigint) Invert() *Bigint { return wrap(new(big.Int).Not(&b.v)) }

// ============================================================================
// 格式化
// ============================================================================

// String 十进制表示
func (b *Bigint) String() string { return b.v.String() }

// Format 按进制输出，带前缀与后缀，例如 Format(16, "0x", "L")
func (b *Bigint) Format(base int, prefix, suffix string) string {
	var sb strings.Builder
	if b.v.Sign() < 0 {
		sb.WriteByte('-')
	}
	sb.WriteString(prefix)
	sb.WriteString(new(big.Int).Abs(&b.v).Text(base))
	sb.WriteString(suffix)
	return sb.String()
}

// Oct 八进制表示，非零值带前导 0
func (b *Bigint) Oct() string {
	if b.v.Sign() == 0 {
		return "0"
	}
	return b.Format(8, "0", "")
}

// Hex 十六进制表示
func (b *Bigint) Hex() string { return b.Format(16, "0x", "") }
