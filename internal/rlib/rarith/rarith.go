// Package rarith 定宽机器整数算术
//
// 翻译后的程序里整数是 64 位机器字：溢出按补码回绕，需要检测溢出的地方
// 显式调用 Ovf* 系列函数。注解器的区间算术与类型化器的常量折叠都用这里的函数，
// 保证编译期的计算与生成代码在运行时的行为一致。
package rarith

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// ErrOverflow 结果超出 64 位有符号整数
var ErrOverflow = errors.New("integer overflow")

// LongBit 机器字位数
const LongBit = 64

// ============================================================================
// 截断
// ============================================================================

// IntMask 把无符号机器字按补码解释为有符号整数
func IntMask(n uint64) int64 { return int64(n) }

// RUint 有符号整数按补码重新解释为无符号机器字
func RUint(n int64) uint64 { return uint64(n) }

// MaskBits 截断到低 bits 位，signed 时做符号扩展
func MaskBits(n int64, bits int, signed bool) int64 {
	if bits >= LongBit {
		return n
	}
	mask := uint64(1)<<uint(bits) - 1
	v := uint64(n) & mask
	if signed && v&(uint64(1)<<uint(bits-1)) != 0 {
		v |= ^mask
	}
	return int64(v)
}

// ============================================================================
// 溢出检查
// ============================================================================

// OvfAdd a + b，溢出时返回 ErrOverflow
func OvfAdd(a, b int64) (int64, error) {
	s := a + b
	if (s > a) != (b > 0) {
		return 0, ErrOverflow
	}
	return s, nil
}

// OvfSub a - b，溢出时返回 ErrOverflow
func OvfSub(a, b int64) (int64, error) {
	s := a - b
	if (s < a) != (b > 0) {
		return 0, ErrOverflow
	}
	return s, nil
}

// OvfMul a * b，溢出时返回 ErrOverflow
func OvfMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}

// OvfNeg -a；只有最小整数会溢出
func OvfNeg(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -a, nil
}

// OvfLshift a << n，移出的位不等于符号位时溢出
func OvfLshift(a int64, n uint) (int64, error) {
	if n >= LongBit {
		if a == 0 {
			return 0, nil
		}
		return 0, ErrOverflow
	}
	r := a << n
	if r>>n != a {
		return 0, ErrOverflow
	}
	return r, nil
}

// OvfFloatToInt 浮点数截断为整数，超出范围时返回 ErrOverflow
func OvfFloatToInt(f float64) (int64, error) {
	if math.IsNaN(f) {
		return 0, fmt.Errorf("cannot convert NaN to integer")
	}
	// -2^63 能精确表示，2^63 不能
	if f < -9223372036854775808.0 || f >= 9223372036854775808.0 {
		return 0, ErrOverflow
	}
	return int64(f), nil
}

// ============================================================================
// 杂项
// ============================================================================

// IntBetween a <= b < c
func IntBetween(a, b, c int64) bool { return a <= b && b < c }

// HighestBit n 必须是 2 的幂，返回幂次
func HighestBit(n uint64) (int, error) {
	if n == 0 || n&(n-1) != 0 {
		return 0, fmt.Errorf("%d is not a power of two", n)
	}
	return bits.TrailingZeros64(n), nil
}

// Byteswap16 交换 16 位整数的字节序
func Byteswap16(x uint16) uint16 { return bits.ReverseBytes16(x) }

// Byteswap32 交换 32 位整数的字节序
func Byteswap32(x uint32) uint32 { return bits.ReverseBytes32(x) }

// Byteswap64 交换 64 位整数的字节序
func Byteswap64(x uint64) uint64 { return bits.ReverseBytes64(x) }

// LongLong2Float 按位把 64 位整数解释为浮点数
func LongLong2Float(x int64) float64 { return math.Float64frombits(uint64(x)) }

// Float2LongLong 按位把浮点数解释为 64 位整数
func Float2LongLong(f float64) int64 { return int64(math.Float64bits(f)) }

// Uint2SingleFloat 按位把 32 位整数解释为单精度浮点数
func Uint2SingleFloat(x uint32) float32 { return math.Float32frombits(x) }

// SingleFloat2Uint 按位把单精度浮点数解释为 32 位整数
func SingleFloat2Uint(f float32) uint32 { return math.Float32bits(f) }

// ============================================================================
// 字符串转整数
// ============================================================================

// ParseStringError 字符串不是合法的整数字面量
type ParseStringError struct {
	Msg string
}

func (e *ParseStringError) Error() string { return e.Msg }

// ParseStringOverflowError 字面量合法但超出机器字
type ParseStringOverflowError struct {
	Literal string
}

func (e *ParseStringOverflowError) Error() string {
	return fmt.Sprintf("integer literal too large: %s", e.Literal)
}

// NumberString 解析后的整数字面量：符号、进制与数字部分
type NumberString struct {
	Negative bool
	Base     int
	Digits   string
}

const spaces = " \t\n\v\f\r"

// ParseNumberString 解析可带空白、符号与进制前缀的整数字面量。
// base 为 0 时由前缀决定进制，以 0 开头的十进制按八进制处理。
func ParseNumberString(s string, base int) (*NumberString, error) {
	bad := &ParseStringError{Msg: fmt.Sprintf("invalid literal for int() with base %d", base)}
	if base != 0 && (base < 2 || base > 36) {
		return nil, &ParseStringError{Msg: "int() base must be >= 2 and <= 36"}
	}
	s = strings.Trim(s, spaces)
	ns := &NumberString{Base: base}
	if s != "" && (s[0] == '+' || s[0] == '-') {
		ns.Negative = s[0] == '-'
		s = strings.TrimLeft(s[1:], spaces)
	}
	lower := strings.ToLower(s)
	prefix := func(p string, b int) bool {
		if strings.HasPrefix(lower, p) && (ns.Base == 0 || ns.Base == b) {
			ns.Base = b
			s = s[len(p):]
			return true
		}
		return false
	}
	if !prefix("0x", 16) && !prefix("0o", 8) && !prefix("0b", 2) && ns.Base == 0 {
		ns.Base = 10
		if len(s) > 1 && s[0] == '0' {
			ns.Base = 8
		}
	}
	if s == "" {
		return nil, bad
	}
	for _, ch := range s {
		if digitValue(ch) >= ns.Base {
			return nil, bad
		}
	}
	ns.Digits = s
	return ns, nil
}

func digitValue(ch rune) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'z':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	}
	return 99
}

// StringToInt 把字面量转换为机器字
func StringToInt(s string, base int) (int64, error) {
	ns, err := ParseNumberString(s, base)
	if err != nil {
		return 0, err
	}
	var acc uint64
	limit := uint64(math.MaxInt64)
	if ns.Negative {
		limit++
	}
	for _, ch := range ns.Digits {
		hi, lo := bits.Mul64(acc, uint64(ns.Base))
		sum, carry := bits.Add64(lo, uint64(digitValue(ch)), 0)
		if hi != 0 || carry != 0 || sum > limit {
			return 0, &ParseStringOverflowError{Literal: strings.TrimSpace(s)}
		}
		acc = sum
	}
	if ns.Negative {
		return -int64(acc-1) - 1, nil
	}
	return int64(acc), nil
}
