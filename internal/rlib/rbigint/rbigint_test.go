package rbigint

import (
	"bytes"
	"errors"
	"math"
	"math/big"
	"testing"
)

// ============================================================================
// 测试辅助
// ============================================================================

func mustString(t *testing.T, s string) *Bigint {
	t.Helper()
	b, err := FromString(s, 0)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	return b
}

func pow2(n uint) *Bigint {
	return FromBig(new(big.Int).Lsh(big.NewInt(1), n))
}

// ============================================================================
// 转换
// ============================================================================

// TestIntRoundTrip 测试机器字经过大整数后保持不变
func TestIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, 1 << 40, math.MaxInt64, math.MinInt64, math.MinInt64 + 1} {
		got, err := FromInt(n).ToInt()
		if err != nil || got != n {
			t.Errorf("FromInt(%d).ToInt() = %d, %v", n, got, err)
		}
	}
	if _, err := pow2(63).ToInt(); !errors.Is(err, ErrOverflow) {
		t.Errorf("2**63 should overflow, got %v", err)
	}
	if u, err := FromUint(math.MaxUint64).ToUint(); err != nil || u != math.MaxUint64 {
		t.Errorf("ToUint = %d, %v", u, err)
	}
	if _, err := FromInt(-1).ToUint(); !errors.Is(err, ErrInvalidSignedness) {
		t.Errorf("negative ToUint: %v", err)
	}
	if got := FromInt(-1).UintMask(); got != math.MaxUint64 {
		t.Errorf("UintMask(-1) = %#x", got)
	}
	if got := pow2(64).Add(FromInt(5)).ULongLongMask(); got != 5 {
		t.Errorf("ULongLongMask(2**64+5) = %d", got)
	}
}

// TestFloatRoundTrip 测试能转换的浮点数经过大整数后保持不变
func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 1e15, -3.0 * (1 << 60), 1e300, math.MaxFloat64, -math.MaxFloat64} {
		b, err := FromFloat(f)
		if err != nil {
			t.Fatalf("FromFloat(%g): %v", f, err)
		}
		got, err := b.ToFloat()
		if err != nil || got != f {
			t.Errorf("FromFloat(%g).ToFloat() = %g, %v", f, got, err)
		}
	}
	if b, _ := FromFloat(-2.75); !b.IntEq(-2) {
		t.Errorf("FromFloat(-2.75) = %s, want -2", b)
	}
	if _, err := FromFloat(math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("NaN: %v", err)
	}
	if _, err := FromFloat(math.Inf(-1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("-inf: %v", err)
	}
}

// TestToFloatOverflow 测试舍入到无穷大的整数报溢出
func TestToFloatOverflow(t *testing.T) {
	limit := pow2(1024).Sub(pow2(970))
	if _, err := limit.ToFloat(); !errors.Is(err, ErrOverflow) {
		t.Errorf("2**1024 - 2**970 should overflow: %v", err)
	}
	below := limit.Sub(FromInt(1))
	if f, err := below.ToFloat(); err != nil || f != math.MaxFloat64 {
		t.Errorf("just below the limit: %g, %v", f, err)
	}
	if _, err := limit.Neg().ToFloat(); !errors.Is(err, ErrOverflow) {
		t.Error("negative limit should overflow too")
	}
}

// TestTruediv 测试真除法正确舍入
func TestTruediv(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"1", "3", 1.0 / 3.0},
		{"-7", "2", -3.5},
		{"0", "5", 0},
		{"10000000000000000000000000000000000001", "10000000000000000000000000000000000000", 1.0},
		{"9007199254740993", "1", 9007199254740992},
		{"9007199254740995", "1", 9007199254740996},
	}
	for _, tt := range tests {
		got, err := mustString(t, tt.a).Truediv(mustString(t, tt.b))
		if err != nil || got != tt.want {
			t.Errorf("%s / %s = %v, %v, want %v", tt.a, tt.b, got, err, tt.want)
		}
	}
	if _, err := FromInt(1).Truediv(FromInt(0)); !errors.Is(err, ErrZeroDivision) {
		t.Errorf("division by zero: %v", err)
	}
	huge := pow2(1024).Sub(pow2(970))
	if _, err := huge.Truediv(FromInt(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("overflowing quotient: %v", err)
	}
	if f, err := huge.Mul(FromInt(3)).Truediv(FromInt(3)); !errors.Is(err, ErrOverflow) {
		t.Errorf("quotient at the rounding boundary should overflow, got %g", f)
	}
	// 比上限大一点的商会舍入回上限，仍然算溢出
	limit := pow2(1024).Sub(pow2(971))
	if f, err := limit.Add(FromInt(1)).Truediv(FromInt(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("quotient just above the limit = %g, %v", f, err)
	}
	if f, err := limit.Truediv(FromInt(1)); err != nil || f != math.MaxFloat64 {
		t.Errorf("limit = %g, %v", f, err)
	}
	if f, err := huge.Truediv(FromInt(2)); err != nil || f != math.Ldexp(1, 1023) {
		t.Errorf("halved limit = %g, %v", f, err)
	}
}

// ============================================================================
// 字节串
// ============================================================================

// TestBytesRoundTrip 测试两种字节序与符号下的往返
func TestBytesRoundTrip(t *testing.T) {
	values := []*Bigint{FromInt(0), FromInt(1), FromInt(-1), FromInt(127), FromInt(-128), FromInt(255), FromInt(-32768), FromInt(1 << 40), mustString(t, "-123456789012345678901234567890")}
	for _, n := range values {
		for _, order := range []ByteOrder{BigEndian, LittleEndian} {
			for _, signed := range []bool{true, false} {
				for _, w := range []int{1, 2, 8, 16} {
					data, err := n.ToBytes(w, order, signed)
					if err != nil {
						continue
					}
					back, err := FromBytes(data, order, signed)
					if err != nil {
						t.Fatal(err)
					}
					if !back.Eq(n) {
						t.Errorf("%s width %d %s signed=%v: got %s", n, w, order, signed, back)
					}
				}
			}
		}
	}
}

// TestToBytes 测试编码结果与错误
func TestToBytes(t *testing.T) {
	tests := []struct {
		n      int64
		width  int
		order  ByteOrder
		signed bool
		want   []byte
		err    error
	}{
		{1, 2, BigEndian, false, []byte{0, 1}, nil},
		{1, 2, LittleEndian, false, []byte{1, 0}, nil},
		{-2, 2, BigEndian, true, []byte{0xff, 0xfe}, nil},
		{0, 0, BigEndian, true, []byte{}, nil},
		{128, 1, BigEndian, true, nil, ErrOverflow},
		{-129, 1, BigEndian, true, nil, ErrOverflow},
		{256, 1, BigEndian, false, nil, ErrOverflow},
		{-1, 4, BigEndian, false, nil, ErrInvalidSignedness},
		{1, 4, ByteOrder("middle"), false, nil, ErrInvalidEndianness},
	}
	for _, tt := range tests {
		got, err := FromInt(tt.n).ToBytes(tt.width, tt.order, tt.signed)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("ToBytes(%d, %d) error = %v, want %v", tt.n, tt.width, err, tt.err)
			}
			continue
		}
		if err != nil || !bytes.Equal(got, tt.want) {
			t.Errorf("ToBytes(%d, %d, %s) = %x, %v, want %x", tt.n, tt.width, tt.order, got, err, tt.want)
		}
	}
}

// TestFromBytes 测试解码
func TestFromBytes(t *testing.T) {
	tests := []struct {
		data   []byte
		order  ByteOrder
		signed bool
		want   int64
	}{
		{[]byte{0x82}, BigEndian, true, -126},
		{[]byte{0x82}, BigEndian, false, 130},
		{[]byte{}, BigEndian, true, 0},
		{[]byte{0x00, 0x80}, LittleEndian, true, -32768},
		{[]byte{0x01, 0x02}, LittleEndian, false, 0x0201},
	}
	for _, tt := range tests {
		got, err := FromBytes(tt.data, tt.order, tt.signed)
		if err != nil || !got.IntEq(tt.want) {
			t.Errorf("FromBytes(%x, %s, %v) = %v, %v, want %d", tt.data, tt.order, tt.signed, got, err, tt.want)
		}
	}
	if _, err := FromBytes([]byte{1}, "sideways", false); !errors.Is(err, ErrInvalidEndianness) {
		t.Errorf("bad order: %v", err)
	}
}

// ============================================================================
// 算术
// ============================================================================

// TestFloorDivision 测试向下取整的除法与取模
func TestFloorDivision(t *testing.T) {
	tests := []struct {
		a, b, q, r int64
	}{
		{7, 2, 3, 1},
		{-7, 2, -4, 1},
		{7, -2, -4, -1},
		{-7, -2, 3, -1},
		{6, 3, 2, 0},
	}
	for _, tt := range tests {
		q, r, err := FromInt(tt.a).DivMod(FromInt(tt.b))
		if err != nil || !q.IntEq(tt.q) || !r.IntEq(tt.r) {
			t.Errorf("divmod(%d, %d) = %v, %v, %v", tt.a, tt.b, q, r, err)
		}
	}
	if _, err := FromInt(1).Mod(FromInt(0)); !errors.Is(err, ErrZeroDivision) {
		t.Errorf("mod by zero: %v", err)
	}
}

// TestPow 测试幂与模幂
func TestPow(t *testing.T) {
	got, err := FromInt(3).Pow(FromInt(100), nil)
	if err != nil || got.String() != "515377520732011331036461129765621272702107522001" {
		t.Errorf("3**100 = %v, %v", got, err)
	}
	tests := []struct {
		b, e, m, want int64
	}{
		{3, 4, 5, 1},
		{-3, 3, 7, 1},
		{2, 10, -7, -5},
		{0, 0, 5, 1},
		{5, 3, 1, 0},
		{10, 5, 10, 0},
	}
	for _, tt := range tests {
		got, err := FromInt(tt.b).Pow(FromInt(tt.e), FromInt(tt.m))
		if err != nil || !got.IntEq(tt.want) {
			t.Errorf("pow(%d, %d, %d) = %v, %v, want %d", tt.b, tt.e, tt.m, got, err, tt.want)
		}
	}
	if _, err := FromInt(2).Pow(FromInt(-1), nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("negative exponent: %v", err)
	}
	if _, err := FromInt(2).Pow(FromInt(3), FromInt(0)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("zero modulus: %v", err)
	}
}

// TestBitOps 测试补码语义的位运算
func TestBitOps(t *testing.T) {
	a, b := FromInt(-12), FromInt(10)
	if !a.And(b).IntEq(-12&10) || !a.Or(b).IntEq(-12|10) || !a.Xor(b).IntEq(-12^10) {
		t.Error("bitwise ops should follow two's complement")
	}
	if !a.Invert().IntEq(11) {
		t.Errorf("~-12 = %s", a.Invert())
	}
	if r, _ := FromInt(-9).Rshift(1); !r.IntEq(-5) {
		t.Errorf("-9 >> 1 = %s", r)
	}
	if l, _ := FromInt(1).Lshift(100); l.BitLength() != 101 {
		t.Errorf("1 << 100 has %d bits", l.BitLength())
	}
	if _, err := FromInt(1).Lshift(-1); err == nil {
		t.Error("negative shift should fail")
	}
}

// TestParseAndFormat 测试字面量解析与格式化
func TestParseAndFormat(t *testing.T) {
	n := mustString(t, "-0xDEADBEEFCAFEBABE1234")
	if got := n.Hex(); got != "-0xdeadbeefcafebabe1234" {
		t.Errorf("Hex = %s", got)
	}
	if got := FromInt(8).Oct(); got != "010" {
		t.Errorf("Oct(8) = %s", got)
	}
	if got := FromInt(-5).Format(2, "0b", "L"); got != "-0b101L" {
		t.Errorf("Format = %s", got)
	}
	if _, err := FromString("12z", 10); err == nil {
		t.Error("12z is not a decimal literal")
	}
	d, err := FromDecimal("  123456789012345678901234567890 ")
	if err != nil || d.String() != "123456789012345678901234567890" {
		t.Errorf("FromDecimal = %v, %v", d, err)
	}
	if FromInt(7).Hash() != 7 || FromBool(true).Compare(FromBool(false)) != 1 {
		t.Error("hash and compare")
	}
}
