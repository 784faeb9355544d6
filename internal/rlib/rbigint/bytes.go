// bytes.go - 整数与字节串互转
package rbigint

import (
	"fmt"
	"math/big"
)

// ByteOrder 字节序名称："big" 或 "little"
type ByteOrder string

const (
	BigEndian    ByteOrder = "big"
	LittleEndian ByteOrder = "little"
)

func (o ByteOrder) valid() bool { return o == BigEndian || o == LittleEndian }

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// ToBytes 编码为 nbytes 字节；signed 时负数用补码
func (b *Bigint) ToBytes(nbytes int, order ByteOrder, signed bool) ([]byte, error) {
	if !order.valid() {
		return nil, ErrInvalidEndianness
	}
	if nbytes < 0 {
		return nil, fmt.Errorf("length argument must be non-negative: %w", ErrInvalidValue)
	}
	if b.v.Sign() < 0 && !signed {
		return nil, ErrInvalidSignedness
	}
	span := new(big.Int).Lsh(bigOne, uint(8*nbytes))
	v := new(big.Int).Set(&b.v)
	if signed {
		// 零字节只能表示 0
		half := new(big.Int).Rsh(span, 1)
		if v.Sign() != 0 && (v.Cmp(half) >= 0 || v.Cmp(new(big.Int).Neg(half)) < 0) {
			return nil, fmt.Errorf("int too big to convert: %w", ErrOverflow)
		}
		if v.Sign() < 0 {
			v.Add(v, span)
		}
	} else if v.Cmp(span) >= 0 {
		return nil, fmt.Errorf("int too big to convert: %w", ErrOverflow)
	}
	out := make([]byte, nbytes)
	v.FillBytes(out)
	if order == LittleEndian {
		reverse(out)
	}
	return out, nil
}

// FromBytes 解码字节串；空串为 0
func FromBytes(data []byte, order ByteOrder, signed bool) (*Bigint, error) {
	if !order.valid() {
		return nil, ErrInvalidEndianness
	}
	buf := append([]byte(nil), data...)
	if order == LittleEndian {
		reverse(buf)
	}
	r := &Bigint{}
	r.v.SetBytes(buf)
	if signed && len(buf) > 0 && buf[0]&0x80 != 0 {
		r.v.Sub(&r.v, new(big.Int).Lsh(bigOne, uint(8*len(buf))))
	}
	return r, nil
}
