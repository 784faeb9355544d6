// jitcounter.go - 循环与守卫共享的热度计数表
//
// 表项按哈希的高位索引。循环入口用绿色键的哈希，守卫用 FetchNextHash
// 分到的哈希，GUARD_VALUE 守卫再把失败值混进去，每个值一个计数器。

package compile

import (
	"encoding/binary"
	"math/bits"

	"go.uber.org/atomic"
	"golang.org/x/crypto/blake2b"
)

// JitCounter 固定大小的计数表，Tick 可以在多个线程上同时调用
type JitCounter struct {
	cells    []atomic.Uint32
	shift    uint
	decay    uint32 // 每次衰减保留的百分比
	nextHash atomic.Uint32
}

// NewJitCounter size 必须是 2 的幂；decay 为每次衰减掉的百分比
func NewJitCounter(size, decay int) *JitCounter {
	if size <= 0 || size&(size-1) != 0 {
		panic("jit counter size must be a power of two")
	}
	return &JitCounter{
		cells: make([]atomic.Uint32, size),
		shift: uint(32 - bits.TrailingZeros(uint(size))),
		decay: uint32(100 - decay),
	}
}

// Size 表项个数
func (c *JitCounter) Size() int { return len(c.cells) }

func (c *JitCounter) index(hash uint32) uint32 {
	if c.shift >= 32 {
		return 0
	}
	return hash >> c.shift
}

// FetchNextHash 为新守卫分配哈希，连续调用落在相邻的表项上
func (c *JitCounter) FetchNextHash() uint32 {
	step := uint32(1)
	if c.shift < 32 {
		step = 1 << c.shift
	}
	return c.nextHash.Add(step) - step
}

// Tick 计数加一；达到 threshold 时清零并返回 true，只有一个调用者会得到 true
func (c *JitCounter) Tick(hash uint32, threshold int) bool {
	cell := &c.cells[c.index(hash)]
	for {
		n := cell.Load()
		if int(n)+1 >= threshold {
			if cell.CAS(n, 0) {
				return true
			}
			continue
		}
		if cell.CAS(n, n+1) {
			return false
		}
	}
}

// Lookup 当前计数
func (c *JitCounter) Lookup(hash uint32) uint32 { return c.cells[c.index(hash)].Load() }

// Reset 清零一个表项
func (c *JitCounter) Reset(hash uint32) { c.cells[c.index(hash)].Store(0) }

// DecayAllCounters 所有计数按比例衰减，不再热的代码逐渐冷下来
func (c *JitCounter) DecayAllCounters() {
	for i := range c.cells {
		cell := &c.cells[i]
		for {
			n := cell.Load()
			if cell.CAS(n, uint32(uint64(n)*uint64(c.decay)/100)) {
				break
			}
		}
	}
}

// HashGreenKey 绿色键的哈希
func HashGreenKey(key string) uint32 {
	sum := blake2b.Sum256([]byte(key))
	return binary.LittleEndian.Uint32(sum[:4])
}

// HashValue 把守卫的哈希与失败值混合
func HashValue(base uint32, value uint64) uint32 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[:4], base)
	binary.LittleEndian.PutUint64(buf[4:], value)
	sum := blake2b.Sum256(buf[:])
	return binary.LittleEndian.Uint32(sum[:4])
}
