package compile

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// TestJitCounterTick 测试达到阈值时返回 true 并清零
func TestJitCounterTick(t *testing.T) {
	c := NewJitCounter(16, 40)
	hash := c.FetchNextHash()
	for i := 1; i < 4; i++ {
		if c.Tick(hash, 4) {
			t.Fatalf("tick %d fired early", i)
		}
	}
	if !c.Tick(hash, 4) {
		t.Fatal("fourth tick should fire")
	}
	if c.Lookup(hash) != 0 {
		t.Errorf("counter not reset: %d", c.Lookup(hash))
	}
}

// TestJitCounterHashes 测试连续分配的哈希落在不同表项
func TestJitCounterHashes(t *testing.T) {
	c := NewJitCounter(8, 0)
	seen := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		idx := c.index(c.FetchNextHash())
		if seen[idx] {
			t.Fatalf("index %d reused", idx)
		}
		seen[idx] = true
	}
	if HashGreenKey("a") == HashGreenKey("b") {
		t.Error("green keys collide")
	}
	if HashValue(1, 8) == HashValue(1, 9) {
		t.Error("values collide")
	}
}

// TestJitCounterDecay 测试衰减
func TestJitCounterDecay(t *testing.T) {
	c := NewJitCounter(4, 40)
	hash := c.FetchNextHash()
	for i := 0; i < 10; i++ {
		c.Tick(hash, 100)
	}
	c.DecayAllCounters()
	if got := c.Lookup(hash); got != 6 {
		t.Errorf("decayed to %d, want 6", got)
	}
	c.Reset(hash)
	if c.Lookup(hash) != 0 {
		t.Error("reset failed")
	}
}

// TestMemoryManager 测试过期与失效循环的释放
func TestMemoryManager(t *testing.T) {
	m := NewMemoryManager(2)
	var freed []*history.JitCellToken
	m.OnFree = func(tok *history.JitCellToken) { freed = append(freed, tok) }

	old := &history.JitCellToken{Number: 1}
	used := &history.JitCellToken{Number: 2}
	bad := &history.JitCellToken{Number: 3}
	m.KeepLoopAlive(old)
	m.KeepLoopAlive(used)
	m.KeepLoopAlive(bad)
	bad.Invalidated = true

	if n := m.NextGeneration(); n != 1 || freed[0] != bad {
		t.Fatalf("generation 1 freed %d", n)
	}
	m.NextGeneration()
	m.KeepLoopAlive(used)
	if n := m.NextGeneration(); n != 1 || freed[1] != old {
		t.Fatalf("generation 3 freed %d", n)
	}
	if m.Alive() != 1 || m.Generation() != 3 {
		t.Errorf("alive = %d, generation = %d", m.Alive(), m.Generation())
	}
}
