// memmgr.go - 编译单元的存活管理
package compile

import (
	"sync"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// MemoryManager 按代记录循环最近一次被使用的时间。
// 连续 maxAge 代未被使用的循环被释放，失效的循环在下一代释放。
type MemoryManager struct {
	mu         sync.Mutex
	maxAge     int64
	generation int64
	alive      map[*history.JitCellToken]int64

	// OnFree 循环被释放时调用
	OnFree func(token *history.JitCellToken)
}

// NewMemoryManager maxAge <= 0 表示永不按年龄释放
func NewMemoryManager(maxAge int) *MemoryManager {
	return &MemoryManager{maxAge: int64(maxAge), alive: make(map[*history.JitCellToken]int64)}
}

// KeepLoopAlive 标记循环在当前代被使用
func (m *MemoryManager) KeepLoopAlive(token *history.JitCellToken) {
	m.mu.Lock()
	m.alive[token] = m.generation
	m.mu.Unlock()
}

// Alive 当前登记的循环数
func (m *MemoryManager) Alive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alive)
}

// Generation 当前代号
func (m *MemoryManager) Generation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// NextGeneration 进入下一代并释放过期的循环，返回释放的个数
func (m *MemoryManager) NextGeneration() int {
	m.mu.Lock()
	m.generation++
	var freed []*history.JitCellToken
	for token, gen := range m.alive {
		expired := m.maxAge > 0 && m.generation-gen > m.maxAge
		if expired || token.Invalidated {
			freed = append(freed, token)
			delete(m.alive, token)
		}
	}
	onFree := m.OnFree
	m.mu.Unlock()

	if onFree != nil {
		for _, token := range freed {
			onFree(token)
		}
	}
	return len(freed)
}
