// stats.go - 编译统计
package compile

import (
	"sync"

	"github.com/segmentio/encoding/json"
)

// UnitInfo 一个编译单元的摘要
type UnitInfo struct {
	Number     int64  `json:"number"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Operations int    `json:"operations"`
	Guards     int    `json:"guards"`
	CodeSize   int    `json:"code_size"`
}

// Stats 编译器的累计统计，可以并发读取
type Stats struct {
	mu sync.Mutex

	Units   []UnitInfo `json:"units"`
	Loops   int        `json:"loops"`
	Bridges int        `json:"bridges"`
	Aborted int        `json:"aborted"`
	Freed   int        `json:"freed"`
}

func (s *Stats) addUnit(info UnitInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units = append(s.Units, info)
	if info.Kind == "bridge" {
		s.Bridges++
	} else {
		s.Loops++
	}
}

func (s *Stats) addAborted() {
	s.mu.Lock()
	s.Aborted++
	s.mu.Unlock()
}

func (s *Stats) addFreed(n int) {
	s.mu.Lock()
	s.Freed += n
	s.mu.Unlock()
}

// Snapshot 复制当前计数
func (s *Stats) Snapshot() (loops, bridges, aborted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Loops, s.Bridges, s.Aborted
}

// Report JSON 格式的统计报告
func (s *Stats) Report() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s, "", "  ")
}
