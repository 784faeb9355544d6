// stats.go - 翻译统计与 JSON 报告

package translator

import (
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/tangzhangming/solatrans/internal/annotator"
	"github.com/tangzhangming/solatrans/internal/cmodel"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/jit/compile"
)

// PhaseTiming 单个阶段的耗时
type PhaseTiming struct {
	Name   string  `json:"name"`
	Millis float64 `json:"millis"`
}

// Stats 翻译统计
type Stats struct {
	GCPolicy   string        `json:"gc_policy"`
	Entries    int           `json:"entries"`
	Graphs     int           `json:"graphs"`
	Blocks     int           `json:"blocks"`
	Operations int           `json:"operations"`
	Steps      int           `json:"annotator_steps"`
	Helpers    int           `json:"helpers"`
	Types      int           `json:"types"`
	Containers int           `json:"containers"`
	Functions  int           `json:"functions"`
	Phases     []PhaseTiming `json:"phases"`
}

func (s *Stats) addPhase(name string, d time.Duration) {
	s.Phases = append(s.Phases, PhaseTiming{Name: name, Millis: float64(d.Microseconds()) / 1000})
}

func (s *Stats) collectGraphs(a *annotator.Annotator) {
	graphs := a.Graphs()
	s.Graphs = len(graphs)
	s.Steps = a.Steps()
	s.Blocks, s.Operations = 0, 0
	for _, g := range graphs {
		g.IterBlocks(func(b *flowmodel.Block) bool {
			s.Blocks++
			s.Operations += len(b.Operations)
			return true
		})
	}
}

func (s *Stats) collectDatabase(db *cmodel.Database) {
	s.Types = len(db.DefNodes())
	s.Containers = len(db.ContainerNodes())
	s.Functions = len(db.FuncNodes())
}

// report 翻译统计与可选的 JIT 统计
type report struct {
	Translation *Stats         `json:"translation"`
	JIT         *compile.Stats `json:"jit,omitempty"`
}

// Report 生成 JSON 报告；jit 为 nil 时省略 JIT 部分
func (t *TranslationContext) Report(jit *JIT) ([]byte, error) {
	r := report{Translation: t.stats}
	if jit != nil {
		r.JIT = jit.Compiler.Stats
	}
	return json.MarshalIndent(r, "", "  ")
}
