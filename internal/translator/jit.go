// jit.go - JIT 试运行：编译器接 llgraph 后端

package translator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/gcmap"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/llgraph"
	"github.com/tangzhangming/solatrans/internal/logger"
)

// JIT 在内存后端上编译并执行 trace，不生成机器码
type JIT struct {
	Compiler *compile.Compiler
	CPU      *llgraph.CPU
	Policy   *gcmap.GenerationalPolicy

	log *zap.Logger
}

// NewJIT 按上下文配置创建 JIT 会话
func (t *TranslationContext) NewJIT() *JIT {
	log := logger.Named(t.log, "jit")
	policy := gcmap.NewGenerationalPolicy(0)
	cpu := llgraph.NewCPU(t.Config.RegAlloc, policy, log)
	return &JIT{
		Compiler: compile.NewCompiler(t.Config.JIT, log, cpu),
		CPU:      cpu,
		Policy:   policy,
		log:      log,
	}
}

// Run 执行 greenkey 对应的已编译循环并处理退出；
// 守卫足够热时 tracer 用来记录桥。每次运行推进一代。
func (j *JIT) Run(greenkey string, args []history.Value, tracer compile.Tracer) (*compile.Exit, error) {
	token, ok := j.Compiler.Entry(greenkey)
	if !ok {
		return nil, fmt.Errorf("jit: no compiled loop for %q", greenkey)
	}
	j.Compiler.MemMgr.KeepLoopAlive(token)
	defer j.Compiler.NextGeneration()

	frame, err := j.CPU.Execute(token, args...)
	if err != nil {
		return nil, err
	}
	exit, err := j.Compiler.HandleExit(frame, tracer)
	if err != nil {
		return nil, err
	}
	j.log.Debug("loop exited",
		zap.String("greenkey", greenkey),
		zap.Int64("loop", token.Number),
		zap.String("descr", exit.Descr.DescrString()),
		zap.Bool("bridge", exit.Bridge != nil))
	return exit, nil
}
