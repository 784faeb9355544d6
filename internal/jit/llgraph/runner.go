// Package llgraph 内存中的参考后端
//
// 编译时不生成机器码：操作经过常量指针改写与寄存器分配，得到代码大小与
// 帧深度，然后原样保存。执行时逐条解释，守卫失败留下死帧；
// 守卫上接了桥时直接转入桥继续执行。
package llgraph

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/gcmap"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/logger"
)

// compiledUnit 一个循环或桥
type compiledUnit struct {
	name       string
	inputargs  []*history.Box
	ops        []*history.ResOp
	token      *history.JitCellToken
	gcrefs     []history.HeapObj
	frameDepth int
}

type labelPos struct {
	unit  *compiledUnit
	index int
}

// CPU 实现 compile.Backend
type CPU struct {
	log    *zap.Logger
	regs   config.RegAllocConfig
	policy gcmap.Policy

	mu      sync.Mutex
	loops   map[*history.JitCellToken]*compiledUnit
	bridges map[history.Descr]*compiledUnit
	labels  map[*history.TargetToken]labelPos
}

var _ compile.Backend = (*CPU)(nil)

// NewCPU 创建后端；policy 为 nil 时所有常量对象都视为不可移动
func NewCPU(regs config.RegAllocConfig, policy gcmap.Policy, log *zap.Logger) *CPU {
	if regs.Registers <= 0 {
		regs = config.Default().RegAlloc
	}
	if policy == nil {
		policy = gcmap.NewGenerationalPolicy(0)
	}
	return &CPU{
		log:     logger.Named(log, "llgraph"),
		regs:    regs,
		policy:  policy,
		loops:   make(map[*history.JitCellToken]*compiledUnit),
		bridges: make(map[history.Descr]*compiledUnit),
		labels:  make(map[*history.TargetToken]labelPos),
	}
}

// ============================================================================
// 编译
// ============================================================================

func (cpu *CPU) CompileLoop(inputargs []*history.Box, ops []*history.ResOp, token *history.JitCellToken) (*compile.AsmInfo, error) {
	unit, info, err := cpu.assembleUnit(fmt.Sprintf("loop %d", token.Number), inputargs, ops)
	if err != nil {
		return nil, err
	}
	unit.token = token

	cpu.mu.Lock()
	cpu.loops[token] = unit
	cpu.registerLabels(unit)
	cpu.mu.Unlock()
	token.Compiled = unit
	return info, nil
}

func (cpu *CPU) CompileBridge(faildescr history.FailDescr, inputargs []*history.Box, ops []*history.ResOp,
	original *history.JitCellToken) (*compile.AsmInfo, error) {
	unit, info, err := cpu.assembleUnit("bridge from "+faildescr.DescrString(), inputargs, ops)
	if err != nil {
		return nil, err
	}
	unit.token = original

	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	if _, ok := cpu.bridges[faildescr]; ok {
		return nil, fmt.Errorf("llgraph: %s already has a bridge", faildescr.DescrString())
	}
	cpu.bridges[faildescr] = unit
	cpu.registerLabels(unit)
	return info, nil
}

func (cpu *CPU) assembleUnit(name string, inputargs []*history.Box, ops []*history.ResOp) (*compiledUnit, *compile.AsmInfo, error) {
	res := gcmap.RecordConstptrs(ops, cpu.policy)
	info, depth, err := cpu.assemble(inputargs, res.Operations)
	if err != nil {
		return nil, nil, fmt.Errorf("llgraph: %s: %w", name, err)
	}
	cpu.log.Debug("assembled",
		zap.String("unit", name),
		zap.Int("operations", len(res.Operations)),
		zap.Int("gcrefs", len(res.GCRefs)),
		zap.Int("frame_depth", depth))
	return &compiledUnit{
		name:       name,
		inputargs:  inputargs,
		ops:        res.Operations,
		gcrefs:     res.GCRefs,
		frameDepth: depth,
	}, info, nil
}

func (cpu *CPU) registerLabels(unit *compiledUnit) {
	for i, op := range unit.ops {
		if t, ok := op.Descr.(*history.TargetToken); ok && op.Opnum == history.LABEL {
			cpu.labels[t] = labelPos{unit: unit, index: i}
		}
	}
}

// FreeLoop 丢弃循环及其标签
func (cpu *CPU) FreeLoop(token *history.JitCellToken) {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	unit, ok := cpu.loops[token]
	if !ok {
		return
	}
	delete(cpu.loops, token)
	for t, pos := range cpu.labels {
		if pos.unit == unit {
			delete(cpu.labels, t)
		}
	}
}

// GCRefs 循环及其桥的常量 GC 引用表
func (cpu *CPU) GCRefs(token *history.JitCellToken) []history.HeapObj {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	var out []history.HeapObj
	if unit, ok := cpu.loops[token]; ok {
		out = append(out, unit.gcrefs...)
	}
	for _, unit := range cpu.bridges {
		if unit.token == token {
			out = append(out, unit.gcrefs...)
		}
	}
	return out
}

// FrameDepth 循环需要的栈帧槽位数
func (cpu *CPU) FrameDepth(token *history.JitCellToken) int {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	if unit, ok := cpu.loops[token]; ok {
		return unit.frameDepth
	}
	return 0
}

// Operations 保存的操作，测试用
func (cpu *CPU) Operations(token *history.JitCellToken) []*history.ResOp {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	if unit, ok := cpu.loops[token]; ok {
		return unit.ops
	}
	return nil
}

// ============================================================================
// 死帧
// ============================================================================

func frameOf(f compile.DeadFrame) *Frame { return f.(*Frame) }

func (cpu *CPU) GetIntValue(f compile.DeadFrame, i int) int64 {
	v := frameOf(f).Values[i]
	if n, ok := history.IntValue(v); ok {
		return n
	}
	return 0
}

func (cpu *CPU) GetRefValue(f compile.DeadFrame, i int) history.HeapObj {
	if c, ok := frameOf(f).Values[i].(history.ConstPtr); ok {
		return c.Value
	}
	return nil
}

func (cpu *CPU) GetFloatValue(f compile.DeadFrame, i int) float64 {
	if c, ok := frameOf(f).Values[i].(history.ConstFloat); ok {
		return c.Value
	}
	return 0
}

func (cpu *CPU) GetLatestDescr(f compile.DeadFrame) history.Descr { return frameOf(f).Descr }

// Force 把仍在残余调用中的帧标记为已强制；
// 调用返回后紧随的 GUARD_NOT_FORCED 失败
func (cpu *CPU) Force(token history.HeapObj) compile.DeadFrame {
	ft, ok := token.(*ForceToken)
	if !ok || ft.frame == nil {
		return nil
	}
	f := ft.frame
	f.forced = true
	if g := f.pendingGuard; g != nil {
		f.Descr = g.Descr
		f.Values = f.resolveAll(g.FailArgs)
	}
	return f
}

func (cpu *CPU) SetSavedataRef(f compile.DeadFrame, ref history.HeapObj) { frameOf(f).savedata = ref }
func (cpu *CPU) GetSavedataRef(f compile.DeadFrame) history.HeapObj      { return frameOf(f).savedata }
func (cpu *CPU) GrabExcValue(f compile.DeadFrame) history.HeapObj {
	fr := frameOf(f)
	exc := fr.exc
	fr.exc = nil
	return exc
}
