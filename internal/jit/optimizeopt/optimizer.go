// Package optimizeopt trace 优化器
//
// 优化由一串 Optimization 组成，每个操作按 trace 顺序依次流过：
//
//	intbounds -> rewrite -> virtualize -> string -> earlyforce -> pure -> heap -> simplify -> 输出
//
// 每个优化可以吞掉、改写或继续传递操作。所有优化通过 Optimizer 共享每个值的
// OptValue；虚拟对象在作为参数到达输出端时才被分配。
package optimizeopt

import (
	"slices"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// ============================================================================
// 优化接口
// ============================================================================

// Optimization 优化链中的一环
type Optimization interface {
	PropagateForward(op *history.ResOp) error
	// Flush trace 结束前输出所有延迟的操作
	Flush() error
	link(opt *Optimizer, next Optimization)
}

// removed 标记上一个操作被整个删除
var removed = &history.ResOp{}

// optBase 各个优化的公共部分
type optBase struct {
	opt         *Optimizer
	next        Optimization
	lastEmitted *history.ResOp
}

func (o *optBase) link(opt *Optimizer, next Optimization) {
	o.opt = opt
	o.next = next
}

func (o *optBase) Flush() error { return nil }

func (o *optBase) emit(op *history.ResOp) error {
	o.lastEmitted = op
	return o.next.PropagateForward(op)
}

func (o *optBase) getValue(v history.Value) *OptValue { return o.opt.getValue(v) }

func (o *optBase) makeEqualTo(box *history.Box, v *OptValue) { o.opt.makeEqualTo(box, v) }

func (o *optBase) makeConstant(box *history.Box, c history.Value) { o.opt.makeConstant(box, c) }

func (o *optBase) makeConstantInt(box *history.Box, n int64) {
	o.opt.makeConstant(box, history.ConstInt{Value: n})
}

func (o *optBase) force(v *OptValue) (history.Value, error) { return v.ForceBox(o.opt, o.emit) }

// ============================================================================
// 优化器
// ============================================================================

// ResumeHolder 能保存恢复数据的守卫描述符
type ResumeHolder interface {
	StoreResumeData(data *resume.Data)
}

// Optimizer 一次 trace 优化的共享状态
type Optimizer struct {
	cfg      config.JITConfig
	log      *zap.Logger
	callinfo *CallInfoCollection

	values    map[history.Value]*OptValue
	producer  map[*history.Box]*history.ResOp
	boolBoxes map[*OptValue]bool

	first  Optimization
	passes []Optimization
	pure   *OptPure
	heap   *OptHeap

	newOperations []*history.ResOp
	pendingFields []resume.PendingField
	resumeData    map[*history.ResOp]*resume.Data

	// QuasiImmutableDeps 结果依赖的准不可变字段
	QuasiImmutableDeps map[*history.QuasiImmut]struct{}
}

// 优化名称，按链中顺序排列
const (
	OptIntBounds   = "intbounds"
	OptRewriteName = "rewrite"
	OptVirtualize  = "virtualize"
	OptString      = "string"
	OptEarlyForce  = "earlyforce"
	OptPureName    = "pure"
	OptHeapName    = "heap"
)

// AllOpts 默认启用的全部优化
var AllOpts = []string{OptIntBounds, OptRewriteName, OptVirtualize, OptString, OptEarlyForce, OptPureName, OptHeapName}

// New 按 cfg.Enable 建立优化链；未列出的优化被跳过，simplify 总在最后
func New(cfg config.JITConfig, log *zap.Logger, callinfo *CallInfoCollection) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	if callinfo == nil {
		callinfo = DefaultCallInfo()
	}
	defaults := config.Default().JIT
	if cfg.MaxConstLen == 0 {
		cfg.MaxConstLen = defaults.MaxConstLen
	}
	if cfg.UnrollConst == 0 {
		cfg.UnrollConst = defaults.UnrollConst
	}
	if cfg.UnrollVar == 0 {
		cfg.UnrollVar = defaults.UnrollVar
	}
	opt := &Optimizer{
		cfg:                cfg,
		log:                log,
		callinfo:           callinfo,
		values:             make(map[history.Value]*OptValue),
		producer:           make(map[*history.Box]*history.ResOp),
		boolBoxes:          make(map[*OptValue]bool),
		resumeData:         make(map[*history.ResOp]*resume.Data),
		QuasiImmutableDeps: make(map[*history.QuasiImmut]struct{}),
	}
	enabled := cfg.Enable
	if len(enabled) == 0 {
		enabled = AllOpts
	}
	for _, name := range AllOpts {
		if !slices.Contains(enabled, name) {
			continue
		}
		switch name {
		case OptIntBounds:
			opt.passes = append(opt.passes, &OptIntBoundsPass{})
		case OptRewriteName:
			opt.passes = append(opt.passes, newOptRewrite())
		case OptVirtualize:
			opt.passes = append(opt.passes, &OptVirtualizePass{})
		case OptString:
			opt.passes = append(opt.passes, &OptStringPass{})
		case OptEarlyForce:
			opt.passes = append(opt.passes, &OptEarlyForcePass{})
		case OptPureName:
			opt.pure = newOptPure()
			opt.passes = append(opt.passes, opt.pure)
		case OptHeapName:
			opt.heap = newOptHeap()
			opt.passes = append(opt.passes, opt.heap)
		}
	}
	opt.passes = append(opt.passes, &OptSimplify{})

	var next Optimization = &finalStage{opt: opt}
	for i := len(opt.passes) - 1; i >= 0; i-- {
		opt.passes[i].link(opt, next)
		next = opt.passes[i]
	}
	opt.first = next
	return opt
}

// Propagate 依次优化每个操作，结束时刷新延迟的操作
func (opt *Optimizer) Propagate(ops []*history.ResOp) ([]*history.ResOp, error) {
	for _, op := range ops {
		if err := opt.sendExtraOperation(op.Copy()); err != nil {
			return nil, err
		}
	}
	if err := opt.Flush(); err != nil {
		return nil, err
	}
	return opt.newOperations, nil
}

// Flush 让每个优化输出延迟的操作
func (opt *Optimizer) Flush() error {
	for _, p := range opt.passes {
		if err := p.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Operations 目前为止输出的操作
func (opt *Optimizer) Operations() []*history.ResOp { return opt.newOperations }

// ResumeData 守卫的恢复数据
func (opt *Optimizer) ResumeData(guard *history.ResOp) *resume.Data { return opt.resumeData[guard] }

// sendExtraOperation 从链首重新发送一个操作
func (opt *Optimizer) sendExtraOperation(op *history.ResOp) error {
	if op.Result != nil {
		opt.producer[op.Result] = op
	}
	return opt.first.PropagateForward(op)
}

// ============================================================================
// 值表
// ============================================================================

func (opt *Optimizer) getValue(v history.Value) *OptValue {
	if val, ok := opt.values[v]; ok {
		return val
	}
	val := newOptValue(v)
	opt.values[v] = val
	return val
}

// Value 公开的值查询
func (opt *Optimizer) Value(v history.Value) *OptValue { return opt.getValue(v) }

func (opt *Optimizer) makeEqualTo(box *history.Box, v *OptValue) {
	if box == nil {
		return
	}
	opt.values[box] = v
}

func (opt *Optimizer) makeConstant(box *history.Box, c history.Value) {
	if box == nil {
		return
	}
	if val, ok := opt.values[box]; ok && !val.IsConstant() && !val.IsVirtual() {
		val.MakeConstant(c)
		return
	}
	opt.values[box] = opt.getValue(c)
}

// replacement 当前可用的表示，虚拟对象返回 nil
func (opt *Optimizer) replacement(v history.Value) history.Value {
	if val, ok := opt.values[v]; ok {
		return val.box
	}
	return v
}

// Resolve 恢复数据用的解析：虚拟对象返回形状
func (opt *Optimizer) Resolve(v history.Value) (history.Value, *resume.Shape) {
	val, ok := opt.values[v]
	if !ok {
		return v, nil
	}
	if val.IsVirtual() {
		return val.keybox, val.virt.shape(opt, val)
	}
	return val.box, nil
}

// registerPure 记下一个已知结果的纯操作
func (opt *Optimizer) registerPure(opnum history.Opnum, args []history.Value, result history.Value) {
	if opt.pure != nil {
		opt.pure.pure(opnum, args, result)
	}
}

func (opt *Optimizer) hasPureResult(opnum history.Opnum, args []history.Value, descr history.Descr) bool {
	return opt.pure != nil && opt.pure.hasPureResult(opnum, args, descr)
}

// ============================================================================
// 输出端
// ============================================================================

// finalStage 链的末端：强制参数中的虚拟对象并记录结果
type finalStage struct {
	opt *Optimizer
}

func (f *finalStage) PropagateForward(op *history.ResOp) error { return f.opt.emitFinal(op) }
func (f *finalStage) Flush() error                             { return nil }
func (f *finalStage) link(*Optimizer, Optimization)            {}

func (opt *Optimizer) emitFinal(op *history.ResOp) error {
	for i, arg := range op.Args {
		val, ok := opt.values[arg]
		if !ok {
			continue
		}
		box, err := val.ForceBox(opt, opt.emitFinal)
		if err != nil {
			return err
		}
		op.Args[i] = box
	}
	if op.IsGuard() {
		if err := opt.storeFinalBoxesInGuard(op); err != nil {
			return err
		}
	}
	opt.newOperations = append(opt.newOperations, op)
	return nil
}

// storeFinalBoxesInGuard 生成恢复数据，失败参数换成需要保存的 box
func (opt *Optimizer) storeFinalBoxesInGuard(op *history.ResOp) error {
	data, err := resume.Build(op.FailArgs, opt.pendingFields, opt)
	opt.pendingFields = nil
	if err != nil {
		return err
	}
	opt.resumeData[op] = data
	if h, ok := op.Descr.(ResumeHolder); ok {
		h.StoreResumeData(data)
	}
	failargs := make([]history.Value, len(data.LiveBoxes))
	for i, b := range data.LiveBoxes {
		failargs[i] = b
	}
	op.FailArgs = failargs
	return nil
}
