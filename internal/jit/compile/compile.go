// compile.go - 循环、桥与回调的编译流程
//
// 追踪器交来的记录先加上标签，经过优化器，再交给后端。
// 优化器判定循环无法闭合时不编译，调用者回到解释器。

package compile

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/optimizeopt"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
	"github.com/tangzhangming/solatrans/internal/logger"
)

// OptUnroll 循环先剥出一次迭代作为前导，再以第二个标签开始循环体
const OptUnroll = "unroll"

// loopNumbering 所有编译器共享的循环编号
var loopNumbering atomic.Int64

// Loop 一段准备送给后端的 trace
type Loop struct {
	Name       string
	InputArgs  []*history.Box
	Operations []*history.ResOp
	Token      *history.JitCellToken

	QuasiImmutableDeps map[*history.QuasiImmut]struct{}
}

func (l *Loop) String() string { return history.FormatTrace(l.InputArgs, l.Operations) }

// Tracer 从失败的守卫继续追踪，values 是重建后的失败参数
type Tracer interface {
	TraceBridge(key ResumeDescr, values []history.Value) (*history.History, error)
}

// Compiler 编译流程的共享状态
type Compiler struct {
	cfg      config.JITConfig
	log      *zap.Logger
	cpu      Backend
	callinfo *optimizeopt.CallInfoCollection

	Counter *JitCounter
	Stats   *Stats
	MemMgr  *MemoryManager

	mu      sync.Mutex
	entries map[string]*history.JitCellToken
}

// NewCompiler 创建编译器；cfg 中为零的计数参数取默认值
func NewCompiler(cfg config.JITConfig, log *zap.Logger, cpu Backend) *Compiler {
	defaults := config.Default().JIT
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.TraceEagerness <= 0 {
		cfg.TraceEagerness = defaults.TraceEagerness
	}
	if cfg.CounterSize <= 0 {
		cfg.CounterSize = defaults.CounterSize
	}
	c := &Compiler{
		cfg:      cfg,
		log:      logger.Named(log, "compile"),
		cpu:      cpu,
		callinfo: optimizeopt.DefaultCallInfo(),
		Counter:  NewJitCounter(cfg.CounterSize, cfg.Decay),
		Stats:    &Stats{},
		MemMgr:   NewMemoryManager(cfg.LoopLongevity),
		entries:  make(map[string]*history.JitCellToken),
	}
	c.MemMgr.OnFree = c.freeLoop
	return c
}

// SetCallInfo 替换字符串优化使用的辅助函数表
func (c *Compiler) SetCallInfo(ci *optimizeopt.CallInfoCollection) { c.callinfo = ci }

// Config 生效的配置
func (c *Compiler) Config() config.JITConfig { return c.cfg }

// Entry 绿色键对应的入口
func (c *Compiler) Entry(greenkey string) (*history.JitCellToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[greenkey]
	return t, ok
}

func (c *Compiler) attachEntry(greenkey string, token *history.JitCellToken) {
	c.mu.Lock()
	c.entries[greenkey] = token
	c.mu.Unlock()
}

// TickLoop 循环入口执行一次；达到阈值时返回 true
func (c *Compiler) TickLoop(greenkey string) bool {
	return c.Counter.Tick(HashGreenKey(greenkey), c.cfg.Threshold)
}

// NextGeneration 计数衰减并释放长期未用的循环
func (c *Compiler) NextGeneration() int {
	c.Counter.DecayAllCounters()
	return c.MemMgr.NextGeneration()
}

func (c *Compiler) freeLoop(token *history.JitCellToken) {
	c.mu.Lock()
	for key, t := range c.entries {
		if t == token {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	token.Compiled = nil
	c.Stats.addFreed(1)
	c.log.Debug("loop freed", zap.Int64("loop", token.Number), zap.Bool("invalidated", token.Invalidated))
}

// ============================================================================
// 循环
// ============================================================================

// CompileLoop 编译从 h.Operations[start] 开始、以 jumpargs 回到开头的循环。
// 优化器判定循环无法闭合时返回 nil, nil。
func (c *Compiler) CompileLoop(greenkey string, h *history.History, start int,
	inputargs []*history.Box, jumpargs []history.Value) (*history.JitCellToken, error) {
	body := h.Cut(start)
	assignFailDescrs(body)

	cell := &history.JitCellToken{}
	target := history.NewTargetToken(cell)
	var endDescr history.Descr = cell
	if c.cfg.OptEnabled(OptUnroll) {
		endDescr = history.NewTargetToken(cell)
	}

	ops := make([]*history.ResOp, 0, len(body)+2)
	ops = append(ops, history.NewOp(history.LABEL, boxValues(inputargs), nil, target))
	ops = append(ops, body...)
	ops = append(ops, history.NewOp(history.LABEL, slices.Clone(jumpargs), nil, endDescr))

	out, deps, err := c.optimizeTrace(ops)
	if err != nil {
		return nil, c.abort(greenkey, err)
	}
	if out[len(out)-1].Opnum == history.LABEL {
		peeled, moreDeps, err := c.peelLoop(cell, out, inputargs, body, jumpargs)
		if err != nil {
			return nil, c.abort(greenkey, err)
		}
		out = peeled
		for q := range moreDeps {
			deps[q] = struct{}{}
		}
	}
	linkTargets(cell, out)

	loop := &Loop{Name: greenkey, InputArgs: inputargs, Operations: out, Token: cell, QuasiImmutableDeps: deps}
	if err := c.sendLoopToBackend(loop, "loop"); err != nil {
		return nil, err
	}
	c.attachEntry(greenkey, cell)
	return cell, nil
}

// peelLoop 前导以标签结尾：把循环体再内联一次，跳回该标签
func (c *Compiler) peelLoop(cell *history.JitCellToken, preamble []*history.ResOp, inputargs []*history.Box,
	body []*history.ResOp, jumpargs []history.Value) ([]*history.ResOp, map[*history.QuasiImmut]struct{}, error) {
	end := preamble[len(preamble)-1]
	head := slices.Clone(preamble[:len(preamble)-1])

	// 标签参数必须是 box，常量在前导里先物化
	labelArgs := make([]history.Value, len(end.Args))
	for i, a := range end.Args {
		if a.IsConstant() {
			box := history.NewBox(a.Type())
			head = append(head, history.NewOp(history.SAME_AS, []history.Value{a}, box, nil))
			a = box
		}
		labelArgs[i] = a
	}
	label := end.CopyAndChange(history.LABEL, labelArgs)

	in := newInliner(inputargs, labelArgs)
	part := make([]*history.ResOp, 0, len(body)+2)
	part = append(part, label)
	for _, op := range body {
		part = append(part, in.op(op))
	}
	part = append(part, history.NewOp(history.JUMP, in.args(jumpargs), nil, cell))

	out, deps, err := c.optimizeTrace(part)
	if err != nil {
		return nil, nil, err
	}
	return append(head, out...), deps, nil
}

// CompileRetrace 把新追踪的操作接在 partial 的末尾标签之后，跳回已有循环。
// 无法闭合时改为直接跳到前导。
func (c *Compiler) CompileRetrace(greenkey string, h *history.History, start int, jumpargs []history.Value,
	partial *Loop, resumekey ResumeDescr, loopToken *history.JitCellToken) (*history.TargetToken, error) {
	body := h.Cut(start)
	assignFailDescrs(body)

	label := partial.Operations[len(partial.Operations)-1]
	target, ok := label.Descr.(*history.TargetToken)
	if label.Opnum != history.LABEL || !ok {
		return nil, fmt.Errorf("compile: partial trace of %s does not end in a label", greenkey)
	}
	if target.Cell == nil {
		target.Cell = loopToken
	}

	ops := make([]*history.ResOp, 0, len(body)+2)
	ops = append(ops, label)
	ops = append(ops, body...)
	ops = append(ops, history.NewOp(history.JUMP, slices.Clone(jumpargs), nil, loopToken))

	out, deps, err := c.optimizeTrace(ops)
	if errs.IsInvalidLoop(err) && len(loopToken.TargetTokens) > 0 {
		c.log.Debug("retrace falls back to the preamble", zap.String("greenkey", greenkey), zap.Error(err))
		preamble := loopToken.TargetTokens[0]
		out, deps, err = c.optimizeTrace([]*history.ResOp{
			label,
			history.NewOp(history.JUMP, slices.Clone(label.Args), nil, preamble),
		})
	}
	if err != nil {
		return nil, c.abort(greenkey, err)
	}

	if !slices.Contains(loopToken.TargetTokens, target) {
		loopToken.TargetTokens = append(loopToken.TargetTokens, target)
	}
	linkTargets(loopToken, out)
	loopToken.RetraceCount++

	ops = append(slices.Clone(partial.Operations[:len(partial.Operations)-1]), out...)
	loop := &Loop{Name: greenkey, InputArgs: partial.InputArgs, Operations: ops, Token: loopToken, QuasiImmutableDeps: deps}
	if err := resumekey.compileAndAttach(c, loop); err != nil {
		return nil, err
	}
	return target, nil
}

// ============================================================================
// 桥
// ============================================================================

// TraceResult CompileTrace 的结果：要么已接上的跳转目标，要么需要重新追踪的部分循环
type TraceResult struct {
	Target  history.Descr
	Retrace *Loop
}

// CompileTrace 编译从 resumekey 开始的桥。
// 结尾是跳转时接到 resumekey 上；结尾是标签时交回调用者重新追踪。
// 无法闭合时返回 nil, nil。
func (c *Compiler) CompileTrace(h *history.History, resumekey ResumeDescr) (*TraceResult, error) {
	ops := h.Cut(0)
	assignFailDescrs(ops)

	out, deps, err := c.optimizeTrace(ops)
	if err != nil {
		return nil, c.abort(resumekey.DescrString(), err)
	}
	loop := &Loop{
		Name:               resumekey.DescrString(),
		InputArgs:          h.InputArgs,
		Operations:         out,
		QuasiImmutableDeps: deps,
	}
	last := out[len(out)-1]
	if last.Opnum == history.LABEL {
		return &TraceResult{Retrace: loop}, nil
	}
	if err := resumekey.compileAndAttach(c, loop); err != nil {
		return nil, err
	}
	return &TraceResult{Target: last.Descr}, nil
}

// ============================================================================
// 回调
// ============================================================================

// CompileTmpCallback 编译一个直接调用解释器入口的临时循环，
// 在真正的循环编译出来之前代替它。
func (c *Compiler) CompileTmpCallback(portal *history.FuncObj, calldescr *history.CallDescr,
	greens []history.Value, redTypes []history.Type, result history.Type) (*history.JitCellToken, error) {
	inputargs := make([]*history.Box, len(redTypes))
	for i, t := range redTypes {
		inputargs[i] = history.NewBox(t)
	}
	callargs := make([]history.Value, 0, 1+len(greens)+len(inputargs))
	callargs = append(callargs, history.ConstPtr{Value: portal})
	callargs = append(callargs, greens...)
	callargs = append(callargs, boxValues(inputargs)...)

	var res *history.Box
	var finishArgs []history.Value
	if result != history.VOID {
		res = history.NewBox(result)
		finishArgs = []history.Value{res}
	}
	guard := history.NewOp(history.GUARD_NO_EXCEPTION, nil, nil, PropagateException)
	guard.FailArgs = []history.Value{}
	ops := []*history.ResOp{
		history.NewOp(history.CALL, callargs, res, calldescr),
		guard,
		history.NewOp(history.FINISH, finishArgs, nil, DoneWithThisFrame(result)),
	}

	token := &history.JitCellToken{}
	if _, err := c.cpu.CompileLoop(inputargs, ops, token); err != nil {
		return nil, &errs.BackendError{Unit: "tmp callback " + portal.Name, Err: err}
	}
	c.log.Debug("compiled tmp callback", zap.String("portal", portal.Name))
	return token, nil
}

// ============================================================================
// 守卫失败
// ============================================================================

// ExitKind 编译代码退出的原因
type ExitKind int

const (
	ExitDone      ExitKind = iota // 函数返回
	ExitException                 // 函数抛出异常
	ExitGuard                     // 守卫失败，回到解释器
)

// Exit 一次退出的处理结果
type Exit struct {
	Kind  ExitKind
	Descr history.Descr
	// Value 返回值或异常对象
	Value history.Value
	// Values 守卫失败时重建的失败参数
	Values []history.Value
	// Virtuals GUARD_NOT_FORCED 失败前已强制的虚拟对象
	Virtuals []history.HeapObj
	// Bridge 这次失败触发编译的桥
	Bridge *TraceResult
}

// HandleExit 读取死帧的最后描述符并处理；守卫足够热时通过 tracer 编译桥
func (c *Compiler) HandleExit(frame DeadFrame, tracer Tracer) (*Exit, error) {
	descr := c.cpu.GetLatestDescr(frame)
	switch d := descr.(type) {
	case *DoneWithThisFrameDescr:
		exit := &Exit{Kind: ExitDone, Descr: d}
		switch d.Result {
		case history.INT:
			exit.Value = history.ConstInt{Value: c.cpu.GetIntValue(frame, 0)}
		case history.REF:
			exit.Value = history.ConstPtr{Value: c.cpu.GetRefValue(frame, 0)}
		case history.FLOAT:
			exit.Value = history.ConstFloat{Value: c.cpu.GetFloatValue(frame, 0)}
		}
		return exit, nil
	case *ExitFrameWithExceptionDescr:
		return &Exit{Kind: ExitException, Descr: d, Value: history.ConstPtr{Value: c.cpu.GetRefValue(frame, 0)}}, nil
	case *PropagateExceptionDescr:
		return &Exit{Kind: ExitException, Descr: d, Value: history.ConstPtr{Value: c.cpu.GrabExcValue(frame)}}, nil
	case guardDescr:
		return c.handleGuardFailure(d, frame, tracer)
	}
	return nil, fmt.Errorf("compile: unexpected exit descr %v", descr)
}

func (c *Compiler) handleGuardFailure(d guardDescr, frame DeadFrame, tracer Tracer) (*Exit, error) {
	g := d.guard()
	exit := &Exit{Kind: ExitGuard, Descr: d}
	if g.data != nil {
		reader, err := resume.NewReader(g.data, liveValues(c.cpu, frame, g.data.LiveBoxes))
		if err != nil {
			return nil, err
		}
		if exit.Values, err = reader.Rebuild(); err != nil {
			return nil, err
		}
	}
	if f, ok := d.(*ResumeGuardForcedDescr); ok {
		exit.Virtuals = f.FetchAllVirtuals(c.cpu, frame)
	}

	if tracer == nil || !g.MustCompile(c.cpu, frame, c.Counter, c.cfg.TraceEagerness) {
		return exit, nil
	}
	if !g.StartCompiling() {
		return exit, nil
	}
	defer g.DoneCompiling()

	c.log.Debug("guard is hot, tracing bridge", zap.String("guard", d.DescrString()))
	h, err := tracer.TraceBridge(d, exit.Values)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return exit, nil
	}
	if exit.Bridge, err = c.CompileTrace(h, d); err != nil {
		return nil, err
	}
	return exit, nil
}

// ============================================================================
// 后端
// ============================================================================

func (c *Compiler) optimizeTrace(ops []*history.ResOp) ([]*history.ResOp, map[*history.QuasiImmut]struct{}, error) {
	opt := optimizeopt.New(c.cfg, c.log, c.callinfo)
	out, err := opt.Propagate(ops)
	if err != nil {
		return nil, nil, err
	}
	return out, opt.QuasiImmutableDeps, nil
}

// abort InvalidLoop 记入统计并吞掉，其他错误原样返回
func (c *Compiler) abort(name string, err error) error {
	if !errs.IsInvalidLoop(err) {
		return err
	}
	c.Stats.addAborted()
	c.log.Info("trace aborted", zap.String("trace", name), zap.Error(err))
	return nil
}

func (c *Compiler) sendLoopToBackend(loop *Loop, kind string) error {
	token := loop.Token
	token.Number = loopNumbering.Inc()
	prepareGuards(loop.Operations, token, c.Counter)

	asm, err := c.cpu.CompileLoop(loop.InputArgs, loop.Operations, token)
	if err != nil {
		return &errs.BackendError{Unit: fmt.Sprintf("%s %d", kind, token.Number), Err: err}
	}
	c.recordLoopOrBridge(token, loop)
	c.Stats.addUnit(unitInfo(token.Number, kind, loop, asm))
	c.MemMgr.KeepLoopAlive(token)
	c.log.Info("compiled new "+kind,
		zap.Int64("loop", token.Number),
		zap.String("name", loop.Name),
		zap.Int("operations", len(loop.Operations)))
	return nil
}

func (c *Compiler) sendBridgeToBackend(faildescr history.FailDescr, original *history.JitCellToken, loop *Loop) error {
	loop.Token = original
	prepareGuards(loop.Operations, original, c.Counter)

	asm, err := c.cpu.CompileBridge(faildescr, loop.InputArgs, loop.Operations, original)
	if err != nil {
		return &errs.BackendError{Unit: "bridge from " + faildescr.DescrString(), Err: err}
	}
	var number int64
	if original != nil {
		number = original.Number
		c.recordLoopOrBridge(original, loop)
		c.MemMgr.KeepLoopAlive(original)
	}
	c.Stats.addUnit(unitInfo(number, "bridge", loop, asm))
	c.log.Info("compiled new bridge",
		zap.String("guard", faildescr.DescrString()),
		zap.Int64("loop", number),
		zap.Int("operations", len(loop.Operations)))
	return nil
}

// recordLoopOrBridge 准不可变字段改变时，依赖它的循环失效
func (c *Compiler) recordLoopOrBridge(token *history.JitCellToken, loop *Loop) {
	for q := range loop.QuasiImmutableDeps {
		q.Register(token)
	}
}

func unitInfo(number int64, kind string, loop *Loop, asm *AsmInfo) UnitInfo {
	info := UnitInfo{Number: number, Kind: kind, Name: loop.Name, Operations: len(loop.Operations)}
	for _, op := range loop.Operations {
		if op.IsGuard() {
			info.Guards++
		}
	}
	if asm != nil {
		info.CodeSize = asm.CodeSize
	}
	return info
}

// ============================================================================
// 辅助
// ============================================================================

// assignFailDescrs 没有描述符的守卫按操作码补上
func assignFailDescrs(ops []*history.ResOp) {
	for _, op := range ops {
		if op.IsGuard() && op.Descr == nil {
			op.Descr = InventFailDescrForOp(op.Opnum)
		}
	}
}

func prepareGuards(ops []*history.ResOp, token *history.JitCellToken, counter *JitCounter) {
	for _, op := range ops {
		if g, ok := op.Descr.(guardDescr); ok && op.IsGuard() {
			g.guard().storeFinalBoxes(op, token, counter)
		}
	}
}

// linkTargets 标签的目标指向最终的操作
func linkTargets(cell *history.JitCellToken, ops []*history.ResOp) {
	for _, op := range ops {
		if t, ok := op.Descr.(*history.TargetToken); ok && op.Opnum == history.LABEL {
			t.Label = op
			if t.Cell == nil {
				t.Cell = cell
			}
		}
	}
}

func boxValues(boxes []*history.Box) []history.Value {
	out := make([]history.Value, len(boxes))
	for i, b := range boxes {
		out[i] = b
	}
	return out
}

// ============================================================================
// 内联
// ============================================================================

// inliner 复制一段操作，参数按映射替换，结果换成新 box
type inliner struct {
	mapping map[*history.Box]history.Value
}

func newInliner(from []*history.Box, to []history.Value) *inliner {
	in := &inliner{mapping: make(map[*history.Box]history.Value, len(from))}
	for i, b := range from {
		in.mapping[b] = to[i]
	}
	return in
}

func (in *inliner) value(v history.Value) history.Value {
	if b, ok := v.(*history.Box); ok {
		if m, ok := in.mapping[b]; ok {
			return m
		}
	}
	return v
}

func (in *inliner) args(vs []history.Value) []history.Value {
	if vs == nil {
		return nil
	}
	out := make([]history.Value, len(vs))
	for i, v := range vs {
		out[i] = in.value(v)
	}
	return out
}

func (in *inliner) op(op *history.ResOp) *history.ResOp {
	c := op.Copy()
	c.Args = in.args(op.Args)
	c.FailArgs = in.args(op.FailArgs)
	if g, ok := op.Descr.(guardDescr); ok {
		c.Descr = InventFailDescrForOp(g.guard().Opnum)
	}
	if r := op.Result; r != nil {
		box := history.NewBox(r.Type())
		box.Int, box.Float, box.Ref = r.Int, r.Float, r.Ref
		in.mapping[r] = box
		c.Result = box
	}
	return c
}
