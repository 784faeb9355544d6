package compile

import (
	"strings"
	"testing"

	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
	"github.com/tangzhangming/solatrans/internal/logger"
)

// ============================================================================
// 测试后端
// ============================================================================

type fakeFrame struct {
	descr    history.Descr
	ints     []int64
	refs     []history.HeapObj
	floats   []float64
	savedata history.HeapObj
	exc      history.HeapObj
}

type fakeUnit struct {
	faildescr history.FailDescr
	inputargs []*history.Box
	ops       []*history.ResOp
	token     *history.JitCellToken
}

type fakeCPU struct {
	loops   []fakeUnit
	bridges []fakeUnit
	forced  *fakeFrame
}

func (f *fakeCPU) CompileLoop(inputargs []*history.Box, ops []*history.ResOp, token *history.JitCellToken) (*AsmInfo, error) {
	f.loops = append(f.loops, fakeUnit{inputargs: inputargs, ops: ops, token: token})
	return &AsmInfo{CodeSize: 16 * len(ops)}, nil
}

func (f *fakeCPU) CompileBridge(faildescr history.FailDescr, inputargs []*history.Box, ops []*history.ResOp,
	original *history.JitCellToken) (*AsmInfo, error) {
	f.bridges = append(f.bridges, fakeUnit{faildescr: faildescr, inputargs: inputargs, ops: ops, token: original})
	return &AsmInfo{CodeSize: 16 * len(ops)}, nil
}

func (f *fakeCPU) GetIntValue(frame DeadFrame, i int) int64 { return frame.(*fakeFrame).ints[i] }
func (f *fakeCPU) GetRefValue(frame DeadFrame, i int) history.HeapObj {
	return frame.(*fakeFrame).refs[i]
}
func (f *fakeCPU) GetFloatValue(frame DeadFrame, i int) float64 { return frame.(*fakeFrame).floats[i] }
func (f *fakeCPU) GetLatestDescr(frame DeadFrame) history.Descr { return frame.(*fakeFrame).descr }
func (f *fakeCPU) Force(history.HeapObj) DeadFrame              { return f.forced }
func (f *fakeCPU) SetSavedataRef(frame DeadFrame, ref history.HeapObj) {
	frame.(*fakeFrame).savedata = ref
}
func (f *fakeCPU) GetSavedataRef(frame DeadFrame) history.HeapObj { return frame.(*fakeFrame).savedata }
func (f *fakeCPU) GrabExcValue(frame DeadFrame) history.HeapObj   { return frame.(*fakeFrame).exc }

// finishTracer 每次追踪都返回把第一个值原样返回的桥
type finishTracer struct {
	calls  int
	nested func()
}

func (t *finishTracer) TraceBridge(key ResumeDescr, values []history.Value) (*history.History, error) {
	t.calls++
	if t.nested != nil {
		t.nested()
	}
	b := history.NewBox(history.INT)
	h := history.NewHistory(b)
	h.Record(history.FINISH, []history.Value{b}, nil, DoneWithThisFrameInt)
	return h, nil
}

func newCompiler(eagerness int) (*Compiler, *fakeCPU) {
	cfg := config.Default().JIT
	cfg.TraceEagerness = eagerness
	cpu := &fakeCPU{}
	return NewCompiler(cfg, logger.Nop(), cpu), cpu
}

func findGuard(ops []*history.ResOp, opnum history.Opnum) *history.ResOp {
	for _, op := range ops {
		if op.Opnum == opnum {
			return op
		}
	}
	return nil
}

// guardValueLoop i1 = i0 + 1; guard_value(i1, 7); jump(i1)
func guardValueLoop(t *testing.T, c *Compiler) *history.ResOp {
	t.Helper()
	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	i1 := history.NewBox(history.INT)
	h.Record(history.INT_ADD, []history.Value{i0, history.ConstInt{Value: 1}}, i1, nil)
	h.RecordGuard(history.GUARD_VALUE, []history.Value{i1, history.ConstInt{Value: 7}}, nil, i1)

	token, err := c.CompileLoop("guard_value", h, 0, []*history.Box{i0}, []history.Value{i1})
	if err != nil || token == nil {
		t.Fatalf("CompileLoop: %v, %v", token, err)
	}
	cpu := c.cpu.(*fakeCPU)
	guard := findGuard(cpu.loops[len(cpu.loops)-1].ops, history.GUARD_VALUE)
	if guard == nil {
		t.Fatal("guard_value missing from the compiled loop")
	}
	return guard
}

// ============================================================================
// 守卫失败
// ============================================================================

// TestGuardValueBridge 测试守卫失败计数到阈值后编译桥
func TestGuardValueBridge(t *testing.T) {
	c, cpu := newCompiler(3)
	guard := guardValueLoop(t, c)
	descr := guard.Descr.(*ResumeGuardDescr)
	if descr.Status()&stTypeMask != tyInt {
		t.Fatalf("status %#x has no int type tag", descr.Status())
	}

	tracer := &finishTracer{}
	frame := &fakeFrame{descr: descr, ints: []int64{8}}
	hash, _ := descr.counterHash(cpu, frame)

	for i := 1; i <= 2; i++ {
		exit, err := c.HandleExit(frame, tracer)
		if err != nil {
			t.Fatal(err)
		}
		if exit.Kind != ExitGuard || exit.Bridge != nil {
			t.Fatalf("failure %d: %+v", i, exit)
		}
		if len(exit.Values) != 1 || exit.Values[0] != (history.ConstInt{Value: 8}) {
			t.Errorf("failure %d rebuilt %v", i, exit.Values)
		}
		if got := c.Counter.Lookup(hash); got != uint32(i) {
			t.Errorf("after failure %d counter = %d", i, got)
		}
	}

	// 其他值用各自的计数器
	other := &fakeFrame{descr: descr, ints: []int64{9}}
	if exit, _ := c.HandleExit(other, tracer); exit.Bridge != nil {
		t.Error("a different failing value must not share the counter")
	}

	exit, err := c.HandleExit(frame, tracer)
	if err != nil {
		t.Fatal(err)
	}
	if exit.Bridge == nil || exit.Bridge.Target != DoneWithThisFrameInt {
		t.Fatalf("bridge not compiled: %+v", exit.Bridge)
	}
	if tracer.calls != 1 || len(cpu.bridges) != 1 {
		t.Fatalf("tracer calls = %d, bridges = %d", tracer.calls, len(cpu.bridges))
	}
	if cpu.bridges[0].faildescr != history.FailDescr(descr) || descr.Bridge() == nil {
		t.Error("bridge not attached to the failing guard")
	}
	if descr.IsBusy() {
		t.Error("busy flag left set after compiling")
	}
	if _, bridges, _ := c.Stats.Snapshot(); bridges != 1 {
		t.Errorf("stats bridges = %d", bridges)
	}
}

// TestGuardBusy 测试 BUSY 期间的失败既不计数也不编译
func TestGuardBusy(t *testing.T) {
	c, cpu := newCompiler(2)
	guard := guardValueLoop(t, c)
	descr := guard.Descr.(*ResumeGuardDescr)
	frame := &fakeFrame{descr: descr, ints: []int64{8}}
	hash, _ := descr.counterHash(cpu, frame)

	if !descr.StartCompiling() {
		t.Fatal("first StartCompiling must succeed")
	}
	if descr.StartCompiling() {
		t.Fatal("second StartCompiling must fail")
	}
	tracer := &finishTracer{}
	for i := 0; i < 5; i++ {
		if _, err := c.HandleExit(frame, tracer); err != nil {
			t.Fatal(err)
		}
	}
	if tracer.calls != 0 || c.Counter.Lookup(hash) != 0 {
		t.Errorf("busy guard traced %d times, counter %d", tracer.calls, c.Counter.Lookup(hash))
	}
	descr.DoneCompiling()

	// 追踪过程中同一守卫再次失败
	tracer.nested = func() {
		before := c.Counter.Lookup(hash)
		exit, err := c.HandleExit(frame, tracer)
		if err != nil || exit.Bridge != nil {
			t.Errorf("nested failure: %+v, %v", exit, err)
		}
		if c.Counter.Lookup(hash) != before {
			t.Error("nested failure ticked the counter")
		}
	}
	c.HandleExit(frame, tracer)
	exit, err := c.HandleExit(frame, tracer)
	if err != nil || exit.Bridge == nil {
		t.Fatalf("bridge not compiled: %+v, %v", exit, err)
	}
	if tracer.calls != 1 || len(cpu.bridges) != 1 {
		t.Errorf("tracer calls = %d, bridges = %d", tracer.calls, len(cpu.bridges))
	}
}

// TestGuardNotInvalidated 测试失效守卫永不编译桥
func TestGuardNotInvalidated(t *testing.T) {
	c, _ := newCompiler(1)
	d := InventFailDescrForOp(history.GUARD_NOT_INVALIDATED).(*ResumeGuardDescr)
	frame := &fakeFrame{descr: d}
	tracer := &finishTracer{}
	for i := 0; i < 3; i++ {
		if _, err := c.HandleExit(frame, tracer); err != nil {
			t.Fatal(err)
		}
	}
	if tracer.calls != 0 {
		t.Errorf("traced %d bridges from an invalidated guard", tracer.calls)
	}
}

// TestGuardNotForced 测试强制时虚拟对象保存在 savedata
func TestGuardNotForced(t *testing.T) {
	c, cpu := newCompiler(100)
	d, ok := InventFailDescrForOp(history.GUARD_NOT_FORCED).(*ResumeGuardForcedDescr)
	if !ok {
		t.Fatal("GUARD_NOT_FORCED needs a forced descr")
	}

	size := history.NewSizeDescr("Frame", nil)
	field := size.AddField("x", history.INT)
	p := history.NewBox(history.REF)
	i := history.NewBox(history.INT)
	shapes := virtualResolver{p: {Kind: resume.VStruct, Size: size, Fields: []*history.FieldDescr{field}, Items: []history.Value{i}}}
	data, err := resume.Build([]history.Value{p}, nil, shapes)
	if err != nil {
		t.Fatal(err)
	}
	d.StoreResumeData(data)

	frame := &fakeFrame{descr: d, ints: []int64{5}}
	cpu.forced = frame
	forced := cpu.Force(nil)
	if err := d.HandleAsyncForcing(cpu, forced); err != nil {
		t.Fatal(err)
	}
	exit, err := c.HandleExit(frame, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(exit.Virtuals) != 1 {
		t.Fatalf("virtuals = %v", exit.Virtuals)
	}
	s := exit.Virtuals[0].(*history.StructObj)
	if got := s.Get(field); got != (history.ConstInt{Value: 5}) {
		t.Errorf("forced field = %v", got)
	}
	if frame.savedata != nil {
		t.Error("savedata not cleared after fetching")
	}
}

type virtualResolver map[history.Value]*resume.Shape

func (r virtualResolver) Resolve(v history.Value) (history.Value, *resume.Shape) { return v, r[v] }

// TestHandleExitFinal 测试终止描述符
func TestHandleExitFinal(t *testing.T) {
	c, _ := newCompiler(1)
	exc := history.NewStructObj(history.NewSizeDescr("Exc", nil))
	tests := []struct {
		name  string
		frame *fakeFrame
		kind  ExitKind
		value history.Value
	}{
		{"int", &fakeFrame{descr: DoneWithThisFrameInt, ints: []int64{42}}, ExitDone, history.ConstInt{Value: 42}},
		{"float", &fakeFrame{descr: DoneWithThisFrameFloat, floats: []float64{1.5}}, ExitDone, history.ConstFloat{Value: 1.5}},
		{"void", &fakeFrame{descr: DoneWithThisFrameVoid}, ExitDone, nil},
		{"exit with exception", &fakeFrame{descr: ExitFrameWithExceptionRef, refs: []history.HeapObj{exc}}, ExitException, history.ConstPtr{Value: exc}},
		{"propagate", &fakeFrame{descr: PropagateException, exc: exc}, ExitException, history.ConstPtr{Value: exc}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit, err := c.HandleExit(tt.frame, nil)
			if err != nil {
				t.Fatal(err)
			}
			if exit.Kind != tt.kind || exit.Value != tt.value {
				t.Errorf("exit = %+v", exit)
			}
		})
	}
	if _, err := c.HandleExit(&fakeFrame{descr: &history.BasicFailDescr{}}, nil); err == nil {
		t.Error("unknown descr should be an error")
	}
}

// ============================================================================
// 循环
// ============================================================================

// TestCompileLoopNumbering 测试循环编号递增并登记到统计
func TestCompileLoopNumbering(t *testing.T) {
	c, cpu := newCompiler(1)
	var numbers []int64
	for i := 0; i < 2; i++ {
		i0 := history.NewBox(history.INT)
		h := history.NewHistory(i0)
		i1 := history.NewBox(history.INT)
		h.Record(history.INT_ADD, []history.Value{i0, history.ConstInt{Value: 1}}, i1, nil)
		token, err := c.CompileLoop("loop", h, 0, []*history.Box{i0}, []history.Value{i1})
		if err != nil || token == nil {
			t.Fatalf("CompileLoop: %v", err)
		}
		numbers = append(numbers, token.Number)
	}
	if numbers[1] <= numbers[0] {
		t.Errorf("numbers not increasing: %v", numbers)
	}
	if len(cpu.loops) != 2 || c.MemMgr.Alive() != 2 {
		t.Errorf("loops = %d, alive = %d", len(cpu.loops), c.MemMgr.Alive())
	}

	ops := cpu.loops[0].ops
	want := []history.Opnum{history.LABEL, history.INT_ADD, history.JUMP}
	if got := history.Opnums(ops); !equalOpnums(got, want) {
		t.Fatalf("ops = %v", got)
	}
	token := cpu.loops[0].token
	if ops[2].Descr != history.Descr(token.TargetTokens[0]) || token.TargetTokens[0].Label != ops[0] {
		t.Error("jump does not target the loop label")
	}
	if e, ok := c.Entry("loop"); !ok || e != cpu.loops[1].token {
		t.Error("entry not attached to the latest loop")
	}

	report, err := c.Stats.Report()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(report), `"loops": 2`) {
		t.Errorf("report = %s", report)
	}
}

// TestCompileLoopInvalid 测试无法闭合的循环不编译
func TestCompileLoopInvalid(t *testing.T) {
	c, cpu := newCompiler(1)
	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	i1 := history.NewBox(history.INT)
	h.Record(history.INT_ADD, []history.Value{history.ConstInt{Value: 2}, history.ConstInt{Value: 3}}, i1, nil)
	h.RecordGuard(history.GUARD_VALUE, []history.Value{i1, history.ConstInt{Value: 4}}, nil)

	token, err := c.CompileLoop("invalid", h, 0, []*history.Box{i0}, []history.Value{i0})
	if err != nil || token != nil {
		t.Fatalf("got %v, %v", token, err)
	}
	if len(cpu.loops) != 0 {
		t.Error("invalid loop reached the backend")
	}
	if _, _, aborted := c.Stats.Snapshot(); aborted != 1 {
		t.Errorf("aborted = %d", aborted)
	}
}

// TestCompileLoopUnroll 测试剥出前导后循环跳回第二个标签
func TestCompileLoopUnroll(t *testing.T) {
	c, cpu := newCompiler(1)
	c.cfg.Enable = append(c.cfg.Enable, OptUnroll)

	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	i1 := history.NewBox(history.INT)
	h.Record(history.INT_ADD, []history.Value{i0, history.ConstInt{Value: 1}}, i1, nil)
	token, err := c.CompileLoop("unrolled", h, 0, []*history.Box{i0}, []history.Value{i1})
	if err != nil || token == nil {
		t.Fatalf("CompileLoop: %v", err)
	}
	ops := cpu.loops[0].ops
	want := []history.Opnum{history.LABEL, history.INT_ADD, history.LABEL, history.INT_ADD, history.JUMP}
	if got := history.Opnums(ops); !equalOpnums(got, want) {
		t.Fatalf("ops = %v", got)
	}
	if len(token.TargetTokens) != 2 {
		t.Fatalf("targets = %d", len(token.TargetTokens))
	}
	if ops[4].Descr != history.Descr(token.TargetTokens[1]) {
		t.Error("jump should close the peeled loop")
	}
	if ops[2].Args[0] != history.Value(ops[1].Result) {
		t.Error("second label should carry the preamble's result")
	}
	if ops[3].Args[0] != history.Value(ops[2].Args[0]) || ops[3].Result == ops[1].Result {
		t.Error("loop body should be an inlined copy reading the label")
	}
}

// TestCompileTrace 测试以标签结尾的桥交回重新追踪
func TestCompileTrace(t *testing.T) {
	c, cpu := newCompiler(1)
	guard := guardValueLoop(t, c)
	descr := guard.Descr.(*ResumeGuardDescr)
	loopToken := cpu.loops[0].token

	b0 := history.NewBox(history.INT)
	h := history.NewHistory(b0)
	b1 := history.NewBox(history.INT)
	h.Record(history.INT_MUL, []history.Value{b0, history.ConstInt{Value: 2}}, b1, nil)
	h.Record(history.LABEL, []history.Value{b1}, nil, &history.TargetToken{})

	res, err := c.CompileTrace(h, descr)
	if err != nil || res == nil || res.Retrace == nil {
		t.Fatalf("CompileTrace: %+v, %v", res, err)
	}
	if len(cpu.bridges) != 0 {
		t.Fatal("retrace request reached the backend")
	}

	// 从标签继续追踪并闭合到已有循环
	h2 := history.NewHistory(b1)
	b2 := history.NewBox(history.INT)
	h2.Record(history.INT_SUB, []history.Value{b1, history.ConstInt{Value: 1}}, b2, nil)
	target, err := c.CompileRetrace("retrace", h2, 0, []history.Value{b2}, res.Retrace, descr, loopToken)
	if err != nil || target == nil {
		t.Fatalf("CompileRetrace: %v, %v", target, err)
	}
	if target.Cell != loopToken || loopToken.RetraceCount != 1 {
		t.Errorf("target cell %v, retraces %d", target.Cell, loopToken.RetraceCount)
	}
	if len(cpu.bridges) != 1 {
		t.Fatalf("bridges = %d", len(cpu.bridges))
	}
	ops := cpu.bridges[0].ops
	want := []history.Opnum{history.INT_MUL, history.LABEL, history.INT_SUB, history.JUMP}
	if got := history.Opnums(ops); !equalOpnums(got, want) {
		t.Fatalf("ops = %v", got)
	}
	if ops[3].Descr != history.Descr(target) {
		t.Error("retraced loop should jump to its own label")
	}
}

// TestEntryBridge 测试从解释器进入的桥成为新的入口
func TestEntryBridge(t *testing.T) {
	c, cpu := newCompiler(1)
	guardValueLoop(t, c)
	target := cpu.loops[0].token.TargetTokens[0]

	b0 := history.NewBox(history.INT)
	h := history.NewHistory(b0)
	h.Record(history.JUMP, []history.Value{b0}, nil, target)
	res, err := c.CompileTrace(h, &ResumeFromInterpDescr{GreenKey: "entry"})
	if err != nil || res == nil || res.Target != history.Descr(target) {
		t.Fatalf("CompileTrace: %+v, %v", res, err)
	}
	entry, ok := c.Entry("entry")
	if !ok || entry != cpu.loops[1].token || entry.Number <= cpu.loops[0].token.Number {
		t.Errorf("entry = %v", entry)
	}
}

// TestCompileTmpCallback 测试回调解释器的临时循环
func TestCompileTmpCallback(t *testing.T) {
	c, cpu := newCompiler(1)
	portal := &history.FuncObj{Name: "portal"}
	calldescr := history.NewCallDescr("portal", []history.Type{history.INT, history.INT}, history.INT, history.RandomEffects())
	token, err := c.CompileTmpCallback(portal, calldescr, []history.Value{history.ConstInt{Value: 3}},
		[]history.Type{history.INT}, history.INT)
	if err != nil || token == nil {
		t.Fatal(err)
	}
	ops := cpu.loops[0].ops
	want := []history.Opnum{history.CALL, history.GUARD_NO_EXCEPTION, history.FINISH}
	if got := history.Opnums(ops); !equalOpnums(got, want) {
		t.Fatalf("ops = %v", got)
	}
	if len(ops[0].Args) != 3 || ops[0].Args[2] != history.Value(cpu.loops[0].inputargs[0]) {
		t.Errorf("call args = %v", ops[0].Args)
	}
	if ops[1].Descr != history.Descr(PropagateException) || ops[2].Descr != history.Descr(DoneWithThisFrameInt) {
		t.Error("wrong descrs on the callback")
	}
	if ops[2].Args[0] != history.Value(ops[0].Result) {
		t.Error("finish should return the call result")
	}
}

func equalOpnums(a, b []history.Opnum) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
