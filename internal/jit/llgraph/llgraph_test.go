package llgraph

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/jit/compile"
	"github.com/tangzhangming/solatrans/internal/jit/gcmap"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/logger"
)

func newCompiler(eagerness int) (*compile.Compiler, *CPU) {
	cfg := config.Default()
	cfg.JIT.TraceEagerness = eagerness
	cpu := NewCPU(cfg.RegAlloc, nil, logger.Nop())
	return compile.NewCompiler(cfg.JIT, logger.Nop(), cpu), cpu
}

// returnTracer 桥直接返回第一个失败参数
type returnTracer struct{ calls int }

func (t *returnTracer) TraceBridge(key compile.ResumeDescr, values []history.Value) (*history.History, error) {
	t.calls++
	b := history.NewBox(history.INT)
	h := history.NewHistory(b)
	h.Record(history.FINISH, []history.Value{b}, nil, compile.DoneWithThisFrameInt)
	return h, nil
}

// countingLoop i1 = i0 + 1; guard_true(i1 < 10); jump(i1)
func countingLoop(t *testing.T, c *compile.Compiler) *history.JitCellToken {
	t.Helper()
	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	i1 := history.NewBox(history.INT)
	lt := history.NewBox(history.INT)
	h.Record(history.INT_ADD, []history.Value{i0, history.ConstInt{Value: 1}}, i1, nil)
	h.Record(history.INT_LT, []history.Value{i1, history.ConstInt{Value: 10}}, lt, nil)
	h.RecordGuard(history.GUARD_TRUE, []history.Value{lt}, nil, i1)
	token, err := c.CompileLoop("count", h, 0, []*history.Box{i0}, []history.Value{i1})
	if err != nil || token == nil {
		t.Fatalf("CompileLoop: %v, %v", token, err)
	}
	return token
}

// TestLoopRunsToGuardFailure 测试循环执行到守卫失败并留下死帧
func TestLoopRunsToGuardFailure(t *testing.T) {
	c, cpu := newCompiler(100)
	token := countingLoop(t, c)

	frame, err := cpu.Execute(token, history.ConstInt{Value: 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frame.Descr.(*compile.ResumeGuardDescr); !ok {
		t.Fatalf("exit descr = %v", frame.Descr)
	}
	if cpu.GetIntValue(frame, 0) != 10 {
		t.Errorf("failed with %v", frame.Values)
	}
	exit, err := c.HandleExit(frame, nil)
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != compile.ExitGuard || exit.Values[0] != (history.ConstInt{Value: 10}) {
		t.Errorf("exit = %+v", exit)
	}
	if cpu.FrameDepth(token) < 1 {
		t.Error("loop input should occupy a frame slot")
	}
}

// TestBridgeAttached 测试守卫变热后编译的桥在下次失败时直接执行
func TestBridgeAttached(t *testing.T) {
	c, cpu := newCompiler(2)
	token := countingLoop(t, c)
	tracer := &returnTracer{}

	for i := 0; i < 2; i++ {
		frame, err := cpu.Execute(token, history.ConstInt{Value: 0})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.HandleExit(frame, tracer); err != nil {
			t.Fatal(err)
		}
	}
	if tracer.calls != 1 {
		t.Fatalf("tracer calls = %d", tracer.calls)
	}

	frame, err := cpu.Execute(token, history.ConstInt{Value: 3})
	if err != nil {
		t.Fatal(err)
	}
	exit, err := c.HandleExit(frame, tracer)
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != compile.ExitDone || exit.Value != (history.ConstInt{Value: 10}) {
		t.Errorf("exit = %+v", exit)
	}
	if tracer.calls != 1 {
		t.Error("finished run must not trace again")
	}
}

// TestMovableConstants 测试可移动的常量经由 GC 数组读出后仍能正确执行
func TestMovableConstants(t *testing.T) {
	policy := gcmap.NewGenerationalPolicy(0)
	cpu := NewCPU(config.Default().RegAlloc, policy, logger.Nop())
	young := history.NewStructObj(history.NewSizeDescr("Young", nil))
	policy.Track(young, gcmap.GenYoung)

	token := &history.JitCellToken{}
	p0 := history.NewBox(history.REF)
	guard := history.NewOp(history.GUARD_VALUE, []history.Value{p0, history.ConstPtr{Value: young}}, nil,
		&history.BasicFailDescr{Identifier: 1})
	guard.FailArgs = []history.Value{p0}
	ops := []*history.ResOp{
		history.NewOp(history.LABEL, []history.Value{p0}, nil, history.NewTargetToken(token)),
		guard,
		history.NewOp(history.FINISH, []history.Value{p0}, nil, compile.DoneWithThisFrameRef),
	}
	info, err := cpu.CompileLoop([]*history.Box{p0}, ops, token)
	if err != nil {
		t.Fatal(err)
	}
	if info.CodeSize == 0 {
		t.Error("empty code")
	}
	got := history.Opnums(cpu.Operations(token))
	if len(got) != 4 || got[1] != history.GETARRAYITEM_GC {
		t.Fatalf("ops = %v", got)
	}
	if refs := cpu.GCRefs(token); len(refs) != 1 {
		t.Errorf("gc refs = %v", refs)
	}

	frame, err := cpu.Execute(token, history.ConstPtr{Value: young})
	if err != nil {
		t.Fatal(err)
	}
	if frame.Descr != history.Descr(compile.DoneWithThisFrameRef) || cpu.GetRefValue(frame, 0) != young {
		t.Errorf("frame = %+v", frame)
	}
	other := history.NewStructObj(history.NewSizeDescr("Other", nil))
	frame, err = cpu.Execute(token, history.ConstPtr{Value: other})
	if err != nil {
		t.Fatal(err)
	}
	if frame.Descr != guard.Descr {
		t.Errorf("expected guard failure, got %v", frame.Descr)
	}
}

// TestTmpCallbackException 测试回调抛出的异常经 PropagateExceptionDescr 传出
func TestTmpCallbackException(t *testing.T) {
	c, cpu := newCompiler(100)
	exc := history.NewStructObj(history.NewSizeDescr("ValueError", nil))
	portal := &history.FuncObj{Name: "portal", Impl: func(args []history.Value) (history.Value, error) {
		a, _ := history.IntValue(args[0])
		b, _ := history.IntValue(args[1])
		if b < 0 {
			return nil, &Raise{Exc: exc}
		}
		return history.ConstInt{Value: a + b}, nil
	}}
	calldescr := history.NewCallDescr("portal", []history.Type{history.INT, history.INT}, history.INT, history.RandomEffects())
	token, err := c.CompileTmpCallback(portal, calldescr, []history.Value{history.ConstInt{Value: 3}},
		[]history.Type{history.INT}, history.INT)
	if err != nil {
		t.Fatal(err)
	}

	frame, err := cpu.Execute(token, history.ConstInt{Value: 4})
	if err != nil {
		t.Fatal(err)
	}
	exit, err := c.HandleExit(frame, nil)
	if err != nil || exit.Kind != compile.ExitDone || exit.Value != (history.ConstInt{Value: 7}) {
		t.Fatalf("exit = %+v, %v", exit, err)
	}

	frame, err = cpu.Execute(token, history.ConstInt{Value: -1})
	if err != nil {
		t.Fatal(err)
	}
	exit, err = c.HandleExit(frame, nil)
	if err != nil || exit.Kind != compile.ExitException || exit.Value != (history.ConstPtr{Value: exc}) {
		t.Fatalf("exit = %+v, %v", exit, err)
	}
}

// TestForcedVirtuals 测试残余调用强制帧后虚拟对象保存在 savedata
func TestForcedVirtuals(t *testing.T) {
	c, cpu := newCompiler(100)
	size := history.NewSizeDescr("Point", nil)
	field := size.AddField("x", history.INT)

	fn := &history.FuncObj{Name: "escape", Impl: func(args []history.Value) (history.Value, error) {
		frame := cpu.Force(args[0].(history.ConstPtr).Value)
		d := cpu.GetLatestDescr(frame).(*compile.ResumeGuardForcedDescr)
		if err := d.HandleAsyncForcing(cpu, frame); err != nil {
			return nil, err
		}
		return history.ConstInt{}, nil
	}}
	calldescr := history.NewCallDescr("escape", []history.Type{history.REF}, history.INT, history.RandomEffects())

	i0 := history.NewBox(history.INT)
	h := history.NewHistory(i0)
	p := history.NewBox(history.REF)
	tok := history.NewBox(history.REF)
	r := history.NewBox(history.INT)
	h.Record(history.NEW, nil, p, size)
	h.Record(history.SETFIELD_GC, []history.Value{p, i0}, nil, field)
	h.Record(history.FORCE_TOKEN, nil, tok, nil)
	h.Record(history.CALL_MAY_FORCE, []history.Value{history.ConstPtr{Value: fn}, tok}, r, calldescr)
	h.RecordGuard(history.GUARD_NOT_FORCED, nil, nil, p, i0)
	h.Record(history.FINISH, []history.Value{r}, nil, compile.DoneWithThisFrameInt)

	if _, err := c.CompileTrace(h, &compile.ResumeFromInterpDescr{GreenKey: "escape"}); err != nil {
		t.Fatal(err)
	}
	token, ok := c.Entry("escape")
	if !ok {
		t.Fatal("entry not compiled")
	}
	if ops := history.Opnums(cpu.Operations(token)); ops[0] == history.NEW {
		t.Errorf("allocation should stay virtual: %v", ops)
	}

	frame, err := cpu.Execute(token, history.ConstInt{Value: 5})
	if err != nil {
		t.Fatal(err)
	}
	exit, err := c.HandleExit(frame, nil)
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != compile.ExitGuard || len(exit.Virtuals) != 1 {
		t.Fatalf("exit = %+v", exit)
	}
	s := exit.Virtuals[0].(*history.StructObj)
	if s.Get(field) != (history.ConstInt{Value: 5}) {
		t.Errorf("forced x = %v", s.Get(field))
	}
	if len(exit.Values) != 2 || exit.Values[1] != (history.ConstInt{Value: 5}) {
		t.Errorf("values = %v", exit.Values)
	}
}
