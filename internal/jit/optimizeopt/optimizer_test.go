package optimizeopt

import (
	"slices"
	"testing"

	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// ============================================================================
// 辅助函数
// ============================================================================

type testStruct struct {
	size *history.SizeDescr
	f    *history.FieldDescr
	g    *history.FieldDescr
	ref  *history.FieldDescr
}

func newTestStruct() *testStruct {
	size := history.NewSizeDescr("S", nil)
	return &testStruct{
		size: size,
		f:    size.AddField("f", history.INT),
		g:    size.AddField("g", history.INT),
		ref:  size.AddField("next", history.REF),
	}
}

func optimize(t *testing.T, ops ...*history.ResOp) (*Optimizer, []*history.ResOp) {
	t.Helper()
	opt := New(config.Default().JIT, nil, nil)
	out, err := opt.Propagate(ops)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	return opt, out
}

func expectOpnums(t *testing.T, out []*history.ResOp, want ...history.Opnum) {
	t.Helper()
	if got := history.Opnums(out); !slices.Equal(got, want) {
		t.Fatalf("ops = %v, want %v\n%s", got, want, history.FormatTrace(nil, out))
	}
}

func finish(args ...history.Value) *history.ResOp {
	return history.NewOp(history.FINISH, args, nil, &history.BasicFinalDescr{})
}

func guardTrue(c history.Value, failargs ...history.Value) *history.ResOp {
	g := history.NewOp(history.GUARD_TRUE, []history.Value{c}, nil, &history.BasicFailDescr{Identifier: 1})
	g.FailArgs = failargs
	return g
}

func getfield(s history.Value, d *history.FieldDescr) (*history.ResOp, *history.Box) {
	res := history.NewBox(d.Typ)
	return history.NewOp(history.GETFIELD_GC, []history.Value{s}, res, d), res
}

func setfield(s, v history.Value, d *history.FieldDescr) *history.ResOp {
	return history.NewOp(history.SETFIELD_GC, []history.Value{s, v}, nil, d)
}

func call(descr *history.CallDescr, fn *history.FuncObj, result *history.Box, args ...history.Value) *history.ResOp {
	all := append([]history.Value{history.ConstPtr{Value: fn}}, args...)
	return history.NewOp(history.CALL, all, result, descr)
}

// ============================================================================
// 堆缓存
// ============================================================================

// TestHeapGetfieldForwarding 测试读后写后读：第二次读直接得到写入的值
func TestHeapGetfieldForwarding(t *testing.T) {
	ts := newTestStruct()
	s := history.NewBox(history.REF)
	get1, y := getfield(s, ts.f)
	get2, z := getfield(s, ts.f)

	_, out := optimize(t, get1, setfield(s, history.ConstInt{Value: 42}, ts.f), get2, finish(y, z))

	expectOpnums(t, out, history.GETFIELD_GC, history.SETFIELD_GC, history.FINISH)
	fin := out[2]
	if fin.Args[0] != history.Value(y) {
		t.Errorf("first result = %v, want %v", fin.Args[0], y)
	}
	if !history.Same(fin.Args[1], history.ConstInt{Value: 42}) {
		t.Errorf("second read = %v, want 42", fin.Args[1])
	}
}

// TestHeapLazyStoreFlushedAtGuard 测试延迟的写在守卫之前输出
func TestHeapLazyStoreFlushedAtGuard(t *testing.T) {
	ts := newTestStruct()
	s := history.NewBox(history.REF)
	c := history.NewBox(history.INT)
	get1, y := getfield(s, ts.f)
	get2, z := getfield(s, ts.f)

	_, out := optimize(t,
		get1,
		setfield(s, history.ConstInt{Value: 42}, ts.f),
		get2,
		guardTrue(c, s),
		finish(y, z),
	)
	expectOpnums(t, out, history.GETFIELD_GC, history.SETFIELD_GC, history.GUARD_TRUE, history.FINISH)
}

// TestHeapStoreCancellation 测试重复的写与写回已知值
func TestHeapStoreCancellation(t *testing.T) {
	ts := newTestStruct()

	t.Run("same store twice", func(t *testing.T) {
		s := history.NewBox(history.REF)
		v := history.NewBox(history.INT)
		_, out := optimize(t, setfield(s, v, ts.f), setfield(s, v, ts.f), finish())
		expectOpnums(t, out, history.SETFIELD_GC, history.FINISH)
	})

	t.Run("store back the loaded value", func(t *testing.T) {
		s := history.NewBox(history.REF)
		get, y := getfield(s, ts.f)
		_, out := optimize(t, get, setfield(s, y, ts.f), finish(y))
		expectOpnums(t, out, history.GETFIELD_GC, history.FINISH)
	})
}

// TestHeapAliasing 测试可能别名的操作之前输出延迟的写
func TestHeapAliasing(t *testing.T) {
	ts := newTestStruct()
	fn := &history.FuncObj{Name: "g"}

	t.Run("call with random effects", func(t *testing.T) {
		s := history.NewBox(history.REF)
		a := history.NewBox(history.INT)
		descr := history.NewCallDescr("g", nil, history.VOID, nil)
		get, z := getfield(s, ts.f)
		_, out := optimize(t, setfield(s, a, ts.f), call(descr, fn, nil), get, finish(z))
		expectOpnums(t, out, history.SETFIELD_GC, history.CALL, history.GETFIELD_GC, history.FINISH)
	})

	t.Run("read of another struct", func(t *testing.T) {
		s1 := history.NewBox(history.REF)
		s2 := history.NewBox(history.REF)
		a := history.NewBox(history.INT)
		get, z := getfield(s2, ts.f)
		_, out := optimize(t, setfield(s1, a, ts.f), get, finish(z))
		expectOpnums(t, out, history.SETFIELD_GC, history.GETFIELD_GC, history.FINISH)
	})

	t.Run("call reading an unrelated field", func(t *testing.T) {
		s := history.NewBox(history.REF)
		a := history.NewBox(history.INT)
		descr := history.NewCallDescr("g", nil, history.VOID, history.Elidable(ts.g))
		get, z := getfield(s, ts.f)
		_, out := optimize(t, setfield(s, a, ts.f), call(descr, fn, nil), get, finish(z))
		expectOpnums(t, out, history.CALL, history.SETFIELD_GC, history.FINISH)
		if out[2].Args[0] != history.Value(a) {
			t.Errorf("read after call = %v, want %v", out[2].Args[0], a)
		}
	})
}

// TestHeapPendingVirtualField 测试写入虚拟对象的延迟写进入守卫的恢复数据
func TestHeapPendingVirtualField(t *testing.T) {
	ts := newTestStruct()
	s := history.NewBox(history.REF)
	c := history.NewBox(history.INT)
	p := history.NewBox(history.REF)

	opt, out := optimize(t,
		history.NewOp(history.NEW, nil, p, ts.size),
		setfield(s, p, ts.ref),
		guardTrue(c, s),
		finish(),
	)
	expectOpnums(t, out, history.GUARD_TRUE, history.NEW, history.SETFIELD_GC, history.FINISH)

	data := opt.ResumeData(out[0])
	if data == nil {
		t.Fatal("guard has no resume data")
	}
	if len(data.Pending) != 1 {
		t.Fatalf("pending fields = %d, want 1", len(data.Pending))
	}
	if data.NumVirtuals() != 1 {
		t.Errorf("virtuals = %d, want 1", data.NumVirtuals())
	}
}

// TestBogusImmutableField 测试对不可变字段的写
func TestBogusImmutableField(t *testing.T) {
	ts := newTestStruct()
	s := history.NewBox(history.REF)
	x := history.NewBox(history.INT)
	ops := []*history.ResOp{
		history.NewOp(history.GETFIELD_GC_PURE, []history.Value{s}, x, ts.f),
		setfield(s, history.CONST_1, ts.f),
		finish(x),
	}
	_, err := New(config.Default().JIT, nil, nil).Propagate(ops)
	if code := errs.CodeOf(err); code != errs.J0003 {
		t.Errorf("error = %v, want code %s", err, errs.J0003)
	}
}

// TestQuasiImmutableChanged 测试追踪后被修改的准不可变字段
func TestQuasiImmutableChanged(t *testing.T) {
	ts := newTestStruct()
	obj := history.NewStructObj(ts.size)
	qd := history.NewQuasiImmutDescr(obj, ts.f, &history.QuasiImmut{})
	obj.Fields[ts.f] = history.ConstInt{Value: 5}

	ops := []*history.ResOp{
		history.NewOp(history.QUASIIMMUT_FIELD, []history.Value{history.ConstPtr{Value: obj}}, nil, qd),
		finish(),
	}
	_, err := New(config.Default().JIT, nil, nil).Propagate(ops)
	if !errs.IsInvalidLoop(err) {
		t.Errorf("error = %v, want invalid loop", err)
	}
}

// TestQuasiImmutableRecorded 测试常量结构体的准不可变字段登记依赖
func TestQuasiImmutableRecorded(t *testing.T) {
	ts := newTestStruct()
	obj := history.NewStructObj(ts.size)
	mut := &history.QuasiImmut{}
	qd := history.NewQuasiImmutDescr(obj, ts.f, mut)

	opt, out := optimize(t,
		history.NewOp(history.QUASIIMMUT_FIELD, []history.Value{history.ConstPtr{Value: obj}}, nil, qd),
		finish(),
	)
	expectOpnums(t, out, history.FINISH)
	if _, ok := opt.QuasiImmutableDeps[mut]; !ok {
		t.Error("dependency not recorded")
	}
}

// ============================================================================
// 虚拟结构体
// ============================================================================

// TestVirtualStruct 测试不逃逸的对象被删除、逃逸的对象在使用处分配
func TestVirtualStruct(t *testing.T) {
	ts := newTestStruct()

	t.Run("removed", func(t *testing.T) {
		p := history.NewBox(history.REF)
		x := history.NewBox(history.INT)
		get, y := getfield(p, ts.f)
		_, out := optimize(t,
			history.NewOp(history.NEW, nil, p, ts.size),
			setfield(p, x, ts.f),
			get,
			finish(y),
		)
		expectOpnums(t, out, history.FINISH)
		if out[0].Args[0] != history.Value(x) {
			t.Errorf("result = %v, want %v", out[0].Args[0], x)
		}
	})

	t.Run("escapes", func(t *testing.T) {
		p := history.NewBox(history.REF)
		x := history.NewBox(history.INT)
		_, out := optimize(t,
			history.NewOp(history.NEW, nil, p, ts.size),
			setfield(p, x, ts.f),
			finish(p),
		)
		expectOpnums(t, out, history.NEW, history.SETFIELD_GC, history.FINISH)
	})
}

// ============================================================================
// 虚拟字符串
// ============================================================================

func strCall(t *testing.T, idx history.OopSpecIndex, result *history.Box, args ...history.Value) *history.ResOp {
	t.Helper()
	info, ok := DefaultCallInfo().Lookup(idx)
	if !ok {
		t.Fatalf("no helper for %d", idx)
	}
	return call(info.Descr, info.Func, result, args...)
}

// TestVStringConstant 测试逐字符写入常量得到字符串常量
func TestVStringConstant(t *testing.T) {
	v := history.NewBox(history.REF)
	set := func(i int64, ch rune) *history.ResOp {
		args := []history.Value{v, history.ConstInt{Value: i}, history.ConstInt{Value: int64(ch)}}
		return history.NewOp(history.STRSETITEM, args, nil, nil)
	}
	_, out := optimize(t,
		history.NewOp(history.NEWSTR, []history.Value{history.ConstInt{Value: 3}}, v, nil),
		set(0, 'a'), set(1, 'b'), set(2, 'c'),
		finish(v),
	)
	expectOpnums(t, out, history.FINISH)
	if s, ok := history.StrValue(out[0].Args[0]); !ok || s != "abc" {
		t.Errorf("result = %v, want \"abc\"", out[0].Args[0])
	}
}

// TestVStringForced 测试部分未知的虚拟字符串在逃逸时分配，长度不变
func TestVStringForced(t *testing.T) {
	v := history.NewBox(history.REF)
	x := history.NewBox(history.INT)
	n := history.NewBox(history.INT)
	_, out := optimize(t,
		history.NewOp(history.NEWSTR, []history.Value{history.ConstInt{Value: 2}}, v, nil),
		history.NewOp(history.STRSETITEM, []history.Value{v, history.CONST_0, x}, nil, nil),
		history.NewOp(history.STRSETITEM, []history.Value{v, history.CONST_1, history.ConstInt{Value: 'b'}}, nil, nil),
		history.NewOp(history.STRLEN, []history.Value{v}, n, nil),
		finish(v, n),
	)
	expectOpnums(t, out, history.NEWSTR, history.STRSETITEM, history.STRSETITEM, history.FINISH)
	if !history.Same(out[0].Args[0], out[3].Args[1]) {
		t.Errorf("allocated length %v differs from strlen %v", out[0].Args[0], out[3].Args[1])
	}
}

// TestVStringConcat 测试常量的拼接与切片
func TestVStringConcat(t *testing.T) {
	r := history.NewBox(history.REF)
	sl := history.NewBox(history.REF)
	_, out := optimize(t,
		strCall(t, history.OS_STR_CONCAT, r, history.ConstString("ab"), history.ConstString("cde")),
		strCall(t, history.OS_STR_SLICE, sl, r, history.CONST_1, history.ConstInt{Value: 4}),
		finish(r, sl),
	)
	expectOpnums(t, out, history.FINISH)
	tests := []struct {
		arg  int
		want string
	}{
		{0, "abcde"},
		{1, "bcd"},
	}
	for _, tt := range tests {
		if s, ok := history.StrValue(out[0].Args[tt.arg]); !ok || s != tt.want {
			t.Errorf("arg %d = %v, want %q", tt.arg, out[0].Args[tt.arg], tt.want)
		}
	}
}

// TestVStringSliceLength 测试切片的长度在分配前后一致
func TestVStringSliceLength(t *testing.T) {
	s := history.NewBox(history.REF)
	sl := history.NewBox(history.REF)
	n := history.NewBox(history.INT)
	_, out := optimize(t,
		strCall(t, history.OS_STR_SLICE, sl, s, history.CONST_1, history.ConstInt{Value: 4}),
		history.NewOp(history.STRLEN, []history.Value{sl}, n, nil),
		finish(sl, n),
	)
	expectOpnums(t, out, history.NEWSTR, history.COPYSTRCONTENT, history.FINISH)
	if !history.Same(out[2].Args[1], history.ConstInt{Value: 3}) {
		t.Errorf("strlen = %v, want 3", out[2].Args[1])
	}
	if !history.Same(out[0].Args[0], history.ConstInt{Value: 3}) {
		t.Errorf("newstr length = %v, want 3", out[0].Args[0])
	}
}

// TestStrEqual 测试字符串比较的特殊化
func TestStrEqual(t *testing.T) {
	t.Run("different lengths", func(t *testing.T) {
		r := history.NewBox(history.INT)
		_, out := optimize(t,
			strCall(t, history.OS_STR_EQUAL, r, history.ConstString("ab"), history.ConstString("abc")),
			finish(r),
		)
		expectOpnums(t, out, history.FINISH)
		if !history.Same(out[0].Args[0], history.CONST_0) {
			t.Errorf("result = %v, want 0", out[0].Args[0])
		}
	})

	t.Run("single char", func(t *testing.T) {
		s := history.NewBox(history.REF)
		r := history.NewBox(history.INT)
		_, out := optimize(t,
			strCall(t, history.OS_STR_EQUAL, r, s, history.ConstString("a")),
			finish(r),
		)
		expectOpnums(t, out, history.CALL, history.FINISH)
		fn, ok := out[0].Args[0].(history.ConstPtr).Value.(*history.FuncObj)
		if !ok || fn.Name != "ll_streq_checknull_char" {
			t.Errorf("call target = %v", out[0].Args[0])
		}
	})
}

// ============================================================================
// 整数区间与纯操作
// ============================================================================

// TestIntBoundsFoldsGuard 测试由区间证明成立的比较和守卫被删除
func TestIntBoundsFoldsGuard(t *testing.T) {
	x := history.NewBox(history.INT)
	i := history.NewBox(history.INT)
	c := history.NewBox(history.INT)
	_, out := optimize(t,
		history.NewOp(history.INT_AND, []history.Value{x, history.ConstInt{Value: 15}}, i, nil),
		history.NewOp(history.INT_LT, []history.Value{i, history.ConstInt{Value: 16}}, c, nil),
		guardTrue(c, x),
		finish(i),
	)
	expectOpnums(t, out, history.INT_AND, history.FINISH)
}

// TestPureCSE 测试相同的纯操作只计算一次
func TestPureCSE(t *testing.T) {
	x := history.NewBox(history.INT)
	y := history.NewBox(history.INT)
	a := history.NewBox(history.INT)
	b := history.NewBox(history.INT)
	_, out := optimize(t,
		history.NewOp(history.INT_MUL, []history.Value{x, y}, a, nil),
		history.NewOp(history.INT_MUL, []history.Value{x, y}, b, nil),
		finish(a, b),
	)
	expectOpnums(t, out, history.INT_MUL, history.FINISH)
	if out[1].Args[1] != history.Value(a) {
		t.Errorf("second product = %v, want %v", out[1].Args[1], a)
	}
}

// TestGuardContradiction 测试必然失败的守卫
func TestGuardContradiction(t *testing.T) {
	c := history.NewBox(history.INT)
	g2 := history.NewOp(history.GUARD_FALSE, []history.Value{c}, nil, &history.BasicFailDescr{Identifier: 2})
	_, err := New(config.Default().JIT, nil, nil).Propagate([]*history.ResOp{guardTrue(c), g2, finish()})
	if !errs.IsInvalidLoop(err) {
		t.Errorf("error = %v, want invalid loop", err)
	}
}

// TestEnabledPasses 测试只启用部分优化
func TestEnabledPasses(t *testing.T) {
	cfg := config.Default().JIT
	cfg.Enable = []string{OptRewriteName}
	opt := New(cfg, nil, nil)
	if opt.heap != nil || opt.pure != nil {
		t.Error("disabled passes were created")
	}
	p := history.NewBox(history.REF)
	out, err := opt.Propagate([]*history.ResOp{
		history.NewOp(history.NEW, nil, p, newTestStruct().size),
		finish(p),
	})
	if err != nil {
		t.Fatal(err)
	}
	expectOpnums(t, out, history.NEW, history.FINISH)
}
