package rtyper

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/annotator"
	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ============================================================================
// 测试辅助
// ============================================================================

func newTestAnnotator() *annotator.Annotator {
	return annotator.New(nil, config.AnnotatorConfig{}, nil)
}

func c(v interface{}) *flowmodel.Constant { return flowmodel.NewConstant(v) }

func newTestRTyper(t *testing.T, a *annotator.Annotator) *RTyper {
	t.Helper()
	rt, err := New(a, config.TranslationConfig{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

// annotateAndSpecialize 注解 g 后类型化全部流图
func annotateAndSpecialize(t *testing.T, a *annotator.Annotator, g *flowmodel.FunctionGraph, args ...annotation.SomeValue) *RTyper {
	t.Helper()
	if _, err := a.BuildGraphTypes(g, args); err != nil {
		t.Fatal(err)
	}
	rt := newTestRTyper(t, a)
	if err := rt.Specialize(); err != nil {
		t.Fatal(err)
	}
	return rt
}

func incFunction(name, op string) *program.Function {
	return program.NewFunction(name, []string{"x"}, func(fn *program.Function, variant string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, "x")
		b.Return(b.Op(op, b.Arg(0), c(int64(1))))
		return b.Graph(), nil
	})
}

func retNone(name string, body func(b *flowmodel.Builder)) *program.Function {
	return program.NewFunction(name, []string{"self"}, func(fn *program.Function, _ string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, "self")
		if body != nil {
			body(b)
		}
		b.Return(c(nil))
		return b.Graph(), nil
	})
}

func opNames(g *flowmodel.FunctionGraph) []string {
	var names []string
	g.IterOperations(func(_ *flowmodel.Block, _ int, op *flowmodel.SpaceOperation) {
		names = append(names, op.OpName)
	})
	return names
}

// findOps 流图中名为 name 的所有操作
func findOps(g *flowmodel.FunctionGraph, name string) []*flowmodel.SpaceOperation {
	var out []*flowmodel.SpaceOperation
	g.IterOperations(func(_ *flowmodel.Block, _ int, op *flowmodel.SpaceOperation) {
		if op.OpName == name {
			out = append(out, op)
		}
	})
	return out
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func fieldArg(op *flowmodel.SpaceOperation) string {
	if len(op.Args) < 2 {
		return ""
	}
	if k, ok := op.Args[1].(*flowmodel.Constant); ok {
		s, _ := k.Value.(string)
		return s
	}
	return ""
}

// ============================================================================
// 整数
// ============================================================================

// TestIntAddLowering 测试 f(x) = x + 1 改写为 int_add，变量带 Signed 类型
func TestIntAddLowering(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	b.Return(b.Op("add", b.Arg(0), c(int64(1))))
	g := b.Graph()
	annotateAndSpecialize(t, newTestAnnotator(), g, annotation.NewInteger(false))

	ops := findOps(g, "int_add")
	if len(ops) != 1 {
		t.Fatalf("expected one int_add, got %v", opNames(g))
	}
	if ops[0].Result.ConcreteType() != lltype.Signed {
		t.Errorf("int_add result type = %v", ops[0].Result.ConcreteType())
	}
	if g.GetArgs()[0].ConcreteType() != lltype.Signed {
		t.Errorf("argument type = %v", g.GetArgs()[0].ConcreteType())
	}
	if g.GetReturnVar().ConcreteType() != lltype.Signed {
		t.Errorf("return type = %v", g.GetReturnVar().ConcreteType())
	}
}

// ============================================================================
// 类
// ============================================================================

// TestClassIDPreorder 测试子类区间嵌套在父类区间内，兄弟区间不相交
func TestClassIDPreorder(t *testing.T) {
	clsA := program.NewClass("A")
	clsB := program.NewClass("B", clsA)
	clsC := program.NewClass("C", clsA)
	clsD := program.NewClass("D")
	a := newTestAnnotator()
	defs := make(map[string]*description.ClassDef)
	for _, cls := range []*program.Class{clsA, clsB, clsC, clsD} {
		cd, err := a.Bookkeeper.GetUniqueClassDef(cls)
		if err != nil {
			t.Fatal(err)
		}
		defs[cls.Name] = cd
	}
	rt := newTestRTyper(t, a)
	rt.assignClassIDs()

	inside := func(sub, sup *description.ClassDef) bool {
		return sup.MinID <= sub.MinID && sub.MaxID <= sup.MaxID
	}
	disjoint := func(x, y *description.ClassDef) bool {
		return x.MaxID <= y.MinID || y.MaxID <= x.MinID
	}
	tests := []struct {
		name string
		ok   bool
	}{
		{"B inside A", inside(defs["B"], defs["A"])},
		{"C inside A", inside(defs["C"], defs["A"])},
		{"B and C disjoint", disjoint(defs["B"], defs["C"])},
		{"A and D disjoint", disjoint(defs["A"], defs["D"])},
		{"B does not contain A", !inside(defs["A"], defs["B"])},
	}
	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("%s: A=[%d,%d) B=[%d,%d) C=[%d,%d) D=[%d,%d)", tt.name,
				defs["A"].MinID, defs["A"].MaxID, defs["B"].MinID, defs["B"].MaxID,
				defs["C"].MinID, defs["C"].MaxID, defs["D"].MinID, defs["D"].MaxID)
		}
	}
	for name, cd := range defs {
		if cd.MinID >= cd.MaxID {
			t.Errorf("%s has an empty interval [%d,%d)", name, cd.MinID, cd.MaxID)
		}
	}
}

// TestSetattrWriteBarrier 测试写 gc 指针字段前先发出写屏障
func TestSetattrWriteBarrier(t *testing.T) {
	node := program.NewClass("Node")
	a := newTestAnnotator()
	cd, err := a.Bookkeeper.GetUniqueClassDef(node)
	if err != nil {
		t.Fatal(err)
	}
	b := flowmodel.NewBuilder("link", "n", "m")
	b.Op("setattr", b.Arg(0), c("next"), b.Arg(1))
	b.Return(b.Op("getattr", b.Arg(0), c("next")))
	g := b.Graph()
	annotateAndSpecialize(t, a, g, annotation.NewInstance(cd, false, nil), annotation.NewInstance(cd, true, nil))

	names := opNames(g)
	wb, set := indexOf(names, "gc_writebarrier"), indexOf(names, "setfield")
	if wb < 0 || set < 0 || wb > set {
		t.Fatalf("expected gc_writebarrier before setfield, got %v", names)
	}
	if f := fieldArg(findOps(g, "setfield")[0]); f != "inst_next" {
		t.Errorf("setfield writes %q", f)
	}
	gets := findOps(g, "getfield")
	if len(gets) == 0 || fieldArg(gets[len(gets)-1]) != "inst_next" {
		t.Errorf("expected a getfield of inst_next, got %v", names)
	}
}

// TestIsinstanceRangeCheck 测试 isinstance 对常量类改写为 typeptr 上的区间比较
func TestIsinstanceRangeCheck(t *testing.T) {
	base := program.NewClass("Base")
	sub := program.NewClass("Sub", base)
	a := newTestAnnotator()
	cdBase, err := a.Bookkeeper.GetUniqueClassDef(base)
	if err != nil {
		t.Fatal(err)
	}
	cdSub, err := a.Bookkeeper.GetUniqueClassDef(sub)
	if err != nil {
		t.Fatal(err)
	}
	b := flowmodel.NewBuilder("f", "x")
	b.Return(b.Op("simple_call", c(&program.Builtin{Name: "isinstance"}), b.Arg(0), c(sub)))
	g := b.Graph()
	annotateAndSpecialize(t, a, g, annotation.NewInstance(cdBase, false, nil))

	var sawTypePtr bool
	for _, op := range findOps(g, "getfield") {
		if fieldArg(op) == "typeptr" {
			sawTypePtr = true
		}
	}
	if !sawTypePtr {
		t.Errorf("expected a typeptr read, got %v", opNames(g))
	}
	between := findOps(g, "int_between")
	if len(between) != 1 {
		t.Fatalf("expected one int_between, got %v", opNames(g))
	}
	lo := between[0].Args[0].(*flowmodel.Constant)
	hi := between[0].Args[2].(*flowmodel.Constant)
	if lo.Value != int64(cdSub.MinID) || hi.Value != int64(cdSub.MaxID) {
		t.Errorf("range = [%v,%v), want [%d,%d)", lo.Value, hi.Value, cdSub.MinID, cdSub.MaxID)
	}
}

// ============================================================================
// 调用
// ============================================================================

// TestDirectCall 测试调用常量函数改写为 direct_call，函数指针指向被调流图
func TestDirectCall(t *testing.T) {
	callee := incFunction("callee", "add")
	b := flowmodel.NewBuilder("caller", "x")
	b.Return(b.Op("simple_call", c(callee), b.Arg(0)))
	g := b.Graph()
	a := newTestAnnotator()
	annotateAndSpecialize(t, a, g, annotation.NewInteger(false))

	calls := findOps(g, "direct_call")
	if len(calls) != 1 {
		t.Fatalf("expected one direct_call, got %v", opNames(g))
	}
	fn, ok := calls[0].Args[0].(*flowmodel.Constant).Value.(*lltype.PtrValue)
	if !ok {
		t.Fatalf("direct_call target is %T", calls[0].Args[0].(*flowmodel.Constant).Value)
	}
	cg, ok := fn.Obj.Graph.(*flowmodel.FunctionGraph)
	if !ok || cg.Name != "callee" {
		t.Errorf("direct_call target graph = %v", fn.Obj.Graph)
	}
	if len(findOps(cg, "int_add")) != 1 {
		t.Errorf("callee should be specialized too, got %v", opNames(cg))
	}
}

// TestIndirectCallLists 测试变量函数调用改写为 indirect_call，末参数列出候选流图
func TestIndirectCallLists(t *testing.T) {
	g1 := incFunction("g", "add")
	h1 := incFunction("h", "sub")
	b := flowmodel.NewBuilder("f", "flag")
	join := b.NewBlock(1)
	b.Branch(b.Arg(0), join, []flowmodel.Hlvalue{c(g1)}, join, []flowmodel.Hlvalue{c(h1)})
	b.SetBlock(join)
	b.Return(b.Op("simple_call", join.InputArgs[0], c(int64(5))))
	g := b.Graph()
	annotateAndSpecialize(t, newTestAnnotator(), g, annotation.NewBool())

	calls := findOps(g, "indirect_call")
	if len(calls) != 1 {
		t.Fatalf("expected one indirect_call, got %v", opNames(g))
	}
	last := calls[0].Args[len(calls[0].Args)-1].(*flowmodel.Constant)
	graphs, ok := last.Value.([]*flowmodel.FunctionGraph)
	if !ok || len(graphs) != 2 {
		t.Errorf("trailing argument = %v", last.Value)
	}
}

// TestMethodVTableDispatch 测试多实现的方法经虚表字段间接调用
func TestMethodVTableDispatch(t *testing.T) {
	clsC := program.NewClass("C")
	clsA := program.NewClass("A", clsC).Set("m", retNone("A.m", nil))
	clsB := program.NewClass("B", clsC).Set("m", retNone("B.m", nil))
	a := newTestAnnotator()
	bk := a.Bookkeeper
	cdC, err := bk.GetUniqueClassDef(clsC)
	if err != nil {
		t.Fatal(err)
	}
	for _, cls := range []*program.Class{clsA, clsB} {
		if _, err := bk.GetUniqueClassDef(cls); err != nil {
			t.Fatal(err)
		}
	}
	b := flowmodel.NewBuilder("caller", "obj")
	meth := b.Op("getattr", b.Arg(0), c("m"))
	b.Return(b.Op("simple_call", meth))
	g := b.Graph()
	rt := annotateAndSpecialize(t, a, g, annotation.NewInstance(cdC, false, nil))

	// 方法签名引用本类实例时不能再造出第二个表示
	ir, err := rt.getInstanceRepr(cdC)
	if err != nil {
		t.Fatal(err)
	}
	if ir.Struct() == nil || ir.Struct().Name != "C" {
		t.Errorf("instance struct = %v", ir.Struct())
	}

	names := opNames(g)
	var vt *flowmodel.SpaceOperation
	for _, op := range findOps(g, "getfield") {
		if fieldArg(op) == "cls_m" {
			vt = op
		}
	}
	if vt == nil {
		t.Fatalf("expected a vtable read of cls_m, got %v", names)
	}
	if indexOf(names, "indirect_call") < 0 {
		t.Errorf("expected an indirect_call, got %v", names)
	}
}

// ============================================================================
// 字典布局
// ============================================================================

// TestChooseEntryLayout 测试按键的注解选择表项布局
func TestChooseEntryLayout(t *testing.T) {
	nonneg := annotation.NewInteger(true)
	tests := []struct {
		name   string
		key    annotation.SomeValue
		custom bool
		want   EntryLayout
	}{
		{"char", annotation.NewChar(false), false, EntryLayout{DummyKey: true, EverUsed: true}},
		{"nonneg int", nonneg, false, EntryLayout{DummyKey: true, EverUsed: true}},
		{"signed int", annotation.NewInteger(false), false, EntryLayout{Valid: true}},
		{"non-null string", annotation.NewString(false, false), false, EntryLayout{DummyKey: true}},
		{"nullable string", annotation.NewString(true, false), false, EntryLayout{Valid: true}},
		{"float", annotation.NewFloat(), false, EntryLayout{Valid: true}},
		{"custom eq", annotation.NewFloat(), true, EntryLayout{Valid: true, StoredHash: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := annotation.NewDictDef(nil, tt.key, annotation.NewInteger(false), false, false)
			def.CustomEqHash = tt.custom
			if got := ChooseEntryLayout(def, tt.key); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ============================================================================
// 错误
// ============================================================================

// TestTyperErrors 测试表示缺失、常量类型不符与未知低层操作的错误码
func TestTyperErrors(t *testing.T) {
	rt := newTestRTyper(t, newTestAnnotator())
	ints := annotation.NewTuple([]annotation.SomeValue{annotation.NewInteger(false), annotation.NewInteger(false)})

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{"heterogeneous tuple iteration", func() error {
			tup := annotation.NewTuple([]annotation.SomeValue{annotation.NewInteger(false), annotation.NewString(false, false)})
			_, err := rt.GetRepr(annotation.NewIterator(tup, ""))
			return err
		}, errs.T0001},
		{"tuple constant of wrong length", func() error {
			r, err := rt.GetRepr(ints)
			if err != nil {
				return err
			}
			_, err = r.ConvertConst([]interface{}{int64(1)})
			return err
		}, errs.T0002},
		{"unknown low-level operation", func() error {
			llops := newLowLevelOpList(rt)
			llops.Genop("no_such_operation", nil, lltype.Void)
			return llops.err
		}, errs.T0003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errs.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

// ============================================================================
// 终结器
// ============================================================================

// allocating 构造 f() = cls()，让实例类被注解
func allocating(cls *program.Class) *flowmodel.FunctionGraph {
	b := flowmodel.NewBuilder("alloc_" + cls.Name)
	b.Return(b.Op("simple_call", c(cls)))
	return b.Graph()
}

// TestLightFinalizer 测试不分配内存的终结器被标记为轻量
func TestLightFinalizer(t *testing.T) {
	res := program.NewClass("Res").Set("__del__", retNone("Res.__del__", nil))
	a := newTestAnnotator()
	cd, err := a.Bookkeeper.GetUniqueClassDef(res)
	if err != nil {
		t.Fatal(err)
	}
	rt := annotateAndSpecialize(t, a, allocating(res))
	ir, err := rt.getInstanceRepr(cd)
	if err != nil {
		t.Fatal(err)
	}
	info, ok := rt.RTTI()[ir.Struct()]
	if !ok {
		t.Fatal("Res should carry runtime type info")
	}
	if !info.Light {
		t.Error("an empty __del__ should be light")
	}
	if info.Destructor != "Res.__del__" {
		t.Errorf("destructor = %q", info.Destructor)
	}
}

// TestMustBeLightFinalizer 测试声明必须轻量但会分配内存的终结器报 T0004
func TestMustBeLightFinalizer(t *testing.T) {
	other := program.NewClass("Other")
	del := retNone("Res.__del__", func(b *flowmodel.Builder) {
		b.Op("simple_call", c(other))
	})
	res := program.NewClass("Res").Set("__del__", del).Set(mustBeLightAttr, true)
	a := newTestAnnotator()
	if _, err := a.Bookkeeper.GetUniqueClassDef(res); err != nil {
		t.Fatal(err)
	}
	if _, err := a.BuildGraphTypes(allocating(res), nil); err != nil {
		t.Fatal(err)
	}
	err := newTestRTyper(t, a).Specialize()
	if got := errs.CodeOf(err); got != errs.T0004 {
		t.Errorf("code = %s, want T0004 (%v)", got, err)
	}
}

// TestAnalyzeLight 测试轻量分析允许的操作
func TestAnalyzeLight(t *testing.T) {
	tests := []struct {
		op    string
		light bool
	}{
		{"int_add", true},
		{"getfield", true},
		{"debug_print", true},
		{"malloc", false},
		{"direct_call", false},
	}
	for _, tt := range tests {
		b := flowmodel.NewBuilder("del", "self")
		b.Op(tt.op, b.Arg(0))
		b.Return(c(nil))
		bad := analyzeLight(b.Graph())
		if (bad == nil) != tt.light {
			t.Errorf("%s: light = %v, want %v", tt.op, bad == nil, tt.light)
		}
	}
}
