package annotator

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ============================================================================
// 测试辅助
// ============================================================================

func newTestAnnotator() *Annotator {
	return New(nil, config.AnnotatorConfig{}, nil)
}

func c(v interface{}) *flowmodel.Constant { return flowmodel.NewConstant(v) }

// annotateOp 对单个操作建图并分析，返回结果注解
func annotateOp(t *testing.T, name string, args ...annotation.SomeValue) (annotation.SomeValue, error) {
	t.Helper()
	argnames := make([]string, len(args))
	for i := range args {
		argnames[i] = "a"
	}
	b := flowmodel.NewBuilder("op_"+name, argnames...)
	hl := make([]flowmodel.Hlvalue, len(args))
	for i := range args {
		hl[i] = b.Arg(i)
	}
	b.Return(b.Op(name, hl...))
	return newTestAnnotator().BuildGraphTypes(b.Graph(), args)
}

// countingLoop 构造 i = 0; while i < n: i += 1; return i
func countingLoop() (*flowmodel.FunctionGraph, *flowmodel.Variable) {
	b := flowmodel.NewBuilder("loop", "n")
	head := b.NewBlock(2)
	body := b.NewBlock(2)
	exit := b.NewBlock(1)
	b.Jump(head, c(int64(0)), b.Arg(0))

	b.SetBlock(head)
	i, n := head.InputArgs[0], head.InputArgs[1]
	cond := b.Op("lt", i, n)
	b.Branch(cond, body, []flowmodel.Hlvalue{i, n}, exit, []flowmodel.Hlvalue{i})

	b.SetBlock(body)
	next := b.Op("add", body.InputArgs[0], c(int64(1)))
	b.Jump(head, next, body.InputArgs[1])

	b.SetBlock(exit)
	b.Return(exit.InputArgs[0])
	return b.Graph(), i
}

// ============================================================================
// 基本推断
// ============================================================================

// TestAddOneKeepsRange 测试 f(x) = x + 1 在 x ∈ [0,10] 时得到 [1,11]
func TestAddOneKeepsRange(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	b.Return(b.Op("add", b.Arg(0), c(int64(1))))
	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewIntegerRange(0, 10)})
	if err != nil {
		t.Fatal(err)
	}
	want := annotation.NewIntegerRange(1, 11)
	if !annotation.Equal(s, want) {
		t.Errorf("got %s, want %s", s, want)
	}
	if i := s.(*annotation.Integer); !i.Nonneg {
		t.Errorf("result should be nonneg: %s", s)
	}
}

// TestBuildTypesFromFunction 测试从宿主函数开始分析
func TestBuildTypesFromFunction(t *testing.T) {
	b := flowmodel.NewBuilder("double", "x")
	b.Return(b.Op("mul", b.Arg(0), c(int64(2))))
	fn := program.FromGraph(b.Graph())
	a := newTestAnnotator()
	s, err := a.BuildTypes(fn, []annotation.SomeValue{annotation.NewInteger(true)})
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := s.(*annotation.Integer); !ok || !i.Nonneg {
		t.Errorf("expected a nonneg integer, got %s", s)
	}
	if len(a.Graphs()) != 1 {
		t.Errorf("expected one graph, got %d", len(a.Graphs()))
	}
}

// TestLoopMonotonic 测试循环头变量的注解在每一步只会变大
func TestLoopMonotonic(t *testing.T) {
	g, i := countingLoop()
	a := newTestAnnotator()
	if err := a.addPendingGraph(g, []annotation.SomeValue{annotation.NewInteger(true)}); err != nil {
		t.Fatal(err)
	}
	var prev annotation.SomeValue
	for {
		more, err := a.Step()
		if err != nil {
			t.Fatal(err)
		}
		if cur := a.Binding(i); cur != nil {
			if prev != nil && !annotation.Contains(cur, prev) {
				t.Fatalf("annotation of i shrank from %s to %s", prev, cur)
			}
			prev = cur
		}
		if !more {
			break
		}
	}
	if err := a.Complete(); err != nil {
		t.Fatal(err)
	}
	res := a.Binding(g.GetReturnVar())
	if r, ok := res.(*annotation.Integer); !ok || !r.Nonneg {
		t.Errorf("loop result should be a nonneg integer, got %s", res)
	}
}

// TestLoopTerminates 测试循环在有限步内到达不动点
func TestLoopTerminates(t *testing.T) {
	g, _ := countingLoop()
	a := New(nil, config.AnnotatorConfig{MaxReflows: 500}, nil)
	if _, err := a.BuildGraphTypes(g, []annotation.SomeValue{annotation.NewInteger(false)}); err != nil {
		t.Fatal(err)
	}
	// 4 个块，整数区间最多放宽约 64 次
	if a.Steps() > 4*70 {
		t.Errorf("too many block reflows: %d", a.Steps())
	}
}

// TestMaxReflows 测试超过重流上限时报 A0201
func TestMaxReflows(t *testing.T) {
	g, _ := countingLoop()
	a := New(nil, config.AnnotatorConfig{MaxReflows: 2}, nil)
	_, err := a.BuildGraphTypes(g, []annotation.SomeValue{annotation.NewInteger(false)})
	if errs.CodeOf(err) != errs.A0201 {
		t.Errorf("expected A0201, got %v", err)
	}
}

// ============================================================================
// 二元分派
// ============================================================================

// TestPairDispatch 测试二元操作按最具体的标签对选择传递函数
func TestPairDispatch(t *testing.T) {
	tests := []struct {
		name string
		op   string
		x, y annotation.SomeValue
		want annotation.Kind
	}{
		{"bool+bool", "add", annotation.NewBool(), annotation.NewBool(), annotation.KInteger},
		{"int+float", "add", annotation.NewInteger(false), annotation.NewFloat(), annotation.KFloat},
		{"float+int", "mul", annotation.NewFloat(), annotation.NewInteger(false), annotation.KFloat},
		{"int/int", "truediv", annotation.NewInteger(false), annotation.NewInteger(false), annotation.KFloat},
		{"char+char", "add", annotation.NewChar(false), annotation.NewChar(false), annotation.KString},
		{"str[int]", "getitem", annotation.NewString(false, false), annotation.NewInteger(false), annotation.KChar},
		{"bool<int", "lt", annotation.NewBool(), annotation.NewInteger(false), annotation.KBool},
		{"str==int", "eq", annotation.NewString(false, false), annotation.NewInteger(false), annotation.KBool},
		{"bool&bool", "and_", annotation.NewBool(), annotation.NewBool(), annotation.KBool},
		{"inplace", "inplace_add", annotation.NewInteger(false), annotation.NewInteger(false), annotation.KInteger},
		{"ovf", "add_ovf", annotation.NewInteger(false), annotation.NewInteger(false), annotation.KInteger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := annotateOp(t, tt.op, tt.x, tt.y)
			if err != nil {
				t.Fatal(err)
			}
			if s.Kind() != tt.want {
				t.Errorf("%s(%s, %s) = %s, want kind %s", tt.op, tt.x, tt.y, s, tt.want)
			}
		})
	}
}

// TestPairDispatchUnsupported 测试没有传递函数的组合报 A0001
func TestPairDispatchUnsupported(t *testing.T) {
	bk := description.NewBookkeeper(nil, nil, nil)
	l, err := bk.NewList(annotation.NewInteger(false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := annotateOp(t, "sub", l, annotation.NewInteger(false)); errs.CodeOf(err) != errs.A0001 {
		t.Errorf("expected A0001, got %v", err)
	}
}

// TestConstantFolding 测试常量参数的折叠
func TestConstantFolding(t *testing.T) {
	tests := []struct {
		op   string
		x, y annotation.SomeValue
		want annotation.SomeValue
	}{
		{"add", annotation.ConstInt(2), annotation.ConstInt(3), annotation.ConstInt(5)},
		{"lt", annotation.ConstInt(2), annotation.ConstInt(3), annotation.ConstBool(true)},
		{"eq", annotation.ConstString("ab"), annotation.ConstString("ab"), annotation.ConstBool(true)},
		{"add", annotation.ConstString("ab"), annotation.ConstString("cd"), annotation.ConstString("abcd")},
		{"lt", annotation.NewIntegerRange(0, 3), annotation.NewIntegerRange(10, 20), annotation.ConstBool(true)},
		{"ge", annotation.NewIntegerRange(0, 3), annotation.NewIntegerRange(10, 20), annotation.ConstBool(false)},
	}
	for _, tt := range tests {
		s, err := annotateOp(t, tt.op, tt.x, tt.y)
		if err != nil {
			t.Fatal(err)
		}
		if !annotation.Equal(s, tt.want) {
			t.Errorf("%s(%s, %s) = %s, want %s", tt.op, tt.x, tt.y, s, tt.want)
		}
	}
}

// ============================================================================
// 调用
// ============================================================================

func incFunction(name, op string) *program.Function {
	return program.NewFunction(name, []string{"x"}, func(fn *program.Function, variant string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, "x")
		b.Return(b.Op(op, b.Arg(0), c(int64(1))))
		return b.Graph(), nil
	})
}

// TestCallFamilyClosure 测试同一调用点的所有被调者属于同一个调用族
func TestCallFamilyClosure(t *testing.T) {
	g := incFunction("g", "add")
	h := incFunction("h", "sub")

	b := flowmodel.NewBuilder("f", "flag")
	join := b.NewBlock(1)
	b.Branch(b.Arg(0), join, []flowmodel.Hlvalue{c(g)}, join, []flowmodel.Hlvalue{c(h)})
	b.SetBlock(join)
	b.Return(b.Op("simple_call", join.InputArgs[0], c(int64(5))))

	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewBool()})
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KInteger {
		t.Errorf("expected an integer result, got %s", s)
	}
	bk := a.Bookkeeper
	gd, _ := bk.GetDesc(g)
	hd, _ := bk.GetDesc(h)
	if bk.CallFamilyOf(gd) != bk.CallFamilyOf(hd) {
		t.Error("g and h are called from the same site and must share a call family")
	}
	if len(a.CallSites()) != 1 {
		t.Errorf("expected one call site, got %v", a.CallSites())
	}
	edges := a.CallGraph()
	if len(edges) != 2 {
		t.Fatalf("expected two call graph edges, got %d", len(edges))
	}
	fam := bk.CallFamilyOf(gd)
	if rows := fam.CallTables[description.CallShape{Count: 1}]; len(rows) != 1 || len(rows[0]) != 2 {
		t.Errorf("expected one row with both graphs, got %v", fam.CallTables)
	}
}

// TestCalleeReturnReflowsCaller 测试被调函数返回值变化时调用者被重新分析
func TestCalleeReturnReflowsCaller(t *testing.T) {
	callee := incFunction("callee", "add")
	b := flowmodel.NewBuilder("caller", "x")
	b.Return(b.Op("simple_call", c(callee), b.Arg(0)))
	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewIntegerRange(0, 10)})
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.Equal(s, annotation.NewIntegerRange(1, 11)) {
		t.Errorf("caller result = %s", s)
	}
}

// TestMethodCallOnCommonBase 测试 obj.m() 在 obj 为 A、B 公共父类实例时调用两个方法
func TestMethodCallOnCommonBase(t *testing.T) {
	retNone := func(name string) *program.Function {
		return program.NewFunction(name, []string{"self"}, func(fn *program.Function, _ string) (*flowmodel.FunctionGraph, error) {
			b := flowmodel.NewBuilder(fn.Name, "self")
			b.Return(c(nil))
			return b.Graph(), nil
		})
	}
	clsC := program.NewClass("C")
	clsA := program.NewClass("A", clsC).Set("m", retNone("A.m"))
	clsB := program.NewClass("B", clsC).Set("m", retNone("B.m"))

	a := newTestAnnotator()
	bk := a.Bookkeeper
	cdC, err := bk.GetUniqueClassDef(clsC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bk.GetUniqueClassDef(clsA); err != nil {
		t.Fatal(err)
	}
	if _, err := bk.GetUniqueClassDef(clsB); err != nil {
		t.Fatal(err)
	}

	b := flowmodel.NewBuilder("caller", "obj")
	meth := b.Op("getattr", b.Arg(0), c("m"))
	b.Return(b.Op("simple_call", meth))
	g := b.Graph()
	s, err := a.BuildGraphTypes(g, []annotation.SomeValue{annotation.NewInstance(cdC, false, nil)})
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KNone {
		t.Errorf("result = %s", s)
	}
	pbc, ok := a.Binding(meth).(*annotation.PBC)
	if !ok || len(pbc.Descs) != 2 {
		t.Fatalf("expected two bound methods, got %s", a.Binding(meth))
	}
	fdA, _ := bk.GetDesc(clsA.Dict["m"])
	fdB, _ := bk.GetDesc(clsB.Dict["m"])
	if bk.CallFamilyOf(fdA) != bk.CallFamilyOf(fdB) {
		t.Error("A.m and B.m must share a call family")
	}
}

// ============================================================================
// 分支与异常
// ============================================================================

// TestConstantExitPruned 测试常量条件只走匹配的出口
func TestConstantExitPruned(t *testing.T) {
	b := flowmodel.NewBuilder("f")
	yes := b.NewBlock(0)
	no := b.NewBlock(0)
	cond := b.Op("bool", c(int64(1)))
	b.Branch(cond, yes, nil, no, nil)
	b.SetBlock(yes)
	b.Return(c(int64(1)))
	b.SetBlock(no)
	b.Return(c("never"))
	g := b.Graph()

	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.Equal(s, annotation.ConstInt(1)) {
		t.Errorf("result = %s", s)
	}
	falseLink, trueLink := g.StartBlock.Exits[0], g.StartBlock.Exits[1]
	if a.LinkFollowed(falseLink) || !a.LinkFollowed(trueLink) {
		t.Error("only the true exit should be followed")
	}
	if a.Annotated(no) {
		t.Error("the dead block should not be annotated")
	}
}

// TestIsinstanceRefinesBranch 测试 isinstance 在真分支上细化实例类型
func TestIsinstanceRefinesBranch(t *testing.T) {
	base := program.NewClass("Base")
	sub := program.NewClass("Sub", base)
	a := newTestAnnotator()
	cdBase, _ := a.Bookkeeper.GetUniqueClassDef(base)
	cdSub, err := a.Bookkeeper.GetUniqueClassDef(sub)
	if err != nil {
		t.Fatal(err)
	}

	b := flowmodel.NewBuilder("f", "x")
	yes := b.NewBlock(1)
	no := b.NewBlock(0)
	cond := b.Op("simple_call", c(&program.Builtin{Name: "isinstance"}), b.Arg(0), c(sub))
	b.Branch(cond, yes, []flowmodel.Hlvalue{b.Arg(0)}, no, nil)
	b.SetBlock(yes)
	b.Return(yes.InputArgs[0])
	b.SetBlock(no)
	b.Return(c(nil))

	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewInstance(cdBase, false, nil)})
	if err != nil {
		t.Fatal(err)
	}
	inst, ok := s.(*annotation.Instance)
	if !ok || inst.ClassDef != cdSub || !inst.CanBeNone() {
		t.Errorf("expected a nullable Sub instance, got %s", s)
	}
	if got := a.Binding(yes.InputArgs[0]); got.(*annotation.Instance).ClassDef != cdSub {
		t.Errorf("true branch should see Sub, got %s", got)
	}
}

// TestCompareRefinesRange 测试整数比较在两个分支上收窄区间
func TestCompareRefinesRange(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	small := b.NewBlock(1)
	big := b.NewBlock(1)
	cond := b.Op("lt", b.Arg(0), c(int64(5)))
	b.Branch(cond, small, []flowmodel.Hlvalue{b.Arg(0)}, big, []flowmodel.Hlvalue{b.Arg(0)})
	b.SetBlock(small)
	b.Return(small.InputArgs[0])
	b.SetBlock(big)
	b.Return(big.InputArgs[0])

	a := newTestAnnotator()
	if _, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewIntegerRange(0, 100)}); err != nil {
		t.Fatal(err)
	}
	if got := a.Binding(small.InputArgs[0]); !annotation.Equal(got, annotation.NewIntegerRange(0, 4)) {
		t.Errorf("true side = %s, want [0,4]", got)
	}
	if got := a.Binding(big.InputArgs[0]); !annotation.Equal(got, annotation.NewIntegerRange(5, 100)) {
		t.Errorf("false side = %s, want [5,100]", got)
	}
}

// TestExceptionLinks 测试异常出口只接收操作可能抛出的异常
func TestExceptionLinks(t *testing.T) {
	a := newTestAnnotator()
	exc := a.Bookkeeper.Exceptions

	b := flowmodel.NewBuilder("f", "l", "i")
	v := b.Op("getitem_idx", b.Arg(0), b.Arg(1))
	ok := b.NewBlock(1)
	onIndex := b.NewBlock(2)
	onKey := b.NewBlock(2)
	b.Catch(ok, []flowmodel.Hlvalue{v},
		flowmodel.Handler{Class: exc.IndexError, Target: onIndex},
		flowmodel.Handler{Class: exc.KeyError, Target: onKey})
	b.SetBlock(ok)
	b.Return(ok.InputArgs[0])
	b.SetBlock(onIndex)
	b.Return(c(int64(-1)))
	b.SetBlock(onKey)
	b.Return(c(int64(-2)))
	g := b.Graph()

	l, err := a.Bookkeeper.NewList(annotation.NewIntegerRange(0, 100))
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.BuildGraphTypes(g, []annotation.SomeValue{l, annotation.NewInteger(false)})
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KInteger {
		t.Errorf("result = %s", s)
	}
	exits := g.StartBlock.Exits
	if !a.LinkFollowed(exits[0]) || !a.LinkFollowed(exits[1]) {
		t.Error("normal and IndexError exits should be followed")
	}
	if a.LinkFollowed(exits[2]) {
		t.Error("getitem_idx on a list never raises KeyError")
	}
	ev := a.Binding(onIndex.InputArgs[1])
	cdIndex, _ := a.Bookkeeper.GetUniqueClassDef(exc.IndexError)
	if inst, ok := ev.(*annotation.Instance); !ok || inst.ClassDef != cdIndex {
		t.Errorf("handler should see an IndexError instance, got %s", ev)
	}
	if et := a.Binding(onIndex.InputArgs[0]); et.Kind() != annotation.KType {
		t.Errorf("handler should see the exception type, got %s", et)
	}
}

// ============================================================================
// 容器
// ============================================================================

// TestListAppendAndRead 测试 append 泛化列表元素，读取得到元素注解
func TestListAppendAndRead(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	l := b.Op("newlist")
	m := b.Op("getattr", l, c("append"))
	b.Op("simple_call", m, b.Arg(0))
	b.Return(b.Op("getitem", l, c(int64(0))))

	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewInteger(true)})
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KInteger {
		t.Fatalf("list item = %s", s)
	}
	list := a.Binding(l).(*annotation.List)
	if !list.Def.Item().Resized {
		t.Error("append must mark the list as resized")
	}
}

// TestRangeList 测试 range() 的元素区间与步长
func TestRangeList(t *testing.T) {
	b := flowmodel.NewBuilder("f")
	l := b.Op("simple_call", c(&program.Builtin{Name: "range"}), c(int64(10)))
	b.Return(b.Op("getitem", l, c(int64(0))))
	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.Equal(s, annotation.NewIntegerRange(0, 9)) {
		t.Errorf("range item = %s, want [0,9]", s)
	}
	if step := a.Binding(l).(*annotation.List).Def.Item().RangeStep; step != 1 {
		t.Errorf("range step = %d", step)
	}
}

// TestDictGetItem 测试字典读写
func TestDictGetItem(t *testing.T) {
	b := flowmodel.NewBuilder("f", "k", "v")
	d := b.Op("newdict")
	b.Op("setitem", d, b.Arg(0), b.Arg(1))
	b.Return(b.Op("getitem", d, b.Arg(0)))
	a := newTestAnnotator()
	s, err := a.BuildGraphTypes(b.Graph(), []annotation.SomeValue{annotation.NewString(false, false), annotation.NewFloat()})
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KFloat {
		t.Errorf("dict value = %s", s)
	}
}

// ============================================================================
// 错误
// ============================================================================

// TestUnsupportedOperations 测试受限子集之外的操作
func TestUnsupportedOperations(t *testing.T) {
	str := annotation.NewString(false, false)
	tests := []struct {
		name  string
		build func(b *flowmodel.Builder) flowmodel.Hlvalue
		cells []annotation.SomeValue
		code  string
	}{
		{"hash", func(b *flowmodel.Builder) flowmodel.Hlvalue {
			return b.Op("hash", b.Arg(0))
		}, []annotation.SomeValue{str}, errs.A0002},
		{"delattr", func(b *flowmodel.Builder) flowmodel.Hlvalue {
			return b.Op("delattr", b.Arg(0), c("x"))
		}, []annotation.SomeValue{str}, errs.A0003},
		{"format", func(b *flowmodel.Builder) flowmodel.Hlvalue {
			m := b.Op("getattr", b.Arg(0), c("format"))
			return b.Op("simple_call", m)
		}, []annotation.SomeValue{str}, errs.A0004},
		{"getattr non-constant", func(b *flowmodel.Builder) flowmodel.Hlvalue {
			return b.Op("getattr", b.Arg(0), b.Arg(0))
		}, []annotation.SomeValue{str}, errs.A0005},
		{"unknown attribute", func(b *flowmodel.Builder) flowmodel.Hlvalue {
			return b.Op("getattr", b.Arg(0), c("nosuch"))
		}, []annotation.SomeValue{str}, errs.A0007},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := flowmodel.NewBuilder("f", "x")
			b.Return(tt.build(b))
			_, err := newTestAnnotator().BuildGraphTypes(b.Graph(), tt.cells)
			if errs.CodeOf(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
			if _, ok := errs.PositionOf(err); !ok {
				t.Errorf("error should carry a position: %v", err)
			}
		})
	}
}

// TestBlockedBlockReported 测试结果永远为 Impossible 的操作在结束时报 A0201
func TestBlockedBlockReported(t *testing.T) {
	b := flowmodel.NewBuilder("f")
	b.Return(b.Op("getattr", c(nil), c("x")))
	_, err := newTestAnnotator().BuildGraphTypes(b.Graph(), nil)
	if errs.CodeOf(err) != errs.A0201 {
		t.Fatalf("expected A0201, got %v", err)
	}
	pos, ok := errs.PositionOf(err)
	if !ok || pos.Op != 0 {
		t.Errorf("blocked position = %+v", pos)
	}
}

// TestArgumentCountMismatch 测试入口参数个数不符
func TestArgumentCountMismatch(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	b.Return(b.Arg(0))
	_, err := newTestAnnotator().BuildGraphTypes(b.Graph(), nil)
	if errs.CodeOf(err) != errs.A0100 {
		t.Errorf("expected A0100, got %v", err)
	}
}
