package description

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
	"github.com/tangzhangming/solatrans/internal/rlib/rbigint"
)

// ============================================================================
// 测试辅助
// ============================================================================

type fakeAnnotator struct {
	calls   []*flowmodel.FunctionGraph
	cells   [][]annotation.SomeValue
	result  annotation.SomeValue
	reflows []flowmodel.PositionKey
}

func (f *fakeAnnotator) RecursiveCall(g *flowmodel.FunctionGraph, _ *flowmodel.PositionKey, cells []annotation.SomeValue) (annotation.SomeValue, error) {
	f.calls = append(f.calls, g)
	f.cells = append(f.cells, append([]annotation.SomeValue(nil), cells...))
	if f.result == nil {
		return annotation.SNone, nil
	}
	return f.result, nil
}

func (f *fakeAnnotator) ReflowFromPosition(pos flowmodel.PositionKey) {
	f.reflows = append(f.reflows, pos)
}

func (f *fakeAnnotator) AddPendingBlock(*flowmodel.FunctionGraph, *flowmodel.Block, []annotation.SomeValue) error {
	return nil
}

func (f *fakeAnnotator) Binding(flowmodel.Hlvalue) annotation.SomeValue { return nil }
func (f *fakeAnnotator) CallSites() []flowmodel.PositionKey             { return nil }

func newTestBookkeeper() (*Bookkeeper, *fakeAnnotator) {
	bk := NewBookkeeper(nil, nil, nil)
	fa := &fakeAnnotator{}
	bk.Annotator = fa
	return bk, fa
}

// returnsNone 构造一个返回 None 的函数
func returnsNone(name string, args ...string) *program.Function {
	return program.NewFunction(name, args, func(fn *program.Function, variant string) (*flowmodel.FunctionGraph, error) {
		b := flowmodel.NewBuilder(fn.Name, fn.Signature.ArgNames...)
		b.Return(flowmodel.NewConstant(nil))
		return b.Graph(), nil
	})
}

type intInfo struct {
	members []int
}

func (i *intInfo) Absorb(other *intInfo) error {
	i.members = append(i.members, other.members...)
	return nil
}

// ============================================================================
// 并查集与调用族
// ============================================================================

// TestUnionFind 测试合并、代表元与信息吸收
func TestUnionFind(t *testing.T) {
	uf := NewUnionFind[int, *intInfo](func(k int) *intInfo { return &intInfo{members: []int{k}} })
	for i := 1; i <= 5; i++ {
		uf.Find(i)
	}
	if uf.Len() != 5 {
		t.Fatalf("expected 5 classes, got %d", uf.Len())
	}
	changed, _, _, _ := uf.Union(1, 2)
	if !changed {
		t.Fatal("union(1, 2) should change")
	}
	uf.Union(3, 4)
	_, rep, info, _ := uf.Union(2, 4)
	if uf.Len() != 2 {
		t.Fatalf("expected 2 classes, got %d", uf.Len())
	}
	if len(info.members) != 4 {
		t.Errorf("merged class should have 4 members, got %v", info.members)
	}
	for _, k := range []int{1, 2, 3, 4} {
		if r, _ := uf.Find(k); r != rep {
			t.Errorf("find(%d) = %d, want %d", k, r, rep)
		}
	}
	if changed, _, _, _ := uf.Union(1, 3); changed {
		t.Error("union within one class should not change")
	}
	if _, ok := uf.Lookup(99); ok {
		t.Error("lookup must not create")
	}
	if uf.Contains(99) {
		t.Error("99 should not be registered")
	}
}

// TestCallFamilyRows 测试调用表的行去重与合并
func TestCallFamilyRows(t *testing.T) {
	bk, _ := newTestBookkeeper()
	fa, _ := bk.GetDesc(returnsNone("fa", "x"))
	fb, _ := bk.GetDesc(returnsNone("fb", "x"))
	g1 := flowmodel.NewBuilder("g1").Graph()
	g2 := flowmodel.NewBuilder("g2").Graph()

	famA := NewCallFamily(fa)
	shape := CallShape{Count: 1}
	famA.AddRow(shape, Row{fa: g1})
	famA.AddRow(shape, Row{fa: g1})
	if n := len(famA.CallTables[shape]); n != 1 {
		t.Fatalf("duplicate row should be ignored, table has %d rows", n)
	}
	famB := NewCallFamily(fb)
	famB.AddRow(shape, Row{fb: g2})
	if err := famA.Absorb(famB); err != nil {
		t.Fatal(err)
	}
	if famA.Descs.Size() != 2 || len(famA.CallTables[shape]) != 2 {
		t.Errorf("absorb should merge descs and rows: %d descs, %d rows", famA.Descs.Size(), len(famA.CallTables[shape]))
	}
	if _, ok := famA.LookupRow(shape, Row{fb: g2}); !ok {
		t.Error("row of absorbed family missing")
	}
	if got := famA.SortedDescs(); got[0] != fa || got[1] != fb {
		t.Errorf("sorted descs = %v", got)
	}
}

// ============================================================================
// 策略与特化
// ============================================================================

// TestPolicyGetSpecializer 测试特化标签解析
func TestPolicyGetSpecializer(t *testing.T) {
	p := NewPolicy()
	tests := []struct {
		tag    string
		params []string
		code   string
	}{
		{"", nil, ""},
		{"specialize:memo", nil, ""},
		{"specialize:arg(0, 2)", []string{"0", "2"}, ""},
		{"specialize:argtype(1)", []string{"1"}, ""},
		{"override:fast_path", []string{"fast_path"}, ""},
		{"specialize:nonsense", nil, errs.A0008},
		{"specialize:arg(0", nil, errs.A0008},
		{"frobnicate:arg(0)", nil, errs.A0008},
	}
	for _, tt := range tests {
		spec, params, err := p.GetSpecializer(tt.tag)
		if tt.code != "" {
			if errs.CodeOf(err) != tt.code {
				t.Errorf("%q: expected %s, got %v", tt.tag, tt.code, err)
			}
			continue
		}
		if err != nil || spec == nil {
			t.Errorf("%q: unexpected error %v", tt.tag, err)
			continue
		}
		if len(params) != len(tt.params) {
			t.Errorf("%q: params %v, want %v", tt.tag, params, tt.params)
			continue
		}
		for i := range params {
			if params[i] != tt.params[i] {
				t.Errorf("%q: params %v, want %v", tt.tag, params, tt.params)
			}
		}
	}
}

// TestSpecializeArgValue 测试按常量参数值分出不同流图
func TestSpecializeArgValue(t *testing.T) {
	bk, fa := newTestBookkeeper()
	fn := returnsNone("pick", "mode", "x")
	fn.SpecialCase = "specialize:arg(0)"
	d, _ := bk.GetDesc(fn)
	fd := d.(*FunctionDesc)

	call := func(mode int64) {
		t.Helper()
		if _, err := fd.Pycall(nil, SimpleArgs(annotation.ConstInt(mode), annotation.NewInteger(false)), annotation.SImpossible, nil); err != nil {
			t.Fatal(err)
		}
	}
	call(1)
	call(2)
	call(1)
	if n := len(fd.Graphs()); n != 2 {
		t.Fatalf("expected 2 specialized graphs, got %d", n)
	}
	if fa.calls[0] != fa.calls[2] || fa.calls[0] == fa.calls[1] {
		t.Error("calls with the same constant must share a graph")
	}
	if fd.Graphs()[0].Name == fd.Graphs()[1].Name {
		t.Errorf("specialized graphs need distinct names: %s", fd.Graphs()[0].Name)
	}

	_, err := fd.Pycall(nil, SimpleArgs(annotation.NewInteger(false), annotation.NewInteger(false)), annotation.SImpossible, nil)
	if errs.CodeOf(err) != errs.A0008 {
		t.Errorf("non-constant specialization argument should fail with A0008, got %v", err)
	}
}

// TestMemoSpecialize 测试 memo 特化在编译期枚举所有参数组合
func TestMemoSpecialize(t *testing.T) {
	bk, fa := newTestBookkeeper()
	fn := program.NewFunction("lookup", []string{"flag"}, nil)
	fn.SpecialCase = "specialize:memo"
	fn.Impl = func(args ...interface{}) (interface{}, error) {
		if args[0].(bool) {
			return 10, nil
		}
		return 20, nil
	}
	d, _ := bk.GetDesc(fn)
	fd := d.(*FunctionDesc)
	s, err := fd.Pycall(nil, SimpleArgs(annotation.NewBool()), annotation.SImpossible, nil)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := s.(*annotation.Integer)
	if !ok || i.IsConstant() {
		t.Fatalf("expected a non-constant integer, got %s", s)
	}
	r := i.GetRange()
	if r.Lo > 10 || r.Hi < 20 {
		t.Errorf("range %s should cover both results", r)
	}
	if len(fd.MemoKeys()) != 2 {
		t.Errorf("memo table keys = %v", fd.MemoKeys())
	}
	if len(fa.calls) != 0 {
		t.Error("memo calls must not analyse any graph")
	}

	s, err = fd.Pycall(nil, SimpleArgs(annotation.ConstBool(true)), annotation.SImpossible, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsConstant() || s.Const() != int64(10) {
		t.Errorf("constant argument should give constant result, got %s", s)
	}
}

// TestEnforceArgs 测试 enforceargs 检查与替换
func TestEnforceArgs(t *testing.T) {
	bk, fa := newTestBookkeeper()
	fn := returnsNone("typed", "n")
	fn.EnforceArgs = []program.TypeSpec{{Kind: program.SpecInt}}
	d, _ := bk.GetDesc(fn)
	fd := d.(*FunctionDesc)

	if _, err := fd.Pycall(nil, SimpleArgs(annotation.ConstInt(3)), annotation.SImpossible, nil); err != nil {
		t.Fatal(err)
	}
	if got := fa.cells[0][0]; got.IsConstant() || got.Kind() != annotation.KInteger {
		t.Errorf("enforced argument should be widened to int, got %s", got)
	}
	_, err := fd.Pycall(nil, SimpleArgs(annotation.ConstString("no")), annotation.SImpossible, nil)
	if errs.CodeOf(err) != errs.A0103 {
		t.Errorf("expected A0103, got %v", err)
	}

	fn.Sig = &program.SignatureDecl{Args: []program.TypeSpec{{Kind: program.SpecInt}}}
	_, err = fd.Pycall(nil, SimpleArgs(annotation.ConstInt(1)), annotation.SImpossible, nil)
	if errs.CodeOf(err) != errs.A0102 {
		t.Errorf("enforceargs with signature should fail with A0102, got %v", err)
	}
}

// TestSignatureResult 测试签名声明的返回值
func TestSignatureResult(t *testing.T) {
	bk, fa := newTestBookkeeper()
	fa.result = annotation.ConstInt(4)
	fn := returnsNone("sized", "n")
	fn.Sig = &program.SignatureDecl{
		Args:   []program.TypeSpec{{Kind: program.SpecInt}},
		Result: program.TypeSpec{Kind: program.SpecInt},
	}
	d, _ := bk.GetDesc(fn)
	s, err := d.(*FunctionDesc).Pycall(nil, SimpleArgs(annotation.ConstInt(1)), annotation.SImpossible, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.IsConstant() || s.Kind() != annotation.KInteger {
		t.Errorf("declared result should replace the inferred one, got %s", s)
	}

	fa.result = annotation.NewFloat()
	_, err = d.(*FunctionDesc).Pycall(nil, SimpleArgs(annotation.ConstInt(1)), annotation.SImpossible, nil)
	if errs.CodeOf(err) != errs.A0103 {
		t.Errorf("result outside the declared type should fail with A0103, got %v", err)
	}
}

// ============================================================================
// 常量
// ============================================================================

// TestImmutableValue 测试预构建常量的注解
func TestImmutableValue(t *testing.T) {
	bk, _ := newTestBookkeeper()
	tests := []struct {
		value interface{}
		kind  annotation.Kind
		konst bool
	}{
		{nil, annotation.KNone, true},
		{program.None, annotation.KNone, true},
		{true, annotation.KBool, true},
		{42, annotation.KInteger, true},
		{rbigint.FromInt(-7), annotation.KInteger, true},
		{rbigint.FromUint(1 << 63), annotation.KInteger, false},
		{1.5, annotation.KFloat, true},
		{"x", annotation.KChar, true},
		{"xyz", annotation.KString, true},
		{program.Unicode("héllo"), annotation.KUnicode, true},
		{program.Tuple{1, "ab"}, annotation.KTuple, true},
		{&program.Builtin{Name: "len"}, annotation.KBuiltin, true},
		{returnsNone("f"), annotation.KPBC, true},
		{program.NewClass("K"), annotation.KPBC, true},
	}
	for _, tt := range tests {
		s, err := bk.ImmutableValue(tt.value)
		if err != nil {
			t.Errorf("%v: %v", tt.value, err)
			continue
		}
		if s.Kind() != tt.kind || s.IsConstant() != tt.konst {
			t.Errorf("%v: got %s", tt.value, s)
		}
	}
	if _, err := bk.ImmutableValue(struct{}{}); err == nil {
		t.Error("unknown host value should fail")
	}
	huge, _ := rbigint.FromDecimal("100000000000000000000000")
	if _, err := bk.ImmutableValue(huge); err == nil {
		t.Error("a long wider than a machine word should fail")
	}
}

// TestImmutableValueRecursiveList 测试自引用的预构建列表
func TestImmutableValueRecursiveList(t *testing.T) {
	bk, _ := newTestBookkeeper()
	outer := &program.List{}
	outer.Items = []interface{}{outer, outer}
	s, err := bk.ImmutableValue(outer)
	if err != nil {
		t.Fatal(err)
	}
	l, ok := s.(*annotation.List)
	if !ok {
		t.Fatalf("expected list, got %s", s)
	}
	again, _ := bk.ImmutableValue(outer)
	if again != s {
		t.Error("the same prebuilt list must map to the same annotation")
	}
	item, ok := l.Def.Item().Value.(*annotation.List)
	if !ok || !item.Def.SameAs(l.Def) {
		t.Errorf("the list should contain itself, got %s", l.Def.Item().Value)
	}
}

// TestMutablePrebuiltInstance 测试可变预构建实例的属性成为类定义的来源
func TestMutablePrebuiltInstance(t *testing.T) {
	bk, _ := newTestBookkeeper()
	cls := program.NewClass("Config")
	inst := program.NewInstance(cls, "config")
	inst.Attrs["level"] = 3
	s, err := bk.ImmutableValue(inst)
	if err != nil {
		t.Fatal(err)
	}
	si, ok := s.(*annotation.Instance)
	if !ok {
		t.Fatalf("expected an instance, got %s", s)
	}
	cd := si.ClassDef.(*ClassDef)
	attr, err := cd.FindAttribute("level")
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.Equal(attr.Value, annotation.ConstInt(3)) {
		t.Errorf("attribute level should come from the prebuilt instance, got %s", attr.Value)
	}
	if attr.Readonly {
		t.Error("instance-level sources make the attribute a field")
	}
}

// ============================================================================
// 方法描述符与调用族
// ============================================================================

// TestMethodDescSetUnrelatedSelfClasses A.m 与 B.m 的描述符集合化简后保留两者，且同属一个调用族
func TestMethodDescSetUnrelatedSelfClasses(t *testing.T) {
	bk, fa := newTestBookkeeper()
	clsC := program.NewClass("C")
	clsA := program.NewClass("A", clsC).Set("m", returnsNone("m", "self"))
	clsB := program.NewClass("B", clsC).Set("m", returnsNone("m", "self"))
	cdA, err := bk.GetUniqueClassDef(clsA)
	if err != nil {
		t.Fatal(err)
	}
	cdB, err := bk.GetUniqueClassDef(clsB)
	if err != nil {
		t.Fatal(err)
	}
	fdA, _ := bk.GetDesc(clsA.Dict["m"])
	fdB, _ := bk.GetDesc(clsB.Dict["m"])
	mA := bk.GetMethodDesc(fdA.(*FunctionDesc), cdA, cdA, "m", nil)
	mB := bk.GetMethodDesc(fdB.(*FunctionDesc), cdB, cdB, "m", nil)

	pbc := annotation.NewPBC([]annotation.Desc{mA, mB}, false)
	if len(pbc.Descs) != 2 {
		t.Fatalf("simplification must keep both methods, got %v", pbc.Descs)
	}
	s, err := bk.PbcCall(pbc, SimpleArgs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.Equal(s, annotation.SNone) {
		t.Errorf("result = %s", s)
	}
	if len(fa.calls) != 2 {
		t.Errorf("both methods should be analysed, got %d calls", len(fa.calls))
	}
	fam := bk.CallFamilyOf(mA)
	if fam != bk.CallFamilyOf(mB) {
		t.Fatal("A.m and B.m must share a call family")
	}
	if !fam.Descs.Contains(fdA) || !fam.Descs.Contains(fdB) {
		t.Error("the family is keyed by the underlying function descriptors")
	}
	for _, cell := range fa.cells {
		if cell[0].Kind() != annotation.KInstance {
			t.Errorf("self should be an instance, got %s", cell[0])
		}
	}
}

// TestMethodDescSetDropsSubclassSelf 同一方法绑定到父类与子类时只保留父类
func TestMethodDescSetDropsSubclassSelf(t *testing.T) {
	bk, _ := newTestBookkeeper()
	base := program.NewClass("Base").Set("m", returnsNone("m", "self"))
	sub := program.NewClass("Sub", base)
	cdBase, _ := bk.GetUniqueClassDef(base)
	cdSub, err := bk.GetUniqueClassDef(sub)
	if err != nil {
		t.Fatal(err)
	}
	fd, _ := bk.GetDesc(base.Dict["m"])
	onBase := bk.GetMethodDesc(fd.(*FunctionDesc), cdBase, cdBase, "m", nil)
	onSub := bk.GetMethodDesc(fd.(*FunctionDesc), cdBase, cdSub, "m", map[string]bool{"access_directly": true})
	pbc := annotation.NewPBC([]annotation.Desc{onBase, onSub}, false)
	if len(pbc.Descs) != 1 {
		t.Fatalf("expected one method after simplification, got %v", pbc.Descs)
	}
	if m := pbc.Descs[0].(*MethodDesc); m.SelfClassDef != cdBase || len(m.Flags) != 0 {
		t.Errorf("kept the wrong method: %s", m)
	}
}

// TestComputeAtFixpointEmulated 测试模拟调用在不动点时进入调用表
func TestComputeAtFixpointEmulated(t *testing.T) {
	bk, _ := newTestBookkeeper()
	fn := returnsNone("hook", "x")
	s, _ := bk.ImmutableValue(fn)
	if _, err := bk.EmulatePbcCall("hook", s, []annotation.SomeValue{annotation.NewInteger(false)}, nil); err != nil {
		t.Fatal(err)
	}
	if err := bk.ComputeAtFixpoint(); err != nil {
		t.Fatal(err)
	}
	fd, _ := bk.GetDesc(fn)
	fam := bk.CallFamilyOf(fd)
	rows := fam.CallTables[CallShape{Count: 1}]
	if len(rows) != 1 || rows[0][fd] == nil {
		t.Fatalf("expected one row for the emulated call, got %v", fam.CallTables)
	}
	if fam.TotalCallSites != 1 {
		t.Errorf("total call sites = %d", fam.TotalCallSites)
	}
}

// ============================================================================
// 类
// ============================================================================

// TestParseImmutableField 测试 _immutable_fields_ 声明解析
func TestParseImmutableField(t *testing.T) {
	tests := []struct {
		decl string
		name string
		rank ImmutableRank
	}{
		{"x", "x", RankImmutable},
		{"x?", "x", RankQuasiImmutable},
		{"lst[*]", "lst", RankImmutableArray},
		{"lst?[*]", "lst", RankQuasiImmutableArray},
	}
	for _, tt := range tests {
		name, rank := ParseImmutableField(tt.decl)
		if name != tt.name || rank != tt.rank {
			t.Errorf("%q: got (%s, %s), want (%s, %s)", tt.decl, name, rank, tt.name, tt.rank)
		}
	}
}

// TestClassDescAttrsWhitelist 测试 _attrs_ 的继承规则
func TestClassDescAttrsWhitelist(t *testing.T) {
	bk, _ := newTestBookkeeper()
	base := program.NewClass("Base")
	base.Attrs, base.HasAttrs = []string{"a"}, true
	sub := program.NewClass("Sub", base)
	sub.Attrs, sub.HasAttrs = []string{"b"}, true
	d, err := bk.GetClassDesc(sub)
	if err != nil {
		t.Fatal(err)
	}
	if !d.EnforcedAttrs["a"] || !d.EnforcedAttrs["b"] {
		t.Errorf("enforced attrs should include the base's: %v", d.EnforcedAttrs)
	}

	loose := program.NewClass("Loose")
	strict := program.NewClass("Strict", loose)
	strict.Attrs, strict.HasAttrs = []string{"x"}, true
	if _, err := bk.GetClassDesc(strict); errs.CodeOf(err) != errs.A0007 {
		t.Errorf("_attrs_ without a base whitelist should fail with A0007, got %v", err)
	}
}

// TestClassPycall 测试调用类：创建实例并分析 __init__
func TestClassPycall(t *testing.T) {
	bk, fa := newTestBookkeeper()
	point := program.NewClass("Point").Set("__init__", returnsNone("__init__", "self", "x"))
	d, _ := bk.GetClassDesc(point)
	s, err := d.Pycall(nil, SimpleArgs(annotation.ConstInt(1)), annotation.SImpossible, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != annotation.KInstance {
		t.Fatalf("expected an instance, got %s", s)
	}
	if len(fa.calls) != 1 || len(fa.cells[0]) != 2 {
		t.Fatalf("__init__ should be analysed with self and x: %v", fa.cells)
	}

	empty := program.NewClass("Empty")
	ed, _ := bk.GetClassDesc(empty)
	if _, err := ed.Pycall(nil, SimpleArgs(annotation.ConstInt(1)), annotation.SImpossible, nil); errs.CodeOf(err) != errs.A0100 {
		t.Errorf("default __init__ with arguments should fail with A0100, got %v", err)
	}
	exc := program.NewClass("MyError", bk.Exceptions.Exception)
	xd, _ := bk.GetClassDesc(exc)
	if _, err := xd.Pycall(nil, SimpleArgs(annotation.ConstString("msg")), annotation.SImpossible, nil); err != nil {
		t.Errorf("exception classes accept arguments without __init__: %v", err)
	}
}

// TestFrozenPbcGetattr 测试冻结实例的属性族
func TestFrozenPbcGetattr(t *testing.T) {
	bk, _ := newTestBookkeeper()
	cls := program.NewClass("Space")
	cls.Frozen = true
	p1 := program.NewInstance(cls, "space1")
	p1.Attrs["size"] = 1
	p2 := program.NewInstance(cls, "space2")
	p2.Attrs["size"] = 200
	d1, _ := bk.GetDesc(p1)
	d2, _ := bk.GetDesc(p2)

	one, err := bk.PbcGetattr(annotation.NewPBC([]annotation.Desc{d1}, false), "size")
	if err != nil {
		t.Fatal(err)
	}
	if !one.IsConstant() {
		t.Errorf("single frozen pbc gives a constant, got %s", one)
	}
	both, err := bk.PbcGetattr(annotation.NewPBC([]annotation.Desc{d1, d2}, false), "size")
	if err != nil {
		t.Fatal(err)
	}
	if both.IsConstant() || both.Kind() != annotation.KInteger {
		t.Errorf("merged attribute should be a general integer, got %s", both)
	}
	if d1.(*FrozenDesc).AttrFamily() != d2.(*FrozenDesc).AttrFamily() {
		t.Error("getattr on both must merge the attribute families")
	}
}
