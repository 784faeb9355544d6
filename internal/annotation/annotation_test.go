package annotation

import (
	"math"
	"testing"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// ============================================================================
// 测试用类定义与描述符
// ============================================================================

type testClass struct {
	id   int
	name string
	base *testClass
}

func (c *testClass) ID() int      { return c.id }
func (c *testClass) Name() string { return c.name }
func (c *testClass) BaseDef() ClassDefRef {
	if c.base == nil {
		return nil
	}
	return c.base
}
func (c *testClass) IsSubclassOf(other ClassDefRef) bool {
	for cur := c; cur != nil; cur = cur.base {
		if ClassDefRef(cur) == other {
			return true
		}
	}
	return false
}

type testDesc struct {
	id   int
	kind DescKind
}

func (d *testDesc) ID() int            { return d.id }
func (d *testDesc) String() string     { return "desc" }
func (d *testDesc) DescKind() DescKind { return d.kind }
func (d *testDesc) PyObj() interface{} { return d.id }

type recordingReflower struct {
	positions []flowmodel.PositionKey
}

func (r *recordingReflower) ReflowFromPosition(pos flowmodel.PositionKey) {
	r.positions = append(r.positions, pos)
}

func mustUnion(t *testing.T, a, b SomeValue) SomeValue {
	t.Helper()
	u, err := Union(a, b)
	if err != nil {
		t.Fatalf("union(%s, %s): %v", a, b, err)
	}
	return u
}

// ============================================================================
// 分派
// ============================================================================

// TestPairMROSpecificity 测试对类型线性化总是先给出更具体的对
func TestPairMROSpecificity(t *testing.T) {
	mro := PairMRO(Pair{KBool, KInteger})
	if mro[0] != (Pair{KBool, KInteger}) {
		t.Fatalf("first entry should be the pair itself, got %s", mro[0])
	}
	index := func(p Pair) int {
		for i, q := range mro {
			if q == p {
				return i
			}
		}
		return -1
	}
	if index(Pair{KInteger, KInteger}) < 0 || index(Pair{KObject, KObject}) != len(mro)-1 {
		t.Fatalf("unexpected linearization %v", mro)
	}
	if index(Pair{KInteger, KInteger}) > index(Pair{KFloat, KFloat}) {
		t.Errorf("(Integer, Integer) must come before (Float, Float)")
	}
	// 每个对都出现在其所有基之前
	for i, p := range mro {
		for _, b := range pairBases(p) {
			if index(b) <= i {
				t.Errorf("base %s of %s appears too early", b, p)
			}
		}
	}
}

// TestPairTableLookup 测试分派表选择最具体的处理函数
func TestPairTableLookup(t *testing.T) {
	table := NewPairTable[string]("add")
	table.Register(KObject, KObject, "generic")
	table.Register(KFloat, KFloat, "float")
	table.Register(KInteger, KInteger, "int")

	tests := []struct {
		a, b Kind
		want string
	}{
		{KBool, KBool, "int"},
		{KBool, KFloat, "float"},
		{KInteger, KFloat, "float"},
		{KString, KInteger, "generic"},
		{KInteger, KInteger, "int"},
	}
	for _, tt := range tests {
		got, _, ok := table.Lookup(tt.a, tt.b)
		if !ok || got != tt.want {
			t.Errorf("Lookup(%s, %s) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

// ============================================================================
// 整数区间
// ============================================================================

// TestIntegerArithExact 测试传递函数保持精确区间
func TestIntegerArithExact(t *testing.T) {
	x := NewIntegerRange(0, 10)
	r := IntegerArith("add", x, ConstInt(1))
	if r.Range == nil || *r.Range != (Range{1, 11}) || !r.Nonneg {
		t.Fatalf("got %s, want range [1,11] nonneg", r)
	}
	r = IntegerArith("sub", x, ConstInt(20))
	if r.Nonneg || r.Range == nil || *r.Range != (Range{-20, -10}) {
		t.Fatalf("got %s", r)
	}
	r = IntegerArith("mul", NewIntegerRange(-3, 2), NewIntegerRange(4, 5))
	if *r.Range != (Range{-15, 10}) {
		t.Fatalf("got %s", r)
	}
	r = IntegerArith("add", ConstInt(2), ConstInt(3))
	if !r.IsConstant() || r.Const() != int64(5) {
		t.Fatalf("constant folding failed: %s", r)
	}
	big := NewIntegerRange(0, math.MaxInt64)
	r = IntegerArith("add", big, big)
	if !r.Nonneg {
		t.Fatalf("nonneg + nonneg should stay nonneg: %s", r)
	}
}

// TestIntegerUnionQuantized 测试区间合并的量化与结合律
func TestIntegerUnionQuantized(t *testing.T) {
	a := NewIntegerRange(0, 10)
	if u := mustUnion(t, a, NewIntegerRange(0, 10)); !Equal(u, a) {
		t.Fatalf("union of equal ranges changed: %s", u)
	}
	u := mustUnion(t, a, NewIntegerRange(1, 11)).(*Integer)
	if *u.Range != (Range{0, 15}) {
		t.Fatalf("got %s, want [0,15]", u)
	}
	u = mustUnion(t, NewIntegerRange(-3, 0), NewIntegerRange(0, 5)).(*Integer)
	if *u.Range != (Range{-4, 7}) || u.Nonneg {
		t.Fatalf("got %s, want [-4,7]", u)
	}

	values := []SomeValue{
		NewIntegerRange(0, 10), NewIntegerRange(3, 200), NewIntegerRange(-7, 1),
		ConstInt(1000), NewInteger(true), NewBool(), ConstInt(-1),
	}
	for _, x := range values {
		for _, y := range values {
			for _, z := range values {
				l := mustUnion(t, mustUnion(t, x, y), z)
				r := mustUnion(t, x, mustUnion(t, y, z))
				if !Equal(l, r) {
					t.Errorf("(%s ∪ %s) ∪ %s = %s, but right assoc = %s", x, y, z, l, r)
				}
			}
			if !Equal(mustUnion(t, x, y), mustUnion(t, y, x)) {
				t.Errorf("union not commutative for %s, %s", x, y)
			}
		}
	}
}

// TestIntegerWideningTerminates 测试单调加宽链有限
func TestIntegerWideningTerminates(t *testing.T) {
	var cur SomeValue = ConstInt(0)
	steps := 0
	for {
		next := mustUnion(t, cur, IntegerArith("add", cur.(*Integer), ConstInt(1)))
		if Equal(next, cur) {
			break
		}
		if !Contains(next, cur) {
			t.Fatalf("widening not monotone: %s -> %s", cur, next)
		}
		cur = next
		steps++
		if steps > 200 {
			t.Fatalf("widening did not stabilize, at %s", cur)
		}
	}
	if !cur.(*Integer).Nonneg {
		t.Errorf("counter starting at 0 should stay nonneg: %s", cur)
	}
}

// ============================================================================
// 并与包含
// ============================================================================

// TestUnionBasics 测试常见的并
func TestUnionBasics(t *testing.T) {
	tests := []struct {
		name string
		a, b SomeValue
		want Kind
	}{
		{"int+float", NewInteger(false), NewFloat(), KFloat},
		{"bool+int", NewBool(), ConstInt(3), KInteger},
		{"char+str", ConstChar('a'), NewString(false, true), KString},
		{"str+unicode", NewString(false, false), NewUnicode(false, false), KObject},
		{"none+int", SNone, NewInteger(false), KObject},
		{"impossible+x", SImpossible, NewFloat(), KFloat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustUnion(t, tt.a, tt.b)
			if u.Kind() != tt.want {
				t.Errorf("got %s, want kind %s", u, tt.want)
			}
			if !Contains(u, tt.a) || !Contains(u, tt.b) {
				t.Errorf("%s does not contain both arguments", u)
			}
		})
	}
}

// TestNoneify 测试 None 与可空注解的并
func TestNoneify(t *testing.T) {
	s := mustUnion(t, SNone, ConstString("x"))
	str, ok := s.(*String)
	if !ok || !str.CanBeNone() || str.IsConstant() {
		t.Fatalf("got %s", s)
	}
	a := &testClass{id: 1, name: "A"}
	inst := mustUnion(t, NewInstance(a, false, nil), SNone).(*Instance)
	if !inst.Nullable || inst.ClassDef != a {
		t.Fatalf("got %s", inst)
	}
	if n := Nonnull(inst); n.CanBeNone() {
		t.Fatalf("Nonnull kept None: %s", n)
	}
}

// TestInstanceUnion 测试实例取公共基类
func TestInstanceUnion(t *testing.T) {
	root := &testClass{id: 1, name: "Root"}
	a := &testClass{id: 2, name: "A", base: root}
	b := &testClass{id: 3, name: "B", base: root}
	other := &testClass{id: 4, name: "Other"}

	u := mustUnion(t, NewInstance(a, false, map[string]bool{"access_directly": true}), NewInstance(b, false, nil))
	inst := u.(*Instance)
	if inst.ClassDef != root || len(inst.Flags) != 0 {
		t.Fatalf("got %s flags=%v", inst, inst.Flags)
	}
	if u := mustUnion(t, NewInstance(a, false, nil), NewInstance(other, false, nil)); u.Kind() != KObject {
		t.Fatalf("unrelated classes should go to top, got %s", u)
	}

	imp, err := ImproveChecked(NewInstance(root, true, nil), NewInstance(a, false, nil))
	if err != nil || imp.(*Instance).ClassDef != a || imp.CanBeNone() {
		t.Fatalf("improve: %v %v", imp, err)
	}
	if imp := Improve(NewInstance(a, false, nil), NewInstance(b, false, nil)); !IsImpossible(imp) {
		t.Fatalf("disjoint improve should be impossible, got %s", imp)
	}
}

// TestPBCUnion 测试描述符集合的并
func TestPBCUnion(t *testing.T) {
	d1 := &testDesc{id: 1, kind: DescFunction}
	d2 := &testDesc{id: 2, kind: DescFunction}
	p1 := NewPBC([]Desc{d1}, false)
	if !p1.IsConstant() || p1.Const() != 1 {
		t.Fatalf("single desc pbc should be constant: %s", p1)
	}
	u := mustUnion(t, p1, NewPBC([]Desc{d2, d1}, false)).(*PBC)
	if len(u.Descs) != 2 || u.Descs[0] != d1 || u.IsConstant() {
		t.Fatalf("got %s", u)
	}
	if !Contains(u, p1) || Contains(p1, u) {
		t.Fatalf("containment wrong")
	}
	if u.DescKind() != DescFunction {
		t.Fatalf("desc kind = %s", u.DescKind())
	}
}

// TestBoolKnownTypeDataMerge 测试 Bool 合并时只保留共同的类型信息
func TestBoolKnownTypeDataMerge(t *testing.T) {
	v := flowmodel.NewVariable("x")
	w := flowmodel.NewVariable("y")
	b1 := NewBool()
	b1.SetKnownTypeData(KnownTypeData{{true, v}: NewInteger(true), {true, w}: NewFloat()})
	b2 := NewBool()
	b2.SetKnownTypeData(KnownTypeData{{true, v}: NewInteger(false)})
	u := mustUnion(t, b1, b2).(*Bool)
	if len(u.KTD) != 1 {
		t.Fatalf("got %v", u.KTD)
	}
	if got := u.KTD[KTDKey{true, v}]; got.(*Integer).Nonneg {
		t.Fatalf("merged entry should be the union, got %s", got)
	}
}

// ============================================================================
// 列表与字典定义
// ============================================================================

// TestListDefMergeReflows 测试列表合并后重新调度读取位置
func TestListDefMergeReflows(t *testing.T) {
	r := &recordingReflower{}
	l1 := NewListDef(r, NewInteger(true), false, false)
	l2 := NewListDef(r, NewFloat(), false, false)
	pos := flowmodel.PositionKey{Index: 3}
	if s := l1.ReadItem(pos); s.Kind() != KInteger {
		t.Fatalf("read %s", s)
	}
	u := mustUnion(t, NewList(l1), NewList(l2)).(*List)
	if !l1.SameAs(l2) || !u.Def.SameAs(l1) {
		t.Fatalf("list defs not shared after union")
	}
	if l1.Item().Value.Kind() != KFloat {
		t.Fatalf("item = %s", l1.Item().Value)
	}
	if len(r.positions) == 0 || r.positions[0] != pos {
		t.Fatalf("reader was not reflowed: %v", r.positions)
	}
	if Contains(NewList(NewListDef(nil, SImpossible, false, false)), NewList(l1)) {
		t.Fatalf("distinct list defs must not contain each other without side effects")
	}
}

// TestListDefFlags 测试列表改变标志
func TestListDefFlags(t *testing.T) {
	l := NewListDef(nil, NewInteger(false), false, false)
	if err := l.NeverResize(); err != nil {
		t.Fatal(err)
	}
	if err := l.Resize(); err == nil {
		t.Fatal("resize after never_resize should fail")
	}
	l2 := NewListDef(nil, NewInteger(false), true, false)
	if err := l2.MarkAsImmutable(); err == nil {
		t.Fatal("mark immutable after mutate should fail")
	}
	l3 := NewListDef(nil, NewInteger(false), false, false)
	l3.Freeze()
	if err := l3.Generalize(NewFloat()); err == nil {
		t.Fatal("generalize on frozen list should fail")
	}
	if err := l3.Generalize(NewInteger(false)); err != nil {
		t.Fatalf("no-op generalize on frozen list: %v", err)
	}

	a := NewListDef(nil, NewInteger(false), false, false)
	b := NewListDef(nil, NewInteger(false), false, false)
	_ = a.GeneralizeRangeStep(1)
	_ = b.GeneralizeRangeStep(2)
	if err := a.Union(b); err != nil {
		t.Fatal(err)
	}
	if a.Item().RangeStep != 0 {
		t.Fatalf("different range steps should collapse to 0, got %d", a.Item().RangeStep)
	}
}

// TestDictDefUnion 测试字典定义合并
func TestDictDefUnion(t *testing.T) {
	d1 := NewDictDef(nil, ConstString("a"), NewInteger(true), false, true)
	d2 := NewDictDef(nil, NewString(false, true), NewInteger(false), false, true)
	if err := d1.Union(d2); err != nil {
		t.Fatal(err)
	}
	if !d1.SameAs(d2) {
		t.Fatal("dict defs not shared")
	}
	if d2.Value().Value.(*Integer).Nonneg {
		t.Fatalf("value = %s", d2.Value().Value)
	}
	d3 := NewDictDef(nil, NewInteger(false), NewInteger(false), false, false)
	d3.CustomEqHash = true
	if err := d3.Union(d1); err == nil {
		t.Fatal("custom eq/hash dict must not merge with a plain dict")
	}
}
