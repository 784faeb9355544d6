package lltype

import "testing"

// TestInternStructural 测试结构相同的类型共享代表
func TestInternStructural(t *testing.T) {
	in := NewInterner()
	a := NewGcArray(Signed, ArrayHints{})
	b := NewGcArray(Signed, ArrayHints{})
	if in.Intern(a) != in.Intern(b) {
		t.Error("structurally identical arrays should share a representative")
	}
	c := NewArray(Signed, ArrayHints{})
	if in.Intern(c) == in.Intern(a) {
		t.Error("raw and gc arrays must differ")
	}

	s1 := NewGcStruct("point", []Field{{"x", Signed}, {"y", Signed}}, StructHints{})
	s2 := NewGcStruct("point", []Field{{"x", Signed}, {"y", Signed}}, StructHints{})
	if in.Intern(NewPtr(s1)) != in.Intern(NewPtr(s2)) {
		t.Error("pointers to identical structs should intern together")
	}
	if !Equal(s1, s2) {
		t.Error("Equal should hold for identical structs")
	}
}

// TestPtrGCInvariant 测试 gc 指针与容器一致
func TestPtrGCInvariant(t *testing.T) {
	raw := NewStruct("raw", []Field{{"x", Signed}}, StructHints{})
	if _, err := MakePtr(raw, true); err == nil {
		t.Error("gc pointer to raw struct should fail")
	}
	gcs := NewGcStruct("obj", []Field{{"x", Signed}}, StructHints{})
	if _, err := MakePtr(gcs, false); err == nil {
		t.Error("raw pointer to gc struct should fail")
	}
	p, err := MakePtr(gcs, true)
	if err != nil || !p.GC() {
		t.Errorf("MakePtr(gc) failed: %v", err)
	}
	if _, err := NewWeakRef(NewPtr(raw)); err == nil {
		t.Error("weakref to raw pointer should fail")
	}
}

// TestValidate 测试容器不变式
func TestValidate(t *testing.T) {
	chars := NewArray(Char, ArrayHints{Immutable: true, IsString: true})
	str := NewGcStruct("rpy_string", []Field{{"hash", Signed}, {"chars", chars}}, StructHints{})
	if err := Validate(str); err != nil {
		t.Errorf("string struct should validate: %v", err)
	}
	if !str.IsVarSized() || str.VarField() != "chars" {
		t.Error("string struct should be variable-sized on chars")
	}

	bad := NewGcStruct("bad", []Field{{"chars", chars}, {"hash", Signed}}, StructHints{})
	if err := Validate(bad); err == nil {
		t.Error("var-sized field not last should fail")
	}

	bare := NewGcArray(Char, ArrayHints{NoLength: true})
	if err := Validate(bare); err == nil {
		t.Error("bare gc array should fail")
	}

	noTP := NewGcStruct("inst", []Field{{"x", Signed}}, StructHints{TypePtr: true})
	if err := Validate(noTP); err == nil {
		t.Error("typeptr-bearing struct without typeptr should fail")
	}

	fwd := NewForward(true)
	node := NewGcStruct("node", []Field{{"next", NewPtr(fwd)}, {"value", Signed}}, StructHints{})
	if err := fwd.Become(node); err != nil {
		t.Fatalf("Become failed: %v", err)
	}
	if err := Validate(node); err != nil {
		t.Errorf("recursive struct should validate: %v", err)
	}
}

// TestMallocAndCast 测试分配与指针转换
func TestMallocAndCast(t *testing.T) {
	vtable := NewStruct("vtable", []Field{{"id", Signed}}, StructHints{})
	base := NewGcStruct("Base", []Field{{"typeptr", NewPtr(vtable)}, {"a", Signed}}, StructHints{TypePtr: true})
	sub := NewGcStruct("Sub", []Field{{"super", base}, {"b", Signed}}, StructHints{TypePtr: true})

	p, err := Malloc(sub, 0)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := p.SetField("b", int64(7)); err != nil {
		t.Fatal(err)
	}
	up, err := CastPointer(NewPtr(base), p)
	if err != nil {
		t.Fatalf("upcast failed: %v", err)
	}
	if err := up.SetField("a", int64(3)); err != nil {
		t.Fatal(err)
	}
	down, err := CastPointer(NewPtr(sub), up)
	if err != nil {
		t.Fatalf("downcast failed: %v", err)
	}
	if v, _ := down.GetField("b"); v != int64(7) {
		t.Errorf("expected b=7, got %v", v)
	}
	if !sub.IsSubStruct(base) || base.IsSubStruct(sub) {
		t.Error("IsSubStruct mismatch")
	}

	arr, err := Malloc(NewGcArray(Signed, ArrayHints{}), 4)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := arr.Len(); n != 4 {
		t.Errorf("expected length 4, got %d", n)
	}
	if err := arr.SetItem(4, int64(1)); err == nil {
		t.Error("out of range SetItem should fail")
	}
}

// TestOpaqueLazySize 测试不透明类型的延迟大小
func TestOpaqueLazySize(t *testing.T) {
	calls := 0
	o := NewOpaque("FILE", func() (int, error) { calls++; return 216, nil })
	for i := 0; i < 3; i++ {
		n, err := o.Size()
		if err != nil || n != 216 {
			t.Fatalf("Size() = %d, %v", n, err)
		}
	}
	if calls != 1 {
		t.Errorf("size should be queried once, got %d", calls)
	}
	if _, err := NewOpaque("x", nil).Size(); err == nil {
		t.Error("unknown size should fail")
	}
}

// TestLLOps 测试操作表
func TestLLOps(t *testing.T) {
	op, ok := LookupLLOp("int_add_ovf")
	if !ok || !op.CanRaiseAny() || !op.CanFold {
		t.Errorf("int_add_ovf attributes wrong: %+v", op)
	}
	op, ok = LookupLLOp("getfield_pure")
	if !ok || !op.Pure || op.SideEffects {
		t.Errorf("getfield_pure attributes wrong: %+v", op)
	}
	if _, ok := LookupLLOp("no_such_op"); ok {
		t.Error("unexpected op")
	}
}
