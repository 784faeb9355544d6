package history

import (
	"errors"
	"strings"
	"testing"
)

// TestOpnumCategories 测试操作码分类
func TestOpnumCategories(t *testing.T) {
	tests := []struct {
		op                                     Opnum
		guard, pure, noSideEffect, call, final bool
	}{
		{GUARD_TRUE, true, false, false, false, false},
		{GUARD_NOT_INVALIDATED, true, false, false, false, false},
		{INT_ADD, false, true, true, false, false},
		{STRGETITEM, false, true, true, false, false},
		{GETFIELD_GC, false, false, true, false, false},
		{NEWSTR, false, false, true, false, false},
		{SETFIELD_GC, false, false, false, false, false},
		{CALL_PURE, false, false, false, true, false},
		{JUMP, false, false, false, false, true},
		{LABEL, false, false, false, false, false},
	}
	for _, tt := range tests {
		if tt.op.IsGuard() != tt.guard || tt.op.IsAlwaysPure() != tt.pure ||
			tt.op.HasNoSideEffect() != tt.noSideEffect || tt.op.IsCall() != tt.call ||
			tt.op.IsFinal() != tt.final {
			t.Errorf("%s: wrong category", tt.op)
		}
	}
	if !GUARD_VALUE.IsFoldableGuard() || GUARD_NO_EXCEPTION.IsFoldableGuard() {
		t.Error("foldable guard range is wrong")
	}
	if !INT_MUL_OVF.IsOvf() || INT_MUL.IsOvf() {
		t.Error("INT_MUL_OVF should be an overflow op")
	}
	if !INT_LT.IsComparison() || INT_ADD.IsComparison() {
		t.Error("comparison predicate is wrong")
	}
	if inv, _ := INT_LT.BoolInverse(); inv != INT_GE {
		t.Errorf("inverse of int_lt = %s", inv)
	}
	if refl, _ := INT_LT.BoolReflex(); refl != INT_GT {
		t.Errorf("reflex of int_lt = %s", refl)
	}
	if INT_ADD.String() != "int_add" {
		t.Errorf("name = %s", INT_ADD)
	}
}

// TestNewOpChecksArity 测试参数个数检查
func TestNewOpChecksArity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || !strings.Contains(r.(string), "takes 2 arguments") {
			t.Errorf("recover = %v", r)
		}
	}()
	NewOp(INT_ADD, []Value{CONST_1}, NewBox(INT), nil)
}

// TestExecute 测试常量执行
func TestExecute(t *testing.T) {
	tests := []struct {
		op   Opnum
		args []Value
		want Value
	}{
		{INT_ADD, []Value{ConstInt{3}, ConstInt{4}}, ConstInt{7}},
		{INT_FLOORDIV, []Value{ConstInt{-7}, ConstInt{2}}, ConstInt{-3}},
		{UINT_RSHIFT, []Value{ConstInt{-1}, ConstInt{60}}, ConstInt{15}},
		{INT_LT, []Value{ConstInt{1}, ConstInt{2}}, CONST_1},
		{UINT_LT, []Value{ConstInt{-1}, ConstInt{2}}, CONST_0},
		{FLOAT_MUL, []Value{ConstFloat{1.5}, ConstFloat{2}}, ConstFloat{3}},
		{INT_IS_TRUE, []Value{ConstInt{9}}, CONST_1},
		{STRLEN, []Value{ConstString("hello")}, ConstInt{5}},
		{STRGETITEM, []Value{ConstString("hello"), ConstInt{1}}, ConstInt{'e'}},
	}
	for _, tt := range tests {
		got, err := Execute(tt.op, nil, tt.args)
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		if !Same(got, tt.want) {
			t.Errorf("%s%v = %s, want %s", tt.op, tt.args, got, tt.want)
		}
	}

	if _, err := Execute(INT_ADD_OVF, nil, []Value{ConstInt{1 << 62}, ConstInt{1 << 62}}); !errors.Is(err, ErrOverflow) {
		t.Errorf("int_add_ovf = %v", err)
	}
	if _, err := Execute(GUARD_TRUE, nil, []Value{CONST_1}); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("guard execution = %v", err)
	}
}

// TestExecuteMemory 测试堆操作的执行
func TestExecuteMemory(t *testing.T) {
	size := NewSizeDescr("Point", nil)
	x := size.AddField("x", INT)
	p, _ := Execute(NEW, size, nil)
	if _, err := Execute(SETFIELD_GC, x, []Value{p, ConstInt{12}}); err != nil {
		t.Fatal(err)
	}
	if got, _ := Execute(GETFIELD_GC, x, []Value{p}); !Same(got, ConstInt{12}) {
		t.Errorf("getfield = %s", got)
	}
	if _, err := Execute(GETFIELD_GC, x, []Value{Null}); !errors.Is(err, ErrNullPointer) {
		t.Errorf("null getfield = %v", err)
	}

	s, _ := Execute(NEWSTR, nil, []Value{ConstInt{2}})
	Execute(STRSETITEM, nil, []Value{s, ConstInt{0}, ConstInt{'o'}})
	Execute(STRSETITEM, nil, []Value{s, ConstInt{1}, ConstInt{'k'}})
	if text, _ := StrValue(s); text != "ok" {
		t.Errorf("string = %q", text)
	}

	add := &FuncObj{Name: "add", Impl: func(args []Value) (Value, error) {
		a, _ := IntValue(args[0])
		b, _ := IntValue(args[1])
		return ConstInt{a + b}, nil
	}}
	got, err := Execute(CALL, NewCallDescr("add", []Type{INT, INT}, INT, nil),
		[]Value{ConstPtr{add}, ConstInt{2}, NewIntBox(5)})
	if err != nil || !Same(got, ConstInt{7}) {
		t.Errorf("call = %v, %v", got, err)
	}
}

// TestConstStringInterning 测试常量字符串驻留
func TestConstStringInterning(t *testing.T) {
	if ConstString("abc") != ConstString("abc") {
		t.Error("same text should intern to the same pointer")
	}
	if Same(ConstString("abc"), ConstUnicode("abc")) {
		t.Error("byte strings and unicode strings are distinct")
	}
	if !Same(ConstFloat{0}, ConstFloat{0}) || Same(ConstFloat{0}, ConstInt{0}) {
		t.Error("constant comparison is wrong")
	}
	b := NewIntBox(3)
	if Same(b, NewIntBox(3)) || !Same(b, b) {
		t.Error("boxes compare by identity")
	}
}

// TestEffectInfo 测试副作用集合
func TestEffectInfo(t *testing.T) {
	size := NewSizeDescr("S", nil)
	a := size.AddField("a", INT)
	b := size.AddField("b", INT)
	arr := NewArrayDescr("items", REF)

	ei := NewEffectInfo(EffectSpec{
		ReadFields:  []*FieldDescr{b, a},
		WriteFields: []*FieldDescr{a},
		WriteArrays: []*ArrayDescr{arr},
		Extra:       EF_CAN_RAISE,
	})
	if !ei.WritesField(a) || ei.WritesField(b) || !ei.WritesArray(arr) {
		t.Error("write set is wrong")
	}
	if got := ei.ReadFields.Slice(); got[0] != a || got[1] != b {
		t.Error("read set should be ordered by creation")
	}
	if !ei.CheckCanRaise(false) || ei.CheckIsElidable() || ei.HasRandomEffects() {
		t.Error("extra effect predicates are wrong")
	}

	pure := NewEffectInfo(EffectSpec{WriteFields: []*FieldDescr{a}, Extra: EF_ELIDABLE_CANNOT_RAISE})
	if pure.WritesField(a) || !pure.CheckIsElidable() || pure.CheckCanRaise(false) {
		t.Error("elidable calls ignore writes")
	}

	random := RandomEffects()
	if !random.WritesField(b) || !random.CheckForcesVirtual() || !random.CanInvalidate() {
		t.Error("random effects touch everything")
	}
}

// TestQuasiImmut 测试准不可变字段的失效
func TestQuasiImmut(t *testing.T) {
	size := NewSizeDescr("Cfg", nil)
	f := size.AddField("version", INT)
	f.QuasiImmutable = true
	obj := NewStructObj(size)
	obj.Fields[f] = ConstInt{1}

	q := &QuasiImmut{}
	d := NewQuasiImmutDescr(obj, f, q)
	if !d.IsStillValidFor(obj) {
		t.Fatal("fresh descr should be valid")
	}
	token := &JitCellToken{Number: 1}
	q.Register(token)
	obj.Fields[f] = ConstInt{2}
	q.Invalidate()
	if d.IsStillValidFor(obj) || !token.Invalidated {
		t.Error("mutation should invalidate dependents")
	}
}

// TestHistoryFormat 测试 trace 格式化
func TestHistoryFormat(t *testing.T) {
	i0 := NewBox(INT)
	h := NewHistory(i0)
	i1 := NewBox(INT)
	h.Record(INT_ADD, []Value{i0, CONST_1}, i1, nil)
	h.RecordGuard(GUARD_TRUE, []Value{i1}, &BasicFailDescr{Identifier: 1}, i0)
	out := h.String()
	if !strings.Contains(out, "int_add("+i0.String()+", 1)") || !strings.Contains(out, "descr=<Guard1>) ["+i0.String()+"]") {
		t.Errorf("trace:\n%s", out)
	}
	if got := Opnums(h.Operations); len(got) != 2 || got[1] != GUARD_TRUE {
		t.Errorf("opnums = %v", got)
	}
}
