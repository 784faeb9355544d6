package program

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// TestClassLookup 测试属性沿 MRO 查找，声明顺序保留
func TestClassLookup(t *testing.T) {
	base := NewClass("Base").Set("m", 1).Set("n", 2)
	mixin := NewClass("Mixin").Set("x", 3)
	mixin.Mixin = true
	sub := NewClass("Sub", base, mixin).Set("m", 10)

	tests := []struct {
		attr  string
		value interface{}
		owner *Class
	}{
		{"m", 10, sub},
		{"n", 2, base},
		{"x", 3, mixin},
	}
	for _, tt := range tests {
		v, owner, ok := sub.Lookup(tt.attr)
		if !ok || v != tt.value || owner != tt.owner {
			t.Errorf("Lookup(%s) = %v, %v, %v", tt.attr, v, owner, ok)
		}
	}
	if _, _, ok := sub.Lookup("missing"); ok {
		t.Error("missing attribute found")
	}
	if len(base.DictOrder) != 2 || base.DictOrder[0] != "m" {
		t.Errorf("dict order = %v", base.DictOrder)
	}
	if !sub.IsSubclass(base) || base.IsSubclass(sub) || !sub.IsSubclass(sub) {
		t.Error("IsSubclass")
	}
}

// TestExceptionTree 测试内建异常组成单棵树
func TestExceptionTree(t *testing.T) {
	e := NewExceptions()
	for _, c := range e.All() {
		if !c.Builtin || !c.IsSubclass(e.BaseException) {
			t.Errorf("%s is not rooted at BaseException", c.Name)
		}
	}
	ke, ok := e.ByName("KeyError")
	if !ok || !ke.IsSubclass(e.LookupError) || ke.IsSubclass(e.ArithmeticError) {
		t.Errorf("KeyError = %v", ke)
	}
	if e.StopIteration.IsSubclass(e.StandardError) {
		t.Error("StopIteration is not a StandardError")
	}
}

// TestFromGraphBuildsOnce 测试现成流图只能交出一次
func TestFromGraphBuildsOnce(t *testing.T) {
	b := flowmodel.NewBuilder("f", "x")
	b.Return(b.Arg(0))
	fn := FromGraph(b.Graph())
	fn.SpecialCase = "specialize:memo"

	g, err := fn.Build(fn, "")
	if err != nil || g.Func != fn {
		t.Fatalf("first build: %v, %v", g, err)
	}
	if _, err := fn.Build(fn, "int"); err == nil {
		t.Error("second variant should need its own builder")
	}
	if fn.SpecTag() != "memo" {
		t.Errorf("SpecTag = %q", fn.SpecTag())
	}
}

// TestFrozenInstance 测试冻结实例
func TestFrozenInstance(t *testing.T) {
	cls := NewClass("Space")
	inst := NewInstance(cls, "")
	if inst.IsFrozen() || inst.String() != "<Space instance>" {
		t.Errorf("instance = %s", inst)
	}
	cls.Frozen = true
	if !inst.IsFrozen() {
		t.Error("instance of a frozen class is frozen")
	}
}
