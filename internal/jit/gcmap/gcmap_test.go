package gcmap

import (
	"slices"
	"testing"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

func newObj(name string) *history.StructObj {
	return history.NewStructObj(history.NewSizeDescr(name, nil))
}

func guardValue(v history.Value, c history.ConstPtr) *history.ResOp {
	return history.NewOp(history.GUARD_VALUE, []history.Value{v, c}, nil, &history.BasicFailDescr{})
}

// TestRecordConstptrsPinned 测试不可移动或可钉住的对象直接记录
func TestRecordConstptrsPinned(t *testing.T) {
	old := newObj("old")
	young := newObj("young")
	policy := NewGenerationalPolicy(4)
	policy.Track(old, GenOld)
	policy.Track(young, GenYoung)

	box := history.NewBox(history.REF)
	ops := []*history.ResOp{
		guardValue(box, history.ConstPtr{Value: old}),
		guardValue(box, history.ConstPtr{Value: young}),
		guardValue(box, history.ConstPtr{Value: old}),
		guardValue(box, history.Null),
	}
	res := RecordConstptrs(ops, policy)

	if res.Tracker != nil {
		t.Error("no tracker expected when everything can be pinned")
	}
	if len(res.Operations) != len(ops) {
		t.Errorf("operations rewritten: %d", len(res.Operations))
	}
	want := []history.HeapObj{old, young}
	if !slices.Equal(res.GCRefs, want) {
		t.Errorf("gc refs = %v, want %v", res.GCRefs, want)
	}
	if policy.Pinned() != 1 {
		t.Errorf("pinned = %d", policy.Pinned())
	}
}

// TestRecordConstptrsTracker 测试无法钉住的对象经由数组读出
func TestRecordConstptrsTracker(t *testing.T) {
	a := newObj("a")
	b := newObj("b")
	policy := NewGenerationalPolicy(0)
	policy.Track(a, GenYoung)
	policy.Track(b, GenYoung)

	box := history.NewBox(history.REF)
	ops := []*history.ResOp{
		guardValue(box, history.ConstPtr{Value: a}),
		history.NewOp(history.PTR_EQ, []history.Value{history.ConstPtr{Value: b}, history.ConstPtr{Value: a}},
			history.NewBox(history.INT), nil),
	}
	res := RecordConstptrs(ops, policy)

	if res.Tracker == nil || res.Tracker.Len() != 2 {
		t.Fatalf("tracker = %+v", res.Tracker)
	}
	want := []history.Opnum{
		history.GETARRAYITEM_GC, history.GUARD_VALUE,
		history.GETARRAYITEM_GC, history.GETARRAYITEM_GC, history.PTR_EQ,
	}
	if got := history.Opnums(res.Operations); !slices.Equal(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}

	// 每个读取从数组的正确下标取出原对象
	arr := res.Tracker.Array
	for _, op := range res.Operations {
		if op.Opnum != history.GETARRAYITEM_GC {
			continue
		}
		if op.Args[0].(history.ConstPtr).Value != arr {
			t.Errorf("load from %v", op.Args[0])
		}
	}
	load := res.Operations[0]
	idx, _ := history.IntValue(load.Args[1])
	if arr.Items[idx].(history.ConstPtr).Value != a {
		t.Errorf("index %d holds %v", idx, arr.Items[idx])
	}
	if res.Operations[1].Args[1] != history.Value(load.Result) {
		t.Error("guard should read the loaded box")
	}
	if ops[0].Args[1].(history.ConstPtr).Value != a {
		t.Error("original operation modified")
	}

	if !slices.Equal(res.GCRefs, []history.HeapObj{arr}) {
		t.Errorf("gc refs = %v", res.GCRefs)
	}
}

// TestGenerationalPolicy 测试晋升后的对象不再移动
func TestGenerationalPolicy(t *testing.T) {
	p := NewGenerationalPolicy(1)
	o := newObj("o")
	if p.CanMove(o) {
		t.Error("untracked objects are prebuilt and never move")
	}
	p.Track(o, GenYoung)
	if !p.CanMove(o) {
		t.Error("young object moves")
	}
	p.Promote(o)
	if p.CanMove(o) {
		t.Error("promoted object does not move")
	}
	if !p.Pin(newObj("x")) || p.Pin(newObj("y")) {
		t.Error("pin limit not honoured")
	}
}
