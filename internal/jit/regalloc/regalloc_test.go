package regalloc

import (
	"slices"
	"testing"

	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// recordingAsm 记录分配器产生的移动
type recordingAsm struct {
	moves []string
}

func (a *recordingAsm) RegallocMov(from, to Loc) {
	a.moves = append(a.moves, from.String()+"->"+to.String())
}

func newManager(regs int, callerSaved ...int) (*RegisterManager, *Longevity, *recordingAsm) {
	lt := NewLongevity()
	asm := &recordingAsm{}
	cfg := config.RegAllocConfig{Registers: regs, CallerSaved: callerSaved, ResultReg: 0}
	return NewRegisterManager(cfg, NewFrameManager(0, false), lt, asm), lt, asm
}

func mustAlloc(t *testing.T, rm *RegisterManager, box *history.Box, want RegLoc) {
	t.Helper()
	r, err := rm.ForceAllocateReg(box, nil, NoSelection, false)
	if err != nil {
		t.Fatalf("allocate %s: %v", box, err)
	}
	if r != want {
		t.Fatalf("allocate %s = %s, want %s", box, r, want)
	}
}

func checkInvariants(t *testing.T, rm *RegisterManager) {
	t.Helper()
	if err := rm.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// 帧管理器
// ============================================================================

// TestFrameManagerSlots 测试槽位分配与释放
func TestFrameManagerSlots(t *testing.T) {
	fm := NewFrameManager(0, false)
	a := history.NewBox(history.INT)
	b := history.NewBox(history.REF)
	c := history.NewBox(history.INT)

	if got := fm.Loc(a).Pos; got != 0 {
		t.Errorf("a at %d", got)
	}
	if got := fm.Loc(b).Pos; got != 1 {
		t.Errorf("b at %d", got)
	}
	if fm.Loc(a).Pos != 0 {
		t.Error("second Loc should return the same slot")
	}
	fm.MarkAsFree(a)
	if !slices.Equal(fm.FreeSlots(), []int{0}) {
		t.Errorf("free slots = %v", fm.FreeSlots())
	}
	if got := fm.Loc(c).Pos; got != 0 {
		t.Errorf("c should reuse slot 0, got %d", got)
	}
	if fm.Depth() != 2 {
		t.Errorf("depth = %d", fm.Depth())
	}
}

// TestFrameManagerAlignment 测试两槽分配从偶数下标开始
func TestFrameManagerAlignment(t *testing.T) {
	fm := NewFrameManager(0, true)
	i0 := history.NewBox(history.INT)
	f0 := history.NewBox(history.FLOAT)
	i1 := history.NewBox(history.INT)

	fm.Loc(i0)
	loc := fm.Loc(f0)
	if loc.Pos != 2 || loc.Width != 2 {
		t.Fatalf("float at %+v, want pos 2 width 2", loc)
	}
	if !slices.Equal(fm.FreeSlots(), []int{1}) {
		t.Errorf("padding slot not freed: %v", fm.FreeSlots())
	}
	if got := fm.Loc(i1).Pos; got != 1 {
		t.Errorf("int should take the padding slot, got %d", got)
	}

	// 释放后的两个槽可以再给浮点使用
	fm.MarkAsFree(f0)
	f1 := history.NewBox(history.FLOAT)
	if got := fm.Loc(f1); got.Pos != 2 {
		t.Errorf("float reuse at %+v", got)
	}
	if fm.Depth() != 4 {
		t.Errorf("depth = %d", fm.Depth())
	}
}

// TestFrameManagerHints 测试建议槽位与复用
func TestFrameManagerHints(t *testing.T) {
	fm := NewFrameManager(4, false)
	for _, p := range []int{1, 3} {
		fm.free.insert(p)
	}
	a := history.NewBox(history.INT)
	fm.Hint(a, 3)
	if got := fm.Loc(a).Pos; got != 3 {
		t.Errorf("hinted box at %d", got)
	}

	b := history.NewBox(history.INT)
	if !fm.TryToReuseLocation(b, FrameLoc{Pos: 1, Width: 1}) {
		t.Fatal("slot 1 is free")
	}
	c := history.NewBox(history.INT)
	if fm.TryToReuseLocation(c, FrameLoc{Pos: 1, Width: 1}) {
		t.Error("slot 1 is already taken")
	}

	d := history.NewBox(history.INT)
	fm.Bind(d, FrameLoc{Pos: 6, Width: 1})
	if fm.Depth() != 7 || !slices.Equal(fm.FreeSlots(), []int{4, 5}) {
		t.Errorf("depth = %d, free = %v", fm.Depth(), fm.FreeSlots())
	}
}

// ============================================================================
// 寄存器管理器
// ============================================================================

// TestSpillLongestLived 测试溢出生存区间最远的 box
func TestSpillLongestLived(t *testing.T) {
	rm, lt, asm := newManager(2)
	b1 := history.NewBox(history.INT)
	b2 := history.NewBox(history.INT)
	b3 := history.NewBox(history.INT)
	lt.Set(b1, 0, 10)
	lt.Set(b2, 1, 5)
	lt.Set(b3, 2, 20)

	mustAlloc(t, rm, b1, 0)
	rm.NextInstruction()
	mustAlloc(t, rm, b2, 1)
	rm.NextInstruction()
	mustAlloc(t, rm, b3, 0)

	if _, ok := rm.RegOf(b1); ok {
		t.Error("b1 should have been spilled")
	}
	if loc, ok := rm.fm.Get(b1); !ok || loc.Pos != 0 {
		t.Errorf("b1 frame slot = %+v, %v", loc, ok)
	}
	if !slices.Equal(asm.moves, []string{"r0->frame[0]"}) {
		t.Errorf("moves = %v", asm.moves)
	}
	if r, _ := rm.RegOf(b2); r != 1 {
		t.Errorf("b2 moved to %s", r)
	}
	checkInvariants(t, rm)
}

// TestSpillConstraints 测试禁止集合与指定寄存器
func TestSpillConstraints(t *testing.T) {
	setup := func() (*RegisterManager, *recordingAsm, []*history.Box) {
		rm, lt, asm := newManager(2)
		boxes := []*history.Box{history.NewBox(history.INT), history.NewBox(history.INT), history.NewBox(history.INT)}
		for i, b := range boxes {
			lt.Set(b, i, 10*(3-i))
		}
		mustAlloc(t, rm, boxes[0], 0)
		mustAlloc(t, rm, boxes[1], 1)
		return rm, asm, boxes
	}

	t.Run("forbidden", func(t *testing.T) {
		rm, _, b := setup()
		r, err := rm.ForceAllocateReg(b[2], []*history.Box{b[0]}, NoSelection, false)
		if err != nil || r != 1 {
			t.Fatalf("got %s, %v", r, err)
		}
		checkInvariants(t, rm)
	})

	t.Run("all forbidden", func(t *testing.T) {
		rm, _, b := setup()
		_, err := rm.ForceAllocateReg(b[2], b[:2], NoSelection, false)
		if errs.CodeOf(err) != errs.J0002 {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("selected", func(t *testing.T) {
		rm, asm, b := setup()
		r, err := rm.ForceAllocateReg(b[2], nil, 1, false)
		if err != nil || r != 1 {
			t.Fatalf("got %s, %v", r, err)
		}
		if !slices.Equal(asm.moves, []string{"r1->frame[0]"}) {
			t.Errorf("moves = %v", asm.moves)
		}
	})

	t.Run("lower byte", func(t *testing.T) {
		rm, _, b := setup()
		rm.NoLowerByte[0] = true
		r, err := rm.ForceAllocateReg(b[2], nil, NoSelection, true)
		if err != nil || r != 1 {
			t.Fatalf("got %s, %v", r, err)
		}
	})
}

// TestTryAllocateSelectedBusy 测试指定寄存器被占用时原绑定不变
func TestTryAllocateSelectedBusy(t *testing.T) {
	rm, lt, asm := newManager(3)
	a := history.NewBox(history.INT)
	b := history.NewBox(history.INT)
	lt.Set(a, 0, 10)
	lt.Set(b, 0, 10)
	mustAlloc(t, rm, a, 0)
	mustAlloc(t, rm, b, 1)

	if r, ok := rm.TryAllocateReg(a, 1, false); ok {
		t.Fatalf("got %s while r1 holds b", r)
	}
	if r, ok := rm.RegOf(a); !ok || r != 0 {
		t.Errorf("a lost its register: %s, %v", r, ok)
	}
	if !slices.Equal(rm.FreeRegs(), []RegLoc{2}) {
		t.Errorf("free = %v", rm.FreeRegs())
	}
	if len(asm.moves) != 0 {
		t.Errorf("moves = %v", asm.moves)
	}
	checkInvariants(t, rm)

	// 强制分配时溢出占用者，a 离开原寄存器
	if r, err := rm.ForceAllocateReg(a, nil, 1, false); err != nil || r != 1 {
		t.Fatalf("got %s, %v", r, err)
	}
	if _, ok := rm.RegOf(b); ok {
		t.Error("b should have been spilled")
	}
	if !slices.Equal(rm.FreeRegs(), []RegLoc{0, 2}) {
		t.Errorf("free after forcing = %v", rm.FreeRegs())
	}
	checkInvariants(t, rm)

	if r, ok := rm.TryAllocateReg(a, 2, false); !ok || r != 2 {
		t.Fatalf("got %s, %v", r, ok)
	}
	if !slices.Equal(rm.FreeRegs(), []RegLoc{0, 1}) {
		t.Errorf("free after relocation = %v", rm.FreeRegs())
	}
	checkInvariants(t, rm)
}

// TestBeforeCall 测试调用前的保存方式
func TestBeforeCall(t *testing.T) {
	tests := []struct {
		name    string
		mode    SaveMode
		force   bool
		spilled []int
	}{
		{"caller saved", SaveCallerSaved, false, []int{0, 1}},
		{"all", SaveAll, false, []int{0, 1, 2, 3}},
		{"gc refs", SaveGCRefs, false, []int{0, 1, 2}},
		{"force store", SaveCallerSaved, true, []int{0, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm, lt, _ := newManager(5, 0, 1)
			types := []history.Type{history.INT, history.INT, history.REF, history.INT, history.INT}
			var boxes []*history.Box
			for i, typ := range types {
				b := history.NewBox(typ)
				boxes = append(boxes, b)
				lt.Set(b, 0, 10)
				mustAlloc(t, rm, b, RegLoc(i))
			}
			// 最后一个在调用处死亡
			lt.Set(boxes[4], 0, 0)

			var force []*history.Box
			if tt.force {
				force = boxes[3:4]
			}
			rm.BeforeCall(force, tt.mode)

			for i, b := range boxes[:4] {
				_, inFrame := rm.fm.Get(b)
				want := slices.Contains(tt.spilled, i)
				if inFrame != want {
					t.Errorf("box %d in frame = %v, want %v", i, inFrame, want)
				}
				if _, inReg := rm.RegOf(b); inReg == want {
					t.Errorf("box %d still in register = %v", i, inReg)
				}
			}
			if _, ok := rm.RegOf(boxes[4]); ok {
				t.Error("dead box should be dropped")
			}
			if _, ok := rm.fm.Get(boxes[4]); ok {
				t.Error("dead box should not be stored")
			}
			checkInvariants(t, rm)
		})
	}
}

// TestAfterCall 测试调用结果绑定到结果寄存器
func TestAfterCall(t *testing.T) {
	rm, lt, asm := newManager(2, 0, 1)
	live := history.NewBox(history.INT)
	lt.Set(live, 0, 5)
	mustAlloc(t, rm, live, 0)
	rm.BeforeCall(nil, SaveCallerSaved)

	res := history.NewBox(history.INT)
	r, ok := rm.AfterCall(res)
	if !ok || r != 0 {
		t.Fatalf("result in %s", r)
	}
	if !slices.Equal(asm.moves, []string{"r0->frame[0]"}) {
		t.Errorf("moves = %v", asm.moves)
	}
	if _, ok := rm.AfterCall(nil); ok {
		t.Error("void call has no result register")
	}
	checkInvariants(t, rm)
}

// TestMakeSureVarInReg 测试从栈帧装入寄存器
func TestMakeSureVarInReg(t *testing.T) {
	rm, lt, asm := newManager(2)
	b := history.NewBox(history.INT)
	lt.Set(b, -1, 4)
	rm.fm.Bind(b, FrameLoc{Pos: 0, Width: 1})

	loc, err := rm.MakeSureVarInReg(b, nil, NoSelection, false)
	if err != nil || loc != Loc(RegLoc(0)) {
		t.Fatalf("got %v, %v", loc, err)
	}
	if _, err := rm.MakeSureVarInReg(b, nil, NoSelection, false); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(asm.moves, []string{"frame[0]->r0"}) {
		t.Errorf("moves = %v", asm.moves)
	}

	c, err := rm.MakeSureVarInReg(history.ConstInt{Value: 7}, nil, NoSelection, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(ImmLoc); !ok {
		t.Errorf("constant at %v", c)
	}

	unknown := history.NewBox(history.INT)
	if _, err := rm.MakeSureVarInReg(unknown, nil, NoSelection, false); err == nil {
		t.Error("box without location should fail")
	}
}

// TestForceResultInReg 测试结果复用参数寄存器
func TestForceResultInReg(t *testing.T) {
	rm, lt, asm := newManager(2)
	arg := history.NewBox(history.INT)
	res := history.NewBox(history.INT)
	lt.Set(arg, 0, 5)
	lt.Set(res, 1, 6)
	mustAlloc(t, rm, arg, 0)

	r, err := rm.ForceResultInReg(res, arg, nil)
	if err != nil || r != 0 {
		t.Fatalf("got %s, %v", r, err)
	}
	if a, _ := rm.RegOf(arg); a != 1 {
		t.Errorf("arg moved to %s", a)
	}
	if !slices.Equal(asm.moves, []string{"r0->r1"}) {
		t.Errorf("moves = %v", asm.moves)
	}
	checkInvariants(t, rm)
}

// TestTempBoxes 测试临时 box 的释放
func TestTempBoxes(t *testing.T) {
	rm, _, _ := newManager(2)
	tmp := rm.TempBox(history.INT)
	if _, err := rm.ForceAllocateReg(tmp, nil, NoSelection, false); err != nil {
		t.Fatal(err)
	}
	if len(rm.FreeRegs()) != 1 {
		t.Fatalf("free = %v", rm.FreeRegs())
	}
	rm.FreeTempVars()
	if len(rm.FreeRegs()) != 2 {
		t.Errorf("temp not released: %v", rm.FreeRegs())
	}
}

// TestInvariantsUnderChurn 测试一串分配与释放后绑定表仍然一致
func TestInvariantsUnderChurn(t *testing.T) {
	rm, lt, _ := newManager(3, 0)
	var boxes []*history.Box
	for i := 0; i < 8; i++ {
		b := history.NewBox(history.INT)
		lt.Set(b, i, i+3+i%4)
		boxes = append(boxes, b)
	}
	for i, b := range boxes {
		if _, err := rm.ForceAllocateReg(b, nil, NoSelection, false); err != nil {
			t.Fatal(err)
		}
		checkInvariants(t, rm)
		if i%3 == 2 {
			rm.BeforeCall(nil, SaveAll)
			checkInvariants(t, rm)
			for _, prev := range boxes[:i+1] {
				if lt.lifetimes[prev].LastUse > rm.Position() {
					if _, ok := rm.fm.Get(prev); !ok {
						t.Errorf("live box %s not saved before call", prev)
					}
				}
			}
		}
		rm.NextInstruction()
		rm.PossiblyFreeVars([]history.Value{boxes[0], b})
		checkInvariants(t, rm)
	}
}

// ============================================================================
// 生存区间
// ============================================================================

// TestComputeVarsLongevity 测试倒序扫描的区间
func TestComputeVarsLongevity(t *testing.T) {
	i0 := history.NewBox(history.INT)
	i1 := history.NewBox(history.INT)
	i2 := history.NewBox(history.INT)
	i3 := history.NewBox(history.INT)

	guard := history.NewOp(history.GUARD_TRUE, []history.Value{i2}, nil, &history.BasicFailDescr{})
	guard.FailArgs = []history.Value{i0}
	ops := []*history.ResOp{
		history.NewOp(history.INT_ADD, []history.Value{i0, history.CONST_1}, i2, nil),
		history.NewOp(history.INT_MUL, []history.Value{i2, i2}, i3, nil),
		guard,
		history.NewOp(history.JUMP, []history.Value{i2}, nil, nil),
	}
	l, err := ComputeVarsLongevity([]*history.Box{i0, i1}, ops)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		box  *history.Box
		want Lifetime
	}{
		{"i0", i0, Lifetime{0, 2}},
		{"i1", i1, Lifetime{-1, -1}},
		{"i2", i2, Lifetime{0, 3}},
	}
	for _, tt := range tests {
		got, ok := l.Get(tt.box)
		if !ok || got != tt.want {
			t.Errorf("%s: got %+v (%v), want %+v", tt.name, got, ok, tt.want)
		}
	}
	if _, ok := l.Get(i3); ok {
		t.Error("unused pure result should have no lifetime")
	}
	if got, _ := l.LastRealUsage(i2); got != 2 {
		t.Errorf("last real usage of i2 = %d", got)
	}
	if got, _ := l.LastRealUsage(i0); got != 0 {
		t.Errorf("last real usage of i0 = %d", got)
	}

	// 未定义就使用
	bad := []*history.ResOp{history.NewOp(history.JUMP, []history.Value{i3}, nil, nil)}
	if _, err := ComputeVarsLongevity(nil, bad); err == nil {
		t.Error("expected error for undefined box")
	}
}
