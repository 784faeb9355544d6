// regalloc.go - 寄存器管理器
//
// 寄存器管理器逐条操作地维护 box 到寄存器的绑定。寄存器不够时，
// 选一个未被禁止、生存区间延伸最远的 box 溢出到栈帧。
//
// 与线性扫描不同，这里的分配是在汇编时按需进行的：
// 后端每生成一条指令，就向管理器要求操作数所在的位置。

package regalloc

import (
	"fmt"
	"slices"

	"github.com/tangzhangming/solatrans/internal/config"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// Assembler 接收分配器产生的数据移动
type Assembler interface {
	RegallocMov(from, to Loc)
}

// SaveMode BeforeCall 的保存方式
type SaveMode int

const (
	SaveCallerSaved SaveMode = iota // 只保存调用者保存的寄存器
	SaveAll                         // 保存全部寄存器
	SaveGCRefs                      // 调用者保存的寄存器，以及持有 GC 指针的寄存器
)

// NoSelection 不指定寄存器
const NoSelection RegLoc = -1

// ============================================================================
// 寄存器管理器
// ============================================================================

// RegisterManager 寄存器绑定与溢出
type RegisterManager struct {
	allRegs     []RegLoc
	freeRegs    []RegLoc // 升序
	owner       []*history.Box
	bindings    map[*history.Box]RegLoc
	callerSaved map[RegLoc]bool
	resultReg   RegLoc

	// NoLowerByte 不能按字节寻址的寄存器
	NoLowerByte map[RegLoc]bool

	fm        *FrameManager
	longevity *Longevity
	asm       Assembler
	position  int
	tempBoxes []*history.Box
	temps     map[*history.Box]bool
}

// NewRegisterManager 按配置创建管理器
func NewRegisterManager(cfg config.RegAllocConfig, fm *FrameManager, longevity *Longevity, asm Assembler) *RegisterManager {
	rm := &RegisterManager{
		owner:       make([]*history.Box, cfg.Registers),
		bindings:    make(map[*history.Box]RegLoc),
		callerSaved: make(map[RegLoc]bool),
		resultReg:   RegLoc(cfg.ResultReg),
		NoLowerByte: make(map[RegLoc]bool),
		fm:          fm,
		longevity:   longevity,
		asm:         asm,
		temps:       make(map[*history.Box]bool),
	}
	for i := 0; i < cfg.Registers; i++ {
		rm.allRegs = append(rm.allRegs, RegLoc(i))
	}
	rm.freeRegs = slices.Clone(rm.allRegs)
	for _, r := range cfg.CallerSaved {
		rm.callerSaved[RegLoc(r)] = true
	}
	return rm
}

// Position 当前操作的下标
func (rm *RegisterManager) Position() int { return rm.position }

// NextInstruction 前进到下一条操作
func (rm *RegisterManager) NextInstruction() { rm.position++ }

// FreeRegs 空闲寄存器，升序
func (rm *RegisterManager) FreeRegs() []RegLoc { return slices.Clone(rm.freeRegs) }

// RegOf box 所在的寄存器
func (rm *RegisterManager) RegOf(box *history.Box) (RegLoc, bool) {
	r, ok := rm.bindings[box]
	return r, ok
}

// ----------------------------------------------------------------------------
// 绑定的底层操作
// ----------------------------------------------------------------------------

func (rm *RegisterManager) bind(box *history.Box, r RegLoc) {
	if i, ok := slices.BinarySearch(rm.freeRegs, r); ok {
		rm.freeRegs = slices.Delete(rm.freeRegs, i, i+1)
	}
	rm.bindings[box] = r
	rm.owner[r] = box
}

func (rm *RegisterManager) unbind(box *history.Box) {
	r, ok := rm.bindings[box]
	if !ok {
		return
	}
	delete(rm.bindings, box)
	rm.owner[r] = nil
	if i, found := slices.BinarySearch(rm.freeRegs, r); !found {
		rm.freeRegs = slices.Insert(rm.freeRegs, i, r)
	}
}

func (rm *RegisterManager) isFree(r RegLoc) bool {
	_, ok := slices.BinarySearch(rm.freeRegs, r)
	return ok
}

// lastUse 临时 box 没有区间，视为在当前位置死亡
func (rm *RegisterManager) lastUse(box *history.Box) int {
	if lt, ok := rm.longevity.Get(box); ok {
		return lt.LastUse
	}
	return rm.position
}

func (rm *RegisterManager) stillAlive(box *history.Box) bool {
	return rm.lastUse(box) > rm.position
}

// ----------------------------------------------------------------------------
// 释放
// ----------------------------------------------------------------------------

// PossiblyFreeVar box 在当前位置之后不再使用时释放它的寄存器与槽位
func (rm *RegisterManager) PossiblyFreeVar(v history.Value) {
	box, ok := v.(*history.Box)
	if !ok || rm.stillAlive(box) {
		return
	}
	rm.unbind(box)
	if rm.fm != nil {
		rm.fm.MarkAsFree(box)
	}
}

// PossiblyFreeVars 对每个值调用 PossiblyFreeVar
func (rm *RegisterManager) PossiblyFreeVars(vs []history.Value) {
	for _, v := range vs {
		rm.PossiblyFreeVar(v)
	}
}

// TempBox 创建只在当前操作内使用的 box
func (rm *RegisterManager) TempBox(typ history.Type) *history.Box {
	b := history.NewBox(typ)
	rm.temps[b] = true
	return b
}

// FreeTempVars 释放自上次调用以来分配了寄存器的临时 box
func (rm *RegisterManager) FreeTempVars() {
	for _, b := range rm.tempBoxes {
		rm.PossiblyFreeVar(b)
		delete(rm.temps, b)
	}
	rm.tempBoxes = rm.tempBoxes[:0]
}

// ----------------------------------------------------------------------------
// 分配
// ----------------------------------------------------------------------------

// TryAllocateReg 返回满足约束的空闲寄存器，不会溢出任何 box。
// 指定 selected 时只会返回该寄存器；失败时 box 原有的绑定保持不变。
// box 换到另一个寄存器时由调用方发出移动。
func (rm *RegisterManager) TryAllocateReg(box *history.Box, selected RegLoc, needLowerByte bool) (RegLoc, bool) {
	cur, bound := rm.bindings[box]
	if selected != NoSelection {
		if bound && cur == selected {
			return cur, true
		}
		if !rm.isFree(selected) {
			return 0, false
		}
		if bound {
			rm.unbind(box)
		}
		rm.bind(box, selected)
		return selected, true
	}
	if bound && (!needLowerByte || !rm.NoLowerByte[cur]) {
		return cur, true
	}
	for _, r := range rm.freeRegs {
		if needLowerByte && rm.NoLowerByte[r] {
			continue
		}
		if bound {
			rm.unbind(box)
		}
		rm.bind(box, r)
		return r, true
	}
	return 0, false
}

// ForceAllocateReg 与 TryAllocateReg 相同，但在没有空闲寄存器时溢出一个 box
func (rm *RegisterManager) ForceAllocateReg(box *history.Box, forbidden []*history.Box, selected RegLoc, needLowerByte bool) (RegLoc, error) {
	if rm.temps[box] {
		rm.tempBoxes = append(rm.tempBoxes, box)
	}
	if r, ok := rm.TryAllocateReg(box, selected, needLowerByte); ok {
		return r, nil
	}
	victim, err := rm.pickVariableToSpill(forbidden, selected, needLowerByte)
	if err != nil {
		return 0, err
	}
	r := rm.bindings[victim]
	rm.spill(victim)
	rm.unbind(box)
	rm.bind(box, r)
	return r, nil
}

// pickVariableToSpill 在未被禁止的 box 中选区间延伸最远的一个；
// 相同时取寄存器编号小的
func (rm *RegisterManager) pickVariableToSpill(forbidden []*history.Box, selected RegLoc, needLowerByte bool) (*history.Box, error) {
	var candidate *history.Box
	maxAge := -1 << 62
	for _, r := range rm.allRegs {
		box := rm.owner[r]
		if box == nil || slices.Contains(forbidden, box) {
			continue
		}
		if selected != NoSelection {
			if r == selected {
				return box, nil
			}
			continue
		}
		if needLowerByte && rm.NoLowerByte[r] {
			continue
		}
		if age := rm.lastUse(box); age > maxAge {
			maxAge = age
			candidate = box
		}
	}
	if candidate == nil {
		return nil, &errs.NoVariableToSpill{Forbidden: len(forbidden)}
	}
	return candidate, nil
}

// spill 把 box 移出寄存器；还没有槽位时先写回栈帧
func (rm *RegisterManager) spill(box *history.Box) {
	rm.syncVar(box)
	rm.unbind(box)
}

func (rm *RegisterManager) syncVar(box *history.Box) {
	if _, ok := rm.fm.Get(box); ok {
		return
	}
	r := rm.bindings[box]
	rm.asm.RegallocMov(r, rm.fm.Loc(box))
}

// ----------------------------------------------------------------------------
// 位置
// ----------------------------------------------------------------------------

// Loc 值当前所在的位置；没有绑定的 box 分配一个槽位
func (rm *RegisterManager) Loc(v history.Value) Loc {
	box, ok := v.(*history.Box)
	if !ok {
		return ImmLoc{Value: v}
	}
	if r, ok := rm.bindings[box]; ok {
		return r
	}
	return rm.fm.Loc(box)
}

func (rm *RegisterManager) existingLoc(box *history.Box) (Loc, error) {
	if r, ok := rm.bindings[box]; ok {
		return r, nil
	}
	if f, ok := rm.fm.Get(box); ok {
		return f, nil
	}
	return nil, fmt.Errorf("regalloc: %s has no location", box)
}

// ReturnConstant 常量的位置；指定 selected 时把常量装入该寄存器
func (rm *RegisterManager) ReturnConstant(c history.Value, forbidden []*history.Box, selected RegLoc) (Loc, error) {
	imm := ImmLoc{Value: c}
	if selected == NoSelection {
		return imm, nil
	}
	if !rm.isFree(selected) {
		victim, err := rm.pickVariableToSpill(forbidden, selected, false)
		if err != nil {
			return nil, err
		}
		rm.spill(victim)
	}
	rm.asm.RegallocMov(imm, selected)
	return selected, nil
}

// MakeSureVarInReg 保证值在满足约束的寄存器里，必要时生成一次移动。
// 常量在没有指定寄存器时返回立即数。
func (rm *RegisterManager) MakeSureVarInReg(v history.Value, forbidden []*history.Box, selected RegLoc, needLowerByte bool) (Loc, error) {
	box, ok := v.(*history.Box)
	if !ok {
		return rm.ReturnConstant(v, forbidden, selected)
	}
	prev, err := rm.existingLoc(box)
	if err != nil {
		return nil, err
	}
	r, err := rm.ForceAllocateReg(box, forbidden, selected, needLowerByte)
	if err != nil {
		return nil, err
	}
	if prev != Loc(r) {
		rm.asm.RegallocMov(prev, r)
	}
	return r, nil
}

// ForceResultInReg 让 result 与 v 使用同一个寄存器；v 之后仍然存活时先把它挪走
func (rm *RegisterManager) ForceResultInReg(result *history.Box, v history.Value, forbidden []*history.Box) (RegLoc, error) {
	box, ok := v.(*history.Box)
	if !ok {
		r, err := rm.ForceAllocateReg(result, forbidden, NoSelection, false)
		if err != nil {
			return 0, err
		}
		rm.asm.RegallocMov(ImmLoc{Value: v}, r)
		return r, nil
	}
	if _, bound := rm.bindings[box]; !bound {
		prev, err := rm.existingLoc(box)
		if err != nil {
			return 0, err
		}
		r, err := rm.ForceAllocateReg(box, forbidden, NoSelection, false)
		if err != nil {
			return 0, err
		}
		rm.asm.RegallocMov(prev, r)
	}
	r := rm.bindings[box]
	rm.unbind(box)
	if rm.stillAlive(box) {
		if _, ok := rm.fm.Get(box); !ok {
			rm.moveVariableAway(box, r)
		}
	}
	rm.bind(result, r)
	return r, nil
}

func (rm *RegisterManager) moveVariableAway(box *history.Box, from RegLoc) {
	// from 此时已回到空闲表，但马上会被 result 占用
	for _, r := range rm.freeRegs {
		if r == from {
			continue
		}
		rm.bind(box, r)
		rm.asm.RegallocMov(from, r)
		return
	}
	rm.asm.RegallocMov(from, rm.fm.Loc(box))
}

// ----------------------------------------------------------------------------
// 调用
// ----------------------------------------------------------------------------

// BeforeCall 调用前保存寄存器。死亡的 box 直接丢弃；
// forceStore 中的 box 无论在哪个寄存器都写回栈帧。
func (rm *RegisterManager) BeforeCall(forceStore []*history.Box, mode SaveMode) {
	for _, r := range rm.allRegs {
		box := rm.owner[r]
		if box == nil {
			continue
		}
		forced := slices.Contains(forceStore, box)
		if !forced && !rm.stillAlive(box) {
			rm.unbind(box)
			continue
		}
		if !forced && mode != SaveAll && !rm.callerSaved[r] {
			if mode == SaveCallerSaved || box.Type() != history.REF {
				continue
			}
		}
		rm.spill(box)
	}
}

// AfterCall 把调用结果绑定到结果寄存器
func (rm *RegisterManager) AfterCall(result *history.Box) (RegLoc, bool) {
	if result == nil {
		return 0, false
	}
	if prev := rm.owner[rm.resultReg]; prev != nil && prev != result {
		rm.spill(prev)
	}
	rm.bind(result, rm.resultReg)
	return rm.resultReg, true
}

// ----------------------------------------------------------------------------
// 检查
// ----------------------------------------------------------------------------

// CheckInvariants 空闲表与绑定表互补，每个寄存器至多绑定一个 box
func (rm *RegisterManager) CheckInvariants() error {
	seen := make(map[RegLoc]*history.Box, len(rm.bindings))
	for box, r := range rm.bindings {
		if other, dup := seen[r]; dup {
			return fmt.Errorf("regalloc: %s bound to both %s and %s", r, other, box)
		}
		seen[r] = box
		if rm.owner[r] != box {
			return fmt.Errorf("regalloc: owner of %s is %v, want %s", r, rm.owner[r], box)
		}
	}
	for _, r := range rm.allRegs {
		_, used := seen[r]
		if used == rm.isFree(r) {
			return fmt.Errorf("regalloc: %s free=%v bound=%v", r, rm.isFree(r), used)
		}
	}
	return nil
}
