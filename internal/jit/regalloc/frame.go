// frame.go - 栈帧槽位管理
//
// 空闲槽位保存在按下标升序排列的链表里。浮点值在宽模式下占两个槽，
// 两槽分配总是从偶数下标开始。

package regalloc

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// ============================================================================
// 位置
// ============================================================================

// Loc 值在机器上的位置
type Loc interface {
	fmt.Stringer
	isLoc()
}

// RegLoc 通用寄存器
type RegLoc int

func (r RegLoc) String() string { return fmt.Sprintf("r%d", int(r)) }
func (RegLoc) isLoc()           {}

// FrameLoc 栈帧槽位；Width 为占用的槽数
type FrameLoc struct {
	Pos   int
	Width int
}

func (f FrameLoc) String() string { return fmt.Sprintf("frame[%d]", f.Pos) }
func (FrameLoc) isLoc()           {}

// ImmLoc 立即数
type ImmLoc struct {
	Value history.Value
}

func (i ImmLoc) String() string { return "$" + i.Value.String() }
func (ImmLoc) isLoc()           {}

// ============================================================================
// 空闲槽链表
// ============================================================================

type freeNode struct {
	pos  int
	next *freeNode
}

// freeList 升序的空闲槽
type freeList struct {
	head *freeNode
}

// insert 按升序插入；重复的槽忽略
func (l *freeList) insert(pos int) {
	var prev *freeNode
	n := l.head
	for n != nil && n.pos < pos {
		prev, n = n, n.next
	}
	if n != nil && n.pos == pos {
		return
	}
	node := &freeNode{pos: pos, next: n}
	if prev == nil {
		l.head = node
	} else {
		prev.next = node
	}
}

// remove 删除槽，返回它是否在链表里
func (l *freeList) remove(pos int) bool {
	var prev *freeNode
	for n := l.head; n != nil; prev, n = n, n.next {
		if n.pos > pos {
			return false
		}
		if n.pos == pos {
			if prev == nil {
				l.head = n.next
			} else {
				prev.next = n.next
			}
			return true
		}
	}
	return false
}

func (l *freeList) contains(pos int) bool {
	for n := l.head; n != nil && n.pos <= pos; n = n.next {
		if n.pos == pos {
			return true
		}
	}
	return false
}

// take 取出从 pos 开始的 size 个连续槽
func (l *freeList) take(pos, size int) bool {
	if size == 2 && pos%2 != 0 {
		return false
	}
	for i := 0; i < size; i++ {
		if !l.contains(pos + i) {
			return false
		}
	}
	for i := 0; i < size; i++ {
		l.remove(pos + i)
	}
	return true
}

// pop 取一个 size 槽的位置；优先使用 hint，找不到返回 -1
func (l *freeList) pop(size, hint int) int {
	if hint >= 0 && l.take(hint, size) {
		return hint
	}
	for n := l.head; n != nil; n = n.next {
		if size == 1 || (n.pos%2 == 0 && n.next != nil && n.next.pos == n.pos+1) {
			pos := n.pos
			l.take(pos, size)
			return pos
		}
	}
	return -1
}

func (l *freeList) slice() []int {
	var out []int
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.pos)
	}
	return out
}

// ============================================================================
// 帧管理器
// ============================================================================

// FrameManager 给被溢出的 box 分配栈帧槽位
type FrameManager struct {
	bindings   map[*history.Box]FrameLoc
	hints      map[*history.Box]int
	free       freeList
	depth      int
	wideFloats bool
}

// NewFrameManager base 为已被占用的槽数；wideFloats 时浮点占两个槽
func NewFrameManager(base int, wideFloats bool) *FrameManager {
	return &FrameManager{
		bindings:   make(map[*history.Box]FrameLoc),
		hints:      make(map[*history.Box]int),
		depth:      base,
		wideFloats: wideFloats,
	}
}

// FrameSize 某种类型的值占用的槽数
func (fm *FrameManager) FrameSize(typ history.Type) int {
	if typ == history.FLOAT && fm.wideFloats {
		return 2
	}
	return 1
}

// Depth 当前帧深度
func (fm *FrameManager) Depth() int { return fm.depth }

// FreeSlots 空闲槽，升序
func (fm *FrameManager) FreeSlots() []int { return fm.free.slice() }

// Get 已绑定的槽位
func (fm *FrameManager) Get(box *history.Box) (FrameLoc, bool) {
	loc, ok := fm.bindings[box]
	return loc, ok
}

// Hint 为 box 建议一个槽位，在分配时优先使用
func (fm *FrameManager) Hint(box *history.Box, pos int) { fm.hints[box] = pos }

// Loc 返回 box 的槽位，没有时分配
func (fm *FrameManager) Loc(box *history.Box) FrameLoc {
	if loc, ok := fm.bindings[box]; ok {
		return loc
	}
	size := fm.FrameSize(box.Type())
	hint, ok := fm.hints[box]
	if !ok {
		hint = -1
	}
	pos := fm.free.pop(size, hint)
	if pos < 0 {
		pos = fm.depth
		if size == 2 && pos%2 == 1 {
			fm.free.insert(pos)
			pos++
		}
		fm.depth = pos + size
	}
	loc := FrameLoc{Pos: pos, Width: size}
	fm.bindings[box] = loc
	return loc
}

// Bind 把 box 放到指定槽位，例如入口参数
func (fm *FrameManager) Bind(box *history.Box, loc FrameLoc) {
	for i := 0; i < loc.Width; i++ {
		fm.free.remove(loc.Pos + i)
	}
	if end := loc.Pos + loc.Width; end > fm.depth {
		for p := fm.depth; p < loc.Pos; p++ {
			fm.free.insert(p)
		}
		fm.depth = end
	}
	fm.bindings[box] = loc
}

// TryToReuseLocation 若 loc 空闲则把 box 绑定到那里
func (fm *FrameManager) TryToReuseLocation(box *history.Box, loc FrameLoc) bool {
	if _, ok := fm.bindings[box]; ok {
		return false
	}
	if loc.Width != fm.FrameSize(box.Type()) || !fm.free.take(loc.Pos, loc.Width) {
		return false
	}
	fm.bindings[box] = loc
	return true
}

// MarkAsFree 释放 box 的槽位
func (fm *FrameManager) MarkAsFree(box *history.Box) {
	loc, ok := fm.bindings[box]
	if !ok {
		return
	}
	delete(fm.bindings, box)
	for i := 0; i < loc.Width; i++ {
		fm.free.insert(loc.Pos + i)
	}
}
