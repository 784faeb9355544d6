// gcmap.go - 机器码中的常量 GC 指针
//
// 汇编之前，操作里每个常量 GC 指针要么被 GC 钉住、直接记录到 GC 引用表，
// 要么放进一个 GC 数组，由操作前插入的 GETARRAYITEM_GC 读出。
// GC 只需要扫描引用表，数组本身也在表里。

package gcmap

import (
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// Policy 决定一个对象能否直接写进机器码
type Policy interface {
	// CanMove 对象可能被 GC 移动
	CanMove(obj history.HeapObj) bool
	// Pin 尝试钉住对象，成功后它不会再移动
	Pin(obj history.HeapObj) bool
}

// ============================================================================
// 分代策略
// ============================================================================

// Generation 对象所在的代
type Generation uint8

const (
	GenYoung Generation = iota // 年轻代，回收时会被复制
	GenOld                     // 老年代，不再移动
)

// GenerationalPolicy 年轻代对象可移动；钉住的个数有上限
type GenerationalPolicy struct {
	gens      map[history.HeapObj]Generation
	pinned    map[history.HeapObj]bool
	maxPinned int
}

// NewGenerationalPolicy 创建策略；未登记的对象视为老年代
func NewGenerationalPolicy(maxPinned int) *GenerationalPolicy {
	return &GenerationalPolicy{
		gens:      make(map[history.HeapObj]Generation),
		pinned:    make(map[history.HeapObj]bool),
		maxPinned: maxPinned,
	}
}

// Track 登记对象所在的代
func (p *GenerationalPolicy) Track(obj history.HeapObj, gen Generation) { p.gens[obj] = gen }

// Promote 对象晋升到老年代
func (p *GenerationalPolicy) Promote(obj history.HeapObj) { p.gens[obj] = GenOld }

func (p *GenerationalPolicy) CanMove(obj history.HeapObj) bool {
	gen, ok := p.gens[obj]
	return ok && gen == GenYoung && !p.pinned[obj]
}

func (p *GenerationalPolicy) Pin(obj history.HeapObj) bool {
	if p.pinned[obj] {
		return true
	}
	if len(p.pinned) >= p.maxPinned {
		return false
	}
	p.pinned[obj] = true
	return true
}

// Pinned 已钉住的对象数
func (p *GenerationalPolicy) Pinned() int { return len(p.pinned) }

// ============================================================================
// 可移动对象跟踪
// ============================================================================

// MovableObjectTracker 保存无法钉住的对象的 GC 数组
type MovableObjectTracker struct {
	Descr *history.ArrayDescr
	Array *history.ArrayObj
	index map[history.HeapObj]int
	objs  []history.HeapObj
}

func newTracker() *MovableObjectTracker {
	return &MovableObjectTracker{
		Descr: history.NewArrayDescr("MovableObjects", history.REF),
		index: make(map[history.HeapObj]int),
	}
}

// indexOf 对象在数组中的下标，第一次见到时分配
func (t *MovableObjectTracker) indexOf(obj history.HeapObj) int {
	if i, ok := t.index[obj]; ok {
		return i
	}
	i := len(t.objs)
	t.index[obj] = i
	t.objs = append(t.objs, obj)
	return i
}

func (t *MovableObjectTracker) build() {
	t.Array = history.NewArrayObj(t.Descr, len(t.objs))
	for i, obj := range t.objs {
		t.Array.Items[i] = history.ConstPtr{Value: obj}
	}
}

// Len 数组里的对象数
func (t *MovableObjectTracker) Len() int { return len(t.objs) }

// ============================================================================
// 改写
// ============================================================================

// Result 改写后的操作与 GC 引用表
type Result struct {
	Operations []*history.ResOp
	GCRefs     []history.HeapObj
	Tracker    *MovableObjectTracker // 没有可移动常量时为 nil
}

// RecordConstptrs 处理 ops 中所有非空常量指针参数
func RecordConstptrs(ops []*history.ResOp, policy Policy) *Result {
	res := &Result{}
	seen := make(map[history.HeapObj]bool)
	addRef := func(obj history.HeapObj) {
		if !seen[obj] {
			seen[obj] = true
			res.GCRefs = append(res.GCRefs, obj)
		}
	}

	// 第一遍：决定每个常量的去向，数组长度要在改写之前确定
	movable := make(map[history.HeapObj]bool)
	for _, op := range ops {
		for _, arg := range op.Args {
			c, ok := arg.(history.ConstPtr)
			if !ok || c.Value == nil || seen[c.Value] || movable[c.Value] {
				continue
			}
			if !policy.CanMove(c.Value) || policy.Pin(c.Value) {
				addRef(c.Value)
				continue
			}
			movable[c.Value] = true
			if res.Tracker == nil {
				res.Tracker = newTracker()
			}
			res.Tracker.indexOf(c.Value)
		}
	}
	if res.Tracker == nil {
		res.Operations = ops
		return res
	}
	res.Tracker.build()
	array := history.ConstPtr{Value: res.Tracker.Array}
	addRef(res.Tracker.Array)

	res.Operations = make([]*history.ResOp, 0, len(ops))
	for _, op := range ops {
		var newArgs []history.Value
		for i, arg := range op.Args {
			c, ok := arg.(history.ConstPtr)
			if !ok || !movable[c.Value] {
				continue
			}
			load := history.NewBox(history.REF)
			idx := history.ConstInt{Value: int64(res.Tracker.index[c.Value])}
			res.Operations = append(res.Operations, history.NewOp(history.GETARRAYITEM_GC,
				[]history.Value{array, idx}, load, res.Tracker.Descr))
			if newArgs == nil {
				newArgs = append([]history.Value(nil), op.Args...)
			}
			newArgs[i] = load
		}
		if newArgs != nil {
			op = op.CopyAndChange(op.Opnum, newArgs)
		}
		res.Operations = append(res.Operations, op)
	}
	return res
}
