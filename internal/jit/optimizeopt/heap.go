// heap.go - 堆访问缓存
//
// 读后读、写后读直接使用已知值；写操作延迟到可能被观察时才输出。
package optimizeopt

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// ============================================================================
// 单个字段的缓存
// ============================================================================

// cachedField 一个字段描述符（或数组描述符加常量下标）的缓存
//
// lazy 不为空时，cached 中该结构体的值已过期，必须先输出 lazy。
type cachedField struct {
	cached     map[*OptValue]*OptValue
	lazy       *history.ResOp
	registered bool
}

func newCachedField() *cachedField {
	return &cachedField{cached: make(map[*OptValue]*OptValue)}
}

func (cf *cachedField) possibleAliasing(h *OptHeap, sv *OptValue) bool {
	return cf.lazy != nil && h.getValue(cf.lazy.Arg(0)) != sv
}

func (cf *cachedField) doSetfield(h *OptHeap, op *history.ResOp) error {
	sv := h.getValue(op.Arg(0))
	fv := h.getValue(op.LastArg())
	if cf.possibleAliasing(h, sv) {
		if err := cf.forceLazy(h, true); err != nil {
			return err
		}
	}
	if fv.SameValue(cf.cached[sv]) {
		// 内存中已经是这个值；之前的延迟写也随之取消
		cf.lazy = nil
		return nil
	}
	cf.lazy = op
	if !cf.registered {
		h.lazySetfields = append(h.lazySetfields, cf)
		cf.registered = true
	}
	return nil
}

func (cf *cachedField) getFromCache(h *OptHeap, sv *OptValue) (*OptValue, error) {
	if cf.possibleAliasing(h, sv) {
		if err := cf.forceLazy(h, true); err != nil {
			return nil, err
		}
	}
	if cf.lazy != nil {
		return h.getValue(cf.lazy.LastArg()), nil
	}
	return cf.cached[sv], nil
}

func (cf *cachedField) remember(sv, fv *OptValue) {
	cf.cached[sv] = fv
}

// forceLazy 输出延迟的写；canCache 为 false 时写完不保留任何信息
func (cf *cachedField) forceLazy(h *OptHeap, canCache bool) error {
	op := cf.lazy
	if op == nil {
		if !canCache {
			cf.clear()
		}
		return nil
	}
	cf.clear()
	cf.lazy = nil
	if h.postponed != nil && h.postponed.Result != nil {
		for _, a := range op.Args {
			if b, ok := a.(*history.Box); ok && b == h.postponed.Result {
				if err := h.emitPostponed(); err != nil {
					return err
				}
				break
			}
		}
	}
	if err := h.next.PropagateForward(op); err != nil {
		return err
	}
	if canCache {
		cf.remember(h.getValue(op.Arg(0)), h.getValue(op.LastArg()))
	}
	return nil
}

func (cf *cachedField) clear() {
	clear(cf.cached)
}

// ============================================================================
// 优化
// ============================================================================

type dictKey [2]history.Value

// OptHeap 堆访问缓存
type OptHeap struct {
	optBase

	fields     map[*history.FieldDescr]*cachedField
	arrayItems map[*history.ArrayDescr]map[int64]*cachedField
	// dictReads 字典查找结果：按条目描述符分组，键为 (dict, key)
	dictReads          map[history.Descr]map[dictKey]*OptValue
	correspondingArray map[history.Descr]history.Descr

	lazySetfields []*cachedField

	removeGuardNotInvalidated bool
	seenGuardNotInvalidated   bool

	// postponed 比较、可能强制的调用和溢出操作推迟一步输出，让后面的守卫紧跟它
	postponed *history.ResOp
}

func newOptHeap() *OptHeap {
	return &OptHeap{
		fields:             make(map[*history.FieldDescr]*cachedField),
		arrayItems:         make(map[*history.ArrayDescr]map[int64]*cachedField),
		dictReads:          make(map[history.Descr]map[dictKey]*OptValue),
		correspondingArray: make(map[history.Descr]history.Descr),
	}
}

func (h *OptHeap) fieldCache(d *history.FieldDescr) *cachedField {
	cf, ok := h.fields[d]
	if !ok {
		cf = newCachedField()
		h.fields[d] = cf
	}
	return cf
}

func (h *OptHeap) arrayItemCache(d *history.ArrayDescr, index int64) *cachedField {
	sub, ok := h.arrayItems[d]
	if !ok {
		sub = make(map[int64]*cachedField)
		h.arrayItems[d] = sub
	}
	cf, ok := sub[index]
	if !ok {
		cf = newCachedField()
		sub[index] = cf
	}
	return cf
}

func (h *OptHeap) cleanCaches() {
	h.lazySetfields = nil
	clear(h.fields)
	clear(h.arrayItems)
	clear(h.dictReads)
}

func (h *OptHeap) Flush() error {
	clear(h.dictReads)
	clear(h.correspondingArray)
	if err := h.forceAllLazy(); err != nil {
		return err
	}
	return h.emitPostponed()
}

func (h *OptHeap) emitPostponed() error {
	if h.postponed == nil {
		return nil
	}
	op := h.postponed
	h.postponed = nil
	return h.next.PropagateForward(op)
}

func (h *OptHeap) emitOperation(op *history.ResOp) error {
	if err := h.emittingOperation(op); err != nil {
		return err
	}
	if err := h.emitPostponed(); err != nil {
		return err
	}
	if op.IsComparison() || op.Opnum == history.CALL_MAY_FORCE || op.IsOvf() {
		h.postponed = op
		h.lastEmitted = op
		return nil
	}
	return h.emit(op)
}

// emittingOperation 在 op 输出之前让缓存与它的副作用保持一致
func (h *OptHeap) emittingOperation(op *history.ResOp) error {
	if op.HasNoSideEffect() || op.IsOvf() {
		return nil
	}
	if op.IsGuard() {
		pending, err := h.forceLazyForGuard()
		if err != nil {
			return err
		}
		h.opt.pendingFields = pending
		return nil
	}
	switch op.Opnum {
	case history.SETFIELD_GC, history.SETFIELD_RAW, history.SETARRAYITEM_GC, history.SETARRAYITEM_RAW,
		history.STRSETITEM, history.UNICODESETITEM, history.COPYSTRCONTENT, history.COPYUNICODECONTENT,
		history.DEBUG_MERGE_POINT, history.JIT_DEBUG:
		return nil
	case history.CALL_ASSEMBLER:
		h.seenGuardNotInvalidated = false
	case history.CALL, history.CALL_PURE, history.COND_CALL, history.CALL_MAY_FORCE, history.CALL_RELEASE_GIL:
		ei := op.CallDescr().Effect
		if ei.CanInvalidate() {
			h.seenGuardNotInvalidated = false
		}
		if !ei.HasRandomEffects() {
			return h.forceFromEffectInfo(ei)
		}
	}
	if err := h.forceAllLazy(); err != nil {
		return err
	}
	h.cleanCaches()
	return nil
}

// forceFromEffectInfo 只处理调用声明会读写的字段
func (h *OptHeap) forceFromEffectInfo(ei *history.EffectInfo) error {
	for _, d := range ei.ReadFields.Slice() {
		if err := h.forceLazyField(d, true); err != nil {
			return err
		}
	}
	for _, d := range ei.ReadArrays.Slice() {
		if err := h.forceLazyArrayItem(d, nil, true); err != nil {
			return err
		}
	}
	for _, d := range ei.WriteFields.Slice() {
		delete(h.dictReads, d)
		if err := h.forceLazyField(d, false); err != nil {
			return err
		}
	}
	for _, d := range ei.WriteArrays.Slice() {
		if err := h.forceLazyArrayItem(d, nil, false); err != nil {
			return err
		}
		if dictDescr, ok := h.correspondingArray[d]; ok {
			delete(h.correspondingArray, d)
			delete(h.dictReads, dictDescr)
		}
	}
	if ei.CheckForcesVirtual() {
		return h.forceAllLazy()
	}
	return nil
}

func (h *OptHeap) forceLazyField(d *history.FieldDescr, canCache bool) error {
	cf, ok := h.fields[d]
	if !ok {
		return nil
	}
	return cf.forceLazy(h, canCache)
}

// forceLazyArrayItem index 为 nil 表示所有下标
func (h *OptHeap) forceLazyArrayItem(d *history.ArrayDescr, index *OptValue, canCache bool) error {
	sub, ok := h.arrayItems[d]
	if !ok {
		return nil
	}
	for _, idx := range slices.Sorted(maps.Keys(sub)) {
		if index == nil || index.IntBound().Contains(idx) {
			if err := sub[idx].forceLazy(h, canCache); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *OptHeap) forceAllLazy() error {
	for _, cf := range h.lazySetfields {
		if err := cf.forceLazy(h, true); err != nil {
			return err
		}
	}
	return nil
}

// forceLazyForGuard 写入虚拟对象的延迟写留给恢复数据，其余直接输出
func (h *OptHeap) forceLazyForGuard() ([]resume.PendingField, error) {
	var pending []resume.PendingField
	for _, cf := range h.lazySetfields {
		op := cf.lazy
		if op == nil {
			continue
		}
		sv := h.getValue(op.Arg(0))
		fv := h.getValue(op.LastArg())
		if !fv.IsVirtual() {
			if err := cf.forceLazy(h, true); err != nil {
				return nil, err
			}
			continue
		}
		itemIndex := -1
		if op.Opnum == history.SETARRAYITEM_GC {
			n, _ := h.getValue(op.Arg(1)).ConstInt()
			itemIndex = int(n)
		}
		pending = append(pending, resume.PendingField{
			Descr: op.Descr, Struct: sv.box, Value: fv.keybox, ItemIndex: itemIndex,
		})
	}
	return pending, nil
}

func (h *OptHeap) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.GETFIELD_GC:
		return h.optimizeGetfield(op, true)
	case history.GETFIELD_GC_PURE:
		return h.optimizeGetfield(op, false)
	case history.SETFIELD_GC:
		return h.optimizeSetfield(op)
	case history.GETARRAYITEM_GC:
		return h.optimizeGetarrayitem(op, true)
	case history.GETARRAYITEM_GC_PURE:
		return h.optimizeGetarrayitem(op, false)
	case history.SETARRAYITEM_GC:
		return h.optimizeSetarrayitem(op)
	case history.QUASIIMMUT_FIELD:
		return h.optimizeQuasiImmutField(op)
	case history.GUARD_NOT_INVALIDATED:
		if h.removeGuardNotInvalidated || h.seenGuardNotInvalidated {
			return nil
		}
		h.seenGuardNotInvalidated = true
	case history.GUARD_NO_EXCEPTION, history.GUARD_EXCEPTION:
		if h.lastEmitted == removed {
			return nil
		}
	case history.CALL:
		if ei := op.CallDescr().Effect; ei.Oopspec == history.OS_DICT_LOOKUP {
			if done := h.optimizeDictLookup(op, ei); done {
				return nil
			}
		}
	}
	return h.emitOperation(op)
}

func (h *OptHeap) optimizeGetfield(op *history.ResOp, remember bool) error {
	sv := h.getValue(op.Arg(0))
	cf := h.fieldCache(op.Descr.(*history.FieldDescr))
	fv, err := cf.getFromCache(h, sv)
	if err != nil {
		return err
	}
	if fv != nil {
		h.makeEqualTo(op.Result, fv)
		return nil
	}
	sv.EnsureNonNull()
	if err := h.emitOperation(op); err != nil {
		return err
	}
	if remember {
		cf.remember(sv, h.getValue(op.Result))
	}
	return nil
}

func (h *OptHeap) optimizeSetfield(op *history.ResOp) error {
	if h.opt.hasPureResult(history.GETFIELD_GC_PURE, op.Args[:1], op.Descr) {
		return h.bogusImmutable(op)
	}
	return h.fieldCache(op.Descr.(*history.FieldDescr)).doSetfield(h, op)
}

func (h *OptHeap) optimizeGetarrayitem(op *history.ResOp, remember bool) error {
	av := h.getValue(op.Arg(0))
	iv := h.getValue(op.Arg(1))
	d := op.Descr.(*history.ArrayDescr)
	var cf *cachedField
	if idx, ok := iv.ConstInt(); ok {
		av.MakeLenGt(idx)
		cf = h.arrayItemCache(d, idx)
		fv, err := cf.getFromCache(h, av)
		if err != nil {
			return err
		}
		if fv != nil {
			h.makeEqualTo(op.Result, fv)
			return nil
		}
	} else if err := h.forceLazyArrayItem(d, iv, true); err != nil {
		return err
	}
	av.EnsureNonNull()
	if err := h.emitOperation(op); err != nil {
		return err
	}
	if cf != nil && remember {
		cf.remember(av, h.getValue(op.Result))
	}
	return nil
}

func (h *OptHeap) optimizeSetarrayitem(op *history.ResOp) error {
	if h.opt.hasPureResult(history.GETARRAYITEM_GC_PURE, op.Args[:2], op.Descr) {
		return h.bogusImmutable(op)
	}
	d := op.Descr.(*history.ArrayDescr)
	iv := h.getValue(op.Arg(1))
	if idx, ok := iv.ConstInt(); ok {
		h.getValue(op.Arg(0)).MakeLenGt(idx)
		return h.arrayItemCache(d, idx).doSetfield(h, op)
	}
	if err := h.forceLazyArrayItem(d, iv, false); err != nil {
		return err
	}
	return h.emitOperation(op)
}

func (h *OptHeap) bogusImmutable(op *history.ResOp) error {
	descr := op.Descr.DescrString()
	h.opt.log.Warn("store into immutable field", zap.String("descr", descr), zap.Stringer("op", op))
	return &errs.BogusImmutableField{Descr: descr}
}

// optimizeQuasiImmutField 结构体是常量时记录依赖；之后的 GETFIELD_GC_PURE 由其他优化折叠
func (h *OptHeap) optimizeQuasiImmutField(op *history.ResOp) error {
	sv := h.getValue(op.Arg(0))
	if !sv.IsConstant() {
		h.removeGuardNotInvalidated = true
		return nil
	}
	qd := op.Descr.(*history.QuasiImmutDescr)
	s, ok := refConst(sv).(*history.StructObj)
	if !ok || !qd.IsStillValidFor(s) {
		return &errs.InvalidLoop{Reason: "quasi immutable field changed during tracing"}
	}
	if qd.Mutate != nil {
		h.opt.QuasiImmutableDeps[qd.Mutate] = struct{}{}
	}
	h.removeGuardNotInvalidated = false
	return nil
}

// optimizeDictLookup 同一字典、同一键的连续查找
//
// FLAG_LOOKUP 总是缓存并使用缓存；FLAG_STORE 不写缓存，只在缓存结果已知非负时
// 使用；FLAG_DELETE 从不使用缓存。
func (h *OptHeap) optimizeDictLookup(op *history.ResOp, ei *history.EffectInfo) bool {
	flag, ok := h.getValue(op.Arg(4)).ConstInt()
	if !ok || len(ei.DictLookupDescrs) < 2 {
		return false
	}
	if f := history.DictLookupFlag(flag); f != history.FLAG_LOOKUP && f != history.FLAG_STORE {
		return false
	}
	entries := ei.DictLookupDescrs[0]
	d, ok := h.dictReads[entries]
	if !ok {
		d = make(map[dictKey]*OptValue)
		h.dictReads[entries] = d
		h.correspondingArray[ei.DictLookupDescrs[1]] = entries
	}
	key := dictKey{h.opt.replacement(op.Arg(1)), h.opt.replacement(op.Arg(2))}
	res, found := d[key]
	if !found {
		if history.DictLookupFlag(flag) == history.FLAG_LOOKUP {
			d[key] = h.getValue(op.Result)
		}
		return false
	}
	if history.DictLookupFlag(flag) != history.FLAG_LOOKUP && !res.IntBound().KnownNonNegative() {
		return false
	}
	h.makeEqualTo(op.Result, res)
	h.lastEmitted = removed
	return true
}
