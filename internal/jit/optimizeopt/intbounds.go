// intbounds.go - 整数区间传播与冗余守卫消除
package optimizeopt

import (
	"math"

	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// OptIntBoundsPass 跟踪整数值的区间，折叠可判定的比较，把不会溢出的 ovf 操作降为普通操作
type OptIntBoundsPass struct {
	optBase
}

var zeroBound = NewIntBound(0, 0)

func (o *OptIntBoundsPass) bound(v history.Value) *IntBound { return o.getValue(v).IntBound() }

func (o *OptIntBoundsPass) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.GUARD_TRUE, history.GUARD_FALSE, history.GUARD_VALUE:
		if err := o.emit(op); err != nil {
			return err
		}
		o.propagateBackward(op.Arg(0))
		return nil
	case history.INT_OR, history.INT_XOR:
		return o.optimizeOrXor(op)
	case history.INT_AND:
		return o.optimizeAnd(op)
	case history.INT_ADD:
		return o.optimizeAdd(op)
	case history.INT_SUB:
		return o.emitWithBound(op, func(a, b *IntBound) *IntBound { return a.SubBound(b) }, true)
	case history.INT_MUL:
		return o.emitWithBound(op, func(a, b *IntBound) *IntBound { return a.MulBound(b) }, true)
	case history.INT_FLOORDIV:
		return o.emitWithBound(op, func(a, b *IntBound) *IntBound { return a.DivBound(b) }, false)
	case history.INT_MOD:
		return o.optimizeMod(op)
	case history.INT_LSHIFT:
		return o.optimizeLshift(op)
	case history.INT_RSHIFT:
		return o.optimizeRshift(op)
	case history.INT_ADD_OVF, history.INT_SUB_OVF, history.INT_MUL_OVF:
		return o.optimizeOvf(op)
	case history.GUARD_NO_OVERFLOW:
		return o.optimizeGuardNoOverflow(op)
	case history.GUARD_OVERFLOW:
		if last := o.lastEmitted; last == nil || !last.IsOvf() {
			return &errs.InvalidLoop{Reason: "an INT_xxx_OVF was proven not to overflow but guarded with GUARD_OVERFLOW"}
		}
		return o.emit(op)
	case history.INT_LT, history.INT_GT, history.INT_LE, history.INT_GE, history.INT_EQ, history.INT_NE:
		return o.optimizeCompare(op)
	case history.INT_FORCE_GE_ZERO:
		v := o.getValue(op.Arg(0))
		if v.IntBound().KnownGe(zeroBound) {
			o.makeEqualTo(op.Result, v)
			return nil
		}
		return o.emit(op)
	case history.ARRAYLEN_GC, history.STRLEN, history.UNICODELEN:
		if err := o.emit(op); err != nil {
			return err
		}
		array := o.getValue(op.Arg(0))
		result := o.getValue(op.Result)
		if result.IsConstant() {
			return nil
		}
		lb := array.LenBound()
		lb.Intersect(result.IntBound())
		result.intBound = lb
		return nil
	case history.STRGETITEM:
		if err := o.emit(op); err != nil {
			return err
		}
		r := o.bound(op.Result)
		r.MakeGe(LowerBound(0))
		r.MakeLt(UpperBound(256))
		return nil
	case history.UNICODEGETITEM:
		if err := o.emit(op); err != nil {
			return err
		}
		o.bound(op.Result).MakeGe(LowerBound(0))
		return nil
	}
	return o.emit(op)
}

// emitWithBound 发出操作后用 f 计算的区间收紧结果；onlyBounded 时只接受两端有界的结果
func (o *OptIntBoundsPass) emitWithBound(op *history.ResOp, f func(a, b *IntBound) *IntBound, onlyBounded bool) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	if err := o.emit(op); err != nil {
		return err
	}
	b := f(v1.IntBound(), v2.IntBound())
	if !onlyBounded || b.Bounded() {
		o.bound(op.Result).Intersect(b)
	}
	return nil
}

func (o *OptIntBoundsPass) optimizeOrXor(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	if v1 == v2 {
		if op.Opnum == history.INT_OR {
			o.makeEqualTo(op.Result, v1)
		} else {
			o.makeConstantInt(op.Result, 0)
		}
		return nil
	}
	if err := o.emit(op); err != nil {
		return err
	}
	b1, b2 := v1.IntBound(), v2.IntBound()
	if b1.KnownGe(zeroBound) && b2.KnownGe(zeroBound) && b1.HasUpper && b2.HasUpper {
		o.bound(op.Result).Intersect(NewIntBound(0, NextPow2M1(b1.Upper|b2.Upper)))
	}
	return nil
}

func (o *OptIntBoundsPass) optimizeAnd(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	if err := o.emit(op); err != nil {
		return err
	}
	r := o.bound(op.Result)
	if n, ok := v2.ConstInt(); ok {
		if n >= 0 {
			r.Intersect(NewIntBound(0, n))
		}
	} else if n, ok := v1.ConstInt(); ok {
		if n >= 0 {
			r.Intersect(NewIntBound(0, n))
		}
	} else if b1, b2 := v1.IntBound(), v2.IntBound(); b1.KnownGe(zeroBound) && b2.KnownGe(zeroBound) && b1.HasUpper && b2.HasUpper {
		r.Intersect(NewIntBound(0, NextPow2M1(min(b1.Upper, b2.Upper))))
	}
	return nil
}

// optimizeAdd 把 b = a + c1; d = b + c2 改写为 d = a + (c1 + c2)
func (o *OptIntBoundsPass) optimizeAdd(op *history.ResOp) error {
	arg1, arg2 := op.Arg(0), op.Arg(1)
	v1, v2 := o.getValue(arg1), o.getValue(arg2)
	if v1.IsConstant() {
		arg1, arg2 = arg2, arg1
		v1, v2 = v2, v1
	}
	if c2, ok := v2.ConstInt(); ok {
		if box, isBox := arg1.(*history.Box); isBox {
			if prod, found := o.opt.producer[box]; found && prod.Opnum == history.INT_ADD {
				p1, p2 := prod.Arg(0), prod.Arg(1)
				if o.getValue(p1).IsConstant() {
					p1, p2 = p2, p1
				}
				if pc, ok := o.getValue(p2).ConstInt(); ok {
					op = op.CopyAndChange(history.INT_ADD, []history.Value{p1, history.ConstInt{Value: c2 + pc}})
				}
			}
		}
	}
	if err := o.emit(op); err != nil {
		return err
	}
	b := v1.IntBound().AddBound(v2.IntBound())
	if b.Bounded() {
		o.bound(op.Result).Intersect(b)
	}
	return nil
}

func (o *OptIntBoundsPass) optimizeMod(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	knownNonneg := v1.IntBound().KnownGe(zeroBound) && v2.IntBound().KnownGe(zeroBound)
	if n, ok := v2.ConstInt(); ok && knownNonneg && n > 0 && n&(n-1) == 0 {
		op = op.CopyAndChange(history.INT_AND, []history.Value{op.Arg(0), history.ConstInt{Value: n - 1}})
	}
	if err := o.emit(op); err != nil {
		return err
	}
	n, ok := v2.ConstInt()
	if !ok {
		return nil
	}
	if n < 0 {
		if n == math.MinInt64 {
			return nil
		}
		n = -n
	}
	r := o.bound(op.Result)
	if knownNonneg {
		r.MakeGe(zeroBound)
	} else {
		r.MakeGt(NewIntBound(-n, -n))
	}
	r.MakeLt(NewIntBound(n, n))
	return nil
}

func (o *OptIntBoundsPass) optimizeLshift(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	if err := o.emit(op); err != nil {
		return err
	}
	b := v1.IntBound().LshiftBound(v2.IntBound())
	o.bound(op.Result).Intersect(b)
	if b.Bounded() {
		// 不会溢出时 (x << y) >> y 就是 x
		o.opt.registerPure(history.INT_RSHIFT, []history.Value{op.Result, op.Arg(1)}, op.Arg(0))
	}
	return nil
}

func (o *OptIntBoundsPass) optimizeRshift(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	b := v1.IntBound().RshiftBound(v2.IntBound())
	if n, ok := b.IsConstant(); ok {
		o.makeConstantInt(op.Result, n)
		return nil
	}
	if err := o.emit(op); err != nil {
		return err
	}
	o.bound(op.Result).Intersect(b)
	return nil
}

func (o *OptIntBoundsPass) optimizeOvf(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	var res *IntBound
	var plain history.Opnum
	switch op.Opnum {
	case history.INT_ADD_OVF:
		res, plain = v1.IntBound().AddBound(v2.IntBound()), history.INT_ADD
	case history.INT_SUB_OVF:
		if v1 == v2 {
			o.makeConstantInt(op.Result, 0)
			return nil
		}
		res, plain = v1.IntBound().SubBound(v2.IntBound()), history.INT_SUB
	default:
		res, plain = v1.IntBound().MulBound(v2.IntBound()), history.INT_MUL
	}
	if res.Bounded() {
		// 后面的 GUARD_NO_OVERFLOW 会因 lastEmitted 不再是 ovf 操作而被删除
		op = op.CopyAndChange(plain, nil)
	}
	if err := o.emit(op); err != nil {
		return err
	}
	o.bound(op.Result).Intersect(res)
	return nil
}

func (o *OptIntBoundsPass) optimizeGuardNoOverflow(op *history.ResOp) error {
	last := o.lastEmitted
	if last != nil {
		if !last.IsOvf() {
			return nil
		}
		a, b, r := last.Arg(0), last.Arg(1), history.Value(last.Result)
		switch last.Opnum {
		case history.INT_ADD_OVF:
			o.opt.registerPure(history.INT_ADD, []history.Value{a, b}, r)
			o.opt.registerPure(history.INT_SUB, []history.Value{r, b}, a)
			o.opt.registerPure(history.INT_SUB, []history.Value{r, a}, b)
		case history.INT_SUB_OVF:
			o.opt.registerPure(history.INT_SUB, []history.Value{a, b}, r)
			o.opt.registerPure(history.INT_ADD, []history.Value{r, b}, a)
			o.opt.registerPure(history.INT_SUB, []history.Value{a, r}, b)
		case history.INT_MUL_OVF:
			o.opt.registerPure(history.INT_MUL, []history.Value{a, b}, r)
		}
	}
	return o.emit(op)
}

func (o *OptIntBoundsPass) optimizeCompare(op *history.ResOp) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	b1, b2 := v1.IntBound(), v2.IntBound()
	same := v1 == v2
	var known, value bool
	switch op.Opnum {
	case history.INT_LT:
		known, value = b1.KnownLt(b2) || b1.KnownGe(b2) || same, b1.KnownLt(b2)
	case history.INT_GT:
		known, value = b1.KnownGt(b2) || b1.KnownLe(b2) || same, b1.KnownGt(b2)
	case history.INT_LE:
		known, value = b1.KnownLe(b2) || same || b1.KnownGt(b2), b1.KnownLe(b2) || same
	case history.INT_GE:
		known, value = b1.KnownGe(b2) || same || b1.KnownLt(b2), b1.KnownGe(b2) || same
	case history.INT_EQ:
		known, value = b1.KnownGt(b2) || b1.KnownLt(b2) || same, !b1.KnownGt(b2) && !b1.KnownLt(b2)
	case history.INT_NE:
		known, value = b1.KnownGt(b2) || b1.KnownLt(b2) || same, b1.KnownGt(b2) || b1.KnownLt(b2)
	}
	if !known {
		return o.emit(op)
	}
	if value {
		o.makeConstantInt(op.Result, 1)
	} else {
		o.makeConstantInt(op.Result, 0)
	}
	return nil
}

// ============================================================================
// 反向传播
// ============================================================================

// propagateBackward 守卫固定了 box 的值后，把收紧的区间推回产生它的操作的参数
func (o *OptIntBoundsPass) propagateBackward(v history.Value) {
	val := o.getValue(v)
	if v.Type() != history.INT {
		return
	}
	if n, ok := val.IntBound().IsConstant(); ok && !val.IsConstant() {
		val.MakeConstant(history.ConstInt{Value: n})
	}
	box, ok := v.(*history.Box)
	if !ok {
		return
	}
	op, ok := o.opt.producer[box]
	if !ok {
		return
	}
	switch op.Opnum {
	case history.INT_LT:
		o.propagateCompare(op, o.makeIntLt, o.makeIntGe)
	case history.INT_GT:
		o.propagateCompare(op, o.makeIntGt, o.makeIntLe)
	case history.INT_LE:
		o.propagateCompare(op, o.makeIntLe, o.makeIntGt)
	case history.INT_GE:
		o.propagateCompare(op, o.makeIntGe, o.makeIntLt)
	case history.INT_EQ:
		if o.resultIs(op, 1) {
			o.intersectBoth(op)
		}
	case history.INT_NE:
		if o.resultIs(op, 0) {
			o.intersectBoth(op)
		}
	case history.INT_IS_TRUE:
		o.propagateIsTrueOrZero(op, 1, 0)
	case history.INT_IS_ZERO:
		o.propagateIsTrueOrZero(op, 0, 1)
	case history.INT_ADD, history.INT_ADD_OVF:
		v1, v2, r := o.bound(op.Arg(0)), o.bound(op.Arg(1)), o.bound(op.Result)
		if v1.Intersect(r.SubBound(v2)) {
			o.propagateBackward(op.Arg(0))
		}
		if v2.Intersect(r.SubBound(v1)) {
			o.propagateBackward(op.Arg(1))
		}
	case history.INT_SUB, history.INT_SUB_OVF:
		v1, v2, r := o.bound(op.Arg(0)), o.bound(op.Arg(1)), o.bound(op.Result)
		if v1.Intersect(r.AddBound(v2)) {
			o.propagateBackward(op.Arg(0))
		}
		if v2.Intersect(v1.SubBound(r)) {
			o.propagateBackward(op.Arg(1))
		}
	case history.INT_MUL, history.INT_MUL_OVF:
		v1, v2, r := o.bound(op.Arg(0)), o.bound(op.Arg(1)), o.bound(op.Result)
		if v1.Intersect(r.DivBound(v2)) {
			o.propagateBackward(op.Arg(0))
		}
		if v2.Intersect(r.DivBound(v1)) {
			o.propagateBackward(op.Arg(1))
		}
	case history.INT_LSHIFT:
		v1, v2, r := o.bound(op.Arg(0)), o.bound(op.Arg(1)), o.bound(op.Result)
		if v1.Intersect(r.RshiftBound(v2)) {
			o.propagateBackward(op.Arg(0))
		}
	}
}

func (o *OptIntBoundsPass) resultIs(op *history.ResOp, n int64) bool {
	c, ok := o.getValue(op.Result).ConstInt()
	return ok && c == n
}

func (o *OptIntBoundsPass) propagateCompare(op *history.ResOp, ifTrue, ifFalse func(a, b history.Value)) {
	r := o.getValue(op.Result)
	c, ok := r.ConstInt()
	if !ok {
		return
	}
	if c == 1 {
		ifTrue(op.Arg(0), op.Arg(1))
	} else {
		ifFalse(op.Arg(0), op.Arg(1))
	}
}

func (o *OptIntBoundsPass) intersectBoth(op *history.ResOp) {
	b1, b2 := o.bound(op.Arg(0)), o.bound(op.Arg(1))
	if b1.Intersect(b2) {
		o.propagateBackward(op.Arg(0))
	}
	if b2.Intersect(b1) {
		o.propagateBackward(op.Arg(1))
	}
}

func (o *OptIntBoundsPass) propagateIsTrueOrZero(op *history.ResOp, nonzero, zero int64) {
	c, ok := o.getValue(op.Result).ConstInt()
	if !ok {
		return
	}
	b := o.bound(op.Arg(0))
	switch c {
	case nonzero:
		if b.KnownGe(zeroBound) {
			b.MakeGt(zeroBound)
			o.propagateBackward(op.Arg(0))
		}
	case zero:
		b.MakeGe(zeroBound)
		b.MakeLt(NewIntBound(1, 1))
		o.propagateBackward(op.Arg(0))
	}
}

func (o *OptIntBoundsPass) makeIntLt(a, b history.Value) {
	b1, b2 := o.bound(a), o.bound(b)
	if b1.MakeLt(b2) {
		o.propagateBackward(a)
	}
	if b2.MakeGt(b1) {
		o.propagateBackward(b)
	}
}

func (o *OptIntBoundsPass) makeIntLe(a, b history.Value) {
	b1, b2 := o.bound(a), o.bound(b)
	if b1.MakeLe(b2) {
		o.propagateBackward(a)
	}
	if b2.MakeGe(b1) {
		o.propagateBackward(b)
	}
}

func (o *OptIntBoundsPass) makeIntGt(a, b history.Value) { o.makeIntLt(b, a) }
func (o *OptIntBoundsPass) makeIntGe(a, b history.Value) { o.makeIntLe(b, a) }
