// rewrite.go - 常量折叠、代数化简与守卫折叠
package optimizeopt

import (
	"fmt"

	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// OptRewrite 用已知的值改写单个操作
type OptRewrite struct {
	optBase
	loopInvariant map[*OptValue]*OptValue
}

func newOptRewrite() *OptRewrite {
	return &OptRewrite{loopInvariant: make(map[*OptValue]*OptValue)}
}

// constantFold 参数全为常量的纯操作直接求值
func (opt *Optimizer) constantFold(op *history.ResOp) (history.Value, bool) {
	if !op.IsAlwaysPure() || op.Result == nil {
		return nil, false
	}
	args := make([]history.Value, len(op.Args))
	for i, a := range op.Args {
		v := opt.getValue(a)
		if !v.IsConstant() {
			return nil, false
		}
		args[i] = v.box
	}
	res, err := history.Execute(op.Opnum, op.Descr, args)
	if err != nil || res == nil {
		return nil, false
	}
	return res, true
}

func (o *OptRewrite) PropagateForward(op *history.ResOp) error {
	if res, ok := o.opt.constantFold(op); ok {
		o.makeConstant(op.Result, res)
		return nil
	}
	if op.IsComparison() {
		if done := o.findRewritableBool(op); done {
			return nil
		}
	}
	switch op.Opnum {
	case history.INT_ADD, history.INT_SUB, history.INT_MUL, history.INT_AND, history.INT_OR,
		history.INT_XOR, history.INT_FLOORDIV, history.INT_LSHIFT, history.INT_RSHIFT, history.UINT_RSHIFT:
		if o.algebraic(op) {
			return nil
		}
	case history.FLOAT_MUL:
		for i := range 2 {
			if c, ok := o.getValue(op.Arg(i)).box.(history.ConstFloat); ok && c.Value == 1.0 {
				o.makeEqualTo(op.Result, o.getValue(op.Arg(1-i)))
				return nil
			}
		}
	case history.FLOAT_NEG:
		if box, ok := op.Arg(0).(*history.Box); ok {
			if prod, found := o.opt.producer[box]; found && prod.Opnum == history.FLOAT_NEG {
				o.makeEqualTo(op.Result, o.getValue(prod.Arg(0)))
				return nil
			}
		}
	case history.GUARD_TRUE, history.GUARD_FALSE:
		return o.optimizeGuardBool(op)
	case history.GUARD_VALUE:
		return o.optimizeGuardValue(op)
	case history.GUARD_NONNULL:
		v := o.getValue(op.Arg(0))
		if v.IsNonNull() {
			return nil
		}
		if v.IsNull() {
			return &errs.InvalidLoop{Reason: "GUARD_NONNULL proven to always fail"}
		}
		if err := o.emitGuard(op); err != nil {
			return err
		}
		v.EnsureNonNull()
		return nil
	case history.GUARD_ISNULL:
		v := o.getValue(op.Arg(0))
		if v.IsNull() {
			return nil
		}
		if v.IsNonNull() {
			return &errs.InvalidLoop{Reason: "GUARD_ISNULL proven to always fail"}
		}
		if err := o.emitGuard(op); err != nil {
			return err
		}
		o.makeConstant(asBox(op.Arg(0)), history.Null)
		return nil
	case history.GUARD_CLASS, history.GUARD_NONNULL_CLASS:
		return o.optimizeGuardClass(op)
	case history.PTR_EQ, history.INSTANCE_PTR_EQ:
		return o.optimizePtrEq(op, true)
	case history.PTR_NE, history.INSTANCE_PTR_NE:
		return o.optimizePtrEq(op, false)
	case history.INT_IS_TRUE:
		v := o.getValue(op.Arg(0))
		if o.opt.boolBoxes[v] {
			o.makeEqualTo(op.Result, v)
			return nil
		}
	case history.SAME_AS:
		o.makeEqualTo(op.Result, o.getValue(op.Arg(0)))
		return nil
	case history.CAST_PTR_TO_INT:
		if err := o.emit(op); err != nil {
			return err
		}
		o.opt.registerPure(history.CAST_INT_TO_PTR, []history.Value{op.Result}, op.Arg(0))
		return nil
	case history.CAST_INT_TO_PTR:
		if err := o.emit(op); err != nil {
			return err
		}
		o.opt.registerPure(history.CAST_PTR_TO_INT, []history.Value{op.Result}, op.Arg(0))
		return nil
	case history.CALL_LOOPINVARIANT:
		return o.optimizeCallLoopInvariant(op)
	case history.COND_CALL:
		v := o.getValue(op.Arg(0))
		if c, ok := v.ConstInt(); ok {
			if c == 0 {
				o.lastEmitted = removed
				return nil
			}
			return o.emit(op.CopyAndChange(history.CALL, append([]history.Value(nil), op.Args[1:]...)))
		}
	case history.RECORD_KNOWN_CLASS:
		v := o.getValue(op.Arg(0))
		if cls, ok := classOf(o.getValue(op.Arg(1))); ok && v.KnownClass() == nil && !v.IsConstant() {
			v.MakeKnownClass(cls)
		}
		return nil
	}
	return o.emitOp(op)
}

// emitOp 发出操作；布尔结果记入 boolBoxes
func (o *OptRewrite) emitOp(op *history.ResOp) error {
	if err := o.emit(op); err != nil {
		return err
	}
	if op.Opnum.ReturnsBool() && op.Result != nil {
		o.opt.boolBoxes[o.getValue(op.Result)] = true
	}
	return nil
}

func (o *OptRewrite) emitGuard(op *history.ResOp) error { return o.emit(op) }

// algebraic 恒等式化简；返回操作是否被消除
func (o *OptRewrite) algebraic(op *history.ResOp) bool {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	c1, ok1 := v1.ConstInt()
	c2, ok2 := v2.ConstInt()
	equal := func(v *OptValue) bool {
		o.makeEqualTo(op.Result, v)
		return true
	}
	constant := func(n int64) bool {
		o.makeConstantInt(op.Result, n)
		return true
	}
	switch op.Opnum {
	case history.INT_ADD, history.INT_OR, history.INT_XOR:
		if ok2 && c2 == 0 {
			return equal(v1)
		}
		if ok1 && c1 == 0 {
			return equal(v2)
		}
		if op.Opnum == history.INT_XOR && v1 == v2 {
			return constant(0)
		}
		if op.Opnum == history.INT_OR && v1 == v2 {
			return equal(v1)
		}
	case history.INT_SUB:
		if ok2 && c2 == 0 {
			return equal(v1)
		}
		if v1 == v2 {
			return constant(0)
		}
	case history.INT_MUL:
		if ok2 && c2 == 1 {
			return equal(v1)
		}
		if ok1 && c1 == 1 {
			return equal(v2)
		}
		if (ok1 && c1 == 0) || (ok2 && c2 == 0) {
			return constant(0)
		}
	case history.INT_AND:
		if (ok1 && c1 == 0) || (ok2 && c2 == 0) {
			return constant(0)
		}
		if ok2 && c2 == -1 {
			return equal(v1)
		}
		if ok1 && c1 == -1 {
			return equal(v2)
		}
		if v1 == v2 {
			return equal(v1)
		}
	case history.INT_FLOORDIV:
		if ok2 && c2 == 1 {
			return equal(v1)
		}
	case history.INT_LSHIFT, history.INT_RSHIFT, history.UINT_RSHIFT:
		if ok2 && c2 == 0 {
			return equal(v1)
		}
		if ok1 && c1 == 0 {
			return constant(0)
		}
	}
	return false
}

// findRewritableBool 同一比较、其反面或交换参数的版本已经算过时复用结果
func (o *OptRewrite) findRewritableBool(op *history.ResOp) bool {
	if o.opt.pure == nil {
		return false
	}
	a, b := op.Arg(0), op.Arg(1)
	if reflex, ok := op.Opnum.BoolReflex(); ok {
		if old := o.opt.pure.lookup(reflex, []history.Value{b, a}, nil); old != nil {
			o.makeEqualTo(op.Result, old)
			return true
		}
	}
	inverse, ok := op.Opnum.BoolInverse()
	if !ok {
		return false
	}
	try := func(opnum history.Opnum, args []history.Value) bool {
		old := o.opt.pure.lookup(opnum, args, nil)
		if old == nil {
			return false
		}
		if c, ok := old.ConstInt(); ok {
			o.makeConstantInt(op.Result, 1-c)
			return true
		}
		return false
	}
	if try(inverse, []history.Value{a, b}) {
		return true
	}
	if r, ok := inverse.BoolReflex(); ok && try(r, []history.Value{b, a}) {
		return true
	}
	return false
}

// ============================================================================
// 守卫
// ============================================================================

func (o *OptRewrite) optimizeGuardBool(op *history.ResOp) error {
	v := o.getValue(op.Arg(0))
	expect := int64(1)
	if op.Opnum == history.GUARD_FALSE {
		expect = 0
	}
	if c, ok := v.ConstInt(); ok {
		if (c != 0) == (expect != 0) {
			return nil
		}
		return &errs.InvalidLoop{Reason: fmt.Sprintf("%s proven to always fail", op.Opnum)}
	}
	if err := o.emitGuard(op); err != nil {
		return err
	}
	o.makeConstant(asBox(op.Arg(0)), history.ConstInt{Value: expect})
	return nil
}

func (o *OptRewrite) optimizeGuardValue(op *history.ResOp) error {
	v := o.getValue(op.Arg(0))
	expected := o.getValue(op.Arg(1))
	if v.IsConstant() {
		if history.Same(v.box, expected.box) {
			return nil
		}
		return &errs.InvalidLoop{Reason: fmt.Sprintf("GUARD_VALUE(%s, %s) proven to always fail", v.box, expected.box)}
	}
	if v.IsVirtual() {
		return &errs.InvalidLoop{Reason: "GUARD_VALUE on a virtual"}
	}
	if cls := v.KnownClass(); cls != nil {
		if s, ok := refConst(expected).(*history.StructObj); ok && s.Class != nil && !s.Class.IsSubclassOf(cls) {
			return &errs.InvalidLoop{Reason: "GUARD_VALUE contradicts the known class"}
		}
	}
	if c, ok := expected.ConstInt(); ok && o.opt.boolBoxes[v] && (c == 0 || c == 1) {
		guard := history.GUARD_FALSE
		if c == 1 {
			guard = history.GUARD_TRUE
		}
		op = op.CopyAndChange(guard, []history.Value{op.Arg(0)})
	}
	if err := o.emitGuard(op); err != nil {
		return err
	}
	o.makeConstant(asBox(op.Arg(0)), expected.box)
	return nil
}

func (o *OptRewrite) optimizeGuardClass(op *history.ResOp) error {
	v := o.getValue(op.Arg(0))
	cls, ok := classOf(o.getValue(op.Arg(1)))
	if !ok {
		return o.emitGuard(op)
	}
	if op.Opnum == history.GUARD_NONNULL_CLASS && v.IsNull() {
		return &errs.InvalidLoop{Reason: "GUARD_NONNULL_CLASS on a null pointer"}
	}
	if known := v.KnownClass(); known != nil {
		if known == cls {
			return nil
		}
		return &errs.InvalidLoop{Reason: fmt.Sprintf("GUARD_CLASS(%s) but the class is known to be %s", cls.Name, known.Name)}
	}
	if op.Opnum == history.GUARD_NONNULL_CLASS && v.IsNonNull() {
		op = op.CopyAndChange(history.GUARD_CLASS, nil)
	}
	if err := o.emitGuard(op); err != nil {
		return err
	}
	v.MakeKnownClass(cls)
	return nil
}

// ============================================================================
// 指针比较与调用
// ============================================================================

func (o *OptRewrite) optimizePtrEq(op *history.ResOp, eq bool) error {
	v1, v2 := o.getValue(op.Arg(0)), o.getValue(op.Arg(1))
	result := func(same bool) error {
		if same == eq {
			o.makeConstantInt(op.Result, 1)
		} else {
			o.makeConstantInt(op.Result, 0)
		}
		return nil
	}
	switch {
	case v1 == v2:
		return result(true)
	case v1.IsVirtual() || v2.IsVirtual():
		// 虚拟对象只等于它自己
		return result(false)
	case v1.IsNull() && v2.IsNonNull(), v1.IsNonNull() && v2.IsNull():
		return result(false)
	case v1.IsNull():
		return o.emitOp(op.CopyAndChange(nullCheck(eq), []history.Value{op.Arg(1)}))
	case v2.IsNull():
		return o.emitOp(op.CopyAndChange(nullCheck(eq), []history.Value{op.Arg(0)}))
	}
	return o.emitOp(op)
}

// nullCheck 与空指针比较时改用的整数测试
func nullCheck(eq bool) history.Opnum {
	if eq {
		return history.INT_IS_ZERO
	}
	return history.INT_IS_TRUE
}

func (o *OptRewrite) optimizeCallLoopInvariant(op *history.ResOp) error {
	key := o.getValue(op.Arg(0))
	if !key.IsConstant() {
		return o.emit(op.CopyAndChange(history.CALL, nil))
	}
	if old, ok := o.loopInvariant[key]; ok {
		o.makeEqualTo(op.Result, old)
		o.lastEmitted = removed
		return nil
	}
	if err := o.emit(op.CopyAndChange(history.CALL, nil)); err != nil {
		return err
	}
	if op.Result != nil {
		o.loopInvariant[key] = o.getValue(op.Result)
	}
	return nil
}

// ============================================================================
// 辅助
// ============================================================================

func asBox(v history.Value) *history.Box {
	b, _ := v.(*history.Box)
	return b
}

func refConst(v *OptValue) history.HeapObj {
	if c, ok := v.box.(history.ConstPtr); ok && v.IsConstant() {
		return c.Value
	}
	return nil
}

func classOf(v *OptValue) (*history.ClassObj, bool) {
	c, ok := refConst(v).(*history.ClassObj)
	return c, ok
}
