// pure.go - 纯操作与纯调用的公共子表达式消除
package optimizeopt

import (
	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// maxKeyArgs 参与缓存的操作最多的参数个数
const maxKeyArgs = 6

type argsKey struct {
	opnum history.Opnum
	descr history.Descr
	n     int
	args  [maxKeyArgs]*OptValue
}

// OptPure 缓存纯操作的结果
type OptPure struct {
	optBase
	pureOps   map[argsKey]*OptValue
	postponed *history.ResOp
}

func newOptPure() *OptPure {
	return &OptPure{pureOps: make(map[argsKey]*OptValue)}
}

func (o *OptPure) makeKey(opnum history.Opnum, args []history.Value, descr history.Descr) (argsKey, bool) {
	if len(args) > maxKeyArgs {
		return argsKey{}, false
	}
	k := argsKey{opnum: opnum, descr: descr, n: len(args)}
	for i, a := range args {
		k.args[i] = o.getValue(a)
	}
	return k, true
}

// pure 记下 opnum(args) 的结果是 result
func (o *OptPure) pure(opnum history.Opnum, args []history.Value, result history.Value) {
	if k, ok := o.makeKey(opnum, args, nil); ok {
		o.pureOps[k] = o.getValue(result)
	}
}

func (o *OptPure) lookup(opnum history.Opnum, args []history.Value, descr history.Descr) *OptValue {
	k, ok := o.makeKey(opnum, args, descr)
	if !ok {
		return nil
	}
	return o.pureOps[k]
}

func (o *OptPure) hasPureResult(opnum history.Opnum, args []history.Value, descr history.Descr) bool {
	return o.lookup(opnum, args, descr) != nil
}

func (o *OptPure) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.CALL_PURE:
		return o.optimizeCallPure(op)
	case history.GUARD_NO_EXCEPTION:
		if o.lastEmitted == removed {
			return nil
		}
		return o.emit(op)
	}
	return o.optimizeDefault(op)
}

func (o *OptPure) optimizeDefault(op *history.ResOp) error {
	canFold := op.IsAlwaysPure()
	if op.IsOvf() {
		o.postponed = op
		return nil
	}
	var next *history.ResOp
	if o.postponed != nil {
		next = op
		op = o.postponed
		o.postponed = nil
		canFold = next.Opnum == history.GUARD_NO_OVERFLOW
	}
	if canFold {
		if folded, ok := o.foldAllConstant(op); ok {
			o.makeConstant(op.Result, folded)
			return nil
		}
		if k, ok := o.makeKey(op.Opnum, op.Args, op.Descr); ok {
			if old, found := o.pureOps[k]; found {
				o.makeEqualTo(op.Result, old)
				return nil
			}
			if op.Result != nil {
				o.pureOps[k] = o.getValue(op.Result)
			}
		}
	}
	if err := o.emit(op); err != nil {
		return err
	}
	if op.Opnum.ReturnsBool() && op.Result != nil {
		o.opt.boolBoxes[o.getValue(op.Result)] = true
	}
	if next != nil {
		return o.emit(next)
	}
	return nil
}

// foldAllConstant 参数全为常量时求值；ovf 操作溢出时不折叠
func (o *OptPure) foldAllConstant(op *history.ResOp) (history.Value, bool) {
	if op.Result == nil {
		return nil, false
	}
	args := make([]history.Value, len(op.Args))
	for i, a := range op.Args {
		v := o.getValue(a)
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

func (o *OptPure) optimizeCallPure(op *history.ResOp) error {
	if res, ok := o.callWithConstants(op); ok {
		o.makeConstant(op.Result, res)
		o.lastEmitted = removed
		return nil
	}
	k, ok := o.makeKey(op.Opnum, op.Args, op.Descr)
	if ok {
		if old, found := o.pureOps[k]; found {
			o.makeEqualTo(op.Result, old)
			o.lastEmitted = removed
			return nil
		}
		if op.Result != nil {
			o.pureOps[k] = o.getValue(op.Result)
		}
	}
	return o.emit(op.CopyAndChange(history.CALL, nil))
}

// callWithConstants 参数全为常量且函数有实现时直接调用
func (o *OptPure) callWithConstants(op *history.ResOp) (history.Value, bool) {
	if op.Result == nil {
		return nil, false
	}
	fn, ok := refConst(o.getValue(op.Arg(0))).(*history.FuncObj)
	if !ok || fn.Impl == nil {
		return nil, false
	}
	args := make([]history.Value, len(op.Args)-1)
	for i, a := range op.Args[1:] {
		v := o.getValue(a)
		if !v.IsConstant() {
			return nil, false
		}
		args[i] = v.box
	}
	res, err := fn.Impl(args)
	if err != nil || res == nil || !res.IsConstant() {
		return nil, false
	}
	return res, true
}

func (o *OptPure) Flush() error {
	if o.postponed == nil {
		return nil
	}
	op := o.postponed
	o.postponed = nil
	return o.emit(op)
}
