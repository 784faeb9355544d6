// earlyforce.go - 在缓存之前强制虚拟参数
package optimizeopt

import "github.com/tangzhangming/solatrans/internal/jit/history"

// OptEarlyForcePass 除了几种只记录引用的操作，其余操作的虚拟参数在这里分配，
// 这样后面的 pure 与 heap 看到的都是真实的 box
type OptEarlyForcePass struct {
	optBase
}

func (o *OptEarlyForcePass) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.SETFIELD_GC, history.SETARRAYITEM_GC, history.SETARRAYITEM_RAW,
		history.QUASIIMMUT_FIELD, history.SAME_AS:
		return o.emit(op)
	}
	for _, arg := range op.Args {
		v, ok := o.opt.values[arg]
		if !ok || !v.IsVirtual() {
			continue
		}
		if _, err := o.force(v); err != nil {
			return err
		}
	}
	return o.emit(op)
}
