// simplify.go - 链尾的简化
package optimizeopt

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// OptSimplify 把只对优化有意义的操作换成普通操作或删除，并把 JUMP 指向具体的标签
type OptSimplify struct {
	optBase
	lastLabel *history.TargetToken
}

func (o *OptSimplify) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.CALL_PURE, history.CALL_LOOPINVARIANT:
		return o.emit(op.CopyAndChange(history.CALL, nil))
	case history.VIRTUAL_REF:
		return o.emit(history.NewOp(history.SAME_AS, op.Args[:1], op.Result, nil))
	case history.VIRTUAL_REF_FINISH, history.QUASIIMMUT_FIELD,
		history.RECORD_KNOWN_CLASS, history.GUARD_FUTURE_CONDITION:
		return nil
	case history.LABEL:
		if _, ok := op.Descr.(*history.JitCellToken); ok {
			return o.optimizeJump(op.CopyAndChange(history.JUMP, nil))
		}
		if t, ok := op.Descr.(*history.TargetToken); ok {
			o.lastLabel = t
		}
	case history.JUMP:
		return o.optimizeJump(op)
	}
	return o.emit(op)
}

func (o *OptSimplify) optimizeJump(op *history.ResOp) error {
	cell, ok := op.Descr.(*history.JitCellToken)
	if !ok {
		return o.emit(op)
	}
	op = op.Copy()
	switch {
	case o.lastLabel != nil && o.lastLabel.Cell == cell:
		op.Descr = o.lastLabel
	case len(cell.TargetTokens) == 1:
		op.Descr = cell.TargetTokens[0]
	default:
		return fmt.Errorf("jump to %s has no unique target", cell.DescrString())
	}
	return o.emit(op)
}
