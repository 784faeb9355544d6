// lowops.go - 高层操作与低层操作列表
//
// 类型化一个高层操作时，先把它包装成 HighLevelOp：带上每个参数的注解与表示。
// 表示的改写函数向 LowLevelOpList 追加低层操作，最后一个操作的结果
// 会被重命名为原操作的结果变量。
package rtyper

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ============================================================================
// LowLevelOpList
// ============================================================================

// LowLevelOpList 改写一个高层操作时生成的低层操作
type LowLevelOpList struct {
	rtyper *RTyper
	Ops    []*flowmodel.SpaceOperation
	err    error
}

func newLowLevelOpList(rt *RTyper) *LowLevelOpList {
	return &LowLevelOpList{rtyper: rt}
}

// Genop 追加一个低层操作，返回结果变量。
// 未知的低层操作名记录为错误，由调用方在改写结束后统一检查。
func (l *LowLevelOpList) Genop(opname string, args []flowmodel.Hlvalue, result lltype.Type) *flowmodel.Variable {
	if _, ok := lltype.LookupLLOp(opname); !ok && l.err == nil {
		l.err = errs.NewTyperError(errs.T0003, "unknown low-level operation %s", opname)
	}
	if result == nil {
		result = lltype.Void
	}
	v := flowmodel.NewVariable("v")
	v.Concrete = result
	l.Ops = append(l.Ops, flowmodel.NewOp(opname, args, v))
	return v
}

// GenDirectCall 调用运行时辅助函数 name；辅助函数的签名由实参类型和结果类型决定
func (l *LowLevelOpList) GenDirectCall(name string, result lltype.Type, args ...flowmodel.Hlvalue) *flowmodel.Variable {
	if result == nil {
		result = lltype.Void
	}
	argTypes := make([]lltype.Type, len(args))
	for i, a := range args {
		t := a.ConcreteType()
		if t == nil {
			t = lltype.Void
		}
		argTypes[i] = t
	}
	ft := lltype.NewFuncType(argTypes, result)
	fn := l.rtyper.helper(name, ft)
	callArgs := append([]flowmodel.Hlvalue{flowmodel.NewTypedConstant(fn, lltype.NewPtr(ft))}, args...)
	return l.Genop("direct_call", callArgs, result)
}

// convertVar 在这个操作列表上做表示转换
func (l *LowLevelOpList) convertVar(v flowmodel.Hlvalue, rFrom, rTo Repr) (flowmodel.Hlvalue, error) {
	return convertVar(l, v, rFrom, rTo)
}

// ============================================================================
// HighLevelOp
// ============================================================================

// HighLevelOp 正在类型化的高层操作
type HighLevelOp struct {
	rtyper *RTyper
	Op     *flowmodel.SpaceOperation
	// opname 分派用的操作名；内建函数转发时与 Op.OpName 不同
	opname string

	ArgsV   []flowmodel.Hlvalue
	ArgsS   []annotation.SomeValue
	ArgsR   []Repr
	SResult annotation.SomeValue
	RResult Repr

	LLOps *LowLevelOpList

	// exceptionLinks 操作所在块的异常出口（只有块中最后一个操作可以抛出）
	exceptionLinks []*flowmodel.Link
	// raiseIdx 可能抛出异常的低层操作下标，-1 表示尚未标记
	raiseIdx             int
	exceptionCannotOccur bool
	pos                  errs.Position
}

func (rt *RTyper) newHighLevelOp(op *flowmodel.SpaceOperation, excLinks []*flowmodel.Link, llops *LowLevelOpList, pos errs.Position) (*HighLevelOp, error) {
	hop := &HighLevelOp{
		rtyper:         rt,
		Op:             op,
		opname:         op.OpName,
		ArgsV:          append([]flowmodel.Hlvalue(nil), op.Args...),
		LLOps:          llops,
		exceptionLinks: excLinks,
		raiseIdx:       -1,
		pos:            pos,
	}
	for _, a := range op.Args {
		s := rt.binding(a)
		r, err := rt.GetRepr(s)
		if err != nil {
			return nil, err
		}
		hop.ArgsS = append(hop.ArgsS, s)
		hop.ArgsR = append(hop.ArgsR, r)
	}
	hop.SResult = rt.binding(op.Result)
	r, err := rt.GetRepr(hop.SResult)
	if err != nil {
		return nil, err
	}
	hop.RResult = r
	return hop, nil
}

// NArgs 参数个数
func (h *HighLevelOp) NArgs() int { return len(h.ArgsV) }

// Name 分派用的操作名
func (h *HighLevelOp) Name() string { return h.opname }

// InputArg 第 i 个参数转换为表示 r 后的值
func (h *HighLevelOp) InputArg(r Repr, i int) (flowmodel.Hlvalue, error) {
	v := h.ArgsV[i]
	if c, ok := v.(*flowmodel.Constant); ok && c.ConcreteType() == nil {
		return inputConst(r, c.Value)
	}
	return h.LLOps.convertVar(v, h.ArgsR[i], r)
}

// InputArgs 按给出的表示依次转换参数
func (h *HighLevelOp) InputArgs(rs ...Repr) ([]flowmodel.Hlvalue, error) {
	out := make([]flowmodel.Hlvalue, len(rs))
	for i, r := range rs {
		v, err := h.InputArg(r, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Genop 追加低层操作
func (h *HighLevelOp) Genop(opname string, args []flowmodel.Hlvalue, result lltype.Type) *flowmodel.Variable {
	return h.LLOps.Genop(opname, args, result)
}

// GenDirectCall 调用运行时辅助函数
func (h *HighLevelOp) GenDirectCall(name string, result lltype.Type, args ...flowmodel.Hlvalue) *flowmodel.Variable {
	return h.LLOps.GenDirectCall(name, result, args...)
}

// ExceptionIsHere 下一个生成的低层操作是可能抛出异常的那一个
func (h *HighLevelOp) ExceptionIsHere() {
	h.raiseIdx = len(h.LLOps.Ops)
}

// ExceptionCannotOccur 改写后的操作不会抛出异常，异常出口被删除
func (h *HighLevelOp) ExceptionCannotOccur() {
	h.exceptionCannotOccur = true
}

// HasImplicitException 块的异常出口是否捕获 cls（或其基类）
func (h *HighLevelOp) HasImplicitException(cls *program.Class) bool {
	for _, l := range h.exceptionLinks {
		exc, ok := l.ExitCase.(*program.Class)
		if ok && cls.IsSubclass(exc) {
			return true
		}
	}
	return false
}

// shift 去掉第一个参数，以 opname 重新分派（内建函数与方法调用）
func (h *HighLevelOp) shift(opname string) *HighLevelOp {
	c := *h
	c.opname = opname
	c.ArgsV = h.ArgsV[1:]
	c.ArgsS = h.ArgsS[1:]
	c.ArgsR = h.ArgsR[1:]
	return &c
}

// withArgs 替换参数的副本；新参数已经是低层值，表示由 rs 给出
func (h *HighLevelOp) withArgs(opname string, vs []flowmodel.Hlvalue, ss []annotation.SomeValue, rs []Repr) *HighLevelOp {
	c := *h
	c.opname = opname
	c.ArgsV = vs
	c.ArgsS = ss
	c.ArgsR = rs
	return &c
}

// merge 子操作对异常位置的标记回写到父操作
func (h *HighLevelOp) merge(sub *HighLevelOp) {
	if sub.raiseIdx >= 0 {
		h.raiseIdx = sub.raiseIdx
	}
	if sub.exceptionCannotOccur {
		h.exceptionCannotOccur = true
	}
}

// constArg 第 i 个参数的编译期常量值
func (h *HighLevelOp) constArg(i int) (interface{}, bool) {
	if c, ok := h.ArgsV[i].(*flowmodel.Constant); ok {
		return c.Value, true
	}
	if s := h.ArgsS[i]; s != nil && s.IsConstant() {
		return s.Const(), true
	}
	return nil, false
}

// constString 第 i 个参数作为常量字符串（属性名等）
func (h *HighLevelOp) constString(i int) (string, error) {
	v, ok := h.constArg(i)
	if !ok {
		return "", errs.NewTyperError(errs.T0001, "%s: argument %d is not a constant", h.opname, i)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case program.Char:
		return string(rune(s)), nil
	}
	return "", errs.NewTyperError(errs.T0001, "%s: argument %d is %T, not a string", h.opname, i, v)
}

func (h *HighLevelOp) String() string {
	return fmt.Sprintf("hop(%s)", h.Op)
}
