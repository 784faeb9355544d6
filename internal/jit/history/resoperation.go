// Package history 追踪 IR：操作码、box 与常量、描述符以及记录下来的操作序列
//
// 追踪器记录的操作、优化器的输入输出以及后端编译的对象都是这里的 ResOp。
// 操作码按类别分段排列，IsGuard/IsAlwaysPure 等谓词用段的首尾标记判断。
package history

import (
	"fmt"
	"strings"
)

// ============================================================================
// 操作码
// ============================================================================

// Opnum 操作码
type Opnum int

const (
	opFinalFirst Opnum = iota
	JUMP
	FINISH
	opFinalLast

	LABEL

	opGuardFirst
	opGuardFoldableFirst
	GUARD_TRUE
	GUARD_FALSE
	GUARD_VALUE
	GUARD_CLASS
	GUARD_NONNULL
	GUARD_ISNULL
	GUARD_NONNULL_CLASS
	opGuardFoldableLast
	GUARD_NO_EXCEPTION
	GUARD_EXCEPTION
	GUARD_NO_OVERFLOW
	GUARD_OVERFLOW
	GUARD_NOT_FORCED
	GUARD_NOT_FORCED_2
	GUARD_NOT_INVALIDATED
	GUARD_FUTURE_CONDITION
	opGuardLast

	opNoSideEffectFirst
	opAlwaysPureFirst
	INT_ADD
	INT_SUB
	INT_MUL
	INT_FLOORDIV
	UINT_FLOORDIV
	INT_MOD
	INT_AND
	INT_OR
	INT_XOR
	INT_RSHIFT
	INT_LSHIFT
	UINT_RSHIFT
	FLOAT_ADD
	FLOAT_SUB
	FLOAT_MUL
	FLOAT_TRUEDIV
	FLOAT_NEG
	FLOAT_ABS
	CAST_FLOAT_TO_INT
	CAST_INT_TO_FLOAT
	INT_LT
	INT_LE
	INT_EQ
	INT_NE
	INT_GT
	INT_GE
	UINT_LT
	UINT_LE
	UINT_GT
	UINT_GE
	FLOAT_LT
	FLOAT_LE
	FLOAT_EQ
	FLOAT_NE
	FLOAT_GT
	FLOAT_GE
	INT_IS_ZERO
	INT_IS_TRUE
	INT_NEG
	INT_INVERT
	INT_FORCE_GE_ZERO
	SAME_AS
	CAST_PTR_TO_INT
	CAST_INT_TO_PTR
	PTR_EQ
	PTR_NE
	INSTANCE_PTR_EQ
	INSTANCE_PTR_NE
	ARRAYLEN_GC
	STRLEN
	STRGETITEM
	GETFIELD_GC_PURE
	GETFIELD_RAW_PURE
	GETARRAYITEM_GC_PURE
	UNICODELEN
	UNICODEGETITEM
	opAlwaysPureLast

	GETARRAYITEM_GC
	GETARRAYITEM_RAW
	GETFIELD_GC
	GETFIELD_RAW
	opMallocFirst
	NEW
	NEW_WITH_VTABLE
	NEW_ARRAY
	NEW_ARRAY_CLEAR
	NEWSTR
	NEWUNICODE
	opMallocLast
	FORCE_TOKEN
	VIRTUAL_REF
	opNoSideEffectLast

	SETARRAYITEM_GC
	SETARRAYITEM_RAW
	SETFIELD_GC
	SETFIELD_RAW
	STRSETITEM
	UNICODESETITEM
	COND_CALL_GC_WB
	DEBUG_MERGE_POINT
	JIT_DEBUG
	VIRTUAL_REF_FINISH
	COPYSTRCONTENT
	COPYUNICODECONTENT
	QUASIIMMUT_FIELD
	RECORD_KNOWN_CLASS
	KEEPALIVE

	opCanRaiseFirst
	opCallFirst
	CALL
	COND_CALL
	CALL_ASSEMBLER
	CALL_MAY_FORCE
	CALL_LOOPINVARIANT
	CALL_RELEASE_GIL
	CALL_PURE
	CALL_MALLOC_GC
	opCallLast
	opCanRaiseLast

	opOvfFirst
	INT_ADD_OVF
	INT_SUB_OVF
	INT_MUL_OVF
	opOvfLast

	opLast
)

// opInfo 操作码的静态属性；arity 为 -1 表示变长
type opInfo struct {
	name      string
	arity     int
	withDescr bool
	boolRes   bool
}

var opTable [opLast]opInfo

func def(arity int, descr, boolRes bool, ops ...Opnum) {
	for _, op := range ops {
		opTable[op].arity = arity
		opTable[op].withDescr = descr
		opTable[op].boolRes = boolRes
	}
}

func init() {
	names := map[Opnum]string{
		JUMP: "JUMP", FINISH: "FINISH", LABEL: "LABEL",
		GUARD_TRUE: "GUARD_TRUE", GUARD_FALSE: "GUARD_FALSE", GUARD_VALUE: "GUARD_VALUE",
		GUARD_CLASS: "GUARD_CLASS", GUARD_NONNULL: "GUARD_NONNULL", GUARD_ISNULL: "GUARD_ISNULL",
		GUARD_NONNULL_CLASS: "GUARD_NONNULL_CLASS", GUARD_NO_EXCEPTION: "GUARD_NO_EXCEPTION",
		GUARD_EXCEPTION: "GUARD_EXCEPTION", GUARD_NO_OVERFLOW: "GUARD_NO_OVERFLOW",
		GUARD_OVERFLOW: "GUARD_OVERFLOW", GUARD_NOT_FORCED: "GUARD_NOT_FORCED",
		GUARD_NOT_FORCED_2: "GUARD_NOT_FORCED_2", GUARD_NOT_INVALIDATED: "GUARD_NOT_INVALIDATED",
		GUARD_FUTURE_CONDITION: "GUARD_FUTURE_CONDITION",
		INT_ADD:                "INT_ADD", INT_SUB: "INT_SUB", INT_MUL: "INT_MUL", INT_FLOORDIV: "INT_FLOORDIV",
		UINT_FLOORDIV: "UINT_FLOORDIV", INT_MOD: "INT_MOD", INT_AND: "INT_AND", INT_OR: "INT_OR",
		INT_XOR: "INT_XOR", INT_RSHIFT: "INT_RSHIFT", INT_LSHIFT: "INT_LSHIFT", UINT_RSHIFT: "UINT_RSHIFT",
		FLOAT_ADD: "FLOAT_ADD", FLOAT_SUB: "FLOAT_SUB", FLOAT_MUL: "FLOAT_MUL", FLOAT_TRUEDIV: "FLOAT_TRUEDIV",
		FLOAT_NEG: "FLOAT_NEG", FLOAT_ABS: "FLOAT_ABS", CAST_FLOAT_TO_INT: "CAST_FLOAT_TO_INT",
		CAST_INT_TO_FLOAT: "CAST_INT_TO_FLOAT",
		INT_LT:            "INT_LT", INT_LE: "INT_LE", INT_EQ: "INT_EQ", INT_NE: "INT_NE", INT_GT: "INT_GT", INT_GE: "INT_GE",
		UINT_LT: "UINT_LT", UINT_LE: "UINT_LE", UINT_GT: "UINT_GT", UINT_GE: "UINT_GE",
		FLOAT_LT: "FLOAT_LT", FLOAT_LE: "FLOAT_LE", FLOAT_EQ: "FLOAT_EQ", FLOAT_NE: "FLOAT_NE",
		FLOAT_GT: "FLOAT_GT", FLOAT_GE: "FLOAT_GE",
		INT_IS_ZERO: "INT_IS_ZERO", INT_IS_TRUE: "INT_IS_TRUE", INT_NEG: "INT_NEG", INT_INVERT: "INT_INVERT",
		INT_FORCE_GE_ZERO: "INT_FORCE_GE_ZERO", SAME_AS: "SAME_AS",
		CAST_PTR_TO_INT: "CAST_PTR_TO_INT", CAST_INT_TO_PTR: "CAST_INT_TO_PTR",
		PTR_EQ: "PTR_EQ", PTR_NE: "PTR_NE", INSTANCE_PTR_EQ: "INSTANCE_PTR_EQ", INSTANCE_PTR_NE: "INSTANCE_PTR_NE",
		ARRAYLEN_GC: "ARRAYLEN_GC", STRLEN: "STRLEN", STRGETITEM: "STRGETITEM",
		GETFIELD_GC_PURE: "GETFIELD_GC_PURE", GETFIELD_RAW_PURE: "GETFIELD_RAW_PURE",
		GETARRAYITEM_GC_PURE: "GETARRAYITEM_GC_PURE", UNICODELEN: "UNICODELEN", UNICODEGETITEM: "UNICODEGETITEM",
		GETARRAYITEM_GC: "GETARRAYITEM_GC", GETARRAYITEM_RAW: "GETARRAYITEM_RAW",
		GETFIELD_GC: "GETFIELD_GC", GETFIELD_RAW: "GETFIELD_RAW",
		NEW: "NEW", NEW_WITH_VTABLE: "NEW_WITH_VTABLE", NEW_ARRAY: "NEW_ARRAY", NEW_ARRAY_CLEAR: "NEW_ARRAY_CLEAR",
		NEWSTR: "NEWSTR", NEWUNICODE: "NEWUNICODE", FORCE_TOKEN: "FORCE_TOKEN", VIRTUAL_REF: "VIRTUAL_REF",
		SETARRAYITEM_GC: "SETARRAYITEM_GC", SETARRAYITEM_RAW: "SETARRAYITEM_RAW",
		SETFIELD_GC: "SETFIELD_GC", SETFIELD_RAW: "SETFIELD_RAW", STRSETITEM: "STRSETITEM",
		UNICODESETITEM: "UNICODESETITEM", COND_CALL_GC_WB: "COND_CALL_GC_WB",
		DEBUG_MERGE_POINT: "DEBUG_MERGE_POINT", JIT_DEBUG: "JIT_DEBUG", VIRTUAL_REF_FINISH: "VIRTUAL_REF_FINISH",
		COPYSTRCONTENT: "COPYSTRCONTENT", COPYUNICODECONTENT: "COPYUNICODECONTENT",
		QUASIIMMUT_FIELD: "QUASIIMMUT_FIELD", RECORD_KNOWN_CLASS: "RECORD_KNOWN_CLASS", KEEPALIVE: "KEEPALIVE",
		CALL: "CALL", COND_CALL: "COND_CALL", CALL_ASSEMBLER: "CALL_ASSEMBLER", CALL_MAY_FORCE: "CALL_MAY_FORCE",
		CALL_LOOPINVARIANT: "CALL_LOOPINVARIANT", CALL_RELEASE_GIL: "CALL_RELEASE_GIL", CALL_PURE: "CALL_PURE",
		CALL_MALLOC_GC: "CALL_MALLOC_GC",
		INT_ADD_OVF:    "INT_ADD_OVF", INT_SUB_OVF: "INT_SUB_OVF", INT_MUL_OVF: "INT_MUL_OVF",
	}
	for op, name := range names {
		opTable[op].name = name
	}

	def(-1, true, false, JUMP, FINISH, LABEL, DEBUG_MERGE_POINT, JIT_DEBUG)
	def(1, true, false, GUARD_TRUE, GUARD_FALSE, GUARD_NONNULL, GUARD_ISNULL, GUARD_EXCEPTION)
	def(2, true, false, GUARD_VALUE, GUARD_CLASS, GUARD_NONNULL_CLASS)
	def(0, true, false, GUARD_NO_EXCEPTION, GUARD_NO_OVERFLOW, GUARD_OVERFLOW, GUARD_NOT_FORCED,
		GUARD_NOT_FORCED_2, GUARD_NOT_INVALIDATED, GUARD_FUTURE_CONDITION)

	def(2, false, false, INT_ADD, INT_SUB, INT_MUL, INT_FLOORDIV, UINT_FLOORDIV, INT_MOD, INT_AND,
		INT_OR, INT_XOR, INT_RSHIFT, INT_LSHIFT, UINT_RSHIFT, FLOAT_ADD, FLOAT_SUB, FLOAT_MUL,
		FLOAT_TRUEDIV, STRGETITEM, UNICODEGETITEM, INT_ADD_OVF, INT_SUB_OVF, INT_MUL_OVF)
	def(1, false, false, FLOAT_NEG, FLOAT_ABS, CAST_FLOAT_TO_INT, CAST_INT_TO_FLOAT, INT_NEG,
		INT_INVERT, INT_FORCE_GE_ZERO, SAME_AS, CAST_PTR_TO_INT, CAST_INT_TO_PTR, STRLEN, UNICODELEN,
		NEW_WITH_VTABLE, NEWSTR, NEWUNICODE, KEEPALIVE)
	def(2, false, true, INT_LT, INT_LE, INT_EQ, INT_NE, INT_GT, INT_GE, UINT_LT, UINT_LE, UINT_GT,
		UINT_GE, FLOAT_LT, FLOAT_LE, FLOAT_EQ, FLOAT_NE, FLOAT_GT, FLOAT_GE, PTR_EQ, PTR_NE,
		INSTANCE_PTR_EQ, INSTANCE_PTR_NE)
	def(1, false, true, INT_IS_ZERO, INT_IS_TRUE)
	def(1, true, false, ARRAYLEN_GC, GETFIELD_GC_PURE, GETFIELD_RAW_PURE, GETFIELD_GC, GETFIELD_RAW,
		NEW_ARRAY, NEW_ARRAY_CLEAR, COND_CALL_GC_WB, QUASIIMMUT_FIELD)
	def(2, true, false, GETARRAYITEM_GC_PURE, GETARRAYITEM_GC, GETARRAYITEM_RAW, SETFIELD_GC, SETFIELD_RAW)
	def(3, true, false, SETARRAYITEM_GC, SETARRAYITEM_RAW)
	def(0, true, false, NEW)
	def(0, false, false, FORCE_TOKEN)
	def(2, false, false, VIRTUAL_REF, VIRTUAL_REF_FINISH, RECORD_KNOWN_CLASS)
	def(3, false, false, STRSETITEM, UNICODESETITEM)
	def(5, false, false, COPYSTRCONTENT, COPYUNICODECONTENT)
	def(-1, true, false, CALL, COND_CALL, CALL_ASSEMBLER, CALL_MAY_FORCE, CALL_LOOPINVARIANT,
		CALL_RELEASE_GIL, CALL_PURE, CALL_MALLOC_GC)
}

// String 小写操作名
func (op Opnum) String() string {
	if op >= 0 && op < opLast && opTable[op].name != "" {
		return strings.ToLower(opTable[op].name)
	}
	return fmt.Sprintf("<%d>", int(op))
}

// Arity 参数个数；-1 表示变长
func (op Opnum) Arity() int { return opTable[op].arity }

// WithDescr 是否带描述符
func (op Opnum) WithDescr() bool { return opTable[op].withDescr }

func (op Opnum) IsGuard() bool         { return op > opGuardFirst && op < opGuardLast }
func (op Opnum) IsFoldableGuard() bool { return op > opGuardFoldableFirst && op < opGuardFoldableLast }
func (op Opnum) IsAlwaysPure() bool    { return op > opAlwaysPureFirst && op < opAlwaysPureLast }
func (op Opnum) HasNoSideEffect() bool { return op > opNoSideEffectFirst && op < opNoSideEffectLast }
func (op Opnum) CanRaise() bool        { return op > opCanRaiseFirst && op < opCanRaiseLast }
func (op Opnum) IsMalloc() bool        { return op > opMallocFirst && op < opMallocLast }
func (op Opnum) IsCall() bool          { return op > opCallFirst && op < opCallLast }
func (op Opnum) IsOvf() bool           { return op > opOvfFirst && op < opOvfLast }
func (op Opnum) IsFinal() bool         { return op > opFinalFirst && op < opFinalLast }
func (op Opnum) ReturnsBool() bool     { return opTable[op].boolRes }

// IsComparison 纯的布尔结果操作
func (op Opnum) IsComparison() bool { return op.IsAlwaysPure() && op.ReturnsBool() }

var boolInverse = map[Opnum]Opnum{
	INT_EQ: INT_NE, INT_NE: INT_EQ, INT_LT: INT_GE, INT_GE: INT_LT, INT_GT: INT_LE, INT_LE: INT_GT,
	UINT_LT: UINT_GE, UINT_GE: UINT_LT, UINT_GT: UINT_LE, UINT_LE: UINT_GT,
	FLOAT_EQ: FLOAT_NE, FLOAT_NE: FLOAT_EQ, FLOAT_LT: FLOAT_GE, FLOAT_GE: FLOAT_LT,
	FLOAT_GT: FLOAT_LE, FLOAT_LE: FLOAT_GT,
	PTR_EQ: PTR_NE, PTR_NE: PTR_EQ,
}

var boolReflex = map[Opnum]Opnum{
	INT_EQ: INT_EQ, INT_NE: INT_NE, INT_LT: INT_GT, INT_GE: INT_LE, INT_GT: INT_LT, INT_LE: INT_GE,
	UINT_LT: UINT_GT, UINT_GE: UINT_LE, UINT_GT: UINT_LT, UINT_LE: UINT_GE,
	FLOAT_EQ: FLOAT_EQ, FLOAT_NE: FLOAT_NE, FLOAT_LT: FLOAT_GT, FLOAT_GE: FLOAT_LE,
	FLOAT_GT: FLOAT_LT, FLOAT_LE: FLOAT_GE,
	PTR_EQ: PTR_EQ, PTR_NE: PTR_NE,
}

// BoolInverse not(a op b) 对应的操作码
func (op Opnum) BoolInverse() (Opnum, bool) {
	r, ok := boolInverse[op]
	return r, ok
}

// BoolReflex 交换参数后等价的操作码
func (op Opnum) BoolReflex() (Opnum, bool) {
	r, ok := boolReflex[op]
	return r, ok
}

// ============================================================================
// 操作
// ============================================================================

// ResOp 追踪中的一个操作
type ResOp struct {
	Opnum  Opnum
	Args   []Value
	Result *Box
	Descr  Descr
	// FailArgs 守卫失败时需要保存的值
	FailArgs []Value
}

// NewOp 创建操作；参数个数与描述符必须符合操作码
func NewOp(opnum Opnum, args []Value, result *Box, descr Descr) *ResOp {
	if n := opnum.Arity(); n >= 0 && len(args) != n {
		panic(fmt.Sprintf("%s takes %d arguments, got %d", opnum, n, len(args)))
	}
	if descr != nil && !opnum.WithDescr() {
		panic(fmt.Sprintf("%s does not take a descr", opnum))
	}
	return &ResOp{Opnum: opnum, Args: args, Result: result, Descr: descr}
}

// Arg 第 i 个参数
func (op *ResOp) Arg(i int) Value { return op.Args[i] }

// LastArg 最后一个参数；setfield 与 setarrayitem 的被写入值
func (op *ResOp) LastArg() Value { return op.Args[len(op.Args)-1] }

func (op *ResOp) IsGuard() bool         { return op.Opnum.IsGuard() }
func (op *ResOp) IsAlwaysPure() bool    { return op.Opnum.IsAlwaysPure() }
func (op *ResOp) HasNoSideEffect() bool { return op.Opnum.HasNoSideEffect() }
func (op *ResOp) IsCall() bool          { return op.Opnum.IsCall() }
func (op *ResOp) IsOvf() bool           { return op.Opnum.IsOvf() }
func (op *ResOp) IsFinal() bool         { return op.Opnum.IsFinal() }
func (op *ResOp) IsComparison() bool    { return op.Opnum.IsComparison() }

// CallDescr 调用操作的描述符
func (op *ResOp) CallDescr() *CallDescr {
	cd, _ := op.Descr.(*CallDescr)
	return cd
}

// Copy 浅复制：参数与失败参数切片各自独立
func (op *ResOp) Copy() *ResOp {
	c := *op
	c.Args = append([]Value(nil), op.Args...)
	if op.FailArgs != nil {
		c.FailArgs = append([]Value(nil), op.FailArgs...)
	}
	return &c
}

// CopyAndChange 换操作码与参数，其余字段沿用；args 为 nil 时沿用原参数
func (op *ResOp) CopyAndChange(opnum Opnum, args []Value) *ResOp {
	c := op.Copy()
	c.Opnum = opnum
	if args != nil {
		c.Args = args
	}
	if !opnum.WithDescr() {
		c.Descr = nil
	}
	if !opnum.IsGuard() {
		c.FailArgs = nil
	}
	return c
}

func (op *ResOp) String() string {
	var sb strings.Builder
	if op.Result != nil {
		sb.WriteString(op.Result.String())
		sb.WriteString(" = ")
	}
	sb.WriteString(op.Opnum.String())
	sb.WriteByte('(')
	for i, a := range op.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	if op.Descr != nil {
		if len(op.Args) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("descr=")
		sb.WriteString(op.Descr.DescrString())
	}
	sb.WriteByte(')')
	if op.FailArgs != nil {
		sb.WriteString(" [")
		for i, a := range op.FailArgs {
			if i > 0 {
				sb.WriteString(", ")
			}
			if a == nil {
				sb.WriteString("None")
			} else {
				sb.WriteString(a.String())
			}
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
