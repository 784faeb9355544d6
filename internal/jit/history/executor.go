// executor.go - 在常量上执行操作
//
// 优化器用它做常量折叠，llgraph 后端用它解释执行整个 trace。
// 守卫与控制流操作不在这里处理。
package history

import (
	"errors"
	"fmt"
	"math"

	"github.com/tangzhangming/solatrans/internal/rlib/rarith"
)

// ErrOverflow 带溢出检查的操作溢出
var ErrOverflow = errors.New("overflow")

// ErrNotExecutable 操作不能在常量上执行
var ErrNotExecutable = errors.New("operation is not executable")

// ErrNullPointer 通过空指针访问内存
var ErrNullPointer = errors.New("null pointer dereference")

// Execute 对具体参数执行一个操作；没有结果的操作返回 nil
func Execute(opnum Opnum, descr Descr, args []Value) (Value, error) {
	switch opnum {
	case INT_ADD, INT_SUB, INT_MUL, INT_FLOORDIV, INT_MOD, INT_AND, INT_OR, INT_XOR,
		INT_LSHIFT, INT_RSHIFT, UINT_RSHIFT, UINT_FLOORDIV,
		INT_ADD_OVF, INT_SUB_OVF, INT_MUL_OVF:
		return execIntBinary(opnum, args)
	case INT_LT, INT_LE, INT_EQ, INT_NE, INT_GT, INT_GE, UINT_LT, UINT_LE, UINT_GT, UINT_GE:
		return execIntCompare(opnum, args)
	case FLOAT_ADD, FLOAT_SUB, FLOAT_MUL, FLOAT_TRUEDIV:
		a, b := floatArg(args[0]), floatArg(args[1])
		switch opnum {
		case FLOAT_ADD:
			return ConstFloat{a + b}, nil
		case FLOAT_SUB:
			return ConstFloat{a - b}, nil
		case FLOAT_MUL:
			return ConstFloat{a * b}, nil
		}
		return ConstFloat{a / b}, nil
	case FLOAT_LT, FLOAT_LE, FLOAT_EQ, FLOAT_NE, FLOAT_GT, FLOAT_GE:
		a, b := floatArg(args[0]), floatArg(args[1])
		var r bool
		switch opnum {
		case FLOAT_LT:
			r = a < b
		case FLOAT_LE:
			r = a <= b
		case FLOAT_EQ:
			r = a == b
		case FLOAT_NE:
			r = a != b
		case FLOAT_GT:
			r = a > b
		default:
			r = a >= b
		}
		return boolConst(r), nil
	case FLOAT_NEG:
		return ConstFloat{-floatArg(args[0])}, nil
	case FLOAT_ABS:
		return ConstFloat{math.Abs(floatArg(args[0]))}, nil
	case CAST_FLOAT_TO_INT:
		return ConstInt{int64(floatArg(args[0]))}, nil
	case CAST_INT_TO_FLOAT:
		return ConstFloat{float64(intArg(args[0]))}, nil
	case INT_IS_ZERO:
		return boolConst(intArg(args[0]) == 0), nil
	case INT_IS_TRUE:
		return boolConst(intArg(args[0]) != 0), nil
	case INT_NEG:
		return ConstInt{-intArg(args[0])}, nil
	case INT_INVERT:
		return ConstInt{^intArg(args[0])}, nil
	case INT_FORCE_GE_ZERO:
		return ConstInt{max(intArg(args[0]), 0)}, nil
	case SAME_AS:
		return constOf(args[0]), nil
	case PTR_EQ, INSTANCE_PTR_EQ:
		return boolConst(refArg(args[0]) == refArg(args[1])), nil
	case PTR_NE, INSTANCE_PTR_NE:
		return boolConst(refArg(args[0]) != refArg(args[1])), nil
	}
	return execMemory(opnum, descr, args)
}

func execIntBinary(opnum Opnum, args []Value) (Value, error) {
	a, b := intArg(args[0]), intArg(args[1])
	var r int64
	switch opnum {
	case INT_ADD:
		r = a + b
	case INT_SUB:
		r = a - b
	case INT_MUL:
		r = a * b
	case INT_FLOORDIV, INT_MOD, UINT_FLOORDIV:
		if b == 0 {
			return nil, fmt.Errorf("%s: division by zero", opnum)
		}
		switch opnum {
		case INT_FLOORDIV:
			// 机器语义：向零截断
			r = a / b
		case INT_MOD:
			r = a % b
		default:
			r = int64(uint64(a) / uint64(b))
		}
	case INT_AND:
		r = a & b
	case INT_OR:
		r = a | b
	case INT_XOR:
		r = a ^ b
	case INT_LSHIFT:
		r = a << uint(b&63)
	case INT_RSHIFT:
		r = a >> uint(b&63)
	case UINT_RSHIFT:
		r = int64(uint64(a) >> uint(b&63))
	case INT_ADD_OVF, INT_SUB_OVF, INT_MUL_OVF:
		var err error
		switch opnum {
		case INT_ADD_OVF:
			r, err = rarith.OvfAdd(a, b)
		case INT_SUB_OVF:
			r, err = rarith.OvfSub(a, b)
		default:
			r, err = rarith.OvfMul(a, b)
		}
		if err != nil {
			return nil, ErrOverflow
		}
	}
	return ConstInt{r}, nil
}

func execIntCompare(opnum Opnum, args []Value) (Value, error) {
	a, b := intArg(args[0]), intArg(args[1])
	ua, ub := uint64(a), uint64(b)
	var r bool
	switch opnum {
	case INT_LT:
		r = a < b
	case INT_LE:
		r = a <= b
	case INT_EQ:
		r = a == b
	case INT_NE:
		r = a != b
	case INT_GT:
		r = a > b
	case INT_GE:
		r = a >= b
	case UINT_LT:
		r = ua < ub
	case UINT_LE:
		r = ua <= ub
	case UINT_GT:
		r = ua > ub
	case UINT_GE:
		r = ua >= ub
	}
	return boolConst(r), nil
}

// ============================================================================
// 内存操作
// ============================================================================

func execMemory(opnum Opnum, descr Descr, args []Value) (Value, error) {
	switch opnum {
	case GETFIELD_GC, GETFIELD_GC_PURE, GETFIELD_RAW, GETFIELD_RAW_PURE:
		s, err := structArg(args[0])
		if err != nil {
			return nil, err
		}
		return s.Get(descr.(*FieldDescr)), nil
	case SETFIELD_GC, SETFIELD_RAW:
		s, err := structArg(args[0])
		if err != nil {
			return nil, err
		}
		s.Fields[descr.(*FieldDescr)] = constOf(args[1])
		return nil, nil
	case ARRAYLEN_GC:
		a, err := arrayArg(args[0])
		if err != nil {
			return nil, err
		}
		return ConstInt{int64(len(a.Items))}, nil
	case GETARRAYITEM_GC, GETARRAYITEM_GC_PURE, GETARRAYITEM_RAW:
		a, err := arrayArg(args[0])
		if err != nil {
			return nil, err
		}
		i := intArg(args[1])
		if i < 0 || i >= int64(len(a.Items)) {
			return nil, fmt.Errorf("%s: index %d out of range", opnum, i)
		}
		return a.Items[i], nil
	case SETARRAYITEM_GC, SETARRAYITEM_RAW:
		a, err := arrayArg(args[0])
		if err != nil {
			return nil, err
		}
		i := intArg(args[1])
		if i < 0 || i >= int64(len(a.Items)) {
			return nil, fmt.Errorf("%s: index %d out of range", opnum, i)
		}
		a.Items[i] = constOf(args[2])
		return nil, nil
	case STRLEN, UNICODELEN:
		s, err := strArg(args[0])
		if err != nil {
			return nil, err
		}
		return ConstInt{int64(len(s.Chars))}, nil
	case STRGETITEM, UNICODEGETITEM:
		s, err := strArg(args[0])
		if err != nil {
			return nil, err
		}
		i := intArg(args[1])
		if i < 0 || i >= int64(len(s.Chars)) {
			return nil, fmt.Errorf("%s: index %d out of range", opnum, i)
		}
		return ConstInt{int64(s.Chars[i])}, nil
	case STRSETITEM, UNICODESETITEM:
		s, err := strArg(args[0])
		if err != nil {
			return nil, err
		}
		s.Chars[intArg(args[1])] = rune(intArg(args[2]))
		return nil, nil
	case COPYSTRCONTENT, COPYUNICODECONTENT:
		src, err := strArg(args[0])
		if err != nil {
			return nil, err
		}
		dst, err := strArg(args[1])
		if err != nil {
			return nil, err
		}
		srcStart, dstStart, n := intArg(args[2]), intArg(args[3]), intArg(args[4])
		copy(dst.Chars[dstStart:dstStart+n], src.Chars[srcStart:srcStart+n])
		return nil, nil
	case NEW:
		return ConstPtr{NewStructObj(descr.(*SizeDescr))}, nil
	case NEW_WITH_VTABLE:
		s := NewStructObj(nil)
		if c, ok := refArg(args[0]).(*ClassObj); ok {
			s.Class = c
		}
		return ConstPtr{s}, nil
	case NEW_ARRAY, NEW_ARRAY_CLEAR:
		return ConstPtr{NewArrayObj(descr.(*ArrayDescr), int(intArg(args[0])))}, nil
	case NEWSTR, NEWUNICODE:
		return ConstPtr{&StrObj{Chars: make([]rune, intArg(args[0])), Unicode: opnum == NEWUNICODE}}, nil
	case CALL, CALL_PURE, CALL_LOOPINVARIANT, CALL_MAY_FORCE, CALL_RELEASE_GIL, CALL_MALLOC_GC:
		f, ok := refArg(args[0]).(*FuncObj)
		if !ok || f.Impl == nil {
			return nil, fmt.Errorf("%s: %s is not callable", opnum, args[0])
		}
		callArgs := make([]Value, len(args)-1)
		for i, a := range args[1:] {
			callArgs[i] = constOf(a)
		}
		return f.Impl(callArgs)
	case COND_CALL:
		if intArg(args[0]) == 0 {
			return nil, nil
		}
		return execMemory(CALL, descr, args[1:])
	case KEEPALIVE, DEBUG_MERGE_POINT, JIT_DEBUG, COND_CALL_GC_WB, RECORD_KNOWN_CLASS,
		QUASIIMMUT_FIELD, VIRTUAL_REF_FINISH:
		return nil, nil
	case VIRTUAL_REF:
		return constOf(args[0]), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotExecutable, opnum)
}

// ============================================================================
// 参数提取
// ============================================================================

func constOf(v Value) Value {
	if b, ok := v.(*Box); ok {
		return b.Constant()
	}
	return v
}

func intArg(v Value) int64 {
	switch v := v.(type) {
	case ConstInt:
		return v.Value
	case *Box:
		return v.Int
	}
	panic(fmt.Sprintf("expected an integer, got %s", v))
}

func floatArg(v Value) float64 {
	switch v := v.(type) {
	case ConstFloat:
		return v.Value
	case *Box:
		return v.Float
	}
	panic(fmt.Sprintf("expected a float, got %s", v))
}

func refArg(v Value) HeapObj {
	switch v := v.(type) {
	case ConstPtr:
		return v.Value
	case *Box:
		return v.Ref
	}
	panic(fmt.Sprintf("expected a reference, got %s", v))
}

func structArg(v Value) (*StructObj, error) {
	s, ok := refArg(v).(*StructObj)
	if !ok {
		return nil, ErrNullPointer
	}
	return s, nil
}

func arrayArg(v Value) (*ArrayObj, error) {
	a, ok := refArg(v).(*ArrayObj)
	if !ok {
		return nil, ErrNullPointer
	}
	return a, nil
}

func strArg(v Value) (*StrObj, error) {
	s, ok := refArg(v).(*StrObj)
	if !ok {
		return nil, ErrNullPointer
	}
	return s, nil
}

func boolConst(b bool) ConstInt {
	if b {
		return CONST_1
	}
	return CONST_0
}

// ConstFromBool 布尔常量
func ConstFromBool(b bool) ConstInt { return boolConst(b) }
