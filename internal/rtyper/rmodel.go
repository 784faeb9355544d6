// rmodel.go - 表示（Repr）的公共部分
//
// 每个注解对应一个表示：它决定变量的低层类型、常量如何转换成低层值，
// 以及以该表示为第一个参数的高层操作如何改写为低层操作。
// 二元操作按两个参数注解的种类在 pairTable 中分派。
package rtyper

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
)

// Repr 注解的低层表示
type Repr interface {
	LowLevelType() lltype.Type
	// ConvertConst 把宿主常量转换为低层值
	ConvertConst(value interface{}) (lltype.Value, error)
	String() string
}

// opTyper 能改写以自己为第一个参数的操作的表示
type opTyper interface {
	rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error)
}

// setupRepr 需要延迟构造低层类型的表示（类、实例等可能递归引用自身）
type setupRepr interface {
	setup() error
}

// nullable 可以为空指针的表示
type nullable interface {
	nullValue() lltype.Value
}

// errNoMethod 表示没有实现某个操作
var errNoMethod = errors.New("no method")

// pairTyper 二元操作的改写函数
type pairTyper func(hop *HighLevelOp) (flowmodel.Hlvalue, error)

var pairTables = map[string]*annotation.PairTable[pairTyper]{}

func registerPair(k1, k2 annotation.Kind, f pairTyper, names ...string) {
	for _, n := range names {
		t, ok := pairTables[n]
		if !ok {
			t = annotation.NewPairTable[pairTyper](n)
			pairTables[n] = t
		}
		t.Register(k1, k2, f)
	}
}

func missing(hop *HighLevelOp, r Repr) error {
	return errs.NewMissingLLTypeError(hop.Op.OpName, r)
}

// ============================================================================
// 常量与空表示
// ============================================================================

// VoidRepr 不占空间的表示：值在编译期已知
type VoidRepr struct {
	name  string
	value interface{}
}

func (r *VoidRepr) LowLevelType() lltype.Type                      { return lltype.Void }
func (r *VoidRepr) ConvertConst(interface{}) (lltype.Value, error) { return nil, nil }
func (r *VoidRepr) String() string                                 { return "VoidRepr(" + r.name + ")" }

var (
	impossibleRepr = &VoidRepr{name: "impossible"}
	noneRepr       = &VoidRepr{name: "None"}
)

// ============================================================================
// 常量
// ============================================================================

// inputConst 把宿主常量按表示转换成带类型的常量
func inputConst(r Repr, value interface{}) (*flowmodel.Constant, error) {
	v, err := r.ConvertConst(value)
	if err != nil {
		return nil, err
	}
	return flowmodel.NewTypedConstant(v, r.LowLevelType()), nil
}

// voidConst Void 类型的常量（字段名、类型等）
func voidConst(value interface{}) *flowmodel.Constant {
	return flowmodel.NewTypedConstant(value, lltype.Void)
}

// constValue 常量的宿主值（已经是低层常量时原样返回）
func constValue(c *flowmodel.Constant) interface{} {
	return c.Value
}

// ============================================================================
// 表示之间的转换
// ============================================================================

// convertVar 把 rFrom 表示的值转换为 rTo 表示
func convertVar(llops *LowLevelOpList, v flowmodel.Hlvalue, rFrom, rTo Repr) (flowmodel.Hlvalue, error) {
	if rFrom == rTo {
		return v, nil
	}
	if c, ok := v.(*flowmodel.Constant); ok && c.ConcreteType() == nil {
		return inputConst(rTo, c.Value)
	}
	tFrom, tTo := rFrom.LowLevelType(), rTo.LowLevelType()
	if tTo == lltype.Void {
		if vr, ok := rTo.(*VoidRepr); ok {
			return voidConst(vr.value), nil
		}
		if cr, ok := rTo.(constantRepr); ok {
			return voidConst(cr.constant()), nil
		}
		return voidConst(nil), nil
	}
	if tFrom == lltype.Void {
		// None 或常量 PBC 进入可空表示
		if rFrom == noneRepr || rFrom == impossibleRepr {
			if n, ok := rTo.(nullable); ok {
				return flowmodel.NewTypedConstant(n.nullValue(), tTo), nil
			}
		}
		if cr, ok := rFrom.(constantRepr); ok {
			return inputConst(rTo, cr.constant())
		}
		return nil, errs.NewTyperError(errs.T0002, "cannot convert %s to %s", rFrom, rTo)
	}
	if lltype.Equal(tFrom, tTo) {
		return v, nil
	}
	if conv, ok := rTo.(converter); ok {
		out, err := conv.convertFrom(llops, v, rFrom)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errNoMethod) {
			return nil, err
		}
	}
	pf, okF := tFrom.(*lltype.Primitive)
	pt, okT := tTo.(*lltype.Primitive)
	if okF && okT {
		return convertPrimitive(llops, v, pf, pt)
	}
	return nil, errs.NewTyperError(errs.T0002, "cannot convert %s to %s", rFrom, rTo)
}

// constantRepr 值在编译期已知的 Void 表示
type constantRepr interface {
	constant() interface{}
}

// converter 知道如何从其他表示转换过来的表示
type converter interface {
	convertFrom(llops *LowLevelOpList, v flowmodel.Hlvalue, rFrom Repr) (flowmodel.Hlvalue, error)
}

// convertPrimitive 原始类型之间的转换
func convertPrimitive(llops *LowLevelOpList, v flowmodel.Hlvalue, from, to *lltype.Primitive) (flowmodel.Hlvalue, error) {
	var opname string
	switch {
	case from.Class == lltype.ClassBool && to.Class == lltype.ClassInt:
		opname = "cast_bool_to_int"
	case from.Class == lltype.ClassBool && to.Class == lltype.ClassFloat:
		opname = "cast_bool_to_float"
	case from.Class == lltype.ClassInt && to.Class == lltype.ClassBool:
		if from.Signed {
			opname = "int_is_true"
		} else {
			opname = "uint_is_true"
		}
	case from.Class == lltype.ClassInt && to.Class == lltype.ClassFloat:
		switch {
		case !from.Signed:
			opname = "cast_uint_to_float"
		case from == lltype.SignedLongLong:
			opname = "cast_longlong_to_float"
		default:
			opname = "cast_int_to_float"
		}
	case from.Class == lltype.ClassFloat && to.Class == lltype.ClassInt:
		if to.Signed {
			opname = "cast_float_to_int"
		} else {
			opname = "cast_float_to_uint"
		}
	case from.Class == lltype.ClassInt && to.Class == lltype.ClassInt:
		switch {
		case from.Signed && !to.Signed && from.Bits == to.Bits:
			opname = "cast_int_to_uint"
		case !from.Signed && to.Signed && from.Bits == to.Bits:
			opname = "cast_uint_to_int"
		default:
			opname = "cast_primitive"
		}
	case from.Class == lltype.ClassChar && to.Class == lltype.ClassInt:
		opname = "cast_char_to_int"
	case from.Class == lltype.ClassUniChar && to.Class == lltype.ClassInt:
		opname = "cast_unichar_to_int"
	case from.Class == lltype.ClassFloat && to.Class == lltype.ClassFloat:
		opname = "cast_primitive"
	default:
		return nil, errs.NewTyperError(errs.T0002, "cannot convert %s to %s", from, to)
	}
	return llops.Genop(opname, []flowmodel.Hlvalue{v}, to), nil
}

// reprKey 表示缓存键：注解中影响低层表示的部分
func reprKey(s annotation.SomeValue) string {
	switch v := s.(type) {
	case *annotation.Integer:
		return fmt.Sprintf("int:%d:%v", v.Bits, v.Unsigned)
	case *annotation.Bool, *annotation.Float, *annotation.Char, *annotation.UniChar,
		*annotation.None, *annotation.Impossible, *annotation.Type:
		return v.Kind().String()
	case *annotation.String:
		return "str"
	case *annotation.Unicode:
		return "unicode"
	case *annotation.Tuple:
		key := "tuple("
		for _, it := range v.Items {
			key += reprKey(it) + ","
		}
		return key + ")"
	case *annotation.List:
		return fmt.Sprintf("list:%p", v.Def.Item())
	case *annotation.Dict:
		return fmt.Sprintf("dict:%p:%p", v.Def.Key(), v.Def.Value())
	case *annotation.Instance:
		if v.ClassDef == nil {
			return "inst:object"
		}
		return fmt.Sprintf("inst:%d", v.ClassDef.ID())
	case *annotation.PBC:
		key := fmt.Sprintf("pbc:%v:", v.Nullable)
		for _, d := range v.Descs {
			key += fmt.Sprintf("%d,", d.ID())
		}
		if v.SubsetOf != nil {
			key += "<" + reprKey(v.SubsetOf)
		}
		return key
	case *annotation.Iterator:
		return "iter:" + v.Variant + ":" + reprKey(v.Container)
	case *annotation.Builtin:
		if v.Self != nil {
			return "bmeth:" + v.Name + ":" + reprKey(v.Self)
		}
		return "builtin:" + v.Name
	case *annotation.WeakRef:
		if v.ClassDef == nil {
			return "weakref:dead"
		}
		return fmt.Sprintf("weakref:%d", v.ClassDef.ID())
	}
	return s.String()
}
