// union.go - 并、包含与改进
package annotation

import (
	"errors"

	errs "github.com/tangzhangming/solatrans/internal/errors"
)

// errSideEffects 无副作用模式下的合并需要修改共享定义
var errSideEffects = errors.New("union would have side effects")

type unionFunc func(a, b SomeValue, sideEffects bool) (SomeValue, error)

var unionTable = NewPairTable[unionFunc]("union")

// Union 最小上界；列表/字典会被合并为共享定义
func Union(a, b SomeValue) (SomeValue, error) {
	return union(a, b, true)
}

// UnionOf 多个注解的并
func UnionOf(values ...SomeValue) (SomeValue, error) {
	acc := SImpossible
	for _, v := range values {
		var err error
		if acc, err = union(acc, v, true); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func union(a, b SomeValue, sideEffects bool) (SomeValue, error) {
	switch {
	case IsImpossible(a):
		if b == nil {
			return SImpossible, nil
		}
		return b, nil
	case IsImpossible(b):
		return a, nil
	case a == b:
		return a, nil
	}
	f, _, ok := unionTable.Lookup(a.Kind(), b.Kind())
	if !ok {
		return SObject, nil
	}
	return f(a, b, sideEffects)
}

// Contains a ⊇ b
func Contains(a, b SomeValue) bool {
	if a == b || IsImpossible(b) {
		return true
	}
	u, err := union(a, b, false)
	if err != nil {
		return false
	}
	return Equal(u, a)
}

// NotConst 去掉常量信息
func NotConst(s SomeValue) SomeValue {
	switch v := s.(type) {
	case *Bool:
		return NewBool()
	case *Integer:
		c := *v
		c.constant = constant{}
		return &c
	case *Float:
		return NewFloat()
	case *Char:
		return NewChar(v.NoNul)
	case *UniChar:
		return NewUniChar(v.NoNul)
	case *String:
		return NewString(v.Nullable, v.NoNul)
	case *Unicode:
		return NewUnicode(v.Nullable, v.NoNul)
	case *Instance:
		return NewInstance(v.ClassDef, v.Nullable, v.Flags)
	case *Type:
		return NewType()
	case *Tuple:
		items := make([]SomeValue, len(v.Items))
		for i, it := range v.Items {
			items[i] = NotConst(it)
		}
		return &Tuple{Items: items}
	}
	return s
}

func init() {
	reg := unionTable.Register

	reg(KObject, KObject, func(a, b SomeValue, _ bool) (SomeValue, error) {
		if Equal(a, b) {
			return a, nil
		}
		return SObject, nil
	})
	reg(KNone, KObject, func(a, b SomeValue, _ bool) (SomeValue, error) {
		if n := Noneify(b); n != nil {
			return n, nil
		}
		return SObject, nil
	})
	reg(KObject, KNone, func(a, b SomeValue, _ bool) (SomeValue, error) {
		if n := Noneify(a); n != nil {
			return n, nil
		}
		return SObject, nil
	})
	reg(KNone, KNone, func(a, _ SomeValue, _ bool) (SomeValue, error) { return SNone, nil })

	// 数值：Bool ⊂ Integer ⊂ Float
	reg(KFloat, KFloat, func(a, b SomeValue, _ bool) (SomeValue, error) {
		fa, okA := a.(*Float)
		fb, okB := b.(*Float)
		if okA && okB && fa.constEqual(fb.constant) && fa.IsConstant() {
			return fa, nil
		}
		return NewFloat(), nil
	})
	reg(KInteger, KInteger, func(a, b SomeValue, _ bool) (SomeValue, error) {
		return unionInteger(asInteger(a), asInteger(b)), nil
	})
	reg(KBool, KBool, func(a, b SomeValue, _ bool) (SomeValue, error) {
		ba, bb := a.(*Bool), b.(*Bool)
		out := NewBool()
		if ba.constEqual(bb.constant) {
			out.constant = ba.constant
		}
		out.SetKnownTypeData(ba.KTD.Merge(bb.KTD))
		return out, nil
	})

	// 字符串族
	reg(KString, KString, func(a, b SomeValue, _ bool) (SomeValue, error) {
		sa, sb := asString(a), asString(b)
		out := NewString(sa.Nullable || sb.Nullable, sa.NoNul && sb.NoNul)
		if sa.constEqual(sb.constant) {
			out.constant = sa.constant
		}
		return out, nil
	})
	reg(KChar, KChar, func(a, b SomeValue, _ bool) (SomeValue, error) {
		ca, cb := a.(*Char), b.(*Char)
		out := NewChar(ca.NoNul && cb.NoNul)
		if ca.constEqual(cb.constant) {
			out.constant = ca.constant
		}
		return out, nil
	})
	reg(KUnicode, KUnicode, func(a, b SomeValue, _ bool) (SomeValue, error) {
		sa, sb := asUnicode(a), asUnicode(b)
		out := NewUnicode(sa.Nullable || sb.Nullable, sa.NoNul && sb.NoNul)
		if sa.constEqual(sb.constant) {
			out.constant = sa.constant
		}
		return out, nil
	})
	reg(KUniChar, KUniChar, func(a, b SomeValue, _ bool) (SomeValue, error) {
		ca, cb := a.(*UniChar), b.(*UniChar)
		out := NewUniChar(ca.NoNul && cb.NoNul)
		if ca.constEqual(cb.constant) {
			out.constant = ca.constant
		}
		return out, nil
	})

	reg(KTuple, KTuple, func(a, b SomeValue, se bool) (SomeValue, error) {
		ta, tb := a.(*Tuple), b.(*Tuple)
		if len(ta.Items) != len(tb.Items) {
			return SObject, nil
		}
		items := make([]SomeValue, len(ta.Items))
		for i := range ta.Items {
			u, err := union(ta.Items[i], tb.Items[i], se)
			if err != nil {
				return nil, err
			}
			items[i] = u
		}
		return NewTuple(items), nil
	})

	reg(KList, KList, func(a, b SomeValue, se bool) (SomeValue, error) {
		la, lb := a.(*List), b.(*List)
		if la.Def.SameAs(lb.Def) {
			return la, nil
		}
		if !se {
			return nil, errSideEffects
		}
		if err := la.Def.Union(lb.Def); err != nil {
			return nil, err
		}
		return NewList(la.Def), nil
	})
	reg(KDict, KDict, func(a, b SomeValue, se bool) (SomeValue, error) {
		da, db := a.(*Dict), b.(*Dict)
		if da.Def.SameAs(db.Def) {
			return da, nil
		}
		if !se {
			return nil, errSideEffects
		}
		if err := da.Def.Union(db.Def); err != nil {
			return nil, err
		}
		return NewDict(da.Def), nil
	})

	reg(KInstance, KInstance, func(a, b SomeValue, _ bool) (SomeValue, error) {
		ia, ib := a.(*Instance), b.(*Instance)
		base := ia.ClassDef
		if ia.ClassDef != ib.ClassDef {
			base = CommonBase(ia.ClassDef, ib.ClassDef)
			if base == nil {
				return SObject, nil
			}
		}
		out := NewInstance(base, ia.Nullable || ib.Nullable, intersectFlags(ia.Flags, ib.Flags))
		if ia.constEqual(ib.constant) {
			out.constant = ia.constant
		}
		return out, nil
	})

	reg(KPBC, KPBC, func(a, b SomeValue, _ bool) (SomeValue, error) {
		pa, pb := a.(*PBC), b.(*PBC)
		descs := make([]Desc, 0, len(pa.Descs)+len(pb.Descs))
		descs = append(descs, pa.Descs...)
		descs = append(descs, pb.Descs...)
		return NewPBC(descs, pa.Nullable || pb.Nullable), nil
	})

	reg(KIterator, KIterator, func(a, b SomeValue, se bool) (SomeValue, error) {
		ia, ib := a.(*Iterator), b.(*Iterator)
		if ia.Variant != ib.Variant {
			return SObject, nil
		}
		c, err := union(ia.Container, ib.Container, se)
		if err != nil {
			return nil, err
		}
		return NewIterator(c, ia.Variant), nil
	})

	reg(KBuiltin, KBuiltin, func(a, b SomeValue, se bool) (SomeValue, error) {
		ba, bb := a.(*Builtin), b.(*Builtin)
		if ba.Name != bb.Name || (ba.Self == nil) != (bb.Self == nil) {
			return SObject, nil
		}
		if ba.Self == nil {
			return ba, nil
		}
		s, err := union(ba.Self, bb.Self, se)
		if err != nil {
			return nil, err
		}
		return NewBuiltinMethod(ba.Name, s), nil
	})

	reg(KType, KType, func(a, b SomeValue, _ bool) (SomeValue, error) {
		ta, tb := a.(*Type), b.(*Type)
		out := NewType()
		if ta.constEqual(tb.constant) {
			out.constant = ta.constant
		}
		return out, nil
	})

	reg(KWeakRef, KWeakRef, func(a, b SomeValue, _ bool) (SomeValue, error) {
		wa, wb := a.(*WeakRef), b.(*WeakRef)
		switch {
		case wa.ClassDef == nil:
			return wb, nil
		case wb.ClassDef == nil:
			return wa, nil
		}
		base := CommonBase(wa.ClassDef, wb.ClassDef)
		if base == nil {
			return SObject, nil
		}
		return NewWeakRef(base), nil
	})
}

func asInteger(s SomeValue) *Integer {
	switch v := s.(type) {
	case *Integer:
		return v
	case *Bool:
		return boolAsInteger(v)
	}
	panic("annotation: not an integer: " + s.String())
}

func asString(s SomeValue) *String {
	switch v := s.(type) {
	case *String:
		return v
	case *Char:
		out := NewString(false, v.NoNul)
		if v.IsConstant() {
			out.constant = constant{true, string([]byte{v.Const().(byte)})}
		}
		return out
	}
	panic("annotation: not a string: " + s.String())
}

func asUnicode(s SomeValue) *Unicode {
	switch v := s.(type) {
	case *Unicode:
		return v
	case *UniChar:
		out := NewUnicode(false, v.NoNul)
		if v.IsConstant() {
			out.constant = constant{true, string(v.Const().(rune))}
		}
		return out
	}
	panic("annotation: not a unicode string: " + s.String())
}

func intersectFlags(a, b map[string]bool) map[string]bool {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make(map[string]bool)
	for k, v := range a {
		if w, ok := b[k]; ok && w == v {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ============================================================================
// 改进（分支细化时的交）
// ============================================================================

// Improve 用 improvement 细化 obj：improvement 严格更小时取它
func Improve(obj, improvement SomeValue) SomeValue {
	s, err := ImproveChecked(obj, improvement)
	if err != nil {
		return obj
	}
	return s
}

// ImproveChecked 同 Improve，实例无法细化时返回 UnionError
func ImproveChecked(obj, improvement SomeValue) (SomeValue, error) {
	ia, okA := obj.(*Instance)
	ib, okB := improvement.(*Instance)
	if okA && okB {
		return improveInstance(ia, ib)
	}
	if _, isNone := obj.(*None); isNone {
		if improvement.CanBeNone() {
			return SNone, nil
		}
		return SImpossible, nil
	}
	if !Contains(improvement, obj) && Contains(obj, improvement) {
		return improvement, nil
	}
	return obj, nil
}

func improveInstance(a, b *Instance) (SomeValue, error) {
	var res ClassDefRef
	switch {
	case a.ClassDef == nil:
		res = b.ClassDef
	case b.ClassDef == nil:
		res = a.ClassDef
	default:
		base := CommonBase(a.ClassDef, b.ClassDef)
		switch base {
		case a.ClassDef:
			res = b.ClassDef
		case b.ClassDef:
			res = a.ClassDef
		default:
			if a.Nullable && b.Nullable {
				return SNone, nil
			}
			return SImpossible, nil
		}
	}
	out := NewInstance(res, a.Nullable && b.Nullable, a.Flags)
	if Contains(a, out) && Contains(b, out) {
		return out, nil
	}
	return nil, errs.NewUnionError(a, b, "cannot improve instance annotation")
}

// ============================================================================
// 特化键
// ============================================================================

// KnownType 注解对应的宿主类型名，用于 argtype 特化键
func KnownType(s SomeValue) string {
	switch v := s.(type) {
	case *Integer:
		return v.KnownType()
	case *Bool:
		return "bool"
	case *Float:
		return "float"
	case *Char, *String:
		return "str"
	case *UniChar, *Unicode:
		return "unicode"
	case *Tuple:
		return "tuple"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *Instance:
		if v.ClassDef != nil {
			return "instance:" + v.ClassDef.Name()
		}
		return "instance"
	case *None:
		return "NoneType"
	case *PBC:
		return "pbc:" + v.DescKind().String()
	case *Type:
		return "type"
	case *WeakRef:
		return "weakref"
	case *Iterator:
		return "iterator"
	case *Builtin:
		return "builtin"
	}
	return "object"
}
