package lltype

import (
	"fmt"
	"sort"
)

// ============================================================================
// 类型驻留
// ============================================================================

// Interner 类型驻留表：结构相同的类型共享同一个代表
type Interner struct {
	types map[string]Type
	order []string
}

// NewInterner 创建驻留表，预置所有原始类型
func NewInterner() *Interner {
	in := &Interner{types: make(map[string]Type)}
	for _, p := range []*Primitive{Void, Bool, Char, UniChar, Signed, Unsigned,
		SignedLongLong, UnsignedLongLong, Int32, Float, SingleFloat, Address} {
		in.Intern(p)
	}
	return in
}

// Intern 返回 t 的代表，第一次出现时登记
func (in *Interner) Intern(t Type) Type {
	t = resolve(t)
	k := t.key()
	if rep, ok := in.types[k]; ok {
		return rep
	}
	in.types[k] = t
	in.order = append(in.order, k)
	return t
}

// Lookup 按结构查询，不登记
func (in *Interner) Lookup(t Type) (Type, bool) {
	rep, ok := in.types[resolve(t).key()]
	return rep, ok
}

// Len 已驻留类型数
func (in *Interner) Len() int {
	return len(in.types)
}

// All 按登记顺序返回所有类型
func (in *Interner) All() []Type {
	out := make([]Type, 0, len(in.order))
	for _, k := range in.order {
		out = append(out, in.types[k])
	}
	return out
}

// Names 所有命名结构体的名字（排序）
func (in *Interner) Names() []string {
	var names []string
	for _, t := range in.types {
		if s, ok := t.(*Struct); ok {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// 不变式检查
// ============================================================================

// Validate 检查类型及其可达子类型满足不变式
func Validate(t Type) error {
	return validate(t, make(map[Type]bool))
}

func validate(t Type, seen map[Type]bool) error {
	t = resolve(t)
	if seen[t] {
		return nil
	}
	seen[t] = true

	switch c := t.(type) {
	case *Primitive:
		return nil
	case *Forward:
		return fmt.Errorf("unresolved forward reference")
	case *Ptr:
		return validate(c.To, seen)
	case *Struct:
		for i, f := range c.Fields {
			ft := resolve(f.Type)
			if ct, ok := ft.(ContainerType); ok && ct.IsVarSized() && i != len(c.Fields)-1 {
				return fmt.Errorf("%s: variable-sized field %q must be last", c, f.Name)
			}
			// 内嵌容器必须与外层 gc 属性一致；gc 结构体可以内嵌 raw 子结构
			if sub, ok := ft.(*Struct); ok && sub.IsGC() && !c.IsGC() {
				return fmt.Errorf("%s: raw struct cannot inline gc struct %s", c, sub)
			}
			if arr, ok := ft.(*Array); ok && arr.IsGC() {
				return fmt.Errorf("%s: gc array cannot be inlined as field %q", c, f.Name)
			}
			if err := validate(ft, seen); err != nil {
				return err
			}
		}
		// 子结构通过 super 继承 typeptr
		if c.Hints.TypePtr && c.Super() == nil {
			if len(c.Fields) == 0 || c.Fields[0].Name != "typeptr" {
				return fmt.Errorf("%s: typeptr-bearing struct must start with typeptr", c)
			}
		}
		return nil
	case *Array:
		if c.Hints.NoLength && c.IsGC() {
			return fmt.Errorf("%s: bare arrays carry no gc header", c)
		}
		if ct, ok := resolve(c.Of).(ContainerType); ok && ct.IsVarSized() {
			return fmt.Errorf("%s: array items cannot be variable-sized", c)
		}
		return validate(c.Of, seen)
	case *FixedArray:
		if c.Length < 0 {
			return fmt.Errorf("%s: negative length", c)
		}
		return validate(c.Of, seen)
	case *FuncType:
		for _, a := range c.Args {
			if err := validate(a, seen); err != nil {
				return err
			}
		}
		return validate(c.Result, seen)
	case *WeakRef:
		if !c.To.GC() {
			return fmt.Errorf("%s: target must be gc", c)
		}
		return validate(c.To, seen)
	case *Group:
		for _, m := range c.Members {
			if m.IsGC() {
				return fmt.Errorf("%s: group members must be raw structs", c)
			}
			if err := validate(m, seen); err != nil {
				return err
			}
		}
		return nil
	case *Opaque:
		return nil
	}
	return fmt.Errorf("unknown type %T", t)
}
