package lltype

import (
	"fmt"
)

// ============================================================================
// 低层值
// ============================================================================

// Value 低层值：int64 / uint64 / float64 / bool / byte / rune / *PtrValue / AddressValue / nil (Void)
type Value interface{}

// AddressValue 原始地址
type AddressValue uintptr

// Container 容器实例
type Container struct {
	Type   ContainerType
	Fields []Value // 结构体字段；内嵌子结构为 *Container
	Items  []Value // 数组元素
	Name   string  // 函数名（函数容器）
	Graph  interface{}
	parent *Container // 内嵌时的外层结构
	// Immortal 预构建常量，不由 GC 管理
	Immortal bool
}

// Top 内嵌子结构所在的最外层容器
func (c *Container) Top() *Container {
	for c.parent != nil {
		c = c.parent
	}
	return c
}

// PtrValue 指针值
type PtrValue struct {
	T   *Ptr
	Obj *Container
}

func (p *PtrValue) String() string {
	if p.Obj == nil {
		return "NULL(" + p.T.String() + ")"
	}
	if p.Obj.Name != "" {
		return "*" + p.Obj.Name
	}
	return fmt.Sprintf("*%s@%p", p.Obj.Type, p.Obj)
}

// IsNull 是否为空指针
func (p *PtrValue) IsNull() bool {
	return p == nil || p.Obj == nil
}

// NullPtr 空指针
func NullPtr(t *Ptr) *PtrValue {
	return &PtrValue{T: t}
}

// DefaultValue 类型的零值
func DefaultValue(t Type) Value {
	switch c := resolve(t).(type) {
	case *Primitive:
		switch c.Class {
		case ClassVoid:
			return nil
		case ClassBool:
			return false
		case ClassChar:
			return byte(0)
		case ClassUniChar:
			return rune(0)
		case ClassFloat:
			return float64(0)
		case ClassAddress:
			return AddressValue(0)
		default:
			if c.Signed {
				return int64(0)
			}
			return uint64(0)
		}
	case *Ptr:
		return NullPtr(c)
	case *Struct:
		return newContainer(c, 0, nil)
	case *FixedArray:
		return newContainer(c, c.Length, nil)
	}
	return nil
}

func newContainer(t ContainerType, n int, parent *Container) *Container {
	obj := &Container{Type: t, parent: parent}
	switch c := resolve(t).(type) {
	case *Struct:
		obj.Fields = make([]Value, len(c.Fields))
		for i, f := range c.Fields {
			ft := resolve(f.Type)
			switch sub := ft.(type) {
			case *Struct:
				size := 0
				if i == len(c.Fields)-1 {
					size = n
				}
				obj.Fields[i] = newContainer(sub, size, obj)
			case *Array:
				obj.Fields[i] = newContainer(sub, n, obj)
			case *FixedArray:
				obj.Fields[i] = newContainer(sub, sub.Length, obj)
			default:
				obj.Fields[i] = DefaultValue(ft)
			}
		}
	case *Array:
		obj.Items = make([]Value, n)
		for i := range obj.Items {
			obj.Items[i] = DefaultValue(c.Of)
		}
	case *FixedArray:
		obj.Items = make([]Value, c.Length)
		for i := range obj.Items {
			obj.Items[i] = DefaultValue(c.Of)
		}
	}
	return obj
}

// Malloc 分配容器；n 是变长部分的长度
func Malloc(t ContainerType, n int) (*PtrValue, error) {
	t = resolve(t).(ContainerType)
	if !t.IsVarSized() && n != 0 {
		return nil, fmt.Errorf("malloc: %s is not variable-sized", t)
	}
	if n < 0 {
		return nil, fmt.Errorf("malloc: negative length %d", n)
	}
	return &PtrValue{T: NewPtr(t), Obj: newContainer(t, n, nil)}, nil
}

// FunctionPtr 创建函数指针常量
func FunctionPtr(ft *FuncType, name string, graph interface{}) *PtrValue {
	return &PtrValue{T: NewPtr(ft), Obj: &Container{Type: ft, Name: name, Graph: graph, Immortal: true}}
}

func (p *PtrValue) structType() (*Struct, error) {
	if p.IsNull() {
		return nil, fmt.Errorf("null pointer dereference")
	}
	s, ok := resolve(p.Obj.Type).(*Struct)
	if !ok {
		return nil, fmt.Errorf("%s is not a struct", p.Obj.Type)
	}
	return s, nil
}

// GetField 读取字段
func (p *PtrValue) GetField(name string) (Value, error) {
	s, err := p.structType()
	if err != nil {
		return nil, err
	}
	i := s.FieldIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%s has no field %q", s, name)
	}
	if sub, ok := p.Obj.Fields[i].(*Container); ok {
		return &PtrValue{T: NewPtr(sub.Type), Obj: sub}, nil
	}
	return p.Obj.Fields[i], nil
}

// SetField 写入字段
func (p *PtrValue) SetField(name string, v Value) error {
	s, err := p.structType()
	if err != nil {
		return err
	}
	i := s.FieldIndex(name)
	if i < 0 {
		return fmt.Errorf("%s has no field %q", s, name)
	}
	if _, ok := p.Obj.Fields[i].(*Container); ok {
		return fmt.Errorf("cannot assign to inlined substructure %q", name)
	}
	p.Obj.Fields[i] = v
	return nil
}

// Len 数组长度
func (p *PtrValue) Len() (int, error) {
	if p.IsNull() {
		return 0, fmt.Errorf("null pointer dereference")
	}
	switch resolve(p.Obj.Type).(type) {
	case *Array, *FixedArray:
		return len(p.Obj.Items), nil
	}
	return 0, fmt.Errorf("%s is not an array", p.Obj.Type)
}

// GetItem 读取数组元素
func (p *PtrValue) GetItem(i int) (Value, error) {
	n, err := p.Len()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, n)
	}
	return p.Obj.Items[i], nil
}

// SetItem 写入数组元素
func (p *PtrValue) SetItem(i int, v Value) error {
	n, err := p.Len()
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return fmt.Errorf("index %d out of range [0, %d)", i, n)
	}
	p.Obj.Items[i] = v
	return nil
}

// CastPointer 沿继承链上转或下转
func CastPointer(to *Ptr, p *PtrValue) (*PtrValue, error) {
	target, ok := resolve(to.To).(*Struct)
	if !ok {
		return nil, fmt.Errorf("cast_pointer target %s is not a struct", to)
	}
	if p.IsNull() {
		return NullPtr(to), nil
	}
	// 上转：沿第一个内嵌字段向内
	for obj := p.Obj; obj != nil; {
		if resolve(obj.Type) == target {
			return &PtrValue{T: to, Obj: obj}, nil
		}
		s, ok := resolve(obj.Type).(*Struct)
		if !ok || s.Super() == nil {
			break
		}
		obj = obj.Fields[0].(*Container)
	}
	// 下转：沿外层结构向外
	for obj := p.Obj.parent; obj != nil; obj = obj.parent {
		if resolve(obj.Type) == target {
			return &PtrValue{T: to, Obj: obj}, nil
		}
	}
	return nil, fmt.Errorf("invalid cast from %s to %s", p.T, to)
}
