// value.go - box、常量与堆对象
package history

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"
)

// Type 值的机器类别
type Type byte

const (
	INT   Type = 'i'
	REF   Type = 'r'
	FLOAT Type = 'f'
	VOID  Type = 'v'
)

// Value trace 中的操作数：Box 或常量
//
// 常量是值类型，可以直接用 == 比较；Box 按指针比较。
type Value interface {
	Type() Type
	IsConstant() bool
	String() string
}

// ============================================================================
// Box
// ============================================================================

var boxCounter atomic.Int64

// Box 运行期才知道的值；追踪时记录下当时的具体值
type Box struct {
	id  int64
	typ Type

	Int   int64
	Float float64
	Ref   HeapObj
}

// NewBox 创建一个新的 box
func NewBox(typ Type) *Box { return &Box{id: boxCounter.Inc(), typ: typ} }

// NewIntBox 带记录值的整数 box
func NewIntBox(v int64) *Box {
	b := NewBox(INT)
	b.Int = v
	return b
}

// NewFloatBox 带记录值的浮点 box
func NewFloatBox(v float64) *Box {
	b := NewBox(FLOAT)
	b.Float = v
	return b
}

// NewRefBox 带记录值的引用 box
func NewRefBox(v HeapObj) *Box {
	b := NewBox(REF)
	b.Ref = v
	return b
}

func (b *Box) Type() Type       { return b.typ }
func (b *Box) IsConstant() bool { return false }
func (b *Box) ID() int64        { return b.id }

func (b *Box) String() string { return fmt.Sprintf("%c%d", b.typ, b.id) }

// Constant 用记录值构造同值常量
func (b *Box) Constant() Value {
	switch b.typ {
	case INT:
		return ConstInt{b.Int}
	case FLOAT:
		return ConstFloat{b.Float}
	case REF:
		return ConstPtr{b.Ref}
	}
	panic("void box has no value")
}

// SetFrom 把常量的值记录到 box
func (b *Box) SetFrom(c Value) {
	switch c := c.(type) {
	case ConstInt:
		b.Int = c.Value
	case ConstFloat:
		b.Float = c.Value
	case ConstPtr:
		b.Ref = c.Value
	case *Box:
		b.Int, b.Float, b.Ref = c.Int, c.Float, c.Ref
	}
}

// ============================================================================
// 常量
// ============================================================================

// ConstInt 整数常量
type ConstInt struct{ Value int64 }

func (ConstInt) Type() Type       { return INT }
func (ConstInt) IsConstant() bool { return true }
func (c ConstInt) String() string { return fmt.Sprint(c.Value) }
func (c ConstInt) NonNull() bool  { return c.Value != 0 }
func (c ConstInt) GetInt() int64  { return c.Value }
func (c ConstInt) SameConstant(v Value) bool {
	o, ok := v.(ConstInt)
	return ok && o.Value == c.Value
}

// ConstFloat 浮点常量
type ConstFloat struct{ Value float64 }

func (ConstFloat) Type() Type       { return FLOAT }
func (ConstFloat) IsConstant() bool { return true }
func (c ConstFloat) String() string { return fmt.Sprint(c.Value) }

// SameConstant 按位比较，NaN 与自身相同
func (c ConstFloat) SameConstant(v Value) bool {
	o, ok := v.(ConstFloat)
	return ok && math.Float64bits(o.Value) == math.Float64bits(c.Value)
}

// ConstPtr 引用常量；Value 为 nil 表示空指针
type ConstPtr struct{ Value HeapObj }

func (ConstPtr) Type() Type       { return REF }
func (ConstPtr) IsConstant() bool { return true }
func (c ConstPtr) NonNull() bool  { return c.Value != nil }

func (c ConstPtr) String() string {
	if c.Value == nil {
		return "NULL"
	}
	return fmt.Sprintf("ConstPtr(%s)", c.Value)
}

// Null 空指针常量
var Null = ConstPtr{}

// CONST_0 与 CONST_1 常用整数常量
var (
	CONST_0 = ConstInt{0}
	CONST_1 = ConstInt{1}
)

// Same 两个操作数是否静态相同：同一个 box 或相等的常量
func Same(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if f, ok := a.(ConstFloat); ok {
		return f.SameConstant(b)
	}
	return a == b
}

// IntValue 取整数常量的值
func IntValue(v Value) (int64, bool) {
	c, ok := v.(ConstInt)
	return c.Value, ok
}

// ============================================================================
// 堆对象
// ============================================================================

// HeapObj 常量引用或 box 记录值指向的对象
type HeapObj interface {
	String() string
}

// ClassObj 类的 vtable
type ClassObj struct {
	Name   string
	Parent *ClassObj
}

func (c *ClassObj) String() string { return "<class " + c.Name + ">" }

// IsSubclassOf 沿父链判断
func (c *ClassObj) IsSubclassOf(other *ClassObj) bool {
	for k := c; k != nil; k = k.Parent {
		if k == other {
			return true
		}
	}
	return false
}

// StructObj 结构体实例
type StructObj struct {
	Size   *SizeDescr
	Class  *ClassObj
	Fields map[*FieldDescr]Value
}

// NewStructObj 字段初始化为零值
func NewStructObj(size *SizeDescr) *StructObj {
	s := &StructObj{Size: size, Fields: make(map[*FieldDescr]Value)}
	if size != nil {
		s.Class = size.Class
	}
	return s
}

func (s *StructObj) String() string {
	if s.Size == nil {
		return "<struct>"
	}
	return "<" + s.Size.Name + ">"
}

// Get 读字段，未写过返回零值
func (s *StructObj) Get(d *FieldDescr) Value {
	if v, ok := s.Fields[d]; ok {
		return v
	}
	return Zero(d.Typ)
}

// ArrayObj GC 数组
type ArrayObj struct {
	Descr *ArrayDescr
	Items []Value
}

// NewArrayObj 元素初始化为零值
func NewArrayObj(d *ArrayDescr, n int) *ArrayObj {
	a := &ArrayObj{Descr: d, Items: make([]Value, n)}
	for i := range a.Items {
		a.Items[i] = Zero(d.Item)
	}
	return a
}

func (a *ArrayObj) String() string { return fmt.Sprintf("<array %d>", len(a.Items)) }

// StrObj 字节串或 unicode 串
type StrObj struct {
	Chars   []rune
	Unicode bool
}

func (s *StrObj) String() string {
	if s.Unicode {
		return fmt.Sprintf("u%q", string(s.Chars))
	}
	return fmt.Sprintf("%q", string(s.Chars))
}

// Text 内容
func (s *StrObj) Text() string { return string(s.Chars) }

// FuncObj 可调用的函数地址
type FuncObj struct {
	Name string
	Impl func(args []Value) (Value, error)
}

func (f *FuncObj) String() string { return "<func " + f.Name + ">" }

// Zero 某类别的零值常量
func Zero(t Type) Value {
	switch t {
	case FLOAT:
		return ConstFloat{}
	case REF:
		return Null
	}
	return CONST_0
}

// ============================================================================
// 常量字符串驻留
// ============================================================================

var (
	internMu  sync.Mutex
	strIntern = map[string]*StrObj{}
	uniIntern = map[string]*StrObj{}
)

// ConstString 驻留的字节串常量；相同内容得到同一个指针
func ConstString(s string) ConstPtr { return ConstPtr{intern(s, false)} }

// ConstUnicode 驻留的 unicode 串常量
func ConstUnicode(s string) ConstPtr { return ConstPtr{intern(s, true)} }

func intern(s string, unicode bool) *StrObj {
	internMu.Lock()
	defer internMu.Unlock()
	table := strIntern
	if unicode {
		table = uniIntern
	}
	if obj, ok := table[s]; ok {
		return obj
	}
	obj := &StrObj{Chars: []rune(s), Unicode: unicode}
	table[s] = obj
	return obj
}

// StrValue 取常量字符串的内容
func StrValue(v Value) (string, bool) {
	c, ok := v.(ConstPtr)
	if !ok {
		return "", false
	}
	s, ok := c.Value.(*StrObj)
	if !ok {
		return "", false
	}
	return s.Text(), true
}
