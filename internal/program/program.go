// Package program 描述被翻译程序中编译期已知的宿主值：
// 函数、类、冻结的预构建实例、内建函数以及常量容器。
// 描述符簿记器为这些值创建规范句柄。
package program

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// ============================================================================
// 函数
// ============================================================================

// GraphBuilder 为函数的一个特化构建流图；variant 为特化名（默认特化为空）
type GraphBuilder func(fn *Function, variant string) (*flowmodel.FunctionGraph, error)

// Function 宿主函数
type Function struct {
	Name      string
	Signature flowmodel.Signature
	Defaults  []interface{}

	// SpecialCase 特化标签，如 "specialize:memo"、"specialize:arg(0)"
	SpecialCase string
	// EnforceArgs 强制的参数类型（与 Sig 互斥）
	EnforceArgs []TypeSpec
	// Sig 签名声明：参数与返回值类型
	Sig *SignatureDecl

	// Build 流图构建回调（由上游流图构建器提供）
	Build GraphBuilder
	// Impl 编译期求值（memo 特化使用）
	Impl func(args ...interface{}) (interface{}, error)

	// StaticMethod/ClassMethod 作为类属性时的包装
	StaticMethod bool
	ClassMethod  bool
	// NotRPython 标记不可翻译的函数
	NotRPython bool
}

func (f *Function) String() string {
	return "function " + f.Name
}

// NewFunction 创建函数
func NewFunction(name string, argnames []string, build GraphBuilder) *Function {
	return &Function{
		Name:      name,
		Signature: flowmodel.Signature{ArgNames: argnames},
		Build:     build,
	}
}

// FromGraph 用现成的流图创建函数，所有特化共享同一构建方式
func FromGraph(g *flowmodel.FunctionGraph) *Function {
	var built bool
	fn := &Function{Name: g.Name, Signature: g.Signature, Defaults: g.Defaults}
	fn.Build = func(f *Function, variant string) (*flowmodel.FunctionGraph, error) {
		if !built {
			built = true
			g.Func = f
			return g, nil
		}
		return nil, fmt.Errorf("graph of %s already used; supply a builder for variant %q", f.Name, variant)
	}
	return fn
}

// SpecTag 去掉 "specialize:" 前缀后的标签
func (f *Function) SpecTag() string {
	return strings.TrimPrefix(f.SpecialCase, "specialize:")
}

// SignatureDecl 签名声明
type SignatureDecl struct {
	Args   []TypeSpec
	Result TypeSpec
}

// ============================================================================
// 类型描述（用于 enforceargs / signature）
// ============================================================================

// SpecKind 类型描述种类
type SpecKind int

const (
	SpecAny SpecKind = iota
	SpecInt
	SpecFloat
	SpecBool
	SpecStr
	SpecUnicode
	SpecChar
	SpecNone
	SpecInstance
	SpecList
	SpecDict
)

// TypeSpec 宿主层面的类型描述
type TypeSpec struct {
	Kind     SpecKind
	Class    *Class    // SpecInstance
	Item     *TypeSpec // SpecList 的元素 / SpecDict 的值
	Key      *TypeSpec // SpecDict 的键
	NoNul    bool
	Nullable bool
}

func (t TypeSpec) String() string {
	switch t.Kind {
	case SpecInt:
		return "int"
	case SpecFloat:
		return "float"
	case SpecBool:
		return "bool"
	case SpecStr:
		return "str"
	case SpecUnicode:
		return "unicode"
	case SpecChar:
		return "char"
	case SpecNone:
		return "None"
	case SpecInstance:
		return "instance(" + t.Class.Name + ")"
	case SpecList:
		return "list(" + t.Item.String() + ")"
	case SpecDict:
		return "dict(" + t.Key.String() + ", " + t.Item.String() + ")"
	}
	return "any"
}

// ============================================================================
// 类
// ============================================================================

// Class 宿主类
type Class struct {
	Name  string
	Bases []*Class
	// Dict 类字典，DictOrder 记录声明顺序
	Dict      map[string]interface{}
	DictOrder []string

	Mixin bool
	// Attrs _attrs_ 白名单；HasAttrs 区分空白名单与未声明
	Attrs    []string
	HasAttrs bool
	// ImmutableFields _immutable_fields_，支持 "f"、"f?"、"f[*]"、"f?[*]"
	ImmutableFields []string
	Immutable       bool
	// SpecialCase 类级别特化标签
	SpecialCase string
	Settled     bool
	// Frozen 实例是冻结的预构建常量（_freeze_）
	Frozen bool
	// Builtin 内建类（如异常）
	Builtin bool
}

// NewClass 创建类
func NewClass(name string, bases ...*Class) *Class {
	return &Class{Name: name, Bases: bases, Dict: make(map[string]interface{})}
}

func (c *Class) String() string {
	return "class " + c.Name
}

// Set 设置类属性
func (c *Class) Set(name string, value interface{}) *Class {
	if _, ok := c.Dict[name]; !ok {
		c.DictOrder = append(c.DictOrder, name)
	}
	c.Dict[name] = value
	return c
}

// Get 读取本类字典中的属性
func (c *Class) Get(name string) (interface{}, bool) {
	v, ok := c.Dict[name]
	return v, ok
}

// MRO 方法解析顺序（C3 线性化的简化：深度优先去重，满足单继承 + mixin）
func (c *Class) MRO() []*Class {
	var out []*Class
	seen := map[*Class]bool{}
	var walk func(*Class)
	walk = func(k *Class) {
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
		for _, b := range k.Bases {
			walk(b)
		}
	}
	walk(c)
	return out
}

// Lookup 沿 MRO 查找属性
func (c *Class) Lookup(name string) (interface{}, *Class, bool) {
	for _, k := range c.MRO() {
		if v, ok := k.Dict[name]; ok {
			return v, k, true
		}
	}
	return nil, nil, false
}

// IsSubclass c 是否为 other 的子类（含自身）
func (c *Class) IsSubclass(other *Class) bool {
	for _, k := range c.MRO() {
		if k == other {
			return true
		}
	}
	return false
}

// ============================================================================
// 预构建实例与其他宿主值
// ============================================================================

// Instance 预构建实例
type Instance struct {
	Class *Class
	Attrs map[string]interface{}
	Name  string
}

// NewInstance 创建预构建实例
func NewInstance(cls *Class, name string) *Instance {
	return &Instance{Class: cls, Attrs: make(map[string]interface{}), Name: name}
}

func (i *Instance) String() string {
	if i.Name != "" {
		return i.Name
	}
	return "<" + i.Class.Name + " instance>"
}

// IsFrozen 是否为冻结实例
func (i *Instance) IsFrozen() bool {
	return i.Class == nil || i.Class.Frozen
}

// Builtin 内建函数（len、isinstance 等）
type Builtin struct {
	Name string
}

func (b *Builtin) String() string { return "builtin " + b.Name }

// BoundMethod 绑定到预构建实例的方法
type BoundMethod struct {
	Func *Function
	Self *Instance
}

func (m *BoundMethod) String() string { return m.Self.String() + "." + m.Func.Name }

// Tuple 常量元组
type Tuple []interface{}

// List 常量列表
type List struct {
	Items []interface{}
}

// Dict 常量字典（保持插入顺序）
type Dict struct {
	Keys   []interface{}
	Values []interface{}
}

// Unicode unicode 字符串常量
type Unicode string

// UniChar unicode 字符常量
type UniChar rune

// Char 字符常量
type Char byte

// WeakRef 弱引用常量
type WeakRef struct {
	Target *Instance
}

// None 常量 None
type noneType struct{}

func (noneType) String() string { return "None" }

// None None 值
var None = noneType{}
