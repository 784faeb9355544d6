// Package annotation 定义注解格：推断过程中附着在流图变量上的抽象值。
//
// 每个注解都有 union（最小上界）、contains（≥）、常量判定、
// knowntypedata（把 bool / isinstance 的结果传播到下一个 guard 的两侧）
// 以及用于特化记忆化的键。格以 Object 为粗粒度的顶。
package annotation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// ============================================================================
// 变体标签
// ============================================================================

// Kind 注解变体标签
type Kind int

const (
	KObject Kind = iota // 顶
	KImpossible
	KNone
	KFloat
	KInteger
	KBool
	KStringOrUnicode
	KString
	KChar
	KUnicode
	KUniChar
	KTuple
	KList
	KDict
	KInstance
	KPBC
	KIterator
	KBuiltin
	KBuiltinMethod
	KType
	KWeakRef
	numKinds
)

var kindNames = [...]string{
	KObject:          "Object",
	KImpossible:      "Impossible",
	KNone:            "None",
	KFloat:           "Float",
	KInteger:         "Integer",
	KBool:            "Bool",
	KStringOrUnicode: "StringOrUnicode",
	KString:          "String",
	KChar:            "Char",
	KUnicode:         "Unicode",
	KUniChar:         "UniChar",
	KTuple:           "Tuple",
	KList:            "List",
	KDict:            "Dict",
	KInstance:        "Instance",
	KPBC:             "PBC",
	KIterator:        "Iterator",
	KBuiltin:         "Builtin",
	KBuiltinMethod:   "BuiltinMethod",
	KType:            "Type",
	KWeakRef:         "WeakRef",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind?"
}

// kindParent 变体标签的父标签；Bool ⊂ Integer ⊂ Float，Char ⊂ String 等
var kindParent = [numKinds]Kind{
	KObject:          -1,
	KImpossible:      KObject,
	KNone:            KObject,
	KFloat:           KObject,
	KInteger:         KFloat,
	KBool:            KInteger,
	KStringOrUnicode: KObject,
	KString:          KStringOrUnicode,
	KChar:            KString,
	KUnicode:         KStringOrUnicode,
	KUniChar:         KUnicode,
	KTuple:           KObject,
	KList:            KObject,
	KDict:            KObject,
	KInstance:        KObject,
	KPBC:             KObject,
	KIterator:        KObject,
	KBuiltin:         KObject,
	KBuiltinMethod:   KBuiltin,
	KType:            KObject,
	KWeakRef:         KObject,
}

// Parent 父标签，Object 返回 -1
func (k Kind) Parent() Kind {
	return kindParent[k]
}

// Ancestors 自身及所有祖先标签，从具体到一般
func (k Kind) Ancestors() []Kind {
	var out []Kind
	for cur := k; cur >= 0; cur = kindParent[cur] {
		out = append(out, cur)
	}
	return out
}

// IsSubKind k 是否为 other 的子标签（含自身）
func (k Kind) IsSubKind(other Kind) bool {
	for cur := k; cur >= 0; cur = kindParent[cur] {
		if cur == other {
			return true
		}
	}
	return false
}

// ============================================================================
// 注解接口
// ============================================================================

// SomeValue 注解
type SomeValue interface {
	Kind() Kind
	String() string
	// IsConstant 是否为编译期常量
	IsConstant() bool
	// Const 常量值（IsConstant 为 false 时为 nil）
	Const() interface{}
	// CanBeNone 是否可能为 None
	CanBeNone() bool
	// KnownTypeData 附着的类型信息（只有 Bool 会带）
	KnownTypeData() KnownTypeData
	// equal 结构相等
	equal(other SomeValue) bool
}

// constant 常量槽
type constant struct {
	has   bool
	value interface{}
}

func (c constant) IsConstant() bool   { return c.has }
func (c constant) Const() interface{} { return c.value }

func (c constant) constEqual(o constant) bool {
	if c.has != o.has {
		return false
	}
	return !c.has || constValuesEqual(c.value, o.value)
}

func constValuesEqual(a, b interface{}) bool {
	defer func() { recover() }()
	return a == b
}

func (c constant) constSuffix() string {
	if !c.has {
		return ""
	}
	return fmt.Sprintf(", const=%v", c.value)
}

type noKTD struct{}

func (noKTD) KnownTypeData() KnownTypeData { return nil }

// ============================================================================
// ClassDef / Desc 引用
// ============================================================================

// ClassDefRef 类定义的引用，由描述符包实现
type ClassDefRef interface {
	ID() int
	Name() string
	// BaseDef 父类定义，根类返回 nil
	BaseDef() ClassDefRef
	// IsSubclassOf 是否为 other 的子类（含自身）
	IsSubclassOf(other ClassDefRef) bool
}

// CommonBase 两个类定义的最近公共祖先，没有时返回 nil
func CommonBase(a, b ClassDefRef) ClassDefRef {
	if a == nil || b == nil {
		return nil
	}
	for cur := a; cur != nil; cur = cur.BaseDef() {
		if b.IsSubclassOf(cur) {
			return cur
		}
	}
	return nil
}

// DescKind 描述符种类
type DescKind int

const (
	DescFunction DescKind = iota
	DescClass
	DescMethod
	DescFrozen
	DescMethodOfFrozen
)

func (k DescKind) String() string {
	switch k {
	case DescFunction:
		return "function"
	case DescClass:
		return "class"
	case DescMethod:
		return "method"
	case DescFrozen:
		return "frozen"
	case DescMethodOfFrozen:
		return "method-of-frozen"
	}
	return "desc?"
}

// Desc 描述符：编译期已知值的规范句柄
type Desc interface {
	ID() int
	String() string
	DescKind() DescKind
	// PyObj 对应的宿主值
	PyObj() interface{}
}

// DescSetSimplifier 可以化简描述符集合的描述符（MethodDesc）
type DescSetSimplifier interface {
	SimplifyDescSet(descs []Desc) []Desc
}

// ============================================================================
// 具体注解
// ============================================================================

// Object 顶："任意对象"
type Object struct {
	noKTD
}

func (*Object) Kind() Kind                 { return KObject }
func (*Object) String() string             { return "SomeObject()" }
func (*Object) IsConstant() bool           { return false }
func (*Object) Const() interface{}         { return nil }
func (*Object) CanBeNone() bool            { return true }
func (*Object) equal(other SomeValue) bool { return other.Kind() == KObject }

// Impossible 底
type Impossible struct {
	noKTD
}

func (*Impossible) Kind() Kind                 { return KImpossible }
func (*Impossible) String() string             { return "s_ImpossibleValue" }
func (*Impossible) IsConstant() bool           { return false }
func (*Impossible) Const() interface{}         { return nil }
func (*Impossible) CanBeNone() bool            { return false }
func (*Impossible) equal(other SomeValue) bool { return other.Kind() == KImpossible }

// None 单例 None
type None struct {
	noKTD
}

// NoneValue None 的常量值
type NoneValue struct{}

func (NoneValue) String() string { return "None" }

func (*None) Kind() Kind                 { return KNone }
func (*None) String() string             { return "s_None" }
func (*None) IsConstant() bool           { return true }
func (*None) Const() interface{}         { return NoneValue{} }
func (*None) CanBeNone() bool            { return true }
func (*None) equal(other SomeValue) bool { return other.Kind() == KNone }

// 单例
var (
	SObject     SomeValue = &Object{}
	SImpossible SomeValue = &Impossible{}
	SNone       SomeValue = &None{}
)

// Bool 布尔
type Bool struct {
	constant
	KTD KnownTypeData
}

// NewBool 非常量布尔
func NewBool() *Bool { return &Bool{} }

// ConstBool 常量布尔
func ConstBool(v bool) *Bool { return &Bool{constant: constant{true, v}} }

func (*Bool) Kind() Kind                     { return KBool }
func (b *Bool) String() string               { return "SomeBool(" + strings.TrimPrefix(b.constSuffix(), ", ") + ")" }
func (*Bool) CanBeNone() bool                { return false }
func (b *Bool) KnownTypeData() KnownTypeData { return b.KTD }
func (b *Bool) equal(other SomeValue) bool {
	o, ok := other.(*Bool)
	return ok && b.constEqual(o.constant) && b.KTD.equal(o.KTD)
}

// SetKnownTypeData 设置类型信息
func (b *Bool) SetKnownTypeData(ktd KnownTypeData) {
	if len(ktd) > 0 {
		b.KTD = ktd
	}
}

// Float 浮点
type Float struct {
	constant
	noKTD
}

// NewFloat 非常量浮点
func NewFloat() *Float { return &Float{} }

// ConstFloat 常量浮点
func ConstFloat(v float64) *Float { return &Float{constant: constant{true, v}} }

func (*Float) Kind() Kind { return KFloat }
func (f *Float) String() string {
	return "SomeFloat(" + strings.TrimPrefix(f.constSuffix(), ", ") + ")"
}
func (*Float) CanBeNone() bool { return false }
func (f *Float) equal(other SomeValue) bool {
	o, ok := other.(*Float)
	return ok && f.constEqual(o.constant)
}

// Char 单字符
type Char struct {
	constant
	noKTD
	NoNul bool
}

// NewChar 非常量字符
func NewChar(noNul bool) *Char { return &Char{NoNul: noNul} }

// ConstChar 常量字符
func ConstChar(c byte) *Char { return &Char{constant: constant{true, c}, NoNul: c != 0} }

func (*Char) Kind() Kind       { return KChar }
func (c *Char) String() string { return fmt.Sprintf("SomeChar(no_nul=%v%s)", c.NoNul, c.constSuffix()) }
func (*Char) CanBeNone() bool  { return false }
func (c *Char) equal(other SomeValue) bool {
	o, ok := other.(*Char)
	return ok && c.NoNul == o.NoNul && c.constEqual(o.constant)
}

// UniChar unicode 单字符
type UniChar struct {
	constant
	noKTD
	NoNul bool
}

// NewUniChar 非常量 unicode 字符
func NewUniChar(noNul bool) *UniChar { return &UniChar{NoNul: noNul} }

// ConstUniChar 常量 unicode 字符
func ConstUniChar(r rune) *UniChar { return &UniChar{constant: constant{true, r}, NoNul: r != 0} }

func (*UniChar) Kind() Kind { return KUniChar }
func (c *UniChar) String() string {
	return fmt.Sprintf("SomeUnicodeCodePoint(no_nul=%v%s)", c.NoNul, c.constSuffix())
}
func (*UniChar) CanBeNone() bool { return false }
func (c *UniChar) equal(other SomeValue) bool {
	o, ok := other.(*UniChar)
	return ok && c.NoNul == o.NoNul && c.constEqual(o.constant)
}

// String 字节串
type String struct {
	constant
	noKTD
	Nullable bool
	NoNul    bool
}

// NewString 非常量字符串
func NewString(canBeNone, noNul bool) *String { return &String{Nullable: canBeNone, NoNul: noNul} }

// ConstString 常量字符串
func ConstString(s string) *String {
	return &String{constant: constant{true, s}, NoNul: strings.IndexByte(s, 0) < 0}
}

func (*String) Kind() Kind        { return KString }
func (s *String) CanBeNone() bool { return s.Nullable }
func (s *String) String() string {
	return fmt.Sprintf("SomeString(can_be_None=%v, no_nul=%v%s)", s.Nullable, s.NoNul, s.constSuffix())
}
func (s *String) equal(other SomeValue) bool {
	o, ok := other.(*String)
	return ok && s.Nullable == o.Nullable && s.NoNul == o.NoNul && s.constEqual(o.constant)
}

// Unicode unicode 串
type Unicode struct {
	constant
	noKTD
	Nullable bool
	NoNul    bool
}

// NewUnicode 非常量 unicode 串
func NewUnicode(canBeNone, noNul bool) *Unicode { return &Unicode{Nullable: canBeNone, NoNul: noNul} }

// ConstUnicode 常量 unicode 串
func ConstUnicode(s string) *Unicode {
	return &Unicode{constant: constant{true, s}, NoNul: strings.IndexByte(s, 0) < 0}
}

func (*Unicode) Kind() Kind        { return KUnicode }
func (s *Unicode) CanBeNone() bool { return s.Nullable }
func (s *Unicode) String() string {
	return fmt.Sprintf("SomeUnicodeString(can_be_None=%v, no_nul=%v%s)", s.Nullable, s.NoNul, s.constSuffix())
}
func (s *Unicode) equal(other SomeValue) bool {
	o, ok := other.(*Unicode)
	return ok && s.Nullable == o.Nullable && s.NoNul == o.NoNul && s.constEqual(o.constant)
}

// Tuple 元组
type Tuple struct {
	constant
	noKTD
	Items []SomeValue
}

// NewTuple 创建元组；所有元素都是常量时元组也是常量
func NewTuple(items []SomeValue) *Tuple {
	t := &Tuple{Items: items}
	consts := make([]interface{}, len(items))
	for i, it := range items {
		if !it.IsConstant() {
			return t
		}
		consts[i] = it.Const()
	}
	t.constant = constant{true, ConstTuple(consts)}
	return t
}

// ConstTuple 常量元组值
type ConstTuple []interface{}

func (*Tuple) Kind() Kind      { return KTuple }
func (*Tuple) CanBeNone() bool { return false }
func (t *Tuple) IsConstant() bool {
	return t.constant.has
}
func (t *Tuple) Const() interface{} {
	return t.constant.value
}
func (t *Tuple) String() string {
	parts := make([]string, len(t.Items))
	for i, it := range t.Items {
		parts[i] = it.String()
	}
	return "SomeTuple(" + strings.Join(parts, ", ") + ")"
}
func (t *Tuple) equal(other SomeValue) bool {
	o, ok := other.(*Tuple)
	if !ok || len(o.Items) != len(t.Items) {
		return false
	}
	for i := range t.Items {
		if !Equal(t.Items[i], o.Items[i]) {
			return false
		}
	}
	return true
}

// List 列表
type List struct {
	noKTD
	Def *ListDef
}

// NewList 创建列表注解
func NewList(def *ListDef) *List { return &List{Def: def} }

func (*List) Kind() Kind         { return KList }
func (*List) IsConstant() bool   { return false }
func (*List) Const() interface{} { return nil }
func (*List) CanBeNone() bool    { return true }
func (l *List) String() string   { return "SomeList(" + l.Def.String() + ")" }
func (l *List) equal(other SomeValue) bool {
	o, ok := other.(*List)
	return ok && l.Def.SameAs(o.Def)
}

// Dict 字典
type Dict struct {
	noKTD
	Def *DictDef
}

// NewDict 创建字典注解
func NewDict(def *DictDef) *Dict { return &Dict{Def: def} }

func (*Dict) Kind() Kind         { return KDict }
func (*Dict) IsConstant() bool   { return false }
func (*Dict) Const() interface{} { return nil }
func (*Dict) CanBeNone() bool    { return true }
func (d *Dict) String() string   { return "SomeDict(" + d.Def.String() + ")" }
func (d *Dict) equal(other SomeValue) bool {
	o, ok := other.(*Dict)
	return ok && d.Def.SameAs(o.Def)
}

// Instance 类实例
type Instance struct {
	constant
	noKTD
	ClassDef ClassDefRef
	Nullable bool
	// Flags 属性标志，如 "access_directly"
	Flags map[string]bool
}

// NewInstance 创建实例注解
func NewInstance(classdef ClassDefRef, canBeNone bool, flags map[string]bool) *Instance {
	return &Instance{ClassDef: classdef, Nullable: canBeNone, Flags: flags}
}

func (*Instance) Kind() Kind        { return KInstance }
func (i *Instance) CanBeNone() bool { return i.Nullable }
func (i *Instance) String() string {
	name := "object"
	if i.ClassDef != nil {
		name = i.ClassDef.Name()
	}
	return fmt.Sprintf("SomeInstance(%s, can_be_None=%v%s)", name, i.Nullable, i.constSuffix())
}
func (i *Instance) equal(other SomeValue) bool {
	o, ok := other.(*Instance)
	return ok && i.ClassDef == o.ClassDef && i.Nullable == o.Nullable && flagsEqual(i.Flags, o.Flags) && i.constEqual(o.constant)
}

func flagsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// PBC 预构建常量集合
type PBC struct {
	noKTD
	Descs    []Desc // 按 ID 排序
	Nullable bool
	// SubsetOf 若不为 nil，表示此集合是另一个 PBC 的子集（用于共享表示）
	SubsetOf *PBC
}

// NewPBC 创建 PBC，会化简描述符集合并按 ID 排序
func NewPBC(descs []Desc, canBeNone bool) *PBC {
	descs = dedupDescs(descs)
	if len(descs) > 1 {
		if s, ok := descs[0].(DescSetSimplifier); ok {
			descs = dedupDescs(s.SimplifyDescSet(descs))
		}
	}
	return &PBC{Descs: descs, Nullable: canBeNone}
}

func dedupDescs(descs []Desc) []Desc {
	seen := make(map[int]bool, len(descs))
	out := make([]Desc, 0, len(descs))
	for _, d := range descs {
		if !seen[d.ID()] {
			seen[d.ID()] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (*PBC) Kind() Kind        { return KPBC }
func (p *PBC) CanBeNone() bool { return p.Nullable }

// IsConstant 只有一个描述符且不可能为 None 时是常量
func (p *PBC) IsConstant() bool {
	return len(p.Descs) == 1 && !p.Nullable
}

// Const 唯一描述符对应的宿主值
func (p *PBC) Const() interface{} {
	if !p.IsConstant() {
		return nil
	}
	return p.Descs[0].PyObj()
}

// DescKind 所有描述符共同的种类，混合时返回 -1
func (p *PBC) DescKind() DescKind {
	if len(p.Descs) == 0 {
		return -1
	}
	k := p.Descs[0].DescKind()
	for _, d := range p.Descs[1:] {
		if d.DescKind() != k {
			return -1
		}
	}
	return k
}

// HasDesc 是否包含描述符
func (p *PBC) HasDesc(d Desc) bool {
	for _, x := range p.Descs {
		if x.ID() == d.ID() {
			return true
		}
	}
	return false
}

func (p *PBC) String() string {
	parts := make([]string, len(p.Descs))
	for i, d := range p.Descs {
		parts[i] = d.String()
	}
	return fmt.Sprintf("SomePBC({%s}, can_be_None=%v)", strings.Join(parts, ", "), p.Nullable)
}
func (p *PBC) equal(other SomeValue) bool {
	o, ok := other.(*PBC)
	if !ok || p.Nullable != o.Nullable || len(p.Descs) != len(o.Descs) {
		return false
	}
	for i := range p.Descs {
		if p.Descs[i].ID() != o.Descs[i].ID() {
			return false
		}
	}
	return true
}

// Iterator 迭代器
type Iterator struct {
	noKTD
	Container SomeValue
	// Variant keys / values / items / enumerate / reversed，空为默认
	Variant string
}

// NewIterator 创建迭代器注解
func NewIterator(container SomeValue, variant string) *Iterator {
	return &Iterator{Container: container, Variant: variant}
}

func (*Iterator) Kind() Kind         { return KIterator }
func (*Iterator) IsConstant() bool   { return false }
func (*Iterator) Const() interface{} { return nil }
func (*Iterator) CanBeNone() bool    { return false }
func (it *Iterator) String() string {
	return fmt.Sprintf("SomeIterator(%s, %q)", it.Container, it.Variant)
}
func (it *Iterator) equal(other SomeValue) bool {
	o, ok := other.(*Iterator)
	return ok && it.Variant == o.Variant && Equal(it.Container, o.Container)
}

// Builtin 内建函数
type Builtin struct {
	noKTD
	Name string
	// Self 绑定对象（方法），函数为 nil
	Self SomeValue
}

// NewBuiltin 创建内建函数注解
func NewBuiltin(name string) *Builtin { return &Builtin{Name: name} }

// NewBuiltinMethod 创建内建方法注解
func NewBuiltinMethod(name string, self SomeValue) *Builtin { return &Builtin{Name: name, Self: self} }

// Kind 有 Self 时是 BuiltinMethod
func (b *Builtin) Kind() Kind {
	if b.Self != nil {
		return KBuiltinMethod
	}
	return KBuiltin
}
func (b *Builtin) IsConstant() bool { return b.Self == nil }
func (b *Builtin) Const() interface{} {
	if b.Self == nil {
		return BuiltinRef(b.Name)
	}
	return nil
}
func (*Builtin) CanBeNone() bool { return false }
func (b *Builtin) String() string {
	if b.Self != nil {
		return fmt.Sprintf("SomeBuiltinMethod(%s, %s)", b.Name, b.Self)
	}
	return fmt.Sprintf("SomeBuiltin(%s)", b.Name)
}
func (b *Builtin) equal(other SomeValue) bool {
	o, ok := other.(*Builtin)
	if !ok || b.Name != o.Name || (b.Self == nil) != (o.Self == nil) {
		return false
	}
	return b.Self == nil || Equal(b.Self, o.Self)
}

// BuiltinRef 内建函数常量值
type BuiltinRef string

// Type 类型对象
type Type struct {
	constant
	noKTD
	// IsTypeOf 此值是这些变量的 type()，用于类型 guard 细化
	IsTypeOf []*flowmodel.Variable
}

// NewType 创建类型注解
func NewType() *Type { return &Type{} }

// ConstType 常量类型
func ConstType(v interface{}) *Type { return &Type{constant: constant{true, v}} }

func (*Type) Kind() Kind       { return KType }
func (*Type) CanBeNone() bool  { return false }
func (t *Type) String() string { return "SomeType(" + strings.TrimPrefix(t.constSuffix(), ", ") + ")" }
func (t *Type) equal(other SomeValue) bool {
	o, ok := other.(*Type)
	if !ok || !t.constEqual(o.constant) || len(t.IsTypeOf) != len(o.IsTypeOf) {
		return false
	}
	for i := range t.IsTypeOf {
		if t.IsTypeOf[i] != o.IsTypeOf[i] {
			return false
		}
	}
	return true
}

// WeakRef 弱引用
type WeakRef struct {
	noKTD
	// ClassDef 目标类；nil 表示已失效的弱引用
	ClassDef ClassDefRef
}

// NewWeakRef 创建弱引用注解
func NewWeakRef(classdef ClassDefRef) *WeakRef { return &WeakRef{ClassDef: classdef} }

func (*WeakRef) Kind() Kind         { return KWeakRef }
func (*WeakRef) IsConstant() bool   { return false }
func (*WeakRef) Const() interface{} { return nil }
func (*WeakRef) CanBeNone() bool    { return false }
func (w *WeakRef) String() string {
	if w.ClassDef == nil {
		return "SomeWeakRef(dead)"
	}
	return "SomeWeakRef(" + w.ClassDef.Name() + ")"
}
func (w *WeakRef) equal(other SomeValue) bool {
	o, ok := other.(*WeakRef)
	return ok && w.ClassDef == o.ClassDef
}

// ============================================================================
// 通用辅助
// ============================================================================

// Equal 两个注解结构相等
func Equal(a, b SomeValue) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.equal(b)
}

// IsImpossible 是否为底
func IsImpossible(s SomeValue) bool {
	return s == nil || s.Kind() == KImpossible
}

// Nonnull 去掉 None 可能性
func Nonnull(s SomeValue) SomeValue {
	switch v := s.(type) {
	case *String:
		c := *v
		c.Nullable = false
		return &c
	case *Unicode:
		c := *v
		c.Nullable = false
		return &c
	case *Instance:
		c := *v
		c.Nullable = false
		return &c
	case *PBC:
		if len(v.Descs) == 0 {
			return SImpossible
		}
		return &PBC{Descs: v.Descs, Nullable: false}
	case *None:
		return SImpossible
	}
	return s
}

// Noneify 加上 None 可能性；不能为 None 的变体返回 nil
func Noneify(s SomeValue) SomeValue {
	switch v := s.(type) {
	case *String:
		if v.Nullable {
			return v
		}
		return &String{Nullable: true, NoNul: v.NoNul}
	case *Unicode:
		if v.Nullable {
			return v
		}
		return &Unicode{Nullable: true, NoNul: v.NoNul}
	case *Instance:
		if v.Nullable {
			return v
		}
		return &Instance{ClassDef: v.ClassDef, Nullable: true, Flags: v.Flags}
	case *PBC:
		if v.Nullable {
			return v
		}
		return &PBC{Descs: v.Descs, Nullable: true}
	case *List, *Dict, *None, *Object:
		return s
	}
	return nil
}
