// lltype.go - 低层类型代数
//
// 所有后续阶段共用的类型全集：
//   - Primitive 定宽整数 / 浮点 / 字符 / 布尔 / 地址 / Void
//   - Ptr       指向容器的指针，gc 或 raw
//   - Struct    有序字段，可带变长尾部数组
//   - Array     带长度前缀或裸数组
//   - FixedArray 编译期长度的数组，没有长度字
//   - FuncType  函数类型
//   - Opaque    外部定义的句柄，大小按需查询
//   - WeakRef   gc 指针的弱引用单元
//   - Group     共享基址的结构体成员集合
//
// 不变式：gc 指针只指向 gc 容器，反之亦然；变长结构体恰有一个尾部数组字段；
// 裸数组没有长度字也没有 gc 头。

package lltype

import (
	"fmt"
	"strings"
)

// ============================================================================
// 类型分类
// ============================================================================

// Kind 类型种类
type Kind int

const (
	KindPrimitive Kind = iota
	KindPtr
	KindStruct
	KindArray
	KindFixedArray
	KindFunc
	KindOpaque
	KindWeakRef
	KindGroup
	KindForward
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "Primitive"
	case KindPtr:
		return "Ptr"
	case KindStruct:
		return "Struct"
	case KindArray:
		return "Array"
	case KindFixedArray:
		return "FixedArray"
	case KindFunc:
		return "Func"
	case KindOpaque:
		return "Opaque"
	case KindWeakRef:
		return "WeakRef"
	case KindGroup:
		return "Group"
	case KindForward:
		return "Forward"
	default:
		return "Unknown"
	}
}

// Type 低层类型
type Type interface {
	Kind() Kind
	String() string
	// key 结构化键，用于驻留
	key() string
}

// ContainerType 可被指针指向的类型
type ContainerType interface {
	Type
	IsGC() bool
	// IsVarSized 是否为变长容器（长度在分配时决定）
	IsVarSized() bool
}

// ============================================================================
// 原始类型
// ============================================================================

// PrimClass 原始类型类别
type PrimClass int

const (
	ClassVoid PrimClass = iota
	ClassBool
	ClassInt
	ClassFloat
	ClassChar
	ClassUniChar
	ClassAddress
)

// Primitive 原始类型
type Primitive struct {
	Name   string
	Bits   int
	Signed bool
	Class  PrimClass
}

func (p *Primitive) Kind() Kind     { return KindPrimitive }
func (p *Primitive) String() string { return p.Name }
func (p *Primitive) key() string    { return "P:" + p.Name }

// IsInteger 是否为整数类原始类型
func (p *Primitive) IsInteger() bool {
	return p.Class == ClassInt
}

// IsFloat 是否为浮点
func (p *Primitive) IsFloat() bool {
	return p.Class == ClassFloat
}

// 预定义原始类型
var (
	Void             = &Primitive{Name: "Void", Bits: 0, Class: ClassVoid}
	Bool             = &Primitive{Name: "Bool", Bits: 1, Class: ClassBool}
	Char             = &Primitive{Name: "Char", Bits: 8, Class: ClassChar}
	UniChar          = &Primitive{Name: "UniChar", Bits: 32, Class: ClassUniChar}
	Signed           = &Primitive{Name: "Signed", Bits: 64, Signed: true, Class: ClassInt}
	Unsigned         = &Primitive{Name: "Unsigned", Bits: 64, Class: ClassInt}
	SignedLongLong   = &Primitive{Name: "SignedLongLong", Bits: 64, Signed: true, Class: ClassInt}
	UnsignedLongLong = &Primitive{Name: "UnsignedLongLong", Bits: 64, Class: ClassInt}
	Int32            = &Primitive{Name: "Int32", Bits: 32, Signed: true, Class: ClassInt}
	Float            = &Primitive{Name: "Float", Bits: 64, Signed: true, Class: ClassFloat}
	SingleFloat      = &Primitive{Name: "SingleFloat", Bits: 32, Signed: true, Class: ClassFloat}
	Address          = &Primitive{Name: "Address", Bits: 64, Class: ClassAddress}
)

// IntegerType 返回指定位宽和符号的整数类型
func IntegerType(bits int, signed bool) *Primitive {
	switch {
	case bits == 64 && signed:
		return Signed
	case bits == 64:
		return Unsigned
	case bits == 32 && signed:
		return Int32
	}
	prefix := "Unsigned"
	if signed {
		prefix = "Signed"
	}
	return &Primitive{Name: fmt.Sprintf("%s%d", prefix, bits), Bits: bits, Signed: signed, Class: ClassInt}
}

// ============================================================================
// 指针
// ============================================================================

// Ptr 指针类型
type Ptr struct {
	To ContainerType
}

func (p *Ptr) Kind() Kind { return KindPtr }

// GC 指针是否为 gc 指针（由被指向的容器决定）
func (p *Ptr) GC() bool { return p.To.IsGC() }

func (p *Ptr) String() string {
	if p.GC() {
		return "Ptr(" + p.To.String() + ")"
	}
	return "RawPtr(" + p.To.String() + ")"
}

func (p *Ptr) key() string { return "Ptr(" + refKey(p.To) + ")" }

// refKey 被指针引用时的键：命名结构体只用名字，避免递归
func refKey(t Type) string {
	switch c := t.(type) {
	case *Struct:
		if c.gc {
			return "GS:" + c.Name
		}
		return "S:" + c.Name
	case *Forward:
		if c.target != nil {
			return refKey(c.target)
		}
		return fmt.Sprintf("FWD:%p", c)
	default:
		return t.key()
	}
}

// NewPtr 创建指向容器的指针
func NewPtr(to ContainerType) *Ptr {
	return &Ptr{To: to}
}

// MakePtr 创建指针并检查 gc 标志与容器一致
func MakePtr(to ContainerType, gc bool) (*Ptr, error) {
	if to.IsGC() != gc {
		return nil, fmt.Errorf("gc=%v pointer cannot point to %s", gc, to)
	}
	return &Ptr{To: to}, nil
}

// ============================================================================
// 结构体
// ============================================================================

// Field 结构体字段
type Field struct {
	Name string
	Type Type
}

// StructHints 结构体提示
type StructHints struct {
	Immutable       bool     // 整个结构体不可变
	ImmutableFields []string // 不可变字段
	TypePtr         bool     // 第一个非头字段是 vtable 指针
	RTTI            bool     // 携带运行时类型信息
	Final           bool     // 不会被继承
}

// Struct 结构体类型
type Struct struct {
	Name   string
	Fields []Field
	Hints  StructHints
	gc     bool
	index  map[string]int
}

// NewStruct 创建 raw 结构体
func NewStruct(name string, fields []Field, hints StructHints) *Struct {
	return newStruct(name, fields, hints, false)
}

// NewGcStruct 创建 gc 结构体
func NewGcStruct(name string, fields []Field, hints StructHints) *Struct {
	return newStruct(name, fields, hints, true)
}

func newStruct(name string, fields []Field, hints StructHints, gc bool) *Struct {
	s := &Struct{Name: name, Fields: fields, Hints: hints, gc: gc, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.index[f.Name] = i
	}
	return s
}

func (s *Struct) Kind() Kind { return KindStruct }
func (s *Struct) IsGC() bool { return s.gc }

// GCHeaderRequired gc 结构体需要 gc 头
func (s *Struct) GCHeaderRequired() bool { return s.gc }

func (s *Struct) String() string {
	prefix := "Struct"
	if s.gc {
		prefix = "GcStruct"
	}
	return prefix + " " + s.Name
}

func (s *Struct) key() string {
	var sb strings.Builder
	if s.gc {
		sb.WriteString("GS:")
	} else {
		sb.WriteString("S:")
	}
	sb.WriteString(s.Name)
	sb.WriteString("{")
	for i, f := range s.Fields {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(f.Name)
		sb.WriteString(":")
		sb.WriteString(refKey(f.Type))
	}
	sb.WriteString("}")
	return sb.String()
}

// FieldType 返回字段类型
func (s *Struct) FieldType(name string) (Type, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.Fields[i].Type, true
}

// FieldIndex 返回字段序号，不存在返回 -1
func (s *Struct) FieldIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// IsVarSized 最后一个字段为变长容器
func (s *Struct) IsVarSized() bool {
	return s.VarField() != ""
}

// VarField 变长尾部字段名
func (s *Struct) VarField() string {
	if len(s.Fields) == 0 {
		return ""
	}
	last := s.Fields[len(s.Fields)-1]
	if c, ok := resolve(last.Type).(ContainerType); ok && c.IsVarSized() {
		return last.Name
	}
	return ""
}

// Super 第一个字段若为内嵌父结构体，返回它
func (s *Struct) Super() *Struct {
	if len(s.Fields) == 0 {
		return nil
	}
	if p, ok := resolve(s.Fields[0].Type).(*Struct); ok && s.Fields[0].Name == "super" {
		return p
	}
	return nil
}

// IsImmutableField 字段是否不可变
func (s *Struct) IsImmutableField(name string) bool {
	if s.Hints.Immutable {
		return true
	}
	for _, f := range s.Hints.ImmutableFields {
		if f == name {
			return true
		}
	}
	return false
}

// Ancestors 从自身到根的继承链
func (s *Struct) Ancestors() []*Struct {
	var chain []*Struct
	for cur := s; cur != nil; cur = cur.Super() {
		chain = append(chain, cur)
	}
	return chain
}

// IsSubStruct 判断 s 是否以 base 为祖先（含自身）
func (s *Struct) IsSubStruct(base *Struct) bool {
	for _, a := range s.Ancestors() {
		if a == base {
			return true
		}
	}
	return false
}

// ============================================================================
// 数组
// ============================================================================

// ArrayHints 数组提示
type ArrayHints struct {
	NoLength  bool // 裸数组：没有长度字
	Immutable bool
	IsString  bool // 字符串内容数组
}

// Array 变长数组
type Array struct {
	Of    Type
	Hints ArrayHints
	gc    bool
}

// NewArray 创建 raw 数组
func NewArray(of Type, hints ArrayHints) *Array {
	return &Array{Of: of, Hints: hints}
}

// NewGcArray 创建 gc 数组
func NewGcArray(of Type, hints ArrayHints) *Array {
	return &Array{Of: of, Hints: hints, gc: true}
}

func (a *Array) Kind() Kind       { return KindArray }
func (a *Array) IsGC() bool       { return a.gc }
func (a *Array) IsVarSized() bool { return true }

// HasLength 是否带长度前缀
func (a *Array) HasLength() bool { return !a.Hints.NoLength }

func (a *Array) String() string {
	prefix := "Array"
	if a.gc {
		prefix = "GcArray"
	}
	if a.Hints.NoLength {
		prefix += "[bare]"
	}
	return prefix + " of " + a.Of.String()
}

func (a *Array) key() string {
	return fmt.Sprintf("A(%v,%v,%v):%s", a.gc, a.Hints.NoLength, a.Hints.Immutable, refKey(a.Of))
}

// FixedArray 定长数组
type FixedArray struct {
	Of     Type
	Length int
}

// NewFixedArray 创建定长数组
func NewFixedArray(of Type, n int) *FixedArray {
	return &FixedArray{Of: of, Length: n}
}

func (a *FixedArray) Kind() Kind       { return KindFixedArray }
func (a *FixedArray) IsGC() bool       { return false }
func (a *FixedArray) IsVarSized() bool { return false }
func (a *FixedArray) String() string   { return fmt.Sprintf("FixedArray(%s, %d)", a.Of, a.Length) }
func (a *FixedArray) key() string      { return fmt.Sprintf("FA(%d):%s", a.Length, refKey(a.Of)) }

// ============================================================================
// 函数、不透明、弱引用、组
// ============================================================================

// FuncType 函数类型
type FuncType struct {
	Args   []Type
	Result Type
}

// NewFuncType 创建函数类型
func NewFuncType(args []Type, result Type) *FuncType {
	return &FuncType{Args: args, Result: result}
}

func (f *FuncType) Kind() Kind { return KindFunc }
func (f *FuncType) IsGC() bool { return false }

// IsVarSized 函数不可变长
func (f *FuncType) IsVarSized() bool { return false }

func (f *FuncType) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return "Func(" + strings.Join(parts, ", ") + ") -> " + f.Result.String()
}

func (f *FuncType) key() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = refKey(a)
	}
	return "F(" + strings.Join(parts, ",") + ")->" + refKey(f.Result)
}

// Opaque 外部定义的句柄
type Opaque struct {
	Tag    string
	gc     bool
	sizeFn func() (int, error)
	size   int
	known  bool
}

// NewOpaque 创建 raw 不透明类型，sizeFn 可为 nil
func NewOpaque(tag string, sizeFn func() (int, error)) *Opaque {
	return &Opaque{Tag: tag, sizeFn: sizeFn}
}

// NewGcOpaque 创建 gc 不透明类型
func NewGcOpaque(tag string) *Opaque {
	return &Opaque{Tag: tag, gc: true}
}

func (o *Opaque) Kind() Kind       { return KindOpaque }
func (o *Opaque) IsGC() bool       { return o.gc }
func (o *Opaque) IsVarSized() bool { return false }
func (o *Opaque) String() string   { return "Opaque " + o.Tag }
func (o *Opaque) key() string      { return fmt.Sprintf("O(%v):%s", o.gc, o.Tag) }

// Size 第一次调用时查询大小并缓存
func (o *Opaque) Size() (int, error) {
	if o.known {
		return o.size, nil
	}
	if o.sizeFn == nil {
		return 0, fmt.Errorf("size of %s is not discoverable", o)
	}
	n, err := o.sizeFn()
	if err != nil {
		return 0, fmt.Errorf("size of %s: %w", o, err)
	}
	o.size, o.known = n, true
	return n, nil
}

// WeakRef gc 弱引用单元
type WeakRef struct {
	To *Ptr
}

// NewWeakRef 创建弱引用类型，目标必须是 gc 指针
func NewWeakRef(to *Ptr) (*WeakRef, error) {
	if !to.GC() {
		return nil, fmt.Errorf("weakref target must be a gc pointer, got %s", to)
	}
	return &WeakRef{To: to}, nil
}

func (w *WeakRef) Kind() Kind       { return KindWeakRef }
func (w *WeakRef) IsGC() bool       { return true }
func (w *WeakRef) IsVarSized() bool { return false }
func (w *WeakRef) String() string   { return "WeakRef(" + w.To.String() + ")" }
func (w *WeakRef) key() string      { return "W:" + w.To.key() }

// Group 共享基址的结构体成员集合
type Group struct {
	Name    string
	Members []*Struct
}

// NewGroup 创建组
func NewGroup(name string) *Group {
	return &Group{Name: name}
}

// Add 添加成员，返回其在组中的偏移序号
func (g *Group) Add(s *Struct) int {
	g.Members = append(g.Members, s)
	return len(g.Members) - 1
}

func (g *Group) Kind() Kind       { return KindGroup }
func (g *Group) IsGC() bool       { return false }
func (g *Group) IsVarSized() bool { return false }
func (g *Group) String() string   { return "Group " + g.Name }
func (g *Group) key() string {
	parts := make([]string, len(g.Members))
	for i, m := range g.Members {
		parts[i] = refKey(m)
	}
	return "G:" + g.Name + "[" + strings.Join(parts, ",") + "]"
}

// ============================================================================
// 前向引用
// ============================================================================

// Forward 递归类型的占位
type Forward struct {
	gc     bool
	target ContainerType
}

// NewForward 创建前向引用
func NewForward(gc bool) *Forward {
	return &Forward{gc: gc}
}

// Become 解析前向引用
func (f *Forward) Become(t ContainerType) error {
	if f.target != nil {
		return fmt.Errorf("forward reference already resolved to %s", f.target)
	}
	if t.IsGC() != f.gc {
		return fmt.Errorf("forward reference gc=%v cannot become %s", f.gc, t)
	}
	f.target = t
	return nil
}

func (f *Forward) Kind() Kind { return KindForward }
func (f *Forward) IsGC() bool { return f.gc }
func (f *Forward) IsVarSized() bool {
	return f.target != nil && f.target.IsVarSized()
}
func (f *Forward) String() string {
	if f.target != nil {
		return f.target.String()
	}
	return "Forward"
}
func (f *Forward) key() string { return refKey(f) }

// resolve 去掉前向引用
func resolve(t Type) Type {
	if f, ok := t.(*Forward); ok && f.target != nil {
		return f.target
	}
	return t
}

// Resolve 导出版本
func Resolve(t Type) Type {
	return resolve(t)
}

// ============================================================================
// 分类辅助
// ============================================================================

// IsGCPtr 是否为 gc 指针
func IsGCPtr(t Type) bool {
	p, ok := t.(*Ptr)
	return ok && p.GC()
}

// IsContainer 是否为容器类型
func IsContainer(t Type) bool {
	_, ok := resolve(t).(ContainerType)
	return ok
}

// Equal 结构相等
func Equal(a, b Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return resolve(a).key() == resolve(b).key()
}
