// Package gcpolicy 定义容器数据库使用的 GC 策略
//
// 策略决定每个 gc 容器的头部布局与预构建对象的头部初值，
// 并给类型定义节点挂上 GC 元数据（类型编号、终结器、弱引用标志）。
// 类型化器只询问 NeedNoTypePtr；C 输出只读取已经填好的节点，不再调用策略。
package gcpolicy

import (
	"fmt"
	"sort"

	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/rffi"
)

// ============================================================================
// 接口
// ============================================================================

// DefNode 容器数据库中的类型定义节点
type DefNode interface {
	// LLType 节点定义的容器类型
	LLType() lltype.ContainerType
	// SetGCInfo 挂上 GC 元数据
	SetGCInfo(info *GCInfo)
}

// RTTI 运行时类型信息：类型化器为带 __del__ 的实例结构体生成
type RTTI struct {
	// Destructor 终结器函数名，空表示没有
	Destructor string
	// Light 终结器是轻量的，可以在回收时直接调用
	Light bool
}

// GCInfo 类型定义节点上的 GC 元数据
type GCInfo struct {
	TypeID         int    `yaml:"type_id"`
	HasFinalizer   bool   `yaml:"has_finalizer,omitempty"`
	LightFinalizer bool   `yaml:"light_finalizer,omitempty"`
	IsWeakRef      bool   `yaml:"is_weakref,omitempty"`
	Deallocator    string `yaml:"deallocator,omitempty"`
}

// Policy GC 策略
type Policy interface {
	Name() string

	// StructGCHeaderDefinition gc 结构体的头部类型，nil 表示没有头部
	StructGCHeaderDefinition(node DefNode) *lltype.Struct
	// StructGCHeaderInitData 预构建结构体的头部初值（按头部字段顺序）
	StructGCHeaderInitData(node DefNode) []lltype.Value
	ArrayGCHeaderDefinition(node DefNode) *lltype.Struct
	ArrayGCHeaderInitData(node DefNode) []lltype.Value

	// StructSetup 给结构体定义节点挂上 GC 元数据；rtti 为 nil 表示没有运行时类型信息
	StructSetup(node DefNode, rtti *RTTI) error
	ArraySetup(node DefNode) error

	// NeedNoTypePtr 实例布局是否可以省略 vtable 指针
	NeedNoTypePtr() bool
	// GCStartupCode 程序启动时执行的代码片段
	GCStartupCode() []string
	// CompilationInfo 策略需要的编译信息
	CompilationInfo() *rffi.ExternalCompilationInfo
}

// Options 创建策略的选项
type Options struct {
	// RemoveTypePtr 框架 GC 下从实例布局中去掉 vtable 指针
	RemoveTypePtr bool
}

var factories = map[string]func(Options) Policy{
	"none":      func(Options) Policy { return &NonePolicy{} },
	"ref":       func(Options) Policy { return newRefcountingPolicy() },
	"framework": func(o Options) Policy { return newFrameworkPolicy(o) },
}

// New 按名字创建策略
func New(name string, opts Options) (Policy, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown gc policy %q (available: %v)", name, Names())
	}
	return f(opts), nil
}

// Names 可用的策略名
func Names() []string {
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// none：不回收
// ============================================================================

// NonePolicy 不带 GC 头、永不回收
type NonePolicy struct{}

func (*NonePolicy) Name() string { return "none" }

func (*NonePolicy) StructGCHeaderDefinition(DefNode) *lltype.Struct { return nil }
func (*NonePolicy) StructGCHeaderInitData(DefNode) []lltype.Value   { return nil }
func (*NonePolicy) ArrayGCHeaderDefinition(DefNode) *lltype.Struct  { return nil }
func (*NonePolicy) ArrayGCHeaderInitData(DefNode) []lltype.Value    { return nil }
func (*NonePolicy) StructSetup(DefNode, *RTTI) error                { return nil }
func (*NonePolicy) ArraySetup(DefNode) error                        { return nil }
func (*NonePolicy) NeedNoTypePtr() bool                             { return false }
func (*NonePolicy) GCStartupCode() []string                         { return nil }

func (*NonePolicy) CompilationInfo() *rffi.ExternalCompilationInfo {
	return &rffi.ExternalCompilationInfo{
		PreIncludeBits:  []string{"/* using no gc */"},
		PostIncludeBits: []string{"#define PYPY_USING_NO_GC_AT_ALL"},
	}
}

// ============================================================================
// ref：引用计数
// ============================================================================

// refcountImmortal 预构建对象的引用计数初值，保证永不释放
const refcountImmortal = int64(1) << 62

// RefcountingPolicy 引用计数
type RefcountingPolicy struct {
	header *lltype.Struct
}

func newRefcountingPolicy() *RefcountingPolicy {
	return &RefcountingPolicy{
		header: lltype.NewStruct("gc_refcount_hdr", []lltype.Field{{Name: "refcount", Type: lltype.Signed}}, lltype.StructHints{}),
	}
}

func (*RefcountingPolicy) Name() string { return "ref" }

func (p *RefcountingPolicy) StructGCHeaderDefinition(DefNode) *lltype.Struct { return p.header }
func (p *RefcountingPolicy) ArrayGCHeaderDefinition(DefNode) *lltype.Struct  { return p.header }

func (*RefcountingPolicy) StructGCHeaderInitData(DefNode) []lltype.Value {
	return []lltype.Value{refcountImmortal}
}

func (*RefcountingPolicy) ArrayGCHeaderInitData(DefNode) []lltype.Value {
	return []lltype.Value{refcountImmortal}
}

// StructSetup 有运行时类型信息的结构体需要一个静态释放函数
func (*RefcountingPolicy) StructSetup(node DefNode, rtti *RTTI) error {
	if rtti == nil {
		return nil
	}
	name := "pypy_dealloc_" + structName(node.LLType())
	node.SetGCInfo(&GCInfo{HasFinalizer: rtti.Destructor != "", LightFinalizer: rtti.Light, Deallocator: name})
	return nil
}

func (*RefcountingPolicy) ArraySetup(DefNode) error { return nil }
func (*RefcountingPolicy) NeedNoTypePtr() bool      { return false }
func (*RefcountingPolicy) GCStartupCode() []string  { return nil }

func (*RefcountingPolicy) CompilationInfo() *rffi.ExternalCompilationInfo {
	return &rffi.ExternalCompilationInfo{
		PreIncludeBits: []string{"/* using RefcountingGCTransformer */", "#define MALLOC_ZERO_FILLED 1"},
	}
}

// ============================================================================
// framework：带 shadow stack 的分代 GC
// ============================================================================

// FrameworkPolicy 框架 GC：头部只有类型编号，由 shadow stack 找根
type FrameworkPolicy struct {
	opts    Options
	header  *lltype.Struct
	typeIDs map[lltype.ContainerType]int
	nextID  int
}

func newFrameworkPolicy(opts Options) *FrameworkPolicy {
	return &FrameworkPolicy{
		opts:    opts,
		header:  lltype.NewStruct("gc_hdr", []lltype.Field{{Name: "tid", Type: lltype.Signed}}, lltype.StructHints{}),
		typeIDs: make(map[lltype.ContainerType]int),
		nextID:  1,
	}
}

func (*FrameworkPolicy) Name() string { return "framework" }

// TypeID 容器类型的类型编号，第一次询问时分配
func (p *FrameworkPolicy) TypeID(t lltype.ContainerType) int {
	if id, ok := p.typeIDs[t]; ok {
		return id
	}
	id := p.nextID
	p.nextID++
	p.typeIDs[t] = id
	return id
}

func (p *FrameworkPolicy) StructGCHeaderDefinition(DefNode) *lltype.Struct { return p.header }
func (p *FrameworkPolicy) ArrayGCHeaderDefinition(DefNode) *lltype.Struct  { return p.header }

func (p *FrameworkPolicy) StructGCHeaderInitData(node DefNode) []lltype.Value {
	return []lltype.Value{int64(p.TypeID(node.LLType()))}
}

func (p *FrameworkPolicy) ArrayGCHeaderInitData(node DefNode) []lltype.Value {
	return []lltype.Value{int64(p.TypeID(node.LLType()))}
}

func (p *FrameworkPolicy) StructSetup(node DefNode, rtti *RTTI) error {
	info := &GCInfo{TypeID: p.TypeID(node.LLType())}
	if rtti != nil && rtti.Destructor != "" {
		info.HasFinalizer = true
		info.LightFinalizer = rtti.Light
	}
	node.SetGCInfo(info)
	return nil
}

func (p *FrameworkPolicy) ArraySetup(node DefNode) error {
	node.SetGCInfo(&GCInfo{TypeID: p.TypeID(node.LLType())})
	return nil
}

func (p *FrameworkPolicy) NeedNoTypePtr() bool { return p.opts.RemoveTypePtr }

func (*FrameworkPolicy) GCStartupCode() []string {
	return []string{"pypy_framework_gc_setup();"}
}

func (*FrameworkPolicy) CompilationInfo() *rffi.ExternalCompilationInfo {
	return &rffi.ExternalCompilationInfo{
		PreIncludeBits: []string{"/* using ShadowStackFrameworkGCTransformer */", "#define MALLOC_ZERO_FILLED 1"},
	}
}

// WeakRefSetup 弱引用单元的 GC 元数据
func (p *FrameworkPolicy) WeakRefSetup(node DefNode) {
	node.SetGCInfo(&GCInfo{TypeID: p.TypeID(node.LLType()), IsWeakRef: true})
}

func structName(t lltype.ContainerType) string {
	if s, ok := t.(*lltype.Struct); ok {
		return s.Name
	}
	return t.String()
}
