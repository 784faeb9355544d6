// descr.go - 描述符
//
// 描述符是后端对操作目标的静态描述：结构体大小、字段偏移、数组元素类型、
// 调用签名。优化器把字段描述符与数组描述符用作缓存的键。
package history

import (
	"cmp"
	"fmt"

	"go.uber.org/atomic"
)

// Descr 所有描述符
type Descr interface {
	DescrString() string
}

// DescrID 描述符的创建序号；集合按它排序以保证遍历顺序稳定
type DescrID uint64

var descrCounter atomic.Uint64

func nextDescrID() DescrID { return DescrID(descrCounter.Inc()) }

// ============================================================================
// 内存布局描述符
// ============================================================================

// SizeDescr 结构体大小；带 vtable 的结构体记录它的类
type SizeDescr struct {
	id     DescrID
	Name   string
	Class  *ClassObj
	Fields []*FieldDescr
}

// NewSizeDescr 创建结构体描述符
func NewSizeDescr(name string, class *ClassObj) *SizeDescr {
	return &SizeDescr{id: nextDescrID(), Name: name, Class: class}
}

func (d *SizeDescr) DescrString() string { return "<SizeDescr " + d.Name + ">" }

// FieldDescr 字段
type FieldDescr struct {
	id     DescrID
	Name   string
	Parent *SizeDescr
	Typ    Type
	Index  int

	// Immutable 字段只在构造时写入，读取可以当作纯操作
	Immutable bool
	// QuasiImmutable 字段很少改变，改变时使依赖它的代码失效
	QuasiImmutable bool
}

// AddField 给结构体添加字段
func (d *SizeDescr) AddField(name string, typ Type) *FieldDescr {
	f := &FieldDescr{id: nextDescrID(), Name: name, Parent: d, Typ: typ, Index: len(d.Fields)}
	d.Fields = append(d.Fields, f)
	return f
}

func (d *FieldDescr) ID() DescrID { return d.id }

func (d *FieldDescr) DescrString() string {
	if d.Parent != nil {
		return "<FieldDescr " + d.Parent.Name + "." + d.Name + ">"
	}
	return "<FieldDescr " + d.Name + ">"
}

// IsPointer 字段是否为 GC 引用
func (d *FieldDescr) IsPointer() bool { return d.Typ == REF }

// ArrayDescr 数组
type ArrayDescr struct {
	id        DescrID
	Name      string
	Item      Type
	Immutable bool
}

// NewArrayDescr 创建数组描述符
func NewArrayDescr(name string, item Type) *ArrayDescr {
	return &ArrayDescr{id: nextDescrID(), Name: name, Item: item}
}

func (d *ArrayDescr) ID() DescrID         { return d.id }
func (d *ArrayDescr) DescrString() string { return "<ArrayDescr " + d.Name + ">" }

// CompareFields 按创建序号比较
func CompareFields(a, b *FieldDescr) int { return cmp.Compare(a.id, b.id) }

// CompareArrays 按创建序号比较
func CompareArrays(a, b *ArrayDescr) int { return cmp.Compare(a.id, b.id) }

// ============================================================================
// 调用描述符
// ============================================================================

// CallDescr 调用签名与副作用信息
type CallDescr struct {
	Name   string
	Args   []Type
	Result Type
	Effect *EffectInfo
}

// NewCallDescr 创建调用描述符；effect 为 nil 时视为任意副作用
func NewCallDescr(name string, args []Type, result Type, effect *EffectInfo) *CallDescr {
	if effect == nil {
		effect = RandomEffects()
	}
	return &CallDescr{Name: name, Args: args, Result: result, Effect: effect}
}

func (d *CallDescr) DescrString() string { return "<CallDescr " + d.Name + ">" }

// ============================================================================
// 失败与终止描述符
// ============================================================================

// FailDescr 守卫或 FINISH 的描述符
type FailDescr interface {
	Descr
	IsFinal() bool
}

// BasicFailDescr 测试与简单场景使用的守卫描述符
type BasicFailDescr struct{ Identifier int }

func (d *BasicFailDescr) DescrString() string { return fmt.Sprintf("<Guard%d>", d.Identifier) }
func (d *BasicFailDescr) IsFinal() bool       { return false }

// BasicFinalDescr FINISH 的描述符
type BasicFinalDescr struct{ Identifier int }

func (d *BasicFinalDescr) DescrString() string { return fmt.Sprintf("<Final%d>", d.Identifier) }
func (d *BasicFinalDescr) IsFinal() bool       { return true }

// ============================================================================
// 循环令牌
// ============================================================================

// JitCellToken 一个编译单元（循环或入口桥）
type JitCellToken struct {
	Number       int64
	TargetTokens []*TargetToken
	// Compiled 后端返回的编译结果
	Compiled any
	// Invalidated 依赖的准不可变字段已改变
	Invalidated bool
	// RetraceCount 已重新追踪的次数
	RetraceCount int
}

func (t *JitCellToken) DescrString() string { return fmt.Sprintf("<Loop%d>", t.Number) }

// TargetToken LABEL 或 JUMP 的目标
type TargetToken struct {
	Cell  *JitCellToken
	Label *ResOp
	// VirtualState 进入该标签时的虚拟对象形状，由优化器导出
	VirtualState any
}

// NewTargetToken 创建属于 cell 的目标
func NewTargetToken(cell *JitCellToken) *TargetToken {
	t := &TargetToken{Cell: cell}
	if cell != nil {
		cell.TargetTokens = append(cell.TargetTokens, t)
	}
	return t
}

func (t *TargetToken) DescrString() string {
	if t.Cell == nil {
		return "<Target>"
	}
	return fmt.Sprintf("<Target of Loop%d>", t.Cell.Number)
}

// ============================================================================
// 准不可变字段
// ============================================================================

// QuasiImmut 一个准不可变字段的失效记录
type QuasiImmut struct {
	dependents []*JitCellToken
}

// Register 记录依赖该字段的编译单元
func (q *QuasiImmut) Register(t *JitCellToken) { q.dependents = append(q.dependents, t) }

// Invalidate 字段被改写：所有依赖者失效
func (q *QuasiImmut) Invalidate() {
	for _, t := range q.dependents {
		t.Invalidated = true
	}
	q.dependents = nil
}

// QuasiImmutDescr QUASIIMMUT_FIELD 的描述符
type QuasiImmutDescr struct {
	Struct     *StructObj
	Field      *FieldDescr
	Mutate     *QuasiImmut
	ConstValue Value
}

// NewQuasiImmutDescr 记录追踪时看到的字段值
func NewQuasiImmutDescr(s *StructObj, field *FieldDescr, mutate *QuasiImmut) *QuasiImmutDescr {
	return &QuasiImmutDescr{Struct: s, Field: field, Mutate: mutate, ConstValue: s.Get(field)}
}

func (d *QuasiImmutDescr) DescrString() string {
	return "<QuasiImmutDescr " + d.Field.Name + ">"
}

// IsStillValidFor 字段当前值是否仍等于追踪时的值
func (d *QuasiImmutDescr) IsStillValidFor(s *StructObj) bool {
	return Same(s.Get(d.Field), d.ConstValue)
}
