// family.go - 调用族与属性族
//
// 调用族：能从同一个调用点到达的描述符属于同一族；每种调用形状有一张
// 调用表，每行把描述符映射到该行应调用的流图。
// 属性族：冻结实例按共同的 getattr 分组（记录所有属性），
// 类按属性名分组（每族只记录一个注解）。
package description

import (
	"sort"

	set "github.com/hashicorp/go-set/v3"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// Row 调用表的一行：描述符 -> 流图
type Row map[annotation.Desc]*flowmodel.FunctionGraph

func (r Row) equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for d, g := range r {
		if h, ok := o[d]; !ok || h != g {
			return false
		}
	}
	return true
}

// ============================================================================
// 调用族
// ============================================================================

// CallFamily 调用族
type CallFamily struct {
	Descs      *set.Set[annotation.Desc]
	CallTables map[CallShape][]Row
	// Modified 调用表在上次规范化之后被修改过
	Modified bool
	// Normalized 已由类型化器规范化
	Normalized bool
	// TotalCallSites 统计的调用点数
	TotalCallSites int
}

// NewCallFamily 创建只含一个描述符的调用族
func NewCallFamily(desc annotation.Desc) *CallFamily {
	f := &CallFamily{
		Descs:      set.New[annotation.Desc](2),
		CallTables: make(map[CallShape][]Row),
	}
	f.Descs.Insert(desc)
	return f
}

// LookupRow 在形状 shape 的表中找到相同的行
func (f *CallFamily) LookupRow(shape CallShape, row Row) (int, bool) {
	for i, existing := range f.CallTables[shape] {
		if existing.equal(row) {
			return i, true
		}
	}
	return -1, false
}

// AddRow 加入一行，已存在时不重复
func (f *CallFamily) AddRow(shape CallShape, row Row) {
	if _, ok := f.LookupRow(shape, row); ok {
		return
	}
	f.Modified = true
	f.CallTables[shape] = append(f.CallTables[shape], row)
}

// Absorb 合并另一个调用族
func (f *CallFamily) Absorb(other *CallFamily) error {
	f.Modified = true
	f.Normalized = f.Normalized || other.Normalized
	f.TotalCallSites += other.TotalCallSites
	f.Descs.InsertSet(other.Descs)
	for shape, table := range other.CallTables {
		for _, row := range table {
			f.AddRow(shape, row)
		}
	}
	return nil
}

// SortedDescs 按 ID 排序的描述符
func (f *CallFamily) SortedDescs() []annotation.Desc {
	return sortDescs(f.Descs.Slice())
}

// Shapes 所有调用形状（确定顺序）
func (f *CallFamily) Shapes() []CallShape {
	out := make([]CallShape, 0, len(f.CallTables))
	for s := range f.CallTables {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count < b.Count
		}
		if a.Keywords != b.Keywords {
			return a.Keywords < b.Keywords
		}
		return !a.Star && b.Star
	})
	return out
}

func sortDescs(descs []annotation.Desc) []annotation.Desc {
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID() < descs[j].ID() })
	return descs
}

// ============================================================================
// 冻结实例属性族
// ============================================================================

// FrozenAttrFamily 冻结实例的属性族
type FrozenAttrFamily struct {
	Descs         *set.Set[annotation.Desc]
	ReadLocations *set.Set[flowmodel.PositionKey]
	Attrs         map[string]annotation.SomeValue
}

// NewFrozenAttrFamily 创建属性族
func NewFrozenAttrFamily(desc annotation.Desc) *FrozenAttrFamily {
	f := &FrozenAttrFamily{
		Descs:         set.New[annotation.Desc](2),
		ReadLocations: set.New[flowmodel.PositionKey](2),
		Attrs:         make(map[string]annotation.SomeValue),
	}
	f.Descs.Insert(desc)
	return f
}

// Absorb 合并另一个属性族
func (f *FrozenAttrFamily) Absorb(other *FrozenAttrFamily) error {
	f.Descs.InsertSet(other.Descs)
	f.ReadLocations.InsertSet(other.ReadLocations)
	for name, s := range other.Attrs {
		if err := f.SetValue(name, s); err != nil {
			return err
		}
	}
	return nil
}

// GetValue 属性的当前注解
func (f *FrozenAttrFamily) GetValue(name string) annotation.SomeValue {
	if s, ok := f.Attrs[name]; ok {
		return s
	}
	return annotation.SImpossible
}

// SetValue 把属性注解扩大到包含 s
func (f *FrozenAttrFamily) SetValue(name string, s annotation.SomeValue) error {
	u, err := annotation.Union(f.GetValue(name), s)
	if err != nil {
		return err
	}
	f.Attrs[name] = u
	return nil
}

// AttrNames 排序后的属性名
func (f *FrozenAttrFamily) AttrNames() []string {
	out := make([]string, 0, len(f.Attrs))
	for k := range f.Attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// 类属性族
// ============================================================================

// ClassAttrFamily 按属性名分组的类属性族
type ClassAttrFamily struct {
	Name          string
	Descs         *set.Set[annotation.Desc]
	ReadLocations *set.Set[flowmodel.PositionKey]
	Value         annotation.SomeValue
}

// NewClassAttrFamily 创建类属性族
func NewClassAttrFamily(name string, desc annotation.Desc) *ClassAttrFamily {
	f := &ClassAttrFamily{
		Name:          name,
		Descs:         set.New[annotation.Desc](2),
		ReadLocations: set.New[flowmodel.PositionKey](2),
		Value:         annotation.SImpossible,
	}
	f.Descs.Insert(desc)
	return f
}

// Absorb 合并另一个类属性族
func (f *ClassAttrFamily) Absorb(other *ClassAttrFamily) error {
	f.Descs.InsertSet(other.Descs)
	f.ReadLocations.InsertSet(other.ReadLocations)
	u, err := annotation.Union(f.Value, other.Value)
	if err != nil {
		return err
	}
	f.Value = u
	return nil
}
