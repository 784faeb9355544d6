// Package resume 守卫失败时重建解释器状态所需的数据
//
// 优化器在每个守卫处调用 Build：失败参数被编号为常量、活跃 box 或虚拟对象，
// 虚拟对象只记录形状与字段编号，直到守卫真正失败时才由 Reader 分配。
// 延迟到守卫之后的 setfield（其值是虚拟对象）作为 pending field 一起保存。
package resume

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// ============================================================================
// 编号
// ============================================================================

// Tag 编号的种类
type Tag uint8

const (
	TAGCONST Tag = iota
	TAGINT
	TAGBOX
	TAGVIRTUAL
)

// Tagged 低两位是种类，其余是索引或小整数
type Tagged int32

const (
	tagBits   = 2
	smallMin  = -(1 << 28)
	smallMax  = 1<<28 - 1
	tagMask   = 1<<tagBits - 1
	noneIndex = -1
)

// UNASSIGNED 空洞，对应失败参数里的 nil
var UNASSIGNED = tag(noneIndex, TAGBOX)

func tag(value int, t Tag) Tagged { return Tagged(int32(value)<<tagBits | int32(t)) }

// Untag 拆出索引与种类
func (x Tagged) Untag() (int, Tag) { return int(int32(x) >> tagBits), Tag(int32(x) & tagMask) }

func (x Tagged) String() string {
	v, t := x.Untag()
	if x == UNASSIGNED {
		return "UNASSIGNED"
	}
	return fmt.Sprintf("%s(%d)", [...]string{"CONST", "INT", "BOX", "VIRTUAL"}[t], v)
}

// ============================================================================
// 虚拟对象形状
// ============================================================================

// ShapeKind 虚拟对象的种类
type ShapeKind uint8

const (
	VStruct ShapeKind = iota
	VArray
	VStrPlain
	VStrConcat
	VStrSlice
)

// Shape 优化器给出的虚拟对象描述
//
// Items 依次为：结构体字段值、数组元素、plain 字符串的字符（nil 表示未初始化）、
// concat 的左右两部分、slice 的 (源串, 起点, 长度)。
type Shape struct {
	Kind    ShapeKind
	Size    *history.SizeDescr
	Class   *history.ClassObj
	Fields  []*history.FieldDescr
	Array   *history.ArrayDescr
	Unicode bool
	Items   []history.Value
}

// Resolver 把失败参数解析为当前的表示；虚拟对象同时返回形状
type Resolver interface {
	Resolve(v history.Value) (history.Value, *Shape)
}

// VirtualInfo 保存在守卫里的虚拟对象
type VirtualInfo struct {
	Kind    ShapeKind
	Size    *history.SizeDescr
	Class   *history.ClassObj
	Fields  []*history.FieldDescr
	Array   *history.ArrayDescr
	Unicode bool
	Nums    []Tagged
}

// PendingField 优化器推迟到守卫之后的 setfield / setarrayitem
type PendingField struct {
	Descr     history.Descr
	Struct    history.Value
	Value     history.Value
	ItemIndex int // -1 表示结构体字段
}

// PendingFieldInfo 编号后的 pending field
type PendingFieldInfo struct {
	Descr     history.Descr
	Struct    Tagged
	Value     Tagged
	ItemIndex int
}

// Data 一个守卫的恢复数据
type Data struct {
	Numbering []Tagged
	Consts    []history.Value
	Virtuals  []*VirtualInfo
	Pending   []PendingFieldInfo
	// LiveBoxes 后端在守卫处需要保存的 box，顺序即 TAGBOX 的索引
	LiveBoxes []*history.Box
}

// NumVirtuals 虚拟对象个数
func (d *Data) NumVirtuals() int { return len(d.Virtuals) }

// ============================================================================
// 构造
// ============================================================================

type builder struct {
	r        Resolver
	data     *Data
	boxes    map[*history.Box]int
	virtuals map[history.Value]int
}

// Build 为失败参数与 pending field 生成恢复数据
func Build(failargs []history.Value, pending []PendingField, r Resolver) (*Data, error) {
	b := &builder{
		r:        r,
		data:     &Data{},
		boxes:    make(map[*history.Box]int),
		virtuals: make(map[history.Value]int),
	}
	b.data.Numbering = make([]Tagged, len(failargs))
	for i, v := range failargs {
		n, err := b.number(v)
		if err != nil {
			return nil, err
		}
		b.data.Numbering[i] = n
	}
	for _, p := range pending {
		st, err := b.number(p.Struct)
		if err != nil {
			return nil, err
		}
		if _, t := st.Untag(); t == TAGVIRTUAL {
			return nil, fmt.Errorf("pending field %s stores into a virtual", p.Descr.DescrString())
		}
		val, err := b.number(p.Value)
		if err != nil {
			return nil, err
		}
		b.data.Pending = append(b.data.Pending, PendingFieldInfo{
			Descr: p.Descr, Struct: st, Value: val, ItemIndex: p.ItemIndex,
		})
	}
	return b.data, nil
}

func (b *builder) number(v history.Value) (Tagged, error) {
	if v == nil {
		return UNASSIGNED, nil
	}
	resolved, shape := b.r.Resolve(v)
	if shape != nil {
		return b.numberVirtual(v, shape)
	}
	switch c := resolved.(type) {
	case history.ConstInt:
		if c.Value >= smallMin && c.Value <= smallMax {
			return tag(int(c.Value), TAGINT), nil
		}
		return b.constant(c), nil
	case *history.Box:
		if i, ok := b.boxes[c]; ok {
			return tag(i, TAGBOX), nil
		}
		i := len(b.data.LiveBoxes)
		b.boxes[c] = i
		b.data.LiveBoxes = append(b.data.LiveBoxes, c)
		return tag(i, TAGBOX), nil
	case nil:
		return UNASSIGNED, nil
	}
	return b.constant(resolved), nil
}

func (b *builder) constant(c history.Value) Tagged {
	for i, old := range b.data.Consts {
		if history.Same(old, c) {
			return tag(i, TAGCONST)
		}
	}
	b.data.Consts = append(b.data.Consts, c)
	return tag(len(b.data.Consts)-1, TAGCONST)
}

func (b *builder) numberVirtual(key history.Value, shape *Shape) (Tagged, error) {
	if i, ok := b.virtuals[key]; ok {
		return tag(i, TAGVIRTUAL), nil
	}
	i := len(b.data.Virtuals)
	info := &VirtualInfo{
		Kind: shape.Kind, Size: shape.Size, Class: shape.Class, Fields: shape.Fields,
		Array: shape.Array, Unicode: shape.Unicode,
	}
	// 先登记，字段里的环回引用可以找到自己
	b.virtuals[key] = i
	b.data.Virtuals = append(b.data.Virtuals, info)
	info.Nums = make([]Tagged, len(shape.Items))
	for j, item := range shape.Items {
		n, err := b.number(item)
		if err != nil {
			return 0, err
		}
		info.Nums[j] = n
	}
	return tag(i, TAGVIRTUAL), nil
}
