// listdef.go - 列表 / 字典定义
//
// 同一个列表对象的所有别名共享一个 ListItem：元素注解和改变状态
// （mutated / resized / range_step / immutable / must_not_resize）。
// 两个列表注解合并时把两个 ListItem 合并为一个，并修补所有指向旧
// ListItem 的 ListDef。元素注解变大时，重新调度所有读取过它的位置。
package annotation

import (
	"fmt"

	set "github.com/hashicorp/go-set/v3"

	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// Reflower 能从某个位置重新调度推断（由注解器实现）
type Reflower interface {
	ReflowFromPosition(pos flowmodel.PositionKey)
}

type nopReflower struct{}

func (nopReflower) ReflowFromPosition(flowmodel.PositionKey) {}

// NopReflower 不做任何事的 Reflower
var NopReflower Reflower = nopReflower{}

// TooLateForChange 定义已冻结后又试图改变
func TooLateForChange(what string) error {
	return errs.NewAnnotatorError(errs.A0203, "too late to change %s", what)
}

// ListChangeUnallowed 不允许的列表改变
func ListChangeUnallowed(reason string) error {
	return errs.NewAnnotatorError(errs.A0204, "list change unallowed: %s", reason)
}

// RangeStepNone 没有 range 步长信息
const RangeStepNone = -1 << 62

// ListItem 共享的列表元素状态
type ListItem struct {
	Value SomeValue

	Mutated           bool
	Resized           bool
	RangeStep         int64
	DontChangeAnyMore bool
	Immutable         bool
	MustNotResize     bool

	itemOf        []itemHolder
	readLocations *set.Set[flowmodel.PositionKey]
	reflower      Reflower
}

func newListItem(reflower Reflower, s SomeValue) *ListItem {
	if reflower == nil {
		reflower = NopReflower
	}
	return &ListItem{
		Value:         s,
		RangeStep:     RangeStepNone,
		readLocations: set.New[flowmodel.PositionKey](4),
		reflower:      reflower,
	}
}

// Mutate 标记元素被改写
func (li *ListItem) Mutate() error {
	if !li.Mutated {
		if li.DontChangeAnyMore {
			return TooLateForChange("list (mutate)")
		}
		li.Immutable = false
		li.Mutated = true
	}
	return nil
}

// Resize 标记长度被改变
func (li *ListItem) Resize() error {
	if !li.Resized {
		if li.DontChangeAnyMore {
			return TooLateForChange("list (resize)")
		}
		if li.MustNotResize {
			return ListChangeUnallowed("resizing list")
		}
		li.Resized = true
	}
	return nil
}

// SetRangeStep 设置 range() 步长
func (li *ListItem) SetRangeStep(step int64) error {
	if step != li.RangeStep {
		if li.DontChangeAnyMore {
			return TooLateForChange("list (range step)")
		}
		li.RangeStep = step
	}
	return nil
}

// merge 合并另一个 ListItem
func (li *ListItem) merge(other *ListItem) error {
	if li == other {
		return nil
	}
	self := li
	if other.DontChangeAnyMore {
		if self.DontChangeAnyMore {
			return TooLateForChange("list (merge)")
		}
		// 使用 other 的列表不希望它再变，合并进 other
		self, other = other, self
	}
	self.Mutated = self.Mutated || other.Mutated
	self.Resized = self.Resized || other.Resized
	self.Immutable = self.Immutable && other.Immutable
	self.MustNotResize = self.MustNotResize || other.MustNotResize
	if self.MustNotResize && self.Resized {
		return ListChangeUnallowed("list merge with a resized list")
	}
	if other.RangeStep != self.RangeStep {
		// 不同步长一律退化为 0
		step := int64(0)
		if self.RangeStep == RangeStepNone && other.RangeStep == RangeStepNone {
			step = RangeStepNone
		}
		if err := self.SetRangeStep(step); err != nil {
			return err
		}
	}
	self.itemOf = append(self.itemOf, other.itemOf...)
	otherReads := other.readLocations.Copy()
	self.readLocations.InsertSet(other.readLocations)

	sValue, sOther := self.Value, other.Value
	sNew, err := union(sValue, sOther, true)
	if err != nil {
		return err
	}
	changed := !Equal(sNew, sValue)
	if changed && self.DontChangeAnyMore {
		return TooLateForChange("list (item)")
	}
	self.patch()
	if changed {
		self.Value = sNew
		self.notifyUpdate()
	}
	if !Equal(sNew, sOther) {
		for pos := range otherReads.Items() {
			self.reflower.ReflowFromPosition(pos)
		}
	}
	return nil
}

// itemHolder 持有 ListItem 的定义，合并后需要修补
type itemHolder interface {
	patchItem(li *ListItem)
}

func (li *ListItem) patch() {
	for _, d := range li.itemOf {
		d.patchItem(li)
	}
}

func (li *ListItem) notifyUpdate() {
	for pos := range li.readLocations.Items() {
		li.reflower.ReflowFromPosition(pos)
	}
}

// Generalize 把元素注解扩大到包含 s，返回是否变化
func (li *ListItem) Generalize(s SomeValue) (bool, error) {
	sNew, err := union(li.Value, s, true)
	if err != nil {
		return false, err
	}
	if Equal(sNew, li.Value) {
		return false, nil
	}
	if li.DontChangeAnyMore {
		return false, TooLateForChange("list (generalize)")
	}
	li.Value = sNew
	li.notifyUpdate()
	return true, nil
}

// ReadLocations 所有读取位置
func (li *ListItem) ReadLocations() []flowmodel.PositionKey {
	return li.readLocations.Slice()
}

// ListDef 列表定义
type ListDef struct {
	item *ListItem
}

// NewListDef 创建列表定义
func NewListDef(reflower Reflower, s SomeValue, mutated, resized bool) *ListDef {
	d := &ListDef{item: newListItem(reflower, s)}
	d.item.Mutated = mutated || resized
	d.item.Resized = resized
	d.item.itemOf = []itemHolder{d}
	return d
}

func (d *ListDef) patchItem(li *ListItem) { d.item = li }

// Item 当前共享元素状态
func (d *ListDef) Item() *ListItem { return d.item }

// ReadItem 在 pos 读取元素注解并登记读位置
func (d *ListDef) ReadItem(pos flowmodel.PositionKey) SomeValue {
	d.item.readLocations.Insert(pos)
	return d.item.Value
}

// SameAs 是否共享同一个 ListItem
func (d *ListDef) SameAs(o *ListDef) bool {
	return d.item == o.item
}

// Union 合并另一个列表定义
func (d *ListDef) Union(o *ListDef) error {
	return d.item.merge(o.item)
}

// Agree 让两个定义的元素注解一致而不共享（用于 list(x) 拷贝）
func (d *ListDef) Agree(o *ListDef) error {
	if _, err := d.item.Generalize(o.item.Value); err != nil {
		return err
	}
	_, err := o.item.Generalize(d.item.Value)
	return err
}

// Generalize 扩大元素注解
func (d *ListDef) Generalize(s SomeValue) error {
	_, err := d.item.Generalize(s)
	return err
}

// GeneralizeRangeStep 合并 range 步长
func (d *ListDef) GeneralizeRangeStep(step int64) error {
	li := d.item
	if li.RangeStep == RangeStepNone && !li.Mutated {
		return li.SetRangeStep(step)
	}
	if li.RangeStep != step {
		return li.SetRangeStep(0)
	}
	return nil
}

// Mutate 标记改写
func (d *ListDef) Mutate() error { return d.item.Mutate() }

// Resize 标记长度改变
func (d *ListDef) Resize() error {
	if err := d.item.Mutate(); err != nil {
		return err
	}
	return d.item.Resize()
}

// NeverResize 标记永不改变长度
func (d *ListDef) NeverResize() error {
	if d.item.Resized {
		return ListChangeUnallowed("list already resized")
	}
	d.item.MustNotResize = true
	return nil
}

// MarkAsImmutable 标记不可变
func (d *ListDef) MarkAsImmutable() error {
	if d.item.Mutated {
		return ListChangeUnallowed("list already mutated")
	}
	d.item.Immutable = true
	return nil
}

// Freeze 不允许再改变
func (d *ListDef) Freeze() { d.item.DontChangeAnyMore = true }

func (d *ListDef) String() string {
	flags := ""
	switch {
	case d.item.Immutable:
		flags = " immutable"
	case d.item.Resized:
		flags = " resized"
	case d.item.Mutated:
		flags = " mutated"
	}
	if d.item.MustNotResize {
		flags += " fixedsize"
	}
	if l, ok := d.item.Value.(*List); ok && l.Def.item == d.item {
		return "[...]" + flags
	}
	return fmt.Sprintf("[%s]%s", d.item.Value, flags)
}

// ============================================================================
// DictDef
// ============================================================================

// DictDef 字典定义：共享的键槽和值槽
type DictDef struct {
	key   *ListItem
	value *ListItem
	// CustomEqHash 键使用自定义的 eq/hash（r_dict）
	CustomEqHash bool
	// ForceNonNull 值不可能为空（用于选择表项布局）
	ForceNonNull bool
	// Simple 由 dict 字面量直接创建
	Simple bool
}

type dictSlot struct {
	def *DictDef
	key bool
}

func (s dictSlot) patchItem(li *ListItem) {
	if s.key {
		s.def.key = li
	} else {
		s.def.value = li
	}
}

// NewDictDef 创建字典定义
func NewDictDef(reflower Reflower, sKey, sValue SomeValue, forceNonNull, simple bool) *DictDef {
	d := &DictDef{
		key:          newListItem(reflower, sKey),
		value:        newListItem(reflower, sValue),
		ForceNonNull: forceNonNull,
		Simple:       simple,
	}
	d.key.itemOf = []itemHolder{dictSlot{d, true}}
	d.value.itemOf = []itemHolder{dictSlot{d, false}}
	return d
}

// Key 键槽
func (d *DictDef) Key() *ListItem { return d.key }

// Value 值槽
func (d *DictDef) Value() *ListItem { return d.value }

// ReadKey 在 pos 读取键注解
func (d *DictDef) ReadKey(pos flowmodel.PositionKey) SomeValue {
	d.key.readLocations.Insert(pos)
	return d.key.Value
}

// ReadValue 在 pos 读取值注解
func (d *DictDef) ReadValue(pos flowmodel.PositionKey) SomeValue {
	d.value.readLocations.Insert(pos)
	return d.value.Value
}

// SameAs 是否共享键槽与值槽
func (d *DictDef) SameAs(o *DictDef) bool {
	return d.key == o.key && d.value == o.value
}

// Union 合并另一个字典定义
func (d *DictDef) Union(o *DictDef) error {
	if d.SameAs(o) {
		return nil
	}
	if d.CustomEqHash != o.CustomEqHash {
		return errs.NewUnionError(d, o, "mixing custom and default eq/hash dicts")
	}
	if err := d.key.merge(o.key); err != nil {
		return err
	}
	return d.value.merge(o.value)
}

// GeneralizeKey 扩大键注解
func (d *DictDef) GeneralizeKey(s SomeValue) error {
	_, err := d.key.Generalize(s)
	return err
}

// GeneralizeValue 扩大值注解
func (d *DictDef) GeneralizeValue(s SomeValue) error {
	_, err := d.value.Generalize(s)
	return err
}

// Freeze 不允许再改变
func (d *DictDef) Freeze() {
	d.key.DontChangeAnyMore = true
	d.value.DontChangeAnyMore = true
}

func (d *DictDef) String() string {
	return fmt.Sprintf("{%s: %s}", d.key.Value, d.value.Value)
}
