// classdef.go - 类定义与属性
//
// 每个 ClassDesc 的每个特化键对应一个 ClassDef。属性 (Attribute) 放在
// 读写它的最一般的类定义上：同名属性在 MRO 上只出现一次，子类里出现的
// 同名属性在父类泛化时被上移并合并。类字典和可变的预构建实例是属性的
// 常量来源 (AttrSource)。
package description

import (
	"sort"

	set "github.com/hashicorp/go-set/v3"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// AttrSource 属性的常量来源
type AttrSource interface {
	SGetValue(classdef *ClassDef, name string) (annotation.SomeValue, error)
	InstanceLevel() bool
}

// InstanceSource 可变预构建实例作为属性来源
type InstanceSource struct {
	bk  *Bookkeeper
	Obj *program.Instance
}

// SGetValue 实例属性值的注解
func (s *InstanceSource) SGetValue(_ *ClassDef, name string) (annotation.SomeValue, error) {
	v, ok := s.Obj.Attrs[name]
	if !ok {
		return annotation.SImpossible, nil
	}
	return s.bk.ImmutableValue(v)
}

// InstanceLevel 实例级来源
func (s *InstanceSource) InstanceLevel() bool { return true }

// AttrNames 实例的所有属性名（排序）
func (s *InstanceSource) AttrNames() []string {
	out := make([]string, 0, len(s.Obj.Attrs))
	for k := range s.Obj.Attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// Attribute
// ============================================================================

// Attribute 类定义上的一个属性
type Attribute struct {
	Name          string
	Value         annotation.SomeValue
	ReadLocations *set.Set[flowmodel.PositionKey]
	// Readonly 只从常量来源得到值，从未被写过
	Readonly bool
	// Allowed 未被 _attrs_ 禁止
	Allowed bool
	bk      *Bookkeeper
}

func newAttribute(bk *Bookkeeper, name string) *Attribute {
	return &Attribute{
		Name:          name,
		Value:         annotation.SImpossible,
		ReadLocations: set.New[flowmodel.PositionKey](2),
		Readonly:      true,
		Allowed:       true,
		bk:            bk,
	}
}

func (a *Attribute) addConstantSource(classdef *ClassDef, source AttrSource) error {
	s, err := source.SGetValue(classdef, a.Name)
	if err != nil {
		return err
	}
	if source.InstanceLevel() {
		if err := a.Modified(classdef); err != nil {
			return err
		}
	}
	u, err := annotation.Union(a.Value, s)
	if err != nil {
		return err
	}
	a.Value = u
	return nil
}

func (a *Attribute) merge(other *Attribute, classdef *ClassDef) error {
	u, err := annotation.Union(a.Value, other.Value)
	if err != nil {
		return err
	}
	a.Value = u
	if !other.Readonly {
		if err := a.Modified(classdef); err != nil {
			return err
		}
	}
	a.ReadLocations.InsertSet(other.ReadLocations)
	a.Allowed = a.Allowed && other.Allowed
	return nil
}

// Mutated 值变大后重新调度所有读取位置并检查白名单
func (a *Attribute) Mutated(home *ClassDef) error {
	for pos := range a.ReadLocations.Items() {
		a.bk.ReflowFromPosition(pos)
	}
	if pbc, ok := a.Value.(*annotation.PBC); ok && pbc.DescKind() == annotation.DescMethod {
		if home.Desc.Lookup(a.Name) == nil && !home.checkMissingAttributeUpdate(a.Name) {
			for _, d := range pbc.Descs {
				if d.(*MethodDesc).SelfClassDef == nil {
					if home.Desc.Settled {
						return errs.NewAnnotatorError(errs.A0007, "demoting method %s to settled class %s not allowed", a.Name, home.Name())
					}
					break
				}
			}
		}
	}
	if home.Desc.EnforcedAttrs != nil && !home.Desc.EnforcedAttrs[a.Name] {
		a.Allowed = false
		if !a.Readonly {
			return errs.NewAnnotatorError(errs.A0007, "the attribute %q goes here to %s, but it is forbidden here", a.Name, home.Name())
		}
	}
	return nil
}

// Modified 属性被写
func (a *Attribute) Modified(classdef *ClassDef) error {
	a.Readonly = false
	if !a.Allowed {
		return errs.NewAnnotatorError(errs.A0007, "setting forbidden attribute %q on %s", a.Name, classdef.Name())
	}
	return nil
}

// ============================================================================
// ClassDef
// ============================================================================

// ClassDef 类定义
type ClassDef struct {
	id   int
	bk   *Bookkeeper
	name string
	Key  string

	Desc    *ClassDesc
	Base    *ClassDef
	SubDefs []*ClassDef

	Attrs       map[string]*Attribute
	attrSources map[string][]AttrSource
	classReads  *set.Set[flowmodel.PositionKey]

	// MinID/MaxID 先序编号区间，类型化器用来做 isinstance 区间检查
	MinID, MaxID int
}

func newClassDef(bk *Bookkeeper, desc *ClassDesc, base *ClassDef, key string) *ClassDef {
	name := desc.Name
	if key != "" {
		name += "<" + key + ">"
	}
	cd := &ClassDef{
		id:          bk.nextClassDefID(),
		bk:          bk,
		name:        name,
		Key:         key,
		Desc:        desc,
		Base:        base,
		Attrs:       make(map[string]*Attribute),
		attrSources: make(map[string][]AttrSource),
		classReads:  set.New[flowmodel.PositionKey](2),
	}
	if base != nil {
		base.SubDefs = append(base.SubDefs, cd)
	}
	return cd
}

func (c *ClassDef) ID() int        { return c.id }
func (c *ClassDef) Name() string   { return c.name }
func (c *ClassDef) String() string { return "ClassDef(" + c.name + ")" }

// BaseDef 父类定义
func (c *ClassDef) BaseDef() annotation.ClassDefRef {
	if c.Base == nil {
		return nil
	}
	return c.Base
}

// IsSubclassOf 实现 annotation.ClassDefRef
func (c *ClassDef) IsSubclassOf(other annotation.ClassDefRef) bool {
	o, ok := other.(*ClassDef)
	return ok && c.IsSubclass(o)
}

// IsSubclass c 是否为 other 的子类（含自身）
func (c *ClassDef) IsSubclass(other *ClassDef) bool {
	for cur := c; cur != nil; cur = cur.Base {
		if cur == other {
			return true
		}
	}
	return false
}

// CommonBase 最近公共祖先
func (c *ClassDef) CommonBase(other *ClassDef) *ClassDef {
	for cur := c; cur != nil; cur = cur.Base {
		if other.IsSubclass(cur) {
			return cur
		}
	}
	return nil
}

// MRO 自身及所有祖先
func (c *ClassDef) MRO() []*ClassDef {
	var out []*ClassDef
	for cur := c; cur != nil; cur = cur.Base {
		out = append(out, cur)
	}
	return out
}

// AllSubDefs 先序遍历的自身及所有子类
func (c *ClassDef) AllSubDefs() []*ClassDef {
	out := []*ClassDef{c}
	for i := 0; i < len(out); i++ {
		out = append(out, out[i].SubDefs...)
	}
	return out
}

// AttrNames 本类定义上的属性名（排序）
func (c *ClassDef) AttrNames() []string {
	out := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *ClassDef) seeNewSubclass(sub *ClassDef) {
	for cur := c; cur != nil; cur = cur.Base {
		for pos := range cur.classReads.Items() {
			c.bk.ReflowFromPosition(pos)
		}
	}
}

// AddSourceForAttribute 登记属性的常量来源
func (c *ClassDef) AddSourceForAttribute(attr string, source AttrSource) error {
	for _, cdef := range c.MRO() {
		if a, ok := cdef.Attrs[attr]; ok {
			prev := a.Value
			if err := a.addConstantSource(c, source); err != nil {
				return err
			}
			if !annotation.Equal(a.Value, prev) {
				return a.Mutated(cdef)
			}
			return nil
		}
	}
	c.attrSources[attr] = append(c.attrSources[attr], source)
	if !source.InstanceLevel() {
		for _, sub := range c.AllSubDefs() {
			a, ok := sub.Attrs[attr]
			if !ok {
				continue
			}
			prev := a.Value
			if err := a.addConstantSource(c, source); err != nil {
				return err
			}
			if !annotation.Equal(a.Value, prev) {
				if err := a.Mutated(sub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// LocateAttribute 找到持有属性的类定义，必要时创建
func (c *ClassDef) LocateAttribute(attr string) (*ClassDef, error) {
	for {
		for _, cdef := range c.MRO() {
			if _, ok := cdef.Attrs[attr]; ok {
				return cdef, nil
			}
		}
		if err := c.GeneralizeAttr(attr, nil); err != nil {
			return nil, err
		}
	}
}

// FindAttribute 属性对象
func (c *ClassDef) FindAttribute(attr string) (*Attribute, error) {
	cdef, err := c.LocateAttribute(attr)
	if err != nil {
		return nil, err
	}
	return cdef.Attrs[attr], nil
}

// GeneralizeAttr 在已有属性的最一般类上（或自身）泛化属性
func (c *ClassDef) GeneralizeAttr(attr string, s annotation.SomeValue) error {
	for _, cdef := range c.MRO() {
		if _, ok := cdef.Attrs[attr]; ok {
			return cdef.generalizeAttrHere(attr, s)
		}
	}
	return c.generalizeAttrHere(attr, s)
}

func (c *ClassDef) generalizeAttrHere(attr string, s annotation.SomeValue) error {
	type origin struct {
		cdef   *ClassDef
		source AttrSource
	}
	var subAttrs []*Attribute
	var constSources []origin
	for _, sub := range c.AllSubDefs() {
		if a, ok := sub.Attrs[attr]; ok {
			subAttrs = append(subAttrs, a)
			delete(sub.Attrs, attr)
		}
		if srcs, ok := sub.attrSources[attr]; ok {
			for _, src := range srcs {
				constSources = append(constSources, origin{sub, src})
			}
			delete(sub.attrSources, attr)
		}
	}
	na := newAttribute(c.bk, attr)
	if s != nil {
		na.Value = s
	}
	for _, sa := range subAttrs {
		if err := na.merge(sa, c); err != nil {
			return err
		}
	}
	c.Attrs[attr] = na
	for _, o := range constSources {
		if err := na.addConstantSource(o.cdef, o.source); err != nil {
			return err
		}
	}
	return na.Mutated(c)
}

func (c *ClassDef) checkMissingAttributeUpdate(name string) bool {
	found := false
	mro := c.MRO()
	for i := len(mro) - 1; i >= 0; i-- {
		if mro[i].checkAttrHere(name) {
			found = true
		}
	}
	return found
}

func (c *ClassDef) checkAttrHere(name string) bool {
	if _, ok := c.Desc.classDict[name]; ok {
		return false
	}
	source := c.Desc.FindSourceFor(name)
	if source == nil {
		return false
	}
	_ = c.AddSourceForAttribute(name, source)
	for _, sub := range c.AllSubDefs()[1:] {
		sub.checkAttrHere(name)
	}
	return true
}

// ReadAttrClass 读取 __class__：所有子类的类描述符
func (c *ClassDef) ReadAttrClass(pos flowmodel.PositionKey) annotation.SomeValue {
	c.classReads.Insert(pos)
	var descs []annotation.Desc
	for _, sub := range c.AllSubDefs() {
		descs = append(descs, sub.Desc)
	}
	return annotation.NewPBC(descs, false)
}

// LookupFilter 从方法集合中选出可能作用于此类实例的方法并绑定 self
func (c *ClassDef) LookupFilter(pbc *annotation.PBC, flags map[string]bool) annotation.SomeValue {
	var out []annotation.Desc
	var upLookup *ClassDef
	var upDesc *MethodDesc
	for _, d := range pbc.Descs {
		m, ok := d.(*MethodDesc)
		if ok && m.SelfClassDef == nil {
			methCls := m.OriginClassDef
			switch {
			case methCls != c && methCls.IsSubclass(c):
				// 子类的方法总是候选
			case c.IsSubclass(methCls):
				// 向上只取最近的匹配
				if upLookup == nil || methCls.IsSubclass(upLookup) {
					upLookup, upDesc = methCls, m
				}
				continue
			default:
				continue
			}
			d = m.BindSelf(methCls, flags)
		}
		out = append(out, d)
	}
	if upDesc != nil {
		out = append(out, upDesc.BindSelf(c, flags))
	}
	if len(out) > 0 {
		return annotation.NewPBC(out, pbc.Nullable)
	}
	if pbc.Nullable {
		return annotation.SNone
	}
	return annotation.SImpossible
}

// GetAttr 读取实例属性 attr 的注解
func (c *ClassDef) GetAttr(attr string, flags map[string]bool, pos flowmodel.PositionKey) (annotation.SomeValue, error) {
	if attr == "__class__" {
		return c.ReadAttrClass(pos), nil
	}
	a, err := c.FindAttribute(attr)
	if err != nil {
		return nil, err
	}
	a.ReadLocations.Insert(pos)
	s := a.Value
	switch v := s.(type) {
	case *annotation.PBC:
		return c.LookupFilter(v, flags), nil
	case *annotation.Impossible:
		c.checkMissingAttributeUpdate(attr)
		for _, base := range c.MRO() {
			if base.Desc.EnforcedAttrs != nil && base.Desc.EnforcedAttrs[attr] {
				return nil, &errs.HarmlesslyBlocked{Reason: "get enforced attr " + attr}
			}
		}
	case *annotation.List:
		return c.Desc.MaybeReturnImmutableList(attr, v)
	}
	return s, nil
}

// SetAttr 写实例属性
func (c *ClassDef) SetAttr(attr string, s annotation.SomeValue) error {
	cdef, err := c.LocateAttribute(attr)
	if err != nil {
		return err
	}
	a := cdef.Attrs[attr]
	if err := a.Modified(cdef); err != nil {
		return err
	}
	if annotation.Contains(a.Value, s) {
		return nil
	}
	if err := cdef.GeneralizeAttr(attr, s); err != nil {
		return err
	}
	if l, ok := s.(*annotation.List); ok {
		_, err := cdef.Desc.MaybeReturnImmutableList(attr, l)
		return err
	}
	return nil
}

// InstanceFields 本类定义上被写过的实例字段，按名字排序
func (c *ClassDef) InstanceFields() []*Attribute {
	var out []*Attribute
	for _, name := range c.AttrNames() {
		a := c.Attrs[name]
		if a.Readonly {
			// 只读属性存放在虚表中
			continue
		}
		out = append(out, a)
	}
	return out
}

// ClassAttributes 只读属性（存放在虚表中）
func (c *ClassDef) ClassAttributes() []*Attribute {
	var out []*Attribute
	for _, name := range c.AttrNames() {
		if a := c.Attrs[name]; a.Readonly {
			out = append(out, a)
		}
	}
	return out
}
