// classdesc.go - 类描述符
//
// ClassDesc 持有宿主类的扁平化类字典（mixin 已展开）、_attrs_ 白名单
// 与 _immutable_fields_ 声明，并为每个特化键创建一个 ClassDef。
package description

import (
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ImmutableRank 不可变字段的等级
type ImmutableRank int

const (
	RankMutable ImmutableRank = iota
	RankImmutable
	RankQuasiImmutable
	RankImmutableArray
	RankQuasiImmutableArray
)

func (r ImmutableRank) String() string {
	switch r {
	case RankImmutable:
		return "immutable"
	case RankQuasiImmutable:
		return "quasiimmutable"
	case RankImmutableArray:
		return "immutable_array"
	case RankQuasiImmutableArray:
		return "quasiimmutable_array"
	}
	return "mutable"
}

// ParseImmutableField 解析 _immutable_fields_ 的一项：f、f?、f[*]、f?[*]
func ParseImmutableField(decl string) (string, ImmutableRank) {
	switch {
	case strings.HasSuffix(decl, "?[*]"):
		return strings.TrimSuffix(decl, "?[*]"), RankQuasiImmutableArray
	case strings.HasSuffix(decl, "[*]"):
		return strings.TrimSuffix(decl, "[*]"), RankImmutableArray
	case strings.HasSuffix(decl, "?"):
		return strings.TrimSuffix(decl, "?"), RankQuasiImmutable
	}
	return decl, RankImmutable
}

// classEntry 类字典项：常量或（mixin 拷贝的）函数描述符
type classEntry struct {
	value interface{}
	desc  *FunctionDesc
}

// ClassDesc 类描述符
type ClassDesc struct {
	baseDesc
	Class    *program.Class
	Name     string
	BaseDesc *ClassDesc

	classDict map[string]classEntry
	dictOrder []string

	Settled     bool
	SpecialCase string
	// EnforcedAttrs _attrs_ 白名单（含基类），nil 表示不限制
	EnforcedAttrs map[string]bool
	// ImmutableFields 本类声明的不可变字段
	ImmutableFields map[string]ImmutableRank
	Immutable       bool

	classdefs    map[string]*ClassDef
	invalidAttrs map[string]bool
}

func newClassDesc(bk *Bookkeeper, cls *program.Class) (*ClassDesc, error) {
	d := &ClassDesc{
		baseDesc:    baseDesc{bk: bk, id: bk.nextDescID()},
		Class:       cls,
		Name:        cls.Name,
		classDict:   make(map[string]classEntry),
		Settled:     cls.Settled,
		SpecialCase: cls.SpecialCase,
		Immutable:   cls.Immutable,
		classdefs:   make(map[string]*ClassDef),
	}
	// 注册前先登记，基类查找可能递归到自身
	bk.descs[cls] = d

	var base *program.Class
	var before, after []*program.Class
	for _, b := range cls.Bases {
		if b.Mixin {
			if base == nil {
				before = append(before, b)
			} else {
				after = append(after, b)
			}
			continue
		}
		if base != nil {
			return nil, errs.NewAnnotatorError(errs.A0001, "multiple inheritance only supported with mixins: %s", cls.Name)
		}
		base = b
	}
	if len(before) > 0 && len(after) > 0 {
		return nil, errs.NewAnnotatorError(errs.A0001, "class %s has mixin bases both before and after the regular base", cls.Name)
	}
	d.addMixins(after, base)
	d.addMixins(before, nil)
	for _, name := range cls.DictOrder {
		d.addSourceAttribute(name, cls.Dict[name], false)
	}
	if base != nil {
		bd, err := bk.GetDesc(base)
		if err != nil {
			return nil, err
		}
		cd, ok := bd.(*ClassDesc)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "base of %s is not a class", cls.Name)
		}
		d.BaseDesc = cd
	}
	if cls.HasAttrs {
		attrs := make(map[string]bool)
		for _, a := range cls.Attrs {
			attrs[a] = true
		}
		if d.BaseDesc != nil {
			if d.BaseDesc.EnforcedAttrs == nil {
				return nil, errs.NewAnnotatorError(errs.A0007, "%s has _attrs_, but not its base class", cls.Name)
			}
			for a := range d.BaseDesc.EnforcedAttrs {
				attrs[a] = true
			}
		}
		d.EnforcedAttrs = attrs
	} else if cls.Builtin {
		// 内建异常类不允许属性
		d.EnforcedAttrs = map[string]bool{}
	}
	if len(cls.ImmutableFields) > 0 {
		d.ImmutableFields = make(map[string]ImmutableRank)
		for _, decl := range cls.ImmutableFields {
			name, rank := ParseImmutableField(decl)
			d.ImmutableFields[name] = rank
		}
	}
	return d, nil
}

func (d *ClassDesc) addMixins(mixins []*program.Class, checkNotIn *program.Class) {
	if len(mixins) == 0 {
		return
	}
	seen := make(map[string]bool)
	for _, name := range d.Class.DictOrder {
		seen[name] = true
	}
	var mro []*program.Class
	for _, m := range mixins {
		mro = append(mro, m.MRO()...)
	}
	for _, m := range mro {
		if !m.Mixin {
			continue
		}
		for _, name := range m.DictOrder {
			if seen[name] {
				continue
			}
			if checkNotIn != nil {
				if _, _, ok := checkNotIn.Lookup(name); ok {
					continue
				}
			}
			seen[name] = true
			d.addSourceAttribute(name, m.Dict[name], true)
		}
	}
}

func (d *ClassDesc) addSourceAttribute(name string, value interface{}, mixin bool) {
	if _, ok := d.classDict[name]; !ok {
		d.dictOrder = append(d.dictOrder, name)
	}
	if fn, ok := value.(*program.Function); ok && mixin && !fn.StaticMethod {
		// mixin 的函数每个类一份描述符
		d.classDict[name] = classEntry{desc: newFunctionDesc(d.bk, fn)}
		return
	}
	d.classDict[name] = classEntry{value: value}
}

func (d *ClassDesc) String() string              { return "ClassDesc(" + d.Name + ")" }
func (*ClassDesc) DescKind() annotation.DescKind { return annotation.DescClass }
func (d *ClassDesc) PyObj() interface{}          { return d.Class }
func (d *ClassDesc) RowKey() annotation.Desc     { return d }

// InstanceLevel 类字典不是实例级别的来源
func (d *ClassDesc) InstanceLevel() bool { return false }

// IsExceptionClass 是否为异常类
func (d *ClassDesc) IsExceptionClass() bool {
	exc := d.bk.Exceptions
	return exc != nil && d.Class.IsSubclass(exc.BaseException)
}

// AttrNames 类字典中的属性名（声明顺序）
func (d *ClassDesc) AttrNames() []string {
	return append([]string(nil), d.dictOrder...)
}

// Lookup 沿基类链查找定义了 name 的类描述符
func (d *ClassDesc) Lookup(name string) *ClassDesc {
	for cur := d; cur != nil; cur = cur.BaseDesc {
		if _, ok := cur.classDict[name]; ok {
			return cur
		}
	}
	return nil
}

// FindSourceFor 查找 name 的来源；类字典后来新增的属性也会被登记
func (d *ClassDesc) FindSourceFor(name string) AttrSource {
	if _, ok := d.classDict[name]; ok {
		return d
	}
	if v, ok := d.Class.Dict[name]; ok {
		d.addSourceAttribute(name, v, false)
		return d
	}
	return nil
}

// SGetValue 类属性 name 的注解；classdef 不为 nil 时把函数绑定为方法
func (d *ClassDesc) SGetValue(classdef *ClassDef, name string) (annotation.SomeValue, error) {
	entry, ok := d.classDict[name]
	if !ok {
		return annotation.SImpossible, nil
	}
	if entry.desc != nil {
		var desc annotation.Desc = entry.desc
		if classdef != nil {
			desc = entry.desc.BindUnder(classdef, name)
		}
		return annotation.NewPBC([]annotation.Desc{desc}, false), nil
	}
	value := entry.value
	if fn, ok := value.(*program.Function); ok {
		if fn.ClassMethod {
			return nil, errs.NewAnnotatorError(errs.A0006, "classmethods are not supported: %s.%s", d.Name, name)
		}
		if fn.StaticMethod {
			classdef = nil
		}
	}
	s, err := d.bk.ImmutableValue(value)
	if err != nil {
		return nil, err
	}
	if classdef != nil {
		s = bindCallablesUnder(s, classdef, name)
	}
	return s, nil
}

func bindCallablesUnder(s annotation.SomeValue, classdef *ClassDef, name string) annotation.SomeValue {
	pbc, ok := s.(*annotation.PBC)
	if !ok {
		return s
	}
	descs := make([]annotation.Desc, len(pbc.Descs))
	changed := false
	for i, desc := range pbc.Descs {
		if fd, ok := desc.(*FunctionDesc); ok && !fd.Func.StaticMethod {
			descs[i] = fd.BindUnder(classdef, name)
			changed = true
		} else {
			descs[i] = desc
		}
	}
	if !changed {
		return s
	}
	return annotation.NewPBC(descs, pbc.Nullable)
}

// SReadAttribute 沿基类链读取未绑定的类属性注解
func (d *ClassDesc) SReadAttribute(name string) (annotation.SomeValue, error) {
	cd := d.Lookup(name)
	if cd == nil {
		return annotation.SImpossible, nil
	}
	return cd.SGetValue(nil, name)
}

// ImmutableFieldRank 沿基类链查找字段的不可变等级
func (d *ClassDesc) ImmutableFieldRank(name string) ImmutableRank {
	for cur := d; cur != nil; cur = cur.BaseDesc {
		if r, ok := cur.ImmutableFields[name]; ok {
			return r
		}
		if cur.Immutable {
			return RankImmutable
		}
	}
	return RankMutable
}

// GetClassDef 按特化键取得类定义
func (d *ClassDesc) GetClassDef(key string) (*ClassDef, error) {
	if cd, ok := d.classdefs[key]; ok {
		return cd, nil
	}
	return d.initClassDef(key)
}

// GetUniqueClassDef 默认类定义
func (d *ClassDesc) GetUniqueClassDef() (*ClassDef, error) {
	return d.GetClassDef("")
}

func (d *ClassDesc) initClassDef(key string) (*ClassDef, error) {
	var base *ClassDef
	if d.BaseDesc != nil {
		var err error
		if base, err = d.BaseDesc.GetUniqueClassDef(); err != nil {
			return nil, err
		}
	}
	cd := newClassDef(d.bk, d, base, key)
	d.classdefs[key] = cd
	d.bk.ClassDefs = append(d.bk.ClassDefs, cd)
	if base != nil {
		base.seeNewSubclass(cd)
	}
	for _, name := range d.dictOrder {
		if err := cd.AddSourceForAttribute(name, d); err != nil {
			return nil, err
		}
	}
	if _, ok := d.classDict["__del__"]; ok {
		sFunc, err := d.SReadAttribute("__del__")
		if err != nil {
			return nil, err
		}
		s, err := d.bk.EmulatePbcCall(cd, sFunc, []annotation.SomeValue{annotation.NewInstance(cd, false, nil)}, nil)
		if err != nil {
			return nil, err
		}
		if !annotation.Contains(annotation.SNone, s) {
			return nil, errs.NewAnnotatorError(errs.A0001, "%s.__del__ must return None, got %s", d.Name, s)
		}
	}
	d.bk.log.Debug("classdef created", zap.String("class", d.Name), zap.String("key", key))
	return cd, nil
}

// Pycall 调用类：创建实例并分析 __init__
func (d *ClassDesc) Pycall(whence *flowmodel.PositionKey, args *CallArgs, sPrev annotation.SomeValue, op *flowmodel.SpaceOperation) (annotation.SomeValue, error) {
	key := ""
	if d.SpecialCase == "specialize:ctr_location" && whence != nil {
		key = whence.String()
	}
	classdef, err := d.GetClassDef(key)
	if err != nil {
		return nil, err
	}
	sInstance := annotation.NewInstance(classdef, false, nil)
	sInit, err := d.SReadAttribute("__init__")
	if err != nil {
		return nil, err
	}
	if annotation.IsImpossible(sInit) {
		if !d.IsExceptionClass() {
			if _, err := args.FixedUnpack(0); err != nil {
				return nil, errs.NewAnnotatorError(errs.A0100, "default __init__ takes no argument (class %s)", d.Name)
			}
		}
		return sInstance, nil
	}
	pbc, ok := sInit.(*annotation.PBC)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "%s.__init__ is not a function", d.Name)
	}
	if _, err := d.bk.PbcCall(pbc, args.Prepend(sInstance), whence); err != nil {
		return nil, err
	}
	return sInstance, nil
}

// MaybeReturnImmutableList x.lst 的 lst 声明为 lst[*] 时返回不可变列表
func (d *ClassDesc) MaybeReturnImmutableList(attr string, s *annotation.List) (annotation.SomeValue, error) {
	if d.invalidAttrs[attr] {
		return nil, errs.NewAnnotatorError(errs.A0007, "field %q was migrated to %s from a subclass in which it was declared as _immutable_fields_", attr, d.Name)
	}
	for cur := d; cur != nil; cur = cur.BaseDesc {
		rank, ok := cur.ImmutableFields[attr]
		if !ok || (rank != RankImmutableArray && rank != RankQuasiImmutableArray) {
			continue
		}
		if err := s.Def.NeverResize(); err != nil {
			return nil, err
		}
		copyDef := annotation.NewListDef(d.bk, s.Def.ReadItem(d.bk.positionOrZero()), false, false)
		if err := copyDef.MarkAsImmutable(); err != nil {
			return nil, err
		}
		for up := cur.BaseDesc; up != nil; up = up.BaseDesc {
			if up.invalidAttrs == nil {
				up.invalidAttrs = make(map[string]bool)
			}
			up.invalidAttrs[attr] = true
		}
		return annotation.NewList(copyDef), nil
	}
	return s, nil
}

// CommonBaseDesc 多个类描述符的公共基类
func CommonBaseDesc(descs []*ClassDesc) *ClassDesc {
	if len(descs) == 0 {
		return nil
	}
	common := descs[0]
	for _, d := range descs[1:] {
		for common != nil && !d.isSubDesc(common) {
			common = common.BaseDesc
		}
	}
	return common
}

func (d *ClassDesc) isSubDesc(other *ClassDesc) bool {
	for cur := d; cur != nil; cur = cur.BaseDesc {
		if cur == other {
			return true
		}
	}
	return false
}

// considerClassCallSite 调用类的调用点：合并调用族并登记 __init__ 调用
func (bk *Bookkeeper) considerClassCallSite(descs []*ClassDesc, args *CallArgs, sResult annotation.SomeValue, op *flowmodel.SpaceOperation) error {
	rows := make([]annotation.Desc, len(descs))
	for i, d := range descs {
		rows[i] = d
	}
	if err := bk.mergeCallFamilies(rows); err != nil {
		return err
	}
	var classdefs []*ClassDef
	if len(descs) == 1 {
		inst, ok := sResult.(*annotation.Instance)
		if !ok {
			if annotation.IsImpossible(sResult) {
				return nil
			}
			return errs.NewAnnotatorError(errs.A0001, "calling a class did not return an instance: %s", sResult)
		}
		classdefs = []*ClassDef{inst.ClassDef.(*ClassDef)}
	} else {
		hasInit := false
		for _, d := range descs {
			cd, err := d.GetUniqueClassDef()
			if err != nil {
				return err
			}
			classdefs = append(classdefs, cd)
			s, err := d.SReadAttribute("__init__")
			if err != nil {
				return err
			}
			if _, ok := s.(*annotation.PBC); ok {
				hasInit = true
			}
		}
		base := CommonBaseDesc(descs)
		parentHasInit := false
		if base != nil {
			s, err := base.SReadAttribute("__init__")
			if err != nil {
				return err
			}
			_, parentHasInit = s.(*annotation.PBC)
		}
		if hasInit && !parentHasInit {
			names := make([]string, len(descs))
			for i, d := range descs {
				names[i] = d.Name
			}
			return errs.NewAnnotatorError(errs.A0101, "some classes among %v have an __init__ and others not; add an empty __init__ to the common base class", names)
		}
	}
	var initDescs []annotation.Desc
	for i, d := range descs {
		s, err := d.SReadAttribute("__init__")
		if err != nil {
			return err
		}
		pbc, ok := s.(*annotation.PBC)
		if !ok {
			continue
		}
		if len(pbc.Descs) != 1 {
			return errs.NewAnnotatorError(errs.A0001, "unexpected dynamic __init__ in %s", d.Name)
		}
		if fd, ok := pbc.Descs[0].(*FunctionDesc); ok {
			initDescs = append(initDescs, bk.GetMethodDesc(fd, classdefs[i], classdefs[i], "__init__", nil))
		}
	}
	if len(initDescs) > 0 {
		return bk.considerFunctionCallSite(initDescs, args, annotation.SNone, op, true)
	}
	return nil
}
