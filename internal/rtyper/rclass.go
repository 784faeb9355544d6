// rclass.go - 类与实例的表示
//
// 每个类定义对应两个低层结构体：
//   - 虚表（raw 结构体）：第一个字段 super 内嵌父类虚表，其后是只读类属性 cls_<name>；
//     根虚表保存先序编号区间、类名和 instantiate 函数指针；
//   - 实例（gc 结构体）：第一个字段 super 内嵌父类实例，其后是实例字段 inst_<name>；
//     根实例 object 只有 typeptr 字段（GC 策略不需要时省略）。
//
// isinstance 检查读取 typeptr 的 subclassrange_min，与目标类的区间比较。
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// classField 虚表或实例上的一个字段
type classField struct {
	name string
	repr Repr
}

// ============================================================================
// ClassRepr
// ============================================================================

// ClassRepr 类的虚表表示；根类的 ClassRepr 同时是类型对象的表示
type ClassRepr struct {
	rtyper   *RTyper
	classdef *description.ClassDef
	rbase    *ClassRepr

	vtable *lltype.Struct
	ptr    *lltype.Ptr
	// objFwd 根实例结构体，根虚表的 instantiate 返回它的指针
	objFwd *lltype.Forward

	fields map[string]*classField
	order  []string

	value *lltype.PtrValue
	built bool
}

func (rt *RTyper) rootClassRepr() *ClassRepr {
	r, _ := rt.getClassRepr(nil)
	return r
}

// typeRepr 类型对象（根虚表指针）的表示
func (rt *RTyper) typeRepr() Repr {
	return rt.rootClassRepr()
}

func (rt *RTyper) getClassRepr(cd *description.ClassDef) (*ClassRepr, error) {
	if r, ok := rt.classReprs[cd]; ok {
		return r, nil
	}
	r := &ClassRepr{rtyper: rt, classdef: cd, fields: make(map[string]*classField)}
	rt.classReprs[cd] = r
	if err := r.build(); err != nil {
		delete(rt.classReprs, cd)
		return nil, err
	}
	return r, nil
}

func (r *ClassRepr) build() error {
	rt := r.rtyper
	if r.classdef == nil {
		r.objFwd = lltype.NewForward(true)
		ft := lltype.NewFuncType(nil, lltype.NewPtr(r.objFwd))
		r.vtable = lltype.NewStruct("object_vtable", []lltype.Field{
			{Name: "subclassrange_min", Type: lltype.Signed},
			{Name: "subclassrange_max", Type: lltype.Signed},
			{Name: "name", Type: rt.stringRepr().LowLevelType()},
			{Name: "instantiate", Type: lltype.NewPtr(ft)},
		}, lltype.StructHints{Immutable: true})
		r.ptr = lltype.NewPtr(r.vtable)
		r.built = true
		return nil
	}
	base, err := rt.getClassRepr(r.classdef.Base)
	if err != nil {
		return err
	}
	r.rbase = base
	fields := []lltype.Field{{Name: "super", Type: base.vtable}}
	for _, a := range r.classdef.ClassAttributes() {
		f, err := r.classAttrField(a)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		r.fields[a.Name] = f
		r.order = append(r.order, a.Name)
		fields = append(fields, lltype.Field{Name: f.name, Type: f.repr.LowLevelType()})
	}
	r.vtable = lltype.NewStruct(rt.uniqueName(r.classdef.Name()+"_vtable"), fields, lltype.StructHints{Immutable: true})
	r.ptr = lltype.NewPtr(r.vtable)
	r.built = true
	return nil
}

// classAttrField 只读类属性在虚表中的字段；编译期常量不占字段
func (r *ClassRepr) classAttrField(a *description.Attribute) (*classField, error) {
	if pbc, ok := a.Value.(*annotation.PBC); ok && pbc.DescKind() == annotation.DescMethod {
		ft, err := r.rtyper.methodFuncType(pbc)
		if err != nil || ft == nil {
			return nil, err
		}
		return &classField{name: "cls_" + a.Name, repr: &fnPtrRepr{ptr: lltype.NewPtr(ft)}}, nil
	}
	rep, err := r.rtyper.GetRepr(a.Value)
	if err != nil {
		return nil, err
	}
	if rep.LowLevelType() == lltype.Void {
		return nil, nil
	}
	return &classField{name: "cls_" + a.Name, repr: rep}, nil
}

func (r *ClassRepr) LowLevelType() lltype.Type { return r.rtyper.rootClassRepr().ptr }
func (r *ClassRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.rtyper.rootClassRepr().ptr) }
func (r *ClassRepr) String() string {
	if r.classdef == nil {
		return "ClassRepr(object)"
	}
	return "ClassRepr(" + r.classdef.Name() + ")"
}

// VTable 本类的虚表结构体
func (r *ClassRepr) VTable() *lltype.Struct { return r.vtable }

// ConvertConst 类常量转换为指向其虚表的根虚表指针
func (r *ClassRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	root := r.rtyper.rootClassRepr()
	switch v := value.(type) {
	case nil, annotation.NoneValue:
		return lltype.NullPtr(root.ptr), nil
	case *program.Class:
		cd, err := r.rtyper.bk.GetUniqueClassDef(v)
		if err != nil {
			return nil, err
		}
		cr, err := r.rtyper.getClassRepr(cd)
		if err != nil {
			return nil, err
		}
		vt, err := cr.getVTable()
		if err != nil {
			return nil, err
		}
		return lltype.CastPointer(root.ptr, vt)
	}
	if value == program.None {
		return lltype.NullPtr(root.ptr), nil
	}
	return nil, errs.NewTyperError(errs.T0002, "%T is not a class", value)
}

// getVTable 预构建的虚表；各层的类属性取本类看到的值
func (r *ClassRepr) getVTable() (*lltype.PtrValue, error) {
	if r.value != nil {
		return r.value, nil
	}
	if r.classdef == nil {
		return nil, errs.NewTyperError(errs.T0001, "the root class has no vtable instance")
	}
	p, err := lltype.Malloc(r.vtable, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	r.value = p
	obj := p.Obj
	for level := r; level != nil; level = level.rbase {
		if err := r.fillLevel(level, obj); err != nil {
			r.value = nil
			return nil, err
		}
		if level.rbase != nil {
			obj = obj.Fields[0].(*lltype.Container)
		}
	}
	return p, nil
}

func (r *ClassRepr) fillLevel(level *ClassRepr, obj *lltype.Container) error {
	rt := r.rtyper
	cd := r.classdef
	if level.classdef == nil {
		name, err := rt.stringRepr().ConvertConst(cd.Desc.Name)
		if err != nil {
			return err
		}
		ft := lltype.NewFuncType(nil, lltype.NewPtr(level.objFwd))
		obj.Fields[0] = int64(cd.MinID)
		obj.Fields[1] = int64(cd.MaxID)
		obj.Fields[2] = name
		obj.Fields[3] = rt.helper("ll_instantiate_"+cd.Name(), ft)
		return nil
	}
	for _, attr := range level.order {
		f := level.fields[attr]
		v, err := r.classAttrValue(attr, f)
		if err != nil {
			return err
		}
		obj.Fields[level.vtable.FieldIndex(f.name)] = v
	}
	return nil
}

// classAttrValue 本类看到的类属性 attr 的低层值
func (r *ClassRepr) classAttrValue(attr string, f *classField) (lltype.Value, error) {
	raw, _, ok := r.classdef.Desc.Class.Lookup(attr)
	if !ok {
		return lltype.DefaultValue(f.repr.LowLevelType()), nil
	}
	if fn, ok := raw.(*program.Function); ok {
		if fp, isFn := f.repr.(*fnPtrRepr); isFn {
			d, err := r.rtyper.bk.GetDesc(fn)
			if err != nil {
				return nil, err
			}
			fd, ok := d.(*description.FunctionDesc)
			if !ok {
				return lltype.NullPtr(fp.ptr), nil
			}
			g := r.rtyper.graphOfDesc(fd)
			if g == nil {
				return lltype.NullPtr(fp.ptr), nil
			}
			return r.rtyper.GetCallable(g)
		}
	}
	return f.repr.ConvertConst(raw)
}

// locateClassField 持有类属性 attr 的虚表层
func (r *ClassRepr) locateClassField(attr string) (*ClassRepr, *classField) {
	for cur := r; cur != nil; cur = cur.rbase {
		if f, ok := cur.fields[attr]; ok {
			return cur, f
		}
	}
	return nil, nil
}

// getClassAttr 从根虚表指针 vcls 读取类属性
func (r *ClassRepr) getClassAttr(llops *LowLevelOpList, vcls flowmodel.Hlvalue, attr string) (flowmodel.Hlvalue, Repr, error) {
	home, f := r.locateClassField(attr)
	if f == nil {
		return nil, nil, errs.NewTyperError(errs.T0001, "%s has no class attribute %q", r, attr)
	}
	v := llops.Genop("cast_pointer", []flowmodel.Hlvalue{vcls}, home.ptr)
	return llops.Genop("getfield", []flowmodel.Hlvalue{v, voidConst(f.name)}, f.repr.LowLevelType()), f.repr, nil
}

// fromTypePtr 类型对象上的操作
func (r *ClassRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "issubtype":
		c, ok := hop.constArg(1)
		if !ok {
			return nil, errs.NewTyperError(errs.T0001, "issubtype with a non-constant class")
		}
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return r.rtyper.subclassRangeCheck(hop.LLOps, v, c)
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("ptr_nonzero", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	}
	return nil, errNoMethod
}

// subclassRangeCheck vcls 指向的类是否为常量类 c 的子类
func (rt *RTyper) subclassRangeCheck(llops *LowLevelOpList, vcls flowmodel.Hlvalue, c interface{}) (flowmodel.Hlvalue, error) {
	cls, ok := c.(*program.Class)
	if !ok {
		return nil, errs.NewTyperError(errs.T0001, "%v is not a class", c)
	}
	cd, err := rt.bk.GetUniqueClassDef(cls)
	if err != nil {
		return nil, err
	}
	min := llops.Genop("getfield", []flowmodel.Hlvalue{vcls, voidConst("subclassrange_min")}, lltype.Signed)
	return llops.Genop("int_between", []flowmodel.Hlvalue{
		flowmodel.NewTypedConstant(int64(cd.MinID), lltype.Signed),
		min,
		flowmodel.NewTypedConstant(int64(cd.MaxID), lltype.Signed),
	}, lltype.Bool), nil
}

// fnPtrRepr 虚表中方法字段的表示
type fnPtrRepr struct {
	ptr *lltype.Ptr
}

func (r *fnPtrRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *fnPtrRepr) String() string            { return "FnPtrRepr(" + r.ptr.String() + ")" }
func (r *fnPtrRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if p, ok := value.(*lltype.PtrValue); ok {
		return p, nil
	}
	return lltype.NullPtr(r.ptr), nil
}

// methodFuncType 方法集合共用的函数指针类型；从未被调用时返回 nil
func (rt *RTyper) methodFuncType(pbc *annotation.PBC) (*lltype.FuncType, error) {
	for _, d := range pbc.Descs {
		m, ok := d.(*description.MethodDesc)
		if !ok {
			continue
		}
		if g := rt.graphOfDesc(m.FuncDesc); g != nil {
			return rt.graphFuncType(g)
		}
	}
	return nil, nil
}

// graphOfDesc 函数在其调用族各行中出现的第一个流图
func (rt *RTyper) graphOfDesc(fd *description.FunctionDesc) *flowmodel.FunctionGraph {
	fam := rt.bk.CallFamilyOf(fd)
	for _, shape := range fam.Shapes() {
		for _, row := range fam.CallTables[shape] {
			if g, ok := row[fd]; ok && g != nil {
				return g
			}
		}
	}
	return nil
}

// ============================================================================
// InstanceRepr
// ============================================================================

// InstanceRepr 实例表示：指向实例 gc 结构体的指针
type InstanceRepr struct {
	rtyper   *RTyper
	classdef *description.ClassDef
	rbase    *InstanceRepr
	rclass   *ClassRepr

	fwd *lltype.Forward
	st  *lltype.Struct
	ptr *lltype.Ptr

	fields map[string]*classField
	built  bool

	prebuilt map[*program.Instance]*lltype.PtrValue
}

// getInstanceRepr 类定义的实例表示；cd 为 nil 时是根类 object
func (rt *RTyper) getInstanceRepr(cd *description.ClassDef) (*InstanceRepr, error) {
	if r, ok := rt.instanceReprs[cd]; ok {
		return r, nil
	}
	r := &InstanceRepr{
		rtyper:   rt,
		classdef: cd,
		fields:   make(map[string]*classField),
		prebuilt: make(map[*program.Instance]*lltype.PtrValue),
	}
	// 先登记：虚表里的方法签名和字段都可能引用本类或子类的实例
	if cd != nil {
		r.fwd = lltype.NewForward(true)
		r.ptr = lltype.NewPtr(r.fwd)
		rt.instanceReprs[cd] = r
	}
	rclass, err := rt.getClassRepr(cd)
	if err != nil {
		delete(rt.instanceReprs, cd)
		return nil, err
	}
	r.rclass = rclass
	if cd == nil {
		r.fwd = rclass.objFwd
		r.ptr = lltype.NewPtr(r.fwd)
		rt.instanceReprs[cd] = r
	}
	if err := r.buildInstance(); err != nil {
		delete(rt.instanceReprs, cd)
		return nil, err
	}
	return r, nil
}

func (rt *RTyper) needTypePtr() bool {
	return !rt.cfg.NoTypePtr && !rt.gc.NeedNoTypePtr()
}

func (r *InstanceRepr) buildInstance() error {
	rt := r.rtyper
	if r.classdef == nil {
		var fields []lltype.Field
		if rt.needTypePtr() {
			fields = append(fields, lltype.Field{Name: "typeptr", Type: r.rclass.ptr})
		}
		r.st = lltype.NewGcStruct("object", fields, lltype.StructHints{TypePtr: rt.needTypePtr()})
		r.built = true
		return r.fwd.Become(r.st)
	}
	base, err := rt.getInstanceRepr(r.classdef.Base)
	if err != nil {
		return err
	}
	r.rbase = base
	fields := []lltype.Field{{Name: "super", Type: base.fwd}}
	hints := lltype.StructHints{}
	for _, a := range r.classdef.InstanceFields() {
		rep, err := rt.GetRepr(a.Value)
		if err != nil {
			return err
		}
		f := &classField{name: "inst_" + a.Name, repr: rep}
		r.fields[a.Name] = f
		fields = append(fields, lltype.Field{Name: f.name, Type: rep.LowLevelType()})
		if r.classdef.Desc.ImmutableFieldRank(a.Name) != description.RankMutable {
			hints.ImmutableFields = append(hints.ImmutableFields, f.name)
		}
	}
	if r.classdef.Desc.Lookup("__del__") == r.classdef.Desc {
		hints.RTTI = true
	}
	if len(r.classdef.SubDefs) == 0 && r.classdef.Desc.Settled {
		hints.Final = true
	}
	r.st = lltype.NewGcStruct(rt.uniqueName(r.classdef.Name()), fields, hints)
	if err := r.fwd.Become(r.st); err != nil {
		return err
	}
	r.built = true
	if hints.RTTI {
		rt.rtti[r.st] = &gcpolicy.RTTI{Destructor: r.classdef.Name() + ".__del__"}
		if d, err := rt.bk.GetDesc(r.classdef.Desc.Class.Dict["__del__"]); err == nil {
			if fd, ok := d.(*description.FunctionDesc); ok {
				if g := rt.graphOfDesc(fd); g != nil {
					rt.finalizers[r.st] = g
				}
			}
		}
	}
	return nil
}

func (r *InstanceRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *InstanceRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }
func (r *InstanceRepr) String() string {
	if r.classdef == nil {
		return "InstanceRepr(object)"
	}
	return "InstanceRepr(" + r.classdef.Name() + ")"
}

// Struct 实例结构体
func (r *InstanceRepr) Struct() *lltype.Struct { return r.st }

// ClassDef 对应的类定义，根类为 nil
func (r *InstanceRepr) ClassDef() *description.ClassDef { return r.classdef }

// isSubOf r 的类是否为 other 的子类（含自身）
func (r *InstanceRepr) isSubOf(other *InstanceRepr) bool {
	for cur := r; cur != nil; cur = cur.rbase {
		if cur == other {
			return true
		}
	}
	return false
}

// convertFrom 实例之间沿继承链的转换
func (r *InstanceRepr) convertFrom(llops *LowLevelOpList, v flowmodel.Hlvalue, rFrom Repr) (flowmodel.Hlvalue, error) {
	from, ok := rFrom.(*InstanceRepr)
	if !ok {
		if rFrom == noneRepr {
			return flowmodel.NewTypedConstant(lltype.NullPtr(r.ptr), r.ptr), nil
		}
		return nil, errNoMethod
	}
	if from == r {
		return v, nil
	}
	if !from.isSubOf(r) && !r.isSubOf(from) {
		return nil, errNoMethod
	}
	return llops.Genop("cast_pointer", []flowmodel.Hlvalue{v}, r.ptr), nil
}

// ConvertConst 预构建实例；同一宿主实例只构建一次
func (r *InstanceRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	switch v := value.(type) {
	case nil, annotation.NoneValue:
		return lltype.NullPtr(r.ptr), nil
	case *program.Instance:
		cd, err := r.rtyper.bk.GetUniqueClassDef(v.Class)
		if err != nil {
			return nil, err
		}
		exact, err := r.rtyper.getInstanceRepr(cd)
		if err != nil {
			return nil, err
		}
		p, err := exact.prebuild(v)
		if err != nil {
			return nil, err
		}
		return lltype.CastPointer(r.ptr, p)
	}
	if value == program.None {
		return lltype.NullPtr(r.ptr), nil
	}
	return nil, errs.NewTyperError(errs.T0002, "%T is not an instance of %s", value, r)
}

func (r *InstanceRepr) prebuild(inst *program.Instance) (*lltype.PtrValue, error) {
	if p, ok := r.prebuilt[inst]; ok {
		return p, nil
	}
	p, err := lltype.Malloc(r.st, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	p = &lltype.PtrValue{T: r.ptr, Obj: p.Obj}
	// 先登记，字段可以引用自身
	r.prebuilt[inst] = p
	vt, err := r.rclass.getVTable()
	if err != nil {
		return nil, err
	}
	obj := p.Obj
	for level := r; level != nil; level = level.rbase {
		if level.classdef == nil {
			if r.rtyper.needTypePtr() {
				root := r.rtyper.rootClassRepr()
				tp, err := lltype.CastPointer(root.ptr, vt)
				if err != nil {
					return nil, err
				}
				obj.Fields[0] = tp
			}
			break
		}
		for attr, f := range level.fields {
			raw, ok := inst.Attrs[attr]
			if !ok {
				continue
			}
			v, err := f.repr.ConvertConst(raw)
			if err != nil {
				return nil, err
			}
			obj.Fields[level.st.FieldIndex(f.name)] = v
		}
		obj = obj.Fields[0].(*lltype.Container)
	}
	return p, nil
}

// locateField 持有实例字段 attr 的层
func (r *InstanceRepr) locateField(attr string) (*InstanceRepr, *classField) {
	for cur := r; cur != nil; cur = cur.rbase {
		if f, ok := cur.fields[attr]; ok {
			return cur, f
		}
	}
	return nil, nil
}

// getTypePtr 实例的类型对象（根虚表指针）
func (r *InstanceRepr) getTypePtr(llops *LowLevelOpList, v flowmodel.Hlvalue) flowmodel.Hlvalue {
	rt := r.rtyper
	root := rt.rootClassRepr()
	if !rt.needTypePtr() {
		return llops.GenDirectCall("ll_gettypeptr", root.ptr, v)
	}
	obj := v
	if r.classdef != nil {
		rootInst, _ := rt.getInstanceRepr(nil)
		obj = llops.Genop("cast_pointer", []flowmodel.Hlvalue{v}, rootInst.ptr)
	}
	return llops.Genop("getfield", []flowmodel.Hlvalue{obj, voidConst("typeptr")}, root.ptr)
}

// newInstance 分配实例并写入 typeptr
func (r *InstanceRepr) newInstance(llops *LowLevelOpList) (flowmodel.Hlvalue, error) {
	v := llops.Genop("malloc", []flowmodel.Hlvalue{voidConst(r.st)}, r.ptr)
	if r.rtyper.needTypePtr() && r.classdef != nil {
		vt, err := r.rclass.getVTable()
		if err != nil {
			return nil, err
		}
		root := r.rtyper.rootClassRepr()
		tp, err := lltype.CastPointer(root.ptr, vt)
		if err != nil {
			return nil, err
		}
		rootInst, err := r.rtyper.getInstanceRepr(nil)
		if err != nil {
			return nil, err
		}
		obj := llops.Genop("cast_pointer", []flowmodel.Hlvalue{v}, rootInst.ptr)
		llops.Genop("setfield", []flowmodel.Hlvalue{obj, voidConst("typeptr"), flowmodel.NewTypedConstant(tp, root.ptr)}, lltype.Void)
	}
	return v, nil
}

func (r *InstanceRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "getattr":
		return r.rtypeGetattr(hop)
	case "setattr":
		return r.rtypeSetattr(hop)
	case "type":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return r.getTypePtr(hop.LLOps, v), nil
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		if !hop.ArgsS[0].CanBeNone() {
			return flowmodel.NewTypedConstant(true, lltype.Bool), nil
		}
		return hop.Genop("ptr_nonzero", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	case "hash", "id":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_identityhash", lltype.Signed, v), nil
	case "str", "repr":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_instance_str", hop.RResult.LowLevelType(), v), nil
	}
	return nil, errNoMethod
}

func (r *InstanceRepr) rtypeGetattr(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	attr, err := hop.constString(1)
	if err != nil {
		return nil, err
	}
	v, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	if attr == "__class__" {
		tp := r.getTypePtr(hop.LLOps, v)
		return hop.LLOps.convertVar(tp, r.rtyper.typeRepr(), hop.RResult)
	}
	// 绑定方法的值就是 self
	if m, ok := hop.RResult.(*MethodsPBCRepr); ok {
		return hop.LLOps.convertVar(v, r, m.self)
	}
	if home, f := r.locateField(attr); f != nil {
		obj := v
		if home != r {
			obj = hop.Genop("cast_pointer", []flowmodel.Hlvalue{v}, home.ptr)
		}
		op := "getfield"
		if home.st.IsImmutableField(f.name) {
			op = "getfield_pure"
		}
		res := hop.Genop(op, []flowmodel.Hlvalue{obj, voidConst(f.name)}, f.repr.LowLevelType())
		return hop.LLOps.convertVar(res, f.repr, hop.RResult)
	}
	if _, f := r.rclass.locateClassField(attr); f != nil {
		tp := r.getTypePtr(hop.LLOps, v)
		res, rep, err := r.rclass.getClassAttr(hop.LLOps, tp, attr)
		if err != nil {
			return nil, err
		}
		return hop.LLOps.convertVar(res, rep, hop.RResult)
	}
	if c := hop.SResult; c != nil && c.IsConstant() {
		return inputConst(hop.RResult, c.Const())
	}
	return nil, errs.NewTyperError(errs.T0001, "%s has no attribute %q", r, attr)
}

func (r *InstanceRepr) rtypeSetattr(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	attr, err := hop.constString(1)
	if err != nil {
		return nil, err
	}
	home, f := r.locateField(attr)
	if f == nil {
		return nil, errs.NewTyperError(errs.T0001, "%s has no instance field %q", r, attr)
	}
	v, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	value, err := hop.InputArg(f.repr, 2)
	if err != nil {
		return nil, err
	}
	obj := v
	if home != r {
		obj = hop.Genop("cast_pointer", []flowmodel.Hlvalue{v}, home.ptr)
	}
	if lltype.IsGCPtr(f.repr.LowLevelType()) {
		hop.Genop("gc_writebarrier", []flowmodel.Hlvalue{value, obj}, lltype.Void)
	}
	hop.Genop("setfield", []flowmodel.Hlvalue{obj, voidConst(f.name), value}, lltype.Void)
	return nil, nil
}

// rtypeIsinstance isinstance(v, C)；C 必须是常量类
func (r *InstanceRepr) rtypeIsinstance(hop *HighLevelOp, argIdx int, c interface{}) (flowmodel.Hlvalue, error) {
	v, err := hop.InputArg(r, argIdx)
	if err != nil {
		return nil, err
	}
	cls, ok := c.(*program.Class)
	if !ok {
		return nil, errs.NewTyperError(errs.T0001, "isinstance with a non-class %v", c)
	}
	if hop.ArgsS[argIdx].CanBeNone() {
		vt, err := r.rtyper.typeRepr().ConvertConst(cls)
		if err != nil {
			return nil, err
		}
		root := r.rtyper.rootClassRepr()
		return hop.GenDirectCall("ll_isinstance", lltype.Bool, v, flowmodel.NewTypedConstant(vt, root.ptr)), nil
	}
	tp := r.getTypePtr(hop.LLOps, v)
	return r.rtyper.subclassRangeCheck(hop.LLOps, tp, cls)
}

func init() {
	registerPair(annotation.KInstance, annotation.KInstance, rtypeInstanceEq, "eq", "ne")
}

func rtypeInstanceEq(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r0 := hop.ArgsR[0].(*InstanceRepr)
	r1 := hop.ArgsR[1].(*InstanceRepr)
	common := r0
	if !r1.isSubOf(r0) {
		common = r1
		if !r0.isSubOf(r1) {
			common, _ = hop.rtyper.getInstanceRepr(nil)
		}
	}
	args, err := hop.InputArgs(common, common)
	if err != nil {
		return nil, err
	}
	op := "ptr_eq"
	if hop.Name() == "ne" {
		op = "ptr_ne"
	}
	return hop.Genop(op, args, lltype.Bool), nil
}
