// rbuiltin.go - 内建函数、内建方法与弱引用的表示
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ============================================================================
// 内建函数
// ============================================================================

// BuiltinRepr 内建函数；值在编译期已知
type BuiltinRepr struct {
	rtyper *RTyper
	name   string
}

func (rt *RTyper) newBuiltinRepr(s *annotation.Builtin) (Repr, error) {
	if s.Self != nil {
		return &BuiltinMethodRepr{rtyper: rt, s: s}, nil
	}
	return &BuiltinRepr{rtyper: rt, name: s.Name}, nil
}

func (r *BuiltinRepr) LowLevelType() lltype.Type                      { return lltype.Void }
func (r *BuiltinRepr) ConvertConst(interface{}) (lltype.Value, error) { return nil, nil }
func (r *BuiltinRepr) String() string                                 { return "BuiltinRepr(" + r.name + ")" }
func (r *BuiltinRepr) constant() interface{}                          { return annotation.BuiltinRef(r.name) }

func (r *BuiltinRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.Name() != "simple_call" {
		return nil, errNoMethod
	}
	rt := r.rtyper
	switch r.name {
	case "len", "bool", "int", "float", "str", "chr", "unichr", "ord", "abs", "hash":
		if hop.NArgs() != 2 {
			return nil, errs.NewTyperError(errs.T0001, "%s() takes exactly one argument", r.name)
		}
		sub := hop.shift(r.name)
		res, err := rt.dispatch(sub)
		hop.merge(sub)
		return res, err
	case "intmask", "r_uint", "r_longlong", "r_ulonglong", "ovfcheck":
		return hop.InputArg(hop.RResult, 1)
	case "we_are_translated":
		return flowmodel.NewTypedConstant(true, lltype.Bool), nil
	case "isinstance":
		return r.rtypeIsinstance(hop)
	case "issubclass":
		c, ok := hop.constArg(2)
		if !ok {
			return nil, errs.NewTyperError(errs.T0001, "issubclass with a non-constant class")
		}
		vcls, err := hop.InputArg(rt.rootClassRepr(), 1)
		if err != nil {
			return nil, err
		}
		return rt.subclassRangeCheck(hop.LLOps, vcls, c)
	case "range", "xrange":
		return r.rtypeRange(hop)
	case "min", "max":
		return r.rtypeMinMax(hop)
	case "list":
		v, err := hop.InputArg(hop.ArgsR[1], 1)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_list_from", hop.RResult.LowLevelType(), v), nil
	case "instantiate":
		return r.rtypeInstantiate(hop)
	}
	return nil, errs.NewTyperError(errs.T0003, "no lowering for builtin %s", r.name)
}

func (r *BuiltinRepr) rtypeIsinstance(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	rt := r.rtyper
	c, ok := hop.constArg(2)
	ir, isInst := hop.ArgsR[1].(*InstanceRepr)
	if !isInst {
		return nil, errs.NewTyperError(errs.T0001, "isinstance on %s is not known at compile time", hop.ArgsR[1])
	}
	if ok {
		return ir.rtypeIsinstance(hop, 1, c)
	}
	// 类在运行时才知道：比较两个先序区间
	v, err := hop.InputArg(ir, 1)
	if err != nil {
		return nil, err
	}
	vcls, err := hop.InputArg(rt.rootClassRepr(), 2)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_isinstance", lltype.Bool, v, vcls), nil
}

func (r *BuiltinRepr) rtypeRange(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	n := hop.NArgs() - 1
	if n < 1 || n > 3 {
		return nil, errs.NewTyperError(errs.T0001, "%s() takes 1 to 3 arguments", r.name)
	}
	signed := func(x int64) flowmodel.Hlvalue { return flowmodel.NewTypedConstant(x, lltype.Signed) }
	start, step := signed(0), signed(1)
	var stop flowmodel.Hlvalue
	args, err := hop.InputArgs(append([]Repr{impossibleRepr}, repeatRepr(signedRepr, n)...)...)
	if err != nil {
		return nil, err
	}
	switch n {
	case 1:
		stop = args[1]
	case 2:
		start, stop = args[1], args[2]
	case 3:
		start, stop, step = args[1], args[2], args[3]
		if c, ok := hop.constArg(3); ok {
			if x, ok := primitiveConst(lltype.Signed, c); ok && x.(int64) == 0 {
				return nil, errs.NewTyperError(errs.T0001, "%s() step must not be zero", r.name)
			}
		}
	}
	return hop.GenDirectCall("ll_range", hop.RResult.LowLevelType(), start, stop, step), nil
}

func repeatRepr(r Repr, n int) []Repr {
	out := make([]Repr, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func (r *BuiltinRepr) rtypeMinMax(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.NArgs() {
	case 2:
		// min(list)
		v, err := hop.InputArg(hop.ArgsR[1], 1)
		if err != nil {
			return nil, err
		}
		hop.ExceptionIsHere()
		return hop.GenDirectCall("ll_"+r.name+"_list", hop.RResult.LowLevelType(), v), nil
	case 3:
		args, err := hop.InputArgs(impossibleRepr, hop.RResult, hop.RResult)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_"+r.name, hop.RResult.LowLevelType(), args[1], args[2]), nil
	}
	return nil, errs.NewTyperError(errs.T0001, "%s() takes one or two arguments", r.name)
}

func (r *BuiltinRepr) rtypeInstantiate(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	rt := r.rtyper
	if c, ok := hop.constArg(1); ok {
		cls, ok := c.(*program.Class)
		if !ok {
			return nil, errs.NewTyperError(errs.T0001, "instantiate(%v)", c)
		}
		cd, err := rt.bk.GetUniqueClassDef(cls)
		if err != nil {
			return nil, err
		}
		ir, err := rt.getInstanceRepr(cd)
		if err != nil {
			return nil, err
		}
		v, err := ir.newInstance(hop.LLOps)
		if err != nil {
			return nil, err
		}
		return hop.LLOps.convertVar(v, ir, hop.RResult)
	}
	vcls, err := hop.InputArg(rt.rootClassRepr(), 1)
	if err != nil {
		return nil, err
	}
	return rt.instantiateVia(hop, vcls)
}

// ============================================================================
// 内建方法
// ============================================================================

// BuiltinMethodRepr 绑定到容器或字符串的内建方法；值就是绑定的对象
type BuiltinMethodRepr struct {
	rtyper *RTyper
	s      *annotation.Builtin
	self   Repr
}

// methodTyper 能改写自身内建方法调用的表示
type methodTyper interface {
	rtypeMethod(name string, hop *HighLevelOp) (flowmodel.Hlvalue, error)
}

func (r *BuiltinMethodRepr) setup() error {
	self, err := r.rtyper.GetRepr(r.s.Self)
	if err != nil {
		return err
	}
	r.self = self
	return nil
}

func (r *BuiltinMethodRepr) LowLevelType() lltype.Type { return r.self.LowLevelType() }
func (r *BuiltinMethodRepr) String() string {
	return "BuiltinMethodRepr(" + r.s.Name + ")"
}

func (r *BuiltinMethodRepr) ConvertConst(interface{}) (lltype.Value, error) {
	return nil, errs.NewTyperError(errs.T0002, "bound method %s cannot be a prebuilt constant", r.s.Name)
}

func (r *BuiltinMethodRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.Name() != "simple_call" {
		return nil, errNoMethod
	}
	mt, ok := r.self.(methodTyper)
	if !ok {
		return nil, errs.NewTyperError(errs.T0003, "no lowering for method %s of %s", r.s.Name, r.self)
	}
	ss := append([]annotation.SomeValue{r.s.Self}, hop.ArgsS[1:]...)
	rs := append([]Repr{r.self}, hop.ArgsR[1:]...)
	sub := hop.withArgs(hop.opname, hop.ArgsV, ss, rs)
	res, err := mt.rtypeMethod(r.s.Name, sub)
	hop.merge(sub)
	return res, err
}

// ============================================================================
// 弱引用
// ============================================================================

// WeakRefRepr 指向弱引用单元的指针；调用即解引用
type WeakRefRepr struct {
	rtyper *RTyper
	s      *annotation.WeakRef
	target *InstanceRepr
	wt     *lltype.WeakRef
	ptr    *lltype.Ptr

	prebuilt map[*program.Instance]*lltype.PtrValue
}

func (rt *RTyper) newWeakRefRepr(s *annotation.WeakRef) (*WeakRefRepr, error) {
	var cd *description.ClassDef
	if s.ClassDef != nil {
		cd = s.ClassDef.(*description.ClassDef)
	}
	target, err := rt.getInstanceRepr(cd)
	if err != nil {
		return nil, err
	}
	wt, err := lltype.NewWeakRef(target.ptr)
	if err != nil {
		return nil, errs.NewTyperError(errs.T0002, "%v", err)
	}
	return &WeakRefRepr{
		rtyper:   rt,
		s:        s,
		target:   target,
		wt:       wt,
		ptr:      lltype.NewPtr(wt),
		prebuilt: make(map[*program.Instance]*lltype.PtrValue),
	}, nil
}

func (r *WeakRefRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *WeakRefRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }
func (r *WeakRefRepr) String() string            { return "WeakRefRepr(" + r.s.String() + ")" }

// ConvertConst 预构建的弱引用单元；目标已失效时单元中是空指针
func (r *WeakRefRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	w, ok := value.(*program.WeakRef)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T is not a weak reference", value)
	}
	if p, ok := r.prebuilt[w.Target]; ok {
		return p, nil
	}
	p, err := lltype.Malloc(r.wt, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	var target lltype.Value = lltype.NullPtr(r.target.ptr)
	if w.Target != nil {
		target, err = r.target.ConvertConst(w.Target)
		if err != nil {
			return nil, err
		}
	}
	p.Obj.Fields = []lltype.Value{target}
	r.prebuilt[w.Target] = p
	return p, nil
}

func (r *WeakRefRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "simple_call":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		hop.ExceptionCannotOccur()
		res := hop.Genop("weakref_deref", []flowmodel.Hlvalue{voidConst(r.target.ptr), v}, r.target.ptr)
		return hop.LLOps.convertVar(res, r.target, hop.RResult)
	case "bool":
		return flowmodel.NewTypedConstant(true, lltype.Bool), nil
	}
	return nil, errNoMethod
}
