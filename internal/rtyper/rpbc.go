// rpbc.go - 预构建常量（PBC）的表示
//
// 单个不可能为 None 的描述符用 Void 表示，值在编译期已知，调用直接生成 direct_call。
// 多个描述符时：
//   - 函数：调用族只有一行时是函数指针；多行时是指向函数指针结构体的指针，
//     每行一个 variant<k> 字段；
//   - 方法：值就是 self 实例，不同的实现通过虚表分派；
//   - 类：根虚表指针；
//   - 冻结实例：指向只读属性结构体的指针。
package rtyper

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

func (rt *RTyper) newPBCRepr(s *annotation.PBC) (Repr, error) {
	if len(s.Descs) == 0 {
		return noneRepr, nil
	}
	switch s.DescKind() {
	case annotation.DescFunction:
		return rt.newFunctionsPBCRepr(s)
	case annotation.DescMethod:
		return rt.newMethodsPBCRepr(s)
	case annotation.DescClass:
		return rt.newClassesPBCRepr(s)
	case annotation.DescFrozen:
		return rt.newFrozenPBCRepr(s)
	case annotation.DescMethodOfFrozen:
		return rt.newMethodOfFrozenPBCRepr(s)
	}
	return nil, errs.NewTyperError(errs.T0001, "mixed kinds of prebuilt constants in %s", s)
}

// singleConstant 只有一个描述符且不可能为 None
func singleConstant(s *annotation.PBC) bool {
	return len(s.Descs) == 1 && !s.Nullable
}

// ============================================================================
// 调用实参
// ============================================================================

// actualArg 调用点上的一个实参
type actualArg struct {
	// idx hop 的参数下标；小于 0 时 v 已经是 r 表示的低层值
	idx int
	v   flowmodel.Hlvalue
	r   Repr
	// raw 编译期常量（默认值、冻结实例的 self）
	raw   interface{}
	isRaw bool
}

func (a *actualArg) convert(hop *HighLevelOp, rTo Repr) (flowmodel.Hlvalue, error) {
	switch {
	case a.isRaw:
		return inputConst(rTo, a.raw)
	case a.idx >= 0:
		return hop.InputArg(rTo, a.idx)
	}
	return hop.LLOps.convertVar(a.v, a.r, rTo)
}

// callActuals 拆开 simple_call / call_args 的实参；*args 元组按项展开
func (rt *RTyper) callActuals(hop *HighLevelOp) ([]*actualArg, []string, []*actualArg, error) {
	var pos, kws []*actualArg
	var kwNames []string
	switch hop.Op.OpName {
	case "simple_call":
		for i := 1; i < hop.NArgs(); i++ {
			pos = append(pos, &actualArg{idx: i})
		}
	case "call_args":
		c, ok := hop.ArgsV[1].(*flowmodel.Constant)
		if !ok {
			return nil, nil, nil, errs.NewTyperError(errs.T0001, "call_args without a constant shape")
		}
		shape, ok := c.Value.(description.CallShape)
		if !ok {
			return nil, nil, nil, errs.NewTyperError(errs.T0001, "call_args shape is %T", c.Value)
		}
		if shape.Keywords != "" {
			kwNames = strings.Split(shape.Keywords, ",")
		}
		i := 2
		for k := 0; k < shape.Count; k++ {
			pos = append(pos, &actualArg{idx: i})
			i++
		}
		for range kwNames {
			kws = append(kws, &actualArg{idx: i})
			i++
		}
		if shape.Star {
			tr, ok := hop.ArgsR[i].(*TupleRepr)
			if !ok {
				return nil, nil, nil, errs.NewTyperError(errs.T0001, "*args must be a tuple, got %s", hop.ArgsR[i])
			}
			v, err := hop.InputArg(tr, i)
			if err != nil {
				return nil, nil, nil, err
			}
			for k := range tr.items {
				pos = append(pos, &actualArg{idx: -1, v: tr.getItem(hop.LLOps, v, k), r: tr.items[k]})
			}
		}
	default:
		return nil, nil, nil, errs.NewTyperError(errs.T0001, "%s is not a call", hop.Op.OpName)
	}
	return pos, kwNames, kws, nil
}

// matchArgs 按 fd 的签名把实参分配到流图 g 的形参并转换表示；返回实参与返回值的表示
func (rt *RTyper) matchArgs(hop *HighLevelOp, fd *description.FunctionDesc, g *flowmodel.FunctionGraph, self *actualArg) ([]flowmodel.Hlvalue, Repr, error) {
	pos, kwNames, kws, err := rt.callActuals(hop)
	if err != nil {
		return nil, nil, err
	}
	if self != nil {
		pos = append([]*actualArg{self}, pos...)
	}
	sig := fd.Signature
	n := len(sig.ArgNames)
	if len(pos) > n && sig.VarArg == "" {
		return nil, nil, errs.NewTyperError(errs.T0002, "%s takes %d arguments, got %d", fd.Name, n, len(pos))
	}
	slots := make([]*actualArg, n)
	copy(slots, pos)
	for k, name := range kwNames {
		idx := -1
		for i, a := range sig.ArgNames {
			if a == name {
				idx = i
				break
			}
		}
		if idx < 0 || slots[idx] != nil {
			return nil, nil, errs.NewTyperError(errs.T0002, "%s: bad keyword argument %q", fd.Name, name)
		}
		slots[idx] = kws[k]
	}
	first := n - len(fd.Defaults)
	for i := range slots {
		if slots[i] != nil {
			continue
		}
		if i < first {
			return nil, nil, errs.NewTyperError(errs.T0002, "%s: missing argument %q", fd.Name, sig.ArgNames[i])
		}
		slots[i] = &actualArg{isRaw: true, raw: fd.Defaults[i-first]}
	}

	gargs := g.GetArgs()
	want := n
	if sig.VarArg != "" {
		want++
	}
	if len(gargs) != want {
		return nil, nil, errs.NewTyperError(errs.T0002, "graph %s has %d arguments, call provides %d", g.Name, len(gargs), want)
	}
	out := make([]flowmodel.Hlvalue, 0, want)
	for i, a := range slots {
		rTo, err := rt.BindingRepr(gargs[i])
		if err != nil {
			return nil, nil, err
		}
		v, err := a.convert(hop, rTo)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, v)
	}
	if sig.VarArg != "" {
		rTo, err := rt.BindingRepr(gargs[n])
		if err != nil {
			return nil, nil, err
		}
		var rest []*actualArg
		if len(pos) > n {
			rest = pos[n:]
		}
		tr, ok := rTo.(*TupleRepr)
		if !ok || len(tr.items) != len(rest) {
			return nil, nil, errs.NewTyperError(errs.T0002, "%s: *%s does not match %d extra arguments", fd.Name, sig.VarArg, len(rest))
		}
		items := make([]flowmodel.Hlvalue, len(rest))
		for k, a := range rest {
			v, err := a.convert(hop, tr.items[k])
			if err != nil {
				return nil, nil, err
			}
			items[k] = v
		}
		out = append(out, tr.build(hop.LLOps, items))
	}
	rRes, err := rt.BindingRepr(g.GetReturnVar())
	if err != nil {
		return nil, nil, err
	}
	return out, rRes, nil
}

// directCall direct_call 流图 g；g 为 nil（编译期求值的调用）时结果必须是常量
func (rt *RTyper) directCall(hop *HighLevelOp, fd *description.FunctionDesc, g *flowmodel.FunctionGraph, self *actualArg) (flowmodel.Hlvalue, error) {
	if g == nil {
		return foldedCall(hop, fd)
	}
	res, rRes, err := rt.callGraph(hop, fd, g, self)
	if err != nil {
		return nil, err
	}
	return hop.LLOps.convertVar(res, rRes, hop.RResult)
}

// callGraph 生成 direct_call，返回调用结果及其表示
func (rt *RTyper) callGraph(hop *HighLevelOp, fd *description.FunctionDesc, g *flowmodel.FunctionGraph, self *actualArg) (flowmodel.Hlvalue, Repr, error) {
	vargs, rRes, err := rt.matchArgs(hop, fd, g, self)
	if err != nil {
		return nil, nil, err
	}
	fn, err := rt.GetCallable(g)
	if err != nil {
		return nil, nil, err
	}
	hop.ExceptionIsHere()
	res := hop.Genop("direct_call", append([]flowmodel.Hlvalue{flowmodel.NewTypedConstant(fn, fn.T)}, vargs...), rRes.LowLevelType())
	return res, rRes, nil
}

// indirectCall 通过函数指针 fnptr 调用；graphs 是可能被调用的流图
func (rt *RTyper) indirectCall(hop *HighLevelOp, fnptr flowmodel.Hlvalue, fd *description.FunctionDesc, graphs []*flowmodel.FunctionGraph, self *actualArg) (flowmodel.Hlvalue, error) {
	vargs, rRes, err := rt.matchArgs(hop, fd, graphs[0], self)
	if err != nil {
		return nil, err
	}
	args := append([]flowmodel.Hlvalue{fnptr}, vargs...)
	args = append(args, voidConst(graphs))
	hop.ExceptionIsHere()
	res := hop.Genop("indirect_call", args, rRes.LowLevelType())
	return hop.LLOps.convertVar(res, rRes, hop.RResult)
}

func foldedCall(hop *HighLevelOp, fd *description.FunctionDesc) (flowmodel.Hlvalue, error) {
	if hop.SResult != nil && hop.SResult.IsConstant() {
		hop.ExceptionCannotOccur()
		return inputConst(hop.RResult, hop.SResult.Const())
	}
	return nil, errs.NewTyperError(errs.T0001, "call to %s has no graph and no constant result", fd.Name)
}

func (rt *RTyper) callArgsOf(hop *HighLevelOp) (*description.CallArgs, error) {
	return description.ArgsOfCallOp(hop.Op, rt.binding)
}

// ============================================================================
// 函数
// ============================================================================

// FunctionsPBCRepr 函数集合
type FunctionsPBCRepr struct {
	rtyper *RTyper
	s      *annotation.PBC
	family *description.CallFamily
	// rows 调用族中去重后的调用表行
	rows []description.Row
	fts  []*lltype.FuncType
	// st 多行时的函数指针结构体
	st  *lltype.Struct
	ptr *lltype.Ptr

	prebuilt map[annotation.Desc]*lltype.PtrValue
}

func (rt *RTyper) newFunctionsPBCRepr(s *annotation.PBC) (*FunctionsPBCRepr, error) {
	r := &FunctionsPBCRepr{rtyper: rt, s: s, prebuilt: make(map[annotation.Desc]*lltype.PtrValue)}
	if singleConstant(s) {
		return r, nil
	}
	r.family = rt.bk.CallFamilyOf(s.Descs[0])
	for _, shape := range r.family.Shapes() {
		for _, row := range r.family.CallTables[shape] {
			if !containsRow(r.rows, row) {
				r.rows = append(r.rows, row)
			}
		}
	}
	for _, row := range r.rows {
		ft, err := rt.rowFuncType(row)
		if err != nil {
			return nil, err
		}
		r.fts = append(r.fts, ft)
	}
	switch len(r.rows) {
	case 0:
		r.ptr = lltype.NewPtr(lltype.NewFuncType(nil, lltype.Void))
	case 1:
		r.ptr = lltype.NewPtr(r.fts[0])
	default:
		fields := make([]lltype.Field, len(r.rows))
		for k, ft := range r.fts {
			fields[k] = lltype.Field{Name: fmt.Sprintf("variant%d", k), Type: lltype.NewPtr(ft)}
		}
		r.st = lltype.NewStruct(rt.uniqueName("funcs"), fields, lltype.StructHints{Immutable: true})
		r.ptr = lltype.NewPtr(r.st)
	}
	return r, nil
}

func containsRow(rows []description.Row, row description.Row) bool {
	for _, r := range rows {
		if len(r) != len(row) {
			continue
		}
		same := true
		for d, g := range r {
			if row[d] != g {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// rowFuncType 一行中流图共享的函数类型（调用族规范化之后各流图签名一致）
func (rt *RTyper) rowFuncType(row description.Row) (*lltype.FuncType, error) {
	for _, d := range sortedRowDescs(row) {
		return rt.graphFuncType(row[d])
	}
	return lltype.NewFuncType(nil, lltype.Void), nil
}

func (r *FunctionsPBCRepr) LowLevelType() lltype.Type {
	if r.ptr == nil {
		return lltype.Void
	}
	return r.ptr
}

func (r *FunctionsPBCRepr) nullValue() lltype.Value {
	if r.ptr == nil {
		return nil
	}
	return lltype.NullPtr(r.ptr)
}

func (r *FunctionsPBCRepr) String() string { return "FunctionsPBCRepr(" + r.s.String() + ")" }

func (r *FunctionsPBCRepr) constant() interface{} { return r.s.Const() }

func (r *FunctionsPBCRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if r.ptr == nil {
		return nil, nil
	}
	if value == nil || value == program.None {
		return lltype.NullPtr(r.ptr), nil
	}
	if _, ok := value.(annotation.NoneValue); ok {
		return lltype.NullPtr(r.ptr), nil
	}
	fn, ok := value.(*program.Function)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T is not a function", value)
	}
	d, err := r.rtyper.bk.GetDesc(fn)
	if err != nil {
		return nil, err
	}
	if p, ok := r.prebuilt[d]; ok {
		return p, nil
	}
	var p *lltype.PtrValue
	switch {
	case len(r.rows) == 0:
		p = lltype.FunctionPtr(r.ptr.To.(*lltype.FuncType), fn.Name, nil)
	case r.st == nil:
		p, err = r.rtyper.rowCallable(r.rows[0], d, r.fts[0])
	default:
		p, err = lltype.Malloc(r.st, 0)
		if err != nil {
			return nil, err
		}
		p.Obj.Immortal = true
		for k, row := range r.rows {
			fp, err := r.rtyper.rowCallable(row, d, r.fts[k])
			if err != nil {
				return nil, err
			}
			p.Obj.Fields[k] = fp
		}
	}
	if err != nil {
		return nil, err
	}
	r.prebuilt[d] = p
	return p, nil
}

// rowCallable 描述符 d 在调用表行 row 中的流图的函数指针；不在行中时为空指针
func (rt *RTyper) rowCallable(row description.Row, d annotation.Desc, ft *lltype.FuncType) (*lltype.PtrValue, error) {
	g, ok := row[d]
	if !ok || g == nil {
		return lltype.NullPtr(lltype.NewPtr(ft)), nil
	}
	return rt.GetCallable(g)
}

// rowIndex 本次调用中各描述符对应的流图所在的行
func (r *FunctionsPBCRepr) rowIndex(graphs map[annotation.Desc]*flowmodel.FunctionGraph) (int, error) {
	for k, row := range r.rows {
		match := true
		for d, g := range graphs {
			if row[d] != g {
				match = false
				break
			}
		}
		if match {
			return k, nil
		}
	}
	return -1, errs.NewTyperError(errs.T0002, "call site of %s is not in its call family", r.s)
}

func (r *FunctionsPBCRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "simple_call", "call_args":
		return r.rtypeCall(hop)
	}
	return nil, errNoMethod
}

func (r *FunctionsPBCRepr) rtypeCall(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	args, err := r.rtyper.callArgsOf(hop)
	if err != nil {
		return nil, err
	}
	if r.ptr == nil {
		fd := r.s.Descs[0].(*description.FunctionDesc)
		g, err := fd.GetGraph(args, hop.Op)
		if err != nil {
			return nil, err
		}
		return r.rtyper.directCall(hop, fd, g, nil)
	}
	graphs := make(map[annotation.Desc]*flowmodel.FunctionGraph, len(r.s.Descs))
	var ordered []*flowmodel.FunctionGraph
	for _, d := range r.s.Descs {
		fd := d.(*description.FunctionDesc)
		g, err := fd.GetGraph(args, hop.Op)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, errs.NewTyperError(errs.T0001, "%s is evaluated at compile time and cannot be called through a pointer", fd.Name)
		}
		graphs[d] = g
		ordered = append(ordered, g)
	}
	k, err := r.rowIndex(graphs)
	if err != nil {
		return nil, err
	}
	v, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	fnptr := flowmodel.Hlvalue(v)
	if r.st != nil {
		fnptr = hop.Genop("getfield", []flowmodel.Hlvalue{v, voidConst(fmt.Sprintf("variant%d", k))}, lltype.NewPtr(r.fts[k]))
	}
	return r.rtyper.indirectCall(hop, fnptr, r.s.Descs[0].(*description.FunctionDesc), ordered, nil)
}

// ============================================================================
// 方法
// ============================================================================

// MethodsPBCRepr 绑定到实例的方法；值就是 self
type MethodsPBCRepr struct {
	rtyper *RTyper
	s      *annotation.PBC
	self   *InstanceRepr
	name   string
	funcs  []*description.FunctionDesc
}

func (rt *RTyper) newMethodsPBCRepr(s *annotation.PBC) (*MethodsPBCRepr, error) {
	r := &MethodsPBCRepr{rtyper: rt, s: s}
	var common *description.ClassDef
	seen := make(map[*description.FunctionDesc]bool)
	for i, d := range s.Descs {
		md := d.(*description.MethodDesc)
		if md.SelfClassDef == nil {
			return nil, errs.NewTyperError(errs.T0001, "unbound method %s", md)
		}
		if i == 0 {
			common = md.SelfClassDef
			r.name = md.Name
		} else {
			common = common.CommonBase(md.SelfClassDef)
			if md.Name != r.name {
				return nil, errs.NewTyperError(errs.T0001, "methods with different names in %s", s)
			}
		}
		if !seen[md.FuncDesc] {
			seen[md.FuncDesc] = true
			r.funcs = append(r.funcs, md.FuncDesc)
		}
	}
	self, err := rt.getInstanceRepr(common)
	if err != nil {
		return nil, err
	}
	r.self = self
	return r, nil
}

func (r *MethodsPBCRepr) LowLevelType() lltype.Type { return r.self.ptr }
func (r *MethodsPBCRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.self.ptr) }
func (r *MethodsPBCRepr) String() string            { return "MethodsPBCRepr(" + r.name + ")" }

func (r *MethodsPBCRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	return nil, errs.NewTyperError(errs.T0002, "bound method %s cannot be a prebuilt constant", r.name)
}

func (r *MethodsPBCRepr) convertFrom(llops *LowLevelOpList, v flowmodel.Hlvalue, rFrom Repr) (flowmodel.Hlvalue, error) {
	switch from := rFrom.(type) {
	case *MethodsPBCRepr:
		return r.self.convertFrom(llops, v, from.self)
	case *InstanceRepr:
		return r.self.convertFrom(llops, v, from)
	}
	return nil, errNoMethod
}

func (r *MethodsPBCRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "simple_call", "call_args":
		return r.rtypeCall(hop)
	case "bool":
		return flowmodel.NewTypedConstant(true, lltype.Bool), nil
	}
	return nil, errNoMethod
}

func (r *MethodsPBCRepr) rtypeCall(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	rt := r.rtyper
	args, err := rt.callArgsOf(hop)
	if err != nil {
		return nil, err
	}
	vself, err := hop.InputArg(r.self, 0)
	if err != nil {
		return nil, err
	}
	self := &actualArg{idx: -1, v: vself, r: r.self}
	if len(r.funcs) == 1 {
		md := r.s.Descs[0].(*description.MethodDesc)
		g, err := md.GetGraph(args, hop.Op)
		if err != nil {
			return nil, err
		}
		return rt.directCall(hop, md.FuncDesc, g, self)
	}
	// 多个实现：从 self 的虚表读取方法指针
	var graphs []*flowmodel.FunctionGraph
	for _, d := range r.s.Descs {
		g, err := d.(*description.MethodDesc).GetGraph(args, hop.Op)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, errs.NewTyperError(errs.T0001, "method %s is evaluated at compile time and cannot be dispatched", r.name)
		}
		graphs = append(graphs, g)
	}
	tp := r.self.getTypePtr(hop.LLOps, vself)
	fnptr, _, err := r.self.rclass.getClassAttr(hop.LLOps, tp, r.name)
	if err != nil {
		return nil, err
	}
	return rt.indirectCall(hop, fnptr, r.funcs[0], graphs, self)
}

// ============================================================================
// 类
// ============================================================================

// ClassesPBCRepr 类集合；单个类为 Void，否则是根虚表指针
type ClassesPBCRepr struct {
	rtyper *RTyper
	s      *annotation.PBC
	// common 所有类的公共基类
	common *description.ClassDef
}

func (rt *RTyper) newClassesPBCRepr(s *annotation.PBC) (*ClassesPBCRepr, error) {
	r := &ClassesPBCRepr{rtyper: rt, s: s}
	for i, d := range s.Descs {
		cd, err := d.(*description.ClassDesc).GetUniqueClassDef()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			r.common = cd
		} else {
			r.common = r.common.CommonBase(cd)
		}
	}
	return r, nil
}

func (r *ClassesPBCRepr) LowLevelType() lltype.Type {
	if singleConstant(r.s) {
		return lltype.Void
	}
	return r.rtyper.rootClassRepr().ptr
}

func (r *ClassesPBCRepr) nullValue() lltype.Value {
	return lltype.NullPtr(r.rtyper.rootClassRepr().ptr)
}

func (r *ClassesPBCRepr) String() string        { return "ClassesPBCRepr(" + r.s.String() + ")" }
func (r *ClassesPBCRepr) constant() interface{} { return r.s.Const() }

func (r *ClassesPBCRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if singleConstant(r.s) {
		return nil, nil
	}
	return r.rtyper.rootClassRepr().ConvertConst(value)
}

// vtable 类对象的根虚表指针（单个类时是常量）
func (r *ClassesPBCRepr) vtable(hop *HighLevelOp, i int) (flowmodel.Hlvalue, error) {
	return hop.InputArg(r.rtyper.rootClassRepr(), i)
}

func (r *ClassesPBCRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "simple_call", "call_args":
		return r.rtypeCall(hop)
	case "getattr":
		attr, err := hop.constString(1)
		if err != nil {
			return nil, err
		}
		vcls, err := r.vtable(hop, 0)
		if err != nil {
			return nil, err
		}
		cr, err := r.rtyper.getClassRepr(r.common)
		if err != nil {
			return nil, err
		}
		v, rep, err := cr.getClassAttr(hop.LLOps, vcls, attr)
		if err != nil {
			return nil, err
		}
		return hop.LLOps.convertVar(v, rep, hop.RResult)
	case "issubtype":
		return r.rtyper.rootClassRepr().rtypeOp(hop)
	}
	return nil, errNoMethod
}

func (r *ClassesPBCRepr) rtypeCall(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	rt := r.rtyper
	if !singleConstant(r.s) {
		return r.rtypeVariableCall(hop)
	}
	desc := r.s.Descs[0].(*description.ClassDesc)
	inst, ok := hop.SResult.(*annotation.Instance)
	if !ok {
		return nil, errs.NewTyperError(errs.T0001, "calling %s does not produce an instance", desc.Name)
	}
	cd := inst.ClassDef.(*description.ClassDef)
	ir, err := rt.getInstanceRepr(cd)
	if err != nil {
		return nil, err
	}
	v, err := ir.newInstance(hop.LLOps)
	if err != nil {
		return nil, err
	}
	sInit, err := desc.SReadAttribute("__init__")
	if err != nil {
		return nil, err
	}
	if pbc, ok := sInit.(*annotation.PBC); ok && len(pbc.Descs) == 1 {
		if fd, ok := pbc.Descs[0].(*description.FunctionDesc); ok {
			args, err := rt.callArgsOf(hop)
			if err != nil {
				return nil, err
			}
			md := rt.bk.GetMethodDesc(fd, cd, cd, "__init__", nil)
			g, err := md.GetGraph(args, hop.Op)
			if err != nil {
				return nil, err
			}
			if g == nil {
				return nil, errs.NewTyperError(errs.T0001, "%s.__init__ has no graph", desc.Name)
			}
			if _, _, err := rt.callGraph(hop, fd, g, &actualArg{idx: -1, v: v, r: ir}); err != nil {
				return nil, err
			}
		}
	}
	return hop.LLOps.convertVar(v, ir, hop.RResult)
}

// rtypeVariableCall 调用编译期未知的类：只支持没有 __init__ 的类，经由虚表的 instantiate
func (r *ClassesPBCRepr) rtypeVariableCall(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	rt := r.rtyper
	for _, d := range r.s.Descs {
		s, err := d.(*description.ClassDesc).SReadAttribute("__init__")
		if err != nil {
			return nil, err
		}
		if _, ok := s.(*annotation.PBC); ok {
			return nil, errs.NewTyperError(errs.T0001, "calling a variable class with __init__ (%s)", r.s)
		}
	}
	if hop.NArgs() > 1 {
		return nil, errs.NewTyperError(errs.T0001, "classes in %s take no arguments", r.s)
	}
	vcls, err := r.vtable(hop, 0)
	if err != nil {
		return nil, err
	}
	return rt.instantiateVia(hop, vcls)
}

// instantiateVia 调用虚表中的 instantiate 函数指针
func (rt *RTyper) instantiateVia(hop *HighLevelOp, vcls flowmodel.Hlvalue) (flowmodel.Hlvalue, error) {
	root := rt.rootClassRepr()
	rootInst, err := rt.getInstanceRepr(nil)
	if err != nil {
		return nil, err
	}
	ft := lltype.NewFuncType(nil, rootInst.ptr)
	fnptr := hop.Genop("getfield", []flowmodel.Hlvalue{vcls, voidConst("instantiate")}, root.vtable.Fields[3].Type)
	res := hop.Genop("indirect_call", []flowmodel.Hlvalue{fnptr, voidConst(nil)}, ft.Result)
	return hop.LLOps.convertVar(res, rootInst, hop.RResult)
}

// ============================================================================
// 冻结实例
// ============================================================================

// FrozenPBCRepr 冻结的预构建实例集合
type FrozenPBCRepr struct {
	rtyper *RTyper
	s      *annotation.PBC
	st     *lltype.Struct
	ptr    *lltype.Ptr
	fields map[string]*classField
	order  []string

	prebuilt map[*program.Instance]*lltype.PtrValue
}

func (rt *RTyper) newFrozenPBCRepr(s *annotation.PBC) (*FrozenPBCRepr, error) {
	return &FrozenPBCRepr{
		rtyper:   rt,
		s:        s,
		fields:   make(map[string]*classField),
		prebuilt: make(map[*program.Instance]*lltype.PtrValue),
	}, nil
}

func (r *FrozenPBCRepr) setup() error {
	if singleConstant(r.s) {
		return nil
	}
	fam := r.s.Descs[0].(*description.FrozenDesc).AttrFamily()
	var fields []lltype.Field
	for _, name := range fam.AttrNames() {
		rep, err := r.rtyper.GetRepr(fam.Attrs[name])
		if err != nil {
			return err
		}
		if rep.LowLevelType() == lltype.Void {
			continue
		}
		f := &classField{name: "f_" + name, repr: rep}
		r.fields[name] = f
		r.order = append(r.order, name)
		fields = append(fields, lltype.Field{Name: f.name, Type: rep.LowLevelType()})
	}
	r.st = lltype.NewStruct(r.rtyper.uniqueName("pbc"), fields, lltype.StructHints{Immutable: true})
	r.ptr = lltype.NewPtr(r.st)
	return nil
}

func (r *FrozenPBCRepr) LowLevelType() lltype.Type {
	if r.ptr == nil {
		return lltype.Void
	}
	return r.ptr
}

func (r *FrozenPBCRepr) nullValue() lltype.Value {
	if r.ptr == nil {
		return nil
	}
	return lltype.NullPtr(r.ptr)
}

func (r *FrozenPBCRepr) String() string        { return "FrozenPBCRepr(" + r.s.String() + ")" }
func (r *FrozenPBCRepr) constant() interface{} { return r.s.Const() }

func (r *FrozenPBCRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if r.ptr == nil {
		return nil, nil
	}
	if value == nil || value == program.None {
		return lltype.NullPtr(r.ptr), nil
	}
	inst, ok := value.(*program.Instance)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T is not a frozen instance", value)
	}
	if p, ok := r.prebuilt[inst]; ok {
		return p, nil
	}
	d, err := r.rtyper.bk.GetDesc(inst)
	if err != nil {
		return nil, err
	}
	fd := d.(*description.FrozenDesc)
	p, err := lltype.Malloc(r.st, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	r.prebuilt[inst] = p
	for _, name := range r.order {
		f := r.fields[name]
		raw, ok := fd.ReadAttribute(name)
		if !ok {
			continue
		}
		v, err := f.repr.ConvertConst(raw)
		if err != nil {
			return nil, err
		}
		p.Obj.Fields[r.st.FieldIndex(f.name)] = v
	}
	return p, nil
}

func (r *FrozenPBCRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.Name() != "getattr" {
		return nil, errNoMethod
	}
	attr, err := hop.constString(1)
	if err != nil {
		return nil, err
	}
	f, ok := r.fields[attr]
	if !ok || r.ptr == nil {
		if hop.SResult != nil && hop.SResult.IsConstant() {
			return inputConst(hop.RResult, hop.SResult.Const())
		}
		return nil, errs.NewTyperError(errs.T0001, "%s has no attribute %q", r, attr)
	}
	v, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	res := hop.Genop("getfield", []flowmodel.Hlvalue{v, voidConst(f.name)}, f.repr.LowLevelType())
	return hop.LLOps.convertVar(res, f.repr, hop.RResult)
}

// ============================================================================
// 冻结实例的方法
// ============================================================================

// MethodOfFrozenPBCRepr 绑定到冻结实例的方法；值是冻结实例本身
type MethodOfFrozenPBCRepr struct {
	rtyper *RTyper
	s      *annotation.PBC
	fd     *description.FunctionDesc
	// self 冻结实例集合的表示
	self Repr
}

func (rt *RTyper) newMethodOfFrozenPBCRepr(s *annotation.PBC) (*MethodOfFrozenPBCRepr, error) {
	r := &MethodOfFrozenPBCRepr{rtyper: rt, s: s}
	var selves []annotation.Desc
	for _, d := range s.Descs {
		md := d.(*description.MethodOfFrozenDesc)
		if r.fd == nil {
			r.fd = md.FuncDesc
		} else if r.fd != md.FuncDesc {
			return nil, errs.NewTyperError(errs.T0001, "different functions bound to frozen instances in %s", s)
		}
		selves = append(selves, md.FrozenDesc)
	}
	self, err := rt.GetRepr(annotation.NewPBC(selves, s.Nullable))
	if err != nil {
		return nil, err
	}
	r.self = self
	return r, nil
}

func (r *MethodOfFrozenPBCRepr) LowLevelType() lltype.Type { return r.self.LowLevelType() }
func (r *MethodOfFrozenPBCRepr) String() string {
	return "MethodOfFrozenPBCRepr(" + r.fd.Name + ")"
}

func (r *MethodOfFrozenPBCRepr) constant() interface{} {
	if singleConstant(r.s) {
		return r.s.Descs[0].(*description.MethodOfFrozenDesc).FrozenDesc.Value
	}
	return nil
}

func (r *MethodOfFrozenPBCRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if bm, ok := value.(*program.BoundMethod); ok {
		return r.self.ConvertConst(bm.Self)
	}
	return r.self.ConvertConst(value)
}

func (r *MethodOfFrozenPBCRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.Name() != "simple_call" && hop.Name() != "call_args" {
		return nil, errNoMethod
	}
	args, err := r.rtyper.callArgsOf(hop)
	if err != nil {
		return nil, err
	}
	md := r.s.Descs[0].(*description.MethodOfFrozenDesc)
	g, err := md.GetGraph(args, hop.Op)
	if err != nil {
		return nil, err
	}
	var self *actualArg
	if singleConstant(r.s) {
		self = &actualArg{isRaw: true, raw: md.FrozenDesc.Value}
	} else {
		v, err := hop.InputArg(r.self, 0)
		if err != nil {
			return nil, err
		}
		self = &actualArg{idx: -1, v: v, r: r.self}
	}
	return r.rtyper.directCall(hop, r.fd, g, self)
}
