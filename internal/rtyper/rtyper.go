// Package rtyper 把注解后的流图改写为只含低层操作的流图
//
// 类型化分三步：
//  1. 给类定义分配先序编号区间，规范化调用族（同一调用表行的流图共享签名）；
//  2. 剪掉注解器没有走过的出口；
//  3. 逐块把高层操作交给参数的表示改写，并在链接上插入表示转换。
//
// 改写后每个变量都带有具体的低层类型。
package rtyper

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/annotator"
	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/lltype"
)

// RTyper 类型化器
type RTyper struct {
	Annotator *annotator.Annotator
	bk        *description.Bookkeeper
	cfg       config.TranslationConfig
	gc        gcpolicy.Policy
	log       *zap.Logger

	reprs         map[string]Repr
	classReprs    map[*description.ClassDef]*ClassRepr
	instanceReprs map[*description.ClassDef]*InstanceRepr

	callables map[*flowmodel.FunctionGraph]*lltype.PtrValue
	helpers   map[string]*lltype.PtrValue
	helperSeq []string
	names     map[string]int

	// rtti 带终结器的实例结构体
	rtti map[*lltype.Struct]*gcpolicy.RTTI
	// finalizers 终结器流图，用于轻量终结器分析
	finalizers map[*lltype.Struct]*flowmodel.FunctionGraph

	specialized bool
}

// New 创建类型化器；policy 为 nil 时按配置中的 GC 名字创建
func New(a *annotator.Annotator, cfg config.TranslationConfig, policy gcpolicy.Policy, log *zap.Logger) (*RTyper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == nil {
		name := cfg.GC
		if name == "" {
			name = "framework"
		}
		p, err := gcpolicy.New(name, gcpolicy.Options{RemoveTypePtr: cfg.NoTypePtr})
		if err != nil {
			return nil, err
		}
		policy = p
	}
	return &RTyper{
		Annotator:     a,
		bk:            a.Bookkeeper,
		cfg:           cfg,
		gc:            policy,
		log:           log.Named("rtyper"),
		reprs:         make(map[string]Repr),
		classReprs:    make(map[*description.ClassDef]*ClassRepr),
		instanceReprs: make(map[*description.ClassDef]*InstanceRepr),
		callables:     make(map[*flowmodel.FunctionGraph]*lltype.PtrValue),
		helpers:       make(map[string]*lltype.PtrValue),
		names:         make(map[string]int),
		rtti:          make(map[*lltype.Struct]*gcpolicy.RTTI),
		finalizers:    make(map[*lltype.Struct]*flowmodel.FunctionGraph),
	}, nil
}

// GCPolicy 使用的 GC 策略
func (rt *RTyper) GCPolicy() gcpolicy.Policy { return rt.gc }

// uniqueName 低层结构体按名字区分，同名时加编号
func (rt *RTyper) uniqueName(base string) string {
	n := rt.names[base]
	rt.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// ============================================================================
// 表示
// ============================================================================

func (rt *RTyper) binding(v flowmodel.Hlvalue) annotation.SomeValue {
	s := rt.Annotator.Binding(v)
	if s == nil {
		return annotation.SImpossible
	}
	return s
}

// GetRepr 注解对应的表示；同一注解键只构造一次
func (rt *RTyper) GetRepr(s annotation.SomeValue) (Repr, error) {
	if s == nil {
		return impossibleRepr, nil
	}
	key := reprKey(s)
	if r, ok := rt.reprs[key]; ok {
		return r, nil
	}
	r, err := rt.makeRepr(s)
	if err != nil {
		return nil, err
	}
	// 先登记再 setup：递归结构在 setup 中会再次请求自己
	rt.reprs[key] = r
	if su, ok := r.(setupRepr); ok {
		if err := su.setup(); err != nil {
			delete(rt.reprs, key)
			return nil, err
		}
	}
	return r, nil
}

// BindingRepr 变量当前注解的表示
func (rt *RTyper) BindingRepr(v flowmodel.Hlvalue) (Repr, error) {
	return rt.GetRepr(rt.binding(v))
}

func (rt *RTyper) makeRepr(s annotation.SomeValue) (Repr, error) {
	switch v := s.(type) {
	case *annotation.Impossible:
		return impossibleRepr, nil
	case *annotation.None:
		return noneRepr, nil
	case *annotation.Bool:
		return boolRepr, nil
	case *annotation.Integer:
		return integerRepr(v), nil
	case *annotation.Float:
		return floatRepr, nil
	case *annotation.Char:
		return charRepr, nil
	case *annotation.UniChar:
		return unicharRepr, nil
	case *annotation.String:
		return rt.stringRepr(), nil
	case *annotation.Unicode:
		return rt.unicodeRepr(), nil
	case *annotation.Tuple:
		return rt.newTupleRepr(v)
	case *annotation.List:
		return rt.newListRepr(v)
	case *annotation.Dict:
		return rt.newDictRepr(v)
	case *annotation.Instance:
		cd, _ := v.ClassDef.(*description.ClassDef)
		return rt.getInstanceRepr(cd)
	case *annotation.Type:
		return rt.typeRepr(), nil
	case *annotation.PBC:
		return rt.newPBCRepr(v)
	case *annotation.Iterator:
		return rt.newIteratorRepr(v)
	case *annotation.Builtin:
		return rt.newBuiltinRepr(v)
	case *annotation.WeakRef:
		return rt.newWeakRefRepr(v)
	}
	return nil, errs.NewTyperError(errs.T0001, "no repr for %s", s)
}

// ============================================================================
// 函数指针与辅助函数
// ============================================================================

// GetCallable 流图对应的函数指针常量；签名由参数与返回值的表示决定
func (rt *RTyper) GetCallable(g *flowmodel.FunctionGraph) (*lltype.PtrValue, error) {
	if p, ok := rt.callables[g]; ok {
		return p, nil
	}
	ft, err := rt.graphFuncType(g)
	if err != nil {
		return nil, err
	}
	p := lltype.FunctionPtr(ft, g.Name, g)
	rt.callables[g] = p
	return p, nil
}

func (rt *RTyper) graphFuncType(g *flowmodel.FunctionGraph) (*lltype.FuncType, error) {
	args := g.GetArgs()
	argTypes := make([]lltype.Type, len(args))
	for i, a := range args {
		r, err := rt.BindingRepr(a)
		if err != nil {
			return nil, err
		}
		argTypes[i] = r.LowLevelType()
	}
	rr, err := rt.BindingRepr(g.GetReturnVar())
	if err != nil {
		return nil, err
	}
	return lltype.NewFuncType(argTypes, rr.LowLevelType()), nil
}

// helper 运行时辅助函数；同名辅助函数第一次出现时确定签名
func (rt *RTyper) helper(name string, ft *lltype.FuncType) *lltype.PtrValue {
	if p, ok := rt.helpers[name]; ok && lltype.Equal(p.T.To, ft) {
		return p
	}
	key := name
	if _, ok := rt.helpers[name]; ok {
		// 不同签名的同名辅助函数（按元素类型特化）
		key = fmt.Sprintf("%s%s", name, ft)
		if p, ok := rt.helpers[key]; ok {
			return p
		}
	}
	p := lltype.FunctionPtr(ft, name, nil)
	rt.helpers[key] = p
	rt.helperSeq = append(rt.helperSeq, key)
	return p
}

// Helpers 改写过程中用到的运行时辅助函数（按第一次使用的顺序）
func (rt *RTyper) Helpers() []*lltype.PtrValue {
	out := make([]*lltype.PtrValue, len(rt.helperSeq))
	for i, k := range rt.helperSeq {
		out[i] = rt.helpers[k]
	}
	return out
}

// RTTI 带终结器的 gc 结构体及其运行时类型信息
func (rt *RTyper) RTTI() map[*lltype.Struct]*gcpolicy.RTTI {
	return rt.rtti
}

// ============================================================================
// 主流程
// ============================================================================

// Specialize 类型化所有注解过的流图
func (rt *RTyper) Specialize() error {
	if rt.specialized {
		return nil
	}
	if err := rt.normalizeCallFamilies(); err != nil {
		return err
	}
	rt.assignClassIDs()
	graphs := rt.Annotator.Graphs()
	for _, g := range graphs {
		rt.simplifyExits(g)
	}
	// 先为所有类建立表示，保证虚表在改写前定型
	for _, cd := range rt.bk.ClassDefs {
		if _, err := rt.getInstanceRepr(cd); err != nil {
			return err
		}
	}
	for _, g := range graphs {
		if err := rt.specializeGraph(g); err != nil {
			return err
		}
	}
	if err := rt.checkFinalizers(); err != nil {
		return err
	}
	rt.specialized = true
	rt.log.Info("rtyping complete",
		zap.Int("graphs", len(graphs)),
		zap.Int("reprs", len(rt.reprs)),
		zap.Int("helpers", len(rt.helperSeq)))
	return nil
}

// assignClassIDs 对类层次做先序遍历：进入时分配 MinID，
// 子类全部编号后 MaxID 为下一个未用编号，子类区间嵌套在父类区间内
func (rt *RTyper) assignClassIDs() {
	var roots []*description.ClassDef
	for _, cd := range rt.bk.ClassDefs {
		if cd.Base == nil {
			roots = append(roots, cd)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID() < roots[j].ID() })
	next := 0
	var visit func(cd *description.ClassDef)
	visit = func(cd *description.ClassDef) {
		cd.MinID = next
		next++
		for _, sub := range cd.SubDefs {
			visit(sub)
		}
		cd.MaxID = next
	}
	for _, r := range roots {
		visit(r)
	}
}

// normalizeCallFamilies 同一调用表行中的流图共享参数与返回值的注解，
// 这样它们可以通过同一个函数指针类型调用
func (rt *RTyper) normalizeCallFamilies() error {
	for round := 0; ; round++ {
		changed := false
		for _, fam := range rt.bk.CallFamilies() {
			for _, shape := range fam.Shapes() {
				for _, row := range fam.CallTables[shape] {
					c, err := rt.normalizeRow(row)
					if err != nil {
						return err
					}
					changed = changed || c
				}
			}
		}
		if !changed {
			return nil
		}
		if err := rt.Annotator.Complete(); err != nil {
			return err
		}
		if round > 8 {
			return errs.NewTyperError(errs.T0002, "call family normalization does not converge")
		}
	}
}

func (rt *RTyper) normalizeRow(row description.Row) (bool, error) {
	var graphs []*flowmodel.FunctionGraph
	seen := make(map[*flowmodel.FunctionGraph]bool)
	for _, d := range sortedRowDescs(row) {
		g := row[d]
		if g != nil && !seen[g] {
			seen[g] = true
			graphs = append(graphs, g)
		}
	}
	if len(graphs) < 2 {
		return false, nil
	}
	n := len(graphs[0].GetArgs())
	for _, g := range graphs[1:] {
		if len(g.GetArgs()) != n {
			return false, errs.NewTyperError(errs.T0002, "%s and %s are called through the same pointer but take %d and %d arguments",
				graphs[0].Name, g.Name, n, len(g.GetArgs()))
		}
	}
	cells := make([]annotation.SomeValue, n)
	for i := 0; i < n; i++ {
		var vals []annotation.SomeValue
		for _, g := range graphs {
			vals = append(vals, rt.binding(g.GetArgs()[i]))
		}
		u, err := annotation.UnionOf(vals...)
		if err != nil {
			return false, err
		}
		cells[i] = u
	}
	changed := false
	for _, g := range graphs {
		for i, a := range g.GetArgs() {
			if !annotation.Equal(rt.binding(a), cells[i]) {
				changed = true
				if err := rt.Annotator.AddPendingBlock(g, g.StartBlock, cells); err != nil {
					return false, err
				}
				break
			}
		}
	}
	var rets []annotation.SomeValue
	for _, g := range graphs {
		rets = append(rets, rt.binding(g.GetReturnVar()))
	}
	ret, err := annotation.UnionOf(rets...)
	if err != nil {
		return false, err
	}
	for _, g := range graphs {
		if err := rt.Annotator.Generalize(g.GetReturnVar(), ret); err != nil {
			return false, err
		}
	}
	return changed, nil
}

func sortedRowDescs(row description.Row) []annotation.Desc {
	out := make([]annotation.Desc, 0, len(row))
	for d := range row {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// simplifyExits 剪掉没有走过的出口
func (rt *RTyper) simplifyExits(g *flowmodel.FunctionGraph) {
	for _, b := range g.Blocks() {
		if b.IsFinal() || !rt.Annotator.Annotated(b) || len(b.Exits) < 2 {
			continue
		}
		if b.CanRaise() {
			kept := []*flowmodel.Link{b.Exits[0]}
			for _, l := range b.Exits[1:] {
				if rt.Annotator.LinkFollowed(l) {
					kept = append(kept, l)
				}
			}
			b.Exits = kept
			if len(kept) == 1 {
				b.ExitSwitch = nil
				kept[0].ExitCase = nil
			}
			continue
		}
		var kept []*flowmodel.Link
		for _, l := range b.Exits {
			if rt.Annotator.LinkFollowed(l) {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			continue
		}
		b.Exits = kept
		if len(kept) == 1 {
			b.ExitSwitch = nil
			kept[0].ExitCase = nil
		}
	}
}

// ============================================================================
// 流图与块
// ============================================================================

func (rt *RTyper) specializeGraph(g *flowmodel.FunctionGraph) error {
	exc, err := rt.exceptionReprs()
	if err != nil {
		return err
	}
	g.ExceptBlock.InputArgs[0].Concrete = exc[0].LowLevelType()
	g.ExceptBlock.InputArgs[1].Concrete = exc[1].LowLevelType()
	rr, err := rt.BindingRepr(g.GetReturnVar())
	if err != nil {
		return err
	}
	g.GetReturnVar().Concrete = rr.LowLevelType()

	for _, b := range g.Blocks() {
		if b.IsFinal() || !rt.Annotator.Annotated(b) {
			continue
		}
		if err := rt.specializeBlock(g, b); err != nil {
			return err
		}
	}
	return nil
}

// exceptionReprs 异常块两个入参的表示：类型与根实例
func (rt *RTyper) exceptionReprs() ([2]Repr, error) {
	root, err := rt.getInstanceRepr(nil)
	if err != nil {
		return [2]Repr{}, err
	}
	return [2]Repr{rt.typeRepr(), root}, nil
}

// inputArgRepr 块入参的表示；异常块使用固定表示
func (rt *RTyper) inputArgRepr(g *flowmodel.FunctionGraph, b *flowmodel.Block, i int) (Repr, error) {
	if b == g.ExceptBlock {
		exc, err := rt.exceptionReprs()
		if err != nil {
			return nil, err
		}
		return exc[i], nil
	}
	return rt.BindingRepr(b.InputArgs[i])
}

func position(g *flowmodel.FunctionGraph, b *flowmodel.Block, i int) errs.Position {
	return errs.Position{Graph: g.Name, Block: b.ID, Op: i}
}

func (rt *RTyper) specializeBlock(g *flowmodel.FunctionGraph, b *flowmodel.Block) error {
	for i, v := range b.InputArgs {
		r, err := rt.inputArgRepr(g, b, i)
		if err != nil {
			return err
		}
		v.Concrete = r.LowLevelType()
	}
	ops := b.Operations
	var newOps []*flowmodel.SpaceOperation
	var moved []*flowmodel.SpaceOperation
	for i, op := range ops {
		raising := b.CanRaise() && i == len(ops)-1
		var excLinks []*flowmodel.Link
		if raising {
			excLinks = b.Exits[1:]
		}
		llops := newLowLevelOpList(rt)
		pos := position(g, b, i)
		hop, err := rt.newHighLevelOp(op, excLinks, llops, pos)
		if err != nil {
			return atPosition(err, pos)
		}
		if err := rt.translateHop(hop); err != nil {
			return atPosition(err, pos)
		}
		if raising {
			switch {
			case hop.exceptionCannotOccur || len(llops.Ops) == 0:
				b.Exits = b.Exits[:1]
				b.Exits[0].ExitCase = nil
				b.ExitSwitch = nil
			case hop.raiseIdx >= 0 && hop.raiseIdx < len(llops.Ops)-1:
				moved = llops.Ops[hop.raiseIdx+1:]
				llops.Ops = llops.Ops[:hop.raiseIdx+1]
			}
		}
		newOps = append(newOps, llops.Ops...)
	}
	b.Operations = newOps
	for _, l := range append([]*flowmodel.Link(nil), b.Exits...) {
		if err := rt.specializeLink(g, l); err != nil {
			return atPosition(err, position(g, b, -1))
		}
	}
	if len(moved) > 0 {
		rt.splitAfterRaisingOp(b, moved)
	}
	if b.ExitSwitch != nil {
		if v, ok := b.ExitSwitch.(*flowmodel.Variable); ok && v.Concrete == nil {
			r, err := rt.BindingRepr(v)
			if err != nil {
				return err
			}
			v.Concrete = r.LowLevelType()
		}
	}
	return nil
}

// splitAfterRaisingOp 可能抛出异常的低层操作之后的操作移到正常出口上的新块
func (rt *RTyper) splitAfterRaisingOp(b *flowmodel.Block, moved []*flowmodel.SpaceOperation) {
	normal := b.Exits[0]
	defined := make(map[*flowmodel.Variable]bool)
	for _, op := range moved {
		defined[op.Result] = true
	}
	var live []*flowmodel.Variable
	seen := make(map[*flowmodel.Variable]bool)
	use := func(v flowmodel.Hlvalue) {
		if x, ok := v.(*flowmodel.Variable); ok && !defined[x] && !seen[x] {
			seen[x] = true
			live = append(live, x)
		}
	}
	for _, op := range moved {
		for _, a := range op.Args {
			use(a)
		}
	}
	for _, a := range normal.Args {
		use(a)
	}
	renaming := make(map[*flowmodel.Variable]flowmodel.Hlvalue, len(live))
	inputs := make([]*flowmodel.Variable, len(live))
	linkArgs := make([]flowmodel.Hlvalue, len(live))
	for i, v := range live {
		c := v.Copy()
		c.Concrete = v.Concrete
		renaming[v] = c
		inputs[i] = c
		linkArgs[i] = v
	}
	rename := func(v flowmodel.Hlvalue) flowmodel.Hlvalue {
		if x, ok := v.(*flowmodel.Variable); ok {
			if r, ok := renaming[x]; ok {
				return r
			}
		}
		return v
	}
	nb := flowmodel.NewBlock(inputs)
	for _, op := range moved {
		for i, a := range op.Args {
			op.Args[i] = rename(a)
		}
		nb.Operations = append(nb.Operations, op)
	}
	outArgs := make([]flowmodel.Hlvalue, len(normal.Args))
	for i, a := range normal.Args {
		outArgs[i] = rename(a)
	}
	nb.CloseBlock(flowmodel.NewLink(outArgs, normal.Target, nil))
	normal.Args = linkArgs
	normal.Target = nb
}

// specializeLink 把链接实参转换为目标块入参的表示；需要转换操作时在链接上插入一个块
func (rt *RTyper) specializeLink(g *flowmodel.FunctionGraph, l *flowmodel.Link) error {
	llops := newLowLevelOpList(rt)
	newArgs := make([]flowmodel.Hlvalue, len(l.Args))
	for i, a := range l.Args {
		rTo, err := rt.inputArgRepr(g, l.Target, i)
		if err != nil {
			return err
		}
		switch v := a.(type) {
		case *flowmodel.Constant:
			if v.ConcreteType() != nil {
				newArgs[i] = v
				continue
			}
			c, err := inputConst(rTo, v.Value)
			if err != nil {
				return err
			}
			newArgs[i] = c
		case *flowmodel.Variable:
			var rFrom Repr
			if v == l.LastException {
				rFrom = rt.typeRepr()
			} else {
				rFrom, err = rt.BindingRepr(v)
				if err != nil {
					return err
				}
			}
			if v.Concrete == nil {
				v.Concrete = rFrom.LowLevelType()
			}
			out, err := llops.convertVar(v, rFrom, rTo)
			if err != nil {
				return err
			}
			newArgs[i] = out
		default:
			newArgs[i] = a
		}
	}
	if llops.err != nil {
		return llops.err
	}
	if len(llops.Ops) == 0 {
		l.Args = newArgs
		return nil
	}
	// 转换块：原实参作为入参，转换后跳到原目标
	renaming := make(map[*flowmodel.Variable]*flowmodel.Variable)
	var inputs []*flowmodel.Variable
	var linkArgs []flowmodel.Hlvalue
	for _, a := range l.Args {
		if v, ok := a.(*flowmodel.Variable); ok {
			if _, dup := renaming[v]; dup {
				continue
			}
			c := v.Copy()
			c.Concrete = v.Concrete
			renaming[v] = c
			inputs = append(inputs, c)
			linkArgs = append(linkArgs, v)
		}
	}
	rename := func(h flowmodel.Hlvalue) flowmodel.Hlvalue {
		if v, ok := h.(*flowmodel.Variable); ok {
			if c, ok := renaming[v]; ok {
				return c
			}
		}
		return h
	}
	nb := flowmodel.NewBlock(inputs)
	for _, op := range llops.Ops {
		for i, a := range op.Args {
			op.Args[i] = rename(a)
		}
		nb.Operations = append(nb.Operations, op)
	}
	for i, a := range newArgs {
		newArgs[i] = rename(a)
	}
	nb.CloseBlock(flowmodel.NewLink(newArgs, l.Target, nil))
	l.Args = linkArgs
	l.Target = nb
	return nil
}

func atPosition(err error, pos errs.Position) error {
	if te, ok := err.(*errs.TyperError); ok {
		return te.At(pos)
	}
	return err
}

// ============================================================================
// 操作
// ============================================================================

// pureOps 结果注解为常量时可以直接替换为常量的操作
var pureOps = map[string]bool{
	"add": true, "sub": true, "mul": true, "floordiv": true, "div": true, "mod": true,
	"truediv": true, "and_": true, "or_": true, "xor": true, "lshift": true, "rshift": true,
	"add_ovf": true, "sub_ovf": true, "mul_ovf": true, "lshift_ovf": true,
	"lt": true, "le": true, "eq": true, "ne": true, "gt": true, "ge": true,
	"is_": true, "bool": true, "neg": true, "pos": true, "abs": true, "invert": true,
	"len": true, "type": true, "issubtype": true, "same_as": true, "hint": true,
	"int": true, "float": true, "ord": true, "getattr": true,
}

// pureBuiltins 结果为常量时可以折叠的内建调用
var pureBuiltins = map[string]bool{
	"isinstance": true, "issubclass": true, "we_are_translated": true, "len": true,
}

func (rt *RTyper) isFoldable(hop *HighLevelOp) bool {
	if hop.SResult == nil || !hop.SResult.IsConstant() {
		return false
	}
	if pureOps[hop.opname] {
		return true
	}
	if hop.opname == "simple_call" && len(hop.ArgsS) > 0 {
		if b, ok := hop.ArgsS[0].(*annotation.Builtin); ok && b.Self == nil {
			return pureBuiltins[b.Name]
		}
	}
	return false
}

// translateHop 改写一个高层操作，结果写入原操作的结果变量
func (rt *RTyper) translateHop(hop *HighLevelOp) error {
	var (
		res flowmodel.Hlvalue
		err error
	)
	if rt.isFoldable(hop) {
		res, err = inputConst(hop.RResult, hop.SResult.Const())
		hop.ExceptionCannotOccur()
	} else {
		res, err = rt.dispatch(hop)
	}
	if err != nil {
		return err
	}
	llops := hop.LLOps
	if llops.err != nil {
		return llops.err
	}
	if hop.raiseIdx < 0 && len(hop.exceptionLinks) > 0 && len(llops.Ops) > 0 {
		hop.raiseIdx = len(llops.Ops) - 1
	}
	resultType := hop.RResult.LowLevelType()
	result := hop.Op.Result
	if res == nil {
		res = voidConst(nil)
		if resultType != lltype.Void {
			return errs.NewTyperError(errs.T0002, "%s produced no value for %s", hop.opname, hop.RResult)
		}
	}
	if t := res.ConcreteType(); t != nil && !lltype.Equal(t, resultType) {
		return errs.NewTyperError(errs.T0002, "%s returned %s, expected %s", hop.opname, t, resultType)
	}
	n := len(llops.Ops)
	if v, ok := res.(*flowmodel.Variable); ok && n > 0 && llops.Ops[n-1].Result == v && !isInputOf(hop, v) {
		llops.Ops[n-1].Result = result
		result.Concrete = resultType
		return nil
	}
	result.Concrete = resultType
	llops.Ops = append(llops.Ops, flowmodel.NewOp("same_as", []flowmodel.Hlvalue{res}, result))
	return nil
}

func isInputOf(hop *HighLevelOp, v *flowmodel.Variable) bool {
	for _, a := range hop.Op.Args {
		if a == v {
			return true
		}
	}
	return false
}

func (rt *RTyper) dispatch(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	name := hop.opname
	switch name {
	case "newlist", "newdict", "newtuple":
		if nt, ok := hop.RResult.(newTyper); ok {
			return nt.rtypeNew(hop)
		}
		return nil, missing(hop, hop.RResult)
	case "same_as", "hint":
		return hop.InputArg(hop.RResult, 0)
	case "is_":
		if res, err := rt.lookupPair(hop); !isNoMethod(err) {
			return res, err
		}
		return rtypeIs(hop)
	}
	if len(hop.ArgsV) >= 2 {
		if res, err := rt.lookupPair(hop); !isNoMethod(err) {
			return res, err
		}
	}
	if len(hop.ArgsV) >= 1 {
		if t, ok := hop.ArgsR[0].(opTyper); ok {
			res, err := t.rtypeOp(hop)
			if !isNoMethod(err) {
				return res, err
			}
		}
		if name == "bool" {
			return rtypeGenericBool(hop)
		}
	}
	var r Repr = hop.RResult
	if len(hop.ArgsR) > 0 {
		r = hop.ArgsR[0]
	}
	return nil, missing(hop, r)
}

func (rt *RTyper) lookupPair(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	t, ok := pairTables[hop.opname]
	if !ok || len(hop.ArgsS) < 2 {
		return nil, errNoMethod
	}
	f, _, ok := t.Lookup(hop.ArgsS[0].Kind(), hop.ArgsS[1].Kind())
	if !ok {
		return nil, errNoMethod
	}
	return f(hop)
}

func isNoMethod(err error) bool {
	return err == errNoMethod
}

// newTyper 由结果表示构造容器的表示（newlist / newdict / newtuple）
type newTyper interface {
	rtypeNew(hop *HighLevelOp) (flowmodel.Hlvalue, error)
}

// rtypeIs 通用的身份比较
func rtypeIs(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r0, r1 := hop.ArgsR[0], hop.ArgsR[1]
	t0, t1 := r0.LowLevelType(), r1.LowLevelType()
	switch {
	case t0 == lltype.Void && t1 == lltype.Void:
		c0, _ := hop.constArg(0)
		c1, _ := hop.constArg(1)
		return flowmodel.NewTypedConstant(c0 == c1, lltype.Bool), nil
	case t1 == lltype.Void:
		v, err := hop.InputArg(r0, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("ptr_iszero", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	case t0 == lltype.Void:
		v, err := hop.InputArg(r1, 1)
		if err != nil {
			return nil, err
		}
		return hop.Genop("ptr_iszero", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	}
	v0, err := hop.InputArg(r0, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r0, 1)
	if err != nil {
		return nil, err
	}
	if _, ok := t0.(*lltype.Ptr); ok {
		return hop.Genop("ptr_eq", []flowmodel.Hlvalue{v0, v1}, lltype.Bool), nil
	}
	if p, ok := t0.(*lltype.Primitive); ok {
		return hop.Genop(primPrefix(p)+"eq", []flowmodel.Hlvalue{v0, v1}, lltype.Bool), nil
	}
	return nil, missing(hop, r0)
}

// rtypeGenericBool 常量或可空指针的真值
func rtypeGenericBool(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0]
	t := r.LowLevelType()
	if t == lltype.Void {
		c, _ := hop.constArg(0)
		return flowmodel.NewTypedConstant(truthy(c), lltype.Bool), nil
	}
	if _, ok := t.(*lltype.Ptr); ok {
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("ptr_nonzero", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	}
	return nil, missing(hop, r)
}

func truthy(c interface{}) bool {
	switch v := c.(type) {
	case nil, annotation.NoneValue:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	}
	return true
}
