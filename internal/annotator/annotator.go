// annotator.go - 注解器：流图上的前向数据流不动点
//
// 注解器为所有可达流图中的每个变量计算能安全描述其运行时取值集合的
// 最小注解。工作队列里放待分析的块；处理一个块时逐条折叠操作，
// 把结果注解并入结果变量。块的入参注解变大时块重新入队。
// 被调用函数的返回块处理完后，登记在它上面的调用位置被重新调度。
//
// 注解器本身不递归：分析调用只会把被调函数的入口块加入队列。
package annotator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-set/v3"
	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/config"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// blockedInference 块中某个操作暂时无法分析（参数或结果为 Impossible）
type blockedInference struct {
	op      *flowmodel.SpaceOperation
	opIndex int
}

func (e *blockedInference) Error() string {
	return fmt.Sprintf("blocked at %s", e.op)
}

// blockedAt 被阻塞块的位置
type blockedAt struct {
	graph   *flowmodel.FunctionGraph
	opIndex int
}

// CallEdge 调用图的一条边
type CallEdge struct {
	Caller *flowmodel.FunctionGraph
	Callee *flowmodel.FunctionGraph
	Block  *flowmodel.Block
	Index  int
}

// Annotator 注解器
type Annotator struct {
	Bookkeeper *description.Bookkeeper
	cfg        config.AnnotatorConfig
	log        *zap.Logger

	bindings map[*flowmodel.Variable]annotation.SomeValue

	// pending 待处理块；queue 保持入队顺序
	pending map[*flowmodel.Block]*flowmodel.FunctionGraph
	queue   []*flowmodel.Block
	// annotated 块的状态：不在表中表示从未见过，
	// 值为 nil 表示入参已绑定但操作还没分析完，否则为所属流图
	annotated map[*flowmodel.Block]*flowmodel.FunctionGraph
	blocked   map[*flowmodel.Block]blockedAt
	// notify 返回块处理完后需要重新分析的调用位置
	notify        map[*flowmodel.Block]*set.Set[flowmodel.PositionKey]
	linksFollowed map[*flowmodel.Link]bool

	graphs    []*flowmodel.FunctionGraph
	graphSeen map[*flowmodel.FunctionGraph]bool
	callGraph map[CallEdge]bool
	callSites []flowmodel.PositionKey
	callSeen  map[flowmodel.PositionKey]bool

	steps int
}

// New 创建注解器并挂到簿记器上；bk 为 nil 时使用默认策略新建
func New(bk *description.Bookkeeper, cfg config.AnnotatorConfig, log *zap.Logger) *Annotator {
	if log == nil {
		log = zap.NewNop()
	}
	if bk == nil {
		bk = description.NewBookkeeper(nil, nil, log)
	}
	if cfg.DefaultSpecializer != "" {
		bk.Policy.DefaultTag = cfg.DefaultSpecializer
	}
	a := &Annotator{
		Bookkeeper:    bk,
		cfg:           cfg,
		log:           log.Named("annotator"),
		bindings:      make(map[*flowmodel.Variable]annotation.SomeValue),
		pending:       make(map[*flowmodel.Block]*flowmodel.FunctionGraph),
		annotated:     make(map[*flowmodel.Block]*flowmodel.FunctionGraph),
		blocked:       make(map[*flowmodel.Block]blockedAt),
		notify:        make(map[*flowmodel.Block]*set.Set[flowmodel.PositionKey]),
		linksFollowed: make(map[*flowmodel.Link]bool),
		graphSeen:     make(map[*flowmodel.FunctionGraph]bool),
		callGraph:     make(map[CallEdge]bool),
		callSeen:      make(map[flowmodel.PositionKey]bool),
	}
	bk.Annotator = a
	return a
}

// ============================================================================
// 入口
// ============================================================================

// BuildTypes 以 args 为参数注解分析函数 fn 并运行到不动点，返回结果注解
func (a *Annotator) BuildTypes(fn *program.Function, args []annotation.SomeValue) (annotation.SomeValue, error) {
	g, err := a.AddEntry(fn, args)
	if err != nil {
		return nil, err
	}
	if err := a.Complete(); err != nil {
		return nil, err
	}
	return a.bindingOrImpossible(g.GetReturnVar()), nil
}

// AddEntry 登记入口函数但不运行，返回选中的流图
func (a *Annotator) AddEntry(fn *program.Function, args []annotation.SomeValue) (*flowmodel.FunctionGraph, error) {
	d, err := a.Bookkeeper.GetDesc(fn)
	if err != nil {
		return nil, err
	}
	fd, ok := d.(*description.FunctionDesc)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "%s is not a function", fn.Name)
	}
	// 入口调用也算一次调用
	fd.CallFamily()
	g, cells, err := fd.GetCallParameters(args)
	if err != nil {
		return nil, err
	}
	if err := a.addPendingGraph(g, cells); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildGraphTypes 直接分析一个流图
func (a *Annotator) BuildGraphTypes(g *flowmodel.FunctionGraph, cells []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := a.addPendingGraph(g, cells); err != nil {
		return nil, err
	}
	if err := a.Complete(); err != nil {
		return nil, err
	}
	return a.bindingOrImpossible(g.GetReturnVar()), nil
}

func (a *Annotator) addPendingGraph(g *flowmodel.FunctionGraph, cells []annotation.SomeValue) error {
	if err := flowmodel.CheckGraph(g); err != nil {
		return errs.NewAnnotatorError(errs.A0001, "malformed graph: %v", err)
	}
	if len(cells) != len(g.GetArgs()) {
		return errs.NewAnnotatorError(errs.A0100, "%s takes %d arguments, %d given", g.Name, len(g.GetArgs()), len(cells))
	}
	return a.AddPendingBlock(g, g.StartBlock, cells)
}

// Complete 处理所有待分析块直到不动点，然后建立调用表
func (a *Annotator) Complete() error {
	for {
		if err := a.completePendingBlocks(); err != nil {
			return err
		}
		if err := a.Bookkeeper.ComputeAtFixpoint(); err != nil {
			return err
		}
		if len(a.pending) == 0 {
			break
		}
	}
	for _, g := range a.graphs {
		if v := g.GetReturnVar(); a.bindings[v] == nil {
			a.bindings[v] = annotation.SImpossible
		}
	}
	a.log.Info("annotation complete",
		zap.Int("graphs", len(a.graphs)),
		zap.Int("blocks", len(a.annotated)),
		zap.Int("steps", a.steps),
		zap.Int("call_sites", len(a.callSites)))
	return nil
}

func (a *Annotator) completePendingBlocks() error {
	for {
		more, err := a.Step()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if len(a.blocked) == 0 {
		return nil
	}
	return a.blockedError()
}

// Step 处理一个待分析块；队列为空时返回 false
func (a *Annotator) Step() (bool, error) {
	for len(a.queue) > 0 {
		block := a.queue[0]
		a.queue = a.queue[1:]
		g, ok := a.pending[block]
		if !ok {
			continue
		}
		delete(a.pending, block)
		a.steps++
		if a.cfg.MaxReflows > 0 && a.steps > a.cfg.MaxReflows {
			return false, errs.NewAnnotatorError(errs.A0201, "gave up after %d block reflows", a.cfg.MaxReflows)
		}
		if err := a.processBlock(g, block); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Steps 到目前为止处理过的块次数
func (a *Annotator) Steps() int { return a.steps }

// blockedError 列出所有被阻塞的操作
func (a *Annotator) blockedError() error {
	blocks := make([]*flowmodel.Block, 0, len(a.blocked))
	for b := range a.blocked {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	var lines []string
	for _, b := range blocks {
		at := a.blocked[b]
		what := "?"
		if at.opIndex >= 0 && at.opIndex < len(b.Operations) {
			what = b.Operations[at.opIndex].String()
		}
		lines = append(lines, fmt.Sprintf("%s %s op %d: %s", at.graph.Name, b.At(), at.opIndex, what))
	}
	first := a.blocked[blocks[0]]
	e := errs.NewAnnotatorError(errs.A0201, "%d blocked block(s):\n  %s", len(blocks), strings.Join(lines, "\n  "))
	e.Source = lines
	e.At(errs.Position{Graph: first.graph.Name, Block: blocks[0].ID, Op: first.opIndex})
	return e
}

// ============================================================================
// 簿记器回调
// ============================================================================

// RecursiveCall 调度被调函数，返回它目前的返回值注解
func (a *Annotator) RecursiveCall(g *flowmodel.FunctionGraph, whence *flowmodel.PositionKey, cells []annotation.SomeValue) (annotation.SomeValue, error) {
	if whence != nil {
		if whence.Graph != nil {
			a.callGraph[CallEdge{Caller: whence.Graph, Callee: g, Block: whence.Block, Index: whence.Index}] = true
		}
		s, ok := a.notify[g.ReturnBlock]
		if !ok {
			s = set.New[flowmodel.PositionKey](4)
			a.notify[g.ReturnBlock] = s
		}
		s.Insert(*whence)
	}
	if err := a.addPendingGraph(g, cells); err != nil {
		return nil, err
	}
	return a.bindingOrImpossible(g.GetReturnVar()), nil
}

// ReflowFromPosition 把 pos 所在的块重新加入队列
func (a *Annotator) ReflowFromPosition(pos flowmodel.PositionKey) {
	if pos.Graph == nil || pos.Block == nil {
		if cb, ok := a.Bookkeeper.CallbackFor(pos); ok {
			cb()
		}
		return
	}
	a.reflowPendingBlock(pos.Graph, pos.Block)
}

// AddPendingBlock 以 cells 绑定（或合并进）块的入参，必要时调度
func (a *Annotator) AddPendingBlock(g *flowmodel.FunctionGraph, block *flowmodel.Block, cells []annotation.SomeValue) error {
	if len(cells) != len(block.InputArgs) {
		return errs.NewAnnotatorError(errs.A0001, "%s %s expects %d inputs, got %d", g.Name, block.At(), len(block.InputArgs), len(cells))
	}
	if !a.graphSeen[g] {
		a.graphSeen[g] = true
		a.graphs = append(a.graphs, g)
	}
	if _, seen := a.annotated[block]; seen {
		if err := a.mergeInputArgs(g, block, cells); err != nil {
			return err
		}
	} else {
		if err := a.bindInputArgs(block, cells); err != nil {
			return err
		}
	}
	if a.annotated[block] == nil {
		a.schedule(g, block)
	}
	return nil
}

// Binding 变量当前的注解；常量给出其不可变注解，未知返回 nil
func (a *Annotator) Binding(v flowmodel.Hlvalue) annotation.SomeValue {
	s, err := a.annotationOf(v)
	if err != nil {
		return nil
	}
	return s
}

// Generalize 不动点之后把变量的注解放宽为 s，不触发重新分析。
// 调用族规范化用它统一同一调用表行中各流图的参数与返回值注解。
func (a *Annotator) Generalize(v *flowmodel.Variable, s annotation.SomeValue) error {
	old, ok := a.bindings[v]
	if ok {
		u, err := annotation.Union(old, s)
		if err != nil {
			return err
		}
		s = u
	}
	a.bindings[v] = s
	return nil
}

// CallSites 所有对 PBC 的调用位置（发现顺序）
func (a *Annotator) CallSites() []flowmodel.PositionKey {
	return append([]flowmodel.PositionKey(nil), a.callSites...)
}

// ============================================================================
// 查询
// ============================================================================

// Graphs 分析过的流图（发现顺序）
func (a *Annotator) Graphs() []*flowmodel.FunctionGraph {
	return append([]*flowmodel.FunctionGraph(nil), a.graphs...)
}

// Annotated 块是否已被完整分析
func (a *Annotator) Annotated(b *flowmodel.Block) bool {
	return a.annotated[b] != nil
}

// LinkFollowed 链接是否被走过；没走过的链接在类型化时视为死代码
func (a *Annotator) LinkFollowed(l *flowmodel.Link) bool {
	return a.linksFollowed[l]
}

// CallGraph 调用图的边，按调用者名与位置排序
func (a *Annotator) CallGraph() []CallEdge {
	out := make([]CallEdge, 0, len(a.callGraph))
	for e := range a.callGraph {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Caller.Name != y.Caller.Name {
			return x.Caller.Name < y.Caller.Name
		}
		if x.Block.ID != y.Block.ID {
			return x.Block.ID < y.Block.ID
		}
		if x.Index != y.Index {
			return x.Index < y.Index
		}
		return x.Callee.Name < y.Callee.Name
	})
	return out
}

// ============================================================================
// 绑定
// ============================================================================

func (a *Annotator) annotationOf(v flowmodel.Hlvalue) (annotation.SomeValue, error) {
	switch x := v.(type) {
	case *flowmodel.Variable:
		return a.bindings[x], nil
	case *flowmodel.Constant:
		return a.Bookkeeper.ImmutableValue(x.Value)
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "cannot annotate %v", v)
}

func (a *Annotator) bindingOrImpossible(v flowmodel.Hlvalue) annotation.SomeValue {
	if s := a.Binding(v); s != nil {
		return s
	}
	return annotation.SImpossible
}

// setBinding 单调地更新变量注解：新值与旧值取并
func (a *Annotator) setBinding(v *flowmodel.Variable, s annotation.SomeValue) error {
	old := a.bindings[v]
	if old == nil {
		a.bindings[v] = s
		return nil
	}
	u, err := annotation.Union(old, s)
	if err != nil {
		return err
	}
	if err := checkTop(old, s, u); err != nil {
		return err
	}
	a.bindings[v] = u
	return nil
}

// checkTop 两个非 Top 的注解合并成 Top 说明没有公共上界
func checkTop(old, s, u annotation.SomeValue) error {
	if u.Kind() != annotation.KObject {
		return nil
	}
	if old.Kind() == annotation.KObject || s.Kind() == annotation.KObject {
		return nil
	}
	return errs.NewUnionError(old, s, "")
}

func (a *Annotator) bindInputArgs(block *flowmodel.Block, cells []annotation.SomeValue) error {
	for i, v := range block.InputArgs {
		a.bindings[v] = cells[i]
	}
	a.annotated[block] = nil
	return nil
}

func (a *Annotator) mergeInputArgs(g *flowmodel.FunctionGraph, block *flowmodel.Block, cells []annotation.SomeValue) error {
	changed := false
	unions := make([]annotation.SomeValue, len(cells))
	for i, v := range block.InputArgs {
		old := a.bindingOrImpossible(v)
		u, err := annotation.Union(old, cells[i])
		if err != nil {
			return a.atBlock(err, g, block)
		}
		if err := checkTop(old, cells[i], u); err != nil {
			return a.atBlock(err, g, block)
		}
		unions[i] = u
		if !annotation.Equal(u, old) {
			changed = true
		}
	}
	if changed {
		return a.bindInputArgs(block, unions)
	}
	return nil
}

func (a *Annotator) atBlock(err error, g *flowmodel.FunctionGraph, block *flowmodel.Block) error {
	return description.PositionError(err, flowmodel.PositionKey{Graph: g, Block: block, Index: -1})
}

func (a *Annotator) schedule(g *flowmodel.FunctionGraph, block *flowmodel.Block) {
	if _, ok := a.pending[block]; ok {
		return
	}
	a.pending[block] = g
	a.queue = append(a.queue, block)
}

func (a *Annotator) reflowPendingBlock(g *flowmodel.FunctionGraph, block *flowmodel.Block) {
	if _, seen := a.annotated[block]; !seen {
		return
	}
	a.annotated[block] = nil
	a.schedule(g, block)
}

// ============================================================================
// 块处理
// ============================================================================

func (a *Annotator) processBlock(g *flowmodel.FunctionGraph, block *flowmodel.Block) error {
	a.annotated[block] = g
	delete(a.blocked, block)
	err := a.flowIn(g, block)
	var bi *blockedInference
	if asBlocked(err, &bi) {
		a.annotated[block] = nil
		a.blocked[block] = blockedAt{graph: g, opIndex: bi.opIndex}
		a.log.Debug("block blocked",
			zap.String("graph", g.Name),
			zap.Int("block", block.ID),
			zap.Int("op", bi.opIndex))
		return nil
	}
	return err
}

func asBlocked(err error, out **blockedInference) bool {
	if b, ok := err.(*blockedInference); ok {
		*out = b
		return true
	}
	return false
}

func (a *Annotator) flowIn(g *flowmodel.FunctionGraph, block *flowmodel.Block) error {
	exits := block.Exits
	raising := block.RaisingOp()
	for i, op := range block.Operations {
		pos := flowmodel.PositionKey{Graph: g, Block: block, Index: i}
		restore := a.Bookkeeper.AtPosition(&pos)
		err := a.considerOp(pos, op)
		restore()
		if err == nil {
			continue
		}
		var bi *blockedInference
		switch {
		case asBlocked(err, &bi):
			if op == raising {
				// 最后一个操作总会抛异常：只走异常出口
				exits = nil
				for _, l := range block.Exits {
					if l.ExitCase != nil {
						exits = append(exits, l)
					}
				}
				return a.followExits(g, block, exits, true)
			}
			if op.OpName == "simple_call" || op.OpName == "call_args" || op.OpName == "next" {
				return nil
			}
			bi.opIndex = i
			return bi
		case errs.IsHarmlesslyBlocked(err):
			return nil
		default:
			return description.PositionError(err, pos)
		}
	}
	// 出口开关是常量时只走匹配的出口
	if v, ok := block.ExitSwitch.(*flowmodel.Variable); ok {
		if s := a.bindings[v]; s != nil && s.IsConstant() {
			var live []*flowmodel.Link
			for _, l := range exits {
				if exitCaseMatches(l.ExitCase, s.Const()) {
					live = append(live, l)
				}
			}
			exits = live
		}
	}
	return a.followExits(g, block, exits, false)
}

func exitCaseMatches(exitcase, value interface{}) bool {
	if exitcase == value {
		return true
	}
	switch c := exitcase.(type) {
	case int:
		v, ok := value.(int64)
		return ok && int64(c) == v
	case int64:
		v, ok := value.(int)
		return ok && int64(v) == c
	}
	return false
}

func (a *Annotator) followExits(g *flowmodel.FunctionGraph, block *flowmodel.Block, exits []*flowmodel.Link, raised bool) error {
	if block.CanRaise() {
		exc, err := a.exceptionSet(block.RaisingOp())
		if err != nil {
			return err
		}
		for _, l := range exits {
			if l.ExitCase == nil {
				if !raised {
					if err := a.followLink(g, l, nil); err != nil {
						return err
					}
				}
				continue
			}
			if len(exc) == 0 {
				break
			}
			caseDef, err := a.exceptionClassDef(l.ExitCase)
			if err != nil {
				return err
			}
			matching := intersectExceptions(exc, caseDef)
			if len(matching) > 0 {
				sExc, err := instancesOf(matching)
				if err != nil {
					return err
				}
				if err := a.followRaiseLink(g, l, sExc); err != nil {
					return err
				}
			}
			exc = subtractExceptions(exc, caseDef)
		}
	} else {
		var ktd annotation.KnownTypeData
		if v, ok := block.ExitSwitch.(*flowmodel.Variable); ok {
			if s := a.bindings[v]; s != nil {
				ktd = s.KnownTypeData()
			}
		}
		for _, l := range exits {
			var constraints map[*flowmodel.Variable]annotation.SomeValue
			if truth, ok := l.ExitCase.(bool); ok && ktd != nil {
				constraints = ktd.For(truth)
			}
			if err := a.followLink(g, l, constraints); err != nil {
				return err
			}
		}
	}
	if callers, ok := a.notify[block]; ok {
		for _, pos := range sortedPositions(callers) {
			a.ReflowFromPosition(pos)
		}
	}
	return nil
}

func sortedPositions(s *set.Set[flowmodel.PositionKey]) []flowmodel.PositionKey {
	out := s.Slice()
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if (x.Block == nil) != (y.Block == nil) {
			return x.Block == nil
		}
		if x.Block != nil && x.Block.ID != y.Block.ID {
			return x.Block.ID < y.Block.ID
		}
		return x.Index < y.Index
	})
	return out
}

// linkRenaming 链接出参到目标块入参的映射
func linkRenaming(l *flowmodel.Link) map[*flowmodel.Variable][]*flowmodel.Variable {
	renaming := make(map[*flowmodel.Variable][]*flowmodel.Variable)
	for i, out := range l.Args {
		if v, ok := out.(*flowmodel.Variable); ok && i < len(l.Target.InputArgs) {
			renaming[v] = append(renaming[v], l.Target.InputArgs[i])
		}
	}
	return renaming
}

func (a *Annotator) followLink(g *flowmodel.FunctionGraph, l *flowmodel.Link, constraints map[*flowmodel.Variable]annotation.SomeValue) error {
	renaming := linkRenaming(l)
	inputs := make([]annotation.SomeValue, len(l.Args))
	for i, out := range l.Args {
		s, err := a.annotationOf(out)
		if err != nil {
			return err
		}
		if s == nil {
			s = annotation.SImpossible
		}
		if v, ok := out.(*flowmodel.Variable); ok {
			if c, ok := constraints[v]; ok {
				s, err = refine(s, c)
				if err != nil {
					return err
				}
				// 传递不可能的值的链接被忽略
				if annotation.IsImpossible(s) {
					return nil
				}
			}
		}
		inputs[i] = applyRenaming(s, renaming)
	}
	a.linksFollowed[l] = true
	return a.AddPendingBlock(g, l.Target, inputs)
}

func (a *Annotator) followRaiseLink(g *flowmodel.FunctionGraph, l *flowmodel.Link, sExc annotation.SomeValue) error {
	vType, okT := l.LastException.(*flowmodel.Variable)
	vValue, okV := l.LastExcValue.(*flowmodel.Variable)
	if okV {
		if err := a.setBinding(vValue, sExc); err != nil {
			return err
		}
	}
	if okT {
		if err := a.setBinding(vType, typeOf([]*flowmodel.Variable{vValue})); err != nil {
			return err
		}
	}
	renaming := linkRenaming(l)
	inputs := make([]annotation.SomeValue, len(l.Args))
	for i, out := range l.Args {
		if okT && out == l.LastException {
			t := typeOf(renaming[vValue])
			if s := a.bindings[vType]; s != nil && s.IsConstant() {
				t = constTypeOf(s.Const(), renaming[vValue])
			}
			inputs[i] = t
			continue
		}
		s, err := a.annotationOf(out)
		if err != nil {
			return err
		}
		if s == nil {
			s = annotation.SImpossible
		}
		inputs[i] = applyRenaming(s, renaming)
	}
	a.linksFollowed[l] = true
	return a.AddPendingBlock(g, l.Target, inputs)
}

// applyRenaming 把 is_type_of 与 knowntypedata 中的变量换成目标块的入参
func applyRenaming(s annotation.SomeValue, renaming map[*flowmodel.Variable][]*flowmodel.Variable) annotation.SomeValue {
	switch v := s.(type) {
	case *annotation.Type:
		if len(v.IsTypeOf) == 0 {
			return s
		}
		var renamed []*flowmodel.Variable
		for _, x := range v.IsTypeOf {
			renamed = append(renamed, renaming[x]...)
		}
		if v.IsConstant() {
			return constTypeOf(v.Const(), renamed)
		}
		return typeOf(renamed)
	case *annotation.Bool:
		if len(v.KTD) == 0 {
			return s
		}
		var out *annotation.Bool
		if v.IsConstant() {
			out = annotation.ConstBool(v.Const().(bool))
		} else {
			out = annotation.NewBool()
		}
		out.SetKnownTypeData(v.KTD.Rename(renaming))
		return out
	}
	return s
}

func typeOf(vars []*flowmodel.Variable) *annotation.Type {
	t := annotation.NewType()
	t.IsTypeOf = vars
	return t
}

func constTypeOf(c interface{}, vars []*flowmodel.Variable) *annotation.Type {
	t := annotation.ConstType(c)
	t.IsTypeOf = vars
	return t
}

// refine 分支细化：整数区间取交，其余按注解的 improve 规则
func refine(s, c annotation.SomeValue) (annotation.SomeValue, error) {
	if si, ok := s.(*annotation.Integer); ok {
		if ci, ok := c.(*annotation.Integer); ok && !si.Unsigned && !ci.Unsigned {
			r, rc := si.GetRange(), ci.GetRange()
			lo, hi := max(r.Lo, rc.Lo), min(r.Hi, rc.Hi)
			if lo > hi {
				return annotation.SImpossible, nil
			}
			if si.IsConstant() {
				return si, nil
			}
			out := annotation.NewIntegerRange(lo, hi)
			out.Bits = si.Bits
			return out, nil
		}
	}
	return annotation.ImproveChecked(s, c)
}
