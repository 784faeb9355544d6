// builder.go - 流图构建器
//
// 提供按块逐条追加操作的方式构造流图，供测试与类型化器生成辅助函数图使用。
// 典型用法：
//
//	b := NewBuilder("f", "x")
//	y := b.Op("add", b.Arg(0), NewConstant(int64(1)))
//	b.Return(y)
//	g := b.Graph()

package flowmodel

// Builder 流图构建器
type Builder struct {
	graph   *FunctionGraph
	current *Block
}

// NewBuilder 创建构建器，argnames 为形参名
func NewBuilder(name string, argnames ...string) *Builder {
	args := make([]*Variable, len(argnames))
	for i, n := range argnames {
		args[i] = NewVariable(n)
	}
	start := NewBlock(args)
	g := NewFunctionGraph(name, start)
	g.Signature = Signature{ArgNames: append([]string(nil), argnames...)}
	return &Builder{graph: g, current: start}
}

// Graph 构建结果
func (b *Builder) Graph() *FunctionGraph {
	return b.graph
}

// Current 当前块
func (b *Builder) Current() *Block {
	return b.current
}

// Arg 第 i 个形参
func (b *Builder) Arg(i int) *Variable {
	return b.graph.StartBlock.InputArgs[i]
}

// SetDefaults 设置尾部参数默认值
func (b *Builder) SetDefaults(defaults ...interface{}) {
	b.graph.Defaults = defaults
}

// Op 在当前块追加操作，返回结果变量
func (b *Builder) Op(name string, args ...Hlvalue) *Variable {
	res := NewVariable("v")
	b.current.Operations = append(b.current.Operations, NewOp(name, args, res))
	return res
}

// NewBlock 创建 n 个入参的新块（不切换当前块）
func (b *Builder) NewBlock(n int) *Block {
	args := make([]*Variable, n)
	for i := range args {
		args[i] = NewVariable("a")
	}
	return NewBlock(args)
}

// SetBlock 切换当前块
func (b *Builder) SetBlock(blk *Block) {
	b.current = blk
}

// Jump 当前块无条件跳转
func (b *Builder) Jump(target *Block, args ...Hlvalue) {
	b.current.CloseBlock(NewLink(args, target, nil))
}

// Branch 当前块按 cond 分支
func (b *Builder) Branch(cond Hlvalue, ifTrue *Block, trueArgs []Hlvalue, ifFalse *Block, falseArgs []Hlvalue) {
	b.current.ExitSwitch = cond
	b.current.CloseBlock(
		NewLink(falseArgs, ifFalse, false),
		NewLink(trueArgs, ifTrue, true),
	)
}

// Return 当前块返回 v
func (b *Builder) Return(v Hlvalue) {
	b.current.CloseBlock(NewLink([]Hlvalue{v}, b.graph.ReturnBlock, nil))
}

// Raise 当前块抛出异常
func (b *Builder) Raise(etype, evalue Hlvalue) {
	b.current.CloseBlock(NewLink([]Hlvalue{etype, evalue}, b.graph.ExceptBlock, nil))
}

// Catch 当前块最后一个操作可能抛异常：正常出口跳到 normal，
// 每个 handler 捕获一个异常类并跳到对应块（块的前两个入参接收异常类型与值）
func (b *Builder) Catch(normal *Block, normalArgs []Hlvalue, handlers ...Handler) {
	b.current.ExitSwitch = CLastException
	links := []*Link{NewLink(normalArgs, normal, nil)}
	for _, h := range handlers {
		etype, evalue := NewVariable("last_exception"), NewVariable("last_exc_value")
		args := append([]Hlvalue{etype, evalue}, h.Args...)
		l := NewLink(args, h.Target, h.Class)
		l.LastException = etype
		l.LastExcValue = evalue
		links = append(links, l)
	}
	b.current.CloseBlock(links...)
}

// Handler 异常处理出口
type Handler struct {
	Class  interface{}
	Target *Block
	Args   []Hlvalue
}
