// Package flowmodel 定义流图：变量、常量、操作、基本块、链接与函数图
//
// 流图由上游构建器产生；注解器只读取它，类型化器会就地重写操作列表。
package flowmodel

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/solatrans/internal/lltype"
)

// ============================================================================
// 值
// ============================================================================

// Hlvalue 流图中的值：*Variable 或 *Constant
type Hlvalue interface {
	isHlvalue()
	String() string
	// ConcreteType 类型化后的低层类型，未类型化时为 nil
	ConcreteType() lltype.Type
}

// Variable SSA 变量
type Variable struct {
	ID       int
	Name     string
	Concrete lltype.Type
}

var nextVarID = 0

// NewVariable 创建变量
func NewVariable(name string) *Variable {
	nextVarID++
	if name == "" {
		name = "v"
	}
	return &Variable{ID: nextVarID, Name: name}
}

func (v *Variable) isHlvalue() {}

func (v *Variable) String() string {
	return fmt.Sprintf("%s_%d", v.Name, v.ID)
}

// ConcreteType 低层类型
func (v *Variable) ConcreteType() lltype.Type {
	return v.Concrete
}

// Copy 复制一个同名新变量
func (v *Variable) Copy() *Variable {
	return NewVariable(v.Name)
}

// Constant 常量
type Constant struct {
	Value    interface{}
	Concrete lltype.Type
}

// NewConstant 创建常量
func NewConstant(value interface{}) *Constant {
	return &Constant{Value: value}
}

// NewTypedConstant 创建带低层类型的常量
func NewTypedConstant(value interface{}, t lltype.Type) *Constant {
	return &Constant{Value: value, Concrete: t}
}

func (c *Constant) isHlvalue() {}

func (c *Constant) String() string {
	switch v := c.Value.(type) {
	case string:
		return fmt.Sprintf("(%q)", v)
	case fmt.Stringer:
		return "(" + v.String() + ")"
	default:
		return fmt.Sprintf("(%v)", v)
	}
}

// ConcreteType 低层类型
func (c *Constant) ConcreteType() lltype.Type {
	return c.Concrete
}

// lastExceptionMarker exitswitch 的特殊标记
type lastExceptionMarker struct{}

func (lastExceptionMarker) String() string { return "last_exception" }

// CLastException 表示块以可能抛异常的操作结尾
var CLastException = NewConstant(lastExceptionMarker{})

// ============================================================================
// 操作
// ============================================================================

// SpaceOperation 一条高层或低层操作
type SpaceOperation struct {
	OpName string
	Args   []Hlvalue
	Result *Variable
	// Offset 源码偏移，-1 表示未知
	Offset int
}

// NewOp 创建操作
func NewOp(name string, args []Hlvalue, result *Variable) *SpaceOperation {
	return &SpaceOperation{OpName: name, Args: args, Result: result, Offset: -1}
}

func (op *SpaceOperation) String() string {
	parts := make([]string, len(op.Args))
	for i, a := range op.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s = %s(%s)", op.Result, op.OpName, strings.Join(parts, ", "))
}

// ============================================================================
// 块与链接
// ============================================================================

// Link 块之间的出口
type Link struct {
	Args      []Hlvalue
	Target    *Block
	Prevblock *Block
	// ExitCase 出口条件：bool 分支为 true/false，异常出口为异常类，普通出口为 nil
	ExitCase interface{}
	// LastException/LastExcValue 异常出口上绑定的异常类型与值
	LastException Hlvalue
	LastExcValue  Hlvalue
}

// NewLink 创建链接
func NewLink(args []Hlvalue, target *Block, exitcase interface{}) *Link {
	return &Link{Args: args, Target: target, ExitCase: exitcase}
}

// Block 基本块
type Block struct {
	ID         int
	InputArgs  []*Variable
	Operations []*SpaceOperation
	ExitSwitch Hlvalue
	Exits      []*Link
	// IsReturn/IsExcept 标记图的终止块
	IsReturn bool
	IsExcept bool
}

var nextBlockID = 0

// NewBlock 创建块
func NewBlock(inputargs []*Variable) *Block {
	nextBlockID++
	return &Block{ID: nextBlockID, InputArgs: inputargs}
}

// CanRaise 最后一个操作可能抛异常
func (b *Block) CanRaise() bool {
	return b.ExitSwitch == CLastException
}

// RaisingOp 可能抛异常的最后一个操作
func (b *Block) RaisingOp() *SpaceOperation {
	if !b.CanRaise() || len(b.Operations) == 0 {
		return nil
	}
	return b.Operations[len(b.Operations)-1]
}

// CloseBlock 设置出口
func (b *Block) CloseBlock(links ...*Link) {
	for _, l := range links {
		l.Prevblock = b
	}
	b.Exits = links
}

// IsFinal 没有出口的终止块
func (b *Block) IsFinal() bool {
	return len(b.Exits) == 0
}

// At 用于报告的块标识
func (b *Block) At() string {
	return fmt.Sprintf("@%d", b.ID)
}

func (b *Block) String() string {
	return fmt.Sprintf("block%s", b.At())
}

// ============================================================================
// 函数图
// ============================================================================

// FunctionGraph 一个函数的一个特化对应的流图
type FunctionGraph struct {
	Name        string
	StartBlock  *Block
	ReturnBlock *Block
	ExceptBlock *Block
	// Signature 参数名，Defaults 为尾部参数的默认值
	Signature Signature
	Defaults  []interface{}
	// Func 产生此图的宿主函数（可为 nil）
	Func interface{}
}

// Signature 函数签名
type Signature struct {
	ArgNames []string
	VarArg   string
	KwArg    string
}

// NumArgs 形参总数（含 *args/**kwargs）
func (s Signature) NumArgs() int {
	n := len(s.ArgNames)
	if s.VarArg != "" {
		n++
	}
	if s.KwArg != "" {
		n++
	}
	return n
}

// NewFunctionGraph 创建函数图，自动构造返回块与异常块
func NewFunctionGraph(name string, start *Block) *FunctionGraph {
	ret := NewBlock([]*Variable{NewVariable("result")})
	ret.IsReturn = true
	exc := NewBlock([]*Variable{NewVariable("etype"), NewVariable("evalue")})
	exc.IsExcept = true
	return &FunctionGraph{Name: name, StartBlock: start, ReturnBlock: ret, ExceptBlock: exc}
}

// GetArgs 入口参数
func (g *FunctionGraph) GetArgs() []*Variable {
	return g.StartBlock.InputArgs
}

// GetReturnVar 返回变量
func (g *FunctionGraph) GetReturnVar() *Variable {
	return g.ReturnBlock.InputArgs[0]
}

func (g *FunctionGraph) String() string {
	return g.Name
}

// IterBlocks 按深度优先顺序访问所有可达块
func (g *FunctionGraph) IterBlocks(visit func(*Block) bool) {
	seen := map[*Block]bool{}
	stack := []*Block{g.StartBlock}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[b] {
			continue
		}
		seen[b] = true
		if !visit(b) {
			return
		}
		for i := len(b.Exits) - 1; i >= 0; i-- {
			if !seen[b.Exits[i].Target] {
				stack = append(stack, b.Exits[i].Target)
			}
		}
	}
}

// Blocks 所有可达块
func (g *FunctionGraph) Blocks() []*Block {
	var out []*Block
	g.IterBlocks(func(b *Block) bool {
		out = append(out, b)
		return true
	})
	return out
}

// IterLinks 所有可达链接
func (g *FunctionGraph) IterLinks(visit func(*Link)) {
	g.IterBlocks(func(b *Block) bool {
		for _, l := range b.Exits {
			visit(l)
		}
		return true
	})
}

// IterOperations 所有操作
func (g *FunctionGraph) IterOperations(visit func(*Block, int, *SpaceOperation)) {
	g.IterBlocks(func(b *Block) bool {
		for i, op := range b.Operations {
			visit(b, i, op)
		}
		return true
	})
}

// ============================================================================
// 位置键
// ============================================================================

// PositionKey 注解器中的操作位置：(图, 块, 操作序号)
type PositionKey struct {
	Graph *FunctionGraph
	Block *Block
	Index int
}

func (p PositionKey) String() string {
	if p.Graph == nil {
		return "?"
	}
	return fmt.Sprintf("%s %s op=%d", p.Graph.Name, p.Block.At(), p.Index)
}
