// operation.go - 单个操作的分析与分派
//
// 一元操作按第一个参数的注解分派；二元操作通过 annotation.PairTable
// 按有序标签对分派，查找沿两侧的标签链向上，优先更具体的对。
package annotator

import (
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// opContext 一次操作分析的上下文
type opContext struct {
	a    *Annotator
	op   *flowmodel.SpaceOperation
	pos  flowmodel.PositionKey
	args []annotation.SomeValue
}

// opFunc 一元（按第一个参数分派）操作的传递函数；返回 nil 表示操作没有结果值
type opFunc func(c *opContext) (annotation.SomeValue, error)

// pairFunc 二元操作的传递函数
type pairFunc func(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error)

var (
	unaryOps  = map[string]opFunc{}
	binaryOps = map[string]*annotation.PairTable[pairFunc]{}
)

func registerUnary(f opFunc, names ...string) {
	for _, n := range names {
		unaryOps[n] = f
	}
}

func registerPair(k1, k2 annotation.Kind, f pairFunc, names ...string) {
	for _, n := range names {
		t, ok := binaryOps[n]
		if !ok {
			t = annotation.NewPairTable[pairFunc](n)
			binaryOps[n] = t
		}
		t.Register(k1, k2, f)
	}
}

// opBaseName 去掉 inplace_ 前缀
func opBaseName(name string) string {
	return strings.TrimPrefix(name, "inplace_")
}

// considerOp 分析一个操作并绑定结果
func (a *Annotator) considerOp(pos flowmodel.PositionKey, op *flowmodel.SpaceOperation) error {
	args := make([]annotation.SomeValue, len(op.Args))
	for i, v := range op.Args {
		s, err := a.annotationOf(v)
		if err != nil {
			return err
		}
		// Impossible 进入操作会破坏结果的单调性
		if annotation.IsImpossible(s) {
			return &blockedInference{op: op, opIndex: -1}
		}
		args[i] = s
	}
	c := &opContext{a: a, op: op, pos: pos, args: args}
	res, err := c.dispatch()
	if err != nil {
		return err
	}
	if res == nil {
		res = annotation.SImpossible
	} else if annotation.IsImpossible(res) {
		return &blockedInference{op: op, opIndex: -1}
	}
	if op.Result == nil {
		return nil
	}
	return a.setBinding(op.Result, res)
}

func (c *opContext) dispatch() (annotation.SomeValue, error) {
	name := opBaseName(c.op.OpName)
	if t, ok := binaryOps[name]; ok && len(c.args) >= 2 {
		f, _, found := t.Lookup(c.args[0].Kind(), c.args[1].Kind())
		if !found {
			return nil, errs.NewAnnotatorError(errs.A0001, "%s(%s, %s) is not supported", name, c.args[0], c.args[1])
		}
		return f(c, c.args[0], c.args[1])
	}
	if f, ok := unaryOps[name]; ok {
		if len(c.args) == 0 && name != "newlist" && name != "newdict" && name != "newtuple" {
			return nil, errs.NewAnnotatorError(errs.A0001, "%s without arguments", name)
		}
		return f(c)
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "unknown operation %s", c.op.OpName)
}

// ============================================================================
// 辅助
// ============================================================================

func (c *opContext) bk() *description.Bookkeeper { return c.a.Bookkeeper }

// variable 第 i 个参数是变量时返回它
func (c *opContext) variable(i int) *flowmodel.Variable {
	if i >= len(c.op.Args) {
		return nil
	}
	v, _ := c.op.Args[i].(*flowmodel.Variable)
	return v
}

// constString 第 i 个参数的常量字符串
func (c *opContext) constString(i int) (string, bool) {
	if i >= len(c.args) || !c.args[i].IsConstant() {
		return "", false
	}
	return constStr(c.args[i].Const())
}

func constStr(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case byte:
		return string([]byte{x}), true
	case rune:
		return string(x), true
	}
	return "", false
}

// toInteger Bool 看作 [0,1] 的整数
func toInteger(s annotation.SomeValue) *annotation.Integer {
	switch v := s.(type) {
	case *annotation.Integer:
		return v
	case *annotation.Bool:
		if v.IsConstant() {
			if v.Const().(bool) {
				return annotation.ConstInt(1)
			}
			return annotation.ConstInt(0)
		}
		return annotation.NewIntegerRange(0, 1)
	}
	return annotation.NewInteger(false)
}

func constInt(s annotation.SomeValue) (int64, bool) {
	if !s.IsConstant() {
		return 0, false
	}
	switch v := s.Const().(type) {
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// foldEqual 两个常量能否在编译期比较，能时给出结果
func foldEqual(x, y interface{}) (bool, bool) {
	if sx, ok := constStr(x); ok {
		if sy, ok := constStr(y); ok {
			return sx == sy, true
		}
	}
	if !foldable(x) || !foldable(y) {
		return false, false
	}
	return x == y, true
}

func foldable(v interface{}) bool {
	switch v.(type) {
	case bool, int64, float64, string, byte, rune, annotation.NoneValue:
		return true
	}
	return false
}

func isNoneConst(s annotation.SomeValue) bool {
	_, ok := s.(*annotation.None)
	return ok
}
