package description

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// CallShape 调用形状：位置参数个数 + 关键字参数名 + 是否带 *args
type CallShape struct {
	Count    int
	Keywords string // 逗号分隔，调用顺序
	Star     bool
}

func (s CallShape) String() string {
	return fmt.Sprintf("(%d, [%s], star=%v)", s.Count, s.Keywords, s.Star)
}

// CallArgs 调用点上的实参注解
type CallArgs struct {
	Positional []annotation.SomeValue
	KwNames    []string
	KwValues   []annotation.SomeValue
	// Star *args 的注解（必须是元组），无则为 nil
	Star annotation.SomeValue
}

// SimpleArgs 只有位置参数的调用
func SimpleArgs(args ...annotation.SomeValue) *CallArgs {
	return &CallArgs{Positional: args}
}

// Shape 调用形状
func (a *CallArgs) Shape() CallShape {
	return CallShape{Count: len(a.Positional), Keywords: strings.Join(a.KwNames, ","), Star: a.Star != nil}
}

// Prepend 在最前面插入一个位置参数（self）
func (a *CallArgs) Prepend(s annotation.SomeValue) *CallArgs {
	out := *a
	out.Positional = append([]annotation.SomeValue{s}, a.Positional...)
	return &out
}

// FixedUnpack 只允许恰好 n 个位置参数
func (a *CallArgs) FixedUnpack(n int) ([]annotation.SomeValue, error) {
	all, err := a.flatPositional()
	if err != nil {
		return nil, err
	}
	if len(a.KwNames) > 0 || len(all) != n {
		return nil, errs.NewAnnotatorError(errs.A0100, "expected %d arguments, got %d", n, len(all))
	}
	return all, nil
}

func (a *CallArgs) flatPositional() ([]annotation.SomeValue, error) {
	out := append([]annotation.SomeValue(nil), a.Positional...)
	if a.Star != nil {
		t, ok := a.Star.(*annotation.Tuple)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0100, "*args must be a tuple, got %s", a.Star)
		}
		out = append(out, t.Items...)
	}
	return out, nil
}

// MatchSignature 按签名把实参分配到形参，缺省值用 defaults 补齐
func (a *CallArgs) MatchSignature(sig flowmodel.Signature, defaults []annotation.SomeValue) ([]annotation.SomeValue, error) {
	positional, err := a.flatPositional()
	if err != nil {
		return nil, err
	}
	n := len(sig.ArgNames)
	cells := make([]annotation.SomeValue, n)
	if len(positional) > n && sig.VarArg == "" {
		return nil, errs.NewAnnotatorError(errs.A0100, "too many arguments: expected at most %d, got %d", n, len(positional))
	}
	for i := 0; i < n && i < len(positional); i++ {
		cells[i] = positional[i]
	}
	for k, name := range a.KwNames {
		idx := -1
		for i, argname := range sig.ArgNames {
			if argname == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errs.NewAnnotatorError(errs.A0100, "unexpected keyword argument %q", name)
		}
		if cells[idx] != nil {
			return nil, errs.NewAnnotatorError(errs.A0100, "got multiple values for argument %q", name)
		}
		cells[idx] = a.KwValues[k]
	}
	firstDefault := n - len(defaults)
	for i := range cells {
		if cells[i] != nil {
			continue
		}
		if i >= firstDefault {
			cells[i] = defaults[i-firstDefault]
			continue
		}
		return nil, errs.NewAnnotatorError(errs.A0100, "missing argument %q", sig.ArgNames[i])
	}
	if sig.VarArg != "" {
		var rest []annotation.SomeValue
		if len(positional) > n {
			rest = positional[n:]
		}
		cells = append(cells, annotation.NewTuple(rest))
	}
	return cells, nil
}

func (a *CallArgs) String() string {
	parts := make([]string, 0, len(a.Positional)+len(a.KwNames)+1)
	for _, s := range a.Positional {
		parts = append(parts, s.String())
	}
	for i, k := range a.KwNames {
		parts = append(parts, k+"="+a.KwValues[i].String())
	}
	if a.Star != nil {
		parts = append(parts, "*"+a.Star.String())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
