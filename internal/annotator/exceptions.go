// exceptions.go - 可能抛出的异常集合
//
// 块的最后一个操作可以抛出异常时，异常出口按声明顺序匹配：
// 每个出口拿到与自己的异常类相交的那部分，剩余的继续往后传。
package annotator

import (
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// canOnlyThrow 已知只会抛出这些异常的操作；known 为 false 表示可能抛出任何 Exception
func (a *Annotator) canOnlyThrow(op *flowmodel.SpaceOperation) (classes []*program.Class, known bool) {
	exc := a.Bookkeeper.Exceptions
	name := opBaseName(op.OpName)
	var first annotation.SomeValue
	if len(op.Args) > 0 {
		first = a.bindingOrImpossible(op.Args[0])
	}
	if strings.HasSuffix(name, "_ovf") {
		base := strings.TrimSuffix(name, "_ovf")
		switch base {
		case "floordiv", "div", "mod":
			return []*program.Class{exc.OverflowError, exc.ZeroDivisionError}, true
		}
		return []*program.Class{exc.OverflowError}, true
	}
	switch name {
	case "getitem", "getitem_idx":
		switch first.(type) {
		case *annotation.Dict:
			return []*program.Class{exc.KeyError}, true
		case *annotation.List, *annotation.String, *annotation.Unicode, *annotation.Tuple:
			if name == "getitem_idx" {
				return []*program.Class{exc.IndexError}, true
			}
			return nil, true
		}
	case "setitem", "delitem":
		switch first.(type) {
		case *annotation.Dict:
			return []*program.Class{exc.KeyError}, true
		case *annotation.List:
			return []*program.Class{exc.IndexError}, true
		}
	case "next":
		return []*program.Class{exc.StopIteration}, true
	case "floordiv", "div", "mod", "truediv":
		if _, ok := first.(*annotation.Integer); ok {
			return []*program.Class{exc.ZeroDivisionError}, true
		}
		if _, ok := first.(*annotation.Bool); ok {
			return []*program.Class{exc.ZeroDivisionError}, true
		}
	case "len", "bool", "is_", "type", "issubtype", "hint", "same_as",
		"add", "sub", "mul", "neg", "pos", "invert", "lt", "le", "eq", "ne", "gt", "ge",
		"and_", "or_", "xor", "newlist", "newdict", "newtuple", "iter", "contains":
		return nil, true
	case "simple_call", "call_args":
		if b, ok := first.(*annotation.Builtin); ok && b.Self != nil {
			switch b.Name {
			case "pop":
				if _, ok := b.Self.(*annotation.Dict); ok {
					return []*program.Class{exc.KeyError}, true
				}
				return []*program.Class{exc.IndexError}, true
			case "popitem":
				return []*program.Class{exc.KeyError}, true
			case "index", "remove":
				return []*program.Class{exc.ValueError}, true
			case "append", "extend", "insert", "reverse", "get", "keys", "values", "items", "clear":
				return nil, true
			}
		}
	}
	return nil, false
}

// exceptionSet 操作可能抛出的异常类定义
func (a *Annotator) exceptionSet(op *flowmodel.SpaceOperation) ([]*description.ClassDef, error) {
	classes, known := a.canOnlyThrow(op)
	if !known {
		classes = []*program.Class{a.Bookkeeper.Exceptions.Exception}
	}
	out := make([]*description.ClassDef, 0, len(classes))
	for _, cls := range classes {
		cd, err := a.Bookkeeper.GetUniqueClassDef(cls)
		if err != nil {
			return nil, err
		}
		out = append(out, cd)
	}
	return out, nil
}

// exceptionClassDef 异常出口的类定义
func (a *Annotator) exceptionClassDef(exitcase interface{}) (*description.ClassDef, error) {
	cls, ok := exitcase.(*program.Class)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "exception exit case %v is not a class", exitcase)
	}
	return a.Bookkeeper.GetUniqueClassDef(cls)
}

// intersectExceptions 集合中落在 caseDef 之下的部分；caseDef 比集合成员更具体时取 caseDef
func intersectExceptions(defs []*description.ClassDef, caseDef *description.ClassDef) []*description.ClassDef {
	var out []*description.ClassDef
	seen := make(map[*description.ClassDef]bool)
	add := func(d *description.ClassDef) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range defs {
		switch {
		case d.IsSubclass(caseDef):
			add(d)
		case caseDef.IsSubclass(d):
			add(caseDef)
		}
	}
	return out
}

// subtractExceptions 去掉已被 caseDef 完全捕获的成员
func subtractExceptions(defs []*description.ClassDef, caseDef *description.ClassDef) []*description.ClassDef {
	out := defs[:0:0]
	for _, d := range defs {
		if !d.IsSubclass(caseDef) {
			out = append(out, d)
		}
	}
	return out
}

// instancesOf 异常类定义集合对应的实例注解
func instancesOf(defs []*description.ClassDef) (annotation.SomeValue, error) {
	values := make([]annotation.SomeValue, len(defs))
	for i, d := range defs {
		values[i] = annotation.NewInstance(d, false, nil)
	}
	return annotation.UnionOf(values...)
}
