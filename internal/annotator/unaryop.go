// unaryop.go - 按第一个参数分派的操作
package annotator

import (
	"math"
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

func init() {
	registerUnary(unaryArith, withOvf([]string{"pos", "neg", "abs", "invert"})...)
	registerUnary(boolOp, "bool")
	registerUnary(lenOp, "len")
	registerUnary(hashOp, "hash")
	registerUnary(delattrOp, "delattr")
	registerUnary(toStringOp, "str", "repr", "hex", "oct")
	registerUnary(toIntOp, "int", "id")
	registerUnary(toFloatOp, "float")
	registerUnary(ordOp, "ord")
	registerUnary(typeOp, "type")
	registerUnary(issubtypeOp, "issubtype")
	registerUnary(iterOp, "iter")
	registerUnary(nextOp, "next")
	registerUnary(getattrOp, "getattr")
	registerUnary(setattrOp, "setattr")
	registerUnary(callOp, "simple_call", "call_args")
	registerUnary(containsOp, "contains")
	registerUnary(newListOp, "newlist")
	registerUnary(newDictOp, "newdict")
	registerUnary(newTupleOp, "newtuple")
	registerUnary(sameAsOp, "same_as", "hint")
	registerUnary(getsliceOp, "getslice")
	registerUnary(setsliceOp, "setslice")
}

// ============================================================================
// 算术与真值
// ============================================================================

func unaryArith(c *opContext) (annotation.SomeValue, error) {
	name := arithBase(c.op.OpName)
	switch s := c.args[0].(type) {
	case *annotation.Integer, *annotation.Bool:
		return annotation.IntegerUnary(name, toInteger(s)), nil
	case *annotation.Float:
		if s.IsConstant() {
			v := s.Const().(float64)
			switch name {
			case "neg":
				return annotation.ConstFloat(-v), nil
			case "abs":
				return annotation.ConstFloat(math.Abs(v)), nil
			case "pos":
				return s, nil
			}
		}
		if name == "invert" {
			break
		}
		return annotation.NewFloat(), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "%s(%s)", name, c.args[0])
}

// boolOp 真值：常量折叠，并在真分支上去掉 None、在整数上收窄区间
func boolOp(c *opContext) (annotation.SomeValue, error) {
	s := c.args[0]
	if b, ok := s.(*annotation.Bool); ok {
		return b, nil
	}
	r := annotation.NewBool()
	switch v := s.(type) {
	case *annotation.None:
		return annotation.ConstBool(false), nil
	case *annotation.Integer:
		if v.IsConstant() {
			return annotation.ConstBool(v.Const().(int64) != 0), nil
		}
	case *annotation.Float:
		if v.IsConstant() {
			return annotation.ConstBool(v.Const().(float64) != 0), nil
		}
	case *annotation.Char, *annotation.UniChar:
		return annotation.ConstBool(true), nil
	case *annotation.String, *annotation.Unicode:
		if v.IsConstant() {
			str, _ := constStr(v.Const())
			return annotation.ConstBool(str != ""), nil
		}
	case *annotation.Tuple:
		return annotation.ConstBool(len(v.Items) > 0), nil
	case *annotation.Instance, *annotation.WeakRef, *annotation.Builtin, *annotation.Type:
		if !v.CanBeNone() {
			return annotation.ConstBool(true), nil
		}
	case *annotation.PBC:
		if len(v.Descs) == 0 {
			return annotation.ConstBool(false), nil
		}
		if !v.Nullable {
			return annotation.ConstBool(true), nil
		}
	}
	vv := c.variable(0)
	if vv == nil {
		return r, nil
	}
	ktd := make(annotation.KnownTypeData)
	if s.CanBeNone() {
		ktd.Add(true, vv, annotation.Nonnull(s))
	}
	if i, ok := s.(*annotation.Integer); ok && !i.Unsigned {
		rng := i.GetRange()
		if rng.Lo == 0 && rng.Hi > 0 {
			ktd.Add(true, vv, annotation.NewIntegerRange(1, rng.Hi))
		}
		ktd.Add(false, vv, annotation.ConstInt(0))
	}
	if len(ktd) > 0 {
		r.SetKnownTypeData(ktd)
	}
	return r, nil
}

func lenOp(c *opContext) (annotation.SomeValue, error) {
	return lenOf(c, c.args[0])
}

func lenOf(c *opContext, s annotation.SomeValue) (annotation.SomeValue, error) {
	switch v := s.(type) {
	case *annotation.Tuple:
		return annotation.ConstInt(int64(len(v.Items))), nil
	case *annotation.Char, *annotation.UniChar:
		return annotation.ConstInt(1), nil
	case *annotation.String, *annotation.Unicode:
		if v.IsConstant() {
			str, _ := constStr(v.Const())
			if _, uni := v.(*annotation.Unicode); uni {
				return annotation.ConstInt(int64(len([]rune(str)))), nil
			}
			return annotation.ConstInt(int64(len(str))), nil
		}
		return annotation.NewInteger(true), nil
	case *annotation.List:
		if annotation.IsImpossible(v.Def.ReadItem(c.pos)) {
			return annotation.ConstInt(0), nil
		}
		return annotation.NewInteger(true), nil
	case *annotation.Dict:
		if annotation.IsImpossible(v.Def.ReadKey(c.pos)) {
			return annotation.ConstInt(0), nil
		}
		return annotation.NewInteger(true), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "len(%s)", s)
}

func hashOp(c *opContext) (annotation.SomeValue, error) {
	return nil, errs.NewAnnotatorError(errs.A0002, "hash(%s)", c.args[0])
}

func delattrOp(c *opContext) (annotation.SomeValue, error) {
	if c.args[0].Kind() != annotation.KObject {
		return nil, errs.NewAnnotatorError(errs.A0003, "delattr(%s)", c.args[0])
	}
	return nil, nil
}

// ============================================================================
// 转换
// ============================================================================

func toStringOp(c *opContext) (annotation.SomeValue, error) {
	if c.op.OpName == "str" {
		switch s := c.args[0].(type) {
		case *annotation.String:
			return s, nil
		case *annotation.Char:
			return annotation.NewString(false, s.NoNul), nil
		}
	}
	return annotation.NewString(false, true), nil
}

func toIntOp(c *opContext) (annotation.SomeValue, error) {
	if c.op.OpName == "int" {
		switch s := c.args[0].(type) {
		case *annotation.Integer:
			return s, nil
		case *annotation.Bool:
			return toInteger(s), nil
		}
	}
	return annotation.NewInteger(false), nil
}

func toFloatOp(c *opContext) (annotation.SomeValue, error) {
	if f, ok := constFloat(c.args[0]); ok {
		return annotation.ConstFloat(f), nil
	}
	return annotation.NewFloat(), nil
}

func ordOp(c *opContext) (annotation.SomeValue, error) {
	switch s := c.args[0].(type) {
	case *annotation.Char:
		if s.IsConstant() {
			return annotation.ConstInt(int64(s.Const().(byte))), nil
		}
		return annotation.NewIntegerRange(0, 255), nil
	case *annotation.UniChar:
		if s.IsConstant() {
			return annotation.ConstInt(int64(s.Const().(rune))), nil
		}
		return annotation.NewIntegerRange(0, 0x10ffff), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "ord(%s)", c.args[0])
}

// ============================================================================
// 类型
// ============================================================================

// typeOp type(x)：结果记住它是哪些变量的类型，供 is_ 比较细化
func typeOp(c *opContext) (annotation.SomeValue, error) {
	if v := c.variable(0); v != nil {
		return typeOf([]*flowmodel.Variable{v}), nil
	}
	return annotation.NewType(), nil
}

// issubtypeOp issubtype(type(x), C)：真分支上 x 是 C 的实例
func issubtypeOp(c *opContext) (annotation.SomeValue, error) {
	if len(c.args) != 2 {
		return nil, errs.NewAnnotatorError(errs.A0001, "issubtype takes 2 arguments")
	}
	r := annotation.NewBool()
	t, ok := c.args[0].(*annotation.Type)
	if !ok || !c.args[1].IsConstant() {
		return r, nil
	}
	s, err := c.a.valueOfType(c.args[1].Const())
	if err != nil || s == nil {
		return r, err
	}
	if len(t.IsTypeOf) > 0 {
		ktd := make(annotation.KnownTypeData)
		for _, v := range t.IsTypeOf {
			ktd.Add(true, v, s)
		}
		r.SetKnownTypeData(ktd)
	}
	return r, nil
}

// valueOfType 类型常量的实例注解；无法描述时返回 nil
func (a *Annotator) valueOfType(t interface{}) (annotation.SomeValue, error) {
	switch x := t.(type) {
	case *program.Class:
		cd, err := a.Bookkeeper.GetUniqueClassDef(x)
		if err != nil {
			return nil, err
		}
		return annotation.NewInstance(cd, false, nil), nil
	case *program.Builtin:
		return valueOfBuiltinType(x.Name), nil
	case annotation.BuiltinRef:
		return valueOfBuiltinType(string(x)), nil
	}
	return nil, nil
}

func valueOfBuiltinType(name string) annotation.SomeValue {
	switch name {
	case "int":
		return annotation.NewInteger(false)
	case "bool":
		return annotation.NewBool()
	case "float":
		return annotation.NewFloat()
	case "str":
		return annotation.NewString(false, false)
	case "unicode":
		return annotation.NewUnicode(false, false)
	}
	return nil
}

// ============================================================================
// 迭代
// ============================================================================

func iterOp(c *opContext) (annotation.SomeValue, error) {
	switch s := c.args[0].(type) {
	case *annotation.List, *annotation.Dict, *annotation.String, *annotation.Unicode, *annotation.Tuple:
		return annotation.NewIterator(s, ""), nil
	case *annotation.Iterator:
		return s, nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "iter(%s)", c.args[0])
}

func nextOp(c *opContext) (annotation.SomeValue, error) {
	it, ok := c.args[0].(*annotation.Iterator)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "next(%s)", c.args[0])
	}
	switch s := it.Container.(type) {
	case *annotation.List:
		return s.Def.ReadItem(c.pos), nil
	case *annotation.String:
		return annotation.NewChar(s.NoNul), nil
	case *annotation.Unicode:
		return annotation.NewUniChar(s.NoNul), nil
	case *annotation.Tuple:
		return annotation.UnionOf(s.Items...)
	case *annotation.Dict:
		switch it.Variant {
		case "values":
			return s.Def.ReadValue(c.pos), nil
		case "items":
			return annotation.NewTuple([]annotation.SomeValue{s.Def.ReadKey(c.pos), s.Def.ReadValue(c.pos)}), nil
		}
		return s.Def.ReadKey(c.pos), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "next over %s", it.Container)
}

// ============================================================================
// 属性
// ============================================================================

func getattrOp(c *opContext) (annotation.SomeValue, error) {
	name, ok := c.constString(1)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0005, "getattr(%s, %s)", c.args[0], c.args[1])
	}
	switch s := c.args[0].(type) {
	case *annotation.Instance:
		cd, ok := s.ClassDef.(*description.ClassDef)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0007, "getattr on an instance of an unknown class")
		}
		return cd.GetAttr(name, s.Flags, c.pos)
	case *annotation.PBC:
		return c.bk().PbcGetattr(s, name)
	case *annotation.None:
		return annotation.SImpossible, nil
	}
	if _, ok := lookupMethod(c.args[0].Kind(), name); ok {
		return annotation.NewBuiltinMethod(name, c.args[0]), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0007, "%s has no attribute %q", c.args[0], name)
}

func setattrOp(c *opContext) (annotation.SomeValue, error) {
	if len(c.args) != 3 {
		return nil, errs.NewAnnotatorError(errs.A0001, "setattr takes 3 arguments")
	}
	name, ok := c.constString(1)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0005, "setattr(%s, %s)", c.args[0], c.args[1])
	}
	inst, ok := c.args[0].(*annotation.Instance)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "setattr(%s, %q)", c.args[0], name)
	}
	cd, ok := inst.ClassDef.(*description.ClassDef)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0007, "setattr on an instance of an unknown class")
	}
	return nil, cd.SetAttr(name, c.args[2])
}

// ============================================================================
// 调用
// ============================================================================

func callOp(c *opContext) (annotation.SomeValue, error) {
	switch s := c.args[0].(type) {
	case *annotation.PBC:
		c.a.recordCallSite(c.pos)
		args, err := description.ArgsOfCallOp(c.op, c.a.bindingOrImpossible)
		if err != nil {
			return nil, err
		}
		pos := c.pos
		return c.bk().PbcCall(s, args, &pos)
	case *annotation.Builtin:
		args, err := description.ArgsOfCallOp(c.op, c.a.bindingOrImpossible)
		if err != nil {
			return nil, err
		}
		if len(args.KwNames) > 0 || args.Star != nil {
			return nil, errs.NewAnnotatorError(errs.A0001, "keyword or star arguments to %s", s)
		}
		if s.Self != nil {
			f, ok := lookupMethod(s.Self.Kind(), s.Name)
			if !ok {
				return nil, errs.NewAnnotatorError(errs.A0007, "%s has no method %q", s.Self, s.Name)
			}
			return f(c, append([]annotation.SomeValue{s.Self}, args.Positional...))
		}
		f, ok := builtins[s.Name]
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "builtin %s is not supported", s.Name)
		}
		return f(c, args.Positional)
	case *annotation.WeakRef:
		// 解引用：目标可能已被回收
		if len(c.args) != 1 {
			return nil, errs.NewAnnotatorError(errs.A0100, "weakref takes no arguments")
		}
		if s.ClassDef == nil {
			return annotation.SNone, nil
		}
		return annotation.NewInstance(s.ClassDef, true, nil), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "calling %s", c.args[0])
}

// recordCallSite 记录调用点，不动点时建立调用表
func (a *Annotator) recordCallSite(pos flowmodel.PositionKey) {
	if !a.callSeen[pos] {
		a.callSeen[pos] = true
		a.callSites = append(a.callSites, pos)
	}
}

// ============================================================================
// 容器
// ============================================================================

func containsOp(c *opContext) (annotation.SomeValue, error) {
	if len(c.args) != 2 {
		return nil, errs.NewAnnotatorError(errs.A0001, "contains takes 2 arguments")
	}
	switch s := c.args[0].(type) {
	case *annotation.List:
		if err := s.Def.Generalize(c.args[1]); err != nil {
			return nil, err
		}
	case *annotation.Dict:
		if err := s.Def.GeneralizeKey(c.args[1]); err != nil {
			return nil, err
		}
	case *annotation.String, *annotation.Unicode, *annotation.Tuple:
		if s.IsConstant() && c.args[1].IsConstant() {
			return annotation.ConstBool(constContains(s.Const(), c.args[1].Const())), nil
		}
	default:
		return nil, errs.NewAnnotatorError(errs.A0001, "%s in %s", c.args[1], s)
	}
	return annotation.NewBool(), nil
}

func constContains(container, item interface{}) bool {
	if str, ok := constStr(container); ok {
		sub, ok := constStr(item)
		return ok && strings.Contains(str, sub)
	}
	if t, ok := container.(annotation.ConstTuple); ok {
		for _, x := range t {
			if eq, ok := foldEqual(x, item); ok && eq {
				return true
			}
		}
	}
	return false
}

func newListOp(c *opContext) (annotation.SomeValue, error) {
	return c.bk().NewListHere(c.args...)
}

func newDictOp(c *opContext) (annotation.SomeValue, error) {
	if len(c.args)%2 != 0 {
		return nil, errs.NewAnnotatorError(errs.A0001, "newdict with an odd number of arguments")
	}
	def := c.bk().GetDictDef()
	for i := 0; i < len(c.args); i += 2 {
		if err := def.GeneralizeKey(c.args[i]); err != nil {
			return nil, err
		}
		if err := def.GeneralizeValue(c.args[i+1]); err != nil {
			return nil, err
		}
	}
	return annotation.NewDict(def), nil
}

func newTupleOp(c *opContext) (annotation.SomeValue, error) {
	return annotation.NewTuple(append([]annotation.SomeValue(nil), c.args...)), nil
}

func sameAsOp(c *opContext) (annotation.SomeValue, error) {
	return c.args[0], nil
}

func getsliceOp(c *opContext) (annotation.SomeValue, error) {
	switch s := c.args[0].(type) {
	case *annotation.List:
		return c.bk().NewListHere(s.Def.ReadItem(c.pos))
	case *annotation.String:
		return annotation.NewString(false, s.NoNul), nil
	case *annotation.Char:
		return annotation.NewString(false, s.NoNul), nil
	case *annotation.Unicode:
		return annotation.NewUnicode(false, s.NoNul), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "getslice(%s)", c.args[0])
}

func setsliceOp(c *opContext) (annotation.SomeValue, error) {
	l, ok := c.args[0].(*annotation.List)
	if !ok || len(c.args) != 4 {
		return nil, errs.NewAnnotatorError(errs.A0001, "setslice(%s)", c.args[0])
	}
	src, ok := c.args[3].(*annotation.List)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "setslice from %s", c.args[3])
	}
	if err := l.Def.Resize(); err != nil {
		return nil, err
	}
	return nil, l.Def.Generalize(src.Def.ReadItem(c.pos))
}
