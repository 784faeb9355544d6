// binaryop.go - 二元操作的传递函数
package annotator

import (
	"math"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

var (
	arithOps   = []string{"add", "sub", "mul", "floordiv", "div", "mod", "and_", "or_", "xor", "lshift", "rshift"}
	compareOps = []string{"lt", "le", "eq", "ne", "gt", "ge"}
)

func withOvf(names []string) []string {
	out := append([]string(nil), names...)
	for _, n := range names {
		out = append(out, n+"_ovf")
	}
	return out
}

func init() {
	K := struct {
		Object, Integer, Bool, Float, String, Char, Unicode, Tuple, List, Dict annotation.Kind
	}{
		annotation.KObject, annotation.KInteger, annotation.KBool, annotation.KFloat,
		annotation.KString, annotation.KChar, annotation.KUnicode, annotation.KTuple,
		annotation.KList, annotation.KDict,
	}

	// 通用
	registerPair(K.Object, K.Object, compareObjects, compareOps...)
	registerPair(K.Object, K.Object, isOp, "is_")

	// 数值
	registerPair(K.Integer, K.Integer, intArith, withOvf(arithOps)...)
	registerPair(K.Integer, K.Integer, intTrueDiv, "truediv")
	registerPair(K.Integer, K.Integer, intPow, "pow")
	registerPair(K.Integer, K.Integer, compareInts, compareOps...)
	registerPair(K.Bool, K.Bool, boolLogic, "and_", "or_", "xor")
	registerPair(K.Float, K.Float, floatArith, "add", "sub", "mul", "truediv", "div", "floordiv", "mod", "pow")
	registerPair(K.Float, K.Float, compareFloats, compareOps...)

	// 字符串
	registerPair(K.String, K.String, strConcat, "add")
	registerPair(K.String, K.String, compareStrings, compareOps...)
	registerPair(K.String, K.Object, strFormat, "mod")
	registerPair(K.String, K.Integer, strRepeat, "mul")
	registerPair(K.String, K.Integer, strGetItem, "getitem", "getitem_idx")
	registerPair(K.Unicode, K.Unicode, unicodeConcat, "add")
	registerPair(K.Unicode, K.Unicode, compareStrings, compareOps...)
	registerPair(K.Unicode, K.Integer, unicodeGetItem, "getitem", "getitem_idx")

	// 元组
	registerPair(K.Tuple, K.Tuple, tupleConcat, "add")
	registerPair(K.Tuple, K.Integer, tupleGetItem, "getitem", "getitem_idx")

	// 列表
	registerPair(K.List, K.List, listConcat, "add")
	registerPair(K.List, K.Integer, listRepeat, "mul")
	registerPair(K.List, K.Integer, listGetItem, "getitem", "getitem_idx")
	registerPair(K.List, K.Integer, listSetItem, "setitem")
	registerPair(K.List, K.Integer, listDelItem, "delitem")

	// 字典
	registerPair(K.Dict, K.Object, dictGetItem, "getitem", "getitem_idx")
	registerPair(K.Dict, K.Object, dictSetItem, "setitem")
	registerPair(K.Dict, K.Object, dictDelItem, "delitem")
}

// ============================================================================
// 通用
// ============================================================================

func compareObjects(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if s1.IsConstant() && s2.IsConstant() {
		if eq, ok := foldEqual(s1.Const(), s2.Const()); ok {
			switch c.op.OpName {
			case "eq":
				return annotation.ConstBool(eq), nil
			case "ne":
				return annotation.ConstBool(!eq), nil
			}
		}
	}
	return annotation.NewBool(), nil
}

// isOp is_：与 None 比较时两个分支分别细化为 None 与非 None
func isOp(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	r := annotation.NewBool()
	switch {
	case s2.IsConstant():
		if s1.IsConstant() {
			if eq, ok := foldEqual(s1.Const(), s2.Const()); ok {
				r = annotation.ConstBool(eq)
			}
		}
		if isNoneConst(s2) && !s1.CanBeNone() {
			r = annotation.ConstBool(false)
		}
	case s1.IsConstant():
		if isNoneConst(s1) && !s2.CanBeNone() {
			r = annotation.ConstBool(false)
		}
	}
	ktd := make(annotation.KnownTypeData)
	bind := func(src, tgt annotation.SomeValue, i int) error {
		v := c.variable(i)
		if v == nil {
			return nil
		}
		if t, ok := tgt.(*annotation.Type); ok && len(t.IsTypeOf) > 0 && src.IsConstant() {
			s, err := c.a.valueOfType(src.Const())
			if err != nil {
				return err
			}
			if s != nil {
				for _, w := range t.IsTypeOf {
					ktd.Add(true, w, s)
				}
			}
		}
		ktd.Add(true, v, src)
		nonnone := tgt
		if isNoneConst(src) && tgt.CanBeNone() {
			nonnone = annotation.Nonnull(tgt)
		}
		ktd.Add(false, v, nonnone)
		return nil
	}
	if err := bind(s2, s1, 0); err != nil {
		return nil, err
	}
	if err := bind(s1, s2, 1); err != nil {
		return nil, err
	}
	r.SetKnownTypeData(ktd)
	return r, nil
}

// ============================================================================
// 数值
// ============================================================================

func arithBase(name string) string {
	name = opBaseName(name)
	if n := len(name); n > 4 && name[n-4:] == "_ovf" {
		return name[:n-4]
	}
	return name
}

func intArith(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.IntegerArith(arithBase(c.op.OpName), toInteger(s1), toInteger(s2)), nil
}

func intTrueDiv(_ *opContext, _, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewFloat(), nil
}

func intPow(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	x, y := toInteger(s1), toInteger(s2)
	if x.Unsigned || y.Unsigned {
		return annotation.NewUnsigned(max(x.Bits, y.Bits)), nil
	}
	return annotation.NewInteger(x.Nonneg), nil
}

func boolLogic(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if s1.IsConstant() && s2.IsConstant() {
		a, b := s1.Const().(bool), s2.Const().(bool)
		switch c.op.OpName {
		case "and_", "inplace_and":
			return annotation.ConstBool(a && b), nil
		case "or_", "inplace_or":
			return annotation.ConstBool(a || b), nil
		default:
			return annotation.ConstBool(a != b), nil
		}
	}
	return annotation.NewBool(), nil
}

func floatArith(_ *opContext, _, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewFloat(), nil
}

func compareFloats(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	x, okX := constFloat(s1)
	y, okY := constFloat(s2)
	if okX && okY {
		return annotation.ConstBool(compareOrdered(c.op.OpName, x, y)), nil
	}
	return annotation.NewBool(), nil
}

func constFloat(s annotation.SomeValue) (float64, bool) {
	if !s.IsConstant() {
		return 0, false
	}
	switch v := s.Const().(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func compareOrdered[T int64 | float64 | string](op string, x, y T) bool {
	switch op {
	case "lt":
		return x < y
	case "le":
		return x <= y
	case "eq":
		return x == y
	case "ne":
		return x != y
	case "gt":
		return x > y
	}
	return x >= y
}

func inc(v int64) int64 {
	if v == math.MaxInt64 {
		return v
	}
	return v + 1
}

func dec(v int64) int64 {
	if v == math.MinInt64 {
		return v
	}
	return v - 1
}

// compareInts 整数比较：按区间折叠常量，并在两个分支上细化两侧的区间
func compareInts(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	x, y := toInteger(s1), toInteger(s2)
	name := c.op.OpName
	if x.IsConstant() && y.IsConstant() && !x.Unsigned && !y.Unsigned {
		return annotation.ConstBool(compareOrdered(name, x.Const().(int64), y.Const().(int64))), nil
	}
	if x.Unsigned || y.Unsigned {
		return annotation.NewBool(), nil
	}
	rx, ry := x.GetRange(), y.GetRange()
	// 统一成 lt / le / eq / ne，必要时交换两侧
	vx, vy := c.variable(0), c.variable(1)
	ix, iy := s1, s2
	switch name {
	case "gt":
		name, rx, ry, vx, vy, ix, iy = "lt", ry, rx, vy, vx, iy, ix
	case "ge":
		name, rx, ry, vx, vy, ix, iy = "le", ry, rx, vy, vx, iy, ix
	}
	r := annotation.NewBool()
	switch name {
	case "lt":
		if rx.Hi < ry.Lo {
			r = annotation.ConstBool(true)
		} else if rx.Lo >= ry.Hi {
			r = annotation.ConstBool(false)
		}
	case "le":
		if rx.Hi <= ry.Lo {
			r = annotation.ConstBool(true)
		} else if rx.Lo > ry.Hi {
			r = annotation.ConstBool(false)
		}
	case "eq", "ne":
		if rx.Hi < ry.Lo || ry.Hi < rx.Lo {
			r = annotation.ConstBool(name == "ne")
		}
	}
	ktd := make(annotation.KnownTypeData)
	narrow := func(truth bool, v *flowmodel.Variable, orig annotation.SomeValue, r annotation.Range, lo, hi int64) {
		if v == nil {
			return
		}
		if _, ok := orig.(*annotation.Integer); !ok {
			return
		}
		lo, hi = max(lo, r.Lo), min(hi, r.Hi)
		if lo == r.Lo && hi == r.Hi {
			return
		}
		if lo > hi {
			ktd.Add(truth, v, annotation.SImpossible)
			return
		}
		ktd.Add(truth, v, annotation.NewIntegerRange(lo, hi))
	}
	const lo, hi = math.MinInt64, math.MaxInt64
	switch name {
	case "lt":
		narrow(true, vx, ix, rx, lo, dec(ry.Hi))
		narrow(true, vy, iy, ry, inc(rx.Lo), hi)
		narrow(false, vx, ix, rx, ry.Lo, hi)
		narrow(false, vy, iy, ry, lo, rx.Hi)
	case "le":
		narrow(true, vx, ix, rx, lo, ry.Hi)
		narrow(true, vy, iy, ry, rx.Lo, hi)
		narrow(false, vx, ix, rx, inc(ry.Lo), hi)
		narrow(false, vy, iy, ry, lo, dec(rx.Hi))
	case "eq":
		narrow(true, vx, ix, rx, ry.Lo, ry.Hi)
		narrow(true, vy, iy, ry, rx.Lo, rx.Hi)
	case "ne":
		narrow(false, vx, ix, rx, ry.Lo, ry.Hi)
		narrow(false, vy, iy, ry, rx.Lo, rx.Hi)
	}
	if len(ktd) > 0 {
		r.SetKnownTypeData(ktd)
	}
	return r, nil
}

// ============================================================================
// 字符串
// ============================================================================

func strConcat(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if s1.IsConstant() && s2.IsConstant() {
		x, okX := constStr(s1.Const())
		y, okY := constStr(s2.Const())
		if okX && okY {
			return annotation.ConstString(x + y), nil
		}
	}
	return annotation.NewString(false, noNul(s1) && noNul(s2)), nil
}

func noNul(s annotation.SomeValue) bool {
	switch v := s.(type) {
	case *annotation.String:
		return v.NoNul
	case *annotation.Char:
		return v.NoNul
	case *annotation.Unicode:
		return v.NoNul
	case *annotation.UniChar:
		return v.NoNul
	}
	return false
}

func compareStrings(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if s1.IsConstant() && s2.IsConstant() {
		x, okX := constStr(s1.Const())
		y, okY := constStr(s2.Const())
		if okX && okY {
			return annotation.ConstBool(compareOrdered(c.op.OpName, x, y)), nil
		}
	}
	return annotation.NewBool(), nil
}

// strFormat "%s" % x；format 方法不支持，但 % 格式化可以
func strFormat(_ *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewString(false, noNul(s1)), nil
}

func strRepeat(_ *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewString(false, noNul(s1)), nil
}

func strGetItem(_ *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewChar(noNul(s1)), nil
}

func unicodeConcat(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if s1.IsConstant() && s2.IsConstant() {
		x, okX := constStr(s1.Const())
		y, okY := constStr(s2.Const())
		if okX && okY {
			return annotation.ConstUnicode(x + y), nil
		}
	}
	return annotation.NewUnicode(false, noNul(s1) && noNul(s2)), nil
}

func unicodeGetItem(_ *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewUniChar(noNul(s1)), nil
}

// ============================================================================
// 元组
// ============================================================================

func tupleConcat(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	t1, t2 := s1.(*annotation.Tuple), s2.(*annotation.Tuple)
	items := append(append([]annotation.SomeValue(nil), t1.Items...), t2.Items...)
	return annotation.NewTuple(items), nil
}

func tupleGetItem(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	t := s1.(*annotation.Tuple)
	if i, ok := constInt(s2); ok {
		n := int64(len(t.Items))
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, errs.NewAnnotatorError(errs.A0001, "tuple index %d out of range for %s", i, t)
		}
		return t.Items[i], nil
	}
	return annotation.UnionOf(t.Items...)
}

// ============================================================================
// 列表
// ============================================================================

func listConcat(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	l1, l2 := s1.(*annotation.List), s2.(*annotation.List)
	return c.bk().NewListHere(l1.Def.ReadItem(c.pos), l2.Def.ReadItem(c.pos))
}

func listRepeat(c *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	l := s1.(*annotation.List)
	return c.bk().NewListHere(l.Def.ReadItem(c.pos))
}

func listGetItem(c *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return s1.(*annotation.List).Def.ReadItem(c.pos), nil
}

func listSetItem(c *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	if len(c.args) != 3 {
		return nil, errs.NewAnnotatorError(errs.A0001, "setitem takes 3 arguments")
	}
	def := s1.(*annotation.List).Def
	if err := def.Mutate(); err != nil {
		return nil, err
	}
	return nil, def.Generalize(c.args[2])
}

func listDelItem(_ *opContext, s1, _ annotation.SomeValue) (annotation.SomeValue, error) {
	return nil, s1.(*annotation.List).Def.Resize()
}

// ============================================================================
// 字典
// ============================================================================

func dictGetItem(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	def := s1.(*annotation.Dict).Def
	if err := def.GeneralizeKey(s2); err != nil {
		return nil, err
	}
	return def.ReadValue(c.pos), nil
}

func dictSetItem(c *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	if len(c.args) != 3 {
		return nil, errs.NewAnnotatorError(errs.A0001, "setitem takes 3 arguments")
	}
	def := s1.(*annotation.Dict).Def
	if err := def.GeneralizeKey(s2); err != nil {
		return nil, err
	}
	return nil, def.GeneralizeValue(c.args[2])
}

func dictDelItem(_ *opContext, s1, s2 annotation.SomeValue) (annotation.SomeValue, error) {
	return nil, s1.(*annotation.Dict).Def.GeneralizeKey(s2)
}
