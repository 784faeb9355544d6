// builtin.go - 内建函数与容器方法
//
// 方法以 self 作为第一个实参调用，按 self 的标签沿标签链查找，
// 因此 Char 可以使用 String 的方法。
package annotator

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	"github.com/tangzhangming/solatrans/internal/description"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/program"
)

// builtinFunc 内建函数或方法的分析函数
type builtinFunc func(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error)

var (
	builtins = map[string]builtinFunc{}
	methods  = map[annotation.Kind]map[string]builtinFunc{}
)

func registerMethod(k annotation.Kind, f builtinFunc, names ...string) {
	m, ok := methods[k]
	if !ok {
		m = make(map[string]builtinFunc)
		methods[k] = m
	}
	for _, n := range names {
		m[n] = f
	}
}

// lookupMethod 沿标签链查找方法
func lookupMethod(k annotation.Kind, name string) (builtinFunc, bool) {
	for _, anc := range k.Ancestors() {
		if f, ok := methods[anc][name]; ok {
			return f, true
		}
	}
	return nil, false
}

func init() {
	builtins["len"] = builtinLen
	builtins["isinstance"] = builtinIsinstance
	builtins["issubclass"] = builtinIssubclass
	builtins["range"] = builtinRange
	builtins["xrange"] = builtinRange
	builtins["bool"] = builtinBool
	builtins["int"] = builtinConvert(annotation.NewInteger(false))
	builtins["float"] = builtinFloat
	builtins["str"] = builtinConvert(annotation.NewString(false, true))
	builtins["chr"] = builtinConvert(annotation.NewChar(false))
	builtins["unichr"] = builtinConvert(annotation.NewUniChar(false))
	builtins["ord"] = builtinOrd
	builtins["abs"] = builtinAbs
	builtins["min"] = builtinMinMax(true)
	builtins["max"] = builtinMinMax(false)
	builtins["list"] = builtinList
	builtins["intmask"] = builtinConvert(annotation.NewInteger(false))
	builtins["r_uint"] = builtinConvert(annotation.NewUnsigned(64))
	builtins["r_longlong"] = builtinConvert(annotation.NewIntegerOfWidth(64, false))
	builtins["r_ulonglong"] = builtinConvert(annotation.NewIntegerOfWidth(64, true))
	builtins["ovfcheck"] = builtinOvfcheck
	builtins["we_are_translated"] = builtinWeAreTranslated
	builtins["instantiate"] = builtinInstantiate

	// 列表
	registerMethod(annotation.KList, listAppend, "append")
	registerMethod(annotation.KList, listExtend, "extend")
	registerMethod(annotation.KList, listPop, "pop")
	registerMethod(annotation.KList, listInsert, "insert")
	registerMethod(annotation.KList, listReverse, "reverse", "sort")
	registerMethod(annotation.KList, listRemove, "remove")
	registerMethod(annotation.KList, listIndex, "index", "count")

	// 字典
	registerMethod(annotation.KDict, dictGet, "get")
	registerMethod(annotation.KDict, dictSetDefault, "setdefault")
	registerMethod(annotation.KDict, dictPop, "pop")
	registerMethod(annotation.KDict, dictPopItem, "popitem")
	registerMethod(annotation.KDict, dictKeys, "keys")
	registerMethod(annotation.KDict, dictValues, "values")
	registerMethod(annotation.KDict, dictItems, "items")
	registerMethod(annotation.KDict, dictIter("keys"), "iterkeys")
	registerMethod(annotation.KDict, dictIter("values"), "itervalues")
	registerMethod(annotation.KDict, dictIter("items"), "iteritems")
	registerMethod(annotation.KDict, dictClear, "clear")
	registerMethod(annotation.KDict, dictCopy, "copy")
	registerMethod(annotation.KDict, dictUpdate, "update")

	// 字符串
	registerMethod(annotation.KString, strPredicate, "startswith", "endswith",
		"isdigit", "isalpha", "isalnum", "isspace", "islower", "isupper")
	registerMethod(annotation.KString, strSearch, "find", "rfind", "count")
	registerMethod(annotation.KString, strTransform, "strip", "lstrip", "rstrip",
		"lower", "upper", "replace", "join")
	registerMethod(annotation.KString, strSplit, "split", "rsplit")
	registerMethod(annotation.KString, strFormatMethod, "format")
	registerMethod(annotation.KString, strDecode, "decode")
	registerMethod(annotation.KUnicode, strPredicate, "startswith", "endswith", "isdigit", "isalpha", "isspace")
	registerMethod(annotation.KUnicode, strSearch, "find", "rfind", "count")
	registerMethod(annotation.KUnicode, unicodeTransform, "strip", "lstrip", "rstrip", "lower", "upper", "replace", "join")
	registerMethod(annotation.KUnicode, strFormatMethod, "format")
	registerMethod(annotation.KUnicode, unicodeEncode, "encode")
}

func arity(name string, args []annotation.SomeValue, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return errs.NewAnnotatorError(errs.A0100, "%s() takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}

// ============================================================================
// 内建函数
// ============================================================================

func builtinLen(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	return lenOf(c, args[0])
}

// builtinIsinstance isinstance(x, C)：能判定时给出常量，否则在真分支上把 x 细化为 C 的实例
func builtinIsinstance(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("isinstance", args, 2, 2); err != nil {
		return nil, err
	}
	sObj, sType := args[0], args[1]
	if !sType.IsConstant() {
		return annotation.NewBool(), nil
	}
	typ, err := c.a.valueOfType(sType.Const())
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, errs.NewAnnotatorError(errs.A0001, "isinstance(%s, %s)", sObj, sType)
	}
	r := annotation.NewBool()
	switch {
	case annotation.IsImpossible(sObj):
	case sObj.Kind() == annotation.KNone:
		r = annotation.ConstBool(false)
	case !sObj.CanBeNone() && annotation.Contains(typ, annotation.Nonnull(sObj)):
		r = annotation.ConstBool(true)
	default:
		if ti, ok := typ.(*annotation.Instance); ok {
			if si, ok := sObj.(*annotation.Instance); ok && si.ClassDef != nil {
				if !ti.ClassDef.IsSubclassOf(si.ClassDef) && !si.ClassDef.IsSubclassOf(ti.ClassDef) {
					r = annotation.ConstBool(false)
				}
			}
		}
	}
	// 调用的第一个实参是被测变量
	if !r.IsConstant() {
		if v := c.variable(1); v != nil {
			ktd := make(annotation.KnownTypeData)
			ktd.Add(true, v, typ)
			r.SetKnownTypeData(ktd)
		}
	}
	return r, nil
}

func builtinIssubclass(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("issubclass", args, 2, 2); err != nil {
		return nil, err
	}
	if args[0].IsConstant() && args[1].IsConstant() {
		c1, ok1 := args[0].Const().(*program.Class)
		c2, ok2 := args[1].Const().(*program.Class)
		if ok1 && ok2 {
			return annotation.ConstBool(c1.IsSubclass(c2)), nil
		}
	}
	return annotation.NewBool(), nil
}

// builtinRange range([start,] stop[, step])：结果列表记住步长
func builtinRange(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("range", args, 1, 3); err != nil {
		return nil, err
	}
	var sStart, sStop annotation.SomeValue = annotation.ConstInt(0), nil
	var sStep annotation.SomeValue = annotation.ConstInt(1)
	switch len(args) {
	case 1:
		sStop = args[0]
	case 2:
		sStart, sStop = args[0], args[1]
	default:
		sStart, sStop, sStep = args[0], args[1], args[2]
	}
	step, known := constInt(sStep)
	if known && step == 0 {
		return nil, errs.NewAnnotatorError(errs.A0001, "range() with step zero")
	}
	if !known {
		step = 0
	}
	start, stop := toInteger(sStart), toInteger(sStop)
	var item *annotation.Integer
	rs, re := start.GetRange(), stop.GetRange()
	switch {
	case step > 0 && rs.Lo <= dec(re.Hi):
		item = annotation.NewIntegerRange(rs.Lo, dec(re.Hi))
	case step < 0 && inc(re.Lo) <= rs.Hi:
		item = annotation.NewIntegerRange(inc(re.Lo), rs.Hi)
	default:
		item = annotation.NewInteger(start.Nonneg && step > 0)
	}
	l, err := c.bk().NewListHere(item)
	if err != nil {
		return nil, err
	}
	if err := l.Def.GeneralizeRangeStep(step); err != nil {
		return nil, err
	}
	return l, nil
}

func builtinBool(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if len(args) == 0 {
		return annotation.ConstBool(false), nil
	}
	if err := arity("bool", args, 1, 1); err != nil {
		return nil, err
	}
	sub := &opContext{a: c.a, op: c.op, pos: c.pos, args: args}
	r, err := boolOp(sub)
	if err != nil {
		return nil, err
	}
	// knowntypedata 指向的是调用的第二个实参，而非 op 的第一个
	if b, ok := r.(*annotation.Bool); ok && len(b.KTD) > 0 {
		out := annotation.NewBool()
		if v := c.variable(1); v != nil {
			ktd := make(annotation.KnownTypeData)
			for key, s := range b.KTD {
				ktd.Add(key.Case, v, s)
			}
			out.SetKnownTypeData(ktd)
		}
		return out, nil
	}
	return r, nil
}

func builtinConvert(result annotation.SomeValue) builtinFunc {
	return func(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
		if len(args) > 2 {
			return nil, errs.NewAnnotatorError(errs.A0100, "conversion takes at most 2 arguments")
		}
		return result, nil
	}
}

func builtinFloat(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if f, ok := constFloat(args[0]); ok {
			return annotation.ConstFloat(f), nil
		}
	}
	return annotation.NewFloat(), nil
}

func builtinOrd(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("ord", args, 1, 1); err != nil {
		return nil, err
	}
	return ordOp(&opContext{a: c.a, op: c.op, pos: c.pos, args: args})
}

func builtinAbs(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch s := args[0].(type) {
	case *annotation.Integer, *annotation.Bool:
		return annotation.IntegerUnary("abs", toInteger(s)), nil
	case *annotation.Float:
		return annotation.NewFloat(), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "abs(%s)", args[0])
}

// builtinMinMax min / max：单个列表实参取元素，多个实参取并
func builtinMinMax(isMin bool) builtinFunc {
	return func(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
		if len(args) == 0 {
			return nil, errs.NewAnnotatorError(errs.A0100, "min/max without arguments")
		}
		if len(args) == 1 {
			if l, ok := args[0].(*annotation.List); ok {
				return l.Def.ReadItem(c.pos), nil
			}
			return nil, errs.NewAnnotatorError(errs.A0001, "min/max over %s", args[0])
		}
		for _, s := range args {
			if k := s.Kind(); k != annotation.KInteger && k != annotation.KBool {
				return annotation.UnionOf(args...)
			}
		}
		r := toInteger(args[0]).GetRange()
		lo, hi := r.Lo, r.Hi
		for _, s := range args[1:] {
			r := toInteger(s).GetRange()
			if isMin {
				lo, hi = min(lo, r.Lo), min(hi, r.Hi)
			} else {
				lo, hi = max(lo, r.Lo), max(hi, r.Hi)
			}
		}
		return annotation.NewIntegerRange(lo, hi), nil
	}
}

func builtinList(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if len(args) == 0 {
		return c.bk().NewListHere()
	}
	if err := arity("list", args, 1, 1); err != nil {
		return nil, err
	}
	switch s := args[0].(type) {
	case *annotation.List:
		return c.bk().NewListHere(s.Def.ReadItem(c.pos))
	case *annotation.String:
		return c.bk().NewListHere(annotation.NewChar(s.NoNul))
	case *annotation.Tuple:
		item, err := annotation.UnionOf(s.Items...)
		if err != nil {
			return nil, err
		}
		return c.bk().NewListHere(item)
	case *annotation.Dict:
		return c.bk().NewListHere(s.Def.ReadKey(c.pos))
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "list(%s)", args[0])
}

func builtinOvfcheck(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("ovfcheck", args, 1, 1); err != nil {
		return nil, err
	}
	return args[0], nil
}

func builtinWeAreTranslated(_ *opContext, _ []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.ConstBool(true), nil
}

// builtinInstantiate instantiate(cls)：不调用 __init__ 的实例化
func builtinInstantiate(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("instantiate", args, 1, 1); err != nil {
		return nil, err
	}
	pbc, ok := args[0].(*annotation.PBC)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "instantiate(%s)", args[0])
	}
	values := make([]annotation.SomeValue, 0, len(pbc.Descs))
	for _, d := range pbc.Descs {
		cd, ok := d.(*description.ClassDesc)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "instantiate(%s)", d)
		}
		def, err := cd.GetUniqueClassDef()
		if err != nil {
			return nil, err
		}
		values = append(values, annotation.NewInstance(def, false, nil))
	}
	return annotation.UnionOf(values...)
}

// ============================================================================
// 列表方法
// ============================================================================

func listOf(args []annotation.SomeValue) *annotation.ListDef {
	return args[0].(*annotation.List).Def
}

func listAppend(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("append", args, 2, 2); err != nil {
		return nil, err
	}
	def := listOf(args)
	if err := def.Resize(); err != nil {
		return nil, err
	}
	return annotation.SNone, def.Generalize(args[1])
}

func listExtend(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("extend", args, 2, 2); err != nil {
		return nil, err
	}
	def := listOf(args)
	if err := def.Resize(); err != nil {
		return nil, err
	}
	switch s := args[1].(type) {
	case *annotation.List:
		return annotation.SNone, def.Generalize(s.Def.ReadItem(c.pos))
	case *annotation.String:
		return annotation.SNone, def.Generalize(annotation.NewChar(s.NoNul))
	}
	return nil, errs.NewAnnotatorError(errs.A0001, "extend with %s", args[1])
}

func listPop(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("pop", args, 1, 2); err != nil {
		return nil, err
	}
	def := listOf(args)
	if err := def.Resize(); err != nil {
		return nil, err
	}
	return def.ReadItem(c.pos), nil
}

func listInsert(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("insert", args, 3, 3); err != nil {
		return nil, err
	}
	def := listOf(args)
	if err := def.Resize(); err != nil {
		return nil, err
	}
	return annotation.SNone, def.Generalize(args[2])
}

func listReverse(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.SNone, listOf(args).Mutate()
}

func listRemove(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("remove", args, 2, 2); err != nil {
		return nil, err
	}
	def := listOf(args)
	if err := def.Resize(); err != nil {
		return nil, err
	}
	return annotation.SNone, def.Generalize(args[1])
}

func listIndex(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("index", args, 2, 2); err != nil {
		return nil, err
	}
	if err := listOf(args).Generalize(args[1]); err != nil {
		return nil, err
	}
	return annotation.NewInteger(true), nil
}

// ============================================================================
// 字典方法
// ============================================================================

func dictOf(args []annotation.SomeValue) *annotation.DictDef {
	return args[0].(*annotation.Dict).Def
}

func dictGet(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("get", args, 2, 3); err != nil {
		return nil, err
	}
	def := dictOf(args)
	if err := def.GeneralizeKey(args[1]); err != nil {
		return nil, err
	}
	var dflt annotation.SomeValue = annotation.SNone
	if len(args) == 3 {
		dflt = args[2]
	}
	return annotation.Union(def.ReadValue(c.pos), dflt)
}

func dictSetDefault(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("setdefault", args, 3, 3); err != nil {
		return nil, err
	}
	def := dictOf(args)
	if err := def.GeneralizeKey(args[1]); err != nil {
		return nil, err
	}
	if err := def.GeneralizeValue(args[2]); err != nil {
		return nil, err
	}
	return def.ReadValue(c.pos), nil
}

func dictPop(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("pop", args, 2, 3); err != nil {
		return nil, err
	}
	def := dictOf(args)
	if err := def.GeneralizeKey(args[1]); err != nil {
		return nil, err
	}
	if len(args) == 3 {
		return annotation.Union(def.ReadValue(c.pos), args[2])
	}
	return def.ReadValue(c.pos), nil
}

func dictPopItem(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	def := dictOf(args)
	return annotation.NewTuple([]annotation.SomeValue{def.ReadKey(c.pos), def.ReadValue(c.pos)}), nil
}

func dictKeys(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return c.bk().NewListHere(dictOf(args).ReadKey(c.pos))
}

func dictValues(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return c.bk().NewListHere(dictOf(args).ReadValue(c.pos))
}

func dictItems(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	def := dictOf(args)
	return c.bk().NewListHere(annotation.NewTuple([]annotation.SomeValue{def.ReadKey(c.pos), def.ReadValue(c.pos)}))
}

func dictIter(variant string) builtinFunc {
	return func(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
		return annotation.NewIterator(args[0], variant), nil
	}
}

func dictClear(_ *opContext, _ []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.SNone, nil
}

// dictCopy 副本与原字典共享定义
func dictCopy(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewDict(dictOf(args)), nil
}

func dictUpdate(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	if err := arity("update", args, 2, 2); err != nil {
		return nil, err
	}
	other, ok := args[1].(*annotation.Dict)
	if !ok {
		return nil, errs.NewAnnotatorError(errs.A0001, "update with %s", args[1])
	}
	return annotation.SNone, dictOf(args).Union(other.Def)
}

// ============================================================================
// 字符串方法
// ============================================================================

func strPredicate(_ *opContext, _ []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewBool(), nil
}

func strSearch(_ *opContext, _ []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewInteger(false), nil
}

func strTransform(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewString(false, noNul(args[0])), nil
}

func unicodeTransform(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewUnicode(false, noNul(args[0])), nil
}

func strSplit(c *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return c.bk().NewListHere(annotation.NewString(false, noNul(args[0])))
}

func strFormatMethod(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return nil, errs.NewAnnotatorError(errs.A0004, "%s.format()", args[0])
}

func strDecode(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewUnicode(false, noNul(args[0])), nil
}

func unicodeEncode(_ *opContext, args []annotation.SomeValue) (annotation.SomeValue, error) {
	return annotation.NewString(false, noNul(args[0])), nil
}
