// rstr.go - 字符串与 unicode 的表示
//
// 字符串是 gc 结构体 {hash, chars}，chars 是内联的字符数组。
// hash 为 0 表示尚未计算；预构建字符串在构造时就填好 hash。
// 大部分操作改写为运行时辅助函数调用，长度与已知非负下标的取字符直接访问内部数组。
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// StringRepr 字符串（或 unicode）表示
type StringRepr struct {
	rtyper  *RTyper
	unicode bool
	char    *PrimitiveRepr
	str     *lltype.Struct
	ptr     *lltype.Ptr
	// prefix 辅助函数名前缀
	prefix   string
	prebuilt map[string]*lltype.PtrValue
}

func (rt *RTyper) newStringRepr(unicode bool) *StringRepr {
	r := &StringRepr{rtyper: rt, unicode: unicode, prebuilt: make(map[string]*lltype.PtrValue)}
	name, char, prefix := "rpy_string", charRepr, "ll_str"
	if unicode {
		name, char, prefix = "rpy_unicode", unicharRepr, "ll_unicode"
	}
	r.char = char
	r.prefix = prefix
	chars := lltype.NewArray(char.t, lltype.ArrayHints{IsString: true, Immutable: true})
	r.str = lltype.NewGcStruct(name, []lltype.Field{
		{Name: "hash", Type: lltype.Signed},
		{Name: "chars", Type: chars},
	}, lltype.StructHints{ImmutableFields: []string{"chars"}})
	r.ptr = lltype.NewPtr(r.str)
	return r
}

func (rt *RTyper) stringRepr() *StringRepr {
	if r, ok := rt.reprs["str"].(*StringRepr); ok {
		return r
	}
	r := rt.newStringRepr(false)
	rt.reprs["str"] = r
	return r
}

func (rt *RTyper) unicodeRepr() *StringRepr {
	if r, ok := rt.reprs["unicode"].(*StringRepr); ok {
		return r
	}
	r := rt.newStringRepr(true)
	rt.reprs["unicode"] = r
	return r
}

// stringReprFor 字符表示对应的字符串表示
func (rt *RTyper) stringReprFor(r *PrimitiveRepr) (*StringRepr, bool) {
	switch r {
	case charRepr:
		return rt.stringRepr(), true
	case unicharRepr:
		return rt.unicodeRepr(), true
	}
	return nil, false
}

func (r *StringRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *StringRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }

func (r *StringRepr) String() string {
	if r.unicode {
		return "UnicodeRepr"
	}
	return "StringRepr"
}

// Struct 字符串的 gc 结构体
func (r *StringRepr) Struct() *lltype.Struct { return r.str }

// StrHash 字符串的 hash：逐字符乘 1000003 异或，最后异或长度；-1 保留给错误
func StrHash(s []rune) int64 {
	if len(s) == 0 {
		return 0
	}
	x := int64(s[0]) << 7
	for _, c := range s {
		x = (1000003 * x) ^ int64(c)
	}
	x ^= int64(len(s))
	if x == -1 {
		x = -2
	}
	return x
}

func (r *StringRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	var runes []rune
	var key string
	switch v := value.(type) {
	case nil, annotation.NoneValue:
		return lltype.NullPtr(r.ptr), nil
	case string:
		key = v
		if r.unicode {
			runes = []rune(v)
		} else {
			runes = bytesAsRunes(v)
		}
	case program.Unicode:
		key = string(v)
		runes = []rune(string(v))
	case program.Char:
		key = string([]byte{byte(v)})
		runes = []rune{rune(v)}
	case program.UniChar:
		key = string(rune(v))
		runes = []rune{rune(v)}
	default:
		if v == program.None {
			return lltype.NullPtr(r.ptr), nil
		}
		return nil, errs.NewTyperError(errs.T0002, "%T is not a string constant", value)
	}
	if p, ok := r.prebuilt[key]; ok {
		return p, nil
	}
	p, err := lltype.Malloc(r.str, len(runes))
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	if err := p.SetField("hash", StrHash(runes)); err != nil {
		return nil, err
	}
	chars, err := p.GetField("chars")
	if err != nil {
		return nil, err
	}
	arr := chars.(*lltype.PtrValue)
	for i, c := range runes {
		var item lltype.Value = rune(c)
		if !r.unicode {
			item = byte(c)
		}
		if err := arr.SetItem(i, item); err != nil {
			return nil, err
		}
	}
	r.prebuilt[key] = p
	return p, nil
}

func bytesAsRunes(s string) []rune {
	out := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = rune(s[i])
	}
	return out
}

// convertFrom 字符转换为单字符字符串
func (r *StringRepr) convertFrom(llops *LowLevelOpList, v flowmodel.Hlvalue, rFrom Repr) (flowmodel.Hlvalue, error) {
	switch rFrom {
	case charRepr:
		if r.unicode {
			c := llops.Genop("cast_char_to_int", []flowmodel.Hlvalue{v}, lltype.Signed)
			u := llops.Genop("cast_int_to_unichar", []flowmodel.Hlvalue{c}, lltype.UniChar)
			return llops.GenDirectCall(r.prefix+"_chr2str", r.ptr, u), nil
		}
		return llops.GenDirectCall(r.prefix+"_chr2str", r.ptr, v), nil
	case unicharRepr:
		if r.unicode {
			return llops.GenDirectCall(r.prefix+"_chr2str", r.ptr, v), nil
		}
	}
	if other, ok := rFrom.(*StringRepr); ok && other.unicode != r.unicode {
		if r.unicode {
			return llops.GenDirectCall("ll_str2unicode", r.ptr, v), nil
		}
	}
	return nil, errNoMethod
}

// ============================================================================
// 一元操作与方法
// ============================================================================

func (r *StringRepr) self(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	return hop.InputArg(r, 0)
}

func (r *StringRepr) nullableSelf(hop *HighLevelOp) bool {
	return hop.ArgsS[0] != nil && hop.ArgsS[0].CanBeNone()
}

func (r *StringRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	name := hop.Name()
	switch name {
	case "len":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		return hop.Genop("getinteriorarraysize", []flowmodel.Hlvalue{v, voidConst("chars")}, lltype.Signed), nil
	case "bool":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		if !r.nullableSelf(hop) {
			n := hop.Genop("getinteriorarraysize", []flowmodel.Hlvalue{v, voidConst("chars")}, lltype.Signed)
			return hop.Genop("int_is_true", []flowmodel.Hlvalue{n}, lltype.Bool), nil
		}
		return hop.GenDirectCall(r.prefix+"_is_true", lltype.Bool, v), nil
	case "hash":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall(r.prefix+"hash", lltype.Signed, v), nil
	case "str", "unicode":
		if hop.RResult == Repr(r) {
			return r.self(hop)
		}
		if rs, ok := hop.RResult.(*StringRepr); ok {
			v, err := r.self(hop)
			if err != nil {
				return nil, err
			}
			if rs.unicode {
				return hop.GenDirectCall("ll_str2unicode", rs.ptr, v), nil
			}
			return hop.GenDirectCall("ll_unicode2str", rs.ptr, v), nil
		}
	case "repr":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall(r.prefix+"_repr", hop.RResult.LowLevelType(), v), nil
	case "int":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		hop.ExceptionIsHere()
		return hop.GenDirectCall(r.prefix+"_int", lltype.Signed, v), nil
	case "float":
		v, err := r.self(hop)
		if err != nil {
			return nil, err
		}
		hop.ExceptionIsHere()
		return hop.GenDirectCall(r.prefix+"_float", lltype.Float, v), nil
	case "iter":
		it, ok := hop.RResult.(*IteratorRepr)
		if !ok {
			return nil, errNoMethod
		}
		return it.newIter(hop)
	case "getattr":
		// 绑定方法：表示就是字符串本身
		if _, ok := hop.RResult.(*BuiltinMethodRepr); ok {
			return r.self(hop)
		}
	}
	return nil, errNoMethod
}

// rtypeMethod 字符串方法调用：hop 的第 0 个参数是字符串
func (r *StringRepr) rtypeMethod(name string, hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	args := []flowmodel.Hlvalue{}
	self, err := r.self(hop)
	if err != nil {
		return nil, err
	}
	args = append(args, self)
	for i := 1; i < hop.NArgs(); i++ {
		rArg := hop.ArgsR[i]
		switch rArg.(type) {
		case *PrimitiveRepr:
			if rArg == charRepr || rArg == unicharRepr {
				// 单字符参数与字符串参数使用同一个辅助函数
				v, err := hop.InputArg(r, i)
				if err != nil {
					return nil, err
				}
				args = append(args, v)
				continue
			}
		case *StringRepr:
			v, err := hop.InputArg(r, i)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
			continue
		}
		v, err := hop.InputArg(rArg, i)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	switch name {
	case "encode", "decode":
		hop.ExceptionIsHere()
	}
	return hop.GenDirectCall(r.prefix+"_"+name, hop.RResult.LowLevelType(), args...), nil
}

// ============================================================================
// 二元操作
// ============================================================================

func init() {
	for _, k := range []annotation.Kind{annotation.KString, annotation.KUnicode} {
		registerPair(k, k, rtypeStrConcat, "add")
		registerPair(k, k, rtypeStrEq, "eq", "ne")
		registerPair(k, k, rtypeStrCompare, "lt", "le", "gt", "ge")
		registerPair(k, k, rtypeStrContains, "contains")
		registerPair(k, annotation.KInteger, rtypeStrGetItem, "getitem", "getitem_idx")
		registerPair(k, annotation.KInteger, rtypeStrMul, "mul")
		registerPair(k, annotation.KObject, rtypeStrMod, "mod")
	}
}

// strPairRepr 两个参数共同的字符串表示；有一方是 unicode 时用 unicode
func strPairRepr(hop *HighLevelOp) *StringRepr {
	for _, s := range hop.ArgsS[:2] {
		k := s.Kind()
		if k == annotation.KUnicode || k == annotation.KUniChar {
			return hop.rtyper.unicodeRepr()
		}
	}
	return hop.rtyper.stringRepr()
}

func rtypeStrConcat(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := strPairRepr(hop)
	args, err := hop.InputArgs(r, r)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall(r.prefix+"concat", r.ptr, args...), nil
}

func rtypeStrEq(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.ArgsR[0] == charRepr && hop.ArgsR[1] == charRepr ||
		hop.ArgsR[0] == unicharRepr && hop.ArgsR[1] == unicharRepr {
		return rtypeCharCompare(hop)
	}
	r := strPairRepr(hop)
	args, err := hop.InputArgs(r, r)
	if err != nil {
		return nil, err
	}
	eq := hop.GenDirectCall(r.prefix+"eq", lltype.Bool, args...)
	if hop.Name() == "ne" {
		return hop.Genop("bool_not", []flowmodel.Hlvalue{eq}, lltype.Bool), nil
	}
	return eq, nil
}

func rtypeStrCompare(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := strPairRepr(hop)
	args, err := hop.InputArgs(r, r)
	if err != nil {
		return nil, err
	}
	cmp := hop.GenDirectCall(r.prefix+"cmp", lltype.Signed, args...)
	zero := flowmodel.NewTypedConstant(int64(0), lltype.Signed)
	return hop.Genop("int_"+hop.Name(), []flowmodel.Hlvalue{cmp, zero}, lltype.Bool), nil
}

func rtypeStrContains(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := strPairRepr(hop)
	s, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	if hop.ArgsR[1] == r.char {
		c, err := hop.InputArg(r.char, 1)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall(r.prefix+"_contains_char", lltype.Bool, s, c), nil
	}
	sub, err := hop.InputArg(r, 1)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall(r.prefix+"_contains", lltype.Bool, s, sub), nil
}

// rtypeStrGetItem 下标已知非负时直接读内部数组，否则调用处理负下标的辅助函数
func rtypeStrGetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r, ok := hop.ArgsR[0].(*StringRepr)
	if !ok {
		return nil, errNoMethod
	}
	s, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	i, err := hop.InputArg(signedRepr, 1)
	if err != nil {
		return nil, err
	}
	checked := hop.Name() == "getitem_idx"
	if !checked {
		if ie, ok := hop.rtyper.bk.Exceptions.ByName("IndexError"); ok && hop.HasImplicitException(ie) {
			checked = true
		}
	}
	if checked {
		hop.ExceptionIsHere()
		return hop.GenDirectCall(r.prefix+"item_checked", r.char.t, s, i), nil
	}
	if nonneg(hop.ArgsS[1]) {
		return hop.Genop("getinteriorfield", []flowmodel.Hlvalue{s, voidConst("chars"), i}, r.char.t), nil
	}
	return hop.GenDirectCall(r.prefix+"item", r.char.t, s, i), nil
}

func rtypeStrMul(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r, ok := hop.ArgsR[0].(*StringRepr)
	if !ok {
		return nil, errNoMethod
	}
	s, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	n, err := hop.InputArg(signedRepr, 1)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall(r.prefix+"_mul", r.ptr, s, n), nil
}

// rtypeStrMod 格式化：右操作数为元组时逐项传给辅助函数
func rtypeStrMod(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r, ok := hop.ArgsR[0].(*StringRepr)
	if !ok {
		return nil, errNoMethod
	}
	f, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	args := []flowmodel.Hlvalue{f}
	if tr, ok := hop.ArgsR[1].(*TupleRepr); ok {
		t, err := hop.InputArg(tr, 1)
		if err != nil {
			return nil, err
		}
		for i, item := range tr.items {
			v := hop.Genop("getfield", []flowmodel.Hlvalue{t, voidConst(tupleField(i))}, item.LowLevelType())
			args = append(args, v)
		}
	} else {
		v, err := hop.InputArg(hop.ArgsR[1], 1)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return hop.GenDirectCall(r.prefix+"_format", r.ptr, args...), nil
}
