// rint.go - 数值与字符的表示
//
// 整数按位宽与符号映射到 Signed/Unsigned/SignedLongLong 等原始类型，
// 低层操作名由前缀（int_、uint_、llong_、ullong_）加操作名组成。
// 受限子集的整除与取模向负无穷取整；操作数不能证明非负时改写为辅助函数调用。
package rtyper

import (
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
	"github.com/tangzhangming/solatrans/internal/rlib/rbigint"
)

// ============================================================================
// 原始类型表示
// ============================================================================

// PrimitiveRepr 直接映射到原始低层类型的表示
type PrimitiveRepr struct {
	t      *lltype.Primitive
	prefix string
}

func (r *PrimitiveRepr) LowLevelType() lltype.Type { return r.t }
func (r *PrimitiveRepr) String() string            { return r.t.Name + "Repr" }

// Prefix 低层操作名前缀
func (r *PrimitiveRepr) Prefix() string { return r.prefix }

func (r *PrimitiveRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	v, ok := primitiveConst(r.t, value)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T %v is not a valid %s constant", value, value, r.t)
	}
	return v, nil
}

func primitiveConst(t *lltype.Primitive, value interface{}) (lltype.Value, bool) {
	switch t.Class {
	case lltype.ClassBool:
		switch v := value.(type) {
		case bool:
			return v, true
		case int64:
			return v != 0, true
		case int:
			return v != 0, true
		}
	case lltype.ClassInt:
		var i int64
		switch v := value.(type) {
		case int64:
			i = v
		case int:
			i = int64(v)
		case int32:
			i = int64(v)
		case uint64:
			i = int64(v)
		case bool:
			if v {
				i = 1
			}
		case program.Char:
			i = int64(v)
		case *rbigint.Bigint:
			if !t.Signed {
				return v.UintMask(), true
			}
			n, err := v.ToInt()
			if err != nil {
				return nil, false
			}
			i = n
		default:
			return nil, false
		}
		if t.Signed {
			return i, true
		}
		return uint64(i), true
	case lltype.ClassFloat:
		switch v := value.(type) {
		case float64:
			return v, true
		case *rbigint.Bigint:
			f, err := v.ToFloat()
			return f, err == nil
		case int64:
			return float64(v), true
		case int:
			return float64(v), true
		}
	case lltype.ClassChar:
		switch v := value.(type) {
		case program.Char:
			return byte(v), true
		case byte:
			return v, true
		case string:
			if len(v) == 1 {
				return v[0], true
			}
		}
	case lltype.ClassUniChar:
		switch v := value.(type) {
		case program.UniChar:
			return rune(v), true
		case rune:
			return v, true
		case program.Unicode:
			if r := []rune(string(v)); len(r) == 1 {
				return r[0], true
			}
		case string:
			if r := []rune(v); len(r) == 1 {
				return r[0], true
			}
		}
	}
	return nil, false
}

var (
	boolRepr    = &PrimitiveRepr{t: lltype.Bool, prefix: "bool_"}
	floatRepr   = &PrimitiveRepr{t: lltype.Float, prefix: "float_"}
	charRepr    = &PrimitiveRepr{t: lltype.Char, prefix: "char_"}
	unicharRepr = &PrimitiveRepr{t: lltype.UniChar, prefix: "unichar_"}

	signedRepr   = &PrimitiveRepr{t: lltype.Signed, prefix: "int_"}
	unsignedRepr = &PrimitiveRepr{t: lltype.Unsigned, prefix: "uint_"}
	int32Repr    = &PrimitiveRepr{t: lltype.Int32, prefix: "int_"}
	llongRepr    = &PrimitiveRepr{t: lltype.SignedLongLong, prefix: "llong_"}
	ullongRepr   = &PrimitiveRepr{t: lltype.UnsignedLongLong, prefix: "ullong_"}
)

// integerRepr 整数注解的表示
func integerRepr(s *annotation.Integer) *PrimitiveRepr {
	switch {
	case s.Bits > 64 && s.Unsigned:
		return ullongRepr
	case s.Bits > 64:
		return llongRepr
	case s.Bits == 32 && !s.Unsigned:
		return int32Repr
	case s.Unsigned:
		return unsignedRepr
	}
	return signedRepr
}

// primPrefix 原始类型的低层操作名前缀
func primPrefix(t *lltype.Primitive) string {
	switch t {
	case lltype.Unsigned:
		return "uint_"
	case lltype.SignedLongLong:
		return "llong_"
	case lltype.UnsignedLongLong:
		return "ullong_"
	}
	switch t.Class {
	case lltype.ClassFloat:
		return "float_"
	case lltype.ClassChar:
		return "char_"
	case lltype.ClassUniChar:
		return "unichar_"
	case lltype.ClassBool:
		return "bool_"
	}
	return "int_"
}

func isIntRepr(r Repr) (*PrimitiveRepr, bool) {
	p, ok := r.(*PrimitiveRepr)
	if !ok || p.t.Class != lltype.ClassInt {
		return nil, false
	}
	return p, true
}

// ============================================================================
// 一元操作
// ============================================================================

func (r *PrimitiveRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch r.t.Class {
	case lltype.ClassInt:
		return r.rtypeIntUnary(hop)
	case lltype.ClassBool:
		return r.rtypeBoolUnary(hop)
	case lltype.ClassFloat:
		return r.rtypeFloatUnary(hop)
	case lltype.ClassChar, lltype.ClassUniChar:
		return r.rtypeCharUnary(hop)
	}
	return nil, errNoMethod
}

func (r *PrimitiveRepr) rtypeIntUnary(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	name := hop.Name()
	switch name {
	case "neg", "abs", "invert", "neg_ovf", "abs_ovf":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(name, "_ovf") {
			hop.ExceptionIsHere()
		}
		return hop.Genop(r.prefix+name, []flowmodel.Hlvalue{v}, r.t), nil
	case "pos", "int", "hash":
		rr := r
		if p, ok := isIntRepr(hop.RResult); ok {
			rr = p
		}
		return hop.InputArg(rr, 0)
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop(r.prefix+"is_true", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	case "float":
		return hop.InputArg(floatRepr, 0)
	case "str", "repr", "hex", "oct":
		v, err := hop.InputArg(signedRepr, 0)
		if err != nil {
			return nil, err
		}
		helper := map[string]string{"str": "ll_int2dec", "repr": "ll_int2dec", "hex": "ll_int2hex", "oct": "ll_int2oct"}[name]
		return hop.GenDirectCall(helper, hop.RResult.LowLevelType(), v), nil
	case "chr":
		v, err := hop.InputArg(signedRepr, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("cast_int_to_char", []flowmodel.Hlvalue{v}, lltype.Char), nil
	case "unichr":
		v, err := hop.InputArg(signedRepr, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("cast_int_to_unichar", []flowmodel.Hlvalue{v}, lltype.UniChar), nil
	}
	return nil, errNoMethod
}

func (r *PrimitiveRepr) rtypeBoolUnary(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "bool":
		return hop.InputArg(boolRepr, 0)
	case "int", "pos", "neg", "abs", "invert", "hash":
		v, err := hop.InputArg(signedRepr, 0)
		if err != nil {
			return nil, err
		}
		sub := hop.withArgs(hop.Name(), []flowmodel.Hlvalue{v}, []annotation.SomeValue{annotation.NewInteger(false)}, []Repr{signedRepr})
		res, err := signedRepr.rtypeIntUnary(sub)
		hop.merge(sub)
		return res, err
	case "float":
		return hop.InputArg(floatRepr, 0)
	case "str", "repr":
		v, err := hop.InputArg(boolRepr, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_bool2str", hop.RResult.LowLevelType(), v), nil
	}
	return nil, errNoMethod
}

func (r *PrimitiveRepr) rtypeFloatUnary(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "neg", "abs":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("float_"+hop.Name(), []flowmodel.Hlvalue{v}, lltype.Float), nil
	case "pos", "float":
		return hop.InputArg(r, 0)
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("float_is_true", []flowmodel.Hlvalue{v}, lltype.Bool), nil
	case "int":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("cast_float_to_int", []flowmodel.Hlvalue{v}, lltype.Signed), nil
	case "hash":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_hash_float", lltype.Signed, v), nil
	case "str", "repr":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_float_str", hop.RResult.LowLevelType(), v), nil
	}
	return nil, errNoMethod
}

func (r *PrimitiveRepr) rtypeCharUnary(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "ord", "int", "hash":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		op := "cast_char_to_int"
		if r.t == lltype.UniChar {
			op = "cast_unichar_to_int"
		}
		return hop.Genop(op, []flowmodel.Hlvalue{v}, lltype.Signed), nil
	case "bool":
		return flowmodel.NewTypedConstant(true, lltype.Bool), nil
	case "len":
		return flowmodel.NewTypedConstant(int64(1), lltype.Signed), nil
	case "str", "unicode":
		rs, ok := hop.RResult.(*StringRepr)
		if !ok {
			return nil, errNoMethod
		}
		return rs.convertFrom(hop.LLOps, hop.ArgsV[0], hop.ArgsR[0])
	}
	// 字符可以使用字符串的方法
	if rs, ok := hop.rtyper.stringReprFor(r); ok {
		v, err := rs.convertFrom(hop.LLOps, hop.ArgsV[0], r)
		if err != nil {
			return nil, err
		}
		sub := hop.withArgs(hop.Name(), append([]flowmodel.Hlvalue{v}, hop.ArgsV[1:]...), hop.ArgsS, append([]Repr{rs}, hop.ArgsR[1:]...))
		res, err := rs.rtypeOp(sub)
		hop.merge(sub)
		return res, err
	}
	return nil, errNoMethod
}

// ============================================================================
// 二元操作
// ============================================================================

var (
	intArith    = []string{"add", "sub", "mul", "and_", "or_", "xor", "lshift", "rshift"}
	intOvfArith = []string{"add_ovf", "sub_ovf", "mul_ovf", "lshift_ovf"}
	comparisons = []string{"lt", "le", "eq", "ne", "gt", "ge"}
)

func init() {
	registerPair(annotation.KInteger, annotation.KInteger, rtypeIntBinop, intArith...)
	registerPair(annotation.KInteger, annotation.KInteger, rtypeIntBinop, intOvfArith...)
	registerPair(annotation.KInteger, annotation.KInteger, rtypeIntDiv, "floordiv", "div", "mod", "floordiv_ovf", "mod_ovf")
	registerPair(annotation.KInteger, annotation.KInteger, rtypeIntCompare, comparisons...)
	registerPair(annotation.KInteger, annotation.KInteger, rtypeTrueDiv, "truediv")
	registerPair(annotation.KInteger, annotation.KInteger, rtypeIntPow, "pow")

	registerPair(annotation.KFloat, annotation.KFloat, rtypeFloatBinop, "add", "sub", "mul", "truediv", "div")
	registerPair(annotation.KFloat, annotation.KFloat, rtypeFloatHelper, "floordiv", "mod", "pow")
	registerPair(annotation.KFloat, annotation.KFloat, rtypeFloatCompare, comparisons...)

	registerPair(annotation.KChar, annotation.KChar, rtypeCharCompare, comparisons...)
	registerPair(annotation.KUniChar, annotation.KUniChar, rtypeCharCompare, comparisons...)
}

// commonIntRepr 两个整数参数共同的表示：无符号优先，其次是更宽的类型
func commonIntRepr(hop *HighLevelOp) *PrimitiveRepr {
	if p, ok := isIntRepr(hop.RResult); ok {
		return p
	}
	best := signedRepr
	for _, r := range hop.ArgsR[:2] {
		p, ok := isIntRepr(r)
		if !ok {
			continue
		}
		if !p.t.Signed || p.t.Bits > best.t.Bits || (p == llongRepr && best == signedRepr) {
			best = p
		}
	}
	return best
}

func rtypeIntBinop(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := commonIntRepr(hop)
	name := hop.Name()
	base := strings.TrimSuffix(name, "_ovf")
	r1 := r
	if base == "lshift" || base == "rshift" {
		r1 = signedRepr
	}
	v0, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r1, 1)
	if err != nil {
		return nil, err
	}
	opname := r.prefix + strings.TrimSuffix(base, "_")
	if base != name {
		opname += "_ovf"
		hop.ExceptionIsHere()
	}
	res := hop.Genop(opname, []flowmodel.Hlvalue{v0, v1}, r.t)
	if hop.RResult == boolRepr {
		// 布尔值的按位运算
		return hop.Genop(r.prefix+"is_true", []flowmodel.Hlvalue{res}, lltype.Bool), nil
	}
	return res, nil
}

func nonneg(s annotation.SomeValue) bool {
	if i, ok := s.(*annotation.Integer); ok {
		return i.Nonneg || i.Unsigned
	}
	_, isBool := s.(*annotation.Bool)
	return isBool
}

// rtypeIntDiv 整除与取模；捕获 ZeroDivisionError 时使用 _zer 变体
func rtypeIntDiv(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := commonIntRepr(hop)
	name := hop.Name()
	ovf := strings.HasSuffix(name, "_ovf")
	base := strings.TrimSuffix(name, "_ovf")
	if base == "div" {
		base = "floordiv"
	}
	v0, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r, 1)
	if err != nil {
		return nil, err
	}
	zer := false
	if zde, ok := hop.rtyper.bk.Exceptions.ByName("ZeroDivisionError"); ok {
		zer = hop.HasImplicitException(zde)
	}
	args := []flowmodel.Hlvalue{v0, v1}
	if !r.t.Signed || (nonneg(hop.ArgsS[0]) && nonneg(hop.ArgsS[1])) {
		opname := r.prefix + base
		switch {
		case r.prefix == "int_" && ovf && zer:
			opname += "_ovf_zer"
		case r.prefix == "int_" && ovf:
			opname += "_ovf"
		case r.prefix == "int_" && zer:
			opname += "_zer"
		}
		if ovf || zer {
			hop.ExceptionIsHere()
		}
		return hop.Genop(opname, args, r.t), nil
	}
	helper := "ll_int_py_div"
	if base == "mod" {
		helper = "ll_int_py_mod"
	}
	if ovf {
		helper += "_ovf"
	}
	if zer {
		helper += "_zer"
	}
	if ovf || zer {
		hop.ExceptionIsHere()
	}
	return hop.GenDirectCall(helper, r.t, args...), nil
}

func rtypeIntCompare(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := signedRepr
	for _, x := range hop.ArgsR[:2] {
		if p, ok := isIntRepr(x); ok && (!p.t.Signed || p.t.Bits > r.t.Bits || p == llongRepr) {
			r = p
		}
	}
	v0, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r, 1)
	if err != nil {
		return nil, err
	}
	return hop.Genop(r.prefix+hop.Name(), []flowmodel.Hlvalue{v0, v1}, lltype.Bool), nil
}

func rtypeTrueDiv(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	v0, err := hop.InputArg(floatRepr, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(floatRepr, 1)
	if err != nil {
		return nil, err
	}
	return hop.Genop("float_truediv", []flowmodel.Hlvalue{v0, v1}, lltype.Float), nil
}

func rtypeIntPow(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := commonIntRepr(hop)
	v0, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r, 1)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_int_pow", r.t, v0, v1), nil
}

func floatArgs(hop *HighLevelOp) ([]flowmodel.Hlvalue, error) {
	return hop.InputArgs(floatRepr, floatRepr)
}

func rtypeFloatBinop(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	args, err := floatArgs(hop)
	if err != nil {
		return nil, err
	}
	name := hop.Name()
	if name == "div" {
		name = "truediv"
	}
	return hop.Genop("float_"+name, args, lltype.Float), nil
}

func rtypeFloatHelper(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	args, err := floatArgs(hop)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_float_"+hop.Name(), lltype.Float, args...), nil
}

func rtypeFloatCompare(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	args, err := floatArgs(hop)
	if err != nil {
		return nil, err
	}
	return hop.Genop("float_"+hop.Name(), args, lltype.Bool), nil
}

func rtypeCharCompare(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := charRepr
	if hop.ArgsS[0].Kind() == annotation.KUniChar || hop.ArgsS[1].Kind() == annotation.KUniChar {
		r = unicharRepr
	}
	args, err := hop.InputArgs(r, r)
	if err != nil {
		return nil, err
	}
	return hop.Genop(r.prefix+hop.Name(), args, lltype.Bool), nil
}
