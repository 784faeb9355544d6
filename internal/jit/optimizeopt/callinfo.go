// callinfo.go - 特殊调用的辅助函数表
package optimizeopt

import (
	"slices"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// CallInfo 一个辅助函数及其调用描述符
type CallInfo struct {
	Func  *history.FuncObj
	Descr *history.CallDescr
}

// CallInfoCollection 按特殊调用编号登记的辅助函数
type CallInfoCollection struct {
	infos map[history.OopSpecIndex]CallInfo
}

// NewCallInfoCollection 创建空表
func NewCallInfoCollection() *CallInfoCollection {
	return &CallInfoCollection{infos: make(map[history.OopSpecIndex]CallInfo)}
}

// Add 登记辅助函数
func (c *CallInfoCollection) Add(idx history.OopSpecIndex, fn *history.FuncObj, descr *history.CallDescr) {
	c.infos[idx] = CallInfo{Func: fn, Descr: descr}
}

// Lookup 查找辅助函数
func (c *CallInfoCollection) Lookup(idx history.OopSpecIndex) (CallInfo, bool) {
	info, ok := c.infos[idx]
	return info, ok
}

// DefaultCallInfo 字符串相关的全部辅助函数，字节串与 unicode 各一份
func DefaultCallInfo() *CallInfoCollection {
	c := NewCallInfoCollection()
	for _, offset := range []history.OopSpecIndex{0, history.UnicodeOffset} {
		for _, h := range stringHelpers {
			idx := h.idx + offset
			ei := history.NewEffectInfo(history.EffectSpec{
				Extra:   history.EF_ELIDABLE_CANNOT_RAISE,
				Oopspec: idx,
			})
			descr := history.NewCallDescr(h.name, h.args, h.result, ei)
			c.Add(idx, &history.FuncObj{Name: h.name, Impl: h.impl}, descr)
		}
	}
	return c
}

const (
	tRef = history.REF
	tInt = history.INT
)

var stringHelpers = []struct {
	idx    history.OopSpecIndex
	name   string
	args   []history.Type
	result history.Type
	impl   func([]history.Value) (history.Value, error)
}{
	{history.OS_STR_CONCAT, "ll_strconcat", []history.Type{tRef, tRef}, tRef, llConcat},
	{history.OS_STR_SLICE, "ll_stringslice", []history.Type{tRef, tInt, tInt}, tRef, llSlice},
	{history.OS_STR_EQUAL, "ll_streq", []history.Type{tRef, tRef}, tInt, llStreq},
	{history.OS_STREQ_SLICE_CHECKNULL, "ll_streq_slice_checknull", []history.Type{tRef, tInt, tInt, tRef}, tInt, llStreqSliceChecknull},
	{history.OS_STREQ_SLICE_NONNULL, "ll_streq_slice_nonnull", []history.Type{tRef, tInt, tInt, tRef}, tInt, llStreqSliceNonnull},
	{history.OS_STREQ_SLICE_CHAR, "ll_streq_slice_char", []history.Type{tRef, tInt, tInt, tInt}, tInt, llStreqSliceChar},
	{history.OS_STREQ_NONNULL, "ll_streq_nonnull", []history.Type{tRef, tRef}, tInt, llStreqNonnull},
	{history.OS_STREQ_NONNULL_CHAR, "ll_streq_nonnull_char", []history.Type{tRef, tInt}, tInt, llStreqNonnullChar},
	{history.OS_STREQ_CHECKNULL_CHAR, "ll_streq_checknull_char", []history.Type{tRef, tInt}, tInt, llStreqChecknullChar},
	{history.OS_STREQ_LENGTHOK, "ll_streq_lengthok", []history.Type{tRef, tRef}, tInt, llStreqLengthok},
	{history.OS_STR_CMP, "ll_strcmp", []history.Type{tRef, tRef}, tInt, llStrcmp},
}

// ============================================================================
// 实现
// ============================================================================

func strArg(v history.Value) *history.StrObj {
	var obj history.HeapObj
	switch v := v.(type) {
	case history.ConstPtr:
		obj = v.Value
	case *history.Box:
		obj = v.Ref
	}
	s, _ := obj.(*history.StrObj)
	return s
}

func intArg(v history.Value) int64 {
	switch v := v.(type) {
	case history.ConstInt:
		return v.Value
	case *history.Box:
		return v.Int
	}
	return 0
}

func newStr(chars []rune, unicode bool) history.Value {
	if unicode {
		return history.ConstUnicode(string(chars))
	}
	return history.ConstString(string(chars))
}

func llConcat(args []history.Value) (history.Value, error) {
	a, b := strArg(args[0]), strArg(args[1])
	return newStr(append(slices.Clone(a.Chars), b.Chars...), a.Unicode), nil
}

func llSlice(args []history.Value) (history.Value, error) {
	s := strArg(args[0])
	start, stop := intArg(args[1]), intArg(args[2])
	return newStr(s.Chars[start:stop], s.Unicode), nil
}

func llStreq(args []history.Value) (history.Value, error) {
	a, b := strArg(args[0]), strArg(args[1])
	if a == nil || b == nil {
		return history.ConstFromBool(a == b), nil
	}
	return history.ConstFromBool(slices.Equal(a.Chars, b.Chars)), nil
}

func llStreqNonnull(args []history.Value) (history.Value, error) {
	return history.ConstFromBool(slices.Equal(strArg(args[0]).Chars, strArg(args[1]).Chars)), nil
}

func llStreqLengthok(args []history.Value) (history.Value, error) {
	return llStreqNonnull(args)
}

func llStreqSliceChecknull(args []history.Value) (history.Value, error) {
	if strArg(args[3]) == nil {
		return history.CONST_0, nil
	}
	return llStreqSliceNonnull(args)
}

func llStreqSliceNonnull(args []history.Value) (history.Value, error) {
	s := strArg(args[0])
	start, length := intArg(args[1]), intArg(args[2])
	return history.ConstFromBool(slices.Equal(s.Chars[start:start+length], strArg(args[3]).Chars)), nil
}

func llStreqSliceChar(args []history.Value) (history.Value, error) {
	s := strArg(args[0])
	start, length := intArg(args[1]), intArg(args[2])
	return history.ConstFromBool(length == 1 && int64(s.Chars[start]) == intArg(args[3])), nil
}

func llStreqNonnullChar(args []history.Value) (history.Value, error) {
	s := strArg(args[0])
	return history.ConstFromBool(len(s.Chars) == 1 && int64(s.Chars[0]) == intArg(args[1])), nil
}

func llStreqChecknullChar(args []history.Value) (history.Value, error) {
	if strArg(args[0]) == nil {
		return history.CONST_0, nil
	}
	return llStreqNonnullChar(args)
}

func llStrcmp(args []history.Value) (history.Value, error) {
	a, b := strArg(args[0]).Chars, strArg(args[1]).Chars
	for k := range min(len(a), len(b)) {
		if a[k] != b[k] {
			return history.ConstInt{Value: int64(a[k]) - int64(b[k])}, nil
		}
	}
	return history.ConstInt{Value: int64(len(a) - len(b))}, nil
}
