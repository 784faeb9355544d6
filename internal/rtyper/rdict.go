// rdict.go - 字典表示
//
// 字典是开放寻址的散列表：gc 结构体 {num_items, resize_counter, entries}，
// entries 指向内联表项的 gc 数组。表项布局按键的表示选择：
//   - 键有天然的"哑值"（字符、非负整数、不可空的指针）时不需要额外标记；
//   - 否则用 f_valid 标记有效表项；
//   - 自定义 eq/hash 的字典额外保存 f_hash，避免重复调用 hash 函数。
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// EntryLayout 字典表项布局
type EntryLayout struct {
	// DummyKey 删除的表项用键的哑值标记
	DummyKey bool
	// EverUsed 哑值不是零值时，用 f_everused 区分从未使用的表项
	EverUsed bool
	// Valid 用 f_valid 标记有效表项
	Valid bool
	// StoredHash 表项保存 hash
	StoredHash bool
}

// ChooseEntryLayout 按键的注解选择表项布局
func ChooseEntryLayout(def *annotation.DictDef, key annotation.SomeValue) EntryLayout {
	var l EntryLayout
	switch k := key.(type) {
	case *annotation.Char:
		l.DummyKey, l.EverUsed = true, true
	case *annotation.Integer:
		if k.Nonneg && !k.Unsigned {
			l.DummyKey, l.EverUsed = true, true
		}
	case *annotation.String, *annotation.Unicode, *annotation.Instance:
		if !key.CanBeNone() {
			l.DummyKey = true
		}
	}
	if !l.DummyKey {
		l.Valid = true
	}
	if def.CustomEqHash {
		l.StoredHash = true
	}
	return l
}

// DictRepr 字典表示
type DictRepr struct {
	rtyper *RTyper
	s      *annotation.Dict
	key    Repr
	value  Repr
	layout EntryLayout

	fwd     *lltype.Forward
	ptr     *lltype.Ptr
	entry   *lltype.Struct
	entries *lltype.Array
	dict    *lltype.Struct

	prebuilt map[*program.Dict]*lltype.PtrValue
}

func (rt *RTyper) newDictRepr(s *annotation.Dict) (*DictRepr, error) {
	r := &DictRepr{
		rtyper:   rt,
		s:        s,
		layout:   ChooseEntryLayout(s.Def, s.Def.Key().Value),
		fwd:      lltype.NewForward(true),
		prebuilt: make(map[*program.Dict]*lltype.PtrValue),
	}
	r.ptr = lltype.NewPtr(r.fwd)
	return r, nil
}

func (r *DictRepr) setup() error {
	var err error
	if r.key, err = r.rtyper.GetRepr(r.s.Def.Key().Value); err != nil {
		return err
	}
	if r.value, err = r.rtyper.GetRepr(r.s.Def.Value().Value); err != nil {
		return err
	}
	fields := []lltype.Field{
		{Name: "key", Type: r.key.LowLevelType()},
		{Name: "value", Type: r.value.LowLevelType()},
	}
	if r.layout.EverUsed {
		fields = append(fields, lltype.Field{Name: "f_everused", Type: lltype.Bool})
	}
	if r.layout.Valid {
		fields = append(fields, lltype.Field{Name: "f_valid", Type: lltype.Bool})
	}
	if r.layout.StoredHash {
		fields = append(fields, lltype.Field{Name: "f_hash", Type: lltype.Signed})
	}
	r.entry = lltype.NewStruct(r.rtyper.uniqueName("dictentry"), fields, lltype.StructHints{})
	r.entries = lltype.NewGcArray(r.entry, lltype.ArrayHints{})
	r.dict = lltype.NewGcStruct(r.rtyper.uniqueName("dict"), []lltype.Field{
		{Name: "num_items", Type: lltype.Signed},
		{Name: "resize_counter", Type: lltype.Signed},
		{Name: "entries", Type: lltype.NewPtr(r.entries)},
	}, lltype.StructHints{})
	return r.fwd.Become(r.dict)
}

func (r *DictRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *DictRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }
func (r *DictRepr) String() string            { return "DictRepr" }

// Layout 表项布局
func (r *DictRepr) Layout() EntryLayout { return r.layout }

// Entry 表项结构体
func (r *DictRepr) Entry() *lltype.Struct { return r.entry }

// constHash 预构建字典中键的 hash
func constHash(key interface{}, index int) int64 {
	switch k := key.(type) {
	case int64:
		return k
	case int:
		return int64(k)
	case bool:
		if k {
			return 1
		}
		return 0
	case program.Char:
		return int64(k)
	case byte:
		return int64(k)
	case string:
		return StrHash(bytesAsRunes(k))
	case program.Unicode:
		return StrHash([]rune(string(k)))
	}
	return int64(index)
}

func (r *DictRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if value == nil || value == program.None || value == (annotation.NoneValue{}) {
		return lltype.NullPtr(r.ptr), nil
	}
	d, ok := value.(*program.Dict)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T is not a dict constant", value)
	}
	if p, ok := r.prebuilt[d]; ok {
		return p, nil
	}
	size := 8
	for size*2 <= len(d.Keys)*3 {
		size *= 2
	}
	arr, err := lltype.Malloc(r.entries, size)
	if err != nil {
		return nil, err
	}
	arr.Obj.Immortal = true
	mask := int64(size - 1)
	for i, k := range d.Keys {
		kv, err := r.key.ConvertConst(k)
		if err != nil {
			return nil, err
		}
		vv, err := r.value.ConvertConst(d.Values[i])
		if err != nil {
			return nil, err
		}
		h := constHash(k, i)
		slot := h & mask
		for {
			e := arr.Obj.Items[slot].(*lltype.Container)
			if !r.entryUsed(e) {
				break
			}
			slot = (slot + 1) & mask
		}
		e := arr.Obj.Items[slot].(*lltype.Container)
		r.setEntry(e, "key", kv)
		r.setEntry(e, "value", vv)
		if r.layout.EverUsed {
			r.setEntry(e, "f_everused", true)
		}
		if r.layout.Valid {
			r.setEntry(e, "f_valid", true)
		}
		if r.layout.StoredHash {
			r.setEntry(e, "f_hash", h)
		}
	}
	p, err := lltype.Malloc(r.dict, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	if err := p.SetField("num_items", int64(len(d.Keys))); err != nil {
		return nil, err
	}
	if err := p.SetField("resize_counter", int64(size*2-len(d.Keys)*3)); err != nil {
		return nil, err
	}
	if err := p.SetField("entries", arr); err != nil {
		return nil, err
	}
	out := &lltype.PtrValue{T: r.ptr, Obj: p.Obj}
	r.prebuilt[d] = out
	return out, nil
}

func (r *DictRepr) setEntry(e *lltype.Container, field string, v lltype.Value) {
	e.Fields[r.entry.FieldIndex(field)] = v
}

func (r *DictRepr) entryUsed(e *lltype.Container) bool {
	switch {
	case r.layout.EverUsed:
		return e.Fields[r.entry.FieldIndex("f_everused")] == true
	case r.layout.Valid:
		return e.Fields[r.entry.FieldIndex("f_valid")] == true
	}
	p, ok := e.Fields[r.entry.FieldIndex("key")].(*lltype.PtrValue)
	return ok && !p.IsNull()
}

// rtypeNew newdict()
func (r *DictRepr) rtypeNew(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	if hop.NArgs() != 0 {
		return nil, errs.NewTyperError(errs.T0001, "newdict with %d arguments", hop.NArgs())
	}
	return hop.GenDirectCall("ll_newdict", r.ptr), nil
}

func (r *DictRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "len":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.Genop("getfield", []flowmodel.Hlvalue{v, voidConst("num_items")}, lltype.Signed), nil
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		if hop.ArgsS[0].CanBeNone() {
			return hop.GenDirectCall("ll_dict_is_true", lltype.Bool, v), nil
		}
		n := hop.Genop("getfield", []flowmodel.Hlvalue{v, voidConst("num_items")}, lltype.Signed)
		return hop.Genop("int_is_true", []flowmodel.Hlvalue{n}, lltype.Bool), nil
	case "iter":
		it, ok := hop.RResult.(*IteratorRepr)
		if !ok {
			return nil, errNoMethod
		}
		return it.newIter(hop)
	case "getattr":
		if _, ok := hop.RResult.(*BuiltinMethodRepr); ok {
			return hop.InputArg(r, 0)
		}
	}
	return nil, errNoMethod
}

// rtypeMethod 字典方法；hop 的第 0 个参数是字典
func (r *DictRepr) rtypeMethod(name string, hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	var rs []Repr
	helper := "ll_dict_" + name
	switch name {
	case "get", "setdefault":
		rs = []Repr{r, r.key, r.value}
	case "pop":
		rs = []Repr{r, r.key}
		if hop.NArgs() > 2 {
			rs = append(rs, r.value)
			helper = "ll_dict_pop_default"
		}
	case "popitem":
		rs = []Repr{r}
	case "keys", "values", "items", "clear", "copy":
		rs = []Repr{r}
	case "update":
		rs = []Repr{r, hop.ArgsR[1]}
	case "iterkeys", "itervalues", "iteritems":
		it, ok := hop.RResult.(*IteratorRepr)
		if !ok {
			return nil, errNoMethod
		}
		return it.newIter(hop)
	default:
		return nil, errNoMethod
	}
	args, err := hop.InputArgs(rs...)
	if err != nil {
		return nil, err
	}
	if name == "pop" && hop.NArgs() <= 2 {
		hop.ExceptionIsHere()
	}
	if name == "popitem" {
		hop.ExceptionIsHere()
	}
	return hop.GenDirectCall(helper, hop.RResult.LowLevelType(), args...), nil
}

func init() {
	registerPair(annotation.KDict, annotation.KObject, rtypeDictGetItem, "getitem")
	registerPair(annotation.KDict, annotation.KObject, rtypeDictSetItem, "setitem")
	registerPair(annotation.KDict, annotation.KObject, rtypeDictDelItem, "delitem")
	registerPair(annotation.KDict, annotation.KObject, rtypeDictContains, "contains")
}

func rtypeDictGetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*DictRepr)
	args, err := hop.InputArgs(r, r.key)
	if err != nil {
		return nil, err
	}
	hop.ExceptionIsHere()
	v := hop.GenDirectCall("ll_dict_getitem", r.value.LowLevelType(), args...)
	return hop.LLOps.convertVar(v, r.value, hop.RResult)
}

func rtypeDictSetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*DictRepr)
	args, err := hop.InputArgs(r, r.key, r.value)
	if err != nil {
		return nil, err
	}
	hop.GenDirectCall("ll_dict_setitem", lltype.Void, args...)
	return nil, nil
}

func rtypeDictDelItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*DictRepr)
	args, err := hop.InputArgs(r, r.key)
	if err != nil {
		return nil, err
	}
	hop.ExceptionIsHere()
	hop.GenDirectCall("ll_dict_delitem", lltype.Void, args...)
	return nil, nil
}

func rtypeDictContains(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r, ok := hop.ArgsR[0].(*DictRepr)
	if !ok {
		return nil, errNoMethod
	}
	args, err := hop.InputArgs(r, r.key)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_dict_contains", lltype.Bool, args...), nil
}
