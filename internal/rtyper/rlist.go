// rlist.go - 列表表示
//
// 会改变长度的列表是 gc 结构体 {length, items}，items 指向可能比 length 更长的 gc 数组；
// 从不改变长度的列表直接用 gc 数组表示。
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// ListRepr 列表表示
type ListRepr struct {
	rtyper *RTyper
	s      *annotation.List
	item   Repr
	// fixed 定长列表，低层类型是数组指针
	fixed bool

	fwd   *lltype.Forward
	ptr   *lltype.Ptr
	array *lltype.Array
	list  *lltype.Struct

	prebuilt map[*program.List]*lltype.PtrValue
}

func (rt *RTyper) newListRepr(s *annotation.List) (*ListRepr, error) {
	it := s.Def.Item()
	r := &ListRepr{
		rtyper:   rt,
		s:        s,
		fixed:    !it.Resized,
		fwd:      lltype.NewForward(true),
		prebuilt: make(map[*program.List]*lltype.PtrValue),
	}
	r.ptr = lltype.NewPtr(r.fwd)
	return r, nil
}

func (r *ListRepr) setup() error {
	item, err := r.rtyper.GetRepr(r.s.Def.Item().Value)
	if err != nil {
		return err
	}
	r.item = item
	r.array = lltype.NewGcArray(item.LowLevelType(), lltype.ArrayHints{Immutable: r.s.Def.Item().Immutable})
	if r.fixed {
		return r.fwd.Become(r.array)
	}
	r.list = lltype.NewGcStruct(r.rtyper.uniqueName("list"), []lltype.Field{
		{Name: "length", Type: lltype.Signed},
		{Name: "items", Type: lltype.NewPtr(r.array)},
	}, lltype.StructHints{})
	return r.fwd.Become(r.list)
}

func (r *ListRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *ListRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }

func (r *ListRepr) String() string {
	if r.item == nil {
		return "ListRepr(?)"
	}
	if r.fixed {
		return "FixedSizeListRepr(" + r.item.String() + ")"
	}
	return "ListRepr(" + r.item.String() + ")"
}

// Fixed 是否为定长列表
func (r *ListRepr) Fixed() bool { return r.fixed }

// Item 元素表示
func (r *ListRepr) Item() Repr { return r.item }

func (r *ListRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	if value == nil || value == program.None {
		return lltype.NullPtr(r.ptr), nil
	}
	l, ok := value.(*program.List)
	if !ok {
		return nil, errs.NewTyperError(errs.T0002, "%T is not a list constant", value)
	}
	if p, ok := r.prebuilt[l]; ok {
		return p, nil
	}
	arr, err := lltype.Malloc(r.array, len(l.Items))
	if err != nil {
		return nil, err
	}
	arr.Obj.Immortal = true
	for i, item := range l.Items {
		v, err := r.item.ConvertConst(item)
		if err != nil {
			return nil, err
		}
		if err := arr.SetItem(i, v); err != nil {
			return nil, err
		}
	}
	if r.fixed {
		p := &lltype.PtrValue{T: r.ptr, Obj: arr.Obj}
		r.prebuilt[l] = p
		return p, nil
	}
	lp, err := lltype.Malloc(r.list, 0)
	if err != nil {
		return nil, err
	}
	lp.Obj.Immortal = true
	if err := lp.SetField("length", int64(len(l.Items))); err != nil {
		return nil, err
	}
	if err := lp.SetField("items", arr); err != nil {
		return nil, err
	}
	p := &lltype.PtrValue{T: r.ptr, Obj: lp.Obj}
	r.prebuilt[l] = p
	return p, nil
}

// items 存放元素的数组
func (r *ListRepr) items(llops *LowLevelOpList, v flowmodel.Hlvalue) flowmodel.Hlvalue {
	if r.fixed {
		return v
	}
	return llops.Genop("getfield", []flowmodel.Hlvalue{v, voidConst("items")}, lltype.NewPtr(r.array))
}

func (r *ListRepr) length(llops *LowLevelOpList, v flowmodel.Hlvalue) flowmodel.Hlvalue {
	if r.fixed {
		return llops.Genop("getarraysize", []flowmodel.Hlvalue{v}, lltype.Signed)
	}
	return llops.Genop("getfield", []flowmodel.Hlvalue{v, voidConst("length")}, lltype.Signed)
}

// rtypeNew newlist(a, b, ...)
func (r *ListRepr) rtypeNew(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	n := flowmodel.NewTypedConstant(int64(hop.NArgs()), lltype.Signed)
	var l flowmodel.Hlvalue
	if r.fixed {
		l = hop.Genop("malloc_varsize", []flowmodel.Hlvalue{voidConst(r.array), n}, r.ptr)
	} else {
		l = hop.GenDirectCall("ll_newlist", r.ptr, n)
	}
	items := r.items(hop.LLOps, l)
	for i := 0; i < hop.NArgs(); i++ {
		v, err := hop.InputArg(r.item, i)
		if err != nil {
			return nil, err
		}
		idx := flowmodel.NewTypedConstant(int64(i), lltype.Signed)
		hop.Genop("setarrayitem", []flowmodel.Hlvalue{items, idx, v}, lltype.Void)
	}
	return l, nil
}

func (r *ListRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "len":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return r.length(hop.LLOps, v), nil
	case "bool":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		if hop.ArgsS[0].CanBeNone() {
			return hop.GenDirectCall("ll_list_is_true", lltype.Bool, v), nil
		}
		n := r.length(hop.LLOps, v)
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
	case "getslice":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		start, stop, err := sliceBounds(hop)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_listslice", hop.RResult.LowLevelType(), v, start, stop), nil
	case "setslice":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		start, stop, err := sliceBounds(hop)
		if err != nil {
			return nil, err
		}
		other, err := hop.InputArg(hop.ArgsR[3], 3)
		if err != nil {
			return nil, err
		}
		hop.GenDirectCall("ll_listsetslice", lltype.Void, v, start, stop, other)
		return nil, nil
	}
	return nil, errNoMethod
}

// sliceBounds getslice/setslice 的起止下标；None 的终点用 -1 表示到末尾
func sliceBounds(hop *HighLevelOp) (flowmodel.Hlvalue, flowmodel.Hlvalue, error) {
	bound := func(i int, dflt int64) (flowmodel.Hlvalue, error) {
		if hop.ArgsR[i].LowLevelType() == lltype.Void {
			return flowmodel.NewTypedConstant(dflt, lltype.Signed), nil
		}
		return hop.InputArg(signedRepr, i)
	}
	start, err := bound(1, 0)
	if err != nil {
		return nil, nil, err
	}
	stop, err := bound(2, -1)
	if err != nil {
		return nil, nil, err
	}
	return start, stop, nil
}

// rtypeMethod 列表方法；hop 的第 0 个参数是列表
func (r *ListRepr) rtypeMethod(name string, hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	self, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	args := []flowmodel.Hlvalue{self}
	itemArg := func(i int) error {
		v, err := hop.InputArg(r.item, i)
		if err != nil {
			return err
		}
		args = append(args, v)
		return nil
	}
	intArg := func(i int) error {
		v, err := hop.InputArg(signedRepr, i)
		if err != nil {
			return err
		}
		args = append(args, v)
		return nil
	}
	result := hop.RResult.LowLevelType()
	helper := "ll_" + name
	switch name {
	case "append":
		if r.fixed {
			return nil, errs.NewTyperError(errs.T0001, "append on a fixed-size list")
		}
		if err := itemArg(1); err != nil {
			return nil, err
		}
	case "extend":
		v, err := hop.InputArg(hop.ArgsR[1], 1)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	case "insert":
		if err := intArg(1); err != nil {
			return nil, err
		}
		if err := itemArg(2); err != nil {
			return nil, err
		}
	case "pop":
		if hop.NArgs() > 1 {
			if err := intArg(1); err != nil {
				return nil, err
			}
		} else {
			helper = "ll_pop_default"
		}
		hop.ExceptionIsHere()
	case "reverse":
	case "sort":
		helper = "ll_listsort"
	case "remove", "index", "count":
		helper = "ll_list" + name
		if err := itemArg(1); err != nil {
			return nil, err
		}
		if name != "count" {
			hop.ExceptionIsHere()
		}
	default:
		return nil, errNoMethod
	}
	return hop.GenDirectCall(helper, result, args...), nil
}

func init() {
	registerPair(annotation.KList, annotation.KInteger, rtypeListGetItem, "getitem", "getitem_idx")
	registerPair(annotation.KList, annotation.KInteger, rtypeListSetItem, "setitem")
	registerPair(annotation.KList, annotation.KInteger, rtypeListDelItem, "delitem")
	registerPair(annotation.KList, annotation.KInteger, rtypeListMul, "mul")
	registerPair(annotation.KList, annotation.KList, rtypeListConcat, "add")
	registerPair(annotation.KList, annotation.KList, rtypeListEq, "eq", "ne")
	registerPair(annotation.KList, annotation.KObject, rtypeListContains, "contains")
}

// indexChecked 下标越界是否需要抛出 IndexError
func indexChecked(hop *HighLevelOp) bool {
	if hop.Name() == "getitem_idx" {
		return true
	}
	ie, ok := hop.rtyper.bk.Exceptions.ByName("IndexError")
	return ok && hop.HasImplicitException(ie)
}

func rtypeListGetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*ListRepr)
	l, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	i, err := hop.InputArg(signedRepr, 1)
	if err != nil {
		return nil, err
	}
	var v flowmodel.Hlvalue
	switch {
	case indexChecked(hop):
		hop.ExceptionIsHere()
		v = hop.GenDirectCall("ll_getitem_checked", r.item.LowLevelType(), l, i)
	case nonneg(hop.ArgsS[1]):
		v = hop.Genop("getarrayitem", []flowmodel.Hlvalue{r.items(hop.LLOps, l), i}, r.item.LowLevelType())
	default:
		v = hop.GenDirectCall("ll_getitem", r.item.LowLevelType(), l, i)
	}
	return hop.LLOps.convertVar(v, r.item, hop.RResult)
}

func rtypeListSetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*ListRepr)
	args, err := hop.InputArgs(r, signedRepr, r.item)
	if err != nil {
		return nil, err
	}
	switch {
	case indexChecked(hop):
		hop.ExceptionIsHere()
		hop.GenDirectCall("ll_setitem_checked", lltype.Void, args...)
	case nonneg(hop.ArgsS[1]):
		hop.Genop("setarrayitem", []flowmodel.Hlvalue{r.items(hop.LLOps, args[0]), args[1], args[2]}, lltype.Void)
	default:
		hop.GenDirectCall("ll_setitem", lltype.Void, args...)
	}
	return nil, nil
}

func rtypeListDelItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*ListRepr)
	args, err := hop.InputArgs(r, signedRepr)
	if err != nil {
		return nil, err
	}
	if indexChecked(hop) {
		hop.ExceptionIsHere()
	}
	hop.GenDirectCall("ll_delitem", lltype.Void, args...)
	return nil, nil
}

func rtypeListMul(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*ListRepr)
	args, err := hop.InputArgs(r, signedRepr)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_mul", hop.RResult.LowLevelType(), args...), nil
}

func rtypeListConcat(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r0 := hop.ArgsR[0].(*ListRepr)
	r1 := hop.ArgsR[1].(*ListRepr)
	args, err := hop.InputArgs(r0, r1)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_concat", hop.RResult.LowLevelType(), args...), nil
}

func rtypeListEq(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*ListRepr)
	args, err := hop.InputArgs(r, hop.ArgsR[1])
	if err != nil {
		return nil, err
	}
	eq := hop.GenDirectCall("ll_listeq", lltype.Bool, args...)
	if hop.Name() == "ne" {
		return hop.Genop("bool_not", []flowmodel.Hlvalue{eq}, lltype.Bool), nil
	}
	return eq, nil
}

func rtypeListContains(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r, ok := hop.ArgsR[0].(*ListRepr)
	if !ok {
		return nil, errNoMethod
	}
	args, err := hop.InputArgs(r, r.item)
	if err != nil {
		return nil, err
	}
	return hop.GenDirectCall("ll_listcontains", lltype.Bool, args...), nil
}
