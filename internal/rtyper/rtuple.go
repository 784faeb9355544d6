// rtuple.go - 元组表示
package rtyper

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/program"
)

// TupleRepr 不可变 gc 结构体 {item0, item1, ...}
type TupleRepr struct {
	rtyper *RTyper
	items  []Repr
	st     *lltype.Struct
	ptr    *lltype.Ptr
}

func tupleField(i int) string { return fmt.Sprintf("item%d", i) }

func (rt *RTyper) newTupleRepr(s *annotation.Tuple) (*TupleRepr, error) {
	r := &TupleRepr{rtyper: rt}
	fields := make([]lltype.Field, len(s.Items))
	for i, item := range s.Items {
		ir, err := rt.GetRepr(item)
		if err != nil {
			return nil, err
		}
		r.items = append(r.items, ir)
		fields[i] = lltype.Field{Name: tupleField(i), Type: ir.LowLevelType()}
	}
	r.st = lltype.NewGcStruct(rt.uniqueName(fmt.Sprintf("tuple%d", len(fields))), fields, lltype.StructHints{Immutable: true})
	r.ptr = lltype.NewPtr(r.st)
	return r, nil
}

func (r *TupleRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *TupleRepr) String() string            { return "TupleRepr(" + r.st.Name + ")" }
func (r *TupleRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }

// Items 元素表示
func (r *TupleRepr) Items() []Repr { return r.items }

func (r *TupleRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	var items []interface{}
	switch v := value.(type) {
	case program.Tuple:
		items = v
	case annotation.ConstTuple:
		items = v
	case []interface{}:
		items = v
	default:
		return nil, errs.NewTyperError(errs.T0002, "%T is not a tuple constant", value)
	}
	if len(items) != len(r.items) {
		return nil, errs.NewTyperError(errs.T0002, "tuple constant has %d items, %s has %d", len(items), r, len(r.items))
	}
	p, err := lltype.Malloc(r.st, 0)
	if err != nil {
		return nil, err
	}
	p.Obj.Immortal = true
	for i, item := range items {
		v, err := r.items[i].ConvertConst(item)
		if err != nil {
			return nil, err
		}
		if err := p.SetField(tupleField(i), v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// build 分配元组并写入各项
func (r *TupleRepr) build(llops *LowLevelOpList, items []flowmodel.Hlvalue) flowmodel.Hlvalue {
	v := llops.Genop("malloc", []flowmodel.Hlvalue{voidConst(r.st)}, r.ptr)
	for i, item := range items {
		llops.Genop("setfield", []flowmodel.Hlvalue{v, voidConst(tupleField(i)), item}, lltype.Void)
	}
	return v
}

// rtypeNew newtuple(a, b, ...)
func (r *TupleRepr) rtypeNew(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	items, err := hop.InputArgs(r.items...)
	if err != nil {
		return nil, err
	}
	return r.build(hop.LLOps, items), nil
}

func (r *TupleRepr) getItem(llops *LowLevelOpList, v flowmodel.Hlvalue, i int) flowmodel.Hlvalue {
	return llops.Genop("getfield", []flowmodel.Hlvalue{v, voidConst(tupleField(i))}, r.items[i].LowLevelType())
}

func (r *TupleRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "len":
		return flowmodel.NewTypedConstant(int64(len(r.items)), lltype.Signed), nil
	case "bool":
		return flowmodel.NewTypedConstant(len(r.items) > 0, lltype.Bool), nil
	case "hash":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		return hop.GenDirectCall("ll_tuplehash", lltype.Signed, v), nil
	}
	return nil, errNoMethod
}

func init() {
	registerPair(annotation.KTuple, annotation.KInteger, rtypeTupleGetItem, "getitem", "getitem_idx")
	registerPair(annotation.KTuple, annotation.KTuple, rtypeTupleAdd, "add")
	registerPair(annotation.KTuple, annotation.KTuple, rtypeTupleEq, "eq", "ne")
}

// rtypeTupleGetItem 只支持常量下标
func rtypeTupleGetItem(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r := hop.ArgsR[0].(*TupleRepr)
	c, ok := hop.constArg(1)
	if !ok {
		return nil, errs.NewTyperError(errs.T0001, "tuple index must be a constant")
	}
	idx, ok := primitiveConst(lltype.Signed, c)
	if !ok {
		return nil, errs.NewTyperError(errs.T0001, "tuple index %v is not an integer", c)
	}
	i := int(idx.(int64))
	if i < 0 {
		i += len(r.items)
	}
	if i < 0 || i >= len(r.items) {
		return nil, errs.NewTyperError(errs.T0001, "tuple index %d out of range", i)
	}
	v, err := hop.InputArg(r, 0)
	if err != nil {
		return nil, err
	}
	if hop.Name() == "getitem_idx" {
		hop.ExceptionCannotOccur()
	}
	item := r.getItem(hop.LLOps, v, i)
	return hop.LLOps.convertVar(item, r.items[i], hop.RResult)
}

func rtypeTupleAdd(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r0 := hop.ArgsR[0].(*TupleRepr)
	r1 := hop.ArgsR[1].(*TupleRepr)
	res, ok := hop.RResult.(*TupleRepr)
	if !ok {
		return nil, errNoMethod
	}
	v0, err := hop.InputArg(r0, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r1, 1)
	if err != nil {
		return nil, err
	}
	var items []flowmodel.Hlvalue
	for i := range r0.items {
		x, err := hop.LLOps.convertVar(r0.getItem(hop.LLOps, v0, i), r0.items[i], res.items[len(items)])
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	for i := range r1.items {
		x, err := hop.LLOps.convertVar(r1.getItem(hop.LLOps, v1, i), r1.items[i], res.items[len(items)])
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	return res.build(hop.LLOps, items), nil
}

func rtypeTupleEq(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	r0 := hop.ArgsR[0].(*TupleRepr)
	v0, err := hop.InputArg(r0, 0)
	if err != nil {
		return nil, err
	}
	v1, err := hop.InputArg(r0, 1)
	if err != nil {
		return nil, err
	}
	eq := hop.GenDirectCall("ll_tuple_eq", lltype.Bool, v0, v1)
	if hop.Name() == "ne" {
		return hop.Genop("bool_not", []flowmodel.Hlvalue{eq}, lltype.Bool), nil
	}
	return eq, nil
}
