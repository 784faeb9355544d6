// virtualize.go - 结构体与数组的虚拟化
package optimizeopt

import (
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// ============================================================================
// 虚拟结构体
// ============================================================================

type vStruct struct {
	size   *history.SizeDescr
	class  *history.ClassObj
	fields map[*history.FieldDescr]*OptValue
	order  []*history.FieldDescr
}

func (s *vStruct) get(d *history.FieldDescr, opt *Optimizer) *OptValue {
	if v, ok := s.fields[d]; ok {
		return v
	}
	return opt.getValue(history.Zero(d.Typ))
}

func (s *vStruct) set(d *history.FieldDescr, v *OptValue) {
	if _, ok := s.fields[d]; !ok {
		s.order = append(s.order, d)
	}
	s.fields[d] = v
}

func (s *vStruct) forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error {
	box := v.keybox.(*history.Box)
	v.box = box
	var op *history.ResOp
	if s.size == nil {
		op = history.NewOp(history.NEW_WITH_VTABLE, []history.Value{history.ConstPtr{Value: s.class}}, box, nil)
	} else {
		op = history.NewOp(history.NEW, nil, box, s.size)
	}
	if err := emit(op); err != nil {
		return err
	}
	for _, d := range s.order {
		fv := s.fields[d]
		if fv.IsConstant() && history.Same(fv.box, history.Zero(d.Typ)) {
			continue
		}
		fbox, err := fv.ForceBox(opt, emit)
		if err != nil {
			return err
		}
		if err := emit(history.NewOp(history.SETFIELD_GC, []history.Value{box, fbox}, nil, d)); err != nil {
			return err
		}
	}
	return nil
}

func (s *vStruct) shape(opt *Optimizer, v *OptValue) *resume.Shape {
	sh := &resume.Shape{Kind: resume.VStruct, Size: s.size, Class: s.class}
	for _, d := range s.order {
		sh.Fields = append(sh.Fields, d)
		sh.Items = append(sh.Items, s.fields[d].resumeItem())
	}
	return sh
}

// ============================================================================
// 虚拟数组
// ============================================================================

type vArray struct {
	descr *history.ArrayDescr
	items []*OptValue
	clear bool
}

func (a *vArray) forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error {
	box := v.keybox.(*history.Box)
	v.box = box
	opnum := history.NEW_ARRAY
	if a.clear {
		opnum = history.NEW_ARRAY_CLEAR
	}
	n := history.ConstInt{Value: int64(len(a.items))}
	if err := emit(history.NewOp(opnum, []history.Value{n}, box, a.descr)); err != nil {
		return err
	}
	zero := history.Zero(a.descr.Item)
	for i, item := range a.items {
		if item.IsConstant() && history.Same(item.box, zero) {
			continue
		}
		ibox, err := item.ForceBox(opt, emit)
		if err != nil {
			return err
		}
		args := []history.Value{box, history.ConstInt{Value: int64(i)}, ibox}
		if err := emit(history.NewOp(history.SETARRAYITEM_GC, args, nil, a.descr)); err != nil {
			return err
		}
	}
	return nil
}

func (a *vArray) shape(opt *Optimizer, v *OptValue) *resume.Shape {
	sh := &resume.Shape{Kind: resume.VArray, Array: a.descr}
	for _, item := range a.items {
		sh.Items = append(sh.Items, item.resumeItem())
	}
	return sh
}

// resumeItem 恢复数据里引用该值用的 box
func (v *OptValue) resumeItem() history.Value {
	if v.IsVirtual() {
		return v.keybox
	}
	return v.box
}

// ============================================================================
// 优化
// ============================================================================

// OptVirtualizePass 推迟分配；只被读写而没有逃逸的对象不会出现在结果中
type OptVirtualizePass struct {
	optBase
}

func (o *OptVirtualizePass) PropagateForward(op *history.ResOp) error {
	switch op.Opnum {
	case history.NEW:
		size := op.Descr.(*history.SizeDescr)
		vs := &vStruct{size: size, fields: make(map[*history.FieldDescr]*OptValue)}
		val := newVirtualValue(op.Result, vs, LEVEL_NONNULL)
		if size.Class != nil {
			vs.class = size.Class
			val.level = LEVEL_KNOWNCLASS
			val.knownClass = size.Class
		}
		o.makeEqualTo(op.Result, val)
		return nil
	case history.NEW_WITH_VTABLE:
		cls, ok := classOf(o.getValue(op.Arg(0)))
		if !ok {
			return o.emit(op)
		}
		vs := &vStruct{class: cls, fields: make(map[*history.FieldDescr]*OptValue)}
		val := newVirtualValue(op.Result, vs, LEVEL_KNOWNCLASS)
		val.knownClass = cls
		o.makeEqualTo(op.Result, val)
		return nil
	case history.NEW_ARRAY, history.NEW_ARRAY_CLEAR:
		n, ok := o.getValue(op.Arg(0)).ConstInt()
		if !ok || n < 0 || n > int64(o.opt.cfg.MaxConstLen) {
			return o.emit(op)
		}
		d := op.Descr.(*history.ArrayDescr)
		va := &vArray{descr: d, items: make([]*OptValue, n), clear: op.Opnum == history.NEW_ARRAY_CLEAR}
		zero := o.getValue(history.Zero(d.Item))
		for i := range va.items {
			va.items[i] = zero
		}
		val := newVirtualValue(op.Result, va, LEVEL_NONNULL)
		val.lenBound = NewIntBound(n, n)
		o.makeEqualTo(op.Result, val)
		return nil
	case history.GETFIELD_GC, history.GETFIELD_GC_PURE:
		if vs, ok := o.virtualStruct(op.Arg(0)); ok {
			o.makeEqualTo(op.Result, vs.get(op.Descr.(*history.FieldDescr), o.opt))
			return nil
		}
	case history.SETFIELD_GC:
		if vs, ok := o.virtualStruct(op.Arg(0)); ok {
			vs.set(op.Descr.(*history.FieldDescr), o.getValue(op.Arg(1)))
			return nil
		}
	case history.GETARRAYITEM_GC, history.GETARRAYITEM_GC_PURE:
		if va, i, ok := o.virtualArrayIndex(op.Arg(0), op.Arg(1)); ok {
			o.makeEqualTo(op.Result, va.items[i])
			return nil
		}
	case history.SETARRAYITEM_GC:
		if va, i, ok := o.virtualArrayIndex(op.Arg(0), op.Arg(1)); ok {
			va.items[i] = o.getValue(op.Arg(2))
			return nil
		}
	case history.ARRAYLEN_GC:
		v := o.getValue(op.Arg(0))
		if va, ok := v.virt.(*vArray); ok && v.IsVirtual() {
			o.makeConstantInt(op.Result, int64(len(va.items)))
			return nil
		}
	case history.COND_CALL_GC_WB:
		if o.getValue(op.Arg(0)).IsVirtual() {
			return nil
		}
	}
	return o.emit(op)
}

func (o *OptVirtualizePass) virtualStruct(v history.Value) (*vStruct, bool) {
	val := o.getValue(v)
	if !val.IsVirtual() {
		return nil, false
	}
	vs, ok := val.virt.(*vStruct)
	return vs, ok
}

func (o *OptVirtualizePass) virtualArrayIndex(a, index history.Value) (*vArray, int, bool) {
	val := o.getValue(a)
	if !val.IsVirtual() {
		return nil, 0, false
	}
	va, ok := val.virt.(*vArray)
	if !ok {
		return nil, 0, false
	}
	i, ok := o.getValue(index).ConstInt()
	if !ok || i < 0 || i >= int64(len(va.items)) {
		return nil, 0, false
	}
	return va, int(i), true
}
