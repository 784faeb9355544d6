// riter.go - 迭代器表示
package rtyper

import (
	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
)

// IteratorRepr gc 结构体 {iterable, index}；next 由容器种类对应的辅助函数完成
type IteratorRepr struct {
	rtyper    *RTyper
	s         *annotation.Iterator
	container Repr
	st        *lltype.Struct
	ptr       *lltype.Ptr
}

func (rt *RTyper) newIteratorRepr(s *annotation.Iterator) (*IteratorRepr, error) {
	if tup, ok := s.Container.(*annotation.Tuple); ok && !homogeneous(tup.Items) {
		return nil, errs.NewTyperError(errs.T0001, "iteration over a heterogeneous tuple %s", tup)
	}
	return &IteratorRepr{rtyper: rt, s: s}, nil
}

func homogeneous(items []annotation.SomeValue) bool {
	for i := 1; i < len(items); i++ {
		if !annotation.Equal(items[0], items[i]) {
			return false
		}
	}
	return true
}

func (r *IteratorRepr) setup() error {
	c, err := r.rtyper.GetRepr(r.s.Container)
	if err != nil {
		return err
	}
	r.container = c
	r.st = lltype.NewGcStruct(r.rtyper.uniqueName("iter"), []lltype.Field{
		{Name: "iterable", Type: c.LowLevelType()},
		{Name: "index", Type: lltype.Signed},
	}, lltype.StructHints{})
	r.ptr = lltype.NewPtr(r.st)
	return nil
}

func (r *IteratorRepr) LowLevelType() lltype.Type { return r.ptr }
func (r *IteratorRepr) nullValue() lltype.Value   { return lltype.NullPtr(r.ptr) }
func (r *IteratorRepr) String() string            { return "IteratorRepr(" + r.s.String() + ")" }

func (r *IteratorRepr) ConvertConst(value interface{}) (lltype.Value, error) {
	return nil, errs.NewTyperError(errs.T0002, "iterators cannot be prebuilt constants")
}

// newIter 从 hop 的第 0 个参数（容器）创建迭代器
func (r *IteratorRepr) newIter(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	v, err := hop.InputArg(r.container, 0)
	if err != nil {
		return nil, err
	}
	it := hop.Genop("malloc", []flowmodel.Hlvalue{voidConst(r.st)}, r.ptr)
	hop.Genop("setfield", []flowmodel.Hlvalue{it, voidConst("iterable"), v}, lltype.Void)
	hop.Genop("setfield", []flowmodel.Hlvalue{it, voidConst("index"), flowmodel.NewTypedConstant(int64(0), lltype.Signed)}, lltype.Void)
	return it, nil
}

// nextHelper 容器种类对应的 next 辅助函数名
func (r *IteratorRepr) nextHelper() string {
	switch r.s.Container.(type) {
	case *annotation.List:
		return "ll_listnext"
	case *annotation.String:
		return "ll_strnext"
	case *annotation.Unicode:
		return "ll_unicodenext"
	case *annotation.Tuple:
		return "ll_tuplenext"
	case *annotation.Dict:
		v := r.s.Variant
		if v == "" {
			v = "keys"
		}
		return "ll_dictnext_" + v
	}
	return "ll_next"
}

func (r *IteratorRepr) rtypeOp(hop *HighLevelOp) (flowmodel.Hlvalue, error) {
	switch hop.Name() {
	case "iter":
		return hop.InputArg(r, 0)
	case "next":
		v, err := hop.InputArg(r, 0)
		if err != nil {
			return nil, err
		}
		// 迭代结束时抛出 StopIteration
		hop.ExceptionIsHere()
		return hop.GenDirectCall(r.nextHelper(), hop.RResult.LowLevelType(), v), nil
	}
	return nil, errNoMethod
}
