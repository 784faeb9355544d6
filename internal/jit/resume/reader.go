// reader.go - 守卫失败时重建值
package resume

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// Reader 从死帧的活跃值与恢复数据重建失败参数
type Reader struct {
	data      *Data
	live      []history.Value
	allocated []history.HeapObj
}

// NewReader live 与 data.LiveBoxes 一一对应
func NewReader(data *Data, live []history.Value) (*Reader, error) {
	if len(live) != len(data.LiveBoxes) {
		return nil, fmt.Errorf("resume: expected %d live values, got %d", len(data.LiveBoxes), len(live))
	}
	return &Reader{data: data, live: live, allocated: make([]history.HeapObj, len(data.Virtuals))}, nil
}

// Rebuild 分配所有虚拟对象，写回 pending field，返回失败参数的值
func (r *Reader) Rebuild() ([]history.Value, error) {
	out := make([]history.Value, len(r.data.Numbering))
	for i, n := range r.data.Numbering {
		v, err := r.decode(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	for _, p := range r.data.Pending {
		if err := r.applyPending(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ForceAllVirtuals 分配每个虚拟对象，即使失败参数没有直接引用它
func (r *Reader) ForceAllVirtuals() ([]history.HeapObj, error) {
	for i := range r.data.Virtuals {
		if _, err := r.virtual(i); err != nil {
			return nil, err
		}
	}
	return append([]history.HeapObj(nil), r.allocated...), nil
}

func (r *Reader) decode(n Tagged) (history.Value, error) {
	if n == UNASSIGNED {
		return nil, nil
	}
	i, t := n.Untag()
	switch t {
	case TAGINT:
		return history.ConstInt{Value: int64(i)}, nil
	case TAGCONST:
		return r.data.Consts[i], nil
	case TAGBOX:
		return r.live[i], nil
	}
	obj, err := r.virtual(i)
	if err != nil {
		return nil, err
	}
	return history.ConstPtr{Value: obj}, nil
}

func (r *Reader) virtual(i int) (history.HeapObj, error) {
	if obj := r.allocated[i]; obj != nil {
		return obj, nil
	}
	info := r.data.Virtuals[i]
	switch info.Kind {
	case VStruct:
		s := history.NewStructObj(info.Size)
		if info.Class != nil {
			s.Class = info.Class
		}
		r.allocated[i] = s
		for j, f := range info.Fields {
			v, err := r.decode(info.Nums[j])
			if err != nil {
				return nil, err
			}
			if v != nil {
				s.Fields[f] = v
			}
		}
		return s, nil
	case VArray:
		a := history.NewArrayObj(info.Array, len(info.Nums))
		r.allocated[i] = a
		for j, n := range info.Nums {
			v, err := r.decode(n)
			if err != nil {
				return nil, err
			}
			if v != nil {
				a.Items[j] = v
			}
		}
		return a, nil
	}
	s, err := r.str(info)
	if err != nil {
		return nil, err
	}
	r.allocated[i] = s
	return s, nil
}

func (r *Reader) str(info *VirtualInfo) (*history.StrObj, error) {
	out := &history.StrObj{Unicode: info.Unicode}
	switch info.Kind {
	case VStrPlain:
		out.Chars = make([]rune, len(info.Nums))
		for j, n := range info.Nums {
			v, err := r.decode(n)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out.Chars[j] = rune(intOf(v))
			}
		}
	case VStrConcat:
		for _, n := range info.Nums {
			part, err := r.strValue(n)
			if err != nil {
				return nil, err
			}
			out.Chars = append(out.Chars, part.Chars...)
		}
	case VStrSlice:
		base, err := r.strValue(info.Nums[0])
		if err != nil {
			return nil, err
		}
		start, err := r.decode(info.Nums[1])
		if err != nil {
			return nil, err
		}
		length, err := r.decode(info.Nums[2])
		if err != nil {
			return nil, err
		}
		lo := intOf(start)
		out.Chars = append([]rune(nil), base.Chars[lo:lo+intOf(length)]...)
	default:
		return nil, fmt.Errorf("resume: unknown virtual kind %d", info.Kind)
	}
	return out, nil
}

func (r *Reader) strValue(n Tagged) (*history.StrObj, error) {
	v, err := r.decode(n)
	if err != nil {
		return nil, err
	}
	if s, ok := refOf(v).(*history.StrObj); ok {
		return s, nil
	}
	return nil, fmt.Errorf("resume: %s is not a string", v)
}

func (r *Reader) applyPending(p PendingFieldInfo) error {
	target, err := r.decode(p.Struct)
	if err != nil {
		return err
	}
	value, err := r.decode(p.Value)
	if err != nil {
		return err
	}
	switch obj := refOf(target).(type) {
	case *history.StructObj:
		obj.Fields[p.Descr.(*history.FieldDescr)] = value
	case *history.ArrayObj:
		obj.Items[p.ItemIndex] = value
	default:
		return fmt.Errorf("resume: pending field on %s", target)
	}
	return nil
}

func intOf(v history.Value) int64 {
	switch v := v.(type) {
	case history.ConstInt:
		return v.Value
	case *history.Box:
		return v.Int
	}
	return 0
}

func refOf(v history.Value) history.HeapObj {
	switch v := v.(type) {
	case history.ConstPtr:
		return v.Value
	case *history.Box:
		return v.Ref
	}
	return nil
}
