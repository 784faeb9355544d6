package resume

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// mapResolver 测试用的解析器：shapes 中的值视为虚拟对象
type mapResolver struct {
	shapes map[history.Value]*Shape
}

func (m mapResolver) Resolve(v history.Value) (history.Value, *Shape) {
	if s, ok := m.shapes[v]; ok {
		return v, s
	}
	return v, nil
}

// TestTagged 测试编号的打包与拆分
func TestTagged(t *testing.T) {
	tests := []struct {
		value int
		tag   Tag
	}{
		{0, TAGCONST},
		{5, TAGINT},
		{-7, TAGINT},
		{12, TAGBOX},
		{3, TAGVIRTUAL},
	}
	for _, tt := range tests {
		v, tg := tag(tt.value, tt.tag).Untag()
		if v != tt.value || tg != tt.tag {
			t.Errorf("tag(%d, %d) untags to (%d, %d)", tt.value, tt.tag, v, tg)
		}
	}
	if UNASSIGNED.String() != "UNASSIGNED" {
		t.Errorf("UNASSIGNED = %s", UNASSIGNED)
	}
}

// TestBuildNumbering 测试常量、小整数与 box 的编号
func TestBuildNumbering(t *testing.T) {
	a := history.NewIntBox(10)
	b := history.NewRefBox(nil)
	big := history.ConstInt{Value: 1 << 40}

	data, err := Build([]history.Value{a, history.ConstInt{Value: 3}, big, a, b, nil}, nil, mapResolver{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(data.LiveBoxes) != 2 {
		t.Fatalf("live boxes = %d, want 2", len(data.LiveBoxes))
	}
	if data.Numbering[0] != data.Numbering[3] {
		t.Error("the same box should get the same number")
	}
	if _, tg := data.Numbering[1].Untag(); tg != TAGINT {
		t.Errorf("small int tagged %d", tg)
	}
	if _, tg := data.Numbering[2].Untag(); tg != TAGCONST {
		t.Errorf("big int tagged %d", tg)
	}
	if data.Numbering[5] != UNASSIGNED {
		t.Errorf("nil failarg = %s", data.Numbering[5])
	}

	r, err := NewReader(data, []history.Value{history.ConstInt{Value: 10}, history.Null})
	if err != nil {
		t.Fatal(err)
	}
	values, err := r.Rebuild()
	if err != nil {
		t.Fatal(err)
	}
	if !history.Same(values[0], history.ConstInt{Value: 10}) || !history.Same(values[2], big) {
		t.Errorf("rebuilt = %v", values)
	}
}

// TestRebuildVirtuals 测试虚拟结构体、环引用与字符串的重建
func TestRebuildVirtuals(t *testing.T) {
	size := history.NewSizeDescr("Node", nil)
	valField := size.AddField("val", history.INT)
	nextField := size.AddField("next", history.REF)

	node := history.NewBox(history.REF)
	x := history.NewIntBox(0)
	str := history.NewBox(history.REF)
	slice := history.NewBox(history.REF)

	res := mapResolver{shapes: map[history.Value]*Shape{
		node: {
			Kind: VStruct, Size: size,
			Fields: []*history.FieldDescr{valField, nextField},
			Items:  []history.Value{x, node},
		},
		str: {
			Kind:  VStrPlain,
			Items: []history.Value{history.ConstInt{Value: 'h'}, history.ConstInt{Value: 'i'}, nil},
		},
		slice: {
			Kind:  VStrSlice,
			Items: []history.Value{history.ConstString("hello"), history.CONST_1, history.ConstInt{Value: 3}},
		},
	}}

	data, err := Build([]history.Value{node, str, slice}, nil, res)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if data.NumVirtuals() != 3 {
		t.Fatalf("virtuals = %d, want 3", data.NumVirtuals())
	}

	r, err := NewReader(data, []history.Value{history.ConstInt{Value: 42}})
	if err != nil {
		t.Fatal(err)
	}
	values, err := r.Rebuild()
	if err != nil {
		t.Fatal(err)
	}

	s, ok := values[0].(history.ConstPtr).Value.(*history.StructObj)
	if !ok {
		t.Fatalf("node = %v", values[0])
	}
	if !history.Same(s.Get(valField), history.ConstInt{Value: 42}) {
		t.Errorf("val = %v", s.Get(valField))
	}
	if next, _ := s.Get(nextField).(history.ConstPtr); next.Value != s {
		t.Error("cycle not preserved")
	}

	tests := []struct {
		index int
		want  string
	}{
		{1, "hi\x00"},
		{2, "ell"},
	}
	for _, tt := range tests {
		obj, ok := values[tt.index].(history.ConstPtr).Value.(*history.StrObj)
		if !ok || obj.Text() != tt.want {
			t.Errorf("value %d = %v, want %q", tt.index, values[tt.index], tt.want)
		}
	}
}

// TestPendingFields 测试守卫之后写回的字段
func TestPendingFields(t *testing.T) {
	size := history.NewSizeDescr("Holder", nil)
	field := size.AddField("item", history.REF)
	target := history.NewStructObj(size)

	holder := history.NewRefBox(target)
	item := history.NewBox(history.REF)
	res := mapResolver{shapes: map[history.Value]*Shape{
		item: {Kind: VStruct, Size: history.NewSizeDescr("Item", nil)},
	}}

	pending := []PendingField{{Descr: field, Struct: holder, Value: item, ItemIndex: -1}}
	data, err := Build(nil, pending, res)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	r, err := NewReader(data, []history.Value{holder})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if _, ok := target.Get(field).(history.ConstPtr).Value.(*history.StructObj); !ok {
		t.Errorf("pending field not written: %v", target.Get(field))
	}

	// 写入虚拟对象本身的 pending field 是错误
	bad := []PendingField{{Descr: field, Struct: item, Value: holder, ItemIndex: -1}}
	if _, err := Build(nil, bad, res); err == nil {
		t.Error("expected error for pending field on a virtual")
	}
}

// TestReaderLiveCount 测试活跃值个数不符
func TestReaderLiveCount(t *testing.T) {
	data := &Data{LiveBoxes: []*history.Box{history.NewBox(history.INT)}}
	if _, err := NewReader(data, nil); err == nil {
		t.Error("expected error")
	}
}
