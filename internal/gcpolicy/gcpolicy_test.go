package gcpolicy

import (
	"testing"

	"github.com/tangzhangming/solatrans/internal/lltype"
)

// fakeNode 记录策略挂上的元数据
type fakeNode struct {
	t    lltype.ContainerType
	info *GCInfo
}

func (n *fakeNode) LLType() lltype.ContainerType { return n.t }
func (n *fakeNode) SetGCInfo(info *GCInfo)       { n.info = info }

// TestNewPolicy 测试按名字创建策略
func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"none", false},
		{"ref", false},
		{"framework", false},
		{"boehm", true},
	}
	for _, tt := range tests {
		p, err := New(tt.name, Options{})
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && p.Name() != tt.name {
			t.Errorf("New(%q).Name() = %q", tt.name, p.Name())
		}
	}
	if got := Names(); len(got) != 3 || got[0] != "framework" {
		t.Errorf("Names() = %v", got)
	}
}

// TestGCHeaders 测试各策略的头部定义与初值
func TestGCHeaders(t *testing.T) {
	st := lltype.NewGcStruct("S", []lltype.Field{{Name: "x", Type: lltype.Signed}}, lltype.StructHints{})
	node := &fakeNode{t: st}
	tests := []struct {
		policy     string
		wantHeader bool
	}{
		{"none", false},
		{"ref", true},
		{"framework", true},
	}
	for _, tt := range tests {
		p, _ := New(tt.policy, Options{})
		hdr := p.StructGCHeaderDefinition(node)
		if (hdr != nil) != tt.wantHeader {
			t.Errorf("%s: header = %v", tt.policy, hdr)
		}
		init := p.StructGCHeaderInitData(node)
		if hdr != nil && len(init) != len(hdr.Fields) {
			t.Errorf("%s: init data %v does not match header %s", tt.policy, init, hdr)
		}
	}
}

// TestFrameworkTypeIDs 测试同一类型只分配一个类型编号
func TestFrameworkTypeIDs(t *testing.T) {
	p := newFrameworkPolicy(Options{})
	a := lltype.NewGcStruct("A", nil, lltype.StructHints{})
	b := lltype.NewGcStruct("B", nil, lltype.StructHints{})
	if p.TypeID(a) != p.TypeID(a) {
		t.Error("type id must be stable")
	}
	if p.TypeID(a) == p.TypeID(b) {
		t.Error("distinct types need distinct ids")
	}
	na := &fakeNode{t: a}
	if err := p.StructSetup(na, &RTTI{Destructor: "A.__del__"}); err != nil {
		t.Fatal(err)
	}
	if na.info.TypeID != p.TypeID(a) || !na.info.HasFinalizer || na.info.LightFinalizer {
		t.Errorf("info = %+v", na.info)
	}
}

// TestRefcountingDeallocator 测试引用计数只给带运行时类型信息的结构体生成释放函数
func TestRefcountingDeallocator(t *testing.T) {
	p := newRefcountingPolicy()
	plain := &fakeNode{t: lltype.NewGcStruct("Plain", nil, lltype.StructHints{})}
	if err := p.StructSetup(plain, nil); err != nil {
		t.Fatal(err)
	}
	if plain.info != nil {
		t.Errorf("plain struct got %+v", plain.info)
	}
	res := &fakeNode{t: lltype.NewGcStruct("Res", nil, lltype.StructHints{RTTI: true})}
	if err := p.StructSetup(res, &RTTI{Destructor: "Res.__del__", Light: true}); err != nil {
		t.Fatal(err)
	}
	if res.info == nil || res.info.Deallocator != "pypy_dealloc_Res" || !res.info.LightFinalizer {
		t.Errorf("info = %+v", res.info)
	}
}

// TestNeedNoTypePtr 测试只有框架 GC 在配置后可以去掉 vtable 指针
func TestNeedNoTypePtr(t *testing.T) {
	if p, _ := New("framework", Options{RemoveTypePtr: true}); !p.NeedNoTypePtr() {
		t.Error("framework with RemoveTypePtr should drop the type pointer")
	}
	if p, _ := New("ref", Options{RemoveTypePtr: true}); p.NeedNoTypePtr() {
		t.Error("refcounting always keeps the type pointer")
	}
}
