package cmodel

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/rffi"
)

// ============================================================================
// 测试辅助
// ============================================================================

func newFramework(t *testing.T) gcpolicy.Policy {
	t.Helper()
	p, err := gcpolicy.New("framework", gcpolicy.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// linkedNodes 构造自引用的 gc 结构体 Node{value, next} 与两个相连的预构建对象
func linkedNodes(t *testing.T) (*lltype.Struct, *lltype.PtrValue, *lltype.PtrValue) {
	t.Helper()
	fwd := lltype.NewForward(true)
	st := lltype.NewGcStruct("Node", []lltype.Field{
		{Name: "value", Type: lltype.Signed},
		{Name: "next", Type: lltype.NewPtr(fwd)},
	}, lltype.StructHints{})
	if err := fwd.Become(st); err != nil {
		t.Fatal(err)
	}
	a, err := lltype.Malloc(st, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := lltype.Malloc(st, 0)
	if err != nil {
		t.Fatal(err)
	}
	a.Obj.Immortal, b.Obj.Immortal = true, true
	if err := a.SetField("next", b); err != nil {
		t.Fatal(err)
	}
	if err := a.SetField("value", int64(1)); err != nil {
		t.Fatal(err)
	}
	return st, a, b
}

// ============================================================================
// 收集
// ============================================================================

// TestCollectLinkedContainers 测试沿指针收集所有可达的预构建对象
func TestCollectLinkedContainers(t *testing.T) {
	st, a, b := linkedNodes(t)
	db := NewDatabase(newFramework(t), nil, nil)
	db.AddConstant(a)
	if err := db.Complete(); err != nil {
		t.Fatal(err)
	}
	if n := len(db.ContainerNodes()); n != 2 {
		t.Fatalf("expected 2 containers, got %d", n)
	}
	na, ok := db.ContainerNodeOf(a)
	if !ok {
		t.Fatal("a was not collected")
	}
	nb, ok := db.ContainerNodeOf(b)
	if !ok || na == nb {
		t.Fatal("b should have its own node")
	}
	if na.Name == nb.Name {
		t.Errorf("container names must be unique, both are %q", na.Name)
	}
	def, err := db.GetDefNode(st)
	if err != nil {
		t.Fatal(err)
	}
	sd := def.(*StructDefNode)
	if sd.GCHeader == nil || sd.GCInfo == nil || sd.GCInfo.TypeID == 0 {
		t.Errorf("framework gc should give Node a header and a type id: %+v", sd)
	}
	if len(sd.Fields) != 2 || !strings.HasSuffix(sd.Fields[1].CType, "*") {
		t.Errorf("fields = %+v", sd.Fields)
	}
	if len(na.Header) != 1 || na.Header[0] != int64(sd.GCInfo.TypeID) {
		t.Errorf("header init = %v, want [%d]", na.Header, sd.GCInfo.TypeID)
	}
}

// TestSubstructSharesNode 测试指向内嵌父结构的指针归到最外层对象
func TestSubstructSharesNode(t *testing.T) {
	base := lltype.NewGcStruct("Base", []lltype.Field{{Name: "x", Type: lltype.Signed}}, lltype.StructHints{})
	sub := lltype.NewGcStruct("Sub", []lltype.Field{{Name: "super", Type: base}, {Name: "y", Type: lltype.Signed}}, lltype.StructHints{})
	p, err := lltype.Malloc(sub, 0)
	if err != nil {
		t.Fatal(err)
	}
	up, err := lltype.CastPointer(lltype.NewPtr(base), p)
	if err != nil {
		t.Fatal(err)
	}
	db := NewDatabase(newFramework(t), nil, nil)
	db.AddConstant(up)
	db.AddConstant(p)
	if err := db.Complete(); err != nil {
		t.Fatal(err)
	}
	if n := len(db.ContainerNodes()); n != 1 {
		t.Fatalf("expected a single container, got %d", n)
	}
	if db.ContainerNodes()[0].Obj != p.Obj {
		t.Error("the node should hold the outermost container")
	}
}

// TestFunctionsAndGraphConstants 测试函数流图中的常量指针被收集，无流图的函数是外部函数
func TestFunctionsAndGraphConstants(t *testing.T) {
	_, a, _ := linkedNodes(t)
	ext := lltype.FunctionPtr(lltype.NewFuncType(nil, lltype.Void), "ll_ext", nil)

	b := flowmodel.NewBuilder("entry")
	b.Op("direct_call", flowmodel.NewTypedConstant(ext, ext.T))
	b.Return(flowmodel.NewTypedConstant(a, a.T))
	entry := lltype.FunctionPtr(lltype.NewFuncType(nil, a.T), "entry", b.Graph())

	db := NewDatabase(newFramework(t), nil, nil)
	db.AddFunction(entry)
	if err := db.Complete(); err != nil {
		t.Fatal(err)
	}
	if n := len(db.FuncNodes()); n != 2 {
		t.Fatalf("expected 2 functions, got %d", n)
	}
	if got := db.ExternalFunctions(); len(got) != 1 || got[0] != "pypy_f_ll_ext" {
		t.Errorf("external = %v", got)
	}
	if n := len(db.ContainerNodes()); n != 2 {
		t.Errorf("constants reached through the graph: got %d containers", n)
	}
}

// TestFinalizerInfo 测试 rtti 交给策略后出现在定义节点上
func TestFinalizerInfo(t *testing.T) {
	st := lltype.NewGcStruct("Res", []lltype.Field{{Name: "fd", Type: lltype.Signed}}, lltype.StructHints{RTTI: true})
	rtti := map[*lltype.Struct]*gcpolicy.RTTI{st: {Destructor: "Res.__del__", Light: true}}
	for _, name := range []string{"framework", "ref"} {
		p, err := gcpolicy.New(name, gcpolicy.Options{})
		if err != nil {
			t.Fatal(err)
		}
		db := NewDatabase(p, rtti, nil)
		def, err := db.GetDefNode(st)
		if err != nil {
			t.Fatal(err)
		}
		info := def.(*StructDefNode).GCInfo
		if info == nil || !info.HasFinalizer || !info.LightFinalizer {
			t.Errorf("%s: gc info = %+v", name, info)
		}
	}
}

// ============================================================================
// 输出
// ============================================================================

// TestCompilationInfoMerge 测试合并策略与组件的编译信息并去重
func TestCompilationInfoMerge(t *testing.T) {
	db := NewDatabase(newFramework(t), nil, nil)
	db.AddCompilationInfo(&rffi.ExternalCompilationInfo{Includes: []string{"<math.h>"}, Libraries: []string{"m"}})
	db.AddCompilationInfo(&rffi.ExternalCompilationInfo{Includes: []string{"<math.h>", "src/extra.h"}})
	db.AddCompilationInfo(&rffi.ExternalCompilationInfo{})
	eci := db.CompilationInfo()
	if len(eci.Includes) != 2 || eci.Includes[0] != "<math.h>" {
		t.Errorf("includes = %v", eci.Includes)
	}
	if len(eci.PreIncludeBits) == 0 {
		t.Error("gc policy bits should be merged in")
	}
	if got := eci.LinkArgs(); len(got) != 1 || got[0] != "-lm" {
		t.Errorf("link args = %v", got)
	}
}

// TestWriteYAML 测试摘要能写出并读回
func TestWriteYAML(t *testing.T) {
	_, a, _ := linkedNodes(t)
	db := NewDatabase(newFramework(t), nil, nil)
	if _, err := db.Summary(); err == nil {
		t.Error("summary of an incomplete database should fail")
	}
	db.AddConstant(a)
	if err := db.Complete(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := db.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	var back Summary
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if back.GCPolicy != "framework" || len(back.Containers) != 2 || len(back.Types) != 1 {
		t.Errorf("summary = %+v", back)
	}
	if back.Types[0].GC == nil || back.Types[0].GC.TypeID == 0 {
		t.Errorf("type summary lost gc info: %+v", back.Types[0])
	}
}
