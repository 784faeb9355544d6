// node.go - 容器图中的节点
//
// 类型定义节点描述一个容器类型在 C 中的布局，容器节点是一个预构建对象，
// 函数节点是一个类型化后的流图。节点之间的依赖由数据库统一遍历。
package cmodel

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/lltype"
)

// ============================================================================
// 类型定义节点
// ============================================================================

// FieldDef C 结构体中的一个字段
type FieldDef struct {
	Name  string `yaml:"name"`
	CType string `yaml:"ctype"`
}

// StructDefNode 结构体类型定义
type StructDefNode struct {
	T        *lltype.Struct
	CName    string
	GCHeader *lltype.Struct
	Fields   []FieldDef
	// VarLength 变长结构体最后一个字段是数组
	VarLength bool
	GCInfo    *gcpolicy.GCInfo
}

func (n *StructDefNode) LLType() lltype.ContainerType    { return n.T }
func (n *StructDefNode) SetGCInfo(info *gcpolicy.GCInfo) { n.GCInfo = info }

// ArrayDefNode 变长数组类型定义
type ArrayDefNode struct {
	T        *lltype.Array
	CName    string
	GCHeader *lltype.Struct
	ItemType string
	GCInfo   *gcpolicy.GCInfo
}

func (n *ArrayDefNode) LLType() lltype.ContainerType    { return n.T }
func (n *ArrayDefNode) SetGCInfo(info *gcpolicy.GCInfo) { n.GCInfo = info }

// FixedArrayDefNode 定长数组；没有长度字也没有 GC 头
type FixedArrayDefNode struct {
	T        *lltype.FixedArray
	CName    string
	ItemType string
}

func (n *FixedArrayDefNode) LLType() lltype.ContainerType { return n.T }
func (n *FixedArrayDefNode) SetGCInfo(*gcpolicy.GCInfo)   {}

// OpaqueDefNode 不透明类型与弱引用单元
type OpaqueDefNode struct {
	T      lltype.ContainerType
	CName  string
	GCInfo *gcpolicy.GCInfo
}

func (n *OpaqueDefNode) LLType() lltype.ContainerType    { return n.T }
func (n *OpaqueDefNode) SetGCInfo(info *gcpolicy.GCInfo) { n.GCInfo = info }

// ============================================================================
// 容器与函数节点
// ============================================================================

// ContainerNode 预构建的全局对象
type ContainerNode struct {
	Obj    *lltype.Container
	Name   string
	Def    gcpolicy.DefNode
	Header []lltype.Value
}

// FuncNode 函数：有流图的输出函数体，没有的是外部声明
type FuncNode struct {
	Name  string
	Type  *lltype.FuncType
	Graph *flowmodel.FunctionGraph
}

// External 没有流图的函数
func (n *FuncNode) External() bool { return n.Graph == nil }

// containerDeps 容器中直接引用的指针
func containerDeps(obj *lltype.Container) []*lltype.PtrValue {
	var out []*lltype.PtrValue
	var walk func(vs []lltype.Value)
	walk = func(vs []lltype.Value) {
		for _, v := range vs {
			switch x := v.(type) {
			case *lltype.PtrValue:
				if !x.IsNull() {
					out = append(out, x)
				}
			case *lltype.Container:
				walk(x.Fields)
				walk(x.Items)
			}
		}
	}
	walk(obj.Fields)
	walk(obj.Items)
	return out
}

// graphDeps 流图常量中引用的指针
func graphDeps(g *flowmodel.FunctionGraph) []*lltype.PtrValue {
	var out []*lltype.PtrValue
	add := func(v flowmodel.Hlvalue) {
		c, ok := v.(*flowmodel.Constant)
		if !ok {
			return
		}
		if p, ok := c.Value.(*lltype.PtrValue); ok && !p.IsNull() {
			out = append(out, p)
		}
	}
	for _, b := range g.Blocks() {
		for _, op := range b.Operations {
			for _, a := range op.Args {
				add(a)
			}
		}
		for _, l := range b.Exits {
			for _, a := range l.Args {
				add(a)
			}
		}
	}
	return out
}

func (n *ContainerNode) String() string {
	return fmt.Sprintf("%s: %s", n.Name, n.Obj.Type)
}
