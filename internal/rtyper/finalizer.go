// finalizer.go - 轻量终结器分析
//
// 轻量终结器不分配内存、不调用其他函数、不写 gc 指针，
// GC 可以在回收对象时直接调用它，而不必排队到回收之后。
package rtyper

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/lltype"
)

// mustBeLightAttr 类上声明终结器必须是轻量的
const mustBeLightAttr = "_must_be_light_finalizer_"

var lightOpPrefixes = []string{
	"int_", "uint_", "llong_", "ullong_", "float_", "cast_", "bool_", "char_", "unichar_", "ptr_",
}

var lightOps = map[string]bool{
	"same_as":          true,
	"raw_free":         true,
	"debug_print":      true,
	"keepalive":        true,
	"getfield":         true,
	"getfield_pure":    true,
	"getsubstruct":     true,
	"getarrayitem":     true,
	"getarraysize":     true,
	"getinteriorfield": true,
}

// lightOp 终结器中允许出现的低层操作
func lightOp(op *flowmodel.SpaceOperation) bool {
	if lightOps[op.OpName] {
		return true
	}
	switch op.OpName {
	case "setfield", "setarrayitem", "setinteriorfield":
		v := op.Args[len(op.Args)-1]
		return !lltype.IsGCPtr(v.ConcreteType())
	}
	for _, p := range lightOpPrefixes {
		if strings.HasPrefix(op.OpName, p) {
			return true
		}
	}
	return false
}

// analyzeLight 返回第一个不允许的操作，nil 表示终结器是轻量的
func analyzeLight(g *flowmodel.FunctionGraph) *flowmodel.SpaceOperation {
	for _, b := range g.Blocks() {
		for _, op := range b.Operations {
			if !lightOp(op) {
				return op
			}
		}
	}
	return nil
}

// checkFinalizers 标记轻量终结器；声明必须轻量但不是的报 T0004
func (rt *RTyper) checkFinalizers() error {
	structs := make([]*lltype.Struct, 0, len(rt.finalizers))
	for st := range rt.finalizers {
		structs = append(structs, st)
	}
	sort.Slice(structs, func(i, j int) bool { return structs[i].Name < structs[j].Name })
	for _, st := range structs {
		g := rt.finalizers[st]
		rtti := rt.rtti[st]
		bad := analyzeLight(g)
		if bad == nil {
			rtti.Light = true
			continue
		}
		if rt.mustBeLight(st) {
			return errs.NewTyperError(errs.T0004, "%s: finalizer %s is not light: it contains %s", st.Name, g.Name, bad.OpName)
		}
		rt.log.Debug("finalizer is not light", zap.String("struct", st.Name), zap.String("op", bad.OpName))
	}
	return nil
}

// mustBeLight 实例结构体对应的类声明了 _must_be_light_finalizer_
func (rt *RTyper) mustBeLight(st *lltype.Struct) bool {
	for cd, r := range rt.instanceReprs {
		if r.st != st || cd == nil {
			continue
		}
		v, _, ok := cd.Desc.Class.Lookup(mustBeLightAttr)
		if !ok {
			return false
		}
		b, _ := v.(bool)
		return b
	}
	return false
}
