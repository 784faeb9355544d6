// desc.go - 描述符
//
// 描述符是编译期已知值的规范句柄。函数描述符持有按特化键缓存的流图；
// 方法描述符把函数绑定到 (origin 类定义, self 类定义, 标志)；
// 冻结描述符包装不可变的预构建实例并惰性缓存其属性注解。
package description

import (
	"fmt"
	"sort"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// Callable 可以出现在调用 PBC 中的描述符
type Callable interface {
	annotation.Desc
	// Pycall 分析一次调用，返回结果注解
	Pycall(whence *flowmodel.PositionKey, args *CallArgs, sPrev annotation.SomeValue, op *flowmodel.SpaceOperation) (annotation.SomeValue, error)
	// RowKey 调用表中的列键
	RowKey() annotation.Desc
}

// GraphProvider 能给出某个调用对应流图的描述符
type GraphProvider interface {
	Callable
	GetGraph(args *CallArgs, op *flowmodel.SpaceOperation) (*flowmodel.FunctionGraph, error)
}

type baseDesc struct {
	bk *Bookkeeper
	id int
}

func (d *baseDesc) ID() int { return d.id }

// Bookkeeper 所属簿记器
func (d *baseDesc) Bookkeeper() *Bookkeeper { return d.bk }

// ============================================================================
// FunctionDesc
// ============================================================================

// FunctionDesc 函数描述符
type FunctionDesc struct {
	baseDesc
	Func      *program.Function
	Name      string
	Signature flowmodel.Signature
	Defaults  []interface{}

	specializer Specializer
	specParams  []string
	cache       map[string]*flowmodel.FunctionGraph
	cacheOrder  []string
	// MemoTables memo 特化的编译期结果，键为参数常量组合
	MemoTables map[string]annotation.SomeValue
}

func newFunctionDesc(bk *Bookkeeper, fn *program.Function) *FunctionDesc {
	return &FunctionDesc{
		baseDesc:  baseDesc{bk: bk, id: bk.nextDescID()},
		Func:      fn,
		Name:      fn.Name,
		Signature: fn.Signature,
		Defaults:  fn.Defaults,
		cache:     make(map[string]*flowmodel.FunctionGraph),
	}
}

func (d *FunctionDesc) String() string              { return "FunctionDesc(" + d.Name + ")" }
func (*FunctionDesc) DescKind() annotation.DescKind { return annotation.DescFunction }
func (d *FunctionDesc) PyObj() interface{}          { return d.Func }
func (d *FunctionDesc) RowKey() annotation.Desc     { return d }

// CachedGraph 按特化键取得流图，首次遇到时构建
func (d *FunctionDesc) CachedGraph(key, variant string) (*flowmodel.FunctionGraph, error) {
	if g, ok := d.cache[key]; ok {
		return g, nil
	}
	if d.Func.Build == nil {
		return nil, errs.NewAnnotatorError(errs.A0001, "%s has no flow graph builder", d.Name)
	}
	g, err := d.Func.Build(d.Func, variant)
	if err != nil {
		return nil, fmt.Errorf("building graph of %s: %w", d.Name, err)
	}
	if variant != "" && g.Name == d.Name {
		g.Name = d.Name + "__" + variant
	}
	if g.Func == nil {
		g.Func = d.Func
	}
	d.cache[key] = g
	d.cacheOrder = append(d.cacheOrder, key)
	d.bk.graphCreated(d, g)
	return g, nil
}

// Graphs 已构建的所有特化流图（构建顺序）
func (d *FunctionDesc) Graphs() []*flowmodel.FunctionGraph {
	out := make([]*flowmodel.FunctionGraph, len(d.cacheOrder))
	for i, k := range d.cacheOrder {
		out[i] = d.cache[k]
	}
	return out
}

// defaultCells 默认值的注解
func (d *FunctionDesc) defaultCells() ([]annotation.SomeValue, error) {
	out := make([]annotation.SomeValue, len(d.Defaults))
	for i, v := range d.Defaults {
		s, err := d.bk.ImmutableValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// ParseArguments 按签名把调用实参映射到形参注解
func (d *FunctionDesc) ParseArguments(args *CallArgs) ([]annotation.SomeValue, error) {
	defaults, err := d.defaultCells()
	if err != nil {
		return nil, err
	}
	cells, err := args.MatchSignature(d.Signature, defaults)
	if err != nil {
		if ae, ok := err.(*errs.AnnotatorError); ok {
			ae.Message = fmt.Sprintf("signature mismatch: %s() %s", d.Name, ae.Message)
		}
		return nil, err
	}
	return cells, nil
}

// NormalizeArgs 应用 enforceargs / signature 声明（可能修改 cells）
func (d *FunctionDesc) NormalizeArgs(cells []annotation.SomeValue) error {
	if len(d.Func.EnforceArgs) > 0 && d.Func.Sig != nil {
		return errs.NewAnnotatorError(errs.A0102, "%s: signature and enforceargs cannot both be used", d.Name)
	}
	if len(d.Func.EnforceArgs) > 0 {
		return d.bk.enforceArgs(d, d.Func.EnforceArgs, cells)
	}
	if d.Func.Sig != nil {
		return d.bk.enforceArgs(d, d.Func.Sig.Args, cells)
	}
	return nil
}

// Specialize 规范化参数并调用特化器
func (d *FunctionDesc) Specialize(cells []annotation.SomeValue, op *flowmodel.SpaceOperation) (SpecResult, error) {
	if op == nil && d.bk.Position != nil && d.bk.Position.Block != nil {
		ops := d.bk.Position.Block.Operations
		if i := d.bk.Position.Index; i >= 0 && i < len(ops) {
			op = ops[i]
		}
	}
	if err := d.NormalizeArgs(cells); err != nil {
		return SpecResult{}, err
	}
	if d.specializer == nil {
		spec, params, err := d.bk.Policy.GetSpecializer(d.Func.SpecialCase)
		if err != nil {
			return SpecResult{}, err
		}
		d.specializer, d.specParams = spec, params
	}
	return d.specializer(d, cells, op, d.specParams)
}

// Pycall 分析对此函数的一次调用
func (d *FunctionDesc) Pycall(whence *flowmodel.PositionKey, args *CallArgs, sPrev annotation.SomeValue, op *flowmodel.SpaceOperation) (annotation.SomeValue, error) {
	if d.Func.NotRPython {
		return nil, errs.NewAnnotatorError(errs.A0001, "%s is not RPython", d.Name)
	}
	cells, err := d.ParseArguments(args)
	if err != nil {
		return nil, err
	}
	res, err := d.Specialize(cells, op)
	if err != nil {
		return nil, err
	}
	result := res.Value
	if res.Graph != nil {
		result, err = d.bk.annotator().RecursiveCall(res.Graph, whence, cells)
		if err != nil {
			return nil, err
		}
		if d.Func.Sig != nil {
			sres, err := d.bk.specToAnnotation(d.Func.Sig.Result)
			if err != nil {
				return nil, err
			}
			if sres != nil {
				if !annotation.Contains(sres, result) {
					return nil, errs.NewAnnotatorError(errs.A0103, "%s return value: expected %s, got %s", d.Name, sres, result)
				}
				if err := d.bk.annotator().AddPendingBlock(res.Graph, res.Graph.ReturnBlock, []annotation.SomeValue{sres}); err != nil {
					return nil, err
				}
				result = sres
			}
		}
	}
	if result == nil {
		result = annotation.SImpossible
	}
	// 某些特化会打破单调性，这里用上一次的结果恢复
	return annotation.Union(result, sPrev)
}

// GetCallParameters 给出调用将使用的流图与参数注解，不调度
func (d *FunctionDesc) GetCallParameters(args []annotation.SomeValue) (*flowmodel.FunctionGraph, []annotation.SomeValue, error) {
	cells, err := d.ParseArguments(SimpleArgs(args...))
	if err != nil {
		return nil, nil, err
	}
	res, err := d.Specialize(cells, nil)
	if err != nil {
		return nil, nil, err
	}
	if res.Graph == nil {
		return nil, nil, errs.NewAnnotatorError(errs.A0001, "%s: specialization did not produce a graph", d.Name)
	}
	return res.Graph, cells, nil
}

// GetGraph 调用对应的流图；编译期求值的调用（memo、override）返回 nil
func (d *FunctionDesc) GetGraph(args *CallArgs, op *flowmodel.SpaceOperation) (*flowmodel.FunctionGraph, error) {
	cells, err := d.ParseArguments(args)
	if err != nil {
		return nil, err
	}
	res, err := d.Specialize(cells, op)
	if err != nil {
		return nil, err
	}
	return res.Graph, nil
}

// BindUnder 作为 classdef 的类属性读取时绑定为未绑定方法
func (d *FunctionDesc) BindUnder(classdef *ClassDef, name string) annotation.Desc {
	return d.bk.GetMethodDesc(d, classdef, nil, name, nil)
}

// CallFamily 所属调用族
func (d *FunctionDesc) CallFamily() *CallFamily {
	return d.bk.CallFamilyOf(d)
}

// ============================================================================
// MethodDesc
// ============================================================================

// MethodDesc 方法描述符
type MethodDesc struct {
	baseDesc
	FuncDesc       *FunctionDesc
	OriginClassDef *ClassDef
	// SelfClassDef 为 nil 表示尚未绑定
	SelfClassDef *ClassDef
	Name         string
	Flags        map[string]bool
}

func (d *MethodDesc) String() string {
	self := "?"
	if d.SelfClassDef != nil {
		self = d.SelfClassDef.Name()
	}
	return fmt.Sprintf("MethodDesc(%s.%s of %s%s)", d.OriginClassDef.Name(), d.Name, self, flagString(d.Flags))
}

func flagString(flags map[string]bool) string {
	if len(flags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf(" %v", keys)
}

func (*MethodDesc) DescKind() annotation.DescKind { return annotation.DescMethod }
func (d *MethodDesc) PyObj() interface{}          { return d.FuncDesc.Func }
func (d *MethodDesc) RowKey() annotation.Desc     { return d.FuncDesc }

// BindSelf 绑定到 self 类定义
func (d *MethodDesc) BindSelf(self *ClassDef, flags map[string]bool) *MethodDesc {
	return d.bk.GetMethodDesc(d.FuncDesc, d.OriginClassDef, self, d.Name, flags)
}

// Pycall 以 self 实例为第一个参数调用函数
func (d *MethodDesc) Pycall(whence *flowmodel.PositionKey, args *CallArgs, sPrev annotation.SomeValue, op *flowmodel.SpaceOperation) (annotation.SomeValue, error) {
	if d.SelfClassDef == nil {
		return nil, errs.NewAnnotatorError(errs.A0001, "calling unbound %s", d)
	}
	self := annotation.NewInstance(d.SelfClassDef, false, d.Flags)
	return d.FuncDesc.Pycall(whence, args.Prepend(self), sPrev, op)
}

// GetGraph 调用对应的流图
func (d *MethodDesc) GetGraph(args *CallArgs, op *flowmodel.SpaceOperation) (*flowmodel.FunctionGraph, error) {
	if d.SelfClassDef == nil {
		return nil, errs.NewAnnotatorError(errs.A0001, "calling unbound %s", d)
	}
	self := annotation.NewInstance(d.SelfClassDef, false, d.Flags)
	return d.FuncDesc.GetGraph(args.Prepend(self), op)
}

// SimplifyDescSet 去掉冗余的方法描述符：
// 标志不同的替换为标志交集；同一 (函数, origin, 名字) 组内，
// self 类是另一个 self 类子类的被删除
func (d *MethodDesc) SimplifyDescSet(descs []annotation.Desc) []annotation.Desc {
	var methods []*MethodDesc
	var others []annotation.Desc
	for _, x := range descs {
		if m, ok := x.(*MethodDesc); ok {
			methods = append(methods, m)
		} else {
			others = append(others, x)
		}
	}
	if len(methods) < 2 {
		return descs
	}

	common := make(map[string]bool)
	for k, v := range methods[0].Flags {
		keep := true
		for _, m := range methods[1:] {
			if w, ok := m.Flags[k]; !ok || w != v {
				keep = false
				break
			}
		}
		if keep {
			common[k] = v
		}
	}
	for i, m := range methods {
		if !flagsEqual(m.Flags, common) {
			methods[i] = d.bk.GetMethodDesc(m.FuncDesc, m.OriginClassDef, m.SelfClassDef, m.Name, common)
		}
	}

	type groupKey struct {
		fd     *FunctionDesc
		origin *ClassDef
		name   string
	}
	groups := make(map[groupKey][]*MethodDesc)
	for _, m := range methods {
		if m.SelfClassDef != nil {
			k := groupKey{m.FuncDesc, m.OriginClassDef, m.Name}
			groups[k] = append(groups[k], m)
		}
	}
	drop := make(map[*MethodDesc]bool)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for _, m1 := range group {
			for _, m2 := range group {
				c1, c2 := m1.SelfClassDef, m2.SelfClassDef
				if c1 != c2 && c1.IsSubclass(c2) {
					drop[m1] = true
					break
				}
			}
		}
	}
	out := others
	for _, m := range methods {
		if !drop[m] {
			out = append(out, m)
		}
	}
	return out
}

func flagsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// ============================================================================
// FrozenDesc
// ============================================================================

// FrozenDesc 冻结的预构建实例
type FrozenDesc struct {
	baseDesc
	Value     *program.Instance
	attrcache map[string]annotation.SomeValue
}

func newFrozenDesc(bk *Bookkeeper, inst *program.Instance) *FrozenDesc {
	return &FrozenDesc{
		baseDesc:  baseDesc{bk: bk, id: bk.nextDescID()},
		Value:     inst,
		attrcache: make(map[string]annotation.SomeValue),
	}
}

func (d *FrozenDesc) String() string              { return "FrozenDesc(" + d.Value.String() + ")" }
func (*FrozenDesc) DescKind() annotation.DescKind { return annotation.DescFrozen }
func (d *FrozenDesc) PyObj() interface{}          { return d.Value }

// ReadAttribute 读取属性的宿主值；实例字典优先，其次是类中的函数
func (d *FrozenDesc) ReadAttribute(name string) (interface{}, bool) {
	if v, ok := d.Value.Attrs[name]; ok {
		return v, true
	}
	if d.Value.Class != nil {
		if v, _, ok := d.Value.Class.Lookup(name); ok {
			if fn, isFn := v.(*program.Function); isFn && !fn.StaticMethod {
				return &program.BoundMethod{Func: fn, Self: d.Value}, true
			}
			return v, true
		}
	}
	return nil, false
}

// SReadAttribute 属性注解；不存在时为 Impossible
func (d *FrozenDesc) SReadAttribute(name string) (annotation.SomeValue, error) {
	if s, ok := d.attrcache[name]; ok {
		return s, nil
	}
	v, ok := d.ReadAttribute(name)
	if !ok {
		return annotation.SImpossible, nil
	}
	s, err := d.bk.ImmutableValue(v)
	if err != nil {
		return nil, err
	}
	d.attrcache[name] = s
	return s, nil
}

// AttrFamily 所属冻结属性族
func (d *FrozenDesc) AttrFamily() *FrozenAttrFamily {
	_, f := d.bk.frozenAttrFamilies.Find(d)
	return f
}

// ============================================================================
// MethodOfFrozenDesc
// ============================================================================

// MethodOfFrozenDesc 绑定到冻结实例的方法
type MethodOfFrozenDesc struct {
	baseDesc
	FuncDesc   *FunctionDesc
	FrozenDesc *FrozenDesc
}

func (d *MethodOfFrozenDesc) String() string {
	return fmt.Sprintf("MethodOfFrozenDesc(%s of %s)", d.FuncDesc.Name, d.FrozenDesc.Value)
}
func (*MethodOfFrozenDesc) DescKind() annotation.DescKind { return annotation.DescMethodOfFrozen }
func (d *MethodOfFrozenDesc) PyObj() interface{} {
	return &program.BoundMethod{Func: d.FuncDesc.Func, Self: d.FrozenDesc.Value}
}
func (d *MethodOfFrozenDesc) RowKey() annotation.Desc { return d.FuncDesc }

// Pycall 以冻结实例为第一个参数调用
func (d *MethodOfFrozenDesc) Pycall(whence *flowmodel.PositionKey, args *CallArgs, sPrev annotation.SomeValue, op *flowmodel.SpaceOperation) (annotation.SomeValue, error) {
	self := annotation.NewPBC([]annotation.Desc{d.FrozenDesc}, false)
	return d.FuncDesc.Pycall(whence, args.Prepend(self), sPrev, op)
}

// GetGraph 调用对应的流图
func (d *MethodOfFrozenDesc) GetGraph(args *CallArgs, op *flowmodel.SpaceOperation) (*flowmodel.FunctionGraph, error) {
	self := annotation.NewPBC([]annotation.Desc{d.FrozenDesc}, false)
	return d.FuncDesc.GetGraph(args.Prepend(self), op)
}
