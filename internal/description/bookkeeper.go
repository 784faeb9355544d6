// bookkeeper.go - 描述符簿记器
//
// 簿记器为每个编译期已知的宿主值创建规范描述符，维护调用族与属性族，
// 把预构建常量转换为注解，并记录模拟调用。注解器把自己挂到簿记器上，
// 描述符通过它递归分析被调用的流图。
package description

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
	"github.com/tangzhangming/solatrans/internal/rlib/rbigint"
)

// Annotator 簿记器需要的注解器能力
type Annotator interface {
	// RecursiveCall 以 cells 为入参分析 graph，返回当前的返回值注解；
	// whence 为调用位置，返回值变大时从那里重新调度
	RecursiveCall(graph *flowmodel.FunctionGraph, whence *flowmodel.PositionKey, cells []annotation.SomeValue) (annotation.SomeValue, error)
	ReflowFromPosition(pos flowmodel.PositionKey)
	AddPendingBlock(graph *flowmodel.FunctionGraph, block *flowmodel.Block, cells []annotation.SomeValue) error
	// Binding 变量当前的注解，常量给出其不可变注解；未知返回 nil
	Binding(v flowmodel.Hlvalue) annotation.SomeValue
	// CallSites 所有调用操作的位置
	CallSites() []flowmodel.PositionKey
}

type detachedAnnotator struct{}

func (detachedAnnotator) RecursiveCall(g *flowmodel.FunctionGraph, _ *flowmodel.PositionKey, _ []annotation.SomeValue) (annotation.SomeValue, error) {
	return nil, errs.NewAnnotatorError(errs.A0001, "no annotator attached to analyse %s", g.Name)
}
func (detachedAnnotator) ReflowFromPosition(flowmodel.PositionKey) {}
func (detachedAnnotator) AddPendingBlock(*flowmodel.FunctionGraph, *flowmodel.Block, []annotation.SomeValue) error {
	return nil
}
func (detachedAnnotator) Binding(flowmodel.Hlvalue) annotation.SomeValue { return nil }
func (detachedAnnotator) CallSites() []flowmodel.PositionKey             { return nil }

type methodKey struct {
	fd     *FunctionDesc
	origin *ClassDef
	self   *ClassDef
	name   string
	flags  string
}

type frozenMethodKey struct {
	fd     *FunctionDesc
	frozen *FrozenDesc
}

// emulatedCall 登记的模拟调用
type emulatedCall struct {
	pbc  *annotation.PBC
	args []annotation.SomeValue
}

// Bookkeeper 描述符簿记器
type Bookkeeper struct {
	Annotator  Annotator
	Policy     *Policy
	Exceptions *program.Exceptions
	log        *zap.Logger

	descs     map[interface{}]annotation.Desc
	descOrder []annotation.Desc
	// ClassDefs 按创建顺序的所有类定义
	ClassDefs []*ClassDef

	methodDescs    map[methodKey]*MethodDesc
	methodOfFrozen map[frozenMethodKey]*MethodOfFrozenDesc

	callFamilies       *UnionFind[annotation.Desc, *CallFamily]
	frozenAttrFamilies *UnionFind[annotation.Desc, *FrozenAttrFamily]
	classAttrFamilies  map[string]*UnionFind[annotation.Desc, *ClassAttrFamily]

	immutableCache map[interface{}]annotation.SomeValue
	seenMutable    map[*program.Instance]bool

	emulatedCalls map[interface{}]emulatedCall
	emulatedOrder []interface{}
	callbacks     []func()

	graphOwner map[*flowmodel.FunctionGraph]*FunctionDesc

	// listdefs/dictdefs 按操作位置缓存的容器定义，重新分析同一操作时复用
	listdefs map[flowmodel.PositionKey]*annotation.ListDef
	dictdefs map[flowmodel.PositionKey]*annotation.DictDef

	// Position 当前正在分析的操作位置，nil 表示不在流图中
	Position *flowmodel.PositionKey

	descID     int
	classdefID int
}

// NewBookkeeper 创建簿记器
func NewBookkeeper(policy *Policy, exceptions *program.Exceptions, log *zap.Logger) *Bookkeeper {
	if policy == nil {
		policy = NewPolicy()
	}
	if exceptions == nil {
		exceptions = program.NewExceptions()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bookkeeper{
		Policy:             policy,
		Exceptions:         exceptions,
		log:                log,
		descs:              make(map[interface{}]annotation.Desc),
		methodDescs:        make(map[methodKey]*MethodDesc),
		methodOfFrozen:     make(map[frozenMethodKey]*MethodOfFrozenDesc),
		callFamilies:       NewUnionFind[annotation.Desc, *CallFamily](NewCallFamily),
		frozenAttrFamilies: NewUnionFind[annotation.Desc, *FrozenAttrFamily](NewFrozenAttrFamily),
		classAttrFamilies:  make(map[string]*UnionFind[annotation.Desc, *ClassAttrFamily]),
		immutableCache:     make(map[interface{}]annotation.SomeValue),
		seenMutable:        make(map[*program.Instance]bool),
		emulatedCalls:      make(map[interface{}]emulatedCall),
		graphOwner:         make(map[*flowmodel.FunctionGraph]*FunctionDesc),
		listdefs:           make(map[flowmodel.PositionKey]*annotation.ListDef),
		dictdefs:           make(map[flowmodel.PositionKey]*annotation.DictDef),
	}
}

// Logger 簿记器使用的日志器
func (bk *Bookkeeper) Logger() *zap.Logger { return bk.log }

func (bk *Bookkeeper) nextDescID() int {
	bk.descID++
	return bk.descID
}

func (bk *Bookkeeper) nextClassDefID() int {
	bk.classdefID++
	return bk.classdefID
}

func (bk *Bookkeeper) annotator() Annotator {
	if bk.Annotator == nil {
		return detachedAnnotator{}
	}
	return bk.Annotator
}

// AtPosition 进入位置 pos，返回恢复函数
func (bk *Bookkeeper) AtPosition(pos *flowmodel.PositionKey) func() {
	prev := bk.Position
	bk.Position = pos
	return func() { bk.Position = prev }
}

func (bk *Bookkeeper) positionOrZero() flowmodel.PositionKey {
	if bk.Position == nil {
		return flowmodel.PositionKey{}
	}
	return *bk.Position
}

// ReflowFromPosition 请求注解器从 pos 重新分析
func (bk *Bookkeeper) ReflowFromPosition(pos flowmodel.PositionKey) {
	if pos.Graph == nil && pos.Block == nil {
		if cb, ok := bk.CallbackFor(pos); ok {
			cb()
		}
		return
	}
	bk.annotator().ReflowFromPosition(pos)
}

// CallbackFor 模拟调用登记的回调位置
func (bk *Bookkeeper) CallbackFor(pos flowmodel.PositionKey) (func(), bool) {
	if pos.Graph != nil || pos.Index >= 0 {
		return nil, false
	}
	i := -pos.Index - 1
	if i >= len(bk.callbacks) {
		return nil, false
	}
	return bk.callbacks[i], true
}

func (bk *Bookkeeper) graphCreated(d *FunctionDesc, g *flowmodel.FunctionGraph) {
	bk.graphOwner[g] = d
	bk.log.Debug("graph created", zap.String("func", d.Name), zap.String("graph", g.Name))
}

// GraphOwner 流图所属的函数描述符
func (bk *Bookkeeper) GraphOwner(g *flowmodel.FunctionGraph) *FunctionDesc {
	return bk.graphOwner[g]
}

// Descs 所有描述符（创建顺序）
func (bk *Bookkeeper) Descs() []annotation.Desc {
	return append([]annotation.Desc(nil), bk.descOrder...)
}

// ============================================================================
// 描述符
// ============================================================================

// GetDesc 宿主值的规范描述符
func (bk *Bookkeeper) GetDesc(obj interface{}) (annotation.Desc, error) {
	switch obj.(type) {
	case *program.Function, *program.Class, *program.Instance, *program.BoundMethod:
	default:
		return nil, errs.NewAnnotatorError(errs.A0001, "don't know how to describe %T", obj)
	}
	if d, ok := bk.descs[obj]; ok {
		return d, nil
	}
	var d annotation.Desc
	switch x := obj.(type) {
	case *program.Function:
		if x.ClassMethod {
			return nil, errs.NewAnnotatorError(errs.A0006, "classmethods are not supported: %s", x.Name)
		}
		d = newFunctionDesc(bk, x)
	case *program.Class:
		cd, err := newClassDesc(bk, x)
		if err != nil {
			delete(bk.descs, x)
			return nil, err
		}
		d = cd
	case *program.Instance:
		if !x.IsFrozen() {
			return nil, errs.NewAnnotatorError(errs.A0001, "mutable prebuilt instance %s has no description", x)
		}
		d = newFrozenDesc(bk, x)
	case *program.BoundMethod:
		if !x.Self.IsFrozen() {
			return nil, errs.NewAnnotatorError(errs.A0001, "bound method %s of a mutable prebuilt instance", x)
		}
		fd, err := bk.GetDesc(x.Func)
		if err != nil {
			return nil, err
		}
		frozen, err := bk.GetDesc(x.Self)
		if err != nil {
			return nil, err
		}
		return bk.GetMethodOfFrozenDesc(fd.(*FunctionDesc), frozen.(*FrozenDesc)), nil
	}
	bk.descs[obj] = d
	bk.descOrder = append(bk.descOrder, d)
	return d, nil
}

// GetMethodDesc 方法描述符（按参数缓存）
func (bk *Bookkeeper) GetMethodDesc(fd *FunctionDesc, origin, self *ClassDef, name string, flags map[string]bool) *MethodDesc {
	key := methodKey{fd: fd, origin: origin, self: self, name: name, flags: flagString(flags)}
	if m, ok := bk.methodDescs[key]; ok {
		return m
	}
	var copied map[string]bool
	if len(flags) > 0 {
		copied = make(map[string]bool, len(flags))
		for k, v := range flags {
			copied[k] = v
		}
	}
	m := &MethodDesc{
		baseDesc:       baseDesc{bk: bk, id: bk.nextDescID()},
		FuncDesc:       fd,
		OriginClassDef: origin,
		SelfClassDef:   self,
		Name:           name,
		Flags:          copied,
	}
	bk.methodDescs[key] = m
	bk.descOrder = append(bk.descOrder, m)
	return m
}

// GetMethodOfFrozenDesc 冻结实例方法描述符
func (bk *Bookkeeper) GetMethodOfFrozenDesc(fd *FunctionDesc, frozen *FrozenDesc) *MethodOfFrozenDesc {
	key := frozenMethodKey{fd, frozen}
	if m, ok := bk.methodOfFrozen[key]; ok {
		return m
	}
	m := &MethodOfFrozenDesc{
		baseDesc:   baseDesc{bk: bk, id: bk.nextDescID()},
		FuncDesc:   fd,
		FrozenDesc: frozen,
	}
	bk.methodOfFrozen[key] = m
	bk.descOrder = append(bk.descOrder, m)
	return m
}

// GetClassDesc 类的描述符
func (bk *Bookkeeper) GetClassDesc(cls *program.Class) (*ClassDesc, error) {
	d, err := bk.GetDesc(cls)
	if err != nil {
		return nil, err
	}
	return d.(*ClassDesc), nil
}

// GetUniqueClassDef 类的默认类定义
func (bk *Bookkeeper) GetUniqueClassDef(cls *program.Class) (*ClassDef, error) {
	d, err := bk.GetClassDesc(cls)
	if err != nil {
		return nil, err
	}
	return d.GetUniqueClassDef()
}

// ============================================================================
// 常量
// ============================================================================

// ImmutableValue 预构建常量的注解
func (bk *Bookkeeper) ImmutableValue(v interface{}) (annotation.SomeValue, error) {
	switch x := v.(type) {
	case nil, annotation.NoneValue:
		return annotation.SNone, nil
	case bool:
		return annotation.ConstBool(x), nil
	case int:
		return annotation.ConstInt(int64(x)), nil
	case int64:
		return annotation.ConstInt(x), nil
	case int32:
		return annotation.ConstInt(int64(x)), nil
	case uint64:
		return annotation.NewUnsigned(64), nil
	case *rbigint.Bigint:
		if n, err := x.ToInt(); err == nil {
			return annotation.ConstInt(n), nil
		}
		if _, err := x.ToUint(); err == nil {
			return annotation.NewUnsigned(64), nil
		}
		return nil, errs.NewAnnotatorError(errs.A0001, "long constant %s does not fit a machine word", x)
	case float64:
		return annotation.ConstFloat(x), nil
	case string:
		if len(x) == 1 {
			return annotation.ConstChar(x[0]), nil
		}
		return annotation.ConstString(x), nil
	case program.Char:
		return annotation.ConstChar(byte(x)), nil
	case program.Unicode:
		if r := []rune(string(x)); len(r) == 1 {
			return annotation.ConstUniChar(r[0]), nil
		}
		return annotation.ConstUnicode(string(x)), nil
	case program.UniChar:
		return annotation.ConstUniChar(rune(x)), nil
	case program.Tuple:
		items := make([]annotation.SomeValue, len(x))
		for i, e := range x {
			s, err := bk.ImmutableValue(e)
			if err != nil {
				return nil, err
			}
			items[i] = s
		}
		return annotation.NewTuple(items), nil
	case *program.List:
		if s, ok := bk.immutableCache[x]; ok {
			return s, nil
		}
		def := annotation.NewListDef(bk, annotation.SImpossible, false, false)
		s := annotation.NewList(def)
		bk.immutableCache[x] = s
		for _, e := range x.Items {
			se, err := bk.ImmutableValue(e)
			if err != nil {
				return nil, err
			}
			if err := def.Generalize(se); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *program.Dict:
		if s, ok := bk.immutableCache[x]; ok {
			return s, nil
		}
		def := annotation.NewDictDef(bk, annotation.SImpossible, annotation.SImpossible, false, false)
		s := annotation.NewDict(def)
		bk.immutableCache[x] = s
		for i, k := range x.Keys {
			sk, err := bk.ImmutableValue(k)
			if err != nil {
				return nil, err
			}
			sv, err := bk.ImmutableValue(x.Values[i])
			if err != nil {
				return nil, err
			}
			if err := def.GeneralizeKey(sk); err != nil {
				return nil, err
			}
			if err := def.GeneralizeValue(sv); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *program.Builtin:
		return annotation.NewBuiltin(x.Name), nil
	case *program.WeakRef:
		if x.Target == nil {
			return annotation.NewWeakRef(nil), nil
		}
		cd, err := bk.GetUniqueClassDef(x.Target.Class)
		if err != nil {
			return nil, err
		}
		if err := bk.SeeMutable(x.Target); err != nil {
			return nil, err
		}
		return annotation.NewWeakRef(cd), nil
	case *program.Instance:
		if x.IsFrozen() {
			break
		}
		cd, err := bk.GetUniqueClassDef(x.Class)
		if err != nil {
			return nil, err
		}
		if err := bk.SeeMutable(x); err != nil {
			return nil, err
		}
		s := annotation.NewInstance(cd, false, nil)
		return s, nil
	}
	if v == program.None {
		return annotation.SNone, nil
	}
	d, err := bk.GetDesc(v)
	if err != nil {
		return nil, err
	}
	return annotation.NewPBC([]annotation.Desc{d}, false), nil
}

// SeeMutable 可变预构建实例的属性成为其类定义的常量来源
func (bk *Bookkeeper) SeeMutable(inst *program.Instance) error {
	if bk.seenMutable[inst] {
		return nil
	}
	bk.seenMutable[inst] = true
	cd, err := bk.GetUniqueClassDef(inst.Class)
	if err != nil {
		return err
	}
	src := &InstanceSource{bk: bk, Obj: inst}
	for _, name := range src.AttrNames() {
		if err := cd.AddSourceForAttribute(name, src); err != nil {
			return err
		}
	}
	return nil
}

// NewList 以 items 为元素创建新列表注解
func (bk *Bookkeeper) NewList(items ...annotation.SomeValue) (*annotation.List, error) {
	def := annotation.NewListDef(bk, annotation.SImpossible, false, false)
	for _, s := range items {
		if err := def.Generalize(s); err != nil {
			return nil, err
		}
	}
	return annotation.NewList(def), nil
}

// GetListDef 当前位置的列表定义；第一次创建时按 resized/mutated 设置标志
func (bk *Bookkeeper) GetListDef(mutated, resized bool) *annotation.ListDef {
	pos := bk.positionOrZero()
	if def, ok := bk.listdefs[pos]; ok && bk.Position != nil {
		return def
	}
	def := annotation.NewListDef(bk, annotation.SImpossible, mutated, resized)
	if bk.Position != nil {
		bk.listdefs[pos] = def
	}
	return def
}

// NewListHere 当前位置的 newlist：同一位置的多次分析共享一个列表定义
func (bk *Bookkeeper) NewListHere(items ...annotation.SomeValue) (*annotation.List, error) {
	def := bk.GetListDef(false, false)
	for _, s := range items {
		if err := def.Generalize(s); err != nil {
			return nil, err
		}
	}
	return annotation.NewList(def), nil
}

// GetDictDef 当前位置的字典定义
func (bk *Bookkeeper) GetDictDef() *annotation.DictDef {
	pos := bk.positionOrZero()
	if def, ok := bk.dictdefs[pos]; ok && bk.Position != nil {
		return def
	}
	def := annotation.NewDictDef(bk, annotation.SImpossible, annotation.SImpossible, false, false)
	if bk.Position != nil {
		bk.dictdefs[pos] = def
	}
	return def
}

// NewDict 创建空字典注解
func (bk *Bookkeeper) NewDict() *annotation.Dict {
	return annotation.NewDict(annotation.NewDictDef(bk, annotation.SImpossible, annotation.SImpossible, false, false))
}

// ============================================================================
// 属性族
// ============================================================================

// PbcGetattr 读取 PBC 所有成员的属性，合并它们的属性族
func (bk *Bookkeeper) PbcGetattr(pbc *annotation.PBC, attr string) (annotation.SomeValue, error) {
	if len(pbc.Descs) == 0 {
		return annotation.SImpossible, nil
	}
	pos := bk.positionOrZero()
	switch first := pbc.Descs[0].(type) {
	case *FrozenDesc:
		for _, d := range pbc.Descs[1:] {
			if _, ok := d.(*FrozenDesc); !ok {
				return nil, errs.NewAnnotatorError(errs.A0001, "getattr %q on a mixed PBC %s", attr, pbc)
			}
			if _, _, _, err := bk.frozenAttrFamilies.Union(first, d); err != nil {
				return nil, err
			}
		}
		_, family := bk.frozenAttrFamilies.Find(first)
		family.ReadLocations.Insert(pos)
		actual := annotation.SImpossible
		for _, d := range pbc.Descs {
			s, err := d.(*FrozenDesc).SReadAttribute(attr)
			if err != nil {
				return nil, err
			}
			if actual, err = annotation.Union(actual, s); err != nil {
				return nil, err
			}
		}
		old := family.GetValue(attr)
		if err := family.SetValue(attr, actual); err != nil {
			return nil, err
		}
		if now := family.GetValue(attr); !annotation.Equal(old, now) {
			for _, loc := range family.ReadLocations.Slice() {
				if loc != pos {
					bk.ReflowFromPosition(loc)
				}
			}
		}
		return family.GetValue(attr), nil
	case *ClassDesc:
		uf := bk.ClassAttrFamilies(attr)
		for _, d := range pbc.Descs[1:] {
			if _, ok := d.(*ClassDesc); !ok {
				return nil, errs.NewAnnotatorError(errs.A0001, "getattr %q on a mixed PBC %s", attr, pbc)
			}
			if _, _, _, err := uf.Union(first, d); err != nil {
				return nil, err
			}
		}
		_, family := uf.Find(first)
		family.ReadLocations.Insert(pos)
		actual := family.Value
		for _, d := range pbc.Descs {
			s, err := d.(*ClassDesc).SReadAttribute(attr)
			if err != nil {
				return nil, err
			}
			if actual, err = annotation.Union(actual, s); err != nil {
				return nil, err
			}
		}
		if !annotation.Equal(actual, family.Value) {
			family.Value = actual
			for _, loc := range family.ReadLocations.Slice() {
				if loc != pos {
					bk.ReflowFromPosition(loc)
				}
			}
		}
		return family.Value, nil
	}
	return nil, errs.NewAnnotatorError(errs.A0007, "getattr %q on %s", attr, pbc)
}

// ClassAttrFamilies 属性名 attr 的类属性族
func (bk *Bookkeeper) ClassAttrFamilies(attr string) *UnionFind[annotation.Desc, *ClassAttrFamily] {
	uf, ok := bk.classAttrFamilies[attr]
	if !ok {
		uf = NewUnionFind[annotation.Desc, *ClassAttrFamily](func(d annotation.Desc) *ClassAttrFamily {
			return NewClassAttrFamily(attr, d)
		})
		bk.classAttrFamilies[attr] = uf
	}
	return uf
}

// FrozenAttrFamilies 冻结属性族集合
func (bk *Bookkeeper) FrozenAttrFamilies() *UnionFind[annotation.Desc, *FrozenAttrFamily] {
	return bk.frozenAttrFamilies
}

// ============================================================================
// 调用
// ============================================================================

func rowKey(d annotation.Desc) annotation.Desc {
	if c, ok := d.(Callable); ok {
		return c.RowKey()
	}
	return d
}

// CallFamilyOf 描述符所属的调用族
func (bk *Bookkeeper) CallFamilyOf(d annotation.Desc) *CallFamily {
	_, f := bk.callFamilies.Find(rowKey(d))
	return f
}

// CallFamilies 所有调用族
func (bk *Bookkeeper) CallFamilies() []*CallFamily {
	out := bk.callFamilies.Infos()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SortedDescs()[0].ID() < out[j].SortedDescs()[0].ID()
	})
	return out
}

func (bk *Bookkeeper) mergeCallFamilies(descs []annotation.Desc) error {
	if len(descs) == 0 {
		return nil
	}
	first := rowKey(descs[0])
	bk.callFamilies.Find(first)
	for _, d := range descs[1:] {
		if _, _, _, err := bk.callFamilies.Union(first, rowKey(d)); err != nil {
			return err
		}
	}
	return nil
}

// PbcCall 分析对 PBC 的调用；whence 为 nil 表示模拟调用
func (bk *Bookkeeper) PbcCall(pbc *annotation.PBC, args *CallArgs, whence *flowmodel.PositionKey) (annotation.SomeValue, error) {
	var op *flowmodel.SpaceOperation
	sPrev := annotation.SImpossible
	if whence != nil && whence.Block != nil {
		if whence.Index >= 0 && whence.Index < len(whence.Block.Operations) {
			op = whence.Block.Operations[whence.Index]
			if s := bk.annotator().Binding(op.Result); s != nil {
				sPrev = s
			}
		}
	}
	callables := make([]Callable, len(pbc.Descs))
	for i, d := range pbc.Descs {
		c, ok := d.(Callable)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "%s is not callable", d)
		}
		callables[i] = c
	}
	if err := bk.mergeCallFamilies(pbc.Descs); err != nil {
		return nil, err
	}
	results := make([]annotation.SomeValue, 0, len(callables))
	for _, c := range callables {
		s, err := c.Pycall(whence, args, sPrev, op)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return annotation.UnionOf(results...)
}

// EmulatePbcCall 模拟一次调用（不在任何流图中），key 相同的调用相互替换；
// callback 不为 nil 时，返回值变化会调用它
func (bk *Bookkeeper) EmulatePbcCall(key interface{}, s annotation.SomeValue, args []annotation.SomeValue, callback func()) (annotation.SomeValue, error) {
	pbc, ok := s.(*annotation.PBC)
	if !ok {
		if annotation.IsImpossible(s) {
			return annotation.SImpossible, nil
		}
		return nil, errs.NewAnnotatorError(errs.A0001, "emulated call of non-PBC %s", s)
	}
	if _, ok := bk.emulatedCalls[key]; !ok {
		bk.emulatedOrder = append(bk.emulatedOrder, key)
	}
	bk.emulatedCalls[key] = emulatedCall{pbc: pbc, args: args}
	var whence *flowmodel.PositionKey
	if callback != nil {
		bk.callbacks = append(bk.callbacks, callback)
		whence = &flowmodel.PositionKey{Index: -len(bk.callbacks)}
	}
	restore := bk.AtPosition(nil)
	defer restore()
	return bk.PbcCall(pbc, SimpleArgs(args...), whence)
}

// ConsiderCallSite 把一次调用登记到调用族的调用表
func (bk *Bookkeeper) ConsiderCallSite(pbc *annotation.PBC, args *CallArgs, sResult annotation.SomeValue, op *flowmodel.SpaceOperation) error {
	if len(pbc.Descs) == 0 {
		return nil
	}
	switch pbc.Descs[0].(type) {
	case *ClassDesc:
		descs := make([]*ClassDesc, len(pbc.Descs))
		for i, d := range pbc.Descs {
			cd, ok := d.(*ClassDesc)
			if !ok {
				return errs.NewAnnotatorError(errs.A0001, "mixing classes and other callables in %s", pbc)
			}
			descs[i] = cd
		}
		return bk.considerClassCallSite(descs, args, sResult, op)
	case *MethodDesc:
		return bk.considerFunctionCallSite(pbc.Descs, args, sResult, op, true)
	case *MethodOfFrozenDesc:
		return bk.considerFunctionCallSite(pbc.Descs, args, sResult, op, true)
	case *FunctionDesc:
		return bk.considerFunctionCallSite(pbc.Descs, args, sResult, op, false)
	}
	return errs.NewAnnotatorError(errs.A0001, "%s is not callable", pbc)
}

func (bk *Bookkeeper) considerFunctionCallSite(descs []annotation.Desc, args *CallArgs, _ annotation.SomeValue, op *flowmodel.SpaceOperation, isMethod bool) error {
	shape := args.Shape()
	if isMethod {
		shape.Count++
	}
	row := make(Row, len(descs))
	for _, d := range descs {
		gp, ok := d.(GraphProvider)
		if !ok {
			return errs.NewAnnotatorError(errs.A0001, "%s has no graph", d)
		}
		g, err := gp.GetGraph(args, op)
		if err != nil {
			return err
		}
		if g != nil {
			row[gp.RowKey()] = g
		}
	}
	if err := bk.mergeCallFamilies(descs); err != nil {
		return err
	}
	family := bk.CallFamilyOf(descs[0])
	family.TotalCallSites++
	if len(row) > 0 {
		family.AddRow(shape, row)
	}
	return nil
}

// ArgsOfCallOp 根据调用操作与注解构造实参；
// simple_call(f, a...) 或 call_args(f, shape, a...)
func ArgsOfCallOp(op *flowmodel.SpaceOperation, binding func(flowmodel.Hlvalue) annotation.SomeValue) (*CallArgs, error) {
	switch op.OpName {
	case "simple_call":
		args := make([]annotation.SomeValue, len(op.Args)-1)
		for i, a := range op.Args[1:] {
			args[i] = binding(a)
		}
		return SimpleArgs(args...), nil
	case "call_args":
		c, ok := op.Args[1].(*flowmodel.Constant)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "call_args without a constant shape: %s", op)
		}
		shape, ok := c.Value.(CallShape)
		if !ok {
			return nil, errs.NewAnnotatorError(errs.A0001, "call_args shape is %T", c.Value)
		}
		rest := op.Args[2:]
		var kws []string
		if shape.Keywords != "" {
			kws = strings.Split(shape.Keywords, ",")
		}
		need := shape.Count + len(kws)
		if shape.Star {
			need++
		}
		if len(rest) != need {
			return nil, errs.NewAnnotatorError(errs.A0001, "call_args shape %s does not match %d arguments", shape, len(rest))
		}
		args := &CallArgs{KwNames: kws}
		for _, a := range rest[:shape.Count] {
			args.Positional = append(args.Positional, binding(a))
		}
		for _, a := range rest[shape.Count : shape.Count+len(kws)] {
			args.KwValues = append(args.KwValues, binding(a))
		}
		if shape.Star {
			args.Star = binding(rest[len(rest)-1])
		}
		return args, nil
	}
	return nil, fmt.Errorf("%s is not a call operation", op.OpName)
}

// ComputeAtFixpoint 推断到达不动点后，为所有调用点和模拟调用建立调用表
func (bk *Bookkeeper) ComputeAtFixpoint() error {
	restore := bk.AtPosition(nil)
	defer restore()
	ann := bk.annotator()
	for _, pos := range ann.CallSites() {
		op := pos.Block.Operations[pos.Index]
		pbc, ok := ann.Binding(op.Args[0]).(*annotation.PBC)
		if !ok {
			continue
		}
		args, err := ArgsOfCallOp(op, ann.Binding)
		if err != nil {
			return err
		}
		sResult := ann.Binding(op.Result)
		if sResult == nil {
			sResult = annotation.SImpossible
		}
		p := pos
		bk.Position = &p
		if err := bk.ConsiderCallSite(pbc, args, sResult, op); err != nil {
			return PositionError(err, pos)
		}
		bk.Position = nil
	}
	for _, key := range bk.emulatedOrder {
		call, ok := bk.emulatedCalls[key]
		if !ok {
			continue
		}
		if err := bk.ConsiderCallSite(call.pbc, SimpleArgs(call.args...), annotation.SImpossible, nil); err != nil {
			return err
		}
	}
	bk.emulatedCalls = make(map[interface{}]emulatedCall)
	bk.emulatedOrder = nil
	return nil
}

// ============================================================================
// 参数类型声明
// ============================================================================

// SpecToAnnotation 类型描述对应的注解；SpecAny 返回 nil
func (bk *Bookkeeper) SpecToAnnotation(spec program.TypeSpec) (annotation.SomeValue, error) {
	return bk.specToAnnotation(spec)
}

func (bk *Bookkeeper) specToAnnotation(spec program.TypeSpec) (annotation.SomeValue, error) {
	switch spec.Kind {
	case program.SpecAny:
		return nil, nil
	case program.SpecInt:
		return annotation.NewInteger(false), nil
	case program.SpecFloat:
		return annotation.NewFloat(), nil
	case program.SpecBool:
		return annotation.NewBool(), nil
	case program.SpecStr:
		return annotation.NewString(spec.Nullable, spec.NoNul), nil
	case program.SpecUnicode:
		return annotation.NewUnicode(spec.Nullable, spec.NoNul), nil
	case program.SpecChar:
		return annotation.NewChar(spec.NoNul), nil
	case program.SpecNone:
		return annotation.SNone, nil
	case program.SpecInstance:
		cd, err := bk.GetUniqueClassDef(spec.Class)
		if err != nil {
			return nil, err
		}
		return annotation.NewInstance(cd, spec.Nullable, nil), nil
	case program.SpecList:
		item := annotation.SomeValue(annotation.SObject)
		if spec.Item != nil {
			s, err := bk.specToAnnotation(*spec.Item)
			if err != nil {
				return nil, err
			}
			if s != nil {
				item = s
			}
		}
		return annotation.NewList(annotation.NewListDef(bk, item, false, false)), nil
	case program.SpecDict:
		key, value := annotation.SomeValue(annotation.SObject), annotation.SomeValue(annotation.SObject)
		if spec.Key != nil {
			s, err := bk.specToAnnotation(*spec.Key)
			if err != nil {
				return nil, err
			}
			if s != nil {
				key = s
			}
		}
		if spec.Item != nil {
			s, err := bk.specToAnnotation(*spec.Item)
			if err != nil {
				return nil, err
			}
			if s != nil {
				value = s
			}
		}
		return annotation.NewDict(annotation.NewDictDef(bk, key, value, false, false)), nil
	}
	return nil, errs.NewAnnotatorError(errs.A0103, "unknown type spec %s", spec)
}

// enforceArgs 检查并替换被声明类型的参数；列表与字典只检查元素，
// 保留实参自己的列表定义
func (bk *Bookkeeper) enforceArgs(d *FunctionDesc, specs []program.TypeSpec, cells []annotation.SomeValue) error {
	if len(specs) > len(cells) {
		return errs.NewAnnotatorError(errs.A0103, "%s: %d argument types declared for %d arguments", d.Name, len(specs), len(cells))
	}
	for i, spec := range specs {
		actual := cells[i]
		switch spec.Kind {
		case program.SpecAny:
			continue
		case program.SpecList:
			l, ok := actual.(*annotation.List)
			if !ok {
				return argMismatch(d, i, spec, actual)
			}
			if spec.Item != nil {
				if err := bk.checkItem(d, i, *spec.Item, l.Def.Item().Value); err != nil {
					return err
				}
			}
			continue
		case program.SpecDict:
			dd, ok := actual.(*annotation.Dict)
			if !ok {
				return argMismatch(d, i, spec, actual)
			}
			if spec.Key != nil {
				if err := bk.checkItem(d, i, *spec.Key, dd.Def.Key().Value); err != nil {
					return err
				}
			}
			if spec.Item != nil {
				if err := bk.checkItem(d, i, *spec.Item, dd.Def.Value().Value); err != nil {
					return err
				}
			}
			continue
		}
		expected, err := bk.specToAnnotation(spec)
		if err != nil {
			return err
		}
		if !annotation.Contains(expected, actual) {
			return argMismatch(d, i, spec, actual)
		}
		cells[i] = expected
	}
	return nil
}

func (bk *Bookkeeper) checkItem(d *FunctionDesc, i int, spec program.TypeSpec, item annotation.SomeValue) error {
	expected, err := bk.specToAnnotation(spec)
	if err != nil || expected == nil {
		return err
	}
	if _, isList := expected.(*annotation.List); isList {
		if _, ok := item.(*annotation.List); ok || annotation.IsImpossible(item) {
			return nil
		}
	} else if _, isDict := expected.(*annotation.Dict); isDict {
		if _, ok := item.(*annotation.Dict); ok || annotation.IsImpossible(item) {
			return nil
		}
	} else if annotation.Contains(expected, item) {
		return nil
	}
	return errs.NewAnnotatorError(errs.A0103, "%s argument %d: items expected %s, got %s", d.Name, i, spec, item)
}

func argMismatch(d *FunctionDesc, i int, spec program.TypeSpec, actual annotation.SomeValue) error {
	return errs.NewAnnotatorError(errs.A0103, "%s argument %d:\nexpected %s,\n     got %s", d.Name, i, spec, actual)
}

// PositionError 给注解器错误附加操作位置
func PositionError(err error, pos flowmodel.PositionKey) error {
	ae, ok := err.(*errs.AnnotatorError)
	if !ok || pos.Graph == nil || pos.Block == nil {
		return err
	}
	return ae.At(errs.Position{Graph: pos.Graph.Name, Block: pos.Block.ID, Op: pos.Index})
}
