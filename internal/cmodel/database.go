// Package cmodel 是 C 输出前的容器图数据库
//
// 数据库从类型化器产出的入口函数和预构建常量出发，
// 沿指针把所有可达的容器、函数与类型收集起来：
//   - 每个容器类型一个定义节点，GC 头与 GC 元数据由策略填入；
//   - 每个预构建对象一个容器节点（内嵌子结构归到最外层对象）；
//   - 每个函数一个函数节点。
//
// 收集完成后 C 输出只读取节点，不再调用 GC 策略。
package cmodel

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/lltype"
	"github.com/tangzhangming/solatrans/internal/rffi"
)

// Database 容器图数据库
type Database struct {
	gc   gcpolicy.Policy
	rtti map[*lltype.Struct]*gcpolicy.RTTI
	log  *zap.Logger

	defs       map[lltype.ContainerType]gcpolicy.DefNode
	defOrder   []gcpolicy.DefNode
	containers map[*lltype.Container]*ContainerNode
	contOrder  []*ContainerNode
	funcs      map[*lltype.Container]*FuncNode
	funcOrder  []*FuncNode
	names      map[string]int

	pending  []*lltype.PtrValue
	eci      []*rffi.ExternalCompilationInfo
	complete bool
}

// NewDatabase 创建数据库；rtti 是类型化器为带终结器的结构体生成的信息
func NewDatabase(policy gcpolicy.Policy, rtti map[*lltype.Struct]*gcpolicy.RTTI, log *zap.Logger) *Database {
	if log == nil {
		log = zap.NewNop()
	}
	return &Database{
		gc:         policy,
		rtti:       rtti,
		log:        log.Named("cmodel"),
		defs:       make(map[lltype.ContainerType]gcpolicy.DefNode),
		containers: make(map[*lltype.Container]*ContainerNode),
		funcs:      make(map[*lltype.Container]*FuncNode),
		names:      make(map[string]int),
	}
}

func (db *Database) uniqueName(base string) string {
	base = cIdent(base)
	n := db.names[base]
	db.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// cIdent 把任意名字变成合法的 C 标识符
func cIdent(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// ============================================================================
// 类型
// ============================================================================

// TypeName 低层类型在 C 中的名字
func (db *Database) TypeName(t lltype.Type) (string, error) {
	switch x := lltype.Resolve(t).(type) {
	case *lltype.Primitive:
		return primitiveName(x), nil
	case *lltype.Ptr:
		if ft, ok := lltype.Resolve(x.To).(*lltype.FuncType); ok {
			return db.funcTypeName(ft)
		}
		def, err := db.GetDefNode(x.To)
		if err != nil {
			return "", err
		}
		return defCName(def) + " *", nil
	case lltype.ContainerType:
		def, err := db.GetDefNode(x)
		if err != nil {
			return "", err
		}
		return defCName(def), nil
	}
	return "", fmt.Errorf("no C name for %s", t)
}

func primitiveName(p *lltype.Primitive) string {
	switch p.Class {
	case lltype.ClassVoid:
		return "void"
	case lltype.ClassBool:
		return "bool_t"
	case lltype.ClassChar:
		return "char"
	case lltype.ClassUniChar:
		return "Py_UCS4"
	case lltype.ClassFloat:
		if p.Bits == 32 {
			return "float"
		}
		return "double"
	case lltype.ClassAddress:
		return "void*"
	}
	if p.Signed {
		if p.Bits == 64 {
			return "Signed"
		}
		return fmt.Sprintf("int%d_t", p.Bits)
	}
	if p.Bits == 64 {
		return "Unsigned"
	}
	return fmt.Sprintf("uint%d_t", p.Bits)
}

func (db *Database) funcTypeName(ft *lltype.FuncType) (string, error) {
	res, err := db.TypeName(ft.Result)
	if err != nil {
		return "", err
	}
	args := make([]string, len(ft.Args))
	for i, a := range ft.Args {
		if args[i], err = db.TypeName(a); err != nil {
			return "", err
		}
	}
	if len(args) == 0 {
		args = []string{"void"}
	}
	return fmt.Sprintf("%s (*)(%s)", res, strings.Join(args, ", ")), nil
}

func defCName(def gcpolicy.DefNode) string {
	switch n := def.(type) {
	case *StructDefNode:
		return n.CName
	case *ArrayDefNode:
		return n.CName
	case *FixedArrayDefNode:
		return n.CName
	case *OpaqueDefNode:
		return n.CName
	}
	return "void"
}

// GetDefNode 容器类型的定义节点，第一次请求时创建并交给 GC 策略设置
func (db *Database) GetDefNode(t lltype.ContainerType) (gcpolicy.DefNode, error) {
	t = lltype.Resolve(t).(lltype.ContainerType)
	if def, ok := db.defs[t]; ok {
		return def, nil
	}
	var def gcpolicy.DefNode
	switch x := t.(type) {
	case *lltype.Struct:
		n := &StructDefNode{T: x, CName: "struct " + db.uniqueName("pypy_"+x.Name), VarLength: x.IsVarSized()}
		// 先登记，自引用的结构体才能取到自己的名字
		db.defs[t] = n
		if x.IsGC() {
			n.GCHeader = db.gc.StructGCHeaderDefinition(n)
		}
		for _, f := range x.Fields {
			if f.Type == lltype.Void {
				continue
			}
			ct, err := db.TypeName(f.Type)
			if err != nil {
				delete(db.defs, t)
				return nil, err
			}
			n.Fields = append(n.Fields, FieldDef{Name: "s_" + f.Name, CType: ct})
		}
		if x.IsGC() {
			if err := db.gc.StructSetup(n, db.rtti[x]); err != nil {
				return nil, err
			}
		}
		def = n
	case *lltype.Array:
		n := &ArrayDefNode{T: x, CName: "struct " + db.uniqueName("pypy_array_"+itemTag(x.Of))}
		db.defs[t] = n
		item, err := db.TypeName(x.Of)
		if err != nil {
			delete(db.defs, t)
			return nil, err
		}
		n.ItemType = item
		if x.IsGC() {
			n.GCHeader = db.gc.ArrayGCHeaderDefinition(n)
			if err := db.gc.ArraySetup(n); err != nil {
				return nil, err
			}
		}
		def = n
	case *lltype.FixedArray:
		item, err := db.TypeName(x.Of)
		if err != nil {
			return nil, err
		}
		def = &FixedArrayDefNode{T: x, CName: db.uniqueName(fmt.Sprintf("pypy_fixarray%d_%s", x.Length, itemTag(x.Of))), ItemType: item}
	case *lltype.Opaque:
		def = &OpaqueDefNode{T: x, CName: "struct " + db.uniqueName("pypy_opaque_"+x.Tag)}
	case *lltype.WeakRef:
		n := &OpaqueDefNode{T: x, CName: "struct pypy_weakref"}
		if ws, ok := db.gc.(interface{ WeakRefSetup(gcpolicy.DefNode) }); ok {
			ws.WeakRefSetup(n)
		}
		def = n
	default:
		return nil, fmt.Errorf("no definition node for %s", t)
	}
	db.defs[t] = def
	db.defOrder = append(db.defOrder, def)
	return def, nil
}

func itemTag(t lltype.Type) string {
	switch x := lltype.Resolve(t).(type) {
	case *lltype.Primitive:
		return x.Name
	case *lltype.Ptr:
		return "ptr_" + itemTag(x.To)
	case *lltype.Struct:
		return x.Name
	}
	return "item"
}

// ============================================================================
// 容器与函数
// ============================================================================

// AddFunction 登记一个函数指针；有流图的函数沿常量继续收集
func (db *Database) AddFunction(p *lltype.PtrValue) {
	db.pending = append(db.pending, p)
	db.complete = false
}

// AddConstant 登记一个预构建常量
func (db *Database) AddConstant(p *lltype.PtrValue) {
	if p.IsNull() {
		return
	}
	db.pending = append(db.pending, p)
	db.complete = false
}

// AddCompilationInfo 登记组件需要的外部编译信息
func (db *Database) AddCompilationInfo(eci *rffi.ExternalCompilationInfo) {
	if !eci.IsEmpty() {
		db.eci = append(db.eci, eci)
	}
}

// Complete 收集所有可达节点，直到没有新的依赖
func (db *Database) Complete() error {
	for len(db.pending) > 0 {
		p := db.pending[0]
		db.pending = db.pending[1:]
		if err := db.visit(p); err != nil {
			return err
		}
	}
	db.complete = true
	db.log.Info("database complete",
		zap.Int("types", len(db.defOrder)),
		zap.Int("containers", len(db.contOrder)),
		zap.Int("functions", len(db.funcOrder)))
	return nil
}

func (db *Database) visit(p *lltype.PtrValue) error {
	if p.IsNull() {
		return nil
	}
	if ft, ok := lltype.Resolve(p.Obj.Type).(*lltype.FuncType); ok {
		return db.visitFunc(p, ft)
	}
	obj := p.Obj.Top()
	if _, ok := db.containers[obj]; ok {
		return nil
	}
	def, err := db.GetDefNode(obj.Type)
	if err != nil {
		return err
	}
	node := &ContainerNode{Obj: obj, Def: def, Name: db.uniqueName("pypy_g_" + containerTag(obj))}
	if obj.Type.IsGC() {
		switch d := def.(type) {
		case *StructDefNode:
			if d.GCHeader != nil {
				node.Header = db.gc.StructGCHeaderInitData(def)
			}
		case *ArrayDefNode:
			if d.GCHeader != nil {
				node.Header = db.gc.ArrayGCHeaderInitData(def)
			}
		}
	}
	db.containers[obj] = node
	db.contOrder = append(db.contOrder, node)
	db.pending = append(db.pending, containerDeps(obj)...)
	return nil
}

func containerTag(obj *lltype.Container) string {
	switch x := lltype.Resolve(obj.Type).(type) {
	case *lltype.Struct:
		return x.Name
	case *lltype.Array:
		return "array"
	}
	return "obj"
}

func (db *Database) visitFunc(p *lltype.PtrValue, ft *lltype.FuncType) error {
	if _, ok := db.funcs[p.Obj]; ok {
		return nil
	}
	node := &FuncNode{Name: db.uniqueName("pypy_f_" + p.Obj.Name), Type: ft}
	if g, ok := p.Obj.Graph.(*flowmodel.FunctionGraph); ok {
		node.Graph = g
	}
	db.funcs[p.Obj] = node
	db.funcOrder = append(db.funcOrder, node)
	for _, a := range ft.Args {
		if _, err := db.TypeName(a); err != nil {
			return err
		}
	}
	if _, err := db.TypeName(ft.Result); err != nil {
		return err
	}
	if node.Graph != nil {
		db.pending = append(db.pending, graphDeps(node.Graph)...)
	}
	return nil
}

// ============================================================================
// 查询
// ============================================================================

// DefNodes 按创建顺序的类型定义节点
func (db *Database) DefNodes() []gcpolicy.DefNode { return db.defOrder }

// ContainerNodes 按发现顺序的容器节点
func (db *Database) ContainerNodes() []*ContainerNode { return db.contOrder }

// FuncNodes 按发现顺序的函数节点
func (db *Database) FuncNodes() []*FuncNode { return db.funcOrder }

// ContainerNodeOf 指针指向的容器所在的节点
func (db *Database) ContainerNodeOf(p *lltype.PtrValue) (*ContainerNode, bool) {
	if p.IsNull() {
		return nil, false
	}
	n, ok := db.containers[p.Obj.Top()]
	return n, ok
}

// CompilationInfo 合并 GC 策略与各组件的外部编译信息
func (db *Database) CompilationInfo() *rffi.ExternalCompilationInfo {
	return db.gc.CompilationInfo().Merge(db.eci...)
}

// StartupCode GC 启动代码片段
func (db *Database) StartupCode() []string { return db.gc.GCStartupCode() }

// ExternalFunctions 只有声明的函数名，排序
func (db *Database) ExternalFunctions() []string {
	var out []string
	for _, f := range db.funcOrder {
		if f.External() {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}
