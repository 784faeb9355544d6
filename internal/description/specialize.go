// specialize.go - 特化策略
//
// 函数的 SpecialCase 标签选择特化器，特化器决定同一个函数的不同调用
// 是否共享流图：
//
//	default          一个流图（带 access_directly 标志的实例另开一份）
//	memo             编译期对所有常量参数组合求值，结果是注解而不是流图
//	arg(i...)        按第 i 个参数的常量值分流图
//	argtype(i...)    按第 i 个参数的类型分流图
//	arg_or_var(i...) 常量参数按值分，非常量参数共享一份
//	ll_and_arg(i)    低层辅助函数：按参数类型 + 第 i 个参数的值分
//	call_location    每个调用点一份
//	override:name    由策略中注册的函数直接给出结果注解
package description

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tangzhangming/solatrans/internal/annotation"
	errs "github.com/tangzhangming/solatrans/internal/errors"
	"github.com/tangzhangming/solatrans/internal/flowmodel"
	"github.com/tangzhangming/solatrans/internal/program"
)

// SpecResult 特化结果：流图或直接的注解
type SpecResult struct {
	Graph *flowmodel.FunctionGraph
	Value annotation.SomeValue
}

// Specializer 特化器
type Specializer func(d *FunctionDesc, cells []annotation.SomeValue, op *flowmodel.SpaceOperation, params []string) (SpecResult, error)

// OverrideFunc 直接给出调用结果的覆盖函数
type OverrideFunc func(bk *Bookkeeper, cells []annotation.SomeValue) (annotation.SomeValue, error)

// Policy 注解策略：特化器表与覆盖表
type Policy struct {
	specializers map[string]Specializer
	overrides    map[string]OverrideFunc
	// DefaultTag 没有 SpecialCase 时使用的特化器
	DefaultTag string
}

// NewPolicy 创建带内建特化器的策略
func NewPolicy() *Policy {
	p := &Policy{
		specializers: make(map[string]Specializer),
		overrides:    make(map[string]OverrideFunc),
		DefaultTag:   "default",
	}
	p.Register("default", DefaultSpecialize)
	p.Register("memo", MemoSpecialize)
	p.Register("arg", ArgValueSpecialize)
	p.Register("argtype", ArgTypeSpecialize)
	p.Register("arg_or_var", ArgOrVarSpecialize)
	p.Register("ll_and_arg", LLAndArgSpecialize)
	p.Register("call_location", CallLocationSpecialize)
	p.Register("override", p.overrideSpecialize)
	return p
}

// Register 注册特化器
func (p *Policy) Register(name string, s Specializer) {
	p.specializers[name] = s
}

// RegisterOverride 注册 override:name
func (p *Policy) RegisterOverride(name string, f OverrideFunc) {
	p.overrides[name] = f
}

// GetSpecializer 解析 "specialize:arg(0, 1)" 这样的标签
func (p *Policy) GetSpecializer(tag string) (Specializer, []string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = p.DefaultTag
	}
	var kind, name string
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		kind, name = tag[:i], tag[i+1:]
	} else {
		kind, name = "specialize", tag
	}
	var params []string
	if i := strings.IndexByte(name, '('); i >= 0 {
		if !strings.HasSuffix(name, ")") {
			return nil, nil, errs.NewAnnotatorError(errs.A0008, "broken specialize directive parms: %s", tag)
		}
		for _, part := range strings.Split(name[i+1:len(name)-1], ",") {
			if part = strings.TrimSpace(part); part != "" {
				params = append(params, part)
			}
		}
		name = name[:i]
	}
	switch kind {
	case "specialize":
	case "override":
		params = append([]string{name}, params...)
		name = "override"
	default:
		return nil, nil, errs.NewAnnotatorError(errs.A0008, "unknown directive kind %q in %s", kind, tag)
	}
	s, ok := p.specializers[name]
	if !ok {
		return nil, nil, errs.NewAnnotatorError(errs.A0008, "%q specialize tag not defined in annotation policy", name)
	}
	return s, params, nil
}

func (p *Policy) overrideSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, params []string) (SpecResult, error) {
	f, ok := p.overrides[params[0]]
	if !ok {
		return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "no override %q registered", params[0])
	}
	s, err := f(d.bk, cells)
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Value: s}, nil
}

func parseIndices(d *FunctionDesc, params []string, n int) ([]int, error) {
	out := make([]int, 0, len(params))
	for _, p := range params {
		i, err := strconv.Atoi(p)
		if err != nil || i < 0 || i >= n {
			return nil, errs.NewAnnotatorError(errs.A0008, "%s: bad argument index %q", d.Name, p)
		}
		out = append(out, i)
	}
	return out, nil
}

// ConstKey 常量值作为特化键的稳定表示
func ConstKey(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return strconv.Quote(x)
	case bool, int, int64, uint64, float64, byte, rune:
		return fmt.Sprintf("%v", x)
	case fmt.Stringer:
		return fmt.Sprintf("%s@%p", x, v)
	}
	return fmt.Sprintf("%T@%p", v, v)
}

func variantName(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteString("_")
		}
		for _, r := range p {
			if r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

// DefaultSpecialize 默认特化
func DefaultSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, _ []string) (SpecResult, error) {
	key := ""
	for i, s := range cells {
		inst, ok := s.(*annotation.Instance)
		if !ok || !inst.Flags["access_directly"] {
			continue
		}
		if d.Func.SpecTag() == "dont_look_inside" {
			flags := make(map[string]bool)
			for k, v := range inst.Flags {
				if k != "access_directly" {
					flags[k] = v
				}
			}
			cells[i] = annotation.NewInstance(inst.ClassDef, inst.Nullable, flags)
			continue
		}
		key = "AccessDirect"
		break
	}
	g, err := d.CachedGraph(key, variantName([]string{key}))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// ArgValueSpecialize 按参数常量值特化
func ArgValueSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, params []string) (SpecResult, error) {
	idx, err := parseIndices(d, params, len(cells))
	if err != nil {
		return SpecResult{}, err
	}
	parts := make([]string, len(idx))
	for k, i := range idx {
		if !cells[i].IsConstant() {
			return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "specialize:arg(%d) of %s: argument is not constant: %s", i, d.Name, cells[i])
		}
		parts[k] = ConstKey(cells[i].Const())
	}
	g, err := d.CachedGraph("arg:"+strings.Join(parts, ","), variantName(parts))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// ArgOrVarSpecialize 常量参数按值特化，变量参数共享
func ArgOrVarSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, params []string) (SpecResult, error) {
	idx, err := parseIndices(d, params, len(cells))
	if err != nil {
		return SpecResult{}, err
	}
	parts := make([]string, len(idx))
	for k, i := range idx {
		if cells[i].IsConstant() {
			parts[k] = ConstKey(cells[i].Const())
		} else {
			parts[k] = "var"
		}
	}
	g, err := d.CachedGraph("argvar:"+strings.Join(parts, ","), variantName(parts))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// ArgTypeSpecialize 按参数类型特化
func ArgTypeSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, params []string) (SpecResult, error) {
	idx, err := parseIndices(d, params, len(cells))
	if err != nil {
		return SpecResult{}, err
	}
	if len(params) == 0 {
		idx = make([]int, len(cells))
		for i := range cells {
			idx[i] = i
		}
	}
	parts := make([]string, len(idx))
	for k, i := range idx {
		parts[k] = annotation.KnownType(cells[i])
	}
	g, err := d.CachedGraph("argtype:"+strings.Join(parts, ","), variantName(parts))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// LLAndArgSpecialize 低层辅助函数：所有参数的类型加上第 i 个参数的值
func LLAndArgSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, params []string) (SpecResult, error) {
	idx, err := parseIndices(d, params, len(cells))
	if err != nil {
		return SpecResult{}, err
	}
	parts := make([]string, 0, len(cells)+len(idx))
	for _, s := range cells {
		parts = append(parts, annotation.KnownType(s))
	}
	for _, i := range idx {
		if !cells[i].IsConstant() {
			return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "specialize:ll_and_arg(%d) of %s: argument is not constant", i, d.Name)
		}
		parts = append(parts, ConstKey(cells[i].Const()))
	}
	g, err := d.CachedGraph("ll:"+strings.Join(parts, ","), variantName(parts))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// CallLocationSpecialize 每个调用点一份流图
func CallLocationSpecialize(d *FunctionDesc, _ []annotation.SomeValue, op *flowmodel.SpaceOperation, _ []string) (SpecResult, error) {
	if op == nil {
		return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "specialize:call_location of %s needs a call site", d.Name)
	}
	key := fmt.Sprintf("loc:%p", op)
	g, err := d.CachedGraph(key, fmt.Sprintf("at_%d", len(d.cacheOrder)))
	if err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Graph: g}, nil
}

// MemoSpecialize 编译期求值：每个参数必须是常量、bool 或有限的 PBC，
// 对所有组合调用 Impl，结果注解取并
func MemoSpecialize(d *FunctionDesc, cells []annotation.SomeValue, _ *flowmodel.SpaceOperation, _ []string) (SpecResult, error) {
	if d.Func.Impl == nil {
		return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "specialize:memo of %s needs a compile-time implementation", d.Name)
	}
	choices := make([][]interface{}, len(cells))
	for i, s := range cells {
		switch v := s.(type) {
		case *annotation.PBC:
			for _, desc := range v.Descs {
				choices[i] = append(choices[i], desc.PyObj())
			}
			if v.Nullable {
				choices[i] = append(choices[i], program.None)
			}
		case *annotation.Bool:
			if v.IsConstant() {
				choices[i] = []interface{}{v.Const()}
			} else {
				choices[i] = []interface{}{false, true}
			}
		default:
			if !s.IsConstant() {
				return SpecResult{}, errs.NewAnnotatorError(errs.A0008, "specialize:memo of %s: argument %d is not a constant or PBC: %s", d.Name, i, s)
			}
			choices[i] = []interface{}{s.Const()}
		}
	}
	if d.MemoTables == nil {
		d.MemoTables = make(map[string]annotation.SomeValue)
	}
	result := annotation.SImpossible
	combo := make([]interface{}, len(cells))
	var walk func(i int) error
	walk = func(i int) error {
		if i == len(cells) {
			keys := make([]string, len(combo))
			for k, v := range combo {
				keys[k] = ConstKey(v)
			}
			key := strings.Join(keys, ",")
			s, ok := d.MemoTables[key]
			if !ok {
				v, err := d.Func.Impl(combo...)
				if err != nil {
					return fmt.Errorf("memo %s%v: %w", d.Name, combo, err)
				}
				if s, err = d.bk.ImmutableValue(v); err != nil {
					return err
				}
				d.MemoTables[key] = s
			}
			u, err := annotation.Union(result, s)
			if err != nil {
				return err
			}
			result = u
			return nil
		}
		for _, c := range choices[i] {
			combo[i] = c
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return SpecResult{}, err
	}
	return SpecResult{Value: result}, nil
}

// MemoKeys memo 表中已求值的参数组合（排序）
func (d *FunctionDesc) MemoKeys() []string {
	out := make([]string, 0, len(d.MemoTables))
	for k := range d.MemoTables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
