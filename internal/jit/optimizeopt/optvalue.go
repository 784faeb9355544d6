// optvalue.go - 优化器对每个值的认识
package optimizeopt

import (
	"github.com/tangzhangming/solatrans/internal/jit/history"
	"github.com/tangzhangming/solatrans/internal/jit/resume"
)

// Level 对值的认识程度
type Level int

const (
	LEVEL_UNKNOWN Level = iota
	LEVEL_NONNULL
	LEVEL_KNOWNCLASS
	LEVEL_CONSTANT
)

// emitFunc 把操作交给某个优化的下游
type emitFunc func(op *history.ResOp) error

// virtualValue 尚未分配的对象
type virtualValue interface {
	// forceInto 发出分配与初始化操作，把 v.box 设为分配结果
	forceInto(opt *Optimizer, v *OptValue, emit emitFunc) error
	// shape 守卫处保存的形状
	shape(opt *Optimizer, v *OptValue) *resume.Shape
}

// OptValue 一个 box 或常量在优化过程中的状态
//
// 多个 box 被证明相等时共享同一个 OptValue，所以 OptValue 的指针相等
// 就是值相等。
type OptValue struct {
	box        history.Value
	keybox     history.Value
	level      Level
	knownClass *history.ClassObj
	intBound   *IntBound
	lenBound   *IntBound
	virt       virtualValue
}

func newOptValue(v history.Value) *OptValue {
	val := &OptValue{box: v, keybox: v}
	switch c := v.(type) {
	case history.ConstInt:
		val.level = LEVEL_CONSTANT
		val.intBound = NewIntBound(c.Value, c.Value)
	case history.ConstFloat:
		val.level = LEVEL_CONSTANT
	case history.ConstPtr:
		val.level = LEVEL_CONSTANT
		if s, ok := c.Value.(*history.StructObj); ok {
			val.knownClass = s.Class
		}
	default:
		if v.Type() == history.INT {
			val.intBound = Unbounded()
		}
	}
	return val
}

func newVirtualValue(keybox *history.Box, virt virtualValue, level Level) *OptValue {
	return &OptValue{keybox: keybox, level: level, virt: virt}
}

// Box 当前表示；虚拟对象尚未分配时为 nil
func (v *OptValue) Box() history.Value { return v.box }

// KeyBox 标识该值的 box，虚拟对象也有
func (v *OptValue) KeyBox() history.Value { return v.keybox }

func (v *OptValue) IsConstant() bool { return v.level == LEVEL_CONSTANT }
func (v *OptValue) IsVirtual() bool  { return v.virt != nil && v.box == nil }

// IsNonNull 引用一定不为空
func (v *OptValue) IsNonNull() bool {
	if v.IsConstant() {
		switch c := v.box.(type) {
		case history.ConstPtr:
			return c.NonNull()
		case history.ConstInt:
			return c.Value != 0
		}
		return true
	}
	return v.level >= LEVEL_NONNULL
}

// IsNull 引用一定为空
func (v *OptValue) IsNull() bool {
	if c, ok := v.box.(history.ConstPtr); ok && v.IsConstant() {
		return !c.NonNull()
	}
	return false
}

// EnsureNonNull 记下该引用不为空
func (v *OptValue) EnsureNonNull() {
	if v.level < LEVEL_NONNULL {
		v.level = LEVEL_NONNULL
	}
}

// KnownClass 已知的类
func (v *OptValue) KnownClass() *history.ClassObj {
	if v.level >= LEVEL_KNOWNCLASS {
		return v.knownClass
	}
	return nil
}

// MakeKnownClass 记下该值的类
func (v *OptValue) MakeKnownClass(c *history.ClassObj) {
	if v.level < LEVEL_KNOWNCLASS {
		v.level = LEVEL_KNOWNCLASS
		v.knownClass = c
	}
}

// MakeConstant 值被证明等于常量 c
func (v *OptValue) MakeConstant(c history.Value) {
	v.box = c
	v.level = LEVEL_CONSTANT
	v.virt = nil
	if ci, ok := c.(history.ConstInt); ok {
		v.intBound = NewIntBound(ci.Value, ci.Value)
	}
	if p, ok := c.(history.ConstPtr); ok {
		if s, ok := p.Value.(*history.StructObj); ok {
			v.knownClass = s.Class
		}
	}
}

// ConstInt 整数常量的值
func (v *OptValue) ConstInt() (int64, bool) {
	if !v.IsConstant() {
		return 0, false
	}
	return history.IntValue(v.box)
}

// IntBound 整数区间；非整数值返回一个不受限的新区间
func (v *OptValue) IntBound() *IntBound {
	if v.intBound == nil {
		v.intBound = Unbounded()
	}
	return v.intBound
}

// MakeLenGt 记下数组或字符串长度大于 n
func (v *OptValue) MakeLenGt(n int64) {
	if v.lenBound == nil {
		v.lenBound = LowerBound(0)
	}
	v.lenBound.MakeGt(NewIntBound(n, n))
}

// LenBound 长度区间
func (v *OptValue) LenBound() *IntBound {
	if v.lenBound == nil {
		v.lenBound = LowerBound(0)
	}
	return v.lenBound
}

// ForceBox 虚拟对象在这里被分配；之后 box 被锁定，重复使用共享同一个分配结果
func (v *OptValue) ForceBox(opt *Optimizer, emit emitFunc) (history.Value, error) {
	if v.box != nil {
		return v.box, nil
	}
	if err := v.virt.forceInto(opt, v, emit); err != nil {
		return nil, err
	}
	return v.box, nil
}

// SameValue 两个值是否静态相同
func (v *OptValue) SameValue(other *OptValue) bool {
	if other == nil {
		return false
	}
	if v == other {
		return true
	}
	if v.IsConstant() && other.IsConstant() {
		return history.Same(v.box, other.box)
	}
	return false
}
