// effectinfo.go - 调用的副作用描述
package history

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// ExtraEffect 副作用等级；数值越大副作用越强
type ExtraEffect int

const (
	EF_ELIDABLE_CANNOT_RAISE ExtraEffect = iota
	EF_LOOPINVARIANT
	EF_CANNOT_RAISE
	EF_ELIDABLE_OR_MEMORYERROR
	EF_ELIDABLE_CAN_RAISE
	EF_CAN_RAISE
	EF_FORCES_VIRTUAL_OR_VIRTUALIZABLE
	EF_RANDOM_EFFECTS
)

// OopSpecIndex 优化器能识别的特殊调用
type OopSpecIndex int

const (
	OS_NONE         OopSpecIndex = 0
	OS_ARRAYCOPY    OopSpecIndex = 1
	OS_STR2UNICODE  OopSpecIndex = 2
	OS_SHRINK_ARRAY OopSpecIndex = 3
	OS_DICT_LOOKUP  OopSpecIndex = 4

	OS_STR_CONCAT            OopSpecIndex = 22
	OS_STR_SLICE             OopSpecIndex = 23
	OS_STR_EQUAL             OopSpecIndex = 24
	OS_STREQ_SLICE_CHECKNULL OopSpecIndex = 25
	OS_STREQ_SLICE_NONNULL   OopSpecIndex = 26
	OS_STREQ_SLICE_CHAR      OopSpecIndex = 27
	OS_STREQ_NONNULL         OopSpecIndex = 28
	OS_STREQ_NONNULL_CHAR    OopSpecIndex = 29
	OS_STREQ_CHECKNULL_CHAR  OopSpecIndex = 30
	OS_STREQ_LENGTHOK        OopSpecIndex = 31
	OS_STR_CMP               OopSpecIndex = 32

	OS_UNI_CONCAT            OopSpecIndex = 42
	OS_UNI_SLICE             OopSpecIndex = 43
	OS_UNI_EQUAL             OopSpecIndex = 44
	OS_UNIEQ_SLICE_CHECKNULL OopSpecIndex = 45
	OS_UNIEQ_SLICE_NONNULL   OopSpecIndex = 46
	OS_UNIEQ_SLICE_CHAR      OopSpecIndex = 47
	OS_UNIEQ_NONNULL         OopSpecIndex = 48
	OS_UNIEQ_NONNULL_CHAR    OopSpecIndex = 49
	OS_UNIEQ_CHECKNULL_CHAR  OopSpecIndex = 50
	OS_UNIEQ_LENGTHOK        OopSpecIndex = 51
	OS_UNI_CMP               OopSpecIndex = 52
)

// UnicodeOffset 字节串特殊调用加上它得到 unicode 版本
const UnicodeOffset = OS_UNI_CONCAT - OS_STR_CONCAT

// DictLookupFlag 字典查找的用途
type DictLookupFlag int

const (
	FLAG_LOOKUP DictLookupFlag = iota
	FLAG_STORE
	FLAG_DELETE
)

// EffectInfo 一个调用可能读写的位置
//
// 读写集合为 nil 表示任意位置（EF_RANDOM_EFFECTS）。可消除与循环不变的
// 调用没有可观察的写，写集合总是空。
type EffectInfo struct {
	ReadFields  *set.TreeSet[*FieldDescr]
	WriteFields *set.TreeSet[*FieldDescr]
	ReadArrays  *set.TreeSet[*ArrayDescr]
	WriteArrays *set.TreeSet[*ArrayDescr]

	Extra   ExtraEffect
	Oopspec OopSpecIndex

	canInvalidate bool
	// CanCollect 调用可能触发 GC
	CanCollect bool

	// DictLookupDescrs 字典查找缓存用到的描述符：条目数组与查找结果
	DictLookupDescrs []Descr
}

// EffectSpec NewEffectInfo 的参数
type EffectSpec struct {
	ReadFields    []*FieldDescr
	WriteFields   []*FieldDescr
	ReadArrays    []*ArrayDescr
	WriteArrays   []*ArrayDescr
	Extra         ExtraEffect
	Oopspec       OopSpecIndex
	CanInvalidate bool
	CanCollect    bool
}

// NewEffectInfo 根据读写集合创建
func NewEffectInfo(spec EffectSpec) *EffectInfo {
	if spec.Extra == EF_RANDOM_EFFECTS {
		return &EffectInfo{Extra: EF_RANDOM_EFFECTS, Oopspec: spec.Oopspec, canInvalidate: true, CanCollect: true}
	}
	ei := &EffectInfo{
		ReadFields:    set.TreeSetFrom(spec.ReadFields, CompareFields),
		WriteFields:   set.NewTreeSet(CompareFields),
		ReadArrays:    set.TreeSetFrom(spec.ReadArrays, CompareArrays),
		WriteArrays:   set.NewTreeSet(CompareArrays),
		Extra:         spec.Extra,
		Oopspec:       spec.Oopspec,
		canInvalidate: spec.CanInvalidate,
		CanCollect:    spec.CanCollect,
	}
	if !ei.CheckIsElidable() && spec.Extra != EF_LOOPINVARIANT {
		ei.WriteFields.InsertSlice(spec.WriteFields)
		ei.WriteArrays.InsertSlice(spec.WriteArrays)
	}
	return ei
}

// RandomEffects 任意副作用
func RandomEffects() *EffectInfo { return NewEffectInfo(EffectSpec{Extra: EF_RANDOM_EFFECTS}) }

// Elidable 无副作用、不抛异常的纯函数调用
func Elidable(reads ...*FieldDescr) *EffectInfo {
	return NewEffectInfo(EffectSpec{ReadFields: reads, Extra: EF_ELIDABLE_CANNOT_RAISE})
}

// CheckCanRaise 调用是否可能抛异常；ignoreMemoryError 时内存错误不算
func (ei *EffectInfo) CheckCanRaise(ignoreMemoryError bool) bool {
	if ignoreMemoryError {
		return ei.Extra > EF_ELIDABLE_OR_MEMORYERROR
	}
	return ei.Extra > EF_CANNOT_RAISE
}

// CheckIsElidable 结果只取决于参数
func (ei *EffectInfo) CheckIsElidable() bool {
	switch ei.Extra {
	case EF_ELIDABLE_CANNOT_RAISE, EF_ELIDABLE_OR_MEMORYERROR, EF_ELIDABLE_CAN_RAISE:
		return true
	}
	return false
}

// CheckForcesVirtual 调用会强制虚拟对象或 virtualizable
func (ei *EffectInfo) CheckForcesVirtual() bool {
	return ei.Extra >= EF_FORCES_VIRTUAL_OR_VIRTUALIZABLE
}

// HasRandomEffects 可能读写任意位置
func (ei *EffectInfo) HasRandomEffects() bool { return ei.Extra == EF_RANDOM_EFFECTS }

// CanInvalidate 调用可能改写准不可变字段
func (ei *EffectInfo) CanInvalidate() bool { return ei.canInvalidate }

// WritesField 调用是否可能写入 d
func (ei *EffectInfo) WritesField(d *FieldDescr) bool {
	return ei.HasRandomEffects() || ei.WriteFields.Contains(d)
}

// ReadsField 调用是否可能读取 d
func (ei *EffectInfo) ReadsField(d *FieldDescr) bool {
	return ei.HasRandomEffects() || ei.ReadFields.Contains(d)
}

// WritesArray 调用是否可能写入 d 的元素
func (ei *EffectInfo) WritesArray(d *ArrayDescr) bool {
	return ei.HasRandomEffects() || ei.WriteArrays.Contains(d)
}

// ReadsArray 调用是否可能读取 d 的元素
func (ei *EffectInfo) ReadsArray(d *ArrayDescr) bool {
	return ei.HasRandomEffects() || ei.ReadArrays.Contains(d)
}

func (ei *EffectInfo) String() string {
	if ei.HasRandomEffects() {
		return "<EffectInfo random>"
	}
	return fmt.Sprintf("<EffectInfo extra=%d oopspec=%d rf=%d wf=%d ra=%d wa=%d>",
		ei.Extra, ei.Oopspec, ei.ReadFields.Size(), ei.WriteFields.Size(),
		ei.ReadArrays.Size(), ei.WriteArrays.Size())
}
