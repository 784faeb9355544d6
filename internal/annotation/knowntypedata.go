package annotation

import (
	"github.com/tangzhangming/solatrans/internal/flowmodel"
)

// KTDKey knowntypedata 的键：分支方向 + 被细化的变量
type KTDKey struct {
	Case bool
	Var  *flowmodel.Variable
}

// KnownTypeData 分支细化信息：在 Case 分支上 Var 至多为给定注解
type KnownTypeData map[KTDKey]SomeValue

// Add 记录一个细化；同一个键已有值时取交（改进）
func (k KnownTypeData) Add(truth bool, v *flowmodel.Variable, s SomeValue) {
	key := KTDKey{truth, v}
	if old, ok := k[key]; ok {
		k[key] = Improve(old, s)
		return
	}
	k[key] = s
}

// For 某个分支方向上的所有细化
func (k KnownTypeData) For(truth bool) map[*flowmodel.Variable]SomeValue {
	out := make(map[*flowmodel.Variable]SomeValue)
	for key, s := range k {
		if key.Case == truth {
			out[key.Var] = s
		}
	}
	return out
}

// Rename 把变量按映射改名，映射之外的条目被丢弃
func (k KnownTypeData) Rename(renaming map[*flowmodel.Variable][]*flowmodel.Variable) KnownTypeData {
	if len(k) == 0 {
		return nil
	}
	out := make(KnownTypeData)
	for key, s := range k {
		for _, nv := range renaming[key.Var] {
			out[KTDKey{key.Case, nv}] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Merge 两个 knowntypedata 的合并：只保留共同键，值取并
func (k KnownTypeData) Merge(o KnownTypeData) KnownTypeData {
	if len(k) == 0 || len(o) == 0 {
		return nil
	}
	out := make(KnownTypeData)
	for key, s := range k {
		if t, ok := o[key]; ok {
			u, err := union(s, t, false)
			if err == nil {
				out[key] = u
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (k KnownTypeData) equal(o KnownTypeData) bool {
	if len(k) != len(o) {
		return false
	}
	for key, s := range k {
		t, ok := o[key]
		if !ok || !Equal(s, t) {
			return false
		}
	}
	return true
}
