// longevity.go - box 的生存区间

package regalloc

import (
	"fmt"

	"github.com/tangzhangming/solatrans/internal/jit/history"
)

// Lifetime 定义位置与最后一次使用的位置；入口参数定义在 -1 或 0
type Lifetime struct {
	Def     int
	LastUse int
}

// Longevity 一段 trace 中每个 box 的生存区间
type Longevity struct {
	lifetimes     map[*history.Box]Lifetime
	lastRealUsage map[*history.Box]int
}

// NewLongevity 空表，测试里手工填写
func NewLongevity() *Longevity {
	return &Longevity{
		lifetimes:     make(map[*history.Box]Lifetime),
		lastRealUsage: make(map[*history.Box]int),
	}
}

// Set 设置 box 的区间
func (l *Longevity) Set(box *history.Box, def, lastUse int) {
	l.lifetimes[box] = Lifetime{Def: def, LastUse: lastUse}
}

// Get 取 box 的区间
func (l *Longevity) Get(box *history.Box) (Lifetime, bool) {
	lt, ok := l.lifetimes[box]
	return lt, ok
}

// LastRealUsage 不计 JUMP 与 LABEL 的最后一次使用
func (l *Longevity) LastRealUsage(box *history.Box) (int, bool) {
	i, ok := l.lastRealUsage[box]
	return i, ok
}

// Len 有区间的 box 个数
func (l *Longevity) Len() int { return len(l.lifetimes) }

// ComputeVarsLongevity 倒序扫描 trace 计算区间。
// 没有副作用且结果从未使用的操作不产生区间，也不延长参数的区间；
// 守卫的失败参数计入区间但不计入 LastRealUsage。
func ComputeVarsLongevity(inputargs []*history.Box, ops []*history.ResOp) (*Longevity, error) {
	l := NewLongevity()
	lastUsed := make(map[*history.Box]int)

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.Result != nil {
			if _, used := lastUsed[op.Result]; !used && op.HasNoSideEffect() {
				continue
			}
		}
		for _, arg := range op.Args {
			box, ok := arg.(*history.Box)
			if !ok {
				continue
			}
			if _, seen := lastUsed[box]; !seen {
				lastUsed[box] = i
			}
			if op.Opnum != history.JUMP && op.Opnum != history.LABEL {
				if _, seen := l.lastRealUsage[box]; !seen {
					l.lastRealUsage[box] = i
				}
			}
		}
		if op.IsGuard() {
			for _, arg := range op.FailArgs {
				if box, ok := arg.(*history.Box); ok {
					if _, seen := lastUsed[box]; !seen {
						lastUsed[box] = i
					}
				}
			}
		}
	}

	for i, op := range ops {
		if op.Result == nil {
			continue
		}
		last, ok := lastUsed[op.Result]
		if !ok {
			continue
		}
		if last <= i {
			return nil, fmt.Errorf("regalloc: %s used before it is defined", op.Result)
		}
		l.lifetimes[op.Result] = Lifetime{Def: i, LastUse: last}
		delete(lastUsed, op.Result)
	}
	for _, arg := range inputargs {
		last, ok := lastUsed[arg]
		if !ok {
			l.lifetimes[arg] = Lifetime{Def: -1, LastUse: -1}
			continue
		}
		l.lifetimes[arg] = Lifetime{Def: 0, LastUse: last}
		delete(lastUsed, arg)
	}
	for box := range lastUsed {
		return nil, fmt.Errorf("regalloc: %s is used but never defined", box)
	}
	return l, nil
}
