// pairtype.go - 按有序变体标签对分派
//
// 二元操作的传递函数以 (左标签, 右标签) 注册。查找时按对类型的 C3
// 线性化依次尝试：(a,b) 的直接基是 (parent(a), b) 和 (a, parent(b))，
// 左侧优先，所以更具体的对总是先于更一般的对被选中。
package annotation

import "fmt"

// Pair 有序标签对
type Pair struct {
	Left, Right Kind
}

func (p Pair) String() string { return fmt.Sprintf("(%s, %s)", p.Left, p.Right) }

// pairBases 对的直接基
func pairBases(p Pair) []Pair {
	var out []Pair
	if pl := p.Left.Parent(); pl >= 0 {
		out = append(out, Pair{pl, p.Right})
	}
	if pr := p.Right.Parent(); pr >= 0 {
		out = append(out, Pair{p.Left, pr})
	}
	return out
}

var pairMROCache = map[Pair][]Pair{}

// PairMRO 对类型的 C3 线性化
func PairMRO(p Pair) []Pair {
	if l, ok := pairMROCache[p]; ok {
		return l
	}
	bases := pairBases(p)
	seqs := make([][]Pair, 0, len(bases)+1)
	for _, b := range bases {
		seqs = append(seqs, append([]Pair(nil), PairMRO(b)...))
	}
	seqs = append(seqs, append([]Pair(nil), bases...))
	out := append([]Pair{p}, c3merge(seqs)...)
	pairMROCache[p] = out
	return out
}

// c3merge C3 合并；标签链是单继承，不会出现不一致
func c3merge(seqs [][]Pair) []Pair {
	var out []Pair
	for {
		nonEmpty := seqs[:0]
		for _, s := range seqs {
			if len(s) > 0 {
				nonEmpty = append(nonEmpty, s)
			}
		}
		seqs = nonEmpty
		if len(seqs) == 0 {
			return out
		}
		var head Pair
		found := false
		for _, s := range seqs {
			cand := s[0]
			if !inTail(seqs, cand) {
				head, found = cand, true
				break
			}
		}
		if !found {
			panic("pairtype: inconsistent hierarchy")
		}
		out = append(out, head)
		for i, s := range seqs {
			if s[0] == head {
				seqs[i] = s[1:]
			}
		}
	}
}

func inTail(seqs [][]Pair, p Pair) bool {
	for _, s := range seqs {
		for _, q := range s[1:] {
			if q == p {
				return true
			}
		}
	}
	return false
}

func init() {
	for a := Kind(0); a < numKinds; a++ {
		for b := Kind(0); b < numKinds; b++ {
			PairMRO(Pair{a, b})
		}
	}
}

// PairTable 二元操作的分派表
type PairTable[F any] struct {
	Name     string
	handlers map[Pair]F
}

// NewPairTable 创建分派表
func NewPairTable[F any](name string) *PairTable[F] {
	return &PairTable[F]{Name: name, handlers: make(map[Pair]F)}
}

// Register 注册 (a, b) 的处理函数
func (t *PairTable[F]) Register(a, b Kind, f F) {
	t.handlers[Pair{a, b}] = f
}

// Lookup 按 C3 顺序查找最具体的处理函数，返回匹配到的对
func (t *PairTable[F]) Lookup(a, b Kind) (F, Pair, bool) {
	for _, p := range PairMRO(Pair{a, b}) {
		if f, ok := t.handlers[p]; ok {
			return f, p, true
		}
	}
	var zero F
	return zero, Pair{}, false
}
