package description

// Absorber 并查集中每个等价类携带的信息，合并时吸收另一方
type Absorber[I any] interface {
	Absorb(other I) error
}

// UnionFind 带路径压缩与按大小合并的并查集
type UnionFind[K comparable, I Absorber[I]] struct {
	parent  map[K]K
	size    map[K]int
	info    map[K]I
	factory func(K) I
}

// NewUnionFind 创建并查集；factory 为新元素创建等价类信息
func NewUnionFind[K comparable, I Absorber[I]](factory func(K) I) *UnionFind[K, I] {
	return &UnionFind[K, I]{
		parent:  make(map[K]K),
		size:    make(map[K]int),
		info:    make(map[K]I),
		factory: factory,
	}
}

// Contains 元素是否已登记
func (u *UnionFind[K, I]) Contains(k K) bool {
	_, ok := u.parent[k]
	return ok
}

func (u *UnionFind[K, I]) rep(k K) K {
	root := k
	for {
		p := u.parent[root]
		if p == root {
			break
		}
		root = p
	}
	// 路径压缩
	for k != root {
		next := u.parent[k]
		u.parent[k] = root
		k = next
	}
	return root
}

// Find 返回代表元与等价类信息，元素不存在时创建
func (u *UnionFind[K, I]) Find(k K) (K, I) {
	if _, ok := u.parent[k]; !ok {
		u.parent[k] = k
		u.size[k] = 1
		u.info[k] = u.factory(k)
		return k, u.info[k]
	}
	r := u.rep(k)
	return r, u.info[r]
}

// Lookup 不创建的查找
func (u *UnionFind[K, I]) Lookup(k K) (I, bool) {
	if _, ok := u.parent[k]; !ok {
		var zero I
		return zero, false
	}
	return u.info[u.rep(k)], true
}

// Union 合并两个元素所在的等价类；返回是否发生了变化、新代表元与信息
func (u *UnionFind[K, I]) Union(a, b K) (bool, K, I, error) {
	ra, ia := u.Find(a)
	rb, ib := u.Find(b)
	if ra == rb {
		return false, ra, ia, nil
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
		ia, ib = ib, ia
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
	delete(u.size, rb)
	delete(u.info, rb)
	if err := ia.Absorb(ib); err != nil {
		return true, ra, ia, err
	}
	return true, ra, ia, nil
}

// Infos 所有等价类信息
func (u *UnionFind[K, I]) Infos() []I {
	out := make([]I, 0, len(u.info))
	for _, i := range u.info {
		out = append(out, i)
	}
	return out
}

// Len 等价类个数
func (u *UnionFind[K, I]) Len() int {
	return len(u.info)
}
