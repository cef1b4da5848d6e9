package cluster

// unionFind is a disjoint-set over record ordinals with union by size, path
// compression, and a hard cap on component size. The cap bounds the damage
// of a single bad shared identifier (a shared info@ address, a payment
// processor's placeholder phone) transitively absorbing unrelated people.
type unionFind struct {
	parent []int
	size   []int
	cap    int
}

func newUnionFind(n, sizeCap int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
		cap:    sizeCap,
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the components of a and b. It returns false without merging
// when the combined component would exceed the cap; callers count these as
// capped merges and let the excluded record fall through to a weaker pass.
func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return true
	}
	if uf.size[ra]+uf.size[rb] > uf.cap {
		return false
	}
	// Attach the smaller tree under the larger, keeping the lower root on
	// ties so component roots stay stable across runs.
	if uf.size[ra] < uf.size[rb] || (uf.size[ra] == uf.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}

func (uf *unionFind) componentSize(x int) int {
	return uf.size[uf.find(x)]
}
