package multipatch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goiga/types"
)

// DofMapper numbers the patch local basis functions of a multi-patch globally
type DofMapper interface {
	Size() int
	Index(patch, i int) int
	IsCoupled(patch, i int) bool
}

// SideMap carries parameters of an interface's first side onto its second
type SideMap interface {
	Interface() types.BoundaryInterface
	Eval(u []float64) (v []float64, err error)
}

/*
InterfaceDofMapper glues the boundary functions of interfaced sides. A side 1
function is identified with the side 2 function whose Greville anchor lies
within tol of the mapped anchor, when there is exactly one such function.
*/
type InterfaceDofMapper struct {
	offsets []int
	global  []int
	classes []int // members per global index
	size    int
}

func NewInterfaceDofMapper(mp *MultiPatch, maps []SideMap, tol float64) (dm *InterfaceDofMapper, err error) {
	var (
		total int
	)
	dm = &InterfaceDofMapper{offsets: make([]int, mp.NumPatches()+1)}
	for p := 0; p < mp.NumPatches(); p++ {
		dm.offsets[p] = total
		total += mp.Patch(p).Basis.Size()
	}
	dm.offsets[mp.NumPatches()] = total
	uf := newUnionFind(total)
	for _, m := range maps {
		var (
			bi     = m.Interface()
			b1, b2 = mp.Patch(bi.First.Patch).Basis, mp.Patch(bi.Second.Patch).Basis
			f2     = b2.BoundaryFunctions(bi.Second.Side)
		)
		for _, i := range b1.BoundaryFunctions(bi.First.Side) {
			var v []float64
			if v, err = m.Eval(b1.Anchor(i)); err != nil {
				return nil, fmt.Errorf("mapping anchor of function %d on %v: %w", i, bi.First, err)
			}
			partner, count := -1, 0
			for _, j := range f2 {
				if floats.Distance(v, b2.Anchor(j), math.Inf(1)) <= tol {
					partner = j
					count++
				}
			}
			if count == 1 {
				uf.union(dm.offsets[bi.First.Patch]+i, dm.offsets[bi.Second.Patch]+partner)
			}
		}
	}
	var (
		ids = make(map[int]int)
	)
	dm.global = make([]int, total)
	for n := 0; n < total; n++ {
		root := uf.find(n)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
			dm.classes = append(dm.classes, 0)
		}
		dm.global[n] = id
		dm.classes[id]++
	}
	dm.size = len(ids)
	return
}

func (dm *InterfaceDofMapper) Size() int { return dm.size }

func (dm *InterfaceDofMapper) Index(patch, i int) int { return dm.global[dm.offsets[patch]+i] }

// IsCoupled is true when the function is shared with another patch
func (dm *InterfaceDofMapper) IsCoupled(patch, i int) bool {
	return dm.classes[dm.Index(patch, i)] > 1
}

// FreeSize is the number of global functions that belong to a single patch
func (dm *InterfaceDofMapper) FreeSize() (n int) {
	for _, c := range dm.classes {
		if c == 1 {
			n++
		}
	}
	return
}

type unionFind struct {
	parent, rank []int
}

func newUnionFind(n int) (uf *unionFind) {
	uf = &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	switch {
	case ri == rj:
	case uf.rank[ri] < uf.rank[rj]:
		uf.parent[ri] = rj
	case uf.rank[ri] > uf.rank[rj]:
		uf.parent[rj] = ri
	default:
		uf.parent[rj] = ri
		uf.rank[ri]++
	}
}
