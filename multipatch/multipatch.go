package multipatch

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/geometry"
	"github.com/notargets/goiga/hsplines"
	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

var (
	ErrInvalidPatch   = errors.New("invalid patch")
	ErrNotRefinable   = errors.New("basis does not support local refinement")
	ErrSideInterfaced = errors.New("side already belongs to an interface")
)

// Basis is a patch basis that can name its boundary functions and anchors
type Basis interface {
	bspline.Basis
	Anchor(i int) []float64
	BoundaryFunctions(side types.BoxSide) utils.Index
}

type Patch struct {
	Geometry geometry.Geometry
	Basis    Basis
}

/*
MultiPatch owns the patches of a domain and the interfaces gluing their sides.
The generation counter is increased by every change to a patch basis; objects
that hold patch indices compare it to detect that their view is stale.
*/
type MultiPatch struct {
	patches    []*Patch
	interfaces map[types.InterfaceKey]types.BoundaryInterface
	order      []types.InterfaceKey
	generation uint64
}

func NewMultiPatch() *MultiPatch {
	return &MultiPatch{interfaces: make(map[types.InterfaceKey]types.BoundaryInterface)}
}

func (mp *MultiPatch) AddPatch(g geometry.Geometry, b Basis) (index int, err error) {
	if g.ParDim() != b.Dim() {
		err = fmt.Errorf("%w: geometry has %d parametric directions, basis %d",
			ErrInvalidPatch, g.ParDim(), b.Dim())
		return
	}
	index = len(mp.patches)
	mp.patches = append(mp.patches, &Patch{Geometry: g, Basis: b})
	return
}

func (mp *MultiPatch) NumPatches() int { return len(mp.patches) }

func (mp *MultiPatch) Patch(i int) *Patch { return mp.patches[i] }

func (mp *MultiPatch) Generation() uint64 { return mp.generation }

// Dim is the parametric dimension of the patches, 0 when there are none
func (mp *MultiPatch) Dim() int {
	if len(mp.patches) == 0 {
		return 0
	}
	return mp.patches[0].Basis.Dim()
}

func (mp *MultiPatch) AddInterface(bi types.BoundaryInterface) (err error) {
	for _, ps := range []types.PatchSide{bi.First, bi.Second} {
		if ps.Patch < 0 || ps.Patch >= len(mp.patches) {
			return fmt.Errorf("%w: %v refers to a missing patch", types.ErrInvalidInterface, ps)
		}
	}
	if err = bi.Validate(mp.patches[bi.First.Patch].Basis.Dim()); err != nil {
		return
	}
	if mp.patches[bi.Second.Patch].Basis.Dim() != bi.Dim() {
		return fmt.Errorf("%w: patches %d and %d differ in dimension",
			types.ErrInvalidInterface, bi.First.Patch, bi.Second.Patch)
	}
	for _, ps := range []types.PatchSide{bi.First, bi.Second} {
		if _, ok := mp.InterfaceOf(ps); ok {
			return fmt.Errorf("%w: %v", ErrSideInterfaced, ps)
		}
	}
	key := bi.Key()
	mp.interfaces[key] = bi
	mp.order = append(mp.order, key)
	return
}

// Interfaces returns the interfaces in insertion order
func (mp *MultiPatch) Interfaces() (ifaces []types.BoundaryInterface) {
	for _, key := range mp.order {
		ifaces = append(ifaces, mp.interfaces[key])
	}
	return
}

// InterfaceOf returns the interface containing ps, oriented with ps first
func (mp *MultiPatch) InterfaceOf(ps types.PatchSide) (bi types.BoundaryInterface, ok bool) {
	for _, key := range mp.order {
		bi = mp.interfaces[key]
		switch ps {
		case bi.First:
			return bi, true
		case bi.Second:
			return bi.Reversed(), true
		}
	}
	return types.BoundaryInterface{}, false
}

// Boundaries lists the patch sides not glued to another side
func (mp *MultiPatch) Boundaries() (bnd []types.PatchSide) {
	glued := make(map[types.PatchSide]bool)
	for _, key := range mp.order {
		for _, ps := range key.GetSides() {
			glued[ps] = true
		}
	}
	for p, patch := range mp.patches {
		for _, s := range types.Sides(patch.Basis.Dim()) {
			if ps := (types.PatchSide{Patch: p, Side: s}); !glued[ps] {
				bnd = append(bnd, ps)
			}
		}
	}
	return
}

func (mp *MultiPatch) checkPatch(p int) (err error) {
	if p < 0 || p >= len(mp.patches) {
		err = fmt.Errorf("%w: index %d, have %d patches", ErrInvalidPatch, p, len(mp.patches))
	}
	return
}

// UniformRefine refines every patch basis once
func (mp *MultiPatch) UniformRefine() {
	for _, patch := range mp.patches {
		switch b := patch.Basis.(type) {
		case *bspline.TensorBasis:
			patch.Basis = b.UniformRefine()
		case interface{ UniformRefine() }:
			b.UniformRefine()
		default:
			panic(fmt.Errorf("%w: %T", ErrNotRefinable, patch.Basis))
		}
	}
	mp.generation++
}

/*
InsertBox refines patch p locally. A tensor basis is first replaced by the
truncated hierarchical basis built on it.
*/
func (mp *MultiPatch) InsertBox(p, level int, low, high []int) (err error) {
	if err = mp.checkPatch(p); err != nil {
		return
	}
	type boxRefinable interface {
		InsertBox(level int, low, high []int) error
	}
	var (
		patch = mp.patches[p]
		b     = patch.Basis
	)
	if tb, ok := b.(*bspline.TensorBasis); ok {
		b = hsplines.NewTHBSplineBasis(tb)
	}
	r, ok := b.(boxRefinable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotRefinable, b)
	}
	if err = r.InsertBox(level, low, high); err != nil {
		return
	}
	patch.Basis = b
	mp.generation++
	return
}

// sideCorners returns the physical corners of a side, indexed like the patch
// corners with the normal bit fixed to the side
func sideCorners(g geometry.Geometry, side types.BoxSide) (keys []int, corners [][]float64, err error) {
	var (
		rng = g.ParameterRange()
		dim = len(rng)
		dir = side.Direction()
	)
	for k := 0; k < 1<<uint(dim); k++ {
		if (k&(1<<uint(dir)) != 0) != side.Parameter() {
			continue
		}
		u := make([]float64, dim)
		for d := 0; d < dim; d++ {
			if k&(1<<uint(d)) != 0 {
				u[d] = rng[d].Hi
			} else {
				u[d] = rng[d].Lo
			}
		}
		var x []float64
		if x, err = g.Eval(u); err != nil {
			return
		}
		keys = append(keys, k)
		corners = append(corners, x)
	}
	return
}

/*
ComputeTopology glues every pair of sides of different patches whose physical
corners coincide within tol, deriving the direction map and orientation from
the corner correspondence. Sides already in an interface are left alone. It
returns the number of interfaces added.
*/
func (mp *MultiPatch) ComputeTopology(tol float64) (added int, err error) {
	type sideInfo struct {
		ps      types.PatchSide
		keys    []int
		corners [][]float64
	}
	var free []sideInfo
	for _, ps := range mp.Boundaries() {
		si := sideInfo{ps: ps}
		if si.keys, si.corners, err = sideCorners(mp.patches[ps.Patch].Geometry, ps.Side); err != nil {
			return
		}
		free = append(free, si)
	}
	used := make(map[types.PatchSide]bool)
	for i := range free {
		for j := i + 1; j < len(free); j++ {
			s1, s2 := free[i], free[j]
			if s1.ps.Patch == s2.ps.Patch || used[s1.ps] || used[s2.ps] {
				continue
			}
			match := matchCorners(s1.corners, s2.corners, tol)
			if match == nil {
				continue
			}
			bi := interfaceFromCorners(s1.ps, s2.ps, s1.keys, s2.keys, match, mp.patches[s1.ps.Patch].Basis.Dim())
			if err = mp.AddInterface(bi); err != nil {
				return
			}
			used[s1.ps], used[s2.ps] = true, true
			added++
			logrus.WithField("interface", bi.String()).Debug("interface detected")
		}
	}
	return
}

// matchCorners returns for each corner of a the index of the coinciding corner of b
func matchCorners(a, b [][]float64, tol float64) (match []int) {
	if len(a) != len(b) {
		return nil
	}
	match = make([]int, len(a))
	taken := make([]bool, len(b))
	for i, x := range a {
		match[i] = -1
		for j, y := range b {
			if !taken[j] && len(x) == len(y) && floats.Distance(x, y, math.Inf(1)) <= tol {
				match[i], taken[j] = j, true
				break
			}
		}
		if match[i] < 0 {
			return nil
		}
	}
	return
}

func interfaceFromCorners(ps1, ps2 types.PatchSide, keys1, keys2, match []int, dim int) (bi types.BoundaryInterface) {
	var (
		n1, n2 = ps1.Side.Direction(), ps2.Side.Direction()
		pos1   = make(map[int]int)
	)
	for i, k := range keys1 {
		pos1[k] = i
	}
	bi = types.BoundaryInterface{
		First:          ps1,
		Second:         ps2,
		DirMap:         make([]int, dim),
		DirOrientation: make([]bool, dim),
	}
	bi.DirMap[n1] = n2
	bi.DirOrientation[n1] = ps1.Side.Parameter() != ps2.Side.Parameter()
	// leading corner of side 1 is the one with every tangential bit clear
	var lead int
	if ps1.Side.Parameter() {
		lead = 1 << uint(n1)
	}
	k2 := keys2[match[pos1[lead]]]
	for t := 0; t < dim; t++ {
		if t == n1 {
			continue
		}
		kt := keys2[match[pos1[lead|1<<uint(t)]]]
		d := bitIndex(k2 ^ kt)
		bi.DirMap[t] = d
		bi.DirOrientation[t] = k2&(1<<uint(d)) == 0
	}
	return
}

func bitIndex(x int) (b int) {
	for x > 1 {
		x >>= 1
		b++
	}
	return
}
