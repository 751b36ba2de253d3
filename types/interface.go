package types

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidInterface = errors.New("invalid boundary interface")

/*
BoundaryInterface identifies two patch sides that share a boundary.

DirMap[i] is the direction of the second patch corresponding to direction i of
the first, DirOrientation[i] is true when both run the same way. For the
normal direction DirMap maps the first side's direction onto the second's.
*/
type BoundaryInterface struct {
	First, Second  PatchSide
	DirMap         []int
	DirOrientation []bool
}

// NewMatchingInterface builds the usual interface where all tangential
// directions map onto themselves with matching orientation
func NewMatchingInterface(first, second PatchSide, dim int) (bi BoundaryInterface) {
	bi = BoundaryInterface{
		First:          first,
		Second:         second,
		DirMap:         make([]int, dim),
		DirOrientation: make([]bool, dim),
	}
	for i := 0; i < dim; i++ {
		bi.DirMap[i] = i
		bi.DirOrientation[i] = true
	}
	d1, d2 := first.Side.Direction(), second.Side.Direction()
	if d1 != d2 {
		// Swap the normal directions so the map stays a permutation
		bi.DirMap[d1], bi.DirMap[d2] = d2, d1
	}
	bi.DirOrientation[d1] = first.Side.Parameter() != second.Side.Parameter()
	return
}

func (bi BoundaryInterface) Dim() int { return len(bi.DirMap) }

func (bi BoundaryInterface) Validate(dim int) (err error) {
	if len(bi.DirMap) != dim || len(bi.DirOrientation) != dim {
		return fmt.Errorf("%w: direction map has length %d, orientation %d, dimension %d",
			ErrInvalidInterface, len(bi.DirMap), len(bi.DirOrientation), dim)
	}
	if !bi.First.Side.Valid(dim) || !bi.Second.Side.Valid(dim) {
		return fmt.Errorf("%w: sides %v and %v are not sides of a %d-dimensional box",
			ErrInvalidInterface, bi.First.Side, bi.Second.Side, dim)
	}
	if bi.First == bi.Second {
		return fmt.Errorf("%w: %v is glued to itself", ErrInvalidInterface, bi.First)
	}
	seen := make([]bool, dim)
	for _, j := range bi.DirMap {
		if j < 0 || j >= dim || seen[j] {
			return fmt.Errorf("%w: direction map %v is not a permutation", ErrInvalidInterface, bi.DirMap)
		}
		seen[j] = true
	}
	if bi.DirMap[bi.First.Side.Direction()] != bi.Second.Side.Direction() {
		return fmt.Errorf("%w: normal direction %d does not map onto %d", ErrInvalidInterface,
			bi.First.Side.Direction(), bi.Second.Side.Direction())
	}
	return
}

// Reversed returns the same interface seen from the second patch
func (bi BoundaryInterface) Reversed() (rev BoundaryInterface) {
	var (
		dim = len(bi.DirMap)
	)
	rev = BoundaryInterface{
		First:          bi.Second,
		Second:         bi.First,
		DirMap:         make([]int, dim),
		DirOrientation: make([]bool, dim),
	}
	for i, j := range bi.DirMap {
		rev.DirMap[j] = i
		rev.DirOrientation[j] = bi.DirOrientation[i]
	}
	return
}

func (bi BoundaryInterface) Key() InterfaceKey {
	return NewInterfaceKey(bi.First, bi.Second)
}

func (bi BoundaryInterface) String() string {
	return fmt.Sprintf("%v <-> %v, dirMap %v, orientation %v", bi.First, bi.Second, bi.DirMap, bi.DirOrientation)
}

/*
InterfaceKey packs an unordered pair of patch sides into a uint64 so that the
same interface seen from either patch compares equal
*/
type InterfaceKey uint64

func NewInterfaceKey(ps1, ps2 PatchSide) (packed InterfaceKey) {
	var (
		limit = math.MaxUint32 >> 3
	)
	for _, ps := range []PatchSide{ps1, ps2} {
		if ps.Patch < 0 || ps.Patch > limit {
			panic(fmt.Errorf("unable to pack patch indices %d and %d into an interface key",
				ps1.Patch, ps2.Patch))
		}
	}
	c1, c2 := ps1.code(), ps2.code()
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	packed = InterfaceKey(uint64(c1) + uint64(c2)<<32)
	return
}

func (ik InterfaceKey) GetSides() (sides [2]PatchSide) {
	var (
		codes = [2]uint32{uint32(ik & math.MaxUint32), uint32(ik >> 32)}
	)
	for i, c := range codes {
		sides[i] = PatchSide{Patch: int(c >> 3), Side: BoxSide(c & 7)}
	}
	return
}
