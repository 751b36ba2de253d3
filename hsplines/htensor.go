package hsplines

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r1"
	"github.com/sirupsen/logrus"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

var (
	ErrInvalidBox = errors.New("invalid refinement box")
	ErrLogic      = errors.New("logic error")
)

// FunctionKey identifies a basis function by its level and its flat index in
// that level's tensor basis
type FunctionKey struct {
	Level, Index int
}

/*
HTensorBasis is a hierarchy of dyadically nested tensor bases together with a
cell index over the elements of the finest level. Each cell records the finest
level that is active on it, and a cell's level only ever increases.

Let Ω_ℓ be the union of cells with level >= ℓ. The level ℓ function B is in
the basis iff supp B ⊆ Ω_ℓ and supp B ⊄ Ω_ℓ+1, that is iff the minimum cell
level under its support is exactly ℓ. Functions are numbered globally by level,
then by flat index within the level.

Structural changes (InsertBox, UniformRefine) rebuild all derived state and
must not run concurrently with queries. Queries are read only.
*/
type HTensorBasis struct {
	levels    []*bspline.TensorBasis
	ne0       utils.Index // elements per direction on level 0
	cellLevel []int       // per finest cell, flat with direction 0 fastest
	minLevel  [][]int     // per level, per element: minimum cell level inside
	maxLevel  [][]int     // per level, per element: maximum cell level inside
	active    [][]bool    // per level, per flat index
	xmatrix   []utils.Index
	offsets   []int // global index of the first function of each level
}

func NewHTensorBasis(base *bspline.TensorBasis) (h *HTensorBasis) {
	h = &HTensorBasis{
		levels: []*bspline.TensorBasis{base},
		ne0:    base.NumElements(),
	}
	h.cellLevel = make([]int, h.ne0.Product())
	h.rebuild()
	return
}

func (h *HTensorBasis) Dim() int { return h.levels[0].Dim() }

// NumLevels is the number of tensor levels constructed so far
func (h *HTensorBasis) NumLevels() int { return len(h.levels) }

func (h *HTensorBasis) TensorLevel(level int) *bspline.TensorBasis { return h.levels[level] }

func (h *HTensorBasis) Size() int {
	L := len(h.levels) - 1
	return h.offsets[L] + len(h.xmatrix[L])
}

// MaxCellLevel is the finest level active anywhere
func (h *HTensorBasis) MaxCellLevel() (mx int) {
	for _, l := range h.cellLevel {
		if l > mx {
			mx = l
		}
	}
	return
}

func (h *HTensorBasis) Domain() []r1.Interval { return h.levels[0].Domain() }

// NumElements is the element count per direction on the given level
func (h *HTensorBasis) NumElements(level int) (ne utils.Index) {
	ne = make(utils.Index, h.Dim())
	for d, n := range h.ne0 {
		ne[d] = n << uint(level)
	}
	return
}

func (h *HTensorBasis) elementFlat(level int, idx []int) (flat int) {
	var (
		ne = h.NumElements(level)
		d  = len(idx)
	)
	flat = idx[d-1]
	for i := d - 2; i >= 0; i-- {
		flat = flat*ne[i] + idx[i]
	}
	return
}

// NumLevelFunctions is the number of basis functions taken from a level
func (h *HTensorBasis) NumLevelFunctions(level int) int { return len(h.xmatrix[level]) }

// LevelFunctions returns the sorted flat indices of the level's functions in the basis
func (h *HTensorBasis) LevelFunctions(level int) utils.Index { return h.xmatrix[level].Copy() }

func (h *HTensorBasis) IsActive(level, flat int) bool {
	return level < len(h.active) && h.active[level][flat]
}

// GlobalIndex returns the global number of a function, or -1 if it is not in the basis
func (h *HTensorBasis) GlobalIndex(key FunctionKey) int {
	if key.Level >= len(h.xmatrix) {
		return -1
	}
	k := h.xmatrix[key.Level].Find(key.Index)
	if k < 0 {
		return -1
	}
	return h.offsets[key.Level] + k
}

// Key is the inverse of GlobalIndex
func (h *HTensorBasis) Key(i int) (key FunctionKey) {
	if i < 0 || i >= h.Size() {
		panic(fmt.Errorf("function index %d out of range [0,%d)", i, h.Size()))
	}
	key.Level = sort.Search(len(h.offsets), func(l int) bool {
		return h.offsets[l]+len(h.xmatrix[l]) > i
	})
	key.Index = h.xmatrix[key.Level][i-h.offsets[key.Level]]
	return
}

// addLevel appends a dyadic refinement of the finest level and splits every
// cell of the index into 2^d children carrying the parent's level
func (h *HTensorBasis) addLevel() {
	var (
		L     = len(h.levels) - 1
		neNew = h.NumElements(L + 1)
		cells = make([]int, neNew.Product())
		dim   = h.Dim()
		lo    = make([]int, dim)
		pos   int
	)
	h.levels = append(h.levels, h.levels[L].UniformRefine())
	parent := make([]int, dim)
	bspline.ForEachIndex(lo, neNew, func(idx []int) {
		for d := range idx {
			parent[d] = idx[d] >> 1
		}
		cells[pos] = h.cellLevel[h.elementFlat(L, parent)]
		pos++
	})
	h.cellLevel = cells
}

/*
InsertBox activates level `level` on the elements [low, high) of that level,
high exclusive per direction. Missing levels are created. Cell levels are
raised, never lowered, so inserting the same box twice has no further effect.
*/
func (h *HTensorBasis) InsertBox(level int, low, high []int) (err error) {
	if err = h.checkBox(level, low, high); err != nil {
		return
	}
	for len(h.levels)-1 < level {
		h.addLevel()
	}
	var (
		L     = len(h.levels) - 1
		shift = uint(L - level)
		lo    = make([]int, len(low))
		hi    = make([]int, len(high))
	)
	for d := range low {
		lo[d], hi[d] = low[d]<<shift, high[d]<<shift
	}
	bspline.ForEachIndex(lo, hi, func(idx []int) {
		c := h.elementFlat(L, idx)
		if h.cellLevel[c] < level {
			h.cellLevel[c] = level
		}
	})
	h.rebuild()
	return
}

func (h *HTensorBasis) checkBox(level int, low, high []int) (err error) {
	if level < 0 {
		return fmt.Errorf("%w: negative level %d", ErrInvalidBox, level)
	}
	if len(low) != h.Dim() || len(high) != h.Dim() {
		return fmt.Errorf("%w: box corners have dimension %d and %d, basis has %d",
			ErrInvalidBox, len(low), len(high), h.Dim())
	}
	ne := h.NumElements(level)
	for d := range low {
		if low[d] < 0 || high[d] > ne[d] || low[d] >= high[d] {
			return fmt.Errorf("%w: direction %d range [%d,%d) not within [0,%d)",
				ErrInvalidBox, d, low[d], high[d], ne[d])
		}
	}
	return
}

// InsertDomainBox inserts the smallest box of level elements covering the
// parameter box [lower, upper]
func (h *HTensorBasis) InsertDomainBox(level int, lower, upper []float64) (err error) {
	low, high, err := h.ElementBox(level, lower, upper)
	if err != nil {
		return
	}
	return h.InsertBox(level, low, high)
}

// ElementBox converts a parameter box into level element indices, snapping outward
func (h *HTensorBasis) ElementBox(level int, lower, upper []float64) (low, high []int, err error) {
	var (
		dim = h.Dim()
		n   = float64(utils.IntPow2(level))
	)
	if level < 0 || len(lower) != dim || len(upper) != dim {
		err = fmt.Errorf("%w: level %d, box corners of dimension %d and %d",
			ErrInvalidBox, level, len(lower), len(upper))
		return
	}
	low, high = make([]int, dim), make([]int, dim)
	for d := 0; d < dim; d++ {
		kv := h.levels[0].Component(d)
		if !kv.Contains(lower[d]) || !kv.Contains(upper[d]) || lower[d] > upper[d] {
			err = fmt.Errorf("%w: [%v, %v] in direction %d is not inside %v",
				ErrInvalidBox, lower[d], upper[d], d, kv.Domain())
			return
		}
		breaks := kv.Unique()
		position := func(x float64) float64 {
			e := kv.ElementIndex(x)
			return (float64(e) + (x-breaks[e])/(breaks[e+1]-breaks[e])) * n
		}
		low[d] = int(math.Floor(position(lower[d]) + 1e-10))
		high[d] = int(math.Ceil(position(upper[d]) - 1e-10))
		if high[d] <= low[d] {
			high[d] = low[d] + 1
		}
		if high[d] > h.ne0[d]<<uint(level) {
			high[d] = h.ne0[d] << uint(level)
			if low[d] >= high[d] {
				low[d] = high[d] - 1
			}
		}
	}
	return
}

// UniformRefine moves every cell one level up, adding a level to the hierarchy
func (h *HTensorBasis) UniformRefine() {
	h.addLevel()
	for c := range h.cellLevel {
		h.cellLevel[c]++
	}
	h.rebuild()
}

// rebuild recomputes element level extremes, activity bitmaps and numbering
func (h *HTensorBasis) rebuild() {
	var (
		L   = len(h.levels) - 1
		dim = h.Dim()
	)
	h.minLevel = make([][]int, L+1)
	h.maxLevel = make([][]int, L+1)
	h.minLevel[L] = append([]int(nil), h.cellLevel...)
	h.maxLevel[L] = append([]int(nil), h.cellLevel...)
	for l := L - 1; l >= 0; l-- {
		var (
			nc     = h.NumElements(l).Product()
			mn, mx = make([]int, nc), make([]int, nc)
			parent = make([]int, dim)
			pos    int
		)
		for e := range mn {
			mn[e], mx[e] = math.MaxInt, math.MinInt
		}
		bspline.ForEachIndex(make([]int, dim), h.NumElements(l+1), func(idx []int) {
			for d := range idx {
				parent[d] = idx[d] >> 1
			}
			e := h.elementFlat(l, parent)
			if v := h.minLevel[l+1][pos]; v < mn[e] {
				mn[e] = v
			}
			if v := h.maxLevel[l+1][pos]; v > mx[e] {
				mx[e] = v
			}
			pos++
		})
		h.minLevel[l], h.maxLevel[l] = mn, mx
	}
	h.active = make([][]bool, L+1)
	h.xmatrix = make([]utils.Index, L+1)
	h.offsets = make([]int, L+1)
	var total int
	for l, tb := range h.levels {
		h.active[l] = make([]bool, tb.Size())
		h.offsets[l] = total
		for i := 0; i < tb.Size(); i++ {
			if mn, _ := h.SupportLevels(l, i); mn == l {
				h.active[l][i] = true
				h.xmatrix[l] = append(h.xmatrix[l], i)
			}
		}
		total += len(h.xmatrix[l])
	}
	logrus.WithFields(logrus.Fields{
		"levels":    L + 1,
		"functions": total,
	}).Debug("hierarchical basis rebuilt")
}

// SupportLevels returns the minimum and maximum cell level under the support
// of function flat of the given level
func (h *HTensorBasis) SupportLevels(level, flat int) (mn, mx int) {
	mn, mx = math.MaxInt, math.MinInt
	lo, hi := h.levels[level].ElementSupport(flat)
	bspline.ForEachIndex(lo, hi, func(idx []int) {
		e := h.elementFlat(level, idx)
		if v := h.minLevel[level][e]; v < mn {
			mn = v
		}
		if v := h.maxLevel[level][e]; v > mx {
			mx = v
		}
	})
	return
}

// CellLevel returns the level of the finest cell containing pt
func (h *HTensorBasis) CellLevel(pt []float64) (level int, err error) {
	if err = bspline.CheckPoint(h.Domain(), pt); err != nil {
		return
	}
	var (
		L   = len(h.levels) - 1
		idx = make([]int, len(pt))
	)
	for d := range pt {
		idx[d] = h.levels[L].Component(d).ElementIndex(pt[d])
	}
	level = h.cellLevel[h.elementFlat(L, idx)]
	return
}

/*
ActiveFunctions lists the basis functions whose support contains pt. Only
levels up to the level of pt's cell can contribute; from each of them the
tensor active set is filtered by the activity bitmap. The result is ordered by
global index.
*/
func (h *HTensorBasis) ActiveFunctions(pt []float64) (keys []FunctionKey, err error) {
	var (
		c   int
		act utils.Index
	)
	if c, err = h.CellLevel(pt); err != nil {
		return
	}
	for l := 0; l <= c; l++ {
		if act, err = h.levels[l].Active(pt); err != nil {
			return
		}
		for _, flat := range act {
			if h.IsActive(l, flat) {
				keys = append(keys, FunctionKey{Level: l, Index: flat})
			}
		}
	}
	return
}

func (h *HTensorBasis) Active(pt []float64) (act utils.Index, err error) {
	var keys []FunctionKey
	if keys, err = h.ActiveFunctions(pt); err != nil {
		return
	}
	act = make(utils.Index, len(keys))
	for k, key := range keys {
		act[k] = h.GlobalIndex(key)
	}
	return
}

// hbEval evaluates the plain hierarchical B-splines, order 0, 1 or 2
func (h *HTensorBasis) hbEval(pt []float64, order int) (act utils.Index, vals []float64, err error) {
	var (
		c      int
		stride = strideOf(h.Dim(), order)
	)
	if c, err = h.CellLevel(pt); err != nil {
		return
	}
	for l := 0; l <= c; l++ {
		lact, lvals, lerr := evalTensor(h.levels[l], pt, order)
		if lerr != nil {
			return nil, nil, lerr
		}
		for k, flat := range lact {
			if h.IsActive(l, flat) {
				act = append(act, h.GlobalIndex(FunctionKey{Level: l, Index: flat}))
				vals = append(vals, lvals[k*stride:(k+1)*stride]...)
			}
		}
	}
	return
}

func (h *HTensorBasis) Eval(pt []float64) (utils.Index, []float64, error)   { return h.hbEval(pt, 0) }
func (h *HTensorBasis) Deriv(pt []float64) (utils.Index, []float64, error)  { return h.hbEval(pt, 1) }
func (h *HTensorBasis) Deriv2(pt []float64) (utils.Index, []float64, error) { return h.hbEval(pt, 2) }

func (h *HTensorBasis) EvalSingle(i int, pt []float64) (float64, error) {
	key := h.Key(i)
	return h.levels[key.Level].EvalSingle(key.Index, pt)
}

/*
Elements returns the quadrature elements of the hierarchy. Level 0 elements
are split dyadically until a block contains no cell finer than the block's own
level; Element.Level is the finest cell level inside the block.
*/
func (h *HTensorBasis) Elements() (elems []bspline.Element) {
	var split func(level int, idx []int)
	split = func(level int, idx []int) {
		e := h.elementFlat(level, idx)
		if mx := h.maxLevel[level][e]; mx <= level {
			el := bspline.Element{
				Lower: make([]float64, len(idx)),
				Upper: make([]float64, len(idx)),
				Level: mx,
			}
			tb := h.levels[level]
			for d, i := range idx {
				breaks := tb.Component(d)
				el.Lower[d] = breakAt(breaks, i)
				el.Upper[d] = breakAt(breaks, i+1)
			}
			elems = append(elems, el)
			return
		}
		lo, hi := make([]int, len(idx)), make([]int, len(idx))
		for d, i := range idx {
			lo[d], hi[d] = 2*i, 2*i+2
		}
		var children [][]int
		bspline.ForEachIndex(lo, hi, func(child []int) {
			children = append(children, append([]int(nil), child...))
		})
		for _, child := range children {
			split(level+1, child)
		}
	}
	bspline.ForEachIndex(make([]int, h.Dim()), h.ne0, func(idx []int) {
		split(0, append([]int(nil), idx...))
	})
	return
}

func breakAt(kv *bspline.KnotVector, e int) float64 {
	u := kv.Unique()
	return u[e]
}

// Anchor returns the Greville point of global function i on its own level
func (h *HTensorBasis) Anchor(i int) []float64 {
	key := h.Key(i)
	return h.levels[key.Level].Anchor(key.Index)
}

// BoundaryFunctions returns the global functions that do not vanish on side
func (h *HTensorBasis) BoundaryFunctions(side types.BoxSide) (bnd utils.Index) {
	var (
		dir = side.Direction()
	)
	for l, tb := range h.levels {
		last := tb.SizeDir(dir) - 1
		for k, flat := range h.xmatrix[l] {
			ti := tb.TensorIndex(flat)[dir]
			if (side.Parameter() && ti == last) || (!side.Parameter() && ti == 0) {
				bnd = append(bnd, h.offsets[l]+k)
			}
		}
	}
	return
}

func strideOf(dim, order int) int {
	switch order {
	case 0:
		return 1
	case 1:
		return dim
	default:
		return bspline.NumSecondDerivs(dim)
	}
}

func evalTensor(tb *bspline.TensorBasis, pt []float64, order int) (utils.Index, []float64, error) {
	switch order {
	case 0:
		return tb.Eval(pt)
	case 1:
		return tb.Deriv(pt)
	default:
		return tb.Deriv2(pt)
	}
}
