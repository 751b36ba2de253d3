package hsplines

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/utils"
)

// SparseVector holds the nonzero coefficients of a function in a finer tensor
// basis, Indices sorted ascending
type SparseVector struct {
	Indices utils.Index
	Coefs   []float64
}

func (sv SparseVector) Len() int { return len(sv.Indices) }

func (sv SparseVector) At(i int) float64 {
	if k := sv.Indices.Find(i); k >= 0 {
		return sv.Coefs[k]
	}
	return 0
}

/*
BasisFunction is the representation of one THB function. A plain function is
the level Level tensor B-spline with flat index Index and has PresLevel -1. A
truncated function is the combination of level PresLevel tensor B-splines with
the coefficients Coefs, where PresLevel is the finest level under its support.
*/
type BasisFunction struct {
	Level, Index int
	PresLevel    int
	Coefs        SparseVector
}

func (bf BasisFunction) IsTruncated() bool { return bf.PresLevel >= 0 }

/*
THBSplineBasis is the truncated hierarchical basis over an HTensorBasis. It
spans the same space as the hierarchical basis, forms a partition of unity and
every function has support within its hierarchical counterpart's. Changing the
hierarchy through the THBSplineBasis recomputes the representation.
*/
type THBSplineBasis struct {
	*HTensorBasis
	funcs  []BasisFunction
	refMat [][]*mat.Dense // level l to l+1, one matrix per direction
}

func NewTHBSplineBasis(base *bspline.TensorBasis) (t *THBSplineBasis) {
	t = &THBSplineBasis{HTensorBasis: NewHTensorBasis(base)}
	t.RepresentBasis()
	return
}

// NewTHBSplineBasisFrom builds the truncated basis over an existing hierarchy
func NewTHBSplineBasisFrom(h *HTensorBasis) (t *THBSplineBasis) {
	t = &THBSplineBasis{HTensorBasis: h}
	t.RepresentBasis()
	return
}

func (t *THBSplineBasis) InsertBox(level int, low, high []int) (err error) {
	if err = t.HTensorBasis.InsertBox(level, low, high); err != nil {
		return
	}
	t.RepresentBasis()
	return
}

func (t *THBSplineBasis) InsertDomainBox(level int, lower, upper []float64) (err error) {
	if err = t.HTensorBasis.InsertDomainBox(level, lower, upper); err != nil {
		return
	}
	t.RepresentBasis()
	return
}

func (t *THBSplineBasis) UniformRefine() {
	t.HTensorBasis.UniformRefine()
	t.RepresentBasis()
}

func (t *THBSplineBasis) updateRefinementMatrices() {
	for l := len(t.refMat); l < t.NumLevels()-1; l++ {
		R, err := t.levels[l].RefinementMatrices(t.levels[l+1])
		if err != nil {
			panic(fmt.Errorf("%w: levels %d and %d are not nested: %v", ErrLogic, l, l+1, err))
		}
		t.refMat = append(t.refMat, R)
	}
}

/*
RepresentBasis computes the truncated representation of every function. A
function of level l whose support reaches a cell of level k > l is refined to
level k one level at a time; after each step the children that are themselves
in the basis, those whose support lies inside Ω_m+1, are removed. Calling it
twice on the same hierarchy yields the same functions.
*/
func (t *THBSplineBasis) RepresentBasis() {
	t.updateRefinementMatrices()
	var (
		funcs     = make([]BasisFunction, t.Size())
		truncated int
	)
	for l := range t.levels {
		for k, flat := range t.xmatrix[l] {
			bf := BasisFunction{Level: l, Index: flat, PresLevel: -1}
			if _, mx := t.SupportLevels(l, flat); mx > l {
				bf.PresLevel = mx
				bf.Coefs = t.truncate(l, flat, mx)
				truncated++
			}
			funcs[t.offsets[l]+k] = bf
		}
	}
	t.funcs = funcs
	logrus.WithFields(logrus.Fields{
		"functions": len(funcs),
		"truncated": truncated,
	}).Debug("truncated basis represented")
}

func (t *THBSplineBasis) truncate(level, flat, pres int) (sv SparseVector) {
	var (
		dim    = t.Dim()
		lo     = t.levels[level].TensorIndex(flat)
		hi     = make([]int, dim)
		sizes  = make([]int, dim)
		window = []float64{1}
	)
	for d := range lo {
		hi[d], sizes[d] = lo[d]+1, 1
	}
	for m := level; m < pres; m++ {
		for d := 0; d < dim; d++ {
			R := t.refMat[m][d]
			rlo, rhi := nonzeroRows(R, lo[d], hi[d])
			sub := R.Slice(rlo, rhi, lo[d], hi[d])
			window, sizes = bspline.ApplyDirection(sub, d, sizes, window)
			lo[d], hi[d] = rlo, rhi
		}
		var (
			fine = t.levels[m+1]
			pos  int
			gidx = make([]int, dim)
		)
		bspline.ForEachIndex(make([]int, dim), sizes, func(idx []int) {
			if window[pos] != 0 {
				for d := range idx {
					gidx[d] = lo[d] + idx[d]
				}
				if mn, _ := t.SupportLevels(m+1, fine.FlatIndex(gidx)); mn >= m+1 {
					window[pos] = 0
				}
			}
			pos++
		})
	}
	var (
		pos  int
		gidx = make([]int, dim)
		tb   = t.levels[pres]
	)
	bspline.ForEachIndex(make([]int, dim), sizes, func(idx []int) {
		if c := window[pos]; c != 0 {
			for d := range idx {
				gidx[d] = lo[d] + idx[d]
			}
			sv.Indices = append(sv.Indices, tb.FlatIndex(gidx))
			sv.Coefs = append(sv.Coefs, c)
		}
		pos++
	})
	return
}

// nonzeroRows returns the row range of R with nonzeros in columns [c0, c1)
func nonzeroRows(R *mat.Dense, c0, c1 int) (r0, r1 int) {
	nr, _ := R.Dims()
	r0, r1 = nr, 0
	for i := 0; i < nr; i++ {
		for j := c0; j < c1; j++ {
			if R.At(i, j) != 0 {
				if i < r0 {
					r0 = i
				}
				r1 = i + 1
				break
			}
		}
	}
	return
}

// Function returns a copy of the representation of global function i
func (t *THBSplineBasis) Function(i int) BasisFunction {
	bf := t.funcs[i]
	bf.Coefs = SparseVector{
		Indices: bf.Coefs.Indices.Copy(),
		Coefs:   append([]float64(nil), bf.Coefs.Coefs...),
	}
	return bf
}

func (t *THBSplineBasis) Functions() (funcs []BasisFunction) {
	funcs = make([]BasisFunction, len(t.funcs))
	for i := range t.funcs {
		funcs[i] = t.Function(i)
	}
	return
}

// TruncationFlag is the presentation level of function i, -1 when it is not truncated
func (t *THBSplineBasis) TruncationFlag(i int) int { return t.funcs[i].PresLevel }

func (t *THBSplineBasis) IsTruncated(i int) bool { return t.funcs[i].IsTruncated() }

func (t *THBSplineBasis) NumTruncated() (n int) {
	for _, bf := range t.funcs {
		if bf.IsTruncated() {
			n++
		}
	}
	return
}

// GetCoefs returns the coefficients of a truncated function in its presentation level
func (t *THBSplineBasis) GetCoefs(i int) (sv SparseVector, err error) {
	if i < 0 || i >= len(t.funcs) {
		err = fmt.Errorf("%w: function index %d out of range [0,%d)", ErrLogic, i, len(t.funcs))
		return
	}
	bf := t.funcs[i]
	if !bf.IsTruncated() {
		err = fmt.Errorf("%w: function %d (level %d, index %d) is not truncated",
			ErrLogic, i, bf.Level, bf.Index)
		return
	}
	sv = t.Function(i).Coefs
	return
}

// levelValues is a tensor level evaluated at one point
type levelValues struct {
	act  utils.Index
	vals []float64
}

type levelCache map[int]levelValues

func (t *THBSplineBasis) levelEval(level int, pt []float64, order int, cache levelCache) (lv levelValues, err error) {
	if cache != nil {
		var ok bool
		if lv, ok = cache[level]; ok {
			return
		}
	}
	if lv.act, lv.vals, err = evalTensor(t.levels[level], pt, order); err != nil {
		return
	}
	if cache != nil {
		cache[level] = lv
	}
	return
}

// evalFunction writes the stride values of function bf at pt into out
func (t *THBSplineBasis) evalFunction(bf BasisFunction, pt []float64, order int,
	cache levelCache, out []float64) (err error) {
	var (
		stride = len(out)
		lv     levelValues
	)
	for k := range out {
		out[k] = 0
	}
	if !bf.IsTruncated() {
		if lv, err = t.levelEval(bf.Level, pt, order, cache); err != nil {
			return
		}
		if k := sort.SearchInts(lv.act, bf.Index); k < len(lv.act) && lv.act[k] == bf.Index {
			copy(out, lv.vals[k*stride:(k+1)*stride])
		}
		return
	}
	if lv, err = t.levelEval(bf.PresLevel, pt, order, cache); err != nil {
		return
	}
	// both index lists are sorted
	for i, j := 0, 0; i < len(lv.act) && j < len(bf.Coefs.Indices); {
		switch a, b := lv.act[i], bf.Coefs.Indices[j]; {
		case a < b:
			i++
		case a > b:
			j++
		default:
			c := bf.Coefs.Coefs[j]
			for k := range out {
				out[k] += c * lv.vals[i*stride+k]
			}
			i++
			j++
		}
	}
	return
}

func (t *THBSplineBasis) evalAll(pt []float64, order int, fast bool) (act utils.Index, vals []float64, err error) {
	var (
		stride = strideOf(t.Dim(), order)
		cache  levelCache
	)
	if fast {
		cache = make(levelCache)
	}
	if act, err = t.Active(pt); err != nil {
		return
	}
	vals = make([]float64, len(act)*stride)
	for k, i := range act {
		if err = t.evalFunction(t.funcs[i], pt, order, cache, vals[k*stride:(k+1)*stride]); err != nil {
			return
		}
	}
	return
}

// Eval evaluates the truncated functions active at pt, ordered by global index
func (t *THBSplineBasis) Eval(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 0, false)
}

func (t *THBSplineBasis) Deriv(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 1, false)
}

func (t *THBSplineBasis) Deriv2(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 2, false)
}

// FastEval is Eval with each tensor level evaluated once per point
func (t *THBSplineBasis) FastEval(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 0, true)
}

func (t *THBSplineBasis) FastDeriv(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 1, true)
}

func (t *THBSplineBasis) FastDeriv2(pt []float64) (utils.Index, []float64, error) {
	return t.evalAll(pt, 2, true)
}

func (t *THBSplineBasis) EvalSingle(i int, pt []float64) (val float64, err error) {
	if err = bspline.CheckPoint(t.Domain(), pt); err != nil {
		return
	}
	out := make([]float64, 1)
	err = t.evalFunction(t.funcs[i], pt, 0, nil, out)
	val = out[0]
	return
}

// HierarchicalEval evaluates the untruncated hierarchical B-splines at pt
func (t *THBSplineBasis) HierarchicalEval(pt []float64) (utils.Index, []float64, error) {
	return t.HTensorBasis.Eval(pt)
}

func (t *THBSplineBasis) String() string {
	return fmt.Sprintf("THB basis: dim %d, %d levels, %d functions (%d truncated)",
		t.Dim(), t.NumLevels(), t.Size(), t.NumTruncated())
}
