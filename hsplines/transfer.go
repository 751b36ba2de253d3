package hsplines

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
)

// transferTol drops round off from the transfer matrix
const transferTol = 1e-13

// Clone returns an independent copy of the hierarchy, the tensor levels are shared
func (h *HTensorBasis) Clone() (c *HTensorBasis) {
	c = &HTensorBasis{
		levels:    append([]*bspline.TensorBasis(nil), h.levels...),
		ne0:       h.ne0.Copy(),
		cellLevel: append([]int(nil), h.cellLevel...),
	}
	c.rebuild()
	return
}

// Clone returns an independent copy, refining the copy leaves t unchanged
func (t *THBSplineBasis) Clone() *THBSplineBasis {
	return NewTHBSplineBasisFrom(t.HTensorBasis.Clone())
}

// levelCell returns the finest cell, below the level elements [lo, hi), whose
// cell level is exactly level
func (h *HTensorBasis) levelCell(level int, lo, hi []int) (idx []int, ok bool) {
	L := len(h.levels) - 1
	for l := level; ; l++ {
		ok = false
		bspline.ForEachIndex(lo, hi, func(e []int) {
			if !ok && h.minLevel[l][h.elementFlat(l, e)] == level {
				idx, ok = append([]int(nil), e...), true
			}
		})
		if !ok || l == L {
			return
		}
		for d, i := range idx {
			lo[d], hi[d] = 2*i, 2*i+2
		}
	}
}

// cellCenter is the midpoint of the finest cell idx
func (h *HTensorBasis) cellCenter(idx []int) (c []float64) {
	tb := h.levels[len(h.levels)-1]
	c = make([]float64, len(idx))
	for d, i := range idx {
		kv := tb.Component(d)
		c[d] = 0.5 * (breakAt(kv, i) + breakAt(kv, i+1))
	}
	return
}

// coefWindow is a function expanded in a box of one tensor level
type coefWindow struct {
	level     int
	lo, sizes []int
	coefs     []float64
}

func (w coefWindow) at(idx []int) float64 {
	var (
		pos, stride = 0, 1
	)
	for d, i := range idx {
		k := i - w.lo[d]
		if k < 0 || k >= w.sizes[d] {
			return 0
		}
		pos += k * stride
		stride *= w.sizes[d]
	}
	return w.coefs[pos]
}

// window expands bf in its own representation level
func (t *THBSplineBasis) window(bf BasisFunction) (w coefWindow) {
	dim := t.Dim()
	if !bf.IsTruncated() {
		w = coefWindow{
			level: bf.Level,
			lo:    t.levels[bf.Level].TensorIndex(bf.Index),
			sizes: make([]int, dim),
			coefs: []float64{1},
		}
		for d := range w.sizes {
			w.sizes[d] = 1
		}
		return
	}
	var (
		tb = t.levels[bf.PresLevel]
		hi = make([]int, dim)
	)
	w = coefWindow{level: bf.PresLevel, lo: make([]int, dim), sizes: make([]int, dim)}
	for d := range w.lo {
		w.lo[d], hi[d] = math.MaxInt, math.MinInt
	}
	for _, flat := range bf.Coefs.Indices {
		for d, i := range tb.TensorIndex(flat) {
			w.lo[d], hi[d] = min(w.lo[d], i), max(hi[d], i+1)
		}
	}
	n := 1
	for d := range w.sizes {
		w.sizes[d] = hi[d] - w.lo[d]
		n *= w.sizes[d]
	}
	w.coefs = make([]float64, n)
	for k, flat := range bf.Coefs.Indices {
		var (
			pos, stride = 0, 1
		)
		for d, i := range tb.TensorIndex(flat) {
			pos += (i - w.lo[d]) * stride
			stride *= w.sizes[d]
		}
		w.coefs[pos] = bf.Coefs.Coefs[k]
	}
	return
}

// lift refines the window up to the target level
func (t *THBSplineBasis) lift(w coefWindow, target int) coefWindow {
	lo := append([]int(nil), w.lo...)
	coefs, sizes := w.coefs, w.sizes
	for m := w.level; m < target; m++ {
		for d := range lo {
			R := t.refMat[m][d]
			rlo, rhi := nonzeroRows(R, lo[d], lo[d]+sizes[d])
			coefs, sizes = bspline.ApplyDirection(R.Slice(rlo, rhi, lo[d], lo[d]+sizes[d]), d, sizes, coefs)
			lo[d] = rlo
		}
	}
	return coefWindow{level: target, lo: lo, sizes: sizes, coefs: coefs}
}

/*
localCoefs returns the level coefficients of w on the cell around pt, one per
level function that does not vanish there. The window must not be coarser than
level and the function it holds must be a level polynomial on the cell.
*/
func (t *THBSplineBasis) localCoefs(w coefWindow, level int, pt []float64) (local []float64, err error) {
	var (
		dim    = t.Dim()
		first  = t.levels[w.level].FirstActive(pt)
		nLocal = make([]int, dim)
		idx    = make([]int, dim)
	)
	for d := range nLocal {
		nLocal[d] = t.levels[level].Degree(d) + 1
	}
	bspline.ForEachIndex(make([]int, dim), nLocal, func(k []int) {
		for d := range k {
			idx[d] = first[d] + k[d]
		}
		local = append(local, w.at(idx))
	})
	for d := 0; d < dim; d++ {
		p1 := nLocal[d]
		C := mat.NewDense(p1, p1, nil)
		for i := 0; i < p1; i++ {
			C.Set(i, i, 1)
		}
		for m := level; m < w.level; m++ {
			var (
				fine   = t.levels[m+1].Component(d).FirstActive(pt[d])
				coarse = t.levels[m].Component(d).FirstActive(pt[d])
				B      mat.Dense
			)
			B.Mul(t.refMat[m][d].Slice(fine, fine+p1, coarse, coarse+p1), C)
			C = &B
		}
		if w.level > level {
			var Cinv mat.Dense
			if err = Cinv.Inverse(C); err != nil {
				return nil, fmt.Errorf("%w: local refinement block of level %d: %v", ErrLogic, level, err)
			}
			local, _ = bspline.ApplyDirection(&Cinv, d, nLocal, local)
		}
	}
	return
}

// checkRefinementOf confirms that every function of old lies in the span of t
func (t *THBSplineBasis) checkRefinementOf(old *THBSplineBasis) (err error) {
	if old.Dim() != t.Dim() {
		return fmt.Errorf("%w: transfer from dimension %d to %d", ErrLogic, old.Dim(), t.Dim())
	}
	if old.NumLevels() > t.NumLevels() {
		return fmt.Errorf("%w: transfer from %d levels to %d", ErrLogic, old.NumLevels(), t.NumLevels())
	}
	for l, tb := range old.levels {
		for d := 0; d < tb.Dim(); d++ {
			a, b := tb.Component(d), t.levels[l].Component(d)
			if a.Degree() != b.Degree() || a.Len() != b.Len() || !floats.Equal(a.Knots(), b.Knots()) {
				return fmt.Errorf("%w: level %d direction %d knots differ: %v and %v", ErrLogic, l, d, a, b)
			}
		}
	}
	L := old.NumLevels() - 1
	for e, lev := range old.cellLevel {
		if t.minLevel[L][e] < lev {
			return fmt.Errorf("%w: cell %d of level %d is coarsened to level %d", ErrLogic, e, lev, t.minLevel[L][e])
		}
	}
	return
}

/*
Transfer returns the matrix T, of size t.Size() x old.Size(), that expresses
the functions of old in the refined basis t: old function j is the sum over i
of T[i][j] times function i of t, so coefficients transfer as c = T c_old.

Function i of level k is read off a cell of level k under its support. On that
cell every other function of t is either zero or, after truncation, free of
the level k function, so its coefficient is the level k local coefficient of
the old function there. Old functions are lifted with the refinement matrices
of t and brought back to level k by the inverse of the local refinement block.
*/
func (t *THBSplineBasis) Transfer(old *THBSplineBasis) (T *sparse.CSR, err error) {
	if err = t.checkRefinementOf(old); err != nil {
		return
	}
	var (
		dok    = sparse.NewDOK(t.Size(), old.Size())
		lifted = make(map[[2]int]coefWindow)
	)
	for i, bf := range t.funcs {
		var (
			tb     = t.levels[bf.Level]
			lo, hi = tb.ElementSupport(bf.Index)
			pt     []float64
			pos    = make([]int, t.Dim())
		)
		cell, ok := t.levelCell(bf.Level, lo, hi)
		if !ok {
			return nil, fmt.Errorf("%w: no cell of level %d under function %d", ErrLogic, bf.Level, i)
		}
		pt = t.cellCenter(cell)
		first := tb.FirstActive(pt)
		for d, ti := range tb.TensorIndex(bf.Index) {
			pos[d] = ti - first[d]
		}
		act, aerr := old.Active(pt)
		if aerr != nil {
			return nil, aerr
		}
		for _, j := range act {
			var (
				w     = old.window(old.funcs[j])
				level = max(w.level, bf.Level)
				key   = [2]int{j, level}
				local []float64
			)
			if lw, found := lifted[key]; found {
				w = lw
			} else {
				w = t.lift(w, level)
				lifted[key] = w
			}
			if local, err = t.localCoefs(w, bf.Level, pt); err != nil {
				return
			}
			var (
				k, stride = 0, 1
			)
			for d, p := range pos {
				k += p * stride
				stride *= tb.Degree(d) + 1
			}
			if v := local[k]; math.Abs(v) > transferTol {
				dok.Set(i, j, v)
			}
		}
	}
	T = dok.ToCSR()
	return
}
