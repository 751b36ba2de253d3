package bspline

import (
	"fmt"

	"github.com/golang/geo/r1"

	"github.com/notargets/goiga/utils"
)

/*
Basis is the query interface consumed by assemblers. Every evaluation returns
the indices of the functions that may be non-zero at the point together with
their values, in the same order as Active.

Deriv returns Dim() partial derivatives per active function, function major.
Deriv2 returns Dim()*(Dim()+1)/2 second derivatives per active function: the
pure derivatives d2/dxk2 first, then the mixed ones d2/dxidxj for i < j in
lexicographic order.
*/
type Basis interface {
	Dim() int
	Size() int
	Domain() []r1.Interval
	Active(pt []float64) (act utils.Index, err error)
	Eval(pt []float64) (act utils.Index, vals []float64, err error)
	Deriv(pt []float64) (act utils.Index, ders []float64, err error)
	Deriv2(pt []float64) (act utils.Index, ders []float64, err error)
	EvalSingle(i int, pt []float64) (val float64, err error)
	Elements() []Element
}

// Element is an axis aligned cell on which every basis function is a polynomial
type Element struct {
	Lower, Upper []float64
	Level        int
}

func (e Element) Center() (c []float64) {
	c = make([]float64, len(e.Lower))
	for d := range c {
		c[d] = 0.5 * (e.Lower[d] + e.Upper[d])
	}
	return
}

func (e Element) Volume() (v float64) {
	v = 1
	for d := range e.Lower {
		v *= e.Upper[d] - e.Lower[d]
	}
	return
}

// NumSecondDerivs is the count of distinct second derivatives in dim dimensions
func NumSecondDerivs(dim int) int { return dim * (dim + 1) / 2 }

// ForEachIndex calls fn for every integer tuple of the box [lo, hi) with
// direction 0 varying fastest. fn must not retain idx.
func ForEachIndex(lo, hi []int, fn func(idx []int)) {
	var (
		d   = len(lo)
		idx = make([]int, d)
	)
	for k := 0; k < d; k++ {
		if hi[k] <= lo[k] {
			return
		}
	}
	copy(idx, lo)
	for {
		fn(idx)
		k := 0
		for ; k < d; k++ {
			idx[k]++
			if idx[k] < hi[k] {
				break
			}
			idx[k] = lo[k]
		}
		if k == d {
			return
		}
	}
}

// CheckPoint verifies the dimension of pt and that it lies inside the domain
func CheckPoint(domain []r1.Interval, pt []float64) (err error) {
	if len(pt) != len(domain) {
		return fmt.Errorf("point has dimension %d, basis has %d", len(pt), len(domain))
	}
	for d, iv := range domain {
		if pt[d] < iv.Lo-utils.NODETOL || pt[d] > iv.Hi+utils.NODETOL {
			return fmt.Errorf("%w: coordinate %d = %v not in [%v, %v]", ErrOutOfDomain, d, pt[d], iv.Lo, iv.Hi)
		}
	}
	return
}

/*
EvalPoints evaluates b at each column of points. The result has one column per
point and as many rows as the largest active set; shorter columns are zero
padded, so act[j] tells which rows are meaningful for point j.
*/
func EvalPoints(b Basis, points utils.Matrix) (act []utils.Index, vals utils.Matrix, err error) {
	return batch(points, 1, b.Eval)
}

func DerivPoints(b Basis, points utils.Matrix) (act []utils.Index, ders utils.Matrix, err error) {
	return batch(points, b.Dim(), b.Deriv)
}

func Deriv2Points(b Basis, points utils.Matrix) (act []utils.Index, ders utils.Matrix, err error) {
	return batch(points, NumSecondDerivs(b.Dim()), b.Deriv2)
}

func batch(points utils.Matrix, stride int,
	eval func(pt []float64) (utils.Index, []float64, error)) (act []utils.Index, R utils.Matrix, err error) {
	var (
		N      = points.Cols()
		values = make([][]float64, N)
		maxAct int
	)
	act = make([]utils.Index, N)
	for j := 0; j < N; j++ {
		if act[j], values[j], err = eval(points.Col(j)); err != nil {
			return
		}
		if len(act[j]) > maxAct {
			maxAct = len(act[j])
		}
	}
	if maxAct == 0 {
		maxAct = 1
	}
	R = utils.NewMatrix(maxAct*stride, N)
	for j := 0; j < N; j++ {
		for i, val := range values[j] {
			R.M.Set(i, j, val)
		}
	}
	return
}
