package remap

import (
	"fmt"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/utils"
)

/*
Quadrature returns a Gauss-Legendre rule with nq points per direction on every
cell of the breakpoint grid. Points are the columns of pts1, on side 1, and of
pts2, their images on side 2. The weights integrate over the parameters of
side 1; the normal direction carries weight one.
*/
func (r *InterfaceRemap) Quadrature(nq int) (pts1, pts2 utils.Matrix, wts []float64, err error) {
	var breaks [][]float64
	if nq < 1 {
		err = fmt.Errorf("%w: %d quadrature points per direction", ErrInvalidOptions, nq)
		return
	}
	if breaks, err = r.Breakpoints(); err != nil {
		return
	}
	var (
		dim    = r.Dim()
		normal = r.bi.First.Side.Direction()
		xs, ws = make([][]float64, dim), make([][]float64, dim)
		lo, n  = make([]int, dim), make([]int, dim)
		x, w   = make([]float64, nq), make([]float64, nq)
		points [][]float64
	)
	for d, b := range breaks {
		if d == normal {
			xs[d], ws[d] = []float64{b[0]}, []float64{1}
		} else {
			for i := 0; i+1 < len(b); i++ {
				quad.Legendre{}.FixedLocations(x, w, b[i], b[i+1])
				xs[d] = append(xs[d], x...)
				ws[d] = append(ws[d], w...)
			}
		}
		n[d] = len(xs[d])
	}
	bspline.ForEachIndex(lo, n, func(idx []int) {
		var (
			pt  = make([]float64, dim)
			wgt = 1.
		)
		for d, i := range idx {
			pt[d], wgt = xs[d][i], wgt*ws[d][i]
		}
		points = append(points, pt)
		wts = append(wts, wgt)
	})
	if len(points) == 0 {
		err = fmt.Errorf("%w: no breakpoint cells on %v", ErrNoOverlap, r.bi)
		return
	}
	pts1 = utils.NewPoints(points...)
	pts2, err = r.EvalPoints(pts1)
	return
}
