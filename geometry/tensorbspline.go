package geometry

import (
	"fmt"

	"github.com/golang/geo/r1"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
)

/*
TensorBSpline is a tensor product B-spline map. Coefs holds one row per basis
function (flat index order of the basis) and one column per physical
coordinate.
*/
type TensorBSpline struct {
	basis *bspline.TensorBasis
	coefs *mat.Dense
}

func NewTensorBSpline(basis *bspline.TensorBasis, coefs *mat.Dense) (g *TensorBSpline, err error) {
	nr, _ := coefs.Dims()
	if nr != basis.Size() {
		err = fmt.Errorf("%w: %d coefficients for a basis of size %d", ErrDimensionMismatch, nr, basis.Size())
		return
	}
	g = &TensorBSpline{basis: basis, coefs: mat.DenseCopyOf(coefs)}
	return
}

// NewGrevilleInterpolant sets each coefficient to f at the function's Greville
// anchor. The resulting map reproduces f exactly when f is affine.
func NewGrevilleInterpolant(basis *bspline.TensorBasis, f func(u []float64) []float64) (g *TensorBSpline) {
	var (
		n     = basis.Size()
		first = f(basis.Anchor(0))
	)
	g = &TensorBSpline{basis: basis, coefs: mat.NewDense(n, len(first), nil)}
	for i := 0; i < n; i++ {
		g.coefs.SetRow(i, f(basis.Anchor(i)))
	}
	return
}

// NewBox is the affine map of the parameter box of basis onto [lower, upper]
func NewBox(basis *bspline.TensorBasis, lower, upper []float64) *TensorBSpline {
	dom := basis.Domain()
	return NewGrevilleInterpolant(basis, func(u []float64) (x []float64) {
		x = make([]float64, len(lower))
		for d := range x {
			s := (u[d] - dom[d].Lo) / dom[d].Length()
			x[d] = lower[d] + s*(upper[d]-lower[d])
		}
		return
	})
}

func (g *TensorBSpline) Basis() *bspline.TensorBasis { return g.basis }

func (g *TensorBSpline) Coefs() *mat.Dense { return g.coefs }

func (g *TensorBSpline) ParDim() int { return g.basis.Dim() }

func (g *TensorBSpline) GeoDim() int { _, c := g.coefs.Dims(); return c }

func (g *TensorBSpline) ParameterRange() []r1.Interval { return g.basis.Domain() }

func (g *TensorBSpline) Eval(u []float64) (x []float64, err error) {
	var (
		act  []int
		vals []float64
	)
	if act, vals, err = g.basis.Eval(u); err != nil {
		return
	}
	x = make([]float64, g.GeoDim())
	for k, i := range act {
		for c := range x {
			x[c] += vals[k] * g.coefs.At(i, c)
		}
	}
	return
}

func (g *TensorBSpline) Jacobian(u []float64) (J *mat.Dense, err error) {
	var (
		act  []int
		ders []float64
		pd   = g.ParDim()
	)
	if act, ders, err = g.basis.Deriv(u); err != nil {
		return
	}
	J = mat.NewDense(g.GeoDim(), pd, nil)
	for k, i := range act {
		for c := 0; c < g.GeoDim(); c++ {
			for d := 0; d < pd; d++ {
				J.Set(c, d, J.At(c, d)+ders[k*pd+d]*g.coefs.At(i, c))
			}
		}
	}
	return
}

func (g *TensorBSpline) NewtonRaphson(target, seed []float64, withinRange bool, tol float64, maxIter int) ([]float64, error) {
	return Newton(g, target, seed, withinRange, tol, maxIter)
}

// UniformRefine returns the same map expressed in the uniformly refined basis
func (g *TensorBSpline) UniformRefine() *TensorBSpline {
	var (
		fine   = g.basis.UniformRefine()
		R, err = g.basis.RefinementMatrices(fine)
		sizes  = g.basis.Sizes()
	)
	if err != nil {
		panic(err)
	}
	coefs := mat.NewDense(fine.Size(), g.GeoDim(), nil)
	for c := 0; c < g.GeoDim(); c++ {
		col, _ := bspline.RefineCoefs(R, sizes, mat.Col(nil, c, g.coefs))
		coefs.SetCol(c, col)
	}
	return &TensorBSpline{basis: fine, coefs: coefs}
}

// Scale stretches physical coordinate dir by factor, in place
func (g *TensorBSpline) Scale(factor float64, dir int) *TensorBSpline {
	nr, _ := g.coefs.Dims()
	for i := 0; i < nr; i++ {
		g.coefs.Set(i, dir, factor*g.coefs.At(i, dir))
	}
	return g
}

// Corners returns the physical images of the parameter box corners; corner k
// has its coordinate in direction d at the upper bound iff bit d of k is set
func (g *TensorBSpline) Corners() (corners [][]float64) {
	var (
		dom = g.ParameterRange()
		d   = len(dom)
	)
	for k := 0; k < 1<<uint(d); k++ {
		u := make([]float64, d)
		for dir := 0; dir < d; dir++ {
			if k&(1<<uint(dir)) != 0 {
				u[dir] = dom[dir].Hi
			} else {
				u[dir] = dom[dir].Lo
			}
		}
		x, err := g.Eval(u)
		if err != nil {
			panic(err)
		}
		corners = append(corners, x)
	}
	return
}
