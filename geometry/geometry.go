package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r1"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/types"
)

var (
	ErrNonConvergence    = errors.New("newton iteration did not converge")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Geometry maps a parameter box into physical space
type Geometry interface {
	ParDim() int
	GeoDim() int
	ParameterRange() []r1.Interval
	Eval(u []float64) (x []float64, err error)
	// Jacobian is GeoDim x ParDim
	Jacobian(u []float64) (J *mat.Dense, err error)
	NewtonRaphson(target, seed []float64, withinRange bool, tol float64, maxIter int) (u []float64, err error)
}

// ClampPoint moves u into the parameter box, in place
func ClampPoint(rng []r1.Interval, u []float64) []float64 {
	for d, iv := range rng {
		u[d] = iv.ClampPoint(u[d])
	}
	return u
}

/*
Newton solves g(u) = target by Gauss-Newton iteration starting at seed. Each
step solves J du = target - g(u) in the least squares sense, so it also finds
the closest point on lower dimensional maps such as boundary curves. With
withinRange set, iterates are clamped to the parameter range.

The iteration stops when the physical residual drops below tol. When maxIter
is exhausted, or the step stalls, the best iterate is returned together with an
error wrapping ErrNonConvergence; callers may accept it.
*/
func Newton(g Geometry, target, seed []float64, withinRange bool, tol float64, maxIter int) (u []float64, err error) {
	var (
		rng = g.ParameterRange()
		x   []float64
		J   *mat.Dense
		r   = make([]float64, len(target))
		res = math.Inf(1)
	)
	if len(target) != g.GeoDim() || len(seed) != g.ParDim() {
		err = fmt.Errorf("%w: target %d (geometry %d), seed %d (parameters %d)",
			ErrDimensionMismatch, len(target), g.GeoDim(), len(seed), g.ParDim())
		return
	}
	u = append([]float64(nil), seed...)
	if withinRange {
		ClampPoint(rng, u)
	}
	for it := 0; it <= maxIter; it++ {
		if x, err = g.Eval(ClampPoint(rng, append([]float64(nil), u...))); err != nil {
			return
		}
		floats.SubTo(r, target, x)
		if res = floats.Norm(r, 2); res < tol {
			return
		}
		if it == maxIter {
			break
		}
		if J, err = g.Jacobian(ClampPoint(rng, append([]float64(nil), u...))); err != nil {
			return
		}
		var du mat.VecDense
		if serr := du.SolveVec(J, mat.NewVecDense(len(r), r)); serr != nil {
			err = fmt.Errorf("%w: singular jacobian at %v: %v", ErrNonConvergence, u, serr)
			return
		}
		prev := append([]float64(nil), u...)
		floats.Add(u, du.RawVector().Data)
		if withinRange {
			ClampPoint(rng, u)
		}
		if floats.Distance(prev, u, 2) < 1e-15*(1+floats.Norm(u, 2)) {
			break
		}
	}
	err = fmt.Errorf("%w: residual %g above tolerance %g after at most %d iterations",
		ErrNonConvergence, res, tol, maxIter)
	return
}

/*
Restriction is the trace of a geometry on the hyperplane u[Dir] = Value, a
geometry with one parametric dimension less. Its parameters are the remaining
directions in their original order.
*/
type Restriction struct {
	G     Geometry
	Dir   int
	Value float64
}

func Restrict(g Geometry, dir int, value float64) *Restriction {
	return &Restriction{G: g, Dir: dir, Value: value}
}

// BoundaryOf restricts g to one side of its parameter box
func BoundaryOf(g Geometry, side types.BoxSide) *Restriction {
	var (
		dir = side.Direction()
		iv  = g.ParameterRange()[dir]
	)
	if side.Parameter() {
		return Restrict(g, dir, iv.Hi)
	}
	return Restrict(g, dir, iv.Lo)
}

// Lift inserts the fixed coordinate
func (r *Restriction) Lift(v []float64) (u []float64) {
	u = make([]float64, 0, len(v)+1)
	u = append(u, v[:r.Dir]...)
	u = append(u, r.Value)
	u = append(u, v[r.Dir:]...)
	return
}

// Project drops the fixed coordinate
func (r *Restriction) Project(u []float64) (v []float64) {
	v = make([]float64, 0, len(u)-1)
	v = append(v, u[:r.Dir]...)
	v = append(v, u[r.Dir+1:]...)
	return
}

func (r *Restriction) ParDim() int { return r.G.ParDim() - 1 }
func (r *Restriction) GeoDim() int { return r.G.GeoDim() }

func (r *Restriction) ParameterRange() (rng []r1.Interval) {
	full := r.G.ParameterRange()
	rng = append(rng, full[:r.Dir]...)
	rng = append(rng, full[r.Dir+1:]...)
	return
}

func (r *Restriction) Eval(v []float64) (x []float64, err error) {
	return r.G.Eval(r.Lift(v))
}

func (r *Restriction) Jacobian(v []float64) (J *mat.Dense, err error) {
	var (
		full *mat.Dense
	)
	if full, err = r.G.Jacobian(r.Lift(v)); err != nil {
		return
	}
	nr, nc := full.Dims()
	J = mat.NewDense(nr, nc-1, nil)
	for i := 0; i < nr; i++ {
		for j, jj := 0, 0; j < nc; j++ {
			if j == r.Dir {
				continue
			}
			J.Set(i, jj, full.At(i, j))
			jj++
		}
	}
	return
}

func (r *Restriction) NewtonRaphson(target, seed []float64, withinRange bool, tol float64, maxIter int) ([]float64, error) {
	return Newton(r, target, seed, withinRange, tol, maxIter)
}
