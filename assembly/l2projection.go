package assembly

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/utils"
)

var ErrSingular = errors.New("mass matrix is not positive definite")

// DefaultQuadraturePoints is used per direction when NQ is not set
const DefaultQuadraturePoints = 4

type fastEvaluator interface {
	FastEval(pt []float64) (utils.Index, []float64, error)
}

/*
L2Projection computes the coefficients c minimizing ||f - sum c_i N_i|| over
the parameter domain of Basis. Elements are split into NP contiguous buckets,
each worker integrates its elements privately and scatters into the shared
mass matrix under a lock.

The basis must not be refined while a projection runs.
*/
type L2Projection struct {
	Basis bspline.Basis
	NP    int // number of workers
	NQ    int // Gauss-Legendre points per direction
}

func NewL2Projection(b bspline.Basis, NP int) *L2Projection {
	return &L2Projection{Basis: b, NP: NP, NQ: DefaultQuadraturePoints}
}

type quadPoint struct {
	x []float64
	w float64
}

// elementQuadrature is the tensor Gauss-Legendre rule mapped onto el
func (l2 *L2Projection) elementQuadrature(el bspline.Element) (pts []quadPoint) {
	var (
		nq     = l2.NQ
		dim    = len(el.Lower)
		xs, ws = make([][]float64, dim), make([][]float64, dim)
		lo, hi = make([]int, dim), make([]int, dim)
	)
	if nq <= 0 {
		nq = DefaultQuadraturePoints
	}
	for d := 0; d < dim; d++ {
		xs[d], ws[d] = make([]float64, nq), make([]float64, nq)
		quad.Legendre{}.FixedLocations(xs[d], ws[d], el.Lower[d], el.Upper[d])
		hi[d] = nq
	}
	bspline.ForEachIndex(lo, hi, func(idx []int) {
		qp := quadPoint{x: make([]float64, dim), w: 1}
		for d, i := range idx {
			qp.x[d] = xs[d][i]
			qp.w *= ws[d][i]
		}
		pts = append(pts, qp)
	})
	return
}

func (l2 *L2Projection) eval(pt []float64) (utils.Index, []float64, error) {
	if fe, ok := l2.Basis.(fastEvaluator); ok {
		return fe.FastEval(pt)
	}
	return l2.Basis.Eval(pt)
}

/*
localSystem integrates the element mass matrix and load vector. Rows and
columns of the block follow act, the union of the functions active at the
element's quadrature points.
*/
func (l2 *L2Projection) localSystem(el bspline.Element, f func(x []float64) float64) (act utils.Index,
	M *mat.Dense, b []float64, err error) {
	type sample struct {
		act  utils.Index
		vals []float64
		w, f float64
	}
	var (
		samples []sample
		pos     = make(map[int]int)
	)
	for _, qp := range l2.elementQuadrature(el) {
		var s = sample{w: qp.w, f: f(qp.x)}
		if s.act, s.vals, err = l2.eval(qp.x); err != nil {
			return
		}
		for _, i := range s.act {
			if _, ok := pos[i]; !ok {
				pos[i] = len(act)
				act = append(act, i)
			}
		}
		samples = append(samples, s)
	}
	M = mat.NewDense(len(act), len(act), nil)
	b = make([]float64, len(act))
	for _, s := range samples {
		for ii, i := range s.act {
			wi := s.w * s.vals[ii]
			b[pos[i]] += wi * s.f
			for jj, j := range s.act {
				ki, kj := pos[i], pos[j]
				M.Set(ki, kj, M.At(ki, kj)+wi*s.vals[jj])
			}
		}
	}
	return
}

// Assemble integrates the global mass matrix and the load vector of f
func (l2 *L2Projection) Assemble(f func(x []float64) float64) (M utils.DOK, b []float64, err error) {
	var (
		n     = l2.Basis.Size()
		elems = l2.Basis.Elements()
		pm    = utils.NewPartitionMap(l2.NP, len(elems))
		errs  = make([]error, pm.ParallelDegree)
		mu    sync.Mutex
	)
	M = utils.NewDOK(n, n)
	b = make([]float64, n)
	pm.ParallelFor(func(np, kMin, kMax int) {
		for k := kMin; k < kMax; k++ {
			act, Mloc, bloc, lerr := l2.localSystem(elems[k], f)
			if lerr != nil {
				errs[np] = fmt.Errorf("element %d: %w", k, lerr)
				return
			}
			mu.Lock()
			M.AddBlock(act, act, Mloc)
			for ii, i := range act {
				b[i] += bloc[ii]
			}
			mu.Unlock()
		}
	})
	if err = multierr.Combine(errs...); err != nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"functions": n,
		"elements":  len(elems),
		"nonzeros":  M.NNZ(),
		"workers":   pm.ParallelDegree,
	}).Debug("mass matrix assembled")
	return
}

// Solve factors the mass matrix by Cholesky
func Solve(M utils.DOK, b []float64) (coefs []float64, err error) {
	var (
		S  = M.ToSymDense()
		ch mat.Cholesky
		x  mat.VecDense
	)
	if ok := ch.Factorize(S); !ok {
		err = fmt.Errorf("%w: %d functions", ErrSingular, len(b))
		return
	}
	if err = ch.SolveVecTo(&x, mat.NewVecDense(len(b), b)); err != nil {
		return
	}
	coefs = append([]float64(nil), x.RawVector().Data...)
	return
}

func (l2 *L2Projection) Project(f func(x []float64) float64) (coefs []float64, err error) {
	var (
		M utils.DOK
		b []float64
	)
	if M, b, err = l2.Assemble(f); err != nil {
		return
	}
	if coefs, err = Solve(M, b); err != nil {
		return
	}
	r := M.ToCSR().MulVec(coefs)
	floats.Sub(r, b)
	logrus.WithField("residual", floats.Norm(r, 2)).Debug("projection solved")
	return
}

// Evaluate sums the coefficients against the basis functions active at pt
func Evaluate(b bspline.Basis, coefs []float64, pt []float64) (val float64, err error) {
	var (
		act  utils.Index
		vals []float64
	)
	if len(coefs) != b.Size() {
		err = fmt.Errorf("%d coefficients for %d functions", len(coefs), b.Size())
		return
	}
	if act, vals, err = b.Eval(pt); err != nil {
		return
	}
	for k, i := range act {
		val += coefs[i] * vals[k]
	}
	return
}

// L2Error integrates (f - sum c_i N_i)^2 over the elements and returns its root
func (l2 *L2Projection) L2Error(f func(x []float64) float64, coefs []float64) (e float64, err error) {
	var (
		elems = l2.Basis.Elements()
		pm    = utils.NewPartitionMap(l2.NP, len(elems))
		sums  = make([]float64, pm.ParallelDegree)
		errs  = make([]error, pm.ParallelDegree)
	)
	pm.ParallelFor(func(np, kMin, kMax int) {
		for k := kMin; k < kMax; k++ {
			for _, qp := range l2.elementQuadrature(elems[k]) {
				val, verr := Evaluate(l2.Basis, coefs, qp.x)
				if verr != nil {
					errs[np] = verr
					return
				}
				sums[np] += qp.w * utils.POW(f(qp.x)-val, 2)
			}
		}
	})
	if err = multierr.Combine(errs...); err != nil {
		return
	}
	e = math.Sqrt(floats.Sum(sums))
	return
}
