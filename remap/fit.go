package remap

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r1"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/geometry"
	"github.com/notargets/goiga/utils"
)

// curveFit is the tangential side 2 coordinate as a spline of the tangential
// side 1 coordinate, for 2-D patches
type curveFit struct {
	kv          *bspline.KnotVector
	coefs       []float64
	t1, t2, n2  int
	normalValue float64
	range2      r1.Interval
}

func (f *curveFit) value(s float64) (val float64) {
	var (
		p    = f.kv.Degree()
		span = f.kv.FindSpan(s)
	)
	for j, n := range f.kv.BasisFuns(span, s) {
		val += n * f.coefs[span-p+j]
	}
	return
}

func (f *curveFit) eval(u []float64) (v []float64) {
	v = make([]float64, 2)
	v[f.t2] = f.range2.ClampPoint(f.value(u[f.t1]))
	v[f.n2] = f.normalValue
	return
}

/*
constructReparam samples side 1 uniformly, projects each sample onto side 2 by
boundary Newton seeded at the nearest of an equally sized side 2 sample, and
fits the projected parameters by least squares. The fit error is the largest
physical distance between the two sides at a second, shifted set of samples.
*/
func (r *InterfaceRemap) constructReparam() (err error) {
	var (
		n1, n2   = r.bi.First.Side.Direction(), r.bi.Second.Side.Direction()
		t1, t2   = 1 - n1, 1 - n2
		ns       = r.opts.FitSamples
		iv1, iv2 = r.bounds1[t1], r.bounds2[t2]
		s        = utils.Linspace(iv1.Lo, iv1.Hi, ns)
		t        = utils.Linspace(iv2.Lo, iv2.Hi, ns)
		y        = make([][]float64, ns)
		b        = make([]float64, ns)
	)
	for j := range t {
		if y[j], err = r.side2.Eval([]float64{t[j]}); err != nil {
			return
		}
	}
	for k := range s {
		var x, v []float64
		if x, err = r.side1.Eval([]float64{s[k]}); err != nil {
			return
		}
		nearest, best := 0, math.Inf(1)
		for j := range y {
			if d := floats.Distance(x, y[j], 2); d < best {
				nearest, best = j, d
			}
		}
		v, err = r.side2.NewtonRaphson(x, []float64{t[nearest]}, true, r.opts.FitTolerance, r.opts.MaxIterations)
		if err != nil {
			if !errors.Is(err, geometry.ErrNonConvergence) {
				return
			}
			r.warn(fmt.Errorf("projecting fit sample %d at %g: %w", k, s[k], err))
			err = nil
		}
		b[k] = v[0]
	}
	var (
		kv = bspline.NewUniformKnotVector(iv1.Lo, iv1.Hi, r.opts.FitInterior, r.opts.FitDegree)
		p  = kv.Degree()
		A  = mat.NewDense(ns, kv.Size(), nil)
		c  mat.VecDense
	)
	for k, sk := range s {
		span := kv.FindSpan(sk)
		for j, n := range kv.BasisFuns(span, sk) {
			A.Set(k, span-p+j, n)
		}
	}
	if err = c.SolveVec(A, mat.NewVecDense(ns, b)); err != nil {
		return fmt.Errorf("fitting interface %v: %w", r.bi, err)
	}
	r.fit = &curveFit{
		kv:          kv,
		coefs:       append([]float64(nil), c.RawVector().Data...),
		t1:          t1,
		t2:          t2,
		n2:          n2,
		normalValue: r.bounds2[n2].Lo,
		range2:      iv2,
	}
	for _, sk := range utils.Linspace(iv1.Lo, iv1.Hi, ns-1) {
		var (
			u      = r.side1.Lift([]float64{sk})
			x1, x2 []float64
		)
		if x1, err = r.geo1.Eval(u); err != nil {
			return
		}
		if x2, err = r.geo2.Eval(r.fit.eval(u)); err != nil {
			return
		}
		r.fitError = math.Max(r.fitError, floats.Distance(x1, x2, 2))
	}
	logrus.WithFields(logrus.Fields{
		"interface": r.bi.String(),
		"error":     r.fitError,
	}).Info("interface reparametrization fitted")
	return
}

/*
constructBreaksNotAffine maps the element boundaries of both sides into
physical space and inverts them onto side 1. Inversions closer than 1e-4 are
merged.
*/
func (r *InterfaceRemap) constructBreaksNotAffine() {
	var (
		n1       = r.bi.First.Side.Direction()
		t1       = 1 - n1
		physical [][]float64
		breaks   []float64
	)
	collect := func(g geometry.Geometry, corners [][]float64, bounds []r1.Interval, t int) {
		for _, c := range corners {
			if c[t] < bounds[t].Lo-nonAffineBreakTol || c[t] > bounds[t].Hi+nonAffineBreakTol {
				continue
			}
			if x, err := g.Eval(geometry.ClampPoint(bounds, c)); err == nil {
				physical = append(physical, x)
			}
		}
	}
	collect(r.geo1, boxCorners(r.bounds1), r.bounds1, t1)
	collect(r.geo1, r.sideElementCorners(r.bi.First, r.bounds1), r.bounds1, t1)
	collect(r.geo2, r.sideElementCorners(r.bi.Second, r.bounds2), r.bounds2, 1-r.bi.Second.Side.Direction())
	for _, x := range physical {
		seed, best := r.bounds1[t1].Lo, math.Inf(1)
		for _, t := range breaks {
			y, err := r.side1.Eval([]float64{t})
			if err != nil {
				continue
			}
			if d := floats.Distance(x, y, 2); d < best {
				seed, best = t, d
			}
		}
		w, err := r.side1.NewtonRaphson(x, []float64{seed}, true, r.opts.NewtonTolerance, r.opts.MaxIterations)
		if err != nil {
			if !errors.Is(err, geometry.ErrNonConvergence) {
				continue
			}
			r.warn(fmt.Errorf("inverting breakpoint %v: %w", x, err))
		}
		breaks = utils.InsertUnique(breaks, r.bounds1[t1].ClampPoint(w[0]), nonAffineBreakTol)
	}
	r.breakpoints = make([][]float64, 2)
	r.breakpoints[n1] = []float64{r.bounds1[n1].Lo}
	r.breakpoints[t1] = breaks
}
