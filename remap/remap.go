package remap

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/geometry"
	"github.com/notargets/goiga/multipatch"
	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

var (
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrNoOverlap            = errors.New("interface sides do not overlap")
	ErrUnsupportedDimension = errors.New("unsupported dimension")
	ErrStaleHandle          = errors.New("multi-patch changed since the remap was built")
	ErrInvalidOptions       = errors.New("invalid remap options")
)

const (
	NeverAffine  = -1
	AlwaysAffine = 0
)

type Options struct {
	// CheckAffine is NeverAffine, AlwaysAffine or the number of interior
	// check points per tangential direction
	CheckAffine     int
	NewtonTolerance float64
	MaxIterations   int
	MatchTolerance  float64
	AffineTolerance float64
	// Non-affine fit
	FitTolerance float64
	FitSamples   int
	FitDegree    int
	FitInterior  int
}

func DefaultOptions() Options {
	return Options{
		CheckAffine:     1,
		NewtonTolerance: 1e-8,
		MaxIterations:   100,
		MatchTolerance:  1e-6,
		AffineTolerance: 1e-6,
		FitTolerance:    1e-6,
		FitSamples:      11,
		FitDegree:       4,
		FitInterior:     5,
	}
}

func (o Options) validate() (err error) {
	switch {
	case o.CheckAffine < NeverAffine:
		err = fmt.Errorf("%w: CheckAffine %d", ErrInvalidOptions, o.CheckAffine)
	case o.MaxIterations <= 0, o.NewtonTolerance <= 0, o.FitTolerance <= 0:
		err = fmt.Errorf("%w: Newton tolerance %g, fit tolerance %g, %d iterations",
			ErrInvalidOptions, o.NewtonTolerance, o.FitTolerance, o.MaxIterations)
	case o.FitSamples < o.FitDegree+o.FitInterior+1:
		err = fmt.Errorf("%w: %d samples cannot determine a fit with %d coefficients",
			ErrInvalidOptions, o.FitSamples, o.FitDegree+o.FitInterior+1)
	}
	return
}

/*
InterfaceRemap maps parameters on the first side of an interface onto the
second side. It holds patch indices into the multi-patch, not the patches: any
basis change of the multi-patch invalidates it and every query then fails with
ErrStaleHandle. Once built it is read only and safe for concurrent queries.

When the sides are physically a straight identification the map is affine,
built from the two parameter boxes and the interface's direction map. Otherwise
(2-D only) the tangential coordinate of side 2 is fitted as a spline of the
tangential coordinate of side 1.
*/
type InterfaceRemap struct {
	mp               *multipatch.MultiPatch
	generation       uint64
	bi               types.BoundaryInterface
	opts             Options
	geo1, geo2       geometry.Geometry
	side1, side2     *geometry.Restriction
	bounds1, bounds2 []r1.Interval
	matching, affine bool
	forward, inverse affineMap
	fit              *curveFit
	fitError         float64
	breakpoints      [][]float64
	warnings         error
}

func New(mp *multipatch.MultiPatch, bi types.BoundaryInterface, opts Options) (r *InterfaceRemap, err error) {
	if err = opts.validate(); err != nil {
		return
	}
	for _, ps := range []types.PatchSide{bi.First, bi.Second} {
		if ps.Patch < 0 || ps.Patch >= mp.NumPatches() {
			return nil, fmt.Errorf("%w: %v refers to a missing patch", types.ErrInvalidInterface, ps)
		}
	}
	r = &InterfaceRemap{
		mp:         mp,
		generation: mp.Generation(),
		bi:         bi,
		opts:       opts,
		geo1:       mp.Patch(bi.First.Patch).Geometry,
		geo2:       mp.Patch(bi.Second.Patch).Geometry,
		matching:   true,
		affine:     true,
	}
	if r.geo1.ParDim() != r.geo2.ParDim() || r.geo1.GeoDim() != r.geo2.GeoDim() {
		return nil, fmt.Errorf("%w: patch %d is %d->%d, patch %d is %d->%d", ErrDimensionMismatch,
			bi.First.Patch, r.geo1.ParDim(), r.geo1.GeoDim(), bi.Second.Patch, r.geo2.ParDim(), r.geo2.GeoDim())
	}
	if err = bi.Validate(r.geo1.ParDim()); err != nil {
		return nil, err
	}
	r.side1 = geometry.BoundaryOf(r.geo1, bi.First.Side)
	r.side2 = geometry.BoundaryOf(r.geo2, bi.Second.Side)
	r.bounds1 = sideBounds(r.geo1, bi.First.Side)
	r.bounds2 = sideBounds(r.geo2, bi.Second.Side)
	if err = r.computeBoundingBox(); err != nil {
		return nil, err
	}
	r.setAffineMaps()
	switch {
	case opts.CheckAffine == NeverAffine:
		r.affine = false
	case opts.CheckAffine > 0:
		if r.affine, err = r.checkIfAffine(opts.CheckAffine); err != nil {
			return nil, err
		}
	}
	if r.affine {
		r.constructBreaksAffine()
	} else {
		if r.Dim() != 2 {
			return nil, fmt.Errorf("%w: non-affine interfaces need 2 parametric dimensions, have %d",
				ErrUnsupportedDimension, r.Dim())
		}
		if err = r.constructReparam(); err != nil {
			return nil, err
		}
		r.constructBreaksNotAffine()
	}
	logrus.WithFields(logrus.Fields{
		"interface": bi.String(),
		"matching":  r.matching,
		"affine":    r.affine,
	}).Debug("interface remap built")
	return
}

// sideBounds is the parameter box of g with the side's direction collapsed onto the side
func sideBounds(g geometry.Geometry, side types.BoxSide) (b []r1.Interval) {
	b = append(b, g.ParameterRange()...)
	dir := side.Direction()
	v := b[dir].Lo
	if side.Parameter() {
		v = b[dir].Hi
	}
	b[dir] = r1.Interval{Lo: v, Hi: v}
	return
}

/*
boxCorners enumerates the distinct corners of a box, bit d of k selecting the
upper bound in d. A degenerate direction only contributes its lower bound, so
the side of a box yields each of its corners once.
*/
func boxCorners(b []r1.Interval) (corners [][]float64) {
	for k := 0; k < 1<<uint(len(b)); k++ {
		var (
			u        = make([]float64, len(b))
			distinct = true
		)
		for d, iv := range b {
			switch {
			case k&(1<<uint(d)) == 0:
				u[d] = iv.Lo
			case iv.Hi == iv.Lo:
				distinct = false
			default:
				u[d] = iv.Hi
			}
		}
		if distinct {
			corners = append(corners, u)
		}
	}
	return
}

func (r *InterfaceRemap) warn(err error) {
	if err == nil {
		return
	}
	r.warnings = multierr.Append(r.warnings, err)
	logrus.WithField("interface", r.bi.String()).Warn(err)
}

/*
transfer maps the corners of box `from` on side `src` onto side `dst` by
boundary Newton and returns, per direction, the interval spanned by the images
*/
func (r *InterfaceRemap) transfer(src geometry.Geometry, dst *geometry.Restriction,
	from []r1.Interval, guess affineMap) (span []r1.Interval, err error) {
	span = make([]r1.Interval, len(from))
	for d := range span {
		span[d] = r1.EmptyInterval()
	}
	for _, c := range boxCorners(from) {
		var (
			x, v []float64
		)
		if x, err = src.Eval(c); err != nil {
			return
		}
		seed := dst.Project(guess.eval(c))
		v, err = dst.NewtonRaphson(x, seed, true, r.opts.NewtonTolerance, r.opts.MaxIterations)
		if err != nil {
			if !errors.Is(err, geometry.ErrNonConvergence) {
				return
			}
			r.warn(fmt.Errorf("transferring corner %v: %w", c, err))
			err = nil
		}
		for d, val := range dst.Lift(v) {
			span[d] = span[d].AddPoint(val)
		}
	}
	return
}

// computeBoundingBox shrinks both sides to the part they share
func (r *InterfaceRemap) computeBoundingBox() (err error) {
	var (
		to1, to2 []r1.Interval
		tol      = r.opts.MatchTolerance
	)
	r.setAffineMaps()
	if to2, err = r.transfer(r.geo1, r.side2, r.bounds1, r.forward); err != nil {
		return
	}
	if to1, err = r.transfer(r.geo2, r.side1, r.bounds2, r.inverse); err != nil {
		return
	}
	shrink := func(b, t []r1.Interval, normal int) {
		for d := range b {
			if d == normal {
				continue
			}
			if t[d].Lo > b[d].Lo+tol {
				b[d].Lo = t[d].Lo
				r.matching = false
			}
			if t[d].Hi < b[d].Hi-tol {
				b[d].Hi = t[d].Hi
				r.matching = false
			}
		}
	}
	shrink(r.bounds1, to1, r.bi.First.Side.Direction())
	shrink(r.bounds2, to2, r.bi.Second.Side.Direction())
	for _, b := range []struct {
		bounds []r1.Interval
		normal int
	}{
		{r.bounds1, r.bi.First.Side.Direction()},
		{r.bounds2, r.bi.Second.Side.Direction()},
	} {
		for d, iv := range b.bounds {
			if d != b.normal && iv.Length() <= tol {
				return fmt.Errorf("%w: %v and %v share no more than a point in direction %d",
					ErrNoOverlap, r.bi.First, r.bi.Second, d)
			}
		}
	}
	return
}

func (r *InterfaceRemap) setAffineMaps() {
	rev := r.bi.Reversed()
	r.forward = affineMap{dirMap: r.bi.DirMap, orient: r.bi.DirOrientation, from: r.bounds1, to: r.bounds2}
	r.inverse = affineMap{dirMap: rev.DirMap, orient: rev.DirOrientation, from: r.bounds2, to: r.bounds1}
}

// checkIfAffine compares both geometries on a grid of steps+2 points per tangential direction
func (r *InterfaceRemap) checkIfAffine(steps int) (affine bool, err error) {
	var (
		grids  = make([][]float64, r.Dim())
		lo, hi = make([]int, r.Dim()), make([]int, r.Dim())
		maxErr float64
	)
	for d, iv := range r.bounds1 {
		if d == r.bi.First.Side.Direction() {
			grids[d] = []float64{iv.Lo}
		} else {
			grids[d] = utils.Linspace(iv.Lo, iv.Hi, steps+2)
		}
		hi[d] = len(grids[d])
	}
	bspline.ForEachIndex(lo, hi, func(idx []int) {
		if err != nil {
			return
		}
		u := make([]float64, len(idx))
		for d, i := range idx {
			u[d] = grids[d][i]
		}
		var x1, x2 []float64
		if x1, err = r.geo1.Eval(u); err != nil {
			return
		}
		if x2, err = r.geo2.Eval(r.forward.eval(u)); err != nil {
			return
		}
		maxErr = math.Max(maxErr, floats.Distance(x1, x2, 2))
	})
	affine = maxErr < r.opts.AffineTolerance
	return
}

// sideElementCorners returns the element corners of patch p's basis that lie on side
func (r *InterfaceRemap) sideElementCorners(ps types.PatchSide, bounds []r1.Interval) (corners [][]float64) {
	var (
		dir = ps.Side.Direction()
		val = bounds[dir].Lo
	)
	for _, el := range r.mp.Patch(ps.Patch).Basis.Elements() {
		if math.Abs(el.Lower[dir]-val) > utils.NODETOL && math.Abs(el.Upper[dir]-val) > utils.NODETOL {
			continue
		}
		for _, c := range boxCorners(elementBox(el.Lower, el.Upper)) {
			c[dir] = val
			corners = append(corners, c)
		}
	}
	return
}

func elementBox(lower, upper []float64) (b []r1.Interval) {
	for d := range lower {
		b = append(b, r1.Interval{Lo: lower[d], Hi: upper[d]})
	}
	return
}

const (
	affineBreakTol    = 1e-5
	nonAffineBreakTol = 1e-4
)

func addBreaks(breaks [][]float64, bounds []r1.Interval, pt []float64, tol float64) {
	for d, t := range pt {
		if bounds[d].Lo-tol <= t && t <= bounds[d].Hi+tol {
			breaks[d] = utils.InsertUnique(breaks[d], bounds[d].ClampPoint(t), tol)
		}
	}
}

// constructBreaksAffine merges the element boundaries of both sides, side 2's
// mapped onto side 1
func (r *InterfaceRemap) constructBreaksAffine() {
	r.breakpoints = make([][]float64, r.Dim())
	corners := boxCorners(r.bounds1)
	addBreaks(r.breakpoints, r.bounds1, corners[0], affineBreakTol)
	addBreaks(r.breakpoints, r.bounds1, corners[len(corners)-1], affineBreakTol)
	for _, c := range r.sideElementCorners(r.bi.First, r.bounds1) {
		addBreaks(r.breakpoints, r.bounds1, c, affineBreakTol)
	}
	for _, c := range r.sideElementCorners(r.bi.Second, r.bounds2) {
		addBreaks(r.breakpoints, r.bounds1, r.inverse.eval(c), affineBreakTol)
	}
}

func (r *InterfaceRemap) check() error {
	if g := r.mp.Generation(); g != r.generation {
		return fmt.Errorf("%w: built at generation %d, multi-patch is at %d", ErrStaleHandle, r.generation, g)
	}
	return nil
}

func (r *InterfaceRemap) checkPoint(u []float64) error {
	if len(u) != r.Dim() {
		return fmt.Errorf("%w: point of dimension %d, interface has %d", ErrDimensionMismatch, len(u), r.Dim())
	}
	return r.check()
}

// Eval maps a side 1 parameter point onto side 2. Points outside the shared
// part of side 1 are clamped onto it.
func (r *InterfaceRemap) Eval(u []float64) (v []float64, err error) {
	if err = r.checkPoint(u); err != nil {
		return
	}
	u = geometry.ClampPoint(r.bounds1, append([]float64(nil), u...))
	if r.affine {
		return r.forward.eval(u), nil
	}
	return r.fit.eval(u), nil
}

// EvalPoints maps every column of points
func (r *InterfaceRemap) EvalPoints(points utils.Matrix) (R utils.Matrix, err error) {
	var (
		nr, nc = points.Dims()
		v      []float64
	)
	if nr != r.Dim() {
		err = fmt.Errorf("%w: points of dimension %d, interface has %d", ErrDimensionMismatch, nr, r.Dim())
		return
	}
	R = utils.NewMatrix(nr, nc)
	for j := 0; j < nc; j++ {
		if v, err = r.Eval(points.Col(j)); err != nil {
			return
		}
		R.SetCol(j, v)
	}
	return
}

/*
EvalInverse maps a side 2 parameter point back onto side 1. For a fitted map it
inverts the physical point on side 1 by Newton; failure to converge returns the
best iterate with an error wrapping geometry.ErrNonConvergence.
*/
func (r *InterfaceRemap) EvalInverse(v []float64) (u []float64, err error) {
	if err = r.checkPoint(v); err != nil {
		return
	}
	v = geometry.ClampPoint(r.bounds2, append([]float64(nil), v...))
	guess := r.inverse.eval(v)
	if r.affine {
		return guess, nil
	}
	var x, w []float64
	if x, err = r.geo2.Eval(v); err != nil {
		return
	}
	w, err = r.side1.NewtonRaphson(x, r.side1.Project(guess), true, r.opts.NewtonTolerance, r.opts.MaxIterations)
	u = geometry.ClampPoint(r.bounds1, r.side1.Lift(w))
	return
}

func (r *InterfaceRemap) Interface() types.BoundaryInterface { return r.bi }

func (r *InterfaceRemap) Dim() int { return len(r.bi.DirMap) }

// Breakpoints returns per direction of side 1 the sorted element boundaries of
// both sides within the shared part; the normal direction holds the side value
func (r *InterfaceRemap) Breakpoints() (breaks [][]float64, err error) {
	if err = r.check(); err != nil {
		return
	}
	breaks = make([][]float64, len(r.breakpoints))
	for d, b := range r.breakpoints {
		breaks[d] = append([]float64(nil), b...)
	}
	return
}

func (r *InterfaceRemap) IsMatching() bool { return r.matching }

func (r *InterfaceRemap) IsAffine() bool { return r.affine }

// Bounds returns the shared parameter boxes of side 1 and side 2
func (r *InterfaceRemap) Bounds() (b1, b2 []r1.Interval) {
	return append([]r1.Interval(nil), r.bounds1...), append([]r1.Interval(nil), r.bounds2...)
}

// FitError is the largest physical mismatch of the fitted map, 0 when affine
func (r *InterfaceRemap) FitError() float64 { return r.fitError }

// Warnings aggregates the non-convergence events of construction, nil if none
func (r *InterfaceRemap) Warnings() error { return r.warnings }

// Valid is false once the multi-patch has been refined
func (r *InterfaceRemap) Valid() bool { return r.check() == nil }

func (r *InterfaceRemap) String() string {
	var (
		sb    strings.Builder
		yesNo = map[bool]string{true: "yes", false: "no"}
	)
	fmt.Fprintf(&sb, "InterfaceRemap:\n")
	fmt.Fprintf(&sb, "    First side:   %v\n", r.bi.First)
	fmt.Fprintf(&sb, "    Second side:  %v\n", r.bi.Second)
	fmt.Fprintf(&sb, "    Affine:       %s\n", yesNo[r.affine])
	fmt.Fprintf(&sb, "    Matching:     %s\n", yesNo[r.matching])
	fmt.Fprintf(&sb, "    Bounds 1:     %v\n", r.bounds1)
	fmt.Fprintf(&sb, "    Bounds 2:     %v\n", r.bounds2)
	if !r.affine {
		fmt.Fprintf(&sb, "    Fit error:    %g\n", r.fitError)
	}
	for d, b := range r.breakpoints {
		fmt.Fprintf(&sb, "    Breakpoints %c:", 'x'+d)
		if len(b) <= 10 {
			for _, t := range b {
				fmt.Fprintf(&sb, "  %g", t)
			}
		} else {
			for _, t := range b[:5] {
				fmt.Fprintf(&sb, "  %g", t)
			}
			fmt.Fprintf(&sb, "  ...")
			for _, t := range b[len(b)-5:] {
				fmt.Fprintf(&sb, "  %g", t)
			}
		}
		fmt.Fprintf(&sb, "\n")
	}
	return sb.String()
}

// affineMap sends box `from` onto box `to`, direction i onto dirMap[i],
// reversed where orient[i] is false
type affineMap struct {
	dirMap   []int
	orient   []bool
	from, to []r1.Interval
}

func (m affineMap) eval(u []float64) (v []float64) {
	v = make([]float64, len(u))
	for i, j := range m.dirMap {
		var s float64
		if l := m.from[i].Length(); l > 0 {
			s = (u[i] - m.from[i].Lo) / l
		}
		if !m.orient[i] {
			s = 1 - s
		}
		v[j] = m.to[j].Lo + s*m.to[j].Length()
	}
	return
}
