package remap

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang/geo/r1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/geometry"
	"github.com/notargets/goiga/multipatch"
	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

func refined(degree, times int) (tb *bspline.TensorBasis) {
	tb = bspline.NewUniformTensorBasis(degree, 1, 1)
	for i := 0; i < times; i++ {
		tb = tb.UniformRefine()
	}
	return
}

// twoPatches is the unit square as patch 0 and g1 with basis b1 as patch 1
func twoPatches(t *testing.T, b1 *bspline.TensorBasis, g1 geometry.Geometry) *multipatch.MultiPatch {
	mp := multipatch.NewMultiPatch()
	b0 := refined(2, 3)
	_, err := mp.AddPatch(geometry.NewBox(b0, []float64{0, 0}, []float64{1, 1}), b0)
	require.NoError(t, err)
	_, err = mp.AddPatch(g1, b1)
	require.NoError(t, err)
	return mp
}

func squares(t *testing.T) *multipatch.MultiPatch {
	b1 := refined(2, 3)
	mp := twoPatches(t, b1, geometry.NewBox(b1, []float64{1, 0}, []float64{2, 1}))
	n, err := mp.ComputeTopology(1e-10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return mp
}

func physicalMatch(t *testing.T, mp *multipatch.MultiPatch, r *InterfaceRemap, u []float64, tol float64) {
	v, err := r.Eval(u)
	require.NoError(t, err)
	bi := r.Interface()
	x1, err := mp.Patch(bi.First.Patch).Geometry.Eval(u)
	require.NoError(t, err)
	x2, err := mp.Patch(bi.Second.Patch).Geometry.Eval(v)
	require.NoError(t, err)
	assert.InDeltaSlice(t, x1, x2, tol, "at %v -> %v", u, v)
}

func TestMatchingInterface(t *testing.T) {
	mp := squares(t)
	bi := mp.Interfaces()[0]
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, r.IsMatching())
	assert.True(t, r.IsAffine())
	assert.NoError(t, r.Warnings())
	assert.Equal(t, 0., r.FitError())
	assert.True(t, r.Valid())
	{
		b1, b2 := r.Bounds()
		assert.Equal(t, []r1.Interval{{Lo: 1, Hi: 1}, {Lo: 0, Hi: 1}}, b1)
		assert.Equal(t, []r1.Interval{{Lo: 0, Hi: 0}, {Lo: 0, Hi: 1}}, b2)
	}
	{ // Both sides have the same breakpoints
		breaks, err := r.Breakpoints()
		require.NoError(t, err)
		assert.Equal(t, []float64{1}, breaks[0])
		assert.InDeltaSlice(t, utils.Linspace(0, 1, 9), breaks[1], 1e-15)
		side2 := mp.Patch(1).Basis.(*bspline.TensorBasis).Component(1).Unique()
		for _, b := range breaks[1] {
			v, err := r.Eval([]float64{1, b})
			require.NoError(t, err)
			assert.Equal(t, 0., v[0])
			k := utils.InsertUnique(append([]float64(nil), side2...), v[1], 1e-12)
			assert.Len(t, k, len(side2), "breakpoint %v has no partner", v[1])
		}
	}
	{ // Affine round trip
		for _, s := range []float64{0, 0.3, 0.71, 1} {
			u := []float64{1, s}
			v, err := r.Eval(u)
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0, s}, v, 1e-14)
			w, err := r.EvalInverse(v)
			require.NoError(t, err)
			assert.InDeltaSlice(t, u, w, 1e-10)
			physicalMatch(t, mp, r, u, 1e-13)
		}
	}
	{ // Points off the side are clamped
		v, err := r.Eval([]float64{0.7, 1.3})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1}, v)
		R, err := r.EvalPoints(utils.NewPoints([]float64{1, 0.25}, []float64{1, 0.5}))
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0.5}, R.Col(1))
		_, err = r.Eval([]float64{1})
		assert.True(t, errors.Is(err, ErrDimensionMismatch))
		_, err = r.EvalPoints(utils.NewMatrix(3, 1))
		assert.True(t, errors.Is(err, ErrDimensionMismatch))
	}
	{ // Coupling the two patches through the remap
		dm, err := multipatch.NewInterfaceDofMapper(mp, []multipatch.SideMap{r}, 1e-9)
		require.NoError(t, err)
		assert.Equal(t, 190, dm.Size())
	}
	assert.True(t, strings.Contains(r.String(), "Matching:     yes"))
	{ // Refinement invalidates the remap
		mp.UniformRefine()
		assert.False(t, r.Valid())
		_, err = r.Eval([]float64{1, 0.5})
		assert.True(t, errors.Is(err, ErrStaleHandle))
		_, err = r.EvalInverse([]float64{0, 0.5})
		assert.True(t, errors.Is(err, ErrStaleHandle))
		_, err = r.Breakpoints()
		assert.True(t, errors.Is(err, ErrStaleHandle))
		r, err = New(mp, bi, DefaultOptions())
		require.NoError(t, err)
		breaks, err := r.Breakpoints()
		require.NoError(t, err)
		assert.Len(t, breaks[1], 17)
	}
}

func TestHierarchicalSide(t *testing.T) {
	mp := squares(t)
	// Level 1 strip along the interface on patch 0
	require.NoError(t, mp.InsertBox(0, 1, []int{14, 0}, []int{16, 16}))
	r, err := New(mp, mp.Interfaces()[0], DefaultOptions())
	require.NoError(t, err)
	breaks, err := r.Breakpoints()
	require.NoError(t, err)
	assert.InDeltaSlice(t, utils.Linspace(0, 1, 17), breaks[1], 1e-15)
}

func TestOrientedInterface(t *testing.T) {
	// Parameter directions swapped and reversed on patch 1
	b1 := refined(2, 2)
	mp := twoPatches(t, b1, geometry.NewGrevilleInterpolant(b1, func(u []float64) []float64 {
		return []float64{1 + u[1], 1 - u[0]}
	}))
	_, err := mp.ComputeTopology(1e-10)
	require.NoError(t, err)
	bi := mp.Interfaces()[0]
	require.Equal(t, types.South, bi.Second.Side)
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, r.IsMatching())
	assert.True(t, r.IsAffine())
	v, err := r.Eval([]float64{1, 0.3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.7, 0}, v, 1e-14)
	u, err := r.EvalInverse(v)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0.3}, u, 1e-10)
	for _, s := range []float64{0, 0.2, 0.55, 1} {
		physicalMatch(t, mp, r, []float64{1, s}, 1e-13)
	}
	breaks, err := r.Breakpoints()
	require.NoError(t, err)
	assert.InDeltaSlice(t, utils.Linspace(0, 1, 9), breaks[1], 1e-14)
}

func TestStretchedParameters(t *testing.T) {
	// Side 1 is parameterized on [0,1], side 2 on [0,2]
	kv0, err := bspline.NewKnotVector(2, []float64{0, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	kv1, err := bspline.NewKnotVector(2, []float64{0, 0, 0, 0.5, 1, 1.5, 2, 2, 2})
	require.NoError(t, err)
	b1, err := bspline.NewTensorBasis(kv0, kv1)
	require.NoError(t, err)
	mp := twoPatches(t, b1, geometry.NewBox(b1, []float64{1, 0}, []float64{2, 1}))
	bi := types.NewMatchingInterface(types.PatchSide{Patch: 0, Side: types.East},
		types.PatchSide{Patch: 1, Side: types.West}, 2)
	require.NoError(t, mp.AddInterface(bi))
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, r.IsMatching())
	assert.True(t, r.IsAffine())
	v, err := r.Eval([]float64{1, 0.3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.6}, v, 1e-14)
	physicalMatch(t, mp, r, []float64{1, 0.8}, 1e-13)
	breaks, err := r.Breakpoints()
	require.NoError(t, err)
	// Side 2 knots at multiples of 0.5 land on multiples of 0.25
	assert.InDeltaSlice(t, utils.Linspace(0, 1, 9), breaks[1], 1e-14)
}

func TestNonMatchingInterface(t *testing.T) {
	b1 := bspline.NewUniformTensorBasis(2, 4, 4)
	mp := twoPatches(t, b1, geometry.NewBox(b1, []float64{1, 0}, []float64{2, 0.5}))
	bi := types.NewMatchingInterface(types.PatchSide{Patch: 0, Side: types.East},
		types.PatchSide{Patch: 1, Side: types.West}, 2)
	require.NoError(t, mp.AddInterface(bi))
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, r.IsMatching())
	assert.True(t, r.IsAffine())
	{ // Side 1 shrinks to the half shared with side 2
		b1, b2 := r.Bounds()
		assert.InDelta(t, 0., b1[1].Lo, 1e-12)
		assert.InDelta(t, 0.5, b1[1].Hi, 1e-8)
		assert.Equal(t, r1.Interval{Lo: 0, Hi: 1}, b2[1])
	}
	{ // The corner of side 1 beyond side 2 cannot be transferred, it is reported once
		warnings := multierr.Errors(r.Warnings())
		require.Len(t, warnings, 1)
		assert.True(t, errors.Is(warnings[0], geometry.ErrNonConvergence))
		assert.True(t, strings.Contains(warnings[0].Error(), "transferring corner [1 1]"), warnings[0].Error())
	}
	v, err := r.Eval([]float64{1, 0.25})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5}, v, 1e-8)
	v, err = r.Eval([]float64{1, 0.9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1}, v, 1e-8)
	physicalMatch(t, mp, r, []float64{1, 0.4}, 1e-8)
	breaks, err := r.Breakpoints()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.125, 0.25, 0.375, 0.5}, breaks[1], 1e-8)
	{ // Sides touching in a single point
		b2 := bspline.NewUniformTensorBasis(2, 4, 4)
		mp := twoPatches(t, b2, geometry.NewBox(b2, []float64{1, 1}, []float64{2, 2}))
		require.NoError(t, mp.AddInterface(bi))
		_, err := New(mp, bi, DefaultOptions())
		assert.True(t, errors.Is(err, ErrNoOverlap))
	}
}

// reparametrized is [0,1]x[-1,0] with the top edge x = 1.1 t - 0.1 t^2
func reparametrized(t *testing.T) *geometry.TensorBSpline {
	g, err := geometry.NewTensorBSpline(bspline.NewUniformTensorBasis(2, 1, 1), mat.NewDense(9, 2, []float64{
		0, -1, 0.55, -1, 1, -1,
		0, -0.5, 0.55, -0.5, 1, -0.5,
		0, 0, 0.55, 0, 1, 0,
	}))
	require.NoError(t, err)
	return g
}

func TestFittedInterface(t *testing.T) {
	mp := multipatch.NewMultiPatch()
	b0 := bspline.NewUniformTensorBasis(2, 4, 4)
	_, err := mp.AddPatch(geometry.NewBox(b0, []float64{0, 0}, []float64{1, 1}), b0)
	require.NoError(t, err)
	_, err = mp.AddPatch(reparametrized(t), bspline.NewUniformTensorBasis(2, 4, 4))
	require.NoError(t, err)
	_, err = mp.ComputeTopology(1e-10)
	require.NoError(t, err)
	bi := mp.Interfaces()[0]
	require.Equal(t, types.South, bi.First.Side)
	require.Equal(t, types.North, bi.Second.Side)
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, r.IsMatching())
	assert.False(t, r.IsAffine())
	assert.True(t, r.FitError() < 1e-4, "fit error %g", r.FitError())
	for _, s := range []float64{0, 0.05, 0.3, 0.5, 0.77, 1} {
		u := []float64{s, 0}
		physicalMatch(t, mp, r, u, 1e-4)
		v, err := r.Eval(u)
		require.NoError(t, err)
		assert.Equal(t, 1., v[1])
		w, err := r.EvalInverse(v)
		require.NoError(t, err)
		assert.InDeltaSlice(t, u, w, 1e-4)
	}
	{ // Element boundaries of side 2 land between those of side 1
		breaks, err := r.Breakpoints()
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, breaks[1])
		want := []float64{0, 0.25, 0.26875, 0.5, 0.525, 0.75, 0.76875, 1}
		assert.InDeltaSlice(t, want, breaks[0], 1e-7)
	}
	{ // Affinity can be forced
		opts := DefaultOptions()
		opts.CheckAffine = AlwaysAffine
		r, err := New(mp, bi, opts)
		require.NoError(t, err)
		assert.True(t, r.IsAffine())
	}
	{ // Breakpoints inverted onto the curved side within too few iterations are reported
		opts := DefaultOptions()
		opts.MaxIterations = 1
		r, err := New(mp, bi.Reversed(), opts)
		require.NoError(t, err)
		assert.False(t, r.IsAffine())
		var inverted bool
		for _, w := range multierr.Errors(r.Warnings()) {
			assert.True(t, errors.Is(w, geometry.ErrNonConvergence))
			inverted = inverted || strings.Contains(w.Error(), "inverting breakpoint")
		}
		assert.True(t, inverted)
	}
}

func TestFittedStretchedParameters(t *testing.T) {
	// The curved patch is parameterized on [0,2] along the interface
	kv2, err := bspline.NewKnotVector(2, []float64{0, 0, 0, 2, 2, 2})
	require.NoError(t, err)
	kv1, err := bspline.NewKnotVector(2, []float64{0, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	gb, err := bspline.NewTensorBasis(kv2, kv1)
	require.NoError(t, err)
	g, err := geometry.NewTensorBSpline(gb, reparametrized(t).Coefs())
	require.NoError(t, err)
	kv4, err := bspline.NewKnotVector(2, []float64{0, 0, 0, 0.5, 1, 1.5, 2, 2, 2})
	require.NoError(t, err)
	pb, err := bspline.NewTensorBasis(kv4, bspline.NewUniformKnotVector(0, 1, 3, 2))
	require.NoError(t, err)
	mp := multipatch.NewMultiPatch()
	b0 := bspline.NewUniformTensorBasis(2, 4, 4)
	_, err = mp.AddPatch(geometry.NewBox(b0, []float64{0, 0}, []float64{1, 1}), b0)
	require.NoError(t, err)
	_, err = mp.AddPatch(g, pb)
	require.NoError(t, err)
	_, err = mp.ComputeTopology(1e-10)
	require.NoError(t, err)
	bi := mp.Interfaces()[0]
	require.Equal(t, types.South, bi.First.Side)
	require.Equal(t, types.North, bi.Second.Side)
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, r.IsMatching())
	assert.False(t, r.IsAffine())
	assert.True(t, r.FitError() < 1e-4, "fit error %g", r.FitError())
	_, b2 := r.Bounds()
	assert.Equal(t, r1.Interval{Lo: 0, Hi: 2}, b2[0])
	for _, s := range []float64{0, 0.1, 0.45, 0.8, 1} {
		u := []float64{s, 0}
		physicalMatch(t, mp, r, u, 1e-4)
		v, err := r.Eval(u)
		require.NoError(t, err)
		assert.True(t, v[0] >= 0 && v[0] <= 2, "%v", v)
		assert.Equal(t, 1., v[1])
	}
	breaks, err := r.Breakpoints()
	require.NoError(t, err)
	want := []float64{0, 0.25, 0.26875, 0.5, 0.525, 0.75, 0.76875, 1}
	assert.InDeltaSlice(t, want, breaks[0], 1e-7)
}

func TestOptionsAndDimensions(t *testing.T) {
	{ // A fitted map of an affine interface is exact
		mp := squares(t)
		opts := DefaultOptions()
		opts.CheckAffine = NeverAffine
		r, err := New(mp, mp.Interfaces()[0], opts)
		require.NoError(t, err)
		assert.False(t, r.IsAffine())
		assert.True(t, r.FitError() < 1e-10)
		physicalMatch(t, mp, r, []float64{1, 0.37}, 1e-10)
	}
	{
		opts := DefaultOptions()
		opts.CheckAffine = -2
		_, err := New(squares(t), types.BoundaryInterface{}, opts)
		assert.True(t, errors.Is(err, ErrInvalidOptions))
		opts = DefaultOptions()
		opts.FitSamples = 5
		_, err = New(squares(t), types.BoundaryInterface{}, opts)
		assert.True(t, errors.Is(err, ErrInvalidOptions))
	}
	var (
		b3  = bspline.NewUniformTensorBasis(1, 1, 1, 1)
		bi3 = types.NewMatchingInterface(types.PatchSide{Patch: 0, Side: types.East},
			types.PatchSide{Patch: 1, Side: types.West}, 3)
		mp3 = multipatch.NewMultiPatch()
	)
	_, err := mp3.AddPatch(geometry.NewBox(b3, []float64{0, 0, 0}, []float64{1, 1, 1}), b3)
	require.NoError(t, err)
	_, err = mp3.AddPatch(geometry.NewBox(b3, []float64{1, 0, 0}, []float64{2, 1, 1}), b3)
	require.NoError(t, err)
	{ // Affine interfaces work in 3-D
		r, err := New(mp3, bi3, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, r.IsAffine())
		v, err := r.Eval([]float64{1, 0.2, 0.7})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 0.2, 0.7}, v, 1e-14)
		breaks, err := r.Breakpoints()
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1}, breaks[2])
	}
	{ // Fitted interfaces do not
		opts := DefaultOptions()
		opts.CheckAffine = NeverAffine
		_, err := New(mp3, bi3, opts)
		assert.True(t, errors.Is(err, ErrUnsupportedDimension))
	}
	{ // Patches of different dimension
		mp := squares(t)
		_, err := mp.AddPatch(geometry.NewBox(b3, []float64{0, 0, 0}, []float64{1, 1, 1}), b3)
		require.NoError(t, err)
		bi := types.NewMatchingInterface(types.PatchSide{Patch: 0, Side: types.West},
			types.PatchSide{Patch: 2, Side: types.East}, 2)
		_, err = New(mp, bi, DefaultOptions())
		assert.True(t, errors.Is(err, ErrDimensionMismatch))
		bi.Second.Patch = 5
		_, err = New(mp, bi, DefaultOptions())
		assert.True(t, errors.Is(err, types.ErrInvalidInterface))
	}
}

func TestInterfaceQuadrature(t *testing.T) {
	b1 := bspline.NewUniformTensorBasis(2, 4, 4)
	mp := twoPatches(t, b1, geometry.NewBox(b1, []float64{1, 0}, []float64{2, 0.5}))
	bi := types.NewMatchingInterface(types.PatchSide{Patch: 0, Side: types.East},
		types.PatchSide{Patch: 1, Side: types.West}, 2)
	require.NoError(t, mp.AddInterface(bi))
	r, err := New(mp, bi, DefaultOptions())
	require.NoError(t, err)
	require.False(t, r.IsMatching())
	pts1, pts2, wts, err := r.Quadrature(3)
	require.NoError(t, err)
	// four breakpoint cells on the shared half of side 1
	require.Len(t, wts, 12)
	assert.Equal(t, 12, pts1.Cols())
	assert.Equal(t, 12, pts2.Cols())
	var length, moment, image float64
	for k, w := range wts {
		u, v := pts1.Col(k), pts2.Col(k)
		assert.Equal(t, 1., u[0])
		assert.InDelta(t, 0., v[0], 1e-12)
		physicalMatch(t, mp, r, u, 1e-8)
		length += w
		moment += w * u[1] * u[1]
		image += w * v[1] * v[1]
	}
	assert.InDelta(t, 0.5, length, 1e-8)
	assert.InDelta(t, 0.5*0.5*0.5/3, moment, 1e-8)
	// side 2 runs twice as fast, v = 2u
	assert.InDelta(t, 1./6, image, 1e-8)
	_, _, _, err = r.Quadrature(0)
	assert.True(t, errors.Is(err, ErrInvalidOptions))
	mp.UniformRefine()
	_, _, _, err = r.Quadrature(2)
	assert.True(t, errors.Is(err, ErrStaleHandle))
}
