package hsplines

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

func quadrant(t *testing.T) *THBSplineBasis {
	thb := NewTHBSplineBasis(bspline.NewUniformTensorBasis(2, 4, 4))
	require.Equal(t, 36, thb.Size())
	require.NoError(t, thb.InsertBox(1, []int{0, 0}, []int{4, 4}))
	return thb
}

func samplePoints() (pts [][]float64) {
	for _, x := range []float64{0, 0.07, 0.2, 0.25, 0.31, 0.5, 0.62, 0.9, 1} {
		for _, y := range []float64{0, 0.13, 0.25, 0.4, 0.5, 0.55, 0.77, 1} {
			pts = append(pts, []float64{x, y})
		}
	}
	return
}

func TestHierarchicalIndex(t *testing.T) {
	thb := quadrant(t)
	assert.Equal(t, 48, thb.Size())
	assert.Equal(t, 2, thb.NumLevels())
	assert.Equal(t, 32, thb.NumLevelFunctions(0))
	assert.Equal(t, 16, thb.NumLevelFunctions(1))
	{ // Functions supported inside the quadrant move to level 1
		tb := thb.TensorLevel(0)
		for _, ij := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
			assert.False(t, thb.IsActive(0, tb.FlatIndex(ij[:])))
		}
		assert.True(t, thb.IsActive(0, tb.FlatIndex([]int{2, 0})))
		assert.True(t, thb.IsActive(1, thb.TensorLevel(1).FlatIndex([]int{3, 3})))
		assert.False(t, thb.IsActive(1, thb.TensorLevel(1).FlatIndex([]int{4, 0})))
	}
	{ // Global numbering by level then flat index
		for i := 0; i < thb.Size(); i++ {
			assert.Equal(t, i, thb.GlobalIndex(thb.Key(i)))
		}
		assert.Equal(t, FunctionKey{Level: 1, Index: 0}, thb.Key(32))
		assert.Equal(t, -1, thb.GlobalIndex(FunctionKey{Level: 0, Index: 0}))
		assert.Equal(t, -1, thb.GlobalIndex(FunctionKey{Level: 4, Index: 0}))
	}
	{
		c, err := thb.CellLevel([]float64{0.2, 0.2})
		require.NoError(t, err)
		assert.Equal(t, 1, c)
		c, err = thb.CellLevel([]float64{0.7, 0.2})
		require.NoError(t, err)
		assert.Equal(t, 0, c)
		assert.Equal(t, 1, thb.MaxCellLevel())
	}
	{
		bnd := thb.BoundaryFunctions(types.South)
		assert.Equal(t, utils.Index{0, 1, 2, 3, 32, 33, 34, 35}, bnd)
		assert.Equal(t, []float64{0, 0}, thb.Anchor(32))
	}
	{ // Level 0 blocks with level 1 cells are split
		elems := thb.Elements()
		assert.Len(t, elems, 28)
		var vol float64
		for _, el := range elems {
			vol += el.Volume()
		}
		assert.InDelta(t, 1., vol, 1e-14)
		assert.Equal(t, 1, elems[0].Level)
		assert.Equal(t, []float64{0.125, 0.125}, elems[0].Upper)
	}
}

func TestInsertBox(t *testing.T) {
	thb := quadrant(t)
	before := thb.Functions()
	{ // Inserting the same box again changes nothing
		require.NoError(t, thb.InsertBox(1, []int{0, 0}, []int{4, 4}))
		assert.Equal(t, 48, thb.Size())
		if d := cmp.Diff(before, thb.Functions()); d != "" {
			t.Errorf("functions changed (-before +after):\n%s", d)
		}
		thb.RepresentBasis()
		if d := cmp.Diff(before, thb.Functions()); d != "" {
			t.Errorf("representation is not reproducible (-before +after):\n%s", d)
		}
	}
	{ // The parameter box snaps to the same elements
		other := NewTHBSplineBasis(bspline.NewUniformTensorBasis(2, 4, 4))
		require.NoError(t, other.InsertDomainBox(1, []float64{0, 0}, []float64{0.5, 0.5}))
		if d := cmp.Diff(before, other.Functions()); d != "" {
			t.Errorf("domain box differs from element box:\n%s", d)
		}
		low, high, err := other.ElementBox(2, []float64{0.1, 0.3}, []float64{0.55, 1})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4}, low)
		assert.Equal(t, []int{9, 16}, high)
	}
	{
		for _, box := range [][2][]int{
			{{0, 0}, {9, 4}},
			{{2, 0}, {2, 4}},
			{{-1, 0}, {2, 4}},
			{{0}, {2}},
		} {
			err := thb.InsertBox(1, box[0], box[1])
			assert.True(t, errors.Is(err, ErrInvalidBox), "box %v", box)
		}
		assert.True(t, errors.Is(thb.InsertBox(-1, []int{0, 0}, []int{1, 1}), ErrInvalidBox))
		assert.True(t, errors.Is(thb.InsertDomainBox(1, []float64{0, 0}, []float64{1.5, 1}), ErrInvalidBox))
		assert.Equal(t, 48, thb.Size())
	}
	{ // Skipping a level creates the missing one
		h := NewHTensorBasis(bspline.NewUniformTensorBasis(1, 2, 2))
		require.NoError(t, h.InsertBox(2, []int{0, 0}, []int{2, 2}))
		assert.Equal(t, 3, h.NumLevels())
		assert.Equal(t, 0, h.NumLevelFunctions(1))
		assert.Equal(t, 9, h.NumLevelFunctions(0))
		assert.Equal(t, 4, h.NumLevelFunctions(2))
		assert.Equal(t, FunctionKey{Level: 2, Index: 0}, h.Key(9))
	}
}

func TestTruncation(t *testing.T) {
	thb := quadrant(t)
	assert.Equal(t, 12, thb.NumTruncated())
	t0 := thb.TensorLevel(0)
	{ // Functions away from the refined quadrant stay plain
		for _, i := range []int{4, 5} {
			for _, j := range []int{4, 5} {
				g := thb.GlobalIndex(FunctionKey{Level: 0, Index: t0.FlatIndex([]int{i, j})})
				require.True(t, g >= 0)
				assert.Equal(t, -1, thb.TruncationFlag(g))
				_, err := thb.GetCoefs(g)
				assert.True(t, errors.Is(err, ErrLogic))
			}
		}
		_, err := thb.GetCoefs(thb.Size())
		assert.True(t, errors.Is(err, ErrLogic))
	}
	{
		g := thb.GlobalIndex(FunctionKey{Level: 0, Index: t0.FlatIndex([]int{3, 1})})
		assert.True(t, thb.IsTruncated(g))
		assert.Equal(t, 1, thb.TruncationFlag(g))
		sv, err := thb.GetCoefs(g)
		require.NoError(t, err)
		assert.True(t, sort.IntsAreSorted(sv.Indices))
		assert.Equal(t, sv.Len(), len(sv.Coefs))
		for k, i := range sv.Indices {
			assert.True(t, sv.Coefs[k] > 0)
			assert.False(t, thb.IsActive(1, i))
			assert.Equal(t, sv.Coefs[k], sv.At(i))
		}
		assert.Equal(t, 0., sv.At(0))
	}
}

func TestPartitionOfUnity(t *testing.T) {
	thb := quadrant(t)
	// A second nested level inside the first
	require.NoError(t, thb.InsertBox(2, []int{0, 0}, []int{4, 6}))
	assert.Equal(t, 3, thb.NumLevels())
	for _, pt := range samplePoints() {
		act, vals, err := thb.Eval(pt)
		require.NoError(t, err)
		assert.True(t, sort.IntsAreSorted(act))
		assert.InDelta(t, 1., floats.Sum(vals), 1e-13, "point %v", pt)
		hact, hvals, err := thb.HierarchicalEval(pt)
		require.NoError(t, err)
		require.Equal(t, act, hact)
		for k := range vals {
			assert.True(t, vals[k] >= -1e-15, "negative value at %v", pt)
			// Truncation only removes nonnegative terms
			assert.True(t, vals[k] <= hvals[k]+1e-14, "truncated above hierarchical at %v", pt)
			v, err := thb.EvalSingle(act[k], pt)
			require.NoError(t, err)
			assert.InDelta(t, vals[k], v, 1e-14)
		}
		_, ders, err := thb.Deriv(pt)
		require.NoError(t, err)
		assert.InDelta(t, 0., floats.Sum(ders), 1e-10)
		_, ders2, err := thb.Deriv2(pt)
		require.NoError(t, err)
		assert.InDelta(t, 0., floats.Sum(ders2), 1e-8)
	}
	{
		_, _, err := thb.Eval([]float64{1.5, 0.5})
		assert.True(t, errors.Is(err, bspline.ErrOutOfDomain))
		_, err = thb.EvalSingle(0, []float64{0.5, -1})
		assert.True(t, errors.Is(err, bspline.ErrOutOfDomain))
	}
}

func TestFastEvaluation(t *testing.T) {
	thb := quadrant(t)
	require.NoError(t, thb.InsertBox(2, []int{2, 2}, []int{6, 6}))
	var (
		pairs = []struct {
			slow, fast func([]float64) (utils.Index, []float64, error)
		}{
			{thb.Eval, thb.FastEval},
			{thb.Deriv, thb.FastDeriv},
			{thb.Deriv2, thb.FastDeriv2},
		}
	)
	for _, pt := range samplePoints() {
		for _, p := range pairs {
			act, vals, err := p.slow(pt)
			require.NoError(t, err)
			actF, valsF, err := p.fast(pt)
			require.NoError(t, err)
			assert.Equal(t, act, actF)
			assert.InDeltaSlice(t, vals, valsF, 1e-15)
		}
	}
	act, vals, err := bspline.EvalPoints(thb, utils.NewPoints(samplePoints()...))
	require.NoError(t, err)
	assert.Len(t, act, len(samplePoints()))
	assert.InDelta(t, 1., floats.Sum(vals.Col(3)), 1e-13)
}

func TestUniformRefine(t *testing.T) {
	thb := quadrant(t)
	thb.UniformRefine()
	assert.Equal(t, 3, thb.NumLevels())
	assert.Equal(t, 0, thb.NumLevelFunctions(0))
	assert.Equal(t, 84, thb.NumLevelFunctions(1))
	assert.Equal(t, 64, thb.NumLevelFunctions(2))
	assert.Equal(t, 148, thb.Size())
	for _, pt := range samplePoints() {
		_, vals, err := thb.FastEval(pt)
		require.NoError(t, err)
		assert.InDelta(t, 1., floats.Sum(vals), 1e-13)
	}
	{ // A hierarchy without refinement is the tensor basis
		plain := NewTHBSplineBasis(bspline.NewUniformTensorBasis(3, 3, 2))
		tb := plain.TensorLevel(0)
		assert.Equal(t, tb.Size(), plain.Size())
		assert.Equal(t, 0, plain.NumTruncated())
		pt := []float64{0.41, 0.77}
		act, vals, err := plain.Eval(pt)
		require.NoError(t, err)
		tact, tvals, err := tb.Eval(pt)
		require.NoError(t, err)
		assert.Equal(t, tact, act)
		assert.InDeltaSlice(t, tvals, vals, 1e-15)
		assert.Len(t, plain.Elements(), 6)
	}
}

func combination(t *testing.T, b *THBSplineBasis, coefs []float64, pt []float64) (f float64) {
	act, vals, err := b.Eval(pt)
	require.NoError(t, err)
	for k, i := range act {
		f += coefs[i] * vals[k]
	}
	return
}

func TestTransfer(t *testing.T) {
	compare := func(fine, old *THBSplineBasis) {
		T, err := fine.Transfer(old)
		require.NoError(t, err)
		nr, nc := T.Dims()
		require.Equal(t, fine.Size(), nr)
		require.Equal(t, old.Size(), nc)
		coefs := make([]float64, old.Size())
		for j := range coefs {
			coefs[j] = math.Sin(float64(j) + 0.5)
		}
		fc := utils.CSR{M: T}.MulVec(coefs)
		for _, pt := range samplePoints() {
			assert.InDelta(t, combination(t, old, coefs, pt), combination(t, fine, fc, pt), 1e-12, "point %v", pt)
		}
	}
	coarse := NewTHBSplineBasis(bspline.NewUniformTensorBasis(2, 4, 4))
	fine := coarse.Clone()
	require.NoError(t, fine.InsertBox(1, []int{0, 0}, []int{4, 4}))
	assert.Equal(t, 36, coarse.Size())
	assert.Equal(t, 48, fine.Size())
	compare(fine, coarse)
	{ // Truncated functions presented finer than the cell they are read from
		finer := fine.Clone()
		require.NoError(t, finer.InsertBox(2, []int{0, 0}, []int{4, 4}))
		compare(finer, fine)
		compare(finer, coarse)
		finer.UniformRefine()
		compare(finer, fine)
	}
	{ // Transfer onto the same hierarchy is the identity
		T, err := fine.Transfer(fine.Clone())
		require.NoError(t, err)
		assert.Equal(t, fine.Size(), T.NNZ())
		for i := 0; i < fine.Size(); i++ {
			assert.InDelta(t, 1., T.At(i, i), 1e-13)
		}
	}
	{
		_, err := coarse.Transfer(fine)
		assert.True(t, errors.Is(err, ErrLogic))
		other := NewTHBSplineBasis(bspline.NewUniformTensorBasis(3, 4, 4))
		_, err = other.Transfer(coarse)
		assert.True(t, errors.Is(err, ErrLogic))
	}
}
