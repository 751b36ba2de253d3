package utils

import (
	"math"
	"sort"
)

// Linspace returns N equispaced values from a to b inclusive
func Linspace(a, b float64, N int) (v []float64) {
	v = make([]float64, N)
	if N == 1 {
		v[0] = a
		return
	}
	dx := (b - a) / float64(N-1)
	for i := range v {
		v[i] = a + float64(i)*dx
	}
	v[N-1] = b
	return
}

// InsertUnique inserts val into the ascending slice unless a value within
// tol is already present
func InsertUnique(sorted []float64, val, tol float64) []float64 {
	k := sort.SearchFloat64s(sorted, val)
	if k < len(sorted) && math.Abs(sorted[k]-val) <= tol {
		return sorted
	}
	if k > 0 && math.Abs(sorted[k-1]-val) <= tol {
		return sorted
	}
	sorted = append(sorted, 0)
	copy(sorted[k+1:], sorted[k:])
	sorted[k] = val
	return sorted
}

func POW(x float64, pp int) (y float64) {
	var (
		p       = pp
		flipped bool
	)
	if pp > 8 || pp < -8 {
		return math.Pow(x, float64(pp))
	}
	if p < 0 {
		p = -pp
		flipped = true
	}
	y = 1
	for i := 0; i < p; i++ {
		y *= x
	}
	if flipped {
		y = 1. / y
	}
	return
}
