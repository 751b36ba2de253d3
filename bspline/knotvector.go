package bspline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/r1"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/utils"
)

var (
	ErrInvalidKnotVector = errors.New("invalid knot vector")
	ErrOutOfDomain       = errors.New("point outside the parameter domain")
)

/*
KnotVector is an immutable, non-decreasing knot sequence together with the
polynomial degree of the B-spline basis it defines. The number of basis
functions is len(knots) - degree - 1.
*/
type KnotVector struct {
	degree int
	knots  []float64
	unique []float64 // distinct breakpoints within the domain
}

func NewKnotVector(degree int, knots []float64) (kv *KnotVector, err error) {
	var (
		p = degree
	)
	switch {
	case p < 0:
		err = fmt.Errorf("%w: negative degree %d", ErrInvalidKnotVector, p)
		return
	case len(knots) < 2*p+2:
		err = fmt.Errorf("%w: %d knots, need at least %d for degree %d",
			ErrInvalidKnotVector, len(knots), 2*p+2, p)
		return
	}
	mult := 1
	for i := 1; i < len(knots); i++ {
		switch {
		case knots[i] < knots[i-1]:
			err = fmt.Errorf("%w: knots decrease at position %d (%v > %v)",
				ErrInvalidKnotVector, i, knots[i-1], knots[i])
			return
		case knots[i] == knots[i-1]:
			mult++
		default:
			mult = 1
		}
		if mult > p+1 {
			err = fmt.Errorf("%w: knot %v has multiplicity %d, exceeds degree+1 = %d",
				ErrInvalidKnotVector, knots[i], mult, p+1)
			return
		}
	}
	kv = &KnotVector{
		degree: p,
		knots:  append([]float64(nil), knots...),
	}
	lo, hi := kv.knots[p], kv.knots[len(kv.knots)-p-1]
	if !(lo < hi) {
		err = fmt.Errorf("%w: empty parameter domain [%v, %v]", ErrInvalidKnotVector, lo, hi)
		kv = nil
		return
	}
	for _, t := range kv.knots[p : len(kv.knots)-p] {
		if len(kv.unique) == 0 || kv.unique[len(kv.unique)-1] != t {
			kv.unique = append(kv.unique, t)
		}
	}
	return
}

// NewUniformKnotVector returns an open knot vector on [first,last] with the
// boundary knots repeated degree+1 times and equally spaced interior knots.
// It panics on input that cannot produce a valid vector.
func NewUniformKnotVector(first, last float64, interior, degree int) (kv *KnotVector) {
	var (
		knots []float64
		err   error
	)
	for i := 0; i <= degree; i++ {
		knots = append(knots, first)
	}
	inner := utils.Linspace(first, last, interior+2)
	knots = append(knots, inner[1:interior+1]...)
	for i := 0; i <= degree; i++ {
		knots = append(knots, last)
	}
	if kv, err = NewKnotVector(degree, knots); err != nil {
		panic(err)
	}
	return
}

func (kv *KnotVector) Degree() int { return kv.degree }

// Size is the number of basis functions
func (kv *KnotVector) Size() int { return len(kv.knots) - kv.degree - 1 }

func (kv *KnotVector) Len() int { return len(kv.knots) }

func (kv *KnotVector) At(i int) float64 { return kv.knots[i] }

func (kv *KnotVector) Knots() []float64 { return append([]float64(nil), kv.knots...) }

// Unique returns the distinct breakpoints inside the domain
func (kv *KnotVector) Unique() []float64 { return append([]float64(nil), kv.unique...) }

func (kv *KnotVector) NumElements() int { return len(kv.unique) - 1 }

func (kv *KnotVector) NumActive() int { return kv.degree + 1 }

func (kv *KnotVector) Domain() r1.Interval {
	return r1.Interval{Lo: kv.unique[0], Hi: kv.unique[len(kv.unique)-1]}
}

func (kv *KnotVector) Contains(u float64) bool {
	dom := kv.Domain()
	return u >= dom.Lo-utils.NODETOL && u <= dom.Hi+utils.NODETOL
}

func (kv *KnotVector) Multiplicity(u float64) (m int) {
	for _, t := range kv.knots {
		if t == u {
			m++
		}
	}
	return
}

/*
FindSpan returns the index s with knots[s] <= u < knots[s+1]. Spans are
half-open except for the last one, which is closed at the right end of the
domain. Values outside the domain are clamped.
*/
func (kv *KnotVector) FindSpan(u float64) (s int) {
	var (
		p = kv.degree
		n = kv.Size()
	)
	if u >= kv.knots[n] {
		s = n - 1
		for s > p && kv.knots[s] == kv.knots[s+1] {
			s--
		}
		return
	}
	if u < kv.knots[p] {
		return p
	}
	// first knot strictly greater than u
	s = sort.Search(len(kv.knots), func(i int) bool { return kv.knots[i] > u }) - 1
	if s > n-1 {
		s = n - 1
	}
	return
}

func (kv *KnotVector) FirstActive(u float64) int { return kv.FindSpan(u) - kv.degree }

// ElementIndex returns the element (breakpoint interval) containing u
func (kv *KnotVector) ElementIndex(u float64) (e int) {
	e = sort.Search(len(kv.unique), func(i int) bool { return kv.unique[i] > u }) - 1
	switch {
	case e < 0:
		e = 0
	case e > kv.NumElements()-1:
		e = kv.NumElements() - 1
	}
	return
}

// breakIndex returns the position of breakpoint t among the unique breakpoints,
// clipped to the domain
func (kv *KnotVector) breakIndex(t float64) int {
	return sort.Search(len(kv.unique), func(i int) bool { return kv.unique[i] >= t })
}

// ElementSupport returns the range of elements [lo, hi) covered by function i
func (kv *KnotVector) ElementSupport(i int) (lo, hi int) {
	lo = kv.breakIndex(kv.knots[i])
	hi = kv.breakIndex(kv.knots[i+kv.degree+1])
	if hi > kv.NumElements() {
		hi = kv.NumElements()
	}
	return
}

func (kv *KnotVector) Support(i int) r1.Interval {
	return r1.Interval{Lo: kv.knots[i], Hi: kv.knots[i+kv.degree+1]}.Intersection(kv.Domain())
}

// Greville returns the Greville abscissae, one anchor per basis function
func (kv *KnotVector) Greville() (g []float64) {
	var (
		p = kv.degree
	)
	g = make([]float64, kv.Size())
	for i := range g {
		if p == 0 {
			g[i] = 0.5 * (kv.knots[i] + kv.knots[i+1])
			continue
		}
		var sum float64
		for j := i + 1; j <= i+p; j++ {
			sum += kv.knots[j]
		}
		g[i] = sum / float64(p)
	}
	return
}

// MidPoints are the knots inserted by one uniform dyadic refinement
func (kv *KnotVector) MidPoints() (mid []float64) {
	mid = make([]float64, kv.NumElements())
	for e := range mid {
		mid[e] = 0.5 * (kv.unique[e] + kv.unique[e+1])
	}
	return
}

// Refine splits every element in half and returns the new vector
func (kv *KnotVector) Refine() *KnotVector {
	fine, err := kv.InsertKnots(kv.MidPoints()...)
	if err != nil {
		panic(err)
	}
	return fine
}

func (kv *KnotVector) InsertKnots(ts ...float64) (fine *KnotVector, err error) {
	knots := append([]float64(nil), kv.knots...)
	for _, t := range ts {
		k := sort.Search(len(knots), func(i int) bool { return knots[i] > t })
		knots = append(knots, 0)
		copy(knots[k+1:], knots[k:])
		knots[k] = t
	}
	return NewKnotVector(kv.degree, knots)
}

// Difference returns the knots of fine that are not in kv, counting
// multiplicity. It fails unless fine contains every knot of kv.
func (kv *KnotVector) Difference(fine *KnotVector) (extra []float64, err error) {
	var (
		i int
	)
	if fine.degree != kv.degree {
		err = fmt.Errorf("%w: degree %d cannot be refined into degree %d",
			ErrInvalidKnotVector, kv.degree, fine.degree)
		return
	}
	for _, t := range fine.knots {
		if i < len(kv.knots) && kv.knots[i] == t {
			i++
			continue
		}
		extra = append(extra, t)
	}
	if i != len(kv.knots) {
		err = fmt.Errorf("%w: knot vector is not nested in the finer vector", ErrInvalidKnotVector)
	}
	return
}

/*
RefinementMatrix returns the two-scale relation between kv and a nested finer
vector: column j holds the coefficients of coarse function j in the fine
basis, so the matrix is fine.Size() x kv.Size().
*/
func (kv *KnotVector) RefinementMatrix(fine *KnotVector) (R *mat.Dense, err error) {
	var (
		extra []float64
		n     = kv.Size()
	)
	if extra, err = kv.Difference(fine); err != nil {
		return
	}
	R = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		R.Set(i, i, 1)
	}
	knots := append([]float64(nil), kv.knots...)
	for _, t := range extra {
		R, knots = insertKnot(kv.degree, knots, R, t)
	}
	return
}

// insertKnot applies one Boehm insertion of t to the coefficient rows of C
func insertKnot(p int, knots []float64, C *mat.Dense, t float64) (Cn *mat.Dense, kn []float64) {
	var (
		n, m = C.Dims()
		k    = sort.Search(len(knots), func(i int) bool { return knots[i] > t }) - 1
	)
	if k > n-1 {
		k = n - 1
	}
	Cn = mat.NewDense(n+1, m, nil)
	for i := 0; i <= n; i++ {
		switch {
		case i <= k-p:
			Cn.SetRow(i, C.RawRowView(i))
		case i > k:
			Cn.SetRow(i, C.RawRowView(i-1))
		default:
			alpha := (t - knots[i]) / (knots[i+p] - knots[i])
			for j := 0; j < m; j++ {
				Cn.Set(i, j, alpha*C.At(i, j)+(1-alpha)*C.At(i-1, j))
			}
		}
	}
	kn = make([]float64, 0, len(knots)+1)
	kn = append(kn, knots[:k+1]...)
	kn = append(kn, t)
	kn = append(kn, knots[k+1:]...)
	return
}

func (kv *KnotVector) String() string {
	return fmt.Sprintf("KnotVector(degree %d): %v", kv.degree, kv.knots)
}
