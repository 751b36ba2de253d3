package bspline

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r1"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goiga/types"
	"github.com/notargets/goiga/utils"
)

/*
TensorBasis is the tensor product of one knot vector per parametric direction.

A function is identified by its tuple of per-direction indices (i0, ..., id-1)
and flattened with direction 0 varying fastest:

	flat = i0 + n0*(i1 + n1*(i2 + ...))

All clients computing global numbers rely on this rule.
*/
type TensorBasis struct {
	kv    []*KnotVector
	sizes utils.Index
}

func NewTensorBasis(kvs ...*KnotVector) (tb *TensorBasis, err error) {
	if len(kvs) == 0 {
		err = fmt.Errorf("%w: tensor basis needs at least one direction", ErrInvalidKnotVector)
		return
	}
	tb = &TensorBasis{
		kv:    append([]*KnotVector(nil), kvs...),
		sizes: make(utils.Index, len(kvs)),
	}
	for d, kv := range kvs {
		if kv == nil {
			err = fmt.Errorf("%w: direction %d has no knot vector", ErrInvalidKnotVector, d)
			tb = nil
			return
		}
		tb.sizes[d] = kv.Size()
	}
	return
}

// NewUniformTensorBasis builds an open uniform basis on the unit box with the
// given degree and number of elements per direction
func NewUniformTensorBasis(degree int, elements ...int) (tb *TensorBasis) {
	var (
		kvs = make([]*KnotVector, len(elements))
		err error
	)
	for d, ne := range elements {
		kvs[d] = NewUniformKnotVector(0, 1, ne-1, degree)
	}
	if tb, err = NewTensorBasis(kvs...); err != nil {
		panic(err)
	}
	return
}

func (tb *TensorBasis) Dim() int                    { return len(tb.kv) }
func (tb *TensorBasis) Component(d int) *KnotVector { return tb.kv[d] }
func (tb *TensorBasis) Size() int                   { return tb.sizes.Product() }
func (tb *TensorBasis) SizeDir(d int) int           { return tb.sizes[d] }
func (tb *TensorBasis) Sizes() utils.Index          { return tb.sizes.Copy() }
func (tb *TensorBasis) Degree(d int) int            { return tb.kv[d].degree }

func (tb *TensorBasis) NumElements() (ne utils.Index) {
	ne = make(utils.Index, tb.Dim())
	for d, kv := range tb.kv {
		ne[d] = kv.NumElements()
	}
	return
}

func (tb *TensorBasis) Domain() (dom []r1.Interval) {
	dom = make([]r1.Interval, tb.Dim())
	for d, kv := range tb.kv {
		dom[d] = kv.Domain()
	}
	return
}

func (tb *TensorBasis) Contains(pt []float64) bool {
	return CheckPoint(tb.Domain(), pt) == nil
}

func (tb *TensorBasis) FlatIndex(tuple []int) (flat int) {
	var (
		d = tb.Dim()
	)
	flat = tuple[d-1]
	for i := d - 2; i >= 0; i-- {
		flat = flat*tb.sizes[i] + tuple[i]
	}
	return
}

func (tb *TensorBasis) TensorIndex(flat int) (tuple []int) {
	tuple = make([]int, tb.Dim())
	for i := range tuple {
		tuple[i] = flat % tb.sizes[i]
		flat /= tb.sizes[i]
	}
	return
}

// FirstActive returns the tuple of the first active function in each direction
func (tb *TensorBasis) FirstActive(pt []float64) (first []int) {
	first = make([]int, tb.Dim())
	for d, kv := range tb.kv {
		first[d] = kv.FirstActive(pt[d])
	}
	return
}

func (tb *TensorBasis) activeBox(first []int) (hi []int) {
	hi = make([]int, len(first))
	for d, kv := range tb.kv {
		hi[d] = first[d] + kv.degree + 1
	}
	return
}

func (tb *TensorBasis) Active(pt []float64) (act utils.Index, err error) {
	if err = CheckPoint(tb.Domain(), pt); err != nil {
		return
	}
	first := tb.FirstActive(pt)
	ForEachIndex(first, tb.activeBox(first), func(idx []int) {
		act = append(act, tb.FlatIndex(idx))
	})
	return
}

// localDers returns ders[d][k][j], the k-th derivative in direction d of the
// j-th active function of that direction
func (tb *TensorBasis) localDers(pt []float64, n int) (first []int, ders [][][]float64) {
	first = make([]int, tb.Dim())
	ders = make([][][]float64, tb.Dim())
	for d, kv := range tb.kv {
		span := kv.FindSpan(pt[d])
		first[d] = span - kv.degree
		if n == 0 {
			ders[d] = [][]float64{kv.BasisFuns(span, pt[d])}
		} else {
			ders[d] = kv.DersBasisFuns(span, pt[d], n)
		}
	}
	return
}

// evalLocal evaluates every active function for each derivative order tuple in
// orders, results are function major
func (tb *TensorBasis) evalLocal(pt []float64, orders [][]int) (act utils.Index, vals []float64, err error) {
	if err = CheckPoint(tb.Domain(), pt); err != nil {
		return
	}
	var (
		maxOrder int
		lo       = make([]int, tb.Dim())
		hi       = make([]int, tb.Dim())
	)
	for _, ord := range orders {
		for _, k := range ord {
			if k > maxOrder {
				maxOrder = k
			}
		}
	}
	first, ders := tb.localDers(pt, maxOrder)
	for d, kv := range tb.kv {
		hi[d] = kv.degree + 1
	}
	ForEachIndex(lo, hi, func(idx []int) {
		tuple := make([]int, len(idx))
		for d := range idx {
			tuple[d] = first[d] + idx[d]
		}
		act = append(act, tb.FlatIndex(tuple))
		for _, ord := range orders {
			v := 1.
			for d, k := range ord {
				v *= ders[d][k][idx[d]]
			}
			vals = append(vals, v)
		}
	})
	return
}

func (tb *TensorBasis) Eval(pt []float64) (act utils.Index, vals []float64, err error) {
	return tb.evalLocal(pt, derivOrders(tb.Dim(), 0))
}

func (tb *TensorBasis) Deriv(pt []float64) (act utils.Index, ders []float64, err error) {
	return tb.evalLocal(pt, derivOrders(tb.Dim(), 1))
}

func (tb *TensorBasis) Deriv2(pt []float64) (act utils.Index, ders []float64, err error) {
	return tb.evalLocal(pt, derivOrders(tb.Dim(), 2))
}

// derivOrders lists the per-direction derivative orders of all partial
// derivatives of total order n (n <= 2), in output order
func derivOrders(dim, n int) (orders [][]int) {
	switch n {
	case 0:
		orders = [][]int{make([]int, dim)}
	case 1:
		for k := 0; k < dim; k++ {
			ord := make([]int, dim)
			ord[k] = 1
			orders = append(orders, ord)
		}
	case 2:
		for k := 0; k < dim; k++ {
			ord := make([]int, dim)
			ord[k] = 2
			orders = append(orders, ord)
		}
		for i := 0; i < dim; i++ {
			for j := i + 1; j < dim; j++ {
				ord := make([]int, dim)
				ord[i], ord[j] = 1, 1
				orders = append(orders, ord)
			}
		}
	default:
		panic(fmt.Errorf("derivative order %d not supported", n))
	}
	return
}

func (tb *TensorBasis) EvalSingle(i int, pt []float64) (val float64, err error) {
	return tb.evalSingleOrder(i, pt, make([]int, tb.Dim()))
}

func (tb *TensorBasis) evalSingleOrder(i int, pt []float64, ord []int) (val float64, err error) {
	if err = CheckPoint(tb.Domain(), pt); err != nil {
		return
	}
	if i < 0 || i >= tb.Size() {
		return 0, fmt.Errorf("function index %d out of range [0,%d)", i, tb.Size())
	}
	val = 1
	for d, ti := range tb.TensorIndex(i) {
		val *= tb.kv[d].EvalSingle(ti, pt[d], ord[d])
		if val == 0 {
			return
		}
	}
	return
}

// UniformRefine returns the basis with every element split in half
func (tb *TensorBasis) UniformRefine() *TensorBasis {
	kvs := make([]*KnotVector, tb.Dim())
	for d, kv := range tb.kv {
		kvs[d] = kv.Refine()
	}
	fine, _ := NewTensorBasis(kvs...)
	return fine
}

func (tb *TensorBasis) Elements() (elems []Element) {
	var (
		lo = make([]int, tb.Dim())
	)
	ForEachIndex(lo, tb.NumElements(), func(idx []int) {
		el := Element{Lower: make([]float64, len(idx)), Upper: make([]float64, len(idx))}
		for d, e := range idx {
			el.Lower[d] = tb.kv[d].unique[e]
			el.Upper[d] = tb.kv[d].unique[e+1]
		}
		elems = append(elems, el)
	})
	return
}

// ElementSupport returns the element index box [lo, hi) covered by function i
func (tb *TensorBasis) ElementSupport(i int) (lo, hi []int) {
	lo, hi = make([]int, tb.Dim()), make([]int, tb.Dim())
	for d, ti := range tb.TensorIndex(i) {
		lo[d], hi[d] = tb.kv[d].ElementSupport(ti)
	}
	return
}

// Anchor returns the Greville point of function i
func (tb *TensorBasis) Anchor(i int) (pt []float64) {
	pt = make([]float64, tb.Dim())
	for d, ti := range tb.TensorIndex(i) {
		pt[d] = tb.kv[d].Greville()[ti]
	}
	return
}

// BoundaryFunctions returns, in ascending order, the functions that do not
// vanish on the given side
func (tb *TensorBasis) BoundaryFunctions(side types.BoxSide) (bnd utils.Index) {
	var (
		dir = side.Direction()
		lo  = make([]int, tb.Dim())
		hi  = tb.Sizes()
	)
	if side.Parameter() {
		lo[dir] = hi[dir] - 1
	} else {
		hi[dir] = 1
	}
	ForEachIndex(lo, hi, func(idx []int) {
		bnd = append(bnd, tb.FlatIndex(idx))
	})
	return
}

// RefinementMatrices returns the 1-D two-scale matrices towards a nested basis
func (tb *TensorBasis) RefinementMatrices(fine *TensorBasis) (R []*mat.Dense, err error) {
	if fine.Dim() != tb.Dim() {
		err = fmt.Errorf("%w: dimension %d cannot be refined into %d", ErrInvalidKnotVector, tb.Dim(), fine.Dim())
		return
	}
	R = make([]*mat.Dense, tb.Dim())
	for d, kv := range tb.kv {
		if R[d], err = kv.RefinementMatrix(fine.kv[d]); err != nil {
			return
		}
	}
	return
}

func (tb *TensorBasis) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TensorBasis(dim %d, size %d)", tb.Dim(), tb.Size())
	for d, kv := range tb.kv {
		fmt.Fprintf(&sb, "\n  direction %d: degree %d, %d elements, %d functions",
			d, kv.degree, kv.NumElements(), kv.Size())
	}
	return sb.String()
}
