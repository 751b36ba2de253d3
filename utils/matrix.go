package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix wraps a gonum Dense matrix. Point batches are stored one point per
// column, so a set of N points in d dimensions is a d x N Matrix.
type Matrix struct {
	M        *mat.Dense
	readOnly bool
	name     string
}

func NewMatrix(nr, nc int, dataO ...[]float64) (R Matrix) {
	var m *mat.Dense
	if len(dataO) != 0 {
		if len(dataO[0]) != nr*nc {
			err := fmt.Errorf("mismatch in allocation: NewMatrix nr,nc = %v,%v, len(data[0]) = %v\n", nr, nc, len(dataO[0]))
			panic(err)
		}
		m = mat.NewDense(nr, nc, dataO[0])
	} else {
		m = mat.NewDense(nr, nc, make([]float64, nr*nc))
	}
	R = Matrix{
		m,
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// NewPoints composes a point batch, each argument is one point (one column)
func NewPoints(pts ...[]float64) (R Matrix) {
	if len(pts) == 0 {
		panic("no points supplied to NewPoints")
	}
	var (
		d = len(pts[0])
	)
	R = NewMatrix(d, len(pts))
	for j, pt := range pts {
		if len(pt) != d {
			panic(fmt.Errorf("point %d has dimension %d, expected %d", j, len(pt), d))
		}
		R.M.SetCol(j, pt)
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m Matrix) Dims() (r, c int)    { return m.M.Dims() }
func (m Matrix) At(i, j int) float64 { return m.M.At(i, j) }
func (m Matrix) T() mat.Matrix       { return m.M.T() }

func (m Matrix) Rows() int { r, _ := m.M.Dims(); return r }
func (m Matrix) Cols() int { _, c := m.M.Dims(); return c }

func (m Matrix) Data() []float64 { return m.M.RawMatrix().Data }

func (m *Matrix) SetReadOnly(name ...string) Matrix {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return *m
}

func (m Matrix) Set(i, j int, val float64) Matrix { // Changes receiver
	m.checkWritable()
	m.M.Set(i, j, val)
	return m
}

// Col returns a copy of column j, i.e. the j-th point of a batch
func (m Matrix) Col(j int) (col []float64) { // Does not change receiver
	return mat.Col(nil, j, m.M)
}

func (m Matrix) SetCol(j int, col []float64) Matrix { // Changes receiver
	m.checkWritable()
	m.M.SetCol(j, col)
	return m
}

func (m Matrix) Copy() (R Matrix) { // Does not change receiver
	var (
		nr, nc = m.Dims()
		dataR  = make([]float64, nr*nc)
	)
	copy(dataR, m.Data())
	R = NewMatrix(nr, nc, dataR)
	return
}

// MaxAbsDiff returns the largest entrywise difference between two matrices of equal shape
func (m Matrix) MaxAbsDiff(A Matrix) (diff float64) {
	var (
		nr, nc   = m.Dims()
		nrA, ncA = A.Dims()
	)
	if nr != nrA || nc != ncA {
		panic(fmt.Errorf("dimension mismatch: %dx%d vs %dx%d", nr, nc, nrA, ncA))
	}
	dataA := A.Data()
	for i, val := range m.Data() {
		diff = math.Max(diff, math.Abs(val-dataA[i]))
	}
	return
}

func (m Matrix) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

func (m Matrix) String() string {
	return fmt.Sprintf("%s\n%v", m.name, mat.Formatted(m.M, mat.Squeeze()))
}
