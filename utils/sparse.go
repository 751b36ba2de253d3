package utils

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// DOK is the accumulation format for global systems, entries are summed on Add
type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) (R DOK) {
	R = DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }
func (m DOK) NNZ() int            { return m.M.NNZ() }

func (m *DOK) SetReadOnly(name ...string) DOK {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return *m
}

func (m DOK) Add(i, j int, val float64) DOK { // Changes receiver
	m.checkWritable()
	m.M.Set(i, j, m.M.At(i, j)+val)
	return m
}

// AddBlock scatters a local dense block into the rows/columns given by I and J
func (m DOK) AddBlock(I, J Index, block *mat.Dense) DOK { // Changes receiver
	var (
		nr, nc = block.Dims()
	)
	if nr != len(I) || nc != len(J) {
		panic(fmt.Errorf("block dimensions %dx%d do not match index lengths %d,%d", nr, nc, len(I), len(J)))
	}
	for ii, i := range I {
		for jj, j := range J {
			if val := block.At(ii, jj); val != 0 {
				m.Add(i, j, val)
			}
		}
	}
	return m
}

// ToSymDense copies a symmetric DOK into dense symmetric storage for factorization
func (m DOK) ToSymDense() (S *mat.SymDense) {
	var (
		nr, nc = m.Dims()
	)
	if nr != nc {
		panic(fmt.Errorf("matrix \"%v\" is not square: %dx%d", m.name, nr, nc))
	}
	S = mat.NewSymDense(nr, nil)
	m.M.DoNonZero(func(i, j int, v float64) {
		if i <= j {
			S.SetSym(i, j, v)
		}
	})
	return
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

func (m DOK) ToCSR() CSR {
	return CSR{
		M:    m.M.ToCSR(),
		name: m.name,
	}
}

// CSR is the compressed, read only form used for products
type CSR struct {
	M    *sparse.CSR
	name string
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)    { return m.M.Dims() }
func (m CSR) At(i, j int) float64 { return m.M.At(i, j) }
func (m CSR) T() mat.Matrix       { return m.M.T() }

func (m CSR) MulVec(x []float64) (y []float64) {
	var (
		nr, nc = m.Dims()
	)
	if len(x) != nc {
		panic(fmt.Errorf("dimension mismatch in MulVec: %d columns, len(x) = %d", nc, len(x)))
	}
	y = make([]float64, nr)
	m.M.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
	return
}
