package bspline

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

/*
ApplyDirection multiplies a tensor structured coefficient array along one
direction. c is stored with direction 0 varying fastest and has the given
sizes; A is nOut x sizes[dir]. The result has sizes[dir] replaced by nOut.
*/
func ApplyDirection(A mat.Matrix, dir int, sizes []int, c []float64) (out []float64, outSizes []int) {
	var (
		nOut, nIn   = A.Dims()
		before      = 1
		after       = 1
		outStrideIn int
	)
	if nIn != sizes[dir] {
		panic(fmt.Errorf("matrix has %d columns, direction %d has size %d", nIn, dir, sizes[dir]))
	}
	for k := 0; k < dir; k++ {
		before *= sizes[k]
	}
	for k := dir + 1; k < len(sizes); k++ {
		after *= sizes[k]
	}
	outSizes = append([]int(nil), sizes...)
	outSizes[dir] = nOut
	out = make([]float64, before*nOut*after)
	outStrideIn = before * nOut
	for j := 0; j < nIn; j++ {
		for r := 0; r < nOut; r++ {
			a := A.At(r, j)
			if a == 0 {
				continue
			}
			for ia := 0; ia < after; ia++ {
				src := before * (j + nIn*ia)
				dst := before*r + outStrideIn*ia
				for ib := 0; ib < before; ib++ {
					out[dst+ib] += a * c[src+ib]
				}
			}
		}
	}
	return
}

// RefineCoefs applies one matrix per direction to a tensor coefficient array
func RefineCoefs(R []*mat.Dense, sizes []int, c []float64) (out []float64, outSizes []int) {
	out, outSizes = c, sizes
	for d, A := range R {
		out, outSizes = ApplyDirection(A, d, outSizes, out)
	}
	return
}
