package bspline

// BasisFuns evaluates the p+1 functions that are non-zero on the given span at
// u, ordered from the first active function upward (Piegl & Tiller A2.2)
func (kv *KnotVector) BasisFuns(span int, u float64) (N []float64) {
	var (
		p     = kv.degree
		t     = kv.knots
		left  = make([]float64, p+1)
		right = make([]float64, p+1)
	)
	N = make([]float64, p+1)
	N[0] = 1
	for j := 1; j <= p; j++ {
		left[j] = u - t[span+1-j]
		right[j] = t[span+j] - u
		var saved float64
		for r := 0; r < j; r++ {
			temp := N[r] / (right[r+1] + left[j-r])
			N[r] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		N[j] = saved
	}
	return
}

/*
DersBasisFuns returns ders[k][j], the k-th derivative of active function j at
u for k = 0..n (Piegl & Tiller A2.3). Derivatives above the degree vanish.
*/
func (kv *KnotVector) DersBasisFuns(span int, u float64, n int) (ders [][]float64) {
	var (
		p     = kv.degree
		t     = kv.knots
		nn    = n
		ndu   = zeros2D(p+1, p+1)
		left  = make([]float64, p+1)
		right = make([]float64, p+1)
		a     = zeros2D(2, p+1)
	)
	ders = zeros2D(n+1, p+1)
	if nn > p {
		nn = p
	}
	ndu[0][0] = 1
	for j := 1; j <= p; j++ {
		left[j] = u - t[span+1-j]
		right[j] = t[span+j] - u
		var saved float64
		for r := 0; r < j; r++ {
			// lower triangle holds the knot differences
			ndu[j][r] = right[r+1] + left[j-r]
			temp := ndu[r][j-1] / ndu[j][r]
			ndu[r][j] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		ndu[j][j] = saved
	}
	for j := 0; j <= p; j++ {
		ders[0][j] = ndu[j][p]
	}
	for r := 0; r <= p; r++ {
		s1, s2 := 0, 1
		a[0][0] = 1
		for k := 1; k <= nn; k++ {
			var (
				d      float64
				rk     = r - k
				pk     = p - k
				j1, j2 int
			)
			if r >= k {
				a[s2][0] = a[s1][0] / ndu[pk+1][rk]
				d = a[s2][0] * ndu[rk][pk]
			}
			if rk >= -1 {
				j1 = 1
			} else {
				j1 = -rk
			}
			if r-1 <= pk {
				j2 = k - 1
			} else {
				j2 = p - r
			}
			for j := j1; j <= j2; j++ {
				a[s2][j] = (a[s1][j] - a[s1][j-1]) / ndu[pk+1][rk+j]
				d += a[s2][j] * ndu[rk+j][pk]
			}
			if r <= pk {
				a[s2][k] = -a[s1][k-1] / ndu[pk+1][r]
				d += a[s2][k] * ndu[r][pk]
			}
			ders[k][r] = d
			s1, s2 = s2, s1
		}
	}
	acc := p
	for k := 1; k <= nn; k++ {
		for j := 0; j <= p; j++ {
			ders[k][j] *= float64(acc)
		}
		acc *= p - k
	}
	return
}

// EvalSingle evaluates the k-th derivative of function i at u
func (kv *KnotVector) EvalSingle(i int, u float64, k int) float64 {
	var (
		span  = kv.FindSpan(u)
		first = span - kv.degree
	)
	if i < first || i > span {
		return 0
	}
	if k == 0 {
		return kv.BasisFuns(span, u)[i-first]
	}
	return kv.DersBasisFuns(span, u, k)[k][i-first]
}

func zeros2D(n, m int) (A [][]float64) {
	A = make([][]float64, n)
	for i := range A {
		A[i] = make([]float64, m)
	}
	return
}
