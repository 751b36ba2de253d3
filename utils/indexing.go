package utils

import "sort"

type Index []int

// Find returns the position of val in a sorted Index, or -1
func (I Index) Find(val int) int {
	k := sort.SearchInts(I, val)
	if k < len(I) && I[k] == val {
		return k
	}
	return -1
}

func (I Index) Copy() (r Index) {
	r = make(Index, len(I))
	copy(r, I)
	return
}

// Product returns the product of the entries, used for tensor sizes
func (I Index) Product() (p int) {
	p = 1
	for _, val := range I {
		p *= val
	}
	return
}
