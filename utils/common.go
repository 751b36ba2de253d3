package utils

const (
	NODETOL = 1.e-12
)

// IntPow2 returns 2^n for n >= 0
func IntPow2(n int) int {
	if n < 0 {
		panic("negative exponent")
	}
	return 1 << uint(n)
}
