package types

import "fmt"

// BoxSide numbers the sides of a d-dimensional parameter box starting at 1.
// Side s lies in direction (s-1)/2, at the lower end when (s-1)%2 == 0.
type BoxSide uint8

const (
	NoSide BoxSide = iota
	West
	East
	South
	North
	Front
	Back
)

var BoxSideNameMap = map[string]BoxSide{
	"west":  West,
	"east":  East,
	"south": South,
	"north": North,
	"front": Front,
	"back":  Back,
}

func NewBoxSide(dir int, param bool) BoxSide {
	s := 2*dir + 1
	if param {
		s++
	}
	return BoxSide(s)
}

// Direction is the parametric direction normal to the side
func (s BoxSide) Direction() int { return (int(s) - 1) / 2 }

// Parameter is false for the lower and true for the upper end of Direction
func (s BoxSide) Parameter() bool { return (int(s)-1)%2 == 1 }

func (s BoxSide) Valid(dim int) bool { return s >= West && int(s) <= 2*dim }

// Sides returns every side of a box of the given dimension, in order
func Sides(dim int) (sides []BoxSide) {
	for d := 0; d < dim; d++ {
		sides = append(sides, NewBoxSide(d, false), NewBoxSide(d, true))
	}
	return
}

func (s BoxSide) String() string {
	for name, side := range BoxSideNameMap {
		if side == s {
			return name
		}
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

type PatchSide struct {
	Patch int
	Side  BoxSide
}

func (ps PatchSide) String() string {
	return fmt.Sprintf("patch %d %s", ps.Patch, ps.Side)
}

func (ps PatchSide) code() uint32 {
	return uint32(ps.Patch)<<3 | uint32(ps.Side)
}
