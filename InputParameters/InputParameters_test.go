package InputParameters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	fileInput := []byte(`
Title: Two squares
Degree: 3
Elements: [4, 2]
UniformRefinements: 1
Patches:
  - Lower: [0, 0]
    Upper: [1, 1]
  - Lower: [1, 0]
    Upper: [2, 0.5]
Refinements:
  - Patch: 1
    Level: 1
    Low: [0, 0]
    High: [4, 2]
CheckAffine: -1
`)
	ip := NewInputParameters()
	require.NoError(t, ip.Parse(fileInput))
	assert.Equal(t, "Two squares", ip.Title)
	assert.Equal(t, 3, ip.Degree)
	assert.Equal(t, []int{4, 2}, ip.Elements)
	assert.Equal(t, 1, ip.UniformRefinements)
	require.Len(t, ip.Patches, 2)
	assert.Equal(t, []float64{2, 0.5}, ip.Patches[1].Upper)
	assert.Equal(t, []RefinementBox{{Patch: 1, Level: 1, Low: []int{0, 0}, High: []int{4, 2}}}, ip.Refinements)
	assert.Equal(t, -1, ip.CheckAffine)
	// Not in the file
	assert.Equal(t, 1e-6, ip.MatchTolerance)
	assert.Equal(t, 4, ip.Workers)
	ip.Print()
}

func TestValidate(t *testing.T) {
	require.NoError(t, NewInputParameters().Validate())
	for _, in := range []string{
		"Degree: 0",
		"Elements: []",
		"Elements: [2, 0]",
		"Workers: 0",
		"Elements: [4, 4, 4]",
		"Refinements: [{Patch: 3, Level: 1, Low: [0, 0], High: [1, 1]}]",
		"Refinements: [{Patch: 0, Level: 1, Low: [0], High: [1]}]",
	} {
		err := NewInputParameters().Parse([]byte(in))
		assert.True(t, errors.Is(err, ErrInvalidParameters), in)
	}
	assert.Error(t, NewInputParameters().Parse([]byte("Degree: [")))
}
