package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goiga/InputParameters"
)

func twoSquares() *InputParameters.InputParameters {
	ip := InputParameters.NewInputParameters()
	ip.Title = "Two squares"
	ip.Patches = []InputParameters.PatchBox{
		{Lower: []float64{0, 0}, Upper: []float64{1, 1}},
		{Lower: []float64{1, 0}, Upper: []float64{2, 1}},
	}
	return ip
}

func TestRunTHB(t *testing.T) {
	{
		var buf bytes.Buffer
		require.NoError(t, RunTHB(InputParameters.NewInputParameters(), &buf))
		out := buf.String()
		assert.True(t, strings.Contains(out, "Patch 0: "), out)
		assert.True(t, strings.Contains(out, "16 elements"), out)
		assert.True(t, strings.Contains(out, "L2 projection error"), out)
	}
	{ // Lower left quadrant refined
		var (
			buf bytes.Buffer
			ip  = InputParameters.NewInputParameters()
		)
		ip.Refinements = []InputParameters.RefinementBox{{Patch: 0, Level: 1, Low: []int{0, 0}, High: []int{4, 4}}}
		require.NoError(t, RunTHB(ip, &buf))
		out := buf.String()
		assert.True(t, strings.Contains(out, "Level 0: 32 of 36 functions active"), out)
		assert.True(t, strings.Contains(out, "Level 1: 16 of 100 functions active"), out)
		assert.True(t, strings.Contains(out, "28 elements"), out)
		assert.True(t, strings.Contains(out, "Transfer error: "), out)
	}
	{
		ip := InputParameters.NewInputParameters()
		ip.Refinements = []InputParameters.RefinementBox{{Patch: 0, Level: 1, Low: []int{0, 0}, High: []int{40, 4}}}
		assert.Error(t, RunTHB(ip, &bytes.Buffer{}))
	}
}

func TestRunInterface(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunInterface(twoSquares(), &buf))
	out := buf.String()
	assert.True(t, strings.Contains(out, "2 patches, 1 interfaces, 6 boundary sides"), out)
	assert.True(t, strings.Contains(out, "Affine:       yes"), out)
	assert.True(t, strings.Contains(out, "Matching:     yes"), out)
	assert.True(t, strings.Contains(out, "Quadrature:   12 points, measure 1"), out)
	assert.True(t, strings.Contains(out, "66 global functions, 60 uncoupled"), out)
}

func TestExecute(t *testing.T) {
	var (
		dir  = t.TempDir()
		file = filepath.Join(dir, "input.yaml")
	)
	require.NoError(t, os.WriteFile(file, []byte(`
Title: Quadrant
Degree: 2
Elements: [4, 4]
Refinements:
  - Patch: 0
    Level: 1
    Low: [0, 0]
    High: [4, 4]
`), 0o644))
	rootCmd.SetArgs([]string{"thb", "-I", file})
	require.NoError(t, rootCmd.Execute())
	rootCmd.SetArgs([]string{"interface", "-I", filepath.Join(dir, "missing.yaml")})
	assert.Error(t, rootCmd.Execute())
}
