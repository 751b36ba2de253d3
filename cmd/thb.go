/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/james-bowman/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/goiga/InputParameters"
	"github.com/notargets/goiga/assembly"
	"github.com/notargets/goiga/bspline"
	"github.com/notargets/goiga/geometry"
	"github.com/notargets/goiga/hsplines"
	"github.com/notargets/goiga/multipatch"
	"github.com/notargets/goiga/utils"
)

// THBCmd represents the thb command
var THBCmd = &cobra.Command{
	Use:   "thb",
	Short: "Locally refined bases of every patch, checked by L2 projection",
	Long: `
Builds the patch bases given in the input file, applies the uniform and box
refinements and reports the resulting hierarchical bases together with the L2
projection error of a smooth function on each,

goiga thb -I input.yaml`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var ip *InputParameters.InputParameters
		if ip, err = processInput(cmd); err != nil {
			return
		}
		return RunTHB(ip, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(THBCmd)
}

// buildMultiPatch makes one box patch per PatchBox on the same uniform basis
// and applies the refinements in order: uniform first, then the boxes
func buildMultiPatch(ip *InputParameters.InputParameters) (mp *multipatch.MultiPatch, err error) {
	mp = multipatch.NewMultiPatch()
	for _, pb := range ip.Patches {
		tb := bspline.NewUniformTensorBasis(ip.Degree, ip.Elements...)
		if _, err = mp.AddPatch(geometry.NewBox(tb, pb.Lower, pb.Upper), tb); err != nil {
			return
		}
	}
	for i := 0; i < ip.UniformRefinements; i++ {
		mp.UniformRefine()
	}
	for _, rb := range ip.Refinements {
		if err = mp.InsertBox(rb.Patch, rb.Level, rb.Low, rb.High); err != nil {
			return
		}
	}
	return
}

func smooth(u []float64) (f float64) {
	f = 1
	for _, x := range u {
		f *= math.Cos(2 * x)
	}
	return f + u[0]*u[0]
}

func RunTHB(ip *InputParameters.InputParameters, w io.Writer) (err error) {
	var mp *multipatch.MultiPatch
	if mp, err = buildMultiPatch(ip); err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", ip.Title)
	for p := 0; p < mp.NumPatches(); p++ {
		var (
			b     = mp.Patch(p).Basis
			l2    = assembly.NewL2Projection(b, ip.Workers)
			coefs []float64
			e     float64
		)
		fmt.Fprintf(w, "Patch %d: %v\n", p, b)
		if thb, ok := b.(*hsplines.THBSplineBasis); ok {
			for lev := 0; lev < thb.NumLevels(); lev++ {
				fmt.Fprintf(w, "    Level %d: %d of %d functions active, %v elements per direction\n",
					lev, thb.NumLevelFunctions(lev), thb.TensorLevel(lev).Size(), thb.NumElements(lev))
			}
		}
		elems := b.Elements()
		vmin := math.Inf(1)
		for _, el := range elems {
			vmin = math.Min(vmin, el.Volume())
		}
		fmt.Fprintf(w, "    %d elements, smallest volume %8.3e\n", len(elems), vmin)
		if coefs, err = l2.Project(smooth); err != nil {
			return fmt.Errorf("projecting on patch %d: %w", p, err)
		}
		if e, err = l2.L2Error(smooth, coefs); err != nil {
			return
		}
		fmt.Fprintf(w, "    L2 projection error: %8.3e\n", e)
		if thb, ok := b.(*hsplines.THBSplineBasis); ok {
			if e, err = transferError(thb, ip.Workers); err != nil {
				return fmt.Errorf("transferring on patch %d: %w", p, err)
			}
			fmt.Fprintf(w, "    Transfer error: %8.3e\n", e)
		}
	}
	logrus.Debug(utils.GetMemUsage())
	return
}

// transferError projects onto the unrefined level of thb, transfers the
// coefficients and returns the largest difference at the element centers
func transferError(thb *hsplines.THBSplineBasis, workers int) (e float64, err error) {
	var (
		coarse = hsplines.NewTHBSplineBasis(thb.TensorLevel(0))
		T      *sparse.CSR
		coefs  []float64
	)
	if coefs, err = assembly.NewL2Projection(coarse, workers).Project(smooth); err != nil {
		return
	}
	if T, err = thb.Transfer(coarse); err != nil {
		return
	}
	fine := utils.CSR{M: T}.MulVec(coefs)
	for _, el := range thb.Elements() {
		var (
			pt     = el.Center()
			fc, ff float64
		)
		if fc, err = assembly.Evaluate(coarse, coefs, pt); err != nil {
			return
		}
		if ff, err = assembly.Evaluate(thb, fine, pt); err != nil {
			return
		}
		e = math.Max(e, math.Abs(fc-ff))
	}
	return
}
