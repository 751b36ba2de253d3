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
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goiga/InputParameters"
	"github.com/notargets/goiga/multipatch"
	"github.com/notargets/goiga/remap"
)

// InterfaceCmd represents the interface command
var InterfaceCmd = &cobra.Command{
	Use:   "interface",
	Short: "Detects the interfaces between patches and reports their parameter maps",
	Long: `
Glues the patches of the input file where their sides meet, builds the
interface remap of every glued pair of sides and numbers the coupled degrees
of freedom,

goiga interface -I input.yaml`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var ip *InputParameters.InputParameters
		if ip, err = processInput(cmd); err != nil {
			return
		}
		return RunInterface(ip, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(InterfaceCmd)
}

func RunInterface(ip *InputParameters.InputParameters, w io.Writer) (err error) {
	var (
		mp    *multipatch.MultiPatch
		maps  []multipatch.SideMap
		dm    *multipatch.InterfaceDofMapper
		found int
		opts  = remap.DefaultOptions()
	)
	opts.CheckAffine = ip.CheckAffine
	opts.MatchTolerance = ip.MatchTolerance
	if mp, err = buildMultiPatch(ip); err != nil {
		return
	}
	if found, err = mp.ComputeTopology(ip.MatchTolerance); err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", ip.Title)
	fmt.Fprintf(w, "%d patches, %d interfaces, %d boundary sides\n", mp.NumPatches(), found, len(mp.Boundaries()))
	for _, bi := range mp.Interfaces() {
		var r *remap.InterfaceRemap
		if r, err = remap.New(mp, bi, opts); err != nil {
			return fmt.Errorf("interface %v: %w", bi, err)
		}
		fmt.Fprint(w, r.String())
		var wts []float64
		if _, _, wts, err = r.Quadrature(ip.Degree + 1); err != nil {
			return fmt.Errorf("interface %v: %w", bi, err)
		}
		fmt.Fprintf(w, "    Quadrature:   %d points, measure %.6g\n", len(wts), floats.Sum(wts))
		if warn := r.Warnings(); warn != nil {
			fmt.Fprintf(w, "    Warnings:     %v\n", warn)
		}
		maps = append(maps, r)
	}
	if dm, err = multipatch.NewInterfaceDofMapper(mp, maps, ip.MatchTolerance); err != nil {
		return
	}
	fmt.Fprintf(w, "%d global functions, %d uncoupled\n", dm.Size(), dm.FreeSize())
	return
}
