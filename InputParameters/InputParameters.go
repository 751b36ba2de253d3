package InputParameters

import (
	"errors"
	"fmt"

	"github.com/ghodss/yaml"
)

var ErrInvalidParameters = errors.New("invalid input parameters")

// Parameters obtained from the YAML input file
type InputParameters struct {
	Title              string          `yaml:"Title"`
	Degree             int             `yaml:"Degree"`
	Elements           []int           `yaml:"Elements"` // per parametric direction
	UniformRefinements int             `yaml:"UniformRefinements"`
	Refinements        []RefinementBox `yaml:"Refinements"`
	Patches            []PatchBox      `yaml:"Patches"`
	CheckAffine        int             `yaml:"CheckAffine"` // -1 never, 0 always, n > 0 grid steps
	MatchTolerance     float64         `yaml:"MatchTolerance"`
	Workers            int             `yaml:"Workers"`
}

// RefinementBox is an InsertBox call, Low and High are element indices at Level
type RefinementBox struct {
	Patch int   `yaml:"Patch"`
	Level int   `yaml:"Level"`
	Low   []int `yaml:"Low"`
	High  []int `yaml:"High"`
}

// PatchBox is a patch mapped affinely onto [Lower, Upper]
type PatchBox struct {
	Lower []float64 `yaml:"Lower"`
	Upper []float64 `yaml:"Upper"`
}

func NewInputParameters() *InputParameters {
	return &InputParameters{
		Title:          "unit square",
		Degree:         2,
		Elements:       []int{4, 4},
		Patches:        []PatchBox{{Lower: []float64{0, 0}, Upper: []float64{1, 1}}},
		CheckAffine:    1,
		MatchTolerance: 1e-6,
		Workers:        4,
	}
}

// Parse overlays the values present in data onto ip
func (ip *InputParameters) Parse(data []byte) (err error) {
	if err = yaml.Unmarshal(data, ip); err != nil {
		return
	}
	return ip.Validate()
}

func (ip *InputParameters) Validate() (err error) {
	dim := len(ip.Elements)
	switch {
	case ip.Degree < 1:
		return fmt.Errorf("%w: degree %d", ErrInvalidParameters, ip.Degree)
	case dim < 1 || dim > 3:
		return fmt.Errorf("%w: %d parametric directions", ErrInvalidParameters, dim)
	case ip.UniformRefinements < 0:
		return fmt.Errorf("%w: %d uniform refinements", ErrInvalidParameters, ip.UniformRefinements)
	case ip.Workers < 1:
		return fmt.Errorf("%w: %d workers", ErrInvalidParameters, ip.Workers)
	}
	for _, ne := range ip.Elements {
		if ne < 1 {
			return fmt.Errorf("%w: elements %v", ErrInvalidParameters, ip.Elements)
		}
	}
	for i, pb := range ip.Patches {
		if len(pb.Lower) != dim || len(pb.Upper) != dim {
			return fmt.Errorf("%w: patch %d corners %v, %v for %d directions",
				ErrInvalidParameters, i, pb.Lower, pb.Upper, dim)
		}
	}
	for i, rb := range ip.Refinements {
		if rb.Patch < 0 || rb.Patch >= len(ip.Patches) {
			return fmt.Errorf("%w: refinement %d refers to patch %d", ErrInvalidParameters, i, rb.Patch)
		}
		if len(rb.Low) != dim || len(rb.High) != dim {
			return fmt.Errorf("%w: refinement %d box %v, %v for %d directions",
				ErrInvalidParameters, i, rb.Low, rb.High, dim)
		}
	}
	return
}

func (ip *InputParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%d]\t\t\t\t= Degree\n", ip.Degree)
	fmt.Printf("%v\t\t\t= Elements\n", ip.Elements)
	fmt.Printf("[%d]\t\t\t\t= Uniform Refinements\n", ip.UniformRefinements)
	fmt.Printf("[%d]\t\t\t\t= CheckAffine\n", ip.CheckAffine)
	fmt.Printf("%8.2e\t\t= MatchTolerance\n", ip.MatchTolerance)
	fmt.Printf("[%d]\t\t\t\t= Workers\n", ip.Workers)
	for i, pb := range ip.Patches {
		fmt.Printf("Patch[%d] = %v to %v\n", i, pb.Lower, pb.Upper)
	}
	for _, rb := range ip.Refinements {
		fmt.Printf("Refine[%d] level %d = %v to %v\n", rb.Patch, rb.Level, rb.Low, rb.High)
	}
}
