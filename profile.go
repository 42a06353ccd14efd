package trtlite

import "fmt"

// OptimizationProfile declares the admissible batch range of one dynamic
// input
type OptimizationProfile struct {
	// Input is the name of the dynamic input tensor
	Input string
	// Min, Opt and Max are the minimum, optimal and maximum batch sizes
	Min int
	Opt int
	Max int
}

// Validate checks 1 <= min <= opt <= max
func (p OptimizationProfile) Validate() error {
	if p.Input == "" {
		return fmt.Errorf("%w: input name is empty", ErrInvalidProfile)
	}

	if p.Min < 1 || p.Min > p.Opt || p.Opt > p.Max {
		return fmt.Errorf("%w: %q requires 1 <= min <= opt <= max, got (%d, %d, %d)",
			ErrInvalidProfile, p.Input, p.Min, p.Opt, p.Max)
	}

	return nil
}

// Contains reports if batch falls within [min, max]
func (p OptimizationProfile) Contains(batch int) bool {
	return batch >= p.Min && batch <= p.Max
}

// Shapes expands the profile to full (min, opt, max) tensor shapes for the
// given per-sample shape
func (p OptimizationProfile) Shapes(sample Dims) (minShape, optShape, maxShape Dims) {
	mk := func(b int) Dims {
		d := make(Dims, 0, len(sample)+1)
		d = append(d, int64(b))
		return append(d, sample...)
	}

	return mk(p.Min), mk(p.Opt), mk(p.Max)
}

// String formats the profile as input[min/opt/max]
func (p OptimizationProfile) String() string {
	return fmt.Sprintf("%s[min=%d opt=%d max=%d]", p.Input, p.Min, p.Opt, p.Max)
}

// profileFromShapes converts native (min, opt, max) shapes back into a batch
// profile, reading dimension 0 of each
func profileFromShapes(input string, minShape, optShape, maxShape Dims) (OptimizationProfile, error) {
	if len(minShape) == 0 || len(optShape) == 0 || len(maxShape) == 0 {
		return OptimizationProfile{}, fmt.Errorf("%w: %q has no profile shapes", ErrNoProfile, input)
	}

	p := OptimizationProfile{
		Input: input,
		Min:   int(minShape[0]),
		Opt:   int(optShape[0]),
		Max:   int(maxShape[0]),
	}

	return p, p.Validate()
}
