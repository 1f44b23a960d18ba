package detector

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"sound-hunter/spectrum"
)

// Differentiable inputs and outputs of the filter stage.
const (
	InputAudioData     = "audio_data"
	InputLowFreq       = "filter_params.low_freq"
	InputHighFreq      = "filter_params.high_freq"
	OutputFilterEnergy = "filter_energy"
)

var ErrUnsupportedGradient = errors.New("unsupported gradient")

// Gradients maps input name -> output name -> derivative. Scalar inputs map to float64,
// audio_data maps to a []float64 shaped like the input.
type Gradients map[string]map[string]any

// Jacobian differentiates the filter outputs with respect to the requested inputs.
//
// The energy is a quadratic form of the samples under an orthogonal projection, so its
// gradient with respect to audio_data is exactly twice the filtered waveform. The cutoffs
// only change the energy when they cross a bin, so their derivatives are central differences
// over one bin width, falling back to one-sided differences at the edges of the valid range.
func Jacobian(w Waveform, spec FilterSpec, jacInputs, jacOutputs []string) (Gradients, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	for _, output := range jacOutputs {
		if output != OutputFilterEnergy {
			return nil, fmt.Errorf("%w: output %q is not differentiable", ErrUnsupportedGradient, output)
		}
	}
	for _, input := range jacInputs {
		switch input {
		case InputAudioData, InputLowFreq, InputHighFreq:
		default:
			return nil, fmt.Errorf("%w: unknown input %q", ErrUnsupportedGradient, input)
		}
	}

	base, err := Filter(w, spec)
	if err != nil {
		return nil, err
	}

	result := make(Gradients, len(jacInputs))
	for _, input := range jacInputs {
		grads := make(map[string]any, len(jacOutputs))
		for _, output := range jacOutputs {
			switch input {
			case InputAudioData:
				gradient := make([]float64, len(base.Filtered.Samples))
				floats.ScaleTo(gradient, 2, base.Filtered.Samples)
				grads[output] = gradient
			case InputLowFreq:
				d, err := cutoffDerivative(w, spec, base.Energy, func(s FilterSpec, h float64) FilterSpec {
					s.LowFreq += h
					return s
				})
				if err != nil {
					return nil, err
				}
				grads[output] = d
			case InputHighFreq:
				d, err := cutoffDerivative(w, spec, base.Energy, func(s FilterSpec, h float64) FilterSpec {
					s.HighFreq += h
					return s
				})
				if err != nil {
					return nil, err
				}
				grads[output] = d
			}
		}
		result[input] = grads
	}
	return result, nil
}

func cutoffDerivative(w Waveform, spec FilterSpec, energy float64, shift func(FilterSpec, float64) FilterSpec) (float64, error) {
	h := spectrum.BinWidth(len(w.Samples), w.SampleRate)
	if h <= 0 {
		return 0, nil
	}

	plus := shift(spec, h)
	minus := shift(spec, -h)
	plusOK := plus.Validate() == nil
	minusOK := minus.Validate() == nil

	var ePlus, eMinus float64
	if plusOK {
		r, err := Filter(w, plus)
		if err != nil {
			return 0, err
		}
		ePlus = r.Energy
	}
	if minusOK {
		r, err := Filter(w, minus)
		if err != nil {
			return 0, err
		}
		eMinus = r.Energy
	}

	switch {
	case plusOK && minusOK:
		return (ePlus - eMinus) / (2 * h), nil
	case plusOK:
		return (ePlus - energy) / h, nil
	case minusOK:
		return (energy - eMinus) / h, nil
	default:
		return 0, nil
	}
}
