package detector

import (
	"gonum.org/v1/gonum/floats"

	"sound-hunter/spectrum"
)

// Filter applies a frequency-domain band-pass to w. The filtered waveform has the same length
// and sample rate as w; the peak frequency is taken from the unfiltered spectrum.
func Filter(w Waveform, spec FilterSpec) (FilterResult, error) {
	if err := spec.Validate(); err != nil {
		return FilterResult{}, err
	}

	if len(w.Samples) == 0 {
		return FilterResult{
			Filtered:   Waveform{Samples: []float64{}, SampleRate: w.SampleRate},
			SampleRate: w.SampleRate,
		}, nil
	}

	filtered, coeffs := spectrum.BandPass(w.Samples, w.SampleRate, spec.LowFreq, spec.HighFreq)
	peak := spectrum.PeakFrequency(coeffs, spectrum.Frequencies(len(w.Samples), w.SampleRate))

	return FilterResult{
		Filtered:      Waveform{Samples: filtered, SampleRate: w.SampleRate},
		Energy:        floats.Dot(filtered, filtered),
		PeakFrequency: peak,
		SampleRate:    w.SampleRate,
	}, nil
}

// Energy returns the sum of squared samples.
func Energy(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return floats.Dot(samples, samples)
}
