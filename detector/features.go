package detector

// Feature Extraction
//
// The extractor reduces a filtered waveform to a fixed 10-component descriptor:
//
// Temporal Features:
//   - RMS Energy: sqrt(mean(x²)), overall signal strength
//   - Peak Amplitude: max |x|
//   - Zero Crossing Rate: sign changes between consecutive samples divided by length;
//     for a pure tone this approaches 2·f / sampleRate
//
// Spectral Features:
//   - Spectral Centroid: magnitude-weighted mean frequency of the one-sided spectrum,
//     stored in the vector divided by 10 000 so it sits on the same scale as the others
//
// Components 4-9 are reserved and always zero, keeping stored patterns width-compatible
// when features are added.

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"sound-hunter/spectrum"
)

// CentroidScale normalises the spectral centroid inside the feature vector.
const CentroidScale = 10000.0

// ExtractFeatures computes the named features and the packed vector for samples.
// Empty input yields all zeros.
func ExtractFeatures(samples []float64, sampleRate int) Features {
	named := AudioFeatures{
		RMSEnergy:        rootMeanSquare(samples),
		PeakAmplitude:    peakAmplitude(samples),
		ZeroCrossingRate: zeroCrossingRate(samples),
		SpectralCentroid: spectralCentroid(samples, sampleRate),
	}
	return Features{Named: named, Vector: named.Vector()}
}

// Vector packs the named features into the fixed-width layout.
func (f AudioFeatures) Vector() FeatureVector {
	return FeatureVector{
		f.RMSEnergy,
		f.PeakAmplitude,
		f.ZeroCrossingRate,
		f.SpectralCentroid / CentroidScale,
	}
}

func rootMeanSquare(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
}

func peakAmplitude(samples []float64) float64 {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) <= 1 {
		return 0
	}
	var count float64
	for i := 1; i < len(samples); i++ {
		if sign(samples[i]) != sign(samples[i-1]) {
			count++
		}
	}
	return count / float64(len(samples))
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func spectralCentroid(samples []float64, sampleRate int) float64 {
	if len(samples) == 0 {
		return 0
	}
	magnitude := spectrum.Magnitudes(samples)
	freqs := spectrum.Frequencies(len(samples), sampleRate)

	total := floats.Sum(magnitude)
	if total <= 0 {
		return 0
	}
	return floats.Dot(freqs, magnitude) / total
}
