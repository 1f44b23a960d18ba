package spectrum

// One-sided Real Spectrum
//
// This package wraps the transforms used by the detection pipeline. Every stage works on
// real-valued waveforms, so only the one-sided spectrum (bins k = 0..N/2) is ever needed:
//
// 1. Forward transform:
//    - Coefficients returns the N/2+1 complex coefficients of the real DFT
//    - Bin k sits at frequency k * sampleRate / N (see Frequencies)
//    - Any length is accepted; go-dsp falls back to Bluestein's algorithm for lengths that are
//      not powers of two, so cost stays O(n log n) even for prime n
//
// 2. Band-pass:
//    - BandPass zeroes every coefficient outside an inclusive [low, high] frequency range
//    - The masked one-sided spectrum is mirrored into its Hermitian full spectrum and inverted
//      back to exactly N samples (real part)
//    - The unfiltered coefficients are returned so callers can inspect the original spectrum
//
// 3. Magnitudes:
//    - Magnitudes returns |X[k]| over the one-sided spectrum for analysis features
//      (spectral centroid and similar)
//
// Every function is safe for concurrent use.

import (
	"math/cmplx"

	dspfft "github.com/mjibson/go-dsp/fft"
)

// Coefficients computes the one-sided real DFT of samples.
func Coefficients(samples []float64) []complex128 {
	if len(samples) == 0 {
		return nil
	}
	full := dspfft.FFTReal(samples)
	return full[:len(samples)/2+1]
}

// Frequencies returns the centre frequency of each one-sided bin for an n-sample transform.
func Frequencies(n, sampleRate int) []float64 {
	if n <= 0 {
		return nil
	}
	freqs := make([]float64, n/2+1)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(n)
	}
	return freqs
}

// BinWidth is the spacing between adjacent bins in Hz.
func BinWidth(n, sampleRate int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(sampleRate) / float64(n)
}

// PeakFrequency returns the frequency of the strongest bin. The first bin wins ties.
func PeakFrequency(coeffs []complex128, freqs []float64) float64 {
	if len(coeffs) == 0 || len(freqs) == 0 {
		return 0
	}
	peakIdx := 0
	peakMag := cmplx.Abs(coeffs[0])
	for i := 1; i < len(coeffs) && i < len(freqs); i++ {
		if mag := cmplx.Abs(coeffs[i]); mag > peakMag {
			peakMag = mag
			peakIdx = i
		}
	}
	return freqs[peakIdx]
}

// BandPass keeps bins with frequency in [low, high] and returns the filtered waveform
// (same length as samples) together with the unfiltered coefficients.
func BandPass(samples []float64, sampleRate int, low, high float64) ([]float64, []complex128) {
	n := len(samples)
	if n == 0 {
		return []float64{}, nil
	}

	coeffs := Coefficients(samples)
	freqs := Frequencies(n, sampleRate)

	full := make([]complex128, n)
	for k, f := range freqs {
		if f < low || f > high {
			continue
		}
		full[k] = coeffs[k]
		if mirror := n - k; k > 0 && mirror != k {
			full[mirror] = cmplx.Conj(coeffs[k])
		}
	}

	// IFFT is normalised by 1/n
	inverse := dspfft.IFFT(full)
	filtered := make([]float64, n)
	for i, v := range inverse {
		filtered[i] = real(v)
	}
	return filtered, coeffs
}

// Magnitudes returns |X[k]| for the one-sided spectrum of samples.
func Magnitudes(samples []float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	full := dspfft.FFTReal(samples)
	magnitude := make([]float64, len(samples)/2+1)
	for k := range magnitude {
		magnitude[k] = cmplx.Abs(full[k])
	}
	return magnitude
}
