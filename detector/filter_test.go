package detector

import (
	"errors"
	"math"
	"testing"
)

func TestNewFilterSpecRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		low   float64
		high  float64
		field string
	}{
		{"inverted", 2000, 500, "high_freq"},
		{"equal", 800, 800, "high_freq"},
		{"low too small", 10, 500, "low_freq"},
		{"high too large", 500, 12000, "high_freq"},
		{"nan", math.NaN(), 500, "low_freq"},
	}

	for _, tc := range cases {
		_, err := NewFilterSpec(tc.low, tc.high)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected *ValidationError, got %T", tc.name, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, verr.Field)
		}
	}

	spec, err := NewFilterSpec(20, 10000)
	if err != nil {
		t.Fatalf("expected full range to be valid, got %v", err)
	}
	if spec.Width() != 9980 {
		t.Fatalf("unexpected width %f", spec.Width())
	}
}

func TestFilterRejectsZeroSpec(t *testing.T) {
	t.Parallel()

	if _, err := Filter(tone(440, 0.1, 8000), FilterSpec{}); err == nil {
		t.Fatalf("expected error for zero-value spec")
	}
}

func TestFilterPreservesLength(t *testing.T) {
	t.Parallel()

	spec := mustSpec(300, 900)
	for _, n := range []int{1, 2, 7, 64, 1001, 8000} {
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = math.Sin(float64(i)*0.37) + 0.2*math.Cos(float64(i)*1.3)
		}
		result, err := Filter(Waveform{Samples: samples, SampleRate: 8000}, spec)
		if err != nil {
			t.Fatalf("n=%d: Filter returned error: %v", n, err)
		}
		if len(result.Filtered.Samples) != n {
			t.Fatalf("n=%d: filtered length %d", n, len(result.Filtered.Samples))
		}
		if result.SampleRate != 8000 || result.Filtered.SampleRate != 8000 {
			t.Fatalf("n=%d: sample rate not echoed", n)
		}
	}
}

func TestFilterEmptyWaveform(t *testing.T) {
	t.Parallel()

	result, err := Filter(Waveform{Samples: []float64{}, SampleRate: 8000}, mustSpec(100, 200))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if len(result.Filtered.Samples) != 0 || result.Energy != 0 || result.PeakFrequency != 0 {
		t.Fatalf("expected degenerate output, got %+v", result)
	}
}

func TestFilterPassesInBandTone(t *testing.T) {
	t.Parallel()

	w := tone(1000, 1, 8000)
	input := Energy(w.Samples)

	result, err := Filter(w, mustSpec(900, 1100))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if result.Energy < 0.95*input {
		t.Fatalf("expected >=95%% energy retained, got %.4f of %.4f", result.Energy, input)
	}
}

func TestFilterRejectsOutOfBandTone(t *testing.T) {
	t.Parallel()

	w := tone(1000, 1, 8000)
	input := Energy(w.Samples)

	for _, spec := range []FilterSpec{mustSpec(20, 900), mustSpec(1100, 3000)} {
		result, err := Filter(w, spec)
		if err != nil {
			t.Fatalf("Filter returned error: %v", err)
		}
		if result.Energy > 1e-9*input {
			t.Fatalf("spec %s: expected ~0 energy, got %g", spec, result.Energy)
		}
	}
}

func TestFilterPeakUsesUnfilteredSpectrum(t *testing.T) {
	t.Parallel()

	w := tone(3000, 1, 8000)
	result, err := Filter(w, mustSpec(100, 200))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if math.Abs(result.PeakFrequency-3000) > 1 {
		t.Fatalf("expected peak 3000 Hz from the unfiltered spectrum, got %.2f", result.PeakFrequency)
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	w := tone(440, 0.1, 8000)
	original := append([]float64(nil), w.Samples...)
	if _, err := Filter(w, mustSpec(100, 200)); err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	for i := range original {
		if w.Samples[i] != original[i] {
			t.Fatalf("input mutated at %d", i)
		}
	}
}

func TestFilter440Scenario(t *testing.T) {
	t.Parallel()

	const sampleRate = 22050
	w := tone(440, 1, sampleRate)

	result, err := Filter(w, mustSpec(400, 500))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	binWidth := float64(sampleRate) / float64(len(w.Samples))
	if math.Abs(result.PeakFrequency-440) > binWidth {
		t.Fatalf("expected peak within one bin of 440 Hz, got %.3f", result.PeakFrequency)
	}
	if result.Energy <= 0 {
		t.Fatalf("expected nonzero filter energy")
	}

	features := ExtractFeatures(result.Filtered.Samples, result.SampleRate)
	want := 2 * 440.0 / sampleRate
	if math.Abs(features.Vector[2]-want) > 0.001 {
		t.Fatalf("expected zero-crossing rate ~%.4f, got %.4f", want, features.Vector[2])
	}
}
