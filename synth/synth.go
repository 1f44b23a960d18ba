package synth

// Synthetic Training Sounds
//
// Generators for the labelled classes used to train and evaluate detectors:
//
//   - bird:       frequency-modulated chirp sweeping 2000-4000 Hz at 5 Hz, gated on for the
//                 first and third quarter of the clip
//   - motorcycle: 120 Hz engine tone with 240 Hz and 360 Hz harmonics
//   - whistle:    pure 1500 Hz tone
//   - noise:      50 Hz mains hum plus white noise
//
// TestTone variants differ from the training sounds: a randomly gated 3500 Hz tone, a 150/300 Hz
// engine, a 1600 Hz whistle and plain noise.

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// DefaultSampleRate is the rate every generator is tuned for.
const DefaultSampleRate = 22050

// Kind names a synthetic sound class.
type Kind string

const (
	Bird       Kind = "bird"
	Motorcycle Kind = "motorcycle"
	Whistle    Kind = "whistle"
	Noise      Kind = "noise"
)

// Kinds lists every class in a stable order.
var Kinds = []Kind{Bird, Motorcycle, Whistle, Noise}

// ParseKind resolves a class name case-insensitively.
func ParseKind(name string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Kinds {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown sound kind %q", name)
}

// Sample is a generated waveform and its class.
type Sample struct {
	Label      string
	Samples    []float64
	SampleRate int
}

// Generate synthesises a training sound. rng is only consulted for noise.
func Generate(kind Kind, duration float64, sampleRate int, rng *rand.Rand) []float64 {
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	rate := float64(sampleRate)

	switch kind {
	case Bird:
		// instantaneous frequency 3000 + 1000·sin(10πt), phase integrated analytically
		for i := range out {
			t := float64(i) / rate
			phase := 2*math.Pi*3000*t - 200*math.Cos(10*math.Pi*t) + 200
			out[i] = math.Sin(phase)
		}
		applyQuarterGate(out)
	case Motorcycle:
		for i := range out {
			t := float64(i) / rate
			out[i] = math.Sin(2*math.Pi*120*t) +
				0.5*math.Sin(2*math.Pi*240*t) +
				0.3*math.Sin(2*math.Pi*360*t)
		}
	case Whistle:
		for i := range out {
			t := float64(i) / rate
			out[i] = math.Sin(2 * math.Pi * 1500 * t)
		}
	default:
		for i := range out {
			t := float64(i) / rate
			out[i] = 0.5*math.Sin(2*math.Pi*50*t) + 0.3*rng.NormFloat64()
		}
	}
	return out
}

// TestTone synthesises an evaluation sound for kind.
func TestTone(kind Kind, duration float64, sampleRate int, rng *rand.Rand) []float64 {
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	rate := float64(sampleRate)

	switch kind {
	case Bird:
		for i := range out {
			t := float64(i) / rate
			if rng.Float64() < 0.3 {
				out[i] = math.Sin(2 * math.Pi * 3500 * t)
			}
		}
	case Motorcycle:
		for i := range out {
			t := float64(i) / rate
			out[i] = math.Sin(2*math.Pi*150*t) + 0.5*math.Sin(2*math.Pi*300*t)
		}
	case Whistle:
		for i := range out {
			t := float64(i) / rate
			out[i] = math.Sin(2 * math.Pi * 1600 * t)
		}
	default:
		for i := range out {
			out[i] = 0.3 * rng.NormFloat64()
		}
	}
	return out
}

// Sine returns a unit-amplitude tone.
func Sine(freq, duration float64, sampleRate int) []float64 {
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return out
}

// Dataset generates perKind samples of every kind, grouped by kind in the given order.
func Dataset(kinds []Kind, perKind int, duration float64, sampleRate int, rng *rand.Rand) []Sample {
	samples := make([]Sample, 0, len(kinds)*perKind)
	for _, kind := range kinds {
		for i := 0; i < perKind; i++ {
			samples = append(samples, Sample{
				Label:      string(kind),
				Samples:    Generate(kind, duration, sampleRate, rng),
				SampleRate: sampleRate,
			})
		}
	}
	return samples
}

// AddNoise mixes white noise of the given standard deviation into samples in place.
func AddNoise(samples []float64, stddev float64, rng *rand.Rand) {
	for i := range samples {
		samples[i] += stddev * rng.NormFloat64()
	}
}

func sampleCount(duration float64, sampleRate int) int {
	if duration <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(float64(sampleRate) * duration)
}

func applyQuarterGate(samples []float64) {
	quarter := len(samples) / 4
	for i := range samples {
		segment := i / max(quarter, 1)
		// the remainder joins the last, silent segment
		if segment == 1 || segment >= 3 {
			samples[i] = 0
		}
	}
}
