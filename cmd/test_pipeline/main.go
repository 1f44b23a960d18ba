package main

import (
	"context"
	"flag"
	"log"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"sound-hunter/detector"
	"sound-hunter/synth"
	"sound-hunter/utils"
)

// Config holds the smoke run parameters
type Config struct {
	Frequency  float64
	Low        float64
	High       float64
	Noise      float64
	Duration   float64
	SampleRate int
	Seed       int64
}

func main() {
	config := parseFlags()
	log.SetFlags(log.Ldate | log.Ltime)

	log.Println("=== Pipeline Smoke Test ===")
	log.Printf("Signal: %.1f Hz tone + %.2f noise, %.2fs at %d Hz\n",
		config.Frequency, config.Noise, config.Duration, config.SampleRate)
	log.Printf("Band: [%.1f Hz - %.1f Hz]\n", config.Low, config.High)
	log.Println()

	rng := rand.New(rand.NewSource(config.Seed))
	audio := synth.Sine(config.Frequency, config.Duration, config.SampleRate)
	synth.AddNoise(audio, config.Noise, rng)

	filterReq := detector.FilterRequest{
		AudioData:    audio,
		SampleRate:   config.SampleRate,
		FilterParams: detector.FilterSpec{LowFreq: config.Low, HighFreq: config.High},
	}

	log.Println("Step 1: Filter")
	filtered, err := detector.ApplyFilter(filterReq)
	if err != nil {
		log.Fatalf("ERROR: filter failed: %v", err)
	}
	log.Printf("  energy=%.4f peak=%.2f Hz (input energy %.4f)\n",
		filtered.FilterEnergy, filtered.PeakFrequency, detector.Energy(audio))

	log.Println("Step 2: Features")
	features, err := detector.ApplyFeatures(detector.FeatureRequest{
		FilteredAudio: filtered.FilteredAudio,
		SampleRate:    filtered.SampleRate,
	})
	if err != nil {
		log.Fatalf("ERROR: feature extraction failed: %v", err)
	}
	log.Printf("  rms=%.4f peak=%.4f zcr=%.4f centroid=%.1f Hz\n",
		features.Features.RMSEnergy, features.Features.PeakAmplitude,
		features.Features.ZeroCrossingRate, features.Features.SpectralCentroid)

	log.Println("Step 3: Match against itself")
	result, err := detector.ApplyMatch(detector.MatchRequest{
		FeatureVector: features.FeatureVector,
		TargetPattern: features.FeatureVector,
	})
	if err != nil {
		log.Fatalf("ERROR: match failed: %v", err)
	}
	log.Printf("  match=%v similarity=%.4f confidence=%.4f\n",
		result.IsMatch, result.SimilarityScore, result.Confidence)

	log.Println("Step 4: Jacobian")
	grads, err := detector.ApplyJacobian(context.Background(), utils.GetLogger(), detector.JacobianRequest{
		FilterRequest: filterReq,
		JacInputs:     []string{detector.InputAudioData, detector.InputLowFreq, detector.InputHighFreq},
		JacOutputs:    []string{detector.OutputFilterEnergy},
	})
	if err != nil {
		log.Fatalf("ERROR: jacobian failed: %v", err)
	}
	audioGrad := grads[detector.InputAudioData][detector.OutputFilterEnergy].([]float64)
	log.Printf("  |d energy / d audio| = %.4f\n", floats.Norm(audioGrad, 2))
	log.Printf("  d energy / d low     = %.6f\n", grads[detector.InputLowFreq][detector.OutputFilterEnergy])
	log.Printf("  d energy / d high    = %.6f\n", grads[detector.InputHighFreq][detector.OutputFilterEnergy])
	log.Println()
	log.Println("✓ Pipeline OK")
}

func parseFlags() Config {
	config := Config{}
	flag.Float64Var(&config.Frequency, "freq", 440, "Tone frequency in Hz")
	flag.Float64Var(&config.Low, "low", 400, "Low cutoff in Hz")
	flag.Float64Var(&config.High, "high", 500, "High cutoff in Hz")
	flag.Float64Var(&config.Noise, "noise", 0.1, "Noise standard deviation")
	flag.Float64Var(&config.Duration, "duration", 1.0, "Duration in seconds")
	flag.IntVar(&config.SampleRate, "sample-rate", synth.DefaultSampleRate, "Sample rate in Hz")
	flag.Int64Var(&config.Seed, "seed", 1, "Noise seed")
	flag.Parse()
	return config
}
