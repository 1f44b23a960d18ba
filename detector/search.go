package detector

// Parameter Search
//
// Training tunes the band-pass cutoffs toward a target label with a stochastic local search:
//
// 1. Every epoch filters each labelled sample with the current cutoffs and accumulates its
//    energy into a target or non-target bucket.
// 2. On every epoch but the last, each sample has a 30% chance of proposing a random step of up
//    to ±100 Hz per cutoff. The proposal is kept when it moves that sample's energy in the
//    direction its class wants (up for the target, down for everything else).
// 3. After the epoch the target/non-target average energy ratio is computed and the cutoffs
//    that produced the highest ratio so far are remembered.
// 4. The last epoch freezes the cutoffs and averages the feature vectors of the target
//    samples into the stored reference pattern.
//
// TrainingState carries everything a run mutates, so RunEpoch can be driven step by step.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"sound-hunter/utils"
)

const (
	InitialLowHz  = 500.0
	InitialHighHz = 2000.0

	MutationProbability = 0.3
	MaxStepHz           = 100.0
	MaxSearchLowHz      = 8000.0
	MinBandwidthHz      = 50.0

	ratioFloor = 1e-10
)

var (
	ErrEmptyDataset  = errors.New("training set is empty")
	ErrInvalidEpochs = errors.New("epochs must be at least 1")
)

// RandSource is the randomness a training run draws from. *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// InitialFilterSpec is the fixed starting point of every run.
func InitialFilterSpec() FilterSpec {
	return FilterSpec{LowFreq: InitialLowHz, HighFreq: InitialHighHz}
}

// ProposeCutoffs applies a step to current and clamps the result into the search box:
// low in [20, 8000], high in [low+50, 10000].
func ProposeCutoffs(current FilterSpec, deltaLow, deltaHigh float64) FilterSpec {
	low := clamp(current.LowFreq+deltaLow, MinCutoffHz, MaxSearchLowHz)
	high := clamp(current.HighFreq+deltaHigh, low+MinBandwidthHz, MaxCutoffHz)
	return FilterSpec{LowFreq: low, HighFreq: high}
}

// AcceptCandidate reports whether a candidate energy improves on the current one for a
// sample of the given class.
func AcceptCandidate(isTarget bool, energy, candidateEnergy float64) bool {
	if isTarget {
		return candidateEnergy > energy
	}
	return candidateEnergy < energy
}

// EnergyRatio is the average target energy over the average non-target energy, with empty
// buckets counted as one sample and the denominator floored at 1e-10.
func EnergyRatio(targetSum float64, targetCount int, otherSum float64, otherCount int) float64 {
	avgTarget := targetSum / float64(max(targetCount, 1))
	avgOther := otherSum / float64(max(otherCount, 1))
	return avgTarget / max(avgOther, ratioFloor)
}

// EpochStats summarises one pass over the training set.
type EpochStats struct {
	Epoch       int        `json:"epoch"`
	Filter      FilterSpec `json:"filter"`
	Best        FilterSpec `json:"best"`
	Ratio       float64    `json:"ratio"`
	BestRatio   float64    `json:"bestRatio"`
	TargetCount int        `json:"targetCount"`
	OtherCount  int        `json:"otherCount"`
	Proposals   int        `json:"proposals"`
	Accepted    int        `json:"accepted"`
	Improved    bool       `json:"improved"`
}

// TrainingState is owned by a single training run and must not be shared.
type TrainingState struct {
	Target    string
	Current   FilterSpec
	Best      FilterSpec
	BestRatio float64

	patterns []FeatureVector
	rng      RandSource
}

// NewTrainingState starts a run for target from the initial cutoffs.
func NewTrainingState(target string, rng RandSource) *TrainingState {
	initial := InitialFilterSpec()
	return &TrainingState{
		Target:  target,
		Current: initial,
		Best:    initial,
		rng:     rng,
	}
}

// RunEpoch performs one pass over samples. The final epoch collects target feature vectors
// instead of mutating the cutoffs.
func (s *TrainingState) RunEpoch(epoch int, samples []LabeledWaveform, final bool) (EpochStats, error) {
	stats := EpochStats{Epoch: epoch}
	var targetSum, otherSum float64

	for idx, sample := range samples {
		result, err := Filter(sample.Waveform, s.Current)
		if err != nil {
			return stats, fmt.Errorf("epoch %d sample %d: %w", epoch, idx, err)
		}
		energy := result.Energy
		isTarget := sample.Label == s.Target

		if isTarget {
			targetSum += energy
			stats.TargetCount++
			if final {
				features := ExtractFeatures(result.Filtered.Samples, result.SampleRate)
				s.patterns = append(s.patterns, features.Vector)
			}
		} else {
			otherSum += energy
			stats.OtherCount++
		}

		if final || s.rng.Float64() >= MutationProbability {
			continue
		}

		deltaLow := uniform(s.rng, -MaxStepHz, MaxStepHz)
		deltaHigh := uniform(s.rng, -MaxStepHz, MaxStepHz)
		candidate := ProposeCutoffs(s.Current, deltaLow, deltaHigh)
		stats.Proposals++

		trial, err := Filter(sample.Waveform, candidate)
		if err != nil {
			return stats, fmt.Errorf("epoch %d sample %d candidate %s: %w", epoch, idx, candidate, err)
		}
		if AcceptCandidate(isTarget, energy, trial.Energy) {
			s.Current = candidate
			stats.Accepted++
		}
	}

	stats.Ratio = EnergyRatio(targetSum, stats.TargetCount, otherSum, stats.OtherCount)
	stats.Improved = s.ObserveRatio(stats.Ratio)
	stats.Filter = s.Current
	stats.Best = s.Best
	stats.BestRatio = s.BestRatio
	return stats, nil
}

// ObserveRatio records the current cutoffs as best when ratio strictly beats the best so far.
func (s *TrainingState) ObserveRatio(ratio float64) bool {
	if ratio > s.BestRatio {
		s.BestRatio = ratio
		s.Best = s.Current
		return true
	}
	return false
}

// ReferencePattern is the element-wise mean of the collected target vectors, or zeros.
func (s *TrainingState) ReferencePattern() FeatureVector {
	var pattern FeatureVector
	if len(s.patterns) == 0 {
		return pattern
	}
	for _, v := range s.patterns {
		floats.Add(pattern[:], v[:])
	}
	floats.Scale(1/float64(len(s.patterns)), pattern[:])
	return pattern
}

// Model packages the run outcome.
func (s *TrainingState) Model(epochs int) TrainingModel {
	return TrainingModel{
		Label:           s.Target,
		FilterParams:    s.Best,
		TargetPattern:   s.ReferencePattern(),
		BestEnergyRatio: s.BestRatio,
		TargetSamples:   len(s.patterns),
		Epochs:          epochs,
	}
}

// Searcher runs training with an injected random source and event logger.
type Searcher struct {
	Rand   RandSource
	Logger *slog.Logger
	// OnEpoch, when set, receives the stats of every completed epoch.
	OnEpoch func(EpochStats)
}

// NewSearcher builds a searcher. A nil rng is seeded from the clock; a nil logger discards.
func NewSearcher(rng RandSource, logger *slog.Logger) *Searcher {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Searcher{Rand: rng, Logger: logger}
}

// Train runs epochs passes over samples and returns the model for target.
func (s *Searcher) Train(samples []LabeledWaveform, target string, epochs int) (TrainingModel, error) {
	return s.TrainContext(context.Background(), samples, target, epochs)
}

// TrainContext is Train with cancellation checked between epochs.
func (s *Searcher) TrainContext(ctx context.Context, samples []LabeledWaveform, target string, epochs int) (TrainingModel, error) {
	if len(samples) == 0 {
		return TrainingModel{}, ErrEmptyDataset
	}
	if epochs < 1 {
		return TrainingModel{}, fmt.Errorf("%w: got %d", ErrInvalidEpochs, epochs)
	}

	logger := s.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	positives := 0
	for _, sample := range samples {
		if sample.Label == target {
			positives++
		}
	}
	logger.InfoContext(ctx, "training started",
		slog.String("target", target),
		slog.Int("samples", len(samples)),
		slog.Int("positives", positives),
		slog.Int("epochs", epochs),
	)

	state := NewTrainingState(target, rng)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainingModel{}, err
		}

		stats, err := state.RunEpoch(epoch, samples, epoch == epochs-1)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "training epoch failed", slog.Int("epoch", epoch), slog.Any("error", err))
			return TrainingModel{}, err
		}

		logger.DebugContext(ctx, "epoch complete",
			slog.String("target", target),
			slog.Int("epoch", stats.Epoch),
			slog.Float64("low", stats.Filter.LowFreq),
			slog.Float64("high", stats.Filter.HighFreq),
			slog.Float64("ratio", stats.Ratio),
			slog.Float64("bestRatio", stats.BestRatio),
			slog.Int("proposals", stats.Proposals),
			slog.Int("accepted", stats.Accepted),
		)
		if s.OnEpoch != nil {
			s.OnEpoch(stats)
		}
	}

	model := state.Model(epochs)
	switch {
	case positives == 0:
		logger.WarnContext(ctx, "no samples carry the target label; model is degenerate",
			slog.String("target", target))
	case model.Degenerate():
		logger.WarnContext(ctx, "target samples are silent in the final band; pattern is all zeros",
			slog.String("target", target),
			slog.Int("targetSamples", model.TargetSamples))
	}
	logger.InfoContext(ctx, "training complete",
		slog.String("target", target),
		slog.Float64("low", model.FilterParams.LowFreq),
		slog.Float64("high", model.FilterParams.HighFreq),
		slog.Float64("bestRatio", model.BestEnergyRatio),
	)
	return model, nil
}

// TrainAll trains one model per label concurrently. Each run gets its own state and a random
// source seeded with seed+index, so results do not depend on scheduling.
func TrainAll(ctx context.Context, samples []LabeledWaveform, labels []string, epochs int, seed int64, logger *slog.Logger) (ModelSet, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	models := make([]TrainingModel, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			searcher := NewSearcher(rand.New(rand.NewSource(seed+int64(i))), logger.With(slog.String("label", label)))
			model, err := searcher.TrainContext(gctx, samples, label, epochs)
			if err != nil {
				return fmt.Errorf("train %q: %w", label, err)
			}
			models[i] = model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(ModelSet, len(models))
	for _, model := range models {
		set[model.Label] = model
	}
	return set, nil
}

func uniform(rng RandSource, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
