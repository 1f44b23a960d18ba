package detector

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sound-hunter/utils"
)

// Pipeline chains filter, feature extraction and matching for inference.
type Pipeline struct {
	Threshold float64
	Logger    *slog.Logger
}

// NewPipeline returns a pipeline with the given match threshold.
func NewPipeline(threshold float64, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Pipeline{Threshold: threshold, Logger: logger}
}

// Detect runs w through the model's filter and compares the result to its reference pattern.
func (p *Pipeline) Detect(w Waveform, model TrainingModel) (Detection, error) {
	filtered, err := Filter(w, model.FilterParams)
	if err != nil {
		return Detection{}, fmt.Errorf("model %q: %w", model.Label, err)
	}

	features := ExtractFeatures(filtered.Filtered.Samples, filtered.SampleRate)
	result := Match(features.Vector, model.TargetPattern, p.Threshold)

	return Detection{
		Label:    model.Label,
		Filter:   model.FilterParams,
		Energy:   filtered.Energy,
		Peak:     filtered.PeakFrequency,
		Features: features,
		Result:   result,
	}, nil
}

// DetectAll runs every model against w concurrently and returns detections ranked by
// confidence.
func (p *Pipeline) DetectAll(ctx context.Context, w Waveform, models ModelSet) ([]Detection, error) {
	labels := make([]string, 0, len(models))
	for label := range models {
		labels = append(labels, label)
	}

	results := make([]Detection, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			model := models[label]
			if model.Label == "" {
				model.Label = label
			}
			detection, err := p.Detect(w, model)
			if err != nil {
				return err
			}
			results[i] = detection
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	RankDetections(results)

	logger := p.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	for _, d := range results {
		logger.DebugContext(ctx, "detector evaluated",
			slog.String("label", d.Label),
			slog.Bool("match", d.Result.IsMatch),
			slog.Float64("similarity", d.Result.SimilarityScore),
			slog.Float64("energy", d.Energy),
		)
	}
	return results, nil
}
