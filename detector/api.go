package detector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"sound-hunter/utils"
)

// MinSampleRate is the lowest sample rate accepted at the stage boundary.
const MinSampleRate = 8000

// FilterRequest is the request shape of the filter stage.
type FilterRequest struct {
	AudioData    []float64  `json:"audio_data"`
	SampleRate   int        `json:"sample_rate"`
	FilterParams FilterSpec `json:"filter_params"`
}

// FilterResponse is the response shape of the filter stage.
type FilterResponse struct {
	FilteredAudio []float64 `json:"filtered_audio"`
	FilterEnergy  float64   `json:"filter_energy"`
	PeakFrequency float64   `json:"peak_frequency"`
	SampleRate    int       `json:"sample_rate"`
}

func (r FilterRequest) Validate() error {
	if r.AudioData == nil {
		return &ValidationError{Field: "audio_data", Constraint: "is required", Value: nil}
	}
	if err := validateSampleRate(r.SampleRate); err != nil {
		return err
	}
	return r.FilterParams.Validate()
}

// Waveform returns the request audio as a Waveform.
func (r FilterRequest) Waveform() Waveform {
	return Waveform{Samples: r.AudioData, SampleRate: r.SampleRate}
}

// ApplyFilter validates req and runs the filter stage.
func ApplyFilter(req FilterRequest) (FilterResponse, error) {
	if err := req.Validate(); err != nil {
		return FilterResponse{}, err
	}
	result, err := Filter(req.Waveform(), req.FilterParams)
	if err != nil {
		return FilterResponse{}, err
	}
	return FilterResponse{
		FilteredAudio: result.Filtered.Samples,
		FilterEnergy:  result.Energy,
		PeakFrequency: result.PeakFrequency,
		SampleRate:    result.SampleRate,
	}, nil
}

// FeatureRequest is the request shape of the feature stage.
type FeatureRequest struct {
	FilteredAudio []float64 `json:"filtered_audio"`
	SampleRate    int       `json:"sample_rate"`
}

// FeatureResponse is the response shape of the feature stage.
type FeatureResponse struct {
	Features      AudioFeatures `json:"features"`
	FeatureVector []float64     `json:"feature_vector"`
}

func (r FeatureRequest) Validate() error {
	if r.FilteredAudio == nil {
		return &ValidationError{Field: "filtered_audio", Constraint: "is required", Value: nil}
	}
	return validateSampleRate(r.SampleRate)
}

// ApplyFeatures validates req and runs the feature stage.
func ApplyFeatures(req FeatureRequest) (FeatureResponse, error) {
	if err := req.Validate(); err != nil {
		return FeatureResponse{}, err
	}
	features := ExtractFeatures(req.FilteredAudio, req.SampleRate)
	return FeatureResponse{
		Features:      features.Named,
		FeatureVector: features.Vector.Slice(),
	}, nil
}

// MatchRequest is the request shape of the matcher stage. A nil threshold means
// DefaultThreshold.
type MatchRequest struct {
	FeatureVector      []float64 `json:"feature_vector"`
	TargetPattern      []float64 `json:"target_pattern"`
	DetectionThreshold *float64  `json:"detection_threshold,omitempty"`
}

func (r MatchRequest) Validate() error {
	if len(r.FeatureVector) != FeatureLength {
		return &ValidationError{
			Field:      "feature_vector",
			Constraint: fmt.Sprintf("must have exactly %d entries", FeatureLength),
			Value:      len(r.FeatureVector),
		}
	}
	if len(r.TargetPattern) != FeatureLength {
		return &ValidationError{
			Field:      "target_pattern",
			Constraint: fmt.Sprintf("must have exactly %d entries", FeatureLength),
			Value:      len(r.TargetPattern),
		}
	}
	if r.DetectionThreshold != nil {
		if t := *r.DetectionThreshold; !(t >= 0 && t <= 1) {
			return &ValidationError{
				Field:      "detection_threshold",
				Constraint: "must be within [0, 1]",
				Value:      t,
			}
		}
	}
	return nil
}

// Threshold returns the requested threshold or the default.
func (r MatchRequest) Threshold() float64 {
	if r.DetectionThreshold == nil {
		return DefaultThreshold
	}
	return *r.DetectionThreshold
}

// ApplyMatch validates req and runs the matcher stage.
func ApplyMatch(req MatchRequest) (DetectionResult, error) {
	if err := req.Validate(); err != nil {
		return DetectionResult{}, err
	}
	var features, target FeatureVector
	copy(features[:], req.FeatureVector)
	copy(target[:], req.TargetPattern)
	return Match(features, target, req.Threshold()), nil
}

// JacobianRequest is a filter request plus the derivative selection.
type JacobianRequest struct {
	FilterRequest
	JacInputs  []string `json:"jac_inputs"`
	JacOutputs []string `json:"jac_outputs"`
}

// ApplyJacobian validates req and differentiates the filter stage. Failures are logged and
// returned unchanged.
func ApplyJacobian(ctx context.Context, logger *slog.Logger, req JacobianRequest) (Gradients, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	logger.DebugContext(ctx, "jacobian requested",
		slog.Any("inputs", req.JacInputs),
		slog.Any("outputs", req.JacOutputs),
		slog.Int("samples", len(req.AudioData)),
	)

	grads, err := func() (Gradients, error) {
		if err := req.FilterRequest.Validate(); err != nil {
			return nil, err
		}
		return Jacobian(req.Waveform(), req.FilterParams, req.JacInputs, req.JacOutputs)
	}()
	if err != nil {
		logger.ErrorContext(ctx, "jacobian failed", slog.Any("error", xerrors.New(err)))
		return nil, err
	}
	return grads, nil
}

func validateSampleRate(rate int) error {
	if rate < MinSampleRate {
		return &ValidationError{
			Field:      "sample_rate",
			Constraint: fmt.Sprintf("must be at least %d", MinSampleRate),
			Value:      rate,
		}
	}
	return nil
}
