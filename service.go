package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sound-hunter/db"
	"sound-hunter/detections"
	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/utils"
)

var errNoModels = errors.New("no trained models loaded")

// analysisSummary is what a detect request returns over HTTP and socket.io.
type analysisSummary struct {
	Matched     bool                 `json:"matched"`
	Best        *detector.Detection  `json:"best,omitempty"`
	Detections  []detector.Detection `json:"detections"`
	Threshold   float64              `json:"threshold"`
	LatencyMs   float64              `json:"latencyMs"`
	Duration    float64              `json:"duration"`
	Latitude    *float64             `json:"latitude,omitempty"`
	Longitude   *float64             `json:"longitude,omitempty"`
	DetectionID int64                `json:"detectionId,omitempty"`
}

// detectionService owns the loaded models and the detection sinks.
type detectionService struct {
	registry  *detector.ModelRegistry
	threshold float64
	store     *detections.Store
	dbClient  db.DBClient // optional
	logger    *slog.Logger
}

func newDetectionService(registry *detector.ModelRegistry, threshold float64, store *detections.Store, dbClient db.DBClient, logger *slog.Logger) *detectionService {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &detectionService{
		registry:  registry,
		threshold: threshold,
		store:     store,
		dbClient:  dbClient,
		logger:    logger,
	}
}

func (s *detectionService) validate(rec models.RecordData) error {
	if len(rec.Audio) == 0 {
		return &detector.ValidationError{Field: "audio", Constraint: "must not be empty", Value: 0}
	}
	if rec.SampleRate < detector.MinSampleRate {
		return &detector.ValidationError{
			Field:      "sampleRate",
			Constraint: fmt.Sprintf("must be at least %d", detector.MinSampleRate),
			Value:      rec.SampleRate,
		}
	}
	if rec.Threshold != nil {
		if t := *rec.Threshold; !(t >= 0 && t <= 1) {
			return &detector.ValidationError{Field: "threshold", Constraint: "must be within [0, 1]", Value: t}
		}
	}
	return nil
}

func (s *detectionService) selectModels(labels []string) (detector.ModelSet, error) {
	all := s.registry.Models()
	if len(labels) == 0 {
		if len(all) == 0 {
			return nil, errNoModels
		}
		return all, nil
	}
	selected := make(detector.ModelSet, len(labels))
	for _, label := range labels {
		model, ok := all[label]
		if !ok {
			return nil, &detector.ValidationError{Field: "labels", Constraint: "must name loaded models", Value: label}
		}
		selected[label] = model
	}
	return selected, nil
}

// analyze runs every selected model on the recording and records a matched detection.
func (s *detectionService) analyze(ctx context.Context, rec models.RecordData) (analysisSummary, error) {
	if err := s.validate(rec); err != nil {
		return analysisSummary{}, err
	}
	selected, err := s.selectModels(rec.Labels)
	if err != nil {
		return analysisSummary{}, err
	}

	threshold := s.threshold
	if rec.Threshold != nil {
		threshold = *rec.Threshold
	}

	started := time.Now()
	waveform := detector.Waveform{Samples: rec.Audio, SampleRate: rec.SampleRate}
	pipeline := detector.NewPipeline(threshold, s.logger)
	results, err := pipeline.DetectAll(ctx, waveform, selected)
	if err != nil {
		return analysisSummary{}, err
	}
	latency := time.Since(started).Seconds() * 1000

	summary := analysisSummary{
		Detections: results,
		Threshold:  threshold,
		LatencyMs:  latency,
		Duration:   waveform.Duration(),
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
	}
	if len(results) > 0 {
		best := results[0]
		summary.Best = &best
		summary.Matched = best.Result.IsMatch
	}

	if summary.Best != nil {
		s.logger.InfoContext(ctx, "detection complete",
			slog.Float64("latency_ms", latency),
			slog.Bool("matched", summary.Matched),
			slog.String("label", summary.Best.Label),
			slog.Float64("confidence", summary.Best.Result.Confidence),
			slog.Int("models", len(results)),
		)
	}

	if summary.Matched {
		detection, err := s.record(ctx, summary)
		if err != nil {
			// persistence failures do not fail the request
			s.logger.ErrorContext(ctx, "failed to record detection", slog.Any("error", err))
		} else {
			summary.DetectionID = detection.ID
		}
	}

	return summary, nil
}

func (s *detectionService) record(ctx context.Context, summary analysisSummary) (*models.Detection, error) {
	resultsJSON, err := json.Marshal(summary.Detections)
	if err != nil {
		return nil, fmt.Errorf("error marshaling results: %w", err)
	}
	best := summary.Best
	detection := &models.Detection{
		Timestamp:     time.Now(),
		Latitude:      summary.Latitude,
		Longitude:     summary.Longitude,
		Matched:       summary.Matched,
		Label:         best.Label,
		Confidence:    best.Result.Confidence,
		Similarity:    best.Result.SimilarityScore,
		Energy:        best.Energy,
		PeakFrequency: best.Peak,
		LowFreq:       best.Filter.LowFreq,
		HighFreq:      best.Filter.HighFreq,
		Threshold:     summary.Threshold,
		LatencyMs:     summary.LatencyMs,
		Results:       json.RawMessage(resultsJSON),
		Metadata:      map[string]interface{}{"duration": summary.Duration},
	}

	// the database assigns the ID first; the JSON log keeps a non-zero ID
	if s.dbClient != nil {
		if err := s.dbClient.StoreDetection(detection); err != nil {
			return nil, err
		}
	}
	if s.store != nil {
		if err := s.store.Save(detection); err != nil {
			return nil, err
		}
	}
	s.logger.InfoContext(ctx, "detection recorded",
		slog.Int64("id", detection.ID),
		slog.String("label", detection.Label),
	)
	return detection, nil
}

// putModel stores a model in the registry, saves the artifact and mirrors it to the database.
func (s *detectionService) putModel(ctx context.Context, model detector.TrainingModel) error {
	if err := s.registry.Put(model); err != nil {
		return err
	}
	if err := s.registry.Save(); err != nil {
		return fmt.Errorf("failed to save models: %w", err)
	}
	if s.dbClient != nil {
		if err := s.dbClient.StoreModel(model); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "model stored",
		slog.String("label", model.Label),
		slog.Float64("low", model.FilterParams.LowFreq),
		slog.Float64("high", model.FilterParams.HighFreq),
	)
	return nil
}

// recentDetections reads from the database when a location filter is given, otherwise from
// the JSON log.
func (s *detectionService) recentDetections(limit int, near *locationQuery) ([]models.Detection, error) {
	if near != nil {
		if s.dbClient == nil {
			return nil, errors.New("location queries need a database")
		}
		return s.dbClient.GetDetectionsByLocation(near.lat, near.lng, near.radiusKm)
	}
	if s.store == nil {
		if s.dbClient != nil {
			return s.dbClient.GetAllDetections()
		}
		return []models.Detection{}, nil
	}
	return s.store.Recent(limit)
}

type locationQuery struct {
	lat, lng, radiusKm float64
}
