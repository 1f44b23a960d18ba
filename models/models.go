package models

import (
	"encoding/json"
	"time"
)

// RecordData is an audio clip submitted for detection over the socket or HTTP boundary.
type RecordData struct {
	Audio      []float64 `json:"audio"`
	SampleRate int       `json:"sampleRate"`
	Duration   float64   `json:"duration"`
	Labels     []string  `json:"labels,omitempty"`    // restrict detection to these models
	Threshold  *float64  `json:"threshold,omitempty"` // overrides the server threshold
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
}

// Detection is a stored detection event with location and metadata
type Detection struct {
	ID            int64                  `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Latitude      *float64               `json:"latitude,omitempty"`
	Longitude     *float64               `json:"longitude,omitempty"`
	Matched       bool                   `json:"matched"`
	Label         string                 `json:"label,omitempty"`
	Confidence    float64                `json:"confidence"`
	Similarity    float64                `json:"similarity"`
	Energy        float64                `json:"energy"`
	PeakFrequency float64                `json:"peakFrequency"`
	LowFreq       float64                `json:"lowFreq"`
	HighFreq      float64                `json:"highFreq"`
	Threshold     float64                `json:"threshold"`
	LatencyMs     float64                `json:"latencyMs"`
	Results       json.RawMessage        `json:"results"` // every model's ranked result
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// TrainingRun records the outcome of one training invocation for one label.
type TrainingRun struct {
	ID              int64     `json:"id" bson:"_id"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	Label           string    `json:"label" bson:"label"`
	Epochs          int       `json:"epochs" bson:"epochs"`
	Seed            int64     `json:"seed" bson:"seed"`
	LowFreq         float64   `json:"lowFreq" bson:"low_freq"`
	HighFreq        float64   `json:"highFreq" bson:"high_freq"`
	BestEnergyRatio float64   `json:"bestEnergyRatio" bson:"best_energy_ratio"`
	TargetSamples   int       `json:"targetSamples" bson:"target_samples"`
	DurationMs      float64   `json:"durationMs" bson:"duration_ms"`
}
