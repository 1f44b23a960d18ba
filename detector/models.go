package detector

// Waveform is a mono sample sequence together with its sample rate in Hz.
type Waveform struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sampleRate"`
}

// Len returns the number of samples.
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the waveform length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// LabeledWaveform is a training example.
type LabeledWaveform struct {
	Waveform Waveform `json:"waveform"`
	Label    string   `json:"label"`
}

// FilterResult is the output of the spectral band-pass stage.
type FilterResult struct {
	Filtered      Waveform `json:"filtered"`
	Energy        float64  `json:"energy"`
	PeakFrequency float64  `json:"peakFrequency"` // measured on the unfiltered spectrum
	SampleRate    int      `json:"sampleRate"`
}

// FeatureLength is the fixed width of every feature vector.
const FeatureLength = 10

// FeatureVector holds [rms, peak amplitude, zero-crossing rate, centroid/10000] followed by
// six reserved zeros.
type FeatureVector [FeatureLength]float64

// IsZero reports whether every component is zero.
func (v FeatureVector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Slice returns a copy of the vector as a slice.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureLength)
	copy(out, v[:])
	return out
}

// AudioFeatures is the named view of the semantic feature components.
type AudioFeatures struct {
	RMSEnergy        float64 `json:"rms_energy"`
	PeakAmplitude    float64 `json:"peak_amplitude"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	SpectralCentroid float64 `json:"spectral_centroid"` // Hz, not normalised
}

// Features bundles the named view with the packed vector.
type Features struct {
	Named  AudioFeatures `json:"features"`
	Vector FeatureVector `json:"feature_vector"`
}

// DetectionResult is the matcher decision.
type DetectionResult struct {
	IsMatch         bool    `json:"is_match"`
	SimilarityScore float64 `json:"similarity_score"`
	Confidence      float64 `json:"confidence"`
}

// TrainingModel is the stored outcome of a training run for one label.
type TrainingModel struct {
	Label           string        `json:"sound_type"`
	FilterParams    FilterSpec    `json:"filter_params"`
	TargetPattern   FeatureVector `json:"target_pattern"`
	BestEnergyRatio float64       `json:"best_energy_ratio,omitempty"`
	TargetSamples   int           `json:"target_samples,omitempty"`
	Epochs          int           `json:"epochs,omitempty"`
}

// Degenerate reports whether the target pattern is all zeros, which no waveform can match.
// Training produces one when it saw no target samples (TargetSamples == 0) or when every target
// sample was silent in the final band.
func (m TrainingModel) Degenerate() bool {
	return m.TargetPattern.IsZero()
}

// ModelSet is the persisted training artifact keyed by label.
type ModelSet map[string]TrainingModel

// Detection is the full inference trace for one model.
type Detection struct {
	Label    string          `json:"label"`
	Filter   FilterSpec      `json:"filter_params"`
	Energy   float64         `json:"filter_energy"`
	Peak     float64         `json:"peak_frequency"`
	Features Features        `json:"features"`
	Result   DetectionResult `json:"result"`
}

// ModelStats exposes metadata about the loaded model collection.
type ModelStats struct {
	ModelCount   int              `json:"modelCount"`
	Labels       []ModelLabelStat `json:"labels"`
	UsingExample bool             `json:"usingExample"`
}

// ModelLabelStat summarises one stored model.
type ModelLabelStat struct {
	Label      string  `json:"label"`
	LowFreq    float64 `json:"lowFreq"`
	HighFreq   float64 `json:"highFreq"`
	Degenerate bool    `json:"degenerate"`
}
