package detector

// Model Registry
//
// The registry keeps the trained models in memory keyed by label and persists them as the
// JSON training artifact:
//
//   {
//     "bird": {"filter_params": {"low_freq": ..., "high_freq": ...},
//              "target_pattern": [10 floats], "sound_type": "bird"},
//     ...
//   }
//
// When the model file is missing the registry falls back to a sibling `.example.json` file
// (trained_models.json -> trained_models.example.json) and later saves to the primary path.
// Saves go through a temporary file and a rename so readers never observe a partial file.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sound-hunter/utils"
)

// ModelRegistry is a concurrency-safe label -> model store.
type ModelRegistry struct {
	mu           sync.RWMutex
	models       ModelSet
	path         string
	usingExample bool
	logger       *slog.Logger
}

// NewModelRegistry returns an empty registry that saves to path.
func NewModelRegistry(path string, logger *slog.Logger) *ModelRegistry {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &ModelRegistry{models: ModelSet{}, path: path, logger: logger}
}

// LoadModelRegistry reads the model artifact at path.
func LoadModelRegistry(path string, logger *slog.Logger) (*ModelRegistry, error) {
	registry := NewModelRegistry(filepath.Clean(path), logger)

	resolvedPath := registry.path
	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		ext := filepath.Ext(resolvedPath)
		fallbackPath := strings.TrimSuffix(resolvedPath, ext) + ".example" + ext
		data, err = os.ReadFile(fallbackPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models (%s): %w", resolvedPath, err)
		}
		registry.logger.Warn("falling back to example models", "path", fallbackPath)
		registry.usingExample = true
		resolvedPath = fallbackPath
	}

	set, err := decodeModelSet(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse models (%s): %w", resolvedPath, err)
	}
	if len(set) == 0 {
		registry.logger.Warn("no models loaded; registry will start empty", "path", resolvedPath)
	}
	for label, model := range set {
		if model.Degenerate() {
			registry.logger.Warn("model has an all-zero target pattern and will never match",
				"label", label)
		}
	}
	registry.models = set
	return registry, nil
}

// LoadModelSet reads and validates a model artifact without building a registry.
func LoadModelSet(path string) (ModelSet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return decodeModelSet(data)
}

func decodeModelSet(data []byte) (ModelSet, error) {
	var set ModelSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	if set == nil {
		set = ModelSet{}
	}
	for label, model := range set {
		if model.Label == "" {
			model.Label = label
		}
		if model.Label != label {
			return nil, fmt.Errorf("model keyed %q declares sound_type %q", label, model.Label)
		}
		if err := model.FilterParams.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", label, err)
		}
		set[label] = model
	}
	return set, nil
}

// SaveModelSet writes set to path atomically.
func SaveModelSet(path string, set ModelSet) error {
	if path == "" {
		return errors.New("model path not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write models: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Put validates and stores model, replacing any model with the same label.
func (r *ModelRegistry) Put(model TrainingModel) error {
	if strings.TrimSpace(model.Label) == "" {
		return errors.New("model has no label")
	}
	if err := model.FilterParams.Validate(); err != nil {
		return fmt.Errorf("model %q: %w", model.Label, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.Label] = model
	// once a model is stored the set is no longer the bundled example
	r.usingExample = false
	return nil
}

// Get returns the model for label.
func (r *ModelRegistry) Get(label string) (TrainingModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[label]
	return model, ok
}

// Models returns a copy of every stored model.
func (r *ModelRegistry) Models() ModelSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(ModelSet, len(r.models))
	for label, model := range r.models {
		out[label] = model
	}
	return out
}

// Labels returns the stored labels in sorted order.
func (r *ModelRegistry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	labels := make([]string, 0, len(r.models))
	for label := range r.models {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Stats returns summary metadata about the loaded models.
func (r *ModelRegistry) Stats() ModelStats {
	models := r.Models()

	r.mu.RLock()
	usingExample := r.usingExample
	r.mu.RUnlock()

	labels := make([]ModelLabelStat, 0, len(models))
	for label, model := range models {
		labels = append(labels, ModelLabelStat{
			Label:      label,
			LowFreq:    model.FilterParams.LowFreq,
			HighFreq:   model.FilterParams.HighFreq,
			Degenerate: model.Degenerate(),
		})
	}
	// keep labels sorted for deterministic responses
	sort.Slice(labels, func(i, j int) bool { return labels[i].Label < labels[j].Label })

	return ModelStats{
		ModelCount:   len(models),
		Labels:       labels,
		UsingExample: usingExample,
	}
}

// Save persists every model to the registry path.
func (r *ModelRegistry) Save() error {
	if err := SaveModelSet(r.path, r.Models()); err != nil {
		return err
	}
	r.mu.Lock()
	r.usingExample = false
	r.mu.Unlock()
	return nil
}

// Path is where Save writes.
func (r *ModelRegistry) Path() string {
	return r.path
}
