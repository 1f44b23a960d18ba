package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func sampleModel(label string) TrainingModel {
	return TrainingModel{
		Label:         label,
		FilterParams:  mustSpec(1800, 4200),
		TargetPattern: FeatureVector{0.4, 0.9, 0.27, 0.31},
	}
}

func TestModelRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "models", "trained_models.json")
	registry := NewModelRegistry(path, nil)
	if err := registry.Put(sampleModel("bird")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := registry.Put(sampleModel("whistle")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := registry.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadModelRegistry(path, nil)
	if err != nil {
		t.Fatalf("LoadModelRegistry: %v", err)
	}
	got, ok := loaded.Get("bird")
	if !ok {
		t.Fatalf("bird model missing after reload")
	}
	if got != sampleModel("bird") {
		t.Fatalf("model changed across save/load:\n%+v\n%+v", got, sampleModel("bird"))
	}
	if labels := loaded.Labels(); len(labels) != 2 || labels[0] != "bird" || labels[1] != "whistle" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestModelArtifactJSONShape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trained_models.json")
	if err := SaveModelSet(path, ModelSet{"bird": sampleModel("bird")}); err != nil {
		t.Fatalf("SaveModelSet: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"filter_params", "target_pattern", "sound_type"} {
		if _, ok := raw["bird"][key]; !ok {
			t.Fatalf("artifact missing %q: %s", key, data)
		}
	}
	var pattern []float64
	if err := json.Unmarshal(raw["bird"]["target_pattern"], &pattern); err != nil || len(pattern) != FeatureLength {
		t.Fatalf("target_pattern should be a %d-element array: %s", FeatureLength, raw["bird"]["target_pattern"])
	}
}

func TestLoadModelRegistryFallsBackToExample(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "trained_models.json")
	example := filepath.Join(dir, "trained_models.example.json")
	if err := SaveModelSet(example, ModelSet{"whistle": sampleModel("whistle")}); err != nil {
		t.Fatalf("SaveModelSet: %v", err)
	}

	registry, err := LoadModelRegistry(path, nil)
	if err != nil {
		t.Fatalf("LoadModelRegistry: %v", err)
	}
	if !registry.Stats().UsingExample {
		t.Fatalf("expected the example set to be in use")
	}
	if registry.Path() != path {
		t.Fatalf("registry should save to %s, got %s", path, registry.Path())
	}

	if err := registry.Put(sampleModel("bird")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	stats := registry.Stats()
	if stats.UsingExample || stats.ModelCount != 2 {
		t.Fatalf("unexpected stats after Put: %+v", stats)
	}
	if stats.Labels[0].Label != "bird" || stats.Labels[0].LowFreq != 1800 {
		t.Fatalf("unexpected label stats %+v", stats.Labels)
	}
}

func TestLoadModelRegistryMissingFiles(t *testing.T) {
	t.Parallel()

	if _, err := LoadModelRegistry(filepath.Join(t.TempDir(), "nothing.json"), nil); err == nil {
		t.Fatalf("expected an error when neither file exists")
	}
}

func TestDecodeModelSet(t *testing.T) {
	t.Parallel()

	set, err := decodeModelSet([]byte(`{"bird": {"filter_params": {"low_freq": 2000, "high_freq": 4000},
		"target_pattern": [0.1, 0, 0, 0, 0, 0, 0, 0, 0, 0]}}`))
	if err != nil {
		t.Fatalf("decodeModelSet: %v", err)
	}
	if set["bird"].Label != "bird" {
		t.Fatalf("expected the label to default to the key, got %q", set["bird"].Label)
	}

	if _, err := decodeModelSet([]byte(`{"bird": {"sound_type": "whistle",
		"filter_params": {"low_freq": 2000, "high_freq": 4000}}}`)); err == nil {
		t.Fatalf("expected an error for a mismatched sound_type")
	}
	if _, err := decodeModelSet([]byte(`{"bird": {"filter_params": {"low_freq": 4000, "high_freq": 2000}}}`)); err == nil {
		t.Fatalf("expected an error for inverted cutoffs")
	}
	if set, err := decodeModelSet([]byte(`null`)); err != nil || len(set) != 0 {
		t.Fatalf("expected an empty set for null, got %v %v", set, err)
	}
}

func TestModelRegistryPutValidates(t *testing.T) {
	t.Parallel()

	registry := NewModelRegistry(filepath.Join(t.TempDir(), "m.json"), nil)
	if err := registry.Put(TrainingModel{FilterParams: mustSpec(100, 200)}); err == nil {
		t.Fatalf("expected an error for an unlabelled model")
	}
	if err := registry.Put(TrainingModel{Label: "x"}); err == nil {
		t.Fatalf("expected an error for a zero filter")
	}
	if err := registry.Put(TrainingModel{Label: "x", FilterParams: mustSpec(100, 200)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !registry.Stats().Labels[0].Degenerate {
		t.Fatalf("a model without a pattern should be reported as degenerate")
	}
}

func TestModelRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	registry := NewModelRegistry(filepath.Join(t.TempDir(), "m.json"), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := fmt.Sprintf("label-%d", i%4)
			if err := registry.Put(sampleModel(label)); err != nil {
				t.Errorf("Put: %v", err)
			}
			registry.Get(label)
			registry.Stats()
		}()
	}
	wg.Wait()

	if n := len(registry.Models()); n != 4 {
		t.Fatalf("expected 4 models, got %d", n)
	}
}
