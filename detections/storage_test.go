package detections

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sound-hunter/models"
)

func TestStoreLoadMissingFile(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "detections.json"))
	detections, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected no detections, got %d", len(detections))
	}
}

func TestStoreSaveAssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "detections.json")
	store := NewStore(path)

	detection := &models.Detection{
		Label:      "bird",
		Matched:    true,
		Confidence: 0.91,
		Results:    json.RawMessage(`[]`),
	}
	if err := store.Save(detection); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if detection.ID == 0 || detection.Timestamp.IsZero() {
		t.Fatalf("expected ID and timestamp, got %+v", detection)
	}

	loaded, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Label != "bird" || !loaded[0].Matched {
		t.Fatalf("unexpected detections %+v", loaded)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestStoreRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "detections.json"))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, label := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		if err := store.Save(&models.Detection{Label: label, Timestamp: base.Add(offsets[i])}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Label != "newest" || recent[1].Label != "middle" {
		t.Fatalf("unexpected order %+v", recent)
	}

	all, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all detections, got %d", len(all))
	}
}

func TestStoreConcurrentSaves(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "detections.json"))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Save(&models.Detection{ID: int64(i + 1), Label: "whistle"}); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	detections, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(detections) != 10 {
		t.Fatalf("expected 10 detections, got %d", len(detections))
	}
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "detections.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatalf("expected an error for a corrupt file")
	}
}
