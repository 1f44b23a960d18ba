package detections

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sound-hunter/models"
	"sound-hunter/utils"
)

// Store is an append-only JSON file of detection events.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore returns a store backed by the file at path. The file is created on first save.
func NewStore(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

func (s *Store) Path() string {
	return s.path
}

// load reads all detections from the file (caller holds the lock)
func (s *Store) load() ([]models.Detection, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []models.Detection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading detections file: %v", err)
	}

	if len(data) == 0 {
		return []models.Detection{}, nil
	}

	var detections []models.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("error unmarshaling detections: %v", err)
	}

	return detections, nil
}

// Load returns every stored detection in insertion order
func (s *Store) Load() ([]models.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

// Recent returns at most limit detections, newest first. A limit <= 0 returns all of them.
func (s *Store) Recent(limit int) ([]models.Detection, error) {
	detections, err := s.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Timestamp.After(detections[j].Timestamp)
	})
	if limit > 0 && len(detections) > limit {
		detections = detections[:limit]
	}
	return detections, nil
}

// Save appends detection to the file, assigning an ID and timestamp when unset
func (s *Store) Save(detection *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detections, err := s.load()
	if err != nil {
		return err
	}

	if detection.ID == 0 {
		detection.ID = time.Now().UnixNano()
	}
	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}

	detections = append(detections, *detection)

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %v", err)
		}
	}

	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling detections: %v", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("error writing detections file: %v", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("error replacing detections file: %v", err)
	}

	return nil
}
