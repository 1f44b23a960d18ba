package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// busy timeout in milliseconds
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	err = createTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createModelsTable := `
    CREATE TABLE IF NOT EXISTS models (
        label TEXT PRIMARY KEY,
        low_freq REAL NOT NULL,
        high_freq REAL NOT NULL,
        target_pattern TEXT NOT NULL,
        best_energy_ratio REAL NOT NULL DEFAULT 0,
        target_samples INTEGER NOT NULL DEFAULT 0,
        epochs INTEGER NOT NULL DEFAULT 0,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	createTrainingRunsTable := `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        label TEXT NOT NULL,
        epochs INTEGER NOT NULL,
        seed INTEGER NOT NULL,
        low_freq REAL NOT NULL,
        high_freq REAL NOT NULL,
        best_energy_ratio REAL NOT NULL,
        target_samples INTEGER NOT NULL,
        duration_ms REAL NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_label ON training_runs(label);
    `

	createDetectionsTable := `
    CREATE TABLE IF NOT EXISTS detections (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        latitude REAL,
        longitude REAL,
        matched INTEGER NOT NULL DEFAULT 0,
        label TEXT,
        confidence REAL NOT NULL DEFAULT 0,
        similarity REAL NOT NULL DEFAULT 0,
        energy REAL NOT NULL DEFAULT 0,
        peak_frequency REAL NOT NULL DEFAULT 0,
        low_freq REAL NOT NULL DEFAULT 0,
        high_freq REAL NOT NULL DEFAULT 0,
        threshold REAL NOT NULL DEFAULT 0,
        latency_ms REAL NOT NULL DEFAULT 0,
        results TEXT NOT NULL,
        metadata TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp);
    CREATE INDEX IF NOT EXISTS idx_detections_location ON detections(latitude, longitude);
    `

	_, err := db.Exec(createModelsTable)
	if err != nil {
		return fmt.Errorf("error creating models table: %s", err)
	}

	_, err = db.Exec(createTrainingRunsTable)
	if err != nil {
		return fmt.Errorf("error creating training_runs table: %s", err)
	}

	_, err = db.Exec(createDetectionsTable)
	if err != nil {
		return fmt.Errorf("error creating detections table: %s", err)
	}

	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreModel inserts or replaces the model for its label
func (db *SQLiteClient) StoreModel(model detector.TrainingModel) error {
	if model.Label == "" {
		return fmt.Errorf("model has no label")
	}
	pattern, err := json.Marshal(model.TargetPattern)
	if err != nil {
		return fmt.Errorf("error marshaling target pattern: %s", err)
	}

	_, err = db.db.Exec(`
		INSERT OR REPLACE INTO models (
			label, low_freq, high_freq, target_pattern,
			best_energy_ratio, target_samples, epochs, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model.Label,
		model.FilterParams.LowFreq,
		model.FilterParams.HighFreq,
		string(pattern),
		model.BestEnergyRatio,
		model.TargetSamples,
		model.Epochs,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

// GetModels returns every stored model keyed by label
func (db *SQLiteClient) GetModels() (detector.ModelSet, error) {
	rows, err := db.db.Query(`
		SELECT label, low_freq, high_freq, target_pattern,
		       best_energy_ratio, target_samples, epochs
		FROM models
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer rows.Close()

	set := detector.ModelSet{}
	for rows.Next() {
		var model detector.TrainingModel
		var patternJSON string
		err := rows.Scan(
			&model.Label,
			&model.FilterParams.LowFreq,
			&model.FilterParams.HighFreq,
			&patternJSON,
			&model.BestEnergyRatio,
			&model.TargetSamples,
			&model.Epochs,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning model: %s", err)
		}
		if err := json.Unmarshal([]byte(patternJSON), &model.TargetPattern); err != nil {
			return nil, fmt.Errorf("error unmarshaling target pattern for %s: %s", model.Label, err)
		}
		set[model.Label] = model
	}
	return set, rows.Err()
}

func (db *SQLiteClient) DeleteModel(label string) error {
	_, err := db.db.Exec("DELETE FROM models WHERE label = ?", label)
	if err != nil {
		return fmt.Errorf("failed to delete model: %v", err)
	}
	return nil
}

// StoreTrainingRun appends a training run and sets its ID
func (db *SQLiteClient) StoreTrainingRun(run *models.TrainingRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	result, err := db.db.Exec(`
		INSERT INTO training_runs (
			timestamp, label, epochs, seed, low_freq, high_freq,
			best_energy_ratio, target_samples, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Timestamp,
		run.Label,
		run.Epochs,
		run.Seed,
		run.LowFreq,
		run.HighFreq,
		run.BestEnergyRatio,
		run.TargetSamples,
		run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("error storing training run: %s", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting training run ID: %s", err)
	}
	run.ID = id
	return nil
}

// GetTrainingRuns lists the runs for label, newest first. An empty label lists every run.
func (db *SQLiteClient) GetTrainingRuns(label string) ([]models.TrainingRun, error) {
	query := `
		SELECT id, timestamp, label, epochs, seed, low_freq, high_freq,
		       best_energy_ratio, target_samples, duration_ms
		FROM training_runs`
	var args []interface{}
	if label != "" {
		query += " WHERE label = ?"
		args = append(args, label)
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying training runs: %s", err)
	}
	defer rows.Close()

	var runs []models.TrainingRun
	for rows.Next() {
		var run models.TrainingRun
		err := rows.Scan(
			&run.ID,
			&run.Timestamp,
			&run.Label,
			&run.Epochs,
			&run.Seed,
			&run.LowFreq,
			&run.HighFreq,
			&run.BestEnergyRatio,
			&run.TargetSamples,
			&run.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning training run: %s", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StoreDetection stores a detection in the database and sets its ID
func (db *SQLiteClient) StoreDetection(detection *models.Detection) error {
	results := detection.Results
	if len(results) == 0 {
		results = json.RawMessage("[]")
	}

	var metadataJSON *string
	if detection.Metadata != nil {
		metadataBytes, err := json.Marshal(detection.Metadata)
		if err != nil {
			return fmt.Errorf("error marshaling metadata: %s", err)
		}
		metadataStr := string(metadataBytes)
		metadataJSON = &metadataStr
	}

	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}

	matchedInt := 0
	if detection.Matched {
		matchedInt = 1
	}

	result, err := db.db.Exec(`
		INSERT INTO detections (
			timestamp, latitude, longitude, matched, label, confidence,
			similarity, energy, peak_frequency, low_freq, high_freq,
			threshold, latency_ms, results, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		detection.Timestamp,
		detection.Latitude,
		detection.Longitude,
		matchedInt,
		detection.Label,
		detection.Confidence,
		detection.Similarity,
		detection.Energy,
		detection.PeakFrequency,
		detection.LowFreq,
		detection.HighFreq,
		detection.Threshold,
		detection.LatencyMs,
		string(results),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting detection ID: %s", err)
	}
	detection.ID = id
	return nil
}

const detectionColumns = `
	SELECT id, timestamp, latitude, longitude, matched, label, confidence,
	       similarity, energy, peak_frequency, low_freq, high_freq,
	       threshold, latency_ms, results, metadata
	FROM detections`

// GetAllDetections retrieves all detections from the database
func (db *SQLiteClient) GetAllDetections() ([]models.Detection, error) {
	rows, err := db.db.Query(detectionColumns + " ORDER BY timestamp DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

// GetDetectionsByLocation retrieves detections within a radius of a location
func (db *SQLiteClient) GetDetectionsByLocation(lat, lng float64, radiusKm float64) ([]models.Detection, error) {
	// bounding box in degrees; one degree of latitude is ~111 km
	latDelta, lngDelta := boundingBox(lat, radiusKm)
	rows, err := db.db.Query(detectionColumns+`
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		  AND ABS(latitude - ?) < ? AND ABS(longitude - ?) < ?
		ORDER BY timestamp DESC, id DESC
	`, lat, latDelta, lng, lngDelta)
	if err != nil {
		return nil, fmt.Errorf("error querying detections by location: %s", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

func scanDetections(rows *sql.Rows) ([]models.Detection, error) {
	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		var matchedInt int
		var label sql.NullString
		var resultsJSON string
		var metadataJSON *string

		err := rows.Scan(
			&d.ID,
			&d.Timestamp,
			&d.Latitude,
			&d.Longitude,
			&matchedInt,
			&label,
			&d.Confidence,
			&d.Similarity,
			&d.Energy,
			&d.PeakFrequency,
			&d.LowFreq,
			&d.HighFreq,
			&d.Threshold,
			&d.LatencyMs,
			&resultsJSON,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning detection: %s", err)
		}

		d.Matched = matchedInt == 1
		d.Label = label.String
		d.Results = json.RawMessage(resultsJSON)

		if metadataJSON != nil {
			err = json.Unmarshal([]byte(*metadataJSON), &d.Metadata)
			if err != nil {
				return nil, fmt.Errorf("error unmarshaling metadata: %s", err)
			}
		}

		detections = append(detections, d)
	}
	return detections, rows.Err()
}

func boundingBox(lat, radiusKm float64) (latDelta, lngDelta float64) {
	latDelta = radiusKm / 111.0
	lngDelta = radiusKm / (111.0 * math.Max(math.Cos(lat*math.Pi/180.0), 1e-6))
	return latDelta, lngDelta
}

var knownCollections = map[string]bool{"models": true, "training_runs": true, "detections": true}

// DeleteCollection drops a table from the database
func (db *SQLiteClient) DeleteCollection(collectionName string) error {
	if !knownCollections[collectionName] {
		return fmt.Errorf("invalid collection: %s", collectionName)
	}
	_, err := db.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", collectionName))
	if err != nil {
		return fmt.Errorf("error deleting collection: %v", err)
	}
	return nil
}
