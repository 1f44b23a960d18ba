package db

import (
	"fmt"
	"strings"

	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/utils"
)

// DBClient persists trained models, training history and detection events.
type DBClient interface {
	Close() error

	StoreModel(model detector.TrainingModel) error
	GetModels() (detector.ModelSet, error)
	DeleteModel(label string) error

	StoreTrainingRun(run *models.TrainingRun) error
	GetTrainingRuns(label string) ([]models.TrainingRun, error)

	StoreDetection(detection *models.Detection) error
	GetAllDetections() ([]models.Detection, error)
	GetDetectionsByLocation(lat, lng, radiusKm float64) ([]models.Detection, error)

	DeleteCollection(collectionName string) error
}

// NewDBClient opens the backend selected by DB_TYPE ("sqlite" by default, or "mongo").
func NewDBClient() (DBClient, error) {
	dbType := strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite"))

	switch dbType {
	case "mongo", "mongodb":
		uri := utils.GetEnv("MONGO_URI", "mongodb://localhost:27017")
		name := utils.GetEnv("MONGO_DB", "sound-hunter")
		return NewMongoClient(uri, name)
	case "sqlite", "sqlite3":
		return NewSQLiteClient(utils.GetEnv("SQLITE_PATH", "db/sound-hunter.sqlite3"))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
