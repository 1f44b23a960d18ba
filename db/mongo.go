package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sound-hunter/detector"
	"sound-hunter/models"
)

const mongoTimeout = 10 * time.Second

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoClient(uri, dbName string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	return &MongoClient{client: client, db: client.Database(dbName)}, nil
}

func (db *MongoClient) Close() error {
	if db.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
		defer cancel()
		return db.client.Disconnect(ctx)
	}
	return nil
}

type mongoModel struct {
	Label           string    `bson:"_id"`
	LowFreq         float64   `bson:"low_freq"`
	HighFreq        float64   `bson:"high_freq"`
	TargetPattern   []float64 `bson:"target_pattern"`
	BestEnergyRatio float64   `bson:"best_energy_ratio"`
	TargetSamples   int       `bson:"target_samples"`
	Epochs          int       `bson:"epochs"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (db *MongoClient) StoreModel(model detector.TrainingModel) error {
	if model.Label == "" {
		return fmt.Errorf("model has no label")
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	doc := mongoModel{
		Label:           model.Label,
		LowFreq:         model.FilterParams.LowFreq,
		HighFreq:        model.FilterParams.HighFreq,
		TargetPattern:   model.TargetPattern.Slice(),
		BestEnergyRatio: model.BestEnergyRatio,
		TargetSamples:   model.TargetSamples,
		Epochs:          model.Epochs,
		UpdatedAt:       time.Now().UTC(),
	}
	_, err := db.db.Collection("models").ReplaceOne(ctx,
		bson.M{"_id": model.Label}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

func (db *MongoClient) GetModels() (detector.ModelSet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	cursor, err := db.db.Collection("models").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer cursor.Close(ctx)

	set := detector.ModelSet{}
	for cursor.Next(ctx) {
		var doc mongoModel
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding model: %s", err)
		}
		model := detector.TrainingModel{
			Label:           doc.Label,
			FilterParams:    detector.FilterSpec{LowFreq: doc.LowFreq, HighFreq: doc.HighFreq},
			BestEnergyRatio: doc.BestEnergyRatio,
			TargetSamples:   doc.TargetSamples,
			Epochs:          doc.Epochs,
		}
		copy(model.TargetPattern[:], doc.TargetPattern)
		set[doc.Label] = model
	}
	return set, cursor.Err()
}

func (db *MongoClient) DeleteModel(label string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	_, err := db.db.Collection("models").DeleteOne(ctx, bson.M{"_id": label})
	if err != nil {
		return fmt.Errorf("failed to delete model: %v", err)
	}
	return nil
}

func (db *MongoClient) StoreTrainingRun(run *models.TrainingRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if run.ID == 0 {
		run.ID = time.Now().UnixNano()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	if _, err := db.db.Collection("training_runs").InsertOne(ctx, run); err != nil {
		return fmt.Errorf("error storing training run: %s", err)
	}
	return nil
}

func (db *MongoClient) GetTrainingRuns(label string) ([]models.TrainingRun, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	filter := bson.M{}
	if label != "" {
		filter["label"] = label
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := db.db.Collection("training_runs").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying training runs: %s", err)
	}
	defer cursor.Close(ctx)

	var runs []models.TrainingRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("error decoding training runs: %s", err)
	}
	return runs, nil
}

type mongoDetection struct {
	ID            int64                  `bson:"_id"`
	Timestamp     time.Time              `bson:"timestamp"`
	Latitude      *float64               `bson:"latitude,omitempty"`
	Longitude     *float64               `bson:"longitude,omitempty"`
	Matched       bool                   `bson:"matched"`
	Label         string                 `bson:"label,omitempty"`
	Confidence    float64                `bson:"confidence"`
	Similarity    float64                `bson:"similarity"`
	Energy        float64                `bson:"energy"`
	PeakFrequency float64                `bson:"peak_frequency"`
	LowFreq       float64                `bson:"low_freq"`
	HighFreq      float64                `bson:"high_freq"`
	Threshold     float64                `bson:"threshold"`
	LatencyMs     float64                `bson:"latency_ms"`
	Results       string                 `bson:"results"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty"`
}

func toMongoDetection(d *models.Detection) mongoDetection {
	results := string(d.Results)
	if results == "" {
		results = "[]"
	}
	return mongoDetection{
		ID:            d.ID,
		Timestamp:     d.Timestamp,
		Latitude:      d.Latitude,
		Longitude:     d.Longitude,
		Matched:       d.Matched,
		Label:         d.Label,
		Confidence:    d.Confidence,
		Similarity:    d.Similarity,
		Energy:        d.Energy,
		PeakFrequency: d.PeakFrequency,
		LowFreq:       d.LowFreq,
		HighFreq:      d.HighFreq,
		Threshold:     d.Threshold,
		LatencyMs:     d.LatencyMs,
		Results:       results,
		Metadata:      d.Metadata,
	}
}

func (m mongoDetection) detection() models.Detection {
	return models.Detection{
		ID:            m.ID,
		Timestamp:     m.Timestamp,
		Latitude:      m.Latitude,
		Longitude:     m.Longitude,
		Matched:       m.Matched,
		Label:         m.Label,
		Confidence:    m.Confidence,
		Similarity:    m.Similarity,
		Energy:        m.Energy,
		PeakFrequency: m.PeakFrequency,
		LowFreq:       m.LowFreq,
		HighFreq:      m.HighFreq,
		Threshold:     m.Threshold,
		LatencyMs:     m.LatencyMs,
		Results:       json.RawMessage(m.Results),
		Metadata:      m.Metadata,
	}
}

func (db *MongoClient) StoreDetection(detection *models.Detection) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if detection.ID == 0 {
		detection.ID = time.Now().UnixNano()
	}
	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}
	if _, err := db.db.Collection("detections").InsertOne(ctx, toMongoDetection(detection)); err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	return nil
}

func (db *MongoClient) findDetections(filter bson.M) ([]models.Detection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := db.db.Collection("detections").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoDetection
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding detections: %s", err)
	}

	detections := make([]models.Detection, 0, len(docs))
	for _, doc := range docs {
		detections = append(detections, doc.detection())
	}
	return detections, nil
}

func (db *MongoClient) GetAllDetections() ([]models.Detection, error) {
	return db.findDetections(bson.M{})
}

func (db *MongoClient) GetDetectionsByLocation(lat, lng float64, radiusKm float64) ([]models.Detection, error) {
	latDelta, lngDelta := boundingBox(lat, radiusKm)
	return db.findDetections(bson.M{
		"latitude":  bson.M{"$gt": lat - latDelta, "$lt": lat + latDelta},
		"longitude": bson.M{"$gt": lng - lngDelta, "$lt": lng + lngDelta},
	})
}

func (db *MongoClient) DeleteCollection(collectionName string) error {
	if !knownCollections[collectionName] {
		return fmt.Errorf("invalid collection: %s", collectionName)
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	err := db.db.Collection(collectionName).Drop(ctx)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasErrorCode(26) {
		// namespace not found
		return nil
	}
	if err != nil {
		return fmt.Errorf("error deleting collection: %v", err)
	}
	return nil
}
