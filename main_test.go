package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"sound-hunter/db"
	"sound-hunter/detections"
	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/utils"
)

const testRate = 8000

func sine(freq float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / testRate)
	}
	return out
}

func whistleModel(t *testing.T) detector.TrainingModel {
	t.Helper()
	spec := detector.FilterSpec{LowFreq: 1000, HighFreq: 2000}
	result, err := detector.Filter(detector.Waveform{Samples: sine(1500, 4000), SampleRate: testRate}, spec)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	return detector.TrainingModel{
		Label:         "whistle",
		FilterParams:  spec,
		TargetPattern: detector.ExtractFeatures(result.Filtered.Samples, result.SampleRate).Vector,
	}
}

type testServer struct {
	svc   *detectionService
	store *detections.Store
	mux   *http.ServeMux
}

func newTestServer(t *testing.T, withModel bool) testServer {
	t.Helper()
	dir := t.TempDir()
	registry := detector.NewModelRegistry(filepath.Join(dir, "trained_models.json"), nil)
	if withModel {
		if err := registry.Put(whistleModel(t)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	store := detections.NewStore(filepath.Join(dir, "detections.json"))
	svc := newDetectionService(registry, detector.DefaultThreshold, store, nil, utils.DiscardLogger())
	return testServer{svc: svc, store: store, mux: newMux(svc, nil)}
}

func (s testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestFilterEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)
	rec := srv.do(t, http.MethodPost, "/api/filter", detector.FilterRequest{
		AudioData:    sine(1500, 800),
		SampleRate:   testRate,
		FilterParams: detector.FilterSpec{LowFreq: 1000, HighFreq: 2000},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp detector.FilterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.FilteredAudio) != 800 || resp.FilterEnergy <= 0 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/api/filter", detector.FilterRequest{
		AudioData:    []float64{0, 1},
		SampleRate:   4000,
		FilterParams: detector.FilterSpec{LowFreq: 100, HighFreq: 200},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var apiErr apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Field != "sample_rate" {
		t.Fatalf("expected sample_rate error, got %s", rec.Body)
	}
}

func TestStageEndpointMethods(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)
	if rec := srv.do(t, http.MethodGet, "/api/features", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodOptions, "/api/features", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/match", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestMatchEndpointDefaultsThreshold(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)
	vector := []float64{0.5, 0.9, 0.1, 0.2, 0, 0, 0, 0, 0, 0}
	rec := srv.do(t, http.MethodPost, "/api/match", map[string]interface{}{
		"feature_vector": vector,
		"target_pattern": vector,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var result detector.DetectionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.IsMatch || math.Abs(result.SimilarityScore-1) > 1e-9 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestJacobianEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)
	body := map[string]interface{}{
		"audio_data":    sine(1500, 800),
		"sample_rate":   testRate,
		"filter_params": map[string]float64{"low_freq": 1000, "high_freq": 2000},
		"jac_inputs":    []string{"audio_data", "filter_params.low_freq"},
		"jac_outputs":   []string{"filter_energy"},
	}
	rec := srv.do(t, http.MethodPost, "/api/jacobian", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var grads map[string]map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &grads); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var audioGrad []float64
	if err := json.Unmarshal(grads["audio_data"]["filter_energy"], &audioGrad); err != nil || len(audioGrad) != 800 {
		t.Fatalf("expected an 800-element audio gradient, got %s", grads["audio_data"]["filter_energy"])
	}

	body["jac_outputs"] = []string{"peak_frequency"}
	if rec := srv.do(t, http.MethodPost, "/api/jacobian", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unsupported output, got %d", rec.Code)
	}
}

func TestDetectEndpointRecordsMatches(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	lat, lng := 48.85, 2.35
	rec := srv.do(t, http.MethodPost, "/api/detect", models.RecordData{
		Audio:      sine(1500, 4000),
		SampleRate: testRate,
		Latitude:   &lat,
		Longitude:  &lng,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var summary analysisSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !summary.Matched || summary.Best == nil || summary.Best.Label != "whistle" {
		t.Fatalf("expected a whistle match, got %+v", summary)
	}
	if summary.DetectionID == 0 {
		t.Fatalf("expected the detection to be recorded")
	}

	stored, err := srv.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored) != 1 || stored[0].Label != "whistle" || *stored[0].Latitude != lat {
		t.Fatalf("unexpected stored detections %+v", stored)
	}

	rec = srv.do(t, http.MethodGet, "/api/detections?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed []models.Detection
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil || len(listed) != 1 {
		t.Fatalf("expected one listed detection, got %s", rec.Body)
	}
}

func TestDetectionIDsAgreeAcrossSinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client, err := db.NewSQLiteClient(filepath.Join(dir, "hunter.sqlite3"))
	if err != nil {
		t.Fatalf("NewSQLiteClient: %v", err)
	}
	defer client.Close()

	registry := detector.NewModelRegistry(filepath.Join(dir, "trained_models.json"), nil)
	if err := registry.Put(whistleModel(t)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store := detections.NewStore(filepath.Join(dir, "detections.json"))
	svc := newDetectionService(registry, detector.DefaultThreshold, store, client, utils.DiscardLogger())

	summary, err := svc.analyze(context.Background(), models.RecordData{Audio: sine(1500, 4000), SampleRate: testRate})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !summary.Matched || summary.DetectionID == 0 {
		t.Fatalf("expected a recorded match, got %+v", summary)
	}

	logged, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stored, err := client.GetAllDetections()
	if err != nil {
		t.Fatalf("GetAllDetections: %v", err)
	}
	if len(logged) != 1 || len(stored) != 1 {
		t.Fatalf("expected one detection per sink, got %d logged and %d stored", len(logged), len(stored))
	}
	if logged[0].ID != summary.DetectionID || stored[0].ID != summary.DetectionID {
		t.Fatalf("detection IDs disagree: returned %d, log %d, database %d",
			summary.DetectionID, logged[0].ID, stored[0].ID)
	}
}

func TestDetectEndpointSkipsRecordingMisses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	strict := 1.0
	rec := srv.do(t, http.MethodPost, "/api/detect", models.RecordData{
		Audio:      sine(1500, 4000),
		SampleRate: testRate,
		Threshold:  &strict,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var summary analysisSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Matched || summary.Threshold != 1 {
		t.Fatalf("nothing can beat a threshold of 1: %+v", summary)
	}
	if stored, _ := srv.store.Load(); len(stored) != 0 {
		t.Fatalf("misses must not be recorded, got %d", len(stored))
	}
}

func TestDetectEndpointErrors(t *testing.T) {
	t.Parallel()

	empty := newTestServer(t, false)
	rec := empty.do(t, http.MethodPost, "/api/detect", models.RecordData{Audio: sine(1500, 100), SampleRate: testRate})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without models, got %d", rec.Code)
	}

	srv := newTestServer(t, true)
	cases := []models.RecordData{
		{SampleRate: testRate},
		{Audio: sine(1500, 100), SampleRate: 4000},
		{Audio: sine(1500, 100), SampleRate: testRate, Labels: []string{"dragon"}},
	}
	for i, body := range cases {
		if rec := srv.do(t, http.MethodPost, "/api/detect", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d: %s", i, rec.Code, rec.Body)
		}
	}
}

func TestModelsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	bird := detector.TrainingModel{
		Label:         "bird",
		FilterParams:  detector.FilterSpec{LowFreq: 2000, HighFreq: 4000},
		TargetPattern: detector.FeatureVector{0.5, 1, 0.27, 0.3},
	}
	rec := srv.do(t, http.MethodPost, "/api/models", bird)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp modelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.ModelCount != 2 || resp.Models["bird"].FilterParams.HighFreq != 4000 {
		t.Fatalf("unexpected response %+v", resp)
	}

	saved, err := detector.LoadModelSet(srv.svc.registry.Path())
	if err != nil {
		t.Fatalf("LoadModelSet: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected the artifact to hold 2 models, got %d", len(saved))
	}

	bad := bird
	bad.FilterParams = detector.FilterSpec{LowFreq: 4000, HighFreq: 2000}
	if rec := srv.do(t, http.MethodPost, "/api/models", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted cutoffs, got %d", rec.Code)
	}
	bad.Label = ""
	if rec := srv.do(t, http.MethodPost, "/api/models", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing label, got %d", rec.Code)
	}
}

func TestDetectionsLocationNeedsDatabase(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)
	if rec := srv.do(t, http.MethodGet, "/api/detections?lat=1&lng=2", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without a database, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/api/detections?lat=x&lng=2", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad latitude, got %d", rec.Code)
	}
}

type recordingSocket struct {
	mu     sync.Mutex
	events []string
	args   [][]interface{}
}

func (s *recordingSocket) ID() string { return "test-socket" }

func (s *recordingSocket) Emit(eventName string, v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventName)
	s.args = append(s.args, v)
}

func TestSocketControllerDetect(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	controller := newSocketController(srv.svc)

	socket := &recordingSocket{}
	controller.handleDetect(socket, "not json")
	controller.handleDetect(socket, "")

	payload, err := json.Marshal(models.RecordData{Audio: sine(1500, 4000), SampleRate: testRate})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	controller.handleDetect(socket, string(payload))
	controller.emitModelInfo(socket)

	want := []string{"analysisError", "analysisError", "detectionResult", "modelInfo"}
	if len(socket.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, socket.events)
	}
	for i := range want {
		if socket.events[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], socket.events[i])
		}
	}
	summary, ok := socket.args[2][0].(analysisSummary)
	if !ok || !summary.Matched {
		t.Fatalf("expected a matched summary, got %#v", socket.args[2])
	}
	stats, ok := socket.args[3][0].(detector.ModelStats)
	if !ok || stats.ModelCount != 1 {
		t.Fatalf("expected model stats, got %#v", socket.args[3])
	}
}
