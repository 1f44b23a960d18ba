package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sound-hunter/db"
	"sound-hunter/detections"
	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

type apiError struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type modelsResponse struct {
	Stats  detector.ModelStats `json:"stats"`
	Models detector.ModelSet   `json:"models"`
}

const maxRequestBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// writeRequestError maps validation failures to 400 and everything else to 500.
func writeRequestError(w http.ResponseWriter, err error) {
	var verr *detector.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, apiError{Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, detector.ErrUnsupportedGradient):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errNoModels):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// allowMethods writes the CORS preflight headers and reports whether the request should proceed.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(append(methods, http.MethodOptions), ", "))
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// newStageHandler exposes one pipeline stage as a JSON POST endpoint.
func newStageHandler[Req any, Resp any](name string, apply func(Req) (Resp, error), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		var req Req
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := apply(req)
		if err != nil {
			logger.WarnContext(r.Context(), "stage request rejected",
				slog.String("stage", name), slog.Any("error", err))
			writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func newJacobianHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		var req detector.JacobianRequest
		if !decodeBody(w, r, &req) {
			return
		}
		grads, err := detector.ApplyJacobian(r.Context(), logger, req)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grads)
	}
}

func newDetectHandler(svc *detectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !allowMethods(w, r, http.MethodPost) {
			return
		}

		var recData models.RecordData
		if !decodeBody(w, r, &recData) {
			return
		}

		log.Printf("[HTTP] Detection request: sampleRate=%d, samples=%d, lat=%v, lng=%v\n",
			recData.SampleRate, len(recData.Audio), recData.Latitude, recData.Longitude)

		summary, err := svc.analyze(ctx, recData)
		if err != nil {
			svc.logger.ErrorContext(ctx, "detection failed", slog.Any("error", xerrors.New(err)))
			writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func newModelsHandler(svc *detectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}

		if r.Method == http.MethodPost {
			var model detector.TrainingModel
			if !decodeBody(w, r, &model) {
				return
			}
			if err := svc.putModel(ctx, model); err != nil {
				svc.logger.ErrorContext(ctx, "failed to store model", slog.Any("error", xerrors.New(err)))
				if strings.TrimSpace(model.Label) == "" {
					writeJSON(w, http.StatusBadRequest, apiError{Message: err.Error(), Field: "sound_type"})
					return
				}
				writeRequestError(w, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, modelsResponse{
			Stats:  svc.registry.Stats(),
			Models: svc.registry.Models(),
		})
	}
}

func newDetectionsHandler(svc *detectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !allowMethods(w, r, http.MethodGet) {
			return
		}

		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))

		var near *locationQuery
		if query.Has("lat") || query.Has("lng") {
			lat, latErr := strconv.ParseFloat(query.Get("lat"), 64)
			lng, lngErr := strconv.ParseFloat(query.Get("lng"), 64)
			if latErr != nil || lngErr != nil {
				writeJSONError(w, http.StatusBadRequest, "lat and lng must both be numbers")
				return
			}
			radius, err := strconv.ParseFloat(query.Get("radius"), 64)
			if err != nil || radius <= 0 {
				radius = 10
			}
			near = &locationQuery{lat: lat, lng: lng, radiusKm: radius}
		}

		detectionsList, err := svc.recentDetections(limit, near)
		if err != nil {
			svc.logger.ErrorContext(ctx, "failed to load detections", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load detections")
			return
		}
		writeJSON(w, http.StatusOK, detectionsList)
	}
}

// newMux wires every HTTP route. socketServer may be nil.
func newMux(svc *detectionService, socketServer http.Handler) *http.ServeMux {
	logger := svc.logger
	mux := http.NewServeMux()
	if socketServer != nil {
		mux.Handle("/socket.io/", socketServer)
	}
	mux.HandleFunc("/api/filter", newStageHandler("filter", detector.ApplyFilter, logger))
	mux.HandleFunc("/api/features", newStageHandler("features", detector.ApplyFeatures, logger))
	mux.HandleFunc("/api/match", newStageHandler("match", detector.ApplyMatch, logger))
	mux.HandleFunc("/api/jacobian", newJacobianHandler(logger))
	mux.HandleFunc("/api/detect", newDetectHandler(svc))
	mux.HandleFunc("/api/models", newModelsHandler(svc))
	mux.HandleFunc("/api/detections", newDetectionsHandler(svc))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "models": len(svc.registry.Labels())})
	})
	return mux
}

func loadRegistry(modelPath string, dbClient db.DBClient, logger *slog.Logger) *detector.ModelRegistry {
	registry, err := detector.LoadModelRegistry(modelPath, logger)
	if err != nil {
		log.Printf("WARNING: %v\n", err)
		log.Println("Starting with an empty model registry; train with cmd/train_model or POST /api/models.")
		registry = detector.NewModelRegistry(modelPath, logger)
	}

	if dbClient != nil {
		stored, err := dbClient.GetModels()
		if err != nil {
			logger.Error("failed to read models from database", slog.Any("error", xerrors.New(err)))
			return registry
		}
		for label, model := range stored {
			if _, ok := registry.Get(label); ok {
				continue
			}
			if err := registry.Put(model); err != nil {
				logger.Warn("skipping invalid database model", slog.String("label", label), slog.Any("error", err))
			}
		}
	}
	return registry
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}
	logger := utils.GetLogger()

	var dbClient db.DBClient
	if utils.GetEnv("DB_TYPE") != "" {
		client, err := db.NewDBClient()
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer client.Close()
		dbClient = client
	}

	modelPath := utils.GetEnv("HUNTER_MODEL_PATH", "trained_models.json")
	registry := loadRegistry(modelPath, dbClient, logger)
	stats := registry.Stats()
	log.Printf("Loaded %d models from %s (example=%v)\n", stats.ModelCount, modelPath, stats.UsingExample)

	threshold := utils.GetEnvFloat("HUNTER_DETECTION_THRESHOLD", detector.DefaultThreshold)
	if threshold < 0 || threshold > 1 {
		log.Fatalf("invalid HUNTER_DETECTION_THRESHOLD %v: must be within [0, 1]", threshold)
	}
	store := detections.NewStore(utils.GetEnv("HUNTER_DETECTIONS_FILE", "data/detections.json"))

	svc := newDetectionService(registry, threshold, store, dbClient, logger)
	controller := newSocketController(svc)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		controller.emitModelInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestModelInfo", func(socket socketio.Conn) {
		controller.emitModelInfo(socket)
	})

	server.OnEvent("/", "detect", func(socket socketio.Conn, msg string) {
		log.Printf("detect event received from %s, data length: %d\n", socket.ID(), len(msg))
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleDetect for socket %s: %v\n", socket.ID(), r)
					socket.Emit("analysisError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleDetect(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	logger.InfoContext(context.Background(), "server configured",
		slog.String("protocol", protocol),
		slog.String("port", port),
		slog.Float64("threshold", threshold),
		slog.String("detections", store.Path()),
		slog.Bool("database", dbClient != nil),
	)

	serveHTTP(server, protocol == "https", port, newMux(svc, server))
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY")
		certFile := utils.GetEnv("CERT_FILE")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert: set CERT_KEY and CERT_FILE")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
		return
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
