package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"

	"sound-hunter/detector"
	"sound-hunter/models"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

// emitter is the part of socketio.Conn the controller needs.
type emitter interface {
	ID() string
	Emit(eventName string, v ...interface{})
}

type socketController struct {
	svc *detectionService
}

func newSocketController(svc *detectionService) *socketController {
	return &socketController{svc: svc}
}

func (c *socketController) emitModelInfo(socket emitter) {
	socket.Emit("modelInfo", c.svc.registry.Stats())
}

func (c *socketController) handleDetect(socket emitter, recordData string) {
	logger := c.svc.logger
	ctx := context.Background()

	if recordData == "" {
		logger.ErrorContext(ctx, "no data received in detect event")
		socket.Emit("analysisError", map[string]string{"message": "no audio data received"})
		return
	}

	var recData models.RecordData
	if err := json.Unmarshal([]byte(recordData), &recData); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse record payload", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "invalid audio payload"})
		return
	}

	logger.InfoContext(ctx, "received recording",
		slog.String("socketID", socket.ID()),
		slog.Int("sampleRate", recData.SampleRate),
		slog.Int("samples", len(recData.Audio)),
		slog.Float64("duration", recData.Duration),
	)

	summary, err := c.svc.analyze(ctx, recData)
	if err != nil {
		logger.ErrorContext(ctx, "detection failed",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit("analysisError", map[string]string{"message": socketErrorMessage(err)})
		return
	}

	socket.Emit("detectionResult", summary)
	log.Printf("[handleDetect] Emitted detectionResult for socket %s (matched=%v)\n", socket.ID(), summary.Matched)
}

func socketErrorMessage(err error) string {
	var verr *detector.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, errNoModels):
		return err.Error()
	default:
		return "detection error"
	}
}

var _ emitter = (socketio.Conn)(nil)
