package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/worker"
)

// Waker runs one background wake.
type Waker interface {
	Wake(ctx context.Context, reason string) (worker.WakeResult, error)
}

// WakeHandler exposes the worker's push and sync callbacks over HTTP.
type WakeHandler struct {
	logger *zap.Logger
	waker  Waker
}

func NewWakeHandler(logger *zap.Logger, waker Waker) *WakeHandler {
	return &WakeHandler{logger: logger, waker: waker}
}

// Wake handles POST /wake/{event}
func (h *WakeHandler) Wake(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	switch event {
	case worker.ReasonPush, worker.ReasonSync, worker.ReasonPeriodic:
	default:
		writeProblem(w, ErrorResponse{
			Type:   "invalid_request",
			Title:  "Unknown wake event",
			Status: http.StatusBadRequest,
			Detail: "event must be one of: push, sync, periodic",
		})
		return
	}

	res, err := h.waker.Wake(r.Context(), event)
	if err != nil {
		h.logger.Error("wake failed", zap.String("event", event), zap.Error(err))
		status, title := http.StatusInternalServerError, "Wake failed"
		if errors.Is(err, db.ErrStorage) {
			status, title = http.StatusServiceUnavailable, "Schedule store unavailable"
		}
		writeProblem(w, ErrorResponse{Type: "wake_failed", Title: title, Status: status})
		return
	}

	writeJSON(w, http.StatusOK, res)
}
