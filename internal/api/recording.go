package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/0xmukeshr/snaptok-redefine/internal/capture"
	"github.com/0xmukeshr/snaptok-redefine/internal/engine"
	"github.com/0xmukeshr/snaptok-redefine/internal/timing"
)

// Duration bounds mirror the client's timer control: 30s to 5min in 10s steps.
const (
	minDurationSeconds  = 30
	maxDurationSeconds  = 300
	durationStepSeconds = 10
)

// RecordingHandler exposes the recording lifecycle: start, next, skip, stop,
// and the per-question duration.
type RecordingHandler struct {
	engine *engine.Engine
}

func NewRecordingHandler(e *engine.Engine) *RecordingHandler {
	return &RecordingHandler{engine: e}
}

// Start begins recording the active question.
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Start(r.Context())
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, h.engine.State())
	case errors.Is(err, engine.ErrNoQuestions):
		WriteError(w, http.StatusConflict, "session has no questions")
	case errors.Is(err, engine.ErrSessionBusy):
		WriteError(w, http.StatusConflict, "a recording is already in progress")
	case errors.Is(err, capture.ErrPermissionDenied):
		WriteError(w, http.StatusForbidden, "capture permission denied")
	case errors.Is(err, capture.ErrDeviceUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "capture device unavailable")
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to start recording", err.Error())
	}
}

// Next advances to the following question.
func (h *RecordingHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, h.engine.Next)
}

// Skip skips the active question.
func (h *RecordingHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, h.engine.Skip)
}

// Stop ends the recording session.
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, h.engine.Stop)
}

func (h *RecordingHandler) trigger(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, timing.ErrNotRecording) {
			WriteError(w, http.StatusConflict, "no recording in progress")
			return
		}
		WriteErrorDetail(w, http.StatusInternalServerError, "trigger failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.engine.State())
}

// DurationRequest sets the per-question duration in seconds.
type DurationRequest struct {
	Seconds int `json:"seconds"`
}

// SetDuration validates the client's timer bounds and applies the new
// duration. Rejected while recording.
func (h *RecordingHandler) SetDuration(w http.ResponseWriter, r *http.Request) {
	var req DurationRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Seconds < minDurationSeconds || req.Seconds > maxDurationSeconds {
		WriteError(w, http.StatusUnprocessableEntity, "duration must be between 30 and 300 seconds")
		return
	}
	if req.Seconds%durationStepSeconds != 0 {
		WriteError(w, http.StatusUnprocessableEntity, "duration must be a multiple of 10 seconds")
		return
	}

	if err := h.engine.SetDuration(time.Duration(req.Seconds) * time.Second); err != nil {
		if errors.Is(err, timing.ErrRecordingActive) {
			WriteError(w, http.StatusConflict, "cannot change duration while recording")
			return
		}
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to set duration", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"seconds": int(h.engine.Duration().Seconds())})
}

// GetDuration returns the configured per-question duration.
func (h *RecordingHandler) GetDuration(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"seconds": int(h.engine.Duration().Seconds())})
}

// Routes registers recording routes.
func (h *RecordingHandler) Routes(r chi.Router) {
	r.Post("/recording/start", h.Start)
	r.Post("/recording/next", h.Next)
	r.Post("/recording/skip", h.Skip)
	r.Post("/recording/stop", h.Stop)
	r.Get("/recording/duration", h.GetDuration)
	r.Put("/recording/duration", h.SetDuration)
}
