package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/0xmukeshr/snaptok-redefine/internal/engine"
	"github.com/0xmukeshr/snaptok-redefine/internal/session"
)

// SessionHandler exposes session creation and state reads.
type SessionHandler struct {
	engine *engine.Engine
}

func NewSessionHandler(e *engine.Engine) *SessionHandler {
	return &SessionHandler{engine: e}
}

// CreateSessionRequest is the profile submitted at session start.
type CreateSessionRequest struct {
	Name        string `json:"name"`
	Skills      string `json:"skills"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// CreateSession generates a question list for the profile and resets the
// session.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	snap, err := h.engine.NewSession(r.Context(), session.Profile{
		Name:        req.Name,
		Skills:      req.Skills,
		Description: req.Description,
		Level:       req.Level,
	})
	if err != nil {
		if errors.Is(err, engine.ErrSessionBusy) {
			WriteError(w, http.StatusConflict, "a recording is in progress")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	WriteJSON(w, http.StatusCreated, snap)
}

// GetState returns the session snapshot plus countdown state.
func (h *SessionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.State())
}

// ScoresResponse reports the score projection for one question.
type ScoresResponse struct {
	QuestionIndex int  `json:"questionIndex"`
	Available     bool `json:"available"`
	Clarity       int  `json:"clarity,omitempty"`
	Content       int  `json:"content,omitempty"`
	Confidence    int  `json:"confidence,omitempty"`
	Overall       int  `json:"overall,omitempty"`
}

// GetScores computes scores for the question at {index}. Questions without a
// merged analysis report available=false rather than zero scores.
func (h *SessionHandler) GetScores(w http.ResponseWriter, r *http.Request) {
	idx, err := PathInt(r, "index")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid question index")
		return
	}

	scores, ok, err := h.engine.Scores(idx)
	if err != nil {
		if errors.Is(err, session.ErrOutOfRange) {
			WriteError(w, http.StatusNotFound, "no question at that index")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to compute scores")
		return
	}

	resp := ScoresResponse{QuestionIndex: idx, Available: ok}
	if ok {
		resp.Clarity = scores.Clarity
		resp.Content = scores.Content
		resp.Confidence = scores.Confidence
		resp.Overall = scores.Overall
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Routes registers session routes.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Get("/session", h.GetState)
	r.Get("/session/questions/{index}/scores", h.GetScores)
}
