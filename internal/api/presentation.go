package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/0xmukeshr/snaptok-redefine/internal/engine"
	"github.com/0xmukeshr/snaptok-redefine/internal/presentation"
	"github.com/0xmukeshr/snaptok-redefine/internal/timing"
)

// Presentation-mode recordings default to ten minutes when the client does
// not ask for a bound.
const defaultPresentationSeconds = 600

// PresentationHandler manages the slide deck and presentation-mode capture.
type PresentationHandler struct {
	engine *engine.Engine

	mu   sync.Mutex
	deck *presentation.Deck
}

func NewPresentationHandler(e *engine.Engine) *PresentationHandler {
	return &PresentationHandler{engine: e}
}

// UploadDeck accepts a PDF slide deck as multipart form field "deck".
func (h *PresentationHandler) UploadDeck(w http.ResponseWriter, r *http.Request) {
	// 32MB in memory before spilling to disk.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("deck")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing deck file")
		return
	}
	defer file.Close()

	deck, err := presentation.Load(file)
	if err != nil {
		switch {
		case errors.Is(err, presentation.ErrNotPDF):
			WriteError(w, http.StatusUnsupportedMediaType, "deck must be a PDF document")
		case errors.Is(err, presentation.ErrNoSlides):
			WriteError(w, http.StatusUnprocessableEntity, "deck contains no slides")
		default:
			WriteErrorDetail(w, http.StatusInternalServerError, "failed to load deck", err.Error())
		}
		return
	}

	h.mu.Lock()
	h.deck = deck
	h.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]int{"slideCount": deck.SlideCount(), "current": 0})
}

// DeckState returns the loaded deck's slide count and position.
func (h *PresentationHandler) DeckState(w http.ResponseWriter, r *http.Request) {
	deck := h.currentDeck()
	if deck == nil {
		WriteError(w, http.StatusNotFound, "no deck loaded")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"slideCount": deck.SlideCount(), "current": deck.Current()})
}

// NextSlide advances the deck one slide.
func (h *PresentationHandler) NextSlide(w http.ResponseWriter, r *http.Request) {
	h.move(w, func(d *presentation.Deck) int { return d.Next() })
}

// PrevSlide moves the deck back one slide.
func (h *PresentationHandler) PrevSlide(w http.ResponseWriter, r *http.Request) {
	h.move(w, func(d *presentation.Deck) int { return d.Prev() })
}

func (h *PresentationHandler) move(w http.ResponseWriter, fn func(*presentation.Deck) int) {
	deck := h.currentDeck()
	if deck == nil {
		WriteError(w, http.StatusNotFound, "no deck loaded")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"current": fn(deck)})
}

func (h *PresentationHandler) currentDeck() *presentation.Deck {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deck
}

// StartRequest optionally bounds the presentation recording.
type StartRequest struct {
	DurationSeconds int `json:"durationSeconds"`
}

// StartRecording begins a presentation-mode capture.
func (h *PresentationHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{DurationSeconds: defaultPresentationSeconds}
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.DurationSeconds <= 0 {
		WriteError(w, http.StatusUnprocessableEntity, "duration must be positive")
		return
	}

	err := h.engine.StartPresentation(r.Context(), time.Duration(req.DurationSeconds)*time.Second)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, map[string]string{"status": "recording"})
	case errors.Is(err, engine.ErrSessionBusy):
		WriteError(w, http.StatusConflict, "a recording is already in progress")
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to start presentation", err.Error())
	}
}

// StopRecording ends a presentation-mode capture early.
func (h *PresentationHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopPresentation(); err != nil {
		if errors.Is(err, timing.ErrNotRecording) {
			WriteError(w, http.StatusConflict, "no presentation recording in progress")
			return
		}
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to stop presentation", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Routes registers presentation routes.
func (h *PresentationHandler) Routes(r chi.Router) {
	r.Post("/presentation/deck", h.UploadDeck)
	r.Get("/presentation/deck", h.DeckState)
	r.Post("/presentation/deck/next", h.NextSlide)
	r.Post("/presentation/deck/prev", h.PrevSlide)
	r.Post("/presentation/start", h.StartRecording)
	r.Post("/presentation/stop", h.StopRecording)
}
