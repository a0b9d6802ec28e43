// Package engine orchestrates one rehearsal session: question generation,
// the per-question countdown, media capture, analysis merging, and artifact
// storage. Everything flows through here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xmukeshr/snaptok-redefine/internal/analyze"
	"github.com/0xmukeshr/snaptok-redefine/internal/capture"
	"github.com/0xmukeshr/snaptok-redefine/internal/events"
	"github.com/0xmukeshr/snaptok-redefine/internal/metrics"
	"github.com/0xmukeshr/snaptok-redefine/internal/questions"
	"github.com/0xmukeshr/snaptok-redefine/internal/scoring"
	"github.com/0xmukeshr/snaptok-redefine/internal/session"
	"github.com/0xmukeshr/snaptok-redefine/internal/storage"
	"github.com/0xmukeshr/snaptok-redefine/internal/telemetry"
	"github.com/0xmukeshr/snaptok-redefine/internal/timing"
)

var (
	// ErrNoQuestions is the only unrecoverable start condition: a session
	// cannot record without at least one question.
	ErrNoQuestions = errors.New("session has no questions")
	// ErrSessionBusy rejects operations that would overlap an active capture.
	ErrSessionBusy = errors.New("a recording is already in progress")
)

// Options wire the engine's collaborators.
type Options struct {
	Source    capture.Source
	Generator questions.Generator
	Merger    *analyze.Merger
	Local     *storage.LocalStore
	Uploader  *storage.AsyncUploader // optional
	Bus       *events.Bus
	Telemetry *telemetry.Publisher // nil-safe

	QuestionCount    int
	QuestionDuration time.Duration
	TickInterval     time.Duration // countdown granularity; 1s in production

	Constraints  capture.Constraints
	GainBoost    float64
	AudioBitrate int

	Log zerolog.Logger
}

// Engine drives the session state machine. One engine owns one session at a
// time; NewSession resets it for the next run.
type Engine struct {
	opts  Options
	store *session.Store
	coord *timing.Coordinator
	log   zerolog.Logger

	mu            sync.Mutex
	controller    *capture.Controller
	presenting    bool
	completeFired bool
}

// New creates an engine with an empty session.
func New(opts Options) (*Engine, error) {
	e := &Engine{
		opts:  opts,
		store: session.NewStore(opts.Log),
		log:   opts.Log.With().Str("component", "engine").Logger(),
	}
	coord, err := timing.NewCoordinator(opts.QuestionDuration, opts.TickInterval, e.transition, opts.Log)
	if err != nil {
		return nil, err
	}
	e.coord = coord
	return e, nil
}

// Store exposes the underlying session store (read paths for the API layer).
func (e *Engine) Store() *session.Store { return e.store }

// SetMerger wires the analysis merger. Wired after construction because the
// merger writes into the engine's store.
func (e *Engine) SetMerger(m *analyze.Merger) { e.opts.Merger = m }

// NewSession generates a fresh question list for the profile and resets the
// session. Generation failure degrades to the single fallback question, never
// an empty list. Rejected while a recording is active.
func (e *Engine) NewSession(ctx context.Context, profile session.Profile) (session.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coord.Recording() || e.presenting {
		return session.Snapshot{}, ErrSessionBusy
	}

	qs := questions.GenerateOrFallback(ctx, e.opts.Generator, profile, e.opts.QuestionCount, e.log)
	e.store.SetProfile(profile)
	e.store.SetQuestions(qs)
	e.completeFired = false

	snap := e.store.Snapshot()
	e.opts.Bus.Publish("session_created", snap.ID, "", map[string]any{
		"question_count": len(snap.Questions),
	})
	e.log.Info().Str("session_id", snap.ID).Int("questions", len(qs)).Msg("session created")
	return snap, nil
}

// Start begins recording the active question: acquires a stream, starts the
// capture, and starts the countdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coord.Recording() || e.presenting {
		return ErrSessionBusy
	}
	snap := e.store.Snapshot()
	if len(snap.Questions) == 0 {
		return ErrNoQuestions
	}

	if err := e.openAndRecordLocked(ctx, snap.ActiveIndex); err != nil {
		return err
	}

	e.completeFired = false
	e.store.SetState(session.StateRecording)
	if err := e.coord.Start(); err != nil {
		return err
	}

	metrics.SessionsStartedTotal.Inc()
	e.opts.Bus.Publish("recording_started", snap.ID, snap.Questions[snap.ActiveIndex].ID, nil)
	e.opts.Telemetry.Publish("recording_started", snap.ID, snap.Questions[snap.ActiveIndex].ID, nil)
	return nil
}

// Next advances to the following question before the countdown expires.
func (e *Engine) Next() error { return e.coord.Next() }

// Skip is Next under a different telemetry label.
func (e *Engine) Skip() error { return e.coord.Skip() }

// Stop ends the recording session immediately.
func (e *Engine) Stop() error { return e.coord.Stop() }

// SetDuration changes the per-question duration. Rejected while recording.
func (e *Engine) SetDuration(d time.Duration) error { return e.coord.SetDuration(d) }

// Duration returns the configured per-question duration.
func (e *Engine) Duration() time.Duration { return e.coord.Duration() }

// StateView is the engine's externally visible state.
type StateView struct {
	Session   session.Snapshot `json:"session"`
	Remaining float64          `json:"remainingSeconds"`
	Recording bool             `json:"recording"`
}

// State returns a consistent view of the session and countdown.
func (e *Engine) State() StateView {
	return StateView{
		Session:   e.store.Snapshot(),
		Remaining: e.coord.Remaining().Seconds(),
		Recording: e.coord.Recording(),
	}
}

// Scores computes the score projection for the question at index i.
// ok is false when the question has no analysis (or only the sentinel).
func (e *Engine) Scores(i int) (scoring.Scores, bool, error) {
	q, err := e.store.Question(i)
	if err != nil {
		return scoring.Scores{}, false, err
	}
	s, ok := scoring.Compute(q.Analysis)
	return s, ok, nil
}

// transition handles every advance trigger: countdown expiry, next, skip,
// stop. It finalizes the active capture, then either moves to the next
// question with a fresh stream or completes the session exactly once.
func (e *Engine) transition(trigger timing.Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.TransitionsTotal.WithLabelValues(string(trigger)).Inc()

	snap := e.store.Snapshot()
	var activeID string
	if snap.ActiveIndex < len(snap.Questions) {
		activeID = snap.Questions[snap.ActiveIndex].ID
	}
	e.opts.Telemetry.Publish("transition", snap.ID, activeID, map[string]any{
		"trigger": string(trigger),
	})

	// Finalize the active capture; its artifacts flow out via the
	// completion callback registered at start.
	if e.controller != nil {
		e.controller.Stop()
		e.controller = nil
	}

	last := snap.ActiveIndex >= len(snap.Questions)-1
	if trigger == timing.TriggerStop || last {
		e.completeLocked(snap.ID)
		return
	}

	next := snap.ActiveIndex + 1
	if err := e.store.SetActiveIndex(next); err != nil {
		e.log.Error().Err(err).Int("index", next).Msg("advance failed")
		e.completeLocked(snap.ID)
		return
	}
	e.coord.Reset()

	// Fresh stream per question; handles never span questions.
	if err := e.openAndRecordLocked(context.Background(), next); err != nil {
		e.log.Error().Err(err).Msg("could not reacquire stream, completing session")
		e.completeLocked(snap.ID)
		return
	}

	e.opts.Bus.Publish("question_advanced", snap.ID, snap.Questions[next].ID, map[string]any{
		"index":   next,
		"trigger": string(trigger),
	})
}

// completeLocked ends the session. Fires the completion event exactly once.
func (e *Engine) completeLocked(sessionID string) {
	if e.completeFired {
		return
	}
	e.completeFired = true

	e.coord.Halt()
	e.store.SetState(session.StateComplete)
	e.opts.Bus.Publish("session_complete", sessionID, "", nil)
	e.opts.Telemetry.Publish("session_complete", sessionID, "", nil)
	e.log.Info().Str("session_id", sessionID).Msg("session complete")
}

// openAndRecordLocked acquires a stream and starts capturing the question at
// the given index. The capture duration is the hard upper bound; normally the
// countdown transition stops it first.
func (e *Engine) openAndRecordLocked(ctx context.Context, index int) error {
	q, err := e.store.Question(index)
	if err != nil {
		return err
	}

	ctrl := capture.NewController(e.opts.Source, capture.Options{
		Constraints:  e.opts.Constraints,
		GainBoost:    e.opts.GainBoost,
		AudioBitrate: e.opts.AudioBitrate,
		Log:          e.opts.Log,
	})
	if err := ctrl.Open(ctx); err != nil {
		return fmt.Errorf("open capture for %s: %w", q.ID, err)
	}

	generation := e.store.Generation()
	sessionID := e.store.ID()
	questionID := q.ID
	onComplete := func(a capture.Artifacts) {
		e.handleArtifacts(sessionID, questionID, generation, a)
	}

	if err := ctrl.Start(e.coord.Duration(), onComplete); err != nil {
		ctrl.Close()
		return err
	}
	e.controller = ctrl
	return nil
}

// handleArtifacts runs on the capture finalize path: persist both blobs,
// record their URLs, submit the audio for analysis, and enqueue the raw
// upload. Storage or upload failures never block the session.
func (e *Engine) handleArtifacts(sessionID, questionID string, generation uint64, a capture.Artifacts) {
	metrics.CapturesCompletedTotal.Inc()

	ctx := context.Background()
	audioKey := filepath.Join(sessionID, questionID, "audio.wav")
	videoKey := filepath.Join(sessionID, questionID, "video.webm")

	upd := session.QuestionUpdate{}
	if err := e.opts.Local.Save(ctx, audioKey, a.Audio.Data, a.Audio.MIME); err != nil {
		e.log.Error().Err(err).Str("key", audioKey).Msg("failed to save audio artifact")
	} else {
		upd.AudioURL = "/artifacts/" + filepath.ToSlash(audioKey)
	}
	if err := e.opts.Local.Save(ctx, videoKey, a.Video.Data, a.Video.MIME); err != nil {
		e.log.Error().Err(err).Str("key", videoKey).Msg("failed to save video artifact")
	} else {
		upd.VideoURL = "/artifacts/" + filepath.ToSlash(videoKey)
	}
	e.store.MergeQuestionData(generation, questionID, upd)

	e.opts.Merger.Submit(ctx, generation, questionID, a.Audio.Data, "audio.wav")

	if e.opts.Uploader != nil {
		e.opts.Uploader.Enqueue(audioKey, a.Audio.Data, a.Audio.MIME)
	}

	e.opts.Bus.Publish("capture_finalized", sessionID, questionID, map[string]any{
		"audio_bytes": len(a.Audio.Data),
		"video_bytes": len(a.Video.Data),
	})
}

// ResubmitArtifact feeds an on-disk audio artifact back through the merger if
// its question still lacks an analysis. Called by the artifact watcher; paths
// outside the current session or already-analyzed questions are ignored.
func (e *Engine) ResubmitArtifact(path string) {
	rel, err := filepath.Rel(e.opts.Local.Dir(), path)
	if err != nil {
		return
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	if len(segs) != 3 || segs[2] != "audio.wav" {
		return
	}
	sessionID, questionID := segs[0], segs[1]
	if sessionID != e.store.ID() {
		return
	}

	snap := e.store.Snapshot()
	for _, q := range snap.Questions {
		if q.ID != questionID {
			continue
		}
		if q.Analysis != nil {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("failed to read artifact for resubmit")
			return
		}
		e.log.Info().Str("question_id", questionID).Msg("resubmitting unanalyzed audio")
		e.opts.Merger.Submit(context.Background(), snap.Generation, questionID, data, "audio.wav")
		return
	}
}

// StartPresentation begins a presentation-mode capture: one bounded recording
// with no question list and no analysis. Artifacts land under the session's
// presentation/ key.
func (e *Engine) StartPresentation(ctx context.Context, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coord.Recording() || e.presenting {
		return ErrSessionBusy
	}

	ctrl := capture.NewController(e.opts.Source, capture.Options{
		Constraints:  e.opts.Constraints,
		GainBoost:    e.opts.GainBoost,
		AudioBitrate: e.opts.AudioBitrate,
		Log:          e.opts.Log,
	})
	if err := ctrl.Open(ctx); err != nil {
		return fmt.Errorf("open presentation capture: %w", err)
	}

	sessionID := e.store.ID()
	onComplete := func(a capture.Artifacts) {
		e.mu.Lock()
		e.presenting = false
		e.controller = nil
		e.mu.Unlock()
		e.savePresentation(sessionID, a)
	}

	if err := ctrl.Start(duration, onComplete); err != nil {
		ctrl.Close()
		return err
	}
	e.controller = ctrl
	e.presenting = true
	e.opts.Bus.Publish("presentation_started", sessionID, "", nil)
	return nil
}

// StopPresentation ends a presentation-mode capture early.
func (e *Engine) StopPresentation() error {
	e.mu.Lock()
	ctrl := e.controller
	presenting := e.presenting
	e.mu.Unlock()

	if !presenting || ctrl == nil {
		return timing.ErrNotRecording
	}
	ctrl.Stop()
	return nil
}

func (e *Engine) savePresentation(sessionID string, a capture.Artifacts) {
	ctx := context.Background()
	metrics.CapturesCompletedTotal.Inc()
	if err := e.opts.Local.Save(ctx, filepath.Join(sessionID, "presentation", "audio.wav"), a.Audio.Data, a.Audio.MIME); err != nil {
		e.log.Error().Err(err).Msg("failed to save presentation audio")
	}
	if err := e.opts.Local.Save(ctx, filepath.Join(sessionID, "presentation", "video.webm"), a.Video.Data, a.Video.MIME); err != nil {
		e.log.Error().Err(err).Msg("failed to save presentation video")
	}
	e.opts.Bus.Publish("presentation_finalized", sessionID, "", map[string]any{
		"audio_bytes": len(a.Audio.Data),
		"video_bytes": len(a.Video.Data),
	})
}

// Close tears the engine down: halts the countdown and releases any active
// capture without firing completion callbacks.
func (e *Engine) Close() {
	e.mu.Lock()
	ctrl := e.controller
	e.controller = nil
	e.presenting = false
	e.mu.Unlock()

	e.coord.Halt()
	if ctrl != nil {
		ctrl.Close()
	}
}

// Stats surface for the metrics collector.

func (e *Engine) RecordingActive() bool { return e.coord.Recording() }

func (e *Engine) MergesCompleted() int64 { return e.opts.Merger.Stats().Completed }

func (e *Engine) MergesFailed() int64 { return e.opts.Merger.Stats().Failed }

func (e *Engine) UploadsQueuedOK() (int64, int64) {
	if e.opts.Uploader == nil {
		return 0, 0
	}
	return e.opts.Uploader.Counts()
}
