package analyze

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xmukeshr/snaptok-redefine/internal/session"
	"github.com/rs/zerolog"
)

// EventPublishFunc is a callback for surfacing merge outcomes to the UI layer.
type EventPublishFunc func(eventType, questionID string, payload map[string]any)

// Merger invokes the analysis collaborator with captured audio and merges the
// result into the matching question record.
//
// Concurrency contract: merges for different question ids may run
// concurrently; merges for the same id serialize on a per-id lock, so when a
// retry overlaps an earlier attempt the later completion wins.
type Merger struct {
	analyzer Analyzer
	store    *session.Store
	publish  EventPublishFunc
	log      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	wg    sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

// NewMerger creates an analysis merger bound to a session store.
func NewMerger(analyzer Analyzer, store *session.Store, publish EventPublishFunc, log zerolog.Logger) *Merger {
	return &Merger{
		analyzer: analyzer,
		store:    store,
		publish:  publish,
		locks:    make(map[string]*sync.Mutex),
		log:      log.With().Str("component", "merger").Logger(),
	}
}

// Stats reports merge counters.
type Stats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats returns current merge statistics.
func (m *Merger) Stats() Stats {
	return Stats{Completed: m.completed.Load(), Failed: m.failed.Load()}
}

// Submit runs a merge in the background.
func (m *Merger) Submit(ctx context.Context, generation uint64, questionID string, audio []byte, filename string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Merge(ctx, generation, questionID, audio, filename)
	}()
}

// Wait blocks until all submitted merges have finished.
func (m *Merger) Wait() { m.wg.Wait() }

// Merge calls the analyzer and merges the outcome into the question with the
// given id. A collaborator failure is recoverable: the question receives a
// sentinel "analysis unavailable" payload and the session continues.
func (m *Merger) Merge(ctx context.Context, generation uint64, questionID string, audio []byte, filename string) {
	lock := m.questionLock(questionID)
	lock.Lock()
	defer lock.Unlock()

	result, err := m.analyzer.Analyze(ctx, audio, filename)
	if err != nil {
		m.failed.Add(1)
		m.log.Warn().Err(err).
			Str("question_id", questionID).
			Str("provider", m.analyzer.Name()).
			Msg("analysis collaborator failed, merging sentinel payload")

		m.store.MergeQuestionData(generation, questionID, sentinelUpdate())
		m.publishEvent("analysis_failed", questionID, map[string]any{
			"question_id": questionID,
			"error":       fmt.Sprintf("analysis unavailable: %v", err),
		})
		return
	}

	m.completed.Add(1)
	m.store.MergeQuestionData(generation, questionID, session.QuestionUpdate{
		Transcript:    result.Transcript,
		CorrectedText: result.CorrectedText,
		Analysis: &session.Analysis{
			DisfluencyAnalysis: result.DisfluencyAnalysis,
			RepeatedWords:      result.RepeatedWords,
			AIRecommendations: session.Recommendations{
				Strengths:        result.AIRecommendations.Strengths,
				Improvements:     result.AIRecommendations.Improvements,
				PersonalizedTips: result.AIRecommendations.PersonalizedTips,
			},
		},
	})
	m.publishEvent("analysis_merged", questionID, map[string]any{
		"question_id": questionID,
		"word_count":  len(result.RepeatedWords),
	})

	m.log.Debug().
		Str("question_id", questionID).
		Int("disfluency_kinds", len(result.DisfluencyAnalysis)).
		Int("unique_words", len(result.RepeatedWords)).
		Msg("analysis merged")
}

func (m *Merger) questionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Merger) publishEvent(eventType, questionID string, payload map[string]any) {
	if m.publish != nil {
		m.publish(eventType, questionID, payload)
	}
}

// sentinelUpdate is the placeholder merged when the collaborator fails so the
// UI can render a non-blocking "unavailable" state.
func sentinelUpdate() session.QuestionUpdate {
	return session.QuestionUpdate{
		Transcript:    "Error processing speech...",
		CorrectedText: "Error processing text...",
		Analysis: &session.Analysis{
			DisfluencyAnalysis: map[string]int{},
			RepeatedWords:      map[string]int{},
			AIRecommendations: session.Recommendations{
				Strengths:        []string{},
				Improvements:     []string{},
				PersonalizedTips: []string{},
			},
			Failed: true,
		},
	}
}
