package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xmukeshr/snaptok-redefine/internal/analyze"
	"github.com/0xmukeshr/snaptok-redefine/internal/capture"
	"github.com/0xmukeshr/snaptok-redefine/internal/events"
	"github.com/0xmukeshr/snaptok-redefine/internal/session"
	"github.com/0xmukeshr/snaptok-redefine/internal/storage"
)

// fakeStream hands out one pre-loaded audio chunk and one video chunk.
type fakeStream struct {
	audio chan []byte
	video chan []byte
	once  sync.Once
}

func newFakeStream() *fakeStream {
	s := &fakeStream{
		audio: make(chan []byte, 4),
		video: make(chan []byte, 4),
	}
	chunk := make([]byte, 4)
	binary.LittleEndian.PutUint16(chunk, 100)
	binary.LittleEndian.PutUint16(chunk[2:], 200)
	s.audio <- chunk
	s.video <- []byte{0xaa}
	return s
}

func (s *fakeStream) Audio() <-chan []byte { return s.audio }
func (s *fakeStream) Video() <-chan []byte { return s.video }
func (s *fakeStream) Close() {
	s.once.Do(func() {
		close(s.audio)
		close(s.video)
	})
}

// fakeSource hands out a fresh stream per acquisition so the test can verify
// stream handles never span questions.
type fakeSource struct {
	mu       sync.Mutex
	acquired int
	fail     error
}

func (f *fakeSource) Acquire(ctx context.Context, _ capture.Constraints) (capture.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.acquired++
	return newFakeStream(), nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

// fakeAnalyzer returns the worked example: 6 disfluencies, 10 unique words.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAnalyzer) Name() string { return "fake" }

func (f *fakeAnalyzer) Analyze(ctx context.Context, audio []byte, filename string) (*analyze.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	words := make(map[string]int, 10)
	for i := 0; i < 10; i++ {
		words[fmt.Sprintf("word%d", i)] = 2
	}
	return &analyze.Result{
		Transcript:         "um so I think uh",
		CorrectedText:      "So I think",
		DisfluencyAnalysis: map[string]int{"um": 4, "uh": 2},
		RepeatedWords:      words,
	}, nil
}

// fakeGenerator returns a fixed question list.
type fakeGenerator struct {
	n   int
	err error
}

func (g *fakeGenerator) Generate(ctx context.Context, p session.Profile, count int) ([]session.Question, error) {
	if g.err != nil {
		return nil, g.err
	}
	qs := make([]session.Question, g.n)
	for i := range qs {
		qs[i] = session.Question{ID: fmt.Sprintf("q-%d", i+1), Text: fmt.Sprintf("question %d", i+1)}
	}
	return qs, nil
}

type fixture struct {
	engine   *Engine
	source   *fakeSource
	analyzer *fakeAnalyzer
	bus      *events.Bus
	merger   *analyze.Merger
}

func newFixture(t *testing.T, gen *fakeGenerator, duration, tick time.Duration) *fixture {
	t.Helper()

	local, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus(64)
	analyzer := &fakeAnalyzer{}
	source := &fakeSource{}
	eng, err := New(Options{
		Source:           source,
		Generator:        gen,
		Local:            local,
		Bus:              bus,
		QuestionCount:    gen.n,
		QuestionDuration: duration,
		TickInterval:     tick,
		Constraints:      capture.DefaultConstraints(16000),
		GainBoost:        1.0,
		Log:              zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The merger writes into the engine's store, so it is wired afterwards.
	merger := analyze.NewMerger(analyzer, eng.Store(), func(eventType, questionID string, payload map[string]any) {
		bus.Publish(eventType, eng.Store().ID(), questionID, payload)
	}, zerolog.Nop())
	eng.SetMerger(merger)

	t.Cleanup(eng.Close)
	return &fixture{engine: eng, source: source, analyzer: analyzer, bus: bus, merger: merger}
}

func waitForEvent(t *testing.T, ch <-chan events.Event, eventType string, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestEngine_StartWithoutQuestions(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 0, err: nil}, time.Minute, time.Second)
	// No NewSession call: the store is empty.
	if err := f.engine.Start(context.Background()); !errors.Is(err, ErrNoQuestions) {
		t.Errorf("Start = %v, want ErrNoQuestions", err)
	}
}

func TestEngine_GenerationFailureFallsBack(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: errors.New("upstream down")}, time.Minute, time.Second)
	snap, err := f.engine.NewSession(context.Background(), session.Profile{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Questions) != 1 {
		t.Fatalf("questions = %d, want the single fallback", len(snap.Questions))
	}
	if snap.Questions[0].Text == "" {
		t.Error("fallback question has no text")
	}
}

func TestEngine_NewSessionMintsFreshID(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 2}, time.Minute, time.Second)
	ch, cancel := f.bus.Subscribe(events.Filter{Types: []string{"session_created"}})
	defer cancel()

	first, err := f.engine.NewSession(context.Background(), session.Profile{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.NewSession(context.Background(), session.Profile{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("session IDs not distinct across attempts: %q vs %q", first.ID, second.ID)
	}

	// Each created event carries its own session ID so stream consumers can
	// filter one attempt without seeing the other.
	e1 := waitForEvent(t, ch, "session_created", time.Second)
	e2 := waitForEvent(t, ch, "session_created", time.Second)
	if e1.SessionID != first.ID || e2.SessionID != second.ID {
		t.Errorf("event session IDs = %q, %q; want %q, %q", e1.SessionID, e2.SessionID, first.ID, second.ID)
	}
}

func TestEngine_TwoQuestionSessionByExpiry(t *testing.T) {
	// 60ms per question, 20ms ticks: both questions expire naturally.
	f := newFixture(t, &fakeGenerator{n: 2}, 60*time.Millisecond, 20*time.Millisecond)
	ch, cancel := f.bus.Subscribe(events.Filter{})
	defer cancel()

	if _, err := f.engine.NewSession(context.Background(), session.Profile{Name: "dev", Skills: "go"}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitForEvent(t, ch, "session_complete", 5*time.Second)
	// The final capture may finalize on the controller's own timer goroutine,
	// so the merge can land after session_complete. Wait for both merges.
	waitForEvent(t, ch, "analysis_merged", 5*time.Second)
	waitForEvent(t, ch, "analysis_merged", 5*time.Second)

	view := f.engine.State()
	if view.Session.State != session.StateComplete {
		t.Errorf("state = %s, want complete", view.Session.State)
	}
	if view.Recording {
		t.Error("still recording after completion")
	}
	if got := f.source.count(); got != 2 {
		t.Errorf("streams acquired = %d, want one per question", got)
	}

	for i, q := range view.Session.Questions {
		if q.Analysis == nil {
			t.Errorf("question %d has no analysis", i)
			continue
		}
		if q.AudioURL == "" || q.VideoURL == "" {
			t.Errorf("question %d missing artifact URLs: %q %q", i, q.AudioURL, q.VideoURL)
		}
		if q.Transcript != "um so I think uh" {
			t.Errorf("question %d transcript = %q", i, q.Transcript)
		}
	}
}

func TestEngine_ScoresWorkedExample(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 1}, 40*time.Millisecond, 10*time.Millisecond)
	ch, cancel := f.bus.Subscribe(events.Filter{})
	defer cancel()

	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, ch, "session_complete", 5*time.Second)
	waitForEvent(t, ch, "analysis_merged", 5*time.Second)

	scores, ok, err := f.engine.Scores(0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("scores not available after merge")
	}
	if scores.Clarity != 70 || scores.Content != 20 || scores.Confidence != 82 || scores.Overall != 58 {
		t.Errorf("scores = %+v, want 70/20/82/58", scores)
	}
}

func TestEngine_ManualNextAndStop(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 3}, time.Hour, time.Hour)
	ch, cancel := f.bus.Subscribe(events.Filter{})
	defer cancel()

	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Next(); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, ch, "question_advanced", 2*time.Second)
	if idx := f.engine.Store().ActiveIndex(); idx != 1 {
		t.Errorf("active index = %d, want 1", idx)
	}

	if err := f.engine.Stop(); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, ch, "session_complete", 2*time.Second)

	if st := f.engine.Store().State(); st != session.StateComplete {
		t.Errorf("state = %s, want complete after stop", st)
	}
	// Stop on question 2 of 3: question 3 never recorded.
	if got := f.source.count(); got != 2 {
		t.Errorf("streams acquired = %d, want 2", got)
	}
}

func TestEngine_CollaboratorFailureMergesSentinel(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 1}, time.Hour, time.Hour)
	f.analyzer.err = errors.New("analysis service down")
	ch, cancel := f.bus.Subscribe(events.Filter{})
	defer cancel()

	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Stop(); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, ch, "session_complete", 2*time.Second)
	waitForEvent(t, ch, "analysis_failed", 2*time.Second)

	q, err := f.engine.Store().Question(0)
	if err != nil {
		t.Fatal(err)
	}
	if q.Analysis == nil || !q.Analysis.Failed {
		t.Fatal("expected sentinel analysis after collaborator failure")
	}
	if q.Transcript != "Error processing speech..." {
		t.Errorf("transcript = %q, want sentinel text", q.Transcript)
	}

	if _, ok, _ := f.engine.Scores(0); ok {
		t.Error("scores reported available for sentinel analysis")
	}
}

func TestEngine_AcquisitionFailureKeepsSessionPut(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 2}, time.Minute, time.Second)
	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); err != nil {
		t.Fatal(err)
	}

	f.source.fail = capture.ErrPermissionDenied
	err := f.engine.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if st := f.engine.Store().State(); st != session.StateReady {
		t.Errorf("state = %s, want ready (session stays put)", st)
	}
	if f.engine.State().Recording {
		t.Error("recording flag set after failed start")
	}
}

func TestEngine_NewSessionRejectedWhileRecording(t *testing.T) {
	f := newFixture(t, &fakeGenerator{n: 1}, time.Hour, time.Hour)
	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.NewSession(context.Background(), session.Profile{}); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("NewSession while recording = %v, want ErrSessionBusy", err)
	}
}
