package session

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore() *Store {
	return NewStore(zerolog.Nop())
}

func twoQuestions() []Question {
	return []Question{
		{ID: "q-1", Text: "Tell me about Go."},
		{ID: "q-2", Text: "Tell me about channels."},
	}
}

func TestSetQuestions_ResetsIndexAndState(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	_ = s.SetActiveIndex(1)

	s.SetQuestions(twoQuestions())
	if s.ActiveIndex() != 0 {
		t.Errorf("ActiveIndex = %d, want 0 after SetQuestions", s.ActiveIndex())
	}
	if s.State() != StateReady {
		t.Errorf("State = %s, want ready", s.State())
	}
}

func TestSetQuestions_RotatesSessionID(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	first := s.ID()
	if first == "" {
		t.Fatal("session ID empty after SetQuestions")
	}

	// A second attempt is a distinct session: its events and artifacts must
	// not be attributed to the first one.
	s.SetQuestions(twoQuestions())
	second := s.ID()
	if second == first {
		t.Errorf("session ID not rotated: %q reused across attempts", first)
	}
	if snap := s.Snapshot(); snap.ID != second {
		t.Errorf("Snapshot.ID = %q, want %q", snap.ID, second)
	}
}

func TestSetActiveIndex_OutOfRange(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())

	for _, i := range []int{-1, 2, 100} {
		if err := s.SetActiveIndex(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("SetActiveIndex(%d) = %v, want ErrOutOfRange", i, err)
		}
	}
	if err := s.SetActiveIndex(1); err != nil {
		t.Errorf("SetActiveIndex(1) = %v, want nil", err)
	}
}

func TestMergeQuestionData_UnknownIDIsNoOp(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	before := s.Snapshot()

	s.MergeQuestionData(s.Generation(), "q-999", QuestionUpdate{Transcript: "late result"})

	after := s.Snapshot()
	if len(after.Questions) != len(before.Questions) {
		t.Fatalf("question count changed: %d -> %d", len(before.Questions), len(after.Questions))
	}
	if !reflect.DeepEqual(before.Questions, after.Questions) {
		t.Error("questions changed by merge for unknown id")
	}
}

func TestMergeQuestionData_Idempotent(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	gen := s.Generation()

	upd := QuestionUpdate{
		Transcript:    "um hello",
		CorrectedText: "hello",
		Analysis: &Analysis{
			DisfluencyAnalysis: map[string]int{"um": 1},
			RepeatedWords:      map[string]int{"hello": 1},
		},
	}
	s.MergeQuestionData(gen, "q-1", upd)
	first := s.Snapshot()
	s.MergeQuestionData(gen, "q-1", upd)
	second := s.Snapshot()

	if !reflect.DeepEqual(first.Questions, second.Questions) {
		t.Error("identical merge was not idempotent")
	}
	q := second.Questions[0]
	if q.Transcript != "um hello" || q.CorrectedText != "hello" {
		t.Errorf("merge did not apply: %+v", q)
	}
	if q.Analysis == nil || q.Analysis.DisfluencyAnalysis["um"] != 1 {
		t.Errorf("analysis not merged: %+v", q.Analysis)
	}
}

func TestMergeQuestionData_StaleGenerationDropped(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	staleGen := s.Generation()

	// Regenerate: previous generation's merges must be dropped.
	s.SetQuestions(twoQuestions())
	s.MergeQuestionData(staleGen, "q-1", QuestionUpdate{Transcript: "stale"})

	if q := s.Snapshot().Questions[0]; q.Transcript != "" {
		t.Errorf("stale merge applied: transcript = %q", q.Transcript)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newTestStore()
	s.SetQuestions(twoQuestions())
	s.MergeQuestionData(s.Generation(), "q-1", QuestionUpdate{
		Analysis: &Analysis{DisfluencyAnalysis: map[string]int{"um": 2}},
	})

	snap := s.Snapshot()
	snap.Questions[0].Analysis.DisfluencyAnalysis["um"] = 99
	snap.Questions[0].Transcript = "mutated"

	q, err := s.Question(0)
	if err != nil {
		t.Fatal(err)
	}
	if q.Analysis.DisfluencyAnalysis["um"] != 2 {
		t.Error("snapshot mutation leaked into store analysis")
	}
	if q.Transcript != "" {
		t.Error("snapshot mutation leaked into store question")
	}
}

func TestQuestion_OutOfRange(t *testing.T) {
	s := newTestStore()
	if _, err := s.Question(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Question(0) on empty store = %v, want ErrOutOfRange", err)
	}
}
