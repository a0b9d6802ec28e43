package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrOutOfRange is returned when an active index does not address a question.
// In correct usage this indicates a caller bug.
var ErrOutOfRange = errors.New("active index out of range")

// State describes where the session is in its lifecycle.
type State string

const (
	StateIdle      State = "idle"      // profile may or may not be set, no questions yet
	StateReady     State = "ready"     // questions generated, not recording
	StateRecording State = "recording" // capture + countdown active
	StateComplete  State = "complete"  // all questions answered or session stopped
)

// Profile holds the free-text fields supplied once at session start.
type Profile struct {
	Name        string `json:"name"`
	Skills      string `json:"skills"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// Recommendations is the advice block attached to an analysis.
type Recommendations struct {
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	PersonalizedTips []string `json:"personalizedTips"`
}

// Analysis is the speech-analysis payload for one question. Immutable once attached.
type Analysis struct {
	DisfluencyAnalysis map[string]int  `json:"disfluencyAnalysis"`
	RepeatedWords      map[string]int  `json:"repeatedWords"`
	AIRecommendations  Recommendations `json:"aiRecommendations"`
	// Failed marks a sentinel payload inserted when the analysis collaborator
	// errored. The UI renders "unavailable" instead of real numbers.
	Failed bool `json:"failed,omitempty"`
}

// Question is one generated question plus the results merged in after its
// capture completes. Text is immutable; the optional fields are written
// exactly once by the analysis merge.
type Question struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Transcript    string    `json:"transcript,omitempty"`
	CorrectedText string    `json:"correctedText,omitempty"`
	AudioURL      string    `json:"audioUrl,omitempty"`
	VideoURL      string    `json:"videoUrl,omitempty"`
	Analysis      *Analysis `json:"analysis,omitempty"`
}

// QuestionUpdate is the partial record merged into a question by the analysis
// merger. Nil/empty fields are left untouched.
type QuestionUpdate struct {
	Transcript    string
	CorrectedText string
	AudioURL      string
	VideoURL      string
	Analysis      *Analysis
}

// Snapshot is a consistent read-only copy of the session.
type Snapshot struct {
	ID          string     `json:"id"`
	Profile     Profile    `json:"profile"`
	Questions   []Question `json:"questions"`
	ActiveIndex int        `json:"activeIndex"`
	State       State      `json:"state"`
	Generation  uint64     `json:"generation"`
}

// Store is the single source of truth for one rehearsal session. All
// mutations are mutex-serialized; readers always observe a consistent
// snapshot, never a partial merge.
type Store struct {
	mu          sync.Mutex
	id          string
	profile     Profile
	hasProfile  bool
	questions   []Question
	activeIndex int
	state       State
	generation  uint64
	log         zerolog.Logger
}

// NewStore creates an empty session store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		id:    uuid.NewString(),
		state: StateIdle,
		log:   log.With().Str("component", "session").Logger(),
	}
}

// ID returns the session identifier.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetProfile records the profile for the session.
func (s *Store) SetProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.hasProfile = true
}

// HasProfile reports whether a profile was submitted.
func (s *Store) HasProfile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasProfile
}

// SetQuestions begins a fresh session attempt: it replaces the full question
// list, mints a new session identifier, resets the active index to 0, and
// bumps the generation token so merges from a previous question set are
// dropped as stale. The new identifier keeps successive attempts apart in the
// event stream and under the artifacts directory.
func (s *Store) SetQuestions(qs []Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = uuid.NewString()
	s.questions = make([]Question, len(qs))
	copy(s.questions, qs)
	s.activeIndex = 0
	s.generation++
	if len(s.questions) > 0 {
		s.state = StateReady
	} else {
		s.state = StateIdle
	}
	s.log.Debug().Str("session_id", s.id).Int("count", len(qs)).Uint64("generation", s.generation).Msg("question list replaced")
}

// Generation returns the current question-list generation token.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SetActiveIndex moves the active question pointer. Fails with ErrOutOfRange
// when i does not address a question.
func (s *Store) SetActiveIndex(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.questions) {
		return fmt.Errorf("index %d with %d questions: %w", i, len(s.questions), ErrOutOfRange)
	}
	s.activeIndex = i
	return nil
}

// ActiveIndex returns the current question index.
func (s *Store) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeIndex
}

// QuestionCount returns the number of questions in the session.
func (s *Store) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

// Question returns a copy of the question at index i.
func (s *Store) Question(i int) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.questions) {
		return Question{}, fmt.Errorf("index %d with %d questions: %w", i, len(s.questions), ErrOutOfRange)
	}
	return cloneQuestion(s.questions[i]), nil
}

// MergeQuestionData merges a partial update into the question with the given
// id. Unknown ids are ignored rather than treated as errors: late-arriving
// async results against a stale list must not fail the session. A merge
// carrying a generation older than the current question list is dropped.
func (s *Store) MergeQuestionData(generation uint64, id string, upd QuestionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		s.log.Debug().Str("question_id", id).
			Uint64("merge_generation", generation).
			Uint64("current_generation", s.generation).
			Msg("dropping stale merge")
		return
	}

	for i := range s.questions {
		if s.questions[i].ID != id {
			continue
		}
		q := &s.questions[i]
		if upd.Transcript != "" {
			q.Transcript = upd.Transcript
		}
		if upd.CorrectedText != "" {
			q.CorrectedText = upd.CorrectedText
		}
		if upd.AudioURL != "" {
			q.AudioURL = upd.AudioURL
		}
		if upd.VideoURL != "" {
			q.VideoURL = upd.VideoURL
		}
		if upd.Analysis != nil {
			q.Analysis = cloneAnalysis(upd.Analysis)
		}
		return
	}
	s.log.Debug().Str("question_id", id).Msg("merge target not found, ignoring")
}

// SetState transitions the session lifecycle state.
func (s *Store) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent deep copy of the session.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := make([]Question, len(s.questions))
	for i, q := range s.questions {
		qs[i] = cloneQuestion(q)
	}
	return Snapshot{
		ID:          s.id,
		Profile:     s.profile,
		Questions:   qs,
		ActiveIndex: s.activeIndex,
		State:       s.state,
		Generation:  s.generation,
	}
}

func cloneQuestion(q Question) Question {
	out := q
	out.Analysis = cloneAnalysis(q.Analysis)
	return out
}

func cloneAnalysis(a *Analysis) *Analysis {
	if a == nil {
		return nil
	}
	out := &Analysis{
		DisfluencyAnalysis: make(map[string]int, len(a.DisfluencyAnalysis)),
		RepeatedWords:      make(map[string]int, len(a.RepeatedWords)),
		AIRecommendations: Recommendations{
			Strengths:        append([]string(nil), a.AIRecommendations.Strengths...),
			Improvements:     append([]string(nil), a.AIRecommendations.Improvements...),
			PersonalizedTips: append([]string(nil), a.AIRecommendations.PersonalizedTips...),
		},
		Failed: a.Failed,
	}
	for k, v := range a.DisfluencyAnalysis {
		out.DisfluencyAnalysis[k] = v
	}
	for k, v := range a.RepeatedWords {
		out.RepeatedWords[k] = v
	}
	return out
}
