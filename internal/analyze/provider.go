package analyze

import (
	"context"
	"errors"
)

// ErrCollaborator marks a failure of the external analysis service. It is
// recoverable: the merger falls back to a sentinel payload and the session
// continues.
var ErrCollaborator = errors.New("analysis collaborator failure")

// Analyzer is the interface for speech-analysis backends.
type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, filename string) (*Result, error)
	Name() string // "http", "fake", for logs
}

// Result is the common analysis payload from any backend.
type Result struct {
	Transcript         string          `json:"transcript"`
	CorrectedText      string          `json:"correctedText"`
	DisfluencyAnalysis map[string]int  `json:"disfluencyAnalysis"`
	RepeatedWords      map[string]int  `json:"repeatedWords"`
	AIRecommendations  Recommendations `json:"aiRecommendations"`
}

// Recommendations mirrors the advice block returned by the collaborator.
type Recommendations struct {
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	PersonalizedTips []string `json:"personalizedTips"`
}
