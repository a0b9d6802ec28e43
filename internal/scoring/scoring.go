// Package scoring derives display scores from a question's speech analysis.
// Scores are a pure projection: they are recomputed on demand and never
// stored on the question record.
package scoring

import (
	"math"

	"github.com/0xmukeshr/snaptok-redefine/internal/session"
)

// Scores holds the four derived performance metrics, each in [0,100].
type Scores struct {
	Clarity    int `json:"clarity"`
	Content    int `json:"content"`
	Confidence int `json:"confidence"`
	Overall    int `json:"overall"`
}

// Weights for the overall score.
const (
	clarityWeight    = 0.4
	contentWeight    = 0.3
	confidenceWeight = 0.3
)

// Compute derives scores from a question's analysis. The second return value
// is false when no analysis is attached (or the sentinel failure payload is
// present); callers must render "not available" rather than implying a real
// score of zero.
func Compute(a *session.Analysis) (Scores, bool) {
	if a == nil || a.Failed {
		return Scores{}, false
	}

	total := 0
	for _, n := range a.DisfluencyAnalysis {
		total += n
	}

	clarity := clampFloor(100-5*total, 40)
	confidence := clampFloor(100-3*total, 40)

	content := 2 * len(a.RepeatedWords)
	if content > 100 {
		content = 100
	}

	overall := int(math.Round(
		clarityWeight*float64(clarity) +
			contentWeight*float64(content) +
			confidenceWeight*float64(confidence)))

	return Scores{
		Clarity:    clarity,
		Content:    content,
		Confidence: confidence,
		Overall:    overall,
	}, true
}

func clampFloor(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
