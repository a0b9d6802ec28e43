// Package questions produces the ordered question list for a session.
package questions

import (
	"context"
	"fmt"

	"github.com/0xmukeshr/snaptok-redefine/internal/session"
	"github.com/rs/zerolog"
)

// Generator is the question-text generation collaborator: given a profile and
// a count, it returns an ordered list of question records.
type Generator interface {
	Generate(ctx context.Context, profile session.Profile, count int) ([]session.Question, error)
}

// FallbackQuestion is substituted when generation fails: a session must never
// start with zero questions once the user has submitted a profile.
func FallbackQuestion() session.Question {
	return session.Question{
		ID:   "q-1",
		Text: "Could you tell me about your experience with the technologies you've listed?",
	}
}

// GenerateOrFallback calls the generator and degrades to the single fallback
// question on failure or an empty result.
func GenerateOrFallback(ctx context.Context, g Generator, profile session.Profile, count int, log zerolog.Logger) []session.Question {
	qs, err := g.Generate(ctx, profile, count)
	if err != nil || len(qs) == 0 {
		log.Warn().Err(err).Int("requested", count).Msg("question generation failed, using fallback question")
		return []session.Question{FallbackQuestion()}
	}
	return qs
}

// TemplateGenerator builds interview questions from profile fields without an
// external model. It is the default collaborator.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, p session.Profile, count int) ([]session.Question, error) {
	if count < 1 {
		return nil, fmt.Errorf("question count must be >= 1, got %d", count)
	}

	texts := []string{
		fmt.Sprintf("Based on your experience with %s, can you describe a challenging project you've worked on?", p.Skills),
		fmt.Sprintf("As someone with %s level experience, how do you approach learning new technologies in %s?", p.Level, p.Skills),
		fmt.Sprintf("Can you explain how your background in %s has prepared you for roles involving %s?", p.Description, p.Skills),
		fmt.Sprintf("What do you think are the most important skills for someone working with %s?", p.Skills),
		fmt.Sprintf("How do you stay updated with the latest developments in %s?", p.Skills),
	}
	if count > len(texts) {
		count = len(texts)
	}

	qs := make([]session.Question, count)
	for i := 0; i < count; i++ {
		qs[i] = session.Question{
			ID:   fmt.Sprintf("q-%d", i+1),
			Text: texts[i],
		}
	}
	return qs, nil
}
