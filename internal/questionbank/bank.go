package questionbank

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/interview-engine/internal/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrDistribution is returned when a question set does not match the fixed category layout
var ErrDistribution = errors.New("question set does not match category distribution")

// Generator produces a personalized question set
type Generator interface {
	GenerateQuestions(ctx context.Context, profile *models.CandidateProfile) (models.QuestionProgress, error)
}

// Bank builds the fixed question set for a session
type Bank struct {
	gen Generator
}

// New creates a Bank backed by gen. A nil generator always yields the defaults.
func New(gen Generator) *Bank {
	return &Bank{gen: gen}
}

// Build returns a complete 25-question set for the profile. Generation
// failures and malformed sets fall back to the built-in defaults, so the
// result is always usable. The second return value reports whether the
// generated set was used.
func (b *Bank) Build(ctx context.Context, profile *models.CandidateProfile) (models.QuestionProgress, bool) {
	if b.gen != nil {
		generated, err := b.gen.GenerateQuestions(ctx, profile)
		if err == nil {
			err = Normalize(generated)
		}
		if err == nil {
			return generated, true
		}
		slog.Warn("question generation failed, using defaults", "error", err)
	}

	defaults, err := Defaults()
	if err != nil {
		// The embedded file is part of the binary; this is a build defect.
		panic(fmt.Sprintf("questionbank: invalid embedded defaults: %v", err))
	}
	return defaults, false
}

// Defaults parses a fresh copy of the built-in question set
func Defaults() (models.QuestionProgress, error) {
	var raw map[models.Category][]models.InterviewQuestion
	if err := yaml.Unmarshal(defaultsYAML, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse defaults: %w", err)
	}

	progress := make(models.QuestionProgress, len(raw))
	for c, qs := range raw {
		progress[c] = &models.CategoryProgress{Questions: qs}
	}
	if err := Normalize(progress); err != nil {
		return nil, err
	}
	return progress, nil
}

// Normalize checks the category distribution and resets bookkeeping so the
// set can start a session: categories and totals are stamped, completion and
// answers cleared, and missing ids filled as <prefix>_<n>. Ids are unique
// across the whole set; a repeated id is replaced the same way.
func Normalize(p models.QuestionProgress) error {
	if p == nil {
		return fmt.Errorf("%w: empty set", ErrDistribution)
	}
	for c := range p {
		if !c.IsValid() {
			return fmt.Errorf("%w: unknown category %q", ErrDistribution, c)
		}
	}

	seen := make(map[string]bool, models.TotalQuestions)
	for _, c := range models.CategoryOrder {
		cp := p[c]
		want := models.CategoryTotals[c]
		if cp == nil || len(cp.Questions) != want {
			got := 0
			if cp != nil {
				got = len(cp.Questions)
			}
			return fmt.Errorf("%w: %s has %d questions, want %d", ErrDistribution, c, got, want)
		}

		cp.Total = want
		cp.Completed = 0
		for i := range cp.Questions {
			q := &cp.Questions[i]
			q.Question = strings.TrimSpace(q.Question)
			if q.Question == "" {
				return fmt.Errorf("%w: %s question %d is empty", ErrDistribution, c, i+1)
			}
			q.Category = c
			q.ID = strings.TrimSpace(q.ID)
			if q.ID == "" || seen[q.ID] {
				q.ID = fmt.Sprintf("%s_%d", c.IDPrefix(), i+1)
				for n := 2; seen[q.ID]; n++ {
					q.ID = fmt.Sprintf("%s_%d_%d", c.IDPrefix(), i+1, n)
				}
			}
			seen[q.ID] = true
			q.CandidateAnswer = ""
			q.IsCorrect = nil
			q.Score = nil
			q.Feedback = ""
		}
	}

	return nil
}

// Next returns the question at index in category order, or nil when the
// index is outside the set.
func Next(p models.QuestionProgress, index int) *models.InterviewQuestion {
	if index < 0 || index >= models.TotalQuestions {
		return nil
	}
	all := p.Flatten()
	if index >= len(all) {
		return nil
	}
	return all[index]
}

// Verdict is the validation outcome recorded onto a question
type Verdict struct {
	IsCorrect bool
	Score     int
	Feedback  string
}

// Record stores the answer and verdict on q and bumps its category's
// completed count. A question is recorded once; later calls return false
// and leave it untouched.
func Record(p models.QuestionProgress, q *models.InterviewQuestion, answer string, v Verdict) bool {
	if q == nil || q.Answered() {
		return false
	}

	correct := v.IsCorrect
	score := clampScore(v.Score)
	q.CandidateAnswer = answer
	q.IsCorrect = &correct
	q.Score = &score
	q.Feedback = v.Feedback

	if cp := p[q.Category]; cp != nil && cp.Completed < cp.Total {
		cp.Completed++
	}
	return true
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
