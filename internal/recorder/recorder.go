// Package recorder assembles the final interview record and hands it to storage.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/terra-clan/interview-engine/internal/models"
)

// ErrAlreadySaved is returned by Handoff after the record has been saved once
var ErrAlreadySaved = errors.New("interview already saved")

// Store persists completed interviews
type Store interface {
	SaveInterview(ctx context.Context, session *models.InterviewSession) error
}

// Recorder saves one completed session exactly once
type Recorder struct {
	store Store

	mu    sync.Mutex
	saved bool
}

// New creates a recorder for one session
func New(store Store) *Recorder {
	return &Recorder{store: store}
}

// Handoff saves the finalized session. A failed save may be retried; a
// successful one may not.
func (r *Recorder) Handoff(ctx context.Context, session *models.InterviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saved {
		return ErrAlreadySaved
	}
	if session == nil || !session.IsTerminal() {
		return fmt.Errorf("refusing to save unfinished session")
	}
	if r.store == nil {
		r.saved = true
		return nil
	}

	if err := r.store.SaveInterview(ctx, session); err != nil {
		return fmt.Errorf("failed to save interview %s: %w", session.ID, err)
	}
	r.saved = true
	return nil
}

// Finalize returns a completed copy of session carrying scores and feedback.
// Duration, accuracy and answer counts are always derived from the session
// itself, whatever the evaluator reported.
func Finalize(session *models.InterviewSession, scores models.SkillScores, feedback models.InterviewFeedback, end time.Time) *models.InterviewSession {
	out := session.Clone()

	correct, answered := out.QuestionProgress.Tally()
	accuracy := out.QuestionProgress.AccuracyPercentage()

	scores.OverallAccuracy = accuracy
	feedback.CorrectAnswers = correct
	feedback.TotalQuestions = answered
	feedback.AccuracyPercentage = accuracy
	feedback.CategoryScores = out.QuestionProgress.CategoryScores()
	feedback.Strengths = nonNil(feedback.Strengths)
	feedback.Improvements = nonNil(feedback.Improvements)
	feedback.Mistakes = nonNil(feedback.Mistakes)
	feedback.Tips = nonNil(feedback.Tips)
	feedback.Resources = nonNil(feedback.Resources)

	out.Scores = scores
	out.Feedback = feedback
	out.Duration = durationMinutes(out.Date, end)
	out.TotalQuestions = models.TotalQuestions
	out.Status = models.SessionCompleted
	if out.Transcript == nil {
		out.Transcript = []models.ConversationEntry{}
	}
	return out
}

// FallbackEvaluation scores a session when the evaluator is unavailable.
// The base score depends only on how many questions were answered.
func FallbackEvaluation(progress models.QuestionProgress) (models.SkillScores, models.InterviewFeedback) {
	correct, answered := progress.Tally()
	accuracy := progress.AccuracyPercentage()

	base := 65
	switch {
	case answered < 5:
		base = 35
	case answered < 10:
		base = 50
	}

	scores := models.SkillScores{
		Communication:      max(base-10, 20),
		TechnicalKnowledge: max(base-15, 15),
		ProblemSolving:     max(base-10, 20),
		Confidence:         max(base-5, 25),
		ClarityOfThought:   max(base-10, 20),
		OverallAccuracy:    accuracy,
	}

	strengths := []string{"Started the interview process"}
	if answered > 0 {
		strengths = []string{"Participated in the interview session"}
	}
	mistakes := []string{"Some answers could be more comprehensive"}
	if answered < 5 {
		mistakes = []string{"Interview ended too early", "Limited responses provided"}
	}

	feedback := models.InterviewFeedback{
		Strengths: strengths,
		Improvements: []string{
			"Complete more questions in future interviews",
			"Provide more detailed responses",
			"Practice interview skills regularly",
		},
		Mistakes: mistakes,
		Tips: []string{
			"Practice answering common interview questions",
			"Prepare specific examples from your experience",
			"Take time to complete full interview sessions",
		},
		Resources:          []string{},
		CategoryScores:     progress.CategoryScores(),
		CorrectAnswers:     correct,
		TotalQuestions:     answered,
		AccuracyPercentage: accuracy,
	}
	return scores, feedback
}

// Transcript renders entries as "speaker: message" lines for the evaluator
func Transcript(entries []models.ConversationEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Stats summarizes stored interviews. Each interview counts with the mean
// of its six skill scores.
func Stats(sessions []*models.InterviewSession) models.InterviewStats {
	stats := models.InterviewStats{RecentTrend: []float64{}}

	var done []*models.InterviewSession
	for _, s := range sessions {
		if s != nil && s.IsTerminal() {
			done = append(done, s)
		}
	}
	if len(done) == 0 {
		return stats
	}

	sort.SliceStable(done, func(i, j int) bool { return done[i].Date.Before(done[j].Date) })

	total, best := 0.0, 0.0
	means := make([]float64, len(done))
	for i, s := range done {
		m := s.Scores.Mean()
		means[i] = m
		total += m
		best = math.Max(best, m)
	}

	stats.TotalInterviews = len(done)
	stats.AverageScore = int(math.Round(total / float64(len(done))))
	stats.BestScore = int(math.Round(best))

	start := 0
	if len(means) > 10 {
		start = len(means) - 10
	}
	for _, m := range means[start:] {
		stats.RecentTrend = append(stats.RecentTrend, math.Round(m))
	}
	return stats
}

// durationMinutes returns whole elapsed minutes, never negative
func durationMinutes(start, end time.Time) int {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
