// Package ai talks to the generative model that writes, judges and scores interview turns.
package ai

import (
	"context"
	"errors"

	"github.com/terra-clan/interview-engine/internal/models"
)

// Common errors
var (
	ErrUnavailable       = errors.New("ai capability unavailable")
	ErrMalformedResponse = errors.New("ai returned a malformed response")
)

// Capability is everything the turn engine asks of the model. Every
// method may fail with ErrUnavailable or ErrMalformedResponse; callers
// are expected to fall back to fixed content.
type Capability interface {
	GenerateQuestions(ctx context.Context, profile *models.CandidateProfile) (models.QuestionProgress, error)
	Greeting(ctx context.Context, profile *models.CandidateProfile, first *models.InterviewQuestion) (string, error)
	ClassifyUtterance(ctx context.Context, text string) (bool, error)
	AnswerCandidateQuestion(ctx context.Context, text string, profile *models.CandidateProfile) (string, error)
	ValidateAnswer(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (*Validation, error)
	Guidance(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (string, error)
	Transition(ctx context.Context, next *models.InterviewQuestion, profile *models.CandidateProfile) (string, error)
	EvaluateSession(ctx context.Context, transcript string, profile *models.CandidateProfile, progress models.QuestionProgress) (*Evaluation, error)
}

// ResumeAnalyzer extracts a profile from raw resume text
type ResumeAnalyzer interface {
	AnalyzeResume(ctx context.Context, resumeText string) (*models.CandidateProfile, error)
}

// Validation is the model's verdict on one answer
type Validation struct {
	IsCorrect bool
	Score     int
	Feedback  string
}

// Evaluation is the model's scoring of a whole session
type Evaluation struct {
	Scores   models.SkillScores
	Feedback models.InterviewFeedback
}
