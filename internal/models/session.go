package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of an interview session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"    // Turns in progress
	SessionCompleted SessionStatus = "completed" // Finalized and handed to storage
)

// Speaker identifies who produced a conversation entry
type Speaker string

const (
	SpeakerAI        Speaker = "ai"
	SpeakerCandidate Speaker = "candidate"
)

// ConversationEntry is one immutable line of the transcript
type ConversationEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    Speaker   `json:"speaker"`
	Message    string    `json:"message"`
	QuestionID string    `json:"questionId,omitempty"`
	Category   Category  `json:"category,omitempty"`
}

// SkillScores holds the six scored axes, each 0-100
type SkillScores struct {
	Communication      int `json:"communication"`
	TechnicalKnowledge int `json:"technicalKnowledge"`
	ProblemSolving     int `json:"problemSolving"`
	Confidence         int `json:"confidence"`
	ClarityOfThought   int `json:"clarityOfThought"`
	OverallAccuracy    int `json:"overallAccuracy"`
}

// Mean returns the average of all six axes
func (s SkillScores) Mean() float64 {
	sum := s.Communication + s.TechnicalKnowledge + s.ProblemSolving +
		s.Confidence + s.ClarityOfThought + s.OverallAccuracy
	return float64(sum) / 6
}

// InterviewFeedback is the qualitative and per-category result of an interview
type InterviewFeedback struct {
	Strengths          []string         `json:"strengths"`
	Improvements       []string         `json:"improvements"`
	Mistakes           []string         `json:"mistakes"`
	Tips               []string         `json:"tips"`
	Resources          []string         `json:"resources"`
	CategoryScores     map[Category]int `json:"categoryScores"`
	CorrectAnswers     int              `json:"correctAnswers"`
	TotalQuestions     int              `json:"totalQuestions"`
	AccuracyPercentage int              `json:"accuracyPercentage"`
}

// InterviewSession is the full record of one interview
type InterviewSession struct {
	ID                   string              `json:"id"`
	Date                 time.Time           `json:"date"`
	Duration             int                 `json:"duration"` // minutes
	Transcript           []ConversationEntry `json:"transcript"`
	Scores               SkillScores         `json:"scores"`
	Feedback             InterviewFeedback   `json:"feedback"`
	Status               SessionStatus       `json:"status"`
	ResumeID             string              `json:"resumeId"`
	QuestionProgress     QuestionProgress    `json:"questionProgress"`
	CurrentQuestionIndex int                 `json:"currentQuestionIndex"`
	TotalQuestions       int                 `json:"totalQuestions"`
}

// IsTerminal returns true once the session has been finalized
func (s *InterviewSession) IsTerminal() bool {
	return s.Status == SessionCompleted
}

// Clone returns a deep copy safe to hand outside the owning engine
func (s *InterviewSession) Clone() *InterviewSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Transcript = append([]ConversationEntry(nil), s.Transcript...)
	out.QuestionProgress = s.QuestionProgress.Clone()
	out.Feedback.Strengths = append([]string(nil), s.Feedback.Strengths...)
	out.Feedback.Improvements = append([]string(nil), s.Feedback.Improvements...)
	out.Feedback.Mistakes = append([]string(nil), s.Feedback.Mistakes...)
	out.Feedback.Tips = append([]string(nil), s.Feedback.Tips...)
	out.Feedback.Resources = append([]string(nil), s.Feedback.Resources...)
	if s.Feedback.CategoryScores != nil {
		out.Feedback.CategoryScores = make(map[Category]int, len(s.Feedback.CategoryScores))
		for k, v := range s.Feedback.CategoryScores {
			out.Feedback.CategoryScores[k] = v
		}
	}
	return &out
}

// InterviewStats summarizes stored interviews
type InterviewStats struct {
	TotalInterviews int       `json:"totalInterviews"`
	AverageScore    int       `json:"averageScore"`
	BestScore       int       `json:"bestScore"`
	RecentTrend     []float64 `json:"recentTrend"`
}

// StartInterviewRequest starts a text-mode interview
type StartInterviewRequest struct {
	ProfileID string `json:"profile_id"`
}

// SubmitAnswerRequest carries a typed answer
type SubmitAnswerRequest struct {
	Text string `json:"text"`
}

// SubmitAnswerResponse reports whether the answer was taken and the resulting state
type SubmitAnswerResponse struct {
	Accepted bool              `json:"accepted"`
	Reason   string            `json:"reason,omitempty"`
	State    string            `json:"state"`
	Session  *InterviewSession `json:"session,omitempty"`
}

// LiveInterview is a snapshot of an in-progress interview
type LiveInterview struct {
	ID           string            `json:"id"`
	ProfileID    string            `json:"profile_id"`
	Mode         string            `json:"mode"`
	State        string            `json:"state"`
	StartedAt    time.Time         `json:"started_at"`
	LastActivity time.Time         `json:"last_activity"`
	Session      *InterviewSession `json:"session,omitempty"`
}

// ListFilters narrows interview listings
type ListFilters struct {
	ResumeID string
	Status   SessionStatus
	Limit    int
	Offset   int
}
