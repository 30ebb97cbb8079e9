package models

import (
	"math"
	"strings"
)

// TotalQuestions is the fixed size of every interview's question set
const TotalQuestions = 25

// Category groups interview questions
type Category string

const (
	CategoryIntroduction  Category = "introduction"
	CategoryTechnical     Category = "technical"
	CategoryExperience    Category = "experience"
	CategoryCertification Category = "certification"
	CategoryCareerGoals   Category = "careerGoals"
	CategorySoftSkills    Category = "softSkills"
	CategoryOther         Category = "other"
)

// CategoryOrder is the order in which categories are asked
var CategoryOrder = []Category{
	CategoryIntroduction,
	CategoryTechnical,
	CategoryExperience,
	CategoryCertification,
	CategoryCareerGoals,
	CategorySoftSkills,
	CategoryOther,
}

// CategoryTotals is the number of questions per category
var CategoryTotals = map[Category]int{
	CategoryIntroduction:  2,
	CategoryTechnical:     15,
	CategoryExperience:    2,
	CategoryCertification: 1,
	CategoryCareerGoals:   1,
	CategorySoftSkills:    1,
	CategoryOther:         3,
}

// IDPrefix returns the question id prefix used for a category (intro_1, tech_1, ...)
func (c Category) IDPrefix() string {
	switch c {
	case CategoryIntroduction:
		return "intro"
	case CategoryTechnical:
		return "tech"
	case CategoryExperience:
		return "exp"
	case CategoryCertification:
		return "cert"
	case CategoryCareerGoals:
		return "goal"
	case CategorySoftSkills:
		return "soft"
	default:
		return "other"
	}
}

// IsValid reports whether c is one of the known categories
func (c Category) IsValid() bool {
	_, ok := CategoryTotals[c]
	return ok
}

// InterviewQuestion is a single question and, once answered, its verdict
type InterviewQuestion struct {
	ID              string   `json:"id" yaml:"id"`
	Category        Category `json:"category" yaml:"category"`
	Question        string   `json:"question" yaml:"question"`
	CandidateAnswer string   `json:"candidateAnswer,omitempty" yaml:"-"`
	IsCorrect       *bool    `json:"isCorrect,omitempty" yaml:"-"`
	Score           *int     `json:"score,omitempty" yaml:"-"`
	Feedback        string   `json:"feedback,omitempty" yaml:"-"`
}

// Answered returns true if an answer has been recorded for the question
func (q *InterviewQuestion) Answered() bool {
	return strings.TrimSpace(q.CandidateAnswer) != ""
}

// CategoryProgress tracks one category of the question set
type CategoryProgress struct {
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
	Questions []InterviewQuestion `json:"questions"`
}

// QuestionProgress maps each category to its progress
type QuestionProgress map[Category]*CategoryProgress

// Flatten returns pointers to every question in category order
func (p QuestionProgress) Flatten() []*InterviewQuestion {
	var all []*InterviewQuestion
	for _, c := range CategoryOrder {
		cp := p[c]
		if cp == nil {
			continue
		}
		for i := range cp.Questions {
			all = append(all, &cp.Questions[i])
		}
	}
	return all
}

// Len returns the number of questions across all categories
func (p QuestionProgress) Len() int {
	n := 0
	for _, cp := range p {
		n += len(cp.Questions)
	}
	return n
}

// CompletedCount returns the sum of completed counts
func (p QuestionProgress) CompletedCount() int {
	n := 0
	for _, cp := range p {
		n += cp.Completed
	}
	return n
}

// Clone returns a deep copy of the progress
func (p QuestionProgress) Clone() QuestionProgress {
	if p == nil {
		return nil
	}
	out := make(QuestionProgress, len(p))
	for c, cp := range p {
		if cp == nil {
			continue
		}
		qs := make([]InterviewQuestion, len(cp.Questions))
		for i, q := range cp.Questions {
			qs[i] = q.clone()
		}
		out[c] = &CategoryProgress{Completed: cp.Completed, Total: cp.Total, Questions: qs}
	}
	return out
}

func (q InterviewQuestion) clone() InterviewQuestion {
	if q.IsCorrect != nil {
		v := *q.IsCorrect
		q.IsCorrect = &v
	}
	if q.Score != nil {
		v := *q.Score
		q.Score = &v
	}
	return q
}

// Tally returns the number of correct and answered questions
func (p QuestionProgress) Tally() (correct, answered int) {
	for _, cp := range p {
		for i := range cp.Questions {
			q := &cp.Questions[i]
			if !q.Answered() {
				continue
			}
			answered++
			if q.IsCorrect != nil && *q.IsCorrect {
				correct++
			}
		}
	}
	return correct, answered
}

// AccuracyPercentage returns round(correct/answered*100), or 0 when nothing was answered
func (p QuestionProgress) AccuracyPercentage() int {
	correct, answered := p.Tally()
	if answered == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(answered) * 100))
}

// CategoryScores returns the rounded mean score of answered questions per category
func (p QuestionProgress) CategoryScores() map[Category]int {
	scores := make(map[Category]int, len(CategoryOrder))
	for _, c := range CategoryOrder {
		cp := p[c]
		if cp == nil {
			scores[c] = 0
			continue
		}
		sum, n := 0, 0
		for i := range cp.Questions {
			q := &cp.Questions[i]
			if !q.Answered() {
				continue
			}
			n++
			if q.Score != nil {
				sum += *q.Score
			}
		}
		if n == 0 {
			scores[c] = 0
			continue
		}
		scores[c] = int(math.Round(float64(sum) / float64(n)))
	}
	return scores
}
