package ai

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/terra-clan/interview-engine/internal/models"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// promptData is the single view model every prompt template renders from
type promptData struct {
	Profile    *models.CandidateProfile
	Question   *models.InterviewQuestion
	Text       string
	Transcript string

	Answered       int
	Correct        int
	Accuracy       int
	Stage          string
	CategoryScores map[models.Category]int
}

// CategoryScoresJSON renders the category score map inline in the evaluation prompt
func (d promptData) CategoryScoresJSON() string {
	b, err := json.Marshal(d.CategoryScores)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func render(name string, data promptData) (string, error) {
	if data.Profile == nil {
		data.Profile = &models.CandidateProfile{}
	}
	if data.Question == nil {
		data.Question = &models.InterviewQuestion{}
	}

	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// sessionStage describes how far an interview got, for the evaluation prompt
func sessionStage(answered int) string {
	switch {
	case answered < 5:
		return "ended very early"
	case answered < 10:
		return "ended early"
	default:
		return "completed normally"
	}
}
