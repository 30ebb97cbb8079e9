package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/interview-engine/internal/metrics"
	"github.com/terra-clan/interview-engine/internal/models"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"
)

// GeminiClient implements Capability and ResumeAnalyzer over the Gemini generateContent API
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option configures the client
type Option func(*GeminiClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *GeminiClient) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the API root, e.g. for a proxy or a test server
func WithBaseURL(baseURL string) Option {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithModel selects the model name
func WithModel(model string) Option {
	return func(c *GeminiClient) {
		c.model = model
	}
}

// WithMetrics records per-call counters and latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *GeminiClient) {
		c.metrics = m
	}
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(apiKey string, opts ...Option) *GeminiClient {
	c := &GeminiClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// generate sends one prompt and returns the first candidate's text
func (c *GeminiClient) generate(ctx context.Context, operation, prompt string) (text string, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrMalformedResponse):
			outcome = "malformed"
		case err != nil:
			outcome = "unavailable"
		}
		c.metrics.ObserveAI(operation, outcome, time.Since(start))
	}()

	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key not configured", ErrUnavailable)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}

	text = strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformedResponse)
	}

	slog.Debug("ai call completed", "operation", operation, "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

func (c *GeminiClient) prompt(ctx context.Context, operation string, data promptData) (string, error) {
	p, err := render(operation, data)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, operation, p)
}

// GenerateQuestions asks for a personalized 25-question set
func (c *GeminiClient) GenerateQuestions(ctx context.Context, profile *models.CandidateProfile) (models.QuestionProgress, error) {
	text, err := c.prompt(ctx, "questions", promptData{Profile: profile})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(text, questionSetValidator)
	if err != nil {
		return nil, err
	}

	var progress models.QuestionProgress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return progress, nil
}

// Greeting writes the opening line that asks the first question
func (c *GeminiClient) Greeting(ctx context.Context, profile *models.CandidateProfile, first *models.InterviewQuestion) (string, error) {
	return c.prompt(ctx, "greeting", promptData{Profile: profile, Question: first})
}

// ClassifyUtterance reports whether the candidate asked the interviewer a question
func (c *GeminiClient) ClassifyUtterance(ctx context.Context, text string) (bool, error) {
	reply, err := c.prompt(ctx, "classify", promptData{Text: text})
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(reply), "true"), nil
}

// AnswerCandidateQuestion replies to a question the candidate asked
func (c *GeminiClient) AnswerCandidateQuestion(ctx context.Context, text string, profile *models.CandidateProfile) (string, error) {
	return c.prompt(ctx, "answer_question", promptData{Profile: profile, Text: text})
}

// ValidateAnswer judges an answer
func (c *GeminiClient) ValidateAnswer(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (*Validation, error) {
	text, err := c.prompt(ctx, "validate", promptData{Profile: profile, Question: q, Text: answer})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(text, validationValidator)
	if err != nil {
		return nil, err
	}

	var v struct {
		IsCorrect bool    `json:"isCorrect"`
		Score     float64 `json:"score"`
		Feedback  string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &Validation{
		IsCorrect: v.IsCorrect,
		Score:     int(math.Round(v.Score)),
		Feedback:  v.Feedback,
	}, nil
}

// Guidance writes a corrective hint for a weak answer
func (c *GeminiClient) Guidance(ctx context.Context, q *models.InterviewQuestion, answer string, profile *models.CandidateProfile) (string, error) {
	return c.prompt(ctx, "guidance", promptData{Profile: profile, Question: q, Text: answer})
}

// Transition introduces the next question
func (c *GeminiClient) Transition(ctx context.Context, next *models.InterviewQuestion, profile *models.CandidateProfile) (string, error) {
	return c.prompt(ctx, "transition", promptData{Profile: profile, Question: next})
}

// EvaluateSession scores the whole interview. Accuracy figures are computed
// locally and override whatever the model echoes back.
func (c *GeminiClient) EvaluateSession(ctx context.Context, transcript string, profile *models.CandidateProfile, progress models.QuestionProgress) (*Evaluation, error) {
	correct, answered := progress.Tally()
	accuracy := progress.AccuracyPercentage()
	categoryScores := progress.CategoryScores()

	text, err := c.prompt(ctx, "evaluate", promptData{
		Profile:        profile,
		Transcript:     transcript,
		Answered:       answered,
		Correct:        correct,
		Accuracy:       accuracy,
		Stage:          sessionStage(answered),
		CategoryScores: categoryScores,
	})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(text, evaluationValidator)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores   map[string]float64 `json:"scores"`
		Feedback struct {
			Strengths    []string `json:"strengths"`
			Improvements []string `json:"improvements"`
			Mistakes     []string `json:"mistakes"`
			Tips         []string `json:"tips"`
			Resources    []string `json:"resources"`
		} `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	score := func(key string) int {
		return int(math.Round(parsed.Scores[key]))
	}

	return &Evaluation{
		Scores: models.SkillScores{
			Communication:      score("communication"),
			TechnicalKnowledge: score("technicalKnowledge"),
			ProblemSolving:     score("problemSolving"),
			Confidence:         score("confidence"),
			ClarityOfThought:   score("clarityOfThought"),
			OverallAccuracy:    accuracy,
		},
		Feedback: models.InterviewFeedback{
			Strengths:          nonNil(parsed.Feedback.Strengths),
			Improvements:       nonNil(parsed.Feedback.Improvements),
			Mistakes:           nonNil(parsed.Feedback.Mistakes),
			Tips:               nonNil(parsed.Feedback.Tips),
			Resources:          nonNil(parsed.Feedback.Resources),
			CategoryScores:     categoryScores,
			CorrectAnswers:     correct,
			TotalQuestions:     answered,
			AccuracyPercentage: accuracy,
		},
	}, nil
}

// AnalyzeResume extracts a profile and a review from resume text
func (c *GeminiClient) AnalyzeResume(ctx context.Context, resumeText string) (*models.CandidateProfile, error) {
	text, err := c.prompt(ctx, "resume", promptData{Text: resumeText})
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(text, resumeValidator)
	if err != nil {
		return nil, err
	}

	var profile models.CandidateProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	profile.ID = uuid.New().String()
	profile.CreatedAt = time.Now().UTC()
	return &profile, nil
}

// Ping checks that an API key is configured. It does not spend a request.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: api key not configured", ErrUnavailable)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
