package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/interview-engine/internal/models"
)

// Client is a Go SDK for the interview-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout. Answer submissions wait for the
// model, so keep this well above the server's AI timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new interview-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// Snapshot is the state of an interview running on the server
type Snapshot struct {
	ID              string                    `json:"id"`
	State           string                    `json:"state"`
	QuestionIndex   int                       `json:"question_index"`
	CurrentQuestion *models.InterviewQuestion `json:"current_question,omitempty"`
	Listening       bool                      `json:"listening"`
	TextMode        bool                      `json:"text_mode"`
	LiveTranscript  string                    `json:"live_transcript,omitempty"`
	SilenceLeftMS   int64                     `json:"silence_left_ms,omitempty"`
	GuidanceGiven   bool                      `json:"guidance_given"`
	Session         *models.InterviewSession  `json:"session,omitempty"`
}

// Interview is either a live snapshot or a stored record
type Interview struct {
	Live     bool                     `json:"live"`
	Snapshot *Snapshot                `json:"snapshot,omitempty"`
	Session  *models.InterviewSession `json:"session,omitempty"`
}

// ListOptions contains options for listing stored interviews
type ListOptions struct {
	ResumeID string
	Status   string
	Limit    int
	Offset   int
}

// CreateProfile stores a hand-written candidate profile
func (c *Client) CreateProfile(ctx context.Context, p *models.CandidateProfile) (*models.CandidateProfile, error) {
	var out models.CandidateProfile
	if err := c.call(ctx, http.MethodPost, "/api/v1/profiles", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeResume builds and stores a profile from raw resume text
func (c *Client) AnalyzeResume(ctx context.Context, resumeText string) (*models.CandidateProfile, error) {
	var out models.CandidateProfile
	req := models.AnalyzeResumeRequest{ResumeText: resumeText}
	if err := c.call(ctx, http.MethodPost, "/api/v1/profiles/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProfile retrieves a profile by ID
func (c *Client) GetProfile(ctx context.Context, id string) (*models.CandidateProfile, error) {
	var out models.CandidateProfile
	if err := c.call(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProfiles retrieves a page of profiles
func (c *Client) ListProfiles(ctx context.Context, limit, offset int) ([]*models.CandidateProfile, error) {
	var out struct {
		Profiles []*models.CandidateProfile `json:"profiles"`
	}
	path := "/api/v1/profiles" + query(url.Values{}, limit, offset)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// DeleteProfile removes a profile
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/profiles/"+url.PathEscape(id), nil, nil)
}

// StartInterview starts a typed interview for a profile. The returned
// snapshot already holds the greeting.
func (c *Client) StartInterview(ctx context.Context, profileID string) (*Interview, error) {
	var out Interview
	req := models.StartInterviewRequest{ProfileID: profileID}
	if err := c.call(ctx, http.MethodPost, "/api/v1/interviews", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer sends a typed answer and waits for the interviewer's reply.
// A dropped answer is not an error; check Accepted.
func (c *Client) SubmitAnswer(ctx context.Context, id, text string) (*models.SubmitAnswerResponse, error) {
	var out models.SubmitAnswerResponse
	req := models.SubmitAnswerRequest{Text: text}
	if err := c.call(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(id)+"/answers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndInterview finalizes an interview and returns the stored record
func (c *Client) EndInterview(ctx context.Context, id string) (*models.InterviewSession, error) {
	var out Interview
	if err := c.call(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(id)+"/end", nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// GetInterview retrieves a live or stored interview
func (c *Client) GetInterview(ctx context.Context, id string) (*Interview, error) {
	var out Interview
	if err := c.call(ctx, http.MethodGet, "/api/v1/interviews/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInterviews retrieves stored interviews
func (c *Client) ListInterviews(ctx context.Context, opts ListOptions) ([]*models.InterviewSession, error) {
	params := url.Values{}
	if opts.ResumeID != "" {
		params.Set("resume_id", opts.ResumeID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}

	var out struct {
		Interviews []*models.InterviewSession `json:"interviews"`
	}
	path := "/api/v1/interviews" + query(params, opts.Limit, opts.Offset)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Interviews, nil
}

// ListLive retrieves the interviews currently running
func (c *Client) ListLive(ctx context.Context) ([]*models.LiveInterview, error) {
	var out struct {
		Interviews []*models.LiveInterview `json:"interviews"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/interviews/live", nil, &out); err != nil {
		return nil, err
	}
	return out.Interviews, nil
}

// Stats retrieves aggregate scores, optionally for one profile
func (c *Client) Stats(ctx context.Context, profileID string) (*models.InterviewStats, error) {
	params := url.Values{}
	if profileID != "" {
		params.Set("resume_id", profileID)
	}

	var out models.InterviewStats
	if err := c.call(ctx, http.MethodGet, "/api/v1/interviews/stats"+query(params, 0, 0), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func query(params url.Values, limit, offset int) string {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// call performs a request and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("HTTP %d: failed to unmarshal response: %w", resp.StatusCode, err)
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		apiErr := envelope.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}
