package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terra-clan/interview-engine/internal/engine"
	"github.com/terra-clan/interview-engine/internal/interview"
	"github.com/terra-clan/interview-engine/internal/services"
	"github.com/terra-clan/interview-engine/internal/speech"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondInterviewError maps manager and engine errors onto the envelope
func respondInterviewError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, interview.ErrInterviewNotFound):
		respondError(w, http.StatusNotFound, "not_found", "interview not found")
	case errors.Is(err, interview.ErrProfileNotFound):
		respondError(w, http.StatusNotFound, "profile_not_found", "profile not found")
	case errors.Is(err, interview.ErrAtCapacity):
		respondError(w, http.StatusServiceUnavailable, "at_capacity", "too many live interviews, try again later")
	case errors.Is(err, interview.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	case errors.Is(err, engine.ErrSessionEnded):
		respondError(w, http.StatusConflict, "session_ended", "interview has ended")
	case errors.Is(err, engine.ErrNotStarted):
		respondError(w, http.StatusConflict, "not_started", "interview has not started")
	case errors.Is(err, engine.ErrNotListening):
		respondError(w, http.StatusConflict, "not_listening", "interview is not waiting for an answer")
	case errors.Is(err, speech.ErrUnsupported):
		respondError(w, http.StatusConflict, "speech_unsupported", "speech recognition is not available for this interview")
	default:
		slog.Error("interview request failed", "error", err, "interview_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "interview request failed")
	}
}

// dropReason names a submission the engine silently dropped, or "" if err
// is a real failure
func dropReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrEmptyAnswer):
		return "empty_answer"
	case errors.Is(err, engine.ErrDuplicateSubmission):
		return "duplicate_submission"
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if s.registry != nil {
		results := s.registry.HealthCheckAll(r.Context())
		for name, err := range results {
			if err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		if !services.Healthy(results) {
			status = http.StatusServiceUnavailable
		}
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":     state,
		"checks":     checks,
		"interviews": s.interviews.Count(),
	})
}
