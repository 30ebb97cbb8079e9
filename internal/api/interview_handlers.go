package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/interview-engine/internal/engine"
	"github.com/terra-clan/interview-engine/internal/interview"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/recorder"
	"github.com/terra-clan/interview-engine/internal/speech"
	"github.com/terra-clan/interview-engine/internal/storage"
)

// InterviewView is either a live snapshot or a stored record
type InterviewView struct {
	Live     bool                     `json:"live"`
	Snapshot *engine.Snapshot         `json:"snapshot,omitempty"`
	Session  *models.InterviewSession `json:"session,omitempty"`
}

// handleStartInterview starts a text-mode interview. Voice interviews go
// through the websocket.
func (s *Server) handleStartInterview(w http.ResponseWriter, r *http.Request) {
	var req models.StartInterviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ProfileID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "profile_id is required")
		return
	}

	e, err := s.interviews.Start(r.Context(), req.ProfileID, speech.NewTextChannel(), nil)
	if err != nil {
		respondInterviewError(w, err, "")
		return
	}

	snap := e.Snapshot()
	respondJSON(w, http.StatusCreated, InterviewView{Live: true, Snapshot: &snap})
}

func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	filters := models.ListFilters{
		ResumeID: r.URL.Query().Get("resume_id"),
		Status:   models.SessionStatus(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   offset,
	}

	sessions, err := s.repo.ListInterviews(r.Context(), filters)
	if err != nil {
		slog.Error("failed to list interviews", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list interviews")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"interviews": sessions,
		"count":      len(sessions),
	})
}

func (s *Server) handleListLive(w http.ResponseWriter, r *http.Request) {
	live, err := s.interviews.List(r.Context())
	if err != nil {
		slog.Error("failed to list live interviews", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list live interviews")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"interviews": live,
		"count":      len(live),
	})
}

func (s *Server) handleInterviewStats(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.ListInterviews(r.Context(), models.ListFilters{
		ResumeID: r.URL.Query().Get("resume_id"),
		Status:   models.SessionCompleted,
	})
	if err != nil {
		slog.Error("failed to load interviews for stats", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}

	respondJSON(w, http.StatusOK, recorder.Stats(sessions))
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if e, err := s.interviews.Get(id); err == nil {
		snap := e.Snapshot()
		respondJSON(w, http.StatusOK, InterviewView{Live: true, Snapshot: &snap})
		return
	}

	s.respondStored(w, r.Context(), id)
}

func (s *Server) respondStored(w http.ResponseWriter, ctx context.Context, id string) {
	session, err := s.repo.GetInterview(ctx, id)
	if err != nil {
		slog.Error("failed to get interview", "error", err, "interview_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get interview")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "not_found", "interview not found")
		return
	}

	respondJSON(w, http.StatusOK, InterviewView{Session: session})
}

func (s *Server) handleDeleteInterview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.interviews.Get(id); err == nil {
		respondError(w, http.StatusConflict, "interview_live", "end the interview before deleting it")
		return
	}

	if err := s.repo.DeleteInterview(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "interview not found")
			return
		}
		slog.Error("failed to delete interview", "error", err, "interview_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to delete interview")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "interview deleted",
	})
}

// handleSubmitAnswer processes a typed answer and returns once the reply
// has been produced. Dropped submissions are reported, not failed.
func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.SubmitAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	e, err := s.interviews.Get(id)
	if err != nil {
		respondInterviewError(w, err, id)
		return
	}

	if err := s.interviews.Submit(id, req.Text); err != nil {
		if reason := dropReason(err); reason != "" {
			respondJSON(w, http.StatusOK, models.SubmitAnswerResponse{
				Accepted: false,
				Reason:   reason,
				State:    string(e.State()),
			})
			return
		}
		respondInterviewError(w, err, id)
		return
	}

	snap := e.Snapshot()
	respondJSON(w, http.StatusOK, models.SubmitAnswerResponse{
		Accepted: true,
		State:    string(snap.State),
		Session:  snap.Session,
	})
}

func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.interviews.StartListening(id); err != nil {
		respondInterviewError(w, err, id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "listening"})
}

func (s *Server) handleStopListening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.interviews.StopListening(id); err != nil {
		respondInterviewError(w, err, id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "stopped listening"})
}

// handleEndInterview finalizes a live interview. Ending one that already
// finished returns its stored record.
func (s *Server) handleEndInterview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := s.interviews.End(r.Context(), id)
	switch {
	case errors.Is(err, interview.ErrInterviewNotFound):
		s.respondStored(w, r.Context(), id)
		return
	case errors.Is(err, engine.ErrNotStarted):
		respondInterviewError(w, err, id)
		return
	case err != nil && session != nil:
		slog.Error("interview finalized but not saved", "error", err, "interview_id", id)
		respondError(w, http.StatusInternalServerError, "save_failed", "interview ended but could not be saved")
		return
	case err != nil:
		respondInterviewError(w, err, id)
		return
	}

	respondJSON(w, http.StatusOK, InterviewView{Session: session})
}
