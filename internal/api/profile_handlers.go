package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terra-clan/interview-engine/internal/ai"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/storage"
)

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)

	profiles, err := s.repo.ListProfiles(r.Context(), limit, offset)
	if err != nil {
		slog.Error("failed to list profiles", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list profiles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p models.CandidateProfile
	if !decodeJSON(w, r, &p) {
		return
	}

	if err := p.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	s.storeProfile(w, r.Context(), &p)
}

// handleAnalyzeProfile builds a profile from resume text. When the model
// cannot read it a placeholder profile is stored for manual editing.
func (s *Server) handleAnalyzeProfile(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeResumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.ResumeText) == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "resume_text is required")
		return
	}

	var profile *models.CandidateProfile
	if s.analyzer != nil {
		var err error
		profile, err = s.analyzer.AnalyzeResume(r.Context(), req.ResumeText)
		if err != nil {
			slog.Warn("resume analysis failed, storing placeholder profile", "error", err)
			profile = nil
		}
	}
	if profile == nil {
		profile = ai.FallbackProfile()
	}

	s.storeProfile(w, r.Context(), profile)
}

func (s *Server) storeProfile(w http.ResponseWriter, ctx context.Context, p *models.CandidateProfile) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Skills == nil {
		p.Skills = []string{}
	}

	if err := s.repo.CreateProfile(ctx, p); err != nil {
		slog.Error("failed to create profile", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create profile")
		return
	}

	slog.Info("profile created", "profile_id", p.ID)
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.repo.GetProfile(r.Context(), id)
	if err != nil {
		slog.Error("failed to get profile", "error", err, "profile_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get profile")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.repo.DeleteProfile(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		slog.Error("failed to delete profile", "error", err, "profile_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to delete profile")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "profile deleted",
	})
}
