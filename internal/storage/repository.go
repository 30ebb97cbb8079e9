package storage

import (
	"context"

	"github.com/terra-clan/interview-engine/internal/models"
)

// Repository defines the interface for durable persistence. Getters return
// nil, nil when the row does not exist.
type Repository interface {
	// Profiles
	CreateProfile(ctx context.Context, p *models.CandidateProfile) error
	GetProfile(ctx context.Context, id string) (*models.CandidateProfile, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]*models.CandidateProfile, error)
	DeleteProfile(ctx context.Context, id string) error

	// Interviews
	SaveInterview(ctx context.Context, s *models.InterviewSession) error
	GetInterview(ctx context.Context, id string) (*models.InterviewSession, error)
	ListInterviews(ctx context.Context, filters models.ListFilters) ([]*models.InterviewSession, error)
	DeleteInterview(ctx context.Context, id string) error

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
