package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/interview-engine/internal/models"
)

// ErrNotFound is returned by deletes that match no row
var ErrNotFound = errors.New("not found")

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Profiles ---

// CreateProfile stores a candidate profile. Nested sections are JSONB.
func (r *PostgresRepository) CreateProfile(ctx context.Context, p *models.CandidateProfile) error {
	personalJSON, err := json.Marshal(p.PersonalInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal personal info: %w", err)
	}
	experienceJSON, err := json.Marshal(p.Experience)
	if err != nil {
		return fmt.Errorf("failed to marshal experience: %w", err)
	}
	educationJSON, err := json.Marshal(p.Education)
	if err != nil {
		return fmt.Errorf("failed to marshal education: %w", err)
	}
	skillsJSON, err := json.Marshal(p.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}

	var analysisJSON []byte
	if p.Analysis != nil {
		if analysisJSON, err = json.Marshal(p.Analysis); err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
	}

	query := `
		INSERT INTO profiles (id, name, personal_info, experience, education, skills, summary, analysis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.PersonalInfo.Name,
		personalJSON,
		experienceJSON,
		educationJSON,
		skillsJSON,
		nullString(p.Summary),
		analysisJSON,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	return nil
}

const profileColumns = `id, personal_info, experience, education, skills, summary, analysis, created_at`

// GetProfile retrieves a profile by ID
func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*models.CandidateProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles, newest first
func (r *PostgresRepository) ListProfiles(ctx context.Context, limit, offset int) ([]*models.CandidateProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC`
	args := make([]interface{}, 0, 2)

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*models.CandidateProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// DeleteProfile deletes a profile by ID
func (r *PostgresRepository) DeleteProfile(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}

	return nil
}

func scanProfile(row pgx.Row) (*models.CandidateProfile, error) {
	var p models.CandidateProfile
	var summary sql.NullString
	var personalJSON, experienceJSON, educationJSON, skillsJSON, analysisJSON []byte

	err := row.Scan(
		&p.ID,
		&personalJSON,
		&experienceJSON,
		&educationJSON,
		&skillsJSON,
		&summary,
		&analysisJSON,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Summary = summary.String

	if err := json.Unmarshal(personalJSON, &p.PersonalInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal personal info: %w", err)
	}
	if err := json.Unmarshal(experienceJSON, &p.Experience); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experience: %w", err)
	}
	if err := json.Unmarshal(educationJSON, &p.Education); err != nil {
		return nil, fmt.Errorf("failed to unmarshal education: %w", err)
	}
	if err := json.Unmarshal(skillsJSON, &p.Skills); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	if analysisJSON != nil {
		p.Analysis = &models.ResumeAnalysis{}
		if err := json.Unmarshal(analysisJSON, p.Analysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
	}

	return &p, nil
}

// --- Interviews ---

// SaveInterview stores a finalized interview. Saving an id twice fails.
func (r *PostgresRepository) SaveInterview(ctx context.Context, s *models.InterviewSession) error {
	transcriptJSON, err := json.Marshal(s.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	scoresJSON, err := json.Marshal(s.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	feedbackJSON, err := json.Marshal(s.Feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	progressJSON, err := json.Marshal(s.QuestionProgress)
	if err != nil {
		return fmt.Errorf("failed to marshal question progress: %w", err)
	}

	query := `
		INSERT INTO interviews (id, resume_id, status, started_at, duration_minutes, current_question_index, total_questions, transcript, scores, feedback, question_progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		nullString(s.ResumeID),
		string(s.Status),
		s.Date,
		s.Duration,
		s.CurrentQuestionIndex,
		s.TotalQuestions,
		transcriptJSON,
		scoresJSON,
		feedbackJSON,
		progressJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save interview: %w", err)
	}

	return nil
}

const interviewColumns = `id, resume_id, status, started_at, duration_minutes, current_question_index, total_questions, transcript, scores, feedback, question_progress`

// GetInterview retrieves a stored interview by ID
func (r *PostgresRepository) GetInterview(ctx context.Context, id string) (*models.InterviewSession, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE id = $1`

	s, err := scanInterview(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}
	return s, nil
}

// ListInterviews returns interviews matching filters, newest first
func (r *PostgresRepository) ListInterviews(ctx context.Context, filters models.ListFilters) ([]*models.InterviewSession, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.ResumeID != "" {
		query += fmt.Sprintf(" AND resume_id = $%d", argNum)
		args = append(args, filters.ResumeID)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY started_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interviews: %w", err)
	}
	defer rows.Close()

	interviews := make([]*models.InterviewSession, 0)
	for rows.Next() {
		s, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interview: %w", err)
		}
		interviews = append(interviews, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interviews: %w", err)
	}

	return interviews, nil
}

// DeleteInterview deletes a stored interview by ID
func (r *PostgresRepository) DeleteInterview(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM interviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete interview: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}

	return nil
}

func scanInterview(row pgx.Row) (*models.InterviewSession, error) {
	var s models.InterviewSession
	var statusStr string
	var resumeID sql.NullString
	var transcriptJSON, scoresJSON, feedbackJSON, progressJSON []byte

	err := row.Scan(
		&s.ID,
		&resumeID,
		&statusStr,
		&s.Date,
		&s.Duration,
		&s.CurrentQuestionIndex,
		&s.TotalQuestions,
		&transcriptJSON,
		&scoresJSON,
		&feedbackJSON,
		&progressJSON,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(statusStr)
	s.ResumeID = resumeID.String

	if err := json.Unmarshal(transcriptJSON, &s.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &s.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	if err := json.Unmarshal(feedbackJSON, &s.Feedback); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &s.QuestionProgress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question progress: %w", err)
	}

	return &s, nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
