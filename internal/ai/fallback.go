package ai

import (
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/interview-engine/internal/models"
)

// FallbackProfile is stored when resume analysis fails, so the upload is
// not lost and the candidate can correct the fields by hand.
func FallbackProfile() *models.CandidateProfile {
	const review = "Please review and update"
	return &models.CandidateProfile{
		ID: uuid.New().String(),
		PersonalInfo: models.PersonalInfo{
			Name:     "Resume Analysis",
			Email:    "Please update with actual email",
			Phone:    "Please update with actual phone",
			Location: "Please update with actual location",
		},
		Experience: []models.Experience{{
			Company:     review,
			Position:    review,
			Duration:    review,
			Description: []string{"Please review the original resume and update with actual experience"},
		}},
		Education: []models.Education{{
			Institution: review,
			Degree:      review,
			Year:        review,
		}},
		Skills:  []string{"Please review and update with actual skills"},
		Summary: "Please review the original resume and update with actual professional summary",
		Analysis: &models.ResumeAnalysis{
			Strengths:    []string{"Resume was successfully uploaded and processed"},
			Weaknesses:   []string{"Resume content needs to be reviewed and properly formatted"},
			Suggestions:  []string{"Please ensure resume is in clear text format", "Review and update all sections with accurate information"},
			OverallScore: 65,
		},
		CreatedAt: time.Now().UTC(),
	}
}
