package models

import (
	"fmt"
	"strings"
	"time"
)

// CandidateProfile is the resume data an interview is personalized with
type CandidateProfile struct {
	ID           string          `json:"id"`
	PersonalInfo PersonalInfo    `json:"personalInfo"`
	Experience   []Experience    `json:"experience"`
	Education    []Education     `json:"education"`
	Skills       []string        `json:"skills"`
	Summary      string          `json:"summary"`
	Analysis     *ResumeAnalysis `json:"analysis,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PersonalInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

type Experience struct {
	Company     string   `json:"company"`
	Position    string   `json:"position"`
	Duration    string   `json:"duration,omitempty"`
	Description []string `json:"description,omitempty"`
}

type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Year        string `json:"year,omitempty"`
	GPA         string `json:"gpa,omitempty"`
}

// ResumeAnalysis is the AI review of a resume
type ResumeAnalysis struct {
	Strengths    []string `json:"strengths"`
	Weaknesses   []string `json:"weaknesses"`
	Suggestions  []string `json:"suggestions"`
	OverallScore int      `json:"overallScore"`
}

// ExperienceSummary renders "Position at Company" pairs
func (p *CandidateProfile) ExperienceSummary() string {
	parts := make([]string, 0, len(p.Experience))
	for _, e := range p.Experience {
		parts = append(parts, fmt.Sprintf("%s at %s", e.Position, e.Company))
	}
	return strings.Join(parts, ", ")
}

// EducationSummary renders "Degree from Institution" pairs
func (p *CandidateProfile) EducationSummary() string {
	parts := make([]string, 0, len(p.Education))
	for _, e := range p.Education {
		parts = append(parts, fmt.Sprintf("%s from %s", e.Degree, e.Institution))
	}
	return strings.Join(parts, ", ")
}

// SkillsSummary renders the skill list
func (p *CandidateProfile) SkillsSummary() string {
	return strings.Join(p.Skills, ", ")
}

// Validate checks the fields required to personalize an interview
func (p *CandidateProfile) Validate() error {
	if strings.TrimSpace(p.PersonalInfo.Name) == "" {
		return fmt.Errorf("personalInfo.name is required")
	}
	return nil
}

// AnalyzeResumeRequest carries raw resume text for AI extraction
type AnalyzeResumeRequest struct {
	ResumeText string `json:"resume_text"`
}
