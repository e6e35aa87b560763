package jobs

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ExperienceLevel is the seniority a posting asks for.
type ExperienceLevel string

const (
	ExperienceEntry  ExperienceLevel = "entry"
	ExperienceMid    ExperienceLevel = "mid"
	ExperienceSenior ExperienceLevel = "senior"
	ExperienceLead   ExperienceLevel = "lead"
)

// ParseExperienceLevel accepts the known levels and the empty string.
func ParseExperienceLevel(raw string) (ExperienceLevel, error) {
	switch level := ExperienceLevel(strings.ToLower(strings.TrimSpace(raw))); level {
	case "", ExperienceEntry, ExperienceMid, ExperienceSenior, ExperienceLead:
		return level, nil
	default:
		return "", ErrInvalidExperienceLevel
	}
}

// SourceManual marks postings saved by hand rather than ingested from a feed.
const SourceManual = "manual"

// Job is a posting saved by one user.
type Job struct {
	ID              uint                        `gorm:"column:id;primaryKey" json:"id"`
	UserID          string                      `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_jobs_user_source_external,priority:1" json:"user_id"`
	Source          string                      `gorm:"column:source;size:64;not null;uniqueIndex:idx_jobs_user_source_external,priority:2" json:"source"`
	ExternalID      string                      `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_jobs_user_source_external,priority:3" json:"external_id"`
	Title           string                      `gorm:"column:title;size:255;not null" json:"title"`
	Company         string                      `gorm:"column:company;size:255" json:"company"`
	Location        string                      `gorm:"column:location;size:255" json:"location"`
	Description     string                      `gorm:"column:description;type:text" json:"description"`
	Industry        string                      `gorm:"column:industry;size:128" json:"industry"`
	ExperienceLevel ExperienceLevel             `gorm:"column:experience_level;size:32" json:"experience_level"`
	RequiredSkills  datatypes.JSONSlice[string] `gorm:"column:required_skills" json:"required_skills"`
	Requirements    datatypes.JSONMap           `gorm:"column:requirements" json:"requirements"`
	URL             string                      `gorm:"column:url;size:1024" json:"url"`
	PostedAt        *time.Time                  `gorm:"column:posted_at" json:"posted_at,omitempty"`
	CreatedAt       time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "jobs"
}

// Posting is the source-neutral shape of a job before it is stored.
type Posting struct {
	ExternalID      string         `json:"external_id"`
	Title           string         `json:"title"`
	Company         string         `json:"company"`
	Location        string         `json:"location"`
	Description     string         `json:"description"`
	Industry        string         `json:"industry"`
	ExperienceLevel string         `json:"experience_level"`
	RequiredSkills  []string       `json:"required_skills"`
	Requirements    map[string]any `json:"requirements"`
	URL             string         `json:"url"`
	PostedAt        *time.Time     `json:"posted_at,omitempty"`
}

// IngestResult counts the outcome of one feed import.
type IngestResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}
