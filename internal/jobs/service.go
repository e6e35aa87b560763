// Package jobs stores the job postings a user collects, manually or from a feed.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ServiceConfig wires the job service collaborators.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages saved job postings.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create saves a manually entered posting.
func (s *Service) Create(ctx context.Context, userID string, posting Posting) (Job, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return Job{}, newServiceError(opCreate, "invalid_user_id", ErrInvalidUserID)
	}
	if strings.TrimSpace(posting.ExternalID) == "" {
		externalID, err := uuid.NewV7()
		if err != nil {
			return Job{}, newServiceError(opCreate, "id_generation_failed", err)
		}
		posting.ExternalID = externalID.String()
	}
	job, err := s.buildJob(normalizedUser, SourceManual, posting)
	if err != nil {
		return Job{}, newServiceError(opCreate, "invalid_posting", err)
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", normalizedUser))
		return Job{}, newServiceError(opCreate, "insert_failed", err)
	}
	return job, nil
}

// Get loads one job of the user.
func (s *Service) Get(ctx context.Context, userID string, jobID uint) (Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", strings.TrimSpace(userID), jobID).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, newServiceError(opGet, "job_not_found", ErrJobNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.Uint("job_id", jobID))
		return Job{}, newServiceError(opGet, "query_failed", err)
	}
	return job, nil
}

// List returns the user's jobs, most recently posted first.
func (s *Service) List(ctx context.Context, userID string) ([]Job, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return nil, newServiceError(opList, "invalid_user_id", ErrInvalidUserID)
	}
	var jobs []Job
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", normalizedUser).
		Order("created_at DESC").
		Order("id DESC").
		Find(&jobs).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", normalizedUser))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return jobs, nil
}

// Ingest upserts feed postings by (user, source, external id). Postings without an external id
// or title are skipped.
func (s *Service) Ingest(ctx context.Context, userID, source string, postings []Posting) (IngestResult, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return IngestResult{}, newServiceError(opIngest, "invalid_user_id", ErrInvalidUserID)
	}
	normalizedSource := strings.ToLower(strings.TrimSpace(source))
	if normalizedSource == "" {
		normalizedSource = "feed"
	}

	var result IngestResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, posting := range postings {
			if strings.TrimSpace(posting.ExternalID) == "" {
				result.Skipped++
				continue
			}
			incoming, err := s.buildJob(normalizedUser, normalizedSource, posting)
			if err != nil {
				s.loggerOrDefault().Warn("skipping invalid posting",
					zap.String("external_id", posting.ExternalID),
					zap.Error(err))
				result.Skipped++
				continue
			}

			var existing Job
			err = tx.Where("user_id = ? AND source = ? AND external_id = ?",
				normalizedUser, normalizedSource, incoming.ExternalID).
				Take(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&incoming).Error; err != nil {
					s.logError(opIngest, "insert_failed", err, zap.String("external_id", incoming.ExternalID))
					return newServiceError(opIngest, "insert_failed", err)
				}
				result.Created++
			case err != nil:
				s.logError(opIngest, "query_failed", err, zap.String("external_id", incoming.ExternalID))
				return newServiceError(opIngest, "query_failed", err)
			default:
				incoming.ID = existing.ID
				incoming.CreatedAt = existing.CreatedAt
				if err := tx.Save(&incoming).Error; err != nil {
					s.logError(opIngest, "update_failed", err, zap.String("external_id", incoming.ExternalID))
					return newServiceError(opIngest, "update_failed", err)
				}
				result.Updated++
			}
		}
		return nil
	})
	if txErr != nil {
		return IngestResult{}, txErr
	}
	s.loggerOrDefault().Info("job feed ingested",
		zap.String("user_id", normalizedUser),
		zap.String("source", normalizedSource),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) buildJob(userID, source string, posting Posting) (Job, error) {
	title := strings.TrimSpace(posting.Title)
	if title == "" {
		return Job{}, ErrMissingTitle
	}
	level, err := ParseExperienceLevel(posting.ExperienceLevel)
	if err != nil {
		return Job{}, err
	}
	skills := make([]string, 0, len(posting.RequiredSkills))
	for _, skill := range posting.RequiredSkills {
		if trimmed := strings.TrimSpace(skill); trimmed != "" {
			skills = append(skills, trimmed)
		}
	}
	requirements := datatypes.JSONMap{}
	for key, value := range posting.Requirements {
		requirements[key] = value
	}
	now := s.clock().UTC()
	return Job{
		UserID:          userID,
		Source:          source,
		ExternalID:      strings.TrimSpace(posting.ExternalID),
		Title:           title,
		Company:         strings.TrimSpace(posting.Company),
		Location:        strings.TrimSpace(posting.Location),
		Description:     strings.TrimSpace(posting.Description),
		Industry:        strings.TrimSpace(posting.Industry),
		ExperienceLevel: level,
		RequiredSkills:  datatypes.JSONSlice[string](skills),
		Requirements:    requirements,
		URL:             strings.TrimSpace(posting.URL),
		PostedAt:        posting.PostedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("jobs service error", attrs...)
}
