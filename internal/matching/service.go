package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"go.uber.org/zap"
)

const defaultSuggestionLimit = 10

var essentialDocumentTypes = []documents.DocumentType{
	documents.DocumentTypeResume,
	documents.DocumentTypeCoverLetter,
}

var (
	errMissingDocuments = errors.New("matching: document source is required")
	errMissingJobs      = errors.New("matching: job source is required")
)

// DocumentSource lists a user's documents.
type DocumentSource interface {
	List(ctx context.Context, userID string, includeArchived bool) ([]documents.Document, error)
}

// JobSource loads one job of a user.
type JobSource interface {
	Get(ctx context.Context, userID string, jobID uint) (jobs.Job, error)
}

// ServiceConfig wires the matching service collaborators.
type ServiceConfig struct {
	Documents DocumentSource
	Jobs      JobSource
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service ranks documents for jobs and summarizes a user's portfolio.
type Service struct {
	documents DocumentSource
	jobs      JobSource
	clock     func() time.Time
	logger    *zap.Logger
}

// Suggestion is one ranked document for a job.
type Suggestion struct {
	DocumentID   uint                   `json:"document_id"`
	DocumentType documents.DocumentType `json:"document_type"`
	Filename     string                 `json:"filename"`
	Version      int                    `json:"version"`
	Score        float64                `json:"score"`
	Reason       string                 `json:"reason"`
}

// PortfolioAnalysis summarizes the current documents of a user.
type PortfolioAnalysis struct {
	TotalDocuments    int            `json:"total_documents"`
	DocumentsByType   map[string]int `json:"documents_by_type"`
	MissingEssentials []string       `json:"missing_essentials"`
	AnalyzedDocuments int            `json:"analyzed_documents"`
	Skills            []string       `json:"skills"`
	Recommendations   []string       `json:"recommendations"`
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.Jobs == nil {
		return nil, errMissingJobs
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{documents: cfg.Documents, jobs: cfg.Jobs, clock: clock, logger: logger}, nil
}

// SuggestForJob scores every current document of the user for the job, best first.
func (s *Service) SuggestForJob(ctx context.Context, userID string, jobID uint, limit int) ([]Suggestion, error) {
	job, err := s.jobs.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.documents.List(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	suggestions := make([]Suggestion, 0, len(candidates))
	for _, document := range candidates {
		if !document.IsCurrentVersion || document.IsArchived {
			continue
		}
		match := Score(document, job, now)
		suggestions = append(suggestions, Suggestion{
			DocumentID:   document.ID,
			DocumentType: document.DocumentType,
			Filename:     document.Filename,
			Version:      document.Version,
			Score:        match.Score,
			Reason:       match.Reason,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].DocumentID < suggestions[j].DocumentID
	})

	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	s.logger.Debug("document suggestions ranked",
		zap.String("user_id", userID),
		zap.Uint("job_id", jobID),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(suggestions)))
	return suggestions, nil
}

// PortfolioAnalysis reports document coverage and the skills found across analyzed documents.
func (s *Service) PortfolioAnalysis(ctx context.Context, userID string) (PortfolioAnalysis, error) {
	current, err := s.documents.List(ctx, userID, false)
	if err != nil {
		return PortfolioAnalysis{}, err
	}

	result := PortfolioAnalysis{
		DocumentsByType:   map[string]int{},
		MissingEssentials: []string{},
		Skills:            []string{},
		Recommendations:   []string{},
	}
	skills := map[string]string{}
	for _, document := range current {
		result.TotalDocuments++
		result.DocumentsByType[string(document.DocumentType)]++
		contentAnalysis, ok := document.Analysis()
		if !ok {
			continue
		}
		result.AnalyzedDocuments++
		for _, skill := range contentAnalysis.Skills {
			key := strings.ToLower(skill)
			if _, seen := skills[key]; !seen {
				skills[key] = skill
			}
		}
	}
	for _, skill := range skills {
		result.Skills = append(result.Skills, skill)
	}
	sort.Strings(result.Skills)

	for _, essential := range essentialDocumentTypes {
		if result.DocumentsByType[string(essential)] == 0 {
			result.MissingEssentials = append(result.MissingEssentials, string(essential))
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Upload a %s to improve application readiness", strings.ReplaceAll(string(essential), "_", " ")))
		}
	}
	if result.TotalDocuments > 0 && result.AnalyzedDocuments == 0 {
		result.Recommendations = append(result.Recommendations, "Upload text or PDF versions so skills can be extracted")
	}
	if result.AnalyzedDocuments > 0 && len(result.Skills) < 5 {
		result.Recommendations = append(result.Recommendations, "Describe more of your technical skills in your documents")
	}
	if result.DocumentsByType[string(documents.DocumentTypePortfolio)] == 0 {
		result.Recommendations = append(result.Recommendations, "Add a portfolio to showcase your work")
	}
	return result, nil
}
