package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"gorm.io/datatypes"
)

type stubDocuments struct {
	documents []documents.Document
}

func (s stubDocuments) List(_ context.Context, _ string, _ bool) ([]documents.Document, error) {
	return s.documents, nil
}

type stubJobs struct {
	job jobs.Job
}

func (s stubJobs) Get(_ context.Context, _ string, jobID uint) (jobs.Job, error) {
	if jobID != s.job.ID {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return s.job, nil
}

func newMatchingService(t *testing.T, docs []documents.Document, job jobs.Job) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Documents: stubDocuments{documents: docs},
		Jobs:      stubJobs{job: job},
		Clock:     func() time.Time { return scoringNow },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestSuggestForJobRanksByScoreThenID(t *testing.T) {
	withSkills := analyzedDocument(t, documents.DocumentTypeCoverLetter, analysis.ContentAnalysis{Skills: []string{"Go"}})
	withSkills.ID = 4
	withSkills.IsCurrentVersion = true
	docs := []documents.Document{
		{ID: 7, DocumentType: documents.DocumentTypeTranscript, IsCurrentVersion: true},
		{ID: 3, DocumentType: documents.DocumentTypeResume, IsCurrentVersion: true},
		{ID: 2, DocumentType: documents.DocumentTypeResume, IsCurrentVersion: true},
		{ID: 9, DocumentType: documents.DocumentTypeResume, IsCurrentVersion: false},
		withSkills,
	}
	job := jobs.Job{ID: 11, Title: "Engineer", RequiredSkills: datatypes.JSONSlice[string]{"Go"}}
	service := newMatchingService(t, docs, job)

	suggestions, err := service.SuggestForJob(t.Context(), "user-1", 11, 0)
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	var order []uint
	for _, suggestion := range suggestions {
		order = append(order, suggestion.DocumentID)
	}
	want := []uint{4, 2, 3, 7}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}

	limited, err := service.SuggestForJob(t.Context(), "user-1", 11, 2)
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	if _, err := service.SuggestForJob(t.Context(), "user-1", 12, 0); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
}

func TestPortfolioAnalysis(t *testing.T) {
	resume := analyzedDocument(t, documents.DocumentTypeResume, analysis.ContentAnalysis{Skills: []string{"Python", "SQL"}})
	certificate := analyzedDocument(t, documents.DocumentTypeCertificate, analysis.ContentAnalysis{Skills: []string{"python", "AWS"}})
	service := newMatchingService(t, []documents.Document{resume, certificate}, jobs.Job{})

	result, err := service.PortfolioAnalysis(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("portfolio analysis failed: %v", err)
	}
	if result.TotalDocuments != 2 || result.AnalyzedDocuments != 2 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if !reflect.DeepEqual(result.MissingEssentials, []string{"cover_letter"}) {
		t.Fatalf("unexpected missing essentials %v", result.MissingEssentials)
	}
	if !reflect.DeepEqual(result.Skills, []string{"AWS", "Python", "SQL"}) {
		t.Fatalf("unexpected skills %v", result.Skills)
	}
	if len(result.Recommendations) != 3 {
		t.Fatalf("expected three recommendations, got %v", result.Recommendations)
	}
}
