package migrations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/compression"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/encryption"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(migrationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, event := range p.events {
		if event.MigrationID == migrationID {
			types = append(types, event.Type)
		}
	}
	return types
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type testHarness struct {
	service   *Service
	documents *documents.Service
	db        *gorm.DB
	store     *storage.LocalStore
	encryptor *encryption.Service
	publisher *recordingPublisher
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:migrations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&documents.Document{}, &documents.HistoryEntry{}, &Migration{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	compressor, err := compression.NewService(compression.Config{Algorithm: compression.AlgorithmZstd, MinSize: 64})
	if err != nil {
		t.Fatalf("failed to create compressor: %v", err)
	}
	encryptor, err := encryption.NewService([]byte("migration-test-secret"))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	clock := &steppingClock{current: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Store:      store,
		Compressor: compressor,
		Encryptor:  encryptor,
		Analyzer:   analysis.NewAnalyzer(),
		IDProvider: documents.NewUUIDProvider(),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create document service: %v", err)
	}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Documents:  documentService,
		Store:      store,
		Compressor: compressor,
		Encryptor:  encryptor,
		Publisher:  publisher,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create migration service: %v", err)
	}
	return testHarness{
		service:   service,
		documents: documentService,
		db:        db,
		store:     store,
		encryptor: encryptor,
		publisher: publisher,
	}
}

func mustUpload(t *testing.T, h testHarness, userID, content string) documents.Document {
	t.Helper()
	document, err := h.documents.Upload(t.Context(), documents.UploadRequest{
		UserID:       userID,
		Filename:     "notes.txt",
		DocumentType: "resume",
		Content:      []byte(content),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return document
}

func mustRun(t *testing.T, h testHarness, userID string, migrationType Type, parameters map[string]any) Migration {
	t.Helper()
	created, err := h.service.Create(t.Context(), userID, string(migrationType), parameters)
	if err != nil {
		t.Fatalf("create migration failed: %v", err)
	}
	finished, err := h.service.Execute(t.Context(), created.MigrationID)
	if err != nil {
		t.Fatalf("execute migration failed: %v", err)
	}
	return finished
}

func longText(seed string) string {
	return strings.Repeat(seed+" python kubernetes distributed systems experience\n", 40)
}

func logEvents(migration Migration) []string {
	result := make([]string, 0, len(migration.MigrationLog))
	for _, entry := range migration.MigrationLog {
		result = append(result, entry.Event)
	}
	return result
}

func countEvent(migration Migration, event string) int {
	count := 0
	for _, entry := range migration.MigrationLog {
		if entry.Event == event {
			count++
		}
	}
	return count
}
