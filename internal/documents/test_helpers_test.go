package documents

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/compression"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/encryption"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testHarness struct {
	service    *Service
	db         *gorm.DB
	store      *storage.LocalStore
	compressor *compression.Service
	encryptor  *encryption.Service
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Minute)
	return c.current
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(&Document{}, &HistoryEntry{}); err != nil {
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
	encryptor, err := encryption.NewService([]byte("test-encryption-secret"))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	clock := &steppingClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Store:      store,
		Compressor: compressor,
		Encryptor:  encryptor,
		Analyzer:   analysis.NewAnalyzer(),
		IDProvider: NewUUIDProvider(),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return testHarness{service: service, db: db, store: store, compressor: compressor, encryptor: encryptor}
}

func mustUpload(t *testing.T, h testHarness, userID, content string) Document {
	t.Helper()
	document, err := h.service.Upload(t.Context(), UploadRequest{
		UserID:       userID,
		Filename:     "resume.txt",
		DocumentType: "resume",
		Content:      []byte(content),
		Tags:         []string{"Technology"},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return document
}

func mustCreateVersion(t *testing.T, h testHarness, userID string, documentID uint, content string) Document {
	t.Helper()
	document, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: documentID,
		UserID:     userID,
		Filename:   "resume.txt",
		Content:    []byte(content),
	})
	if err != nil {
		t.Fatalf("create version failed: %v", err)
	}
	return document
}

func countCurrent(t *testing.T, db *gorm.DB, groupID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Document{}).
		Where("version_group_id = ? AND is_current_version = ?", groupID, true).
		Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}
