// Package migrations runs bulk transformations over a user's stored documents.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultKeepVersions = 5

// DocumentOperations is the slice of the document service the executor relies on.
type DocumentOperations interface {
	Decode(document documents.Document, stored []byte) ([]byte, error)
	CleanupOldVersions(ctx context.Context, userID string, keepVersions int) (documents.CleanupResult, error)
}

// Dispatcher hands a freshly created migration to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, migrationID string) error
}

// ServiceConfig wires the migration service collaborators.
type ServiceConfig struct {
	Database   *gorm.DB
	Documents  DocumentOperations
	Store      storage.BlobStore
	Compressor documents.Compressor
	Encryptor  documents.Encryptor
	Publisher  events.Publisher
	IDProvider documents.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service creates, executes and reports on migrations.
type Service struct {
	db         *gorm.DB
	documents  DocumentOperations
	store      storage.BlobStore
	compressor documents.Compressor
	encryptor  documents.Encryptor
	publisher  events.Publisher
	idProvider documents.IDProvider
	clock      func() time.Time
	logger     *zap.Logger

	dispatchMu sync.RWMutex
	dispatcher Dispatcher
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Documents == nil {
		return nil, newServiceError(opServiceNew, "missing_documents", errMissingDocuments)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Compressor == nil || cfg.Encryptor == nil {
		return nil, newServiceError(opServiceNew, "missing_codec", errMissingCodec)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = documents.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		documents:  cfg.Documents,
		store:      cfg.Store,
		compressor: cfg.Compressor,
		encryptor:  cfg.Encryptor,
		publisher:  publisher,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// UseDispatcher sets the dispatcher invoked after Create.
func (s *Service) UseDispatcher(dispatcher Dispatcher) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.dispatcher = dispatcher
}

// Create records a pending migration and dispatches it when a dispatcher is configured.
func (s *Service) Create(ctx context.Context, userID, migrationType string, parameters map[string]any) (Migration, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return Migration{}, newServiceError(opCreate, "invalid_user_id", ErrInvalidUserID)
	}
	parsedType, err := ParseType(strings.TrimSpace(migrationType))
	if err != nil {
		return Migration{}, newServiceError(opCreate, "invalid_migration_type", err)
	}
	normalizedParameters, err := normalizeParameters(parsedType, parameters)
	if err != nil {
		return Migration{}, newServiceError(opCreate, "invalid_parameters", err)
	}

	migrationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", normalizedUser))
		return Migration{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	migration := Migration{
		MigrationID:   migrationID,
		UserID:        normalizedUser,
		MigrationType: parsedType,
		Status:        StatusPending,
		Parameters:    datatypes.JSONMap(normalizedParameters),
		Summary:       datatypes.NewJSONType(Summary{Items: []documents.ItemResult{}}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.appendLog(&migration, logEventCreated, fmt.Sprintf("%s migration created", parsedType), nil)

	if err := s.db.WithContext(ctx).Create(&migration).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", normalizedUser))
		return Migration{}, newServiceError(opCreate, "insert_failed", err)
	}
	s.publish(ctx, migration, events.TypeMigrationCreated, "migration created", nil)

	s.dispatchMu.RLock()
	dispatcher := s.dispatcher
	s.dispatchMu.RUnlock()
	if dispatcher != nil {
		if err := dispatcher.Dispatch(ctx, migration.MigrationID); err != nil {
			s.logError(opCreate, "dispatch_failed", err, zap.String("migration_id", migration.MigrationID))
			return migration, newServiceError(opCreate, "dispatch_failed", err)
		}
	}
	return migration, nil
}

// Get returns one migration of the user.
func (s *Service) Get(ctx context.Context, userID, migrationID string) (Migration, error) {
	var migration Migration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND migration_id = ?", strings.TrimSpace(userID), strings.TrimSpace(migrationID)).
		Take(&migration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Migration{}, newServiceError(opGet, "migration_not_found", ErrMigrationNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("migration_id", migrationID))
		return Migration{}, newServiceError(opGet, "query_failed", err)
	}
	return migration, nil
}

// List returns the user's migrations, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Migration, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return nil, newServiceError(opList, "invalid_user_id", ErrInvalidUserID)
	}
	var migrations []Migration
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", normalizedUser).
		Order("created_at DESC").
		Order("id DESC").
		Find(&migrations).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", normalizedUser))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return migrations, nil
}

// Cancel moves a pending migration to cancelled. Running and finished migrations are left alone.
func (s *Service) Cancel(ctx context.Context, userID, migrationID string) (Migration, error) {
	var cancelled Migration
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var migration Migration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND migration_id = ?", strings.TrimSpace(userID), strings.TrimSpace(migrationID)).
			Take(&migration).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCancel, "migration_not_found", ErrMigrationNotFound)
		}
		if err != nil {
			s.logError(opCancel, "query_failed", err, zap.String("migration_id", migrationID))
			return newServiceError(opCancel, "query_failed", err)
		}
		if migration.Status != StatusPending {
			return newServiceError(opCancel, "not_pending", fmt.Errorf("%w: status %s", ErrNotPending, migration.Status))
		}
		now := s.clock().UTC()
		migration.Status = StatusCancelled
		migration.CompletedAt = &now
		s.appendLog(&migration, logEventCancelled, "migration cancelled by user", nil)
		if err := tx.Save(&migration).Error; err != nil {
			s.logError(opCancel, "update_failed", err, zap.String("migration_id", migrationID))
			return newServiceError(opCancel, "update_failed", err)
		}
		cancelled = migration
		return nil
	})
	if txErr != nil {
		return Migration{}, txErr
	}
	s.publish(ctx, cancelled, events.TypeMigrationCancelled, "migration cancelled", nil)
	return cancelled, nil
}

func (s *Service) appendLog(migration *Migration, event, message string, details map[string]any) {
	migration.MigrationLog = append(migration.MigrationLog, LogEntry{
		Timestamp: s.clock().UTC(),
		Event:     event,
		Message:   message,
		Details:   details,
	})
}

func (s *Service) publish(ctx context.Context, migration Migration, eventType, message string, details map[string]any) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:        eventType,
		UserID:      migration.UserID,
		MigrationID: migration.MigrationID,
		Status:      string(migration.Status),
		Progress:    migration.Progress,
		Message:     message,
		Details:     details,
		OccurredAt:  s.clock().UTC(),
	})
	if err != nil {
		s.loggerOrDefault().Warn("migration event publish failed",
			zap.String("migration_id", migration.MigrationID),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

// normalizeParameters validates type specific parameters and fills defaults.
func normalizeParameters(migrationType Type, parameters map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(parameters)+1)
	for key, value := range parameters {
		normalized[key] = value
	}
	if migrationType != TypeCleanup {
		return normalized, nil
	}
	keep, err := keepVersions(normalized)
	if err != nil {
		return nil, err
	}
	normalized["keep_versions"] = keep
	return normalized, nil
}

func keepVersions(parameters map[string]any) (int, error) {
	raw, ok := parameters["keep_versions"]
	if !ok || raw == nil {
		return defaultKeepVersions, nil
	}
	var value float64
	switch typed := raw.(type) {
	case int:
		value = float64(typed)
	case int64:
		value = float64(typed)
	case float64:
		value = typed
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("%w: keep_versions must be an integer", ErrInvalidParameters)
		}
		value = float64(parsed)
	default:
		return 0, fmt.Errorf("%w: keep_versions must be an integer", ErrInvalidParameters)
	}
	if value < 0 || value != math.Trunc(value) {
		return 0, fmt.Errorf("%w: keep_versions must be a non-negative integer", ErrInvalidParameters)
	}
	return int(value), nil
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
	s.loggerOrDefault().Error("migrations service error", attrs...)
}
