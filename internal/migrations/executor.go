package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/queue"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Checkpoint intervals, in documents, between persisted progress updates.
const (
	costlyCheckpointInterval = 5
	cheapCheckpointInterval  = 10
)

// Backup suffixes per payload transformation; each step keeps the bytes it replaced.
const (
	backupCompression = "compression"
	backupEncryption  = "encryption"
)

type execution struct {
	migration *Migration
	summary   Summary
}

// documentStep transforms one document. A nil error with a skipped item means nothing needed doing.
type documentStep func(ctx context.Context, document documents.Document) (documents.ItemResult, error)

// Execute runs a pending migration to completion. Strategy failures are recorded on the migration
// and returned; transition errors leave the migration untouched.
func (s *Service) Execute(ctx context.Context, migrationID string) (Migration, error) {
	migration, err := s.start(ctx, migrationID)
	if err != nil {
		return Migration{}, err
	}
	s.publish(ctx, migration, events.TypeMigrationStarted, "migration started", nil)

	run := &execution{migration: &migration, summary: Summary{Items: []documents.ItemResult{}}}
	affected, strategyErr := s.runStrategy(ctx, run)
	if strategyErr != nil {
		return s.finishFailed(ctx, run, strategyErr)
	}
	return s.finishCompleted(ctx, run, affected)
}

// HandleTask adapts Execute to queue consumers.
func (s *Service) HandleTask(ctx context.Context, task queue.Task) error {
	_, err := s.Execute(ctx, task.MigrationID)
	return err
}

func (s *Service) start(ctx context.Context, migrationID string) (Migration, error) {
	var started Migration
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var migration Migration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("migration_id = ?", strings.TrimSpace(migrationID)).
			Take(&migration).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opExecute, "migration_not_found", ErrMigrationNotFound)
		}
		if err != nil {
			s.logError(opExecute, "query_failed", err, zap.String("migration_id", migrationID))
			return newServiceError(opExecute, "query_failed", err)
		}
		if migration.Status != StatusPending {
			return newServiceError(opExecute, "not_pending", fmt.Errorf("%w: status %s", ErrNotPending, migration.Status))
		}
		now := s.clock().UTC()
		migration.Status = StatusRunning
		migration.StartedAt = &now
		migration.Progress = 0
		s.appendLog(&migration, logEventStarted, fmt.Sprintf("starting %s", migration.MigrationType), nil)
		if err := tx.Save(&migration).Error; err != nil {
			s.logError(opExecute, "update_failed", err, zap.String("migration_id", migrationID))
			return newServiceError(opExecute, "update_failed", err)
		}
		started = migration
		return nil
	})
	return started, txErr
}

func (s *Service) runStrategy(ctx context.Context, run *execution) (int, error) {
	switch run.migration.MigrationType {
	case TypeVersionUpgrade:
		return s.runVersionUpgrade(ctx, run)
	case TypeCompression:
		return s.runCompression(ctx, run)
	case TypeEncryption:
		return s.runEncryption(ctx, run)
	case TypeStorage:
		return s.runStorage(ctx, run)
	case TypeFormat:
		return s.runFormat(ctx, run)
	case TypeCleanup:
		return s.runCleanup(ctx, run)
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidMigrationType, run.migration.MigrationType)
	}
}

// forEachDocument applies step to every document, isolating per-document failures.
func (s *Service) forEachDocument(ctx context.Context, run *execution, targets []documents.Document, interval int, step documentStep) error {
	for index, document := range targets {
		item, err := step(ctx, document)
		if err != nil {
			item = documents.ItemResult{
				DocumentID: document.ID,
				Version:    document.Version,
				Status:     documents.ItemStatusFailed,
				Reason:     err.Error(),
			}
			s.appendLog(run.migration, logEventDocumentError,
				fmt.Sprintf("document %d failed", document.ID),
				map[string]any{"document_id": document.ID, "error": err.Error()})
			s.loggerOrDefault().Warn("migration document failed",
				zap.String("migration_id", run.migration.MigrationID),
				zap.Uint("document_id", document.ID),
				zap.Error(err))
		}
		if item.DocumentID == 0 {
			item.DocumentID = document.ID
			item.Version = document.Version
		}
		run.summary.Add(item)

		processed := index + 1
		if processed%interval == 0 && processed < len(targets) {
			if err := s.checkpoint(ctx, run, processed, len(targets)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) checkpoint(ctx context.Context, run *execution, processed, total int) error {
	migration := run.migration
	migration.Progress = processed * 100 / total
	migration.Summary = datatypes.NewJSONType(run.summary)
	s.appendLog(migration, logEventProgress,
		fmt.Sprintf("processed %d of %d documents", processed, total),
		map[string]any{"processed": processed, "total": total})
	if err := s.db.WithContext(ctx).Save(migration).Error; err != nil {
		s.logError(opExecute, "progress_update_failed", err, zap.String("migration_id", migration.MigrationID))
		return newServiceError(opExecute, "progress_update_failed", err)
	}
	s.publish(ctx, *migration, events.TypeMigrationProgress, "migration progress", map[string]any{
		"processed": processed,
		"total":     total,
	})
	return nil
}

func (s *Service) finishCompleted(ctx context.Context, run *execution, affected int) (Migration, error) {
	migration := run.migration
	now := s.clock().UTC()
	migration.Status = StatusCompleted
	migration.Progress = 100
	migration.DocumentsAffected = affected
	migration.CompletedAt = &now
	migration.Summary = datatypes.NewJSONType(run.summary)
	s.appendLog(migration, logEventCompleted, "migration completed", map[string]any{
		"documents_affected": affected,
		"succeeded":          run.summary.Succeeded,
		"skipped":            run.summary.Skipped,
		"failed":             run.summary.Failed,
	})
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(migration).Error; err != nil {
		s.logError(opExecute, "update_failed", err, zap.String("migration_id", migration.MigrationID))
		return Migration{}, newServiceError(opExecute, "update_failed", err)
	}
	s.publish(ctx, *migration, events.TypeMigrationCompleted, "migration completed", map[string]any{
		"documents_affected": affected,
	})
	s.loggerOrDefault().Info("migration completed",
		zap.String("migration_id", migration.MigrationID),
		zap.String("migration_type", string(migration.MigrationType)),
		zap.Int("documents_affected", affected),
		zap.Int("failed", run.summary.Failed))
	return *migration, nil
}

func (s *Service) finishFailed(ctx context.Context, run *execution, cause error) (Migration, error) {
	migration := run.migration
	now := s.clock().UTC()
	migration.Status = StatusFailed
	migration.ErrorMessage = cause.Error()
	migration.CompletedAt = &now
	migration.Summary = datatypes.NewJSONType(run.summary)
	s.appendLog(migration, logEventFailed, "migration failed", map[string]any{"error": cause.Error()})
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(migration).Error; err != nil {
		s.logError(opExecute, "update_failed", err, zap.String("migration_id", migration.MigrationID))
		return Migration{}, newServiceError(opExecute, "update_failed", errors.Join(cause, err))
	}
	s.logError(opExecute, "strategy_failed", cause,
		zap.String("migration_id", migration.MigrationID),
		zap.String("migration_type", string(migration.MigrationType)))
	s.publish(ctx, *migration, events.TypeMigrationFailed, migration.ErrorMessage, nil)
	return *migration, newServiceError(opExecute, "strategy_failed", cause)
}
