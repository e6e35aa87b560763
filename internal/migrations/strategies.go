package migrations

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingVersionGroup = errors.New("document has no version group, run version_upgrade first")

func (s *Service) loadDocuments(ctx context.Context, userID string, scope func(*gorm.DB) *gorm.DB) ([]documents.Document, error) {
	query := s.db.WithContext(ctx).Where("user_id = ? AND deleted_at IS NULL", userID)
	if scope != nil {
		query = scope(query)
	}
	var targets []documents.Document
	if err := query.Order("id ASC").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return targets, nil
}

// applyDocumentUpdate writes column changes and the matching ledger row in one transaction.
func (s *Service) applyDocumentUpdate(ctx context.Context, document documents.Document, updates map[string]any, entry documents.HistoryEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&documents.Document{}).Where("id = ?", document.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		entry.DocumentID = document.ID
		entry.UserID = document.UserID
		entry.VersionNumber = document.Version
		entry.CreatedBy = "system"
		entry.CreatedAt = s.clock().UTC()
		return documents.AppendHistory(tx, &entry)
	})
}

func skipped(document documents.Document, reason string) documents.ItemResult {
	return documents.ItemResult{DocumentID: document.ID, Version: document.Version, Status: documents.ItemStatusSkipped, Reason: reason}
}

func succeeded(document documents.Document) documents.ItemResult {
	return documents.ItemResult{DocumentID: document.ID, Version: document.Version, Status: documents.ItemStatusSucceeded}
}

func (s *Service) runVersionUpgrade(ctx context.Context, run *execution) (int, error) {
	userID := run.migration.UserID
	targets, err := s.loadDocuments(ctx, userID, nil)
	if err != nil {
		return 0, err
	}
	step := func(ctx context.Context, document documents.Document) (documents.ItemResult, error) {
		updates := map[string]any{}
		backfilled := []any{}
		if document.VersionGroupID == "" {
			groupID, err := s.idProvider.NewID()
			if err != nil {
				return documents.ItemResult{}, err
			}
			updates["version_group_id"] = groupID
			backfilled = append(backfilled, "version_group_id")
		}
		if document.Checksum == "" {
			stored, err := s.store.Get(ctx, document.FilePath)
			if err != nil {
				return documents.ItemResult{}, err
			}
			plaintext, err := s.documents.Decode(document, stored)
			if err != nil {
				return documents.ItemResult{}, err
			}
			updates["checksum"] = documents.Checksum(plaintext)
			backfilled = append(backfilled, "checksum")
		}
		if document.Version <= 0 {
			updates["version"] = 1
			backfilled = append(backfilled, "version")
		}
		if len(updates) == 0 {
			return skipped(document, "up_to_date"), nil
		}
		if err := s.applyDocumentUpdate(ctx, document, updates, documents.HistoryEntry{
			Action:   documents.HistoryActionMigrated,
			Changes:  datatypes.JSONMap{"migration": string(TypeVersionUpgrade), "backfilled": backfilled},
			FilePath: document.FilePath,
			FileSize: document.FileSize,
			Checksum: document.Checksum,
		}); err != nil {
			return documents.ItemResult{}, err
		}
		return succeeded(document), nil
	}
	if err := s.forEachDocument(ctx, run, targets, cheapCheckpointInterval, step); err != nil {
		return 0, err
	}
	if err := s.repairCurrentFlags(ctx, userID); err != nil {
		return 0, err
	}
	return run.summary.Succeeded, nil
}

// repairCurrentFlags leaves exactly one current version per group: the highest visible one
// unless a visible current version already exists.
func (s *Service) repairCurrentFlags(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []documents.Document
		if err := tx.Where("user_id = ? AND deleted_at IS NULL AND version_group_id <> ''", userID).
			Order("version_group_id ASC").
			Order("version DESC").
			Find(&rows).Error; err != nil {
			return fmt.Errorf("load groups: %w", err)
		}
		groups := map[string][]documents.Document{}
		var order []string
		for _, row := range rows {
			if _, ok := groups[row.VersionGroupID]; !ok {
				order = append(order, row.VersionGroupID)
			}
			groups[row.VersionGroupID] = append(groups[row.VersionGroupID], row)
		}
		for _, groupID := range order {
			members := groups[groupID]
			keep := members[0]
			for _, member := range members {
				if member.IsCurrentVersion && !member.IsArchived {
					keep = member
					break
				}
			}
			for _, member := range members {
				want := member.ID == keep.ID
				if member.IsCurrentVersion == want {
					continue
				}
				if err := tx.Model(&documents.Document{}).Where("id = ?", member.ID).
					Update("is_current_version", want).Error; err != nil {
					return fmt.Errorf("repair current flag: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *Service) runCompression(ctx context.Context, run *execution) (int, error) {
	targets, err := s.loadDocuments(ctx, run.migration.UserID, func(query *gorm.DB) *gorm.DB {
		return query.Where("is_compressed = ? AND is_encrypted = ? AND is_archived = ?", false, false, false)
	})
	if err != nil {
		return 0, err
	}
	step := func(ctx context.Context, document documents.Document) (documents.ItemResult, error) {
		if !s.compressor.ShouldCompress(document.MimeType, document.FileSize) {
			return skipped(document, "not_compressible"), nil
		}
		original, err := s.store.Get(ctx, document.FilePath)
		if err != nil {
			return documents.ItemResult{}, err
		}
		compressed, algorithm, err := s.compressor.Compress(original)
		if err != nil {
			return documents.ItemResult{}, err
		}
		if len(compressed) >= len(original) {
			return skipped(document, "no_size_reduction"), nil
		}
		backupKey := storage.BackupKey(document.FilePath, backupCompression)
		if err := s.store.Copy(ctx, document.FilePath, backupKey); err != nil {
			return documents.ItemResult{}, err
		}
		if err := s.store.Put(ctx, document.FilePath, compressed, document.MimeType); err != nil {
			return documents.ItemResult{}, err
		}
		err = s.applyDocumentUpdate(ctx, document, map[string]any{
			"is_compressed":    true,
			"compression_type": algorithm,
			"file_size":        int64(len(compressed)),
			"original_size":    int64(len(original)),
		}, documents.HistoryEntry{
			Action: documents.HistoryActionCompressed,
			Changes: datatypes.JSONMap{
				"algorithm":       algorithm,
				"original_size":   len(original),
				"compressed_size": len(compressed),
				"bytes_saved":     len(original) - len(compressed),
				"backup_path":     backupKey,
			},
			FilePath: document.FilePath,
			FileSize: int64(len(compressed)),
			Checksum: document.Checksum,
		})
		if err != nil {
			s.restoreBlob(ctx, document.FilePath, original, document.MimeType)
			return documents.ItemResult{}, err
		}
		return succeeded(document), nil
	}
	if err := s.forEachDocument(ctx, run, targets, costlyCheckpointInterval, step); err != nil {
		return 0, err
	}
	return run.summary.Succeeded, nil
}

func (s *Service) runEncryption(ctx context.Context, run *execution) (int, error) {
	targets, err := s.loadDocuments(ctx, run.migration.UserID, func(query *gorm.DB) *gorm.DB {
		return query.Where("is_encrypted = ? AND is_archived = ?", false, false)
	})
	if err != nil {
		return 0, err
	}
	step := func(ctx context.Context, document documents.Document) (documents.ItemResult, error) {
		stored, err := s.store.Get(ctx, document.FilePath)
		if err != nil {
			return documents.ItemResult{}, err
		}
		dataHash := s.encryptor.Hash(stored)
		sealed, err := s.encryptor.Encrypt(stored)
		if err != nil {
			return documents.ItemResult{}, err
		}
		backupKey := storage.BackupKey(document.FilePath, backupEncryption)
		if err := s.store.Copy(ctx, document.FilePath, backupKey); err != nil {
			return documents.ItemResult{}, err
		}
		if err := s.store.Put(ctx, document.FilePath, sealed, "application/octet-stream"); err != nil {
			return documents.ItemResult{}, err
		}
		err = s.applyDocumentUpdate(ctx, document, map[string]any{
			"is_encrypted":         true,
			"encryption_algorithm": s.encryptor.Algorithm(),
			"data_hash":            dataHash,
			"file_size":            int64(len(sealed)),
		}, documents.HistoryEntry{
			Action: documents.HistoryActionEncrypted,
			Changes: datatypes.JSONMap{
				"algorithm":   s.encryptor.Algorithm(),
				"data_hash":   dataHash,
				"backup_path": backupKey,
			},
			FilePath: document.FilePath,
			FileSize: int64(len(sealed)),
			Checksum: document.Checksum,
		})
		if err != nil {
			s.restoreBlob(ctx, document.FilePath, stored, document.MimeType)
			return documents.ItemResult{}, err
		}
		return succeeded(document), nil
	}
	if err := s.forEachDocument(ctx, run, targets, costlyCheckpointInterval, step); err != nil {
		return 0, err
	}
	return run.summary.Succeeded, nil
}

func (s *Service) runStorage(ctx context.Context, run *execution) (int, error) {
	targets, err := s.loadDocuments(ctx, run.migration.UserID, nil)
	if err != nil {
		return 0, err
	}
	step := func(ctx context.Context, document documents.Document) (documents.ItemResult, error) {
		if document.VersionGroupID == "" {
			return documents.ItemResult{}, errMissingVersionGroup
		}
		target := documents.GroupedFileKey(document.UserID, document.VersionGroupID, document.Version, path.Ext(document.FilePath))
		if document.FilePath == target {
			return skipped(document, "already_relocated"), nil
		}
		if err := s.store.Move(ctx, document.FilePath, target); err != nil {
			return documents.ItemResult{}, err
		}
		err := s.applyDocumentUpdate(ctx, document, map[string]any{"file_path": target}, documents.HistoryEntry{
			Action: documents.HistoryActionMigrated,
			Changes: datatypes.JSONMap{
				"migration": string(TypeStorage),
				"old_path":  document.FilePath,
				"new_path":  target,
			},
			FilePath: target,
			FileSize: document.FileSize,
			Checksum: document.Checksum,
		})
		if err != nil {
			if moveErr := s.store.Move(context.WithoutCancel(ctx), target, document.FilePath); moveErr != nil {
				s.logError(opExecute, "blob_rollback_failed", moveErr, zap.String("file_path", target))
			}
			return documents.ItemResult{}, err
		}
		return succeeded(document), nil
	}
	if err := s.forEachDocument(ctx, run, targets, cheapCheckpointInterval, step); err != nil {
		return 0, err
	}
	return run.summary.Succeeded, nil
}

func (s *Service) runFormat(ctx context.Context, run *execution) (int, error) {
	targets, err := s.loadDocuments(ctx, run.migration.UserID, nil)
	if err != nil {
		return 0, err
	}
	step := func(ctx context.Context, document documents.Document) (documents.ItemResult, error) {
		stored, err := s.store.Get(ctx, document.FilePath)
		if err != nil {
			return documents.ItemResult{}, err
		}
		plaintext, err := s.documents.Decode(document, stored)
		if err != nil {
			return documents.ItemResult{}, err
		}
		detected := storage.DetectMimeType(plaintext)
		if storage.SameMimeType(detected, document.MimeType) {
			return skipped(document, "mime_type_unchanged"), nil
		}
		if err := s.applyDocumentUpdate(ctx, document, map[string]any{"mime_type": detected}, documents.HistoryEntry{
			Action: documents.HistoryActionMigrated,
			Changes: datatypes.JSONMap{
				"migration":     string(TypeFormat),
				"old_mime_type": document.MimeType,
				"new_mime_type": detected,
			},
			FilePath: document.FilePath,
			FileSize: document.FileSize,
			Checksum: document.Checksum,
		}); err != nil {
			return documents.ItemResult{}, err
		}
		return succeeded(document), nil
	}
	if err := s.forEachDocument(ctx, run, targets, cheapCheckpointInterval, step); err != nil {
		return 0, err
	}
	return run.summary.Succeeded, nil
}

func (s *Service) runCleanup(ctx context.Context, run *execution) (int, error) {
	keep, err := keepVersions(run.migration.Parameters)
	if err != nil {
		return 0, err
	}
	result, err := s.documents.CleanupOldVersions(ctx, run.migration.UserID, keep)
	if err != nil {
		return 0, err
	}
	for _, item := range result.Items {
		run.summary.Add(item)
	}
	s.appendLog(run.migration, logEventProgress, "version cleanup finished", map[string]any{
		"keep_versions":     keep,
		"groups_processed":  result.GroupsProcessed,
		"versions_archived": result.VersionsArchived,
		"space_freed":       result.SpaceFreed,
	})
	return result.VersionsArchived, nil
}

func (s *Service) restoreBlob(ctx context.Context, key string, original []byte, contentType string) {
	if err := s.store.Put(context.WithoutCancel(ctx), key, original, contentType); err != nil {
		s.logError(opExecute, "blob_rollback_failed", err, zap.String("file_path", key))
	}
}
