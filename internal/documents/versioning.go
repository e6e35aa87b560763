package documents

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateVersionRequest carries the content of a new version for an existing document.
type CreateVersionRequest struct {
	DocumentID uint
	UserID     string
	Filename   string
	Content    []byte
	Notes      string
	// Tags replaces the tag set of the new version; nil carries the current version's tags forward.
	Tags       []string
}

// VersionComparison summarizes the differences between two versions of one group.
type VersionComparison struct {
	DocumentID         uint     `json:"document_id"`
	Version1           int      `json:"version_1"`
	Version2           int      `json:"version_2"`
	SizeDifference     int64    `json:"size_difference"`
	SameContent        bool     `json:"same_content"`
	TagsAdded          []string `json:"tags_added"`
	TagsRemoved        []string `json:"tags_removed"`
	TimeBetweenSeconds float64  `json:"time_between_seconds"`
}

// CreateVersion stores new content as the next version of the document's group and makes it current.
func (s *Service) CreateVersion(ctx context.Context, request CreateVersionRequest) (Document, error) {
	userID, err := normalizeUserID(request.UserID)
	if err != nil {
		return Document{}, newServiceError(opCreateVersion, "invalid_user_id", err)
	}
	if len(request.Content) == 0 {
		return Document{}, newServiceError(opCreateVersion, "empty_content", ErrEmptyContent)
	}

	mimeType := storage.DetectMimeType(request.Content)
	checksum := Checksum(request.Content)

	var created Document
	var writtenKey string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base, members, err := s.resolveGroup(tx, opCreateVersion, userID, request.DocumentID)
		if err != nil {
			return err
		}
		current := currentMember(members, base)
		if !storage.SameMimeType(current.MimeType, mimeType) {
			return newServiceError(opCreateVersion, "mime_type_mismatch", ErrMimeTypeMismatch)
		}

		maxVersion := 0
		for _, member := range members {
			if member.Version > maxVersion {
				maxVersion = member.Version
			}
			if member.DeletedAt == nil && member.Checksum == checksum {
				return newServiceError(opCreateVersion, "duplicate_version", ErrDuplicateVersion)
			}
		}
		nextVersion := maxVersion + 1

		filename := current.OriginalFilename
		if strings.TrimSpace(request.Filename) != "" {
			filename = cleanFilename(request.Filename)
		}
		key := nextVersionKey(current, userID, base.VersionGroupID, nextVersion, storage.Extension(filename, request.Content))
		now := s.clock().UTC()

		created = Document{
			UserID:           userID,
			VersionGroupID:   base.VersionGroupID,
			Filename:         filename,
			OriginalFilename: current.OriginalFilename,
			DocumentType:     current.DocumentType,
			MimeType:         mimeType,
			FilePath:         key,
			FileSize:         int64(len(request.Content)),
			OriginalSize:     int64(len(request.Content)),
			Checksum:         checksum,
			Version:          nextVersion,
			IsCurrentVersion: true,
			VersionNotes:     strings.TrimSpace(request.Notes),
			Tags:             datatypes.JSONSlice[string](versionTags(current.Tags, request.Tags)),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.analyze(&created, request.Content)

		if err := s.store.Put(ctx, key, request.Content, mimeType); err != nil {
			s.logError(opCreateVersion, "blob_write_failed", err, zap.String("file_path", key))
			return newServiceError(opCreateVersion, "blob_write_failed", err)
		}
		writtenKey = key

		if err := tx.Model(&Document{}).
			Where("user_id = ? AND version_group_id = ? AND is_current_version = ?", userID, base.VersionGroupID, true).
			Updates(map[string]any{"is_current_version": false, "updated_at": now}).Error; err != nil {
			s.logError(opCreateVersion, "current_flag_update_failed", err, zap.String("version_group_id", base.VersionGroupID))
			return newServiceError(opCreateVersion, "current_flag_update_failed", err)
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreateVersion, "document_insert_failed", err, zap.String("version_group_id", base.VersionGroupID))
			return newServiceError(opCreateVersion, "document_insert_failed", err)
		}
		return AppendHistory(tx, &HistoryEntry{
			DocumentID:    created.ID,
			UserID:        userID,
			VersionNumber: nextVersion,
			Action:        HistoryActionCreated,
			Changes: datatypes.JSONMap{
				"previous_version": current.Version,
				"new_version":      nextVersion,
				"file_size":        created.FileSize,
				"checksum":         checksum,
			},
			FilePath: key,
			FileSize: created.FileSize,
			Checksum: checksum,
			VersionMetadata: datatypes.JSONMap{
				"version_notes": created.VersionNotes,
				"mime_type":     mimeType,
			},
			CreatedAt: now,
		})
	})
	if txErr != nil {
		if writtenKey != "" {
			s.discardBlob(ctx, opCreateVersion, writtenKey)
		}
		return Document{}, txErr
	}
	return created, nil
}

// GetCurrentVersion returns the current version of the document's group.
func (s *Service) GetCurrentVersion(ctx context.Context, userID string, documentID uint) (Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return Document{}, newServiceError(opCurrentVersion, "invalid_user_id", err)
	}
	db := s.db.WithContext(ctx)
	document, err := findDocument(db, normalized, documentID)
	if err != nil {
		return Document{}, s.wrapLookup(opCurrentVersion, err, normalized, documentID)
	}
	var current Document
	err = db.Where("user_id = ? AND version_group_id = ? AND is_current_version = ? AND deleted_at IS NULL",
		normalized, document.VersionGroupID, true).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newServiceError(opCurrentVersion, "no_current_version", ErrVersionNotFound)
	}
	if err != nil {
		s.logError(opCurrentVersion, "query_failed", err, zap.Uint("document_id", documentID))
		return Document{}, newServiceError(opCurrentVersion, "query_failed", err)
	}
	return current, nil
}

// ListVersions returns every visible version of the document's group, newest first.
func (s *Service) ListVersions(ctx context.Context, userID string, documentID uint) ([]Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return nil, newServiceError(opListVersions, "invalid_user_id", err)
	}
	db := s.db.WithContext(ctx)
	document, err := findDocument(db, normalized, documentID)
	if err != nil {
		return nil, s.wrapLookup(opListVersions, err, normalized, documentID)
	}
	var versions []Document
	if err := db.Where("user_id = ? AND version_group_id = ? AND deleted_at IS NULL", normalized, document.VersionGroupID).
		Order("version DESC").
		Find(&versions).Error; err != nil {
		s.logError(opListVersions, "query_failed", err, zap.Uint("document_id", documentID))
		return nil, newServiceError(opListVersions, "query_failed", err)
	}
	return versions, nil
}

// RestoreVersion makes an earlier version current again.
func (s *Service) RestoreVersion(ctx context.Context, userID string, documentID uint, versionNumber int) (Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return Document{}, newServiceError(opRestoreVersion, "invalid_user_id", err)
	}

	var restored Document
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base, members, err := s.resolveGroup(tx, opRestoreVersion, normalized, documentID)
		if err != nil {
			return err
		}
		target, ok := findMember(members, versionNumber)
		if !ok {
			return newServiceError(opRestoreVersion, "version_not_found", ErrVersionNotFound)
		}
		if target.IsCurrentVersion {
			restored = target
			return nil
		}
		previous := currentMember(members, base)
		now := s.clock().UTC()
		previousVersion := previous.Version

		if err := tx.Model(&Document{}).
			Where("user_id = ? AND version_group_id = ? AND is_current_version = ?", normalized, base.VersionGroupID, true).
			Updates(map[string]any{"is_current_version": false, "updated_at": now}).Error; err != nil {
			s.logError(opRestoreVersion, "current_flag_update_failed", err, zap.String("version_group_id", base.VersionGroupID))
			return newServiceError(opRestoreVersion, "current_flag_update_failed", err)
		}
		if err := tx.Model(&Document{}).Where("id = ?", target.ID).Updates(map[string]any{
			"is_current_version":    true,
			"is_archived":           false,
			"archived_at":           nil,
			"restored_from_version": previousVersion,
			"updated_at":            now,
		}).Error; err != nil {
			s.logError(opRestoreVersion, "document_update_failed", err, zap.Uint("document_id", target.ID))
			return newServiceError(opRestoreVersion, "document_update_failed", err)
		}
		target.IsCurrentVersion = true
		target.IsArchived = false
		target.ArchivedAt = nil
		target.RestoredFromVersion = &previousVersion
		target.UpdatedAt = now
		restored = target

		return AppendHistory(tx, &HistoryEntry{
			DocumentID:    target.ID,
			UserID:        normalized,
			VersionNumber: target.Version,
			Action:        HistoryActionRestored,
			Changes: datatypes.JSONMap{
				"restored_version": target.Version,
				"previous_current": previousVersion,
			},
			FilePath:  target.FilePath,
			FileSize:  target.FileSize,
			Checksum:  target.Checksum,
			CreatedAt: now,
		})
	})
	if txErr != nil {
		return Document{}, txErr
	}
	return restored, nil
}

// ArchiveVersion archives a non-current version. Archiving an archived version changes nothing.
func (s *Service) ArchiveVersion(ctx context.Context, userID string, documentID uint, versionNumber int) (Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return Document{}, newServiceError(opArchiveVersion, "invalid_user_id", err)
	}

	var archived Document
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, members, err := s.resolveGroup(tx, opArchiveVersion, normalized, documentID)
		if err != nil {
			return err
		}
		target, ok := findMember(members, versionNumber)
		if !ok {
			return newServiceError(opArchiveVersion, "version_not_found", ErrVersionNotFound)
		}
		if target.IsCurrentVersion {
			return newServiceError(opArchiveVersion, "current_version", ErrCurrentVersion)
		}
		if target.IsArchived {
			archived = target
			return nil
		}
		now := s.clock().UTC()
		if err := archiveMember(tx, &target, now); err != nil {
			s.logError(opArchiveVersion, "document_update_failed", err, zap.Uint("document_id", target.ID))
			return newServiceError(opArchiveVersion, "document_update_failed", err)
		}
		archived = target
		return AppendHistory(tx, &HistoryEntry{
			DocumentID:    target.ID,
			UserID:        normalized,
			VersionNumber: target.Version,
			Action:        HistoryActionArchived,
			Changes:       datatypes.JSONMap{"reason": "manual"},
			FilePath:      target.FilePath,
			FileSize:      target.FileSize,
			Checksum:      target.Checksum,
			CreatedAt:     now,
		})
	})
	if txErr != nil {
		return Document{}, txErr
	}
	return archived, nil
}

// DeleteVersion soft deletes a version, promoting the newest remaining version when the current one goes.
func (s *Service) DeleteVersion(ctx context.Context, userID string, documentID uint, versionNumber int) error {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return newServiceError(opDeleteVersion, "invalid_user_id", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, members, err := s.resolveGroup(tx, opDeleteVersion, normalized, documentID)
		if err != nil {
			return err
		}
		target, ok := findMember(members, versionNumber)
		if !ok {
			return newServiceError(opDeleteVersion, "version_not_found", ErrVersionNotFound)
		}

		successor, remaining := deletionSuccessor(members, target.ID)
		if !target.IsArchived && remaining == 0 {
			return newServiceError(opDeleteVersion, "sole_version", ErrSoleVersion)
		}

		now := s.clock().UTC()
		updates := map[string]any{
			"is_current_version": false,
			"is_archived":        true,
			"deleted_at":         now,
			"updated_at":         now,
		}
		if target.ArchivedAt == nil {
			updates["archived_at"] = now
		}
		if err := tx.Model(&Document{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
			s.logError(opDeleteVersion, "document_update_failed", err, zap.Uint("document_id", target.ID))
			return newServiceError(opDeleteVersion, "document_update_failed", err)
		}

		changes := datatypes.JSONMap{"was_current": target.IsCurrentVersion}
		if target.IsCurrentVersion && successor != nil {
			promotion := map[string]any{"is_current_version": true, "updated_at": now}
			if successor.IsArchived {
				promotion["is_archived"] = false
				promotion["archived_at"] = nil
				changes["unarchived_version"] = successor.Version
			}
			if err := tx.Model(&Document{}).Where("id = ?", successor.ID).Updates(promotion).Error; err != nil {
				s.logError(opDeleteVersion, "promotion_failed", err, zap.Uint("document_id", successor.ID))
				return newServiceError(opDeleteVersion, "promotion_failed", err)
			}
			changes["promoted_version"] = successor.Version
		}

		return AppendHistory(tx, &HistoryEntry{
			DocumentID:    target.ID,
			UserID:        normalized,
			VersionNumber: target.Version,
			Action:        HistoryActionDeleted,
			Changes:       changes,
			FilePath:      target.FilePath,
			FileSize:      target.FileSize,
			Checksum:      target.Checksum,
			CreatedAt:     now,
		})
	})
}

// CompareVersions reports size, content, tag and timing differences between two versions.
func (s *Service) CompareVersions(ctx context.Context, userID string, documentID uint, version1, version2 int) (VersionComparison, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return VersionComparison{}, newServiceError(opCompareVersions, "invalid_user_id", err)
	}
	db := s.db.WithContext(ctx)
	document, err := findDocument(db, normalized, documentID)
	if err != nil {
		return VersionComparison{}, s.wrapLookup(opCompareVersions, err, normalized, documentID)
	}

	var rows []Document
	if err := db.Where("user_id = ? AND version_group_id = ? AND version IN ? AND deleted_at IS NULL",
		normalized, document.VersionGroupID, []int{version1, version2}).
		Find(&rows).Error; err != nil {
		s.logError(opCompareVersions, "query_failed", err, zap.Uint("document_id", documentID))
		return VersionComparison{}, newServiceError(opCompareVersions, "query_failed", err)
	}
	first, ok := findMember(rows, version1)
	if !ok {
		return VersionComparison{}, newServiceError(opCompareVersions, "version_not_found", ErrVersionNotFound)
	}
	second, ok := findMember(rows, version2)
	if !ok {
		return VersionComparison{}, newServiceError(opCompareVersions, "version_not_found", ErrVersionNotFound)
	}

	added, removed := tagDifference(first.Tags, second.Tags)
	return VersionComparison{
		DocumentID:         documentID,
		Version1:           version1,
		Version2:           version2,
		SizeDifference:     second.FileSize - first.FileSize,
		SameContent:        first.Checksum == second.Checksum,
		TagsAdded:          added,
		TagsRemoved:        removed,
		TimeBetweenSeconds: second.CreatedAt.Sub(first.CreatedAt).Seconds(),
	}, nil
}

// resolveGroup loads the document and locks every row of its version group.
func (s *Service) resolveGroup(tx *gorm.DB, operation, userID string, documentID uint) (Document, []Document, error) {
	base, err := findDocument(tx, userID, documentID)
	if err != nil {
		return Document{}, nil, s.wrapLookup(operation, err, userID, documentID)
	}
	if base.VersionGroupID == "" {
		groupID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(operation, "id_generation_failed", err, zap.Uint("document_id", base.ID))
			return Document{}, nil, newServiceError(operation, "id_generation_failed", err)
		}
		if err := tx.Model(&Document{}).Where("id = ?", base.ID).Update("version_group_id", groupID).Error; err != nil {
			s.logError(operation, "group_assign_failed", err, zap.Uint("document_id", base.ID))
			return Document{}, nil, newServiceError(operation, "group_assign_failed", err)
		}
		base.VersionGroupID = groupID
	}

	var members []Document
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND version_group_id = ?", userID, base.VersionGroupID).
		Order("version ASC").
		Find(&members).Error; err != nil {
		s.logError(operation, "group_select_failed", err, zap.String("version_group_id", base.VersionGroupID))
		return Document{}, nil, newServiceError(operation, "group_select_failed", err)
	}
	return base, members, nil
}

func archiveMember(tx *gorm.DB, member *Document, now time.Time) error {
	if err := tx.Model(&Document{}).Where("id = ?", member.ID).Updates(map[string]any{
		"is_archived": true,
		"archived_at": now,
		"updated_at":  now,
	}).Error; err != nil {
		return err
	}
	member.IsArchived = true
	member.ArchivedAt = &now
	member.UpdatedAt = now
	return nil
}

func currentMember(members []Document, fallback Document) Document {
	for _, member := range members {
		if member.IsCurrentVersion && member.DeletedAt == nil {
			return member
		}
	}
	return fallback
}

func findMember(members []Document, versionNumber int) (Document, bool) {
	for _, member := range members {
		if member.Version == versionNumber && member.DeletedAt == nil {
			return member, true
		}
	}
	return Document{}, false
}

// deletionSuccessor picks the version that becomes current when target goes: the newest
// non-archived sibling, else the newest archived one. remaining counts non-deleted siblings.
func deletionSuccessor(members []Document, targetID uint) (*Document, int) {
	var active, archived *Document
	remaining := 0
	for index := range members {
		member := &members[index]
		if member.ID == targetID || member.DeletedAt != nil {
			continue
		}
		remaining++
		if member.IsArchived {
			if archived == nil || member.Version > archived.Version {
				archived = member
			}
			continue
		}
		if active == nil || member.Version > active.Version {
			active = member
		}
	}
	if active != nil {
		return active, remaining
	}
	return archived, remaining
}

// nextVersionKey keeps a group in the layout its current version already uses.
func nextVersionKey(current Document, userID, groupID string, version int, ext string) string {
	if strings.HasPrefix(current.FilePath, path.Join(userID, groupID)+"/") {
		return GroupedFileKey(userID, groupID, version, ext)
	}
	return VersionFileKey(userID, groupID, version, ext)
}

func versionTags(current, requested []string) []string {
	if requested == nil {
		return append([]string(nil), current...)
	}
	return normalizeTags(requested)
}

func tagDifference(before, after []string) ([]string, []string) {
	beforeSet := make(map[string]bool, len(before))
	for _, tag := range before {
		beforeSet[strings.ToLower(tag)] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, tag := range after {
		afterSet[strings.ToLower(tag)] = true
	}
	added := []string{}
	for _, tag := range after {
		if !beforeSet[strings.ToLower(tag)] {
			added = append(added, tag)
		}
	}
	removed := []string{}
	for _, tag := range before {
		if !afterSet[strings.ToLower(tag)] {
			removed = append(removed, tag)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
