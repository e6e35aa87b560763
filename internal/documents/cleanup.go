package documents

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CleanupResult aggregates one retention pass over a user's version groups.
type CleanupResult struct {
	GroupsProcessed  int          `json:"groups_processed"`
	VersionsArchived int          `json:"versions_archived"`
	SpaceFreed       int64        `json:"space_freed"`
	Items            []ItemResult `json:"items"`
}

// CleanupOldVersions archives every version outside the keepVersions most recent ones of each group.
// The current version is always retained.
func (s *Service) CleanupOldVersions(ctx context.Context, userID string, keepVersions int) (CleanupResult, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return CleanupResult{}, newServiceError(opCleanupVersions, "invalid_user_id", err)
	}
	if keepVersions < 0 {
		return CleanupResult{}, newServiceError(opCleanupVersions, "invalid_keep_versions", ErrInvalidKeepVersions)
	}

	result := CleanupResult{Items: []ItemResult{}}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND is_archived = ? AND deleted_at IS NULL", normalized, false).
			Order("version_group_id ASC").
			Order("version DESC").
			Find(&active).Error; err != nil {
			s.logError(opCleanupVersions, "query_failed", err, zap.String("user_id", normalized))
			return newServiceError(opCleanupVersions, "query_failed", err)
		}

		now := s.clock().UTC()
		groups := groupByVersionGroup(active)
		result.GroupsProcessed = len(groups)
		for _, members := range groups {
			for rank, member := range members {
				if rank < keepVersions || member.IsCurrentVersion {
					continue
				}
				if err := archiveMember(tx, &member, now); err != nil {
					s.logError(opCleanupVersions, "document_update_failed", err, zap.Uint("document_id", member.ID))
					return newServiceError(opCleanupVersions, "document_update_failed", err)
				}
				if err := AppendHistory(tx, &HistoryEntry{
					DocumentID:    member.ID,
					UserID:        normalized,
					VersionNumber: member.Version,
					Action:        HistoryActionArchived,
					Changes: datatypes.JSONMap{
						"reason":        "cleanup",
						"keep_versions": keepVersions,
					},
					FilePath:  member.FilePath,
					FileSize:  member.FileSize,
					Checksum:  member.Checksum,
					CreatedBy: "system",
					CreatedAt: now,
				}); err != nil {
					return err
				}
				result.VersionsArchived++
				result.SpaceFreed += member.FileSize
				result.Items = append(result.Items, ItemResult{
					DocumentID: member.ID,
					Version:    member.Version,
					Status:     ItemStatusSucceeded,
				})
			}
		}
		return nil
	})
	if txErr != nil {
		return CleanupResult{}, txErr
	}

	s.loggerOrDefault().Info("version cleanup finished",
		zap.String("user_id", normalized),
		zap.Int("keep_versions", keepVersions),
		zap.Int("versions_archived", result.VersionsArchived),
		zap.Int64("space_freed", result.SpaceFreed))
	return result, nil
}

// groupByVersionGroup splits rows already ordered by group then version descending.
func groupByVersionGroup(rows []Document) [][]Document {
	var groups [][]Document
	for _, row := range rows {
		if len(groups) == 0 || groups[len(groups)-1][0].VersionGroupID != row.VersionGroupID {
			groups = append(groups, []Document{row})
			continue
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], row)
	}
	return groups
}
