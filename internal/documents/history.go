package documents

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppendHistory writes one ledger row inside the caller's transaction.
func AppendHistory(tx *gorm.DB, entry *HistoryEntry) error {
	if entry.CreatedBy == "" {
		entry.CreatedBy = entry.UserID
	}
	if err := tx.Create(entry).Error; err != nil {
		return newServiceError("documents.history", "insert_failed", err)
	}
	return nil
}

// ListHistory returns the ledger of every version in the document's group, oldest first.
func (s *Service) ListHistory(ctx context.Context, userID string, documentID uint) ([]HistoryEntry, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return nil, newServiceError(opListHistory, "invalid_user_id", err)
	}
	db := s.db.WithContext(ctx)
	document, err := findDocument(db, normalized, documentID)
	if err != nil {
		return nil, s.wrapLookup(opListHistory, err, normalized, documentID)
	}

	memberIDs := db.Model(&Document{}).
		Select("id").
		Where("user_id = ? AND version_group_id = ?", normalized, document.VersionGroupID)

	var entries []HistoryEntry
	if err := db.Where("user_id = ? AND document_id IN (?)", normalized, memberIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		s.logError(opListHistory, "query_failed", err, zap.Uint("document_id", documentID))
		return nil, newServiceError(opListHistory, "query_failed", err)
	}
	return entries, nil
}
