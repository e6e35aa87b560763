package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"go.uber.org/zap"
)

const (
	largeFileThresholdBytes = 1 << 20
	oldVersionThreshold     = 50
)

const (
	priorityHigh   = "high"
	priorityMedium = "medium"
	priorityLow    = "low"
)

// Per-document time estimates, in seconds.
var secondsPerDocument = map[Type]int{
	TypeVersionUpgrade: 1,
	TypeCompression:    3,
	TypeEncryption:     2,
	TypeCleanup:        1,
}

// Recommendations scans the user's documents and suggests migrations worth running.
func (s *Service) Recommendations(ctx context.Context, userID string) ([]Recommendation, error) {
	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return nil, newServiceError(opRecommendations, "invalid_user_id", ErrInvalidUserID)
	}
	var rows []documents.Document
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", normalizedUser).
		Find(&rows).Error; err != nil {
		s.logError(opRecommendations, "query_failed", err, zap.String("user_id", normalizedUser))
		return nil, newServiceError(opRecommendations, "query_failed", err)
	}

	var legacy, uncompressed, unencrypted, oldVersions int
	for _, row := range rows {
		if row.VersionGroupID == "" || row.Checksum == "" {
			legacy++
		}
		if !row.IsCompressed && !row.IsEncrypted && !row.IsArchived && row.FileSize >= largeFileThresholdBytes {
			uncompressed++
		}
		if !row.IsEncrypted && !row.IsArchived {
			unencrypted++
		}
		if !row.IsCurrentVersion && !row.IsArchived {
			oldVersions++
		}
	}

	recommendations := []Recommendation{}
	if legacy > 0 {
		recommendations = append(recommendations, newRecommendation(TypeVersionUpgrade, priorityHigh, legacy,
			fmt.Sprintf("%d documents are missing version tracking data", legacy)))
	}
	if uncompressed > 0 {
		recommendations = append(recommendations, newRecommendation(TypeCompression, priorityMedium, uncompressed,
			fmt.Sprintf("%d large documents can be compressed to save space", uncompressed)))
	}
	if unencrypted > 0 {
		recommendations = append(recommendations, newRecommendation(TypeEncryption, priorityHigh, unencrypted,
			fmt.Sprintf("%d documents are stored without encryption", unencrypted)))
	}
	if oldVersions > oldVersionThreshold {
		recommendations = append(recommendations, newRecommendation(TypeCleanup, priorityLow, oldVersions,
			fmt.Sprintf("%d old versions can be archived", oldVersions)))
	}
	return recommendations, nil
}

func newRecommendation(migrationType Type, priority string, affected int, description string) Recommendation {
	return Recommendation{
		MigrationType:     migrationType,
		Priority:          priority,
		Description:       description,
		AffectedDocuments: affected,
		EstimatedSeconds:  affected * secondsPerDocument[migrationType],
	}
}
