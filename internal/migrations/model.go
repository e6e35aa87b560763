package migrations

import (
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"gorm.io/datatypes"
)

// Type names a bulk transformation over a user's documents.
type Type string

const (
	TypeVersionUpgrade Type = "version_upgrade"
	TypeCompression    Type = "compression_migration"
	TypeEncryption     Type = "encryption_migration"
	TypeStorage        Type = "storage_migration"
	TypeFormat         Type = "format_migration"
	TypeCleanup        Type = "cleanup_migration"
)

// ParseType rejects unknown migration types.
func ParseType(raw string) (Type, error) {
	switch candidate := Type(raw); candidate {
	case TypeVersionUpgrade, TypeCompression, TypeEncryption, TypeStorage, TypeFormat, TypeCleanup:
		return candidate, nil
	default:
		return "", ErrInvalidMigrationType
	}
}

// Status is the lifecycle state of a migration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Log events written to a migration's log.
const (
	logEventCreated       = "migration_created"
	logEventStarted       = "migration_started"
	logEventProgress      = "progress_update"
	logEventDocumentError = "document_error"
	logEventCompleted     = "migration_completed"
	logEventFailed        = "migration_failed"
	logEventCancelled     = "migration_cancelled"
)

// LogEntry is one timestamped line of a migration log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Summary aggregates per-document outcomes of a run.
type Summary struct {
	Total     int                    `json:"total"`
	Succeeded int                    `json:"succeeded"`
	Skipped   int                    `json:"skipped"`
	Failed    int                    `json:"failed"`
	Items     []documents.ItemResult `json:"items"`
}

// Add records one item outcome.
func (s *Summary) Add(item documents.ItemResult) {
	s.Total++
	switch item.Status {
	case documents.ItemStatusSucceeded:
		s.Succeeded++
	case documents.ItemStatusSkipped:
		s.Skipped++
	case documents.ItemStatusFailed:
		s.Failed++
	}
	s.Items = append(s.Items, item)
}

// Migration tracks one bulk run for one user.
type Migration struct {
	ID                uint                          `gorm:"column:id;primaryKey" json:"-"`
	MigrationID       string                        `gorm:"column:migration_id;size:64;not null;uniqueIndex" json:"migration_id"`
	UserID            string                        `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	MigrationType     Type                          `gorm:"column:migration_type;size:64;not null" json:"migration_type"`
	Status            Status                        `gorm:"column:status;size:32;not null;index" json:"status"`
	Progress          int                           `gorm:"column:progress;not null;default:0" json:"progress"`
	MigrationLog      datatypes.JSONSlice[LogEntry] `gorm:"column:migration_log" json:"migration_log"`
	ErrorMessage      string                        `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	DocumentsAffected int                           `gorm:"column:documents_affected;not null;default:0" json:"documents_affected"`
	Parameters        datatypes.JSONMap             `gorm:"column:parameters" json:"parameters,omitempty"`
	Summary           datatypes.JSONType[Summary]   `gorm:"column:summary" json:"summary"`
	StartedAt         *time.Time                    `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time                    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time                     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time                     `gorm:"column:updated_at" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Migration) TableName() string {
	return "document_version_migrations"
}

// Recommendation suggests a migration worth running for the user.
type Recommendation struct {
	MigrationType     Type   `json:"migration_type"`
	Priority          string `json:"priority"`
	Description       string `json:"description"`
	AffectedDocuments int    `json:"affected_documents"`
	EstimatedSeconds  int    `json:"estimated_seconds"`
}
