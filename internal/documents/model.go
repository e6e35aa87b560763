package documents

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"gorm.io/datatypes"
)

// DocumentType enumerates the career document categories accepted on upload.
type DocumentType string

const (
	DocumentTypeResume               DocumentType = "resume"
	DocumentTypeCoverLetter          DocumentType = "cover_letter"
	DocumentTypePortfolio            DocumentType = "portfolio"
	DocumentTypeWritingSample        DocumentType = "writing_sample"
	DocumentTypeProjectDocumentation DocumentType = "project_documentation"
	DocumentTypeReferenceLetter      DocumentType = "reference_letter"
	DocumentTypeTranscript           DocumentType = "transcript"
	DocumentTypeCertificate          DocumentType = "certificate"
	DocumentTypeOther                DocumentType = "other"
)

var knownDocumentTypes = map[DocumentType]bool{
	DocumentTypeResume:               true,
	DocumentTypeCoverLetter:          true,
	DocumentTypePortfolio:            true,
	DocumentTypeWritingSample:        true,
	DocumentTypeProjectDocumentation: true,
	DocumentTypeReferenceLetter:      true,
	DocumentTypeTranscript:           true,
	DocumentTypeCertificate:          true,
	DocumentTypeOther:                true,
}

// ParseDocumentType normalizes raw input and rejects unknown categories.
func ParseDocumentType(raw string) (DocumentType, error) {
	candidate := DocumentType(strings.ToLower(strings.TrimSpace(raw)))
	if !knownDocumentTypes[candidate] {
		return "", ErrInvalidDocumentType
	}
	return candidate, nil
}

// Document is one stored version of a logical career document.
type Document struct {
	ID                  uint                        `gorm:"column:id;primaryKey" json:"id"`
	UserID              string                      `gorm:"column:user_id;size:190;not null;index:idx_documents_user_group,priority:1" json:"user_id"`
	VersionGroupID      string                      `gorm:"column:version_group_id;size:64;index:idx_documents_user_group,priority:2" json:"version_group_id"`
	Filename            string                      `gorm:"column:filename;size:255;not null" json:"filename"`
	OriginalFilename    string                      `gorm:"column:original_filename;size:255;not null" json:"original_filename"`
	DocumentType        DocumentType                `gorm:"column:document_type;size:64;not null" json:"document_type"`
	MimeType            string                      `gorm:"column:mime_type;size:128;not null" json:"mime_type"`
	FilePath            string                      `gorm:"column:file_path;size:512;not null" json:"file_path"`
	FileSize            int64                       `gorm:"column:file_size;not null" json:"file_size"`
	OriginalSize        int64                       `gorm:"column:original_size;not null" json:"original_size"`
	Checksum            string                      `gorm:"column:checksum;size:64" json:"checksum"`
	Version             int                         `gorm:"column:version;not null;default:1" json:"version"`
	IsCurrentVersion    bool                        `gorm:"column:is_current_version;not null;default:false" json:"is_current_version"`
	IsArchived          bool                        `gorm:"column:is_archived;not null;default:false" json:"is_archived"`
	ArchivedAt          *time.Time                  `gorm:"column:archived_at" json:"archived_at,omitempty"`
	DeletedAt           *time.Time                  `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	IsCompressed        bool                        `gorm:"column:is_compressed;not null;default:false" json:"is_compressed"`
	CompressionType     string                      `gorm:"column:compression_type;size:32" json:"compression_type,omitempty"`
	IsEncrypted         bool                        `gorm:"column:is_encrypted;not null;default:false" json:"is_encrypted"`
	EncryptionAlgorithm string                      `gorm:"column:encryption_algorithm;size:64" json:"encryption_algorithm,omitempty"`
	DataHash            string                      `gorm:"column:data_hash;size:64" json:"data_hash,omitempty"`
	RestoredFromVersion *int                        `gorm:"column:restored_from_version" json:"restored_from_version,omitempty"`
	VersionNotes        string                      `gorm:"column:version_notes;type:text" json:"version_notes,omitempty"`
	Tags                datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags"`
	UsageCount          int                         `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	LastUsed            *time.Time                  `gorm:"column:last_used" json:"last_used,omitempty"`
	ContentAnalysis     datatypes.JSON              `gorm:"column:content_analysis" json:"content_analysis,omitempty"`
	CreatedAt           time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Analysis decodes the stored content analysis. The boolean is false when none was recorded.
func (d Document) Analysis() (analysis.ContentAnalysis, bool) {
	raw := strings.TrimSpace(string(d.ContentAnalysis))
	if raw == "" || raw == "null" {
		return analysis.ContentAnalysis{}, false
	}
	var decoded analysis.ContentAnalysis
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return analysis.ContentAnalysis{}, false
	}
	return decoded, true
}

// SetAnalysis stores the analysis as JSON.
func (d *Document) SetAnalysis(value analysis.ContentAnalysis) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	d.ContentAnalysis = datatypes.JSON(encoded)
	return nil
}

// HistoryAction enumerates the ledger actions.
type HistoryAction string

const (
	HistoryActionCreated    HistoryAction = "created"
	HistoryActionCompressed HistoryAction = "compressed"
	HistoryActionEncrypted  HistoryAction = "encrypted"
	HistoryActionMigrated   HistoryAction = "migrated"
	HistoryActionRestored   HistoryAction = "restored"
	HistoryActionArchived   HistoryAction = "archived"
	HistoryActionDeleted    HistoryAction = "deleted"
)

// HistoryEntry is an immutable audit record of one action on one document version.
type HistoryEntry struct {
	ID              uint              `gorm:"column:id;primaryKey" json:"id"`
	DocumentID      uint              `gorm:"column:document_id;not null;index" json:"document_id"`
	UserID          string            `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	VersionNumber   int               `gorm:"column:version_number;not null" json:"version_number"`
	Action          HistoryAction     `gorm:"column:action;size:32;not null" json:"action"`
	Changes         datatypes.JSONMap `gorm:"column:changes" json:"changes"`
	FilePath        string            `gorm:"column:file_path;size:512" json:"file_path"`
	FileSize        int64             `gorm:"column:file_size" json:"file_size"`
	Checksum        string            `gorm:"column:checksum;size:64" json:"checksum"`
	CreatedBy       string            `gorm:"column:created_by;size:190" json:"created_by"`
	VersionMetadata datatypes.JSONMap `gorm:"column:version_metadata" json:"version_metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "document_history"
}

// ItemStatus is the outcome of one unit of bulk work.
type ItemStatus string

const (
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusSkipped   ItemStatus = "skipped"
	ItemStatusFailed    ItemStatus = "failed"
)

// ItemResult records what happened to one document during a bulk operation.
type ItemResult struct {
	DocumentID uint       `json:"document_id"`
	Version    int        `json:"version"`
	Status     ItemStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
}
