package documents

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Compressor compresses payloads and decides whether a payload is worth compressing.
type Compressor interface {
	ShouldCompress(mimeType string, size int64) bool
	Compress(data []byte) ([]byte, string, error)
	Decompress(data []byte, algorithm string) ([]byte, error)
}

// Encryptor seals payloads at rest.
type Encryptor interface {
	Algorithm() string
	Encrypt(plaintext []byte) ([]byte, error)
	DecryptWith(algorithm string, payload []byte) ([]byte, error)
	Hash(data []byte) string
}

// ContentAnalyzer summarizes document text.
type ContentAnalyzer interface {
	Analyze(mimeType string, content []byte) (analysis.ContentAnalysis, error)
}

// ServiceConfig wires the document service collaborators.
type ServiceConfig struct {
	Database   *gorm.DB
	Store      storage.BlobStore
	Compressor Compressor
	Encryptor  Encryptor
	Analyzer   ContentAnalyzer
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages uploads, version groups and the history ledger.
type Service struct {
	db         *gorm.DB
	store      storage.BlobStore
	compressor Compressor
	encryptor  Encryptor
	analyzer   ContentAnalyzer
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Compressor == nil || cfg.Encryptor == nil {
		return nil, newServiceError(opServiceNew, "missing_codec", errMissingCodec)
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
		store:      cfg.Store,
		compressor: cfg.Compressor,
		encryptor:  cfg.Encryptor,
		analyzer:   cfg.Analyzer,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// UploadRequest describes a first upload that starts a new version group.
type UploadRequest struct {
	UserID       string
	Filename     string
	DocumentType string
	Content      []byte
	Tags         []string
}

// Upload stores version 1 of a new document.
func (s *Service) Upload(ctx context.Context, request UploadRequest) (Document, error) {
	userID, err := normalizeUserID(request.UserID)
	if err != nil {
		return Document{}, newServiceError(opUpload, "invalid_user_id", err)
	}
	documentType, err := ParseDocumentType(request.DocumentType)
	if err != nil {
		return Document{}, newServiceError(opUpload, "invalid_document_type", err)
	}
	if len(request.Content) == 0 {
		return Document{}, newServiceError(opUpload, "empty_content", ErrEmptyContent)
	}

	groupID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpload, "id_generation_failed", err, zap.String("user_id", userID))
		return Document{}, newServiceError(opUpload, "id_generation_failed", err)
	}

	filename := cleanFilename(request.Filename)
	mimeType := storage.DetectMimeType(request.Content)
	key := VersionFileKey(userID, groupID, 1, storage.Extension(filename, request.Content))
	now := s.clock().UTC()

	document := Document{
		UserID:           userID,
		VersionGroupID:   groupID,
		Filename:         filename,
		OriginalFilename: filename,
		DocumentType:     documentType,
		MimeType:         mimeType,
		FilePath:         key,
		FileSize:         int64(len(request.Content)),
		OriginalSize:     int64(len(request.Content)),
		Checksum:         Checksum(request.Content),
		Version:          1,
		IsCurrentVersion: true,
		Tags:             datatypes.JSONSlice[string](normalizeTags(request.Tags)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.analyze(&document, request.Content)

	if err := s.store.Put(ctx, key, request.Content, mimeType); err != nil {
		s.logError(opUpload, "blob_write_failed", err, zap.String("user_id", userID), zap.String("file_path", key))
		return Document{}, newServiceError(opUpload, "blob_write_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			s.logError(opUpload, "document_insert_failed", err, zap.String("user_id", userID))
			return newServiceError(opUpload, "document_insert_failed", err)
		}
		return AppendHistory(tx, &HistoryEntry{
			DocumentID:    document.ID,
			UserID:        userID,
			VersionNumber: 1,
			Action:        HistoryActionCreated,
			Changes: datatypes.JSONMap{
				"new_version": 1,
				"file_size":   document.FileSize,
				"checksum":    document.Checksum,
			},
			FilePath:  key,
			FileSize:  document.FileSize,
			Checksum:  document.Checksum,
			CreatedBy: userID,
			CreatedAt: now,
		})
	})
	if txErr != nil {
		s.discardBlob(ctx, opUpload, key)
		return Document{}, txErr
	}
	return document, nil
}

// List returns the user's current versions, or every visible version when includeArchived is set.
func (s *Service) List(ctx context.Context, userID string, includeArchived bool) ([]Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return nil, newServiceError(opList, "invalid_user_id", err)
	}
	query := s.db.WithContext(ctx).Where("user_id = ? AND deleted_at IS NULL", normalized)
	if !includeArchived {
		query = query.Where("is_current_version = ?", true)
	}
	var documents []Document
	if err := query.Order("created_at DESC").Order("id DESC").Find(&documents).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", normalized))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return documents, nil
}

// Get loads one visible document of the user.
func (s *Service) Get(ctx context.Context, userID string, documentID uint) (Document, error) {
	normalized, err := normalizeUserID(userID)
	if err != nil {
		return Document{}, newServiceError(opGet, "invalid_user_id", err)
	}
	document, err := findDocument(s.db.WithContext(ctx), normalized, documentID)
	if err != nil {
		return Document{}, s.wrapLookup(opGet, err, normalized, documentID)
	}
	return document, nil
}

// ReadContent returns the plaintext of a document and records the usage.
func (s *Service) ReadContent(ctx context.Context, userID string, documentID uint) ([]byte, Document, error) {
	document, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, Document{}, err
	}
	content, err := s.Payload(ctx, document)
	if err != nil {
		return nil, Document{}, err
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", document.ID).
		UpdateColumns(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"last_used":   now,
		}).Error; err != nil {
		s.logError(opReadContent, "usage_update_failed", err, zap.Uint("document_id", document.ID))
		return nil, Document{}, newServiceError(opReadContent, "usage_update_failed", err)
	}
	document.UsageCount++
	document.LastUsed = &now
	return content, document, nil
}

// Payload reads the stored blob and undoes encryption and compression, verifying both hashes.
func (s *Service) Payload(ctx context.Context, document Document) ([]byte, error) {
	stored, err := s.store.Get(ctx, document.FilePath)
	if err != nil {
		s.logError(opDecodePayload, "blob_read_failed", err, zap.Uint("document_id", document.ID), zap.String("file_path", document.FilePath))
		return nil, newServiceError(opDecodePayload, "blob_read_failed", err)
	}
	return s.Decode(document, stored)
}

// Decode reverses the at-rest transformations recorded on the document.
func (s *Service) Decode(document Document, stored []byte) ([]byte, error) {
	content := stored
	if document.IsEncrypted {
		decrypted, err := s.encryptor.DecryptWith(document.EncryptionAlgorithm, content)
		if err != nil {
			return nil, newServiceError(opDecodePayload, "decrypt_failed", err)
		}
		if document.DataHash != "" && s.encryptor.Hash(decrypted) != document.DataHash {
			return nil, newServiceError(opDecodePayload, "data_hash_mismatch", ErrIntegrityMismatch)
		}
		content = decrypted
	}
	if document.IsCompressed {
		decompressed, err := s.compressor.Decompress(content, document.CompressionType)
		if err != nil {
			return nil, newServiceError(opDecodePayload, "decompress_failed", err)
		}
		content = decompressed
	}
	if document.Checksum != "" && Checksum(content) != document.Checksum {
		return nil, newServiceError(opDecodePayload, "checksum_mismatch", ErrIntegrityMismatch)
	}
	return content, nil
}

func (s *Service) analyze(document *Document, content []byte) {
	if s.analyzer == nil {
		return
	}
	result, err := s.analyzer.Analyze(document.MimeType, content)
	if err != nil {
		if !errors.Is(err, analysis.ErrUnsupportedContent) {
			s.loggerOrDefault().Warn("content analysis failed",
				zap.String("mime_type", document.MimeType),
				zap.Error(err))
		}
		return
	}
	if err := document.SetAnalysis(result); err != nil {
		s.loggerOrDefault().Warn("content analysis encode failed", zap.Error(err))
	}
}

func (s *Service) discardBlob(ctx context.Context, operation, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logError(operation, "blob_cleanup_failed", err, zap.String("file_path", key))
	}
}

func (s *Service) wrapLookup(operation string, err error, userID string, documentID uint) error {
	if errors.Is(err, ErrDocumentNotFound) {
		return newServiceError(operation, "document_not_found", err)
	}
	s.logError(operation, "query_failed", err, zap.String("user_id", userID), zap.Uint("document_id", documentID))
	return newServiceError(operation, "query_failed", err)
}

func findDocument(db *gorm.DB, userID string, documentID uint) (Document, error) {
	var document Document
	err := db.Where("id = ? AND user_id = ? AND deleted_at IS NULL", documentID, userID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return document, nil
}

func normalizeUserID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidUserID
	}
	return trimmed, nil
}

func cleanFilename(raw string) string {
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/")))
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		key := strings.ToLower(trimmed)
		if trimmed == "" || seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, trimmed)
	}
	return normalized
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
	s.loggerOrDefault().Error("documents service error", attrs...)
}
