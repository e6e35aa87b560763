package documents

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrDocumentNotFound indicates that the document does not exist for the user.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrVersionNotFound indicates that the version number does not exist in the group.
	ErrVersionNotFound = errors.New("documents: version not found")
	// ErrMimeTypeMismatch indicates that a new version differs in type from the document.
	ErrMimeTypeMismatch = errors.New("documents: file type does not match original document")
	// ErrDuplicateVersion indicates that identical content already exists in the group.
	ErrDuplicateVersion = errors.New("documents: duplicate version, content already exists")
	// ErrCurrentVersion indicates an attempt to archive the current version.
	ErrCurrentVersion = errors.New("documents: cannot archive current version, create new version first")
	// ErrSoleVersion indicates an attempt to delete the only remaining version.
	ErrSoleVersion = errors.New("documents: cannot delete the only version of a document")
	// ErrInvalidDocumentType indicates an unknown document category.
	ErrInvalidDocumentType = errors.New("documents: invalid document type")
	// ErrEmptyContent indicates an upload without bytes.
	ErrEmptyContent = errors.New("documents: file content is empty")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrInvalidKeepVersions indicates a negative retention count.
	ErrInvalidKeepVersions = errors.New("documents: keep versions must not be negative")
	// ErrIntegrityMismatch indicates that stored bytes no longer match their recorded hashes.
	ErrIntegrityMismatch = errors.New("documents: integrity check failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingStore      = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCodec      = errors.New("compression and encryption services are required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "documents.service.new"
	opUpload          = "documents.upload"
	opList            = "documents.list"
	opGet             = "documents.get"
	opReadContent     = "documents.read_content"
	opListHistory     = "documents.list_history"
	opCreateVersion   = "documents.create_version"
	opCurrentVersion  = "documents.current_version"
	opListVersions    = "documents.list_versions"
	opRestoreVersion  = "documents.restore_version"
	opArchiveVersion  = "documents.archive_version"
	opDeleteVersion   = "documents.delete_version"
	opCompareVersions = "documents.compare_versions"
	opCleanupVersions = "documents.cleanup_versions"
	opDecodePayload   = "documents.decode_payload"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
