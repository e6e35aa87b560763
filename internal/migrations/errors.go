package migrations

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrMigrationNotFound indicates that no migration exists for the user and id.
	ErrMigrationNotFound = errors.New("migrations: migration not found")
	// ErrInvalidMigrationType indicates an unknown migration type.
	ErrInvalidMigrationType = errors.New("migrations: invalid migration type")
	// ErrInvalidParameters indicates malformed migration parameters.
	ErrInvalidParameters = errors.New("migrations: invalid parameters")
	// ErrNotPending indicates that the migration has already left the pending state.
	ErrNotPending = errors.New("migrations: migration is not pending")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("migrations: invalid user id")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingDocuments = errors.New("document service is required")
	errMissingStore     = errors.New("blob store is required")
	errMissingCodec     = errors.New("compression and encryption services are required")
	noOpLogger          = zap.NewNop()
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
	opServiceNew      = "migrations.service.new"
	opCreate          = "migrations.create"
	opExecute         = "migrations.execute"
	opGet             = "migrations.get"
	opList            = "migrations.list"
	opCancel          = "migrations.cancel"
	opRecommendations = "migrations.recommendations"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
