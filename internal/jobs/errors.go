package jobs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrJobNotFound indicates that the user has no job with the requested id.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("jobs: invalid user id")
	// ErrMissingTitle indicates a posting without a title.
	ErrMissingTitle = errors.New("jobs: title is required")
	// ErrInvalidExperienceLevel indicates a level outside entry, mid, senior and lead.
	ErrInvalidExperienceLevel = errors.New("jobs: invalid experience level")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
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
	opServiceNew = "jobs.service.new"
	opCreate     = "jobs.create"
	opGet        = "jobs.get"
	opList       = "jobs.list"
	opIngest     = "jobs.ingest"
	opFetch      = "jobs.feed.fetch"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
