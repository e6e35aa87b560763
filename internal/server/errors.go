package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalErrorReason = "internal_error"

type errorStatus struct {
	target error
	status int
	reason string
}

var errorStatuses = []errorStatus{
	{documents.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"},
	{documents.ErrVersionNotFound, http.StatusNotFound, "version_not_found"},
	{migrations.ErrMigrationNotFound, http.StatusNotFound, "migration_not_found"},
	{jobs.ErrJobNotFound, http.StatusNotFound, "job_not_found"},

	{documents.ErrDuplicateVersion, http.StatusBadRequest, "duplicate_version"},
	{documents.ErrMimeTypeMismatch, http.StatusBadRequest, "mime_type_mismatch"},
	{documents.ErrCurrentVersion, http.StatusBadRequest, "current_version"},
	{documents.ErrSoleVersion, http.StatusBadRequest, "sole_version"},
	{documents.ErrInvalidDocumentType, http.StatusBadRequest, "invalid_document_type"},
	{documents.ErrEmptyContent, http.StatusBadRequest, "empty_content"},
	{documents.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{documents.ErrInvalidKeepVersions, http.StatusBadRequest, "invalid_keep_versions"},
	{migrations.ErrInvalidMigrationType, http.StatusBadRequest, "invalid_migration_type"},
	{migrations.ErrInvalidParameters, http.StatusBadRequest, "invalid_parameters"},
	{migrations.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{jobs.ErrMissingTitle, http.StatusBadRequest, "missing_title"},
	{jobs.ErrInvalidExperienceLevel, http.StatusBadRequest, "invalid_experience_level"},
	{jobs.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{users.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{users.ErrWeakPassword, http.StatusBadRequest, "weak_password"},

	{migrations.ErrNotPending, http.StatusConflict, "not_pending"},
	{users.ErrEmailTaken, http.StatusConflict, "email_taken"},

	{users.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},

	{jobs.ErrFeedNotConfigured, http.StatusServiceUnavailable, "feed_not_configured"},
	{jobs.ErrFeedMalformed, http.StatusBadGateway, "feed_malformed"},
}

type codedError interface {
	Code() string
}

// respondError maps service errors onto HTTP statuses with a stable reason and code.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, reason, code := classifyError(err, http.StatusInternalServerError, internalErrorReason)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	abortWithError(c, status, reason, code)
}

func classifyError(err error, fallbackStatus int, fallbackReason string) (int, string, string) {
	status := fallbackStatus
	reason := fallbackReason
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.target) {
			status = candidate.status
			reason = candidate.reason
			break
		}
	}
	code := ""
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	return status, reason, code
}

func abortWithError(c *gin.Context, status int, reason, code string) {
	body := gin.H{"error": reason}
	if code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func respondBadRequest(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": reason})
}
