// Package server exposes the HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/matching"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey        = "copilot_user_id"
	defaultHeartbeatPeriod  = 15 * time.Second
	maxUploadMemoryBytes    = 32 << 20
	accessTokenQueryParam   = "access_token"
	authorizationBearerWord = "Bearer "
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsers         = errors.New("users service dependency required")
	errMissingDocuments     = errors.New("documents service dependency required")
	errMissingMigrations    = errors.New("migrations service dependency required")
	errMissingJobs          = errors.New("jobs service dependency required")
	errMissingMatching      = errors.New("matching service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// EventSubscriber streams a user's migration events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan events.Event, func())
}

// JobFeed fetches postings from the configured external feed.
type JobFeed interface {
	Fetch(ctx context.Context) ([]jobs.Posting, error)
}

// Dependencies lists the collaborators of the HTTP handler.
type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Documents    *documents.Service
	Migrations   *migrations.Service
	Jobs         *jobs.Service
	Matching     *matching.Service
	JobFeed      JobFeed
	Events       EventSubscriber
	Logger       *zap.Logger
	Heartbeat    time.Duration
}

// NewHTTPHandler builds the gin engine with every route registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Documents == nil {
		return nil, errMissingDocuments
	}
	if deps.Migrations == nil {
		return nil, errMissingMigrations
	}
	if deps.Jobs == nil {
		return nil, errMissingJobs
	}
	if deps.Matching == nil {
		return nil, errMissingMatching
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}

	router := gin.New()
	router.MaxMultipartMemory = maxUploadMemoryBytes
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		users:      deps.Users,
		documents:  deps.Documents,
		migrations: deps.Migrations,
		jobs:       deps.Jobs,
		matching:   deps.Matching,
		jobFeed:    deps.JobFeed,
		events:     deps.Events,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/documents", handler.handleUploadDocument)
	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents/versions/cleanup", handler.handleCleanupVersions)
	protected.GET("/documents/:id", handler.handleGetDocument)
	protected.GET("/documents/:id/content", handler.handleDocumentContent)
	protected.GET("/documents/:id/history", handler.handleDocumentHistory)
	protected.POST("/documents/:id/versions", handler.handleCreateVersion)
	protected.GET("/documents/:id/versions", handler.handleListVersions)
	protected.GET("/documents/:id/versions/current", handler.handleCurrentVersion)
	protected.GET("/documents/:id/versions/compare", handler.handleCompareVersions)
	protected.POST("/documents/:id/versions/:version/restore", handler.handleRestoreVersion)
	protected.POST("/documents/:id/versions/:version/archive", handler.handleArchiveVersion)
	protected.DELETE("/documents/:id/versions/:version", handler.handleDeleteVersion)

	protected.POST("/migrations", handler.handleCreateMigration)
	protected.GET("/migrations", handler.handleListMigrations)
	protected.GET("/migrations/recommendations", handler.handleMigrationRecommendations)
	protected.GET("/migrations/:id", handler.handleGetMigration)
	protected.POST("/migrations/:id/cancel", handler.handleCancelMigration)
	protected.GET("/migrations/:id/events", handler.handleMigrationEvents)

	protected.POST("/jobs", handler.handleCreateJob)
	protected.GET("/jobs", handler.handleListJobs)
	protected.POST("/jobs/ingest", handler.handleIngestJobs)
	protected.GET("/jobs/:id", handler.handleGetJob)

	protected.GET("/document-suggestions/job/:job_id", handler.handleSuggestionsForJob)
	protected.GET("/document-suggestions/portfolio-analysis", handler.handlePortfolioAnalysis)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	users      *users.Service
	documents  *documents.Service
	migrations *migrations.Service
	jobs       *jobs.Service
	matching   *matching.Service
	jobFeed    JobFeed
	events     EventSubscriber
	logger     *zap.Logger
	heartbeat  time.Duration
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, authorizationBearerWord) {
		token = strings.TrimSpace(strings.TrimPrefix(header, authorizationBearerWord))
	} else if header == "" && c.Request.Method == http.MethodGet {
		// EventSource cannot set headers, so streams pass the token in the query.
		token = strings.TrimSpace(c.Query(accessTokenQueryParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
