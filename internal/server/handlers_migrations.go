package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/migrations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventStatus    = "migration.status"
	streamEventHeartbeat = "heartbeat"
)

type createMigrationRequest struct {
	MigrationType string         `json:"migration_type"`
	Parameters    map[string]any `json:"parameters"`
}

func (h *httpHandler) handleCreateMigration(c *gin.Context) {
	var payload createMigrationRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid_json")
		return
	}
	migration, err := h.migrations.Create(c.Request.Context(), currentUserID(c), payload.MigrationType, payload.Parameters)
	if err != nil {
		h.respondError(c, "migrations.create", err)
		return
	}
	c.JSON(http.StatusAccepted, migration)
}

func (h *httpHandler) handleListMigrations(c *gin.Context) {
	list, err := h.migrations.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "migrations.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"migrations": list})
}

func (h *httpHandler) handleMigrationRecommendations(c *gin.Context) {
	recommendations, err := h.migrations.Recommendations(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "migrations.recommendations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recommendations})
}

func (h *httpHandler) handleGetMigration(c *gin.Context) {
	migration, err := h.migrations.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "migrations.get", err)
		return
	}
	c.JSON(http.StatusOK, migration)
}

func (h *httpHandler) handleCancelMigration(c *gin.Context) {
	migration, err := h.migrations.Cancel(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "migrations.cancel", err)
		return
	}
	c.JSON(http.StatusOK, migration)
}

// handleMigrationEvents streams lifecycle events for one migration until it reaches a terminal state.
func (h *httpHandler) handleMigrationEvents(c *gin.Context) {
	if h.events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "events_unavailable"})
		return
	}
	userID := currentUserID(c)
	migrationID := c.Param("id")
	ctx := c.Request.Context()

	// Subscribe before reading the row so no transition between the two is lost.
	stream, unsubscribe := h.events.Subscribe(ctx, userID)
	defer unsubscribe()

	migration, err := h.migrations.Get(ctx, userID, migrationID)
	if err != nil {
		h.respondError(c, "migrations.events", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(streamEventStatus, statusSnapshot(migration))
	c.Writer.Flush()
	if migrationFinished(migration.Status) {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"migration_id": migrationID})
			c.Writer.Flush()
		case event, ok := <-stream:
			if !ok {
				return
			}
			if event.MigrationID != migrationID {
				continue
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
			if event.Terminal() {
				h.logger.Debug("migration stream finished",
					zap.String("migration_id", migrationID),
					zap.String("status", event.Status),
				)
				return
			}
		}
	}
}

func statusSnapshot(migration migrations.Migration) events.Event {
	return events.Event{
		Type:        streamEventStatus,
		UserID:      migration.UserID,
		MigrationID: migration.MigrationID,
		Status:      string(migration.Status),
		Progress:    migration.Progress,
		Message:     migration.ErrorMessage,
		OccurredAt:  migration.UpdatedAt.UTC(),
	}
}

func migrationFinished(status migrations.Status) bool {
	switch status {
	case migrations.StatusCompleted, migrations.StatusFailed, migrations.StatusCancelled:
		return true
	default:
		return false
	}
}
