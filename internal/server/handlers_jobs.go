package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const feedSource = "feed"

type ingestRequest struct {
	Source string         `json:"source"`
	Jobs   []jobs.Posting `json:"jobs"`
}

func (h *httpHandler) handleCreateJob(c *gin.Context) {
	var posting jobs.Posting
	if err := c.ShouldBindJSON(&posting); err != nil {
		respondBadRequest(c, "invalid_json")
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), currentUserID(c), posting)
	if err != nil {
		h.respondError(c, "jobs.create", err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *httpHandler) handleListJobs(c *gin.Context) {
	list, err := h.jobs.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "jobs.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (h *httpHandler) handleGetJob(c *gin.Context) {
	jobID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), currentUserID(c), jobID)
	if err != nil {
		h.respondError(c, "jobs.get", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleIngestJobs imports postings from the request body, or from the configured feed when the body is empty.
func (h *httpHandler) handleIngestJobs(c *gin.Context) {
	var payload ingestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondBadRequest(c, "invalid_json")
			return
		}
	}

	postings := payload.Jobs
	source := payload.Source
	if len(postings) == 0 {
		if h.jobFeed == nil {
			h.respondError(c, "jobs.ingest", jobs.ErrFeedNotConfigured)
			return
		}
		fetched, err := h.jobFeed.Fetch(c.Request.Context())
		if err != nil {
			h.logger.Warn("job feed fetch failed", zap.Error(err))
			respondFeedError(c, err)
			return
		}
		postings = fetched
		source = feedSource
	}

	result, err := h.jobs.Ingest(c.Request.Context(), currentUserID(c), source, postings)
	if err != nil {
		h.respondError(c, "jobs.ingest", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondFeedError(c *gin.Context, err error) {
	status, reason, code := classifyError(err, http.StatusBadGateway, "feed_unavailable")
	abortWithError(c, status, reason, code)
}

func (h *httpHandler) handleSuggestionsForJob(c *gin.Context) {
	jobID, ok := pathUint(c, "job_id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, "invalid_limit")
			return
		}
		limit = parsed
	}
	suggestions, err := h.matching.SuggestForJob(c.Request.Context(), currentUserID(c), jobID, limit)
	if err != nil {
		h.respondError(c, "matching.suggest_for_job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "suggestions": suggestions})
}

func (h *httpHandler) handlePortfolioAnalysis(c *gin.Context) {
	analysis, err := h.matching.PortfolioAnalysis(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "matching.portfolio_analysis", err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
