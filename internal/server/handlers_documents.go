package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/gin-gonic/gin"
)

const defaultCleanupKeepVersions = 5

type cleanupRequest struct {
	KeepVersions *int `json:"keep_versions"`
}

func (h *httpHandler) handleUploadDocument(c *gin.Context) {
	filename, content, ok := readUploadedFile(c)
	if !ok {
		return
	}
	document, err := h.documents.Upload(c.Request.Context(), documents.UploadRequest{
		UserID:       currentUserID(c),
		Filename:     filename,
		DocumentType: c.PostForm("document_type"),
		Content:      content,
		Tags:         formTags(c),
	})
	if err != nil {
		h.respondError(c, "documents.upload", err)
		return
	}
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("include_archived", "false"))
	list, err := h.documents.List(c.Request.Context(), currentUserID(c), includeArchived)
	if err != nil {
		h.respondError(c, "documents.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": list})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	document, err := h.documents.Get(c.Request.Context(), currentUserID(c), documentID)
	if err != nil {
		h.respondError(c, "documents.get", err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleDocumentContent(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	content, document, err := h.documents.ReadContent(c.Request.Context(), currentUserID(c), documentID)
	if err != nil {
		h.respondError(c, "documents.read_content", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", document.OriginalFilename))
	c.Data(http.StatusOK, document.MimeType, content)
}

func (h *httpHandler) handleDocumentHistory(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	entries, err := h.documents.ListHistory(c.Request.Context(), currentUserID(c), documentID)
	if err != nil {
		h.respondError(c, "documents.list_history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *httpHandler) handleCreateVersion(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	filename, content, ok := readUploadedFile(c)
	if !ok {
		return
	}
	version, err := h.documents.CreateVersion(c.Request.Context(), documents.CreateVersionRequest{
		DocumentID: documentID,
		UserID:     currentUserID(c),
		Filename:   filename,
		Content:    content,
		Notes:      c.PostForm("version_notes"),
		Tags:       versionFormTags(c),
	})
	if err != nil {
		h.respondError(c, "documents.create_version", err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	versions, err := h.documents.ListVersions(c.Request.Context(), currentUserID(c), documentID)
	if err != nil {
		h.respondError(c, "documents.list_versions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *httpHandler) handleCurrentVersion(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	current, err := h.documents.GetCurrentVersion(c.Request.Context(), currentUserID(c), documentID)
	if err != nil {
		h.respondError(c, "documents.current_version", err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	versionNumber, ok := pathInt(c, "version")
	if !ok {
		return
	}
	restored, err := h.documents.RestoreVersion(c.Request.Context(), currentUserID(c), documentID, versionNumber)
	if err != nil {
		h.respondError(c, "documents.restore_version", err)
		return
	}
	c.JSON(http.StatusOK, restored)
}

func (h *httpHandler) handleArchiveVersion(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	versionNumber, ok := pathInt(c, "version")
	if !ok {
		return
	}
	archived, err := h.documents.ArchiveVersion(c.Request.Context(), currentUserID(c), documentID, versionNumber)
	if err != nil {
		h.respondError(c, "documents.archive_version", err)
		return
	}
	c.JSON(http.StatusOK, archived)
}

func (h *httpHandler) handleDeleteVersion(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	versionNumber, ok := pathInt(c, "version")
	if !ok {
		return
	}
	if err := h.documents.DeleteVersion(c.Request.Context(), currentUserID(c), documentID, versionNumber); err != nil {
		h.respondError(c, "documents.delete_version", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCompareVersions(c *gin.Context) {
	documentID, ok := pathUint(c, "id")
	if !ok {
		return
	}
	version1, err1 := strconv.Atoi(c.Query("v1"))
	version2, err2 := strconv.Atoi(c.Query("v2"))
	if err1 != nil || err2 != nil {
		respondBadRequest(c, "invalid_version_query")
		return
	}
	comparison, err := h.documents.CompareVersions(c.Request.Context(), currentUserID(c), documentID, version1, version2)
	if err != nil {
		h.respondError(c, "documents.compare_versions", err)
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (h *httpHandler) handleCleanupVersions(c *gin.Context) {
	var payload cleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondBadRequest(c, "invalid_json")
			return
		}
	}
	keep := defaultCleanupKeepVersions
	if payload.KeepVersions != nil {
		keep = *payload.KeepVersions
	}
	result, err := h.documents.CleanupOldVersions(c.Request.Context(), currentUserID(c), keep)
	if err != nil {
		h.respondError(c, "documents.cleanup_versions", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func readUploadedFile(c *gin.Context) (string, []byte, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "missing_file")
		return "", nil, false
	}
	file, err := header.Open()
	if err != nil {
		respondBadRequest(c, "unreadable_file")
		return "", nil, false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		respondBadRequest(c, "unreadable_file")
		return "", nil, false
	}
	return header.Filename, content, true
}

// formTags accepts repeated tags fields as well as comma separated lists.
func formTags(c *gin.Context) []string {
	var tags []string
	for _, value := range c.PostFormArray("tags") {
		for _, tag := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}
	return tags
}

// versionFormTags returns nil when the form carries no tags field, so the previous tags are kept.
func versionFormTags(c *gin.Context) []string {
	if _, present := c.GetPostFormArray("tags"); !present {
		return nil
	}
	return append([]string{}, formTags(c)...)
}

func pathUint(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		respondBadRequest(c, "invalid_"+name)
		return 0, false
	}
	return uint(value), true
}

func pathInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		respondBadRequest(c, "invalid_"+name)
		return 0, false
	}
	return value, true
}
