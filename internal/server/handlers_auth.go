package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var payload registerRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid_json")
		return
	}
	user, err := h.users.Register(c.Request.Context(), payload.Email, payload.Password, payload.DisplayName)
	if err != nil {
		h.respondError(c, "auth.register", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var payload loginRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid_json")
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), payload.Email, payload.Password)
	if err != nil {
		h.respondError(c, "auth.login", err)
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, "auth.issue_token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
		"user":         user,
	})
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
