package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/middleware"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

type AuthHandler struct {
	config *config.Config
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{config: cfg}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is returned by Login and Refresh.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// Login exchanges configured credentials for a JWT
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Username and password are required"})
		return
	}

	user := h.config.FindUser(req.Username)
	if user == nil || subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) != 1 {
		logger.Info(c.Request.Context(), "login rejected", "username", req.Username)
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Invalid username or password"})
		return
	}

	h.issue(c, user.Username)
}

// Refresh extends the session of an authenticated user, so a browser
// waiting on a long conversion does not lose access to the result.
func (h *AuthHandler) Refresh(c *gin.Context) {
	username := middleware.GetUsername(c)
	if h.config.FindUser(username) == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Unknown user"})
		return
	}
	h.issue(c, username)
}

func (h *AuthHandler) issue(c *gin.Context, username string) {
	token, expiresAt, err := middleware.GenerateToken(username, &h.config.Auth)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to sign token", "error", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
		Username:  username,
	})
}

// GetCurrentUser returns the username and when the session ends.
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	resp := gin.H{"username": middleware.GetUsername(c)}
	if claims := middleware.GetClaims(c); claims != nil && claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.UTC()
	}
	c.JSON(http.StatusOK, resp)
}
