package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:        "test-secret",
			TokenExpireHours: 24,
		},
		Users: []config.User{
			{Username: "reader", Password: "pages"},
		},
	}
}

func authRouter(cfg *config.Config) *gin.Engine {
	h := NewAuthHandler(cfg)
	router := gin.New()
	router.POST("/api/auth/login", h.Login)
	protected := router.Group("/api/auth", middleware.AuthMiddleware(&cfg.Auth))
	protected.GET("/me", h.GetCurrentUser)
	protected.POST("/refresh", h.Refresh)
	return router
}

func TestAuthHandlerLogin(t *testing.T) {
	cfg := newAuthConfig()
	router := authRouter(cfg)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"valid login", `{"username":"reader","password":"pages"}`, http.StatusOK},
		{"unknown user", `{"username":"someone","password":"pages"}`, http.StatusUnauthorized},
		{"wrong password", `{"username":"reader","password":"page"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"reader"}`, http.StatusBadRequest},
		{"invalid json", `invalid json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var response TokenResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			claims, err := middleware.ParseToken(response.Token, &cfg.Auth)
			if err != nil {
				t.Fatalf("Issued token does not validate: %v", err)
			}
			if claims.Username != "reader" || response.Username != "reader" {
				t.Errorf("Expected username reader, got %s/%s", claims.Username, response.Username)
			}
			if until := time.Until(response.ExpiresAt); until < 23*time.Hour || until > 25*time.Hour {
				t.Errorf("Unexpected expiry %v", response.ExpiresAt)
			}
		})
	}
}

func TestAuthHandlerGetCurrentUser(t *testing.T) {
	cfg := newAuthConfig()
	token, expiresAt, err := middleware.GenerateToken("reader", &cfg.Auth)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(cfg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Username  string    `json:"username"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Username != "reader" {
		t.Errorf("Expected username 'reader', got '%s'", response.Username)
	}
	if response.ExpiresAt.Unix() != expiresAt.Unix() {
		t.Errorf("Expected expiry %v, got %v", expiresAt, response.ExpiresAt)
	}
}

func TestAuthHandlerRefresh(t *testing.T) {
	cfg := newAuthConfig()
	router := authRouter(cfg)

	token, _, err := middleware.GenerateToken("reader", &cfg.Auth)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response TokenResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	if _, err := middleware.ParseToken(response.Token, &cfg.Auth); err != nil {
		t.Errorf("Refreshed token does not validate: %v", err)
	}

	// A token for a user removed from the config is not renewed.
	ghost, _, _ := middleware.GenerateToken("removed", &cfg.Auth)
	req = httptest.NewRequest("POST", "/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+ghost)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}
