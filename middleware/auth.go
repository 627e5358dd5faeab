package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

const (
	// TokenIssuer is stamped on every token and required on the way in.
	TokenIssuer = "bookscan"
	// TokenQueryParam carries the token on plain links such as the PDF
	// download, where the browser cannot set an Authorization header.
	TokenQueryParam = "access_token"

	usernameKey = "username"
	claimsKey   = "claims"
)

var errNoToken = errors.New("authorization required")

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for username valid for cfg.TokenExpireHours.
func GenerateToken(username string, cfg *config.AuthConfig) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(raw string, cfg *config.AuthConfig) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Username == "" {
		return nil, errors.New("token has no username")
	}
	return claims, nil
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// access_token query parameter.
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query(TokenQueryParam); token != "" {
			return token, nil
		}
		return "", errNoToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}

// AuthMiddleware rejects requests without a valid token and exposes the
// username to handlers and to the request logger.
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			msg := "Invalid authorization header format"
			if errors.Is(err, errNoToken) {
				msg = "Authorization header required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: msg})
			return
		}

		claims, err := ParseToken(raw, cfg)
		if err != nil {
			logger.Debug(c.Request.Context(), "rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Invalid or expired token"})
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Set(claimsKey, claims)

		ctx := context.WithValue(c.Request.Context(), logger.UsernameKey, claims.Username)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetUsername gets the username from context
func GetUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}

// GetClaims returns the validated token claims, or nil outside AuthMiddleware.
func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
