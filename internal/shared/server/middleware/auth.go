package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/auth"
	"docvault-backend/internal/shared/server/respond"
	"docvault-backend/internal/shared/telemetry"
)

const (
	userIDKey   = "userId"
	userRoleKey = "userRole"
)

// TokenVerifier resolves a bearer token to a caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Auth validates bearer JWTs and stores the caller identity in context.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if !isTokenRejection(err) {
				telemetry.Error("auth.verify_failed", map[string]any{
					"request_id": RequestIDFromContext(c),
					"error":      err.Error(),
				})
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(userIDKey, identity.UserID)
		c.Set(userRoleKey, identity.Role)
		c.Next()
	}
}

func isTokenRejection(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, auth.ErrRevokedToken) ||
		errors.Is(err, auth.ErrEmptyToken)
}

// IdentityFromContext returns the identity stored by Auth.
func IdentityFromContext(c *gin.Context) auth.Identity {
	return auth.Identity{
		UserID: UserIDFromContext(c),
		Role:   stringFromContext(c, userRoleKey),
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return stringFromContext(c, userIDKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
