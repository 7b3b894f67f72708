package middleware

import (
	"strings"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	apperrors "meshpad/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware for downstream handlers.
const (
	ContextUsername = "username"
	ContextRole     = "role"
)

func reject(c *gin.Context, err *apperrors.AppError) {
	c.Error(err)
	c.Abort()
}

// AuthMiddleware validates the Bearer token and stores the claims in the
// request context. Failures are rendered by ErrorHandlerMiddleware, which
// must sit above it in the chain.
func AuthMiddleware(auth ports.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			reject(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			reject(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			reject(c, apperrors.NewUnauthorizedError("invalid or expired token").WithCause(err))
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose token lacks the required role.
// Must run after AuthMiddleware.
func RequireRole(required domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(ContextRole)
		if !exists {
			reject(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}

		role, ok := roleVal.(domain.UserRole)
		if !ok || role != required {
			reject(c, apperrors.NewForbiddenError("insufficient permissions"))
			return
		}

		c.Next()
	}
}
