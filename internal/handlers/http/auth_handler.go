package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"meshpad/internal/core/ports"
	"meshpad/internal/core/services"
	apperrors "meshpad/pkg/errors"
	"meshpad/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth     ports.AuthService
	tokenTTL time.Duration
}

func NewAuthHandler(auth ports.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		tokenTTL: tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=50"`
	Password string `json:"password" binding:"required,max=128"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateUsername(req.Username); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.Error(apperrors.NewUnauthorizedError("invalid credentials"))
			return
		}
		c.Error(apperrors.NewInternalError("login failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
