package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Service *Service
	logger  *zap.Logger
}

func NewHandler(s *Service, logger *zap.Logger) *Handler {
	return &Handler{Service: s, logger: logger}
}

// RegisterRoutes registers auth routes. /auth/token stays public; /auth/me
// goes through the middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/token", h.Token)
		authGroup.GET("/me", h.Service.Middleware(), h.Me)
	}
}

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
	Wallet   string `json:"wallet"`
}

// Token exchanges the operator password for a bearer token.
func (h *Handler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.Service.Login(req.Password, req.Wallet)
	switch {
	case errors.Is(err, ErrLoginDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrInvalidCredentials):
		h.logger.Warn("Rejected operator login", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.Service.ttl.Seconds()),
	})
}

func (h *Handler) Me(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"subject": "anonymous", "auth_enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":      claims.Subject,
		"wallet":       claims.Wallet,
		"expires_at":   claims.ExpiresAt.Time,
		"auth_enabled": true,
	})
}
