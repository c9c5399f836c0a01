package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the wallet session over HTTP
type Handler struct {
	wallet *Wallet
	logger *zap.Logger
}

// NewHandler creates a new wallet handler
func NewHandler(wallet *Wallet, logger *zap.Logger) *Handler {
	return &Handler{
		wallet: wallet,
		logger: logger,
	}
}

// RegisterRoutes registers wallet routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	w := router.Group("/wallet")
	{
		w.GET("", h.getSession)
		w.POST("/connect", h.connect)
		w.POST("/connect/extension", h.connectExtension)
		w.POST("/disconnect", h.disconnect)
		w.GET("/extension/status", h.extensionStatus)
	}
}

type connectRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.wallet.Session())
}

// connect handles POST /api/v1/wallet/connect
func (h *Handler) connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.wallet.Connect(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.wallet.Session())
}

// connectExtension handles POST /api/v1/wallet/connect/extension
func (h *Handler) connectExtension(c *gin.Context) {
	session, err := h.wallet.ConnectExtension(c.Request.Context())
	if err != nil {
		kind := Classify(err)
		h.logger.Error("Extension connection failed", zap.Error(err), zap.String("kind", string(kind)))

		status := http.StatusBadGateway
		if errors.Is(err, ErrExtensionNotInstalled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":       err.Error(),
			"kind":        kind,
			"message":     UserMessage(kind, OpConnect),
			"install_url": InstallURL,
		})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) disconnect(c *gin.Context) {
	h.wallet.Disconnect()
	c.JSON(http.StatusOK, h.wallet.Session())
}

func (h *Handler) extensionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.wallet.CheckExtension(c.Request.Context()))
}
