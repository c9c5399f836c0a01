package marketplace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/certificates"
	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/ledger"
	"carbon-x/marketplace/marketplace-backend/internal/reports/export"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

// Handler handles HTTP requests for marketplace operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new marketplace handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers marketplace routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	creditsGroup := router.Group("/credits")
	{
		creditsGroup.GET("", h.listCredits)
		creditsGroup.POST("", h.registerCredit)
		creditsGroup.GET("/:id/history", h.creditHistory)
		creditsGroup.POST("/:id/verify", h.verifyCredit)
		creditsGroup.POST("/:id/list", h.listForSale)
		creditsGroup.POST("/:id/retire", h.retireCredit)
	}

	market := router.Group("/marketplace")
	{
		market.GET("", h.listMarketplace)
		market.POST("/:id/buy", h.buyCredit)
	}

	router.GET("/transactions", h.listTransactions)
	router.GET("/transactions/export", h.exportTransactions)
	router.GET("/stats", h.getStats)
	router.GET("/receipts", h.listReceipts)
	router.GET("/certificates/:creditId", h.getCertificate)
}

type listRequest struct {
	Price string `json:"price" binding:"required"`
}

// listCredits handles GET /api/v1/credits
func (h *Handler) listCredits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.service.Credits()})
}

// registerCredit handles POST /api/v1/credits
func (h *Handler) registerCredit(c *gin.Context) {
	var req credits.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	credit, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to register credit", err)
		return
	}
	c.JSON(http.StatusCreated, credit)
}

func (h *Handler) creditHistory(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.service.CreditHistory(id)})
}

// verifyCredit handles POST /api/v1/credits/:id/verify
func (h *Handler) verifyCredit(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	credit, err := h.service.Verify(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to verify credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

// listForSale handles POST /api/v1/credits/:id/list
func (h *Handler) listForSale(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter a valid price"})
		return
	}

	result, err := h.service.ListForSale(c.Request.Context(), id, price)
	if err != nil {
		h.fail(c, "Failed to list credit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// retireCredit handles POST /api/v1/credits/:id/retire
func (h *Handler) retireCredit(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	result, err := h.service.Retire(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to retire credit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// listMarketplace handles GET /api/v1/marketplace
func (h *Handler) listMarketplace(c *gin.Context) {
	var filter credits.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.service.Marketplace(filter)})
}

// buyCredit handles POST /api/v1/marketplace/:id/buy
func (h *Handler) buyCredit(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	result, err := h.service.Buy(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to buy credit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// listTransactions handles GET /api/v1/transactions
func (h *Handler) listTransactions(c *gin.Context) {
	records, err := h.service.Transactions(transactions.Kind(c.Query("type")))
	if err != nil {
		h.fail(c, "Failed to list transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// exportTransactions handles GET /api/v1/transactions/export
func (h *Handler) exportTransactions(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := h.service.Export(&buf, format); err != nil {
		h.logger.Error("Failed to export transactions", zap.String("format", string(format)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export transactions"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename("carbonx-transactions")))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// getStats handles GET /api/v1/stats
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

// listReceipts handles GET /api/v1/receipts
func (h *Handler) listReceipts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.service.Receipts()})
}

// getCertificate handles GET /api/v1/certificates/:creditId
func (h *Handler) getCertificate(c *gin.Context) {
	id, ok := h.idParam(c, "creditId")
	if !ok {
		return
	}

	cert, body, err := h.service.Certificate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to open certificate", err)
		return
	}
	defer body.Close()

	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, cert)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", fmt.Sprintf("certificate-%d.pdf", cert.CreditID)))
	c.Header("Content-Type", certificates.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Warn("Failed to stream certificate", zap.Uint64("credit_id", id), zap.Error(err))
	}
}

// =====================================================
// Helper Functions
// =====================================================

func (h *Handler) idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit ID"})
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}

	var purchaseErr *PurchaseError
	if errors.As(err, &purchaseErr) {
		c.JSON(status, gin.H{
			"error":   purchaseErr.Message,
			"kind":    purchaseErr.Kind,
			"details": purchaseErr.Err.Error(),
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var purchaseErr *PurchaseError
	if errors.As(err, &purchaseErr) {
		switch {
		case purchaseErr.Kind == wallet.KindNotConnected:
			return http.StatusUnauthorized
		case errors.Is(purchaseErr.Err, ledger.ErrInvalidAmount),
			errors.Is(purchaseErr.Err, ledger.ErrInvalidAddress):
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, wallet.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, credits.ErrCreditNotFound),
		errors.Is(err, credits.ErrNotInMarketplace),
		errors.Is(err, certificates.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, credits.ErrCreditRetired),
		errors.Is(err, credits.ErrAlreadyVerified),
		errors.Is(err, credits.ErrDuplicateCredit),
		errors.Is(err, ErrPriceUnavailable),
		errors.Is(err, ErrSellerUnavailable):
		return http.StatusConflict
	case errors.Is(err, credits.ErrInvalidPrice),
		errors.Is(err, credits.ErrOwnerRequired),
		errors.Is(err, credits.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
