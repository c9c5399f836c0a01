package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/ledger"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(f.service, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerMarketplaceFilter(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := do(router, http.MethodGet, "/api/v1/marketplace?region=costa-rica", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROJ-004")
	assert.NotContains(t, rec.Body.String(), "PROJ-002")
}

func TestHandlerListRequiresWallet(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := do(router, http.MethodPost, "/api/v1/credits/1/list", `{"price":"5"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, f.wallet.Connect(seller))
	rec = do(router, http.MethodPost, "/api/v1/credits/1/list", `{"price":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/credits/1/list", `{"price":"0.00000001"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(router, http.MethodPost, "/api/v1/credits/1/list", `{"price":"4.123456789"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/credits/1/list", `{"price":"5"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/credits/abc/list", `{"price":"5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerBuyStatuses(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	ctx := context.Background()

	require.NoError(t, f.wallet.Connect(seller))
	_, err := f.service.ListForSale(ctx, 1, decimal.NewFromInt(5))
	require.NoError(t, err)
	require.NoError(t, f.wallet.Connect(buyer))

	f.ledger.On("BuyCredit", mock.Anything, buyer, seller, uint64(1), mock.Anything, mock.Anything).
		Return(nil, errors.New("submit transaction: tx_insufficient_balance"))

	rec := do(router, http.MethodPost, "/api/v1/marketplace/1/buy", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Purchase failed. Please try again.")

	rec = do(router, http.MethodPost, "/api/v1/marketplace/2/buy", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/marketplace/42/buy", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerBuyRejectedPayment(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	ctx := context.Background()

	require.NoError(t, f.wallet.Connect(seller))
	_, err := f.service.ListForSale(ctx, 1, decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = f.service.ListForSale(ctx, 7, decimal.NewFromInt(2))
	require.NoError(t, err)
	require.NoError(t, f.wallet.Connect(buyer))

	f.ledger.On("BuyCredit", mock.Anything, buyer, seller, uint64(1), mock.Anything, mock.Anything).
		Return(nil, ledger.ErrInvalidAmount)
	f.ledger.On("BuyCredit", mock.Anything, buyer, seller, uint64(7), mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("seller %q: %w", seller, ledger.ErrInvalidAddress))

	rec := do(router, http.MethodPost, "/api/v1/marketplace/1/buy", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(router, http.MethodPost, "/api/v1/marketplace/7/buy", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	records, err := f.service.Transactions("")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHandlerExportAndCertificates(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	require.NoError(t, f.wallet.Connect(seller))

	rec := do(router, http.MethodPost, "/api/v1/credits/5/retire", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/transactions/export?format=csv", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "retirement")

	rec = do(router, http.MethodGet, "/api/v1/transactions/export?format=doc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/certificates/5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = do(router, http.MethodGet, "/api/v1/certificates/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/transactions?type=retirement", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credit_id":5`)

	rec = do(router, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retired_credits":1`)
}
