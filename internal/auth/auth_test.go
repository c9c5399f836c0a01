package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	return NewService("test-secret", hash)
}

func TestIssueAndParseToken(t *testing.T) {
	s := newTestService(t)

	token, err := s.IssueToken("operator", "GABC", time.Hour)
	require.NoError(t, err)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, "GABC", claims.Wallet)
}

func TestParseTokenRejectsExpiredAndForeign(t *testing.T) {
	s := newTestService(t)
	token, err := s.IssueToken("operator", "", time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService("other-secret", "")
	foreign, err := other.IssueToken("operator", "", time.Hour)
	require.NoError(t, err)
	_, err = newTestService(t).ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogin(t *testing.T) {
	s := newTestService(t)

	_, err := s.Login("wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := s.Login("correct horse", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = NewService("secret", "").Login("anything", "")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)

	router := gin.New()
	router.GET("/guarded", s.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := s.IssueToken("operator", "", time.Hour)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded?token="+token, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService("", "")

	router := gin.New()
	router.GET("/open", s.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(newTestService(t), zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"password":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}
