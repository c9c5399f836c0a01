package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAddress = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

// MockExtension is a mock implementation of the Extension interface
type MockExtension struct {
	mock.Mock
}

func (m *MockExtension) IsConnected(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockExtension) IsAllowed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockExtension) RequestAccess(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockExtension) GetPublicKey(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockExtension) SignTransaction(ctx context.Context, xdr string, opts SignOptions) (string, error) {
	args := m.Called(ctx, xdr, opts)
	return args.String(0), args.Error(1)
}

func TestConnectRejectsMalformedAddress(t *testing.T) {
	w := New(nil, zap.NewNop())

	cases := []string{
		"",
		"G123",
		"S" + testAddress[1:],
		testAddress + "X",
		strings.ToLower(testAddress),
	}
	for _, address := range cases {
		err := w.Connect(address)
		assert.ErrorIs(t, err, ErrInvalidAddress, address)
		assert.Equal(t, Session{}, w.Session())
	}
}

func TestConnectRejectionKeepsExistingSession(t *testing.T) {
	w := New(nil, zap.NewNop())
	require.NoError(t, w.Connect(testAddress))

	err := w.Connect("GSHORT")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, Session{Address: testAddress, Connected: true}, w.Session())
}

func TestConnectAndDisconnect(t *testing.T) {
	w := New(nil, zap.NewNop())
	updates, cancel := w.Subscribe()
	defer cancel()

	require.NoError(t, w.Connect(testAddress))
	assert.True(t, w.IsConnected())
	assert.Equal(t, Session{Address: testAddress, Connected: true}, <-updates)

	w.Disconnect()
	assert.False(t, w.IsConnected())
	assert.Equal(t, Session{}, <-updates)
}

func TestSubscribeKeepsLatestState(t *testing.T) {
	w := New(nil, zap.NewNop())
	updates, cancel := w.Subscribe()

	require.NoError(t, w.Connect(testAddress))
	w.Disconnect()

	assert.Equal(t, Session{}, <-updates)

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestConnectExtension(t *testing.T) {
	ext := new(MockExtension)
	ctx := context.Background()

	ext.On("IsConnected", ctx).Return(true, nil)
	ext.On("IsAllowed", ctx).Return(false, nil)
	ext.On("RequestAccess", ctx).Return(testAddress, nil)
	ext.On("GetPublicKey", ctx).Return(testAddress, nil)

	w := New(ext, zap.NewNop())
	session, err := w.ConnectExtension(ctx)

	require.NoError(t, err)
	assert.Equal(t, Session{Address: testAddress, PublicKey: testAddress, Connected: true}, session)
	assert.Equal(t, session, w.Session())
	ext.AssertExpectations(t)
}

func TestConnectKeepsPublicKeyOnlyForSameAddress(t *testing.T) {
	const other = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	ext := new(MockExtension)
	ctx := context.Background()
	ext.On("IsConnected", ctx).Return(true, nil)
	ext.On("IsAllowed", ctx).Return(true, nil)
	ext.On("RequestAccess", ctx).Return(testAddress, nil)
	ext.On("GetPublicKey", ctx).Return(testAddress, nil)

	w := New(ext, zap.NewNop())
	_, err := w.ConnectExtension(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Connect(testAddress))
	assert.Equal(t, Session{Address: testAddress, PublicKey: testAddress, Connected: true}, w.Session())

	require.NoError(t, w.Connect(other))
	assert.Equal(t, Session{Address: other, Connected: true}, w.Session())
}

func TestConcurrentConnectsLeaveConsistentSession(t *testing.T) {
	const other = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	ext := new(MockExtension)
	ext.On("IsConnected", mock.Anything).Return(true, nil)
	ext.On("IsAllowed", mock.Anything).Return(true, nil)
	ext.On("RequestAccess", mock.Anything).Return(testAddress, nil)
	ext.On("GetPublicKey", mock.Anything).Return(testAddress, nil)

	w := New(ext, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := w.ConnectExtension(context.Background())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Connect(other))
		}()
	}
	wg.Wait()

	s := w.Session()
	if s.PublicKey != "" {
		assert.Equal(t, s.Address, s.PublicKey)
	} else {
		assert.Equal(t, other, s.Address)
	}
}

func TestConnectExtensionNotInstalled(t *testing.T) {
	ext := new(MockExtension)
	ctx := context.Background()
	ext.On("IsConnected", ctx).Return(false, errors.New("no extension"))

	w := New(ext, zap.NewNop())
	_, err := w.ConnectExtension(ctx)

	assert.ErrorIs(t, err, ErrExtensionNotInstalled)
	assert.Equal(t, KindExtensionMissing, Classify(err))
	assert.False(t, w.IsConnected())
	ext.AssertNotCalled(t, "RequestAccess", mock.Anything)
}

func TestConnectExtensionDeclined(t *testing.T) {
	ext := new(MockExtension)
	ctx := context.Background()
	ext.On("IsConnected", ctx).Return(true, nil)
	ext.On("IsAllowed", ctx).Return(false, errors.New("boom"))
	ext.On("RequestAccess", ctx).Return("", errors.New("User declined access"))

	w := New(ext, zap.NewNop())
	_, err := w.ConnectExtension(ctx)

	require.Error(t, err)
	assert.Equal(t, KindDeclined, Classify(err))
	assert.False(t, w.IsConnected())
}

func TestCheckExtension(t *testing.T) {
	ctx := context.Background()

	w := New(nil, zap.NewNop())
	assert.Equal(t, ExtensionStatus{}, w.CheckExtension(ctx))

	ext := new(MockExtension)
	ext.On("IsConnected", ctx).Return(true, nil)
	ext.On("IsAllowed", ctx).Return(false, errors.New("cannot tell"))
	w = New(ext, zap.NewNop())
	assert.Equal(t, ExtensionStatus{Installed: true}, w.CheckExtension(ctx))
}

func TestSignTransactionRequiresConnection(t *testing.T) {
	ext := new(MockExtension)
	w := New(ext, zap.NewNop())

	_, err := w.SignTransaction(context.Background(), "AAAA", "Test SDF Network ; September 2015")
	assert.ErrorIs(t, err, ErrNotConnected)
	ext.AssertNotCalled(t, "SignTransaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignTransactionDelegatesWithConnectedAccount(t *testing.T) {
	ext := new(MockExtension)
	ctx := context.Background()
	opts := SignOptions{NetworkPassphrase: "Test SDF Network ; September 2015", AccountToSign: testAddress}
	ext.On("SignTransaction", ctx, "AAAA", opts).Return("BBBB", nil)

	w := New(ext, zap.NewNop())
	require.NoError(t, w.Connect(testAddress))

	signed, err := w.SignTransaction(ctx, "AAAA", opts.NetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", signed)
	ext.AssertExpectations(t)
}

func TestClassify(t *testing.T) {
	cases := map[string]ErrorKind{
		"User declined access":          KindDeclined,
		"request rejected by user":      KindDeclined,
		"permission denied":             KindDeclined,
		"please unlock the wallet":      KindLocked,
		"Freighter is not available":    KindExtensionMissing,
		"tx_bad_seq: sequence mismatch": KindUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(errors.New(msg)), msg)
	}

	assert.Equal(t, KindNotConnected, Classify(fmt.Errorf("buy: %w", ErrNotConnected)))
	assert.Equal(t, ErrorKind(""), Classify(nil))

	assert.Equal(t, "Transaction cancelled", UserMessage(KindDeclined, OpPurchase))
	assert.Equal(t, "Please install and unlock Freighter wallet", UserMessage(KindExtensionMissing, OpPurchase))
	assert.Equal(t, "Purchase failed. Please try again.", UserMessage(KindUnknown, OpPurchase))
}

func TestHandlerConnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := New(nil, zap.NewNop())
	router := gin.New()
	NewHandler(w, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"address":"GBAD"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, w.IsConnected())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"address":"`+testAddress+`"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testAddress)
	assert.True(t, w.IsConnected())
}

func TestHandlerConnectExtensionMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(New(nil, zap.NewNop()), zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/connect/extension", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), InstallURL)
}
