package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

const testAddress = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

// fakeExtension answers bridge requests the way the companion page does.
func fakeExtension(t *testing.T, ws *websocket.Conn, answer func(Request) Response) {
	t.Helper()
	go func() {
		for {
			var req struct {
				ID     string          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			resp := answer(Request{ID: req.ID, Method: req.Method, Params: req.Params})
			if resp.ID == "" {
				continue
			}
			if err := ws.WriteJSON(resp); err != nil {
				return
			}
		}
	}()
}

func dial(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool {
		ok, _ := b.IsConnected(context.Background())
		return ok
	}, time.Second, 10*time.Millisecond)
	return ws
}

func result(t *testing.T, v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCallWithoutExtension(t *testing.T) {
	b := New(zap.NewNop())

	connected, err := b.IsConnected(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)

	_, err = b.RequestAccess(context.Background())
	assert.ErrorIs(t, err, wallet.ErrExtensionNotInstalled)
}

func TestRequestAccessAndSign(t *testing.T) {
	b := New(zap.NewNop())
	ws := dial(t, b)

	fakeExtension(t, ws, func(req Request) Response {
		switch req.Method {
		case MethodRequestAccess, MethodGetPublicKey:
			return Response{ID: req.ID, Result: result(t, testAddress)}
		case MethodIsAllowed:
			return Response{ID: req.ID, Result: result(t, true)}
		case MethodSignTransaction:
			var p signParams
			require.NoError(t, json.Unmarshal(req.Params.(json.RawMessage), &p))
			return Response{ID: req.ID, Result: result(t, "signed:"+p.XDR+":"+p.AccountToSign)}
		}
		return Response{ID: req.ID, Error: "unknown method"}
	})

	ctx := context.Background()
	allowed, err := b.IsAllowed(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	address, err := b.RequestAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, address)

	signed, err := b.SignTransaction(ctx, "AAAA", wallet.SignOptions{AccountToSign: testAddress})
	require.NoError(t, err)
	assert.Equal(t, "signed:AAAA:"+testAddress, signed)
}

func TestExtensionErrorKeepsMessage(t *testing.T) {
	b := New(zap.NewNop())
	ws := dial(t, b)

	fakeExtension(t, ws, func(req Request) Response {
		return Response{ID: req.ID, Error: "User declined access"}
	})

	_, err := b.SignTransaction(context.Background(), "AAAA", wallet.SignOptions{})
	require.Error(t, err)
	assert.Equal(t, wallet.KindDeclined, wallet.Classify(err))
}

func TestCallHonoursContext(t *testing.T) {
	b := New(zap.NewNop())
	ws := dial(t, b)

	// never answers
	fakeExtension(t, ws, func(req Request) Response { return Response{} })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.GetPublicKey(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisconnectClearsActive(t *testing.T) {
	b := New(zap.NewNop())
	ws := dial(t, b)

	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool {
		ok, _ := b.IsConnected(context.Background())
		return !ok
	}, time.Second, 10*time.Millisecond)
}
