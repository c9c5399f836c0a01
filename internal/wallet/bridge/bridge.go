// Package bridge implements wallet.Extension over a websocket that the
// browser extension companion keeps open to the API.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// Signed envelopes with several operations comfortably fit.
	maxMessageSize = 64 * 1024
)

// Extension method names understood by the companion.
const (
	MethodIsAllowed       = "isAllowed"
	MethodRequestAccess   = "requestAccess"
	MethodGetPublicKey    = "getPublicKey"
	MethodSignTransaction = "signTransaction"
)

// ErrDisconnected is returned to callers waiting on a connection that closed.
var ErrDisconnected = errors.New("bridge: extension disconnected")

// Request is sent to the extension.
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is what the extension sends back. Error carries the
// extension's own message text.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type signParams struct {
	XDR               string `json:"xdr"`
	NetworkPassphrase string `json:"network_passphrase"`
	AccountToSign     string `json:"account_to_sign"`
}

// connection is a single extension websocket
type connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Request
	UserAgent   string
	IPAddress   string
	ConnectedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// Bridge relays Extension calls to the connected companion. At most one
// connection is active; a new one replaces the old.
type Bridge struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	active  *connection
	pending map[string]chan Response
}

var _ wallet.Extension = (*Bridge)(nil)

// New creates a bridge with no extension attached.
func New(logger *zap.Logger) *Bridge {
	return &Bridge{
		logger:  logger,
		pending: make(map[string]chan Response),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// the companion runs as an extension page with its own origin
				return true
			},
		},
	}
}

// RegisterRoutes registers the websocket endpoint under /wallet/bridge.
func (b *Bridge) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/wallet/bridge/ws", func(c *gin.Context) {
		if _, err := b.HandleConnection(c.Writer, c.Request); err != nil {
			b.logger.Error("Bridge upgrade failed", zap.Error(err))
		}
	})
}

// ServeHTTP lets the bridge be mounted on a plain mux.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := b.HandleConnection(w, r); err != nil {
		b.logger.Error("Bridge upgrade failed", zap.Error(err))
	}
}

// HandleConnection upgrades the request and makes it the active extension.
func (b *Bridge) HandleConnection(w http.ResponseWriter, r *http.Request) (string, error) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan Request, 16),
		UserAgent:   r.Header.Get("User-Agent"),
		IPAddress:   r.RemoteAddr,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	previous := b.active
	b.active = conn
	b.mu.Unlock()

	if previous != nil {
		b.logger.Info("Replacing extension connection", zap.String("previous", previous.ID))
		previous.close()
	}

	b.logger.Info("Extension connected",
		zap.String("connection_id", conn.ID),
		zap.String("user_agent", conn.UserAgent),
		zap.String("ip", conn.IPAddress))

	go b.readPump(conn)
	go b.writePump(conn)

	return conn.ID, nil
}

// readPump routes responses to the waiting callers
func (b *Bridge) readPump(conn *connection) {
	defer func() {
		b.mu.Lock()
		if b.active == conn {
			b.active = nil
		}
		b.mu.Unlock()
		conn.close()
		b.logger.Info("Extension disconnected", zap.String("connection_id", conn.ID))
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var resp Response
		if err := conn.Conn.ReadJSON(&resp); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Warn("Extension read error", zap.Error(err))
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()

		if !ok {
			b.logger.Debug("Dropping response with no waiting caller", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

// writePump sends requests and keeps the connection alive
func (b *Bridge) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.close()
	}()

	for {
		select {
		case req := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteJSON(req); err != nil {
				b.logger.Warn("Extension write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-conn.done:
			conn.Conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		}
	}
}

// call sends one request and waits for its response, the connection
// closing, or ctx.
func (b *Bridge) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	b.mu.Lock()
	conn := b.active
	if conn == nil {
		b.mu.Unlock()
		return wallet.ErrExtensionNotInstalled
	}
	req := Request{ID: uuid.New().String(), Method: method, Params: params}
	ch := make(chan Response, 1)
	b.pending[req.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	select {
	case conn.Send <- req:
	case <-conn.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-conn.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether a companion is attached. No round trip.
func (b *Bridge) IsConnected(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil, nil
}

func (b *Bridge) IsAllowed(ctx context.Context) (bool, error) {
	var allowed bool
	if err := b.call(ctx, MethodIsAllowed, nil, &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (b *Bridge) RequestAccess(ctx context.Context) (string, error) {
	var address string
	if err := b.call(ctx, MethodRequestAccess, nil, &address); err != nil {
		return "", err
	}
	return address, nil
}

func (b *Bridge) GetPublicKey(ctx context.Context) (string, error) {
	var key string
	if err := b.call(ctx, MethodGetPublicKey, nil, &key); err != nil {
		return "", err
	}
	return key, nil
}

func (b *Bridge) SignTransaction(ctx context.Context, xdr string, opts wallet.SignOptions) (string, error) {
	var signed string
	params := signParams{
		XDR:               xdr,
		NetworkPassphrase: opts.NetworkPassphrase,
		AccountToSign:     opts.AccountToSign,
	}
	if err := b.call(ctx, MethodSignTransaction, params, &signed); err != nil {
		return "", err
	}
	return signed, nil
}
