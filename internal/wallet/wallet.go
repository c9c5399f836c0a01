// Package wallet tracks the connected Stellar account and delegates
// signing to a browser-resident extension wallet.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AddressLength is the length of a Stellar account address (G...).
const AddressLength = 56

// InstallURL is shown when no extension answers.
const InstallURL = "https://www.freighter.app/"

// Session is the current connection state.
type Session struct {
	Address   string `json:"address,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	Connected bool   `json:"is_connected"`
}

// SignOptions accompany a signing request.
type SignOptions struct {
	NetworkPassphrase string `json:"network_passphrase"`
	AccountToSign     string `json:"account_to_sign"`
}

// Extension is the request/response surface of an extension wallet.
type Extension interface {
	// IsConnected reports whether the extension is installed and reachable.
	IsConnected(ctx context.Context) (bool, error)
	// IsAllowed reports whether the user already authorized this application.
	IsAllowed(ctx context.Context) (bool, error)
	RequestAccess(ctx context.Context) (string, error)
	GetPublicKey(ctx context.Context) (string, error)
	SignTransaction(ctx context.Context, xdr string, opts SignOptions) (string, error)
}

// ExtensionStatus is the outcome of CheckExtension.
type ExtensionStatus struct {
	Installed bool `json:"is_installed"`
	Allowed   bool `json:"is_allowed"`
}

// Wallet is the process-wide wallet session store. Every state change is
// pushed to subscribers.
type Wallet struct {
	ext    Extension
	logger *zap.Logger

	mu      sync.RWMutex
	session Session
	subs    map[int]chan Session
	nextSub int
}

// New creates a disconnected wallet backed by ext.
func New(ext Extension, logger *zap.Logger) *Wallet {
	return &Wallet{
		ext:    ext,
		logger: logger,
		subs:   make(map[int]chan Session),
	}
}

// Session returns a copy of the current state.
func (w *Wallet) Session() Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

// Address returns the connected address or "".
func (w *Wallet) Address() string {
	return w.Session().Address
}

// IsConnected reports whether an address is attached.
func (w *Wallet) IsConnected() bool {
	return w.Session().Connected
}

// Subscribe returns a channel that receives every new session. Slow
// subscribers miss intermediate states but always see the latest one.
func (w *Wallet) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
		w.mu.Unlock()
	}
	return ch, cancel
}

func (w *Wallet) set(s Session) {
	w.update(func(Session) Session { return s })
}

// update replaces the session with next(current) under one lock and
// notifies subscribers.
func (w *Wallet) update(next func(Session) Session) Session {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := next(w.session)
	w.session = s
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	return s
}

// ValidAddress applies the manual-connect check: a G prefix and 56 characters.
func ValidAddress(address string) bool {
	return strings.HasPrefix(address, "G") && len(address) == AddressLength
}

// Connect attaches a manually entered address. Malformed addresses leave the
// current state untouched.
func (w *Wallet) Connect(address string) error {
	if !ValidAddress(address) {
		w.logger.Warn("Rejected wallet address", zap.Int("length", len(address)))
		return ErrInvalidAddress
	}

	w.update(func(current Session) Session {
		s := Session{Address: address, Connected: true}
		// An extension key only belongs to the address it was issued with.
		if current.Address == address {
			s.PublicKey = current.PublicKey
		}
		return s
	})
	w.logger.Info("Wallet connected", zap.String("address", address))
	return nil
}

// CheckExtension probes the extension. Failures are reported as "not
// installed" or "not allowed" rather than returned.
func (w *Wallet) CheckExtension(ctx context.Context) ExtensionStatus {
	if w.ext == nil {
		return ExtensionStatus{}
	}

	installed, err := w.ext.IsConnected(ctx)
	if err != nil {
		w.logger.Warn("Extension presence check failed", zap.Error(err))
		return ExtensionStatus{}
	}
	if !installed {
		return ExtensionStatus{}
	}

	allowed, err := w.ext.IsAllowed(ctx)
	if err != nil {
		w.logger.Warn("Could not check extension authorization", zap.Error(err))
		return ExtensionStatus{Installed: true}
	}

	return ExtensionStatus{Installed: true, Allowed: allowed}
}

// ConnectExtension runs the extension handshake: presence check, access
// request, public key fetch.
func (w *Wallet) ConnectExtension(ctx context.Context) (Session, error) {
	status := w.CheckExtension(ctx)
	if !status.Installed {
		return w.Session(), ErrExtensionNotInstalled
	}

	address, err := w.ext.RequestAccess(ctx)
	if err != nil {
		w.logger.Error("Extension access request failed", zap.Error(err))
		return w.Session(), fmt.Errorf("request access: %w", err)
	}

	publicKey, err := w.ext.GetPublicKey(ctx)
	if err != nil {
		w.logger.Error("Extension public key request failed", zap.Error(err))
		return w.Session(), fmt.Errorf("get public key: %w", err)
	}

	s := Session{Address: address, PublicKey: publicKey, Connected: true}
	w.set(s)
	w.logger.Info("Extension wallet connected",
		zap.String("address", address),
		zap.Bool("previously_allowed", status.Allowed))
	return s, nil
}

// Disconnect clears the session.
func (w *Wallet) Disconnect() {
	w.set(Session{})
	w.logger.Info("Wallet disconnected")
}

// SignTransaction asks the extension to sign a base64 transaction envelope
// for the connected account.
func (w *Wallet) SignTransaction(ctx context.Context, xdr, networkPassphrase string) (string, error) {
	address := w.Address()
	if address == "" {
		return "", ErrNotConnected
	}
	if w.ext == nil {
		return "", ErrExtensionNotInstalled
	}

	signed, err := w.ext.SignTransaction(ctx, xdr, SignOptions{
		NetworkPassphrase: networkPassphrase,
		AccountToSign:     address,
	})
	if err != nil {
		w.logger.Error("Error signing transaction", zap.Error(err))
		return "", err
	}

	w.logger.Debug("Transaction signed", zap.String("address", address))
	return signed, nil
}
