// Package confirmation follows submitted payments until Horizon reports
// them as included in a ledger. It observes only; credit ownership and the
// transaction history are never rewritten from here.
package confirmation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/ledger"
	"carbon-x/marketplace/marketplace-backend/internal/storage"
)

// StorageKey is the snapshot key receipts are persisted under.
const StorageKey = "carbonx-receipts-storage"

// StatusSource looks up a submitted transaction.
type StatusSource interface {
	TransactionStatus(ctx context.Context, hash string) (*ledger.TransactionStatus, error)
}

// Receipt is a tracked payment.
type Receipt struct {
	ID uuid.UUID `json:"id"`
	ledger.PaymentReceipt
	Status    ledger.Status `json:"status"`
	Attempts  int           `json:"attempts"`
	CheckedAt *time.Time    `json:"checked_at,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Config for the tracker
type Config struct {
	Schedule    string `json:"schedule"`
	MaxAttempts int    `json:"max_attempts"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Schedule:    "@every 15s",
		MaxAttempts: 20,
	}
}

// Tracker keeps receipts and polls their status on a cron schedule.
type Tracker struct {
	cron    *cron.Cron
	source  StatusSource
	backend storage.Backend
	logger  *zap.Logger
	config  Config

	mu       sync.RWMutex
	receipts map[string]*Receipt
	running  bool

	// saveMu orders snapshot writes; the snapshot is taken while holding it.
	saveMu sync.Mutex
}

// NewTracker creates a tracker. backend may be nil for an unpersisted one.
func NewTracker(source StatusSource, backend storage.Backend, logger *zap.Logger, config Config) *Tracker {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Tracker{
		cron:     cron.New(cron.WithSeconds()),
		source:   source,
		backend:  backend,
		logger:   logger,
		config:   config,
		receipts: make(map[string]*Receipt),
	}
}

// Load replaces in-memory receipts with the persisted snapshot.
func (t *Tracker) Load(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}

	var stored []*Receipt
	found, err := t.backend.Load(ctx, StorageKey, &stored)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	if !found {
		return nil
	}

	t.mu.Lock()
	t.receipts = make(map[string]*Receipt, len(stored))
	for _, r := range stored {
		t.receipts[r.Hash] = r
	}
	t.mu.Unlock()
	return nil
}

func (t *Tracker) persist(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	return t.backend.Save(ctx, StorageKey, t.Receipts())
}

// Track registers a submitted payment as pending. Tracking the same hash
// twice returns the existing receipt.
func (t *Tracker) Track(ctx context.Context, p ledger.PaymentReceipt) (Receipt, error) {
	t.mu.Lock()
	if existing, ok := t.receipts[p.Hash]; ok {
		r := *existing
		t.mu.Unlock()
		return r, nil
	}
	r := &Receipt{
		ID:             uuid.New(),
		PaymentReceipt: p,
		Status:         ledger.StatusPending,
	}
	t.receipts[p.Hash] = r
	out := *r
	t.mu.Unlock()

	t.logger.Debug("Tracking payment", zap.String("hash", p.Hash), zap.Uint64("credit_id", p.CreditID))
	if err := t.persist(ctx); err != nil {
		return out, fmt.Errorf("persist receipts: %w", err)
	}
	return out, nil
}

// Receipts returns all receipts, newest submission first.
func (t *Tracker) Receipts() []Receipt {
	t.mu.RLock()
	out := make([]Receipt, 0, len(t.receipts))
	for _, r := range t.receipts {
		out = append(out, *r)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Pending returns receipts still awaiting confirmation.
func (t *Tracker) Pending() []Receipt {
	var out []Receipt
	for _, r := range t.Receipts() {
		if r.Status == ledger.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// CheckPending polls every pending receipt once and returns how many
// changed status.
func (t *Tracker) CheckPending(ctx context.Context) (int, error) {
	pending := t.Pending()
	if len(pending) == 0 {
		return 0, nil
	}

	changed := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			break
		}

		status, err := t.source.TransactionStatus(ctx, r.Hash)
		now := time.Now().UTC()

		t.mu.Lock()
		current, ok := t.receipts[r.Hash]
		if !ok {
			t.mu.Unlock()
			continue
		}
		current.Attempts++
		current.CheckedAt = &now

		switch {
		case err != nil:
			current.Error = err.Error()
			t.logger.Warn("Payment status lookup failed", zap.String("hash", r.Hash), zap.Error(err))
		case status.Status == ledger.StatusConfirmed:
			current.Status = ledger.StatusConfirmed
			current.Ledger = status.Ledger
			current.Error = ""
			changed++
		case status.Status == ledger.StatusFailed:
			current.Status = ledger.StatusFailed
			current.Error = "transaction failed on ledger: " + status.ResultXDR
			changed++
			t.logger.Warn("Payment failed on ledger",
				zap.String("hash", r.Hash),
				zap.Uint64("credit_id", r.CreditID))
		}

		if current.Status == ledger.StatusPending && current.Attempts >= t.config.MaxAttempts {
			current.Status = ledger.StatusFailed
			current.Error = fmt.Sprintf("not seen on ledger after %d checks", current.Attempts)
			changed++
			t.logger.Warn("Giving up on payment", zap.String("hash", r.Hash), zap.Int("attempts", current.Attempts))
		}
		t.mu.Unlock()
	}

	if err := t.persist(ctx); err != nil {
		return changed, fmt.Errorf("persist receipts: %w", err)
	}

	t.logger.Info("Checked pending payments", zap.Int("pending", len(pending)), zap.Int("changed", changed))
	return changed, nil
}

// Start schedules CheckPending on the configured cron expression.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("confirmation tracker already running")
	}

	_, err := t.cron.AddFunc(t.config.Schedule, func() {
		if _, err := t.CheckPending(ctx); err != nil {
			t.logger.Error("Confirmation check failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid confirmation schedule %q: %w", t.config.Schedule, err)
	}

	t.logger.Info("Starting confirmation tracker", zap.String("schedule", t.config.Schedule))
	t.cron.Start()
	t.running = true
	return nil
}

// Stop waits for a running check to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.logger.Info("Stopping confirmation tracker")
	<-t.cron.Stop().Done()
}
