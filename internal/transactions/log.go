// Package transactions is the append-only history of marketplace actions.
package transactions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/storage"
)

// StorageKey is the snapshot key the history is persisted under.
const StorageKey = "carbonx-transactions-storage"

// Kind tags a record with the action that produced it.
type Kind string

const (
	KindSale       Kind = "sale"
	KindPurchase   Kind = "purchase"
	KindListing    Kind = "listing"
	KindRetirement Kind = "retirement"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindPurchase, KindListing, KindRetirement:
		return true
	}
	return false
}

// Record is one history entry. Amount, From, To and TxHash are optional.
type Record struct {
	ID        string    `json:"id" db:"id"`
	Type      Kind      `json:"type" db:"type"`
	CreditID  uint64    `json:"credit_id" db:"credit_id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Amount    string    `json:"amount,omitempty" db:"amount"`
	From      string    `json:"from,omitempty" db:"from_address"`
	To        string    `json:"to,omitempty" db:"to_address"`
	TxHash    string    `json:"tx_hash,omitempty" db:"tx_hash"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// Archiver mirrors records somewhere durable for reporting.
type Archiver interface {
	Insert(ctx context.Context, r Record) error
}

// Log keeps records newest first. Records are never changed or removed.
type Log struct {
	backend storage.Backend
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	records  []Record
	archiver Archiver
}

// NewLog loads the persisted history.
func NewLog(ctx context.Context, backend storage.Backend, logger *zap.Logger) (*Log, error) {
	l := &Log{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}

	var records []Record
	if _, err := backend.Load(ctx, StorageKey, &records); err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	l.records = records
	return l, nil
}

// SetArchiver enables mirroring of new records.
func (l *Log) SetArchiver(a Archiver) {
	l.mu.Lock()
	l.archiver = a
	l.mu.Unlock()
}

func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("tx-%d-%s", now.UnixMilli(), suffix)
}

// Add stamps r with an id and timestamp and prepends it.
func (l *Log) Add(ctx context.Context, r Record) (Record, error) {
	if !r.Type.Valid() {
		return Record{}, fmt.Errorf("unknown transaction type %q", r.Type)
	}

	now := l.now()
	r.ID = newID(now)
	r.Timestamp = now.UTC()

	l.mu.Lock()
	records := make([]Record, 0, len(l.records)+1)
	records = append(records, r)
	records = append(records, l.records...)
	if err := l.backend.Save(ctx, StorageKey, records); err != nil {
		l.mu.Unlock()
		return Record{}, fmt.Errorf("save transactions: %w", err)
	}
	l.records = records
	archiver := l.archiver
	l.mu.Unlock()

	l.logger.Info("Transaction recorded",
		zap.String("id", r.ID),
		zap.String("type", string(r.Type)),
		zap.Uint64("credit_id", r.CreditID))

	if archiver != nil {
		if err := archiver.Insert(ctx, r); err != nil {
			l.logger.Warn("Failed to archive transaction", zap.String("id", r.ID), zap.Error(err))
		}
	}
	return r, nil
}

// List returns every record, newest first.
func (l *Log) List() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) filter(keep func(Record) bool) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, r := range l.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ByType returns records of kind, newest first.
func (l *Log) ByType(kind Kind) []Record {
	return l.filter(func(r Record) bool { return r.Type == kind })
}

// ByCredit returns the history of one credit, newest first.
func (l *Log) ByCredit(creditID uint64) []Record {
	return l.filter(func(r Record) bool { return r.CreditID == creditID })
}
