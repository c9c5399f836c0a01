package transactions

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/storage"
)

type recordingArchiver struct {
	records []Record
	err     error
}

func (a *recordingArchiver) Insert(ctx context.Context, r Record) error {
	a.records = append(a.records, r)
	return a.err
}

func newTestLog(t *testing.T, backend storage.Backend) *Log {
	t.Helper()
	l, err := NewLog(context.Background(), backend, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestAddPrependsNewestFirst(t *testing.T) {
	l := newTestLog(t, storage.NewMemoryBackend())
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := l.Add(ctx, Record{Type: KindListing, CreditID: 1, ProjectID: "PROJ-001", Amount: "5 XLM"})
	require.NoError(t, err)
	second, err := l.Add(ctx, Record{Type: KindPurchase, CreditID: 2, ProjectID: "PROJ-002", TxHash: "abc"})
	require.NoError(t, err)
	third, err := l.Add(ctx, Record{Type: KindRetirement, CreditID: 1, ProjectID: "PROJ-001"})
	require.NoError(t, err)

	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.True(t, list[0].Timestamp.After(list[1].Timestamp))

	assert.Len(t, l.ByType(KindPurchase), 1)
	assert.Equal(t, []string{third.ID, first.ID}, []string{l.ByCredit(1)[0].ID, l.ByCredit(1)[1].ID})
}

func TestRecordIDFormat(t *testing.T) {
	l := newTestLog(t, storage.NewMemoryBackend())
	r, err := l.Add(context.Background(), Record{Type: KindSale, CreditID: 4})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^tx-\d+-[0-9a-f]{9}$`), r.ID)
}

func TestAddRejectsUnknownKind(t *testing.T) {
	l := newTestLog(t, storage.NewMemoryBackend())
	_, err := l.Add(context.Background(), Record{Type: "gift"})
	assert.Error(t, err)
	assert.Empty(t, l.List())
}

func TestHistoryPersists(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	l := newTestLog(t, backend)
	_, err := l.Add(ctx, Record{Type: KindListing, CreditID: 7})
	require.NoError(t, err)
	_, err = l.Add(ctx, Record{Type: KindRetirement, CreditID: 7})
	require.NoError(t, err)

	reloaded := newTestLog(t, backend)
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, KindRetirement, list[0].Type)
}

func TestArchiveFailureDoesNotLoseRecord(t *testing.T) {
	l := newTestLog(t, storage.NewMemoryBackend())
	archiver := &recordingArchiver{err: errors.New("connection refused")}
	l.SetArchiver(archiver)

	r, err := l.Add(context.Background(), Record{Type: KindPurchase, CreditID: 3})
	require.NoError(t, err)

	require.Len(t, archiver.records, 1)
	assert.Equal(t, r.ID, archiver.records[0].ID)
	assert.Len(t, l.List(), 1)
}
