package certificates

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/storage"
	objectstore "carbon-x/marketplace/marketplace-backend/pkg/storage"
)

func TestIssueAndOpen(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	objects := objectstore.NewMemoryClient()

	issuer, err := NewIssuer(ctx, objects, "", backend, zap.NewNop())
	require.NoError(t, err)

	credit := credits.Credit{ID: 7, ProjectID: "PROJ-007", Region: "Norway Reforestation", VintageYear: 2024, Quantity: 200, Retired: true}
	at := time.Date(2025, 4, 22, 10, 0, 0, 0, time.UTC)

	cert, err := issuer.Issue(ctx, credit, "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H", at)
	require.NoError(t, err)
	assert.Equal(t, "certificates/7.pdf", cert.Key)
	assert.Equal(t, uint64(200), cert.Quantity)

	got, body, err := issuer.Open(ctx, 7)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, cert.CreditID, got.CreditID)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	reloaded, err := NewIssuer(ctx, objects, "", backend, zap.NewNop())
	require.NoError(t, err)
	_, err = reloaded.Get(7)
	assert.NoError(t, err)
}

func TestGetUnknown(t *testing.T) {
	issuer, err := NewIssuer(context.Background(), objectstore.NewMemoryClient(), "", nil, zap.NewNop())
	require.NoError(t, err)

	_, err = issuer.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}
