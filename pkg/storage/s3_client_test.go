package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, "certs", "certificates/1.pdf", "application/pdf", strings.NewReader("%PDF-1.3")))

	rc, err := c.Download(ctx, "certs", "certificates/1.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3", string(data))

	require.NoError(t, c.Delete(ctx, "certs", "certificates/1.pdf"))
	_, err = c.Download(ctx, "certs", "certificates/1.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
