package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	var got sample
	found, err := backend.Load(ctx, "carbonx-credits-storage", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, backend.Save(ctx, "carbonx-credits-storage", sample{Name: "a", Count: 1}))
	require.NoError(t, backend.Save(ctx, "carbonx-credits-storage", sample{Name: "b", Count: 2}))

	found, err = backend.Load(ctx, "carbonx-credits-storage", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "b", Count: 2}, got)

	_, err = os.Stat(filepath.Join(dir, "carbonx-credits-storage.json"))
	assert.NoError(t, err)
}

func TestFileBackendCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	var got sample
	_, err = backend.Load(context.Background(), "broken", &got)
	assert.Error(t, err)
}

func TestMemoryBackendRejectsBadKeys(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, backend.Save(ctx, key, sample{}), ErrInvalidKey, key)
	}

	require.NoError(t, backend.Save(ctx, "ok", sample{Name: "x"}))
	var got sample
	found, err := backend.Load(ctx, "ok", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", got.Name)
}
