package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	cfg := config.Default()

	cfg.Storage.Backend = "memory"
	b, closeFn, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)
	assert.NoError(t, closeFn())

	cfg.Storage.Backend = "file"
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "state")
	b, _, err = Open(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Save(context.Background(), "probe", map[string]int{"n": 1}))

	cfg.Storage.Backend = "redis"
	_, _, err = Open(cfg, zap.NewNop())
	assert.Error(t, err)
}
