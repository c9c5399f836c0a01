package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// FileBackend writes one JSON document per key inside a directory. Writes go
// through renameio so a crash never leaves a half-written snapshot behind.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *FileBackend) Load(ctx context.Context, key string, v interface{}) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	raw, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return true, nil
}

func (b *FileBackend) Save(ctx context.Context, key string, v interface{}) error {
	if err := validateKey(key); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}

	if err := renameio.WriteFile(b.path(key), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	return nil
}
