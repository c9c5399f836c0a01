// Package storage persists store snapshots under a string key, the way a
// browser keeps application state in local storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrInvalidKey is returned for empty or path-like keys.
var ErrInvalidKey = errors.New("storage: invalid key")

// Backend loads and saves JSON-serialisable snapshots.
type Backend interface {
	// Load decodes the snapshot stored under key into v. It reports false
	// when nothing has been saved yet.
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Save(ctx context.Context, key string, v interface{}) error
}

// MemoryBackend keeps encoded snapshots in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(ctx context.Context, key string, v interface{}) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	b.mu.RLock()
	raw, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (b *MemoryBackend) Save(ctx context.Context, key string, v interface{}) error {
	if err := validateKey(key); err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.data[key] = raw
	b.mu.Unlock()
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r == '/' || r == '\\' || r == 0 {
			return ErrInvalidKey
		}
	}
	if key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}
