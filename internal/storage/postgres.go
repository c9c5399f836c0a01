package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Snapshot is one persisted store state.
type Snapshot struct {
	Key       string         `gorm:"primaryKey;size:128"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

// TableName overrides the gorm default
func (Snapshot) TableName() string {
	return "store_snapshots"
}

// PostgresBackend stores snapshots as jsonb rows.
type PostgresBackend struct {
	db *gorm.DB
}

// NewPostgresBackend migrates the snapshot table.
func NewPostgresBackend(db *gorm.DB) (*PostgresBackend, error) {
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store_snapshots: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Load(ctx context.Context, key string, v interface{}) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var snap Snapshot
	err := b.db.WithContext(ctx).First(&snap, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	if err := json.Unmarshal(snap.Data, v); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, key string, v interface{}) error {
	if err := validateKey(key); err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}

	snap := Snapshot{Key: key, Data: datatypes.JSON(raw)}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}
