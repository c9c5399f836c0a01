package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carbon-x/marketplace/marketplace-backend/internal/config"
)

// OpenGorm connects to the configured database and applies the pool limits.
func OpenGorm(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	lifetime := cfg.MaxLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)
	return db, nil
}

// Open returns the backend selected by cfg.Storage.Backend. The returned
// close func releases any database connection.
func Open(cfg *config.Config, logger *zap.Logger) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("Using in-memory storage, state is lost on restart")
		return NewMemoryBackend(), noop, nil
	case "file":
		b, err := NewFileBackend(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file storage", zap.String("dir", cfg.Storage.Dir))
		return b, noop, nil
	case "postgres":
		db, err := OpenGorm(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		b, err := NewPostgresBackend(db)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using postgres storage",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))
		return b, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
