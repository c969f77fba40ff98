package storage

import (
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/pkg/utils"
)

// NewStorage creates a storage implementation based on configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStorage(config), nil
	case "postgres":
		return NewPostgresStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported storage type", config.Type)
	}
}

// NewStorageWithMetrics creates a storage implementation with metrics wired
func NewStorageWithMetrics(config *StorageConfig, m *metrics.Manager) (Storage, error) {
	store, err := NewStorage(config)
	if err != nil {
		return nil, err
	}
	switch s := store.(type) {
	case *SQLiteStorage:
		s.SetMetricsManager(m)
	case *PostgresStorage:
		s.SetMetricsManager(m)
	}
	return store, nil
}
