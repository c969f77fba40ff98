package storage

import (
	"context"
	"time"

	"github.com/questforge/questforge/internal/models"
)

// Storage defines the persistence operations the mission engine and
// reward ledger are built on. Every mutation is a single conditional
// statement keyed by the owning row, so concurrent callers for the same
// user cannot lose updates.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// User operations
	EnsureUser(ctx context.Context, address string) (*models.User, error)
	GetUser(ctx context.Context, address string) (*models.User, error)
	// RolloverUser resets the daily open counter iff the stored day key
	// differs from today. Idempotent.
	RolloverUser(ctx context.Context, address, today string) (*models.User, error)
	// GrantCubes atomically adds n cubes and n daily opens, failing with
	// LIMIT_EXCEEDED and no mutation when the daily cap would be passed.
	GrantCubes(ctx context.Context, address string, n, dailyLimit int) (*models.User, error)
	TopUsersByCubes(ctx context.Context, limit int) ([]models.User, error)

	// Mission operations
	// UpsertMissionInstances creates any missing instances for the day;
	// existing rows are left untouched (no read-then-write).
	UpsertMissionInstances(ctx context.Context, userAddress, date string, templates []models.MissionTemplate) error
	GetMissionsForDay(ctx context.Context, userAddress, date string) ([]models.MissionInstance, error)
	GetMissionInstance(ctx context.Context, userAddress, date, missionID string) (*models.MissionInstance, error)
	// IncrementMissionProgress adds delta clamped at target and latches
	// completed/completed_at the first time target is reached. Returns
	// the updated instance and whether this call caused the completion.
	IncrementMissionProgress(ctx context.Context, userAddress, date, missionID string, delta int) (*models.MissionInstance, bool, error)
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
