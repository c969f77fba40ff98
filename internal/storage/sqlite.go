package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager wires the metrics manager
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// WAL mode for concurrent readers alongside the poller's writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Migration "+migration.Version+" failed", err.Error())
		}
	}
	return nil
}

// EnsureUser creates the user row if absent and returns it
func (s *SQLiteStorage) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	start := time.Now()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at)
		VALUES (?, 0, 0, '', ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, address, now, now)
	s.recordOp("ensure_user", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to ensure user", err.Error())
	}

	return s.GetUser(ctx, address)
}

// GetUser returns a user by address
func (s *SQLiteStorage) GetUser(ctx context.Context, address string) (*models.User, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at
		FROM users WHERE address = ?
	`, address)

	user, err := scanUser(row)
	s.recordOp("get_user", err, start)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found", address)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get user", err.Error())
	}
	return user, nil
}

// RolloverUser resets the daily counter when the stored day differs from
// today. The WHERE guard makes the reset idempotent under races.
func (s *SQLiteStorage) RolloverUser(ctx context.Context, address, today string) (*models.User, error) {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET cube_opens_today = 0, last_cube_open_date = ?, updated_at = ?
		WHERE address = ? AND last_cube_open_date <> ?
	`, today, time.Now().UTC(), address, today)
	s.recordOp("rollover_user", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to roll over user", err.Error())
	}

	return s.GetUser(ctx, address)
}

// GrantCubes adds n cubes and n opens in a single conditional update
func (s *SQLiteStorage) GrantCubes(ctx context.Context, address string, n, dailyLimit int) (*models.User, error) {
	start := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET cubes = cubes + ?, cube_opens_today = cube_opens_today + ?, updated_at = ?
		WHERE address = ? AND cube_opens_today + ? <= ?
	`, n, n, time.Now().UTC(), address, n, dailyLimit)
	s.recordOp("grant_cubes", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to grant cubes", err.Error())
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read grant result", err.Error())
	}
	if affected == 0 {
		// Distinguish a missing row from a cap rejection
		if _, err := s.GetUser(ctx, address); err != nil {
			return nil, err
		}
		return nil, utils.NewAppError(utils.ErrCodeLimitExceeded, "Daily cube limit reached", address)
	}

	return s.GetUser(ctx, address)
}

// TopUsersByCubes returns the leaderboard
func (s *SQLiteStorage) TopUsersByCubes(ctx context.Context, limit int) ([]models.User, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at
		FROM users ORDER BY cubes DESC, address ASC LIMIT ?
	`, limit)
	s.recordOp("top_users", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query leaderboard", err.Error())
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan user", err.Error())
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpsertMissionInstances creates any missing instances for the day
func (s *SQLiteStorage) UpsertMissionInstances(ctx context.Context, userAddress, date string, templates []models.MissionTemplate) error {
	start := time.Now()
	now := time.Now().UTC()

	var firstErr error
	for _, tpl := range templates {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO mission_instances
				(user_address, date, mission_id, mission_type, title, description, target, progress, completed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
			ON CONFLICT(user_address, date, mission_id) DO NOTHING
		`, userAddress, date, tpl.MissionID(date), tpl.Type, tpl.Title, tpl.Description, tpl.Target, now, now)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.recordOp("upsert_missions", firstErr, start)
	if firstErr != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert mission instances", firstErr.Error())
	}
	return nil
}

// GetMissionsForDay returns all instances for a user and day
func (s *SQLiteStorage) GetMissionsForDay(ctx context.Context, userAddress, date string) ([]models.MissionInstance, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = ? AND date = ?
		ORDER BY created_at ASC, mission_id ASC
	`, userAddress, date)
	s.recordOp("get_missions", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query missions", err.Error())
	}
	defer rows.Close()

	var missions []models.MissionInstance
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan mission", err.Error())
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// GetMissionInstance returns one mission instance
func (s *SQLiteStorage) GetMissionInstance(ctx context.Context, userAddress, date, missionID string) (*models.MissionInstance, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = ? AND date = ? AND mission_id = ?
	`, userAddress, date, missionID)

	m, err := scanMission(row)
	s.recordOp("get_mission", err, start)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Mission not found", missionID)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get mission", err.Error())
	}
	return m, nil
}

// IncrementMissionProgress applies a clamped progress delta in one
// conditional statement. All SET expressions evaluate against the
// pre-update row, so completed_at is only stamped on the transition into
// completion. The surrounding transaction exists solely to observe that
// transition; the update itself never derives values from a prior read.
func (s *SQLiteStorage) IncrementMissionProgress(ctx context.Context, userAddress, date, missionID string, delta int) (*models.MissionInstance, bool, error) {
	start := time.Now()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var wasCompleted bool
	err = tx.QueryRowContext(ctx, `
		SELECT completed FROM mission_instances
		WHERE user_address = ? AND date = ? AND mission_id = ?
	`, userAddress, date, missionID).Scan(&wasCompleted)
	if err == sql.ErrNoRows {
		return nil, false, utils.NewAppError(utils.ErrCodeNotFound, "Mission not found", missionID)
	}
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read mission", err.Error())
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE mission_instances
		SET progress = MIN(target, progress + ?),
		    completed_at = CASE WHEN completed = 0 AND progress + ? >= target THEN ? ELSE completed_at END,
		    completed = CASE WHEN progress + ? >= target THEN 1 ELSE completed END,
		    updated_at = ?
		WHERE user_address = ? AND date = ? AND mission_id = ?
	`, delta, delta, now, delta, now, userAddress, date, missionID)
	if err != nil {
		s.recordOp("increment_mission", err, start)
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to increment mission", err.Error())
	}

	row := tx.QueryRowContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = ? AND date = ? AND mission_id = ?
	`, userAddress, date, missionID)
	m, err := scanMission(row)
	if err != nil {
		s.recordOp("increment_mission", err, start)
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to reload mission", err.Error())
	}

	if err := tx.Commit(); err != nil {
		s.recordOp("increment_mission", err, start)
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit increment", err.Error())
	}

	s.recordOp("increment_mission", nil, start)
	return m, !wasCompleted && m.Completed, nil
}

func (s *SQLiteStorage) recordOp(operation string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil && err != sql.ErrNoRows {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, status, time.Since(start))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.Address, &user.Cubes, &user.CubeOpensToday,
		&user.LastCubeOpenDate, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func scanMission(row rowScanner) (*models.MissionInstance, error) {
	var (
		m           models.MissionInstance
		completedAt sql.NullTime
	)
	err := row.Scan(&m.UserAddress, &m.Date, &m.MissionID, &m.MissionType,
		&m.Title, &m.Description, &m.Target, &m.Progress, &m.Completed,
		&completedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	return &m, nil
}
