package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// PostgresStorage implements Storage using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager wires the metrics manager
func (s *PostgresStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
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
func (s *PostgresStorage) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	start := time.Now()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at)
		VALUES ($1, 0, 0, '', $2, $3)
		ON CONFLICT (address) DO NOTHING
	`, address, now, now)
	s.recordOp("ensure_user", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to ensure user", err.Error())
	}

	return s.GetUser(ctx, address)
}

// GetUser returns a user by address
func (s *PostgresStorage) GetUser(ctx context.Context, address string) (*models.User, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at
		FROM users WHERE address = $1
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

// RolloverUser resets the daily counter when the stored day differs
func (s *PostgresStorage) RolloverUser(ctx context.Context, address, today string) (*models.User, error) {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET cube_opens_today = 0, last_cube_open_date = $1, updated_at = $2
		WHERE address = $3 AND last_cube_open_date <> $4
	`, today, time.Now().UTC(), address, today)
	s.recordOp("rollover_user", err, start)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to roll over user", err.Error())
	}

	return s.GetUser(ctx, address)
}

// GrantCubes adds n cubes and n opens in a single conditional update
func (s *PostgresStorage) GrantCubes(ctx context.Context, address string, n, dailyLimit int) (*models.User, error) {
	start := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET cubes = cubes + $1, cube_opens_today = cube_opens_today + $2, updated_at = $3
		WHERE address = $4 AND cube_opens_today + $5 <= $6
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
		if _, err := s.GetUser(ctx, address); err != nil {
			return nil, err
		}
		return nil, utils.NewAppError(utils.ErrCodeLimitExceeded, "Daily cube limit reached", address)
	}

	return s.GetUser(ctx, address)
}

// TopUsersByCubes returns the leaderboard
func (s *PostgresStorage) TopUsersByCubes(ctx context.Context, limit int) ([]models.User, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, cubes, cube_opens_today, last_cube_open_date, created_at, updated_at
		FROM users ORDER BY cubes DESC, address ASC LIMIT $1
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
func (s *PostgresStorage) UpsertMissionInstances(ctx context.Context, userAddress, date string, templates []models.MissionTemplate) error {
	start := time.Now()
	now := time.Now().UTC()

	var firstErr error
	for _, tpl := range templates {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO mission_instances
				(user_address, date, mission_id, mission_type, title, description, target, progress, completed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, $8, $9)
			ON CONFLICT (user_address, date, mission_id) DO NOTHING
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
func (s *PostgresStorage) GetMissionsForDay(ctx context.Context, userAddress, date string) ([]models.MissionInstance, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = $1 AND date = $2
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
func (s *PostgresStorage) GetMissionInstance(ctx context.Context, userAddress, date, missionID string) (*models.MissionInstance, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = $1 AND date = $2 AND mission_id = $3
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
// conditional statement; SELECT ... FOR UPDATE pins the row so the
// completion transition is observed race-free.
func (s *PostgresStorage) IncrementMissionProgress(ctx context.Context, userAddress, date, missionID string, delta int) (*models.MissionInstance, bool, error) {
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
		WHERE user_address = $1 AND date = $2 AND mission_id = $3
		FOR UPDATE
	`, userAddress, date, missionID).Scan(&wasCompleted)
	if err == sql.ErrNoRows {
		return nil, false, utils.NewAppError(utils.ErrCodeNotFound, "Mission not found", missionID)
	}
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read mission", err.Error())
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE mission_instances
		SET progress = LEAST(target, progress + $1),
		    completed_at = CASE WHEN NOT completed AND progress + $2 >= target THEN $3 ELSE completed_at END,
		    completed = CASE WHEN progress + $4 >= target THEN TRUE ELSE completed END,
		    updated_at = $5
		WHERE user_address = $6 AND date = $7 AND mission_id = $8
	`, delta, delta, now, delta, now, userAddress, date, missionID)
	if err != nil {
		s.recordOp("increment_mission", err, start)
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to increment mission", err.Error())
	}

	row := tx.QueryRowContext(ctx, `
		SELECT user_address, date, mission_id, mission_type, title, description,
		       target, progress, completed, completed_at, created_at, updated_at
		FROM mission_instances
		WHERE user_address = $1 AND date = $2 AND mission_id = $3
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

func (s *PostgresStorage) recordOp(operation string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil && err != sql.ErrNoRows {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, status, time.Since(start))
}
