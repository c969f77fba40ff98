package storage

// Migration represents a schema migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns migrations for SQLite
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					address TEXT PRIMARY KEY,
					cubes INTEGER NOT NULL DEFAULT 0,
					cube_opens_today INTEGER NOT NULL DEFAULT 0,
					last_cube_open_date TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					CHECK (cubes >= 0),
					CHECK (cube_opens_today >= 0)
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create mission_instances table",
			SQL: `
				CREATE TABLE IF NOT EXISTS mission_instances (
					user_address TEXT NOT NULL,
					date TEXT NOT NULL,
					mission_id TEXT NOT NULL,
					mission_type TEXT NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					target INTEGER NOT NULL,
					progress INTEGER NOT NULL DEFAULT 0,
					completed INTEGER NOT NULL DEFAULT 0,
					completed_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (user_address, date, mission_id),
					CHECK (target > 0),
					CHECK (progress >= 0 AND progress <= target)
				);
				CREATE INDEX IF NOT EXISTS idx_mission_instances_user_date
					ON mission_instances(user_address, date);
			`,
		},
	}
}

// GetPostgresMigrations returns migrations for PostgreSQL
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					address TEXT PRIMARY KEY,
					cubes INTEGER NOT NULL DEFAULT 0,
					cube_opens_today INTEGER NOT NULL DEFAULT 0,
					last_cube_open_date TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					CHECK (cubes >= 0),
					CHECK (cube_opens_today >= 0)
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create mission_instances table",
			SQL: `
				CREATE TABLE IF NOT EXISTS mission_instances (
					user_address TEXT NOT NULL,
					date TEXT NOT NULL,
					mission_id TEXT NOT NULL,
					mission_type TEXT NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					target INTEGER NOT NULL,
					progress INTEGER NOT NULL DEFAULT 0,
					completed BOOLEAN NOT NULL DEFAULT FALSE,
					completed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					PRIMARY KEY (user_address, date, mission_id),
					CHECK (target > 0),
					CHECK (progress >= 0 AND progress <= target)
				);
				CREATE INDEX IF NOT EXISTS idx_mission_instances_user_date
					ON mission_instances(user_address, date);
			`,
		},
	}
}
