package migrate

import (
	"context"

	"github.com/iliyamo/training-seat-pools/internal/database"
)

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create seat tables",
		Migrate: func(ctx context.Context, tx *database.Tx) error {
			return execAll(ctx, tx, createSeatTables)
		},
	},
	{
		Version: 2,
		Name:    "create directory tables",
		Migrate: func(ctx context.Context, tx *database.Tx) error {
			return execAll(ctx, tx, createDirectoryTables)
		},
	},
}

var createSeatTables = map[string][]string{
	database.DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS seat_pools (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			org_id VARCHAR(64) NOT NULL,
			team_id VARCHAR(64) NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			scope_kind VARCHAR(16) NOT NULL,
			scope_team_id VARCHAR(64) NULL,
			scope_courses TEXT NOT NULL,
			capacity INT NOT NULL,
			used INT NOT NULL DEFAULT 0,
			valid_from DATETIME NULL,
			valid_until DATETIME NULL,
			allow_replace TINYINT(1) NOT NULL DEFAULT 0,
			state VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (id),
			KEY idx_seat_pools_org (org_id),
			KEY idx_seat_pools_state (state),
			CONSTRAINT chk_seat_pools_used CHECK (used >= 0 AND used <= capacity)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS seat_assignments (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			pool_id BIGINT UNSIGNED NOT NULL,
			member_id VARCHAR(64) NOT NULL,
			course_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			granted_at DATETIME NOT NULL,
			released_at DATETIME NULL,
			release_reason VARCHAR(32) NULL,
			active_key VARCHAR(200) NULL,
			PRIMARY KEY (id),
			UNIQUE KEY uq_seat_assignments_active (active_key),
			KEY idx_seat_assignments_pool_status (pool_id, status),
			KEY idx_seat_assignments_member (member_id),
			CONSTRAINT fk_seat_assignments_pool FOREIGN KEY (pool_id) REFERENCES seat_pools (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS seat_events (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			type VARCHAR(32) NOT NULL,
			pool_id BIGINT UNSIGNED NOT NULL,
			member_id VARCHAR(64) NULL,
			assignment_id BIGINT UNSIGNED NULL,
			payload TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			PRIMARY KEY (id),
			KEY idx_seat_events_pool (pool_id),
			KEY idx_seat_events_occurred (occurred_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	database.DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS seat_pools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			org_id TEXT NOT NULL,
			team_id TEXT NULL,
			name TEXT NOT NULL DEFAULT '',
			scope_kind TEXT NOT NULL,
			scope_team_id TEXT NULL,
			scope_courses TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			valid_from DATETIME NULL,
			valid_until DATETIME NULL,
			allow_replace BOOLEAN NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK (used >= 0 AND used <= capacity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_pools_org ON seat_pools (org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_pools_state ON seat_pools (state)`,
		`CREATE TABLE IF NOT EXISTS seat_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pool_id INTEGER NOT NULL REFERENCES seat_pools (id),
			member_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			status TEXT NOT NULL,
			granted_at DATETIME NOT NULL,
			released_at DATETIME NULL,
			release_reason TEXT NULL,
			active_key TEXT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_assignments_pool_status ON seat_assignments (pool_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_assignments_member ON seat_assignments (member_id)`,
		`CREATE TABLE IF NOT EXISTS seat_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			pool_id INTEGER NOT NULL,
			member_id TEXT NULL,
			assignment_id INTEGER NULL,
			payload TEXT NOT NULL,
			occurred_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_events_pool ON seat_events (pool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_events_occurred ON seat_events (occurred_at)`,
	},
}

// Directory tables are written by the host platform's sync job; the engine
// only reads them.
var createDirectoryTables = map[string][]string{
	database.DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS organizations (
			id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			PRIMARY KEY (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS org_members (
			org_id VARCHAR(64) NOT NULL,
			member_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (org_id, member_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS teams (
			id VARCHAR(64) NOT NULL,
			org_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			PRIMARY KEY (id),
			KEY idx_teams_org (org_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS team_members (
			team_id VARCHAR(64) NOT NULL,
			member_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (team_id, member_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS courses (
			id VARCHAR(64) NOT NULL,
			org_id VARCHAR(64) NOT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			PRIMARY KEY (id),
			KEY idx_courses_org (org_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS team_courses (
			team_id VARCHAR(64) NOT NULL,
			course_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (team_id, course_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	database.DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS org_members (
			org_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			PRIMARY KEY (org_id, member_id)
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS team_members (
			team_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			PRIMARY KEY (team_id, member_id)
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS team_courses (
			team_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			PRIMARY KEY (team_id, course_id)
		)`,
	},
}
