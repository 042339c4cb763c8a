package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the archive schema when it does not exist yet.
func (db *DB) RunMigrations() error {
	migration := `
-- Terminal work items compacted out of the coordination directory
CREATE TABLE IF NOT EXISTS archived_work (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    priority REAL NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('completed', 'failed', 'cancelled')),
    claimed_by TEXT,
    result TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    epoch INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_archived_status ON archived_work(status);
CREATE INDEX IF NOT EXISTS idx_archived_agent ON archived_work(claimed_by);
CREATE INDEX IF NOT EXISTS idx_archived_at ON archived_work(archived_at);

-- Coordination activity log
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    agent_id TEXT,
    work_id TEXT,
    detail TEXT,
    epoch INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_activity_operation ON activity_log(operation);
CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_id);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
