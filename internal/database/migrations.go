package database

import (
	"database/sql"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		environment TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		failed_stage TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	)`,

	`CREATE TABLE IF NOT EXISTS stage_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES pipeline_runs(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS backups (
		backup_id TEXT PRIMARY KEY,
		environment TEXT NOT NULL,
		manifest_path TEXT NOT NULL,
		database_bytes INTEGER NOT NULL,
		media_bytes INTEGER,
		created_at DATETIME NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stage_results_run_id ON stage_results(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_kind ON pipeline_runs(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at)`,
}

func runMigrations(db *sql.DB) error {
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
