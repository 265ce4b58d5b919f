package database

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunMigrations_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	for _, table := range []string{"pipeline_runs", "stage_results", "backups"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query sqlite_master: %v", err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run should be a no-op, got: %v", err)
	}
}
