// Package history persists pipeline runs and their stage results to the
// local state database, giving every invocation an auditable trail.
package history

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/busimap/stackops/internal/database"
	"github.com/busimap/stackops/internal/models"
)

var ErrRunNotFound = errors.New("pipeline run not found")

// Store records pipeline runs. Stage rows are append-only: they are
// inserted as stages complete and never updated afterwards.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// StartRun inserts a new running pipeline record and returns it.
func (s *Store) StartRun(kind, environment string) (*models.PipelineRun, error) {
	run := &models.PipelineRun{
		ID:          uuid.New().String(),
		Kind:        kind,
		Environment: environment,
		Status:      models.RunRunning,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		"INSERT INTO pipeline_runs (id, kind, environment, status, started_at) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Kind, run.Environment, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// AppendStage records one completed stage for a run.
func (s *Store) AppendStage(runID string, stage models.StageResult) error {
	_, err := s.db.Exec(
		"INSERT INTO stage_results (run_id, stage, outcome, duration_ms, detail) VALUES (?, ?, ?, ?, ?)",
		runID, stage.Stage, stage.Outcome, stage.DurationMs, stage.Detail,
	)
	return err
}

// FinishRun marks a run terminal. failedStage is empty for successful
// and canceled runs.
func (s *Store) FinishRun(runID string, status models.RunStatus, failedStage string) error {
	res, err := s.db.Exec(
		"UPDATE pipeline_runs SET status = ?, failed_stage = ?, finished_at = ? WHERE id = ?",
		status, failedStage, time.Now().UTC(), runID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads one run with its stage results in completion order.
func (s *Store) GetRun(id string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var failedStage sql.NullString
	var finishedAt sql.NullTime

	err := s.db.QueryRow(
		"SELECT id, kind, environment, status, failed_stage, started_at, finished_at FROM pipeline_runs WHERE id = ?",
		id,
	).Scan(&run.ID, &run.Kind, &run.Environment, &run.Status, &failedStage, &run.StartedAt, &finishedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if failedStage.Valid {
		run.FailedStage = failedStage.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	rows, err := s.db.Query(
		"SELECT stage, outcome, duration_ms, detail FROM stage_results WHERE run_id = ? ORDER BY id",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var stage models.StageResult
		var detail sql.NullString
		if err := rows.Scan(&stage.Stage, &stage.Outcome, &stage.DurationMs, &detail); err != nil {
			return nil, err
		}
		if detail.Valid {
			stage.Detail = detail.String
		}
		run.Stages = append(run.Stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &run, nil
}

// ListRuns returns the most recent runs, newest first, without stages.
func (s *Store) ListRuns(limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT id, kind, environment, status, failed_stage, started_at, finished_at FROM pipeline_runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []models.PipelineRun
	for rows.Next() {
		var run models.PipelineRun
		var failedStage sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Kind, &run.Environment, &run.Status, &failedStage, &run.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if failedStage.Valid {
			run.FailedStage = failedStage.String
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordBackup caches a completed backup in the registry table so the
// status API can list backups without scanning the backup directory.
func (s *Store) RecordBackup(m *models.BackupManifest, manifestPath string) error {
	var mediaBytes sql.NullInt64
	if m.Media != nil {
		mediaBytes = sql.NullInt64{Int64: m.Media.SizeBytes, Valid: true}
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO backups (backup_id, environment, manifest_path, database_bytes, media_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.BackupID, m.Environment, manifestPath, m.Database.SizeBytes, mediaBytes, m.CreatedAt,
	)
	return err
}

// BackupRecord is one row of the backup registry.
type BackupRecord struct {
	CreatedAt     time.Time `json:"created_at"`
	BackupID      string    `json:"backup_id"`
	Environment   string    `json:"environment"`
	ManifestPath  string    `json:"manifest_path"`
	DatabaseBytes int64     `json:"database_bytes"`
	MediaBytes    *int64    `json:"media_bytes,omitempty"`
}

// ListBackups returns registry rows, newest first.
func (s *Store) ListBackups(limit int) ([]BackupRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT backup_id, environment, manifest_path, database_bytes, media_bytes, created_at FROM backups ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []BackupRecord
	for rows.Next() {
		var rec BackupRecord
		var mediaBytes sql.NullInt64
		if err := rows.Scan(&rec.BackupID, &rec.Environment, &rec.ManifestPath, &rec.DatabaseBytes, &mediaBytes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if mediaBytes.Valid {
			v := mediaBytes.Int64
			rec.MediaBytes = &v
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
