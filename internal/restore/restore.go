// Package restore replaces the live data store and media tree with the
// contents of a prior backup. Restores are destructive and only proceed
// when the request carries an explicit confirmation.
package restore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/busimap/stackops/internal/backup"
	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/filestore"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/orchestrator"
	"github.com/busimap/stackops/internal/probe"
)

var (
	// ErrRestoreUnconfirmed means the request lacked the explicit
	// confirmation flag. No side effect has occurred.
	ErrRestoreUnconfirmed = errors.New("restore not confirmed")

	// ErrRestoreDestructive means the restore failed after the live
	// database was dropped. The stack needs manual intervention.
	ErrRestoreDestructive = errors.New("restore failed after destructive point")
)

// Restore stage names, in order.
const (
	StageResolvingBackup  = "resolving-backup"
	StageStoppingAppTier  = "stopping-application-tier"
	StageReplacingDB      = "replacing-database"
	StageRestoringMedia   = "restoring-media"
	StageRestartingApps   = "restarting-application-tier"
	StageAwaitingRecovery = "awaiting-post-restore-health"
)

// A freshly restored database warms up slowly, so the post-restore
// probe budget is far more generous than the deploy one.
const (
	recoveryAttempts = 90
	recoveryInterval = 2 * time.Second
)

// Runtime is the subset of the stack runtime a restore drives.
type Runtime interface {
	Start(ctx context.Context, container string) error
	Stop(ctx context.Context, container string, timeout *int) error
	Exec(ctx context.Context, container string, cmd []string) (int, string, error)
}

// DataStore is the destructive surface of the database client.
type DataStore interface {
	TerminateConnections(ctx context.Context) error
	DropDatabase(ctx context.Context) error
	CreateDatabase(ctx context.Context) error
	RestoreFrom(ctx context.Context, rd io.Reader) error
	RefreshStatistics(ctx context.Context) error
}

// Recorder persists the restore's auditable trail.
type Recorder interface {
	StartRun(kind, environment string) (*models.PipelineRun, error)
	AppendStage(runID string, stage models.StageResult) error
	FinishRun(runID string, status models.RunStatus, failedStage string) error
}

// Coordinator runs restores.
type Coordinator struct {
	cfg     *config.Config
	runtime Runtime
	db      DataStore
	store   Recorder

	manifest    *models.BackupManifest
	destructive bool
}

func NewCoordinator(cfg *config.Config, runtime Runtime, db DataStore, store Recorder) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		runtime: runtime,
		db:      db,
		store:   store,
	}
}

// Run restores the requested backup. The confirmation and credential
// gates come before any side effect, including the audit record. Once
// the live database has been dropped, any later failure is reported as
// destructive.
func (c *Coordinator) Run(ctx context.Context, req models.RestoreRequest) (*models.PipelineRun, error) {
	if !req.Confirmed {
		return nil, fmt.Errorf("%w: pass the confirmation flag to proceed", ErrRestoreUnconfirmed)
	}
	if err := c.cfg.ValidateEnv(); err != nil {
		return nil, err
	}

	run, err := c.store.StartRun("restore", c.cfg.Environment)
	if err != nil {
		return nil, err
	}
	c.manifest = nil
	c.destructive = false

	stages := []struct {
		name string
		fn   func(context.Context) (string, error)
	}{
		{StageResolvingBackup, func(ctx context.Context) (string, error) { return c.resolve(req.BackupID) }},
		{StageStoppingAppTier, c.stopApplicationTier},
		{StageReplacingDB, c.replaceDatabase},
		{StageRestoringMedia, c.restoreMedia},
		{StageRestartingApps, c.restartApplicationTier},
		{StageAwaitingRecovery, c.awaitRecovery},
	}

	for _, stage := range stages {
		log.Printf("restore: stage %s", stage.name)
		started := time.Now()
		detail, err := stage.fn(ctx)
		elapsed := time.Since(started)

		result := models.StageResult{
			Stage:      stage.name,
			Outcome:    models.StageSuccess,
			DurationMs: elapsed.Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			if c.destructive {
				err = fmt.Errorf("%w: %v", ErrRestoreDestructive, err)
			}
			result.Outcome = models.StageFailure
			result.Detail = err.Error()
		}
		run.Stages = append(run.Stages, result)
		if aerr := c.store.AppendStage(run.ID, result); aerr != nil {
			log.Printf("restore: failed to record stage %s: %v", stage.name, aerr)
		}

		if err != nil {
			_ = c.store.FinishRun(run.ID, models.RunFailed, stage.name)
			run.Status = models.RunFailed
			run.FailedStage = stage.name
			return run, err
		}
		log.Printf("restore: stage %s done in %v", stage.name, elapsed.Round(time.Millisecond))
	}

	_ = c.store.FinishRun(run.ID, models.RunSucceeded, "")
	run.Status = models.RunSucceeded
	return run, nil
}

// resolve loads and verifies the manifest for the requested backup, or
// the most recent completed backup when no ID was given.
func (c *Coordinator) resolve(backupID string) (string, error) {
	if backupID == "" {
		latest, err := backup.LatestID(c.cfg.Backup.Dir)
		if err != nil {
			return "", err
		}
		backupID = latest
	}

	m, err := backup.LoadManifest(c.cfg.Backup.Dir, backupID)
	if err != nil {
		return "", err
	}
	if err := backup.VerifyChecksum(c.cfg.Backup.Dir, m); err != nil {
		return "", err
	}
	c.manifest = m
	return fmt.Sprintf("backup %s from %s", m.BackupID, m.CreatedAt.Format(time.RFC3339)), nil
}

// stopApplicationTier stops every non-data service in reverse start
// order. The data stores stay up; the restore needs them.
func (c *Coordinator) stopApplicationTier(ctx context.Context) (string, error) {
	ordered, err := orchestrator.StartOrder(c.cfg.Stack.Services)
	if err != nil {
		return "", err
	}

	timeout := 30
	stopped := 0
	for i := len(ordered) - 1; i >= 0; i-- {
		svc := ordered[i]
		if svc.DataTier() {
			continue
		}
		if err := c.runtime.Stop(ctx, svc.Container, &timeout); err != nil {
			return "", fmt.Errorf("service %s: %w", svc.Name, err)
		}
		stopped++
	}
	return fmt.Sprintf("stopped %d application services", stopped), nil
}

func (c *Coordinator) replaceDatabase(ctx context.Context) (string, error) {
	if err := c.db.TerminateConnections(ctx); err != nil {
		return "", fmt.Errorf("terminate connections: %w", err)
	}

	if err := c.db.DropDatabase(ctx); err != nil {
		return "", fmt.Errorf("drop database: %w", err)
	}
	c.destructive = true

	if err := c.db.CreateDatabase(ctx); err != nil {
		return "", fmt.Errorf("recreate database: %w", err)
	}

	path := filepath.Join(c.cfg.Backup.Dir, c.manifest.BackupID, c.manifest.Database.Path)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open database artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("decompress database artifact: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := c.db.RestoreFrom(ctx, gz); err != nil {
		return "", fmt.Errorf("replay dump: %w", err)
	}

	if err := c.db.RefreshStatistics(ctx); err != nil {
		log.Printf("restore: statistics refresh failed, continuing: %v", err)
	}
	return fmt.Sprintf("database replaced from %s", c.manifest.Database.Path), nil
}

func (c *Coordinator) restoreMedia(_ context.Context) (string, error) {
	if c.manifest.Media == nil {
		return "backup has no media archive", nil
	}

	if err := filestore.Clear(c.cfg.Backup.MediaDir); err != nil {
		return "", fmt.Errorf("clear media dir: %w", err)
	}
	archive := filepath.Join(c.cfg.Backup.Dir, c.manifest.BackupID, c.manifest.Media.Path)
	if err := filestore.Extract(archive, c.cfg.Backup.MediaDir); err != nil {
		return "", fmt.Errorf("extract media archive: %w", err)
	}
	return fmt.Sprintf("media restored from %s", c.manifest.Media.Path), nil
}

func (c *Coordinator) restartApplicationTier(ctx context.Context) (string, error) {
	ordered, err := orchestrator.StartOrder(c.cfg.Stack.Services)
	if err != nil {
		return "", err
	}

	started := 0
	for _, svc := range ordered {
		if svc.DataTier() {
			continue
		}
		if err := c.runtime.Start(ctx, svc.Container); err != nil {
			return "", fmt.Errorf("service %s: %w", svc.Name, err)
		}
		started++
	}
	return fmt.Sprintf("restarted %d application services", started), nil
}

func (c *Coordinator) awaitRecovery(ctx context.Context) (string, error) {
	app, ok := c.cfg.Service(c.cfg.Stack.AppService)
	if !ok {
		return "", fmt.Errorf("application service %q not declared", c.cfg.Stack.AppService)
	}

	var p probe.Probe
	if app.Probe.Kind == models.ProbeHTTP {
		p = probe.HTTPProbe{Service: app.Name, URL: app.Probe.URL}
	} else {
		p = probe.ExecProbe{
			Service:   app.Name,
			Container: app.Container,
			Command:   app.Probe.Command,
			Runtime:   c.runtime,
		}
	}

	res, err := probe.Wait(ctx, p, recoveryAttempts, recoveryInterval, config.ProbeTimeout(app.Probe))
	if err != nil {
		return "", fmt.Errorf("service %s did not recover: %w", app.Name, err)
	}
	return fmt.Sprintf("application healthy after %d attempts", res.Attempts), nil
}
