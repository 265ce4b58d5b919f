package restore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/busimap/stackops/internal/backup"
	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/filestore"
	"github.com/busimap/stackops/internal/models"
)

type fakeRuntime struct {
	ops []string // "start:c" / "stop:c"
}

func (f *fakeRuntime) Start(_ context.Context, container string) error {
	f.ops = append(f.ops, "start:"+container)
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, container string, _ *int) error {
	f.ops = append(f.ops, "stop:"+container)
	return nil
}

func (f *fakeRuntime) Exec(context.Context, string, []string) (int, string, error) {
	return 0, "ok", nil
}

type fakeDataStore struct {
	ops        []string
	replayed   string
	restoreErr error
}

func (f *fakeDataStore) TerminateConnections(context.Context) error {
	f.ops = append(f.ops, "terminate")
	return nil
}

func (f *fakeDataStore) DropDatabase(context.Context) error {
	f.ops = append(f.ops, "drop")
	return nil
}

func (f *fakeDataStore) CreateDatabase(context.Context) error {
	f.ops = append(f.ops, "create")
	return nil
}

func (f *fakeDataStore) RestoreFrom(_ context.Context, rd io.Reader) error {
	f.ops = append(f.ops, "restore")
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	f.replayed = string(data)
	return nil
}

func (f *fakeDataStore) RefreshStatistics(context.Context) error {
	f.ops = append(f.ops, "analyze")
	return nil
}

type fakeRecorder struct {
	startCalls int
	stages     []models.StageResult
	finished   models.RunStatus
}

func (f *fakeRecorder) StartRun(kind, env string) (*models.PipelineRun, error) {
	f.startCalls++
	return &models.PipelineRun{ID: "run-1", Kind: kind, Environment: env, Status: models.RunRunning}, nil
}

func (f *fakeRecorder) AppendStage(_ string, stage models.StageResult) error {
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeRecorder) FinishRun(_ string, status models.RunStatus, _ string) error {
	f.finished = status
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range config.RequiredEnv {
		t.Setenv(key, "test-value")
	}
	cfg := &config.Config{Environment: "production"}
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "backups")
	cfg.Backup.MediaDir = filepath.Join(t.TempDir(), "media")
	cfg.Stack.Services = []models.ServiceDescriptor{
		{Name: "postgres", Container: "c_postgres", Tier: "data"},
		{Name: "redis", Container: "c_redis", Tier: "data"},
		{
			Name: "web", Container: "c_web", DependsOn: []string{"postgres", "redis"},
			Probe: models.ProbeSpec{Kind: models.ProbeExec, Command: []string{"app-health"}, Attempts: 2, Timeout: "1s"},
		},
		{Name: "worker", Container: "c_worker", DependsOn: []string{"postgres", "redis"}},
	}
	cfg.Stack.AppService = "web"
	return cfg
}

// seedBackup writes a completed backup directory: gzipped dump, optional
// media archive, manifest last.
func seedBackup(t *testing.T, cfg *config.Config, id, sql string, withMedia bool) {
	t.Helper()
	dir := filepath.Join(cfg.Backup.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	f, err := os.Create(filepath.Join(dir, "database.sql.gz"))
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := io.WriteString(gz, sql); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	m := models.BackupManifest{
		CreatedAt:   time.Now().UTC(),
		BackupID:    id,
		Environment: cfg.Environment,
		Database:    models.Artifact{Path: "database.sql.gz"},
	}
	if withMedia {
		src := t.TempDir()
		if err := os.WriteFile(filepath.Join(src, "avatar.jpg"), []byte("media bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
		size, err := filestore.Archive(src, filepath.Join(dir, "media.tar.gz"))
		if err != nil {
			t.Fatal(err)
		}
		m.Media = &models.Artifact{Path: "media.tar.gz", SizeBytes: size}
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, models.ManifestFilename), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func TestRun_RefusesWithoutConfirmation(t *testing.T) {
	cfg := testConfig(t)
	rt := &fakeRuntime{}
	db := &fakeDataStore{}
	store := &fakeRecorder{}
	c := NewCoordinator(cfg, rt, db, store)

	_, err := c.Run(context.Background(), models.RestoreRequest{BackupID: "20250101-000000"})
	if !errors.Is(err, ErrRestoreUnconfirmed) {
		t.Fatalf("err = %v, want ErrRestoreUnconfirmed", err)
	}
	if store.startCalls != 0 || len(rt.ops) != 0 || len(db.ops) != 0 {
		t.Error("an unconfirmed restore must have no side effects at all")
	}
}

func TestRun_MissingEnvFailsBeforeStopping(t *testing.T) {
	cfg := testConfig(t)
	seedBackup(t, cfg, "20250110-120000", "CREATE TABLE rides;\n", false)
	for _, key := range config.RequiredEnv {
		t.Setenv(key, "")
	}

	rt := &fakeRuntime{}
	db := &fakeDataStore{}
	store := &fakeRecorder{}
	c := NewCoordinator(cfg, rt, db, store)

	_, err := c.Run(context.Background(), models.RestoreRequest{BackupID: "20250110-120000", Confirmed: true})
	if !errors.Is(err, config.ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
	if store.startCalls != 0 || len(rt.ops) != 0 || len(db.ops) != 0 {
		t.Errorf("missing credentials must fail before any mutation: runtime %v, db %v", rt.ops, db.ops)
	}
}

func TestRun_RestoresBackup(t *testing.T) {
	cfg := testConfig(t)
	seedBackup(t, cfg, "20250110-120000", "CREATE TABLE rides;\n", true)

	rt := &fakeRuntime{}
	db := &fakeDataStore{}
	store := &fakeRecorder{}
	c := NewCoordinator(cfg, rt, db, store)

	run, err := c.Run(context.Background(), models.RestoreRequest{BackupID: "20250110-120000", Confirmed: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.RunSucceeded {
		t.Fatalf("run status = %s", run.Status)
	}
	if len(run.Stages) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(run.Stages))
	}

	if db.replayed != "CREATE TABLE rides;\n" {
		t.Errorf("replayed dump = %q", db.replayed)
	}
	wantDB := []string{"terminate", "drop", "create", "restore", "analyze"}
	if len(db.ops) != len(wantDB) {
		t.Fatalf("db ops = %v", db.ops)
	}
	for i, op := range wantDB {
		if db.ops[i] != op {
			t.Fatalf("db ops = %v, want %v", db.ops, wantDB)
		}
	}

	// App tier stops before restarts; data tier is never touched.
	for _, name := range []string{"c_postgres", "c_redis"} {
		if indexOf(rt.ops, "stop:"+name) != -1 || indexOf(rt.ops, "start:"+name) != -1 {
			t.Errorf("data-tier container %s must not be stopped or started", name)
		}
	}
	for _, name := range []string{"c_web", "c_worker"} {
		stop, start := indexOf(rt.ops, "stop:"+name), indexOf(rt.ops, "start:"+name)
		if stop == -1 || start == -1 || stop > start {
			t.Errorf("container %s: stop at %d, start at %d", name, stop, start)
		}
	}

	// Media landed in the media dir.
	if _, err := os.Stat(filepath.Join(cfg.Backup.MediaDir, "avatar.jpg")); err != nil {
		t.Errorf("media file should be restored: %v", err)
	}
}

func TestRun_ReplayFailureIsDestructive(t *testing.T) {
	cfg := testConfig(t)
	seedBackup(t, cfg, "20250110-120000", "CREATE TABLE rides;\n", false)

	db := &fakeDataStore{restoreErr: errors.New("syntax error at line 40")}
	store := &fakeRecorder{}
	c := NewCoordinator(cfg, &fakeRuntime{}, db, store)

	run, err := c.Run(context.Background(), models.RestoreRequest{BackupID: "20250110-120000", Confirmed: true})
	if !errors.Is(err, ErrRestoreDestructive) {
		t.Fatalf("err = %v, want ErrRestoreDestructive", err)
	}
	if run.FailedStage != StageReplacingDB {
		t.Errorf("failed stage = %q", run.FailedStage)
	}
	if store.finished != models.RunFailed {
		t.Errorf("recorded status = %s", store.finished)
	}
}

func TestRun_IncompleteBackupFailsBeforeStopping(t *testing.T) {
	cfg := testConfig(t)
	// Directory exists but has no manifest: the backup never completed.
	if err := os.MkdirAll(filepath.Join(cfg.Backup.Dir, "20250110-120000"), 0o755); err != nil {
		t.Fatal(err)
	}

	rt := &fakeRuntime{}
	db := &fakeDataStore{}
	c := NewCoordinator(cfg, rt, db, &fakeRecorder{})

	_, err := c.Run(context.Background(), models.RestoreRequest{BackupID: "20250110-120000", Confirmed: true})
	if !errors.Is(err, backup.ErrBackupIncomplete) {
		t.Fatalf("err = %v, want ErrBackupIncomplete", err)
	}
	if errors.Is(err, ErrRestoreDestructive) {
		t.Error("resolution failure must not be reported as destructive")
	}
	if len(rt.ops) != 0 || len(db.ops) != 0 {
		t.Error("nothing may be stopped or dropped when resolution fails")
	}
}

func TestRun_DefaultsToLatestBackup(t *testing.T) {
	cfg := testConfig(t)
	seedBackup(t, cfg, "20250101-000000", "old dump\n", false)
	seedBackup(t, cfg, "20250120-000000", "new dump\n", false)

	db := &fakeDataStore{}
	c := NewCoordinator(cfg, &fakeRuntime{}, db, &fakeRecorder{})

	if _, err := c.Run(context.Background(), models.RestoreRequest{Confirmed: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if db.replayed != "new dump\n" {
		t.Errorf("replayed %q, want the newest backup", db.replayed)
	}
}

func TestRun_NoBackupsToRestore(t *testing.T) {
	cfg := testConfig(t)
	c := NewCoordinator(cfg, &fakeRuntime{}, &fakeDataStore{}, &fakeRecorder{})

	_, err := c.Run(context.Background(), models.RestoreRequest{Confirmed: true})
	if !errors.Is(err, backup.ErrNoBackups) {
		t.Fatalf("err = %v, want ErrNoBackups", err)
	}
}
