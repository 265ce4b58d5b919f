package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/busimap/stackops/internal/models"
)

func TestLoad_ValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "stackops.yaml")
	configContent := `
environment: "production"

server:
  host: "0.0.0.0"
  port: 9090
  path_prefix: "/api"

database:
  path: "/data/state.db"

stack:
  app_health_url: "http://web:8000/api/health/"
  datastore_service: "db"
  services:
    - name: "db"
      container: "prod_postgres"
      tier: "data"
      probe:
        kind: "exec"
        command: ["pg_isready", "-U", "busimap"]
        attempts: 15
        interval: "4s"
        timeout: "10s"
    - name: "web"
      container: "prod_web"
      depends_on: ["db"]
      probe:
        kind: "http"
        url: "http://web:8000/api/health/"
        attempts: 60
        interval: "1s"
        timeout: "5s"

backup:
  dir: "/var/backups/busimap"
  media_dir: "/srv/media"
  retention_days: 14

maintenance:
  ride_retention_days: 60
  failed_transaction_retention_days: 45
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("expected environment 'production', got '%s'", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "/data/state.db" {
		t.Errorf("expected database path '/data/state.db', got '%s'", cfg.Database.Path)
	}
	if len(cfg.Stack.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(cfg.Stack.Services))
	}
	if cfg.Stack.DataStoreService != "db" {
		t.Errorf("expected datastore service 'db', got '%s'", cfg.Stack.DataStoreService)
	}

	db := cfg.Stack.Services[0]
	if db.Container != "prod_postgres" {
		t.Errorf("expected container 'prod_postgres', got '%s'", db.Container)
	}
	if !db.DataTier() {
		t.Error("expected db service to be in the data tier")
	}
	if db.Probe.Kind != models.ProbeExec {
		t.Errorf("expected exec probe, got '%s'", db.Probe.Kind)
	}
	if db.Probe.Attempts != 15 {
		t.Errorf("expected 15 attempts, got %d", db.Probe.Attempts)
	}

	web := cfg.Stack.Services[1]
	if web.DataTier() {
		t.Error("expected web service outside the data tier")
	}
	if len(web.DependsOn) != 1 || web.DependsOn[0] != "db" {
		t.Errorf("expected web to depend on db, got %v", web.DependsOn)
	}

	if cfg.Backup.RetentionDays != 14 {
		t.Errorf("expected retention 14 days, got %d", cfg.Backup.RetentionDays)
	}
	if cfg.Maintenance.RideRetentionDays != 60 {
		t.Errorf("expected ride retention 60 days, got %d", cfg.Maintenance.RideRetentionDays)
	}
	if cfg.Maintenance.FailedTxnRetentionDays != 45 {
		t.Errorf("expected failed transaction retention 45 days, got %d", cfg.Maintenance.FailedTxnRetentionDays)
	}
	// Unset values still get defaults
	if cfg.Maintenance.TransactionRetentionDays != 365 {
		t.Errorf("expected default transaction retention 365 days, got %d", cfg.Maintenance.TransactionRetentionDays)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("expected default environment 'development', got '%s'", cfg.Environment)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Backup.RetentionDays != 7 {
		t.Errorf("expected default retention 7 days, got %d", cfg.Backup.RetentionDays)
	}
	if cfg.Maintenance.DriverOfflineSeconds != 300 {
		t.Errorf("expected default driver offline threshold 300s, got %d", cfg.Maintenance.DriverOfflineSeconds)
	}
	if cfg.Maintenance.BackupStaleAfterDays != 1 {
		t.Errorf("expected default backup staleness 1 day, got %d", cfg.Maintenance.BackupStaleAfterDays)
	}

	if len(cfg.Stack.Services) != 6 {
		t.Fatalf("expected 6 default services, got %d", len(cfg.Stack.Services))
	}
	dataTier := 0
	for _, s := range cfg.Stack.Services {
		if s.DataTier() {
			dataTier++
		}
	}
	if dataTier != 3 {
		t.Errorf("expected 3 data-tier services, got %d", dataTier)
	}
	if _, ok := cfg.Service("postgres"); !ok {
		t.Error("expected default stack to declare a postgres service")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/stackops.yaml")
	if err == nil {
		t.Error("expected error for non-existent config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "stackops.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_UnknownDependency(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "stackops.yaml")
	content := `
stack:
  services:
    - name: "web"
      container: "web"
      depends_on: ["ghost"]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for dependency on undeclared service")
	}
}

func TestValidateEnv(t *testing.T) {
	for _, key := range RequiredEnv {
		t.Setenv(key, "value")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if err := cfg.ValidateEnv(); err != nil {
		t.Errorf("expected env validation to pass, got %v", err)
	}
}

func TestValidateEnv_ReportsAllMissingKeys(t *testing.T) {
	for _, key := range RequiredEnv {
		t.Setenv(key, "value")
	}
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("SECRET_KEY", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	err = cfg.ValidateEnv()
	if err == nil {
		t.Fatal("expected env validation to fail")
	}
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"POSTGRES_PASSWORD", "SECRET_KEY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to name %s, got %q", want, msg)
		}
	}
}

func TestProbeDurations(t *testing.T) {
	p := models.ProbeSpec{Interval: "3s", Timeout: "7s"}
	if ProbeInterval(p) != 3*time.Second {
		t.Errorf("expected 3s interval, got %v", ProbeInterval(p))
	}
	if ProbeTimeout(p) != 7*time.Second {
		t.Errorf("expected 7s timeout, got %v", ProbeTimeout(p))
	}

	// Invalid values fall back to defaults
	p = models.ProbeSpec{Interval: "soon", Timeout: ""}
	if ProbeInterval(p) != 2*time.Second {
		t.Errorf("expected fallback 2s interval, got %v", ProbeInterval(p))
	}
	if ProbeTimeout(p) != 5*time.Second {
		t.Errorf("expected fallback 5s timeout, got %v", ProbeTimeout(p))
	}
}
