// Package config loads the stack configuration and validates the
// environment before any pipeline is allowed to mutate state.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/busimap/stackops/internal/models"
)

// ErrConfigMissing indicates one or more required settings are absent.
var ErrConfigMissing = errors.New("missing required configuration")

// RequiredEnv lists the environment variables every mutating command
// needs before it may touch the stack.
var RequiredEnv = []string{
	"POSTGRES_USER",
	"POSTGRES_PASSWORD",
	"POSTGRES_DB",
	"REDIS_URL",
	"SECRET_KEY",
}

type Config struct {
	Environment string            `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Stack       StackConfig       `yaml:"stack"`
	Backup      BackupConfig      `yaml:"backup"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig configures the read-only status API (`stackops serve`).
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix"`
}

// DatabaseConfig locates the local SQLite state database that records
// pipeline run history.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StackConfig declares the managed services and how to reach the
// application stores behind them.
type StackConfig struct {
	Services     []models.ServiceDescriptor `yaml:"services"`
	AppHealthURL string                     `yaml:"app_health_url"`
	// DataStoreService names the service whose container hosts PostgreSQL.
	DataStoreService string `yaml:"datastore_service"`
	// CacheService names the service whose container hosts Redis.
	CacheService string `yaml:"cache_service"`
	// AppService names the service whose container runs manage.py.
	AppService string `yaml:"app_service"`
}

type BackupConfig struct {
	Dir           string `yaml:"dir"`
	MediaDir      string `yaml:"media_dir"`
	RetentionDays int    `yaml:"retention_days"`
	MinFreeBytes  int64  `yaml:"min_free_bytes"`
	LockPath      string `yaml:"lock_path"`
}

type MaintenanceConfig struct {
	ReportDir                string  `yaml:"report_dir"`
	LogDir                   string  `yaml:"log_dir"`
	LogRetentionDays         int     `yaml:"log_retention_days"`
	LogRotateSizeBytes       int64   `yaml:"log_rotate_size_bytes"`
	RideRetentionDays        int     `yaml:"ride_retention_days"`
	TransactionRetentionDays int     `yaml:"transaction_retention_days"`
	FailedTxnRetentionDays   int     `yaml:"failed_transaction_retention_days"`
	DriverOfflineSeconds     int     `yaml:"driver_offline_seconds"`
	CacheKeyPrefix           string  `yaml:"cache_key_prefix"`
	BackupStaleAfterDays     int     `yaml:"backup_stale_after_days"`
	AnalyticsPeriod          string  `yaml:"analytics_period"`
	SessionTable             string  `yaml:"session_table"`
	DiskWarnThresholdPercent float64 `yaml:"disk_warn_threshold_percent"`
}

// Load reads the configuration file and applies defaults. An empty path
// yields the default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	setDefaults(&cfg)

	if err := validateStack(&cfg.Stack); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateEnv checks every required environment variable and reports all
// missing keys at once, so the operator fixes them in one pass.
func (c *Config) ValidateEnv() error {
	var missing []string
	for _, key := range RequiredEnv {
		if v, ok := os.LookupEnv(key); !ok || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrConfigMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Service returns the descriptor for a named service.
func (c *Config) Service(name string) (models.ServiceDescriptor, bool) {
	for _, s := range c.Stack.Services {
		if s.Name == name {
			return s, true
		}
	}
	return models.ServiceDescriptor{}, false
}

// ProbeInterval parses the interval of a probe spec, falling back to 2s.
func ProbeInterval(p models.ProbeSpec) time.Duration {
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ProbeTimeout parses the per-attempt timeout of a probe spec, falling
// back to 5s.
func ProbeTimeout(p models.ProbeSpec) time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.PathPrefix == "" {
		cfg.Server.PathPrefix = "/ops"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/stackops.db"
	}
	if len(cfg.Stack.Services) == 0 {
		cfg.Stack.Services = defaultServices()
	}
	if cfg.Stack.AppHealthURL == "" {
		cfg.Stack.AppHealthURL = "http://localhost:8000/api/health/"
	}
	if cfg.Stack.DataStoreService == "" {
		cfg.Stack.DataStoreService = "postgres"
	}
	if cfg.Stack.CacheService == "" {
		cfg.Stack.CacheService = "redis"
	}
	if cfg.Stack.AppService == "" {
		cfg.Stack.AppService = "web"
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "./backups"
	}
	if cfg.Backup.MediaDir == "" {
		cfg.Backup.MediaDir = "./media"
	}
	if cfg.Backup.RetentionDays == 0 {
		cfg.Backup.RetentionDays = 7
	}
	if cfg.Backup.MinFreeBytes == 0 {
		cfg.Backup.MinFreeBytes = 512 * 1024 * 1024
	}
	if cfg.Backup.LockPath == "" {
		cfg.Backup.LockPath = "./data/stackops.lock"
	}
	if cfg.Maintenance.ReportDir == "" {
		cfg.Maintenance.ReportDir = "./reports"
	}
	if cfg.Maintenance.LogDir == "" {
		cfg.Maintenance.LogDir = "./logs"
	}
	if cfg.Maintenance.LogRetentionDays == 0 {
		cfg.Maintenance.LogRetentionDays = 14
	}
	if cfg.Maintenance.LogRotateSizeBytes == 0 {
		cfg.Maintenance.LogRotateSizeBytes = 50 * 1024 * 1024
	}
	if cfg.Maintenance.RideRetentionDays == 0 {
		cfg.Maintenance.RideRetentionDays = 30
	}
	if cfg.Maintenance.TransactionRetentionDays == 0 {
		cfg.Maintenance.TransactionRetentionDays = 365
	}
	if cfg.Maintenance.FailedTxnRetentionDays == 0 {
		cfg.Maintenance.FailedTxnRetentionDays = 90
	}
	if cfg.Maintenance.DriverOfflineSeconds == 0 {
		cfg.Maintenance.DriverOfflineSeconds = 300
	}
	if cfg.Maintenance.CacheKeyPrefix == "" {
		cfg.Maintenance.CacheKeyPrefix = "busimap:*"
	}
	if cfg.Maintenance.BackupStaleAfterDays == 0 {
		cfg.Maintenance.BackupStaleAfterDays = 1
	}
	if cfg.Maintenance.AnalyticsPeriod == "" {
		cfg.Maintenance.AnalyticsPeriod = "day"
	}
	if cfg.Maintenance.SessionTable == "" {
		cfg.Maintenance.SessionTable = "django_session"
	}
	if cfg.Maintenance.DiskWarnThresholdPercent == 0 {
		cfg.Maintenance.DiskWarnThresholdPercent = 85
	}
}

func validateStack(stack *StackConfig) error {
	names := make(map[string]bool, len(stack.Services))
	for _, s := range stack.Services {
		if s.Name == "" {
			return fmt.Errorf("%w: service with empty name", ErrConfigMissing)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate service %q in stack", s.Name)
		}
		names[s.Name] = true
	}
	for _, s := range stack.Services {
		for _, dep := range s.DependsOn {
			if !names[dep] {
				return fmt.Errorf("service %q depends on unknown service %q", s.Name, dep)
			}
		}
	}
	return nil
}

// defaultServices mirrors the compose topology of the busimap stack.
func defaultServices() []models.ServiceDescriptor {
	return []models.ServiceDescriptor{
		{
			Name:      "postgres",
			Container: "busimap_postgres",
			Tier:      "data",
			Probe: models.ProbeSpec{
				Kind:     models.ProbeExec,
				Command:  []string{"pg_isready", "-U", "postgres"},
				Attempts: 30,
				Interval: "2s",
				Timeout:  "5s",
			},
		},
		{
			Name:      "redis",
			Container: "busimap_redis",
			Tier:      "data",
			Probe: models.ProbeSpec{
				Kind:     models.ProbeExec,
				Command:  []string{"redis-cli", "ping"},
				Attempts: 30,
				Interval: "2s",
				Timeout:  "5s",
			},
		},
		{
			Name:      "elasticsearch",
			Container: "busimap_elasticsearch",
			Tier:      "data",
			Probe: models.ProbeSpec{
				Kind:     models.ProbeHTTP,
				URL:      "http://localhost:9200/_cluster/health",
				Attempts: 30,
				Interval: "2s",
				Timeout:  "5s",
			},
		},
		{
			Name:      "web",
			Container: "busimap_web",
			DependsOn: []string{"postgres", "redis", "elasticsearch"},
			Probe: models.ProbeSpec{
				Kind:     models.ProbeHTTP,
				URL:      "http://localhost:8000/api/health/",
				Attempts: 60,
				Interval: "1s",
				Timeout:  "5s",
			},
		},
		{
			Name:      "worker",
			Container: "busimap_celery_worker",
			DependsOn: []string{"postgres", "redis"},
			Probe: models.ProbeSpec{
				Kind:     models.ProbeExec,
				Command:  []string{"celery", "-A", "config", "inspect", "ping"},
				Attempts: 20,
				Interval: "3s",
				Timeout:  "10s",
			},
		},
		{
			Name:      "beat",
			Container: "busimap_celery_beat",
			DependsOn: []string{"redis", "worker"},
			Probe: models.ProbeSpec{
				Kind:     models.ProbeExec,
				Command:  []string{"sh", "-c", "test -f /tmp/celerybeat.pid"},
				Attempts: 20,
				Interval: "3s",
				Timeout:  "5s",
			},
		},
	}
}
