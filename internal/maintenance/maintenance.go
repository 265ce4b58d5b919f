// Package maintenance runs the periodic housekeeping pass: pruning
// aged rows, refreshing analytics, reclaiming database space, rotating
// logs, and checking backup freshness. Tasks run in a fixed order and
// are isolated from each other; one failing task never stops the rest.
package maintenance

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/busimap/stackops/internal/backup"
	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/version"
)

// Task names, in execution order.
const (
	TaskExpireSessions    = "expire-sessions"
	TaskPurgeRides        = "purge-rides"
	TaskPurgeTransactions = "purge-transactions"
	TaskOfflineDrivers    = "offline-drivers"
	TaskRefreshAnalytics  = "refresh-analytics"
	TaskVacuumAnalyze     = "vacuum-analyze"
	TaskEvictCache        = "evict-cache"
	TaskRotateLogs        = "rotate-logs"
	TaskBackupFreshness   = "backup-freshness"
)

// DataStore is the database surface maintenance needs.
type DataStore interface {
	SQL(ctx context.Context, statement string) (string, error)
	ReclaimSpace(ctx context.Context) error
}

// Runtime runs commands in stack containers.
type Runtime interface {
	Exec(ctx context.Context, container string, cmd []string) (int, string, error)
}

// Verifier sweeps the stack and reports unhealthy services.
type Verifier interface {
	Verify(ctx context.Context) ([]models.ServiceState, error)
}

// Runner executes one maintenance pass.
type Runner struct {
	cfg      *config.Config
	db       DataStore
	runtime  Runtime
	verifier Verifier

	// usage and now are swapped out in tests.
	usage func(path string) (*disk.UsageStat, error)
	now   func() time.Time
}

func NewRunner(cfg *config.Config, db DataStore, runtime Runtime, verifier Verifier) *Runner {
	return &Runner{
		cfg:      cfg,
		db:       db,
		runtime:  runtime,
		verifier: verifier,
		usage:    disk.Usage,
		now:      time.Now,
	}
}

// Run executes every task, sweeps service health, and writes the report
// to the report directory. The returned report carries all task
// outcomes; use Failed to see which ones did not complete. Missing
// credentials fail the whole pass before the first task runs.
func (r *Runner) Run(ctx context.Context) (*models.MaintenanceReport, error) {
	if err := r.cfg.ValidateEnv(); err != nil {
		return nil, err
	}

	report := &models.MaintenanceReport{
		Timestamp:      r.now().UTC(),
		Environment:    r.cfg.Environment,
		SourceRevision: version.GitCommit,
	}

	tasks := []struct {
		name string
		fn   func(context.Context, *models.MaintenanceReport) (string, error)
	}{
		{TaskExpireSessions, r.expireSessions},
		{TaskPurgeRides, r.purgeRides},
		{TaskPurgeTransactions, r.purgeTransactions},
		{TaskOfflineDrivers, r.offlineDrivers},
		{TaskRefreshAnalytics, r.refreshAnalytics},
		{TaskVacuumAnalyze, r.vacuumAnalyze},
		{TaskEvictCache, r.evictCache},
		{TaskRotateLogs, r.rotateLogs},
		{TaskBackupFreshness, r.backupFreshness},
	}

	for _, task := range tasks {
		started := time.Now()
		detail, err := task.fn(ctx, report)
		result := models.TaskResult{
			Name:       task.name,
			Completed:  err == nil,
			DurationMs: time.Since(started).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			result.Error = err.Error()
			log.Printf("maintenance: task %s failed: %v", task.name, err)
		} else {
			log.Printf("maintenance: task %s: %s", task.name, detail)
		}
		report.Tasks = append(report.Tasks, result)
	}

	r.sweepHealth(ctx, report)
	r.checkDisk(report)

	if err := r.writeReport(report); err != nil {
		log.Printf("maintenance: failed to write report: %v", err)
	}
	return report, nil
}

func (r *Runner) expireSessions(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE expire_date < NOW();", r.cfg.Maintenance.SessionTable)
	out, err := r.db.SQL(ctx, stmt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d expired sessions", commandTagCount(out, "DELETE")), nil
}

func (r *Runner) purgeRides(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	stmt := fmt.Sprintf(
		"DELETE FROM rides_ride WHERE status IN ('completed', 'cancelled') AND created_at < NOW() - INTERVAL '%d days';",
		r.cfg.Maintenance.RideRetentionDays)
	out, err := r.db.SQL(ctx, stmt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d finished rides", commandTagCount(out, "DELETE")), nil
}

// purgeTransactions removes settled transactions past the long retention
// window and failed ones past the short window.
func (r *Runner) purgeTransactions(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	removed := 0
	stmts := []string{
		fmt.Sprintf(
			"DELETE FROM payments_transaction WHERE status = 'completed' AND created_at < NOW() - INTERVAL '%d days';",
			r.cfg.Maintenance.TransactionRetentionDays),
		fmt.Sprintf(
			"DELETE FROM payments_transaction WHERE status = 'failed' AND created_at < NOW() - INTERVAL '%d days';",
			r.cfg.Maintenance.FailedTxnRetentionDays),
	}
	for _, stmt := range stmts {
		out, err := r.db.SQL(ctx, stmt)
		if err != nil {
			return "", err
		}
		removed += commandTagCount(out, "DELETE")
	}
	return fmt.Sprintf("removed %d transactions", removed), nil
}

// offlineDrivers marks drivers whose location feed went quiet as
// offline, mirroring what the mobile app's disconnect handler does when
// it gets the chance to run.
func (r *Runner) offlineDrivers(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	stmt := fmt.Sprintf(
		"UPDATE drivers_driverprofile SET is_online = FALSE WHERE is_online = TRUE AND last_location_update < NOW() - INTERVAL '%d seconds';",
		r.cfg.Maintenance.DriverOfflineSeconds)
	out, err := r.db.SQL(ctx, stmt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("marked %d drivers offline", commandTagCount(out, "UPDATE")), nil
}

func (r *Runner) refreshAnalytics(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	app, ok := r.cfg.Service(r.cfg.Stack.AppService)
	if !ok {
		return "", fmt.Errorf("application service %q not declared", r.cfg.Stack.AppService)
	}

	cmd := []string{"python", "manage.py", "generate_analytics", "--period", r.cfg.Maintenance.AnalyticsPeriod}
	code, out, err := r.runtime.Exec(ctx, app.Container, cmd)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("generate_analytics exited %d: %s", code, lastLine(out))
	}
	return "analytics snapshots refreshed", nil
}

func (r *Runner) vacuumAnalyze(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	if err := r.db.ReclaimSpace(ctx); err != nil {
		return "", err
	}
	return "vacuum analyze complete", nil
}

// evictCache deletes application cache keys so stale query results do
// not outlive the data pruned above. Sessions live in the database, not
// Redis, so this is safe to run at any time.
func (r *Runner) evictCache(ctx context.Context, _ *models.MaintenanceReport) (string, error) {
	cache, ok := r.cfg.Service(r.cfg.Stack.CacheService)
	if !ok {
		return "", fmt.Errorf("cache service %q not declared", r.cfg.Stack.CacheService)
	}

	script := fmt.Sprintf("redis-cli --scan --pattern '%s' | xargs -r redis-cli del", r.cfg.Maintenance.CacheKeyPrefix)
	code, out, err := r.runtime.Exec(ctx, cache.Container, []string{"sh", "-c", script})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("cache eviction exited %d: %s", code, lastLine(out))
	}
	return fmt.Sprintf("evicted keys matching %s", r.cfg.Maintenance.CacheKeyPrefix), nil
}

// rotateLogs compresses oversized log files into timestamped .gz files
// and deletes rotated files past the retention window.
func (r *Runner) rotateLogs(_ context.Context, _ *models.MaintenanceReport) (string, error) {
	dir := r.cfg.Maintenance.LogDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "no log directory", nil
		}
		return "", err
	}

	rotated, deleted := 0, 0
	cutoff := r.now().AddDate(0, 0, -r.cfg.Maintenance.LogRetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		if isRotated(entry.Name()) {
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					deleted++
				}
			}
			continue
		}
		if info.Size() >= r.cfg.Maintenance.LogRotateSizeBytes {
			stamp := r.now().UTC().Format("20060102-150405")
			if err := compressAndRemove(path, path+"."+stamp+".gz"); err != nil {
				return "", fmt.Errorf("rotate %s: %w", entry.Name(), err)
			}
			rotated++
		}
	}
	return fmt.Sprintf("rotated %d, deleted %d", rotated, deleted), nil
}

// isRotated reports whether the file name carries a rotation stamp.
func isRotated(name string) bool {
	name = strings.TrimSuffix(name, ".gz")
	i := strings.LastIndex(name, ".")
	if i < 0 || len(name)-i-1 != len("20060102-150405") {
		return false
	}
	_, err := time.Parse("20060102-150405", name[i+1:])
	return err == nil
}

func compressAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// backupFreshness checks the age of the newest completed backup and
// flags the report when it exceeds the staleness window.
func (r *Runner) backupFreshness(_ context.Context, report *models.MaintenanceReport) (string, error) {
	id, err := backup.LatestID(r.cfg.Backup.Dir)
	if err != nil {
		report.BackupStale = true
		return "", err
	}

	m, err := backup.LoadManifest(r.cfg.Backup.Dir, id)
	if err != nil {
		report.BackupStale = true
		return "", err
	}

	age := r.now().UTC().Sub(m.CreatedAt)
	report.BackupAgeDays = age.Hours() / 24
	report.BackupStale = age > time.Duration(r.cfg.Maintenance.BackupStaleAfterDays)*24*time.Hour
	if report.BackupStale {
		return "", fmt.Errorf("newest backup %s is %.1f days old", id, report.BackupAgeDays)
	}
	return fmt.Sprintf("newest backup %s is %.1f days old", id, report.BackupAgeDays), nil
}

func (r *Runner) sweepHealth(ctx context.Context, report *models.MaintenanceReport) {
	if r.verifier == nil {
		return
	}
	unhealthy, err := r.verifier.Verify(ctx)
	if err != nil {
		log.Printf("maintenance: health sweep failed: %v", err)
		return
	}
	report.UnhealthyServices = len(unhealthy)
	for _, svc := range unhealthy {
		log.Printf("maintenance: service %s is unhealthy: %s", svc.Name, svc.Status)
	}
}

func (r *Runner) checkDisk(report *models.MaintenanceReport) {
	stat, err := r.usage(r.cfg.Backup.Dir)
	if err != nil {
		log.Printf("maintenance: disk check failed: %v", err)
		return
	}
	report.DiskUsedPercent = stat.UsedPercent
	if stat.UsedPercent >= r.cfg.Maintenance.DiskWarnThresholdPercent {
		log.Printf("maintenance: disk usage at %.1f%% exceeds the %.1f%% threshold",
			stat.UsedPercent, r.cfg.Maintenance.DiskWarnThresholdPercent)
	}
}

func (r *Runner) writeReport(report *models.MaintenanceReport) error {
	if err := os.MkdirAll(r.cfg.Maintenance.ReportDir, 0o755); err != nil {
		return err
	}
	name := "maintenance-" + report.Timestamp.Format("20060102-150405") + ".json"

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.cfg.Maintenance.ReportDir, name), data, 0o644)
}

// commandTagCount parses the row count from a psql command tag such as
// "DELETE 42" or "UPDATE 7".
func commandTagCount(out, verb string) int {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 2 && fields[0] == verb {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				return n
			}
		}
	}
	return 0
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}
