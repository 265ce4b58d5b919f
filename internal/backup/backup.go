// Package backup produces point-in-time backups of the application data
// store and user-uploaded media. A backup directory is only considered
// complete once its manifest exists; the manifest is always written last.
package backup

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/filestore"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/version"
)

var (
	// ErrInsufficientSpace means the backup directory's filesystem does
	// not have the configured minimum free space.
	ErrInsufficientSpace = errors.New("insufficient disk space for backup")

	// ErrBackupIncomplete means a backup directory exists but has no
	// manifest, so it never completed and must not be restored from.
	ErrBackupIncomplete = errors.New("backup is incomplete")

	// ErrNoBackups means no completed backup exists.
	ErrNoBackups = errors.New("no completed backups found")
)

// backupIDLayout is the UTC timestamp format used for backup IDs and
// their directory names. It sorts lexicographically by creation time.
const backupIDLayout = "20060102-150405"

const databaseArtifact = "database.sql.gz"
const mediaArtifact = "media.tar.gz"

// Dumper streams a logical dump of the data store.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// Recorder caches completed backups in the local registry.
type Recorder interface {
	RecordBackup(m *models.BackupManifest, manifestPath string) error
}

// Coordinator runs backups and prunes expired ones.
type Coordinator struct {
	cfg   *config.Config
	db    Dumper
	store Recorder

	// usage is swapped out in tests.
	usage func(path string) (*disk.UsageStat, error)
}

func NewCoordinator(cfg *config.Config, db Dumper, store Recorder) *Coordinator {
	return &Coordinator{
		cfg:   cfg,
		db:    db,
		store: store,
		usage: disk.Usage,
	}
}

// Run performs one backup: preflight the disk, dump the database,
// archive media if present, write the manifest, then prune expired
// backups. The prune never runs when the dump failed, so a failing
// disk or database cannot erase existing restore points.
func (c *Coordinator) Run(ctx context.Context) (*models.BackupManifest, error) {
	if err := c.cfg.ValidateEnv(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.cfg.Backup.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if err := c.preflight(); err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC()
	id := createdAt.Format(backupIDLayout)
	dir := filepath.Join(c.cfg.Backup.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	dbArtifact, err := c.dumpDatabase(ctx, dir)
	if err != nil {
		// Leave no half-written directory behind, and leave existing
		// backups untouched.
		_ = os.RemoveAll(dir)
		return nil, err
	}

	manifest := &models.BackupManifest{
		CreatedAt:      createdAt,
		BackupID:       id,
		Environment:    c.cfg.Environment,
		SourceRevision: version.GitCommit,
		Database:       *dbArtifact,
		Media:          c.archiveMedia(dir),
	}

	manifestPath := filepath.Join(dir, models.ManifestFilename)
	if err := writeManifest(manifestPath, manifest); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	log.Printf("Backup %s complete (database %d bytes)", id, manifest.Database.SizeBytes)

	if c.store != nil {
		if err := c.store.RecordBackup(manifest, manifestPath); err != nil {
			log.Printf("Warning: failed to record backup %s in registry: %v", id, err)
		}
	}

	c.prune(createdAt)
	return manifest, nil
}

func (c *Coordinator) preflight() error {
	stat, err := c.usage(c.cfg.Backup.Dir)
	if err != nil {
		return fmt.Errorf("check disk space: %w", err)
	}
	if stat.Free < uint64(c.cfg.Backup.MinFreeBytes) {
		return fmt.Errorf("%w: %d bytes free, need %d", ErrInsufficientSpace, stat.Free, c.cfg.Backup.MinFreeBytes)
	}
	return nil
}

// dumpDatabase streams pg_dump output through gzip into the backup
// directory, hashing the compressed bytes as they are written.
func (c *Coordinator) dumpDatabase(ctx context.Context, dir string) (*models.Artifact, error) {
	path := filepath.Join(dir, databaseArtifact)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(f, hash))

	if err := c.db.Dump(ctx, gz); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("dump database: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalize dump: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync dump file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &models.Artifact{
		Path:      databaseArtifact,
		SizeBytes: info.Size(),
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// archiveMedia tars the media directory. Media is best-effort: an empty
// or missing media tree is normal on fresh deployments, and an archive
// failure downgrades to a warning rather than failing the backup.
func (c *Coordinator) archiveMedia(dir string) *models.Artifact {
	path := filepath.Join(dir, mediaArtifact)
	size, err := filestore.Archive(c.cfg.Backup.MediaDir, path)
	if err != nil {
		if errors.Is(err, filestore.ErrNoSource) {
			log.Printf("No media to archive at %s, skipping", c.cfg.Backup.MediaDir)
		} else {
			log.Printf("Warning: media archive failed, backup continues without media: %v", err)
		}
		_ = os.Remove(path)
		return nil
	}
	return &models.Artifact{Path: mediaArtifact, SizeBytes: size}
}

func writeManifest(path string, m *models.BackupManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// prune deletes backup directories older than the retention window.
// Incomplete directories past the window go too. Directories whose
// names are not backup IDs are left alone.
func (c *Coordinator) prune(now time.Time) {
	cutoff := now.AddDate(0, 0, -c.cfg.Backup.RetentionDays)

	entries, err := os.ReadDir(c.cfg.Backup.Dir)
	if err != nil {
		log.Printf("Warning: retention prune skipped: %v", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, err := time.Parse(backupIDLayout, entry.Name())
		if err != nil {
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		path := filepath.Join(c.cfg.Backup.Dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Warning: failed to prune backup %s: %v", entry.Name(), err)
			continue
		}
		log.Printf("Pruned expired backup %s", entry.Name())
	}
}

// LatestID returns the newest completed backup in dir. Backup IDs are
// timestamps, so lexicographic order is chronological.
func LatestID(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoBackups
		}
		return "", err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest := filepath.Join(dir, entry.Name(), models.ManifestFilename)
		if _, err := os.Stat(manifest); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	if len(ids) == 0 {
		return "", ErrNoBackups
	}

	sort.Strings(ids)
	return ids[len(ids)-1], nil
}

// LoadManifest reads and validates the manifest of one backup. A
// directory without a manifest is incomplete and yields
// ErrBackupIncomplete.
func LoadManifest(backupDir, backupID string) (*models.BackupManifest, error) {
	dir := filepath.Join(backupDir, backupID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("backup %s: %w", backupID, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, models.ManifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: backup %s has no manifest", ErrBackupIncomplete, backupID)
		}
		return nil, fmt.Errorf("read manifest for %s: %w", backupID, err)
	}

	var m models.BackupManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", backupID, err)
	}
	return &m, nil
}

// VerifyChecksum recomputes the database artifact's SHA-256 and compares
// it to the manifest. Manifests without a checksum pass.
func VerifyChecksum(backupDir string, m *models.BackupManifest) error {
	if m.Database.Checksum == "" {
		return nil
	}

	f, err := os.Open(filepath.Join(backupDir, m.BackupID, m.Database.Path))
	if err != nil {
		return fmt.Errorf("open database artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(hash.Sum(nil)); got != m.Database.Checksum {
		return fmt.Errorf("database artifact checksum mismatch for %s: got %s, manifest says %s", m.BackupID, got, m.Database.Checksum)
	}
	return nil
}
