package models

import "time"

// ManifestFilename is the name of the manifest written into each backup
// directory. Its presence is the sole signal that the backup completed.
const ManifestFilename = "manifest.json"

// Artifact describes one file produced by a backup.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum,omitempty"` // hex SHA-256
}

// BackupManifest is the immutable record of a completed backup.
type BackupManifest struct {
	CreatedAt      time.Time `json:"created_at"`
	BackupID       string    `json:"backup_id"`
	Environment    string    `json:"environment"`
	SourceRevision string    `json:"source_revision"`
	Database       Artifact  `json:"database"`
	Media          *Artifact `json:"media,omitempty"`
}

// RestoreRequest asks for a destructive restore from a prior backup.
// Confirmed must be set explicitly by the caller; it is never inferred.
type RestoreRequest struct {
	BackupID    string `json:"backup_id"`
	Environment string `json:"environment"`
	Confirmed   bool   `json:"confirmed"`
}
