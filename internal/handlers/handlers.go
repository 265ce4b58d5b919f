// Package handlers implements the read-only status API. Nothing here
// mutates the stack; deploys, backups, and restores go through the CLI.
package handlers

import (
	"context"
	"io"

	"github.com/busimap/stackops/internal/history"
	"github.com/busimap/stackops/internal/models"
)

// Runtime is the subset of the stack runtime the API reads from. Exec
// only backs the one-shot health probes; nothing here mutates state.
type Runtime interface {
	State(ctx context.Context, svc models.ServiceDescriptor) (models.ServiceState, error)
	Exec(ctx context.Context, container string, cmd []string) (int, string, error)
	Logs(ctx context.Context, container, tail string, follow bool) (io.ReadCloser, error)
}

// Store is the run history and backup registry surface.
type Store interface {
	ListRuns(limit int) ([]models.PipelineRun, error)
	GetRun(id string) (*models.PipelineRun, error)
	ListBackups(limit int) ([]history.BackupRecord, error)
}
