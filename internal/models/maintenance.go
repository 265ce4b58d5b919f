package models

import "time"

// TaskResult records the outcome of a single maintenance task.
type TaskResult struct {
	Name       string `json:"name"`
	Completed  bool   `json:"completed"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MaintenanceReport is the artifact emitted by one maintenance run.
type MaintenanceReport struct {
	Timestamp         time.Time    `json:"timestamp"`
	Environment       string       `json:"environment"`
	SourceRevision    string       `json:"source_revision"`
	Tasks             []TaskResult `json:"tasks"`
	UnhealthyServices int          `json:"unhealthy_service_count"`
	BackupAgeDays     float64      `json:"backup_age_days"`
	BackupStale       bool         `json:"backup_stale"`
	DiskUsedPercent   float64      `json:"disk_used_percent"`
}

// Failed returns the names of tasks that did not complete.
func (r MaintenanceReport) Failed() []string {
	var failed []string
	for _, t := range r.Tasks {
		if !t.Completed {
			failed = append(failed, t.Name)
		}
	}
	return failed
}
