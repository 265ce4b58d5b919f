// Package models defines data models for services, pipeline runs, backups, and reports.
package models

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	// RunRunning indicates the pipeline is currently executing.
	RunRunning RunStatus = "running"
	// RunSucceeded indicates every stage completed successfully.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates the pipeline halted at a failed stage.
	RunFailed RunStatus = "failed"
	// RunCanceled indicates the pipeline was aborted between stages.
	RunCanceled RunStatus = "canceled"
)

// StageOutcome represents the result of a single pipeline stage.
type StageOutcome string

const (
	StageSuccess StageOutcome = "success"
	StageFailure StageOutcome = "failure"
)

// PipelineRun is the auditable record of one pipeline invocation.
// Stages are appended as they complete and never rewritten.
type PipelineRun struct {
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at"`
	ID          string        `json:"id"`
	Kind        string        `json:"kind"` // deploy, backup, restore, maintenance
	Environment string        `json:"environment"`
	Status      RunStatus     `json:"status"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Stages      []StageResult `json:"stages"`
}

// StageResult records the outcome of one completed stage.
type StageResult struct {
	Stage      string       `json:"stage"`
	Outcome    StageOutcome `json:"outcome"`
	DurationMs int64        `json:"duration_ms"`
	Detail     string       `json:"detail,omitempty"`
}
