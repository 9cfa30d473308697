// Package types defines core domain types for the Flume runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	// StatusSkipped indicates the run was skipped because nothing changed
	// since the last successful execution.
	StatusSkipped RunStatus = "skipped"
	// StatusSucceeded indicates the run completed and the load is durable.
	StatusSucceeded RunStatus = "succeeded"
	// StatusFailed indicates a stage failed after retries were exhausted
	// or a permanent error surfaced.
	StatusFailed RunStatus = "failed"
)

// Stage identifies a pipeline stage for logging and failure attribution.
type Stage string

const (
	// StageIdempotency is the fingerprint check before any I/O.
	StageIdempotency Stage = "idempotency"
	// StageExtract reads the source into a Dataset.
	StageExtract Stage = "extract"
	// StageTransform reshapes the Dataset.
	StageTransform Stage = "transform"
	// StageAnalyze evaluates quality rules against the Dataset.
	StageAnalyze Stage = "analyze"
	// StageLoad writes the Dataset to the destination.
	StageLoad Stage = "load"
	// StageCleanup removes intermediate artifacts.
	StageCleanup Stage = "cleanup"
)

// RunRecord is the persisted record of the most recent run for a job.
// Exactly one record is current per job identity; the fingerprint decides
// whether the next run may be skipped.
type RunRecord struct {
	// Fingerprint is the digest of the resolved config plus source metadata.
	Fingerprint string `json:"fingerprint"`
	// Timestamp is when the run reached its terminal state.
	Timestamp time.Time `json:"timestamp"`
	// Status is the terminal status of the recorded run.
	Status RunStatus `json:"status"`
}

// LoadOutcome describes a completed load stage.
type LoadOutcome struct {
	// RowsWritten is the number of rows written to the destination.
	RowsWritten int `json:"rows_written"`
	// TargetRef identifies the destination (path, bucket/key, table).
	TargetRef string `json:"target_ref"`
}

// RunResult is the terminal output of one orchestrator invocation.
type RunResult struct {
	// Status is the terminal run status.
	Status RunStatus `json:"status"`
	// StagesExecuted lists the stages that completed, in execution order.
	StagesExecuted []Stage `json:"stages_executed"`
	// QualityReport is the analytics output, present when analytics ran.
	QualityReport *QualityReport `json:"quality_report,omitempty"`
	// LoadOutcome is present when the load stage completed.
	LoadOutcome *LoadOutcome `json:"load_outcome,omitempty"`
	// Err is the originating error for failed runs.
	Err error `json:"-"`
	// ErrMessage mirrors Err for serialized reporting.
	ErrMessage string `json:"error,omitempty"`
	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`
	// Fingerprint is the fingerprint computed for this run.
	Fingerprint string `json:"fingerprint"`
}

// Completed reports whether the given stage finished during the run.
func (r *RunResult) Completed(stage Stage) bool {
	for _, s := range r.StagesExecuted {
		if s == stage {
			return true
		}
	}
	return false
}
