// Package adapter defines the reporting sink boundary.
//
// Adapters publish run completion events to downstream systems. The
// runtime owns adapter lifecycle; users provide configuration only. The
// core guarantees only the structural shape of the event, not how it is
// rendered or shipped.
package adapter

import "context"

// RunCompletedEvent is the payload published when a run reaches a
// terminal state.
type RunCompletedEvent struct {
	EventType string `json:"event_type"` // always "run_completed"
	Job       string `json:"job"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"` // skipped, succeeded, failed
	// StagesExecuted lists completed stages in order.
	StagesExecuted []string `json:"stages_executed"`
	// RowsLoaded and TargetRef describe the load outcome, when one exists.
	RowsLoaded int    `json:"rows_loaded,omitempty"`
	TargetRef  string `json:"target_ref,omitempty"`
	// QualityScore is present when analytics ran.
	QualityScore *float64 `json:"quality_score,omitempty"`
	// Error carries the failure message for failed runs.
	Error       string `json:"error,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Timestamp   string `json:"timestamp"` // ISO 8601
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
