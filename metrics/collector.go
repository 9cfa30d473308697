// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single run. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so optional collection costs callers nothing.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsSkipped   int64

	// Stage attempts, including retries
	StageAttempts map[string]int64
	StageRetries  map[string]int64
	StageFailures map[string]int64

	// Data volume
	RowsExtracted int64
	RowsLoaded    int64

	// Quality
	QualityScore  float64
	QualityIssues int64

	// Dimensions (informational, set at construction)
	Job   string
	RunID string
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64
	runsSkipped   int64

	stageAttempts map[string]int64
	stageRetries  map[string]int64
	stageFailures map[string]int64

	rowsExtracted int64
	rowsLoaded    int64

	qualityScore  float64
	qualityIssues int64

	job   string
	runID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(job, runID string) *Collector {
	return &Collector{
		stageAttempts: make(map[string]int64),
		stageRetries:  make(map[string]int64),
		stageFailures: make(map[string]int64),
		job:           job,
		runID:         runID,
	}
}

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunSucceeded records a successful run completion.
func (c *Collector) IncRunSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsSucceeded++
	c.mu.Unlock()
}

// IncRunFailed records a run failure.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.mu.Unlock()
}

// IncRunSkipped records an idempotency skip.
func (c *Collector) IncRunSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsSkipped++
	c.mu.Unlock()
}

// IncStageAttempt records one attempt of a stage call. Attempts beyond the
// first for the same call are also recorded as retries by the caller.
func (c *Collector) IncStageAttempt(stage string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stageAttempts[stage]++
	c.mu.Unlock()
}

// IncStageRetry records a retry of a stage call.
func (c *Collector) IncStageRetry(stage string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stageRetries[stage]++
	c.mu.Unlock()
}

// IncStageFailure records a stage call that surfaced an error.
func (c *Collector) IncStageFailure(stage string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stageFailures[stage]++
	c.mu.Unlock()
}

// AddRowsExtracted records rows produced by the extract stage.
func (c *Collector) AddRowsExtracted(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsExtracted += n
	c.mu.Unlock()
}

// AddRowsLoaded records rows written by the load stage.
func (c *Collector) AddRowsLoaded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsLoaded += n
	c.mu.Unlock()
}

// SetQuality records the quality evaluation outcome.
func (c *Collector) SetQuality(score float64, issues int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.qualityScore = score
	c.qualityIssues = issues
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{
			StageAttempts: map[string]int64{},
			StageRetries:  map[string]int64{},
			StageFailures: map[string]int64{},
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsSucceeded: c.runsSucceeded,
		RunsFailed:    c.runsFailed,
		RunsSkipped:   c.runsSkipped,
		StageAttempts: copyMap(c.stageAttempts),
		StageRetries:  copyMap(c.stageRetries),
		StageFailures: copyMap(c.stageFailures),
		RowsExtracted: c.rowsExtracted,
		RowsLoaded:    c.rowsLoaded,
		QualityScore:  c.qualityScore,
		QualityIssues: c.qualityIssues,
		Job:           c.job,
		RunID:         c.runID,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
