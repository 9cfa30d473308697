// Package runtime orchestrates a single ETL run: idempotency check,
// extract, transform, optional quality analysis, load, and cleanup, with
// every extract/transform/load call wrapped by the retry executor.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/flume/adapter"
	"github.com/justapithecus/flume/artifact"
	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/guard"
	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/quality"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// RunLocker is optionally implemented by record stores that support an
// advisory per-identity run lock. When available, the orchestrator holds
// the lock from before the idempotency check until the terminal state,
// closing the read-then-write race on the run record under concurrent
// processes.
type RunLocker interface {
	AcquireLock(ctx context.Context, identity, holder string) error
	ReleaseLock(ctx context.Context, identity, holder string) error
}

// RunConfig configures a single run.
type RunConfig struct {
	// Job is the resolved job configuration.
	Job *config.JobConfig
	// RunID identifies this run. Generated when empty.
	RunID string
	// Reset bypasses the fingerprint comparison unconditionally.
	Reset bool
	// Registry resolves stage type tags. Required.
	Registry *stage.Registry
	// Store persists the run record. Required.
	Store guard.RecordStore
	// Retryer bounds per-stage retries. Zero value takes defaults.
	Retryer Retryer
	// Reporter is the optional reporting sink for the terminal event.
	Reporter adapter.Adapter
	// Collector is the metrics collector for this run.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
}

// Orchestrator drives a single run through the stage state machine.
type Orchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	guard     *guard.Guard
	quality   *quality.Engine
	startTime time.Time
}

// NewOrchestrator creates an orchestrator for one run.
// Returns an error if the job configuration is invalid.
func NewOrchestrator(cfg *RunConfig) (*Orchestrator, error) {
	if cfg.Job == nil {
		return nil, errors.New("job config is required")
	}
	if err := cfg.Job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}
	if cfg.Registry == nil {
		return nil, errors.New("stage registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.RunID == "" {
		cfg.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	logger := log.NewLogger(cfg.Job.Identity(), cfg.RunID)

	o := &Orchestrator{
		config:  cfg,
		logger:  logger,
		guard:   guard.New(cfg.Store, cfg.Job.Identity()),
		quality: quality.NewEngine(),
	}

	// Job-level retry settings apply unless the caller overrides them.
	if cfg.Retryer.MaxAttempts == 0 {
		cfg.Retryer.MaxAttempts = cfg.Job.Retry.MaxAttempts
	}
	if cfg.Retryer.BaseDelay == 0 {
		cfg.Retryer.BaseDelay = cfg.Job.Retry.BaseDelay.Duration
	}
	if cfg.Retryer.MaxDelay == 0 {
		cfg.Retryer.MaxDelay = cfg.Job.Retry.MaxDelay.Duration
	}
	// Retry attempts are observable for logging and metrics.
	if cfg.Retryer.OnAttempt == nil {
		cfg.Retryer.OnAttempt = o.observeAttempt
	}
	return o, nil
}

// Execute runs the pipeline end-to-end.
//
// State sequence:
//
//	Init → IdempotencyCheck → Skipped
//	                        → Extracting → Transforming → [Analyzing]
//	                          → Loading → Cleanup → Succeeded
//
// with any stage able to move to Failed on an unrecoverable error. The
// run record is updated exactly once, at the terminal transition.
func (o *Orchestrator) Execute(ctx context.Context) (*types.RunResult, error) {
	o.startTime = time.Now()
	cfg := o.config
	job := cfg.Job
	cfg.Collector.IncRunStarted()

	o.logger.Info("starting run", map[string]any{
		"source":    job.Source.Type,
		"transform": transformTag(job),
		"load":      job.Load.Type,
		"analytics": job.Analytics.Enabled,
	})

	// Resolve every stage before any I/O so unknown type tags surface
	// immediately.
	extractor, err := cfg.Registry.Extractor(job.Source.Type)
	if err != nil {
		return o.fail(ctx, nil, "", err), nil
	}
	transformer, err := cfg.Registry.Transformer(transformTag(job))
	if err != nil {
		return o.fail(ctx, nil, "", err), nil
	}
	loader, err := cfg.Registry.Loader(job.Load.Type)
	if err != nil {
		return o.fail(ctx, nil, "", err), nil
	}

	// Hold the advisory run lock across check and commit when the store
	// supports one.
	if locker, ok := cfg.Store.(RunLocker); ok {
		if err := locker.AcquireLock(ctx, job.Identity(), cfg.RunID); err != nil {
			return o.fail(ctx, nil, "", err), nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := locker.ReleaseLock(releaseCtx, job.Identity(), cfg.RunID); err != nil {
				o.logger.Warn("failed to release run lock", map[string]any{"error": err.Error()})
			}
			cancel()
		}()
	}

	// Fingerprint from config plus cheap source metadata, never a data read.
	meta := o.inspectSource(ctx, extractor)
	fingerprint, err := guard.Fingerprint(job, meta)
	if err != nil {
		return o.fail(ctx, nil, "", stage.NewError(stage.ErrRecordStore, types.StageIdempotency, err)), nil
	}

	stages := []types.Stage{types.StageIdempotency}
	decision, err := o.guard.Check(ctx, fingerprint, cfg.Reset)
	if err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	if decision == guard.Skip {
		return o.skip(ctx, stages, fingerprint), nil
	}

	// Extracting
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	var ds *dataset.Dataset
	err = cfg.Retryer.Do(ctx, types.StageExtract, func(ctx context.Context) error {
		return o.withStageTimeout(ctx, func(ctx context.Context) error {
			var extractErr error
			ds, extractErr = extractor.Extract(ctx, stage.Params(job.Source.Params))
			return extractErr
		})
	})
	if err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	stages = append(stages, types.StageExtract)
	cfg.Collector.AddRowsExtracted(int64(ds.Rows()))
	o.logger.Info("extraction completed", map[string]any{"rows": ds.Rows(), "columns": ds.NumColumns()})
	o.snapshot(job.Intermediates.Extract, ds)

	// Transforming
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	var transformed *dataset.Dataset
	err = cfg.Retryer.Do(ctx, types.StageTransform, func(ctx context.Context) error {
		return o.withStageTimeout(ctx, func(ctx context.Context) error {
			var transformErr error
			transformed, transformErr = transformer.Transform(ctx, ds, stage.Params(job.Transform.Params))
			return transformErr
		})
	})
	if err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	stages = append(stages, types.StageTransform)
	o.logger.Info("transformation completed", map[string]any{"rows": transformed.Rows()})
	o.snapshot(job.Intermediates.Transform, transformed)

	// Analyzing (optional); the gate is checked strictly before loading
	// so a gated failure never leaves a partially written destination.
	var report *types.QualityReport
	if job.Analytics.Enabled {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, stages, fingerprint, err), nil
		}
		report, err = o.quality.Evaluate(transformed, job.Analytics.Rules)
		if err != nil {
			return o.fail(ctx, stages, fingerprint, stage.NewError(stage.ErrTransform, types.StageAnalyze, err)), nil
		}
		stages = append(stages, types.StageAnalyze)
		cfg.Collector.SetQuality(report.OverallScore, int64(len(report.Issues)))
		o.logger.Info("quality evaluation completed", map[string]any{
			"score":  report.OverallScore,
			"issues": len(report.Issues),
		})
		o.saveReport(report)

		if gate := job.Analytics.MinScore; gate != nil && report.OverallScore < *gate {
			gateErr := stage.NewError(stage.ErrQualityGate, types.StageAnalyze,
				fmt.Errorf("score %.2f below minimum %.2f", report.OverallScore, *gate))
			result := o.fail(ctx, stages, fingerprint, gateErr)
			result.QualityReport = report
			return result, nil
		}
	}

	// Loading
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, stages, fingerprint, err), nil
	}
	var outcome *types.LoadOutcome
	err = cfg.Retryer.Do(ctx, types.StageLoad, func(ctx context.Context) error {
		return o.withStageTimeout(ctx, func(ctx context.Context) error {
			var loadErr error
			outcome, loadErr = loader.Load(ctx, transformed, stage.Params(job.Load.Params))
			return loadErr
		})
	})
	if err != nil {
		result := o.fail(ctx, stages, fingerprint, err)
		result.QualityReport = report
		return result, nil
	}
	stages = append(stages, types.StageLoad)
	cfg.Collector.AddRowsLoaded(int64(outcome.RowsWritten))
	o.logger.Info("load completed", map[string]any{
		"rows_written": outcome.RowsWritten,
		"target":       outcome.TargetRef,
	})

	// Cleanup. Failures are warnings: the load is already durable.
	if job.Intermediates.Cleanup {
		paths := snapshotPaths(job.Intermediates)
		for path, cleanupErr := range artifact.Remove(paths) {
			o.logger.Warn("cleanup failed", map[string]any{"path": path, "error": cleanupErr.Error()})
		}
		stages = append(stages, types.StageCleanup)
	}

	return o.succeed(ctx, stages, fingerprint, report, outcome), nil
}

// transformTag returns the transform type tag, defaulting to the no-op
// passthrough so the state machine stays uniform.
func transformTag(job *config.JobConfig) string {
	if job.Transform.Type == "" {
		return "noop"
	}
	return job.Transform.Type
}

// inspectSource queries cheap source metadata for fingerprinting.
// Extractors that expose none simply yield a config-only fingerprint;
// inspection failures are logged and ignored because the extract stage
// will surface the real error with retry semantics.
func (o *Orchestrator) inspectSource(ctx context.Context, extractor stage.Extractor) *stage.SourceMeta {
	inspector, ok := extractor.(stage.SourceInspector)
	if !ok {
		return nil
	}
	inspectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	meta, err := inspector.InspectSource(inspectCtx, stage.Params(o.config.Job.Source.Params))
	if err != nil {
		o.logger.Warn("source inspection failed, fingerprinting config only", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return meta
}

// withStageTimeout runs a stage call under the configured per-attempt
// timeout. The orchestrator checks cancellation at stage boundaries
// only; an in-flight call observes its deadline via the context.
func (o *Orchestrator) withStageTimeout(ctx context.Context, fn func(context.Context) error) error {
	timeout := o.config.Job.StageTimeout.Duration
	if timeout <= 0 {
		return fn(ctx)
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stageCtx)
}

func (o *Orchestrator) observeAttempt(st types.Stage, attempt int, err error) {
	c := o.config.Collector
	c.IncStageAttempt(string(st))
	if attempt > 1 {
		c.IncStageRetry(string(st))
	}
	if err != nil {
		c.IncStageFailure(string(st))
		o.logger.Warn("stage attempt failed", map[string]any{
			"stage":     string(st),
			"attempt":   attempt,
			"transient": stage.Transient(err),
			"error":     err.Error(),
		})
	}
}

// snapshot persists an intermediate dataset when configured.
// Snapshot failures never fail the run.
func (o *Orchestrator) snapshot(path string, ds *dataset.Dataset) {
	if path == "" {
		return
	}
	if err := artifact.Save(path, ds); err != nil {
		o.logger.Warn("intermediate snapshot failed", map[string]any{"path": path, "error": err.Error()})
		return
	}
	o.logger.Debug("intermediate snapshot saved", map[string]any{"path": path})
}

// saveReport writes the quality report JSON when a path is configured.
func (o *Orchestrator) saveReport(report *types.QualityReport) {
	path := o.config.Job.Analytics.ReportPath
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		o.logger.Warn("failed to save quality report", map[string]any{"path": path, "error": err.Error()})
		return
	}
	o.logger.Info("quality report saved", map[string]any{"path": path})
}

// skip builds the Skipped terminal result. The record is rewritten with
// the same fingerprint and Succeeded status so future runs keep skipping.
func (o *Orchestrator) skip(ctx context.Context, stages []types.Stage, fingerprint string) *types.RunResult {
	o.config.Collector.IncRunSkipped()
	o.logger.Info("run skipped, nothing changed since last success", map[string]any{
		"fingerprint": fingerprint,
	})
	o.commit(ctx, fingerprint, types.StatusSucceeded)

	result := &types.RunResult{
		Status:         types.StatusSkipped,
		StagesExecuted: stages,
		Duration:       time.Since(o.startTime),
		Fingerprint:    fingerprint,
	}
	o.publish(ctx, result)
	return result
}

// succeed builds the Succeeded terminal result and commits the record.
func (o *Orchestrator) succeed(ctx context.Context, stages []types.Stage, fingerprint string, report *types.QualityReport, outcome *types.LoadOutcome) *types.RunResult {
	o.config.Collector.IncRunSucceeded()
	o.commit(ctx, fingerprint, types.StatusSucceeded)

	result := &types.RunResult{
		Status:         types.StatusSucceeded,
		StagesExecuted: stages,
		QualityReport:  report,
		LoadOutcome:    outcome,
		Duration:       time.Since(o.startTime),
		Fingerprint:    fingerprint,
	}
	o.logger.Info("run completed", map[string]any{
		"status":   string(result.Status),
		"duration": result.Duration.String(),
	})
	o.publish(ctx, result)
	return result
}

// fail builds the Failed terminal result. The record is persisted with
// Failed status so the next invocation retries rather than skipping.
func (o *Orchestrator) fail(ctx context.Context, stages []types.Stage, fingerprint string, err error) *types.RunResult {
	o.config.Collector.IncRunFailed()
	o.logger.Error("run failed", map[string]any{
		"stages": stageNames(stages),
		"error":  err.Error(),
	})
	if fingerprint != "" {
		o.commit(ctx, fingerprint, types.StatusFailed)
	}

	result := &types.RunResult{
		Status:         types.StatusFailed,
		StagesExecuted: stages,
		Err:            err,
		ErrMessage:     err.Error(),
		Duration:       time.Since(o.startTime),
		Fingerprint:    fingerprint,
	}
	o.publish(ctx, result)
	return result
}

// commit writes the terminal run record. A commit failure cannot revert
// work already done, so it is logged rather than overriding the result;
// the absent/stale record makes the next run re-execute, which is safe.
func (o *Orchestrator) commit(ctx context.Context, fingerprint string, status types.RunStatus) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.guard.Commit(commitCtx, fingerprint, status); err != nil {
		o.logger.Warn("failed to persist run record", map[string]any{"error": err.Error()})
	}
}

// publish hands the terminal result to the reporting sink (best effort).
func (o *Orchestrator) publish(ctx context.Context, result *types.RunResult) {
	if o.config.Reporter == nil {
		return
	}
	event := &adapter.RunCompletedEvent{
		EventType:      "run_completed",
		Job:            o.config.Job.Identity(),
		RunID:          o.config.RunID,
		Status:         string(result.Status),
		StagesExecuted: stageNames(result.StagesExecuted),
		Fingerprint:    result.Fingerprint,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		DurationMs:     result.Duration.Milliseconds(),
	}
	if result.LoadOutcome != nil {
		event.RowsLoaded = result.LoadOutcome.RowsWritten
		event.TargetRef = result.LoadOutcome.TargetRef
	}
	if result.QualityReport != nil {
		score := result.QualityReport.OverallScore
		event.QualityScore = &score
	}
	if result.Err != nil {
		event.Error = result.Err.Error()
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := o.config.Reporter.Publish(publishCtx, event); err != nil {
		o.logger.Warn("reporting sink publish failed (best effort)", map[string]any{
			"error": err.Error(),
		})
	}
}

// snapshotPaths lists the intermediate snapshot paths that were
// actually configured.
func snapshotPaths(cfg config.IntermediatesConfig) []string {
	var paths []string
	for _, p := range []string{cfg.Extract, cfg.Transform} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func stageNames(stages []types.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return names
}
