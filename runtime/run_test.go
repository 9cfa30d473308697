package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/flume/adapter"
	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/guard"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// memStore is an in-memory record store for orchestrator tests.
type memStore struct {
	records map[string]*types.RunRecord
	writes  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*types.RunRecord)}
}

func (s *memStore) Read(_ context.Context, identity string) (*types.RunRecord, error) {
	record, ok := s.records[identity]
	if !ok {
		return nil, guard.ErrNoRecord
	}
	return record, nil
}

func (s *memStore) Write(_ context.Context, identity string, record *types.RunRecord) error {
	s.writes++
	s.records[identity] = record
	return nil
}

func (s *memStore) Clear(_ context.Context, identity string) error {
	delete(s.records, identity)
	return nil
}

// lockingStore wraps memStore with an advisory lock that records calls.
type lockingStore struct {
	*memStore
	held     bool
	acquires []string
	releases []string
}

func (s *lockingStore) AcquireLock(_ context.Context, identity, holder string) error {
	if s.held {
		return fmt.Errorf("%w: %s", guard.ErrLockHeld, identity)
	}
	s.acquires = append(s.acquires, holder)
	return nil
}

func (s *lockingStore) ReleaseLock(_ context.Context, identity, holder string) error {
	s.releases = append(s.releases, holder)
	return nil
}

type fakeExtractor struct {
	ds    *dataset.Dataset
	errs  []error // consumed per call; nil entry means success
	calls int
}

func (f *fakeExtractor) Extract(context.Context, stage.Params) (*dataset.Dataset, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.ds, nil
}

// inspectingExtractor additionally reports source metadata.
type inspectingExtractor struct {
	fakeExtractor
	meta stage.SourceMeta
}

func (f *inspectingExtractor) InspectSource(context.Context, stage.Params) (*stage.SourceMeta, error) {
	meta := f.meta
	return &meta, nil
}

type fakeTransformer struct {
	fn    func(*dataset.Dataset) *dataset.Dataset
	calls int
}

func (f *fakeTransformer) Transform(_ context.Context, ds *dataset.Dataset, _ stage.Params) (*dataset.Dataset, error) {
	f.calls++
	if f.fn == nil {
		return ds, nil
	}
	return f.fn(ds), nil
}

type fakeLoader struct {
	err   error
	calls int
}

func (f *fakeLoader) Load(_ context.Context, ds *dataset.Dataset, _ stage.Params) (*types.LoadOutcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.LoadOutcome{RowsWritten: ds.Rows(), TargetRef: "fake://out"}, nil
}

type fakeReporter struct {
	events []*adapter.RunCompletedEvent
}

func (f *fakeReporter) Publish(_ context.Context, event *adapter.RunCompletedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeReporter) Close() error { return nil }

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.Column{
		{Name: "id", Values: []dataset.Value{dataset.IntVal(1), dataset.IntVal(2), dataset.IntVal(3)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

type harness struct {
	extractor   *fakeExtractor
	transformer *fakeTransformer
	loader      *fakeLoader
	store       *memStore
	reporter    *fakeReporter
	job         *config.JobConfig
}

func newHarness(t *testing.T) *harness {
	return &harness{
		extractor:   &fakeExtractor{ds: testDataset(t)},
		transformer: &fakeTransformer{},
		loader:      &fakeLoader{},
		store:       newMemStore(),
		reporter:    &fakeReporter{},
		job: &config.JobConfig{
			Name:   "test-job",
			Source: config.StageConfig{Type: "fake"},
			Load:   config.StageConfig{Type: "fake"},
		},
	}
}

func (h *harness) registry() *stage.Registry {
	reg := stage.NewRegistry()
	reg.RegisterExtractor("fake", func() stage.Extractor { return h.extractor })
	reg.RegisterTransformer("noop", func() stage.Transformer { return h.transformer })
	reg.RegisterTransformer("fake", func() stage.Transformer { return h.transformer })
	reg.RegisterLoader("fake", func() stage.Loader { return h.loader })
	return reg
}

func (h *harness) run(t *testing.T, reset bool, store guard.RecordStore) *types.RunResult {
	t.Helper()
	if store == nil {
		store = h.store
	}
	orchestrator, err := NewOrchestrator(&RunConfig{
		Job:      h.job,
		Reset:    reset,
		Registry: h.registry(),
		Store:    store,
		Reporter: h.reporter,
		Retryer:  fastRetryer(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	result, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() returned an error: %v", err)
	}
	return result
}

func wantStages(t *testing.T, result *types.RunResult, want ...types.Stage) {
	t.Helper()
	if len(result.StagesExecuted) != len(want) {
		t.Fatalf("StagesExecuted = %v, want %v", result.StagesExecuted, want)
	}
	for i, st := range want {
		if result.StagesExecuted[i] != st {
			t.Fatalf("StagesExecuted = %v, want %v", result.StagesExecuted, want)
		}
	}
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness(t)
	result := h.run(t, false, nil)

	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v, want succeeded: %v", result.Status, result.ErrMessage)
	}
	wantStages(t, result, types.StageIdempotency, types.StageExtract, types.StageTransform, types.StageLoad)
	if result.LoadOutcome == nil || result.LoadOutcome.RowsWritten != 3 {
		t.Errorf("LoadOutcome = %+v", result.LoadOutcome)
	}
	if result.Fingerprint == "" {
		t.Error("Fingerprint empty")
	}

	record := h.store.records["test-job"]
	if record == nil || record.Status != types.StatusSucceeded {
		t.Errorf("record = %+v, want succeeded", record)
	}
	if record.Fingerprint != result.Fingerprint {
		t.Error("record fingerprint differs from result fingerprint")
	}
	if h.store.writes != 1 {
		t.Errorf("record writes = %d, want exactly 1", h.store.writes)
	}

	if len(h.reporter.events) != 1 {
		t.Fatalf("reporter events = %d, want 1", len(h.reporter.events))
	}
	event := h.reporter.events[0]
	if event.Status != "succeeded" || event.RowsLoaded != 3 || event.Job != "test-job" {
		t.Errorf("event = %+v", event)
	}
}

func TestExecuteSkipsUnchangedRun(t *testing.T) {
	h := newHarness(t)

	first := h.run(t, false, nil)
	if first.Status != types.StatusSucceeded {
		t.Fatalf("first run = %v", first.Status)
	}

	second := h.run(t, false, nil)
	if second.Status != types.StatusSkipped {
		t.Fatalf("second run = %v, want skipped", second.Status)
	}
	wantStages(t, second, types.StageIdempotency)
	if h.extractor.calls != 1 {
		t.Errorf("extractor called %d times, want 1 (skip does no I/O)", h.extractor.calls)
	}
	if h.loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", h.loader.calls)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Error("skip changed the fingerprint")
	}

	// A skip still leaves a skippable record behind.
	if record := h.store.records["test-job"]; record.Status != types.StatusSucceeded {
		t.Errorf("record after skip = %v, want succeeded", record.Status)
	}
}

func TestExecuteResetForcesRun(t *testing.T) {
	h := newHarness(t)

	h.run(t, false, nil)
	result := h.run(t, true, nil)

	if result.Status != types.StatusSucceeded {
		t.Fatalf("reset run = %v, want succeeded", result.Status)
	}
	if h.extractor.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", h.extractor.calls)
	}
}

func TestExecuteConfigChangeForcesRun(t *testing.T) {
	h := newHarness(t)
	h.run(t, false, nil)

	h.job.Load.Params = map[string]any{"path": "/different/out.csv"}
	result := h.run(t, false, nil)

	if result.Status != types.StatusSucceeded {
		t.Fatalf("changed-config run = %v, want succeeded", result.Status)
	}
	if h.extractor.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", h.extractor.calls)
	}
}

func TestExecuteSourceMetaChangeForcesRun(t *testing.T) {
	h := newHarness(t)
	inspecting := &inspectingExtractor{
		fakeExtractor: fakeExtractor{ds: testDataset(t)},
		meta:          stage.SourceMeta{Size: 100, ETag: "v1"},
	}
	reg := h.registry()
	reg.RegisterExtractor("fake", func() stage.Extractor { return inspecting })

	run := func() *types.RunResult {
		orchestrator, err := NewOrchestrator(&RunConfig{
			Job:      h.job,
			Registry: reg,
			Store:    h.store,
			Retryer:  fastRetryer(),
		})
		if err != nil {
			t.Fatal(err)
		}
		result, err := orchestrator.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	if first := run(); first.Status != types.StatusSucceeded {
		t.Fatalf("first = %v", first.Status)
	}
	if second := run(); second.Status != types.StatusSkipped {
		t.Fatalf("second = %v, want skipped", second.Status)
	}

	// Same config, new source state.
	inspecting.meta.ETag = "v2"
	third := run()
	if third.Status != types.StatusSucceeded {
		t.Fatalf("third = %v, want succeeded after source change", third.Status)
	}
	if inspecting.calls != 2 {
		t.Errorf("extract calls = %d, want 2", inspecting.calls)
	}
}

func TestExecuteFailedRunNeverSkips(t *testing.T) {
	h := newHarness(t)
	h.loader.err = stage.NewError(stage.ErrConflict, types.StageLoad, errors.New("exists"))

	first := h.run(t, false, nil)
	if first.Status != types.StatusFailed {
		t.Fatalf("first = %v, want failed", first.Status)
	}
	if record := h.store.records["test-job"]; record.Status != types.StatusFailed {
		t.Errorf("record = %v, want failed", record.Status)
	}

	h.loader.err = nil
	second := h.run(t, false, nil)
	if second.Status != types.StatusSucceeded {
		t.Fatalf("second = %v, want succeeded (failed runs must not skip)", second.Status)
	}
}

func TestExecuteUnknownStageTypeFailsBeforeIO(t *testing.T) {
	h := newHarness(t)
	h.job.Source.Type = "parquet"

	result := h.run(t, false, nil)
	if result.Status != types.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if !errors.Is(result.Err, stage.ErrUnknownStageType) {
		t.Errorf("Err = %v, want ErrUnknownStageType", result.Err)
	}
	if h.extractor.calls != 0 || h.loader.calls != 0 {
		t.Error("stages ran despite unresolvable type tag")
	}
	if len(h.store.records) != 0 {
		t.Error("record written without a computed fingerprint")
	}
}

func TestExecuteTransientExtractRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	unavailable := stage.NewError(stage.ErrSourceUnavailable, types.StageExtract, errors.New("dial tcp: refused"))
	h.extractor.errs = []error{unavailable, unavailable, unavailable}

	result := h.run(t, false, nil)
	if result.Status != types.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if h.extractor.calls != 3 {
		t.Errorf("extract attempts = %d, want exactly 3", h.extractor.calls)
	}
	if !errors.Is(result.Err, stage.ErrSourceUnavailable) {
		t.Errorf("Err = %v, want ErrSourceUnavailable", result.Err)
	}
	wantStages(t, result, types.StageIdempotency)
}

func TestExecuteTransientExtractRecovers(t *testing.T) {
	h := newHarness(t)
	unavailable := stage.NewError(stage.ErrSourceUnavailable, types.StageExtract, errors.New("dial tcp: refused"))
	h.extractor.errs = []error{unavailable, nil}

	result := h.run(t, false, nil)
	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v, want succeeded after retry", result.Status)
	}
	if h.extractor.calls != 2 {
		t.Errorf("extract attempts = %d, want 2", h.extractor.calls)
	}
}

func TestExecutePermanentExtractFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.extractor.errs = []error{
		stage.NewError(stage.ErrSourceFormat, types.StageExtract, errors.New("bad header")),
	}

	result := h.run(t, false, nil)
	if result.Status != types.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if h.extractor.calls != 1 {
		t.Errorf("extract attempts = %d, want exactly 1", h.extractor.calls)
	}
}

func TestExecuteQualityGateBlocksLoad(t *testing.T) {
	h := newHarness(t)
	gate := 90.0
	h.job.Analytics = config.AnalyticsConfig{
		Enabled:  true,
		MinScore: &gate,
		Rules: []types.QualityRule{{
			Name:      "no-null-ids",
			Category:  types.CategoryCompleteness,
			Columns:   []string{"missing_column"},
			Threshold: 0,
		}},
	}

	result := h.run(t, false, nil)
	if result.Status != types.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if !errors.Is(result.Err, stage.ErrQualityGate) {
		t.Errorf("Err = %v, want ErrQualityGate", result.Err)
	}
	if h.loader.calls != 0 {
		t.Error("loader ran despite a failed quality gate")
	}
	if result.QualityReport == nil {
		t.Error("failed result missing the quality report")
	}
	wantStages(t, result, types.StageIdempotency, types.StageExtract, types.StageTransform, types.StageAnalyze)
}

func TestExecuteQualityReportOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.job.Analytics = config.AnalyticsConfig{
		Enabled: true,
		Rules: []types.QualityRule{{
			Name:      "ids-present",
			Category:  types.CategoryCompleteness,
			Columns:   []string{"id"},
			Threshold: 0,
		}},
	}

	result := h.run(t, false, nil)
	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v: %v", result.Status, result.ErrMessage)
	}
	if result.QualityReport == nil || result.QualityReport.OverallScore != 100 {
		t.Errorf("QualityReport = %+v", result.QualityReport)
	}
	if len(h.reporter.events) != 1 || h.reporter.events[0].QualityScore == nil {
		t.Error("reporter event missing quality score")
	}
}

func TestExecuteIntermediatesAndCleanup(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	extractPath := filepath.Join(dir, "extract.msgpack")
	transformPath := filepath.Join(dir, "transform.msgpack")
	h.job.Intermediates = config.IntermediatesConfig{
		Extract:   extractPath,
		Transform: transformPath,
		Cleanup:   false,
	}

	result := h.run(t, false, nil)
	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v", result.Status)
	}
	for _, path := range []string{extractPath, transformPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("intermediate %s not written: %v", path, err)
		}
	}

	// With cleanup enabled the snapshots are removed after the load.
	h.job.Intermediates.Cleanup = true
	cleaned := h.run(t, true, nil)
	if cleaned.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v", cleaned.Status)
	}
	wantStages(t, cleaned,
		types.StageIdempotency, types.StageExtract, types.StageTransform,
		types.StageLoad, types.StageCleanup)
	for _, path := range []string{extractPath, transformPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("intermediate %s not cleaned up", path)
		}
	}
}

func TestExecuteTransformDoesNotMutateInput(t *testing.T) {
	h := newHarness(t)
	var seen *dataset.Dataset
	h.transformer.fn = func(ds *dataset.Dataset) *dataset.Dataset {
		seen = ds
		out := ds.Clone()
		out.Columns()[0].Values[0] = dataset.IntVal(999)
		return out
	}

	result := h.run(t, false, nil)
	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v", result.Status)
	}
	v, _ := seen.Cell(0, "id")
	if v.Int != 1 {
		t.Error("transformer input was mutated")
	}
}

func TestExecuteAdvisoryLock(t *testing.T) {
	h := newHarness(t)
	store := &lockingStore{memStore: newMemStore()}

	result := h.run(t, false, store)
	if result.Status != types.StatusSucceeded {
		t.Fatalf("Status = %v", result.Status)
	}
	if len(store.acquires) != 1 || len(store.releases) != 1 {
		t.Errorf("lock calls = %d acquires, %d releases, want 1 each", len(store.acquires), len(store.releases))
	}
	if store.acquires[0] != store.releases[0] {
		t.Error("lock released by a different holder than acquired")
	}
}

func TestExecuteLockHeldFails(t *testing.T) {
	h := newHarness(t)
	store := &lockingStore{memStore: newMemStore(), held: true}

	result := h.run(t, false, store)
	if result.Status != types.StatusFailed {
		t.Fatalf("Status = %v, want failed while lock held", result.Status)
	}
	if !errors.Is(result.Err, guard.ErrLockHeld) {
		t.Errorf("Err = %v, want ErrLockHeld", result.Err)
	}
	if h.extractor.calls != 0 {
		t.Error("extract ran while another process held the lock")
	}
}

func TestNewOrchestratorValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"nil job", func(c *RunConfig) { c.Job = nil }},
		{"invalid job", func(c *RunConfig) { c.Job = &config.JobConfig{} }},
		{"nil registry", func(c *RunConfig) { c.Registry = nil }},
		{"nil store", func(c *RunConfig) { c.Store = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &RunConfig{
				Job:      h.job,
				Registry: h.registry(),
				Store:    h.store,
			}
			tt.mutate(cfg)
			if _, err := NewOrchestrator(cfg); err == nil {
				t.Error("NewOrchestrator() accepted an invalid config")
			}
		})
	}
}

func TestNewOrchestratorGeneratesRunID(t *testing.T) {
	h := newHarness(t)
	cfg := &RunConfig{
		Job:      h.job,
		Registry: h.registry(),
		Store:    h.store,
	}
	if _, err := NewOrchestrator(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.RunID == "" {
		t.Error("RunID not generated")
	}
}

func TestExecuteReporterFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t)
	orchestrator, err := NewOrchestrator(&RunConfig{
		Job:      h.job,
		Registry: h.registry(),
		Store:    h.store,
		Reporter: failingReporter{},
		Retryer:  fastRetryer(),
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.StatusSucceeded {
		t.Errorf("Status = %v, reporting is best effort", result.Status)
	}
}

type failingReporter struct{}

func (failingReporter) Publish(context.Context, *adapter.RunCompletedEvent) error {
	return errors.New("webhook down")
}

func (failingReporter) Close() error { return nil }

func TestExecuteDurationRecorded(t *testing.T) {
	h := newHarness(t)
	result := h.run(t, false, nil)
	if result.Duration <= 0 || result.Duration > time.Minute {
		t.Errorf("Duration = %v", result.Duration)
	}
}
