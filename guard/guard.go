// Package guard implements the idempotency check that decides whether a
// run can be skipped because nothing changed since the last execution.
//
// The fingerprint is a pure function of the resolved job configuration and
// cheap source-state metadata (size, mtime, ETag). It never reads data, so
// the check is O(1) relative to dataset size.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// Decision is the outcome of the idempotency check.
type Decision string

const (
	// Proceed means the run must execute.
	Proceed Decision = "proceed"
	// Skip means the prior successful run covers the current state.
	Skip Decision = "skip"
)

// ErrNoRecord is returned by stores when no record exists for the identity.
var ErrNoRecord = errors.New("no run record")

// RecordStore persists the current RunRecord per configuration identity.
// Implementations back this with a local file or a Redis key.
type RecordStore interface {
	// Read returns the current record, or ErrNoRecord on first run.
	Read(ctx context.Context, identity string) (*types.RunRecord, error)
	// Write replaces the current record.
	Write(ctx context.Context, identity string, record *types.RunRecord) error
	// Clear removes the current record (manual reset).
	Clear(ctx context.Context, identity string) error
}

// Fingerprint computes the run fingerprint from the canonical config
// serialization plus source metadata. meta may be nil when the connector
// exposes none; the fingerprint then covers configuration only.
func Fingerprint(cfg *config.JobConfig, meta *stage.SourceMeta) (string, error) {
	canonical, err := cfg.Canonical()
	if err != nil {
		return "", fmt.Errorf("serialize config: %w", err)
	}

	h := sha256.New()
	h.Write(canonical)
	if meta != nil {
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("serialize source meta: %w", err)
		}
		h.Write(metaJSON)
	}
	// 16 bytes of digest is plenty for change detection.
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// Guard performs the check-then-commit sequence around one run.
// The store's read-then-write is single-writer per identity; multi-process
// callers take the store's advisory lock (see RedisStore.AcquireLock)
// before Check and release it after Commit.
type Guard struct {
	store    RecordStore
	identity string
}

// New creates a Guard for one configuration identity.
func New(store RecordStore, identity string) *Guard {
	return &Guard{store: store, identity: identity}
}

// Check decides skip/proceed for the given fingerprint. A skip requires an
// existing record with an equal fingerprint and Succeeded status; the reset
// flag forces Proceed unconditionally. A failed prior run always proceeds
// so failures are never silently repeated as skips.
func (g *Guard) Check(ctx context.Context, fingerprint string, reset bool) (Decision, error) {
	if reset {
		return Proceed, nil
	}

	record, err := g.store.Read(ctx, g.identity)
	if errors.Is(err, ErrNoRecord) {
		return Proceed, nil
	}
	if err != nil {
		return Proceed, stage.NewError(stage.ErrRecordStore, types.StageIdempotency, err)
	}

	if record.Fingerprint == fingerprint && record.Status == types.StatusSucceeded {
		return Skip, nil
	}
	return Proceed, nil
}

// Commit persists the terminal record for this run. Called exactly once,
// at the Skipped, Succeeded, or Failed transition.
func (g *Guard) Commit(ctx context.Context, fingerprint string, status types.RunStatus) error {
	record := &types.RunRecord{
		Fingerprint: fingerprint,
		Timestamp:   time.Now().UTC(),
		Status:      status,
	}
	if err := g.store.Write(ctx, g.identity, record); err != nil {
		return stage.NewError(stage.ErrRecordStore, types.StageIdempotency, err)
	}
	return nil
}

// Reset clears the stored record for this identity.
func (g *Guard) Reset(ctx context.Context) error {
	if err := g.store.Clear(ctx, g.identity); err != nil && !errors.Is(err, ErrNoRecord) {
		return stage.NewError(stage.ErrRecordStore, types.StageIdempotency, err)
	}
	return nil
}
