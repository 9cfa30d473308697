package runtime

import (
	"context"
	"time"

	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// Retry defaults. Small bounds: a source that is down rarely recovers
// within a run, and the scheduler retries whole runs anyway.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
)

// AttemptObserver is notified after every attempt, success or failure,
// for logging and metrics. err is nil on success.
type AttemptObserver func(st types.Stage, attempt int, err error)

// Retryer wraps a single stage call with bounded retry and exponential
// backoff. Only transient errors consume retry budget; permanent errors
// propagate immediately. Retryer holds no state across invocations and is
// safe for concurrent use.
type Retryer struct {
	// MaxAttempts is the attempt bound. Zero takes DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the first backoff delay. Zero takes DefaultBaseDelay.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff. Zero takes DefaultMaxDelay.
	MaxDelay time.Duration
	// OnAttempt, when set, observes every attempt.
	OnAttempt AttemptObserver
}

// Do invokes fn until it succeeds, returns a permanent error, or the
// attempt bound is exhausted. Exhaustion returns the last transient error
// wrapped with the attempt count and total elapsed time.
func (r Retryer) Do(ctx context.Context, st types.Stage, fn func(context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := r.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Exponential backoff before retries (not before first attempt)
		if attempt > 1 {
			backoff := baseDelay << uint(attempt-2)
			if backoff > maxDelay {
				backoff = maxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn(ctx)
		if r.OnAttempt != nil {
			r.OnAttempt(st, attempt, err)
		}
		if err == nil {
			return nil
		}
		if !stage.Transient(err) {
			return err
		}
		lastErr = err
	}

	// Preserve the classification kind from the last transient error.
	kind := stage.KindOf(lastErr)
	if kind == nil {
		kind = stage.ErrSourceUnavailable
	}
	return &stage.Error{
		Kind:     kind,
		Stage:    st,
		Attempts: maxAttempts,
		Elapsed:  time.Since(start),
		Err:      lastErr,
	}
}
