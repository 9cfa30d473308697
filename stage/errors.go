// Package stage defines the capability contracts for pipeline stages and
// the error kinds connectors are allowed to surface.
//
// This file defines sentinel errors and the classified error wrapper.
// Sentinels enable callers to use errors.Is/errors.As for typed assertions
// rather than string matching, and the transient/permanent split lives in
// exactly one place (Transient) so retry policy never leaks into
// conditionals elsewhere.
package stage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/flume/types"
)

// Sentinel errors for stage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnknownStageType indicates a type tag with no registered factory.
	// Surfaces at resolution time, before any I/O.
	ErrUnknownStageType = errors.New("unknown stage type")

	// ErrSourceUnavailable indicates the source could not be reached
	// (network, missing credentials, 5xx). Transient.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceFormat indicates the source was reachable but malformed.
	// Permanent.
	ErrSourceFormat = errors.New("source format error")

	// ErrTransform indicates a transform failure such as an unknown
	// column reference. Permanent.
	ErrTransform = errors.New("transform error")

	// ErrDestinationUnavailable indicates the destination could not be
	// reached. Transient.
	ErrDestinationUnavailable = errors.New("destination unavailable")

	// ErrConflict indicates the destination exists and overwrite is
	// disallowed. Permanent.
	ErrConflict = errors.New("destination conflict")

	// ErrQualityGate indicates the quality score fell below the
	// configured minimum gate. Permanent.
	ErrQualityGate = errors.New("quality gate failed")

	// ErrRecordStore indicates a run-record store read/write failure.
	ErrRecordStore = errors.New("record store error")
)

// Transient reports whether the error should be retried. This is the single
// classification point: availability errors retry, everything else
// propagates immediately.
func Transient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrDestinationUnavailable)
}

// Error wraps an underlying error with stage classification.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Stage is the pipeline stage that failed.
	Stage types.Stage
	// Attempts is the number of attempts made, when retried.
	Attempts int
	// Elapsed is the total time spent across attempts, when retried.
	Elapsed time.Duration
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %v after %d attempts (%s): %v", e.Stage, e.Kind, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewError creates a classified stage error.
func NewError(kind error, st types.Stage, err error) *Error {
	return &Error{Kind: kind, Stage: st, Err: err}
}

// WrapSourceError classifies a raw connector read error. Unreachable
// sources become ErrSourceUnavailable; anything else is a format error.
// Returns nil if err is nil.
func WrapSourceError(err error) error {
	if err == nil {
		return nil
	}
	if alreadyClassified(err) {
		return err
	}
	if unreachable(err) {
		return NewError(ErrSourceUnavailable, types.StageExtract, err)
	}
	return NewError(ErrSourceFormat, types.StageExtract, err)
}

// WrapDestinationError classifies a raw connector write error.
// Returns nil if err is nil.
func WrapDestinationError(err error) error {
	if err == nil {
		return nil
	}
	if alreadyClassified(err) {
		return err
	}
	return NewError(ErrDestinationUnavailable, types.StageLoad, err)
}

// sentinels lists every stage error kind.
var sentinels = []error{
	ErrUnknownStageType, ErrSourceUnavailable, ErrSourceFormat,
	ErrTransform, ErrDestinationUnavailable, ErrConflict,
	ErrQualityGate, ErrRecordStore,
}

// KindOf returns the sentinel the error chain carries, or nil for an
// unclassified error.
func KindOf(err error) error {
	for _, kind := range sentinels {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// alreadyClassified reports whether the chain carries a stage sentinel.
func alreadyClassified(err error) bool {
	return KindOf(err) != nil
}

// unreachable detects availability failures by error type and message
// patterns (connection refused, DNS, timeouts, throttling, 5xx).
func unreachable(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pat := range []string{
		"connection refused", "no route to host", "network unreachable",
		"dial tcp", "i/o timeout", "timeout", "timed out",
		"deadline exceeded", "slowdown", "throttl", "429", "503",
		"service unavailable", "nocredentialproviders",
	} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}
