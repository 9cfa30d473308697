package stage

import (
	"context"

	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/types"
)

// Params are the resolved, type-specific parameters for one stage, taken
// verbatim from the job configuration.
type Params map[string]any

// String returns the string parameter under key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool returns the boolean parameter under key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the integer parameter under key, or def when absent.
// YAML decodes integers as int; float64 is accepted for JSON round-trips.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Strings returns the string-list parameter under key, or nil when absent.
func (p Params) Strings(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Extractor reads a source into a materialized Dataset.
// Failures must be ErrSourceUnavailable or ErrSourceFormat.
type Extractor interface {
	Extract(ctx context.Context, params Params) (*dataset.Dataset, error)
}

// Transformer reshapes a Dataset. The input is never mutated; the
// returned Dataset is new, or the same reference when unchanged.
// Failures must be ErrTransform.
type Transformer interface {
	Transform(ctx context.Context, ds *dataset.Dataset, params Params) (*dataset.Dataset, error)
}

// Loader writes a Dataset to a destination.
// Failures must be ErrDestinationUnavailable or ErrConflict.
type Loader interface {
	Load(ctx context.Context, ds *dataset.Dataset, params Params) (*types.LoadOutcome, error)
}

// SourceMeta is cheap source-state metadata used for fingerprinting:
// size, modification time, ETag. Never the data itself.
type SourceMeta struct {
	// Size is the source size in bytes, -1 when unknown.
	Size int64 `json:"size"`
	// ModTime is the source modification time in RFC 3339, when exposed.
	ModTime string `json:"mod_time,omitempty"`
	// ETag is the object ETag, when the connector exposes one.
	ETag string `json:"etag,omitempty"`
}

// SourceInspector is optionally implemented by extractors that can report
// source-state metadata without reading the data. Extractors that cannot
// simply don't implement it; the fingerprint then covers config only.
type SourceInspector interface {
	InspectSource(ctx context.Context, params Params) (*SourceMeta, error)
}
