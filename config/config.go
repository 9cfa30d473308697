package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/justapithecus/flume/types"
)

// JobConfig is the resolved, environment-substituted configuration for one
// run. It is immutable once resolved and owned by the orchestrator for the
// duration of the run.
type JobConfig struct {
	// Name is the job identity used to key the run record. Optional; when
	// empty, an identity is derived from the source and load sections.
	Name string `yaml:"name" json:"name"`

	Source    StageConfig     `yaml:"source" json:"source"`
	Transform StageConfig     `yaml:"transform" json:"transform"`
	Load      StageConfig     `yaml:"load" json:"load"`
	Analytics AnalyticsConfig `yaml:"analytics" json:"analytics"`

	// Intermediates controls snapshotting of stage outputs and their
	// cleanup after a successful load.
	Intermediates IntermediatesConfig `yaml:"intermediates" json:"intermediates"`

	// Retry bounds the per-stage retry budget. Zero values take defaults.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// StageTimeout is the per-stage-call timeout. Zero means no timeout.
	StageTimeout Duration `yaml:"stage_timeout" json:"stage_timeout,omitempty"`

	// Record configures the run-record store backing the idempotency check.
	Record RecordConfig `yaml:"record" json:"-"`

	// Reporter configures the optional reporting sink for run results.
	Reporter ReporterConfig `yaml:"reporter" json:"-"`
}

// StageConfig selects one stage implementation by type tag and carries its
// type-specific parameters inline.
type StageConfig struct {
	// Type is the registry tag (e.g. "csv", "s3", "cleaner").
	Type string `yaml:"type" json:"type"`
	// Params are the remaining keys of the section, passed verbatim to the
	// resolved stage.
	Params map[string]any `yaml:",inline" json:"params,omitempty"`
}

// AnalyticsConfig enables rule-based quality evaluation.
type AnalyticsConfig struct {
	// Enabled turns the analyze stage on. Default false.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Rules are the declarative quality rules to evaluate.
	Rules []types.QualityRule `yaml:"rules" json:"rules,omitempty"`
	// MinScore is the optional quality gate: a score below it fails the
	// run before loading. Nil disables the gate.
	MinScore *float64 `yaml:"min_score" json:"min_score,omitempty"`
	// ReportPath optionally writes the quality report JSON to a file.
	ReportPath string `yaml:"report_path" json:"report_path,omitempty"`
}

// IntermediatesConfig controls intermediate artifact persistence.
type IntermediatesConfig struct {
	// Extract is the snapshot path for the extracted dataset. Empty skips.
	Extract string `yaml:"extract" json:"extract,omitempty"`
	// Transform is the snapshot path for the transformed dataset.
	Transform string `yaml:"transform" json:"transform,omitempty"`
	// Cleanup removes the snapshots after a successful load.
	Cleanup bool `yaml:"cleanup" json:"cleanup"`
}

// RetryConfig bounds the retry executor.
type RetryConfig struct {
	// MaxAttempts is the attempt bound per stage call. Default 3.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts,omitempty"`
	// BaseDelay is the first backoff delay. Default 500ms.
	BaseDelay Duration `yaml:"base_delay" json:"base_delay,omitempty"`
	// MaxDelay caps the exponential backoff. Default 10s.
	MaxDelay Duration `yaml:"max_delay" json:"max_delay,omitempty"`
}

// RecordConfig selects the run-record store backend.
// Excluded from the fingerprint: where the record lives must not change
// whether work is redone.
type RecordConfig struct {
	// Backend is "fs" (default) or "redis".
	Backend string `yaml:"backend"`
	// Path is the record file path for the fs backend.
	// Default ".flume/records.json".
	Path string `yaml:"path"`
	// URL is the Redis connection URL for the redis backend.
	URL string `yaml:"url"`
	// LockTTL bounds the advisory run lock for the redis backend.
	LockTTL Duration `yaml:"lock_ttl"`
}

// ReporterConfig selects the reporting sink for run completion events.
type ReporterConfig struct {
	// Type is "webhook", "redis", or empty for none.
	Type string `yaml:"type"`
	// URL is the webhook endpoint or Redis connection URL.
	URL string `yaml:"url"`
	// Channel is the Redis pub/sub channel.
	Channel string `yaml:"channel,omitempty"`
	// Headers are custom HTTP headers for the webhook type.
	Headers map[string]string `yaml:"headers,omitempty"`
	// Timeout is the per-publish timeout.
	Timeout Duration `yaml:"timeout,omitempty"`
	// Retries is the publish retry count.
	Retries *int `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON renders the duration as its string form so fingerprints stay
// stable across struct layout changes.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

var identityPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks the configuration for structural errors. Run before any
// stage resolution so misconfiguration surfaces before I/O.
func (c *JobConfig) Validate() error {
	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if c.Load.Type == "" {
		return fmt.Errorf("load.type is required")
	}
	if c.Name != "" && !identityPattern.MatchString(c.Name) {
		return fmt.Errorf("name %q must match %s", c.Name, identityPattern)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Analytics.MinScore != nil {
		if s := *c.Analytics.MinScore; s < 0 || s > 100 {
			return fmt.Errorf("analytics.min_score must be in [0, 100], got %g", s)
		}
		if !c.Analytics.Enabled {
			return fmt.Errorf("analytics.min_score requires analytics.enabled")
		}
	}
	for i, rule := range c.Analytics.Rules {
		switch rule.Category {
		case types.CategoryCompleteness, types.CategoryUniqueness,
			types.CategoryValidity, types.CategoryConsistency, types.CategoryAccuracy:
		default:
			return fmt.Errorf("analytics.rules[%d]: unknown category %q", i, rule.Category)
		}
		if rule.Name == "" {
			return fmt.Errorf("analytics.rules[%d]: name is required", i)
		}
	}
	switch c.Record.Backend {
	case "", "fs", "redis":
	default:
		return fmt.Errorf("record.backend must be fs or redis, got %q", c.Record.Backend)
	}
	switch c.Reporter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("reporter.type must be webhook or redis, got %q", c.Reporter.Type)
	}
	return nil
}

// Identity returns the stable configuration identity keying the run record
// and the advisory run lock. The explicit name wins; otherwise the identity
// derives from what the job reads and writes.
func (c *JobConfig) Identity() string {
	if c.Name != "" {
		return c.Name
	}
	payload, _ := json.Marshal(struct {
		Source StageConfig `json:"source"`
		Load   StageConfig `json:"load"`
	}{c.Source, c.Load})
	sum := sha256.Sum256(payload)
	return "job-" + hex.EncodeToString(sum[:6])
}

// Canonical returns the deterministic serialized form of the config used
// for fingerprinting. Map keys sort during JSON encoding, so two resolved
// configs with identical content always produce identical bytes.
func (c *JobConfig) Canonical() ([]byte, error) {
	return json.Marshal(c)
}
