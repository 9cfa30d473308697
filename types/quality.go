package types

import "time"

// RuleCategory classifies a quality rule by the dimension it measures.
type RuleCategory string

const (
	// CategoryCompleteness checks null percentage per column.
	CategoryCompleteness RuleCategory = "completeness"
	// CategoryUniqueness checks duplicate row or key percentage.
	CategoryUniqueness RuleCategory = "uniqueness"
	// CategoryValidity checks type/range/pattern constraints on columns.
	CategoryValidity RuleCategory = "validity"
	// CategoryConsistency checks cross-column relationships.
	CategoryConsistency RuleCategory = "consistency"
	// CategoryAccuracy checks a business predicate against a row fraction.
	CategoryAccuracy RuleCategory = "accuracy"
)

// QualityRule is a single declarative data-quality rule.
// Rules are stateless and evaluated independently per Dataset.
type QualityRule struct {
	// Name identifies the rule in reports.
	Name string `yaml:"name" json:"name"`
	// Category selects the predicate family.
	Category RuleCategory `yaml:"category" json:"category"`
	// Columns names the column(s) the rule applies to. Empty means all
	// columns (completeness) or whole rows (uniqueness).
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	// Threshold is the category-specific limit:
	// completeness/uniqueness: max offending percentage (0-100);
	// accuracy: min passing fraction (0-1).
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// MinValue is the lower bound for validity range checks.
	MinValue *float64 `yaml:"min_value,omitempty" json:"min_value,omitempty"`
	// MaxValue is the upper bound for validity range checks.
	MaxValue *float64 `yaml:"max_value,omitempty" json:"max_value,omitempty"`
	// Pattern is a regular expression for validity pattern checks.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// AllowedValues enumerates permitted values for validity checks.
	AllowedValues []string `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	// Comparison is the consistency/accuracy operator between Columns[0]
	// and Columns[1] (one of "le", "lt", "ge", "gt", "eq", "ne").
	Comparison string `yaml:"comparison,omitempty" json:"comparison,omitempty"`
}

// RuleResult is the evaluation outcome of one rule.
type RuleResult struct {
	// RuleName is the evaluated rule's name.
	RuleName string `json:"rule_name"`
	// Category is the rule's category.
	Category RuleCategory `json:"category"`
	// Passed reports whether the observed value satisfied the threshold.
	Passed bool `json:"passed"`
	// Observed is the measured value (percentage or fraction per category).
	Observed float64 `json:"observed"`
	// Threshold is the configured limit the observation was compared to.
	Threshold float64 `json:"threshold"`
}

// ColumnProfile summarizes one column of the analyzed Dataset.
type ColumnProfile struct {
	// Name is the column name.
	Name string `json:"name"`
	// NullCount is the number of null cells.
	NullCount int `json:"null_count"`
	// NullPercentage is NullCount relative to row count, 0-100.
	NullPercentage float64 `json:"null_percentage"`
	// DistinctCount is the number of distinct non-null values.
	DistinctCount int `json:"distinct_count"`
	// Min, Max, Mean are present for numeric columns only.
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Mean *float64 `json:"mean,omitempty"`
}

// Profile is dataset-level context attached to a QualityReport.
type Profile struct {
	// Rows is the dataset row count.
	Rows int `json:"rows"`
	// Columns is the dataset column count.
	Columns int `json:"columns"`
	// ColumnProfiles holds per-column summaries in column order.
	ColumnProfiles []ColumnProfile `json:"column_profiles"`
}

// QualityReport is the immutable output of one quality evaluation.
type QualityReport struct {
	// OverallScore is the unweighted mean of per-rule pass ratios, 0-100.
	OverallScore float64 `json:"overall_score"`
	// RuleResults holds per-rule outcomes in rule order.
	RuleResults []RuleResult `json:"rule_results"`
	// Issues are actionable findings for violated rules.
	Issues []string `json:"issues"`
	// Recommendations are generic remediation hints per failing category.
	Recommendations []string `json:"recommendations"`
	// Profile is the dataset summary computed alongside the rules.
	Profile *Profile `json:"profile,omitempty"`
	// EvaluatedAt is when the report was created.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Passed reports whether every rule in the report passed.
func (r *QualityReport) Passed() bool {
	for _, rr := range r.RuleResults {
		if !rr.Passed {
			return false
		}
	}
	return true
}
