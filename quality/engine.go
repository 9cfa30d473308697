// Package quality evaluates declarative data-quality rules against a
// Dataset and produces a scored report.
//
// Rules are stateless and evaluated independently; the engine never
// mutates the input Dataset. Evaluating zero rules yields a vacuously
// passing report (score 100, no issues).
package quality

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// Engine evaluates quality rules.
type Engine struct{}

// NewEngine creates a quality engine.
func NewEngine() *Engine {
	return &Engine{}
}

// recommendations maps each category to a generic remediation hint,
// appended once per failing category.
var recommendations = map[types.RuleCategory]string{
	types.CategoryCompleteness: "Fill or drop null values before loading, or relax the null threshold if the gaps are expected.",
	types.CategoryUniqueness:   "Deduplicate the source or add a dedup transform step keyed on the offending columns.",
	types.CategoryValidity:     "Check upstream type coercion and constrain values at extraction time.",
	types.CategoryConsistency:  "Review the cross-column relationship with the data owner; the violating rows likely indicate an upstream defect.",
	types.CategoryAccuracy:     "Re-check the business predicate against current data; either the data drifted or the rule is stale.",
}

// Evaluate runs every rule against the Dataset and builds the report.
// A rule referencing an unknown column fails evaluation with ErrTransform
// semantics surfaced as an issue rather than aborting the whole report;
// structurally invalid rules (bad pattern, bad comparison) return an error.
func (e *Engine) Evaluate(ds *dataset.Dataset, rules []types.QualityRule) (*types.QualityReport, error) {
	report := &types.QualityReport{
		RuleResults:     make([]types.RuleResult, 0, len(rules)),
		Issues:          []string{},
		Recommendations: []string{},
		Profile:         Profile(ds),
		EvaluatedAt:     time.Now().UTC(),
	}

	recommended := map[types.RuleCategory]bool{}
	passed := 0

	for _, rule := range rules {
		result, issues, err := e.evaluateRule(ds, rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		report.RuleResults = append(report.RuleResults, result)
		if result.Passed {
			passed++
			continue
		}
		report.Issues = append(report.Issues, issues...)
		if !recommended[rule.Category] {
			recommended[rule.Category] = true
			report.Recommendations = append(report.Recommendations, recommendations[rule.Category])
		}
	}

	if len(rules) == 0 {
		report.OverallScore = 100
	} else {
		report.OverallScore = round2(float64(passed) / float64(len(rules)) * 100)
	}
	return report, nil
}

func (e *Engine) evaluateRule(ds *dataset.Dataset, rule types.QualityRule) (types.RuleResult, []string, error) {
	result := types.RuleResult{
		RuleName:  rule.Name,
		Category:  rule.Category,
		Threshold: rule.Threshold,
	}

	var issues []string
	var err error
	switch rule.Category {
	case types.CategoryCompleteness:
		result.Observed, result.Passed, issues = checkCompleteness(ds, rule)
	case types.CategoryUniqueness:
		result.Observed, result.Passed, issues = checkUniqueness(ds, rule)
	case types.CategoryValidity:
		result.Observed, result.Passed, issues, err = checkValidity(ds, rule)
	case types.CategoryConsistency:
		result.Observed, result.Passed, issues, err = checkComparison(ds, rule, false)
	case types.CategoryAccuracy:
		result.Observed, result.Passed, issues, err = checkComparison(ds, rule, true)
	default:
		err = fmt.Errorf("unknown category %q", rule.Category)
	}
	return result, issues, err
}

// checkCompleteness measures null percentage per column; observed is the
// worst offending column. Empty Columns means every column.
func checkCompleteness(ds *dataset.Dataset, rule types.QualityRule) (float64, bool, []string) {
	columns := rule.Columns
	if len(columns) == 0 {
		columns = ds.ColumnNames()
	}

	var issues []string
	worst := 0.0
	for _, name := range columns {
		col, ok := ds.Column(name)
		if !ok {
			issues = append(issues, fmt.Sprintf("completeness rule %q references unknown column %q", rule.Name, name))
			continue
		}
		pct := nullPercentage(col, ds.Rows())
		if pct > worst {
			worst = pct
		}
		if pct > rule.Threshold {
			issues = append(issues, fmt.Sprintf(
				"column %q null percentage %.2f%% exceeds threshold %.2f%%", name, pct, rule.Threshold))
		}
	}
	return round2(worst), len(issues) == 0, issues
}

// checkUniqueness measures the duplicate percentage of whole rows, or of
// the key projection when Columns is set.
func checkUniqueness(ds *dataset.Dataset, rule types.QualityRule) (float64, bool, []string) {
	rows := ds.Rows()
	if rows == 0 {
		return 0, true, nil
	}

	columns := rule.Columns
	if len(columns) == 0 {
		columns = ds.ColumnNames()
	}

	seen := make(map[string]struct{}, rows)
	duplicates := 0
	for row := 0; row < rows; row++ {
		key := rowKey(ds, row, columns)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}

	pct := round2(float64(duplicates) / float64(rows) * 100)
	if pct > rule.Threshold {
		return pct, false, []string{fmt.Sprintf(
			"duplicate percentage %.2f%% on key %v exceeds threshold %.2f%% (%d duplicate rows)",
			pct, columns, rule.Threshold, duplicates)}
	}
	return pct, true, nil
}

// checkValidity measures the percentage of values violating the rule's
// range, pattern, or allowed-set constraint. Threshold is the max
// permitted invalid percentage (usually 0).
func checkValidity(ds *dataset.Dataset, rule types.QualityRule) (float64, bool, []string, error) {
	if len(rule.Columns) == 0 {
		return 0, false, nil, fmt.Errorf("validity rule requires columns")
	}

	var pattern *regexp.Regexp
	if rule.Pattern != "" {
		var err error
		pattern, err = regexp.Compile(rule.Pattern)
		if err != nil {
			return 0, false, nil, fmt.Errorf("invalid pattern %q: %w", rule.Pattern, err)
		}
	}

	allowed := map[string]struct{}{}
	for _, v := range rule.AllowedValues {
		allowed[v] = struct{}{}
	}

	var issues []string
	total, invalid := 0, 0
	for _, name := range rule.Columns {
		col, ok := ds.Column(name)
		if !ok {
			issues = append(issues, fmt.Sprintf("validity rule %q references unknown column %q", rule.Name, name))
			continue
		}
		colInvalid := 0
		for _, v := range col.Values {
			if v.IsNull() {
				continue
			}
			total++
			if !valueValid(v, rule, pattern, allowed) {
				invalid++
				colInvalid++
			}
		}
		if colInvalid > 0 {
			issues = append(issues, fmt.Sprintf(
				"column %q has %d invalid values (constraint: %s)", name, colInvalid, validityConstraint(rule)))
		}
	}

	pct := 0.0
	if total > 0 {
		pct = round2(float64(invalid) / float64(total) * 100)
	}
	return pct, pct <= rule.Threshold && len(issues) == 0, issues, nil
}

func valueValid(v dataset.Value, rule types.QualityRule, pattern *regexp.Regexp, allowed map[string]struct{}) bool {
	if rule.MinValue != nil || rule.MaxValue != nil {
		f, ok := v.Numeric()
		if !ok {
			return false
		}
		if rule.MinValue != nil && f < *rule.MinValue {
			return false
		}
		if rule.MaxValue != nil && f > *rule.MaxValue {
			return false
		}
	}
	if pattern != nil && !pattern.MatchString(v.String()) {
		return false
	}
	if len(allowed) > 0 {
		if _, ok := allowed[v.String()]; !ok {
			return false
		}
	}
	return true
}

func validityConstraint(rule types.QualityRule) string {
	switch {
	case rule.MinValue != nil && rule.MaxValue != nil:
		return fmt.Sprintf("range [%g, %g]", *rule.MinValue, *rule.MaxValue)
	case rule.MinValue != nil:
		return fmt.Sprintf("min %g", *rule.MinValue)
	case rule.MaxValue != nil:
		return fmt.Sprintf("max %g", *rule.MaxValue)
	case rule.Pattern != "":
		return "pattern " + rule.Pattern
	case len(rule.AllowedValues) > 0:
		return fmt.Sprintf("allowed values %v", rule.AllowedValues)
	default:
		return "non-null"
	}
}

// checkComparison evaluates a pairwise column comparison per row.
// Consistency (accuracy=false): every row must hold; observed is the
// violating percentage and the threshold caps it (usually 0).
// Accuracy (accuracy=true): observed is the holding fraction (0-1) and
// must be at least the threshold.
func checkComparison(ds *dataset.Dataset, rule types.QualityRule, accuracy bool) (float64, bool, []string, error) {
	if len(rule.Columns) < 2 {
		return 0, false, nil, fmt.Errorf("%s rule requires two columns", rule.Category)
	}
	left, ok := ds.Column(rule.Columns[0])
	if !ok {
		return 0, false, []string{fmt.Sprintf("%s rule %q references unknown column %q", rule.Category, rule.Name, rule.Columns[0])}, nil
	}
	right, ok := ds.Column(rule.Columns[1])
	if !ok {
		return 0, false, []string{fmt.Sprintf("%s rule %q references unknown column %q", rule.Category, rule.Name, rule.Columns[1])}, nil
	}

	rows := ds.Rows()
	if rows == 0 {
		if accuracy {
			return 1, true, nil, nil
		}
		return 0, true, nil, nil
	}

	holds := 0
	for row := 0; row < rows; row++ {
		ok, err := compare(left.Values[row], right.Values[row], rule.Comparison)
		if err != nil {
			return 0, false, nil, err
		}
		if ok {
			holds++
		}
	}

	if accuracy {
		fraction := float64(holds) / float64(rows)
		if fraction < rule.Threshold {
			return round4(fraction), false, []string{fmt.Sprintf(
				"predicate %q %s %q holds for %.1f%% of rows, below required %.1f%%",
				rule.Columns[0], rule.Comparison, rule.Columns[1],
				fraction*100, rule.Threshold*100)}, nil
		}
		return round4(fraction), true, nil, nil
	}

	violations := rows - holds
	pct := round2(float64(violations) / float64(rows) * 100)
	if pct > rule.Threshold {
		return pct, false, []string{fmt.Sprintf(
			"relationship %q %s %q violated by %d rows (%.2f%%)",
			rule.Columns[0], rule.Comparison, rule.Columns[1], violations, pct)}, nil
	}
	return pct, true, nil, nil
}

// compare evaluates left <op> right. Null operands never hold.
func compare(left, right dataset.Value, op string) (bool, error) {
	if left.IsNull() || right.IsNull() {
		return false, nil
	}

	if op == "eq" || op == "ne" {
		eq := left.Equal(right)
		if !eq {
			// Numeric cross-kind equality (int vs float).
			lf, lok := left.Numeric()
			rf, rok := right.Numeric()
			eq = lok && rok && lf == rf
		}
		if op == "eq" {
			return eq, nil
		}
		return !eq, nil
	}

	lf, lok := left.Numeric()
	rf, rok := right.Numeric()
	if !lok || !rok {
		return false, nil
	}
	switch op {
	case "le":
		return lf <= rf, nil
	case "lt":
		return lf < rf, nil
	case "ge":
		return lf >= rf, nil
	case "gt":
		return lf > rf, nil
	default:
		return false, fmt.Errorf("%w: unknown comparison %q", stage.ErrTransform, op)
	}
}

func nullPercentage(col dataset.Column, rows int) float64 {
	if rows == 0 {
		return 0
	}
	nulls := 0
	for _, v := range col.Values {
		if v.IsNull() {
			nulls++
		}
	}
	return float64(nulls) / float64(rows) * 100
}

// rowKey builds a composite key of the named columns for one row.
func rowKey(ds *dataset.Dataset, row int, columns []string) string {
	key := ""
	for _, name := range columns {
		v, _ := ds.Cell(row, name)
		key += v.String() + "\x1f"
	}
	return key
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
