// Package transform provides the built-in dataset transformers: a cleaner
// (dedup, missing-value handling, row filters, column standardization), a
// group-by aggregator, and a passthrough.
//
// Transformers never mutate their input; each returns a new Dataset (or
// the same reference when nothing changed).
package transform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// Noop passes the dataset through unchanged.
type Noop struct{}

// NewNoop creates a passthrough transformer.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Transform(_ context.Context, ds *dataset.Dataset, _ stage.Params) (*dataset.Dataset, error) {
	return ds, nil
}

// Cleaner deduplicates rows, handles missing values, filters rows, and
// standardizes column names.
//
// Params:
//
//	remove_duplicates   (optional) default true
//	dedup_cols          (optional) columns defining row identity; empty
//	                    means the whole row
//	missing_strategy    (optional) drop | fill | keep, default drop
//	fill_values         (optional) per-column fill value for fill mode;
//	                    unlisted numeric columns fill with the column
//	                    mean, others with the most frequent value
//	filter_column       (optional) row filter column
//	filter_op           (optional) eq | ne | gt | ge | lt | le
//	filter_value        (optional) row filter comparison value
//	standardize_columns (optional) default true; lowercases names,
//	                    replaces spaces with underscores, strips the rest
//	rename              (optional) old-name to new-name map
type Cleaner struct{}

// NewCleaner creates a cleaner transformer.
func NewCleaner() *Cleaner { return &Cleaner{} }

func (c *Cleaner) Transform(ctx context.Context, ds *dataset.Dataset, params stage.Params) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := ds.Clone()

	if params.Bool("remove_duplicates", true) {
		var err error
		out, err = dedup(out, params.Strings("dedup_cols"))
		if err != nil {
			return nil, transformErr(err)
		}
	}

	switch strategy := params.String("missing_strategy", "drop"); strategy {
	case "drop":
		out = dropNullRows(out)
	case "fill":
		out = fillNulls(out, fillValues(params))
	case "keep":
	default:
		return nil, transformErr(fmt.Errorf("unknown missing_strategy %q", strategy))
	}

	if col := params.String("filter_column", ""); col != "" {
		var err error
		out, err = filterRows(out, col, params.String("filter_op", "eq"), params["filter_value"])
		if err != nil {
			return nil, transformErr(err)
		}
	}

	renames, err := renameMap(params)
	if err != nil {
		return nil, transformErr(err)
	}
	out, err = renameColumns(out, renames)
	if err != nil {
		return nil, transformErr(err)
	}

	if params.Bool("standardize_columns", true) {
		out = standardizeColumns(out)
	}
	return out, nil
}

// Aggregator groups rows and reduces each group per column.
//
// Params:
//
//	group_by     (required) grouping column or column list
//	aggregations (required) map of column to function name or function
//	             list; functions: sum, count, min, max, mean
//	sort_by      (optional) output column to sort groups by
//	sort_ascending (optional) default true
//	limit        (optional) cap on output rows, applied after sorting
//
// Aggregated output columns are named "column_function" when a column has
// more than one function, otherwise they keep the source column name.
// Group order is deterministic: groups sort by their key.
type Aggregator struct{}

// NewAggregator creates an aggregator transformer.
func NewAggregator() *Aggregator { return &Aggregator{} }

// aggSpec is one (source column, function) pair with its output name.
type aggSpec struct {
	column string
	fn     string
	output string
}

func (a *Aggregator) Transform(ctx context.Context, ds *dataset.Dataset, params stage.Params) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groupBy := groupByColumns(params)
	if len(groupBy) == 0 {
		return nil, transformErr(errors.New("aggregator requires group_by"))
	}
	specs, err := aggSpecs(params)
	if err != nil {
		return nil, transformErr(err)
	}
	if len(specs) == 0 {
		return nil, transformErr(errors.New("aggregator requires aggregations"))
	}
	for _, name := range groupBy {
		if _, ok := ds.Column(name); !ok {
			return nil, transformErr(fmt.Errorf("group_by column %q not found", name))
		}
	}
	for _, spec := range specs {
		if _, ok := ds.Column(spec.column); !ok {
			return nil, transformErr(fmt.Errorf("aggregation column %q not found", spec.column))
		}
	}

	// Group rows, preserving a deterministic order by group key.
	groups := make(map[string][]int)
	var keyOrder []string
	for row := 0; row < ds.Rows(); row++ {
		key := rowKey(ds, row, groupBy)
		if _, seen := groups[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		groups[key] = append(groups[key], row)
	}
	sort.Strings(keyOrder)

	columns := make([]dataset.Column, 0, len(groupBy)+len(specs))
	for _, name := range groupBy {
		values := make([]dataset.Value, 0, len(keyOrder))
		for _, key := range keyOrder {
			first := groups[key][0]
			v, _ := ds.Cell(first, name)
			values = append(values, v)
		}
		columns = append(columns, dataset.Column{Name: name, Values: values})
	}
	for _, spec := range specs {
		values := make([]dataset.Value, 0, len(keyOrder))
		for _, key := range keyOrder {
			v, err := reduce(ds, groups[key], spec)
			if err != nil {
				return nil, transformErr(err)
			}
			values = append(values, v)
		}
		columns = append(columns, dataset.Column{Name: spec.output, Values: values})
	}

	out, err := dataset.New(columns)
	if err != nil {
		return nil, transformErr(err)
	}

	if sortBy := params.String("sort_by", ""); sortBy != "" {
		out, err = sortRows(out, sortBy, params.Bool("sort_ascending", true))
		if err != nil {
			return nil, transformErr(err)
		}
	}
	if limit := params.Int("limit", 0); limit > 0 && limit < out.Rows() {
		out = headRows(out, limit)
	}
	return out, nil
}

// transformErr classifies a transform failure.
func transformErr(err error) error {
	return stage.NewError(stage.ErrTransform, types.StageTransform, err)
}

// rowKey builds a group key over the named columns. The unit separator
// keeps distinct tuples from colliding.
func rowKey(ds *dataset.Dataset, row int, cols []string) string {
	parts := make([]string, len(cols))
	for i, name := range cols {
		v, _ := ds.Cell(row, name)
		if v.IsNull() {
			parts[i] = "\x00null"
		} else {
			parts[i] = v.String()
		}
	}
	return strings.Join(parts, "\x1f")
}

// dedup keeps the first occurrence of each identity tuple.
func dedup(ds *dataset.Dataset, cols []string) (*dataset.Dataset, error) {
	if len(cols) == 0 {
		cols = ds.ColumnNames()
	}
	for _, name := range cols {
		if _, ok := ds.Column(name); !ok {
			return nil, fmt.Errorf("dedup column %q not found", name)
		}
	}

	seen := make(map[string]struct{}, ds.Rows())
	var keep []int
	for row := 0; row < ds.Rows(); row++ {
		key := rowKey(ds, row, cols)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, row)
	}
	return selectRows(ds, keep)
}

func dropNullRows(ds *dataset.Dataset) *dataset.Dataset {
	var keep []int
	for row := 0; row < ds.Rows(); row++ {
		hasNull := false
		for _, v := range ds.Row(row) {
			if v.IsNull() {
				hasNull = true
				break
			}
		}
		if !hasNull {
			keep = append(keep, row)
		}
	}
	out, _ := selectRows(ds, keep)
	return out
}

// fillNulls replaces nulls using explicit per-column values where given,
// otherwise the column mean for numeric columns and the most frequent
// value for the rest.
func fillNulls(ds *dataset.Dataset, explicit map[string]any) *dataset.Dataset {
	columns := make([]dataset.Column, 0, ds.NumColumns())
	for _, col := range ds.Columns() {
		fill, ok := explicit[col.Name]
		var fillVal dataset.Value
		if ok {
			fillVal = valueFromAny(fill)
		} else {
			fillVal = defaultFill(col)
		}

		values := make([]dataset.Value, len(col.Values))
		for i, v := range col.Values {
			if v.IsNull() {
				values[i] = fillVal
			} else {
				values[i] = v
			}
		}
		columns = append(columns, dataset.Column{Name: col.Name, Values: values})
	}
	out, _ := dataset.New(columns)
	return out
}

// defaultFill computes the fallback fill value for a column: the mean
// when every non-null value is numeric, otherwise the mode.
func defaultFill(col dataset.Column) dataset.Value {
	var sum float64
	numeric := 0
	nonNull := 0
	counts := make(map[string]int)
	var mode dataset.Value
	best := 0
	for _, v := range col.Values {
		if v.IsNull() {
			continue
		}
		nonNull++
		if f, ok := v.Numeric(); ok {
			sum += f
			numeric++
		}
		key := v.String()
		counts[key]++
		if counts[key] > best {
			best = counts[key]
			mode = v
		}
	}
	if nonNull == 0 {
		return dataset.StringVal("Unknown")
	}
	if numeric == nonNull {
		return dataset.FloatVal(sum / float64(nonNull))
	}
	return mode
}

func fillValues(params stage.Params) map[string]any {
	raw, ok := params["fill_values"].(map[string]any)
	if !ok {
		return nil
	}
	return raw
}

func valueFromAny(v any) dataset.Value {
	switch t := v.(type) {
	case nil:
		return dataset.Value{}
	case bool:
		return dataset.BoolVal(t)
	case int:
		return dataset.IntVal(int64(t))
	case int64:
		return dataset.IntVal(t)
	case float64:
		return dataset.FloatVal(t)
	case string:
		return dataset.StringVal(t)
	default:
		return dataset.StringVal(fmt.Sprintf("%v", t))
	}
}

// filterRows keeps rows where column op value holds. Null cells never
// match.
func filterRows(ds *dataset.Dataset, column, op string, value any) (*dataset.Dataset, error) {
	if _, ok := ds.Column(column); !ok {
		return nil, fmt.Errorf("filter column %q not found", column)
	}
	target := valueFromAny(value)

	var keep []int
	for row := 0; row < ds.Rows(); row++ {
		v, _ := ds.Cell(row, column)
		if v.IsNull() {
			continue
		}
		match, err := compare(v, target, op)
		if err != nil {
			return nil, err
		}
		if match {
			keep = append(keep, row)
		}
	}
	return selectRows(ds, keep)
}

func compare(v, target dataset.Value, op string) (bool, error) {
	switch op {
	case "eq":
		return v.Equal(target), nil
	case "ne":
		return !v.Equal(target), nil
	}

	lf, lok := v.Numeric()
	rf, rok := target.Numeric()
	if lok && rok {
		switch op {
		case "gt":
			return lf > rf, nil
		case "ge":
			return lf >= rf, nil
		case "lt":
			return lf < rf, nil
		case "le":
			return lf <= rf, nil
		}
	} else {
		ls, rs := v.String(), target.String()
		switch op {
		case "gt":
			return ls > rs, nil
		case "ge":
			return ls >= rs, nil
		case "lt":
			return ls < rs, nil
		case "le":
			return ls <= rs, nil
		}
	}
	return false, fmt.Errorf("unknown filter op %q", op)
}

func renameMap(params stage.Params) (map[string]string, error) {
	raw, ok := params["rename"]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("rename must be a map of old name to new name")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("rename target for %q must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}

func renameColumns(ds *dataset.Dataset, renames map[string]string) (*dataset.Dataset, error) {
	if len(renames) == 0 {
		return ds, nil
	}
	for old := range renames {
		if _, ok := ds.Column(old); !ok {
			return nil, fmt.Errorf("rename column %q not found", old)
		}
	}
	columns := make([]dataset.Column, 0, ds.NumColumns())
	for _, col := range ds.Columns() {
		name := col.Name
		if renamed, ok := renames[name]; ok {
			name = renamed
		}
		columns = append(columns, dataset.Column{Name: name, Values: col.Values})
	}
	return dataset.New(columns)
}

var nonIdentifier = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func standardizeColumns(ds *dataset.Dataset) *dataset.Dataset {
	columns := make([]dataset.Column, 0, ds.NumColumns())
	for _, col := range ds.Columns() {
		name := strings.ToLower(col.Name)
		name = strings.ReplaceAll(name, " ", "_")
		name = nonIdentifier.ReplaceAllString(name, "")
		columns = append(columns, dataset.Column{Name: name, Values: col.Values})
	}
	out, err := dataset.New(columns)
	if err != nil {
		// Standardization collided two names; keep the originals.
		return ds
	}
	return out
}

// selectRows builds a new dataset from the given row indices.
func selectRows(ds *dataset.Dataset, rows []int) (*dataset.Dataset, error) {
	columns := make([]dataset.Column, 0, ds.NumColumns())
	for _, col := range ds.Columns() {
		values := make([]dataset.Value, 0, len(rows))
		for _, row := range rows {
			values = append(values, col.Values[row])
		}
		columns = append(columns, dataset.Column{Name: col.Name, Values: values})
	}
	return dataset.New(columns)
}

func headRows(ds *dataset.Dataset, n int) *dataset.Dataset {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	out, _ := selectRows(ds, rows)
	return out
}

func sortRows(ds *dataset.Dataset, column string, ascending bool) (*dataset.Dataset, error) {
	if _, ok := ds.Column(column); !ok {
		return nil, fmt.Errorf("sort_by column %q not found", column)
	}
	rows := make([]int, ds.Rows())
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := ds.Cell(rows[i], column)
		b, _ := ds.Cell(rows[j], column)
		less := valueLess(a, b)
		if ascending {
			return less
		}
		return valueLess(b, a)
	})
	return selectRows(ds, rows)
}

// valueLess orders values numerically when both sides are numeric,
// lexically otherwise. Nulls sort first.
func valueLess(a, b dataset.Value) bool {
	if a.IsNull() {
		return !b.IsNull()
	}
	if b.IsNull() {
		return false
	}
	af, aok := a.Numeric()
	bf, bok := b.Numeric()
	if aok && bok {
		return af < bf
	}
	return a.String() < b.String()
}

func groupByColumns(params stage.Params) []string {
	if s := params.String("group_by", ""); s != "" {
		return []string{s}
	}
	return params.Strings("group_by")
}

// aggSpecs expands the aggregations param into (column, function) pairs.
// A column mapped to a single function keeps its name; a column mapped to
// a function list gets one output column per function, named
// "column_function".
func aggSpecs(params stage.Params) ([]aggSpec, error) {
	raw, ok := params["aggregations"].(map[string]any)
	if !ok {
		return nil, nil
	}

	var specs []aggSpec
	for _, column := range sortedKeys(raw) {
		switch fns := raw[column].(type) {
		case string:
			if err := checkAggFn(fns); err != nil {
				return nil, err
			}
			specs = append(specs, aggSpec{column: column, fn: fns, output: column})
		case []any:
			for _, item := range fns {
				fn, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("aggregation functions for %q must be strings", column)
				}
				if err := checkAggFn(fn); err != nil {
					return nil, err
				}
				output := column
				if len(fns) > 1 {
					output = column + "_" + fn
				}
				specs = append(specs, aggSpec{column: column, fn: fn, output: output})
			}
		default:
			return nil, fmt.Errorf("aggregation for %q must be a function name or list", column)
		}
	}
	return specs, nil
}

func checkAggFn(fn string) error {
	switch fn {
	case "sum", "count", "min", "max", "mean":
		return nil
	}
	return fmt.Errorf("unknown aggregation function %q", fn)
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// reduce applies one aggregation function over the group's rows.
// Nulls are excluded; count counts non-null cells.
func reduce(ds *dataset.Dataset, rows []int, spec aggSpec) (dataset.Value, error) {
	if spec.fn == "count" {
		n := int64(0)
		for _, row := range rows {
			v, _ := ds.Cell(row, spec.column)
			if !v.IsNull() {
				n++
			}
		}
		return dataset.IntVal(n), nil
	}

	var sum float64
	var minV, maxV float64
	n := 0
	for _, row := range rows {
		v, _ := ds.Cell(row, spec.column)
		if v.IsNull() {
			continue
		}
		f, ok := v.Numeric()
		if !ok {
			return dataset.Value{}, fmt.Errorf("aggregation %s requires numeric column %q", spec.fn, spec.column)
		}
		if n == 0 {
			minV, maxV = f, f
		} else {
			if f < minV {
				minV = f
			}
			if f > maxV {
				maxV = f
			}
		}
		sum += f
		n++
	}
	if n == 0 {
		return dataset.Value{}, nil
	}

	switch spec.fn {
	case "sum":
		return dataset.FloatVal(sum), nil
	case "min":
		return dataset.FloatVal(minV), nil
	case "max":
		return dataset.FloatVal(maxV), nil
	case "mean":
		return dataset.FloatVal(sum / float64(n)), nil
	}
	return dataset.Value{}, fmt.Errorf("unknown aggregation function %q", spec.fn)
}
