// Package dataset defines the in-memory tabular payload passed between
// pipeline stages.
//
// A Dataset is an ordered sequence of named columns, each a sequence of
// nullable typed cells. Every column has exactly RowCount values and column
// names are unique. Stages treat datasets as immutable: a transformer
// returns a new Dataset (or the same reference when unchanged), never an
// in-place edit.
package dataset

import (
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates cell value types.
type Kind uint8

const (
	// KindNull is an absent value.
	KindNull Kind = iota
	// KindBool is a boolean cell.
	KindBool
	// KindInt is a 64-bit integer cell.
	KindInt
	// KindFloat is a 64-bit float cell.
	KindFloat
	// KindString is a string cell.
	KindString
	// KindTime is a timestamp cell.
	KindTime
)

// Value is a single nullable cell.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	F64  float64
	Str  string
	Time time.Time
}

// Null is the null cell value.
var Null = Value{Kind: KindNull}

// BoolVal constructs a boolean cell.
func BoolVal(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntVal constructs an integer cell.
func IntVal(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatVal constructs a float cell.
func FloatVal(f float64) Value { return Value{Kind: KindFloat, F64: f} }

// StringVal constructs a string cell.
func StringVal(s string) Value { return Value{Kind: KindString, Str: s} }

// TimeVal constructs a timestamp cell.
func TimeVal(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// IsNull reports whether the cell is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Numeric returns the cell as a float64. Int and Float cells convert
// directly; string cells parse if they hold a numeric literal.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.F64, true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders the cell for display and CSV encoding. Null renders empty.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same typed value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.F64 == o.F64
	case KindString:
		return v.Str == o.Str
	case KindTime:
		return v.Time.Equal(o.Time)
	default:
		return false
	}
}

// Column is a named sequence of cells.
type Column struct {
	Name   string
	Values []Value
}

// Dataset is the materialized tabular payload.
type Dataset struct {
	columns []Column
	rows    int
	index   map[string]int
}

// New constructs a Dataset from columns, validating the invariants:
// unique column names and equal column lengths.
func New(columns []Column) (*Dataset, error) {
	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0].Values)
	}
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has empty name", i)
		}
		if _, dup := index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		if len(col.Values) != rows {
			return nil, fmt.Errorf("column %q has %d values, want %d", col.Name, len(col.Values), rows)
		}
		index[col.Name] = i
	}
	return &Dataset{columns: columns, rows: rows, index: index}, nil
}

// Empty returns a Dataset with no columns and no rows.
func Empty() *Dataset {
	ds, _ := New(nil)
	return ds
}

// Rows returns the row count.
func (d *Dataset) Rows() int { return d.rows }

// NumColumns returns the column count.
func (d *Dataset) NumColumns() int { return len(d.columns) }

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or false when absent.
func (d *Dataset) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[i], true
}

// Columns returns the columns in order. Callers must not mutate the
// returned slices; use Clone for a private copy.
func (d *Dataset) Columns() []Column { return d.columns }

// Cell returns the value at (row, column name), or false when the column
// is absent or the row is out of range.
func (d *Dataset) Cell(row int, name string) (Value, bool) {
	col, ok := d.Column(name)
	if !ok || row < 0 || row >= d.rows {
		return Value{}, false
	}
	return col.Values[row], true
}

// Row returns the cells of one row in column order.
func (d *Dataset) Row(row int) []Value {
	out := make([]Value, len(d.columns))
	for i, col := range d.columns {
		out[i] = col.Values[row]
	}
	return out
}

// Clone returns a deep copy. Transformers that reshape data start from a
// clone so the input Dataset is never mutated.
func (d *Dataset) Clone() *Dataset {
	columns := make([]Column, len(d.columns))
	for i, col := range d.columns {
		values := make([]Value, len(col.Values))
		copy(values, col.Values)
		columns[i] = Column{Name: col.Name, Values: values}
	}
	out, _ := New(columns)
	return out
}

// Equal reports whether two datasets have identical columns and cells.
func (d *Dataset) Equal(o *Dataset) bool {
	if d.rows != o.rows || len(d.columns) != len(o.columns) {
		return false
	}
	for i, col := range d.columns {
		other := o.columns[i]
		if col.Name != other.Name {
			return false
		}
		for j, v := range col.Values {
			if !v.Equal(other.Values[j]) {
				return false
			}
		}
	}
	return true
}
