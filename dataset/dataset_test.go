package dataset

import (
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		columns []Column
		wantErr bool
	}{
		{
			name: "valid columns",
			columns: []Column{
				{Name: "id", Values: []Value{IntVal(1), IntVal(2)}},
				{Name: "name", Values: []Value{StringVal("a"), StringVal("b")}},
			},
		},
		{
			name:    "no columns",
			columns: nil,
		},
		{
			name: "duplicate column names",
			columns: []Column{
				{Name: "id", Values: []Value{IntVal(1)}},
				{Name: "id", Values: []Value{IntVal(2)}},
			},
			wantErr: true,
		},
		{
			name: "unequal column lengths",
			columns: []Column{
				{Name: "id", Values: []Value{IntVal(1), IntVal(2)}},
				{Name: "name", Values: []Value{StringVal("a")}},
			},
			wantErr: true,
		},
		{
			name: "empty column name",
			columns: []Column{
				{Name: "", Values: []Value{IntVal(1)}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.columns)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccessors(t *testing.T) {
	ds, err := New([]Column{
		{Name: "id", Values: []Value{IntVal(1), IntVal(2), IntVal(3)}},
		{Name: "score", Values: []Value{FloatVal(0.5), {}, FloatVal(0.9)}},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if ds.Rows() != 3 {
		t.Errorf("Rows() = %d, want 3", ds.Rows())
	}
	if ds.NumColumns() != 2 {
		t.Errorf("NumColumns() = %d, want 2", ds.NumColumns())
	}

	names := ds.ColumnNames()
	if len(names) != 2 || names[0] != "id" || names[1] != "score" {
		t.Errorf("ColumnNames() = %v", names)
	}

	v, ok := ds.Cell(1, "score")
	if !ok {
		t.Fatal("Cell(1, score) not found")
	}
	if !v.IsNull() {
		t.Errorf("Cell(1, score) = %v, want null", v)
	}

	if _, ok := ds.Cell(0, "missing"); ok {
		t.Error("Cell() found a column that does not exist")
	}
	if row := ds.Row(1); len(row) != 2 {
		t.Errorf("Row(1) has %d values, want 2", len(row))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ds, _ := New([]Column{
		{Name: "n", Values: []Value{IntVal(1), IntVal(2)}},
	})

	clone := ds.Clone()
	clone.Columns()[0].Values[0] = IntVal(99)

	v, _ := ds.Cell(0, "n")
	if v.Int != 1 {
		t.Errorf("mutating clone changed original: got %d, want 1", v.Int)
	}
}

func TestValueNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  float64
		ok    bool
	}{
		{"int", IntVal(42), 42, true},
		{"float", FloatVal(1.5), 1.5, true},
		{"string", StringVal("x"), 0, false},
		{"bool", BoolVal(true), 0, false},
		{"null", Value{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.Numeric()
			if ok != tt.ok || got != tt.want {
				t.Errorf("Numeric() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValueEqual(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same ints", IntVal(5), IntVal(5), true},
		{"different ints", IntVal(5), IntVal(6), false},
		{"int and equal float differ in kind", IntVal(5), FloatVal(5.0), false},
		{"nulls", Value{}, Value{}, true},
		{"null and value", Value{}, IntVal(0), false},
		{"same strings", StringVal("a"), StringVal("a"), true},
		{"same times", TimeVal(now), TimeVal(now), true},
		{"string and int", StringVal("5"), IntVal(5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDatasetEqual(t *testing.T) {
	a, _ := New([]Column{{Name: "x", Values: []Value{IntVal(1)}}})
	b, _ := New([]Column{{Name: "x", Values: []Value{IntVal(1)}}})
	c, _ := New([]Column{{Name: "x", Values: []Value{IntVal(2)}}})

	if !a.Equal(b) {
		t.Error("identical datasets not equal")
	}
	if a.Equal(c) {
		t.Error("different datasets reported equal")
	}
	if a.Equal(Empty()) {
		t.Error("dataset equal to empty")
	}
}
