package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/stage"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractInference(t *testing.T) {
	path := writeFile(t, strings.Join([]string{
		"id,price,active,signup,note",
		"1,9.99,true,2024-01-15,first",
		"2,10,false,2024-02-01,",
		"3,,TRUE,2024-03-10,third",
	}, "\n"))

	ds, err := NewExtractor().Extract(context.Background(), stage.Params{"path": path})
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if ds.Rows() != 3 || ds.NumColumns() != 5 {
		t.Fatalf("got %d rows, %d columns", ds.Rows(), ds.NumColumns())
	}

	wantKinds := map[string]dataset.Kind{
		"id":     dataset.KindInt,
		"price":  dataset.KindFloat,
		"active": dataset.KindBool,
		"signup": dataset.KindTime,
		"note":   dataset.KindString,
	}
	for name, want := range wantKinds {
		v, ok := ds.Cell(0, name)
		if !ok {
			t.Fatalf("column %q missing", name)
		}
		if v.Kind != want {
			t.Errorf("column %q kind = %v, want %v", name, v.Kind, want)
		}
	}

	if v, _ := ds.Cell(0, "price"); v.F64 != 9.99 {
		t.Errorf("price[0] = %v", v.F64)
	}
	if v, _ := ds.Cell(2, "price"); !v.IsNull() {
		t.Error("empty cell should be null")
	}
	if v, _ := ds.Cell(1, "note"); !v.IsNull() {
		t.Error("empty string cell should be null")
	}
	if v, _ := ds.Cell(2, "active"); !v.Bool {
		t.Error("TRUE should parse case-insensitively")
	}
	if v, _ := ds.Cell(0, "signup"); !v.Time.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("signup[0] = %v", v.Time)
	}
}

func TestExtractMixedColumnFallsBackToString(t *testing.T) {
	path := writeFile(t, "code\n42\nabc\n")
	ds, err := NewExtractor().Extract(context.Background(), stage.Params{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := ds.Cell(0, "code")
	if v.Kind != dataset.KindString || v.Str != "42" {
		t.Errorf("mixed column cell = %+v, want string 42", v)
	}
}

func TestExtractHeaderOnly(t *testing.T) {
	path := writeFile(t, "a,b,c\n")
	ds, err := NewExtractor().Extract(context.Background(), stage.Params{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Rows() != 0 || ds.NumColumns() != 3 {
		t.Errorf("got %d rows, %d columns", ds.Rows(), ds.NumColumns())
	}
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name   string
		params stage.Params
		want   error
	}{
		{"missing path param", stage.Params{}, stage.ErrSourceFormat},
		{"nonexistent file", stage.Params{"path": "/nonexistent/input.csv"}, stage.ErrSourceFormat},
		{
			"bad delimiter",
			stage.Params{"path": writeFile(t, "a\n1\n"), "delimiter": "||"},
			stage.ErrSourceFormat,
		},
		{
			"empty file",
			stage.Params{"path": writeFile(t, "")},
			stage.ErrSourceFormat,
		},
		{
			"ragged rows",
			stage.Params{"path": writeFile(t, "a,b\n1\n")},
			stage.ErrSourceFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor().Extract(context.Background(), tt.params)
			if !errors.Is(err, tt.want) {
				t.Errorf("Extract() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtractCustomDelimiter(t *testing.T) {
	path := writeFile(t, "a;b\n1;2\n")
	ds, err := NewExtractor().Extract(context.Background(), stage.Params{"path": path, "delimiter": ";"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := ds.Cell(0, "b"); v.Int != 2 {
		t.Errorf("b[0] = %+v", v)
	}
}

func TestInspectSource(t *testing.T) {
	path := writeFile(t, "a\n1\n")
	meta, err := NewExtractor().InspectSource(context.Background(), stage.Params{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 4 {
		t.Errorf("Size = %d, want 4", meta.Size)
	}
	if _, err := time.Parse(time.RFC3339Nano, meta.ModTime); err != nil {
		t.Errorf("ModTime %q not RFC3339Nano: %v", meta.ModTime, err)
	}

	if _, err := NewExtractor().InspectSource(context.Background(), stage.Params{"path": "/nonexistent"}); err == nil {
		t.Error("InspectSource() accepted a nonexistent file")
	}
}

func loadDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.Column{
		{Name: "id", Values: []dataset.Value{dataset.IntVal(1), dataset.IntVal(2)}},
		{Name: "name", Values: []dataset.Value{dataset.StringVal("a"), dataset.Null}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestLoadOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	ds := loadDataset(t)

	outcome, err := NewLoader().Load(context.Background(), ds, stage.Params{"path": path})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if outcome.RowsWritten != 2 || outcome.TargetRef != path {
		t.Errorf("outcome = %+v", outcome)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "id,name\n1,a\n2,\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}

	// A second overwrite replaces the file entirely.
	if _, err := NewLoader().Load(context.Background(), ds, stage.Params{"path": path}); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != want {
		t.Errorf("file content after overwrite = %q", data)
	}
}

func TestLoadAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	ds := loadDataset(t)
	params := stage.Params{"path": path, "mode": "append"}

	for i := 0; i < 2; i++ {
		if _, err := NewLoader().Load(context.Background(), ds, params); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Header written once, rows twice.
	want := "id,name\n1,a\n2,\n1,a\n2,\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}
}

func TestLoadFailMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	ds := loadDataset(t)
	params := stage.Params{"path": path, "mode": "fail"}

	if _, err := NewLoader().Load(context.Background(), ds, params); err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	_, err := NewLoader().Load(context.Background(), ds, params)
	if !errors.Is(err, stage.ErrConflict) {
		t.Errorf("second load error = %v, want ErrConflict", err)
	}
}

func TestLoadErrors(t *testing.T) {
	ds := loadDataset(t)
	tests := []struct {
		name   string
		params stage.Params
	}{
		{"missing path", stage.Params{}},
		{"unknown mode", stage.Params{"path": filepath.Join(t.TempDir(), "o.csv"), "mode": "merge"}},
		{"bad delimiter", stage.Params{"path": filepath.Join(t.TempDir(), "o.csv"), "delimiter": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader().Load(context.Background(), ds, tt.params); err == nil {
				t.Error("Load() accepted invalid params")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "round.csv")
	ds, err := dataset.New([]dataset.Column{
		{Name: "n", Values: []dataset.Value{dataset.IntVal(7), dataset.Null}},
		{Name: "ts", Values: []dataset.Value{
			dataset.TimeVal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
			dataset.TimeVal(time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoader().Load(context.Background(), ds, stage.Params{"path": path}); err != nil {
		t.Fatal(err)
	}
	back, err := NewExtractor().Extract(context.Background(), stage.Params{"path": path})
	if err != nil {
		t.Fatal(err)
	}

	if !back.Equal(ds) {
		t.Errorf("round trip changed the dataset:\n got %+v\nwant %+v", back.Columns(), ds.Columns())
	}
}

func TestDelimiter(t *testing.T) {
	tests := []struct {
		name    string
		params  stage.Params
		want    rune
		wantErr bool
	}{
		{"default", stage.Params{}, ',', false},
		{"semicolon", stage.Params{"delimiter": ";"}, ';', false},
		{"tab", stage.Params{"delimiter": "\t"}, '\t', false},
		{"multi-char", stage.Params{"delimiter": "ab"}, 0, true},
		{"empty", stage.Params{"delimiter": ""}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Delimiter(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Delimiter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Delimiter() = %q, want %q", got, tt.want)
			}
		})
	}
}
