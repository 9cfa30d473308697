// Package csv provides the file-backed CSV extractor and loader.
//
// Cell values are inferred per column: a column whose non-empty cells all
// parse as one of int, float, bool, or time gets that kind; anything else
// stays a string. Empty cells become nulls.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// timeLayouts are the accepted timestamp formats, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Extractor reads a CSV file with a header row into a Dataset.
//
// Params:
//
//	path      (required) file path
//	delimiter (optional) single-character field delimiter, default ","
type Extractor struct{}

// NewExtractor creates a CSV extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract reads and materializes the file.
func (e *Extractor) Extract(ctx context.Context, params stage.Params) (*dataset.Dataset, error) {
	path := params.String("path", "")
	if path == "" {
		return nil, stage.NewError(stage.ErrSourceFormat, types.StageExtract, errors.New("csv source requires a path"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, stage.WrapSourceError(err)
	}
	defer f.Close()

	delim, err := Delimiter(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrSourceFormat, types.StageExtract, err)
	}

	ds, err := Decode(f, delim)
	if err != nil {
		return nil, stage.WrapSourceError(fmt.Errorf("%s: %w", path, err))
	}
	return ds, nil
}

// Decode parses CSV content with a header row into a typed Dataset.
// Shared by the file and object-store extractors.
func Decode(r io.Reader, delim rune) (*dataset.Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("missing header row")
	}

	header := records[0]
	raw := records[1:]
	columns := make([]dataset.Column, len(header))
	for i, name := range header {
		cells := make([]string, len(raw))
		for r, record := range raw {
			cells[r] = record[i]
		}
		columns[i] = dataset.Column{Name: strings.TrimSpace(name), Values: inferColumn(cells)}
	}
	return dataset.New(columns)
}

// InspectSource reports file size and modification time for
// fingerprinting, without reading the data.
func (e *Extractor) InspectSource(ctx context.Context, params stage.Params) (*stage.SourceMeta, error) {
	path := params.String("path", "")
	if path == "" {
		return nil, errors.New("csv source requires a path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &stage.SourceMeta{
		Size:    info.Size(),
		ModTime: info.ModTime().UTC().Format(time.RFC3339Nano),
	}, nil
}

// WriteMode controls loader behavior when the destination file exists.
type WriteMode string

const (
	// ModeOverwrite replaces any existing file.
	ModeOverwrite WriteMode = "overwrite"
	// ModeAppend appends rows, writing the header only for a new file.
	ModeAppend WriteMode = "append"
	// ModeFail refuses to touch an existing file.
	ModeFail WriteMode = "fail"
)

// Loader writes a Dataset to a CSV file with a header row.
//
// Params:
//
//	path      (required) destination file path
//	delimiter (optional) single-character field delimiter, default ","
//	mode      (optional) overwrite | append | fail, default overwrite
type Loader struct{}

// NewLoader creates a CSV loader.
func NewLoader() *Loader { return &Loader{} }

// Load writes the dataset. Overwrite mode writes a temp file and renames
// it into place so a failed attempt never leaves a truncated destination.
func (l *Loader) Load(ctx context.Context, ds *dataset.Dataset, params stage.Params) (*types.LoadOutcome, error) {
	path := params.String("path", "")
	if path == "" {
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, errors.New("csv destination requires a path"))
	}
	mode := WriteMode(params.String("mode", string(ModeOverwrite)))
	delim, err := Delimiter(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	switch mode {
	case ModeOverwrite:
		return l.writeAtomic(path, delim, ds)
	case ModeAppend:
		return l.append(path, delim, ds, exists)
	case ModeFail:
		if exists {
			return nil, stage.NewError(stage.ErrConflict, types.StageLoad, fmt.Errorf("%s already exists", path))
		}
		return l.writeAtomic(path, delim, ds)
	default:
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, fmt.Errorf("unknown write mode %q", mode))
	}
}

func (l *Loader) writeAtomic(path string, delim rune, ds *dataset.Dataset) (*types.LoadOutcome, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, delim, ds, true); err != nil {
		tmp.Close()
		return nil, stage.WrapDestinationError(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	return &types.LoadOutcome{RowsWritten: ds.Rows(), TargetRef: path}, nil
}

func (l *Loader) append(path string, delim rune, ds *dataset.Dataset, exists bool) (*types.LoadOutcome, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	defer f.Close()

	if err := Encode(f, delim, ds, !exists); err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	if err := f.Close(); err != nil {
		return nil, stage.WrapDestinationError(err)
	}
	return &types.LoadOutcome{RowsWritten: ds.Rows(), TargetRef: path}, nil
}

// Encode writes the dataset as CSV. Nulls become empty fields.
// Shared by the file and object-store loaders.
func Encode(out io.Writer, delim rune, ds *dataset.Dataset, header bool) error {
	w := csv.NewWriter(out)
	w.Comma = delim
	if header {
		if err := w.Write(ds.ColumnNames()); err != nil {
			return err
		}
	}
	names := ds.ColumnNames()
	record := make([]string, len(names))
	for row := 0; row < ds.Rows(); row++ {
		for i, v := range ds.Row(row) {
			if v.IsNull() {
				record[i] = ""
			} else {
				record[i] = v.String()
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Delimiter reads the single-character delimiter parameter, default ",".
func Delimiter(params stage.Params) (rune, error) {
	d := params.String("delimiter", ",")
	runes := []rune(d)
	if len(runes) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	return runes[0], nil
}

// inferColumn parses the raw cells of one column into typed values.
// The narrowest kind that fits every non-empty cell wins; mixed columns
// fall back to strings.
func inferColumn(cells []string) []dataset.Value {
	isInt, isFloat, isBool, isTime := true, true, true, true
	allEmpty := true
	for _, cell := range cells {
		s := strings.TrimSpace(cell)
		if s == "" {
			continue
		}
		allEmpty = false
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			isFloat = false
		}
		if !isBoolLiteral(s) {
			isBool = false
		}
		if _, ok := parseTime(s); !ok {
			isTime = false
		}
	}

	values := make([]dataset.Value, len(cells))
	for i, cell := range cells {
		s := strings.TrimSpace(cell)
		if s == "" {
			values[i] = dataset.Value{}
			continue
		}
		switch {
		case allEmpty:
			values[i] = dataset.Value{}
		case isInt:
			n, _ := strconv.ParseInt(s, 10, 64)
			values[i] = dataset.IntVal(n)
		case isFloat:
			f, _ := strconv.ParseFloat(s, 64)
			values[i] = dataset.FloatVal(f)
		case isBool:
			values[i] = dataset.BoolVal(strings.EqualFold(s, "true"))
		case isTime:
			t, _ := parseTime(s)
			values[i] = dataset.TimeVal(t)
		default:
			values[i] = dataset.StringVal(cell)
		}
	}
	return values
}

func isBoolLiteral(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
