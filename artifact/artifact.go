// Package artifact persists intermediate Dataset snapshots between stages.
//
// Snapshots let a failed run be diagnosed against the exact data each stage
// produced. They are msgpack-encoded and removed by the cleanup stage after
// a successful load when configured.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/flume/dataset"
)

// snapshot is the wire form of a Dataset snapshot.
type snapshot struct {
	Columns []column  `msgpack:"columns"`
	Rows    int       `msgpack:"rows"`
	SavedAt time.Time `msgpack:"saved_at"`
}

type column struct {
	Name   string `msgpack:"name"`
	Values []cell `msgpack:"values"`
}

// cell flattens dataset.Value for encoding. Kind discriminates which
// payload field is meaningful.
type cell struct {
	Kind uint8     `msgpack:"kind"`
	Bool bool      `msgpack:"b,omitempty"`
	Int  int64     `msgpack:"i,omitempty"`
	F64  float64   `msgpack:"f,omitempty"`
	Str  string    `msgpack:"s,omitempty"`
	Time time.Time `msgpack:"t,omitempty"`
}

// Save writes a Dataset snapshot to path, creating parent directories.
func Save(path string, ds *dataset.Dataset) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir %s: %w", dir, err)
		}
	}

	snap := snapshot{Rows: ds.Rows(), SavedAt: time.Now().UTC()}
	for _, col := range ds.Columns() {
		c := column{Name: col.Name, Values: make([]cell, len(col.Values))}
		for i, v := range col.Values {
			c.Values[i] = cell{
				Kind: uint8(v.Kind),
				Bool: v.Bool,
				Int:  v.Int,
				F64:  v.F64,
				Str:  v.Str,
				Time: v.Time,
			}
		}
		snap.Columns = append(snap.Columns, c)
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// Load reads a Dataset snapshot from path.
func Load(path string) (*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	columns := make([]dataset.Column, 0, len(snap.Columns))
	for _, c := range snap.Columns {
		col := dataset.Column{Name: c.Name, Values: make([]dataset.Value, len(c.Values))}
		for i, v := range c.Values {
			col.Values[i] = dataset.Value{
				Kind: dataset.Kind(v.Kind),
				Bool: v.Bool,
				Int:  v.Int,
				F64:  v.F64,
				Str:  v.Str,
				Time: v.Time,
			}
		}
		columns = append(columns, col)
	}
	return dataset.New(columns)
}

// Remove deletes the given snapshot paths, skipping empties. Returns the
// paths that could not be removed paired with their errors; callers treat
// these as warnings since cleanup never reverts a durable load.
func Remove(paths []string) map[string]error {
	failures := map[string]error{}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			failures[path] = err
		}
	}
	return failures
}
