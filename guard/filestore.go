package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/justapithecus/flume/types"
)

// DefaultRecordPath is the default record file location.
const DefaultRecordPath = ".flume/records.json"

// FileStore persists run records as a JSON object keyed by identity in a
// single local file. Suited to single-process execution; multi-process
// callers on a shared record should use RedisStore instead.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed record store. An empty path uses
// DefaultRecordPath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultRecordPath
	}
	return &FileStore{path: path}
}

// Read implements RecordStore.
func (s *FileStore) Read(_ context.Context, identity string) (*types.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	record, ok := records[identity]
	if !ok {
		return nil, ErrNoRecord
	}
	return record, nil
}

// Write implements RecordStore.
func (s *FileStore) Write(_ context.Context, identity string, record *types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records[identity] = record
	return s.save(records)
}

// Clear implements RecordStore.
func (s *FileStore) Clear(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[identity]; !ok {
		return ErrNoRecord
	}
	delete(records, identity)
	return s.save(records)
}

func (s *FileStore) load() (map[string]*types.RunRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*types.RunRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record file %s: %w", s.path, err)
	}
	var records map[string]*types.RunRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt record file %s: %w", s.path, err)
	}
	if records == nil {
		records = map[string]*types.RunRecord{}
	}
	return records, nil
}

// save writes via a temp file and rename so a crash mid-write never leaves
// a corrupt record file.
func (s *FileStore) save(records map[string]*types.RunRecord) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create record dir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace record file %s: %w", s.path, err)
	}
	return nil
}

// Verify FileStore implements RecordStore.
var _ RecordStore = (*FileStore)(nil)
