package matchstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio"
)

// FileStore keeps the record as a small JSON document. Writes go to a temporary
// file that is renamed over the target, so readers see either the old or the new
// record in full.
type FileStore struct {
	path string

	mu   sync.Mutex
	last *Record
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) SaveTopMatch(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last != nil && !rec.Newer(*f.last) {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	f.last = &rec
	return nil
}

func (f *FileStore) LoadTopMatch(_ context.Context) (Record, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return rec, true, nil
}

// ClearTopMatch removes the backing file. A missing file is not an error.
func (f *FileStore) ClearTopMatch(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = nil
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
