package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/state"
)

// JSONStore keeps the snapshot in one JSON file. Writes go to a temporary
// file that is renamed into place, so readers never see a partial file.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for path. Nothing is touched until the
// first Load or Save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the state file path.
func (s *JSONStore) Path() string { return s.path }

// Close is a no-op; the store holds no open handles between calls.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) lock() (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	fl := NewFileLock(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl, nil
}

// Load reads the snapshot. A missing file yields (nil, nil).
func (s *JSONStore) Load(ctx context.Context) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail("load", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.fail("load", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, s.fail("load", fmt.Errorf("%w: %v", errors.ErrCorruptState, err)).WithRetryable(false)
	}
	return &snap, nil
}

// Save writes the snapshot atomically under the file lock.
func (s *JSONStore) Save(ctx context.Context, snap *state.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return s.fail("save", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return s.fail("save", err).WithRetryable(false)
	}

	fl, err := s.lock()
	if err != nil {
		return s.fail("save", fmt.Errorf("acquire lock: %w", err))
	}
	defer func() { _ = fl.Unlock() }()

	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return s.fail("save", fmt.Errorf("write temp file: %w", err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return s.fail("save", fmt.Errorf("rename temp file: %w", err))
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *JSONStore) fail(op string, err error) *errors.PersistenceError {
	return errors.NewPersistenceError(BackendJSON, op, err).WithPath(s.path)
}
