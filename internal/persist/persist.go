// Package persist saves and loads run snapshots.
//
// Two backends are available: a JSON file written atomically under an
// flock, and a SQLite database whose schema is managed by embedded
// migrations. Both satisfy Store and return (nil, nil) from Load when
// nothing has been saved yet.
package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/zektor/internal/state"
)

// Backend names.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Store is a durable home for snapshots.
type Store interface {
	Load(ctx context.Context) (*state.Snapshot, error)
	Save(ctx context.Context, snap *state.Snapshot) error
	Close() error
	// Path returns the file the store reads and writes.
	Path() string
}

// Backends returns the valid backend names.
func Backends() []string {
	return []string{BackendJSON, BackendSQLite}
}

// DataFile returns the state file name for an environment profile,
// e.g. sessions_data_development.json.
func DataFile(env, backend string) string {
	env = strings.TrimSpace(env)
	if env == "" {
		env = "development"
	}
	ext := "json"
	if backend == BackendSQLite {
		ext = "db"
	}
	return fmt.Sprintf("sessions_data_%s.%s", env, ext)
}

// Open returns the store for backend inside dataDir.
func Open(backend, dataDir, env string) (Store, error) {
	path := filepath.Join(dataDir, DataFile(env, backend))
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(path), nil
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q (valid: %s)", backend, strings.Join(Backends(), ", "))
	}
}
