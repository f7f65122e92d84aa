package persist

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/session"
	"github.com/Iron-Ham/zektor/internal/state"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const nextIDKey = "next_session_id"

// SQLiteStore keeps the snapshot in three tables: stage_map, sessions and
// config. Every Save replaces their contents in one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	fail := func(op string, err error) error {
		return errors.NewPersistenceError(BackendSQLite, op, err).WithPath(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fail("open", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fail("open", err)
	}
	// One connection keeps every statement on the same SQLite handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fail("open", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, fail("migrate", err)
	}
	return s, nil
}

func (s *SQLiteStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// migrateUp runs all pending migrations. The migrate instance is not closed
// because that would close the shared *sql.DB.
func (s *SQLiteStore) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty flag.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the snapshot. An empty database yields (nil, nil).
func (s *SQLiteStore) Load(ctx context.Context) (*state.Snapshot, error) {
	var next int
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", nextIDKey).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("load", err)
	}

	snap := &state.Snapshot{
		StageMap:          make(map[int]*int),
		Sessions:          make(map[int]state.SessionRecord),
		ActiveSessions:    []int{},
		CompletedSessions: []int{},
		NextSessionID:     next,
	}
	if err := s.loadStages(ctx, snap); err != nil {
		return nil, s.fail("load", err)
	}
	if err := s.loadSessions(ctx, snap); err != nil {
		return nil, s.fail("load", err)
	}
	return snap, nil
}

func (s *SQLiteStore) loadStages(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, "SELECT stage_number, session_id FROM stage_map ORDER BY stage_number")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var stage int
		var id sql.NullInt64
		if err := rows.Scan(&stage, &id); err != nil {
			return err
		}
		if id.Valid {
			v := int(id.Int64)
			snap.StageMap[stage] = &v
		} else {
			snap.StageMap[stage] = nil
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSessions(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, current_stage, score, start_time, status
		FROM sessions
		ORDER BY list_order, session_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, score    int
			name, status string
			stage        sql.NullInt64
			started      string
		)
		if err := rows.Scan(&id, &name, &stage, &score, &started, &status); err != nil {
			return err
		}
		startTime, err := state.ParseStartTime(started)
		if err != nil {
			return fmt.Errorf("%w: session %d start_time %q", errors.ErrCorruptState, id, started)
		}

		pos := session.Unplaced
		if stage.Valid {
			pos = session.AtStage(int(stage.Int64))
		}
		switch session.Status(status) {
		case session.StatusCompleted:
			pos = session.Completed
			snap.CompletedSessions = append(snap.CompletedSessions, id)
		case session.StatusActive:
			snap.ActiveSessions = append(snap.ActiveSessions, id)
		}

		snap.Sessions[id] = state.SessionRecord{
			Name:         name,
			CurrentStage: pos,
			Score:        score,
			StartTime:    startTime,
		}
	}
	return rows.Err()
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *state.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("save", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{"DELETE FROM stage_map", "DELETE FROM sessions"} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return s.fail("save", err)
		}
	}

	for stage, id := range snap.StageMap {
		var v any
		if id != nil {
			v = *id
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO stage_map (stage_number, session_id) VALUES (?, ?)", stage, v); err != nil {
			return s.fail("save", err)
		}
	}

	order := listOrder(snap)
	for id, rec := range snap.Sessions {
		status := session.StatusUnplaced
		var stage any
		if n, ok := rec.CurrentStage.Stage(); ok {
			stage = n
		}
		if o, ok := order[id]; ok {
			status = o.status
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, name, current_stage, score, start_time, status, list_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rec.Name, stage, rec.Score, rec.StartTime.UTC().Format(time.RFC3339Nano), string(status), order[id].index); err != nil {
			return s.fail("save", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, nextIDKey, snap.NextSessionID); err != nil {
		return s.fail("save", err)
	}

	if err = tx.Commit(); err != nil {
		return s.fail("save", err)
	}
	return nil
}

type listEntry struct {
	status session.Status
	index  int
}

// listOrder records list membership and position so Load can rebuild the
// active and completed lists in their original order.
func listOrder(snap *state.Snapshot) map[int]listEntry {
	order := make(map[int]listEntry, len(snap.ActiveSessions)+len(snap.CompletedSessions))
	for i, id := range snap.ActiveSessions {
		order[id] = listEntry{status: session.StatusActive, index: i}
	}
	for i, id := range snap.CompletedSessions {
		order[id] = listEntry{status: session.StatusCompleted, index: i}
	}
	return order
}

func (s *SQLiteStore) fail(op string, err error) *errors.PersistenceError {
	return errors.NewPersistenceError(BackendSQLite, op, err).WithPath(s.path)
}
