// Package lifecycle owns the live state of a run and exposes the commands
// that change it.
//
// A Manager holds the stage pipeline and the session store behind a single
// RWMutex. Every command works on a clone of both, validates, persists the
// clone and only then swaps it in, so a failed command leaves the visible
// state exactly as it was. Events are published after the lock is released.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/event"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/pipeline"
	"github.com/Iron-Ham/zektor/internal/session"
	"github.com/Iron-Ham/zektor/internal/state"
)

// Persister loads and saves snapshots. Load returns (nil, nil) when no
// state has been saved yet.
type Persister interface {
	Load(ctx context.Context) (*state.Snapshot, error)
	Save(ctx context.Context, snap *state.Snapshot) error
}

// Publisher receives events after a command commits. *event.Bus satisfies it.
type Publisher interface {
	Publish(event.Event)
}

// Policy holds the behavior switches that come from configuration.
type Policy struct {
	// FailClosed rejects a command whose snapshot could not be saved.
	// When false the change is kept in memory and the failure is reported
	// through LastPersistError and a persistence.failed event.
	FailClosed bool
	// ScoreUnplaced allows score changes for sessions waiting for stage 1.
	ScoreUnplaced bool
	// SaveTimeout bounds each save. Zero means no bound beyond the caller's
	// context.
	SaveTimeout time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		FailClosed:    false,
		ScoreUnplaced: true,
		SaveTimeout:   5 * time.Second,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersister sets where snapshots are saved after each command.
func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock overrides time.Now for session start times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the single owner of pipeline and session state.
type Manager struct {
	mu    sync.RWMutex
	pipe  *pipeline.Pipeline
	store *session.Store

	lastPersistErr error

	persister Persister
	publisher Publisher
	logger    *logging.Logger
	policy    Policy
	now       func() time.Time
}

// New creates a Manager for a fresh run with the given number of stages.
func New(stages int, opts ...Option) *Manager {
	m := &Manager{
		pipe:   pipeline.New(stages),
		store:  session.NewStore(),
		logger: logging.NopLogger(),
		policy: DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("lifecycle")
	return m
}

// Open creates a Manager and restores the last saved snapshot from the
// persister, if any.
func Open(ctx context.Context, stages int, opts ...Option) (*Manager, error) {
	m := New(stages, opts...)
	if m.persister == nil {
		return m, nil
	}

	snap, err := m.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if snap == nil {
		m.logger.Info("no saved state, starting fresh", "stages", m.pipe.Len())
		return m, nil
	}

	pipe, store, err := snap.Restore(m.pipe.Len())
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	m.pipe, m.store = pipe, store
	m.logger.Info("state restored",
		"stages", pipe.Len(),
		"sessions", store.Len(),
		"active", len(store.Active()),
		"completed", len(store.Completed()),
		"next_session_id", store.NextID())
	return m, nil
}

// txn is the working copy a command mutates.
type txn struct {
	pipe   *pipeline.Pipeline
	store  *session.Store
	events []event.Event
}

func (tx *txn) emit(e event.Event) {
	tx.events = append(tx.events, e)
}

func (tx *txn) ref(id int) event.SessionRef {
	sess, _ := tx.store.Get(id)
	stage, _ := sess.Position.Stage()
	return event.SessionRef{ID: sess.ID, Name: sess.Name, Stage: stage, Score: sess.Score}
}

// apply runs fn against a clone of the state and commits it. fn returns a
// caller error to abort without any change.
func (m *Manager) apply(ctx context.Context, op string, fn func(tx *txn) error) error {
	m.mu.Lock()

	tx := &txn{pipe: m.pipe.Clone(), store: m.store.Clone()}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		m.logger.Warn("command rejected", "op", op, "error", err.Error())
		return err
	}

	if saveErr := m.save(ctx, op, tx); saveErr != nil {
		if m.policy.FailClosed {
			m.mu.Unlock()
			m.logger.Error("state not saved, command rolled back",
				"op", op, "error", saveErr.Error(), "retryable", errors.IsRetryable(saveErr))
			m.publish([]event.Event{event.NewPersistenceFailedEvent(op, saveErr, false)})
			return fmt.Errorf("%s: %w", op, saveErr)
		}
		m.logger.Error("state not saved, keeping in-memory change",
			"op", op, "error", saveErr.Error(), "retryable", errors.IsRetryable(saveErr))
		tx.emit(event.NewPersistenceFailedEvent(op, saveErr, true))
	}

	m.pipe, m.store = tx.pipe, tx.store
	m.mu.Unlock()

	m.publish(tx.events)
	return nil
}

// save must be called with m.mu held. It records the outcome in
// lastPersistErr.
func (m *Manager) save(ctx context.Context, op string, tx *txn) error {
	if m.persister == nil {
		return nil
	}

	saveCtx := ctx
	if m.policy.SaveTimeout > 0 {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(ctx, m.policy.SaveTimeout)
		defer cancel()
	}

	err := m.persister.Save(saveCtx, state.Capture(tx.pipe, tx.store))
	if err == nil {
		m.lastPersistErr = nil
		return nil
	}
	var perr *errors.PersistenceError
	if !errors.As(err, &perr) {
		err = errors.NewPersistenceError("unknown", "save", err)
	}
	m.lastPersistErr = err
	return err
}

func (m *Manager) publish(events []event.Event) {
	if m.publisher == nil {
		return
	}
	for _, e := range events {
		m.publisher.Publish(e)
	}
}

// Stages returns the number of stages in the pipeline.
func (m *Manager) Stages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipe.Len()
}

// LastPersistError returns the error of the most recent failed save, or
// nil once a later save succeeds.
func (m *Manager) LastPersistError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPersistErr
}
