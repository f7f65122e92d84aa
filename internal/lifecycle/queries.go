package lifecycle

import (
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/pipeline"
	"github.com/Iron-Ham/zektor/internal/session"
	"github.com/Iron-Ham/zektor/internal/state"
)

// View is a consistent read of the whole run, taken under one lock.
type View struct {
	Slots     []pipeline.Slot
	Sessions  map[int]session.Session
	Active    []session.Session // activation order
	Completed []session.Session // completion order
	Unplaced  []session.Session // id order
	NextID    int
}

// Occupant returns the session in stage, if any.
func (v View) Occupant(stage int) (session.Session, bool) {
	if stage < 1 || stage > len(v.Slots) {
		return session.Session{}, false
	}
	slot := v.Slots[stage-1]
	if !slot.Occupied() {
		return session.Session{}, false
	}
	sess, ok := v.Sessions[slot.SessionID]
	return sess, ok
}

// Get returns a copy of one session.
func (m *Manager) Get(id int) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, err := m.store.Get(id)
	if err != nil {
		return session.Session{}, errors.NewLifecycleError("get", errors.ErrNotFound).WithSessionID(id)
	}
	return sess, nil
}

// ListActive returns the active sessions in activation order.
func (m *Manager) ListActive() []session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.store.Active())
}

// ListCompleted returns the completed sessions in completion order.
func (m *Manager) ListCompleted() []session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.store.Completed())
}

// ListUnplaced returns the sessions waiting for stage 1, oldest first.
func (m *Manager) ListUnplaced() []session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.store.Unplaced())
}

// StageMap returns the occupancy of every stage in order.
func (m *Manager) StageMap() []pipeline.Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipe.Slots()
}

// Snapshot returns the persisted form of the current state.
func (m *Manager) Snapshot() *state.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state.Capture(m.pipe, m.store)
}

// View returns every list and the stage map from the same instant.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.store.All()
	v := View{
		Slots:     m.pipe.Slots(),
		Sessions:  make(map[int]session.Session, len(all)),
		Active:    m.collect(m.store.Active()),
		Completed: m.collect(m.store.Completed()),
		Unplaced:  m.collect(m.store.Unplaced()),
		NextID:    m.store.NextID(),
	}
	for _, sess := range all {
		v.Sessions[sess.ID] = sess
	}
	return v
}

// collect must be called with m.mu held.
func (m *Manager) collect(ids []int) []session.Session {
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		if sess, err := m.store.Get(id); err == nil {
			out = append(out, sess)
		}
	}
	return out
}
