// Package session owns the session records of a run: identity assignment,
// positions, scores, and the active/completed identity lists.
//
// The Store is pure data. It does not touch stage occupancy; the lifecycle
// manager coordinates the Store with the pipeline and serializes access to
// both behind one lock.
package session

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Iron-Ham/zektor/internal/errors"
)

// Store holds every session ever created in this run.
type Store struct {
	sessions  map[int]*Session
	active    []int
	completed []int
	nextID    int
}

// NewStore returns an empty store whose first id is 1.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[int]*Session),
		active:    []int{},
		completed: []int{},
		nextID:    1,
	}
}

// Restore rebuilds a store from persisted parts. It rejects lists that
// reference unknown ids or an id that is both active and completed.
// nextID is raised past the largest known id so ids are never reused.
func Restore(records []Session, active, completed []int, nextID int) (*Store, error) {
	s := NewStore()
	maxID := 0
	for _, rec := range records {
		if rec.ID < 1 {
			return nil, fmt.Errorf("%w: session id %d", errors.ErrCorruptState, rec.ID)
		}
		if _, dup := s.sessions[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate session id %d", errors.ErrCorruptState, rec.ID)
		}
		r := rec
		r.Status = StatusUnplaced
		s.sessions[r.ID] = &r
		maxID = max(maxID, r.ID)
	}

	for _, id := range active {
		if err := s.MarkActive(id); err != nil {
			return nil, fmt.Errorf("%w: active list: %v", errors.ErrCorruptState, err)
		}
	}
	for _, id := range completed {
		if slices.Contains(s.active, id) {
			return nil, fmt.Errorf("%w: session %d is both active and completed", errors.ErrCorruptState, id)
		}
		sess, ok := s.sessions[id]
		if !ok {
			return nil, fmt.Errorf("%w: completed list references unknown session %d", errors.ErrCorruptState, id)
		}
		if sess.Status == StatusCompleted {
			continue
		}
		sess.Status = StatusCompleted
		sess.Position = Completed
		s.completed = append(s.completed, id)
	}

	s.nextID = max(nextID, maxID+1, 1)
	return s, nil
}

// Create adds a new unplaced session and returns its id.
func (s *Store) Create(name string, now time.Time) int {
	id := s.nextID
	s.nextID++
	s.sessions[id] = &Session{
		ID:        id,
		Name:      name,
		Position:  Unplaced,
		Score:     0,
		StartTime: now,
		Status:    StatusUnplaced,
	}
	return id
}

// Get returns a copy of the session record.
func (s *Store) Get(id int) (Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", errors.ErrNotFound, id)
	}
	return *sess, nil
}

// SetPosition updates the recorded position only.
func (s *Store) SetPosition(id int, pos Position) error {
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %d", errors.ErrNotFound, id)
	}
	sess.Position = pos
	return nil
}

// AdjustScore adds delta to the score and returns the new value.
func (s *Store) AdjustScore(id, delta int) (int, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", errors.ErrNotFound, id)
	}
	sess.Score += delta
	return sess.Score, nil
}

// MarkActive moves an unplaced session into the active list.
// Marking an already active session is a no-op.
func (s *Store) MarkActive(id int) error {
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %d", errors.ErrNotFound, id)
	}
	switch sess.Status {
	case StatusActive:
		return nil
	case StatusCompleted:
		return fmt.Errorf("%w: session %d is completed and cannot become active", errors.ErrInvalidTransition, id)
	}
	sess.Status = StatusActive
	s.active = append(s.active, id)
	return nil
}

// MarkCompleted moves an active session from the active list to the
// completed list.
func (s *Store) MarkCompleted(id int) error {
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %d", errors.ErrNotFound, id)
	}
	if sess.Status != StatusActive {
		return fmt.Errorf("%w: cannot complete session %d from %s", errors.ErrInvalidTransition, id, sess.Status)
	}
	sess.Status = StatusCompleted
	s.active = slices.DeleteFunc(s.active, func(a int) bool { return a == id })
	s.completed = append(s.completed, id)
	return nil
}

// Active returns the active ids in activation order.
func (s *Store) Active() []int {
	return slices.Clone(s.active)
}

// Completed returns the completed ids in completion order.
func (s *Store) Completed() []int {
	return slices.Clone(s.completed)
}

// Unplaced returns the ids of sessions that are neither active nor
// completed, oldest first.
func (s *Store) Unplaced() []int {
	var ids []int
	for id, sess := range s.sessions {
		if sess.Status == StatusUnplaced {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// All returns copies of every session ordered by id.
func (s *Store) All() []Session {
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	return len(s.sessions)
}

// NextID returns the id the next Create will assign.
func (s *Store) NextID() int {
	return s.nextID
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	c := &Store{
		sessions:  make(map[int]*Session, len(s.sessions)),
		active:    slices.Clone(s.active),
		completed: slices.Clone(s.completed),
		nextID:    s.nextID,
	}
	for id, sess := range s.sessions {
		cp := *sess
		c.sessions[id] = &cp
	}
	return c
}
