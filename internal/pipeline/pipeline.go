// Package pipeline models the fixed, ordered sequence of stage slots that
// sessions move through. Each slot holds at most one session id.
//
// A Pipeline is plain data with no locking of its own: the lifecycle
// manager owns it together with the session store and serializes access.
package pipeline

import (
	"fmt"

	"github.com/Iron-Ham/zektor/internal/errors"
)

// empty marks an unoccupied slot. Session ids start at 1.
const empty = 0

// Slot describes the occupancy of one stage.
type Slot struct {
	Stage     int
	SessionID int // 0 when the slot is empty
}

// Occupied reports whether the slot holds a session.
func (s Slot) Occupied() bool {
	return s.SessionID != empty
}

// Pipeline is an ordered set of N stage slots, addressed by ordinal 1..N.
type Pipeline struct {
	slots []int
}

// New creates a pipeline with n empty slots.
func New(n int) *Pipeline {
	if n < 1 {
		n = 1
	}
	return &Pipeline{slots: make([]int, n)}
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.slots)
}

// Valid reports whether stage is inside 1..Len().
func (p *Pipeline) Valid(stage int) bool {
	return stage >= 1 && stage <= len(p.slots)
}

// Occupant returns the session holding stage, if any.
func (p *Pipeline) Occupant(stage int) (int, bool) {
	if !p.Valid(stage) {
		return 0, false
	}
	id := p.slots[stage-1]
	return id, id != empty
}

// IsEmpty reports whether stage exists and holds no session.
func (p *Pipeline) IsEmpty(stage int) bool {
	return p.Valid(stage) && p.slots[stage-1] == empty
}

// Place puts sessionID into stage. Placing a session into the slot it
// already holds is a no-op; a slot held by a different session fails with
// ErrSlotOccupied and is left untouched.
func (p *Pipeline) Place(stage, sessionID int) error {
	if !p.Valid(stage) {
		return fmt.Errorf("%w: %d (pipeline has %d stages)", errors.ErrInvalidStage, stage, len(p.slots))
	}
	if sessionID <= empty {
		return fmt.Errorf("%w: cannot place session id %d", errors.ErrInvalidTransition, sessionID)
	}
	switch cur := p.slots[stage-1]; cur {
	case empty:
		p.slots[stage-1] = sessionID
		return nil
	case sessionID:
		return nil
	default:
		return fmt.Errorf("%w: stage %d held by session %d", errors.ErrSlotOccupied, stage, cur)
	}
}

// Vacate empties stage. Vacating an empty slot is a no-op.
func (p *Pipeline) Vacate(stage int) error {
	if !p.Valid(stage) {
		return fmt.Errorf("%w: %d (pipeline has %d stages)", errors.ErrInvalidStage, stage, len(p.slots))
	}
	p.slots[stage-1] = empty
	return nil
}

// StageOf returns the stage currently held by sessionID.
func (p *Pipeline) StageOf(sessionID int) (int, bool) {
	if sessionID == empty {
		return 0, false
	}
	for i, id := range p.slots {
		if id == sessionID {
			return i + 1, true
		}
	}
	return 0, false
}

// Slots returns the occupancy of every stage in order.
func (p *Pipeline) Slots() []Slot {
	out := make([]Slot, len(p.slots))
	for i, id := range p.slots {
		out[i] = Slot{Stage: i + 1, SessionID: id}
	}
	return out
}

// Clone returns an independent copy.
func (p *Pipeline) Clone() *Pipeline {
	slots := make([]int, len(p.slots))
	copy(slots, p.slots)
	return &Pipeline{slots: slots}
}
