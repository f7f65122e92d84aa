// Package event defines the lifecycle events published by the manager and
// the bus that delivers them to the notifier and the presentation layer.
package event

import "time"

// Event types, named "category.action".
const (
	TypeSessionStarted    = "session.started"
	TypeStageEntered      = "stage.entered"
	TypeSessionCompleted  = "session.completed"
	TypeScoreAdjusted     = "score.adjusted"
	TypePersistenceFailed = "persistence.failed"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// SessionEvent is implemented by events about one session.
type SessionEvent interface {
	Event
	Session() SessionRef
}

// SessionRef identifies the session an event is about, with the values
// it had when the event was produced.
type SessionRef struct {
	ID    int
	Name  string
	Stage int // 0 when the session holds no stage
	Score int
}

// Session returns the reference itself so embedding types satisfy
// SessionEvent.
func (r SessionRef) Session() SessionRef { return r }

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// SessionStartedEvent is emitted when a session is created. Placed reports
// whether it went straight into stage 1.
type SessionStartedEvent struct {
	baseEvent
	SessionRef
	Placed bool
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(ref SessionRef, placed bool) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent:  newBaseEvent(TypeSessionStarted),
		SessionRef: ref,
		Placed:     placed,
	}
}

// StageEnteredEvent is emitted whenever a session takes a stage slot,
// including its first placement into stage 1.
type StageEnteredEvent struct {
	baseEvent
	SessionRef
	From int // previous stage, 0 when the session was unplaced
}

// NewStageEnteredEvent creates a StageEnteredEvent. ref.Stage is the stage
// that was entered.
func NewStageEnteredEvent(ref SessionRef, from int) StageEnteredEvent {
	return StageEnteredEvent{
		baseEvent:  newBaseEvent(TypeStageEntered),
		SessionRef: ref,
		From:       from,
	}
}

// SessionCompletedEvent is emitted when a session leaves the final stage.
type SessionCompletedEvent struct {
	baseEvent
	SessionRef
	FinalStage int
	Duration   time.Duration // since the session started
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(ref SessionRef, finalStage int, duration time.Duration) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent:  newBaseEvent(TypeSessionCompleted),
		SessionRef: ref,
		FinalStage: finalStage,
		Duration:   duration,
	}
}

// ScoreAdjustedEvent is emitted after a score change. Score is the new total.
type ScoreAdjustedEvent struct {
	baseEvent
	SessionRef
	Delta int
}

// NewScoreAdjustedEvent creates a ScoreAdjustedEvent.
func NewScoreAdjustedEvent(ref SessionRef, delta int) ScoreAdjustedEvent {
	return ScoreAdjustedEvent{
		baseEvent:  newBaseEvent(TypeScoreAdjusted),
		SessionRef: ref,
		Delta:      delta,
	}
}

// PersistenceFailedEvent is emitted when a snapshot could not be saved.
// Kept reports whether the in-memory change was kept anyway.
type PersistenceFailedEvent struct {
	baseEvent
	Op   string
	Err  error
	Kept bool
}

// NewPersistenceFailedEvent creates a PersistenceFailedEvent.
func NewPersistenceFailedEvent(op string, err error, kept bool) PersistenceFailedEvent {
	return PersistenceFailedEvent{
		baseEvent: newBaseEvent(TypePersistenceFailed),
		Op:        op,
		Err:       err,
		Kept:      kept,
	}
}
