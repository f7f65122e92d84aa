// Package event provides the pub-sub bus that decouples the lifecycle
// manager from its observers.
//
// The manager publishes after it has released its lock, so handlers may
// call back into the manager's read API. Handlers run synchronously on the
// publishing goroutine; the notifier dispatcher copies events into its own
// bounded queue and returns immediately.
//
// # Event Types
//
//   - [SessionStartedEvent] ("session.started")
//   - [StageEnteredEvent] ("stage.entered")
//   - [SessionCompletedEvent] ("session.completed")
//   - [ScoreAdjustedEvent] ("score.adjusted")
//   - [PersistenceFailedEvent] ("persistence.failed")
//
// Session events also implement [SessionEvent], which exposes a
// [SessionRef] snapshot of the session at the time of the event.
package event
