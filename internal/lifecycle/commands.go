package lifecycle

import (
	"context"
	"strings"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/event"
	"github.com/Iron-Ham/zektor/internal/session"
)

// StartResult reports the outcome of Start.
type StartResult struct {
	ID     int
	Placed bool // true when the session went straight into stage 1
}

// AdvanceResult reports the outcome of an advance.
type AdvanceResult struct {
	ID        int
	From      int
	To        int // 0 when the session completed
	Completed bool
}

// Start creates a session. If stage 1 is free the session takes it and
// becomes active; otherwise it waits unplaced until Place is called.
func (m *Manager) Start(ctx context.Context, name string) (StartResult, error) {
	name = strings.TrimSpace(name)

	var res StartResult
	err := m.apply(ctx, "start", func(tx *txn) error {
		id := tx.store.Create(name, m.now())
		res.ID = id

		if tx.pipe.IsEmpty(1) {
			if err := m.enterFirstStage(tx, id); err != nil {
				return errors.NewLifecycleError("start", err).WithSessionID(id).WithStage(1)
			}
			res.Placed = true
		}

		tx.emit(event.NewSessionStartedEvent(tx.ref(id), res.Placed))
		if res.Placed {
			tx.emit(event.NewStageEnteredEvent(tx.ref(id), 0))
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}

	m.logger.WithSession(res.ID).Info("session started", "name", name, "placed", res.Placed)
	return res, nil
}

// Place moves an unplaced session into stage 1. It fails with
// ErrSlotOccupied while stage 1 is held and with ErrInvalidTransition for
// sessions that are already active or completed.
func (m *Manager) Place(ctx context.Context, id int) error {
	err := m.apply(ctx, "place", func(tx *txn) error {
		sess, err := tx.store.Get(id)
		if err != nil {
			return errors.NewLifecycleError("place", errors.ErrNotFound).WithSessionID(id)
		}
		if sess.Status != session.StatusUnplaced {
			return errors.NewLifecycleError("place", errors.ErrInvalidTransition).WithSessionID(id)
		}
		if !tx.pipe.IsEmpty(1) {
			return errors.NewLifecycleError("place", errors.ErrSlotOccupied).WithSessionID(id).WithStage(1)
		}
		if err := m.enterFirstStage(tx, id); err != nil {
			return errors.NewLifecycleError("place", err).WithSessionID(id).WithStage(1)
		}
		tx.emit(event.NewStageEnteredEvent(tx.ref(id), 0))
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithSession(id).WithStage(1).Info("session placed")
	return nil
}

func (m *Manager) enterFirstStage(tx *txn, id int) error {
	if err := tx.pipe.Place(1, id); err != nil {
		return err
	}
	if err := tx.store.SetPosition(id, session.AtStage(1)); err != nil {
		return err
	}
	return tx.store.MarkActive(id)
}

// Advance moves an active session to the next stage, or completes it when
// it is in the final stage. A blocked advance fails with ErrSlotOccupied
// and leaves the session where it was.
func (m *Manager) Advance(ctx context.Context, id int) (AdvanceResult, error) {
	var res AdvanceResult
	err := m.apply(ctx, "advance", func(tx *txn) error {
		r, err := m.advance(tx, "advance", id)
		res = r
		return err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	m.logAdvance(res)
	return res, nil
}

// AdvanceFrom advances whichever session occupies stage, provided none of
// the blocker stages is occupied. It fails with ErrStageEmpty when the stage
// holds no session and with ErrSlotOccupied when a blocker or the next
// stage is held.
func (m *Manager) AdvanceFrom(ctx context.Context, stage int, blockers []int) (AdvanceResult, error) {
	var res AdvanceResult
	err := m.apply(ctx, "advance", func(tx *txn) error {
		if !tx.pipe.Valid(stage) {
			return errors.NewLifecycleError("advance", errors.ErrInvalidStage).WithStage(stage)
		}
		id, ok := tx.pipe.Occupant(stage)
		if !ok {
			return errors.NewLifecycleError("advance", errors.ErrStageEmpty).WithStage(stage)
		}
		for _, b := range blockers {
			if b == stage {
				continue
			}
			if !tx.pipe.Valid(b) {
				return errors.NewLifecycleError("advance", errors.ErrInvalidStage).WithSessionID(id).WithStage(b)
			}
			if !tx.pipe.IsEmpty(b) {
				return errors.NewLifecycleError("advance", errors.ErrSlotOccupied).WithSessionID(id).WithStage(b)
			}
		}
		r, err := m.advance(tx, "advance", id)
		res = r
		return err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	m.logAdvance(res)
	return res, nil
}

// advance checks the destination before vacating the current stage.
func (m *Manager) advance(tx *txn, op string, id int) (AdvanceResult, error) {
	sess, err := tx.store.Get(id)
	if err != nil {
		return AdvanceResult{}, errors.NewLifecycleError(op, errors.ErrNotFound).WithSessionID(id)
	}
	if sess.Status != session.StatusActive {
		return AdvanceResult{}, errors.NewLifecycleError(op, errors.ErrNotActive).WithSessionID(id)
	}
	from, ok := sess.Position.Stage()
	if !ok {
		return AdvanceResult{}, errors.NewLifecycleError(op, errors.ErrInvalidTransition).WithSessionID(id)
	}

	res := AdvanceResult{ID: id, From: from}
	last := tx.pipe.Len()

	if from == last {
		if err := tx.pipe.Vacate(from); err != nil {
			return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id).WithStage(from)
		}
		if err := tx.store.MarkCompleted(id); err != nil {
			return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id)
		}
		if err := tx.store.SetPosition(id, session.Completed); err != nil {
			return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id)
		}
		res.Completed = true
		tx.emit(event.NewSessionCompletedEvent(tx.ref(id), from, m.now().Sub(sess.StartTime)))
		return res, nil
	}

	to := from + 1
	if !tx.pipe.IsEmpty(to) {
		return AdvanceResult{}, errors.NewLifecycleError(op, errors.ErrSlotOccupied).WithSessionID(id).WithStage(to)
	}
	if err := tx.pipe.Vacate(from); err != nil {
		return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id).WithStage(from)
	}
	if err := tx.pipe.Place(to, id); err != nil {
		return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id).WithStage(to)
	}
	if err := tx.store.SetPosition(id, session.AtStage(to)); err != nil {
		return AdvanceResult{}, errors.NewLifecycleError(op, err).WithSessionID(id)
	}
	res.To = to
	tx.emit(event.NewStageEnteredEvent(tx.ref(id), from))
	return res, nil
}

func (m *Manager) logAdvance(res AdvanceResult) {
	l := m.logger.WithSession(res.ID).WithStage(res.From)
	if res.Completed {
		l.Info("session completed")
		return
	}
	l.Info("session advanced", "to", res.To)
}

// AdjustScore adds delta to a session's score and returns the new score.
// Unplaced sessions are rejected with ErrNotActive unless the policy allows
// scoring them.
func (m *Manager) AdjustScore(ctx context.Context, id, delta int) (int, error) {
	var score int
	err := m.apply(ctx, "score", func(tx *txn) error {
		s, err := m.adjustScore(tx, id, delta)
		score = s
		return err
	})
	if err != nil {
		return 0, err
	}
	m.logger.WithSession(id).Info("score adjusted", "delta", delta, "score", score)
	return score, nil
}

// AdjustScoreAt adjusts the score of whichever session occupies stage. It
// returns the session id and the new score, or ErrStageEmpty.
func (m *Manager) AdjustScoreAt(ctx context.Context, stage, delta int) (int, int, error) {
	var id, score int
	err := m.apply(ctx, "score", func(tx *txn) error {
		if !tx.pipe.Valid(stage) {
			return errors.NewLifecycleError("score", errors.ErrInvalidStage).WithStage(stage)
		}
		occupant, ok := tx.pipe.Occupant(stage)
		if !ok {
			return errors.NewLifecycleError("score", errors.ErrStageEmpty).WithStage(stage)
		}
		id = occupant
		s, err := m.adjustScore(tx, occupant, delta)
		score = s
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	m.logger.WithSession(id).WithStage(stage).Info("score adjusted", "delta", delta, "score", score)
	return id, score, nil
}

func (m *Manager) adjustScore(tx *txn, id, delta int) (int, error) {
	sess, err := tx.store.Get(id)
	if err != nil {
		return 0, errors.NewLifecycleError("score", errors.ErrNotFound).WithSessionID(id)
	}
	if sess.Status == session.StatusUnplaced && !m.policy.ScoreUnplaced {
		return 0, errors.NewLifecycleError("score", errors.ErrNotActive).WithSessionID(id)
	}
	score, err := tx.store.AdjustScore(id, delta)
	if err != nil {
		return 0, errors.NewLifecycleError("score", err).WithSessionID(id)
	}
	tx.emit(event.NewScoreAdjustedEvent(tx.ref(id), delta))
	return score, nil
}
