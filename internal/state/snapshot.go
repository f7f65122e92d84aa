// Package state defines the persisted form of a run: the stage map, the
// session records, the active/completed lists and the id counter.
//
// Snapshots are captured from, and restored into, a pipeline and a session
// store. Restore verifies the cross-component invariants so a snapshot that
// loads is always safe to hand to the lifecycle manager.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/pipeline"
	"github.com/Iron-Ham/zektor/internal/session"
)

// SessionRecord is the persisted form of one session.
type SessionRecord struct {
	Name         string           `json:"name,omitempty"`
	CurrentStage session.Position `json:"current_stage"`
	Score        int              `json:"score"`
	StartTime    time.Time        `json:"start_time"`
}

// localTimeLayout is a timestamp without a zone, as written by the
// original controller. Such times are read in the local zone.
const localTimeLayout = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON accepts start_time with or without a zone offset.
func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	type plain SessionRecord
	var w struct {
		plain
		StartTime string `json:"start_time"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = SessionRecord(w.plain)

	start, err := ParseStartTime(w.StartTime)
	if err != nil {
		return err
	}
	r.StartTime = start
	return nil
}

// ParseStartTime reads an RFC 3339 timestamp, or a zoneless one in the
// local zone. An empty string is the zero time.
func ParseStartTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_time: invalid timestamp %q", s)
	}
	return t, nil
}

// Snapshot is the whole persisted state.
type Snapshot struct {
	StageMap          map[int]*int          `json:"stage_map"`
	Sessions          map[int]SessionRecord `json:"sessions"`
	ActiveSessions    []int                 `json:"active_sessions"`
	CompletedSessions []int                 `json:"completed_sessions"`
	NextSessionID     int                   `json:"next_session_id"`
}

// Empty returns the snapshot of a fresh run with n stages.
func Empty(n int) *Snapshot {
	snap := &Snapshot{
		StageMap:          make(map[int]*int, n),
		Sessions:          make(map[int]SessionRecord),
		ActiveSessions:    []int{},
		CompletedSessions: []int{},
		NextSessionID:     1,
	}
	for stage := 1; stage <= n; stage++ {
		snap.StageMap[stage] = nil
	}
	return snap
}

// Capture builds a snapshot of the given pipeline and store.
func Capture(p *pipeline.Pipeline, s *session.Store) *Snapshot {
	snap := &Snapshot{
		StageMap:          make(map[int]*int, p.Len()),
		Sessions:          make(map[int]SessionRecord, s.Len()),
		ActiveSessions:    s.Active(),
		CompletedSessions: s.Completed(),
		NextSessionID:     s.NextID(),
	}
	for _, slot := range p.Slots() {
		if slot.Occupied() {
			id := slot.SessionID
			snap.StageMap[slot.Stage] = &id
		} else {
			snap.StageMap[slot.Stage] = nil
		}
	}
	for _, sess := range s.All() {
		snap.Sessions[sess.ID] = SessionRecord{
			Name:         sess.Name,
			CurrentStage: sess.Position,
			Score:        sess.Score,
			StartTime:    sess.StartTime,
		}
	}
	return snap
}

// Restore rebuilds a pipeline of n stages and a session store from the
// snapshot. It fails with ErrCorruptState when the snapshot violates an
// occupancy or lifecycle invariant.
//
// Ids listed as completed whose record still carries a stage number are
// normalized to the completed position.
func (snap *Snapshot) Restore(n int) (*pipeline.Pipeline, *session.Store, error) {
	if snap == nil {
		return pipeline.New(n), session.NewStore(), nil
	}

	completed := make(map[int]bool, len(snap.CompletedSessions))
	for _, id := range snap.CompletedSessions {
		completed[id] = true
	}

	ids := make([]int, 0, len(snap.Sessions))
	for id := range snap.Sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	records := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		rec := snap.Sessions[id]
		pos := rec.CurrentStage
		if completed[id] {
			pos = session.Completed
		}
		records = append(records, session.Session{
			ID:        id,
			Name:      rec.Name,
			Position:  pos,
			Score:     rec.Score,
			StartTime: rec.StartTime,
		})
	}

	store, err := session.Restore(records, snap.ActiveSessions, snap.CompletedSessions, snap.NextSessionID)
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.New(n)
	stages := make([]int, 0, len(snap.StageMap))
	for stage := range snap.StageMap {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	for _, stage := range stages {
		occ := snap.StageMap[stage]
		if occ == nil {
			continue
		}
		id := *occ
		if !p.Valid(stage) {
			return nil, nil, fmt.Errorf("%w: session %d occupies stage %d but only %d stages are configured",
				errors.ErrCorruptState, id, stage, n)
		}
		sess, err := store.Get(id)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: stage %d references unknown session %d", errors.ErrCorruptState, stage, id)
		}
		if sess.Status != session.StatusActive {
			return nil, nil, fmt.Errorf("%w: stage %d holds %s session %d", errors.ErrCorruptState, stage, sess.Status, id)
		}
		if got, ok := sess.Position.Stage(); !ok || got != stage {
			return nil, nil, fmt.Errorf("%w: session %d recorded at %s but occupies stage %d",
				errors.ErrCorruptState, id, sess.Position, stage)
		}
		if err := p.Place(stage, id); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errors.ErrCorruptState, err)
		}
		if held, _ := p.StageOf(id); held != stage {
			return nil, nil, fmt.Errorf("%w: session %d occupies more than one stage", errors.ErrCorruptState, id)
		}
	}

	for _, sess := range store.All() {
		switch sess.Status {
		case session.StatusActive:
			if _, ok := p.StageOf(sess.ID); !ok {
				return nil, nil, fmt.Errorf("%w: active session %d occupies no stage", errors.ErrCorruptState, sess.ID)
			}
		case session.StatusUnplaced:
			if !sess.Position.IsUnplaced() {
				return nil, nil, fmt.Errorf("%w: session %d is at %s but neither active nor completed",
					errors.ErrCorruptState, sess.ID, sess.Position)
			}
		}
	}

	return p, store, nil
}

// wireSnapshot accepts the older encodings: string ids such as
// "session3" and ids given as strings in the lists.
type wireSnapshot struct {
	StageMap          map[string]json.RawMessage `json:"stage_map"`
	Sessions          map[string]SessionRecord   `json:"sessions"`
	ActiveSessions    []json.RawMessage          `json:"active_sessions"`
	CompletedSessions []json.RawMessage          `json:"completed_sessions"`
	NextSessionID     int                        `json:"next_session_id"`
}

// UnmarshalJSON decodes both the current and the legacy layouts.
func (snap *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Snapshot{
		StageMap:          make(map[int]*int, len(w.StageMap)),
		Sessions:          make(map[int]SessionRecord, len(w.Sessions)),
		ActiveSessions:    []int{},
		CompletedSessions: []int{},
		NextSessionID:     w.NextSessionID,
	}
	for key, raw := range w.StageMap {
		stage, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return fmt.Errorf("stage_map: invalid stage %q", key)
		}
		id, ok, err := decodeID(raw)
		if err != nil {
			return fmt.Errorf("stage_map[%s]: %w", key, err)
		}
		if ok {
			out.StageMap[stage] = &id
		} else {
			out.StageMap[stage] = nil
		}
	}
	for key, rec := range w.Sessions {
		id, err := ParseID(key)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		out.Sessions[id] = rec
	}
	for _, raw := range w.ActiveSessions {
		id, ok, err := decodeID(raw)
		if err != nil || !ok {
			return fmt.Errorf("active_sessions: invalid id %s", raw)
		}
		out.ActiveSessions = append(out.ActiveSessions, id)
	}
	for _, raw := range w.CompletedSessions {
		id, ok, err := decodeID(raw)
		if err != nil || !ok {
			return fmt.Errorf("completed_sessions: invalid id %s", raw)
		}
		out.CompletedSessions = append(out.CompletedSessions, id)
	}

	*snap = out
	return nil
}

// ParseID accepts "3" as well as the legacy "session3".
func ParseID(s string) (int, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "session")
	id, err := strconv.Atoi(strings.TrimSpace(trimmed))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}

func decodeID(raw json.RawMessage) (int, bool, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, false, nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		id, err := ParseID(s)
		return id, err == nil, err
	}
	id, err := strconv.Atoi(text)
	if err != nil || id < 1 {
		return 0, false, fmt.Errorf("invalid session id %s", text)
	}
	return id, true, nil
}
