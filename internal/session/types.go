package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Position is where a session sits in the pipeline: unplaced, a stage
// ordinal in 1..N, or completed.
type Position int

const (
	// Unplaced means the session was created but holds no slot yet.
	Unplaced Position = 0
	// Completed means the session finished the final stage.
	Completed Position = -1
)

// AtStage returns the position for stage n.
func AtStage(n int) Position {
	return Position(n)
}

// Stage returns the stage ordinal and true when the position is a stage.
func (p Position) Stage() (int, bool) {
	if p > 0 {
		return int(p), true
	}
	return 0, false
}

// IsUnplaced reports whether the session has not entered the pipeline.
func (p Position) IsUnplaced() bool { return p == Unplaced }

// IsCompleted reports whether the session has left the final stage.
func (p Position) IsCompleted() bool { return p == Completed }

// String returns a human-readable position.
func (p Position) String() string {
	switch {
	case p == Unplaced:
		return "unplaced"
	case p == Completed:
		return "completed"
	case p > 0:
		return fmt.Sprintf("stage %d", int(p))
	default:
		return fmt.Sprintf("invalid(%d)", int(p))
	}
}

// MarshalJSON encodes stages as integers, unplaced as null and completed
// as the string "completed".
func (p Position) MarshalJSON() ([]byte, error) {
	switch {
	case p == Unplaced:
		return []byte("null"), nil
	case p == Completed:
		return []byte(`"completed"`), nil
	case p > 0:
		return []byte(strconv.Itoa(int(p))), nil
	default:
		return nil, fmt.Errorf("cannot encode position %d", int(p))
	}
}

// UnmarshalJSON accepts every form MarshalJSON writes, plus the strings
// "unplaced" and numeric strings.
func (p *Position) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = Unplaced
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return p.parse(s)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid position %s", raw)
	}
	return p.fromInt(n)
}

func (p *Position) parse(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unplaced":
		*p = Unplaced
		return nil
	case "completed":
		*p = Completed
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid position %q", s)
	}
	return p.fromInt(n)
}

func (p *Position) fromInt(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid position %d", n)
	}
	*p = Position(n)
	return nil
}

// Status is the lifecycle state derived from the store's identity lists.
type Status string

const (
	// StatusUnplaced sessions exist but hold no slot and are not completed.
	StatusUnplaced Status = "unplaced"
	// StatusActive sessions occupy exactly one slot.
	StatusActive Status = "active"
	// StatusCompleted sessions have finished and hold no slot.
	StatusCompleted Status = "completed"
)

// Session is one team's run through the pipeline.
type Session struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	Position  Position  `json:"current_stage"`
	Score     int       `json:"score"`
	StartTime time.Time `json:"start_time"`
	Status    Status    `json:"status"`
}

// DisplayName returns the session name, falling back to "Session <id>".
func (s Session) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Session %d", s.ID)
}
