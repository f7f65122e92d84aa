package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/render"
)

func newConsole(t *testing.T, stages int) (*Console, *lifecycle.Manager) {
	t.Helper()
	m := lifecycle.New(stages)
	board := render.NewBoard(&bytes.Buffer{}, config.DefaultStages(), render.WithoutColor())
	return New(m, board, nil), m
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t, 2)

	steps := []struct {
		line    string
		want    string
		wantErr error
	}{
		{"start Red Team", "Red Team started (id 1) in stage 1 (Forest).", nil},
		{"start", "Session 2 started (id 2). Stage 1 is occupied", nil},
		{"place 2", "Stage 1 (Forest) is occupied by session 1", errors.ErrSlotOccupied},
		{"advance 2", "Session 2 is not active.", errors.ErrNotActive},
		{"progress 1", "Session 1 progressed to stage 2 (Hallway).", nil},
		{"place session2", "Session 2 placed in stage 1 (Forest).", nil},
		{"advance 2", "Stage 2 (Hallway) is occupied by session 1. Session 2 stays where it is.", errors.ErrSlotOccupied},
		{"score 1 5", "Session 1's score updated to 5.", nil},
		{"update_score 1 -2", "Session 1's score updated to 3.", nil},
		{"advance 1", "Session 1 has completed all stages with score 3.", nil},
		{"place 1", "Session 1 is completed; only waiting sessions can be placed.", errors.ErrInvalidTransition},
		{"advance 9", "Session 9 does not exist.", errors.ErrNotFound},
		{"score 1 lots", "Invalid delta \"lots\"", errors.ErrInvalidArgument},
		{"score 1", "Usage: score <id> <delta>", errors.ErrInvalidArgument},
		{"advance x", "Invalid session id \"x\".", errors.ErrInvalidArgument},
		{"dance", "Unknown command: dance", errors.ErrInvalidArgument},
	}

	for _, step := range steps {
		res := c.Execute(ctx, step.line)
		if !strings.Contains(res.Text, step.want) {
			t.Errorf("Execute(%q) text = %q, want it to contain %q", step.line, res.Text, step.want)
		}
		if step.wantErr == nil && res.Err != nil {
			t.Errorf("Execute(%q) error = %v, want nil", step.line, res.Err)
		}
		if step.wantErr != nil && !errors.Is(res.Err, step.wantErr) {
			t.Errorf("Execute(%q) error = %v, want %v", step.line, res.Err, step.wantErr)
		}
		if res.Exit {
			t.Errorf("Execute(%q) requested exit", step.line)
		}
	}
}

func TestExecuteLists(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t, 3)

	if res := c.Execute(ctx, "completed"); res.Text != "Completed: none" {
		t.Errorf("completed = %q, want %q", res.Text, "Completed: none")
	}

	c.Execute(ctx, "start Alpha")
	c.Execute(ctx, "start Bravo")

	active := c.Execute(ctx, "active").Text
	if !strings.Contains(active, "Active (1)") || !strings.Contains(active, "Alpha") {
		t.Errorf("active = %q", active)
	}
	waiting := c.Execute(ctx, "WAITING").Text
	if !strings.Contains(waiting, "Waiting (1)") || !strings.Contains(waiting, "Bravo") {
		t.Errorf("waiting = %q", waiting)
	}
	if got := c.Execute(ctx, "get 2").Text; !strings.Contains(got, "Bravo") || !strings.Contains(got, "unplaced") {
		t.Errorf("get 2 = %q", got)
	}

	status := c.Execute(ctx, "status").Text
	for _, want := range []string{"1 Forest", "Alpha", "Waiting (1)"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}

	raw := c.Execute(ctx, "status json")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw.Text), &decoded); err != nil {
		t.Fatalf("status json is not JSON: %v\n%s", err, raw.Text)
	}
	if decoded["next_session_id"] != float64(3) {
		t.Errorf("next_session_id = %v, want 3", decoded["next_session_id"])
	}
}

func TestExecuteHelpAndExit(t *testing.T) {
	c, _ := newConsole(t, 2)
	ctx := context.Background()

	if res := c.Execute(ctx, "help"); !strings.Contains(res.Text, "advance <id>") {
		t.Errorf("help = %q", res.Text)
	}
	if res := c.Execute(ctx, "   "); res.Text != "" || res.Err != nil {
		t.Errorf("blank line = %+v, want empty result", res)
	}
	for _, line := range []string{"exit", "QUIT"} {
		if res := c.Execute(ctx, line); !res.Exit {
			t.Errorf("Execute(%q).Exit = false", line)
		}
	}
}

func TestRun(t *testing.T) {
	c, m := newConsole(t, 2)
	in := strings.NewReader("start Alpha\nadvance 1\nexit\nstart ignored\n")
	var out bytes.Buffer

	if err := c.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{Prompt, "Alpha started (id 1)", "Session 1 progressed to stage 2", "Exiting."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(m.View().Sessions) != 1 {
		t.Errorf("commands after exit were run: %d sessions", len(m.View().Sessions))
	}
}

func TestRunEndOfInput(t *testing.T) {
	c, m := newConsole(t, 2)
	var out bytes.Buffer
	if err := c.Run(context.Background(), strings.NewReader("start\n"), &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.View().Sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(m.View().Sessions))
	}
}

func TestRunContextCanceled(t *testing.T) {
	c, _ := newConsole(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never returns keeps the scanner blocked.
	r, w := ioPipe(t)
	defer w.Close()

	if err := c.Run(ctx, r, &bytes.Buffer{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestExplainClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
		wantLog  []string // substrings of the log output; nil means no log line
	}{
		{
			name:     "caller error is not logged",
			err:      errors.NewLifecycleError("advance", errors.ErrNotFound).WithSessionID(7),
			wantText: "Session 7 does not exist.",
		},
		{
			name:     "persistence failure",
			err:      errors.NewPersistenceError("json", "save", errors.New("disk full")),
			wantText: "State could not be saved",
			wantLog:  []string{`"msg":"command failed"`, `"retryable":true`, `"session_id":7`},
		},
		{
			name:     "persistence failure not retryable",
			err:      errors.NewPersistenceError("sqlite", "save", errors.New("schema mismatch")).WithRetryable(false),
			wantText: "State could not be saved",
			wantLog:  []string{`"msg":"command failed"`, `"retryable":false`},
		},
		{
			name:     "user facing error",
			err:      errors.NewLifecycleError("advance", errors.New("slot map out of sync")),
			wantText: "Error: advance: slot map out of sync",
			wantLog:  []string{`"level":"ERROR"`, `"msg":"command failed"`},
		},
		{
			name:     "internal error hides detail",
			err:      errors.New("boom"),
			wantText: "Command failed; see the log for details.",
			wantLog:  []string{`"msg":"command failed"`, `"error":"boom"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			board := render.NewBoard(&bytes.Buffer{}, config.DefaultStages(), render.WithoutColor())
			c := New(lifecycle.New(2), board, logging.New(&buf, "debug"))

			res := c.explain(tt.err, 7)
			if !strings.HasPrefix(res.Text, tt.wantText) {
				t.Errorf("explain() text = %q, want prefix %q", res.Text, tt.wantText)
			}
			if res.Err != tt.err {
				t.Errorf("explain() err = %v, want %v", res.Err, tt.err)
			}

			logged := buf.String()
			if tt.wantLog == nil && logged != "" {
				t.Errorf("unexpected log output: %s", logged)
			}
			for _, want := range tt.wantLog {
				if !strings.Contains(logged, want) {
					t.Errorf("log output missing %s:\n%s", want, logged)
				}
			}
		})
	}
}
