package render

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/session"
)

func testView(t *testing.T) lifecycle.View {
	t.Helper()
	ctx := context.Background()
	m := lifecycle.New(3)

	if _, err := m.Start(ctx, "Red Team"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Advance(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(ctx, "Latecomers"); err != nil { // waits, stage 1 taken
		t.Fatal(err)
	}
	if _, err := m.AdjustScore(ctx, 1, 12); err != nil {
		t.Fatal(err)
	}
	return m.View()
}

func plainBoard() *Board {
	stages := []config.StageConfig{{Label: "Forest", Color: "#228B22"}, {Label: "Hallway"}}
	return NewBoard(&bytes.Buffer{}, stages, WithoutColor())
}

func TestBoardLabel(t *testing.T) {
	b := plainBoard()
	tests := map[int]string{1: "Forest", 2: "Hallway", 3: "Stage 3"}
	for n, want := range tests {
		if got := b.Label(n); got != want {
			t.Errorf("Label(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestBoardRender(t *testing.T) {
	out := plainBoard().Render(testView(t))

	for _, want := range []string{
		"1 Forest", "2 Hallway", "3 Stage 3",
		"Session 2", "Red Team", "score 12",
		"empty",
		"Waiting (1)", "Latecomers",
		"Completed (0)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("Render() WithoutColor emitted escape sequences:\n%q", out)
	}
}

func TestBoardTable(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions := []session.Session{
		{ID: 1, Name: "a very long team name that will not fit", Position: session.AtStage(1), Score: 3, StartTime: start},
		{ID: 2, Position: session.Completed, StartTime: start},
		{ID: 3, Position: session.Unplaced, StartTime: start},
	}
	out := plainBoard().Table(sessions)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("Table() produced %d lines, want 4:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "1 Forest") || !strings.Contains(lines[1], "...") {
		t.Errorf("row 1 = %q, want stage label and truncated name", lines[1])
	}
	if !strings.Contains(lines[2], "completed") || !strings.Contains(lines[2], "Session 2") {
		t.Errorf("row 2 = %q", lines[2])
	}
	if !strings.Contains(lines[3], "unplaced") {
		t.Errorf("row 3 = %q", lines[3])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"tiny", 3, "tiny"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
