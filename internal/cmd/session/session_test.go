package session

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/persist"
	zsession "github.com/Iron-Ham/zektor/internal/session"
	"github.com/Iron-Ham/zektor/internal/testutil"
	"github.com/spf13/cobra"
)

// setupDataDir points the configuration at a fresh data directory and
// resets flag state left over from earlier tests.
func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := testutil.SetupViper(t)

	listActive, listCompleted, listWaiting, listJSON = false, false, false, false
	statusWatch, statusJSON = false, false
	return dir
}

// executeCommand runs args against a fresh root and returns stdout and
// stderr separately.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := &cobra.Command{Use: "zektor", SilenceUsage: true, SilenceErrors: true}
	Register(root)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := executeCommand(t, args...)
	if err != nil {
		t.Fatalf("%v: error = %v (stderr %q)", args, err, errOut)
	}
	return out
}

func TestStartPlaceAdvanceFlow(t *testing.T) {
	setupDataDir(t)

	out := mustRun(t, "start", "Red", "Team")
	if !strings.Contains(out, "Red Team started (id 1) in stage 1 (Forest)") {
		t.Errorf("start output = %q", out)
	}

	out = mustRun(t, "start")
	if !strings.Contains(out, "Stage 1 is occupied") {
		t.Errorf("second start output = %q, want waiting notice", out)
	}

	_, errOut, err := executeCommand(t, "place", "2")
	if !errors.Is(err, errors.ErrSlotOccupied) {
		t.Fatalf("place 2 error = %v, want ErrSlotOccupied", err)
	}
	if !strings.Contains(errOut, "occupied by session 1") {
		t.Errorf("place 2 stderr = %q", errOut)
	}

	out = mustRun(t, "advance", "1")
	if !strings.Contains(out, "Session 1 progressed to stage 2 (Hallway)") {
		t.Errorf("advance output = %q", out)
	}

	out = mustRun(t, "place", "session2")
	if !strings.Contains(out, "Session 2 placed in stage 1") {
		t.Errorf("place output = %q", out)
	}
}

func TestAdvanceThroughCompletion(t *testing.T) {
	setupDataDir(t)
	mustRun(t, "start")

	for i := 0; i < 4; i++ {
		mustRun(t, "progress", "1")
	}
	out := mustRun(t, "advance", "1")
	if !strings.Contains(out, "has completed all stages") {
		t.Errorf("final advance output = %q", out)
	}

	_, _, err := executeCommand(t, "advance", "1")
	if !errors.Is(err, errors.ErrNotActive) {
		t.Errorf("advance after completion error = %v, want ErrNotActive", err)
	}
}

func TestScore(t *testing.T) {
	setupDataDir(t)
	mustRun(t, "start")

	out := mustRun(t, "score", "1", "7")
	if !strings.Contains(out, "score updated to 7") {
		t.Errorf("score output = %q", out)
	}
	out = mustRun(t, "score", "1", "--", "-10")
	if !strings.Contains(out, "score updated to -3") {
		t.Errorf("negative score output = %q", out)
	}

	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "bad delta", args: []string{"score", "1", "lots"}, want: errors.ErrInvalidArgument},
		{name: "bad id", args: []string{"score", "x", "1"}, want: errors.ErrInvalidArgument},
		{name: "unknown session", args: []string{"score", "9", "1"}, want: errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetAndList(t *testing.T) {
	setupDataDir(t)
	mustRun(t, "start", "alpha")
	mustRun(t, "start", "beta")

	out := mustRun(t, "get", "1")
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "1 Forest") {
		t.Errorf("get output = %q", out)
	}

	out = mustRun(t, "list")
	for _, want := range []string{"Active (1):", "Completed: none", "Waiting (1):", "beta"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "list", "--waiting", "--json")
	var waiting []zsession.Session
	if err := json.Unmarshal([]byte(out), &waiting); err != nil {
		t.Fatalf("list --waiting --json is not a session array: %v\n%s", err, out)
	}
	if len(waiting) != 1 || waiting[0].Name != "beta" {
		t.Errorf("waiting = %+v, want beta only", waiting)
	}

	listWaiting, listJSON = false, false
	out = mustRun(t, "list", "--json")
	var groups map[string][]zsession.Session
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("list --json is not an object: %v\n%s", err, out)
	}
	if len(groups["active"]) != 1 || len(groups["completed"]) != 0 || len(groups["waiting"]) != 1 {
		t.Errorf("groups = %+v", groups)
	}
}

func TestStatus(t *testing.T) {
	setupDataDir(t)
	mustRun(t, "start", "alpha")

	out := mustRun(t, "status")
	for _, want := range []string{"Forest", "Pixels", "alpha", "Waiting (0)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "status", "--json")
	var raw map[string]any
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("status --json: %v\n%s", err, out)
	}
	if _, ok := raw["stage_map"]; !ok {
		t.Errorf("status --json has no stage_map: %v", raw)
	}
}

func TestCommandsRefuseWhileServed(t *testing.T) {
	dir := setupDataDir(t)
	lock, err := persist.AcquireLock(dir, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer func() { _ = lock.Release() }()

	if _, _, err := executeCommand(t, "start"); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("start while served error = %v, want ErrLocked", err)
	}
	// Reads still work.
	mustRun(t, "status")
}
