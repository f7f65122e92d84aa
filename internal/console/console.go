// Package console implements the line-oriented operator interface: one
// command per line, one reply per command.
//
// The typed methods (Start, Place, Advance, Score, ...) are also what the
// one-shot CLI commands call, so both surfaces word their replies the same.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/render"
	"github.com/Iron-Ham/zektor/internal/session"
	"github.com/Iron-Ham/zektor/internal/state"
)

// Prompt is printed before each line is read.
const Prompt = "zektor> "

// Result is the reply to one command.
type Result struct {
	Text string
	Err  error // nil on success
	Exit bool  // the operator asked to leave
}

func ok(format string, args ...any) Result {
	return Result{Text: fmt.Sprintf(format, args...)}
}

func failed(err error, format string, args ...any) Result {
	return Result{Text: fmt.Sprintf(format, args...), Err: err}
}

// Console binds a manager to a board for replies.
type Console struct {
	m      *lifecycle.Manager
	board  *render.Board
	logger *logging.Logger
}

// New creates a Console.
func New(m *lifecycle.Manager, board *render.Board, logger *logging.Logger) *Console {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Console{m: m, board: board, logger: logger.WithComponent("console")}
}

// Help returns the command summary.
func Help() string {
	return strings.TrimSpace(`
Commands:
  start [name]            start a session; it enters stage 1 if free
  place <id>              move a waiting session into stage 1
  advance <id>            move a session to the next stage (alias: progress)
  score <id> <delta>      add delta to a session's score (alias: update_score)
  get <id>                show one session
  status [json]           show the stage board, or the raw state as JSON
  active | completed | waiting
                          list sessions
  help                    show this help
  exit                    leave (alias: quit)`)
}

// Execute parses and runs one line.
func (c *Console) Execute(ctx context.Context, line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}
	}
	action, args := strings.ToLower(fields[0]), fields[1:]

	switch action {
	case "start":
		return c.Start(ctx, strings.Join(args, " "))
	case "place":
		id, res, good := parseID("place", args)
		if !good {
			return res
		}
		return c.Place(ctx, id)
	case "advance", "progress":
		id, res, good := parseID(action, args)
		if !good {
			return res
		}
		return c.Advance(ctx, id)
	case "score", "update_score":
		if len(args) < 2 {
			return failed(errors.ErrInvalidArgument, "Usage: %s <id> <delta>", action)
		}
		id, res, good := parseID(action, args[:1])
		if !good {
			return res
		}
		delta, err := strconv.Atoi(args[1])
		if err != nil {
			return failed(errors.ErrInvalidArgument, "Invalid delta %q. Must be an integer.", args[1])
		}
		return c.Score(ctx, id, delta)
	case "get", "show":
		id, res, good := parseID(action, args)
		if !good {
			return res
		}
		return c.Get(id)
	case "status":
		if len(args) > 0 && strings.EqualFold(args[0], "json") {
			return c.StatusJSON()
		}
		return c.Status()
	case "active":
		return c.List("Active", c.m.ListActive())
	case "completed":
		return c.List("Completed", c.m.ListCompleted())
	case "waiting", "unplaced":
		return c.List("Waiting", c.m.ListUnplaced())
	case "help", "?":
		return Result{Text: Help()}
	case "exit", "quit":
		return Result{Text: "Exiting.", Exit: true}
	default:
		return failed(errors.ErrInvalidArgument, "Unknown command: %s (type 'help')", action)
	}
}

func parseID(action string, args []string) (int, Result, bool) {
	if len(args) < 1 {
		return 0, failed(errors.ErrInvalidArgument, "Usage: %s <id>", action), false
	}
	id, err := state.ParseID(args[0])
	if err != nil {
		return 0, failed(errors.ErrInvalidArgument, "Invalid session id %q.", args[0]), false
	}
	return id, Result{}, true
}

// Start creates a session.
func (c *Console) Start(ctx context.Context, name string) Result {
	res, err := c.m.Start(ctx, name)
	if err != nil {
		return c.explain(err, 0)
	}
	sess, _ := c.m.Get(res.ID)
	if res.Placed {
		return c.withSaveWarning(ok("%s started (id %d) in stage 1 (%s).", sess.DisplayName(), res.ID, c.board.Label(1)))
	}
	return c.withSaveWarning(ok("%s started (id %d). Stage 1 is occupied; it is waiting. Use 'place %d' once stage 1 is free.",
		sess.DisplayName(), res.ID, res.ID))
}

// Place moves a waiting session into stage 1.
func (c *Console) Place(ctx context.Context, id int) Result {
	if err := c.m.Place(ctx, id); err != nil {
		return c.explain(err, id)
	}
	return c.withSaveWarning(ok("Session %d placed in stage 1 (%s).", id, c.board.Label(1)))
}

// Advance moves a session forward one stage.
func (c *Console) Advance(ctx context.Context, id int) Result {
	res, err := c.m.Advance(ctx, id)
	if err != nil {
		return c.explain(err, id)
	}
	if res.Completed {
		sess, _ := c.m.Get(id)
		return c.withSaveWarning(ok("Session %d has completed all stages with score %d.", id, sess.Score))
	}
	return c.withSaveWarning(ok("Session %d progressed to stage %d (%s).", id, res.To, c.board.Label(res.To)))
}

// Score adjusts a session's score.
func (c *Console) Score(ctx context.Context, id, delta int) Result {
	score, err := c.m.AdjustScore(ctx, id, delta)
	if err != nil {
		return c.explain(err, id)
	}
	return c.withSaveWarning(ok("Session %d's score updated to %d.", id, score))
}

// Get describes one session.
func (c *Console) Get(id int) Result {
	sess, err := c.m.Get(id)
	if err != nil {
		return c.explain(err, id)
	}
	return ok("%s", strings.TrimRight(c.board.Table([]session.Session{sess}), "\n"))
}

// Status renders the stage board and lists.
func (c *Console) Status() Result {
	return ok("%s", strings.TrimRight(c.board.Render(c.m.View()), "\n"))
}

// StatusJSON returns the state in its persisted form.
func (c *Console) StatusJSON() Result {
	data, err := json.MarshalIndent(c.m.Snapshot(), "", "  ")
	if err != nil {
		return failed(err, "Could not encode state: %v", err)
	}
	return ok("%s", data)
}

// List renders a titled session table.
func (c *Console) List(title string, sessions []session.Session) Result {
	if len(sessions) == 0 {
		return ok("%s: none", title)
	}
	return ok("%s (%d):\n%s", title, len(sessions), strings.TrimRight(c.board.Table(sessions), "\n"))
}

// explain turns a command error into an operator-facing reply.
func (c *Console) explain(err error, id int) Result {
	if !errors.IsCallerError(err) {
		c.logger.WithSession(id).Error("command failed",
			"error", err.Error(), "retryable", errors.IsRetryable(err))
	}

	var lerr *errors.LifecycleError
	if errors.As(err, &lerr) && lerr.Stage != 0 {
		switch {
		case errors.Is(err, errors.ErrSlotOccupied):
			occupant := "another session"
			if v := c.m.View(); lerr.Stage <= len(v.Slots) {
				if sess, found := v.Occupant(lerr.Stage); found {
					occupant = fmt.Sprintf("session %d", sess.ID)
				}
			}
			return failed(err, "Stage %d (%s) is occupied by %s. Session %d stays where it is.",
				lerr.Stage, c.board.Label(lerr.Stage), occupant, id)
		case errors.Is(err, errors.ErrStageEmpty):
			return failed(err, "Stage %d (%s) is empty.", lerr.Stage, c.board.Label(lerr.Stage))
		}
	}

	switch {
	case errors.Is(err, errors.ErrNotFound):
		return failed(err, "Session %d does not exist.", id)
	case errors.Is(err, errors.ErrNotActive):
		return failed(err, "Session %d is not active.", id)
	case errors.Is(err, errors.ErrInvalidTransition):
		sess, _ := c.m.Get(id)
		return failed(err, "Session %d is %s; only waiting sessions can be placed.", id, sess.Status)
	case errors.Is(err, errors.ErrPersistence):
		return failed(err, "State could not be saved; the command was not applied: %v", err)
	case errors.IsUserFacing(err):
		return failed(err, "Error: %v", err)
	default:
		return failed(err, "Command failed; see the log for details.")
	}
}

// withSaveWarning appends a warning when the command was kept in memory
// but its save failed.
func (c *Console) withSaveWarning(r Result) Result {
	if perr := c.m.LastPersistError(); perr != nil {
		r.Text += fmt.Sprintf("\nWarning: state not saved: %v", perr)
	}
	return r
}

// Run reads commands from in until exit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(out, "Stage controller ready. Type 'help' for commands.")
	for {
		fmt.Fprint(out, Prompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, open := <-lines:
			if !open {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			res := c.Execute(ctx, line)
			if res.Text != "" {
				fmt.Fprintln(out, res.Text)
			}
			if res.Err != nil {
				c.logger.Debug("console command rejected", "line", line, "error", res.Err.Error())
			}
			if res.Exit {
				return nil
			}
		}
	}
}
