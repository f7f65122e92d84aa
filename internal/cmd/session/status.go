package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Iron-Ham/zektor/internal/app"
	"github.com/Iron-Ham/zektor/internal/console"
	"github.com/Iron-Ham/zektor/internal/render"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stage board",
	Long: `Show which session occupies each stage, followed by the waiting and
completed sessions.

With --watch the board is redrawn whenever the state file changes, which
makes it usable as a display next to a running 'zektor serve'.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusWatch bool
	statusJSON  bool
)

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Redraw when the saved state changes")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the saved state as JSON")
	statusCmd.MarkFlagsMutuallyExclusive("watch", "json")
}

// RegisterStatusCmd registers the status command with the given parent command.
func RegisterStatusCmd(parent *cobra.Command) {
	parent.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusWatch {
		return runStatusWatch(cmd)
	}
	return withApp(cmd, app.ModeRead, func(_ context.Context, a *app.App) console.Result {
		if statusJSON {
			return a.Console.StatusJSON()
		}
		return a.Console.Status()
	})
}

func runStatusWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd, app.ModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	redraw := func() {
		mu.Lock()
		defer mu.Unlock()
		if err := a.Reload(ctx); err != nil {
			// A save in progress can be caught half written; the next
			// event redraws.
			a.Logger.Debug("state reload failed", "error", err.Error())
			return
		}
		drawBoard(out, a)
	}

	w, err := render.NewWatcher(a.Store.Path(), redraw, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", a.Store.Path(), err)
	}
	w.Start()
	defer w.Stop()

	mu.Lock()
	drawBoard(out, a)
	mu.Unlock()

	<-ctx.Done()
	return nil
}

func drawBoard(out io.Writer, a *app.App) {
	fmt.Fprint(out, ansi.CursorHomePosition+ansi.EraseEntireScreen)
	fmt.Fprintln(out, a.Console.Status().Text)
	fmt.Fprintf(out, "\nWatching %s (Ctrl+C to stop)\n", a.Store.Path())
}
