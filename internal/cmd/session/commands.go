// Package session provides the one-shot CLI commands that start, move,
// score and inspect sessions. Each command opens the data directory, runs
// once and saves before it exits.
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/zektor/internal/app"
	"github.com/Iron-Ham/zektor/internal/console"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Start a new session",
	Long: `Start a new session with an optional name.

The session enters stage 1 when it is free. Otherwise it waits until
'zektor place <id>' moves it in.`,
	Args: cobra.ArbitraryArgs,
	RunE: runStart,
}

var placeCmd = &cobra.Command{
	Use:   "place <id>",
	Short: "Move a waiting session into stage 1",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlace,
}

var advanceCmd = &cobra.Command{
	Use:     "advance <id>",
	Aliases: []string{"progress"},
	Short:   "Move a session to the next stage",
	Long: `Move a session to the next stage. A session in the last stage
completes. The move is refused while the next stage is occupied.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvance,
}

var scoreCmd = &cobra.Command{
	Use:     "score <id> <delta>",
	Aliases: []string{"update-score"},
	Short:   "Add delta to a session's score",
	Long: `Add delta to a session's score. Separate a negative delta with --:

  zektor score 3 -- -5`,
	Args: cobra.ExactArgs(2),
	RunE: runScore,
}

var getCmd = &cobra.Command{
	Use:     "get <id>",
	Aliases: []string{"show"},
	Short:   "Show one session",
	Args:    cobra.ExactArgs(1),
	RunE:    runGet,
}

// RegisterStartCmd registers the start command with the given parent command.
func RegisterStartCmd(parent *cobra.Command) {
	parent.AddCommand(startCmd)
}

// RegisterPlaceCmd registers the place command with the given parent command.
func RegisterPlaceCmd(parent *cobra.Command) {
	parent.AddCommand(placeCmd)
}

// RegisterAdvanceCmd registers the advance command with the given parent command.
func RegisterAdvanceCmd(parent *cobra.Command) {
	parent.AddCommand(advanceCmd)
}

// RegisterScoreCmd registers the score command with the given parent command.
func RegisterScoreCmd(parent *cobra.Command) {
	parent.AddCommand(scoreCmd)
}

// RegisterGetCmd registers the get command with the given parent command.
func RegisterGetCmd(parent *cobra.Command) {
	parent.AddCommand(getCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openApp opens the configured data directory for cmd.
func openApp(cmd *cobra.Command, mode app.Mode) (*app.App, error) {
	return app.Open(commandContext(cmd), app.Options{
		Mode:    mode,
		Out:     cmd.OutOrStdout(),
		NoColor: viper.GetBool("no_color"),
	})
}

// withApp runs fn against an opened data directory and closes it after.
func withApp(cmd *cobra.Command, mode app.Mode, fn func(ctx context.Context, a *app.App) console.Result) error {
	a, err := openApp(cmd, mode)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return report(cmd, fn(commandContext(cmd), a))
}

// report prints a console reply, to stderr when it describes a failure.
func report(cmd *cobra.Command, res console.Result) error {
	if res.Err != nil {
		if res.Text != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Text)
		}
		return res.Err
	}
	if res.Text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	}
	return nil
}

func parseID(arg string) (int, error) {
	id, err := state.ParseID(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid session id %q", errors.ErrInvalidArgument, arg)
	}
	return id, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	name := strings.Join(args, " ")
	return withApp(cmd, app.ModeCommand, func(ctx context.Context, a *app.App) console.Result {
		return a.Console.Start(ctx, name)
	})
}

func runPlace(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, app.ModeCommand, func(ctx context.Context, a *app.App) console.Result {
		return a.Console.Place(ctx, id)
	})
}

func runAdvance(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, app.ModeCommand, func(ctx context.Context, a *app.App) console.Result {
		return a.Console.Advance(ctx, id)
	})
}

func runScore(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: invalid delta %q, must be an integer", errors.ErrInvalidArgument, args[1])
	}
	return withApp(cmd, app.ModeCommand, func(ctx context.Context, a *app.App) console.Result {
		return a.Console.Score(ctx, id, delta)
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, app.ModeRead, func(_ context.Context, a *app.App) console.Result {
		return a.Console.Get(id)
	})
}
