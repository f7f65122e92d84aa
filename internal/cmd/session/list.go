package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/zektor/internal/app"
	"github.com/Iron-Ham/zektor/internal/console"
	zsession "github.com/Iron-Ham/zektor/internal/session"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List sessions grouped as active, completed and waiting.

Active sessions are listed in the order they entered stage 1, completed
sessions in the order they finished, waiting sessions oldest first.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listActive    bool
	listCompleted bool
	listWaiting   bool
	listJSON      bool
)

func init() {
	listCmd.Flags().BoolVar(&listActive, "active", false, "Only sessions occupying a stage")
	listCmd.Flags().BoolVar(&listCompleted, "completed", false, "Only completed sessions")
	listCmd.Flags().BoolVar(&listWaiting, "waiting", false, "Only sessions waiting for stage 1")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	listCmd.MarkFlagsMutuallyExclusive("active", "completed", "waiting")
}

// RegisterListCmd registers the list command with the given parent command.
func RegisterListCmd(parent *cobra.Command) {
	parent.AddCommand(listCmd)
}

// sessionGroup is one titled list, as printed and as encoded.
type sessionGroup struct {
	Title    string
	Key      string
	Sessions []zsession.Session
}

func selectGroups(a *app.App) []sessionGroup {
	all := []sessionGroup{
		{Title: "Active", Key: "active", Sessions: a.Manager.ListActive()},
		{Title: "Completed", Key: "completed", Sessions: a.Manager.ListCompleted()},
		{Title: "Waiting", Key: "waiting", Sessions: a.Manager.ListUnplaced()},
	}
	switch {
	case listActive:
		return all[:1]
	case listCompleted:
		return all[1:2]
	case listWaiting:
		return all[2:]
	default:
		return all
	}
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, app.ModeRead, func(_ context.Context, a *app.App) console.Result {
		groups := selectGroups(a)
		if listJSON {
			return encodeGroups(groups)
		}

		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, a.Console.List(g.Title, g.Sessions).Text)
		}
		return console.Result{Text: strings.Join(parts, "\n\n")}
	})
}

// encodeGroups emits a bare array for a single group and an object keyed
// by group otherwise.
func encodeGroups(groups []sessionGroup) console.Result {
	var v any
	if len(groups) == 1 {
		v = nonNil(groups[0].Sessions)
	} else {
		m := make(map[string][]zsession.Session, len(groups))
		for _, g := range groups {
			m[g.Key] = nonNil(g.Sessions)
		}
		v = m
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return console.Result{Text: fmt.Sprintf("Could not encode sessions: %v", err), Err: err}
	}
	return console.Result{Text: string(data)}
}

func nonNil(s []zsession.Session) []zsession.Session {
	if s == nil {
		return []zsession.Session{}
	}
	return s
}
