package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/zektor/internal/app"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/logging"
	"github.com/Iron-Ham/zektor/internal/render"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View zektor logs",
	Long: `View and filter the log written to <data_dir>/zektor.log.

Examples:
  # Show the last 50 entries
  zektor logs

  # Everything that happened to session 3
  zektor logs --session 3 -n 0

  # Follow logs in real-time
  zektor logs -f

  # Warnings and errors from the trigger router in the last hour
  zektor logs --level warn --component trigger --since 1h

  # Search messages
  zektor logs --grep "occupied|dropping"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsSession   int
	logsStage     int
	logsComponent string
	logsJSON      bool
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m) or an RFC 3339 time")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter messages matching pattern (regex)")
	logsCmd.Flags().IntVarP(&logsSession, "session", "s", 0, "Only entries about this session id")
	logsCmd.Flags().IntVar(&logsStage, "stage", 0, "Only entries about this stage")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (lifecycle, console, trigger, notify, ...)")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "Print entries as JSON lines")
}

// logQuery is the parsed form of the logs flags.
type logQuery struct {
	filter logging.Filter
	grep   *regexp.Regexp
	tail   int
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 1h or an RFC 3339 time", s)
}

func newLogQuery(now time.Time) (*logQuery, error) {
	since, err := parseSince(logsSince, now)
	if err != nil {
		return nil, err
	}
	q := &logQuery{
		filter: logging.Filter{
			Since:     since,
			SessionID: logsSession,
			Stage:     logsStage,
			Component: logsComponent,
		},
		tail: logsTail,
	}
	if logsLevel != "" {
		q.filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return nil, fmt.Errorf("invalid --grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

// apply filters entries and keeps the last q.tail of them.
func (q *logQuery) apply(entries []logging.Entry) []logging.Entry {
	out := q.filter.Apply(entries)
	if q.grep != nil {
		kept := out[:0]
		for _, e := range out {
			if q.grep.MatchString(e.Message) {
				kept = append(kept, e)
			}
		}
		out = kept
	}
	if q.tail > 0 && len(out) > q.tail {
		out = out[len(out)-q.tail:]
	}
	return out
}

// logPrinter writes entries as colored text or JSON lines.
type logPrinter struct {
	w        io.Writer
	json     bool
	renderer *lipgloss.Renderer
}

func newLogPrinter(w io.Writer, asJSON, noColor bool) *logPrinter {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return &logPrinter{w: w, json: asJSON, renderer: r}
}

// levelColor returns the display color for a log level
func levelColor(level string) lipgloss.Color {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return lipgloss.Color("245")
	case logging.LevelInfo:
		return lipgloss.Color("33")
	case logging.LevelWarn:
		return lipgloss.Color("214")
	case logging.LevelError:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("")
	}
}

func (p *logPrinter) print(entries []logging.Entry) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(p.w, p.format(e)); err != nil {
			return err
		}
	}
	return nil
}

// format renders one entry as [TIME] LEVEL message key=value ...
func (p *logPrinter) format(e logging.Entry) string {
	gray := p.renderer.NewStyle().Foreground(lipgloss.Color("245"))
	level := p.renderer.NewStyle().Foreground(levelColor(e.Level)).Bold(true)
	ctx := p.renderer.NewStyle().Foreground(lipgloss.Color("37"))

	var sb strings.Builder
	sb.WriteString(gray.Render("[" + e.Time.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(level.Render(fmt.Sprintf("%-5s", e.Level)))
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	if e.Component != "" {
		sb.WriteString(" " + ctx.Render("component="+e.Component))
	}
	if e.SessionID != 0 {
		sb.WriteString(" " + ctx.Render(fmt.Sprintf("session=%d", e.SessionID)))
	}
	if e.Stage != 0 {
		sb.WriteString(" " + ctx.Render(fmt.Sprintf("stage=%d", e.Stage)))
	}
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		sb.WriteString(" " + ctx.Render(k+"=") + fmt.Sprintf("%v", e.Attrs[k]))
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.Persistence.ResolveDataDir()
	out := cmd.OutOrStdout()

	if !cfg.Logging.Enabled {
		fmt.Fprintln(out, "File logging is disabled (logging.enabled: false); logs go to stderr.")
		return nil
	}

	q, err := newLogQuery(time.Now())
	if err != nil {
		return err
	}
	printer := newLogPrinter(out, logsJSON, viper.GetBool("no_color"))

	entries, err := logging.ReadEntries(dataDir)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		return err
	}
	if missing && !logsFollow {
		fmt.Fprintf(out, "No logs found in %s\n", dataDir)
		return nil
	}
	if err := printer.print(q.apply(entries)); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}
	return followLogs(cmd, dataDir, q, printer, len(entries))
}

// followLogs prints entries appended after the first seen.
func followLogs(cmd *cobra.Command, dataDir string, q *logQuery, printer *logPrinter, seen int) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	follow := *q
	follow.tail = 0

	var mu sync.Mutex
	onChange := func() {
		mu.Lock()
		defer mu.Unlock()
		entries, err := logging.ReadEntries(dataDir)
		if err != nil {
			return
		}
		if len(entries) < seen {
			// Rotated.
			seen = 0
		}
		_ = printer.print(follow.apply(entries[seen:]))
		seen = len(entries)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	w, err := render.NewWatcher(filepath.Join(dataDir, logging.FileName), onChange, nil)
	if err != nil {
		return fmt.Errorf("failed to watch logs: %w", err)
	}
	w.Start()
	defer w.Stop()

	<-ctx.Done()
	return nil
}
