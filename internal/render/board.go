// Package render draws the stage board and the session lists for the
// terminal, and watches the state file so views can redraw on change.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/session"
)

const defaultCellWidth = 16

var (
	mutedColor  = lipgloss.Color("#9CA3AF")
	textColor   = lipgloss.Color("#F9FAFB")
	borderColor = lipgloss.Color("#6B7280")
	accentColor = lipgloss.Color("#A78BFA")
	defaultCell = lipgloss.Color("#374151")
)

// Board renders views with a fixed set of stage labels and colors.
type Board struct {
	stages    []config.StageConfig
	cellWidth int
	renderer  *lipgloss.Renderer
}

// BoardOption configures a Board.
type BoardOption func(*Board)

// WithoutColor renders plain text with no escape sequences.
func WithoutColor() BoardOption {
	return func(b *Board) {
		b.renderer.SetColorProfile(termenv.Ascii)
	}
}

// NewBoard creates a Board that writes styled output suited to w.
func NewBoard(w io.Writer, stages []config.StageConfig, opts ...BoardOption) *Board {
	b := &Board{
		stages:    stages,
		cellWidth: defaultCellWidth,
		renderer:  lipgloss.NewRenderer(w),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Label returns the display label of stage n.
func (b *Board) Label(n int) string {
	if n >= 1 && n <= len(b.stages) && b.stages[n-1].Label != "" {
		return b.stages[n-1].Label
	}
	return fmt.Sprintf("Stage %d", n)
}

func (b *Board) color(n int) lipgloss.Color {
	if n >= 1 && n <= len(b.stages) && b.stages[n-1].Color != "" {
		return lipgloss.Color(b.stages[n-1].Color)
	}
	return defaultCell
}

// Stages renders one cell per stage, side by side.
func (b *Board) Stages(v lifecycle.View) string {
	cells := make([]string, 0, len(v.Slots))
	for _, slot := range v.Slots {
		cells = append(cells, b.cell(v, slot.Stage))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (b *Board) cell(v lifecycle.View, stage int) string {
	header := b.renderer.NewStyle().
		Bold(true).
		Foreground(textColor).
		Background(b.color(stage)).
		Width(b.cellWidth).
		Align(lipgloss.Center).
		Render(truncate(fmt.Sprintf("%d %s", stage, b.Label(stage)), b.cellWidth))

	var lines []string
	if sess, ok := v.Occupant(stage); ok {
		lines = append(lines,
			truncate(sess.DisplayName(), b.cellWidth),
			fmt.Sprintf("#%d  score %d", sess.ID, sess.Score))
	} else {
		lines = append(lines, b.renderer.NewStyle().Foreground(mutedColor).Render("empty"), "")
	}
	body := b.renderer.NewStyle().
		Width(b.cellWidth).
		Align(lipgloss.Center).
		Render(strings.Join(lines, "\n"))

	return b.renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Render(header + "\n" + body)
}

// Lists renders the waiting and completed sessions under headings.
func (b *Board) Lists(v lifecycle.View) string {
	title := b.renderer.NewStyle().Bold(true).Foreground(accentColor)
	muted := b.renderer.NewStyle().Foreground(mutedColor)

	var sb strings.Builder
	sb.WriteString(title.Render(fmt.Sprintf("Waiting (%d)", len(v.Unplaced))))
	sb.WriteString("\n")
	if len(v.Unplaced) == 0 {
		sb.WriteString(muted.Render("  none"))
		sb.WriteString("\n")
	}
	for _, sess := range v.Unplaced {
		fmt.Fprintf(&sb, "  #%-4d %s\n", sess.ID, sess.DisplayName())
	}

	sb.WriteString(title.Render(fmt.Sprintf("Completed (%d)", len(v.Completed))))
	sb.WriteString("\n")
	if len(v.Completed) == 0 {
		sb.WriteString(muted.Render("  none"))
		sb.WriteString("\n")
	}
	for _, sess := range v.Completed {
		fmt.Fprintf(&sb, "  #%-4d %-20s score %d\n", sess.ID, truncate(sess.DisplayName(), 20), sess.Score)
	}
	return sb.String()
}

// Render returns the full board: stages, then lists.
func (b *Board) Render(v lifecycle.View) string {
	return b.Stages(v) + "\n\n" + b.Lists(v)
}

// Table renders sessions as aligned rows with a header, for list output.
func (b *Board) Table(sessions []session.Session) string {
	header := b.renderer.NewStyle().Bold(true).Foreground(accentColor)

	var sb strings.Builder
	sb.WriteString(header.Render(fmt.Sprintf("%-5s %-20s %-14s %6s  %s", "ID", "NAME", "POSITION", "SCORE", "STARTED")))
	sb.WriteString("\n")
	for _, sess := range sessions {
		fmt.Fprintf(&sb, "%-5d %-20s %-14s %6d  %s\n",
			sess.ID,
			truncate(sess.DisplayName(), 20),
			b.position(sess.Position),
			sess.Score,
			sess.StartTime.Local().Format("2006-01-02 15:04:05"))
	}
	return sb.String()
}

func (b *Board) position(p session.Position) string {
	if n, ok := p.Stage(); ok {
		return truncate(fmt.Sprintf("%d %s", n, b.Label(n)), 14)
	}
	return p.String()
}

// truncate shortens s to width visible columns, keeping escape sequences
// intact.
func truncate(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
