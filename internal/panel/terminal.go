package panel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/display"
)

const (
	terminalWidth = 40
	clearScreen   = "\x1b[H\x1b[2J"
)

// Terminal paints hub views on a character terminal.
type Terminal struct {
	out    io.Writer
	logger *slog.Logger
	clear  bool

	title  lipgloss.Style
	muted  lipgloss.Style
	label  lipgloss.Style
	frame  lipgloss.Style
	levels map[string]lipgloss.Style
}

// NewTerminal builds a renderer writing to out. clear controls whether
// every frame starts by clearing the screen.
func NewTerminal(out io.Writer, clear bool, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		out:    out,
		logger: logger.With("component", "terminal"),
		clear:  clear,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
		label:  r.NewStyle().Width(6).Foreground(lipgloss.Color("12")),
		frame: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1).
			Width(terminalWidth),
		levels: map[string]lipgloss.Style{
			display.LevelOK.String():       r.NewStyle().Foreground(lipgloss.Color("10")),
			display.LevelWarning.String():  r.NewStyle().Foreground(lipgloss.Color("11")),
			display.LevelCritical.String(): r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			display.LevelNeutral.String():  r.NewStyle().Foreground(lipgloss.Color("14")),
		},
	}
}

// Run paints every view published by hub until ctx is canceled.
func (t *Terminal) Run(ctx context.Context, hub *Hub) error {
	views, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case view, ok := <-views:
			if !ok {
				return nil
			}
			if err := t.Paint(view); err != nil {
				t.logger.Warn("terminal paint failed", "err", err)
			}
		}
	}
}

// Paint writes one view.
func (t *Terminal) Paint(view api.View) error {
	var b strings.Builder
	if t.clear {
		b.WriteString(clearScreen)
	}
	b.WriteString(t.Render(view))
	b.WriteByte('\n')
	_, err := io.WriteString(t.out, b.String())
	if err != nil {
		return fmt.Errorf("write view: %w", err)
	}
	return nil
}

// Render lays out view as a bordered block.
func (t *Terminal) Render(view api.View) string {
	header := t.title.Render(view.Title)
	if view.Subtitle != "" {
		header += " " + t.muted.Render(view.Subtitle)
	}
	if view.Indicator != "" {
		level := display.LevelOK.String()
		if view.Indicator != "online" {
			level = display.LevelCritical.String()
		}
		header += " " + t.style(level).Render("●")
	}

	lines := []string{header, ""}
	for _, row := range view.Rows {
		line := ""
		if row.Label != "" {
			line = t.label.Render(row.Label)
		}
		line += t.style(row.Level).Render(row.Value)
		if row.Extra != "" {
			extra := t.muted
			if row.ExtraLevel != "" {
				extra = t.style(row.ExtraLevel)
			}
			line += "  " + extra.Render(row.Extra)
		}
		lines = append(lines, line)
	}
	if view.Footer != "" {
		lines = append(lines, "", t.muted.Render(view.Footer))
	}

	return t.frame.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (t *Terminal) style(level string) lipgloss.Style {
	if s, ok := t.levels[level]; ok {
		return s
	}
	return t.muted
}
