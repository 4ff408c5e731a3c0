// Package help renders the key reference overlay from Markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/tui/theme"
)

const intro = `Your focus score starts at 50 and drifts down every two seconds.
Typing, pointer movement and clicks inside the terminal push it back up.
Pings flash on the sender's avatar for a few seconds.`

// Markdown builds the help document for the given bindings and glyphs.
func Markdown(bindings []key.Binding, glyphs []string) string {
	var b strings.Builder
	b.WriteString("# Focus room\n\n")
	b.WriteString(intro)
	b.WriteString("\n\n## Keys\n\n| Key | Action |\n|---|---|\n")
	for _, kb := range bindings {
		h := kb.Help()
		if h.Key == "" {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
	}
	if len(glyphs) > 0 {
		b.WriteString("\n## Pings\n\n")
		for i, g := range glyphs {
			fmt.Fprintf(&b, "- `%d` %s\n", i+1, g)
		}
	}
	return b.String()
}

// Render turns the help document into styled terminal output. The dark
// style is fixed so rendering never probes the terminal.
func Render(md string, width int) (string, error) {
	if width < 40 {
		width = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return "", fmt.Errorf("create help renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render help: %w", err)
	}
	return out, nil
}

// View renders the overlay panel, falling back to the raw Markdown when
// glamour fails.
func View(bindings []key.Binding, glyphs []string, width int) string {
	md := Markdown(bindings, glyphs)
	body, err := Render(md, width)
	if err != nil {
		body = md
	}
	footer := theme.StyleDimmed.Render("esc/?: close")
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, strings.TrimRight(body, "\n"), footer))
}
