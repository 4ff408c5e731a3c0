// Package feed provides the scrollable session activity log.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/tui/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindJoin = "join"
	KindLeft = "left"
	KindPing = "ping"
	KindErr  = "err"
	KindInfo = "info"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
}

func New() Model {
	return Model{}
}

// Add appends an entry, caps the buffer and scrolls to the bottom.
func (m *Model) Add(at time.Time, kind, message string) {
	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// View renders the most recent lines that fit in height.
func (m Model) View(width, height int) string {
	if width < 20 {
		width = 20
	}
	if height < 1 {
		height = 1
	}
	if len(m.Entries) == 0 {
		return theme.StyleDimmed.Render("  Nothing has happened yet.")
	}

	end := len(m.Entries) - m.Offset
	start := end - height
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, end-start+1)
	for i := start; i < end; i++ {
		e := m.Entries[i]
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(e.Kind)
		msg := e.Message
		if room := width - 16; room > 3 && len([]rune(msg)) > room {
			msg = string([]rune(msg)[:room-3]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}
	if m.Offset > 0 {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset)))
	}
	return strings.Join(lines, "\n")
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindJoin:
		return theme.ColorHealthy
	case KindLeft:
		return theme.ColorWarning
	case KindPing:
		return theme.ColorAccent
	case KindErr:
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}
