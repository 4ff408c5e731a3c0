// Package roster renders the session roster with spring-animated focus
// gauges.
package roster

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/tui/theme"
)

const (
	fps = 30
	// FrameInterval is how often Animate should be called.
	FrameInterval = time.Second / fps

	nameWidth  = 14
	gaugeWidth = 24
	settled    = 0.05
)

type row struct {
	p     session.Participant
	glyph string
	pos   float64
	vel   float64
}

// Model holds the roster and the animated gauge positions.
type Model struct {
	SelfID string
	// Target is the participant selected for the next ping.
	Target string
	Width  int

	spring harmonica.Spring
	rows   []row
}

func New(selfID string) Model {
	return Model{
		SelfID: selfID,
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.6),
	}
}

// SetRoster replaces the roster. Known participants keep their gauge
// position so the bar glides to the new score; newcomers start at it.
func (m *Model) SetRoster(roster []session.Participant, overrides map[string]string) {
	prev := make(map[string]row, len(m.rows))
	for _, r := range m.rows {
		prev[r.p.ID] = r
	}
	rows := make([]row, 0, len(roster))
	for _, p := range roster {
		r, ok := prev[p.ID]
		if !ok {
			r.pos = p.FocusScore
		}
		r.p = p
		r.glyph = overrides[p.ID]
		rows = append(rows, r)
	}
	m.rows = rows
	if m.Target != "" && !m.has(m.Target) {
		m.Target = ""
	}
}

// SetScore moves the local participant's gauge target without waiting for
// the next roster.
func (m *Model) SetScore(id string, score float64) {
	for i := range m.rows {
		if m.rows[i].p.ID == id {
			m.rows[i].p.FocusScore = score
		}
	}
}

// Animate advances every gauge one frame. It reports whether any gauge is
// still moving.
func (m *Model) Animate() bool {
	moving := false
	for i := range m.rows {
		r := &m.rows[i]
		r.pos, r.vel = m.spring.Update(r.pos, r.vel, r.p.FocusScore)
		if math.Abs(r.pos-r.p.FocusScore) > settled || math.Abs(r.vel) > settled {
			moving = true
		}
	}
	return moving
}

// Displayed returns the current animated gauge value for id.
func (m Model) Displayed(id string) (float64, bool) {
	for _, r := range m.rows {
		if r.p.ID == id {
			return r.pos, true
		}
	}
	return 0, false
}

func (m Model) Len() int {
	return len(m.rows)
}

func (m Model) has(id string) bool {
	for _, r := range m.rows {
		if r.p.ID == id {
			return true
		}
	}
	return false
}

// Others returns the ids that may be pinged, in roster order.
func (m Model) Others() []string {
	ids := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		if r.p.ID != m.SelfID {
			ids = append(ids, r.p.ID)
		}
	}
	return ids
}

// CycleTarget moves the ping selection by step through the other
// participants, wrapping around.
func (m *Model) CycleTarget(step int) {
	others := m.Others()
	if len(others) == 0 {
		m.Target = ""
		return
	}
	idx := -1
	for i, id := range others {
		if id == m.Target {
			idx = i
		}
	}
	if idx < 0 {
		if step < 0 {
			idx = 0
		} else {
			idx = -1
		}
	}
	idx = ((idx+step)%len(others) + len(others)) % len(others)
	m.Target = others[idx]
}

// Name returns the display name of id, or id itself when unknown.
func (m Model) Name(id string) string {
	for _, r := range m.rows {
		if r.p.ID == id {
			return r.p.Name
		}
	}
	return id
}

func (m Model) View() string {
	if len(m.rows) == 0 {
		return theme.StyleDimmed.Render("  Waiting for participants...")
	}
	lines := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		lines = append(lines, m.renderRow(r))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderRow(r row) string {
	prefix := "  "
	if r.p.ID == m.Target {
		prefix = "> "
	}

	portrait := theme.AvatarGlyph(r.p.Avatar)
	if r.glyph != "" {
		portrait = r.glyph
	}

	name := displayName(r.p.Name, nameWidth)
	nameStyle := lipgloss.NewStyle().Foreground(theme.AvatarColor(r.p.Avatar)).Width(nameWidth)
	if r.p.ID == m.SelfID {
		nameStyle = nameStyle.Bold(true)
	}

	var tags []string
	if r.p.IsSessionCreator {
		tags = append(tags, "★")
	}
	if r.p.ID == m.SelfID {
		tags = append(tags, "you")
	}
	status := lipgloss.NewStyle().Foreground(theme.StatusColor(r.p.Status)).Render(r.p.Status.String())

	return fmt.Sprintf("%s%s %s %s %3.0f  %s  %s %s",
		prefix,
		portrait,
		nameStyle.Render(name),
		Gauge(r.pos, gaugeWidth),
		clamp(r.pos),
		status,
		FormatElapsed(r.p.ElapsedSeconds),
		theme.StyleDimmed.Render(strings.Join(tags, " ")),
	)
}

// Gauge renders score as a colored bar of the given width.
func Gauge(score float64, width int) string {
	score = clamp(score)
	filled := int(math.Round(score / 100 * float64(width)))
	bar := lipgloss.NewStyle().Foreground(theme.ScoreColor(score)).Render(strings.Repeat("█", filled))
	return bar + theme.StyleDimmed.Render(strings.Repeat("░", width-filled))
}

// FormatElapsed renders seconds as mm:ss, or h:mm:ss past an hour.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func displayName(name string, maxLen int) string {
	runes := []rune(name)
	if len(runes) > maxLen {
		return string(runes[:maxLen-1]) + "…"
	}
	return name
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
