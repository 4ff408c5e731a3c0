// Package onboarding is the identity form shown before the lobby.
package onboarding

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/profile"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/tui/theme"
)

// Form fields in tab order.
const (
	fieldName = iota
	fieldAvatar
	fieldKeyboard
	fieldMouse
	fieldPresence
	fieldCount
)

type Model struct {
	name   textinput.Model
	avatar int
	mon    profile.Monitoring
	field  int

	// Err is shown under the form, typically a validation failure.
	Err string
}

// New prefills the form from p.
func New(p profile.Profile) Model {
	ti := textinput.New()
	ti.Placeholder = "your name"
	ti.CharLimit = 32
	ti.Width = 32
	ti.SetValue(p.Name)
	ti.Focus()

	avatar := 0
	for i, a := range session.Avatars {
		if a == p.Avatar {
			avatar = i
		}
	}
	return Model{name: ti, avatar: avatar, mon: p.Monitoring}
}

// Profile returns the profile currently described by the form.
func (m Model) Profile() profile.Profile {
	return profile.Profile{
		Name:       strings.TrimSpace(m.name.Value()),
		Avatar:     session.Avatars[m.avatar],
		Monitoring: m.mon,
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		return m, cmd
	}

	switch km.String() {
	case "tab", "down":
		return m.move(1), nil
	case "shift+tab", "up":
		return m.move(-1), nil
	}

	switch m.field {
	case fieldName:
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		m.Err = ""
		return m, cmd
	case fieldAvatar:
		switch km.String() {
		case "left", "h":
			m.avatar = (m.avatar - 1 + len(session.Avatars)) % len(session.Avatars)
		case "right", "l", " ":
			m.avatar = (m.avatar + 1) % len(session.Avatars)
		}
	case fieldKeyboard, fieldMouse, fieldPresence:
		if km.String() == " " || km.String() == "x" {
			m.toggle(m.field)
			m.Err = ""
		}
	}
	return m, nil
}

func (m Model) move(step int) Model {
	m.field = ((m.field+step)%fieldCount + fieldCount) % fieldCount
	if m.field == fieldName {
		m.name.Focus()
	} else {
		m.name.Blur()
	}
	return m
}

func (m *Model) toggle(field int) {
	switch field {
	case fieldKeyboard:
		m.mon.Keyboard = !m.mon.Keyboard
	case fieldMouse:
		m.mon.Mouse = !m.mon.Mouse
	case fieldPresence:
		m.mon.Presence = !m.mon.Presence
	}
}

func (m Model) View() string {
	lines := []string{
		theme.StyleHeader.Render("IDENTIFY YOURSELF"),
		"",
		m.label(fieldName, "Name") + m.name.View(),
		m.label(fieldAvatar, "Avatar") + m.avatarView(),
		"",
		theme.StyleDimmed.Render("Monitoring (at least one)"),
		m.label(fieldKeyboard, "Keyboard") + checkbox(m.mon.Keyboard),
		m.label(fieldMouse, "Mouse") + checkbox(m.mon.Mouse),
		m.label(fieldPresence, "Presence") + checkbox(m.mon.Presence) +
			theme.StyleDimmed.Render("  editor/IDE process activity"),
		"",
	}
	if m.Err != "" {
		lines = append(lines, theme.StyleError.Render(m.Err), "")
	}
	lines = append(lines, theme.StyleDimmed.Render("tab/↑↓: field  ←→: avatar  space: toggle  enter: continue  ctrl+c: quit"))
	return theme.StyleBorder.Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) label(field int, text string) string {
	prefix := "  "
	style := theme.StyleDimmed
	if m.field == field {
		prefix = "> "
		style = theme.StyleSelected
	}
	return style.Render(fmt.Sprintf("%s%-10s", prefix, text))
}

func (m Model) avatarView() string {
	a := session.Avatars[m.avatar]
	return lipgloss.NewStyle().Foreground(theme.AvatarColor(a)).
		Render(fmt.Sprintf("‹ %s %s ›", theme.AvatarGlyph(a), a))
}

func checkbox(on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("[x]")
	}
	return theme.StyleDimmed.Render("[ ]")
}
