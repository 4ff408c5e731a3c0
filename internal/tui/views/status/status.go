package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/monitor"
	"github.com/workaholi/focusroom/internal/tui/theme"
	"github.com/workaholi/focusroom/internal/tui/views/roster"
)

// Model holds the status bar state.
type Model struct {
	Server    string
	SessionID string
	Members   int
	MaxUsers  int
	Elapsed   int
	Score     float64
	Running   bool
	// Presence is empty when process presence is not monitored.
	Presence monitor.Status
	Width    int
}

func New(server string) Model {
	return Model{Server: server}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	server := lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + m.Server)
	content := server
	if m.SessionID == "" {
		content += sep + theme.StyleDimmed.Render("lobby")
	} else {
		var timer string
		if m.Running {
			timer = lipgloss.NewStyle().Foreground(theme.ColorActive).Render("▶ " + roster.FormatElapsed(m.Elapsed))
		} else {
			timer = lipgloss.NewStyle().Foreground(theme.ColorPaused).Render("❚❚ " + roster.FormatElapsed(m.Elapsed))
		}
		score := lipgloss.NewStyle().Foreground(theme.ScoreColor(m.Score)).Render(fmt.Sprintf("focus %.0f", m.Score))
		content += sep + fmt.Sprintf("session %s  %d/%d", m.SessionID, m.Members, m.MaxUsers) +
			sep + timer + sep + score
	}

	if m.Presence != "" {
		var color lipgloss.Color
		switch m.Presence {
		case monitor.StatusHealthy:
			color = theme.ColorHealthy
		case monitor.StatusDegraded:
			color = theme.ColorWarning
		default:
			color = theme.ColorDanger
		}
		content += sep + lipgloss.NewStyle().Foreground(color).Render("presence: "+string(m.Presence))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
