// Package theme provides the Lip Gloss color palette and reusable styles
// for the focus room TUI. It is a leaf package apart from the session types
// it colors.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/workaholi/focusroom/internal/session"
)

// Avatar colors.
var (
	ColorCyberPunk   = lipgloss.Color("#a855f7")
	ColorNeonCat     = lipgloss.Color("#06b6d4")
	ColorRoboFace    = lipgloss.Color("#9ca3af")
	ColorHackerSkull = lipgloss.Color("#22c55e")
	ColorMatrixEye   = lipgloss.Color("#10b981")
	ColorDefault     = lipgloss.Color("#9ca3af")
)

// Participant status colors.
var (
	ColorActive = lipgloss.Color("#2563eb")
	ColorPaused = lipgloss.Color("#854d0e")
)

// Score gauge thresholds.
var (
	ColorScoreLow  = lipgloss.Color("#dc2626") // <35
	ColorScoreMid  = lipgloss.Color("#d97706") // 35-70
	ColorScoreHigh = lipgloss.Color("#22c55e") // >70
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#7c3aed")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// AvatarColor returns the accent color of an avatar.
func AvatarColor(a session.Avatar) lipgloss.Color {
	switch a {
	case session.AvatarCyberPunk:
		return ColorCyberPunk
	case session.AvatarNeonCat:
		return ColorNeonCat
	case session.AvatarRoboFace:
		return ColorRoboFace
	case session.AvatarHackerSkull:
		return ColorHackerSkull
	case session.AvatarMatrixEye:
		return ColorMatrixEye
	default:
		return ColorDefault
	}
}

// AvatarGlyph returns the portrait shown next to a participant name.
func AvatarGlyph(a session.Avatar) string {
	switch a {
	case session.AvatarCyberPunk:
		return "🤘"
	case session.AvatarNeonCat:
		return "🐱"
	case session.AvatarRoboFace:
		return "🤖"
	case session.AvatarHackerSkull:
		return "💀"
	case session.AvatarMatrixEye:
		return "👁"
	default:
		return "·"
	}
}

// StatusColor returns the color for a participant status.
func StatusColor(s session.ParticipantStatus) lipgloss.Color {
	if s == session.ParticipantPaused {
		return ColorPaused
	}
	return ColorActive
}

// ScoreColor returns the gauge color for a focus score in [0, 100].
func ScoreColor(score float64) lipgloss.Color {
	switch {
	case score > 70:
		return ColorScoreHigh
	case score >= 35:
		return ColorScoreMid
	default:
		return ColorScoreLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorDanger)
)
