package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Enter    key.Binding
	Create   key.Binding
	Join     key.Binding
	Refresh  key.Binding
	Toggle   key.Binding
	NextPeer key.Binding
	PrevPeer key.Binding
	Glyph    key.Binding
	Escape   key.Binding
	ScrollUp key.Binding
	ScrollDn key.Binding
	Help     key.Binding
	Quit     key.Binding
	ForceQ   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "previous session"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next session"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "continue / join selected"),
		),
		Create: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "create session"),
		),
		Join: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "auto-join newest session"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh sessions"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "start / pause"),
		),
		NextPeer: key.NewBinding(
			key.WithKeys("tab", "right"),
			key.WithHelp("tab/→", "next ping target"),
		),
		PrevPeer: key.NewBinding(
			key.WithKeys("shift+tab", "left"),
			key.WithHelp("shift+tab/←", "previous ping target"),
		),
		Glyph: key.NewBinding(
			key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8"),
			key.WithHelp("1-8", "send ping"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear target / close overlay"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll feed up"),
		),
		ScrollDn: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll feed down"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "leave and quit"),
		),
		ForceQ: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// Workspace lists the bindings shown in the help overlay.
func (k KeyMap) Workspace() []key.Binding {
	return []key.Binding{k.Toggle, k.NextPeer, k.PrevPeer, k.Glyph, k.Escape, k.ScrollUp, k.ScrollDn, k.Help, k.Quit}
}
