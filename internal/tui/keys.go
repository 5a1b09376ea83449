package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines keybindings
type KeyMap struct {
	Submit   key.Binding
	Focus    key.Binding
	Back     key.Binding
	Run      key.Binding
	Stop     key.Binding
	NextPage key.Binding
	PrevPage key.Binding
	Widget   key.Binding
	Copy     key.Binding
	Output   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default keybindings. Every binding uses a
// modifier so typing in the inputs never triggers one.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "ask"),
		),
		Focus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "question/editor"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Run: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "run sql"),
		),
		Stop: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "stop run"),
		),
		NextPage: key.NewBinding(
			key.WithKeys("ctrl+n", "pgdown"),
			key.WithHelp("ctrl+n", "next page"),
		),
		PrevPage: key.NewBinding(
			key.WithKeys("ctrl+p", "pgup"),
			key.WithHelp("ctrl+p", "prev page"),
		),
		Widget: key.NewBinding(
			key.WithKeys("ctrl+w"),
			key.WithHelp("ctrl+w", "add widget"),
		),
		Copy: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("ctrl+y", "copy sql"),
		),
		Output: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "table/chart"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("f1", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Run, k.Stop, k.NextPage, k.Widget, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Focus, k.Back},
		{k.Run, k.Stop, k.NextPage, k.PrevPage},
		{k.Widget, k.Copy, k.Output},
		{k.Help, k.Quit},
	}
}
