package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the interactive poll view.
type KeyMap struct {
	// Cancel stops the poll after the message being stored.
	Cancel key.Binding

	// Help toggles the full help.
	Help key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Cancel: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "cancel"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Cancel, k.Help}
}

// FullHelp implements help.KeyMap.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Cancel, k.Help}}
}

// WatchKeyMap defines the keybindings of the watch view.
type WatchKeyMap struct {
	// Refresh polls every account now instead of waiting for the timer.
	Refresh key.Binding
	Quit    key.Binding
	Help    key.Binding
}

// DefaultWatchKeyMap returns the default watch view keybindings.
func DefaultWatchKeyMap() *WatchKeyMap {
	return &WatchKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "poll now"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k *WatchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit, k.Help}
}

// FullHelp implements help.KeyMap.
func (k *WatchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh}, {k.Quit, k.Help}}
}
