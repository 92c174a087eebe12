// Package status renders the watch view: the background poll state of
// every account, refreshed as rounds complete.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/keys"
	poller "github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/theme"
)

// Poller is the part of sync.Poller the view drives.
type Poller interface {
	Start() tea.Cmd
	Stop()
	RefreshAll() tea.Cmd
	WaitForNextResult() tea.Cmd
	GetStatuses() []poller.SyncStatus
}

// Model is the watch view.
type Model struct {
	poller Poller
	keys   *keys.WatchKeyMap
	help   help.Model

	last       map[string]poller.SyncResultMsg
	notices    []string
	refreshing bool
}

// New creates a watch view over p.
func New(p Poller) Model {
	return Model{
		poller: p,
		keys:   keys.DefaultWatchKeyMap(),
		help:   help.New(),
		last:   make(map[string]poller.SyncResultMsg),
	}
}

// Init starts the poller.
func (m Model) Init() tea.Cmd {
	return m.poller.Start()
}

// Update handles messages for the watch view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.poller.Stop()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.refreshing = true
			return m, m.poller.RefreshAll()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case poller.SyncResultMsg:
		m.refreshing = false
		switch {
		case msg.AuthError != nil:
			m.notice(msg.AuthError.Message)
		case msg.AccountID == "" && msg.Error != nil:
			m.notice("Poll failed: " + msg.Error.Error())
		}
		if msg.AccountID != "" {
			m.last[msg.AccountID] = msg
		}
		return m, m.poller.WaitForNextResult()
	}
	return m, nil
}

// notice records a message once; repeated rounds report the same
// login failure again.
func (m *Model) notice(text string) {
	for _, n := range m.notices {
		if n == text {
			return
		}
	}
	m.notices = append(m.notices, text)
}

// View renders one line per account, notices and help.
func (m Model) View() string {
	lines := []string{theme.HeaderStyle.Render("mailsync watch"), ""}

	statuses := m.poller.GetStatuses()
	if len(statuses) == 0 {
		lines = append(lines, theme.HelpStyle.Render("Waiting for the first poll..."))
	}
	for _, s := range statuses {
		lines = append(lines, m.statusLine(s))
	}

	if m.refreshing {
		lines = append(lines, "", theme.WarningStyle.Render("Polling..."))
	}
	if len(m.notices) > 0 {
		lines = append(lines, "")
		for _, n := range m.notices {
			lines = append(lines, theme.ErrorStyle.Render(n))
		}
	}

	lines = append(lines, "", theme.HelpStyle.Render(m.help.View(m.keys)))
	return theme.PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) statusLine(s poller.SyncStatus) string {
	last := "never"
	if !s.LastSync.IsZero() {
		last = s.LastSync.Local().Format(time.Kitchen)
	}

	var detail string
	switch s.State {
	case poller.SyncError:
		detail = theme.ErrorStyle.Render("error: " + firstLine(s.Error))
	case poller.SyncRunning:
		detail = theme.WarningStyle.Render("polling")
	default:
		res := m.last[s.AccountID]
		detail = theme.SuccessStyle.Render(fmt.Sprintf("%d new, %d folder changes", res.New, res.Changes))
	}
	return fmt.Sprintf("%-16s %-8s %s", s.AccountID, last, detail)
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}

// Run shows the watch view until the user quits, then stops p.
func Run(p Poller, opts ...tea.ProgramOption) error {
	defer p.Stop()
	if _, err := tea.NewProgram(New(p), opts...).Run(); err != nil {
		return fmt.Errorf("running watch view: %w", err)
	}
	return nil
}
