// Package progress renders an interactive poll with a progress bar. The
// user can cancel; the poll then stops after the current message and
// keeps what it already stored.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/theme"
)

// Msg reports how many fetched messages have been processed.
type Msg struct {
	Done  int
	Total int
}

// DoneMsg is sent once the poll has returned.
type DoneMsg struct {
	Result *mailsync.PollResult
	Err    error
}

const maxWidth = 60

// Model is the progress view.
type Model struct {
	title string
	bar   progress.Model
	help  help.Model
	keys  *keys.KeyMap

	done  int
	total int

	cancel   *atomic.Bool
	finished bool
	result   *mailsync.PollResult
	err      error
}

// New creates a progress view titled title.
func New(title string) Model {
	return Model{
		title:  title,
		bar:    progress.New(progress.WithGradient(theme.ProgressStart, theme.ProgressEnd)),
		help:   help.New(),
		keys:   keys.DefaultKeyMap(),
		cancel: &atomic.Bool{},
	}
}

// Sink returns the mailsync.Progress callback for this view. send
// delivers messages to the running program.
func (m Model) Sink(send func(tea.Msg)) mailsync.Progress {
	return func(done, total int) bool {
		send(Msg{Done: done, Total: total})
		return !m.cancel.Load()
	}
}

// Cancelled reports whether the user asked to stop.
func (m Model) Cancelled() bool {
	return m.cancel.Load()
}

// Result returns the outcome once DoneMsg was received.
func (m Model) Result() (*mailsync.PollResult, error) {
	return m.result, m.err
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the progress view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			// The poll notices on its next progress call and returns;
			// DoneMsg then ends the program.
			m.cancel.Store(true)
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-8, maxWidth)
		m.help.Width = msg.Width
		return m, nil

	case Msg:
		m.done, m.total = msg.Done, msg.Total
		return m, nil

	case DoneMsg:
		m.finished = true
		m.result, m.err = msg.Result, msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) percent() float64 {
	if m.total == 0 {
		if m.finished {
			return 1
		}
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// View renders the progress bar and the status line.
func (m Model) View() string {
	status := fmt.Sprintf("%d / %d messages", m.done, m.total)
	switch {
	case m.finished && m.err != nil:
		status = theme.ErrorStyle.Render("Poll failed: " + m.err.Error())
	case m.finished && m.result != nil && m.result.Cancelled:
		status = theme.WarningStyle.Render(fmt.Sprintf("Cancelled after %d new messages", m.result.New))
	case m.finished && m.result != nil:
		status = theme.SuccessStyle.Render(fmt.Sprintf("%d new messages, %d folder changes",
			m.result.New, m.result.Changes))
	case m.cancel.Load():
		status = theme.WarningStyle.Render("Cancelling...")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.HeaderStyle.Render(m.title),
		"",
		m.bar.ViewAs(m.percent()),
		status,
		"",
		theme.HelpStyle.Render(m.help.View(m.keys)),
	)
	return theme.PanelStyle.Render(content)
}

// Run shows the view while poll runs and returns the poll's outcome.
func Run(
	title string,
	poll func(progress mailsync.Progress) (*mailsync.PollResult, error),
	opts ...tea.ProgramOption,
) (*mailsync.PollResult, error) {
	m := New(title)
	p := tea.NewProgram(m, opts...)

	go func() {
		res, err := poll(m.Sink(p.Send))
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running progress view: %w", err)
	}
	return final.(Model).Result()
}
