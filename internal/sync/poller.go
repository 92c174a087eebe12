// Package sync drives the periodic background poll of every account.
package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/remote"
)

// SyncState represents the current state of an account's poll.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the poll state of a single account.
type SyncStatus struct {
	AccountID string
	State     SyncState
	LastSync  time.Time
	Error     error
}

// SyncResultMsg is a tea.Msg sent when a poll of one account completes.
type SyncResultMsg struct {
	AccountID string
	New       int
	Changes   int
	Error     error
	AuthError *AuthErrorMsg
}

// AuthErrorMsg is a tea.Msg sent when a store rejects the credentials.
type AuthErrorMsg struct {
	AccountID string
	Message   string
}

// Runner polls every account with a store configured.
type Runner interface {
	PollAll(ctx context.Context) (map[string]mailsync.PollOutcome, error)
}

const (
	// DefaultInterval is the fixed period between background polls.
	DefaultInterval = 5 * time.Minute

	// DefaultTimeout bounds a single round over all accounts.
	DefaultTimeout = 10 * time.Minute
)

// Poller triggers PollAll on a fixed interval and on demand.
type Poller struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	statuses  map[string]*SyncStatus
	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	mu        gosync.Mutex
	running   bool

	// ctx is cancelled by Stop; in-flight rounds derive from it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller. Zero durations fall back to the defaults.
func New(r Runner, interval, timeout time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		runner:    r,
		interval:  interval,
		timeout:   timeout,
		log:       log,
		statuses:  make(map[string]*SyncStatus),
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the polling goroutine and returns a tea.Cmd that waits
// for the first result.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running || p.ctx.Err() != nil {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.waitForResult()
}

// Run polls until ctx is done, without a Bubble Tea program attached.
// Results are logged. Cancelling ctx aborts the round in progress, and
// Run returns once it has wound down.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	if p.running || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
	defer p.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-p.resultCh:
			if res.AuthError != nil {
				p.log.Warn().Str("account", res.AccountID).Msg(res.AuthError.Message)
				continue
			}
			if res.Error != nil {
				p.log.Error().Err(res.Error).Str("account", res.AccountID).Msg("Background poll failed")
				continue
			}
			p.log.Info().
				Str("account", res.AccountID).
				Int("new", res.New).
				Int("changes", res.Changes).
				Msg("Background poll complete")
		}
	}
}

// Stop cancels the round in progress and waits for the polling
// goroutine to exit. A stopped Poller cannot be started again.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

// RefreshAll triggers an immediate poll of every account.
func (p *Poller) RefreshAll() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A poll is already pending.
	}
	return nil
}

// GetStatuses returns the poll status of every account seen so far,
// ordered by account id.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].AccountID < statuses[j].AccountID })
	return statuses
}

func (p *Poller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial poll immediately
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		case <-p.triggerCh:
			p.pollAll()
		}
	}
}

// pollAll runs one round and sends a SyncResultMsg per account.
func (p *Poller) pollAll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	p.markRunning()

	outcomes, err := p.runner.PollAll(ctx)
	if p.ctx.Err() != nil {
		// Stopped mid-round; nobody is listening any more.
		return
	}
	if err != nil {
		p.log.Error().Err(err).Msg("Listing accounts to poll")
		p.sendResult(SyncResultMsg{Error: err})
		return
	}

	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		out := outcomes[id]
		if out.Err != nil {
			p.setStatus(id, SyncError, out.Err)

			// Detect auth errors and emit a specific message.
			if remote.IsAuthError(out.Err) {
				p.sendResult(SyncResultMsg{
					AccountID: id,
					Error:     out.Err,
					AuthError: &AuthErrorMsg{
						AccountID: id,
						Message: fmt.Sprintf(
							"%s: login rejected. Run 'mailsync account set-password %s'.",
							id, id,
						),
					},
				})
				continue
			}

			p.sendResult(SyncResultMsg{AccountID: id, Error: out.Err})
			continue
		}

		p.setStatus(id, SyncIdle, nil)
		msg := SyncResultMsg{AccountID: id}
		if out.Result != nil {
			msg.New = out.Result.New
			msg.Changes = out.Result.Changes
		}
		p.sendResult(msg)
	}
}

// markRunning flags every account seen so far as being polled.
func (p *Poller) markRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.statuses {
		s.State = SyncRunning
	}
}

// setStatus updates the poll status of an account.
func (p *Poller) setStatus(accountID string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[accountID]
	if !ok {
		status = &SyncStatus{AccountID: accountID}
		p.statuses[accountID] = status
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next poll result.
// Call it after handling a SyncResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
