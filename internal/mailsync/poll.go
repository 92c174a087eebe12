package mailsync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/remote"
)

// flagRefreshWindow is how many of the most recent placements have their
// flags re-read from the server on every poll.
const flagRefreshWindow = 100

// Progress is called before each fetched message is processed and once
// more when the batch is done. Returning false stops the batch; what was
// already stored is kept.
type Progress func(done, total int) bool

// PollResult summarizes one poll.
type PollResult struct {
	AccountID string
	Folder    string

	// New counts messages placed in the polled folder.
	New int

	// Changes counts folders created or dropped by reconciliation.
	Changes   int
	Cancelled bool
}

// Poll fetches new messages of one folder (the inbox when folderID is 0).
// Polling the inbox also reconciles the folder tree and runs the
// account's rules on every newly stored message.
func (e *Engine) Poll(
	ctx context.Context,
	accountID string,
	folderID int64,
	progress Progress,
) (*PollResult, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	f, err := sc.folder(folderID)
	if err != nil {
		return nil, err
	}
	res := &PollResult{AccountID: accountID, Folder: f.Name}

	if !sc.account.HasStore() {
		return res, fmt.Errorf("account %s has no store configured: %w", accountID, ErrConfig)
	}
	if !f.IsConnected() {
		return res, nil
	}
	sc.log = sc.log.With().Str("folder", f.Name).Logger()

	inbox := f.System == model.SystemInbox
	if inbox {
		res.Changes, err = sc.reconcile()
		if err != nil {
			return res, err
		}
	}

	ids, cancelled, err := sc.pollFolder(f, progress)
	res.New = len(ids)
	res.Cancelled = cancelled
	if err != nil {
		return res, err
	}

	if inbox && len(ids) > 0 {
		if err := sc.runRules(f, ids); err != nil {
			return res, err
		}
	}
	sc.purge()

	sc.log.Info().
		Int("new", res.New).
		Int("changes", res.Changes).
		Bool("cancelled", res.Cancelled).
		Msg("Poll complete")
	return res, nil
}

// PollOutcome is the result of polling one account in PollAll.
type PollOutcome struct {
	Result *PollResult
	Err    error
}

// PollAll polls the inbox of every account with a store configured, one
// goroutine per account, and waits for all of them.
func (e *Engine) PollAll(ctx context.Context) (map[string]PollOutcome, error) {
	accounts, err := e.store.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]PollOutcome, len(accounts))
	)
	for _, a := range accounts {
		if !a.HasStore() {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			res, err := e.Poll(ctx, id, 0, nil)
			if err != nil {
				e.log.Error().Err(err).Str("account", id).Msg("Poll failed")
			}

			mu.Lock()
			out[id] = PollOutcome{Result: res, Err: err}
			mu.Unlock()
		}(a.ID)
	}
	wg.Wait()

	return out, nil
}

// pollFolder stores the messages of f that are not yet known locally and
// returns the new placement ids in fetch order.
func (sc *syncContext) pollFolder(f *model.Folder, progress Progress) ([]int64, bool, error) {
	conn, err := sc.remote()
	if err != nil {
		return nil, false, err
	}
	path := sc.path(f)

	var msgs []remote.Message
	if conn.SupportsUID() {
		if err := sc.syncEpoch(conn, f, path); err != nil {
			return nil, false, err
		}
		if err := sc.refreshFlags(conn, f, path); err != nil {
			return nil, false, err
		}
		last, err := sc.e.store.MaxUID(sc.ctx, f.ID)
		if err != nil {
			return nil, false, err
		}
		msgs, err = conn.Fetch(sc.ctx, path, last+1, 0)
		if err != nil {
			return nil, false, err
		}
	} else {
		msgs, err = conn.Fetch(sc.ctx, path, 0, 0)
		if err != nil {
			return nil, false, err
		}
	}

	total := len(msgs)
	var ids []int64
	for i, m := range msgs {
		if progress != nil && !progress(i, total) {
			sc.log.Info().Int("done", i).Int("total", total).Msg("Poll cancelled")
			return ids, true, nil
		}
		if m.Envelope == nil {
			continue
		}

		env := *m.Envelope
		env.Flags = m.Flags
		var uid *uint32
		if conn.SupportsUID() {
			u := m.UID
			uid = &u
		}

		id, err := sc.storeMessage(f, &env, uid, m.Raw)
		if err != nil {
			return ids, false, fmt.Errorf("storing message %d of %s: %w", i+1, path, err)
		}
		if id != 0 {
			ids = append(ids, id)
		}
	}
	if progress != nil {
		progress(total, total)
	}
	return ids, false, nil
}

// syncEpoch compares the stored epoch with the remote one. A changed
// epoch means the remote renumbered the folder: every placement recorded
// for it is discarded and the new epoch is stored.
func (sc *syncContext) syncEpoch(conn remote.Conn, f *model.Folder, path string) error {
	current, err := conn.Epoch(sc.ctx, path)
	if err != nil {
		return err
	}
	stored, _ := f.Epoch()
	if stored == current {
		return nil
	}

	if stored != 0 {
		n, err := sc.e.store.DeleteFolderPlacements(sc.ctx, f.ID)
		if err != nil {
			return err
		}
		sc.log.Info().
			Uint32("old_epoch", stored).
			Uint32("epoch", current).
			Int64("discarded", n).
			Msg("Folder epoch changed")
	}

	state := model.Connected{Epoch: current}
	if err := sc.e.store.SetFolderState(sc.ctx, f.ID, state); err != nil {
		return err
	}
	f.State = state
	return nil
}

// refreshFlags re-reads the flags of the most recent placements and
// drops placements whose message was expunged remotely.
func (sc *syncContext) refreshFlags(conn remote.Conn, f *model.Folder, path string) error {
	recent, err := sc.e.store.RecentPlacements(sc.ctx, f.ID, flagRefreshWindow)
	if err != nil || len(recent) == 0 {
		return err
	}

	lo, hi := *recent[0].UID, *recent[0].UID
	for _, p := range recent {
		lo = min(lo, *p.UID)
		hi = max(hi, *p.UID)
	}

	flags, err := conn.FetchFlags(sc.ctx, path, lo, hi)
	if err != nil {
		return err
	}

	var gone []int64
	updated := 0
	for _, p := range recent {
		remoteFlags, ok := flags[*p.UID]
		if !ok {
			gone = append(gone, p.ID)
			continue
		}
		if remoteFlags == p.Flags {
			continue
		}
		if err := sc.e.store.SetFlags(sc.ctx, p.ID, remoteFlags); err != nil {
			return err
		}
		updated++
	}
	if len(gone) > 0 {
		if err := sc.e.store.DeletePlacements(sc.ctx, gone); err != nil {
			return err
		}
	}

	if updated > 0 || len(gone) > 0 {
		sc.log.Debug().Int("updated", updated).Int("expunged", len(gone)).Msg("Refreshed flags")
	}
	return nil
}

// resync polls each changed folder, without rules, so that moves made
// by rules show up with their remote numbers.
func (sc *syncContext) resync(changed map[int64]bool, skip int64) {
	ids := make([]int64, 0, len(changed))
	for id := range changed {
		if id != skip {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f := sc.tree.Find(id)
		if f == nil || !sc.mirrored(f) {
			continue
		}
		if _, _, err := sc.pollFolder(f, nil); err != nil {
			sc.log.Warn().Err(err).Str("target", f.Name).Msg("Resynchronizing folder")
		}
	}
}
