package mailsync

import (
	"context"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// SetFlag sets or clears flag on a placement and returns the new
// bitmask. For a mirrored folder the epoch is checked and the flag is
// stored remotely first; an epoch mismatch fails with ErrOutOfSync.
func (e *Engine) SetFlag(ctx context.Context, placementID int64, flag model.Flag, on bool) (model.Flag, error) {
	if flag == 0 || flag&^allFlags != 0 {
		return 0, fmt.Errorf("invalid flag %d", flag)
	}

	p, err := e.store.GetPlacement(ctx, placementID)
	if err != nil {
		return 0, err
	}
	folder, err := e.store.GetFolder(ctx, p.FolderID)
	if err != nil {
		return 0, err
	}

	sc, err := e.begin(ctx, folder.AccountID)
	if err != nil {
		return 0, err
	}
	defer sc.close()

	// Re-read under the account lock.
	p, err = e.store.GetPlacement(ctx, placementID)
	if err != nil {
		return 0, err
	}
	f, err := sc.folder(p.FolderID)
	if err != nil {
		return 0, err
	}

	if err := sc.setFlag(f, p, flag, on); err != nil {
		return 0, err
	}
	return p.Flags, nil
}

var allFlags = func() model.Flag {
	var all model.Flag
	for _, f := range model.AllFlags {
		all |= f
	}
	return all
}()

func (sc *syncContext) setFlag(f *model.Folder, p *model.Placement, flag model.Flag, on bool) error {
	if sc.mirrored(f) && p.UID != nil {
		if err := sc.checkEpoch(f); err != nil {
			return err
		}
		if err := sc.conn.StoreFlags(sc.ctx, sc.path(f), []uint32{*p.UID}, flag, on); err != nil {
			return err
		}
	}

	flags := p.Flags.Set(flag, on)
	if err := sc.e.store.SetFlags(sc.ctx, p.ID, flags); err != nil {
		return err
	}
	p.Flags = flags
	return nil
}
