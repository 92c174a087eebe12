package mailsync

import (
	"context"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// MoveMessages copies placements from one folder to another and, when
// del is set, removes them from the source. It returns the number of
// placements affected.
func (e *Engine) MoveMessages(
	ctx context.Context,
	accountID string,
	sourceID, targetID int64,
	placementIDs []int64,
	del bool,
) (int, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer sc.close()

	src, err := sc.folder(sourceID)
	if err != nil {
		return 0, err
	}
	dst, err := sc.folder(targetID)
	if err != nil {
		return 0, err
	}
	ps, err := sc.placementsIn(src, placementIDs)
	if err != nil {
		return 0, err
	}

	n, err := sc.transfer(src, dst, ps, del)
	if err != nil {
		return 0, err
	}
	sc.resync(map[int64]bool{dst.ID: true}, 0)
	sc.purge()
	return n, nil
}

// DeleteMessages moves placements to Trash, or purges them when purge is
// set, when the account has no Trash, or when they already are in Trash.
func (e *Engine) DeleteMessages(
	ctx context.Context,
	accountID string,
	folderID int64,
	placementIDs []int64,
	purge bool,
) (int, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer sc.close()

	src, err := sc.folder(folderID)
	if err != nil {
		return 0, err
	}
	ps, err := sc.placementsIn(src, placementIDs)
	if err != nil {
		return 0, err
	}

	trash := sc.tree.System(model.SystemTrash)
	if purge || trash == nil || trash.ID == src.ID {
		trash = nil
	}

	n, err := sc.transfer(src, trash, ps, true)
	if err != nil {
		return 0, err
	}
	if trash != nil {
		sc.resync(map[int64]bool{trash.ID: true}, 0)
	}
	sc.purge()
	return n, nil
}

func (sc *syncContext) placementsIn(f *model.Folder, ids []int64) ([]model.Placement, error) {
	all, err := sc.e.store.GetPlacementsByIDs(sc.ctx, ids)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.FolderID == f.ID {
			out = append(out, p)
		}
	}
	return out, nil
}

// transfer copies ps from src to dst and removes them from src when del
// is set. A nil dst with del purges. Remote copies are made with COPY
// when the source holds live remote copies and by re-uploading the
// stored content otherwise; a local target only gets placement rows.
// Placements in a mirrored target are created by the next poll of it.
func (sc *syncContext) transfer(src, dst *model.Folder, ps []model.Placement, del bool) (int, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	if dst == nil && !del {
		return 0, fmt.Errorf("copy needs a target folder")
	}
	if dst != nil && dst.ID == src.ID {
		return 0, nil
	}

	srcRemote := sc.mirrored(src)
	dstRemote := dst != nil && sc.mirrored(dst)

	var (
		ids     []int64
		uids    []uint32
		uploads []model.Placement
	)
	for _, p := range ps {
		ids = append(ids, p.ID)
		if srcRemote && p.UID != nil {
			uids = append(uids, *p.UID)
		} else {
			uploads = append(uploads, p)
		}
	}

	if len(uids) > 0 || dstRemote {
		if _, err := sc.remote(); err != nil {
			return 0, err
		}
	}
	if len(uids) > 0 {
		if err := sc.checkEpoch(src); err != nil {
			return 0, err
		}
	}

	if dst != nil {
		if dstRemote {
			if err := sc.conn.Copy(sc.ctx, sc.path(src), uids, sc.path(dst)); err != nil {
				return 0, err
			}
			for _, p := range uploads {
				if err := sc.upload(dst, p); err != nil {
					return 0, err
				}
			}
		} else if del {
			if err := sc.e.store.MovePlacements(sc.ctx, ids, dst.ID); err != nil {
				return 0, err
			}
		} else {
			if _, err := sc.e.store.CopyPlacements(sc.ctx, ids, dst.ID); err != nil {
				return 0, err
			}
		}
	}

	if del {
		if len(uids) > 0 {
			if err := sc.conn.StoreFlags(sc.ctx, sc.path(src), uids, model.FlagDeleted, true); err != nil {
				return 0, err
			}
			if err := sc.conn.Expunge(sc.ctx, sc.path(src)); err != nil {
				return 0, err
			}
		}
		if dst == nil || dstRemote {
			if err := sc.e.store.DeletePlacements(sc.ctx, ids); err != nil {
				return 0, err
			}
		}
	}

	target := "(purge)"
	if dst != nil {
		target = dst.Name
	}
	sc.log.Info().
		Str("source", src.Name).
		Str("target", target).
		Int("count", len(ps)).
		Bool("delete", del).
		Msg("Transferred messages")
	return len(ps), nil
}

// upload appends the stored raw content of p to the remote folder dst.
func (sc *syncContext) upload(dst *model.Folder, p model.Placement) error {
	msg, err := sc.e.store.GetMessage(sc.ctx, p.MessageID)
	if err != nil {
		return err
	}
	if !msg.Finalized() {
		return fmt.Errorf("message %d has no stored content", msg.ID)
	}
	raw, err := sc.e.blobs.Get(*msg.RawContent)
	if err != nil {
		return fmt.Errorf("reading content of message %d: %w", msg.ID, err)
	}
	return sc.conn.Append(sc.ctx, sc.path(dst), raw, p.Flags, msg.Date)
}
