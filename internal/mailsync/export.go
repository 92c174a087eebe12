package mailsync

import (
	"context"
	"fmt"
	"io"

	"github.com/emersion/go-mbox"
)

// ExportFolder writes the raw content of every message in a folder to w
// in mbox format and returns how many messages were written.
func (e *Engine) ExportFolder(ctx context.Context, accountID string, folderID int64, w io.Writer) (int, error) {
	sc, err := e.load(ctx, accountID)
	if err != nil {
		return 0, err
	}
	f, err := sc.folder(folderID)
	if err != nil {
		return 0, err
	}

	placements, err := e.store.GetPlacements(ctx, f.ID)
	if err != nil {
		return 0, err
	}

	mw := mbox.NewWriter(w)
	n := 0
	for _, p := range placements {
		msg, err := e.store.GetMessage(ctx, p.MessageID)
		if err != nil {
			return n, err
		}
		if !msg.Finalized() {
			continue
		}
		raw, err := e.blobs.Get(*msg.RawContent)
		if err != nil {
			return n, fmt.Errorf("reading content of message %d: %w", msg.ID, err)
		}

		from := msg.Sender
		if from == "" {
			from = "MAILER-DAEMON"
		}
		entry, err := mw.CreateMessage(from, msg.Date)
		if err != nil {
			return n, fmt.Errorf("creating mbox entry: %w", err)
		}
		if _, err := entry.Write(raw); err != nil {
			return n, fmt.Errorf("writing mbox entry: %w", err)
		}
		n++
	}

	if err := mw.Close(); err != nil {
		return n, fmt.Errorf("closing mbox writer: %w", err)
	}
	return n, nil
}
