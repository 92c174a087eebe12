package mailsync

import (
	"fmt"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// storeMessage records env in folder f and returns the new placement id,
// or 0 when the message was already placed there. It is idempotent: the
// message row is keyed by unique id, content extraction runs only until
// the row is finalized, and the placement is keyed by folder and uid.
//
// raw may be nil, in which case the content is fetched from the remote
// folder by uid when it is needed.
func (sc *syncContext) storeMessage(
	f *model.Folder,
	env *envelope.Envelope,
	uid *uint32,
	raw []byte,
) (int64, error) {
	e := sc.e
	row := env.Message()

	e.storeMu.Lock()
	msg, err := e.store.FindMessage(sc.ctx, row.UniqueID)
	if err == nil && msg == nil {
		row.ID, err = e.store.InsertMessage(sc.ctx, row)
		msg = &row
	}
	if err != nil {
		e.storeMu.Unlock()
		return 0, err
	}
	if msg.Finalized() {
		id, err := sc.placeLocked(msg.ID, f, env.Flags, uid)
		e.storeMu.Unlock()
		if err != nil || id == 0 {
			return 0, err
		}
		sc.correlate(f, row.UniqueID, id)
		return id, nil
	}
	e.storeMu.Unlock()

	// Body work happens outside the lock; FinalizeMessage only commits
	// for the first caller.
	if raw == nil {
		if uid == nil {
			return 0, fmt.Errorf("message %s has no content and no uid", row.UniqueID)
		}
		conn, err := sc.remote()
		if err != nil {
			return 0, err
		}
		raw, err = conn.FetchRaw(sc.ctx, sc.path(f), *uid)
		if err != nil {
			return 0, err
		}
	}
	content, err := sc.extract(env, raw)
	if err != nil {
		return 0, err
	}

	e.storeMu.Lock()
	if _, err := e.store.FinalizeMessage(sc.ctx, msg.ID, content); err != nil {
		e.storeMu.Unlock()
		return 0, err
	}
	id, err := sc.placeLocked(msg.ID, f, env.Flags, uid)
	e.storeMu.Unlock()
	if err != nil || id == 0 {
		return 0, err
	}

	sc.log.Debug().
		Str("folder", f.Name).
		Str("subject", env.Subject).
		Int64("message", msg.ID).
		Msg("Stored new message")

	sc.correlate(f, row.UniqueID, id)
	return id, nil
}

// placeLocked inserts a placement unless one exists. Callers hold storeMu.
func (sc *syncContext) placeLocked(
	messageID int64,
	f *model.Folder,
	flags model.Flag,
	uid *uint32,
) (int64, error) {
	has, err := sc.e.store.HasPlacement(sc.ctx, messageID, f.ID, uid)
	if err != nil || has {
		return 0, err
	}
	return sc.e.store.InsertPlacement(sc.ctx, model.Placement{
		MessageID: messageID,
		FolderID:  f.ID,
		Flags:     flags,
		UID:       uid,
	})
}

// extract writes raw content and attachments to the blob store and
// collects the relations persisted on finalize. A body that cannot be
// parsed is still finalized with its raw content.
func (sc *syncContext) extract(env *envelope.Envelope, raw []byte) (store.MessageContent, error) {
	key, err := sc.e.blobs.Put(raw)
	if err != nil {
		return store.MessageContent{}, fmt.Errorf("storing raw content: %w", err)
	}

	mc := store.MessageContent{
		RawKey:     key,
		Recipients: env.Recipients(),
	}

	content, err := envelope.ParseContent(raw)
	if err != nil {
		sc.log.Warn().Err(err).Str("subject", env.Subject).Msg("Parsing message body")
	}
	if content == nil {
		return mc, nil
	}

	mc.Parts = content.Parts
	for _, att := range content.Attachments {
		attKey, err := sc.e.blobs.Put(att.Data)
		if err != nil {
			return store.MessageContent{}, fmt.Errorf("storing attachment %q: %w", att.Name, err)
		}
		mc.Attachments = append(mc.Attachments, model.Attachment{
			BlobKey:     attKey,
			Name:        att.Name,
			ContentType: att.ContentType,
			Size:        int64(len(att.Data)),
		})
	}
	return mc, nil
}

// correlate links a stored reply or forward back to the placement it
// answers, if one is expected for this folder.
func (sc *syncContext) correlate(f *model.Folder, uniqueID string, placementID int64) {
	original, ok := sc.e.expect.take(f.ID, uniqueID)
	if !ok {
		return
	}
	if err := sc.e.store.SetReplied(sc.ctx, original, placementID); err != nil {
		sc.log.Warn().Err(err).Int64("placement", original).Msg("Linking reply to original")
	}
}
