package mailsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
)

func TestSetFlag_RoundTrip(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	p := h.pollOne("f1", "Flag me")

	flags, err := h.engine.SetFlag(h.ctx, p.ID, model.FlagSeen, true)
	require.NoError(t, err)
	assert.Equal(t, model.FlagSeen, flags)

	flags, err = h.engine.SetFlag(h.ctx, p.ID, model.FlagFlagged, true)
	require.NoError(t, err)
	assert.Equal(t, model.FlagSeen|model.FlagFlagged, flags)

	flags, err = h.engine.SetFlag(h.ctx, p.ID, model.FlagSeen, false)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, flags)

	stored, err := h.store.GetPlacement(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, stored.Flags)
	assert.Equal(t, model.FlagFlagged, h.remote.messages(inboxName)[0].flags)

	// A later poll agrees with what was set.
	h.poll(0)
	stored, err = h.store.GetPlacement(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, stored.Flags)
}

func TestSetFlag_OutOfSync(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	p := h.pollOne("f1", "Stale")
	h.remote.renumber(inboxName)

	_, err := h.engine.SetFlag(h.ctx, p.ID, model.FlagSeen, true)
	assert.ErrorIs(t, err, mailsync.ErrOutOfSync)

	stored, err := h.store.GetPlacement(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Flag(0), stored.Flags)
	assert.Equal(t, model.Flag(0), h.remote.messages(inboxName)[0].flags)
}

func TestSetFlag_LocalFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolPOP3)
	h.remote.deliver(inboxName, testMail("f1", "Local"), 0)
	h.poll(0)
	ps := h.placements(h.system(model.SystemInbox))
	require.Len(t, ps, 1)

	flags, err := h.engine.SetFlag(h.ctx, ps[0].ID, model.FlagUser, true)
	require.NoError(t, err)
	assert.Equal(t, model.FlagUser, flags)
	assert.False(t, h.remote.called("store"))
}

func TestSetFlag_InvalidFlag(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	p := h.pollOne("f1", "Whatever")

	_, err := h.engine.SetFlag(h.ctx, p.ID, 0, true)
	assert.Error(t, err)

	_, err = h.engine.SetFlag(h.ctx, p.ID, model.Flag(1<<10), true)
	assert.Error(t, err)
}
