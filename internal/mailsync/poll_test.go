package mailsync_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
)

func TestPoll_StoresNewMessagesOnce(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("a1", "Hello"), model.FlagSeen)

	res := h.poll(0)
	assert.Equal(t, 1, res.New)
	assert.False(t, res.Cancelled)

	again := h.poll(0)
	assert.Equal(t, 0, again.New)

	inbox := h.system(model.SystemInbox)
	ps := h.placements(inbox)
	require.Len(t, ps, 1)
	require.NotNil(t, ps[0].UID)
	assert.Equal(t, uint32(1), *ps[0].UID)
	assert.Equal(t, model.FlagSeen, ps[0].Flags)

	msg, err := h.store.GetMessage(h.ctx, ps[0].MessageID)
	require.NoError(t, err)
	assert.True(t, msg.Finalized())
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "alice@example.com", msg.Sender)

	parts, err := h.store.GetParts(h.ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0].Content, "Body of Hello")

	assert.Equal(t, 0, h.remote.open(), "connections must be closed")
}

func TestPoll_FetchesOnlyAboveLastUID(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("a1", "First"), 0)
	h.poll(0)

	h.remote.deliver(inboxName, testMail("a2", "Second"), 0)
	res := h.poll(0)
	assert.Equal(t, 1, res.New)

	ps := h.placements(h.system(model.SystemInbox))
	assert.Len(t, ps, 2)
}

func TestPoll_RefreshesRemoteFlagsAndExpunges(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("a1", "First"), 0)
	h.remote.deliver(inboxName, testMail("a2", "Second"), 0)
	h.poll(0)

	msgs := h.remote.messages(inboxName)
	msgs[0].flags = model.FlagFlagged
	h.remote.mu.Lock()
	h.remote.boxes[inboxName].msgs = msgs[:1]
	h.remote.mu.Unlock()

	h.poll(0)

	ps := h.placements(h.system(model.SystemInbox))
	require.Len(t, ps, 1)
	assert.Equal(t, model.FlagFlagged, ps[0].Flags)
}

func TestPoll_EpochChangeDiscardsPlacements(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("a1", "First"), 0)
	h.remote.deliver(inboxName, testMail("a2", "Second"), 0)
	h.poll(0)

	inbox := h.system(model.SystemInbox)
	before := h.placements(inbox)
	require.Len(t, before, 2)

	h.remote.renumber(inboxName)
	res := h.poll(0)
	assert.Equal(t, 2, res.New)

	inbox = h.system(model.SystemInbox)
	epoch, ok := inbox.Epoch()
	require.True(t, ok)
	assert.Equal(t, uint32(2), epoch)

	after := h.placements(inbox)
	require.Len(t, after, 2)
	for _, p := range after {
		require.NotNil(t, p.UID)
		assert.GreaterOrEqual(t, *p.UID, uint32(100), "placements use the new numbering")
	}

	// Stored messages survive; only placements are rebuilt.
	assert.ElementsMatch(t,
		[]int64{before[0].MessageID, before[1].MessageID},
		[]int64{after[0].MessageID, after[1].MessageID})
}

func TestPoll_SameMessageInTwoFoldersIsStoredOnce(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.boxes["INBOX/Archive"] = &fakeMailbox{epoch: 7, next: 1}
	raw := testMail("dup", "Twice")
	h.remote.deliver(inboxName, raw, 0)
	h.remote.deliver("INBOX/Archive", raw, 0)

	h.poll(0)
	archive := h.folder("INBOX/Archive")
	res := h.poll(archive.ID)
	assert.Equal(t, 1, res.New)

	inboxPs := h.placements(h.system(model.SystemInbox))
	archivePs := h.placements(archive)
	require.Len(t, inboxPs, 1)
	require.Len(t, archivePs, 1)
	assert.Equal(t, inboxPs[0].MessageID, archivePs[0].MessageID)
}

func TestPoll_ProgressCancelKeepsStoredMessages(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	for _, id := range []string{"a1", "a2", "a3"} {
		h.remote.deliver(inboxName, testMail(id, "Message "+id), 0)
	}

	var calls [][2]int
	res, err := h.engine.Poll(h.ctx, testAccount, 0, func(done, total int) bool {
		calls = append(calls, [2]int{done, total})
		return done < 1
	})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, [][2]int{{0, 3}, {1, 3}}, calls)
	assert.Len(t, h.placements(h.system(model.SystemInbox)), 1)

	// The next poll picks up where the cancelled one stopped.
	res = h.poll(0)
	assert.Equal(t, 2, res.New)
}

func TestPoll_DisconnectedFolderIsSkipped(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	out, err := h.engine.CreateFolder(h.ctx, testAccount, h.tree().Root.ID, "Notes", false)
	require.NoError(t, err)
	_, err = h.engine.DisconnectFolder(h.ctx, testAccount, out.Folder.ID)
	require.NoError(t, err)

	h.remote.deliver("Notes", testMail("n1", "Note"), 0)
	res := h.poll(out.Folder.ID)
	assert.Equal(t, 0, res.New)
}

func TestPoll_POP3PlacesKnownMessagesOnce(t *testing.T) {
	h := newHarness(t, model.ProtocolPOP3)
	raw := testMail("p1", "Popped")
	h.remote.deliver(inboxName, raw, 0)
	h.remote.deliver(inboxName, raw, 0)

	res := h.poll(0)
	assert.Equal(t, 1, res.New)

	inbox := h.system(model.SystemInbox)
	ps := h.placements(inbox)
	require.Len(t, ps, 1)
	assert.Nil(t, ps[0].UID)

	res = h.poll(0)
	assert.Equal(t, 0, res.New)
	assert.Len(t, h.placements(inbox), 1)
}

func TestPoll_POP3SelfSentMessageReachesInbox(t *testing.T) {
	h := newHarness(t, model.ProtocolPOP3)

	req := sendRequest("Note to self")
	req.To = []envelope.Address{{Address: "me@example.com"}}
	req.Bcc = nil
	_, err := h.engine.Send(h.ctx, req)
	require.NoError(t, err)

	sent := h.placements(h.system(model.SystemSent))
	require.Len(t, sent, 1)

	delivered := h.transport.messages()
	require.Len(t, delivered, 1)
	h.remote.deliver(inboxName, string(delivered[0].Raw), 0)

	res := h.poll(0)
	assert.Equal(t, 1, res.New)

	inbox := h.placements(h.system(model.SystemInbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, sent[0].MessageID, inbox[0].MessageID, "one stored message, two placements")
}

func TestPoll_FinalizesInterruptedMessage(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	raw := testMail("c1", "Interrupted")

	// A row left behind by a run that stopped before the body was stored.
	env, err := envelope.Parse([]byte(raw))
	require.NoError(t, err)
	id, err := h.store.InsertMessage(h.ctx, env.Message())
	require.NoError(t, err)

	h.remote.deliver(inboxName, raw, 0)
	res := h.poll(0)
	assert.Equal(t, 1, res.New)

	msg, err := h.store.GetMessage(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Finalized())

	ps := h.placements(h.system(model.SystemInbox))
	require.Len(t, ps, 1)
	assert.Equal(t, id, ps[0].MessageID)
}

func TestPoll_ConcurrentPollsOfOneAccount(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("a1", "Hello"), 0)

	const runs = 4
	var wg sync.WaitGroup
	results := make([]*mailsync.PollResult, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.engine.Poll(h.ctx, testAccount, 0, nil)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		total += results[i].New
	}
	assert.Equal(t, 1, total)
	assert.Len(t, h.placements(h.system(model.SystemInbox)), 1)
	assert.Zero(t, h.remote.open())
}

func TestPoll_ConcurrentAccountsShareStoredMessage(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	other := model.Account{
		ID:      "other",
		Name:    "Other",
		Address: "other@example.com",
		Store:   model.Endpoint{Protocol: model.ProtocolIMAP, Host: "mail.example.com", Username: "other"},
	}
	require.NoError(t, h.engine.InitAccount(h.ctx, other, nil))
	h.remote.deliver(inboxName, testMail("shared", "Team update"), 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{testAccount, other.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = h.engine.Poll(h.ctx, id, 0, nil)
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	otherTree, err := h.engine.ListFolders(h.ctx, other.ID)
	require.NoError(t, err)

	mine := h.placements(h.system(model.SystemInbox))
	theirs := h.placements(otherTree.System(model.SystemInbox))
	require.Len(t, mine, 1)
	require.Len(t, theirs, 1)
	assert.Equal(t, mine[0].MessageID, theirs[0].MessageID)
}

func TestPoll_UninitializedAccount(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)

	_, err := h.engine.Poll(h.ctx, "missing", 0, nil)
	require.Error(t, err)
}

func TestPoll_AccountWithoutStore(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	require.NoError(t, h.engine.InitAccount(h.ctx, model.Account{ID: "local", Name: "Local"}, nil))

	_, err := h.engine.Poll(h.ctx, "local", 0, nil)
	assert.ErrorIs(t, err, mailsync.ErrConfig)
}

func TestPollAll(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	require.NoError(t, h.engine.InitAccount(h.ctx, model.Account{ID: "local", Name: "Local"}, nil))
	h.remote.deliver(inboxName, testMail("a1", "Hello"), 0)

	out, err := h.engine.PollAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1, "accounts without a store are not polled")

	got := out[testAccount]
	require.NoError(t, got.Err)
	assert.Equal(t, 1, got.Result.New)
}
