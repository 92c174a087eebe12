package mailsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

func TestInitAccount_CreatesSystemFolders(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	tree := h.tree()

	inbox := tree.System(model.SystemInbox)
	require.NotNil(t, inbox)
	assert.Equal(t, tree.Root.ID, *inbox.ParentID)
	assert.True(t, inbox.IsConnected())

	for _, kind := range []model.SystemFolder{model.SystemSent, model.SystemDrafts, model.SystemTrash} {
		f := tree.System(kind)
		require.NotNil(t, f, "system folder %s", kind)
		assert.Equal(t, inbox.ID, *f.ParentID)
		assert.True(t, f.IsConnected())
	}
	assert.Equal(t, "INBOX/Sent Messages", tree.Path(tree.System(model.SystemSent), "/"))

	// A second run keeps the existing tree.
	require.NoError(t, h.engine.InitAccount(h.ctx, model.Account{
		ID:    testAccount,
		Store: model.Endpoint{Protocol: model.ProtocolIMAP, Host: "mail.example.com"},
	}, nil))
	assert.Len(t, h.tree().Subtree(h.tree().Root), 5)
}

func TestInitAccount_POP3MirrorsOnlyInbox(t *testing.T) {
	h := newHarness(t, model.ProtocolPOP3)

	assert.True(t, h.system(model.SystemInbox).IsConnected())
	assert.False(t, h.system(model.SystemSent).IsConnected())
	assert.False(t, h.system(model.SystemTrash).IsConnected())
}

func TestInitAccount_RejectsUnknownProtocol(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)

	err := h.engine.InitAccount(h.ctx, model.Account{
		ID:    "bad",
		Store: model.Endpoint{Protocol: "nntp", Host: "news.example.com"},
	}, nil)
	assert.ErrorIs(t, err, mailsync.ErrConfig)
}

func TestReconcile_IsSymmetric(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.boxes["Projects"] = &fakeMailbox{epoch: 1, next: 1}
	h.remote.boxes["Projects/2026"] = &fakeMailbox{epoch: 1, next: 1}

	changes, err := h.engine.Reconcile(h.ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, 2, changes)
	assert.True(t, h.folder("Projects/2026").IsConnected())

	notes, err := h.engine.CreateFolder(h.ctx, testAccount, h.tree().Root.ID, "Notes", false)
	require.NoError(t, err)
	_, err = h.engine.DisconnectFolder(h.ctx, testAccount, notes.Folder.ID)
	require.NoError(t, err)

	h.remote.mu.Lock()
	delete(h.remote.boxes, "Projects/2026")
	delete(h.remote.boxes, "Notes")
	delete(h.remote.boxes, draftsName)
	h.remote.mu.Unlock()

	changes, err = h.engine.Reconcile(h.ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, 1, changes)

	tree := h.tree()
	projects := tree.Root.Child("Projects")
	require.NotNil(t, projects)
	assert.Nil(t, projects.Child("2026"), "connected folder missing remotely is dropped")
	assert.NotNil(t, tree.Root.Child("Notes"), "disconnected folder is untouched")
	assert.NotNil(t, tree.System(model.SystemDrafts), "system folders are never dropped")

	// Nothing left to do.
	changes, err = h.engine.Reconcile(h.ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, 0, changes)
}

func TestCreateFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	inbox := h.system(model.SystemInbox)

	out, err := h.engine.CreateFolder(h.ctx, testAccount, inbox.ID, "Archive", false)
	require.NoError(t, err)
	assert.True(t, out.Folder.IsConnected())
	assert.Contains(t, h.remote.boxes, "INBOX/Archive")

	_, err = h.engine.CreateFolder(h.ctx, testAccount, inbox.ID, "Archive", false)
	assert.ErrorIs(t, err, mailsync.ErrFolderExists)

	again, err := h.engine.CreateFolder(h.ctx, testAccount, inbox.ID, "Archive", true)
	require.NoError(t, err)
	assert.Equal(t, out.Folder.ID, again.Folder.ID)

	_, err = h.engine.CreateFolder(h.ctx, testAccount, inbox.ID, "a/b", false)
	assert.Error(t, err, "names must not contain the separator")
}

func TestCreateFolder_AcceptsExistingRemote(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.boxes["Receipts"] = &fakeMailbox{epoch: 1, next: 1}
	root := h.tree().Root.ID

	_, err := h.engine.CreateFolder(h.ctx, testAccount, root, "Receipts", false)
	assert.ErrorIs(t, err, mailsync.ErrFolderExists)

	out, err := h.engine.CreateFolder(h.ctx, testAccount, root, "Receipts", true)
	require.NoError(t, err)
	assert.True(t, out.Folder.IsConnected())
	assert.False(t, h.remote.called("create"))
}

func TestCreateFolder_BelowDisconnectedParentStaysLocal(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	root := h.tree().Root.ID

	parent, err := h.engine.CreateFolder(h.ctx, testAccount, root, "Local", false)
	require.NoError(t, err)
	_, err = h.engine.DisconnectFolder(h.ctx, testAccount, parent.Folder.ID)
	require.NoError(t, err)

	child, err := h.engine.CreateFolder(h.ctx, testAccount, parent.Folder.ID, "Child", false)
	require.NoError(t, err)
	assert.False(t, child.Folder.IsConnected())
	assert.NotContains(t, h.remote.boxes, "Local/Child")
}

func TestRenameFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	out, err := h.engine.CreateFolder(h.ctx, testAccount, h.tree().Root.ID, "Old", false)
	require.NoError(t, err)

	renamed, err := h.engine.RenameFolder(h.ctx, testAccount, out.Folder.ID, "New")
	require.NoError(t, err)
	assert.Equal(t, "New", renamed.Folder.Name)
	assert.NotContains(t, h.remote.boxes, "Old")
	assert.Contains(t, h.remote.boxes, "New")
	assert.NotNil(t, h.tree().Root.Child("New"))

	_, err = h.engine.RenameFolder(h.ctx, testAccount, h.system(model.SystemSent).ID, "Outbox")
	assert.Error(t, err, "system folders cannot be renamed")

	_, err = h.engine.RenameFolder(h.ctx, testAccount, out.Folder.ID, "INBOX")
	assert.ErrorIs(t, err, mailsync.ErrFolderExists)
}

func TestRenameFolder_RemoteFailureLeavesLocalUnchanged(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	out, err := h.engine.CreateFolder(h.ctx, testAccount, h.tree().Root.ID, "Old", false)
	require.NoError(t, err)

	// The remote folder vanished behind our back.
	h.remote.mu.Lock()
	delete(h.remote.boxes, "Old")
	h.remote.mu.Unlock()

	_, err = h.engine.RenameFolder(h.ctx, testAccount, out.Folder.ID, "New")
	require.Error(t, err)
	assert.NotNil(t, h.tree().Root.Child("Old"))
}

func TestDropFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	root := h.tree().Root.ID
	parent, err := h.engine.CreateFolder(h.ctx, testAccount, root, "Projects", false)
	require.NoError(t, err)
	_, err = h.engine.CreateFolder(h.ctx, testAccount, parent.Folder.ID, "2026", false)
	require.NoError(t, err)

	h.remote.deliver("Projects", testMail("p1", "Plan"), 0)
	_, err = h.engine.Poll(h.ctx, testAccount, parent.Folder.ID, nil)
	require.NoError(t, err)

	_, err = h.engine.DropFolder(h.ctx, testAccount, parent.Folder.ID)
	require.NoError(t, err)

	assert.Nil(t, h.tree().Root.Child("Projects"))
	assert.NotContains(t, h.remote.boxes, "Projects")
	assert.NotContains(t, h.remote.boxes, "Projects/2026")

	// The only placement went with the folder, so the message is purged.
	env, err := envelope.Parse([]byte(testMail("p1", "Plan")))
	require.NoError(t, err)
	msg, err := h.store.FindMessage(h.ctx, env.UniqueID())
	require.NoError(t, err)
	assert.Nil(t, msg)

	_, err = h.engine.DropFolder(h.ctx, testAccount, h.system(model.SystemTrash).ID)
	assert.Error(t, err, "system folders cannot be dropped")
}

func TestDisconnectFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	parent, err := h.engine.CreateFolder(h.ctx, testAccount, h.tree().Root.ID, "Projects", false)
	require.NoError(t, err)
	_, err = h.engine.CreateFolder(h.ctx, testAccount, parent.Folder.ID, "2026", false)
	require.NoError(t, err)

	h.remote.deliver("Projects", testMail("p1", "Plan"), 0)
	_, err = h.engine.Poll(h.ctx, testAccount, parent.Folder.ID, nil)
	require.NoError(t, err)

	out, err := h.engine.DisconnectFolder(h.ctx, testAccount, parent.Folder.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Disconnected{LastEpoch: 1}, out.Folder.State)

	projects := h.folder("Projects")
	assert.False(t, projects.IsConnected())
	assert.False(t, h.folder("Projects/2026").IsConnected())

	ps := h.placements(projects)
	require.Len(t, ps, 1)
	assert.Nil(t, ps[0].UID, "remote numbers are cleared")

	// Remote data is untouched and local renames stay local.
	_, err = h.engine.RenameFolder(h.ctx, testAccount, projects.ID, "Old Projects")
	require.NoError(t, err)
	assert.Contains(t, h.remote.boxes, "Projects")
	assert.False(t, h.remote.called("rename"))
}

func TestCreateFolder_UnknownParent(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)

	_, err := h.engine.CreateFolder(h.ctx, testAccount, 9999, "Orphan", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, h.tree().Root.Child("Orphan"))
	assert.False(t, h.remote.called("create"))
}

func TestSystemFolders_CreatedOnServerWithOnlyInbox(t *testing.T) {
	h := newHarnessWith(t, model.ProtocolIMAP, newFakeRemote(true, inboxName))
	h.remote.deliver(inboxName, testMail("a1", "Hello"), 0)

	res := h.poll(0)
	assert.Equal(t, 1, res.New)
	for _, name := range []string{sentName, draftsName, trashName} {
		assert.Contains(t, h.remote.boxes, name)
	}
	assert.True(t, h.remote.called("subscribe"))

	inbox := h.system(model.SystemInbox)
	ps := h.placements(inbox)
	require.Len(t, ps, 1)

	n, err := h.engine.DeleteMessages(h.ctx, testAccount, inbox.ID, []int64{ps[0].ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	trash := h.placements(h.system(model.SystemTrash))
	require.Len(t, trash, 1)
	assert.NotNil(t, trash[0].UID)

	_, err = h.engine.Send(h.ctx, sendRequest("Hello back"))
	require.NoError(t, err)
	sent := h.placements(h.system(model.SystemSent))
	require.Len(t, sent, 1)
	assert.NotNil(t, sent[0].UID, "the sent copy lives on the server")

	res, err = h.engine.Poll(h.ctx, testAccount, h.system(model.SystemSent).ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
}
