package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
)

func testTree(t *testing.T) *model.FolderTree {
	t.Helper()
	root, inbox, archive := int64(1), int64(2), int64(3)
	tree, err := model.BuildTree([]model.Folder{
		{ID: root, AccountID: "a", State: model.Disconnected{}},
		{ID: inbox, AccountID: "a", ParentID: &root, Name: "INBOX", System: model.SystemInbox, State: model.Connected{}},
		{ID: archive, AccountID: "a", ParentID: &inbox, Name: "Archive", State: model.Connected{}},
	})
	require.NoError(t, err)
	return tree
}

func TestResolveFolder(t *testing.T) {
	tree := testTree(t)

	f, err := resolveFolder(tree, "")
	require.NoError(t, err)
	assert.Equal(t, "INBOX", f.Name)

	f, err = resolveFolder(tree, "/INBOX/Archive/")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ID)

	_, err = resolveFolder(tree, "INBOX/Missing")
	assert.Error(t, err)
}

func TestParseAddressList(t *testing.T) {
	got := parseAddressList(" bob@example.com, ,carol@example.com ")
	assert.Equal(t, []envelope.Address{
		{Address: "bob@example.com"},
		{Address: "carol@example.com"},
	}, got)

	assert.Empty(t, parseAddressList(""))
}

func TestCredentials_FromConfig(t *testing.T) {
	a := &app{cfg: &model.AppConfig{Accounts: []model.AccountConfig{{
		ID:        "work",
		Store:     model.Endpoint{Protocol: model.ProtocolIMAP, Host: "imap.example.com", Password: "s3cret"},
		Transport: model.Endpoint{Protocol: model.ProtocolSMTP, Host: "smtp.example.com", Password: "t0ken"},
	}}}}

	acc := a.cfg.Accounts[0].Account()
	acc.Store.Password, acc.Transport.Password = "", ""
	require.NoError(t, a.credentials(&acc))
	assert.Equal(t, "s3cret", acc.Store.Password)
	assert.Equal(t, "t0ken", acc.Transport.Password)
}

func TestNewLogger_Level(t *testing.T) {
	assert.Equal(t, "warn", newLogger("WARN", false).GetLevel().String())
	assert.Equal(t, "debug", newLogger("warn", true).GetLevel().String())
	assert.Equal(t, "info", newLogger("bogus", false).GetLevel().String())
}
