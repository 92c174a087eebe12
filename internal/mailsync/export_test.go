package mailsync_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
)

func TestExportFolder(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)
	h.remote.deliver(inboxName, testMail("e1", "First"), 0)
	h.remote.deliver(inboxName, testMail("e2", "Second"), 0)
	h.poll(0)

	var buf bytes.Buffer
	n, err := h.engine.ExportFolder(h.ctx, testAccount, 0, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r := mbox.NewReader(&buf)
	var subjects []string
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		raw, err := io.ReadAll(mr)
		require.NoError(t, err)
		env, err := envelope.Parse(raw)
		require.NoError(t, err)
		subjects = append(subjects, env.Subject)
	}
	assert.ElementsMatch(t, []string{"First", "Second"}, subjects)
}

func TestExportFolder_Empty(t *testing.T) {
	h := newHarness(t, model.ProtocolIMAP)

	var buf bytes.Buffer
	n, err := h.engine.ExportFolder(h.ctx, testAccount, h.system(model.SystemTrash).ID, &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}
