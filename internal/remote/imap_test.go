package remote_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/remote"
)

const (
	testUser = "testuser"
	testPass = "testpass"
)

const testMail = "MIME-Version: 1.0\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <q1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n"

const otherMail = "MIME-Version: 1.0\r\n" +
	"From: carol@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Lunch\r\n" +
	"Date: Tue, 11 Feb 2026 12:00:00 +0000\r\n" +
	"Message-Id: <lunch@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Noon?\r\n"

// newTestIMAPServer starts an in-memory IMAP server with an empty INBOX.
func newTestIMAPServer(t *testing.T) model.Endpoint {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	require.NoError(t, user.Create("INBOX", nil))
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return endpointFor(t, model.ProtocolIMAP, ln.Addr().String())
}

func endpointFor(t *testing.T, protocol, addr string) model.Endpoint {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return model.Endpoint{
		Protocol: protocol,
		Host:     host,
		Port:     port,
		Username: testUser,
		Password: testPass,
	}
}

func dialIMAP(t *testing.T, ep model.Endpoint) *remote.IMAPConn {
	t.Helper()

	conn, err := remote.DialIMAP(context.Background(), ep)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestIMAPLoginRejected(t *testing.T) {
	ep := newTestIMAPServer(t)
	ep.Password = "wrong"

	_, err := remote.DialIMAP(context.Background(), ep)
	require.Error(t, err)
	assert.True(t, remote.IsAuthError(err))
}

func TestIMAPFolderOperations(t *testing.T) {
	ctx := context.Background()
	conn := dialIMAP(t, newTestIMAPServer(t))

	sep, err := conn.Separator(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", sep)

	require.NoError(t, conn.Create(ctx, "INBOX/Projects"))
	require.NoError(t, conn.Subscribe(ctx, "INBOX/Projects"))
	require.NoError(t, conn.Create(ctx, "Archive"))
	require.NoError(t, conn.Rename(ctx, "Archive", "Old"))

	boxes, err := conn.List(ctx)
	require.NoError(t, err)

	var names []string
	for _, b := range boxes {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"INBOX", "INBOX/Projects", "Old"}, names)

	require.NoError(t, conn.Delete(ctx, "Old"))
	boxes, err = conn.List(ctx)
	require.NoError(t, err)
	assert.Len(t, boxes, 2)
}

func TestIMAPAppendAndFetch(t *testing.T) {
	ctx := context.Background()
	conn := dialIMAP(t, newTestIMAPServer(t))

	epoch, err := conn.Epoch(ctx, "INBOX")
	require.NoError(t, err)
	assert.NotZero(t, epoch)

	msgs, err := conn.Fetch(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "empty folder")

	date := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Append(ctx, "INBOX", []byte(testMail), model.FlagSeen, date))
	require.NoError(t, conn.Append(ctx, "INBOX", []byte(otherMail), 0, date))

	msgs, err = conn.Fetch(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Less(t, first.UID, msgs[1].UID)
	assert.True(t, first.Flags.Has(model.FlagSeen))
	assert.Equal(t, "Quarterly numbers", first.Envelope.Subject)
	assert.Equal(t, "alice@example.com", first.Envelope.Sender())
	assert.Equal(t, "q1@example.com", first.Envelope.MessageID)
	require.Len(t, first.Envelope.To, 1)
	assert.Equal(t, "bob@example.com", first.Envelope.To[0].Address)
	assert.Nil(t, first.Raw)

	// The range above the last UID still returns the last message from
	// the server; it must be filtered out.
	msgs, err = conn.Fetch(ctx, "INBOX", msgs[1].UID+1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	raw, err := conn.FetchRaw(ctx, "INBOX", first.UID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "See attached.")
}

func TestIMAPFlagsCopyExpunge(t *testing.T) {
	ctx := context.Background()
	conn := dialIMAP(t, newTestIMAPServer(t))

	require.NoError(t, conn.Create(ctx, "Archive"))
	require.NoError(t, conn.Append(ctx, "INBOX", []byte(testMail), 0, time.Now()))

	msgs, err := conn.Fetch(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	uid := msgs[0].UID

	require.NoError(t, conn.StoreFlags(ctx, "INBOX", []uint32{uid}, model.FlagFlagged|model.FlagSeen, true))
	flags, err := conn.FetchFlags(ctx, "INBOX", uid, uid)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged|model.FlagSeen, flags[uid])

	require.NoError(t, conn.StoreFlags(ctx, "INBOX", []uint32{uid}, model.FlagFlagged, false))
	flags, err = conn.FetchFlags(ctx, "INBOX", uid, uid)
	require.NoError(t, err)
	assert.Equal(t, model.FlagSeen, flags[uid])

	require.NoError(t, conn.Copy(ctx, "INBOX", []uint32{uid}, "Archive"))
	archived, err := conn.Fetch(ctx, "Archive", 1, 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "Quarterly numbers", archived[0].Envelope.Subject)

	require.NoError(t, conn.StoreFlags(ctx, "INBOX", []uint32{uid}, model.FlagDeleted, true))
	require.NoError(t, conn.Expunge(ctx, "INBOX"))

	msgs, err = conn.Fetch(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestIMAPCancelledContext(t *testing.T) {
	conn := dialIMAP(t, newTestIMAPServer(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
