package mailsync_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/blob"
	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
	"github.com/nhle/mailsync/internal/remote"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/testutil"
)

type fakeMessage struct {
	uid   uint32
	flags model.Flag
	raw   []byte
}

type fakeMailbox struct {
	epoch uint32
	next  uint32
	msgs  []*fakeMessage
}

// fakeRemote is an in-memory mail store shared by every connection
// dialed from it.
type fakeRemote struct {
	mu      sync.Mutex
	uidMode bool
	boxes   map[string]*fakeMailbox

	dials  int
	closes int
	calls  []string
}

func newFakeRemote(uidMode bool, names ...string) *fakeRemote {
	r := &fakeRemote{uidMode: uidMode, boxes: make(map[string]*fakeMailbox)}
	for _, n := range names {
		r.boxes[n] = &fakeMailbox{epoch: 1, next: 1}
	}
	return r
}

func (r *fakeRemote) dial(_ context.Context, _ model.Endpoint) (remote.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	return &fakeConn{r: r}, nil
}

// deliver puts raw into a mailbox as if it arrived from outside.
func (r *fakeRemote) deliver(mailbox, raw string, flags model.Flag) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(r.boxes[mailbox], []byte(raw), flags)
}

func (r *fakeRemote) add(box *fakeMailbox, raw []byte, flags model.Flag) uint32 {
	uid := box.next
	box.next++
	box.msgs = append(box.msgs, &fakeMessage{uid: uid, flags: flags, raw: raw})
	return uid
}

// renumber resets a mailbox's numbering space under a new epoch.
func (r *fakeRemote) renumber(mailbox string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	box := r.boxes[mailbox]
	box.epoch++
	box.next = 100
	for _, m := range box.msgs {
		m.uid = box.next
		box.next++
	}
}

func (r *fakeRemote) messages(mailbox string) []*fakeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeMessage(nil), r.boxes[mailbox].msgs...)
}

func (r *fakeRemote) called(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (r *fakeRemote) open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials - r.closes
}

type fakeConn struct {
	r *fakeRemote
}

func (c *fakeConn) box(name string) (*fakeMailbox, error) {
	b, ok := c.r.boxes[name]
	if !ok {
		return nil, fmt.Errorf("no mailbox %q", name)
	}
	return b, nil
}

func (c *fakeConn) record(op string) {
	c.r.calls = append(c.r.calls, op)
}

func (c *fakeConn) SupportsUID() bool { return c.r.uidMode }

func (c *fakeConn) Separator(context.Context) (string, error) { return "/", nil }

func (c *fakeConn) List(context.Context) ([]remote.Mailbox, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	var out []remote.Mailbox
	for name := range c.r.boxes {
		out = append(out, remote.Mailbox{Name: name, Delim: "/"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *fakeConn) Epoch(_ context.Context, mailbox string) (uint32, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	b, err := c.box(mailbox)
	if err != nil {
		return 0, err
	}
	if !c.r.uidMode {
		return 0, nil
	}
	return b.epoch, nil
}

func (c *fakeConn) Fetch(_ context.Context, mailbox string, lo, hi uint32) ([]remote.Message, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	b, err := c.box(mailbox)
	if err != nil {
		return nil, err
	}

	var out []remote.Message
	for _, m := range b.msgs {
		if c.r.uidMode && (m.uid < lo || (hi != 0 && m.uid > hi)) {
			continue
		}
		env, err := envelope.Parse(m.raw)
		if err != nil {
			return nil, err
		}
		msg := remote.Message{Flags: m.flags, Envelope: env}
		if c.r.uidMode {
			msg.UID = m.uid
		} else {
			msg.Raw = m.raw
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *fakeConn) FetchFlags(_ context.Context, mailbox string, lo, hi uint32) (map[uint32]model.Flag, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	b, err := c.box(mailbox)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]model.Flag)
	for _, m := range b.msgs {
		if m.uid >= lo && m.uid <= hi {
			out[m.uid] = m.flags
		}
	}
	return out, nil
}

func (c *fakeConn) FetchRaw(_ context.Context, mailbox string, uid uint32) ([]byte, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	b, err := c.box(mailbox)
	if err != nil {
		return nil, err
	}
	for _, m := range b.msgs {
		if m.uid == uid {
			return m.raw, nil
		}
	}
	return nil, fmt.Errorf("no message %d in %s", uid, mailbox)
}

func (c *fakeConn) Create(_ context.Context, mailbox string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("create")
	if _, ok := c.r.boxes[mailbox]; ok {
		return fmt.Errorf("mailbox %q exists", mailbox)
	}
	c.r.boxes[mailbox] = &fakeMailbox{epoch: 1, next: 1}
	return nil
}

func (c *fakeConn) Delete(_ context.Context, mailbox string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("delete")
	delete(c.r.boxes, mailbox)
	return nil
}

func (c *fakeConn) Rename(_ context.Context, mailbox, newName string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("rename")
	b, err := c.box(mailbox)
	if err != nil {
		return err
	}
	delete(c.r.boxes, mailbox)
	c.r.boxes[newName] = b
	return nil
}

func (c *fakeConn) Subscribe(context.Context, string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.record("subscribe")
	return nil
}

func (c *fakeConn) Copy(_ context.Context, mailbox string, uids []uint32, dest string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	if len(uids) == 0 {
		return nil
	}
	c.record("copy")
	src, err := c.box(mailbox)
	if err != nil {
		return err
	}
	dst, err := c.box(dest)
	if err != nil {
		return err
	}
	for _, m := range src.msgs {
		for _, u := range uids {
			if m.uid == u {
				c.r.add(dst, m.raw, m.flags)
			}
		}
	}
	return nil
}

func (c *fakeConn) StoreFlags(_ context.Context, mailbox string, uids []uint32, flags model.Flag, on bool) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("store")
	b, err := c.box(mailbox)
	if err != nil {
		return err
	}
	for _, m := range b.msgs {
		for _, u := range uids {
			if m.uid == u {
				m.flags = m.flags.Set(flags, on)
			}
		}
	}
	return nil
}

func (c *fakeConn) Expunge(_ context.Context, mailbox string) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("expunge")
	b, err := c.box(mailbox)
	if err != nil {
		return err
	}
	kept := b.msgs[:0]
	for _, m := range b.msgs {
		if !m.flags.Has(model.FlagDeleted) {
			kept = append(kept, m)
		}
	}
	b.msgs = kept
	return nil
}

func (c *fakeConn) Append(_ context.Context, mailbox string, raw []byte, flags model.Flag, _ time.Time) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	c.record("append")
	b, err := c.box(mailbox)
	if err != nil {
		return err
	}
	c.r.add(b, raw, flags)
	return nil
}

func (c *fakeConn) Close() error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.closes++
	return nil
}

// fakeTransport records delivered messages.
type fakeTransport struct {
	mu   sync.Mutex
	sent []*outbound.Message
	err  error
}

func (t *fakeTransport) Send(_ context.Context, _ string, msg *outbound.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) messages() []*outbound.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*outbound.Message(nil), t.sent...)
}

var errDeliveryFailed = errors.New("delivery failed")

const (
	testAccount = "acct"

	inboxName  = "INBOX"
	sentName   = "INBOX/Sent Messages"
	draftsName = "INBOX/Drafts"
	trashName  = "INBOX/Deleted Messages"
)

type harness struct {
	t         *testing.T
	ctx       context.Context
	engine    *mailsync.Engine
	store     *store.SQLiteStore
	remote    *fakeRemote
	transport *fakeTransport
}

func newHarness(t *testing.T, protocol string, rules ...model.Rule) *harness {
	t.Helper()

	uidMode := protocol == model.ProtocolIMAP
	names := []string{inboxName}
	if uidMode {
		names = append(names, sentName, draftsName, trashName)
	}
	return newHarnessWith(t, protocol, newFakeRemote(uidMode, names...), rules...)
}

// newHarnessWith runs the engine against a prepared remote.
func newHarnessWith(t *testing.T, protocol string, r *fakeRemote, rules ...model.Rule) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     testutil.NewTestStore(t),
		remote:    r,
		transport: &fakeTransport{},
	}
	h.engine = mailsync.New(mailsync.Options{
		Store:     h.store,
		Blobs:     blob.NewMemory(),
		Dial:      h.remote.dial,
		Transport: func(model.Endpoint) outbound.Transport { return h.transport },
		Logger:    zerolog.Nop(),
	})

	account := model.Account{
		ID:      testAccount,
		Name:    "Test",
		Address: "me@example.com",
		Store: model.Endpoint{
			Protocol: protocol,
			Host:     "mail.example.com",
			Username: "me",
		},
		Transport: model.Endpoint{
			Protocol: model.ProtocolSMTP,
			Host:     "smtp.example.com",
			Username: "me",
		},
	}
	require.NoError(t, h.engine.InitAccount(h.ctx, account, rules))
	return h
}

func (h *harness) poll(folderID int64) *mailsync.PollResult {
	h.t.Helper()
	res, err := h.engine.Poll(h.ctx, testAccount, folderID, nil)
	require.NoError(h.t, err)
	return res
}

func (h *harness) tree() *model.FolderTree {
	h.t.Helper()
	tree, err := h.engine.ListFolders(h.ctx, testAccount)
	require.NoError(h.t, err)
	return tree
}

func (h *harness) system(kind model.SystemFolder) *model.Folder {
	h.t.Helper()
	f := h.tree().System(kind)
	require.NotNil(h.t, f, "system folder %s", kind)
	return f
}

func (h *harness) folder(path string) *model.Folder {
	h.t.Helper()
	f := h.tree().Root
	for _, name := range strings.Split(path, "/") {
		f = f.Child(name)
		require.NotNil(h.t, f, "folder %s", path)
	}
	return f
}

func (h *harness) placements(f *model.Folder) []model.Placement {
	h.t.Helper()
	ps, err := h.store.GetPlacements(h.ctx, f.ID)
	require.NoError(h.t, err)
	return ps
}

func testMail(id, subject string) string {
	return "From: Alice <alice@example.com>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
		"Message-Id: <" + id + "@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n"
}
