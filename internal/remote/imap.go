package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
)

// IMAPConn is a logged-in go-imap v2 session.
type IMAPConn struct {
	client *imapclient.Client
	delim  string
}

var _ Conn = (*IMAPConn)(nil)

// DialIMAP connects to an IMAP server over implicit TLS, STARTTLS or a
// plain connection, as configured, and logs in.
func DialIMAP(ctx context.Context, ep model.Endpoint) (*IMAPConn, error) {
	addr := ep.Addr()
	tlsConfig := &tls.Config{
		ServerName:         ep.Host,
		InsecureSkipVerify: ep.Option("insecure_skip_verify", "") == "true",
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	var (
		client *imapclient.Client
		err    error
	)

	switch {
	case ep.TLS:
		dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: tlsConfig}
		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			client = imapclient.New(conn, opts)
		}
	case ep.StartTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		dialer := &net.Dialer{Timeout: dialTimeout}
		var conn net.Conn
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			client = imapclient.New(conn, opts)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(ep.Username, ep.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{
			Protocol: model.ProtocolIMAP,
			Message:  fmt.Sprintf("authentication failed for %s: %v", ep.Username, err),
		}
	}

	return &IMAPConn{client: client}, nil
}

// watch closes the connection when ctx is cancelled, unblocking any
// pending command. The returned func must be called when the command
// completes.
func (c *IMAPConn) watch(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.client.Close() })
	return func() { stop() }, nil
}

// SupportsUID is always true for IMAP.
func (c *IMAPConn) SupportsUID() bool { return true }

func (c *IMAPConn) Separator(ctx context.Context) (string, error) {
	if c.delim != "" {
		return c.delim, nil
	}
	done, err := c.watch(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	// LIST "" "" returns only the hierarchy delimiter.
	data, err := c.client.List("", "", nil).Collect()
	if err != nil {
		return "", fmt.Errorf("reading hierarchy delimiter: %w", err)
	}
	c.delim = "/"
	if len(data) > 0 && data[0].Delim != 0 {
		c.delim = string(data[0].Delim)
	}
	return c.delim, nil
}

func (c *IMAPConn) List(ctx context.Context) ([]Mailbox, error) {
	done, err := c.watch(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	data, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	out := make([]Mailbox, 0, len(data))
	for _, d := range data {
		mb := Mailbox{Name: d.Mailbox}
		if d.Delim != 0 {
			mb.Delim = string(d.Delim)
			if c.delim == "" {
				c.delim = mb.Delim
			}
		}
		for _, attr := range d.Attrs {
			switch attr {
			case imap.MailboxAttrNoSelect, imap.MailboxAttrNonExistent:
				mb.NoSelect = true
			case imap.MailboxAttrNoInferiors:
				mb.NoInferiors = true
			}
		}
		out = append(out, mb)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *IMAPConn) selectMailbox(mailbox string) (*imap.SelectData, error) {
	data, err := c.client.Select(mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	return data, nil
}

func (c *IMAPConn) Epoch(ctx context.Context, mailbox string) (uint32, error) {
	done, err := c.watch(ctx)
	if err != nil {
		return 0, err
	}
	defer done()

	data, err := c.selectMailbox(mailbox)
	if err != nil {
		return 0, err
	}
	return data.UIDValidity, nil
}

func (c *IMAPConn) Fetch(
	ctx context.Context,
	mailbox string,
	lo, hi uint32,
) ([]Message, error) {
	bufs, err := c.fetch(ctx, mailbox, lo, hi, &imap.FetchOptions{
		UID:      true,
		Flags:    true,
		Envelope: true,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(bufs))
	for _, buf := range bufs {
		msgs = append(msgs, Message{
			UID:      uint32(buf.UID),
			Flags:    envelope.FlagsFromIMAP(buf.Flags),
			Envelope: envelopeFromIMAP(buf.Envelope),
		})
	}
	return msgs, nil
}

func (c *IMAPConn) FetchFlags(
	ctx context.Context,
	mailbox string,
	lo, hi uint32,
) (map[uint32]model.Flag, error) {
	bufs, err := c.fetch(ctx, mailbox, lo, hi, &imap.FetchOptions{
		UID:   true,
		Flags: true,
	})
	if err != nil {
		return nil, err
	}

	flags := make(map[uint32]model.Flag, len(bufs))
	for _, buf := range bufs {
		flags[uint32(buf.UID)] = envelope.FlagsFromIMAP(buf.Flags)
	}
	return flags, nil
}

// fetch runs a UID FETCH over lo:hi and returns the buffers in UID
// order. A range ending in "*" always matches the last message, so
// results below lo are dropped.
func (c *IMAPConn) fetch(
	ctx context.Context,
	mailbox string,
	lo, hi uint32,
	opts *imap.FetchOptions,
) ([]*imapclient.FetchMessageBuffer, error) {
	done, err := c.watch(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	data, err := c.selectMailbox(mailbox)
	if err != nil {
		return nil, err
	}
	if data.NumMessages == 0 {
		return nil, nil
	}

	if lo == 0 {
		lo = 1
	}
	var set imap.UIDSet
	set.AddRange(imap.UID(lo), imap.UID(hi))

	bufs, err := c.client.Fetch(set, opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching %s %d:%d: %w", mailbox, lo, hi, err)
	}

	out := bufs[:0]
	for _, buf := range bufs {
		if uint32(buf.UID) < lo || (hi != 0 && uint32(buf.UID) > hi) {
			continue
		}
		out = append(out, buf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (c *IMAPConn) FetchRaw(ctx context.Context, mailbox string, uid uint32) ([]byte, error) {
	done, err := c.watch(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if _, err := c.selectMailbox(mailbox); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching message UID %d: %w", uid, err)
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("message UID %d not found in %s", uid, mailbox)
	}

	raw := bufs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d in %s has no body", uid, mailbox)
	}
	return raw, nil
}

func (c *IMAPConn) Create(ctx context.Context, mailbox string) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.Create(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("creating folder %s: %w", mailbox, err)
	}
	return nil
}

func (c *IMAPConn) Delete(ctx context.Context, mailbox string) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.Delete(mailbox).Wait(); err != nil {
		return fmt.Errorf("deleting folder %s: %w", mailbox, err)
	}
	return nil
}

func (c *IMAPConn) Rename(ctx context.Context, mailbox, newName string) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.Rename(mailbox, newName, nil).Wait(); err != nil {
		return fmt.Errorf("renaming folder %s to %s: %w", mailbox, newName, err)
	}
	return nil
}

func (c *IMAPConn) Subscribe(ctx context.Context, mailbox string) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.Subscribe(mailbox).Wait(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", mailbox, err)
	}
	return nil
}

func (c *IMAPConn) Copy(ctx context.Context, mailbox string, uids []uint32, dest string) error {
	if len(uids) == 0 {
		return nil
	}
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := c.selectMailbox(mailbox); err != nil {
		return err
	}
	if _, err := c.client.Copy(uidSet(uids), dest).Wait(); err != nil {
		return fmt.Errorf("copying %d messages from %s to %s: %w", len(uids), mailbox, dest, err)
	}
	return nil
}

func (c *IMAPConn) StoreFlags(
	ctx context.Context,
	mailbox string,
	uids []uint32,
	flags model.Flag,
	on bool,
) error {
	if len(uids) == 0 {
		return nil
	}
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := c.selectMailbox(mailbox); err != nil {
		return err
	}

	op := imap.StoreFlagsAdd
	if !on {
		op = imap.StoreFlagsDel
	}
	err = c.client.Store(uidSet(uids), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  envelope.FlagsToIMAP(flags),
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("storing flags in %s: %w", mailbox, err)
	}
	return nil
}

func (c *IMAPConn) Expunge(ctx context.Context, mailbox string) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := c.selectMailbox(mailbox); err != nil {
		return err
	}
	if err := c.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", mailbox, err)
	}
	return nil
}

func (c *IMAPConn) Append(
	ctx context.Context,
	mailbox string,
	raw []byte,
	flags model.Flag,
	date time.Time,
) error {
	done, err := c.watch(ctx)
	if err != nil {
		return err
	}
	defer done()

	cmd := c.client.Append(mailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: envelope.FlagsToIMAP(flags),
		Time:  date,
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("appending to %s: %w", mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("appending to %s: %w", mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", mailbox, err)
	}
	return nil
}

// Close logs out and closes the connection.
func (c *IMAPConn) Close() error {
	_ = c.client.Logout().Wait()
	return c.client.Close()
}

func uidSet(uids []uint32) imap.UIDSet {
	nums := make([]imap.UID, len(uids))
	for i, u := range uids {
		nums[i] = imap.UID(u)
	}
	return imap.UIDSetNum(nums...)
}

func envelopeFromIMAP(env *imap.Envelope) *envelope.Envelope {
	if env == nil {
		return &envelope.Envelope{}
	}

	out := &envelope.Envelope{
		MessageID: envelope.NormalizeMessageID(env.MessageID),
		Date:      env.Date,
		Subject:   env.Subject,
		To:        addressesFromIMAP(env.To),
		Cc:        addressesFromIMAP(env.Cc),
		Bcc:       addressesFromIMAP(env.Bcc),
	}
	if from := addressesFromIMAP(env.From); len(from) > 0 {
		out.From = from[0]
	} else if sender := addressesFromIMAP(env.Sender); len(sender) > 0 {
		out.From = sender[0]
	}
	return out
}

func addressesFromIMAP(addrs []imap.Address) []envelope.Address {
	out := make([]envelope.Address, 0, len(addrs))
	for _, a := range addrs {
		if a.IsGroupStart() || a.IsGroupEnd() {
			continue
		}
		out = append(out, envelope.Address{Name: a.Name, Address: a.Addr()})
	}
	return out
}
