package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
)

// POP3Inbox is the only mailbox a POP3 store exposes.
const POP3Inbox = "INBOX"

// POP3Conn is an authenticated POP3 session (RFC 1939). POP3 has no
// stable message numbering, no folders and no flags: every Fetch
// re-lists the whole inbox and relies on unique-id deduplication.
type POP3Conn struct {
	conn net.Conn
	tp   *textproto.Conn
}

var _ Conn = (*POP3Conn)(nil)

// DialPOP3 connects over implicit TLS, STLS or plain TCP and logs in
// with USER/PASS.
func DialPOP3(ctx context.Context, ep model.Endpoint) (*POP3Conn, error) {
	addr := ep.Addr()
	tlsConfig := &tls.Config{
		ServerName:         ep.Host,
		InsecureSkipVerify: ep.Option("insecure_skip_verify", "") == "true",
	}

	var (
		netConn net.Conn
		err     error
	)
	dialer := &net.Dialer{Timeout: dialTimeout}
	if ep.TLS {
		netConn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to POP3 %s: %w", addr, err)
	}

	c := newPOP3Conn(netConn)
	if _, err := c.readResp(); err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("reading POP3 greeting: %w", err)
	}

	if ep.StartTLS && !ep.TLS {
		if _, err := c.cmd("STLS"); err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
		tlsConn := tls.Client(netConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
		c = newPOP3Conn(tlsConn)
	}

	if err := c.login(ep.Username, ep.Password); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	return c, nil
}

func newPOP3Conn(conn net.Conn) *POP3Conn {
	return &POP3Conn{conn: conn, tp: textproto.NewConn(conn)}
}

func (c *POP3Conn) login(user, password string) error {
	if _, err := c.cmd("USER %s", user); err != nil {
		return &AuthError{Protocol: model.ProtocolPOP3, Message: err.Error()}
	}
	if _, err := c.cmd("PASS %s", password); err != nil {
		var pe *pop3Error
		if errors.As(err, &pe) {
			return &AuthError{Protocol: model.ProtocolPOP3, Message: pe.Message}
		}
		return fmt.Errorf("sending POP3 password: %w", err)
	}
	return nil
}

// pop3Error is a -ERR response.
type pop3Error struct {
	Message string
}

func (e *pop3Error) Error() string {
	if e.Message == "" {
		return "POP3: unknown error"
	}
	return "POP3: " + e.Message
}

// readResp reads one status line and returns the text after +OK.
func (c *POP3Conn) readResp() (string, error) {
	line, err := c.tp.ReadLine()
	if err != nil {
		return "", err
	}
	switch {
	case line == "+OK":
		return "", nil
	case strings.HasPrefix(line, "+OK "):
		return line[len("+OK "):], nil
	case line == "-ERR":
		return "", &pop3Error{}
	case strings.HasPrefix(line, "-ERR "):
		return "", &pop3Error{Message: line[len("-ERR "):]}
	}
	return "", fmt.Errorf("POP3: unexpected response: %s", line)
}

func (c *POP3Conn) cmd(format string, args ...any) (string, error) {
	if err := c.tp.PrintfLine(format, args...); err != nil {
		return "", err
	}
	return c.readResp()
}

// multi runs a command whose +OK is followed by a dot-terminated body.
func (c *POP3Conn) multi(format string, args ...any) ([]byte, error) {
	if _, err := c.cmd(format, args...); err != nil {
		return nil, err
	}
	return c.tp.ReadDotBytes()
}

func (c *POP3Conn) watch(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	return func() { stop() }, nil
}

// SupportsUID is always false for POP3.
func (c *POP3Conn) SupportsUID() bool { return false }

func (c *POP3Conn) Separator(context.Context) (string, error) { return "/", nil }

func (c *POP3Conn) List(context.Context) ([]Mailbox, error) {
	return []Mailbox{{Name: POP3Inbox, NoInferiors: true}}, nil
}

// Epoch is always zero; POP3 has no numbering to invalidate.
func (c *POP3Conn) Epoch(_ context.Context, mailbox string) (uint32, error) {
	if err := checkInbox(mailbox); err != nil {
		return 0, err
	}
	return 0, nil
}

// Fetch retrieves every message in the maildrop. The range is ignored.
func (c *POP3Conn) Fetch(ctx context.Context, mailbox string, _, _ uint32) ([]Message, error) {
	if err := checkInbox(mailbox); err != nil {
		return nil, err
	}
	done, err := c.watch(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	ids, err := c.list()
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.multi("RETR %d", id)
		if err != nil {
			return nil, fmt.Errorf("retrieving message %d: %w", id, err)
		}
		env, err := envelope.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing message %d: %w", id, err)
		}
		msgs = append(msgs, Message{Envelope: env, Raw: raw})
	}
	return msgs, nil
}

func (c *POP3Conn) list() ([]int, error) {
	body, err := c.multi("LIST")
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	var ids []int
	for _, line := range strings.Split(string(body), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parsing LIST line %q: %w", line, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *POP3Conn) FetchFlags(context.Context, string, uint32, uint32) (map[uint32]model.Flag, error) {
	return nil, ErrUnsupported
}

func (c *POP3Conn) FetchRaw(context.Context, string, uint32) ([]byte, error) {
	return nil, ErrUnsupported
}

func (c *POP3Conn) Create(context.Context, string) error         { return ErrUnsupported }
func (c *POP3Conn) Delete(context.Context, string) error         { return ErrUnsupported }
func (c *POP3Conn) Rename(context.Context, string, string) error { return ErrUnsupported }
func (c *POP3Conn) Subscribe(context.Context, string) error      { return ErrUnsupported }

func (c *POP3Conn) Copy(context.Context, string, []uint32, string) error {
	return ErrUnsupported
}

func (c *POP3Conn) StoreFlags(context.Context, string, []uint32, model.Flag, bool) error {
	return ErrUnsupported
}

func (c *POP3Conn) Expunge(context.Context, string) error { return ErrUnsupported }

func (c *POP3Conn) Append(context.Context, string, []byte, model.Flag, time.Time) error {
	return ErrUnsupported
}

// Close sends QUIT and closes the connection.
func (c *POP3Conn) Close() error {
	_, _ = c.cmd("QUIT")
	return c.tp.Close()
}

func checkInbox(mailbox string) error {
	if !strings.EqualFold(mailbox, POP3Inbox) {
		return fmt.Errorf("POP3 has no folder %q: %w", mailbox, ErrUnsupported)
	}
	return nil
}
