// Package remote talks to the mailbox store of an account: IMAP servers
// with stable per-folder UIDs, and POP3 servers with a single inbox.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
)

// ErrUnsupported is returned for operations the store protocol cannot do.
var ErrUnsupported = errors.New("operation not supported by the mail store")

// AuthError indicates that the server rejected the account credentials.
type AuthError struct {
	Protocol string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Protocol, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Mailbox is one folder of the remote listing.
type Mailbox struct {
	// Name is the full hierarchical name.
	Name  string
	Delim string

	// NoSelect folders cannot hold messages; NoInferiors folders cannot
	// hold sub-folders.
	NoSelect    bool
	NoInferiors bool
}

// Message is one fetched message. Raw is set only when the protocol
// returns content together with the summary.
type Message struct {
	UID      uint32
	Flags    model.Flag
	Envelope *envelope.Envelope
	Raw      []byte
}

// Conn is a session with a remote mail store. A Conn is owned by one
// unit of work and must be closed on every exit path.
type Conn interface {
	// SupportsUID reports whether the store keeps stable per-folder
	// message numbers.
	SupportsUID() bool

	// Separator returns the hierarchy delimiter.
	Separator(ctx context.Context) (string, error)

	List(ctx context.Context) ([]Mailbox, error)

	// Epoch returns the folder's UIDVALIDITY.
	Epoch(ctx context.Context, mailbox string) (uint32, error)

	// Fetch returns UID, flags and envelope of messages with lo <= UID <= hi
	// in one batch; hi == 0 means no upper bound.
	Fetch(ctx context.Context, mailbox string, lo, hi uint32) ([]Message, error)

	// FetchFlags returns the flags of messages in the UID range.
	FetchFlags(ctx context.Context, mailbox string, lo, hi uint32) (map[uint32]model.Flag, error)

	FetchRaw(ctx context.Context, mailbox string, uid uint32) ([]byte, error)

	Create(ctx context.Context, mailbox string) error
	Delete(ctx context.Context, mailbox string) error
	Rename(ctx context.Context, mailbox, newName string) error
	Subscribe(ctx context.Context, mailbox string) error

	Copy(ctx context.Context, mailbox string, uids []uint32, dest string) error
	StoreFlags(ctx context.Context, mailbox string, uids []uint32, flags model.Flag, on bool) error
	Expunge(ctx context.Context, mailbox string) error
	Append(ctx context.Context, mailbox string, raw []byte, flags model.Flag, date time.Time) error

	Close() error
}

// DialFunc opens a Conn for a store endpoint.
type DialFunc func(ctx context.Context, ep model.Endpoint) (Conn, error)

// Dial connects and authenticates to the store endpoint.
func Dial(ctx context.Context, ep model.Endpoint) (Conn, error) {
	switch ep.Protocol {
	case model.ProtocolIMAP:
		return DialIMAP(ctx, ep)
	case model.ProtocolPOP3:
		return DialPOP3(ctx, ep)
	}
	return nil, fmt.Errorf("unknown store protocol %q", ep.Protocol)
}

const dialTimeout = 30 * time.Second
