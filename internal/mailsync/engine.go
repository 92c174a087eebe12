// Package mailsync mirrors remote mailbox folders and messages into the
// local store, applies per-account filter rules to new inbox mail and
// sends outbound mail.
//
// Every operation reloads the account from the store and works inside
// a syncContext that owns at most one remote connection. The connection
// is opened on first use and always closed before the operation returns.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/blob"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
	"github.com/nhle/mailsync/internal/remote"
	"github.com/nhle/mailsync/internal/store"
)

var (
	// ErrConfig reports missing or invalid store or transport parameters.
	ErrConfig = errors.New("configuration error")

	// ErrOutOfSync is returned when a folder's remote epoch no longer
	// matches the one stored locally.
	ErrOutOfSync = errors.New("folder out of sync")

	// ErrFolderExists is returned when a create or rename collides with
	// an existing folder.
	ErrFolderExists = errors.New("folder already exists")
)

// CredentialFunc fills in the store and transport passwords of an
// account loaded from the store, where passwords are never persisted.
type CredentialFunc func(a *model.Account) error

// Options configures an Engine.
type Options struct {
	Store store.Store
	Blobs *blob.Store

	// Dial opens store connections; defaults to remote.Dial.
	Dial remote.DialFunc

	// Transport builds the outbound transport; defaults to SMTP.
	Transport outbound.TransportFunc

	Credentials CredentialFunc
	Logger      zerolog.Logger

	// CorrelationTTL bounds how long a reply/forward expectation waits
	// for its copy to be stored.
	CorrelationTTL time.Duration
}

// Engine runs synchronization and message operations. It is safe for
// concurrent use; runs for different accounts proceed in parallel.
type Engine struct {
	store       store.Store
	blobs       *blob.Store
	dial        remote.DialFunc
	transport   outbound.TransportFunc
	credentials CredentialFunc
	log         zerolog.Logger

	expect *expectations

	// storeMu guards the check-then-insert of messages and placements.
	storeMu sync.Mutex

	accountsMu sync.Mutex
	accounts   map[string]*sync.Mutex
}

// DefaultCorrelationTTL is one poll cycle.
const DefaultCorrelationTTL = 5 * time.Minute

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Dial == nil {
		opts.Dial = remote.Dial
	}
	if opts.Transport == nil {
		opts.Transport = outbound.NewSMTPTransport
	}
	if opts.CorrelationTTL <= 0 {
		opts.CorrelationTTL = DefaultCorrelationTTL
	}

	return &Engine{
		store:       opts.Store,
		blobs:       opts.Blobs,
		dial:        opts.Dial,
		transport:   opts.Transport,
		credentials: opts.Credentials,
		log:         opts.Logger,
		expect:      newExpectations(opts.CorrelationTTL, time.Now),
		accounts:    make(map[string]*sync.Mutex),
	}
}

// lockAccount serializes runs for one account.
func (e *Engine) lockAccount(id string) func() {
	e.accountsMu.Lock()
	mu, ok := e.accounts[id]
	if !ok {
		mu = &sync.Mutex{}
		e.accounts[id] = mu
	}
	e.accountsMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// syncContext is the state of one operation on one account.
type syncContext struct {
	e       *Engine
	ctx     context.Context
	account *model.Account
	tree    *model.FolderTree
	log     zerolog.Logger

	conn   remote.Conn
	sep    string
	unlock func()
}

// begin loads the account and its folder tree and takes the account
// lock. The returned context must be closed.
func (e *Engine) begin(ctx context.Context, accountID string) (*syncContext, error) {
	unlock := e.lockAccount(accountID)

	sc, err := e.load(ctx, accountID)
	if err != nil {
		unlock()
		return nil, err
	}
	sc.unlock = unlock
	return sc, nil
}

func (e *Engine) load(ctx context.Context, accountID string) (*syncContext, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if e.credentials != nil {
		if err := e.credentials(account); err != nil {
			return nil, fmt.Errorf("resolving credentials for %s: %w", accountID, err)
		}
	}

	folders, err := e.store.GetFolders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("account %s is not initialized: %w", accountID, ErrConfig)
	}
	tree, err := model.BuildTree(folders)
	if err != nil {
		return nil, fmt.Errorf("building folder tree for %s: %w", accountID, err)
	}

	return &syncContext{
		e:       e,
		ctx:     ctx,
		account: account,
		tree:    tree,
		log:     e.log.With().Str("account", accountID).Logger(),
	}, nil
}

// close releases the remote connection and the account lock.
func (sc *syncContext) close() {
	if sc.conn != nil {
		if err := sc.conn.Close(); err != nil {
			sc.log.Warn().Err(err).Msg("Closing store connection")
		}
		sc.conn = nil
	}
	if sc.unlock != nil {
		sc.unlock()
		sc.unlock = nil
	}
}

// remote returns the store connection, dialing it on first use.
func (sc *syncContext) remote() (remote.Conn, error) {
	if sc.conn != nil {
		return sc.conn, nil
	}
	if !sc.account.HasStore() {
		return nil, fmt.Errorf("account %s has no store configured: %w", sc.account.ID, ErrConfig)
	}
	conn, err := sc.e.dial(sc.ctx, sc.account.Store)
	if err != nil {
		return nil, err
	}
	sc.conn = conn

	sep, err := conn.Separator(sc.ctx)
	if err != nil {
		return nil, err
	}
	sc.sep = sep

	if err := sc.ensureSystemFolders(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ensureSystemFolders creates the mirrored Sent, Drafts and Trash
// folders that are missing on the server. A fresh IMAP account often
// has nothing but INBOX.
func (sc *syncContext) ensureSystemFolders(conn remote.Conn) error {
	var want []*model.Folder
	for _, kind := range model.SystemFolders[1:] {
		if f := sc.tree.System(kind); sc.mirrored(f) {
			want = append(want, f)
		}
	}
	if len(want) == 0 {
		return nil
	}

	boxes, err := conn.List(sc.ctx)
	if err != nil {
		return err
	}
	exists := make(map[string]bool, len(boxes))
	for _, box := range boxes {
		exists[box.Name] = true
	}

	for _, f := range want {
		path := sc.path(f)
		if exists[path] {
			continue
		}
		if err := conn.Create(sc.ctx, path); err != nil {
			return fmt.Errorf("creating %s folder %q: %w", f.System, path, err)
		}
		if err := conn.Subscribe(sc.ctx, path); err != nil {
			sc.log.Warn().Err(err).Str("folder", path).Msg("Subscribing system folder")
		}
		sc.log.Info().Str("folder", path).Msg("Created missing system folder")
	}
	return nil
}

// mirrored reports whether operations on f must be applied remotely.
// POP3 has a single inbox without folder or flag operations, so only
// IMAP folders are mirrored.
func (sc *syncContext) mirrored(f *model.Folder) bool {
	return f != nil && f.IsConnected() && sc.account.Store.Protocol == model.ProtocolIMAP
}

// path returns the remote name of f. Only valid after remote().
func (sc *syncContext) path(f *model.Folder) string {
	sep := sc.sep
	if sep == "" {
		sep = "/"
	}
	return sc.tree.Path(f, sep)
}

// folder returns the folder with the given id, or the inbox for id 0.
func (sc *syncContext) folder(id int64) (*model.Folder, error) {
	if id == 0 {
		if f := sc.tree.System(model.SystemInbox); f != nil {
			return f, nil
		}
		return nil, fmt.Errorf("account %s has no inbox: %w", sc.account.ID, store.ErrNotFound)
	}
	f := sc.tree.Find(id)
	if f == nil {
		return nil, fmt.Errorf("folder %d in account %s: %w", id, sc.account.ID, store.ErrNotFound)
	}
	return f, nil
}

// checkEpoch fails with ErrOutOfSync when the remote folder was
// renumbered since it was last polled.
func (sc *syncContext) checkEpoch(f *model.Folder) error {
	conn, err := sc.remote()
	if err != nil {
		return err
	}
	current, err := conn.Epoch(sc.ctx, sc.path(f))
	if err != nil {
		return err
	}
	stored, _ := f.Epoch()
	if stored != current {
		return fmt.Errorf("folder %q epoch %d, remote %d: %w", f.Name, stored, current, ErrOutOfSync)
	}
	return nil
}
