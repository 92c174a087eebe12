package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/blob"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// app holds global options and the opened engine.
type app struct {
	configPath string
	account    string
	verbose    bool

	cfg    *model.AppConfig
	store  *store.SQLiteStore
	blobs  *blob.Store
	engine *mailsync.Engine
	log    zerolog.Logger
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func newLogger(level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// open loads the configuration, opens the database and blob store, and
// stores every configured account with its rules.
func (a *app) open() error {
	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log.Level, a.verbose)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = s
	a.blobs = blob.NewOS(cfg.Blobs.Dir)

	a.engine = mailsync.New(mailsync.Options{
		Store:          s,
		Blobs:          a.blobs,
		Credentials:    a.credentials,
		Logger:         a.log,
		CorrelationTTL: time.Duration(cfg.Correlation.TTLSec) * time.Second,
	})

	ctx := context.Background()
	for _, ac := range cfg.Accounts {
		if err := a.engine.InitAccount(ctx, ac.Account(), ac.AccountRules()); err != nil {
			return fmt.Errorf("initializing account %s: %w", ac.ID, err)
		}
	}
	return nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Closing database")
	}
	a.store = nil
}

// credentials fills in passwords from the configuration file, falling
// back to the OS keyring.
func (a *app) credentials(acc *model.Account) error {
	for _, ac := range a.cfg.Accounts {
		if ac.ID == acc.ID {
			acc.Store.Password = ac.Store.Password
			acc.Transport.Password = ac.Transport.Password
			break
		}
	}

	lookup := func(ep *model.Endpoint, key string) {
		if !ep.Configured() || ep.Password != "" {
			return
		}
		pw, err := credential.Get(key)
		switch {
		case errors.Is(err, credential.ErrNotFound):
			a.log.Debug().Str("key", key).Msg("No stored password")
		case err != nil:
			a.log.Warn().Err(err).Str("key", key).Msg("Reading keyring")
		default:
			ep.Password = pw
		}
	}
	lookup(&acc.Store, credential.StoreKey(acc.ID))
	lookup(&acc.Transport, credential.TransportKey(acc.ID))
	return nil
}

// accountID returns the selected account, defaulting to the first
// configured one.
func (a *app) accountID() (string, error) {
	if a.account != "" {
		return a.account, nil
	}
	if len(a.cfg.Accounts) == 0 {
		return "", fmt.Errorf("no accounts configured in %s", a.configPath)
	}
	return a.cfg.Accounts[0].ID, nil
}

// folder resolves a folder path of the selected account.
func (a *app) folder(ctx context.Context, path string) (string, *model.Folder, *model.FolderTree, error) {
	id, err := a.accountID()
	if err != nil {
		return "", nil, nil, err
	}
	tree, err := a.engine.ListFolders(ctx, id)
	if err != nil {
		return "", nil, nil, err
	}
	f, err := resolveFolder(tree, path)
	if err != nil {
		return "", nil, nil, err
	}
	return id, f, tree, nil
}

// resolveFolder finds a folder by its "/"-joined path below the root.
// An empty path is the inbox.
func resolveFolder(tree *model.FolderTree, path string) (*model.Folder, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		if inbox := tree.System(model.SystemInbox); inbox != nil {
			return inbox, nil
		}
		return nil, fmt.Errorf("account has no inbox")
	}

	f := tree.Root
	for _, name := range strings.Split(path, "/") {
		if f = f.Child(name); f == nil {
			return nil, fmt.Errorf("folder %q not found", path)
		}
	}
	return f, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) handleInit() error {
	if _, err := os.Stat(a.configPath); err == nil {
		return fmt.Errorf("%s already exists", a.configPath)
	}
	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	cfg.Accounts = []model.AccountConfig{{
		ID:      "personal",
		Name:    "Personal",
		Address: "me@example.com",
		Store: model.Endpoint{
			Protocol: model.ProtocolIMAP,
			Host:     "imap.example.com",
			Username: "me@example.com",
			TLS:      true,
		},
		Transport: model.Endpoint{
			Protocol: model.ProtocolSMTP,
			Host:     "smtp.example.com",
			Username: "me@example.com",
			StartTLS: true,
		},
	}}
	if err := model.SaveConfig(a.configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", a.configPath)
	fmt.Println("Edit the account, then run 'mailsync account set-password'.")
	return nil
}
