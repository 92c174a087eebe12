package model

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol constants for store and transport endpoints.
const (
	ProtocolIMAP = "imap"
	ProtocolPOP3 = "pop3"
	ProtocolSMTP = "smtp"
)

// Endpoint holds the connection parameters of a store or transport server.
type Endpoint struct {
	// Protocol is one of "imap", "pop3" (store) or "smtp" (transport).
	Protocol string `json:"protocol" mapstructure:"protocol" yaml:"protocol"`
	Host     string `json:"host" mapstructure:"host" yaml:"host"`
	Port     int    `json:"port" mapstructure:"port" yaml:"port"`
	Username string `json:"username" mapstructure:"username" yaml:"username"`

	// Password is never persisted to the database; it is resolved from
	// the config file or the OS keyring when the account is loaded.
	Password string `json:"-" mapstructure:"password" yaml:"password,omitempty"`

	// TLS selects implicit TLS; StartTLS upgrades a plain connection.
	TLS      bool `json:"tls" mapstructure:"tls" yaml:"tls"`
	StartTLS bool `json:"starttls" mapstructure:"starttls" yaml:"starttls"`

	// Options holds protocol-specific extras such as folder name overrides.
	Options map[string]string `json:"options,omitempty" mapstructure:"options" yaml:"options,omitempty"`
}

// Configured reports whether the endpoint has enough details to dial.
func (e Endpoint) Configured() bool {
	return strings.TrimSpace(e.Protocol) != "" && strings.TrimSpace(e.Host) != ""
}

// Addr returns host:port, falling back to the protocol's well-known port.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = defaultPort(e.Protocol, e.TLS)
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Option returns the named option, or def if unset.
func (e Endpoint) Option(key, def string) string {
	if v, ok := e.Options[key]; ok && v != "" {
		return v
	}
	return def
}

func defaultPort(protocol string, tls bool) int {
	switch protocol {
	case ProtocolIMAP:
		if tls {
			return 993
		}
		return 143
	case ProtocolPOP3:
		if tls {
			return 995
		}
		return 110
	case ProtocolSMTP:
		if tls {
			return 465
		}
		return 587
	}
	return 0
}

// Account is one mailbox's store and transport configuration plus the
// identity used for outbound mail.
type Account struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	UserID string `json:"user_id" db:"user_id"`

	// Address is the default From address for outbound mail.
	Address string `json:"address" db:"address"`

	// Signature is appended to rule-generated replies.
	Signature string `json:"signature" db:"signature"`

	Store     Endpoint `json:"store" db:"-"`
	Transport Endpoint `json:"transport" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasStore reports whether the account can be polled.
func (a *Account) HasStore() bool {
	return a.Store.Configured()
}

// HasTransport reports whether the account can send mail.
func (a *Account) HasTransport() bool {
	return a.Transport.Configured()
}

// SystemFolderName returns the remote name of a system folder, honoring
// per-account overrides in the store options.
func (a *Account) SystemFolderName(kind SystemFolder) string {
	switch kind {
	case SystemInbox:
		return "INBOX"
	case SystemSent:
		return a.Store.Option("sent_folder", "Sent Messages")
	case SystemDrafts:
		return a.Store.Option("drafts_folder", "Drafts")
	case SystemTrash:
		return a.Store.Option("trash_folder", "Deleted Messages")
	}
	return ""
}
