// Package envelope extracts the normalized summary of a raw RFC 5322
// message: addresses, subject, date, flags and the dedup key.
package envelope

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// String formats the address for a header line.
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Envelope is the normalized summary of a message.
type Envelope struct {
	// MessageID is the Message-Id header without angle brackets.
	MessageID string
	Date      time.Time
	Subject   string
	From      Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	Flags     model.Flag
}

// Sender returns the lower-cased sender address.
func (e *Envelope) Sender() string {
	return strings.ToLower(strings.TrimSpace(e.From.Address))
}

// UniqueID returns the dedup key of the message: a hash over message id,
// date, sender and subject. The same logical message delivered to two
// mailboxes yields the same key.
func (e *Envelope) UniqueID() string {
	return UniqueID(e.MessageID, e.Date, e.Sender(), e.Subject)
}

// UniqueID computes the dedup key from its four components. Empty
// components are skipped.
func UniqueID(messageID string, date time.Time, sender, subject string) string {
	var words []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			words = append(words, s)
		}
	}

	add(NormalizeMessageID(messageID))
	if !date.IsZero() {
		add(strconv.FormatInt(date.UTC().Unix(), 10))
	}
	add(strings.ToLower(sender))
	add(subject)

	sum := md5.Sum([]byte(strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])
}

// NormalizeMessageID strips whitespace and angle brackets.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// Recipients flattens the To, Cc and Bcc lists.
func (e *Envelope) Recipients() []model.Recipient {
	var rs []model.Recipient
	add := func(kind string, addrs []Address) {
		for _, a := range addrs {
			if a.Address == "" {
				continue
			}
			rs = append(rs, model.Recipient{
				Type:    kind,
				Address: strings.ToLower(a.Address),
				Name:    a.Name,
			})
		}
	}
	add(model.RecipientTo, e.To)
	add(model.RecipientCc, e.Cc)
	add(model.RecipientBcc, e.Bcc)
	return rs
}

// AllRecipients returns every recipient address, lower-cased.
func (e *Envelope) AllRecipients() []string {
	var out []string
	for _, r := range e.Recipients() {
		out = append(out, r.Address)
	}
	return out
}

// Message returns the Stored Message row for the envelope.
func (e *Envelope) Message() model.Message {
	return model.Message{
		UniqueID:  e.UniqueID(),
		MessageID: e.MessageID,
		Date:      e.Date,
		Subject:   e.Subject,
		Sender:    e.Sender(),
	}
}

// Parse reads the header of a raw message into an Envelope. Flags are
// left empty; they come from the remote store, not the content.
func Parse(raw []byte) (*Envelope, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("reading message header: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	env := &Envelope{}

	if ids, err := h.MsgIDList("Message-Id"); err == nil && len(ids) > 0 {
		env.MessageID = ids[0]
	} else {
		env.MessageID = NormalizeMessageID(h.Get("Message-Id"))
	}

	if date, err := h.Date(); err == nil {
		env.Date = date
	}

	if subject, err := h.Subject(); err == nil {
		env.Subject = strings.TrimSpace(subject)
	} else {
		env.Subject = strings.TrimSpace(h.Get("Subject"))
	}

	if from := addressList(h, "From"); len(from) > 0 {
		env.From = from[0]
	} else if sender := addressList(h, "Sender"); len(sender) > 0 {
		env.From = sender[0]
	}

	env.To = addressList(h, "To")
	env.Cc = addressList(h, "Cc")
	env.Bcc = addressList(h, "Bcc")

	return env, nil
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}
