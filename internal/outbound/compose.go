// Package outbound builds RFC 5322 messages and delivers them over SMTP.
package outbound

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/envelope"
)

// ErrNoRecipients is returned when a message has no To, Cc or Bcc.
var ErrNoRecipients = errors.New("No recipients")

// Draft is the input of Compose.
type Draft struct {
	From    envelope.Address
	To      []envelope.Address
	Cc      []envelope.Address
	Bcc     []envelope.Address
	Subject string

	// Body is plain text or markup. Markup bodies are sent as a
	// multipart/alternative with a stripped text rendition.
	Body        string
	Attachments []envelope.Attachment

	// InReplyTo is the message id being answered, without brackets.
	InReplyTo string

	// Date defaults to the current time.
	Date time.Time
}

// Message is a composed message ready for delivery or storage.
type Message struct {
	Envelope *envelope.Envelope
	Raw      []byte
}

// Recipients returns every envelope recipient, Bcc included.
func (m *Message) Recipients() []string {
	return m.Envelope.AllRecipients()
}

// Compose renders a Draft. Bcc recipients are kept on the envelope but
// not written to the header.
func Compose(d Draft) (*Message, error) {
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	date = date.Truncate(time.Second)

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(d.Subject)
	h.SetAddressList("From", mailAddresses([]envelope.Address{d.From}))
	if len(d.To) > 0 {
		h.SetAddressList("To", mailAddresses(d.To))
	}
	if len(d.Cc) > 0 {
		h.SetAddressList("Cc", mailAddresses(d.Cc))
	}
	if d.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{d.InReplyTo})
		h.SetMsgIDList("References", []string{d.InReplyTo})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	msgID, err := h.MessageID()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	var buf bytes.Buffer
	if err := writeBody(&buf, h, d); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}

	return &Message{
		Envelope: &envelope.Envelope{
			MessageID: msgID,
			Date:      date,
			Subject:   d.Subject,
			From:      d.From,
			To:        d.To,
			Cc:        d.Cc,
			Bcc:       d.Bcc,
		},
		Raw: buf.Bytes(),
	}, nil
}

func writeBody(buf *bytes.Buffer, h mail.Header, d Draft) error {
	markup := envelope.ContainsMarkup(d.Body)

	if len(d.Attachments) == 0 && !markup {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(buf, h)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(d.Body)); err != nil {
			return err
		}
		return w.Close()
	}

	var (
		mw *mail.Writer
		iw *mail.InlineWriter
		err error
	)
	if len(d.Attachments) == 0 {
		iw, err = mail.CreateInlineWriter(buf, h)
	} else {
		mw, err = mail.CreateWriter(buf, h)
		if err == nil {
			iw, err = mw.CreateInline()
		}
	}
	if err != nil {
		return err
	}

	text := d.Body
	if markup {
		text = envelope.StripHTML(d.Body)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return err
	}
	if markup {
		if err := writeInline(iw, "text/html", d.Body); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return err
	}

	if mw == nil {
		return nil
	}
	for _, att := range d.Attachments {
		var ah mail.AttachmentHeader
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(att.Name)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := w.Write(att.Data); err != nil {
			return fmt.Errorf("writing attachment %q: %w", att.Name, err)
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

func mailAddresses(addrs []envelope.Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		out = append(out, &mail.Address{Name: a.Name, Address: a.Address})
	}
	return out
}
