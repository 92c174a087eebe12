package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// Attachment is an attachment extracted from a message, content included.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Content is the body of a message split into text parts and attachments.
type Content struct {
	Parts       []model.Part
	Attachments []Attachment
}

// Text returns the first plain-text rendition of the body.
func (c *Content) Text() string {
	for _, p := range c.Parts {
		if p.Content != "" {
			return p.Content
		}
	}
	return ""
}

// HTML returns the body as markup. When the message has html parts only
// those are used; otherwise plain parts are escaped and line-broken.
func (c *Content) HTML() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if p.HTMLContent != nil {
			b.WriteString(*p.HTMLContent)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	for _, p := range c.Parts {
		b.WriteString(TextToHTML(p.Content))
	}
	return b.String()
}

// ParseContent walks every part of a raw message, nested multiparts
// included. text/plain and text/html inline parts become Parts; html
// parts carry a stripped text rendition in Content. Everything else is
// an attachment.
func ParseContent(raw []byte) (*Content, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	defer mr.Close()

	c := &Content{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return c, fmt.Errorf("reading message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return c, fmt.Errorf("reading %s part: %w", ct, err)
			}

			switch {
			case ct == "" || strings.HasPrefix(ct, "text/plain"):
				c.Parts = append(c.Parts, model.Part{Content: normalizeNewlines(body)})
			case strings.HasPrefix(ct, "text/html"):
				markup := normalizeNewlines(body)
				c.Parts = append(c.Parts, model.Part{
					Content:     StripHTML(markup),
					HTMLContent: &markup,
				})
			default:
				// Inline images and the like are kept as attachments.
				name, _ := (&mail.AttachmentHeader{Header: h.Header}).Filename()
				c.Attachments = append(c.Attachments, Attachment{
					Name:        name,
					ContentType: ct,
					Data:        body,
				})
			}

		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return c, fmt.Errorf("reading attachment %q: %w", name, err)
			}
			c.Attachments = append(c.Attachments, Attachment{
				Name:        name,
				ContentType: ct,
				Data:        body,
			})
		}
	}

	return c, nil
}

// normalizeNewlines turns the CRLF line endings of the wire format into
// plain newlines.
func normalizeNewlines(body []byte) string {
	return strings.ReplaceAll(string(body), "\r\n", "\n")
}

// TextToHTML escapes plain text and converts newlines to <br>.
func TextToHTML(text string) string {
	var b strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteString("<br>")
		}
		b.WriteString(escaper.Replace(strings.TrimRight(line, "\r")))
	}
	return b.String()
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;")
