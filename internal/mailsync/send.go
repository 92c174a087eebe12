package mailsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
)

// AttachmentRef names a blob to attach to an outgoing message.
type AttachmentRef struct {
	Name        string
	ContentType string
	BlobKey     string
}

// SendRequest is the input of Send.
type SendRequest struct {
	AccountID   string
	To          []envelope.Address
	Cc          []envelope.Address
	Bcc         []envelope.Address
	Subject     string
	Body        string
	Attachments []AttachmentRef

	// SaveOnly stores the message as a draft instead of delivering it.
	SaveOnly bool

	InReplyTo string

	// DraftID is the placement of a draft this message replaces; it is
	// deleted after successful delivery.
	DraftID int64
}

// SendResult reports where the message ended up.
type SendResult struct {
	Delivered bool
	Folder    model.SystemFolder
	MessageID string

	// Warnings collects partial failures, such as unreadable attachments,
	// that did not prevent delivery.
	Warnings []string
}

// Send composes a message and delivers it, storing a copy in Sent. With
// SaveOnly, or when delivery fails, the message is stored in Drafts
// instead. A message without recipients is never handed to the
// transport.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	sc, err := e.begin(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	res := &SendResult{}
	atts, warnings := sc.loadAttachments(req.Attachments)
	res.Warnings = warnings

	msg, err := outbound.Compose(outbound.Draft{
		From:        sc.from(),
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: atts,
		InReplyTo:   envelope.NormalizeMessageID(req.InReplyTo),
	})
	if err != nil {
		return nil, fmt.Errorf("composing message: %w", err)
	}
	res.MessageID = msg.Envelope.MessageID

	if req.SaveOnly {
		res.Folder = model.SystemDrafts
		if err := sc.saveCopy(model.SystemDrafts, msg); err != nil {
			return nil, err
		}
		return res, nil
	}

	if len(msg.Recipients()) == 0 {
		return nil, outbound.ErrNoRecipients
	}

	if err := sc.deliver(msg); err != nil {
		res.Folder = model.SystemDrafts
		if saveErr := sc.saveCopy(model.SystemDrafts, msg); saveErr != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("saving draft: %v", saveErr))
		}
		return res, fmt.Errorf("sending message: %w", err)
	}
	res.Delivered = true
	res.Folder = model.SystemSent

	if err := sc.saveCopy(model.SystemSent, msg); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("saving sent copy: %v", err))
	}
	if req.DraftID != 0 {
		if err := sc.discardDraft(req.DraftID); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("removing draft: %v", err))
		}
	}
	sc.purge()

	sc.log.Info().
		Str("message_id", res.MessageID).
		Int("recipients", len(msg.Recipients())).
		Msg("Message sent")
	return res, nil
}

func (sc *syncContext) from() envelope.Address {
	return envelope.Address{Address: sc.account.Address}
}

func (sc *syncContext) loadAttachments(refs []AttachmentRef) ([]envelope.Attachment, []string) {
	var (
		atts     []envelope.Attachment
		warnings []string
	)
	for _, ref := range refs {
		data, err := sc.e.blobs.Get(ref.BlobKey)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("attachment %q: %v", ref.Name, err))
			sc.log.Warn().Err(err).Str("attachment", ref.Name).Msg("Skipping unreadable attachment")
			continue
		}
		atts = append(atts, envelope.Attachment{
			Name:        ref.Name,
			ContentType: ref.ContentType,
			Data:        data,
		})
	}
	return atts, warnings
}

// deliver hands msg to the account's transport.
func (sc *syncContext) deliver(msg *outbound.Message) error {
	if !sc.account.HasTransport() {
		return fmt.Errorf("account %s has no transport configured: %w", sc.account.ID, ErrConfig)
	}
	transport := sc.e.transport(sc.account.Transport)
	return transport.Send(sc.ctx, sc.account.Address, msg)
}

// saveCopy stores msg as seen in a system folder. A mirrored folder gets
// the message by APPEND and is then polled; otherwise, or when the
// append fails, it is stored locally.
func (sc *syncContext) saveCopy(kind model.SystemFolder, msg *outbound.Message) error {
	f := sc.tree.System(kind)
	if f == nil {
		return fmt.Errorf("account %s has no %s folder", sc.account.ID, kind)
	}

	if sc.mirrored(f) {
		err := sc.appendRemote(f, msg)
		if err == nil {
			_, _, err = sc.pollFolder(f, nil)
			return err
		}
		sc.log.Warn().Err(err).Str("target", f.Name).Msg("Appending copy, storing locally")
	}

	env := *msg.Envelope
	env.Flags = model.FlagSeen
	_, err := sc.storeMessage(f, &env, nil, msg.Raw)
	return err
}

func (sc *syncContext) appendRemote(f *model.Folder, msg *outbound.Message) error {
	conn, err := sc.remote()
	if err != nil {
		return err
	}
	return conn.Append(sc.ctx, sc.path(f), msg.Raw, model.FlagSeen, msg.Envelope.Date)
}

func (sc *syncContext) discardDraft(placementID int64) error {
	drafts := sc.tree.System(model.SystemDrafts)
	if drafts == nil {
		return nil
	}
	ps, err := sc.placementsIn(drafts, []int64{placementID})
	if err != nil {
		return err
	}
	_, err = sc.transfer(drafts, nil, ps, true)
	return err
}

// forward sends the message, its body quoted and its attachments
// carried over, to addr. The copy stored in Sent is linked back to p.
func (sc *syncContext) forward(p *model.Placement, msg *model.Message, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("forward rule has no address")
	}

	content, atts, err := sc.loadContent(msg)
	if err != nil {
		return err
	}
	rcpts, err := sc.e.store.GetRecipients(sc.ctx, msg.ID)
	if err != nil {
		return err
	}

	var to []string
	for _, r := range rcpts {
		if r.Type == model.RecipientTo {
			to = append(to, r.Address)
		}
	}

	var b strings.Builder
	b.WriteString("---------- Forwarded message ----------<br>")
	fmt.Fprintf(&b, "From: %s<br>", envelope.TextToHTML(msg.Sender))
	fmt.Fprintf(&b, "Date: %s<br>", msg.Date.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	fmt.Fprintf(&b, "Subject: %s<br>", envelope.TextToHTML(msg.Subject))
	fmt.Fprintf(&b, "To: %s<br><br>", envelope.TextToHTML(strings.Join(to, ", ")))
	b.WriteString(content.HTML())

	out, err := outbound.Compose(outbound.Draft{
		From:        sc.from(),
		To:          []envelope.Address{{Address: addr}},
		Subject:     prefixSubject("Fwd: ", msg.Subject),
		Body:        b.String(),
		Attachments: atts,
	})
	if err != nil {
		return err
	}
	return sc.sendLinked(p, out)
}

// reply answers the sender with a canned text and the signature.
func (sc *syncContext) reply(p *model.Placement, msg *model.Message, text string) error {
	if msg.Sender == "" {
		return fmt.Errorf("message %d has no sender to reply to", msg.ID)
	}

	body := envelope.TextToHTML(text)
	if sig := strings.TrimSpace(sc.account.Signature); sig != "" {
		body += "<br><br>" + envelope.TextToHTML(sig)
	}

	out, err := outbound.Compose(outbound.Draft{
		From:      sc.from(),
		To:        []envelope.Address{{Address: msg.Sender}},
		Subject:   prefixSubject("Re: ", msg.Subject),
		Body:      "<p>" + body + "</p>",
		InReplyTo: msg.MessageID,
	})
	if err != nil {
		return err
	}
	return sc.sendLinked(p, out)
}

// sendLinked delivers a rule-generated message and expects its copy in
// Sent, so the original placement gets a back-reference when the copy
// is stored. An expectation that is never met simply expires.
func (sc *syncContext) sendLinked(p *model.Placement, out *outbound.Message) error {
	sent := sc.tree.System(model.SystemSent)
	if sent != nil {
		sc.e.expect.add(sent.ID, out.Envelope.UniqueID(), p.ID)
	}

	if err := sc.deliver(out); err != nil {
		return err
	}
	if sent == nil {
		return nil
	}
	return sc.saveCopy(model.SystemSent, out)
}

func (sc *syncContext) loadContent(msg *model.Message) (*envelope.Content, []envelope.Attachment, error) {
	parts, err := sc.e.store.GetParts(sc.ctx, msg.ID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := sc.e.store.GetAttachments(sc.ctx, msg.ID)
	if err != nil {
		return nil, nil, err
	}

	refs := make([]AttachmentRef, 0, len(stored))
	for _, a := range stored {
		refs = append(refs, AttachmentRef{Name: a.Name, ContentType: a.ContentType, BlobKey: a.BlobKey})
	}
	atts, _ := sc.loadAttachments(refs)

	return &envelope.Content{Parts: parts}, atts, nil
}

func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}
