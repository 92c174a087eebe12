package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/envelope"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

type sendFlags struct {
	to          string
	cc          string
	bcc         string
	subject     string
	body        string
	bodyFile    string
	attachments []string
	inReplyTo   string
	draft       bool
	draftID     int64
}

func parseSendFlags(args []string) sendFlags {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var f sendFlags
	fs.StringVar(&f.to, "to", "", "Recipients (comma-separated)")
	fs.StringVar(&f.cc, "cc", "", "CC recipients (comma-separated)")
	fs.StringVar(&f.bcc, "bcc", "", "BCC recipients (comma-separated)")
	fs.StringVar(&f.subject, "subject", "", "Subject")
	fs.StringVar(&f.body, "body", "", "Body; text, or HTML when it contains markup")
	fs.StringVar(&f.bodyFile, "body-file", "", "Read the body from a file")
	fs.StringArrayVar(&f.attachments, "attach", nil, "Attachment file path (repeatable)")
	fs.StringVar(&f.inReplyTo, "in-reply-to", "", "Message-ID being answered")
	fs.BoolVar(&f.draft, "draft", false, "Save to Drafts instead of sending")
	fs.Int64Var(&f.draftID, "replace-draft", 0, "Draft message id to remove after sending")
	if err := fs.Parse(args); err != nil {
		fatal("send: %v", err)
	}
	return f
}

// parseAddressList splits a comma-separated address string.
func parseAddressList(s string) []envelope.Address {
	parts := strings.Split(s, ",")
	addrs := make([]envelope.Address, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			addrs = append(addrs, envelope.Address{Address: part})
		}
	}
	return addrs
}

func (a *app) handleSend(args []string) error {
	f := parseSendFlags(args)
	accountID, err := a.accountID()
	if err != nil {
		return err
	}

	body := f.body
	if f.bodyFile != "" {
		data, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		body = string(data)
	}

	var refs []mailsync.AttachmentRef
	for _, p := range f.attachments {
		file, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("reading attachment: %w", err)
		}
		key, err := a.blobs.PutReader(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("storing attachment %s: %w", p, err)
		}
		refs = append(refs, mailsync.AttachmentRef{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			BlobKey:     key,
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.engine.Send(ctx, mailsync.SendRequest{
		AccountID:   accountID,
		To:          parseAddressList(f.to),
		Cc:          parseAddressList(f.cc),
		Bcc:         parseAddressList(f.bcc),
		Subject:     f.subject,
		Body:        body,
		Attachments: refs,
		SaveOnly:    f.draft,
		InReplyTo:   f.inReplyTo,
		DraftID:     f.draftID,
	})
	if res != nil {
		for _, w := range res.Warnings {
			fmt.Fprintln(os.Stderr, theme.WarningStyle.Render("Warning: "+w))
		}
	}
	if err != nil {
		if res != nil && res.Folder != model.SystemNone {
			fmt.Fprintf(os.Stderr, "Message saved to %s\n", res.Folder)
		}
		return err
	}

	if res.Delivered {
		fmt.Println(theme.SuccessStyle.Render("Message sent: " + res.MessageID))
	} else {
		fmt.Println(theme.SuccessStyle.Render("Draft saved: " + res.MessageID))
	}
	return nil
}
