package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/mailsync/internal/model"
)

// Transport delivers composed messages.
type Transport interface {
	Send(ctx context.Context, from string, msg *Message) error
}

// TransportFunc builds the Transport for an account's transport endpoint.
type TransportFunc func(ep model.Endpoint) Transport

// SMTPTransport delivers over SMTP with implicit TLS, STARTTLS or a plain
// connection. Each Send opens and closes its own connection.
type SMTPTransport struct {
	ep model.Endpoint
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport returns a transport for ep.
func NewSMTPTransport(ep model.Endpoint) Transport {
	return &SMTPTransport{ep: ep}
}

// Send validates the recipient set and delivers msg.
func (t *SMTPTransport) Send(ctx context.Context, from string, msg *Message) error {
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := t.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if t.ep.Password != "" {
		auth := sasl.NewPlainClient("", t.ep.Username, t.ep.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.SendMail(from, rcpts, bytes.NewReader(msg.Raw)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return client.Quit()
}

func (t *SMTPTransport) dial() (*smtp.Client, error) {
	addr := t.ep.Addr()
	tlsCfg := &tls.Config{
		ServerName:         t.ep.Host,
		InsecureSkipVerify: t.ep.Option("insecure_skip_verify", "") == "true",
	}

	var (
		client *smtp.Client
		err    error
	)
	switch {
	case t.ep.TLS:
		client, err = smtp.DialTLS(addr, tlsCfg)
	case t.ep.StartTLS:
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP server %s: %w", addr, err)
	}
	return client, nil
}
