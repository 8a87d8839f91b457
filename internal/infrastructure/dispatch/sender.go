// SPDX-License-Identifier: AGPL-3.0-or-later
package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
)

// pooledSender builds a MIME envelope with go-mail/mail/v2 (mail.Message
// satisfies io.WriterTo) and sends it through smtp.Pool's
// Acquire/Send/Release cycle — spec.md §4.5.b/c.
type pooledSender struct {
	pool           *smtp.Pool
	acquireTimeout time.Duration
}

func NewPooledSender(pool *smtp.Pool, acquireTimeout time.Duration) Sender {
	if acquireTimeout <= 0 {
		acquireTimeout = 10 * time.Second
	}
	return &pooledSender{pool: pool, acquireTimeout: acquireTimeout}
}

func (s *pooledSender) Send(ctx context.Context, account models.Account, envelope Envelope) error {
	m := mail.NewMessage()
	m.SetHeader("From", envelope.From)
	m.SetHeader("To", envelope.To...)
	if len(envelope.Cc) > 0 {
		m.SetHeader("Cc", envelope.Cc...)
	}
	if len(envelope.Bcc) > 0 {
		m.SetHeader("Bcc", envelope.Bcc...)
	}
	m.SetHeader("Subject", envelope.Subject)
	for k, v := range envelope.Headers {
		m.SetHeader(k, v)
	}

	contentType := envelope.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	m.SetBody(contentType, envelope.Body)

	for _, att := range envelope.Attachments {
		data := att.Data
		if err := m.Attach(att.Filename, mail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})); err != nil {
			return fmt.Errorf("attach %q: %w", att.Filename, err)
		}
	}

	conn, err := s.pool.Acquire(ctx, account.Host, account.Port, account.User, account.Password, account.UseTLS, s.acquireTimeout)
	if err != nil {
		return fmt.Errorf("acquire smtp connection for account %s: %w", account.ID, err)
	}

	recipients := append(append([]string{}, envelope.To...), envelope.Cc...)
	recipients = append(recipients, envelope.Bcc...)

	sendErr := conn.Send(envelope.From, recipients, m)
	s.pool.Release(conn)
	if sendErr != nil {
		return fmt.Errorf("send via account %s: %w", account.ID, sendErr)
	}
	return nil
}
