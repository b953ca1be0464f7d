package notification

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunSender delivers plain-text mail through the Mailgun HTTP API.
type MailgunSender struct {
	mg   *mailgun.MailgunImpl
	from string
}

// NewMailgunSender builds a sender for domain. apiBase selects the API
// region, e.g. mailgun.APIBaseEU; empty keeps the US endpoint.
func NewMailgunSender(domain, apiKey, from, apiBase string) *MailgunSender {
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	if from == "" {
		from = "no-reply@" + domain
	}
	return &MailgunSender{mg: mg, from: from}
}

// Domain is the sending domain the sender was built for.
func (s *MailgunSender) Domain() string { return s.mg.Domain() }

func (s *MailgunSender) SendEmail(ctx context.Context, to, subject, body string) error {
	msg := s.mg.NewMessage(s.from, subject, body, to)
	if _, _, err := s.mg.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailgun send to %s: %w", to, err)
	}
	return nil
}
