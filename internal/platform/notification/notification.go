// Package notification renders account emails and delivers them either on
// a background goroutine or through a RabbitMQ work queue.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Kind names a message template.
type Kind string

const (
	KindEmailVerification Kind = "email-verification"
	KindPasswordReset     Kind = "password-reset"
	KindWelcome           Kind = "welcome"
)

// Message is one outbound notification, also the queue payload.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data,omitempty"`
}

// Dispatcher hands a message off for delivery. It never reports delivery
// failures to the caller; those are logged by the implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient string, kind Kind, data map[string]string)
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Mailer renders a Message through the template engine and sends it.
type Mailer struct {
	templates   *TemplateEngine
	sender      EmailSender
	frontendURL string
}

// NewMailer creates a Mailer. frontendURL is exposed to templates as
// {{frontend_url}} for building links.
func NewMailer(tpl *TemplateEngine, sender EmailSender, frontendURL string) *Mailer {
	return &Mailer{
		templates:   tpl,
		sender:      sender,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Deliver renders and sends msg.
func (m *Mailer) Deliver(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return errors.New("notification has no recipient")
	}

	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["frontend_url"] = m.frontendURL

	subject, body, err := m.templates.Render(msg.Kind, data)
	if err != nil {
		return fmt.Errorf("render %s: %w", msg.Kind, err)
	}
	if err := m.sender.SendEmail(ctx, msg.Recipient, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Kind, msg.Recipient, err)
	}
	return nil
}

// LogSender writes emails to the log instead of sending them. Used when no
// SMTP host is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email not sent: no SMTP host configured")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
