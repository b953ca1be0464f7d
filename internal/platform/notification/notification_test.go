package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_RenderBuiltIns(t *testing.T) {
	e := NewTemplateEngine()
	for _, kind := range []Kind{KindEmailVerification, KindPasswordReset, KindWelcome} {
		if _, _, err := e.Render(kind, nil); err != nil {
			t.Errorf("built-in %s missing: %v", kind, err)
		}
	}

	_, body, _ := e.Render(KindPasswordReset, map[string]string{
		"first_name":   "Ada",
		"token":        "tok-123",
		"frontend_url": "https://app.example",
	})
	if !strings.Contains(body, "https://app.example/reset-password?token=tok-123") {
		t.Errorf("reset link not rendered: %q", body)
	}
	if !strings.Contains(body, "Hello Ada") {
		t.Errorf("name not rendered: %q", body)
	}
}

func TestTemplateEngine_NoRecursiveSubstitution(t *testing.T) {
	e := NewTemplateEngine()
	_, body, _ := e.Render(KindEmailVerification, map[string]string{
		"first_name": "{{token}}",
		"token":      "secret",
	})
	if !strings.Contains(body, "Hello {{token}}") {
		t.Errorf("value was substituted twice: %q", body)
	}
}

func TestTemplateEngine_Unknown(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("sms-otp", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestMailer_Deliver(t *testing.T) {
	sender := &MockEmailSender{}
	m := NewMailer(NewTemplateEngine(), sender, "https://app.example/")

	err := m.Deliver(context.Background(), Message{
		Kind:      KindEmailVerification,
		Recipient: "ada@acme.test",
		Data:      map[string]string{"token": "v-1", "first_name": "Ada"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	calls := sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email, got %d", len(calls))
	}
	if calls[0].To != "ada@acme.test" {
		t.Errorf("unexpected recipient %q", calls[0].To)
	}
	if !strings.Contains(calls[0].Body, "https://app.example/verify-email?token=v-1") {
		t.Errorf("expected trailing slash trimmed in link: %q", calls[0].Body)
	}
}

func TestMailer_DeliverErrors(t *testing.T) {
	m := NewMailer(NewTemplateEngine(), &MockEmailSender{ShouldFail: true, FailError: "relay down"}, "")
	if err := m.Deliver(context.Background(), Message{Kind: KindWelcome, Recipient: "a@b.c"}); err == nil {
		t.Error("expected sender failure to surface")
	}
	if err := m.Deliver(context.Background(), Message{Kind: KindWelcome}); err == nil {
		t.Error("expected error without recipient")
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingDeliverer) Deliver(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestAsyncDispatcher_DeliversInBackground(t *testing.T) {
	d := &recordingDeliverer{}
	a := NewAsyncDispatcher(d, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	a.Dispatch(ctx, "ada@acme.test", KindWelcome, map[string]string{"first_name": "Ada"})
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := a.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d.count() != 1 {
		t.Fatalf("expected delivery despite cancelled request context, got %d", d.count())
	}
	if d.msgs[0].ID == "" {
		t.Error("expected message id to be assigned")
	}
}

func TestAsyncDispatcher_FailureIsLoggedNotReturned(t *testing.T) {
	var buf strings.Builder
	d := &recordingDeliverer{err: errors.New("relay down")}
	a := NewAsyncDispatcher(d, zerolog.New(&syncWriter{w: &buf}))

	a.Dispatch(context.Background(), "ada@acme.test", KindWelcome, nil)
	a.Wait(context.Background())

	if !strings.Contains(buf.String(), "notification delivery failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  *strings.Builder
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestWorker_Process(t *testing.T) {
	payload, _ := json.Marshal(Message{ID: "m-1", Kind: KindWelcome, Recipient: "a@b.c"})

	t.Run("delivered", func(t *testing.T) {
		d := &recordingDeliverer{}
		ack := &fakeAck{}
		NewWorker("", d, zerolog.Nop()).process(context.Background(), payload, false, ack)
		if !ack.acked || d.count() != 1 {
			t.Errorf("expected ack after delivery: %+v", ack)
		}
	})

	t.Run("malformed dropped", func(t *testing.T) {
		ack := &fakeAck{}
		NewWorker("", &recordingDeliverer{}, zerolog.Nop()).process(context.Background(), []byte("{"), false, ack)
		if !ack.nacked || ack.requeued {
			t.Errorf("expected nack without requeue: %+v", ack)
		}
	})

	t.Run("failure requeued once", func(t *testing.T) {
		w := NewWorker("", &recordingDeliverer{err: errors.New("down")}, zerolog.Nop())

		first := &fakeAck{}
		w.process(context.Background(), payload, false, first)
		if !first.nacked || !first.requeued {
			t.Errorf("expected requeue on first failure: %+v", first)
		}

		second := &fakeAck{}
		w.process(context.Background(), payload, true, second)
		if !second.nacked || second.requeued {
			t.Errorf("expected drop on redelivery: %+v", second)
		}
	})
}

func TestSMTPSender(t *testing.T) {
	orig := sendMail
	defer func() { sendMail = orig }()

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	s := &SMTPSender{Host: "smtp.example", Port: 587, From: "no-reply@hms.local"}
	if err := s.SendEmail(context.Background(), "ada@acme.test", "Hi", "line1\nline2"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if gotAddr != "smtp.example:587" || gotFrom != "no-reply@hms.local" || len(gotTo) != 1 {
		t.Errorf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Hi\r\n") || !strings.Contains(msg, "line1\r\nline2") {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	s := &SMTPSender{Host: "smtp.example", Port: 587}
	if err := s.SendEmail(context.Background(), "a@b.c\r\nBcc: x@y.z", "Hi", "body"); err == nil {
		t.Error("expected header injection to be rejected")
	}
}
