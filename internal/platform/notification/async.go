package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deliverer sends one rendered message. *Mailer implements it.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// AsyncDispatcher delivers each message on its own goroutine, detached from
// the request context, with a per-message timeout.
type AsyncDispatcher struct {
	deliverer Deliverer
	logger    zerolog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewAsyncDispatcher(d Deliverer, logger zerolog.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{deliverer: d, logger: logger, timeout: 30 * time.Second}
}

func (a *AsyncDispatcher) Dispatch(_ context.Context, recipient string, kind Kind, data map[string]string) {
	msg := Message{ID: uuid.NewString(), Kind: kind, Recipient: recipient, Data: data}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.deliverer.Deliver(ctx, msg); err != nil {
			a.logger.Error().Err(err).
				Str("notification_id", msg.ID).
				Str("kind", string(msg.Kind)).
				Msg("notification delivery failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (a *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
