package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// EmailQueue is the durable queue carrying Message payloads.
const EmailQueue = "notifications.email"

func declareQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(EmailQueue, true, false, false, false, nil)
	return err
}

// QueueDispatcher publishes messages as persistent JSON to EmailQueue. The
// connection is opened lazily and re-dialled after a failure.
type QueueDispatcher struct {
	url    string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewQueueDispatcher(url string, logger zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{url: url, logger: logger}
}

func (q *QueueDispatcher) channel() (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	q.closeLocked()

	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	q.conn, q.ch = conn, ch
	return ch, nil
}

// Publish sends msg to the queue.
func (q *QueueDispatcher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", EmailQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		q.closeLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, recipient string, kind Kind, data map[string]string) {
	msg := Message{ID: uuid.NewString(), Kind: kind, Recipient: recipient, Data: data}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := q.Publish(ctx, msg); err != nil {
		q.logger.Error().Err(err).
			Str("notification_id", msg.ID).
			Str("kind", string(kind)).
			Msg("notification publish failed")
	}
}

func (q *QueueDispatcher) closeLocked() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
}

// Close releases the broker connection.
func (q *QueueDispatcher) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

// Worker consumes EmailQueue and delivers each message.
type Worker struct {
	url       string
	deliverer Deliverer
	logger    zerolog.Logger
	prefetch  int
}

func NewWorker(url string, d Deliverer, logger zerolog.Logger) *Worker {
	return &Worker{url: url, deliverer: d, logger: logger, prefetch: 20}
}

// Run keeps a consumer attached to the broker until ctx is cancelled,
// reconnecting with exponential backoff capped at 30s.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(w.url)
		if err != nil {
			w.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("worker: dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = w.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn().Err(err).Msg("worker: consume loop ended, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (w *Worker) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declareQueue(ch); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(EmailQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	w.logger.Info().Str("queue", EmailQueue).Msg("worker: consuming")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

// acknowledger is the subset of amqp.Delivery used by handle.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	w.process(ctx, d.Body, d.Redelivered, &d)
}

// process delivers one payload. Malformed payloads are dropped; a failed
// send is requeued once and dropped on the redelivery.
func (w *Worker) process(ctx context.Context, body []byte, redelivered bool, ack acknowledger) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Error().Err(err).Msg("worker: malformed message dropped")
		_ = ack.Nack(false, false)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.deliverer.Deliver(sendCtx, msg); err != nil {
		w.logger.Error().Err(err).
			Str("notification_id", msg.ID).
			Bool("redelivered", redelivered).
			Msg("worker: delivery failed")
		_ = ack.Nack(false, !redelivered)
		return
	}
	_ = ack.Ack(false)
}
