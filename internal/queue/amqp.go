package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
)

// MaxDialDelay caps the backoff between connection attempts.
const MaxDialDelay = 60 * time.Second

type AMQPOptions struct {
	URL           string
	Exchange      string
	Producer      string
	RetryAttempts int
	Delay         time.Duration
}

// AMQP publishes jobs to a RabbitMQ topic exchange. The routing key is the
// job name, so workers bind one queue per job.
type AMQP struct {
	conn     *amqp091.Connection
	exchange string
	producer string
	log      zerolog.Logger

	mu sync.Mutex
	ch *amqp091.Channel
}

// DialWithRetry connects to RabbitMQ with exponential backoff, honoring ctx.
func DialWithRetry(ctx context.Context, opts AMQPOptions) (*amqp091.Connection, error) {
	log := logger.Component("queue")
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info().Int("attempt", i).Msg("rabbit connected")
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > MaxDialDelay {
			sleep = MaxDialDelay
		}
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("rabbit dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// NewAMQP dials the broker and declares the job exchange.
func NewAMQP(ctx context.Context, opts AMQPOptions) (*AMQP, error) {
	conn, err := DialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	q := &AMQP{
		conn:     conn,
		exchange: opts.Exchange,
		producer: opts.Producer,
		log:      logger.Component("queue"),
	}
	ch, err := q.channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}
	return q, nil
}

// channel returns the shared confirm-mode channel, reopening it if the
// broker closed it. Callers hold q.mu.
func (q *AMQP) channel() (*amqp091.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	q.ch = ch
	return ch, nil
}

// Submit publishes a persistent job envelope and waits for the broker ack.
func (q *AMQP) Submit(ctx context.Context, job string, args ...any) error {
	env := NewEnvelope(ctx, q.producer, job, args...)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	cid := env.Meta.ID
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, q.exchange, job, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: cid,
			Type:          job,
			AppId:         q.producer,
			Timestamp:     env.Meta.Time,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", job, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", job, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", job)
	}
	q.log.Info().Str("job", job).Str("message_id", env.Meta.ID).Str("exchange", q.exchange).Msg("job published")
	return nil
}

func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	return q.conn.Close()
}

// NewEnvelope builds the envelope for job, taking the correlation id from ctx.
func NewEnvelope(ctx context.Context, producer, job string, args ...any) Envelope {
	if args == nil {
		args = []any{}
	}
	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: time.Now().UTC(),
			Type: job,
		},
		Data: Job{Name: job, Args: args},
	}
	if cid, ok := CorrelationID(ctx); ok {
		env.Meta.CorrelationID = &cid
	}
	if producer != "" {
		env.Meta.Producer = &producer
	}
	return env
}
