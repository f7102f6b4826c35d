package notify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Relay mirrors hub events to an external broker so other services (and other
// engine instances) can observe the lifecycle stream.
type Relay interface {
	Publish(ctx context.Context, event string, body []byte) error
	Close()
}

// NopRelay is used when no broker is configured.
type NopRelay struct{}

func (NopRelay) Publish(context.Context, string, []byte) error { return nil }
func (NopRelay) Close()                                        {}

const (
	dialAttempts = 5
	dialBaseWait = time.Second
	maxDialWait  = 60 * time.Second
)

// AMQPRelay publishes events to a topic exchange, routing key = event name.
type AMQPRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

// NewAMQPRelay dials the broker with exponential backoff and declares the
// exchange.
func NewAMQPRelay(ctx context.Context, url, exchange string, log zerolog.Logger) (*AMQPRelay, error) {
	log = log.With().Str("component", "amqp-relay").Logger()

	var conn *amqp.Connection
	var lastErr error
	for i := 1; i <= dialAttempts; i++ {
		c, err := amqp.Dial(url)
		if err == nil {
			conn = c
			break
		}
		lastErr = err

		sleep := dialBaseWait * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialWait {
			sleep = maxDialWait
		}
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("amqp dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("amqp dial after %d attempts: %w", dialAttempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("amqp relay connected")
	return &AMQPRelay{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (r *AMQPRelay) Publish(ctx context.Context, event string, body []byte) error {
	return r.ch.PublishWithContext(ctx, r.exchange, event, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	})
}

func (r *AMQPRelay) Close() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
