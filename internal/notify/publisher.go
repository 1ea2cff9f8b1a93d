package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
)

// dialTimeout bounds the TCP connect and AMQP handshake when the caller's
// context has no deadline.
const dialTimeout = 5 * time.Second

// Publisher sends ReservationConfirmedEvent messages.  Each publish opens
// its own connection; confirmations are rare enough that pooling is not
// worth a reconnect state machine.
type Publisher struct {
	url   string
	queue string
	clock clock.Clock
	log   *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, clk clock.Clock, log *zap.Logger) *Publisher {
	return &Publisher{url: url, queue: QueueReservationConfirmed, clock: clk, log: log}
}

// ReservationConfirmed publishes the event for r as a persistent message.
// Errors are logged and returned; callers treat them as non-fatal.
func (p *Publisher) ReservationConfirmed(ctx context.Context, r model.Reservation) error {
	body, err := json.Marshal(NewReservationConfirmedEvent(r, p.clock.Now()))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.log.Warn("rabbitmq dial failed", zap.Error(err))
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch, p.queue); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.Code,
		Timestamp:    p.clock.Now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("code", r.Code), zap.Error(err))
		return fmt.Errorf("publish: %w", err)
	}
	p.log.Debug("reservation event published", zap.String("code", r.Code))
	return nil
}

// dial connects to the broker within ctx.  The connect honours
// cancellation and the handshake runs under ctx's deadline, so a broker
// that accepts TCP but never speaks cannot stall the caller.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(dialTimeout)
	}
	return amqp.DialConfig(p.url, amqp.Config{
		Locale: "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Deadline: deadline}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the handshake completes.
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// Nop drops every event.  It stands in when no broker is configured.
type Nop struct{}

// ReservationConfirmed does nothing.
func (Nop) ReservationConfirmed(context.Context, model.Reservation) error { return nil }

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return q, nil
}
