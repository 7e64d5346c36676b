package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends transitions to a topic exchange, routed as
// "<prefix>.<new state>" so consumers can bind to single states.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	prefix   string
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange, routingPrefix string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	p, err := NewPublisher(conn, exchange, routingPrefix)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// NewPublisher opens a channel on conn and declares a durable topic exchange.
func NewPublisher(conn *amqp.Connection, exchange, routingPrefix string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	p := newWithChannel(ch, exchange, routingPrefix)
	p.conn = conn
	return p, nil
}

func newWithChannel(ch channel, exchange, routingPrefix string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange, prefix: routingPrefix}
}

// RoutingKey returns the key a transition into state is published under.
func (p *Publisher) RoutingKey(state domain.ExtractionState) string {
	return p.prefix + "." + strings.ToLower(string(state))
}

func (p *Publisher) Publish(ctx context.Context, event *domain.TransitionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq.Publish: marshal: %w", err)
	}
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.RoutingKey(event.NewState),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq.Publish: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ port.TransitionPublisher = (*Publisher)(nil)
