package events

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ipulse/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher publishes each event type to its own queue through the
// default exchange.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	durable  bool
	prefix   string
	declared map[string]struct{}
}

func NewRabbitMQPublisher(cfg config.RabbitMQConfig, prefix string) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		durable:  cfg.QueueDurable,
		prefix:   prefix,
		declared: make(map[string]struct{}),
	}, nil
}

func (r *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	body, err := event.Encode()
	if err != nil {
		return err
	}

	queue := channelName(r.prefix, event.Type)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.declared[queue]; !ok {
		if _, err := r.channel.QueueDeclare(queue, r.durable, false, false, false, nil); err != nil {
			return err
		}
		r.declared[queue] = struct{}{}
	}

	deliveryMode := amqp.Transient
	if r.durable {
		deliveryMode = amqp.Persistent
	}

	return r.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
}

func (r *RabbitMQPublisher) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
