package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ipulse/apiserver/config"
	"github.com/sirupsen/logrus"
)

const (
	TypeAccountRegistered      = "account.registered"
	TypePasswordResetRequested = "account.password_reset_requested"
)

// Event is the envelope published for every account notification.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers events to downstream consumers such as the mailer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Encode renders the envelope as the wire body.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// New builds the publisher selected by cfg.Backend.
func New(ctx context.Context, cfg config.EventsConfig, log logrus.FieldLogger) (Publisher, error) {
	switch cfg.Backend {
	case config.BackendRabbitMQ:
		return NewRabbitMQPublisher(cfg.RabbitMQ, cfg.ChannelPrefix)
	case config.BackendPubSub:
		return NewPubSubPublisher(ctx, cfg.PubSub, cfg.ChannelPrefix)
	case config.BackendNone, "":
		return NewLogPublisher(log), nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

func channelName(prefix, eventType string) string {
	return prefix + eventType
}
