package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/ipulse/apiserver/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Encode(t *testing.T) {
	event, err := NewEvent(TypeAccountRegistered, map[string]any{"user_id": 1, "email": "a@x.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, TypeAccountRegistered, event.Type)
	assert.False(t, event.OccurredAt.IsZero())

	body, err := event.Encode()
	require.NoError(t, err)

	var decoded struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "a@x.com", decoded.Payload["email"])
}

func TestNewEvent_BadPayload(t *testing.T) {
	_, err := NewEvent(TypeAccountRegistered, make(chan int))
	require.Error(t, err)
}

func TestLogPublisher_OmitsPayload(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	event, err := NewEvent(TypePasswordResetRequested, map[string]string{"token": "super-secret"})
	require.NoError(t, err)

	p := NewLogPublisher(log)
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Close())

	assert.Contains(t, buf.String(), TypePasswordResetRequested)
	assert.NotContains(t, buf.String(), "super-secret")
}

func TestNew_SelectsBackend(t *testing.T) {
	p, err := New(context.Background(), config.EventsConfig{Backend: config.BackendNone}, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	_, err = New(context.Background(), config.EventsConfig{Backend: config.BackendRabbitMQ}, logrus.New())
	require.Error(t, err)

	_, err = New(context.Background(), config.EventsConfig{Backend: config.BackendPubSub}, logrus.New())
	require.Error(t, err)

	_, err = New(context.Background(), config.EventsConfig{Backend: "kafka"}, logrus.New())
	require.Error(t, err)
}

func TestTopicSafe(t *testing.T) {
	assert.Equal(t, "ipulse.account.registered", channelName("ipulse.", topicSafe(TypeAccountRegistered)))
	assert.Equal(t, "a-b", topicSafe("a:b"))
}
