package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
)

type fakeChannel struct {
	key    string
	msg    amqp.Publishing
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, queue: OutcomeQueue}
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Outcome{
		HistoryID:      "h1",
		UserID:         "u1",
		Status:         domain.StatusCompleted,
		ProcessingTime: 1234,
		FinishedAt:     finished,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueue, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, "h1", ch.msg.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, float64(1234), decoded["processingTime"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisherPublishError(t *testing.T) {
	p := &AMQPPublisher{ch: &fakeChannel{err: errors.New("channel closed")}, queue: OutcomeQueue}
	err := p.Publish(context.Background(), Outcome{HistoryID: "h1"})
	require.Error(t, err)
}
