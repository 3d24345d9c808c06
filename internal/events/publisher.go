// Package events publishes processing outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
)

// OutcomeQueue is the durable queue receiving finished attempts.
const OutcomeQueue = "history.outcomes"

// Outcome describes a finished processing attempt.
type Outcome struct {
	HistoryID      string               `json:"historyId"`
	UserID         string               `json:"userId"`
	Status         domain.HistoryStatus `json:"status"`
	ProcessingTime int64                `json:"processingTime"`
	FinishedAt     time.Time            `json:"finishedAt"`
}

// Publisher delivers outcomes. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Outcome) error { return nil }

func (NopPublisher) Close() error { return nil }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends outcomes to RabbitMQ as persistent JSON messages.
type AMQPPublisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     amqpChannel
	queue  string
	logger *infra.Logger
}

// NewAMQPPublisher dials the broker and declares the durable outcome queue.
func NewAMQPPublisher(url string, logger *infra.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(OutcomeQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare queue: %w", err)
	}
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: OutcomeQueue, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, o Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("events: marshal outcome: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    o.FinishedAt,
		MessageId:    o.HistoryID,
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	if p.logger != nil {
		p.logger.Debug().Str("history_id", o.HistoryID).Str("status", string(o.Status)).Msg("events: outcome published")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	if p.ch != nil {
		first = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*AMQPPublisher)(nil)
)
