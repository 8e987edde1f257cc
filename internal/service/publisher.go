// Package service holds the adapters between the engine and outside
// systems: the RabbitMQ event publisher and the enrollment API client.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/model"
	"github.com/iliyamo/training-seat-pools/internal/queue"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a channel and returns a func that closes the connection
// behind it.
type dialer func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// EventPublisher forwards committed events to a durable RabbitMQ queue.  It
// keeps one channel open and redials after a failure.  Failures are
// returned to the engine, which logs them; they never undo a committed
// change.
type EventPublisher struct {
	url    string
	queue  string
	logger *zap.Logger
	dial   dialer

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewEventPublisher returns a publisher for queue on the broker at url.
// Nothing is dialed until the first event.
func NewEventPublisher(url, queueName string, logger *zap.Logger) *EventPublisher {
	if queueName == "" {
		queueName = queue.DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{url: url, queue: queueName, logger: logger.Named("publisher"), dial: dialAMQP}
}

// Notify publishes e as a persistent JSON message.
func (p *EventPublisher) Notify(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(queue.NewMessage(e))
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("seat-event-%d", e.ID),
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish event %d: %w", e.ID, err)
	}
	p.logger.Debug("event published",
		zap.Uint64("event_id", e.ID),
		zap.Uint64("pool_id", e.PoolID),
		zap.String("type", string(e.Type)))
	return nil
}

func (p *EventPublisher) channelLocked() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	if p.url == "" {
		return nil, errors.New("rabbitmq url not configured")
	}
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.ch, p.closeConn = ch, closeConn
	p.logger.Info("connected", zap.String("queue", p.queue))
	return ch, nil
}

func (p *EventPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

// Close releases the broker connection.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
