package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DigestConsumer reads seat.events and appends one line per event to a log
// file.  It reconnects with exponential backoff until its context ends.
type DigestConsumer struct {
	URL     string
	Queue   string
	LogPath string
	Logger  *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewDigestConsumer returns a consumer for queue writing to logPath.
func NewDigestConsumer(url, queue, logPath string, logger *zap.Logger) *DigestConsumer {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestConsumer{
		URL:     url,
		Queue:   queue,
		LogPath: logPath,
		Logger:  logger.Named("digest"),
		now:     time.Now,
	}
}

// Run consumes until ctx is done.  Broker failures are retried and never
// returned; the error is ctx.Err().
func (c *DigestConsumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		err := backoff.RetryNotify(func() error {
			return c.session(ctx)
		}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
			c.Logger.Warn("consumer disconnected, retrying",
				zap.String("queue", c.Queue),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
		if err != nil && ctx.Err() == nil {
			c.Logger.Error("consumer stopped", zap.Error(err))
		}
	}
	return ctx.Err()
}

// session dials, consumes until the channel closes or ctx ends, and
// reports why it stopped.
func (c *DigestConsumer) session(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Logger.Info("consuming", zap.String("queue", c.Queue), zap.String("log", c.LogPath))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Logger.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and appends its digest line.
func (c *DigestConsumer) Handle(body []byte) error {
	var m SeatEventMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if m.Type == "" {
		return errors.New("message without type")
	}
	line := DigestLine(m, c.now()) + "\n"

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
