package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/training-seat-pools/internal/model"
	"github.com/iliyamo/training-seat-pools/internal/queue"
)

type fakeChannel struct {
	mu       sync.Mutex
	declared []string
	sent     []amqp.Publishing
	keys     []string
	failNext error
	closed   bool
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	c.keys = append(c.keys, key)
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func grantedEvent(t *testing.T, id uint64) model.Event {
	t.Helper()
	e, err := model.NewEvent(model.EventGranted, 3, time.Now().UTC(), model.SeatPayload{CourseID: "go-101"})
	require.NoError(t, err)
	e.ID = id
	member := "ann"
	e.MemberID = &member
	return e
}

func TestEventPublisherPublishesAndRedials(t *testing.T) {
	var (
		dials    int
		channels []*fakeChannel
	)
	p := NewEventPublisher("amqp://broker", "", zaptest.NewLogger(t))
	p.dial = func(string) (channel, func() error, error) {
		dials++
		ch := &fakeChannel{}
		channels = append(channels, ch)
		return ch, func() error { return nil }, nil
	}
	ctx := context.Background()

	require.NoError(t, p.Notify(ctx, grantedEvent(t, 1)))
	require.NoError(t, p.Notify(ctx, grantedEvent(t, 2)))
	assert.Equal(t, 1, dials)
	first := channels[0]
	assert.Equal(t, []string{queue.DefaultQueue}, first.declared)
	assert.Equal(t, []string{queue.DefaultQueue, queue.DefaultQueue}, first.keys)

	msg := first.sent[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "granted", msg.Type)
	var wire queue.SeatEventMessage
	require.NoError(t, json.Unmarshal(msg.Body, &wire))
	assert.Equal(t, uint64(1), wire.EventID)
	assert.Equal(t, "ann", wire.MemberID)

	first.failNext = errors.New("channel closed")
	assert.Error(t, p.Notify(ctx, grantedEvent(t, 3)))
	assert.True(t, first.closed)

	require.NoError(t, p.Notify(ctx, grantedEvent(t, 4)))
	assert.Equal(t, 2, dials)
	require.NoError(t, p.Close())
	assert.True(t, channels[1].closed)
}

func TestEventPublisherWithoutURL(t *testing.T) {
	p := NewEventPublisher("", "q", nil)
	assert.Error(t, p.Notify(context.Background(), grantedEvent(t, 1)))
}

func TestHTTPEnroller(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			switch body["course_id"] {
			case "dup":
				w.WriteHeader(http.StatusConflict)
			case "bad":
				w.WriteHeader(http.StatusUnprocessableEntity)
			default:
				w.WriteHeader(http.StatusCreated)
			}
		case r.URL.Path == "/api/enrollments/ann/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	e := NewHTTPEnroller(srv.URL+"/api/", "tok", 2*time.Second, zaptest.NewLogger(t))
	ctx := context.Background()
	assert.NoError(t, e.Enroll(ctx, "ann", "go-101"))
	assert.NoError(t, e.Enroll(ctx, "ann", "dup"))
	assert.Error(t, e.Enroll(ctx, "ann", "bad"))
	assert.NoError(t, e.Unenroll(ctx, "ann", "go-101"))
	assert.NoError(t, e.Unenroll(ctx, "ann", "gone"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, calls, "POST /api/enrollments")
	assert.Contains(t, calls, "DELETE /api/enrollments/ann/go-101")
}
