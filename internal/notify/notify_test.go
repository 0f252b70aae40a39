package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	event, err := NewEvent(TypeBookingQuoted, map[string]string{"entityId": "seaside"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if event.ID == "" || event.OccurredAt.IsZero() || event.Type != TypeBookingQuoted {
		t.Fatalf("unexpected event: %+v", event)
	}
	var payload map[string]string
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload["entityId"] != "seaside" {
		t.Fatalf("unexpected payload: %s", event.Payload)
	}

	if _, err := NewEvent("x", make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestMemoryPublisherDeliversToConsumers(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
		done = make(chan struct{})
	)
	go func() {
		_ = pub.Consume(ctx, 2, func(_ context.Context, event Event) error {
			mu.Lock()
			seen = append(seen, event.Type)
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	for _, typ := range []string{TypeBookingQuoted, TypeAgentRegistered} {
		event, _ := NewEvent(typ, nil)
		if err := pub.Publish(ctx, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = pub.Close()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("consumer did not stop after close")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected two events, got %v", seen)
	}

	event, _ := NewEvent(TypeBookingQuoted, nil)
	if err := pub.Publish(context.Background(), event); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestToPublishing(t *testing.T) {
	t.Parallel()

	event := Event{ID: "id-1", Type: TypeBookingQuoted, TaskID: "task-1", OccurredAt: time.Unix(1700000000, 0)}
	msg := toPublishing(event, []byte("{}"), true)
	if msg.DeliveryMode != amqp.Persistent || msg.MessageId != "id-1" || msg.CorrelationId != "task-1" || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	if toPublishing(event, nil, false).DeliveryMode != amqp.Transient {
		t.Fatalf("non durable publisher should use transient delivery")
	}
}

// TestRabbitMQPublisher 需要真实的 RabbitMQ，通过 STAYRELAY_TEST_AMQP_URL 启用。
func TestRabbitMQPublisher(t *testing.T) {
	url := os.Getenv("STAYRELAY_TEST_AMQP_URL")
	if url == "" {
		t.Skip("STAYRELAY_TEST_AMQP_URL not set")
	}

	pub, err := NewRabbitMQPublisher(RabbitMQConfig{URL: url, Queue: "stayrelay.test", AutoDelete: true})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	event, _ := NewEvent(TypeAgentRegistered, map[string]string{"id": "x"})
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
