package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCanceled  = "OrderCanceled"
)

var eventTopics = map[string]string{
	EventOrderCreated:   TopicOrderCreated,
	EventOrderConfirmed: TopicOrderConfirmed,
	EventOrderCanceled:  TopicOrderCanceled,
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type LifecyclePayload struct {
	OrderID     int64      `json:"order_id"`
	CustomerID  int64      `json:"customer_id"`
	Status      Status     `json:"status"`
	TotalCents  int64      `json:"total_cents"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func payloadOf(o Order) LifecyclePayload {
	return LifecyclePayload{
		OrderID: o.ID, CustomerID: o.CustomerID, Status: o.Status,
		TotalCents: o.TotalCents, ConfirmedAt: o.ConfirmedAt,
	}
}

// EventPublisher receives lifecycle events after their transaction committed.
// Publishing is best effort and never changes the caller's outcome.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, o Order)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, Order) {}

type producer interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// KafkaPublisher wraps lifecycle events in an Envelope and hands them to the
// async producer.
type KafkaPublisher struct {
	producer producer
	service  string
	now      func() time.Time
}

func NewKafkaPublisher(p *kafkax.Producer, service string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, service: service, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, o Order) {
	topic, ok := eventTopics[eventType]
	if !ok {
		slog.WarnContext(ctx, "unknown order event type", "event_type", eventType)
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    p.now().UTC(),
		Producer:      p.service,
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       kafkax.MustMarshal(payloadOf(o)),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	p.producer.Publish(topic, PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
