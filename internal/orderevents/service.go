// Package orderevents consumes order lifecycle events and records an audit
// trail. Delivery is at least once; duplicates are dropped by event id.
package orderevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// Deduper is satisfied by redisx.Deduper.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Sink receives every first-seen lifecycle event.
type Sink func(ctx context.Context, ev orders.Envelope, p orders.LifecyclePayload) error

type Service struct {
	dedup Deduper
	sink  Sink
	log   *slog.Logger
}

func NewService(dedup Deduper, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{dedup: dedup, log: log}
	s.sink = s.audit
	return s
}

// WithSink replaces the audit log writer.
func (s *Service) WithSink(sink Sink) *Service {
	s.sink = sink
	return s
}

func (s *Service) audit(ctx context.Context, ev orders.Envelope, p orders.LifecyclePayload) error {
	s.log.InfoContext(ctx, "order lifecycle event",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"producer", ev.Producer,
		"occurred_at", ev.OccurredAt,
		"order_id", p.OrderID,
		"customer_id", p.CustomerID,
		"status", p.Status,
		"total_cents", p.TotalCents,
		"trace_id", ev.TraceID,
	)
	return nil
}

// HandleEvent is installed as the consumer handler. Malformed messages are
// logged and committed so they cannot block the partition.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		s.log.WarnContext(ctx, "skipping undecodable event", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	if ev.EventType == "" {
		ev.EventType = kafkax.Header(m, "x-event-type")
	}
	switch ev.EventType {
	case orders.EventOrderCreated, orders.EventOrderConfirmed, orders.EventOrderCanceled:
	default:
		return nil
	}
	if ev.EventID == "" {
		s.log.WarnContext(ctx, "skipping event without id", "topic", m.Topic, "offset", m.Offset)
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.LifecyclePayload](ev.Payload)
	if err != nil {
		s.log.WarnContext(ctx, "skipping event with bad payload", "event_id", ev.EventID, "err", err)
		return nil
	}

	first, err := s.dedup.FirstSeen(ctx, ev.EventID)
	if err != nil {
		return err
	}
	if !first {
		s.log.DebugContext(ctx, "duplicate event dropped", "event_id", ev.EventID)
		return nil
	}

	if err := s.sink(ctx, ev, p); err != nil {
		if ferr := s.dedup.Forget(ctx, ev.EventID); ferr != nil {
			s.log.WarnContext(ctx, "dedup mark not cleared", "event_id", ev.EventID, "err", ferr)
		}
		return fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	return nil
}
