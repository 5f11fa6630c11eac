package orderevents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemDedup() *memDedup { return &memDedup{seen: map[string]bool{}} }

func (d *memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type recorded struct {
	mu     sync.Mutex
	events []orders.LifecyclePayload
	fail   error
}

func (r *recorded) sink(_ context.Context, _ orders.Envelope, p orders.LifecyclePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, p)
	return nil
}

func message(eventID, eventType string, orderID int64) kafkago.Message {
	ev := orders.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Producer:     "orders-api",
		Payload:      kafkax.MustMarshal(orders.LifecyclePayload{OrderID: orderID, CustomerID: 1, Status: orders.StatusCreated, TotalCents: 10000}),
	}
	return kafkago.Message{Topic: orders.TopicOrderCreated, Value: kafkax.MustMarshal(ev)}
}

func TestHandleEvent_RecordsOnceDespiteRedelivery(t *testing.T) {
	rec := &recorded{}
	svc := NewService(newMemDedup(), nil).WithSink(rec.sink)
	m := message("evt-1", orders.EventOrderCreated, 5)

	require.NoError(t, svc.HandleEvent(context.Background(), m))
	require.NoError(t, svc.HandleEvent(context.Background(), m))

	require.Len(t, rec.events, 1)
	assert.EqualValues(t, 5, rec.events[0].OrderID)
}

func TestHandleEvent_SkipsUnusableMessages(t *testing.T) {
	rec := &recorded{}
	svc := NewService(newMemDedup(), nil).WithSink(rec.sink)

	cases := []kafkago.Message{
		{Value: []byte("{not json")},
		message("evt-2", "StockReserved", 1),
		message("", orders.EventOrderConfirmed, 1),
		{Value: []byte(`{"event_id":"evt-3","event_type":"OrderCanceled","payload":"oops"}`)},
	}
	for _, m := range cases {
		assert.NoError(t, svc.HandleEvent(context.Background(), m))
	}

	assert.Empty(t, rec.events)
}

func TestHandleEvent_FailedSinkAllowsRetry(t *testing.T) {
	rec := &recorded{fail: errors.New("disk full")}
	svc := NewService(newMemDedup(), nil).WithSink(rec.sink)
	m := message("evt-4", orders.EventOrderCanceled, 8)

	err := svc.HandleEvent(context.Background(), m)
	require.Error(t, err)

	rec.fail = nil
	require.NoError(t, svc.HandleEvent(context.Background(), m))
	assert.Len(t, rec.events, 1)
}

func TestHandleEvent_DedupErrorLeavesMessageUncommitted(t *testing.T) {
	d := newMemDedup()
	d.err = errors.New("redis down")
	svc := NewService(d, nil)

	err := svc.HandleEvent(context.Background(), message("evt-5", orders.EventOrderCreated, 1))

	assert.ErrorContains(t, err, "redis down")
}

func TestHandleEvent_TypeFromHeader(t *testing.T) {
	rec := &recorded{}
	svc := NewService(newMemDedup(), nil).WithSink(rec.sink)
	m := message("evt-6", "", 3)
	m.Headers = []kafkago.Header{{Key: "x-event-type", Value: []byte(orders.EventOrderConfirmed)}}

	require.NoError(t, svc.HandleEvent(context.Background(), m))

	assert.Len(t, rec.events, 1)
}
