package orders

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type instruments struct {
	created   metric.Int64Counter
	confirmed metric.Int64Counter
	canceled  metric.Int64Counter
	replayed  metric.Int64Counter
	rejected  metric.Int64Counter
}

func newInstruments(m metric.Meter) instruments {
	return instruments{
		created:   counter(m, "orders.created", "Orders created"),
		confirmed: counter(m, "orders.confirmed", "Orders confirmed"),
		canceled:  counter(m, "orders.canceled", "Orders canceled"),
		replayed:  counter(m, "orders.replayed", "Idempotent calls answered from the ledger"),
		rejected:  counter(m, "orders.rejected", "Order operations refused with a conflict"),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.Meter{}.Int64Counter(name)
	}
	return c
}

func (in instruments) replay(ctx context.Context, op string) {
	in.replayed.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// reject counts conflicts only.
func (in instruments) reject(ctx context.Context, op string, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindConflict {
		return
	}
	in.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("code", e.Code),
	))
}
