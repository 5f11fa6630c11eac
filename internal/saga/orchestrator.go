// Package saga places an order end to end: validate the customer, create the
// order, confirm it and read it back. Steps run strictly in order and the
// first failure stops the run. Effects already committed by earlier steps are
// not compensated; a failure after creation leaves a CREATED order behind,
// and retrying with the same idempotency key resumes from it.
package saga

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/idempotency"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type CustomerLookup interface {
	Validate(ctx context.Context, id int64) (customers.Customer, error)
}

type OrderAPI interface {
	Create(ctx context.Context, customerID int64, items []orders.LineInput, key string) (orders.Order, error)
	Confirm(ctx context.Context, orderID int64, key string) (orders.Order, error)
	Get(ctx context.Context, orderID int64) (orders.OrderWithItems, error)
}

type PlaceOrderRequest struct {
	CustomerID     int64              `json:"customer_id"`
	Items          []orders.LineInput `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
}

type PlacedItem struct {
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	UnitPriceCents int64 `json:"unit_price_cents"`
	SubtotalCents  int64 `json:"subtotal_cents"`
}

type PlacedOrder struct {
	orders.Order
	Items []PlacedItem `json:"items"`
}

type Placement struct {
	Customer customers.Customer `json:"customer"`
	Order    PlacedOrder        `json:"order"`
}

type Failure struct {
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Details any    `json:"details,omitempty"`
}

type Envelope struct {
	Success       bool       `json:"success"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Data          *Placement `json:"data,omitempty"`
	Error         *Failure   `json:"error,omitempty"`
}

// Outcome is the HTTP status and body for the external caller.
type Outcome struct {
	Status   int
	Envelope Envelope
}

const (
	StepValidateCustomer = "validate_customer"
	StepCreateOrder      = "create_order"
	StepConfirmOrder     = "confirm_order"
	StepFetchOrder       = "fetch_order"
)

// run carries state between steps of one placement.
type run struct {
	req      PlaceOrderRequest
	customer customers.Customer
	created  orders.Order
	final    orders.OrderWithItems
}

type step struct {
	name string
	exec func(ctx context.Context, r *run) error
}

type Orchestrator struct {
	customers CustomerLookup
	orders    OrderAPI
	tracer    trace.Tracer
	log       *slog.Logger
	steps     []step

	placements metric.Int64Counter
	latency    metric.Float64Histogram
}

func NewOrchestrator(c CustomerLookup, o OrderAPI, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	s := &Orchestrator{customers: c, orders: o, tracer: otel.Tracer("saga"), log: log}
	meter := otel.Meter("saga")
	s.placements, _ = meter.Int64Counter("saga.placements", metric.WithDescription("Order placements by outcome"))
	s.latency, _ = meter.Float64Histogram("saga.duration", metric.WithUnit("s"),
		metric.WithDescription("Time spent placing an order"))
	s.steps = []step{
		{StepValidateCustomer, s.validateCustomer},
		{StepCreateOrder, s.createOrder},
		{StepConfirmOrder, s.confirmOrder},
		{StepFetchOrder, s.fetchOrder},
	}
	return s
}

func (s *Orchestrator) validateCustomer(ctx context.Context, r *run) error {
	c, err := s.customers.Validate(ctx, r.req.CustomerID)
	r.customer = c
	return err
}

// createOrder namespaces the caller key so a retried placement finds the
// order it created before.
func (s *Orchestrator) createOrder(ctx context.Context, r *run) error {
	o, err := s.orders.Create(ctx, r.req.CustomerID, r.req.Items, idempotency.CreationKey(r.req.IdempotencyKey))
	r.created = o
	return err
}

func (s *Orchestrator) confirmOrder(ctx context.Context, r *run) error {
	_, err := s.orders.Confirm(ctx, r.created.ID, r.req.IdempotencyKey)
	return err
}

func (s *Orchestrator) fetchOrder(ctx context.Context, r *run) error {
	o, err := s.orders.Get(ctx, r.created.ID)
	r.final = o
	return err
}

func validate(req PlaceOrderRequest) error {
	in := orders.CreateOrderInput{CustomerID: req.CustomerID, Items: req.Items}
	if err := in.Validate(); err != nil {
		return err
	}
	if req.IdempotencyKey == "" {
		return apperr.Validation("IDEMPOTENCY_KEY_REQUIRED", "idempotency_key is required")
	}
	return nil
}

func (s *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) Outcome {
	ctx = WithCorrelationID(ctx, req.CorrelationID)
	ctx, span := s.tracer.Start(ctx, "saga.place_order", trace.WithAttributes(
		attribute.Int64("customer_id", req.CustomerID),
		attribute.String("correlation_id", req.CorrelationID),
	))
	defer span.End()
	log := s.log.With("correlation_id", req.CorrelationID, "customer_id", req.CustomerID)

	if err := validate(req); err != nil {
		return s.fail(ctx, log, span, req, "", err)
	}

	started := time.Now()
	r := &run{req: req}
	for _, st := range s.steps {
		stepCtx, stepSpan := s.tracer.Start(ctx, "saga."+st.name)
		err := st.exec(stepCtx, r)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
		}
		stepSpan.End()
		if err != nil {
			s.record(ctx, "failed", st.name, time.Since(started))
			return s.fail(ctx, log, span, req, st.name, err)
		}
		log.DebugContext(ctx, "saga step done", "step", st.name)
	}

	elapsed := time.Since(started)
	s.record(ctx, "placed", "", elapsed)
	log.InfoContext(ctx, "order placed", "order_id", r.final.ID, "elapsed", elapsed.String())
	return Outcome{
		Status: http.StatusCreated,
		Envelope: Envelope{
			Success:       true,
			CorrelationID: req.CorrelationID,
			Data:          &Placement{Customer: r.customer, Order: placed(r.final)},
		},
	}
}

func (s *Orchestrator) record(ctx context.Context, outcome, stepName string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("step", stepName))
	if s.placements != nil {
		s.placements.Add(ctx, 1, attrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func placed(o orders.OrderWithItems) PlacedOrder {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			ProductID: it.ProductID, Qty: it.Qty, UnitPriceCents: it.UnitPriceCents, SubtotalCents: it.SubtotalCents,
		})
	}
	return PlacedOrder{Order: o.Order, Items: items}
}

func (s *Orchestrator) fail(ctx context.Context, log *slog.Logger, span trace.Span, req PlaceOrderRequest, stepName string, err error) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	f := &Failure{Message: "error orchestrating order", Step: stepName}
	status := http.StatusInternalServerError
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal {
		status = apperr.HTTPStatus(e)
		if e.Status >= 400 && e.Status <= 599 {
			status = e.Status
		}
		f.Code = e.Code
		f.Detail = e.Message
		f.Details = e.Details
		log.WarnContext(ctx, "order placement failed", "step", stepName, "status", status, "err", err)
	} else {
		f.Detail = "internal error"
		log.ErrorContext(ctx, "order placement failed", "step", stepName, "err", err)
	}
	f.Status = status
	return Outcome{
		Status:   status,
		Envelope: Envelope{Success: false, CorrelationID: req.CorrelationID, Error: f},
	}
}
