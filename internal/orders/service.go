package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/idempotency"
)

// DefaultCancelGraceWindow is how long after confirmation an order may still
// be canceled. The boundary is inclusive.
const DefaultCancelGraceWindow = 10 * time.Minute

// CustomerGate validates a customer against the external registry.
type CustomerGate interface {
	ValidateCustomer(ctx context.Context, customerID int64) error
}

// Result is the outcome of an idempotent operation. Body is the exact payload
// to return to the caller; on replay it is the stored one.
type Result struct {
	Order    Order
	Body     json.RawMessage
	Replayed bool
}

type CancelResult struct {
	Order           Order
	AlreadyCanceled bool
}

type Service struct {
	store       Store
	customers   CustomerGate
	events      EventPublisher
	now         func() time.Time
	graceWindow time.Duration
	log         *slog.Logger
	tracer      trace.Tracer
	meters      metric.MeterProvider
	metrics     instruments
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithGraceWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.graceWindow = d
		}
	}
}

func WithPublisher(p EventPublisher) Option { return func(s *Service) { s.events = p } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithMeterProvider(mp metric.MeterProvider) Option { return func(s *Service) { s.meters = mp } }

func NewService(store Store, customers CustomerGate, opts ...Option) *Service {
	s := &Service{
		store:       store,
		customers:   customers,
		events:      noopPublisher{},
		now:         time.Now,
		graceWindow: DefaultCancelGraceWindow,
		log:         slog.Default(),
		tracer:      otel.Tracer("orders"),
		meters:      otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	s.metrics = newInstruments(s.meters.Meter("orders"))
	return s
}

func (s *Service) GraceWindow() time.Duration { return s.graceWindow }

func OrderNotFound(id int64) *apperr.Error {
	return apperr.NotFound("ORDER_NOT_FOUND", fmt.Sprintf("order %d not found", id))
}

// CreateOrder validates the customer, reserves stock and inserts the order
// with its items in one transaction. With an idempotency key, a repeated call
// returns the first response and changes nothing.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.create",
		trace.WithAttributes(attribute.Int64("customer_id", in.CustomerID), attribute.Int("items", len(in.Items))))
	defer func() { endSpan(span, err) }()

	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	lines := MergeLines(in.Items)
	key := idempotency.Key{Value: in.IdempotencyKey, Target: idempotency.TargetOrderCreate}
	guarded := key.Value != ""

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if guarded {
			prior, err := idempotency.BeginOrFetch(ctx, tx, key, idempotency.StatusCreated)
			if err != nil {
				return err
			}
			if prior.AlreadyCompleted {
				res = Result{Body: prior.Stored, Replayed: true}
				return json.Unmarshal(prior.Stored, &res.Order)
			}
		}

		if err := s.customers.ValidateCustomer(ctx, in.CustomerID); err != nil {
			return err
		}

		locked, err := tx.LockProducts(ctx, ProductIDs(lines))
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		reservation, err := Reserve(lines, locked)
		if err != nil {
			return err
		}

		order, err := tx.InsertOrder(ctx, NewOrder{
			CustomerID: in.CustomerID,
			TotalCents: reservation.TotalCents,
			CreatedAt:  s.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if _, err := tx.InsertItems(ctx, order.ID, reservation.Lines); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		for _, l := range reservation.Lines {
			if err := tx.AdjustStock(ctx, l.ProductID, -l.Qty); err != nil {
				return fmt.Errorf("decrement stock of product %d: %w", l.ProductID, err)
			}
		}

		var body json.RawMessage
		if guarded {
			body, err = idempotency.Complete(ctx, tx, key, idempotency.StatusCreated, order.ID, order)
		} else {
			body, err = json.Marshal(order)
		}
		if err != nil {
			return err
		}
		res = Result{Order: order, Body: body}
		return nil
	})
	if err != nil {
		if guarded {
			s.release(ctx, key)
		}
		s.metrics.reject(ctx, "create", err)
		return Result{}, err
	}

	if res.Replayed {
		s.log.InfoContext(ctx, "order creation replayed", "order_id", res.Order.ID, "idempotency_key", key.Value)
		s.metrics.replay(ctx, "create")
		return res, nil
	}
	s.log.InfoContext(ctx, "order created", "order_id", res.Order.ID, "customer_id", res.Order.CustomerID,
		"total_cents", res.Order.TotalCents)
	s.metrics.created.Add(ctx, 1)
	s.events.Publish(ctx, EventOrderCreated, res.Order)
	return res, nil
}

// ConfirmOrder moves a CREATED order to CONFIRMED. The idempotency key is
// mandatory and is checked before the order state, so a repeated confirm is
// a replay rather than a state error.
func (s *Service) ConfirmOrder(ctx context.Context, orderID int64, idemKey string) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.confirm", trace.WithAttributes(attribute.Int64("order_id", orderID)))
	defer func() { endSpan(span, err) }()

	if idemKey == "" {
		return Result{}, apperr.Validation("IDEMPOTENCY_KEY_REQUIRED", "X-Idempotency-Key header is required")
	}
	key := idempotency.Key{Value: idemKey, Target: idempotency.TargetOrderConfirm}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		prior, err := idempotency.BeginOrFetch(ctx, tx, key, idempotency.StatusConfirmed)
		if err != nil {
			return err
		}
		if prior.AlreadyCompleted {
			if prior.TargetID != nil && *prior.TargetID != orderID {
				return apperr.Conflict("IDEMPOTENCY_KEY_REUSED", "idempotency key was used to confirm another order")
			}
			res = Result{Body: prior.Stored, Replayed: true}
			return json.Unmarshal(prior.Stored, &res.Order)
		}

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusCreated {
			return apperr.Conflict("ORDER_NOT_CREATED", "only orders in CREATED status can be confirmed").
				WithDetails(map[string]Status{"status": order.Status})
		}

		now := s.now().UTC()
		if err := tx.UpdateOrderStatus(ctx, order.ID, StatusConfirmed, &now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = StatusConfirmed
		order.ConfirmedAt = &now

		body, err := idempotency.Complete(ctx, tx, key, idempotency.StatusConfirmed, order.ID, order)
		if err != nil {
			return err
		}
		res = Result{Order: order, Body: body}
		return nil
	})
	if err != nil {
		s.release(ctx, key)
		s.metrics.reject(ctx, "confirm", err)
		return Result{}, err
	}

	if res.Replayed {
		s.log.InfoContext(ctx, "order confirmation replayed", "order_id", orderID, "idempotency_key", idemKey)
		s.metrics.replay(ctx, "confirm")
		return res, nil
	}
	s.log.InfoContext(ctx, "order confirmed", "order_id", orderID)
	s.metrics.confirmed.Add(ctx, 1)
	s.events.Publish(ctx, EventOrderConfirmed, res.Order)
	return res, nil
}

// CancelOrder cancels a CREATED order, or a CONFIRMED one within the grace
// window, and restores stock for every item. Canceling a canceled order
// returns it unchanged.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) (res CancelResult, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.cancel", trace.WithAttributes(attribute.Int64("order_id", orderID)))
	defer func() { endSpan(span, err) }()

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusCanceled:
			res = CancelResult{Order: order, AlreadyCanceled: true}
			return nil
		case StatusConfirmed:
			if !s.withinGrace(order) {
				return apperr.Conflict("CANCEL_WINDOW_ELAPSED",
					fmt.Sprintf("confirmed orders can only be canceled within %s of confirmation", s.graceWindow))
			}
		}
		if !CanTransition(order.Status, StatusCanceled) {
			return apperr.Conflict("INVALID_TRANSITION", fmt.Sprintf("cannot cancel an order in %s status", order.Status))
		}

		items, err := tx.OrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load order items: %w", err)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			if err := tx.AdjustStock(ctx, it.ProductID, it.Qty); err != nil {
				return fmt.Errorf("restore stock of product %d: %w", it.ProductID, err)
			}
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, StatusCanceled, order.ConfirmedAt); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = StatusCanceled
		res = CancelResult{Order: order}
		return nil
	})
	if err != nil {
		s.metrics.reject(ctx, "cancel", err)
		return CancelResult{}, err
	}
	if !res.AlreadyCanceled {
		s.log.InfoContext(ctx, "order canceled", "order_id", orderID)
		s.metrics.canceled.Add(ctx, 1)
		s.events.Publish(ctx, EventOrderCanceled, res.Order)
	}
	return res, nil
}

// Settled reports whether o can no longer change: canceled, or confirmed
// with the cancellation window closed.
func (s *Service) Settled(o Order) bool {
	switch o.Status {
	case StatusCanceled:
		return true
	case StatusConfirmed:
		return o.ConfirmedAt != nil && !s.withinGrace(o)
	}
	return false
}

func (s *Service) withinGrace(o Order) bool {
	if o.ConfirmedAt == nil {
		return false
	}
	return s.now().Sub(*o.ConfirmedAt) <= s.graceWindow
}

// GetOrder returns the order with items annotated with current product data.
func (s *Service) GetOrder(ctx context.Context, id int64) (OrderWithItems, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return OrderWithItems{}, err
	}
	items, err := s.store.ListItems(ctx, id)
	if err != nil {
		return OrderWithItems{}, fmt.Errorf("list items of order %d: %w", id, err)
	}
	if items == nil {
		items = []ItemView{}
	}
	return OrderWithItems{Order: o, Items: items}, nil
}

func (s *Service) SearchOrders(ctx context.Context, f OrderFilter) (Page[Order], error) {
	if f.Status != "" && !f.Status.Valid() {
		return Page[Order]{}, apperr.Validation("INVALID_STATUS", fmt.Sprintf("unknown order status %q", f.Status))
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return Page[Order]{}, apperr.Validation("INVALID_RANGE", "from must not be after to")
	}
	f.Limit = ClampLimit(f.Limit)
	limit := f.Limit
	f.Limit++
	rows, err := s.store.SearchOrders(ctx, f)
	if err != nil {
		return Page[Order]{}, fmt.Errorf("search orders: %w", err)
	}
	return NewPage(rows, limit, func(o Order) int64 { return o.ID }), nil
}

func (s *Service) release(ctx context.Context, key idempotency.Key) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := idempotency.Release(ctx, s.store, key); err != nil {
		s.log.ErrorContext(ctx, "failed to release idempotency key", "key", key.String(), "err", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
