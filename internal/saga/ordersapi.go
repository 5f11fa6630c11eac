package saga

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderCorrelationID  = "X-Correlation-Id"
)

type correlationKey struct{}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// OrdersClient calls the orders API. Every request carries a freshly minted
// service token, the correlation id and the W3C trace context.
type OrdersClient struct {
	http   *resty.Client
	tokens customers.TokenSource
}

func NewOrdersClient(baseURL string, tokens customers.TokenSource, timeout time.Duration) *OrdersClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			ctx := r.Context()
			if id := CorrelationID(ctx); id != "" {
				r.SetHeader(HeaderCorrelationID, id)
			}
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))
			return nil
		})
	return &OrdersClient{http: c, tokens: tokens}
}

type createOrderBody struct {
	CustomerID     int64              `json:"customer_id"`
	Items          []orders.LineInput `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
}

func (c *OrdersClient) Create(ctx context.Context, customerID int64, items []orders.LineInput, key string) (orders.Order, error) {
	var out orders.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", &out, func(r *resty.Request) {
		r.SetBody(createOrderBody{CustomerID: customerID, Items: items, IdempotencyKey: key})
	})
	return out, err
}

func (c *OrdersClient) Confirm(ctx context.Context, orderID int64, key string) (orders.Order, error) {
	var out orders.Order
	err := c.do(ctx, http.MethodPost, "/api/orders/{id}/confirm", &out, func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(orderID, 10)).SetHeader(HeaderIdempotencyKey, key)
	})
	return out, err
}

func (c *OrdersClient) Get(ctx context.Context, orderID int64) (orders.OrderWithItems, error) {
	var out orders.OrderWithItems
	err := c.do(ctx, http.MethodGet, "/api/orders/{id}", &out, func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(orderID, 10))
	})
	return out, err
}

// errorBody mirrors the JSON error the orders API writes.
type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (c *OrdersClient) do(ctx context.Context, method, path string, out any, build func(*resty.Request)) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return apperr.Internal("mint service token", err)
	}
	var failure errorBody
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetResult(out).
		SetError(&failure)
	build(req)

	resp, err := req.Execute(method, path)
	if err != nil {
		return apperr.Transport("orders", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	msg := failure.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	e := apperr.Upstream(resp.StatusCode(), msg, nil)
	if failure.Error != "" {
		e.Code = failure.Error
	}
	if len(failure.Details) > 0 {
		e = e.WithDetails(failure.Details)
	}
	return e
}
