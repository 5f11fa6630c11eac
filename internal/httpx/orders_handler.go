package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/saga"
)

// OrderViewCache holds rendered order views; redisx.OrderCache satisfies it.
type OrderViewCache interface {
	Get(ctx context.Context, orderID int64) ([]byte, bool)
	Set(ctx context.Context, orderID int64, view []byte)
	Invalidate(ctx context.Context, orderID int64)
}

type OrdersHandler struct {
	Service *orders.Service
	Cache   OrderViewCache // optional
	Log     *slog.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/", h.createOrder)
	r.Get("/", h.searchOrders)
	r.Get("/{id}", h.getOrder)
	r.Post("/{id}/confirm", h.confirmOrder)
	r.Post("/{id}/cancel", h.cancelOrder)
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get(saga.HeaderIdempotencyKey)
	}

	res, err := h.Service.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	w.Header().Set("Location", orderLocation(res.Order.ID))
	writeRaw(w, code, res.Body)
}

func (h *OrdersHandler) searchOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	page, err := h.Service.SearchOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseOrderFilter(r *http.Request) (orders.OrderFilter, error) {
	q := r.URL.Query()
	f := orders.OrderFilter{Status: orders.Status(q.Get("status"))}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.Validation("INVALID_QUERY", p.name+" must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}
	cursor, err := queryInt64(r, "cursor")
	if err != nil {
		return f, err
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		return f, err
	}
	f.Cursor = cursor
	f.Limit = int(min(limit, int64(orders.MaxPageLimit)))
	return f, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if h.Cache != nil {
		if b, ok := h.Cache.Get(r.Context(), id); ok {
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, b)
			return
		}
	}

	view, err := h.Service.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	b, err := json.Marshal(view)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if h.Cache != nil {
		// Only settled views are stored, so a read racing a confirm or
		// cancel cannot leave an older state behind.
		if h.Service.Settled(view.Order) {
			h.Cache.Set(r.Context(), id, b)
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeRaw(w, http.StatusOK, b)
}

func (h *OrdersHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	res, err := h.Service.ConfirmOrder(r.Context(), id, r.Header.Get(saga.HeaderIdempotencyKey))
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	h.invalidate(r.Context(), id)
	writeRaw(w, http.StatusOK, res.Body)
}

type cancelResponse struct {
	orders.Order
	AlreadyCanceled bool `json:"already_canceled"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	res, err := h.Service.CancelOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, cancelResponse{Order: res.Order, AlreadyCanceled: res.AlreadyCanceled})
}

func (h *OrdersHandler) invalidate(ctx context.Context, id int64) {
	if h.Cache != nil {
		h.Cache.Invalidate(ctx, id)
	}
}

// orderLocation is the canonical URL of an order resource.
func orderLocation(id int64) string { return "/api/orders/" + strconv.FormatInt(id, 10) }
