package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-saga/internal/saga"
)

// Placer runs the order placement saga; *saga.Orchestrator satisfies it.
type Placer interface {
	PlaceOrder(ctx context.Context, req saga.PlaceOrderRequest) saga.Outcome
}

type OrchestratorHandler struct {
	Saga Placer
	Log  *slog.Logger
}

func (h *OrchestratorHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
}

func (h *OrchestratorHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req saga.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		log := h.Log
		if log == nil {
			log = slog.Default()
		}
		writeError(w, r, log, err)
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = r.Header.Get(saga.HeaderCorrelationID)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(saga.HeaderIdempotencyKey)
	}

	out := h.Saga.PlaceOrder(r.Context(), req)
	if out.Envelope.CorrelationID != "" {
		w.Header().Set(saga.HeaderCorrelationID, out.Envelope.CorrelationID)
	}
	writeJSON(w, out.Status, out.Envelope)
}
