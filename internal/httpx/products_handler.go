package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-saga/internal/catalog"
)

type ProductsHandler struct {
	Service *catalog.Service
	Log     *slog.Logger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Post("/", h.createProduct)
	r.Get("/", h.searchProducts)
	r.Get("/{id}", h.getProduct)
	r.Patch("/{id}", h.updateProduct)
}

func (h *ProductsHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewProduct
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	p, err := h.Service.CreateProduct(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	var patch catalog.ProductPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	p, err := h.Service.UpdateProduct(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	p, err := h.Service.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) searchProducts(w http.ResponseWriter, r *http.Request) {
	cursor, err := queryInt64(r, "cursor")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	page, err := h.Service.SearchProducts(r.Context(), catalog.ProductFilter{
		Search: r.URL.Query().Get("search"),
		Cursor: cursor,
		Limit:  int(min(limit, 1000)),
	})
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
