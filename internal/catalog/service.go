// Package catalog manages the products that orders reserve stock from.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type NewProduct struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

// ProductPatch updates price and/or stock; nil fields are left untouched.
type ProductPatch struct {
	PriceCents *int64 `json:"price_cents"`
	Stock      *int   `json:"stock"`
}

type ProductFilter struct {
	Search string
	Cursor int64
	Limit  int
}

type Store interface {
	CreateProduct(ctx context.Context, p NewProduct) (orders.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (orders.Product, error)
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
	SearchProducts(ctx context.Context, f ProductFilter) ([]orders.Product, error)
}

type Service struct{ store Store }

func NewService(store Store) *Service { return &Service{store: store} }

func ProductNotFound(id int64) *apperr.Error {
	return apperr.NotFound("PRODUCT_NOT_FOUND", fmt.Sprintf("product %d not found", id))
}

func (s *Service) CreateProduct(ctx context.Context, p NewProduct) (orders.Product, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)

	var problems []orders.FieldProblem
	if n := utf8.RuneCountInString(p.SKU); n < 5 || n > 50 {
		problems = append(problems, orders.FieldProblem{Field: "sku", Message: "must be between 5 and 50 characters"})
	}
	if n := utf8.RuneCountInString(p.Name); n < 1 || n > 255 {
		problems = append(problems, orders.FieldProblem{Field: "name", Message: "must be between 1 and 255 characters"})
	}
	if p.PriceCents <= 0 {
		problems = append(problems, orders.FieldProblem{Field: "price_cents", Message: "must be a positive integer"})
	}
	if p.Stock < 0 {
		problems = append(problems, orders.FieldProblem{Field: "stock", Message: "must not be negative"})
	}
	if len(problems) > 0 {
		return orders.Product{}, apperr.Validation("INVALID_PRODUCT", "validation error").WithDetails(problems)
	}

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return orders.Product{}, apperr.Conflict("SKU_EXISTS", "SKU already exists")
		}
		return orders.Product{}, fmt.Errorf("create product: %w", err)
	}
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (orders.Product, error) {
	if patch.PriceCents == nil && patch.Stock == nil {
		return orders.Product{}, apperr.Validation("EMPTY_PATCH", "at least one of price_cents or stock is required")
	}
	if patch.PriceCents != nil && *patch.PriceCents <= 0 {
		return orders.Product{}, apperr.Validation("INVALID_PRODUCT", "price_cents must be a positive integer")
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return orders.Product{}, apperr.Validation("INVALID_PRODUCT", "stock must not be negative")
	}
	return s.store.UpdateProduct(ctx, id, patch)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) SearchProducts(ctx context.Context, f ProductFilter) (orders.Page[orders.Product], error) {
	f.Search = strings.TrimSpace(f.Search)
	f.Limit = orders.ClampLimit(f.Limit)
	limit := f.Limit
	f.Limit++
	rows, err := s.store.SearchProducts(ctx, f)
	if err != nil {
		return orders.Page[orders.Product]{}, fmt.Errorf("search products: %w", err)
	}
	return orders.NewPage(rows, limit, func(p orders.Product) int64 { return p.ID }), nil
}
