package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/catalog"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type ProductStore struct{ DB *pgxpool.Pool }

var _ catalog.Store = (*ProductStore)(nil)

func NewProductStore(db *pgxpool.Pool) *ProductStore { return &ProductStore{DB: db} }

const productColumns = `id, sku, name, price_cents, stock, created_at`

func scanProduct(row pgx.CollectableRow) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt)
	return p, err
}

func (s *ProductStore) CreateProduct(ctx context.Context, p catalog.NewProduct) (orders.Product, error) {
	rows, err := s.DB.Query(ctx, `
		INSERT INTO products (sku, name, price_cents, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING `+productColumns, p.SKU, p.Name, p.PriceCents, p.Stock)
	if err != nil {
		return orders.Product{}, mapError(err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		return orders.Product{}, mapError(err)
	}
	return created, nil
}

func (s *ProductStore) UpdateProduct(ctx context.Context, id int64, patch catalog.ProductPatch) (orders.Product, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE products
		SET price_cents = COALESCE($2, price_cents), stock = COALESCE($3, stock)
		WHERE id = $1
		RETURNING `+productColumns, id, patch.PriceCents, patch.Stock)
	if err != nil {
		return orders.Product{}, mapError(err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, catalog.ProductNotFound(id)
	}
	if err != nil {
		return orders.Product{}, mapError(err)
	}
	return p, nil
}

func (s *ProductStore) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return orders.Product{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, catalog.ProductNotFound(id)
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (s *ProductStore) SearchProducts(ctx context.Context, f catalog.ProductFilter) ([]orders.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id > $1`
	args := []any{f.Cursor}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		q += ` AND (sku ILIKE $2 OR name ILIKE $2)`
	}
	args = append(args, f.Limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}
