package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// OrderStore is the pgx implementation of orders.Store.
type OrderStore struct{ DB *pgxpool.Pool }

var _ orders.Store = (*OrderStore)(nil)

func NewOrderStore(db *pgxpool.Pool) *OrderStore { return &OrderStore{DB: db} }

func (s *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return inTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

const orderColumns = `id, customer_id, status, total_cents, created_at, confirmed_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &o.TotalCents, &o.CreatedAt, &o.ConfirmedAt); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	return o, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (s *OrderStore) ListItems(ctx context.Context, orderID int64) ([]orders.ItemView, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.qty, oi.unit_price_cents, oi.subtotal_cents, p.name, p.sku
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.ItemView, error) {
		var v orders.ItemView
		err := row.Scan(&v.ID, &v.OrderID, &v.ProductID, &v.Qty, &v.UnitPriceCents, &v.SubtotalCents, &v.Name, &v.SKU)
		return v, err
	})
}

func (s *OrderStore) SearchOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	var (
		conds = []string{"id > $1"}
		args  = []any{f.Cursor}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	args = append(args, f.Limit)
	q := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY id LIMIT $%d`,
		orderColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Order, error) {
		return scanOrder(row)
	})
}

type orderTx struct{ tx pgx.Tx }

func (t *orderTx) LockProducts(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, sku, name, price_cents, stock, created_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, mapError(err)
	}
	out := make(map[int64]orders.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (t *orderTx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1 AND stock + $2 >= 0`, productID, delta)
	if err != nil {
		return mapError(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("adjust stock of product %d by %d: no row updated", productID, delta)
	}
	return nil
}

func (t *orderTx) InsertOrder(ctx context.Context, n orders.NewOrder) (orders.Order, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, status, total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+orderColumns, n.CustomerID, string(orders.StatusCreated), n.TotalCents, n.CreatedAt)
	o, err := scanOrder(row)
	if err != nil {
		return orders.Order{}, mapError(err)
	}
	return o, nil
}

func (t *orderTx) InsertItems(ctx context.Context, orderID int64, lines []orders.PricedLine) ([]orders.OrderItem, error) {
	b := &pgx.Batch{}
	for _, l := range lines {
		b.Queue(`
			INSERT INTO order_items (order_id, product_id, qty, unit_price_cents, subtotal_cents)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`, orderID, l.ProductID, l.Qty, l.UnitPriceCents, l.SubtotalCents)
	}
	br := t.tx.SendBatch(ctx, b)
	defer br.Close()

	items := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		it := orders.OrderItem{
			OrderID: orderID, ProductID: l.ProductID, Qty: l.Qty,
			UnitPriceCents: l.UnitPriceCents, SubtotalCents: l.SubtotalCents,
		}
		if err := br.QueryRow().Scan(&it.ID); err != nil {
			return nil, mapError(err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (t *orderTx) LockOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if err != nil {
		return orders.Order{}, mapError(err)
	}
	return o, nil
}

func (t *orderTx) OrderItems(ctx context.Context, orderID int64) ([]orders.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents, subtotal_cents
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.OrderItem, error) {
		var it orders.OrderItem
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPriceCents, &it.SubtotalCents)
		return it, err
	})
}

func (t *orderTx) UpdateOrderStatus(ctx context.Context, id int64, status orders.Status, confirmedAt *time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, confirmed_at = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), confirmedAt)
	if err != nil {
		return mapError(err)
	}
	if ct.RowsAffected() != 1 {
		return orders.OrderNotFound(id)
	}
	return nil
}
