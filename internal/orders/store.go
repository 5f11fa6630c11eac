package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/idempotency"
)

// Store is the persistence boundary of the order engine. Implementations
// must give WithTx real transaction semantics: fn's writes commit together or
// not at all, and the Lock* methods hold exclusive row locks until the end of
// the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListItems(ctx context.Context, orderID int64) ([]ItemView, error)
	SearchOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	idempotency.Remover
}

type Tx interface {
	idempotency.TxStore

	// LockProducts locks every existing product in ids, in id order, with a
	// single statement. Missing ids are absent from the result.
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	AdjustStock(ctx context.Context, productID int64, delta int) error

	InsertOrder(ctx context.Context, o NewOrder) (Order, error)
	InsertItems(ctx context.Context, orderID int64, lines []PricedLine) ([]OrderItem, error)
	LockOrder(ctx context.Context, id int64) (Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status, confirmedAt *time.Time) error
}
