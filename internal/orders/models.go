package orders

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
}

type Order struct {
	ID          int64      `json:"id"`
	CustomerID  int64      `json:"customer_id"`
	Status      Status     `json:"status"`
	TotalCents  int64      `json:"total_cents"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
}

// OrderItem prices are a snapshot taken at creation and never change.
type OrderItem struct {
	ID             int64 `json:"id"`
	OrderID        int64 `json:"order_id"`
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	UnitPriceCents int64 `json:"unit_price_cents"`
	SubtotalCents  int64 `json:"subtotal_cents"`
}

// ItemView is an item annotated with the product's current name and SKU.
type ItemView struct {
	OrderItem
	Name string `json:"name"`
	SKU  string `json:"sku"`
}

type OrderWithItems struct {
	Order
	Items []ItemView `json:"items"`
}

type NewOrder struct {
	CustomerID int64
	TotalCents int64
	CreatedAt  time.Time
}

// LineInput is one requested line of a new order.
type LineInput struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type CreateOrderInput struct {
	CustomerID     int64       `json:"customer_id"`
	Items          []LineInput `json:"items"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// FieldProblem describes one invalid input field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// MaxLineQty bounds a line quantity, and the merged quantity of one product,
// to the range of the qty and stock columns.
const MaxLineQty = math.MaxInt32

func (in CreateOrderInput) Validate() error {
	var problems []FieldProblem
	if in.CustomerID <= 0 {
		problems = append(problems, FieldProblem{Field: "customer_id", Message: "must be a positive integer"})
	}
	if len(in.Items) == 0 {
		problems = append(problems, FieldProblem{Field: "items", Message: "at least one item is required"})
	}
	for i, it := range in.Items {
		prefix := "items[" + strconv.Itoa(i) + "]"
		if it.ProductID <= 0 {
			problems = append(problems, FieldProblem{Field: prefix + ".product_id", Message: "must be a positive integer"})
		}
		switch {
		case it.Qty <= 0:
			problems = append(problems, FieldProblem{Field: prefix + ".qty", Message: "must be a positive integer"})
		case it.Qty > MaxLineQty:
			problems = append(problems, FieldProblem{Field: prefix + ".qty", Message: "must not exceed " + strconv.Itoa(MaxLineQty)})
		}
	}
	if len(problems) == 0 {
		merged := make(map[int64]int64, len(in.Items))
		for _, it := range in.Items {
			merged[it.ProductID] += int64(it.Qty)
		}
		ids := make([]int64, 0, len(merged))
		for id, q := range merged {
			if q > MaxLineQty {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			problems = append(problems, FieldProblem{
				Field:   "items",
				Message: fmt.Sprintf("combined qty of product %d must not exceed %d", id, MaxLineQty),
			})
		}
	}
	if len(problems) > 0 {
		return apperr.Validation("INVALID_ORDER", "validation error").WithDetails(problems)
	}
	return nil
}

type OrderFilter struct {
	Status Status
	From   *time.Time
	To     *time.Time
	Cursor int64
	Limit  int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// ClampLimit returns a limit in [1, MaxPageLimit], DefaultPageLimit when unset.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultPageLimit
	case n > MaxPageLimit:
		return MaxPageLimit
	}
	return n
}

// Page is a cursor page ordered by id ascending.
type Page[T any] struct {
	Data       []T    `json:"data"`
	NextCursor *int64 `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// NewPage trims rows fetched with limit+1 and derives the cursor.
func NewPage[T any](rows []T, limit int, idOf func(T) int64) Page[T] {
	p := Page[T]{Data: rows}
	if len(rows) > limit {
		p.Data = rows[:limit]
		p.HasMore = true
	}
	if p.Data == nil {
		p.Data = []T{}
	}
	if p.HasMore {
		next := idOf(p.Data[len(p.Data)-1])
		p.NextCursor = &next
	}
	return p
}
