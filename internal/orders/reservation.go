package orders

import (
	"math"
	"sort"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type ProblemCode string

const (
	ProblemNotFound   ProblemCode = "NOT_FOUND"
	ProblemOutOfStock ProblemCode = "OUT_OF_STOCK"
)

// ItemProblem is the per-line reason a reservation was rejected.
type ItemProblem struct {
	ProductID int64       `json:"product_id"`
	Code      ProblemCode `json:"code"`
	Error     string      `json:"error"`
	Requested int         `json:"requested"`
	Available int         `json:"available"`
}

type PricedLine struct {
	ProductID      int64
	Qty            int
	UnitPriceCents int64
	SubtotalCents  int64
}

type Reservation struct {
	Lines      []PricedLine
	TotalCents int64
}

// MergeLines sums quantities of repeated products and sorts by product id,
// which is also the row-lock acquisition order.
func MergeLines(items []LineInput) []LineInput {
	qty := make(map[int64]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Qty
	}
	out := make([]LineInput, 0, len(qty))
	for id, q := range qty {
		out = append(out, LineInput{ProductID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func ProductIDs(lines []LineInput) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// Reserve checks every line against products already locked by the caller's
// transaction. It is all or nothing: one bad line rejects the reservation and
// the error lists every bad line.
func Reserve(lines []LineInput, locked map[int64]Product) (Reservation, error) {
	var (
		res      Reservation
		problems []ItemProblem
	)
	for _, l := range lines {
		p, ok := locked[l.ProductID]
		switch {
		case !ok:
			problems = append(problems, ItemProblem{
				ProductID: l.ProductID, Code: ProblemNotFound, Error: "product not found", Requested: l.Qty,
			})
		case p.Stock < l.Qty:
			problems = append(problems, ItemProblem{
				ProductID: l.ProductID, Code: ProblemOutOfStock, Error: "insufficient stock",
				Requested: l.Qty, Available: p.Stock,
			})
		case p.PriceCents > 0 && int64(l.Qty) > (math.MaxInt64-res.TotalCents)/p.PriceCents:
			return Reservation{}, apperr.Validation("ORDER_TOTAL_TOO_LARGE", "order total exceeds the supported amount")
		default:
			sub := p.PriceCents * int64(l.Qty)
			res.Lines = append(res.Lines, PricedLine{
				ProductID: l.ProductID, Qty: l.Qty, UnitPriceCents: p.PriceCents, SubtotalCents: sub,
			})
			res.TotalCents += sub
		}
	}
	if len(problems) > 0 {
		return Reservation{}, apperr.Conflict("STOCK_VALIDATION_FAILED", "stock validation failed").WithDetails(problems)
	}
	return res, nil
}
