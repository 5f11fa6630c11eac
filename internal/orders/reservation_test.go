package orders

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

func TestMergeLines_SumsAndSorts(t *testing.T) {
	got := MergeLines([]LineInput{{ProductID: 9, Qty: 1}, {ProductID: 3, Qty: 2}, {ProductID: 9, Qty: 4}})

	assert.Equal(t, []LineInput{{ProductID: 3, Qty: 2}, {ProductID: 9, Qty: 5}}, got)
	assert.Equal(t, []int64{3, 9}, ProductIDs(got))
}

func TestReserve_PricesFromLockedProducts(t *testing.T) {
	locked := map[int64]Product{
		7: {ID: 7, PriceCents: 5000, Stock: 10},
		8: {ID: 8, PriceCents: 250, Stock: 4},
	}

	res, err := Reserve([]LineInput{{ProductID: 7, Qty: 2}, {ProductID: 8, Qty: 4}}, locked)

	require.NoError(t, err)
	assert.EqualValues(t, 11000, res.TotalCents)
	assert.Equal(t, []PricedLine{
		{ProductID: 7, Qty: 2, UnitPriceCents: 5000, SubtotalCents: 10000},
		{ProductID: 8, Qty: 4, UnitPriceCents: 250, SubtotalCents: 1000},
	}, res.Lines)
}

func TestReserve_ListsEveryProblem(t *testing.T) {
	locked := map[int64]Product{1: {ID: 1, PriceCents: 10, Stock: 0}}

	_, err := Reserve([]LineInput{{ProductID: 1, Qty: 1}, {ProductID: 2, Qty: 1}}, locked)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "STOCK_VALIDATION_FAILED", e.Code)
	problems, ok := e.Details.([]ItemProblem)
	require.True(t, ok)
	require.Len(t, problems, 2)
	assert.Equal(t, ProblemOutOfStock, problems[0].Code)
	assert.Equal(t, ProblemNotFound, problems[1].Code)
}

func TestReserve_TotalOverflowIsRejected(t *testing.T) {
	locked := map[int64]Product{
		1: {ID: 1, PriceCents: math.MaxInt64 / 2, Stock: 5},
		2: {ID: 2, PriceCents: 1, Stock: 5},
	}

	_, err := Reserve([]LineInput{{ProductID: 1, Qty: 2}, {ProductID: 2, Qty: 2}}, locked)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "ORDER_TOTAL_TOO_LARGE", e.Code)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusCreated, StatusConfirmed))
	assert.True(t, CanTransition(StatusCreated, StatusCanceled))
	assert.True(t, CanTransition(StatusConfirmed, StatusCanceled))
	assert.False(t, CanTransition(StatusConfirmed, StatusCreated))
	assert.False(t, CanTransition(StatusCanceled, StatusConfirmed))
	assert.False(t, Status("SHIPPED").Valid())
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int64{1, 2, 3}, 2, func(v int64) int64 { return v })

	assert.Equal(t, []int64{1, 2}, p.Data)
	assert.True(t, p.HasMore)
	require.NotNil(t, p.NextCursor)
	assert.EqualValues(t, 2, *p.NextCursor)

	empty := NewPage[int64](nil, 10, func(v int64) int64 { return v })
	assert.NotNil(t, empty.Data)
	assert.Nil(t, empty.NextCursor)
	assert.Equal(t, 10, ClampLimit(0))
	assert.Equal(t, 100, ClampLimit(500))
}
