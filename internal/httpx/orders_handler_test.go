package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/orders/orderstest"
	"github.com/ariefcatur/go-order-saga/internal/saga"
)

type mapCache struct {
	mu    sync.Mutex
	views map[int64][]byte
}

func (c *mapCache) Get(_ context.Context, id int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.views[id]
	return b, ok
}

func (c *mapCache) Set(_ context.Context, id int64, view []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[id] = view
}

func (c *mapCache) Invalidate(_ context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
}

type ordersAPI struct {
	srv   *httptest.Server
	store *orderstest.MemStore
	cache *mapCache
}

func newOrdersAPI(t *testing.T) *ordersAPI {
	t.Helper()
	store := orderstest.NewMemStore(
		orders.Product{ID: 7, SKU: "SKU-00007", Name: "Mouse", PriceCents: 5000, Stock: 10},
		orders.Product{ID: 8, SKU: "SKU-00008", Name: "Cable", PriceCents: 700, Stock: 1},
	)
	cache := &mapCache{views: map[int64][]byte{}}
	h := &OrdersHandler{
		Service: orders.NewService(store, orderstest.NewStaticCustomers(1)),
		Cache:   cache,
	}
	r := NewRouter("orders-api", nil)
	r.Route("/api/orders", h.Register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &ordersAPI{srv: srv, store: store, cache: cache}
}

func (a *ordersAPI) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func decodeError(t *testing.T, b []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(b, &e))
	return e
}

const createBody = `{"customer_id":1,"items":[{"product_id":7,"qty":2}],"idempotency_key":"k-1"}`

func TestCreateOrder_FreshThenReplay(t *testing.T) {
	api := newOrdersAPI(t)

	first, firstBody := api.do(t, http.MethodPost, "/api/orders", createBody, nil)
	second, secondBody := api.do(t, http.MethodPost, "/api/orders", createBody, nil)

	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, string(firstBody), string(secondBody), "replay returns the stored payload verbatim")
	assert.Equal(t, "/api/orders/1", first.Header.Get("Location"))

	var o orders.Order
	require.NoError(t, json.Unmarshal(firstBody, &o))
	assert.Equal(t, orders.StatusCreated, o.Status)
	assert.EqualValues(t, 10000, o.TotalCents)
	assert.Equal(t, 8, api.store.Product(7).Stock)
}

func TestCreateOrder_KeyFromHeader(t *testing.T) {
	api := newOrdersAPI(t)
	body := `{"customer_id":1,"items":[{"product_id":7,"qty":1}]}`
	hdr := map[string]string{saga.HeaderIdempotencyKey: "hdr-key"}

	api.do(t, http.MethodPost, "/api/orders", body, hdr)
	resp, _ := api.do(t, http.MethodPost, "/api/orders", body, hdr)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, api.store.OrderCount())
}

func TestCreateOrder_StockFailureIsConflictWithDetails(t *testing.T) {
	api := newOrdersAPI(t)

	resp, b := api.do(t, http.MethodPost, "/api/orders",
		`{"customer_id":1,"items":[{"product_id":8,"qty":3},{"product_id":99,"qty":1}]}`, nil)

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var e struct {
		Error   string               `json:"error"`
		Details []orders.ItemProblem `json:"details"`
	}
	require.NoError(t, json.Unmarshal(b, &e))
	assert.Equal(t, "STOCK_VALIDATION_FAILED", e.Error)
	require.Len(t, e.Details, 2)
	assert.EqualValues(t, 8, e.Details[0].ProductID)
	assert.Equal(t, 1, api.store.Product(8).Stock)
}

func TestCreateOrder_BadRequests(t *testing.T) {
	api := newOrdersAPI(t)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"empty body", "", "INVALID_JSON"},
		{"broken json", `{"customer_id":`, "INVALID_JSON"},
		{"no items", `{"customer_id":1,"items":[]}`, "INVALID_ORDER"},
		{"unknown customer", `{"customer_id":3,"items":[{"product_id":7,"qty":1}]}`, "CUSTOMER_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, b := api.do(t, http.MethodPost, "/api/orders", tc.body, nil)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, b).Error)
		})
	}
}

func TestConfirmOrder_RequiresKeyAndReplays(t *testing.T) {
	api := newOrdersAPI(t)
	api.do(t, http.MethodPost, "/api/orders", createBody, nil)

	missing, b := api.do(t, http.MethodPost, "/api/orders/1/confirm", "", nil)
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_KEY_REQUIRED", decodeError(t, b).Error)

	hdr := map[string]string{saga.HeaderIdempotencyKey: "c-1"}
	first, firstBody := api.do(t, http.MethodPost, "/api/orders/1/confirm", "", hdr)
	second, secondBody := api.do(t, http.MethodPost, "/api/orders/1/confirm", "", hdr)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, string(firstBody), string(secondBody))

	other, b := api.do(t, http.MethodPost, "/api/orders/1/confirm", "", map[string]string{saga.HeaderIdempotencyKey: "c-2"})
	assert.Equal(t, http.StatusConflict, other.StatusCode)
	assert.Equal(t, "ORDER_NOT_CREATED", decodeError(t, b).Error)
}

func TestGetOrder_CachesOnlySettledOrders(t *testing.T) {
	api := newOrdersAPI(t)
	api.do(t, http.MethodPost, "/api/orders", createBody, nil)

	first, b := api.do(t, http.MethodGet, "/api/orders/1", "", nil)
	second, _ := api.do(t, http.MethodGet, "/api/orders/1", "", nil)

	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))
	assert.Equal(t, "MISS", second.Header.Get("X-Cache"), "a CREATED order can still change")
	var view orders.OrderWithItems
	require.NoError(t, json.Unmarshal(b, &view))
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Mouse", view.Items[0].Name)

	api.do(t, http.MethodPost, "/api/orders/1/cancel", "", nil)
	miss, b := api.do(t, http.MethodGet, "/api/orders/1", "", nil)
	hit, _ := api.do(t, http.MethodGet, "/api/orders/1", "", nil)

	assert.Equal(t, "MISS", miss.Header.Get("X-Cache"))
	assert.Equal(t, "HIT", hit.Header.Get("X-Cache"))
	require.NoError(t, json.Unmarshal(b, &view))
	assert.Equal(t, orders.StatusCanceled, view.Status)
}

func TestGetOrder_ReadRacingConfirmLeavesNoStaleView(t *testing.T) {
	api := newOrdersAPI(t)
	api.do(t, http.MethodPost, "/api/orders", createBody, nil)

	reading := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	api.store.BeforeListItems = func() {
		once.Do(func() {
			close(reading)
			<-resume
		})
	}

	// The read loads the CREATED order, then waits before loading items.
	inFlight := make(chan []byte, 1)
	go func() {
		resp, err := http.Get(api.srv.URL + "/api/orders/1")
		if err != nil {
			inFlight <- nil
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		inFlight <- b
	}()
	<-reading

	confirmed, _ := api.do(t, http.MethodPost, "/api/orders/1/confirm", "", map[string]string{saga.HeaderIdempotencyKey: "c-1"})
	require.Equal(t, http.StatusOK, confirmed.StatusCode)
	close(resume)

	var stale orders.OrderWithItems
	require.NoError(t, json.Unmarshal(<-inFlight, &stale))
	assert.Equal(t, orders.StatusCreated, stale.Status)

	next, b := api.do(t, http.MethodGet, "/api/orders/1", "", nil)
	var view orders.OrderWithItems
	require.NoError(t, json.Unmarshal(b, &view))
	assert.Equal(t, "MISS", next.Header.Get("X-Cache"))
	assert.Equal(t, orders.StatusConfirmed, view.Status)
	assert.NotNil(t, view.ConfirmedAt)
	_, cached := api.cache.Get(context.Background(), 1)
	assert.False(t, cached)
}

func TestGetOrder_NotFoundAndBadID(t *testing.T) {
	api := newOrdersAPI(t)

	missing, b := api.do(t, http.MethodGet, "/api/orders/42", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "ORDER_NOT_FOUND", decodeError(t, b).Error)

	bad, _ := api.do(t, http.MethodGet, "/api/orders/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCancelOrder_IsIdempotent(t *testing.T) {
	api := newOrdersAPI(t)
	api.do(t, http.MethodPost, "/api/orders", createBody, nil)

	_, first := api.do(t, http.MethodPost, "/api/orders/1/cancel", "", nil)
	resp, second := api.do(t, http.MethodPost, "/api/orders/1/cancel", "", nil)

	var a, b cancelResponse
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, a.AlreadyCanceled)
	assert.True(t, b.AlreadyCanceled)
	assert.Equal(t, orders.StatusCanceled, b.Status)
	assert.Equal(t, 10, api.store.Product(7).Stock)
}

func TestSearchOrders_FiltersAndPages(t *testing.T) {
	api := newOrdersAPI(t)
	for _, k := range []string{"a", "b", "c"} {
		api.do(t, http.MethodPost, "/api/orders",
			`{"customer_id":1,"items":[{"product_id":7,"qty":1}],"idempotency_key":"`+k+`"}`, nil)
	}
	api.do(t, http.MethodPost, "/api/orders/2/cancel", "", nil)

	resp, b := api.do(t, http.MethodGet, "/api/orders?status=CREATED&limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page orders.Page[orders.Order]
	require.NoError(t, json.Unmarshal(b, &page))
	require.Len(t, page.Data, 1)
	assert.EqualValues(t, 1, page.Data[0].ID)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	_, b = api.do(t, http.MethodGet, "/api/orders?status=CREATED&limit=1&cursor=1", "", nil)
	require.NoError(t, json.Unmarshal(b, &page))
	require.Len(t, page.Data, 1)
	assert.EqualValues(t, 3, page.Data[0].ID)
	assert.False(t, page.HasMore)

	bad, _ := api.do(t, http.MethodGet, "/api/orders?from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	unknown, _ := api.do(t, http.MethodGet, "/api/orders?status=SHIPPED", "", nil)
	assert.Equal(t, http.StatusBadRequest, unknown.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	r := NewRouter("orders-api", nil)

	for _, path := range []string{"/healthz", "/api/health"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	}
}
