// Package orderstest provides an in-memory orders.Store for tests.
//
// Transactions are serialized by one mutex, which is at least as strong as
// the row locks the Postgres store takes, and a failed transaction restores
// the snapshot taken when it began.
package orderstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/idempotency"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type state struct {
	products  map[int64]orders.Product
	orders    map[int64]orders.Order
	items     map[int64][]orders.OrderItem
	keys      map[idempotency.Key]idempotency.Record
	lastOrder int64
	lastItem  int64
}

func (s state) clone() state {
	cp := state{
		products:  make(map[int64]orders.Product, len(s.products)),
		orders:    make(map[int64]orders.Order, len(s.orders)),
		items:     make(map[int64][]orders.OrderItem, len(s.items)),
		keys:      make(map[idempotency.Key]idempotency.Record, len(s.keys)),
		lastOrder: s.lastOrder,
		lastItem:  s.lastItem,
	}
	for k, v := range s.products {
		cp.products[k] = v
	}
	for k, v := range s.orders {
		cp.orders[k] = v
	}
	for k, v := range s.items {
		cp.items[k] = append([]orders.OrderItem(nil), v...)
	}
	for k, v := range s.keys {
		cp.keys[k] = v
	}
	return cp
}

type MemStore struct {
	mu    sync.Mutex
	st    state
	fails map[string]error
	// TxCount counts committed and rolled back transactions.
	TxCount int
	// BeforeListItems, when set, runs at the start of every ListItems call
	// without the store lock held.
	BeforeListItems func()
}

var _ orders.Store = (*MemStore)(nil)

func NewMemStore(products ...orders.Product) *MemStore {
	m := &MemStore{
		st: state{
			products: map[int64]orders.Product{},
			orders:   map[int64]orders.Order{},
			items:    map[int64][]orders.OrderItem{},
			keys:     map[idempotency.Key]idempotency.Record{},
		},
		fails: map[string]error{},
	}
	for _, p := range products {
		m.st.products[p.ID] = p
	}
	return m
}

// FailOn makes the named Tx method return err until cleared with a nil err.
// Names match the orders.Tx method names.
func (m *MemStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fails, method)
		return
	}
	m.fails[method] = err
}

func (m *MemStore) Product(id int64) orders.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.products[id]
}

func (m *MemStore) Order(id int64) (orders.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	return o, ok
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.orders)
}

func (m *MemStore) Key(k idempotency.Key) (idempotency.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.st.keys[k]
	return r, ok
}

// PutKey seeds a ledger record.
func (m *MemStore) PutKey(r idempotency.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.keys[r.Key] = r
}

func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TxCount++
	snapshot := m.st.clone()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	if !ok {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o, nil
}

func (m *MemStore) ListItems(_ context.Context, orderID int64) ([]orders.ItemView, error) {
	if m.BeforeListItems != nil {
		m.BeforeListItems()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.ItemView
	for _, it := range m.st.items[orderID] {
		p := m.st.products[it.ProductID]
		out = append(out, orders.ItemView{OrderItem: it, Name: p.Name, SKU: p.SKU})
	}
	return out, nil
}

func (m *MemStore) SearchOrders(_ context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.st.orders {
		if o.ID <= f.Cursor ||
			(f.Status != "" && o.Status != f.Status) ||
			(f.From != nil && o.CreatedAt.Before(*f.From)) ||
			(f.To != nil && o.CreatedAt.After(*f.To)) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) DeletePendingKey(_ context.Context, key idempotency.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.st.keys[key]; ok && r.Status == idempotency.StatusCreated && len(r.Response) == 0 {
		delete(m.st.keys, key)
	}
	return nil
}

// memTx runs with MemStore.mu held.
type memTx struct{ m *MemStore }

func (t *memTx) fail(method string) error { return t.m.fails[method] }

func (t *memTx) AcquireKey(_ context.Context, key idempotency.Key) (idempotency.Record, bool, error) {
	if err := t.fail("AcquireKey"); err != nil {
		return idempotency.Record{}, false, err
	}
	if r, ok := t.m.st.keys[key]; ok {
		return r, false, nil
	}
	now := time.Now().UTC()
	r := idempotency.Record{Key: key, Status: idempotency.StatusCreated, CreatedAt: now, UpdatedAt: now}
	t.m.st.keys[key] = r
	return r, true, nil
}

func (t *memTx) CompleteKey(_ context.Context, key idempotency.Key, status idempotency.Status, targetID int64, response json.RawMessage) error {
	if err := t.fail("CompleteKey"); err != nil {
		return err
	}
	r, ok := t.m.st.keys[key]
	if !ok {
		return fmt.Errorf("idempotency key %s not acquired", key)
	}
	r.Status = status
	r.TargetID = &targetID
	r.Response = append(json.RawMessage(nil), response...)
	r.UpdatedAt = time.Now().UTC()
	t.m.st.keys[key] = r
	return nil
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]orders.Product, error) {
	if err := t.fail("LockProducts"); err != nil {
		return nil, err
	}
	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.m.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID int64, delta int) error {
	if err := t.fail("AdjustStock"); err != nil {
		return err
	}
	p, ok := t.m.st.products[productID]
	if !ok {
		return apperr.NotFound("PRODUCT_NOT_FOUND", fmt.Sprintf("product %d not found", productID))
	}
	if p.Stock+delta < 0 {
		return fmt.Errorf("stock of product %d would become negative", productID)
	}
	p.Stock += delta
	t.m.st.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, n orders.NewOrder) (orders.Order, error) {
	if err := t.fail("InsertOrder"); err != nil {
		return orders.Order{}, err
	}
	o := orders.Order{
		ID:         t.m.st.lastOrder + 1,
		CustomerID: n.CustomerID,
		Status:     orders.StatusCreated,
		TotalCents: n.TotalCents,
		CreatedAt:  n.CreatedAt,
	}
	t.m.st.lastOrder = o.ID
	t.m.st.orders[o.ID] = o
	return o, nil
}

func (t *memTx) InsertItems(_ context.Context, orderID int64, lines []orders.PricedLine) ([]orders.OrderItem, error) {
	if err := t.fail("InsertItems"); err != nil {
		return nil, err
	}
	items := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		t.m.st.lastItem++
		items = append(items, orders.OrderItem{
			ID: t.m.st.lastItem, OrderID: orderID, ProductID: l.ProductID, Qty: l.Qty,
			UnitPriceCents: l.UnitPriceCents, SubtotalCents: l.SubtotalCents,
		})
	}
	t.m.st.items[orderID] = append(t.m.st.items[orderID], items...)
	return items, nil
}

func (t *memTx) LockOrder(_ context.Context, id int64) (orders.Order, error) {
	if err := t.fail("LockOrder"); err != nil {
		return orders.Order{}, err
	}
	o, ok := t.m.st.orders[id]
	if !ok {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o, nil
}

func (t *memTx) OrderItems(_ context.Context, orderID int64) ([]orders.OrderItem, error) {
	if err := t.fail("OrderItems"); err != nil {
		return nil, err
	}
	return append([]orders.OrderItem(nil), t.m.st.items[orderID]...), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id int64, status orders.Status, confirmedAt *time.Time) error {
	if err := t.fail("UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := t.m.st.orders[id]
	if !ok {
		return orders.OrderNotFound(id)
	}
	o.Status = status
	o.ConfirmedAt = confirmedAt
	t.m.st.orders[id] = o
	return nil
}

// StaticCustomers is a CustomerGate backed by a fixed set of ids.
type StaticCustomers struct {
	mu    sync.Mutex
	known map[int64]bool
	Calls int
	Err   error
}

func NewStaticCustomers(ids ...int64) *StaticCustomers {
	c := &StaticCustomers{known: map[int64]bool{}}
	for _, id := range ids {
		c.known[id] = true
	}
	return c
}

func (c *StaticCustomers) ValidateCustomer(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return c.Err
	}
	if !c.known[id] {
		return apperr.Validation("CUSTOMER_NOT_FOUND", "customer not found").WithStatus(404)
	}
	return nil
}

// RecordingPublisher collects published event types.
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []string
}

func (p *RecordingPublisher) Publish(_ context.Context, eventType string, o orders.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, fmt.Sprintf("%s:%d", eventType, o.ID))
}

func (p *RecordingPublisher) Joined() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.Events, ",")
}
