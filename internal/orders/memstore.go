package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store for tests. A single mutex plays the role of
// the database: every InTx holds it, so transactions are fully serialized,
// and a snapshot taken at entry restores the previous state when fn fails.
type MemStore struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]Order // without items
	items    map[string]OrderItem
	seq      map[string]int // insertion order of orders and items
	nextSeq  int
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: map[string]Product{},
		orders:   map[string]Order{},
		items:    map[string]OrderItem{},
		seq:      map[string]int{},
	}
}

func (s *MemStore) SeedProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemStore) Product(id string) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *MemStore) Order(ctx context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = s.itemsOf(orderID)
	return o, nil
}

func (s *MemStore) OrdersOf(ctx context.Context, userID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			o.Items = s.itemsOf(o.ID)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] > s.seq[out[j].ID] })
	return out, nil
}

type memSnapshot struct {
	products map[string]Product
	orders   map[string]Order
	items    map[string]OrderItem
	seq      map[string]int
	nextSeq  int
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products: make(map[string]Product, len(s.products)),
		orders:   make(map[string]Order, len(s.orders)),
		items:    make(map[string]OrderItem, len(s.items)),
		seq:      make(map[string]int, len(s.seq)),
		nextSeq:  s.nextSeq,
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = v
	}
	for k, v := range s.seq {
		snap.seq[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.orders = snap.orders
	s.items = snap.items
	s.seq = snap.seq
	s.nextSeq = snap.nextSeq
}

func (s *MemStore) itemsOf(orderID string) []OrderItem {
	var out []OrderItem
	for _, it := range s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

// memTx mutates the store directly; InTx's snapshot provides the rollback.
type memTx struct{ s *MemStore }

func (t *memTx) PendingOrderOf(ctx context.Context, userID string) (Order, error) {
	for _, o := range t.s.orders {
		if o.UserID == userID && o.Status == StatusPending {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (t *memTx) CreateOrder(ctx context.Context, userID string) (Order, error) {
	now := time.Now()
	o := Order{ID: uuid.NewString(), UserID: userID, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	t.s.orders[o.ID] = o
	t.s.nextSeq++
	t.s.seq[o.ID] = t.s.nextSeq
	return o, nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, orderID string, st Status) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	o.UpdatedAt = time.Now()
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) ProductForUpdate(ctx context.Context, productID string) (Product, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return ErrNotFound
	}
	p.Stock += delta
	t.s.products[productID] = p
	return nil
}

func (t *memTx) ItemByProduct(ctx context.Context, orderID, productID string) (OrderItem, error) {
	for _, it := range t.s.items {
		if it.OrderID == orderID && it.ProductID == productID {
			return it, nil
		}
	}
	return OrderItem{}, ErrNotFound
}

func (t *memTx) ItemForUpdate(ctx context.Context, itemID string) (OrderItem, error) {
	it, ok := t.s.items[itemID]
	if !ok {
		return OrderItem{}, ErrNotFound
	}
	return it, nil
}

func (t *memTx) InsertItem(ctx context.Context, orderID, productID string, qty int, price decimal.Decimal) (OrderItem, error) {
	it := OrderItem{ID: uuid.NewString(), OrderID: orderID, ProductID: productID, Quantity: qty, Price: price}
	t.s.items[it.ID] = it
	t.s.nextSeq++
	t.s.seq[it.ID] = t.s.nextSeq
	return it, nil
}

func (t *memTx) AddItemQuantity(ctx context.Context, itemID string, delta int) error {
	it, ok := t.s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.Quantity += delta
	t.s.items[itemID] = it
	return nil
}

func (t *memTx) DeleteItem(ctx context.Context, itemID string) error {
	if _, ok := t.s.items[itemID]; !ok {
		return ErrNotFound
	}
	delete(t.s.items, itemID)
	return nil
}

func (t *memTx) ItemsOf(ctx context.Context, orderID string) ([]OrderItem, error) {
	return t.s.itemsOf(orderID), nil
}
