package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopworks/storefront-api/internal/orders"
)

func newReconciler(t *testing.T, stock int) (*orders.Reconciler, *orders.MemStore) {
	t.Helper()
	st := orders.NewMemStore()
	st.SeedProduct(orders.Product{
		ID:     "p1",
		Name:   "Widget",
		Price:  decimal.RequireFromString("19.99"),
		Stock:  stock,
		Active: true,
	})
	return &orders.Reconciler{Store: st}, st
}

func stockOf(t *testing.T, st *orders.MemStore, id string) int {
	t.Helper()
	p, ok := st.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestSubmitCreatesPendingOrder(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, ord.Status)
	assert.Equal(t, "alice", ord.UserID)
	require.Len(t, ord.Items, 1)
	assert.Equal(t, 4, ord.Items[0].Quantity)
	assert.True(t, ord.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 6, stockOf(t, st, "p1"))
}

func TestSubmitMergesRepeatedProduct(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	first, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	// price changes must not touch the snapshot taken at first addition
	p, ok := st.Product("p1")
	require.True(t, ok)
	p.Price = decimal.RequireFromString("29.99")
	st.SeedProduct(p)

	second, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 3}})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Items, 1)
	assert.Equal(t, 7, second.Items[0].Quantity)
	assert.True(t, second.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 3, stockOf(t, st, "p1"))
}

func TestSubmitInsufficientStockKeepsEarlierPairs(t *testing.T) {
	rec, st := newReconciler(t, 3)
	ctx := context.Background()

	_, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 5},
	})
	var stockErr *orders.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	// first pair stays committed
	assert.Equal(t, 1, stockOf(t, st, "p1"))
	got, err := rec.Orders(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Items, 1)
	assert.Equal(t, 2, got[0].Items[0].Quantity)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	_, err := rec.SubmitItems(ctx, "alice", nil)
	assert.ErrorIs(t, err, orders.ErrNoItems)

	_, err = rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 0}})
	assert.ErrorIs(t, err, orders.ErrQuantity)

	_, err = rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: -2}})
	assert.ErrorIs(t, err, orders.ErrQuantity)

	assert.Equal(t, 10, stockOf(t, st, "p1"))
}

func TestSubmitUnknownProduct(t *testing.T) {
	rec, _ := newReconciler(t, 10)

	_, err := rec.SubmitItems(context.Background(), "alice", []orders.ItemInput{{ProductID: "nope", Quantity: 1}})
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestStockRoundTrip(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, 6, stockOf(t, st, "p1"))

	ord2, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, ord.ID, ord2.ID)
	require.Len(t, ord2.Items, 1)
	assert.Equal(t, 7, ord2.Items[0].Quantity)
	assert.Equal(t, 3, stockOf(t, st, "p1"))

	_, err = rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 5}})
	var stockErr *orders.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 3, stockOf(t, st, "p1"))

	cancelled, err := rec.CancelOrder(ctx, "alice", ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, stockOf(t, st, "p1"))

	_, err = rec.CancelOrder(ctx, "alice", ord.ID)
	var transErr *orders.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, orders.StatusCancelled, transErr.Status)
	assert.Equal(t, 10, stockOf(t, st, "p1"))
}

func TestCancelIsOwnerScoped(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	_, err = rec.CancelOrder(ctx, "bob", ord.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, 6, stockOf(t, st, "p1"))
}

// hookedStore runs before, if set, ahead of each transaction so a test can
// interleave a competing operation between two of them.
type hookedStore struct {
	orders.Store
	calls  int
	before func(n int)
}

func (s *hookedStore) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.calls++
	if s.before != nil {
		s.before(s.calls)
	}
	return s.Store.InTx(ctx, fn)
}

func TestSubmitRacingCancelDoesNotLeakStock(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, 6, stockOf(t, st, "p1"))

	// cancel lands between the find-or-create transaction and the pair
	hooked := &hookedStore{Store: st}
	hooked.before = func(n int) {
		if n == 2 {
			_, err := rec.CancelOrder(ctx, "alice", ord.ID)
			require.NoError(t, err)
		}
	}

	racing := &orders.Reconciler{Store: hooked}
	_, err = racing.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 3}})
	var transErr *orders.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, orders.StatusCancelled, transErr.Status)

	// the cancel restored everything and the late pair reserved nothing
	assert.Equal(t, 10, stockOf(t, st, "p1"))
	got, err := rec.Order(ctx, "alice", ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 4, got.Items[0].Quantity)
}

func TestDeleteItemRestoresStock(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	removed, err := rec.DeleteOrderItem(ctx, "alice", ord.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4, removed.Quantity)
	assert.Equal(t, 10, stockOf(t, st, "p1"))

	got, err := rec.Order(ctx, "alice", ord.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestDeleteItemOnFrozenOrder(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)
	_, err = rec.AdvanceOrder(ctx, ord.ID, orders.StatusProcessing)
	require.NoError(t, err)

	_, err = rec.DeleteOrderItem(ctx, "alice", ord.Items[0].ID)
	var transErr *orders.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, orders.StatusProcessing, transErr.Status)
	assert.Equal(t, 6, stockOf(t, st, "p1"))
}

func TestAdvanceOrderLifecycle(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	moved, err := rec.AdvanceOrder(ctx, ord.ID, orders.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, moved.Status)

	moved, err = rec.AdvanceOrder(ctx, ord.ID, orders.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, moved.Status)

	// terminal
	_, err = rec.AdvanceOrder(ctx, ord.ID, orders.StatusProcessing)
	var transErr *orders.InvalidTransitionError
	assert.ErrorAs(t, err, &transErr)

	// completing does not restock
	assert.Equal(t, 6, stockOf(t, st, "p1"))
}

func TestAdvanceToCancelledRestocks(t *testing.T) {
	rec, st := newReconciler(t, 10)
	ctx := context.Background()

	ord, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 4}})
	require.NoError(t, err)

	moved, err := rec.AdvanceOrder(ctx, ord.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, moved.Status)
	assert.Equal(t, 10, stockOf(t, st, "p1"))
}

func TestPendingOrdersArePerUser(t *testing.T) {
	rec, _ := newReconciler(t, 10)
	ctx := context.Background()

	a, err := rec.SubmitItems(ctx, "alice", []orders.ItemInput{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	b, err := rec.SubmitItems(ctx, "bob", []orders.ItemInput{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)

	_, err = rec.Order(ctx, "bob", a.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestConcurrentSubmissionsDoNotOversell(t *testing.T) {
	rec, st := newReconciler(t, 50)
	ctx := context.Background()

	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	errs := make([]error, len(users))

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = rec.SubmitItems(ctx, u, []orders.ItemInput{{ProductID: "p1", Quantity: 10}})
		}(i, u)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			var stockErr *orders.InsufficientStockError
			require.True(t, errors.As(err, &stockErr))
			rejected++
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 0, stockOf(t, st, "p1"))

	// conservation: everything that left stock is reserved in live orders
	var reserved int
	for _, u := range users {
		got, err := rec.Orders(ctx, u)
		require.NoError(t, err)
		for _, o := range got {
			for _, it := range o.Items {
				reserved += it.Quantity
			}
		}
	}
	assert.Equal(t, 50, reserved)
}
