package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopworks/storefront-api/internal/httpx"
	"github.com/shopworks/storefront-api/internal/orders"
)

type fakeCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{m: map[string]string{}} }

func (c *fakeCache) Get(ctx context.Context, userID, orderID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[userID+":"+orderID]
	return s, ok
}

func (c *fakeCache) Set(ctx context.Context, userID, orderID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[userID+":"+orderID] = status
}

type fakePublisher struct {
	mu     sync.Mutex
	values [][]byte
}

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, value)
}

func (p *fakePublisher) envelopes(t *testing.T) []orders.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]orders.Envelope, 0, len(p.values))
	for _, v := range p.values {
		var env orders.Envelope
		require.NoError(t, json.Unmarshal(v, &env))
		out = append(out, env)
	}
	return out
}

type testEnv struct {
	router    http.Handler
	store     *orders.MemStore
	cache     *fakeCache
	submitted *fakePublisher
	cancelled *fakePublisher
	removed   *fakePublisher
}

func setup(t *testing.T, stock int) *testEnv {
	t.Helper()
	st := orders.NewMemStore()
	st.SeedProduct(orders.Product{
		ID:     "p1",
		Name:   "Widget",
		Price:  decimal.RequireFromString("19.99"),
		Stock:  stock,
		Active: true,
	})

	env := &testEnv{
		store:     st,
		cache:     newFakeCache(),
		submitted: &fakePublisher{},
		cancelled: &fakePublisher{},
		removed:   &fakePublisher{},
	}

	router := httpx.NewRouter(zap.NewNop())
	h := &httpx.OrdersHandler{
		Recon:       &orders.Reconciler{Store: st},
		Cache:       env.cache,
		Submitted:   env.submitted,
		Cancelled:   env.cancelled,
		ItemRemoved: env.removed,
		StatusMoved: &fakePublisher{},
		Service:     "storefront-test",
	}
	h.Register(router)
	env.router = router
	return env
}

func doJSON(t *testing.T, router http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func submit(t *testing.T, env *testEnv, user string, qty int) orders.Order {
	t.Helper()
	rr := doJSON(t, env.router, http.MethodPost, "/orders", user,
		httpx.SubmitOrderReq{Items: []orders.ItemInput{{ProductID: "p1", Quantity: qty}}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ord orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ord))
	return ord
}

func TestSubmitOrderEndpoint(t *testing.T) {
	env := setup(t, 10)

	ord := submit(t, env, "alice", 4)
	assert.Equal(t, orders.StatusPending, ord.Status)
	require.Len(t, ord.Items, 1)
	assert.Equal(t, 4, ord.Items[0].Quantity)

	p, _ := env.store.Product("p1")
	assert.Equal(t, 6, p.Stock)

	// event published and cache primed
	envs := env.submitted.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, orders.EventOrderSubmitted, envs[0].EventType)
	assert.Equal(t, ord.ID, envs[0].CorrelationID)
	status, ok := env.cache.Get(context.Background(), "alice", ord.ID)
	assert.True(t, ok)
	assert.Equal(t, "Pending", status)
}

func TestSubmitOrderInsufficientStock(t *testing.T) {
	env := setup(t, 3)

	rr := doJSON(t, env.router, http.MethodPost, "/orders", "alice",
		httpx.SubmitOrderReq{Items: []orders.ItemInput{{ProductID: "p1", Quantity: 5}}})
	require.Equal(t, http.StatusConflict, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "p1", body["product_id"])
	assert.Equal(t, float64(3), body["available"])
	assert.Equal(t, float64(5), body["requested"])

	assert.Empty(t, env.submitted.envelopes(t))
}

func TestSubmitOrderRequiresIdentity(t *testing.T) {
	env := setup(t, 10)

	rr := doJSON(t, env.router, http.MethodPost, "/orders", "",
		httpx.SubmitOrderReq{Items: []orders.ItemInput{{ProductID: "p1", Quantity: 1}}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSubmitOrderBadBody(t *testing.T) {
	env := setup(t, 10)

	rr := doJSON(t, env.router, http.MethodPost, "/orders", "alice", httpx.SubmitOrderReq{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	env := setup(t, 10)
	ord := submit(t, env, "alice", 4)

	rr := doJSON(t, env.router, http.MethodPost, "/orders/"+ord.ID+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var cancelled orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cancelled))
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)

	p, _ := env.store.Product("p1")
	assert.Equal(t, 10, p.Stock)

	envs := env.cancelled.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, orders.EventOrderCancelled, envs[0].EventType)

	// terminal: second cancel conflicts
	rr = doJSON(t, env.router, http.MethodPost, "/orders/"+ord.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelSomeoneElsesOrder(t *testing.T) {
	env := setup(t, 10)
	ord := submit(t, env, "alice", 4)

	rr := doJSON(t, env.router, http.MethodPost, "/orders/"+ord.ID+"/cancel", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteItemEndpoint(t *testing.T) {
	env := setup(t, 10)
	ord := submit(t, env, "alice", 4)

	rr := doJSON(t, env.router, http.MethodDelete, "/order-items/"+ord.Items[0].ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	p, _ := env.store.Product("p1")
	assert.Equal(t, 10, p.Stock)

	envs := env.removed.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, orders.EventOrderItemRemoved, envs[0].EventType)
}

func TestGetOrderStatusServedFromCache(t *testing.T) {
	env := setup(t, 10)
	env.cache.Set(context.Background(), "alice", "some-order", "Processing")

	rr := doJSON(t, env.router, http.MethodGet, "/orders/some-order/status", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Processing", body["status"])
}

func TestGetOrderStatusCacheIsOwnerScoped(t *testing.T) {
	env := setup(t, 10)
	ord := submit(t, env, "alice", 4)

	// alice's submission primed the cache; bob still gets a 404
	rr := doJSON(t, env.router, http.MethodGet, "/orders/"+ord.ID+"/status", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, env.router, http.MethodGet, "/orders/"+ord.ID+"/status", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Pending", body["status"])
}

func TestListOrdersEmpty(t *testing.T) {
	env := setup(t, 10)

	rr := doJSON(t, env.router, http.MethodGet, "/orders", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}
