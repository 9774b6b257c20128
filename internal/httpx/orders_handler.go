package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/shopworks/storefront-api/internal/kafka"
	"github.com/shopworks/storefront-api/internal/orders"
)

// Publisher is what the handlers need from a kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// StatusCache is the order-status fast path; redisx.StatusCache in production.
// Entries are keyed per owner, so a hit never reveals another user's order.
type StatusCache interface {
	Get(ctx context.Context, userID, orderID string) (string, bool)
	Set(ctx context.Context, userID, orderID, status string)
}

type OrdersHandler struct {
	Recon       *orders.Reconciler
	Cache       StatusCache
	Submitted   Publisher
	Cancelled   Publisher
	ItemRemoved Publisher
	StatusMoved Publisher
	Service     string
}

type SubmitOrderReq struct {
	Items []orders.ItemInput `json:"items"`
}

type AdvanceOrderReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/orders", h.submitOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/orders/{id}/status", h.advanceOrder)
		r.Delete("/order-items/{id}", h.deleteItem)
	})
}

func (h *OrdersHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ord, err := h.Recon.SubmitItems(ctx, userFrom(r), req.Items)
	if err != nil {
		writeOrdersErr(w, err)
		return
	}

	h.Cache.Set(ctx, ord.UserID, ord.ID, string(ord.Status))
	h.publish(h.Submitted, r, orders.EventOrderSubmitted, ord.ID, orders.OrderSubmittedPayload{
		OrderID: ord.ID,
		UserID:  ord.UserID,
		Items:   itemLines(ord.Items),
		Total:   ord.Total(),
	})
	writeJSON(w, http.StatusOK, ord)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Recon.Orders(ctx, userFrom(r))
	if err != nil {
		writeOrdersErr(w, err)
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ord, err := h.Recon.Order(ctx, userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeOrdersErr(w, err)
		return
	}
	h.Cache.Set(ctx, ord.UserID, ord.ID, string(ord.Status))
	writeJSON(w, http.StatusOK, ord)
}

// getOrderStatus serves from redis when it can; the DB stays authoritative.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s, ok := h.Cache.Get(ctx, userFrom(r), orderID); ok {
		writeJSON(w, http.StatusOK, map[string]string{"id": orderID, "status": s})
		return
	}

	ord, err := h.Recon.Order(ctx, userFrom(r), orderID)
	if err != nil {
		writeOrdersErr(w, err)
		return
	}
	h.Cache.Set(ctx, ord.UserID, ord.ID, string(ord.Status))
	writeJSON(w, http.StatusOK, map[string]string{"id": ord.ID, "status": string(ord.Status)})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ord, err := h.Recon.CancelOrder(ctx, userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeOrdersErr(w, err)
		return
	}

	h.Cache.Set(ctx, ord.UserID, ord.ID, string(ord.Status))
	restocked := make([]orders.ItemQty, 0, len(ord.Items))
	for _, it := range ord.Items {
		restocked = append(restocked, orders.ItemQty{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	h.publish(h.Cancelled, r, orders.EventOrderCancelled, ord.ID, orders.OrderCancelledPayload{
		OrderID:   ord.ID,
		UserID:    ord.UserID,
		Restocked: restocked,
	})
	writeJSON(w, http.StatusOK, ord)
}

func (h *OrdersHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req AdvanceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	next, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	prev, err := h.Recon.Order(ctx, userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeOrdersErr(w, err)
		return
	}
	ord, err := h.Recon.AdvanceOrder(ctx, prev.ID, next)
	if err != nil {
		writeOrdersErr(w, err)
		return
	}

	h.Cache.Set(ctx, ord.UserID, ord.ID, string(ord.Status))
	h.publish(h.StatusMoved, r, orders.EventOrderStatusChanged, ord.ID, orders.OrderStatusChangedPayload{
		OrderID: ord.ID,
		UserID:  ord.UserID,
		From:    prev.Status,
		To:      ord.Status,
	})
	writeJSON(w, http.StatusOK, ord)
}

func (h *OrdersHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	removed, err := h.Recon.DeleteOrderItem(ctx, userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeOrdersErr(w, err)
		return
	}

	h.publish(h.ItemRemoved, r, orders.EventOrderItemRemoved, removed.OrderID, orders.OrderItemRemovedPayload{
		OrderID:   removed.OrderID,
		ItemID:    removed.ID,
		ProductID: removed.ProductID,
		Quantity:  removed.Quantity,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) publish(p Publisher, r *http.Request, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func itemLines(items []orders.OrderItem) []orders.ItemLine {
	out := make([]orders.ItemLine, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}
