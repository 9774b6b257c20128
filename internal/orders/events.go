package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderSubmitted     = "OrderSubmitted"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderItemRemoved   = "OrderItemRemoved"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ItemLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderSubmittedPayload struct {
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id"`
	Items   []ItemLine      `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type OrderCancelledPayload struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Restocked []ItemQty `json:"restocked,omitempty"`
}

type OrderItemRemovedPayload struct {
	OrderID   string `json:"order_id"`
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}
