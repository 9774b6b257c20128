package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the reconciler's view of a catalog row: only what the stock
// arithmetic needs.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Items     []OrderItem `json:"items"`
}

// Total is the sum of price * quantity over the line items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // unit price snapshot at time of addition
}

// ItemInput is one (product, quantity) pair of a submission.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
