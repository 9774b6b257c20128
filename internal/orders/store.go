package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the transactional persistence collaborator behind the Reconciler.
type Store interface {
	// InTx runs fn inside one transaction; any error rolls the unit back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Order loads an order with its items.
	Order(ctx context.Context, orderID string) (Order, error)
	// OrdersOf lists a user's orders, newest first, items included.
	OrdersOf(ctx context.Context, userID string) ([]Order, error)
}

// Tx is the mutating surface inside a transaction. Implementations must
// serialize access per product row so two concurrent stock checks cannot both
// pass and overdraw.
type Tx interface {
	// PendingOrderOf returns the user's single Pending order, locked for the
	// rest of the transaction, or ErrNotFound. Implementations also serialize
	// find-or-create per user so the single-pending rule holds under races.
	PendingOrderOf(ctx context.Context, userID string) (Order, error)
	CreateOrder(ctx context.Context, userID string) (Order, error)
	// OrderForUpdate locks and returns an order without its items.
	OrderForUpdate(ctx context.Context, orderID string) (Order, error)
	SetOrderStatus(ctx context.Context, orderID string, st Status) error

	// ProductForUpdate locks and returns the product row.
	ProductForUpdate(ctx context.Context, productID string) (Product, error)
	// AdjustStock applies a signed delta to a product's stock.
	AdjustStock(ctx context.Context, productID string, delta int) error

	ItemByProduct(ctx context.Context, orderID, productID string) (OrderItem, error)
	ItemForUpdate(ctx context.Context, itemID string) (OrderItem, error)
	InsertItem(ctx context.Context, orderID, productID string, qty int, price decimal.Decimal) (OrderItem, error)
	AddItemQuantity(ctx context.Context, itemID string, delta int) error
	DeleteItem(ctx context.Context, itemID string) error
	ItemsOf(ctx context.Context, orderID string) ([]OrderItem, error)
}
