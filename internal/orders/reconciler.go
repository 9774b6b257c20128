package orders

import (
	"context"
	"errors"
	"fmt"
)

// Reconciler keeps product stock and order items consistent: every quantity
// added to an order is subtracted from stock, and every cancellation or item
// removal puts it back. A user has at most one Pending order, which
// accumulates line items across submissions.
type Reconciler struct {
	Store Store
}

// SubmitItems merges items into the user's Pending order, creating the order
// if needed. Pairs run in their own transactions, in the order given; the
// first insufficient-stock pair fails the call, but pairs already applied
// stay committed.
func (r *Reconciler) SubmitItems(ctx context.Context, userID string, items []ItemInput) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrNoItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("product %s: %w", it.ProductID, ErrQuantity)
		}
	}

	var ord Order
	err := r.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.PendingOrderOf(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			o, err = tx.CreateOrder(ctx, userID)
		}
		if err != nil {
			return err
		}
		ord = o
		return nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("pending order: %w", err)
	}

	for _, it := range items {
		it := it
		if err := r.Store.InTx(ctx, func(tx Tx) error {
			return applyItem(ctx, tx, ord.ID, it)
		}); err != nil {
			return Order{}, err
		}
	}
	return r.Store.Order(ctx, ord.ID)
}

// applyItem is one pair's reservation step: lock the order and the product,
// check stock, decrement, then merge into the existing line item or append a
// new one with a price snapshot.
func applyItem(ctx context.Context, tx Tx, orderID string, in ItemInput) error {
	// The find-or-create lock is gone by the time a pair runs; a cancel may
	// have landed in between. Reserving onto a terminal order would strand
	// the units, so every pair re-locks the order and requires Pending.
	o, err := tx.OrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return &InvalidTransitionError{OrderID: o.ID, Status: o.Status, Attempted: "add item"}
	}
	p, err := tx.ProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return err
	}
	if p.Stock < in.Quantity {
		return &InsufficientStockError{ProductID: p.ID, Available: p.Stock, Requested: in.Quantity}
	}
	if err := tx.AdjustStock(ctx, p.ID, -in.Quantity); err != nil {
		return err
	}
	existing, err := tx.ItemByProduct(ctx, orderID, in.ProductID)
	switch {
	case err == nil:
		return tx.AddItemQuantity(ctx, existing.ID, in.Quantity)
	case errors.Is(err, ErrNotFound):
		_, err = tx.InsertItem(ctx, orderID, p.ID, in.Quantity, p.Price)
		return err
	default:
		return err
	}
}

// CancelOrder reverses every reservation on a Pending order and marks it
// Cancelled. Orders of other users read as not found.
func (r *Reconciler) CancelOrder(ctx context.Context, userID, orderID string) (Order, error) {
	err := r.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		return cancelLocked(ctx, tx, o)
	})
	if err != nil {
		return Order{}, err
	}
	return r.Store.Order(ctx, orderID)
}

func cancelLocked(ctx context.Context, tx Tx, o Order) error {
	if o.Status != StatusPending {
		return &InvalidTransitionError{OrderID: o.ID, Status: o.Status, Attempted: "cancel"}
	}
	items, err := tx.ItemsOf(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := tx.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return tx.SetOrderStatus(ctx, o.ID, StatusCancelled)
}

// DeleteOrderItem removes a line item from the owner's Pending order and puts
// its reserved quantity back in stock. Items on Processing or Completed
// orders are frozen; restocking them would hand back units already sold.
func (r *Reconciler) DeleteOrderItem(ctx context.Context, userID, itemID string) (OrderItem, error) {
	var removed OrderItem
	err := r.Store.InTx(ctx, func(tx Tx) error {
		it, err := tx.ItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		o, err := tx.OrderForUpdate(ctx, it.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		if o.Status != StatusPending {
			return &InvalidTransitionError{OrderID: o.ID, Status: o.Status, Attempted: "remove item"}
		}
		if err := tx.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return err
		}
		removed = it
		return nil
	})
	if err != nil {
		return OrderItem{}, err
	}
	return removed, nil
}

// AdvanceOrder moves an order along the fulfillment lifecycle. Advancing to
// Cancelled goes through the same stock restoration as CancelOrder.
func (r *Reconciler) AdvanceOrder(ctx context.Context, orderID string, next Status) (Order, error) {
	err := r.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, next) {
			return &InvalidTransitionError{OrderID: o.ID, Status: o.Status, Attempted: "move to " + string(next)}
		}
		if next == StatusCancelled {
			return cancelLocked(ctx, tx, o)
		}
		return tx.SetOrderStatus(ctx, o.ID, next)
	})
	if err != nil {
		return Order{}, err
	}
	return r.Store.Order(ctx, orderID)
}

// Order returns one of the user's orders with its items.
func (r *Reconciler) Order(ctx context.Context, userID, orderID string) (Order, error) {
	o, err := r.Store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// Orders lists the user's orders, newest first.
func (r *Reconciler) Orders(ctx context.Context, userID string) ([]Order, error) {
	return r.Store.OrdersOf(ctx, userID)
}
