package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrQuantity = errors.New("quantity must be positive")
	ErrNoItems  = errors.New("no items submitted")
)

// InsufficientStockError reports a pair whose requested quantity exceeds the
// product's stock. Pairs applied earlier in the same submission stay committed.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// InvalidTransitionError is returned when an operation needs the order in a
// state it is no longer in.
type InvalidTransitionError struct {
	OrderID   string
	Status    Status
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s is %s: cannot %s", e.OrderID, e.Status, e.Attempted)
}
