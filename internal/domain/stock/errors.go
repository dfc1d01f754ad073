package stock

import "errors"

var (
	ErrBatchNotFound = errors.New("stock batch not found")
	// ErrUnavailable means no batch of the medicine has any stock. This is
	// an expected business outcome, not an infrastructure fault.
	ErrUnavailable = errors.New("no stock available for medicine")
	// ErrInsufficientOnHand is returned by the conditional decrement when
	// quantity-on-hand < requested quantity at the moment of the update.
	ErrInsufficientOnHand = errors.New("insufficient quantity on hand")
)
