package sale

import "errors"

var (
	ErrSaleNotFound         = errors.New("sale not found")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrPersistenceFailure wraps infrastructure faults from the atomic
	// commit. The transaction has been rolled back; the attempt is safely
	// retryable.
	ErrPersistenceFailure = errors.New("sale persistence failed")
)
