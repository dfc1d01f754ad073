package cart

import (
	"errors"
	"fmt"
)

var (
	ErrLineIndexOutOfRange   = errors.New("cart line index out of range")
	ErrCartCommitted         = errors.New("cart already committed")
	ErrCartValidating        = errors.New("cart is being committed")
	ErrCartEmpty             = errors.New("cart has no lines")
	ErrBatchMedicineMismatch = errors.New("batch belongs to a different medicine")
)

// QuantityError reports a rejected quantity together with the maximum the
// selected batch can satisfy, so the operator sees the real shortfall.
type QuantityError struct {
	MedicineName string
	Requested    int
	MaxAvailable int
}

func (e *QuantityError) Error() string {
	if e.MedicineName != "" {
		return fmt.Sprintf("invalid quantity %d for %s: must be between 1 and %d", e.Requested, e.MedicineName, e.MaxAvailable)
	}
	return fmt.Sprintf("invalid quantity %d: must be between 1 and %d", e.Requested, e.MaxAvailable)
}
