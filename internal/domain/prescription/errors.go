package prescription

import "errors"

var (
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrItemNotFound         = errors.New("prescription item not found")
)
