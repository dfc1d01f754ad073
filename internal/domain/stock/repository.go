package stock

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// ListByMedicine returns every batch of the medicine with
	// quantity-on-hand > 0, ordered expiry ascending (nulls last) then
	// batch id ascending. Quantities reflect the store as of this call;
	// nothing is cached across calls.
	ListByMedicine(ctx context.Context, medicineID uuid.UUID) ([]*Batch, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)

	// DecrementIfAvailable atomically applies
	//   quantity_on_hand = quantity_on_hand - qty WHERE id = ? AND quantity_on_hand >= qty
	// and returns ErrInsufficientOnHand when the condition did not hold.
	// It participates in any transaction carried by ctx.
	DecrementIfAvailable(ctx context.Context, batchID uuid.UUID, qty int) error
}
