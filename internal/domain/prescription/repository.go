package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
}

// DispensedSink records that an item was fulfilled by a committed sale.
// It is called only after the sale transaction has committed; a failure
// here is logged and retried out of band, never used to reverse the sale.
type DispensedSink interface {
	MarkDispensed(ctx context.Context, prescriptionID uuid.UUID, itemIndex int) error
}
