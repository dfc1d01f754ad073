package sale

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists the sale and its lines. It participates in any
	// transaction carried by ctx so the insert shares the commit/rollback
	// boundary of the stock decrements.
	Create(ctx context.Context, s *Sale) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sale, error)
}
