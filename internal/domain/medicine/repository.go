package medicine

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// FindByNameSubstring returns every non-deleted medicine whose name or
	// generic name contains text, case-insensitively. Ordering is left to
	// the catalog resolver, which ranks results.
	FindByNameSubstring(ctx context.Context, text string) ([]*Medicine, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
}
