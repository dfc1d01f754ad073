package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxflow/dispensary/internal/domain/stock"
)

// BatchSelector picks a stock batch for a required quantity. The default
// rule is FEFO: earliest expiry first, so short-dated stock leaves the
// shelf before it is wasted. Undated batches sort last; equal expiries
// break ties on batch id. Selection never reserves stock; quantities are
// re-checked at commit.
type BatchSelector struct {
	repo stock.Repository
	log  *zap.Logger
}

func NewBatchSelector(repo stock.Repository, log *zap.Logger) *BatchSelector {
	return &BatchSelector{repo: repo, log: log}
}

// SelectDefault returns the FEFO-first batch with quantity on hand.
// stock.ErrUnavailable is the expected outcome when the medicine has no
// stock at all; a batch that cannot cover requiredQty is still returned,
// flagged Insufficient.
func (s *BatchSelector) SelectDefault(ctx context.Context, medicineID uuid.UUID, requiredQty int) (stock.Selection, error) {
	if requiredQty < 1 {
		return stock.Selection{}, &ValidationError{Fields: []string{"required quantity must be at least 1"}}
	}

	batches, err := s.eligible(ctx, medicineID)
	if err != nil {
		return stock.Selection{}, err
	}
	if len(batches) == 0 {
		return stock.Selection{}, stock.ErrUnavailable
	}

	chosen := batches[0]
	return stock.Selection{
		Batch:        chosen,
		Insufficient: chosen.QuantityOnHand < requiredQty,
		Available:    chosen.QuantityOnHand,
	}, nil
}

// SelectByID lets the operator override the default with any eligible
// batch of the medicine. The override does not relax requiredQty checks:
// a short batch is still flagged Insufficient.
func (s *BatchSelector) SelectByID(ctx context.Context, medicineID, batchID uuid.UUID, requiredQty int) (stock.Selection, error) {
	if requiredQty < 1 {
		return stock.Selection{}, &ValidationError{Fields: []string{"required quantity must be at least 1"}}
	}

	batches, err := s.eligible(ctx, medicineID)
	if err != nil {
		return stock.Selection{}, err
	}

	for _, b := range batches {
		if b.ID == batchID {
			return stock.Selection{
				Batch:        b,
				Insufficient: b.QuantityOnHand < requiredQty,
				Available:    b.QuantityOnHand,
			}, nil
		}
	}
	return stock.Selection{}, stock.ErrBatchNotFound
}

// ListEligible exposes the FEFO-ordered batch list so interactive callers
// can render override choices.
func (s *BatchSelector) ListEligible(ctx context.Context, medicineID uuid.UUID) ([]*stock.Batch, error) {
	return s.eligible(ctx, medicineID)
}

func (s *BatchSelector) eligible(ctx context.Context, medicineID uuid.UUID) ([]*stock.Batch, error) {
	batches, err := s.repo.ListByMedicine(ctx, medicineID)
	if err != nil {
		s.log.Error("listing batches failed", zap.String("medicine_id", medicineID.String()), zap.Error(err))
		return nil, fmt.Errorf("listing batches: %w", err)
	}

	kept := batches[:0]
	for _, b := range batches {
		if b.QuantityOnHand > 0 {
			kept = append(kept, b)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.ID.String() < b.ID.String()
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ID.String() < b.ID.String()
		default:
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	})

	return kept, nil
}
