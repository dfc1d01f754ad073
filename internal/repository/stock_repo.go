package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxflow/dispensary/internal/domain/stock"
)

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) ListByMedicine(ctx context.Context, medicineID uuid.UUID) ([]*stock.Batch, error) {
	var batches []*stock.Batch
	err := dbFrom(ctx, r.db).
		Where("medicine_id = ? AND quantity_on_hand > 0", medicineID).
		Order("expiry_date ASC NULLS LAST, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

func (r *StockRepository) GetByID(ctx context.Context, id uuid.UUID) (*stock.Batch, error) {
	var b stock.Batch
	err := dbFrom(ctx, r.db).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, stock.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching batch: %w", err)
	}
	return &b, nil
}

// DecrementIfAvailable performs the conditional update that guards against
// concurrent oversell: the decrement and the availability check are one
// statement, so two sales racing for the same stock cannot both win.
func (r *StockRepository) DecrementIfAvailable(ctx context.Context, batchID uuid.UUID, qty int) error {
	if qty < 1 {
		return fmt.Errorf("decrement quantity must be positive, got %d", qty)
	}

	res := dbFrom(ctx, r.db).
		Model(&stock.Batch{}).
		Where("id = ? AND quantity_on_hand >= ?", batchID, qty).
		UpdateColumn("quantity_on_hand", gorm.Expr("quantity_on_hand - ?", qty))
	if res.Error != nil {
		return fmt.Errorf("decrementing batch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing batch from a shortfall for error reporting.
		var exists int64
		if err := dbFrom(ctx, r.db).Model(&stock.Batch{}).Where("id = ?", batchID).Count(&exists).Error; err != nil {
			return fmt.Errorf("checking batch existence: %w", err)
		}
		if exists == 0 {
			return stock.ErrBatchNotFound
		}
		return stock.ErrInsufficientOnHand
	}
	return nil
}
