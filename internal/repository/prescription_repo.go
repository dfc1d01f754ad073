package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxflow/dispensary/internal/domain/prescription"
)

type PrescriptionRepository struct {
	db *gorm.DB
}

func NewPrescriptionRepository(db *gorm.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

func (r *PrescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	var p prescription.Prescription
	err := dbFrom(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("item_index ASC")
		}).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, prescription.ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching prescription: %w", err)
	}
	return &p, nil
}

// MarkDispensed flips the item's dispensed flag. Called after a sale has
// committed; the dispensing engine retries out of band on failure instead
// of reversing the sale.
func (r *PrescriptionRepository) MarkDispensed(ctx context.Context, prescriptionID uuid.UUID, itemIndex int) error {
	res := dbFrom(ctx, r.db).
		Model(&prescription.Item{}).
		Where("prescription_id = ? AND item_index = ?", prescriptionID, itemIndex).
		UpdateColumn("dispensed", true)
	if res.Error != nil {
		return fmt.Errorf("marking item dispensed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return prescription.ErrItemNotFound
	}
	return nil
}
