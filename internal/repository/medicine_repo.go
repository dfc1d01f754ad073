package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxflow/dispensary/internal/domain/medicine"
)

type MedicineRepository struct {
	db *gorm.DB
}

func NewMedicineRepository(db *gorm.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

func (r *MedicineRepository) FindByNameSubstring(ctx context.Context, text string) ([]*medicine.Medicine, error) {
	var result []*medicine.Medicine
	pattern := "%" + text + "%"
	err := dbFrom(ctx, r.db).
		Where("deleted_at IS NULL").
		Where("name ILIKE ? OR generic_name ILIKE ?", pattern, pattern).
		Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("searching medicines: %w", err)
	}
	return result, nil
}

func (r *MedicineRepository) GetByID(ctx context.Context, id uuid.UUID) (*medicine.Medicine, error) {
	var m medicine.Medicine
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, medicine.ErrMedicineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching medicine: %w", err)
	}
	return &m, nil
}
