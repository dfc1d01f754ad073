package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxflow/dispensary/internal/domain/sale"
)

type SaleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	if err := dbFrom(ctx, r.db).Create(s).Error; err != nil {
		return fmt.Errorf("creating sale: %w", err)
	}
	return nil
}

func (r *SaleRepository) GetByID(ctx context.Context, id uuid.UUID) (*sale.Sale, error) {
	var s sale.Sale
	err := dbFrom(ctx, r.db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sale.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching sale: %w", err)
	}
	return &s, nil
}
