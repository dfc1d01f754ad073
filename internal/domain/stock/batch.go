package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Batch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	MedicineID  uuid.UUID `gorm:"column:medicine_id;type:uuid;not null;index" json:"medicine_id"`
	BatchNumber string    `gorm:"column:batch_number;type:varchar(100);not null" json:"batch_number"`

	// ExpiryDate is nullable: some supply records arrive without one.
	// Batches without an expiry sort after every dated batch under FEFO.
	ExpiryDate *time.Time `gorm:"column:expiry_date;index" json:"expiry_date,omitempty"`

	// QuantityOnHand never goes negative; a batch at zero is excluded from
	// selection but kept for history.
	QuantityOnHand int `gorm:"column:quantity_on_hand;not null;default:0" json:"quantity_on_hand"`

	SellingPrice decimal.Decimal `gorm:"column:selling_price;type:numeric(12,2);not null" json:"selling_price"`
	MRP          decimal.Decimal `gorm:"column:mrp;type:numeric(12,2);not null" json:"mrp"`
}

func (Batch) TableName() string {
	return "pharmacy.stock_batches"
}

func (b *Batch) Expired(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}

// Selection is a batch selector result: the chosen batch plus whether its
// on-hand quantity falls short of what the caller asked for. A short batch
// is still selectable; the shortfall is surfaced, not hidden.
type Selection struct {
	Batch        *Batch `json:"batch"`
	Insufficient bool   `json:"insufficient"`
	Available    int    `json:"available"`
}
