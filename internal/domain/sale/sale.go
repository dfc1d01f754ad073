package sale

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
	PaymentCredit PaymentMethod = "credit"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentCredit:
		return true
	}
	return false
}

// Sale is the persisted outcome of a committed dispensing session. It is
// created only by the committer, inside the same transaction as the stock
// decrements, and is immutable afterwards.
type Sale struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	Subtotal       decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null" json:"discount_amount"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null" json:"total"`

	PaymentMethod PaymentMethod   `gorm:"column:payment_method;type:varchar(20);not null" json:"payment_method"`
	PaidAmount    decimal.Decimal `gorm:"column:paid_amount;type:numeric(12,2);not null" json:"paid_amount"`

	// CustomerRef is free text: patient id, name, or blank for walk-ins.
	CustomerRef string    `gorm:"column:customer_ref;type:varchar(255)" json:"customer_ref"`
	OperatorID  uuid.UUID `gorm:"column:operator_id;type:uuid;not null;index" json:"operator_id"`

	Lines []Line `gorm:"foreignKey:SaleID" json:"lines"`
}

func (Sale) TableName() string {
	return "sales.sales"
}

// ChangeDue is the cash change for over-tendered payments, zero otherwise.
func (s *Sale) ChangeDue() decimal.Decimal {
	if s.PaymentMethod != PaymentCash {
		return decimal.Zero
	}
	change := s.PaidAmount.Sub(s.Total)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

// Line is a committed sale line, ordered by Position as the cart listed it.
type Line struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SaleID uuid.UUID `gorm:"column:sale_id;type:uuid;not null;index" json:"sale_id"`

	Position     int       `gorm:"column:position;not null" json:"position"`
	MedicineID   uuid.UUID `gorm:"column:medicine_id;type:uuid;not null;index" json:"medicine_id"`
	MedicineName string    `gorm:"column:medicine_name;type:varchar(255);not null" json:"medicine_name"`
	BatchID      uuid.UUID `gorm:"column:batch_id;type:uuid;not null;index" json:"batch_id"`

	Quantity  int             `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null" json:"unit_price"`
	MRP       decimal.Decimal `gorm:"column:mrp;type:numeric(12,2);not null" json:"mrp"`

	PrescriptionID *uuid.UUID `gorm:"column:prescription_id;type:uuid;index" json:"prescription_id,omitempty"`
	ItemIndex      *int       `gorm:"column:item_index" json:"item_index,omitempty"`
}

func (Line) TableName() string {
	return "sales.sale_lines"
}
