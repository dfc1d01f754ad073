package prescription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusDispensed Status = "dispensed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Prescription is the read model the dispensing engine consumes. The engine
// never edits clinical content; it only reads item names and quantities and
// reports dispensed transitions after a committed sale.
type Prescription struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" json:"-"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index" json:"patient_id"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index" json:"doctor_id"`

	Status Status `gorm:"column:status;type:varchar(30);not null;default:'active';index" json:"status"`

	IssuedAt  time.Time `gorm:"column:issued_at;not null;index" json:"issued_at"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`

	Items []Item `gorm:"foreignKey:PrescriptionID" json:"items"`
}

func (Prescription) TableName() string {
	return "pharmacy.prescriptions"
}

func (p *Prescription) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// Item is a single prescribed medication line. MedicationName is free text
// written by the prescriber; matching it to a catalog record is the catalog
// resolver's job.
type Item struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	PrescriptionID uuid.UUID `gorm:"column:prescription_id;type:uuid;not null;index" json:"prescription_id"`
	// ItemIndex is the stable position of this item within its prescription,
	// used by the dispensed sink.
	ItemIndex int `gorm:"column:item_index;not null" json:"item_index"`

	MedicationName  string `gorm:"column:medication_name;type:varchar(255);not null" json:"medication_name"`
	DosageAmount    string `gorm:"column:dosage_amount;type:varchar(50)" json:"dosage_amount"`
	DosageFrequency string `gorm:"column:dosage_frequency;type:varchar(100)" json:"dosage_frequency"`
	Duration        string `gorm:"column:duration;type:varchar(100)" json:"duration"`

	RequestedQuantity int  `gorm:"column:requested_quantity;not null" json:"requested_quantity"`
	Dispensed         bool `gorm:"column:dispensed;not null;default:false;index" json:"dispensed"`
}

func (Item) TableName() string {
	return "pharmacy.prescription_items"
}
