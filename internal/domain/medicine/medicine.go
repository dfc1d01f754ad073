package medicine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Medicine struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" json:"-"`

	Name        string `gorm:"column:name;type:varchar(255);not null;index" json:"name"`
	GenericName string `gorm:"column:generic_name;type:varchar(255);index" json:"generic_name"`
	Category    string `gorm:"column:category;type:varchar(100)" json:"category"`

	MRP          decimal.Decimal `gorm:"column:mrp;type:numeric(12,2);not null" json:"mrp"`
	SellingPrice decimal.Decimal `gorm:"column:selling_price;type:numeric(12,2);not null" json:"selling_price"`
}

func (Medicine) TableName() string {
	return "pharmacy.medicines"
}

// MatchKind describes how a catalog candidate matched the searched text.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchPrefix    MatchKind = "prefix"
	MatchSubstring MatchKind = "substring"
	MatchGeneric   MatchKind = "generic"
)

// Candidate is one ranked result of a catalog lookup. Candidates are
// returned best-first; rank 0 is the auto-select target when the caller's
// policy permits auto-selection.
type Candidate struct {
	Medicine *Medicine `json:"medicine"`
	Kind     MatchKind `json:"match_kind"`
	Rank     int       `json:"rank"`
}
