package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "pharmacist"
	RoleManager    Role = "manager"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePharmacist, RoleManager:
		return true
	}
	return false
}

type AuditAction string

const (
	ActionSearch       AuditAction = "search"
	ActionQuote        AuditAction = "quote"
	ActionCommit       AuditAction = "commit"
	ActionCommitFailed AuditAction = "commit_failed"
)

// AuditLog records who attempted what against the dispensing engine.
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	OperatorID   uuid.UUID   `gorm:"column:operator_id;type:uuid;not null;index"`
	OperatorRole Role        `gorm:"column:operator_role;type:varchar(30);not null"`
	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	IPAddress string `gorm:"column:ip_address;type:varchar(45)"`
	RequestID string `gorm:"column:request_id;type:varchar(50);index"`

	Details string `gorm:"column:details;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}

// Claims carried by an operator's access token.
type Claims struct {
	OperatorID uuid.UUID `json:"sub"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
}
