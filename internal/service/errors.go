package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrForbidden = errors.New("forbidden: insufficient permissions")
	// ErrDiscountApprovalRequired means the requested discount exceeds the
	// configured threshold and no valid manager PIN accompanied it.
	ErrDiscountApprovalRequired = errors.New("discount requires manager approval")
	ErrInvalidOverridePIN       = errors.New("invalid manager override PIN")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// LineShortfall names one cart line the commit gate rejected, with the
// requested and currently available quantities so the operator can correct
// the whole cart in one pass.
type LineShortfall struct {
	LineIndex    int       `json:"line_index"`
	MedicineID   uuid.UUID `json:"medicine_id"`
	MedicineName string    `json:"medicine_name"`
	BatchID      uuid.UUID `json:"batch_id"`
	Requested    int       `json:"requested"`
	Available    int       `json:"available"`
}

// InsufficientStockError aborts a commit when one or more lines failed
// re-validation against live stock. Every failing line is listed, not just
// the first. No stock was decremented and no sale was persisted.
type InsufficientStockError struct {
	Lines []LineShortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		parts[i] = fmt.Sprintf("%s: requested %d, available %d", l.MedicineName, l.Requested, l.Available)
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}
