package cart

import (
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxflow/dispensary/internal/domain/stock"
)

type State string

const (
	StateEmpty      State = "empty"
	StateBuilding   State = "building"
	StateValidating State = "validating"
	StateCommitted  State = "committed"
)

// Line is one dispensing entry. Unit price and MRP are copied from the
// batch at selection time, never live-linked; a batch change re-copies them.
type Line struct {
	MedicineID   uuid.UUID       `json:"medicine_id"`
	MedicineName string          `json:"medicine_name"`
	BatchID      *uuid.UUID      `json:"batch_id,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MRP          decimal.Decimal `json:"mrp"`

	// BatchOnHand is the chosen batch's quantity-on-hand as of selection.
	// Quantity edits validate against it; the committer re-checks the live
	// store and never trusts this value.
	BatchOnHand int `json:"batch_on_hand"`

	// Originating prescription item, nil for walk-in sales.
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	ItemIndex      *int       `json:"item_index,omitempty"`
}

// Cart is an immutable value: every transition returns a new cart and
// leaves the receiver untouched, so a failed mutation is never partially
// applied and the cart can be unit-tested without any transport harness.
type Cart struct {
	Lines []Line `json:"lines"`
	State State  `json:"state"`
}

func New() Cart {
	return Cart{State: StateEmpty}
}

func (c Cart) clone() Cart {
	return Cart{Lines: slices.Clone(c.Lines), State: c.State}
}

func (c Cart) mutable() error {
	switch c.State {
	case StateCommitted:
		return ErrCartCommitted
	case StateValidating:
		return ErrCartValidating
	}
	return nil
}

// AddLine appends a line, or, when a line for the same medicine and
// originating prescription item already exists, sums the quantity into it
// instead of duplicating.
func (c Cart) AddLine(line Line) (Cart, error) {
	if err := c.mutable(); err != nil {
		return c, err
	}
	if line.Quantity < 1 {
		return c, &QuantityError{Requested: line.Quantity, MaxAvailable: line.BatchOnHand}
	}

	next := c.clone()
	next.State = StateBuilding

	for i := range next.Lines {
		if sameOrigin(next.Lines[i], line) {
			next.Lines[i].Quantity += line.Quantity
			return next, nil
		}
	}

	next.Lines = append(next.Lines, line)
	return next, nil
}

func sameOrigin(a, b Line) bool {
	if a.MedicineID != b.MedicineID {
		return false
	}
	if (a.PrescriptionID == nil) != (b.PrescriptionID == nil) {
		return false
	}
	if a.PrescriptionID == nil {
		// Walk-in lines merge only when they target the same batch.
		return equalBatch(a.BatchID, b.BatchID)
	}
	return *a.PrescriptionID == *b.PrescriptionID &&
		a.ItemIndex != nil && b.ItemIndex != nil && *a.ItemIndex == *b.ItemIndex
}

func equalBatch(a, b *uuid.UUID) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// UpdateQuantity rejects values outside [1, BatchOnHand] without mutating,
// so the caller can surface "max available" instead of silently clamping.
func (c Cart) UpdateQuantity(lineIndex, qty int) (Cart, error) {
	if err := c.mutable(); err != nil {
		return c, err
	}
	if lineIndex < 0 || lineIndex >= len(c.Lines) {
		return c, ErrLineIndexOutOfRange
	}
	line := c.Lines[lineIndex]
	if qty < 1 || qty > line.BatchOnHand {
		return c, &QuantityError{
			MedicineName: line.MedicineName,
			Requested:    qty,
			MaxAvailable: line.BatchOnHand,
		}
	}

	next := c.clone()
	next.Lines[lineIndex].Quantity = qty
	return next, nil
}

// UpdateBatch points the line at a different batch and re-copies its unit
// price, MRP, and on-hand snapshot. The existing quantity is deliberately
// not re-validated against the new batch: the operator may be about to
// lower it, and the commit gate re-checks every line anyway.
func (c Cart) UpdateBatch(lineIndex int, batch *stock.Batch) (Cart, error) {
	if err := c.mutable(); err != nil {
		return c, err
	}
	if lineIndex < 0 || lineIndex >= len(c.Lines) {
		return c, ErrLineIndexOutOfRange
	}
	if batch == nil {
		return c, stock.ErrBatchNotFound
	}
	if batch.MedicineID != c.Lines[lineIndex].MedicineID {
		return c, ErrBatchMedicineMismatch
	}

	next := c.clone()
	id := batch.ID
	next.Lines[lineIndex].BatchID = &id
	next.Lines[lineIndex].UnitPrice = batch.SellingPrice
	next.Lines[lineIndex].MRP = batch.MRP
	next.Lines[lineIndex].BatchOnHand = batch.QuantityOnHand
	return next, nil
}

// RemoveLine drops a line. No stock was reserved at cart time, so removal
// has no external effect.
func (c Cart) RemoveLine(lineIndex int) (Cart, error) {
	if err := c.mutable(); err != nil {
		return c, err
	}
	if lineIndex < 0 || lineIndex >= len(c.Lines) {
		return c, ErrLineIndexOutOfRange
	}

	next := c.clone()
	next.Lines = slices.Delete(next.Lines, lineIndex, lineIndex+1)
	if len(next.Lines) == 0 {
		next.State = StateEmpty
	}
	return next, nil
}

// BeginValidation moves the cart into the commit gate. Only a non-empty
// building cart may enter.
func (c Cart) BeginValidation() (Cart, error) {
	if err := c.mutable(); err != nil {
		return c, err
	}
	if c.State != StateBuilding || len(c.Lines) == 0 {
		return c, ErrCartEmpty
	}
	next := c.clone()
	next.State = StateValidating
	return next, nil
}

// MarkCommitted is terminal; further mutation returns ErrCartCommitted.
func (c Cart) MarkCommitted() Cart {
	next := c.clone()
	next.State = StateCommitted
	return next
}

// FailValidation returns the cart to Building so the operator can fix the
// reported lines and retry.
func (c Cart) FailValidation() Cart {
	next := c.clone()
	next.State = StateBuilding
	return next
}

// Unresolved reports indexes of lines that still have no batch chosen.
// Such lines cannot pass the commit gate.
func (c Cart) Unresolved() []int {
	var idx []int
	for i, l := range c.Lines {
		if l.BatchID == nil {
			idx = append(idx, i)
		}
	}
	return idx
}
