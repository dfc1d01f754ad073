package cart

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxflow/dispensary/internal/domain/stock"
)

func testLine(onHand, qty int) Line {
	batchID := uuid.New()
	return Line{
		MedicineID:   uuid.New(),
		MedicineName: "Paracetamol 500mg",
		BatchID:      &batchID,
		Quantity:     qty,
		UnitPrice:    decimal.NewFromFloat(2.50),
		MRP:          decimal.NewFromFloat(3.00),
		BatchOnHand:  onHand,
	}
}

func prescribedLine(prescriptionID uuid.UUID, itemIndex, onHand, qty int) Line {
	l := testLine(onHand, qty)
	l.PrescriptionID = &prescriptionID
	l.ItemIndex = &itemIndex
	return l
}

func TestAddLine(t *testing.T) {
	t.Run("first add moves cart to building", func(t *testing.T) {
		c := New()
		assert.Equal(t, StateEmpty, c.State)

		next, err := c.AddLine(testLine(10, 4))
		require.NoError(t, err)
		assert.Equal(t, StateBuilding, next.State)
		assert.Len(t, next.Lines, 1)

		// The receiver is untouched.
		assert.Equal(t, StateEmpty, c.State)
		assert.Empty(t, c.Lines)
	})

	t.Run("re-adding the same prescription item sums quantity", func(t *testing.T) {
		pid := uuid.New()
		line := prescribedLine(pid, 0, 20, 4)

		c, err := New().AddLine(line)
		require.NoError(t, err)
		c, err = c.AddLine(line)
		require.NoError(t, err)

		assert.Len(t, c.Lines, 1)
		assert.Equal(t, 8, c.Lines[0].Quantity)
	})

	t.Run("different prescription items stay separate lines", func(t *testing.T) {
		pid := uuid.New()
		a := prescribedLine(pid, 0, 20, 4)
		b := prescribedLine(pid, 1, 20, 4)
		b.MedicineID = a.MedicineID

		c, err := New().AddLine(a)
		require.NoError(t, err)
		c, err = c.AddLine(b)
		require.NoError(t, err)

		assert.Len(t, c.Lines, 2)
	})

	t.Run("walk-in lines merge only on same batch", func(t *testing.T) {
		a := testLine(20, 2)
		b := testLine(20, 3)
		b.MedicineID = a.MedicineID
		b.BatchID = a.BatchID

		c, err := New().AddLine(a)
		require.NoError(t, err)
		c, err = c.AddLine(b)
		require.NoError(t, err)
		require.Len(t, c.Lines, 1)
		assert.Equal(t, 5, c.Lines[0].Quantity)

		other := testLine(20, 1)
		other.MedicineID = a.MedicineID
		c, err = c.AddLine(other)
		require.NoError(t, err)
		assert.Len(t, c.Lines, 2)
	})

	t.Run("rejects quantity below one", func(t *testing.T) {
		_, err := New().AddLine(testLine(10, 0))
		var qtyErr *QuantityError
		require.ErrorAs(t, err, &qtyErr)
	})
}

func TestUpdateQuantity(t *testing.T) {
	c, err := New().AddLine(testLine(10, 4))
	require.NoError(t, err)

	t.Run("accepts exactly the on-hand quantity", func(t *testing.T) {
		next, err := c.UpdateQuantity(0, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, next.Lines[0].Quantity)
	})

	t.Run("rejects on-hand plus one without mutating", func(t *testing.T) {
		next, err := c.UpdateQuantity(0, 11)
		var qtyErr *QuantityError
		require.ErrorAs(t, err, &qtyErr)
		assert.Equal(t, 11, qtyErr.Requested)
		assert.Equal(t, 10, qtyErr.MaxAvailable)
		assert.Equal(t, 4, next.Lines[0].Quantity)
	})

	t.Run("rejects zero", func(t *testing.T) {
		_, err := c.UpdateQuantity(0, 0)
		var qtyErr *QuantityError
		require.ErrorAs(t, err, &qtyErr)
	})

	t.Run("rejects bad index", func(t *testing.T) {
		_, err := c.UpdateQuantity(5, 1)
		assert.ErrorIs(t, err, ErrLineIndexOutOfRange)
	})
}

func TestUpdateBatch(t *testing.T) {
	line := testLine(10, 4)
	c, err := New().AddLine(line)
	require.NoError(t, err)

	expiry := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	newBatch := &stock.Batch{
		ID:             uuid.New(),
		MedicineID:     line.MedicineID,
		BatchNumber:    "B-202",
		ExpiryDate:     &expiry,
		QuantityOnHand: 3,
		SellingPrice:   decimal.NewFromFloat(2.10),
		MRP:            decimal.NewFromFloat(2.80),
	}

	t.Run("re-copies price and availability from the new batch", func(t *testing.T) {
		next, err := c.UpdateBatch(0, newBatch)
		require.NoError(t, err)

		got := next.Lines[0]
		assert.Equal(t, newBatch.ID, *got.BatchID)
		assert.True(t, got.UnitPrice.Equal(decimal.NewFromFloat(2.10)))
		assert.True(t, got.MRP.Equal(decimal.NewFromFloat(2.80)))
		assert.Equal(t, 3, got.BatchOnHand)

		// Quantity above the new batch's capacity is left alone; the
		// commit gate is where that shortfall surfaces.
		assert.Equal(t, 4, got.Quantity)
	})

	t.Run("rejects a batch of another medicine", func(t *testing.T) {
		foreign := *newBatch
		foreign.MedicineID = uuid.New()
		_, err := c.UpdateBatch(0, &foreign)
		assert.ErrorIs(t, err, ErrBatchMedicineMismatch)
	})
}

func TestRemoveLine(t *testing.T) {
	c, err := New().AddLine(testLine(10, 4))
	require.NoError(t, err)
	c, err = c.AddLine(testLine(5, 2))
	require.NoError(t, err)

	next, err := c.RemoveLine(0)
	require.NoError(t, err)
	assert.Len(t, next.Lines, 1)
	assert.Equal(t, StateBuilding, next.State)

	next, err = next.RemoveLine(0)
	require.NoError(t, err)
	assert.Empty(t, next.Lines)
	assert.Equal(t, StateEmpty, next.State)
}

func TestStateMachine(t *testing.T) {
	t.Run("empty cart cannot enter validation", func(t *testing.T) {
		_, err := New().BeginValidation()
		assert.ErrorIs(t, err, ErrCartEmpty)
	})

	t.Run("committed cart rejects every mutation", func(t *testing.T) {
		c, err := New().AddLine(testLine(10, 4))
		require.NoError(t, err)
		c = c.MarkCommitted()

		_, err = c.AddLine(testLine(10, 1))
		assert.ErrorIs(t, err, ErrCartCommitted)
		_, err = c.UpdateQuantity(0, 2)
		assert.ErrorIs(t, err, ErrCartCommitted)
		_, err = c.RemoveLine(0)
		assert.ErrorIs(t, err, ErrCartCommitted)
	})

	t.Run("failed validation returns to building", func(t *testing.T) {
		c, err := New().AddLine(testLine(10, 4))
		require.NoError(t, err)

		validating, err := c.BeginValidation()
		require.NoError(t, err)
		assert.Equal(t, StateValidating, validating.State)

		back := validating.FailValidation()
		assert.Equal(t, StateBuilding, back.State)

		_, err = back.UpdateQuantity(0, 2)
		assert.NoError(t, err)
	})
}

func TestUnresolved(t *testing.T) {
	line := testLine(10, 4)
	line.BatchID = nil

	c, err := New().AddLine(line)
	require.NoError(t, err)
	c, err = c.AddLine(testLine(10, 1))
	require.NoError(t, err)

	assert.Equal(t, []int{0}, c.Unresolved())
}
