package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxflow/dispensary/internal/domain/cart"
)

func cartWithSubtotal(t *testing.T, unitPrice float64, qty int) cart.Cart {
	t.Helper()
	batchID := uuid.New()
	c, err := cart.New().AddLine(cart.Line{
		MedicineID:   uuid.New(),
		MedicineName: "Amoxicillin 250mg",
		BatchID:      &batchID,
		Quantity:     qty,
		UnitPrice:    decimal.NewFromFloat(unitPrice),
		MRP:          decimal.NewFromFloat(unitPrice),
		BatchOnHand:  qty,
	})
	require.NoError(t, err)
	return c
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestPricePercentageDiscountThenTax(t *testing.T) {
	// subtotal 1000, 10% discount, 5% tax on the discounted amount
	c := cartWithSubtotal(t, 100, 10)

	q, err := Price(c, dec(10), DiscountPercentage, dec(5))
	require.NoError(t, err)

	assert.True(t, q.Subtotal.Equal(dec(1000)), "subtotal = %s", q.Subtotal)
	assert.True(t, q.DiscountAmount.Equal(dec(100)), "discount = %s", q.DiscountAmount)
	assert.True(t, q.TaxAmount.Equal(dec(45)), "tax = %s", q.TaxAmount)
	assert.True(t, q.Total.Equal(dec(945)), "total = %s", q.Total)
}

func TestPriceFlatDiscountCappedAtSubtotal(t *testing.T) {
	c := cartWithSubtotal(t, 10, 3) // subtotal 30

	q, err := Price(c, dec(50), DiscountFlat, dec(0))
	require.NoError(t, err)

	assert.True(t, q.DiscountAmount.Equal(dec(30)))
	assert.True(t, q.Total.IsZero())
}

func TestPriceZeroDiscountZeroTax(t *testing.T) {
	c := cartWithSubtotal(t, 12.5, 4)

	q, err := Price(c, decimal.Zero, DiscountPercentage, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, q.DiscountAmount.IsZero())
	assert.True(t, q.TaxAmount.IsZero())
	assert.True(t, q.Total.Equal(dec(50)))
}

func TestPriceTotalIdentity(t *testing.T) {
	c := cartWithSubtotal(t, 33.33, 7)

	cases := []struct {
		discount float64
		dtype    DiscountType
		tax      float64
	}{
		{0, DiscountPercentage, 0},
		{5, DiscountPercentage, 18},
		{100, DiscountPercentage, 5},
		{12.75, DiscountFlat, 7.5},
		{1000000, DiscountFlat, 9},
	}

	for _, tc := range cases {
		q, err := Price(c, dec(tc.discount), tc.dtype, dec(tc.tax))
		require.NoError(t, err)
		assert.True(t, q.Total.Equal(q.Subtotal.Sub(q.DiscountAmount).Add(q.TaxAmount)),
			"discount=%v type=%s tax=%v", tc.discount, tc.dtype, tc.tax)
		assert.False(t, q.DiscountAmount.IsNegative())
		assert.True(t, q.DiscountAmount.LessThanOrEqual(q.Subtotal))
	}
}

func TestPriceRejectsInvalidInput(t *testing.T) {
	c := cartWithSubtotal(t, 10, 1)

	_, err := Price(c, dec(-1), DiscountPercentage, decimal.Zero)
	assert.ErrorIs(t, err, ErrNegativeDiscount)

	_, err = Price(c, dec(101), DiscountPercentage, decimal.Zero)
	assert.ErrorIs(t, err, ErrPercentOutOfRange)

	_, err = Price(c, decimal.Zero, DiscountPercentage, dec(-5))
	assert.ErrorIs(t, err, ErrNegativeTaxRate)

	_, err = Price(c, decimal.Zero, DiscountType("bogus"), decimal.Zero)
	assert.ErrorIs(t, err, ErrUnknownDiscountType)
}

func TestRoundedOnlyAtTheEdge(t *testing.T) {
	// Three lines at 0.335 each would drift if rounded per line:
	// per-line rounding gives 0.34*3 = 1.02, unrounded accumulation 1.005.
	batchID := uuid.New()
	c := cart.New()
	var err error
	for range 3 {
		id := batchID
		c, err = c.AddLine(cart.Line{
			MedicineID:  uuid.New(),
			BatchID:     &id,
			Quantity:    1,
			UnitPrice:   decimal.NewFromFloat(0.335),
			BatchOnHand: 1,
		})
		require.NoError(t, err)
	}

	q, err := Price(c, decimal.Zero, DiscountPercentage, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, q.Subtotal.Equal(decimal.NewFromFloat(1.005)))

	rounded := q.Rounded()
	assert.True(t, rounded.Subtotal.Equal(decimal.NewFromFloat(1.01)))
	assert.Equal(t, int32(-2), rounded.Total.Exponent())
}
