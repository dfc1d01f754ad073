package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rxflow/dispensary/internal/config"
	"github.com/rxflow/dispensary/internal/domain/cart"
	"github.com/rxflow/dispensary/internal/domain/medicine"
	"github.com/rxflow/dispensary/internal/domain/prescription"
	"github.com/rxflow/dispensary/internal/domain/pricing"
	"github.com/rxflow/dispensary/internal/domain/sale"
	"github.com/rxflow/dispensary/internal/domain/stock"
)

// memStock is a mutex-guarded stock store whose conditional decrement
// mirrors the SQL guard: it fails without applying anything when on-hand
// is short. Decrements made inside a transaction are journaled so memTx
// can undo exactly those on rollback.
type memStock struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*stock.Batch
}

func newMemStock(batches ...*stock.Batch) *memStock {
	s := &memStock{batches: make(map[uuid.UUID]*stock.Batch)}
	for _, b := range batches {
		s.batches[b.ID] = b
	}
	return s
}

func (s *memStock) snapshot(id uuid.UUID) stock.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

func (s *memStock) setQuantity(id uuid.UUID, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id].QuantityOnHand = qty
}

func (s *memStock) ListByMedicine(_ context.Context, medicineID uuid.UUID) ([]*stock.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*stock.Batch
	for _, b := range s.batches {
		if b.MedicineID == medicineID {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStock) GetByID(_ context.Context, id uuid.UUID) (*stock.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, stock.ErrBatchNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *memStock) DecrementIfAvailable(ctx context.Context, id uuid.UUID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return stock.ErrBatchNotFound
	}
	if b.QuantityOnHand < qty {
		return stock.ErrInsufficientOnHand
	}
	b.QuantityOnHand -= qty
	if j := journalFrom(ctx); j != nil {
		j.applied = append(j.applied, decrement{batchID: id, qty: qty})
	}
	return nil
}

type decrement struct {
	batchID uuid.UUID
	qty     int
}

type txJournal struct {
	applied []decrement
}

type journalKey struct{}

func journalFrom(ctx context.Context) *txJournal {
	j, _ := ctx.Value(journalKey{}).(*txJournal)
	return j
}

// memTx runs fn with a fresh journal in the context and reverses the
// journaled decrements when fn fails, matching the rollback semantics the
// committer relies on.
type memTx struct {
	stock *memStock
}

func (t *memTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &txJournal{}
	err := fn(context.WithValue(ctx, journalKey{}, j))
	if err != nil {
		t.stock.mu.Lock()
		for i := len(j.applied) - 1; i >= 0; i-- {
			d := j.applied[i]
			t.stock.batches[d.batchID].QuantityOnHand += d.qty
		}
		t.stock.mu.Unlock()
	}
	return err
}

type memSaleRepo struct {
	mu       sync.Mutex
	sales    []*sale.Sale
	failWith error
}

func (r *memSaleRepo) Create(_ context.Context, s *sale.Sale) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales = append(r.sales, s)
	return nil
}

func (r *memSaleRepo) GetByID(_ context.Context, id uuid.UUID) (*sale.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sales {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, sale.ErrSaleNotFound
}

func (r *memSaleRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

type stubPrescriptionRepo struct {
	prescriptions map[uuid.UUID]*prescription.Prescription
}

func (r *stubPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, ok := r.prescriptions[id]
	if !ok {
		return nil, prescription.ErrPrescriptionNotFound
	}
	return p, nil
}

type recordingSink struct {
	mu     sync.Mutex
	marked []string
}

func (s *recordingSink) MarkDispensed(_ context.Context, prescriptionID uuid.UUID, itemIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, prescriptionID.String())
	return nil
}

type dispenseHarness struct {
	svc       *DispenseService
	stock     *memStock
	sales     *memSaleRepo
	sink      *recordingSink
	medicines *stubMedicineRepo
}

func newDispenseHarness(t *testing.T, pricingCfg config.PricingConfig, medicines []*medicine.Medicine, batches []*stock.Batch, prescriptions map[uuid.UUID]*prescription.Prescription) *dispenseHarness {
	t.Helper()

	log := zap.NewNop()
	medRepo := &stubMedicineRepo{medicines: medicines}
	stockRepo := newMemStock(batches...)
	saleRepo := &memSaleRepo{}
	sink := &recordingSink{}

	svc := NewDispenseService(DispenseDeps{
		Catalog:          NewCatalogService(medRepo, log),
		Selector:         NewBatchSelector(stockRepo, log),
		MedicineRepo:     medRepo,
		StockRepo:        stockRepo,
		SaleRepo:         saleRepo,
		PrescriptionRepo: &stubPrescriptionRepo{prescriptions: prescriptions},
		Sink:             sink,
		Tx:               &memTx{stock: stockRepo},
		Pricing:          pricingCfg,
		Database:         config.DatabaseConfig{CommitTimeout: 5 * time.Second},
		Log:              log,
	})

	return &dispenseHarness{svc: svc, stock: stockRepo, sales: saleRepo, sink: sink, medicines: medRepo}
}

func pricedMed(name string) *medicine.Medicine {
	return &medicine.Medicine{
		ID:           uuid.New(),
		Name:         name,
		MRP:          decimal.NewFromFloat(12.00),
		SellingPrice: decimal.NewFromFloat(10.00),
	}
}

// stockFor builds a batch priced like its medicine, so totals in these
// tests follow directly from quantity times the medicine's selling price.
func stockFor(m *medicine.Medicine, number string, qty int, expiry *time.Time) *stock.Batch {
	b := batch(m.ID, number, qty, expiry)
	b.SellingPrice = m.SellingPrice
	b.MRP = m.MRP
	return b
}

func cashAt(paid float64) PaymentInfo {
	return PaymentInfo{
		Method:       sale.PaymentCash,
		PaidAmount:   decimal.NewFromFloat(paid),
		DiscountType: pricing.DiscountFlat,
	}
}

func TestCommitDecrementsStockAndPersistsSale(t *testing.T) {
	para := pricedMed("Paracetamol")
	earlier := stockFor(para, "A", 10, datePtr(2025, 1, 1))
	later := stockFor(para, "B", 10, datePtr(2025, 6, 1))
	later.SellingPrice = decimal.NewFromFloat(9.00)

	h := newDispenseHarness(t, config.PricingConfig{}, []*medicine.Medicine{para}, []*stock.Batch{earlier, later}, nil)
	ctx := context.Background()

	c, err := h.svc.AddItem(ctx, cart.New(), para.ID, 4)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, earlier.ID, *c.Lines[0].BatchID, "default selection is earliest expiry")

	record, committed, err := h.svc.Commit(ctx, c, cashAt(50), uuid.New(), "pharmacist", "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, cart.StateCommitted, committed.State)
	assert.Equal(t, 6, h.stock.snapshot(earlier.ID).QuantityOnHand)
	assert.Equal(t, 10, h.stock.snapshot(later.ID).QuantityOnHand, "other batch untouched")

	require.Equal(t, 1, h.sales.count())
	stored, err := h.sales.GetByID(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, 4, stored.Lines[0].Quantity)
	assert.True(t, stored.Lines[0].UnitPrice.Equal(decimal.NewFromFloat(10.00)))
	assert.True(t, stored.Total.Equal(decimal.NewFromFloat(40.00)), "no discount, no tax: total is the subtotal, got %s", stored.Total)
	assert.True(t, stored.ChangeDue().Equal(decimal.NewFromFloat(10.00)), "change for 50 tendered on 40")
}

func TestCommitStaleCartListsEveryShortfall(t *testing.T) {
	para := pricedMed("Paracetamol")
	ibu := pricedMed("Ibuprofen")
	paraBatch := stockFor(para, "P1", 15, datePtr(2025, 1, 1))
	ibuBatch := stockFor(ibu, "I1", 10, datePtr(2025, 1, 1))

	h := newDispenseHarness(t, config.PricingConfig{}, []*medicine.Medicine{para, ibu}, []*stock.Batch{paraBatch, ibuBatch}, nil)
	ctx := context.Background()

	c, err := h.svc.AddItem(ctx, cart.New(), para.ID, 12)
	require.NoError(t, err)
	c, err = h.svc.AddItem(ctx, c, ibu.ID, 6)
	require.NoError(t, err)

	// Another terminal sells most of the stock between selection and commit.
	h.stock.setQuantity(paraBatch.ID, 10)
	h.stock.setQuantity(ibuBatch.ID, 0)

	_, after, err := h.svc.Commit(ctx, c, cashAt(200), uuid.New(), "pharmacist", "127.0.0.1")
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Lines, 2, "all failing lines reported, not just the first")

	assert.Equal(t, 12, insufficient.Lines[0].Requested)
	assert.Equal(t, 10, insufficient.Lines[0].Available)
	assert.Equal(t, "Paracetamol", insufficient.Lines[0].MedicineName)
	assert.Equal(t, 0, insufficient.Lines[1].Available)

	assert.Equal(t, cart.StateBuilding, after.State)
	assert.Equal(t, 10, h.stock.snapshot(paraBatch.ID).QuantityOnHand, "nothing decremented")
	assert.Equal(t, 0, h.sales.count())
}

func TestCommitConcurrentRaceHasOneWinner(t *testing.T) {
	para := pricedMed("Paracetamol")
	b := stockFor(para, "P1", 5, datePtr(2025, 1, 1))

	h := newDispenseHarness(t, config.PricingConfig{}, []*medicine.Medicine{para}, []*stock.Batch{b}, nil)
	ctx := context.Background()

	first, err := h.svc.AddItem(ctx, cart.New(), para.ID, 5)
	require.NoError(t, err)
	second, err := h.svc.AddItem(ctx, cart.New(), para.ID, 5)
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, c := range []cart.Cart{first, second} {
		wg.Add(1)
		go func(c cart.Cart) {
			defer wg.Done()
			_, _, err := h.svc.Commit(ctx, c, cashAt(50), uuid.New(), "pharmacist", "127.0.0.1")
			results <- err
		}(c)
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		conflicts++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, h.stock.snapshot(b.ID).QuantityOnHand)
	assert.Equal(t, 1, h.sales.count())
}

func TestCommitRollsBackDecrementsWhenPersistenceFails(t *testing.T) {
	para := pricedMed("Paracetamol")
	ibu := pricedMed("Ibuprofen")
	paraBatch := stockFor(para, "P1", 10, datePtr(2025, 1, 1))
	ibuBatch := stockFor(ibu, "I1", 10, datePtr(2025, 1, 1))

	h := newDispenseHarness(t, config.PricingConfig{}, []*medicine.Medicine{para, ibu}, []*stock.Batch{paraBatch, ibuBatch}, nil)
	h.sales.failWith = errors.New("connection reset")
	ctx := context.Background()

	c, err := h.svc.AddItem(ctx, cart.New(), para.ID, 3)
	require.NoError(t, err)
	c, err = h.svc.AddItem(ctx, c, ibu.ID, 2)
	require.NoError(t, err)

	_, after, err := h.svc.Commit(ctx, c, cashAt(100), uuid.New(), "pharmacist", "127.0.0.1")
	require.ErrorIs(t, err, sale.ErrPersistenceFailure)

	assert.Equal(t, cart.StateBuilding, after.State)
	assert.Equal(t, 10, h.stock.snapshot(paraBatch.ID).QuantityOnHand, "decrement rolled back")
	assert.Equal(t, 10, h.stock.snapshot(ibuBatch.ID).QuantityOnHand)
	assert.Equal(t, 0, h.sales.count())
}

func TestCommitRejectsUnresolvedLinesAndBadPayment(t *testing.T) {
	para := pricedMed("Paracetamol")
	b := stockFor(para, "P1", 10, datePtr(2025, 1, 1))
	h := newDispenseHarness(t, config.PricingConfig{}, []*medicine.Medicine{para}, []*stock.Batch{b}, nil)
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		_, _, err := h.svc.Commit(ctx, cart.New(), cashAt(10), uuid.New(), "pharmacist", "")
		assert.ErrorIs(t, err, cart.ErrCartEmpty)
	})

	t.Run("line without a batch", func(t *testing.T) {
		c, err := cart.New().AddLine(cart.Line{
			MedicineID:   para.ID,
			MedicineName: para.Name,
			Quantity:     1,
			UnitPrice:    para.SellingPrice,
			BatchOnHand:  10,
		})
		require.NoError(t, err)

		_, after, err := h.svc.Commit(ctx, c, cashAt(10), uuid.New(), "pharmacist", "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, cart.StateBuilding, after.State)
	})

	t.Run("unknown payment method", func(t *testing.T) {
		c, err := h.svc.AddItem(ctx, cart.New(), para.ID, 1)
		require.NoError(t, err)

		info := cashAt(10)
		info.Method = sale.PaymentMethod("barter")
		_, _, err = h.svc.Commit(ctx, c, info, uuid.New(), "pharmacist", "")
		assert.ErrorIs(t, err, sale.ErrInvalidPaymentMethod)
	})
}

func TestQuoteDiscountApproval(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)

	para := pricedMed("Paracetamol")
	b := stockFor(para, "P1", 20, datePtr(2025, 1, 1))
	h := newDispenseHarness(t, config.PricingConfig{
		DefaultTaxRatePercent:            5,
		DiscountApprovalThresholdPercent: 10,
		ManagerPINHash:                   string(hash),
	}, []*medicine.Medicine{para}, []*stock.Batch{b}, nil)

	c, err := h.svc.AddItem(context.Background(), cart.New(), para.ID, 10)
	require.NoError(t, err)

	t.Run("below threshold needs no pin", func(t *testing.T) {
		q, err := h.svc.Quote(c, decimal.NewFromInt(10), pricing.DiscountPercentage, nil, "")
		require.NoError(t, err)
		// 100 - 10, then 5% tax on the discounted base.
		assert.True(t, q.Rounded().Total.Equal(decimal.NewFromFloat(94.50)), "got %s", q.Rounded().Total)
	})

	t.Run("above threshold without pin", func(t *testing.T) {
		_, err := h.svc.Quote(c, decimal.NewFromInt(20), pricing.DiscountPercentage, nil, "")
		assert.ErrorIs(t, err, ErrDiscountApprovalRequired)
	})

	t.Run("wrong pin", func(t *testing.T) {
		_, err := h.svc.Quote(c, decimal.NewFromInt(20), pricing.DiscountPercentage, nil, "9999")
		assert.ErrorIs(t, err, ErrInvalidOverridePIN)
	})

	t.Run("manager pin authorizes", func(t *testing.T) {
		q, err := h.svc.Quote(c, decimal.NewFromInt(20), pricing.DiscountPercentage, nil, "4321")
		require.NoError(t, err)
		assert.True(t, q.Rounded().Total.Equal(decimal.NewFromFloat(84.00)), "got %s", q.Rounded().Total)
	})

	t.Run("flat discount over threshold is held to the same bar", func(t *testing.T) {
		_, err := h.svc.Quote(c, decimal.NewFromInt(30), pricing.DiscountFlat, nil, "")
		assert.ErrorIs(t, err, ErrDiscountApprovalRequired)
	})
}

func TestLoadPrescriptionOutcomes(t *testing.T) {
	para := pricedMed("Paracetamol")
	ibu := pricedMed("Ibuprofen")
	paraBatch := stockFor(para, "P1", 10, datePtr(2025, 1, 1))
	ibuBatch := stockFor(ibu, "I1", 0, datePtr(2025, 1, 1))

	rxID := uuid.New()
	rx := &prescription.Prescription{
		ID: rxID,
		Items: []prescription.Item{
			{PrescriptionID: rxID, ItemIndex: 0, MedicationName: "Paracetamol", RequestedQuantity: 12},
			{PrescriptionID: rxID, ItemIndex: 1, MedicationName: "Amoxicillin", RequestedQuantity: 5, Dispensed: true},
			{PrescriptionID: rxID, ItemIndex: 2, MedicationName: "Unobtainium", RequestedQuantity: 1},
			{PrescriptionID: rxID, ItemIndex: 3, MedicationName: "Ibuprofen", RequestedQuantity: 4},
		},
	}

	h := newDispenseHarness(t, config.PricingConfig{},
		[]*medicine.Medicine{para, ibu},
		[]*stock.Batch{paraBatch, ibuBatch},
		map[uuid.UUID]*prescription.Prescription{rxID: rx},
	)
	ctx := context.Background()

	c, outcomes, err := h.svc.LoadPrescription(ctx, cart.New(), rxID, ResolvePolicy{AutoSelect: true, IncludeGeneric: true})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.Equal(t, ItemAdded, outcomes[0].Status)
	assert.Equal(t, ItemAlreadyDispensed, outcomes[1].Status)
	assert.Equal(t, ItemNotFound, outcomes[2].Status)
	assert.Equal(t, ItemOutOfStock, outcomes[3].Status)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 10, c.Lines[0].Quantity, "requested 12 capped at batch availability")
	require.NotNil(t, c.Lines[0].PrescriptionID)
	assert.Equal(t, rxID, *c.Lines[0].PrescriptionID)
	require.NotNil(t, outcomes[0].LineIndex)
	assert.Equal(t, 0, *outcomes[0].LineIndex)
}

func TestLoadPrescriptionWithoutAutoSelectAsksForSelection(t *testing.T) {
	para := pricedMed("Paracetamol")
	paraBatch := stockFor(para, "P1", 10, datePtr(2025, 1, 1))

	rxID := uuid.New()
	rx := &prescription.Prescription{
		ID:    rxID,
		Items: []prescription.Item{{PrescriptionID: rxID, ItemIndex: 0, MedicationName: "Paracetamol", RequestedQuantity: 2}},
	}

	h := newDispenseHarness(t, config.PricingConfig{},
		[]*medicine.Medicine{para}, []*stock.Batch{paraBatch},
		map[uuid.UUID]*prescription.Prescription{rxID: rx},
	)

	c, outcomes, err := h.svc.LoadPrescription(context.Background(), cart.New(), rxID, ResolvePolicy{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, ItemNeedsSelection, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].Candidates, "candidates accompany the outcome for the operator")
	assert.Empty(t, c.Lines)
}

func TestCommitMarksPrescriptionItemsDispensed(t *testing.T) {
	para := pricedMed("Paracetamol")
	paraBatch := stockFor(para, "P1", 10, datePtr(2025, 1, 1))

	rxID := uuid.New()
	rx := &prescription.Prescription{
		ID:    rxID,
		Items: []prescription.Item{{PrescriptionID: rxID, ItemIndex: 0, MedicationName: "Paracetamol", RequestedQuantity: 2}},
	}

	h := newDispenseHarness(t, config.PricingConfig{},
		[]*medicine.Medicine{para}, []*stock.Batch{paraBatch},
		map[uuid.UUID]*prescription.Prescription{rxID: rx},
	)
	ctx := context.Background()

	c, _, err := h.svc.LoadPrescription(ctx, cart.New(), rxID, ResolvePolicy{AutoSelect: true})
	require.NoError(t, err)

	// A walk-in line in the same cart must not reach the sink.
	c, err = h.svc.AddItem(ctx, c, para.ID, 1)
	require.NoError(t, err)
	require.Len(t, c.Lines, 2)

	_, _, err = h.svc.Commit(ctx, c, cashAt(50), uuid.New(), "pharmacist", "")
	require.NoError(t, err)

	assert.Equal(t, []string{rxID.String()}, h.sink.marked)
}
