package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rxflow/dispensary/internal/config"
	"github.com/rxflow/dispensary/internal/domain"
	"github.com/rxflow/dispensary/internal/domain/cart"
	"github.com/rxflow/dispensary/internal/domain/medicine"
	"github.com/rxflow/dispensary/internal/domain/prescription"
	"github.com/rxflow/dispensary/internal/domain/pricing"
	"github.com/rxflow/dispensary/internal/domain/sale"
	"github.com/rxflow/dispensary/internal/domain/stock"
	"github.com/rxflow/dispensary/pkg/metrics"
)

// Transactor runs fn inside a database transaction carried by the returned
// context: every repository call made with that context joins the same
// commit/rollback boundary.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentInfo carries everything the committer needs beyond the cart.
type PaymentInfo struct {
	Method       sale.PaymentMethod
	PaidAmount   decimal.Decimal
	CustomerRef  string
	Discount     decimal.Decimal
	DiscountType pricing.DiscountType
	// TaxRatePercent overrides the configured default when non-nil.
	TaxRatePercent *decimal.Decimal
	// OverridePIN authorizes discounts above the approval threshold.
	OverridePIN string
}

// ItemOutcome reports what happened to one prescription item during bulk
// loading. Candidates are always included so an interactive caller can let
// the operator override the resolution.
type ItemOutcome struct {
	ItemIndex      int                  `json:"item_index"`
	MedicationName string               `json:"medication_name"`
	Status         ItemStatus           `json:"status"`
	Candidates     []medicine.Candidate `json:"candidates,omitempty"`
	LineIndex      *int                 `json:"line_index,omitempty"`
}

type ItemStatus string

const (
	ItemAdded            ItemStatus = "added"
	ItemNotFound         ItemStatus = "not_found"
	ItemOutOfStock       ItemStatus = "out_of_stock"
	ItemNeedsSelection   ItemStatus = "needs_selection"
	ItemAlreadyDispensed ItemStatus = "already_dispensed"
)

type DispenseService struct {
	catalog          *CatalogService
	selector         *BatchSelector
	medicineRepo     medicine.Repository
	stockRepo        stock.Repository
	saleRepo         sale.Repository
	prescriptionRepo prescription.Repository
	sink             prescription.DispensedSink
	tx               Transactor
	audit            *AuditService
	metrics          *metrics.Collector
	pricingCfg       config.PricingConfig
	dbCfg            config.DatabaseConfig
	log              *zap.Logger
}

type DispenseDeps struct {
	Catalog          *CatalogService
	Selector         *BatchSelector
	MedicineRepo     medicine.Repository
	StockRepo        stock.Repository
	SaleRepo         sale.Repository
	PrescriptionRepo prescription.Repository
	Sink             prescription.DispensedSink
	Tx               Transactor
	Audit            *AuditService
	Metrics          *metrics.Collector
	Pricing          config.PricingConfig
	Database         config.DatabaseConfig
	Log              *zap.Logger
}

func NewDispenseService(deps DispenseDeps) *DispenseService {
	return &DispenseService{
		catalog:          deps.Catalog,
		selector:         deps.Selector,
		medicineRepo:     deps.MedicineRepo,
		stockRepo:        deps.StockRepo,
		saleRepo:         deps.SaleRepo,
		prescriptionRepo: deps.PrescriptionRepo,
		sink:             deps.Sink,
		tx:               deps.Tx,
		audit:            deps.Audit,
		metrics:          deps.Metrics,
		pricingCfg:       deps.Pricing,
		dbCfg:            deps.Database,
		log:              deps.Log,
	}
}

// LoadPrescription resolves every undispensed item of the prescription and
// adds what it can to the cart. Per-item failures never abort the load;
// each item reports its own outcome.
func (s *DispenseService) LoadPrescription(ctx context.Context, c cart.Cart, prescriptionID uuid.UUID, policy ResolvePolicy) (cart.Cart, []ItemOutcome, error) {
	p, err := s.prescriptionRepo.GetByID(ctx, prescriptionID)
	if err != nil {
		return c, nil, err
	}

	session := s.catalog.Session()
	outcomes := make([]ItemOutcome, 0, len(p.Items))

	for _, item := range p.Items {
		outcome := ItemOutcome{ItemIndex: item.ItemIndex, MedicationName: item.MedicationName}

		if item.Dispensed {
			outcome.Status = ItemAlreadyDispensed
			outcomes = append(outcomes, outcome)
			continue
		}

		res, err := session.Resolve(ctx, item.MedicationName, policy)
		if err != nil {
			return c, outcomes, err
		}
		outcome.Candidates = res.Candidates

		if len(res.Candidates) == 0 {
			outcome.Status = ItemNotFound
			outcomes = append(outcomes, outcome)
			continue
		}
		if res.AutoSelected == nil {
			outcome.Status = ItemNeedsSelection
			outcomes = append(outcomes, outcome)
			continue
		}

		next, lineIdx, err := s.addResolved(ctx, c, res.AutoSelected, item.RequestedQuantity, &item.PrescriptionID, &item.ItemIndex)
		if err != nil {
			if errors.Is(err, stock.ErrUnavailable) {
				if s.metrics != nil {
					s.metrics.OutOfStockTotal.Inc()
				}
				outcome.Status = ItemOutOfStock
				outcomes = append(outcomes, outcome)
				continue
			}
			return c, outcomes, err
		}

		c = next
		outcome.Status = ItemAdded
		outcome.LineIndex = &lineIdx
		outcomes = append(outcomes, outcome)
	}

	return c, outcomes, nil
}

// AddItem adds one medicine to the cart by id, for walk-in sales or for an
// operator overriding a resolution. The default batch is FEFO-selected;
// quantity is capped at the batch's availability, as a prescription load
// would do.
func (s *DispenseService) AddItem(ctx context.Context, c cart.Cart, medicineID uuid.UUID, requestedQty int) (cart.Cart, error) {
	med, err := s.medicineRepo.GetByID(ctx, medicineID)
	if err != nil {
		return c, err
	}
	next, _, err := s.addResolved(ctx, c, med, requestedQty, nil, nil)
	return next, err
}

func (s *DispenseService) addResolved(ctx context.Context, c cart.Cart, med *medicine.Medicine, requestedQty int, prescriptionID *uuid.UUID, itemIndex *int) (cart.Cart, int, error) {
	sel, err := s.selector.SelectDefault(ctx, med.ID, requestedQty)
	if err != nil {
		return c, 0, err
	}

	qty := requestedQty
	if sel.Available < qty {
		qty = sel.Available
	}

	batchID := sel.Batch.ID
	line := cart.Line{
		MedicineID:     med.ID,
		MedicineName:   med.Name,
		BatchID:        &batchID,
		Quantity:       qty,
		UnitPrice:      sel.Batch.SellingPrice,
		MRP:            sel.Batch.MRP,
		BatchOnHand:    sel.Batch.QuantityOnHand,
		PrescriptionID: prescriptionID,
		ItemIndex:      itemIndex,
	}

	next, err := c.AddLine(line)
	if err != nil {
		return c, 0, err
	}
	return next, len(next.Lines) - 1, nil
}

// ChangeBatch repoints a cart line at another batch of the same medicine,
// re-copying price and availability from the live record.
func (s *DispenseService) ChangeBatch(ctx context.Context, c cart.Cart, lineIndex int, batchID uuid.UUID) (cart.Cart, error) {
	b, err := s.stockRepo.GetByID(ctx, batchID)
	if err != nil {
		return c, err
	}
	return c.UpdateBatch(lineIndex, b)
}

// Quote prices the cart. Discounts above the approval threshold require
// the manager override PIN.
func (s *DispenseService) Quote(c cart.Cart, discount decimal.Decimal, discountType pricing.DiscountType, taxRatePercent *decimal.Decimal, overridePIN string) (pricing.Quote, error) {
	rate := decimal.NewFromFloat(s.pricingCfg.DefaultTaxRatePercent)
	if taxRatePercent != nil {
		rate = *taxRatePercent
	}

	quote, err := pricing.Price(c, discount, discountType, rate)
	if err != nil {
		return pricing.Quote{}, err
	}

	if err := s.authorizeDiscount(quote.Subtotal, quote.DiscountAmount, overridePIN); err != nil {
		return pricing.Quote{}, err
	}
	return quote, nil
}

func (s *DispenseService) authorizeDiscount(subtotal, discountAmount decimal.Decimal, pin string) error {
	if discountAmount.IsZero() || subtotal.IsZero() {
		return nil
	}

	threshold := decimal.NewFromFloat(s.pricingCfg.DiscountApprovalThresholdPercent)
	effective := discountAmount.Div(subtotal).Mul(decimal.NewFromInt(100))
	if effective.LessThanOrEqual(threshold) {
		return nil
	}

	if s.pricingCfg.ManagerPINHash == "" || pin == "" {
		return ErrDiscountApprovalRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.pricingCfg.ManagerPINHash), []byte(pin)); err != nil {
		return ErrInvalidOverridePIN
	}
	return nil
}

// Commit is the only operation with external side effects. It re-validates
// every line against live stock, then, in one transaction, applies a
// conditional decrement per line and persists the sale. Either everything
// lands or nothing does. On failure the returned cart is back in the
// building state with no stock touched.
func (s *DispenseService) Commit(ctx context.Context, c cart.Cart, info PaymentInfo, operatorID uuid.UUID, operatorRole, ip string) (*sale.Sale, cart.Cart, error) {
	ctx, span := otel.Tracer("dispense").Start(ctx, "dispense.commit")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.lines", len(c.Lines)))

	validating, err := c.BeginValidation()
	if err != nil {
		return nil, c, err
	}

	if unresolved := validating.Unresolved(); len(unresolved) > 0 {
		fields := make([]string, len(unresolved))
		for i, idx := range unresolved {
			fields[i] = fmt.Sprintf("line %d (%s) has no batch selected", idx, validating.Lines[idx].MedicineName)
		}
		return nil, validating.FailValidation(), &ValidationError{Fields: fields}
	}

	if !info.Method.IsValid() {
		return nil, validating.FailValidation(), sale.ErrInvalidPaymentMethod
	}

	quote, err := s.Quote(validating, info.Discount, info.DiscountType, info.TaxRatePercent, info.OverridePIN)
	if err != nil {
		return nil, validating.FailValidation(), err
	}

	// Gate 1: re-fetch every batch and collect all shortfalls before
	// touching anything, so the operator can fix the whole cart at once.
	// Quantities cached at selection time are never trusted here.
	if shortfalls, err := s.revalidate(ctx, validating); err != nil {
		return nil, validating.FailValidation(), err
	} else if len(shortfalls) > 0 {
		if s.metrics != nil {
			s.metrics.CommitRejectedTotal.WithLabelValues("stale_cart").Inc()
		}
		return nil, validating.FailValidation(), &InsufficientStockError{Lines: shortfalls}
	}

	record := s.buildSale(validating, quote, info, operatorID)

	// Gate 2: conditional decrements inside one transaction. A decrement
	// losing the race to a concurrent sale fails its WHERE guard, which
	// aborts and rolls back every decrement already applied.
	commitCtx, cancel := context.WithTimeout(ctx, s.dbCfg.CommitTimeout)
	defer cancel()

	var lost *LineShortfall
	err = s.tx.RunInTx(commitCtx, func(txCtx context.Context) error {
		for i, line := range validating.Lines {
			if err := s.stockRepo.DecrementIfAvailable(txCtx, *line.BatchID, line.Quantity); err != nil {
				if errors.Is(err, stock.ErrInsufficientOnHand) {
					available := 0
					if b, berr := s.stockRepo.GetByID(txCtx, *line.BatchID); berr == nil {
						available = b.QuantityOnHand
					}
					lost = &LineShortfall{
						LineIndex:    i,
						MedicineID:   line.MedicineID,
						MedicineName: line.MedicineName,
						BatchID:      *line.BatchID,
						Requested:    line.Quantity,
						Available:    available,
					}
				}
				return err
			}
		}
		return s.saleRepo.Create(txCtx, record)
	})
	if err != nil {
		if lost != nil {
			if s.metrics != nil {
				s.metrics.CommitRejectedTotal.WithLabelValues("race_lost").Inc()
			}
			s.auditCommit(ctx, operatorID, operatorRole, ip, string(domain.ActionCommitFailed), record.ID)
			return nil, validating.FailValidation(), &InsufficientStockError{Lines: []LineShortfall{*lost}}
		}
		s.log.Error("sale commit failed", zap.Error(err))
		return nil, validating.FailValidation(), fmt.Errorf("%w: %v", sale.ErrPersistenceFailure, err)
	}

	if s.metrics != nil {
		s.metrics.SalesCommittedTotal.Inc()
		s.metrics.StockDecrements.Add(float64(len(validating.Lines)))
	}
	s.auditCommit(ctx, operatorID, operatorRole, ip, string(domain.ActionCommit), record.ID)

	// The sale is final; marking prescription items dispensed is
	// best-effort and must never reverse it. Failures are logged for
	// out-of-band reconciliation.
	s.markDispensed(ctx, validating)

	return record, validating.MarkCommitted(), nil
}

func (s *DispenseService) revalidate(ctx context.Context, c cart.Cart) ([]LineShortfall, error) {
	var shortfalls []LineShortfall
	for i, line := range c.Lines {
		b, err := s.stockRepo.GetByID(ctx, *line.BatchID)
		if err != nil {
			if errors.Is(err, stock.ErrBatchNotFound) {
				shortfalls = append(shortfalls, LineShortfall{
					LineIndex:    i,
					MedicineID:   line.MedicineID,
					MedicineName: line.MedicineName,
					BatchID:      *line.BatchID,
					Requested:    line.Quantity,
					Available:    0,
				})
				continue
			}
			return nil, fmt.Errorf("re-validating line %d: %w", i, err)
		}
		if b.QuantityOnHand < line.Quantity {
			shortfalls = append(shortfalls, LineShortfall{
				LineIndex:    i,
				MedicineID:   line.MedicineID,
				MedicineName: line.MedicineName,
				BatchID:      b.ID,
				Requested:    line.Quantity,
				Available:    b.QuantityOnHand,
			})
		}
	}
	return shortfalls, nil
}

func (s *DispenseService) buildSale(c cart.Cart, quote pricing.Quote, info PaymentInfo, operatorID uuid.UUID) *sale.Sale {
	rounded := quote.Rounded()
	record := &sale.Sale{
		ID:             uuid.New(),
		Subtotal:       rounded.Subtotal,
		DiscountAmount: rounded.DiscountAmount,
		TaxAmount:      rounded.TaxAmount,
		Total:          rounded.Total,
		PaymentMethod:  info.Method,
		PaidAmount:     info.PaidAmount,
		CustomerRef:    info.CustomerRef,
		OperatorID:     operatorID,
	}
	for i, line := range c.Lines {
		record.Lines = append(record.Lines, sale.Line{
			SaleID:         record.ID,
			Position:       i,
			MedicineID:     line.MedicineID,
			MedicineName:   line.MedicineName,
			BatchID:        *line.BatchID,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			MRP:            line.MRP,
			PrescriptionID: line.PrescriptionID,
			ItemIndex:      line.ItemIndex,
		})
	}
	return record
}

func (s *DispenseService) markDispensed(ctx context.Context, c cart.Cart) {
	if s.sink == nil {
		return
	}
	for _, line := range c.Lines {
		if line.PrescriptionID == nil || line.ItemIndex == nil {
			continue
		}
		if err := s.sink.MarkDispensed(ctx, *line.PrescriptionID, *line.ItemIndex); err != nil {
			s.log.Error("failed to mark prescription item dispensed",
				zap.String("prescription_id", line.PrescriptionID.String()),
				zap.Int("item_index", *line.ItemIndex),
				zap.Error(err),
			)
		}
	}
}

func (s *DispenseService) auditCommit(ctx context.Context, operatorID uuid.UUID, role, ip, action string, saleID uuid.UUID) {
	if s.audit == nil {
		return
	}
	s.audit.LogAsync(ctx, AuditEntry{
		OperatorID:   operatorID,
		OperatorRole: role,
		Action:       action,
		ResourceType: "sale",
		ResourceID:   saleID.String(),
		IPAddress:    ip,
	})
}
