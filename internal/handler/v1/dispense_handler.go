package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxflow/dispensary/internal/domain/cart"
	"github.com/rxflow/dispensary/internal/domain/pricing"
	"github.com/rxflow/dispensary/internal/domain/sale"
	"github.com/rxflow/dispensary/internal/service"
)

// DispenseHandler exposes the dispensing engine over HTTP. The cart is a
// value that travels with each request; the server keeps no session state,
// so an abandoned cart simply stops being sent and nothing needs cleanup.
type DispenseHandler struct {
	dispense *service.DispenseService
	sales    sale.Repository
}

func NewDispenseHandler(dispense *service.DispenseService, sales sale.Repository) *DispenseHandler {
	return &DispenseHandler{dispense: dispense, sales: sales}
}

type loadPrescriptionRequest struct {
	Cart           cart.Cart `json:"cart"`
	PrescriptionID uuid.UUID `json:"prescription_id" binding:"required"`
	AutoSelect     *bool     `json:"auto_select"`
}

type loadPrescriptionResponse struct {
	Cart     cart.Cart             `json:"cart"`
	Outcomes []service.ItemOutcome `json:"outcomes"`
}

func (h *DispenseHandler) LoadPrescription(c *gin.Context) {
	var req loadPrescriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	policy := service.ResolvePolicy{AutoSelect: true, IncludeGeneric: true}
	if req.AutoSelect != nil {
		policy.AutoSelect = *req.AutoSelect
	}

	next, outcomes, err := h.dispense.LoadPrescription(c.Request.Context(), req.Cart, req.PrescriptionID, policy)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, loadPrescriptionResponse{Cart: next, Outcomes: outcomes})
}

type addItemRequest struct {
	Cart       cart.Cart `json:"cart"`
	MedicineID uuid.UUID `json:"medicine_id" binding:"required"`
	Quantity   int       `json:"quantity" binding:"required,min=1"`
}

func (h *DispenseHandler) AddItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req) {
		return
	}

	next, err := h.dispense.AddItem(c.Request.Context(), req.Cart, req.MedicineID, req.Quantity)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, next)
}

type updateQuantityRequest struct {
	Cart      cart.Cart `json:"cart"`
	LineIndex int       `json:"line_index"`
	Quantity  int       `json:"quantity"`
}

func (h *DispenseHandler) UpdateQuantity(c *gin.Context) {
	var req updateQuantityRequest
	if !bindJSON(c, &req) {
		return
	}

	next, err := req.Cart.UpdateQuantity(req.LineIndex, req.Quantity)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, next)
}

type updateBatchRequest struct {
	Cart      cart.Cart `json:"cart"`
	LineIndex int       `json:"line_index"`
	BatchID   uuid.UUID `json:"batch_id" binding:"required"`
}

func (h *DispenseHandler) UpdateBatch(c *gin.Context) {
	var req updateBatchRequest
	if !bindJSON(c, &req) {
		return
	}

	next, err := h.dispense.ChangeBatch(c.Request.Context(), req.Cart, req.LineIndex, req.BatchID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, next)
}

type removeLineRequest struct {
	Cart      cart.Cart `json:"cart"`
	LineIndex int       `json:"line_index"`
}

func (h *DispenseHandler) RemoveLine(c *gin.Context) {
	var req removeLineRequest
	if !bindJSON(c, &req) {
		return
	}

	next, err := req.Cart.RemoveLine(req.LineIndex)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, next)
}

type quoteRequest struct {
	Cart           cart.Cart            `json:"cart"`
	Discount       decimal.Decimal      `json:"discount"`
	DiscountType   pricing.DiscountType `json:"discount_type"`
	TaxRatePercent *decimal.Decimal     `json:"tax_rate_percent"`
	OverridePIN    string               `json:"override_pin"`
}

func (h *DispenseHandler) Quote(c *gin.Context) {
	var req quoteRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DiscountType == "" {
		req.DiscountType = pricing.DiscountPercentage
	}

	quote, err := h.dispense.Quote(req.Cart, req.Discount, req.DiscountType, req.TaxRatePercent, req.OverridePIN)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, quote.Rounded())
}

type commitRequest struct {
	Cart           cart.Cart            `json:"cart"`
	PaymentMethod  sale.PaymentMethod   `json:"payment_method" binding:"required"`
	PaidAmount     decimal.Decimal      `json:"paid_amount"`
	CustomerRef    string               `json:"customer_ref"`
	Discount       decimal.Decimal      `json:"discount"`
	DiscountType   pricing.DiscountType `json:"discount_type"`
	TaxRatePercent *decimal.Decimal     `json:"tax_rate_percent"`
	OverridePIN    string               `json:"override_pin"`
}

type commitResponse struct {
	Sale *sale.Sale `json:"sale"`
	Cart cart.Cart  `json:"cart"`
}

func (h *DispenseHandler) Commit(c *gin.Context) {
	var req commitRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DiscountType == "" {
		req.DiscountType = pricing.DiscountPercentage
	}

	claims := claimsFrom(c)
	info := service.PaymentInfo{
		Method:         req.PaymentMethod,
		PaidAmount:     req.PaidAmount,
		CustomerRef:    req.CustomerRef,
		Discount:       req.Discount,
		DiscountType:   req.DiscountType,
		TaxRatePercent: req.TaxRatePercent,
		OverridePIN:    req.OverridePIN,
	}

	committed, next, err := h.dispense.Commit(c.Request.Context(), req.Cart, info, claims.OperatorID, string(claims.Role), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, commitResponse{Sale: committed, Cart: next})
}

func (h *DispenseHandler) GetSale(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	s, err := h.sales.GetByID(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, s)
}
