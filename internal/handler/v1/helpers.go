package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rxflow/dispensary/internal/domain/cart"
	"github.com/rxflow/dispensary/internal/domain/medicine"
	"github.com/rxflow/dispensary/internal/domain/prescription"
	"github.com/rxflow/dispensary/internal/domain/pricing"
	"github.com/rxflow/dispensary/internal/domain/sale"
	"github.com/rxflow/dispensary/internal/domain/stock"
	"github.com/rxflow/dispensary/internal/service"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: validErr.Fields,
		})
		return
	}

	var qtyErr *cart.QuantityError
	if errors.As(err, &qtyErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: qtyErr.Error(),
			Code:  "INVALID_QUANTITY",
			Details: gin.H{
				"requested":     qtyErr.Requested,
				"max_available": qtyErr.MaxAvailable,
			},
		})
		return
	}

	// Commit-time shortfalls list every failing line so the operator can
	// fix the whole cart in one pass.
	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   stockErr.Error(),
			Code:    "INSUFFICIENT_STOCK",
			Details: gin.H{"failing_lines": stockErr.Lines},
		})
		return
	}

	switch {
	case errors.Is(err, medicine.ErrMedicineNotFound),
		errors.Is(err, stock.ErrBatchNotFound),
		errors.Is(err, prescription.ErrPrescriptionNotFound),
		errors.Is(err, sale.ErrSaleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, stock.ErrUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "OUT_OF_STOCK"})

	case errors.Is(err, cart.ErrCartCommitted),
		errors.Is(err, cart.ErrCartValidating):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})

	case errors.Is(err, cart.ErrLineIndexOutOfRange),
		errors.Is(err, cart.ErrCartEmpty),
		errors.Is(err, cart.ErrBatchMedicineMismatch),
		errors.Is(err, sale.ErrInvalidPaymentMethod),
		errors.Is(err, pricing.ErrNegativeDiscount),
		errors.Is(err, pricing.ErrPercentOutOfRange),
		errors.Is(err, pricing.ErrNegativeTaxRate),
		errors.Is(err, pricing.ErrUnknownDiscountType):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrDiscountApprovalRequired),
		errors.Is(err, service.ErrInvalidOverridePIN),
		errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})

	case errors.Is(err, sale.ErrPersistenceFailure):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "sale could not be committed, no stock was changed",
			Code:  "RETRYABLE",
		})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}
