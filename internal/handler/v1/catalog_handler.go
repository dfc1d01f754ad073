package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/rxflow/dispensary/internal/service"
	"github.com/rxflow/dispensary/pkg/metrics"
)

type CatalogHandler struct {
	catalog   *service.CatalogService
	selector  *service.BatchSelector
	collector *metrics.Collector
}

func NewCatalogHandler(catalog *service.CatalogService, selector *service.BatchSelector, collector *metrics.Collector) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, selector: selector, collector: collector}
}

// Search resolves a free-text medicine name. An empty candidate list is a
// 200 with no candidates: the operator falls back to manual search.
func (h *CatalogHandler) Search(c *gin.Context) {
	policy := service.ResolvePolicy{
		AutoSelect:     c.Query("auto_select") == "true",
		IncludeGeneric: c.Query("include_generic") != "false",
	}

	res, err := h.catalog.Resolve(c.Request.Context(), c.Query("q"), policy)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.CatalogLookupsTotal.Inc()
	respondOK(c, res)
}

// ListBatches returns the medicine's batches with stock, FEFO-ordered, so
// the operator can pick an override batch.
func (h *CatalogHandler) ListBatches(c *gin.Context) {
	medicineID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	batches, err := h.selector.ListEligible(c.Request.Context(), medicineID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, batches)
}
