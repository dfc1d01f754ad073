package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rxflow/dispensary/pkg/auth"
	"github.com/rxflow/dispensary/pkg/metrics"
)

type RouterDeps struct {
	Catalog    *CatalogHandler
	Dispense   *DispenseHandler
	JWTManager *auth.JWTManager
	Collector  *metrics.Collector
	Log        *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logging(deps.Log), Metrics(deps.Collector))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1", Authenticate(deps.JWTManager))
	{
		api.GET("/medicines", deps.Catalog.Search)
		api.GET("/medicines/:id/batches", deps.Catalog.ListBatches)

		carts := api.Group("/cart")
		{
			carts.POST("/prescription", deps.Dispense.LoadPrescription)
			carts.POST("/items", deps.Dispense.AddItem)
			carts.POST("/items/quantity", deps.Dispense.UpdateQuantity)
			carts.POST("/items/batch", deps.Dispense.UpdateBatch)
			carts.POST("/items/remove", deps.Dispense.RemoveLine)
			carts.POST("/quote", deps.Dispense.Quote)
		}

		api.POST("/sales", deps.Dispense.Commit)
		api.GET("/sales/:id", deps.Dispense.GetSale)
	}

	return r
}
