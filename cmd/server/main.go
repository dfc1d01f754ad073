package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rxflow/dispensary/internal/config"
	"github.com/rxflow/dispensary/internal/database"
	v1 "github.com/rxflow/dispensary/internal/handler/v1"
	"github.com/rxflow/dispensary/internal/repository"
	"github.com/rxflow/dispensary/internal/service"
	"github.com/rxflow/dispensary/pkg/auth"
	"github.com/rxflow/dispensary/pkg/logger"
	"github.com/rxflow/dispensary/pkg/metrics"
	"github.com/rxflow/dispensary/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		zlog.Fatal("initializing tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			zlog.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		zlog.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, zlog); err != nil {
		zlog.Fatal("migrating database", zap.Error(err))
	}

	collector := metrics.NewCollector("dispensary")

	medicineRepo := repository.NewMedicineRepository(db)
	stockRepo := repository.NewStockRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	prescriptionRepo := repository.NewPrescriptionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, collector, zlog)
	defer auditSvc.Shutdown()

	catalogSvc := service.NewCatalogService(medicineRepo, zlog)
	selector := service.NewBatchSelector(stockRepo, zlog)
	dispenseSvc := service.NewDispenseService(service.DispenseDeps{
		Catalog:          catalogSvc,
		Selector:         selector,
		MedicineRepo:     medicineRepo,
		StockRepo:        stockRepo,
		SaleRepo:         saleRepo,
		PrescriptionRepo: prescriptionRepo,
		Sink:             prescriptionRepo,
		Tx:               repository.NewTxManager(db),
		Audit:            auditSvc,
		Metrics:          collector,
		Pricing:          cfg.Pricing,
		Database:         cfg.Database,
		Log:              zlog,
	})

	router := v1.NewRouter(v1.RouterDeps{
		Catalog:    v1.NewCatalogHandler(catalogSvc, selector, collector),
		Dispense:   v1.NewDispenseHandler(dispenseSvc, saleRepo),
		JWTManager: auth.NewJWTManager(cfg.JWT),
		Collector:  collector,
		Log:        zlog,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("server listening",
			zap.String("addr", cfg.Server.Address()),
			zap.String("env", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}
