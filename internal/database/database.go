package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rxflow/dispensary/internal/config"
	"github.com/rxflow/dispensary/internal/domain"
	"github.com/rxflow/dispensary/internal/domain/medicine"
	"github.com/rxflow/dispensary/internal/domain/prescription"
	"github.com/rxflow/dispensary/internal/domain/sale"
	"github.com/rxflow/dispensary/internal/domain/stock"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableAutomaticPing:                     false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"pharmacy", "sales", "audit"} // logical namespace
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.AuditLog{},
		&medicine.Medicine{},
		&stock.Batch{},
		&prescription.Prescription{},
		&prescription.Item{},
		&sale.Sale{},
		&sale.Line{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	if err := addConstraints(db); err != nil {
		return fmt.Errorf("adding constraints: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		// Medicine search: trigram index backs the ILIKE substring lookup.
		{
			name:  "idx_medicines_name_trgm",
			query: `CREATE INDEX IF NOT EXISTS idx_medicines_name_trgm ON pharmacy.medicines USING gin ((name || ' ' || generic_name) gin_trgm_ops) WHERE deleted_at IS NULL`,
		},
		// FEFO scan: only batches with stock are ever selected.
		{
			name:  "idx_batches_fefo",
			query: `CREATE INDEX IF NOT EXISTS idx_batches_fefo ON pharmacy.stock_batches (medicine_id, expiry_date NULLS LAST, id) WHERE quantity_on_hand > 0`,
		},
		{
			name:  "idx_prescription_items_pending",
			query: `CREATE INDEX IF NOT EXISTS idx_prescription_items_pending ON pharmacy.prescription_items (prescription_id, item_index) WHERE dispensed = false`,
		},
		{
			name:  "idx_sales_operator_day",
			query: `CREATE INDEX IF NOT EXISTS idx_sales_operator_day ON sales.sales (operator_id, created_at)`,
		},
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pg_trgm").Error; err != nil {
		return fmt.Errorf("creating pg_trgm extension: %w", err)
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}

// addConstraints backs the domain invariant at the storage layer: the
// conditional decrement guards the race, the CHECK guards everything else.
func addConstraints(db *gorm.DB) error {
	constraints := []string{
		`ALTER TABLE pharmacy.stock_batches DROP CONSTRAINT IF EXISTS chk_batches_nonnegative`,
		`ALTER TABLE pharmacy.stock_batches ADD CONSTRAINT chk_batches_nonnegative CHECK (quantity_on_hand >= 0)`,
	}
	for _, q := range constraints {
		if err := db.Exec(q).Error; err != nil {
			return err
		}
	}
	return nil
}
