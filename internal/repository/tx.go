package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// TxManager implements service.Transactor on top of gorm. The transaction
// handle travels in the context so every repository call made within fn
// joins the same commit/rollback boundary.
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

func (tm *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFrom returns the ambient transaction when one is in flight, otherwise
// the base handle bound to ctx.
func dbFrom(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return base.WithContext(ctx)
}
