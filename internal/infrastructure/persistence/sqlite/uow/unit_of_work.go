package uow

import (
	"context"

	"gorm.io/gorm"

	"emojivote/internal/ports"
)

// UnitOfWork implements ports.UnitOfWork with gorm.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// WithTx starts a transaction, or a savepoint when ctx already carries one.
func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if outer, ok := ports.TxFromContext(ctx).(*gorm.DB); ok && outer != nil {
		return outer.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ports.WithTxContext(ctx, tx))
		})
	}

	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
