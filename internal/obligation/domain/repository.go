package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, obligation *Obligation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Obligation, error)
	// FindByIDForUpdate locks the obligation row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Obligation, error)
	UpdateNextBilling(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingAt, updatedAt time.Time) error
	UpdateCurrentPrice(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal, currency string, updatedAt time.Time) error
	UpdateLastBilled(ctx context.Context, db *gorm.DB, id snowflake.ID, lastBilledAt, updatedAt time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
