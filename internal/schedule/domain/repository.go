package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *BillingSchedule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingSchedule, error)
	FindCurrentByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (*BillingSchedule, error)
	ListByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) ([]BillingSchedule, error)
	// SaveNextRun writes next_run_at when the row still carries expectedVersion
	// and is current; otherwise it returns ErrConcurrentModification.
	SaveNextRun(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, nextRunAt, updatedAt time.Time) error
	// SupersedeCurrent flips every current schedule of the obligation to not current.
	SupersedeCurrent(ctx context.Context, db *gorm.DB, obligationID snowflake.ID, updatedAt time.Time) (int64, error)
	// FindDue lists current schedules with next_run_at <= now, oldest first.
	FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]BillingSchedule, error)
	DeleteByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) error
}
