package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindOpen returns the entry with effective_to NULL, or nil.
	FindOpen(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (*PriceEntry, error)
	Close(ctx context.Context, db *gorm.DB, id snowflake.ID, effectiveTo time.Time) error
	Insert(ctx context.Context, db *gorm.DB, entry *PriceEntry) error
	// List returns the timeline in chronological order.
	List(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) ([]PriceEntry, error)
	FindEffectiveAt(ctx context.Context, db *gorm.DB, obligationID snowflake.ID, at time.Time) (*PriceEntry, error)
	DeleteByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) error
}
