// Package domain defines the price timeline of an obligation: a sequence of
// non-overlapping entries where only the latest is open.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Source records where a price change originated.
type Source string

const (
	SourceManual      Source = "manual"
	SourceImport      Source = "import"
	SourceIntegration Source = "integration"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceImport, SourceIntegration:
		return true
	default:
		return false
	}
}

// PriceEntry is one window of an obligation's price. EffectiveTo is nil for
// the open entry and otherwise equals EffectiveFrom of the following entry.
type PriceEntry struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	ObligationID  snowflake.ID    `gorm:"not null;index:ix_price_entries_obligation_effective_from,priority:1"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency      string          `gorm:"type:varchar(3);not null"`
	EffectiveFrom time.Time       `gorm:"not null;index:ix_price_entries_obligation_effective_from,priority:2"`
	EffectiveTo   *time.Time      `gorm:""`
	Reason        *string         `gorm:"type:text"`
	Source        Source          `gorm:"type:text;not null;default:'manual'"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PriceEntry) TableName() string { return "price_entries" }

// IsOpen reports whether the entry is the currently active price.
func (e PriceEntry) IsOpen() bool { return e.EffectiveTo == nil }

// Contains reports whether at falls inside [EffectiveFrom, EffectiveTo).
func (e PriceEntry) Contains(at time.Time) bool {
	if at.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo == nil || at.Before(*e.EffectiveTo)
}
