package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ObligationStatus string

const (
	ObligationStatusActive   ObligationStatus = "active"
	ObligationStatusPaused   ObligationStatus = "paused"
	ObligationStatusCanceled ObligationStatus = "canceled"
	ObligationStatusTrial    ObligationStatus = "trial"
	ObligationStatusExpired  ObligationStatus = "expired"
)

func (s ObligationStatus) Valid() bool {
	switch s {
	case ObligationStatusActive, ObligationStatusPaused, ObligationStatusCanceled,
		ObligationStatusTrial, ObligationStatusExpired:
		return true
	default:
		return false
	}
}

// Obligation is a recurring charge. NextBillingAt mirrors the next_run_at of
// its current billing schedule and CurrentPrice* mirror its open price entry.
type Obligation struct {
	ID                   snowflake.ID      `gorm:"primaryKey"`
	Title                string            `gorm:"type:text;not null"`
	Description          string            `gorm:"type:text;not null;default:''"`
	Status               ObligationStatus  `gorm:"type:text;not null;default:'active';index"`
	BillingTimezone      *string           `gorm:"type:text"`
	CurrentPriceAmount   decimal.Decimal   `gorm:"type:numeric(12,2);not null;default:0"`
	CurrentPriceCurrency string            `gorm:"type:varchar(3);not null"`
	NextBillingAt        *time.Time        `gorm:"index"`
	LastBilledAt         *time.Time        `gorm:""`
	Metadata             datatypes.JSONMap `gorm:"type:json"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Obligation) TableName() string { return "obligations" }

// Timezone returns the billing timezone name, empty when the default applies.
func (o Obligation) Timezone() string {
	if o.BillingTimezone == nil {
		return ""
	}
	return *o.BillingTimezone
}
