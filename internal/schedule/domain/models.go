// Package domain contains persistence models and contracts for billing schedules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PeriodUnit is the recurrence step of a billing schedule.
type PeriodUnit string

const (
	PeriodUnitDay   PeriodUnit = "day"
	PeriodUnitWeek  PeriodUnit = "week"
	PeriodUnitMonth PeriodUnit = "month"
	PeriodUnitYear  PeriodUnit = "year"
)

func (u PeriodUnit) Valid() bool {
	switch u {
	case PeriodUnitDay, PeriodUnitWeek, PeriodUnitMonth, PeriodUnitYear:
		return true
	default:
		return false
	}
}

// BillingSchedule is one version of an obligation's recurrence rule plus the
// pointer to its next run. Changing the rule inserts a new current row and
// flips the previous one to IsCurrent=false; only NextRunAt is mutated in place.
type BillingSchedule struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ObligationID   snowflake.ID `gorm:"not null;index:ix_billing_schedules_obligation_current,priority:1"`
	PeriodUnit     PeriodUnit   `gorm:"type:text;not null"`
	PeriodInterval int          `gorm:"not null;default:1"`
	AnchorDay      *int         `gorm:""`
	AnchorWeekday  *int         `gorm:""`
	TrialEndsAt    *time.Time   `gorm:""`
	GraceDays      int          `gorm:"not null;default:0"`
	NextRunAt      time.Time    `gorm:"not null;index:ix_billing_schedules_current_next_run,priority:2"`
	IsCurrent      bool         `gorm:"not null;default:true;index:ix_billing_schedules_obligation_current,priority:2;index:ix_billing_schedules_current_next_run,priority:1"`
	Version        int64        `gorm:"not null;default:0"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingSchedule) TableName() string { return "billing_schedules" }

// Params returns the recurrence parameters of the schedule.
func (s BillingSchedule) Params() RuleParams {
	return RuleParams{
		Unit:          s.PeriodUnit,
		Interval:      s.PeriodInterval,
		AnchorDay:     s.AnchorDay,
		AnchorWeekday: s.AnchorWeekday,
		TrialEndsAt:   s.TrialEndsAt,
		GraceDays:     s.GraceDays,
	}
}

// RuleParams are the user-supplied recurrence parameters of a schedule.
type RuleParams struct {
	Unit          PeriodUnit `validate:"required"`
	Interval      int        `validate:"min=1"`
	AnchorDay     *int       `validate:"omitnil,min=1,max=31"`
	AnchorWeekday *int       `validate:"omitnil,min=0,max=6"`
	TrialEndsAt   *time.Time
	GraceDays     int `validate:"min=0"`
}

// NewCurrent builds the current schedule row for params with its first run.
func NewCurrent(id, obligationID snowflake.ID, p RuleParams, nextRunAt, now time.Time) BillingSchedule {
	return BillingSchedule{
		ID:             id,
		ObligationID:   obligationID,
		PeriodUnit:     p.Unit,
		PeriodInterval: p.Interval,
		AnchorDay:      p.AnchorDay,
		AnchorWeekday:  p.AnchorWeekday,
		TrialEndsAt:    p.TrialEndsAt,
		GraceDays:      p.GraceDays,
		NextRunAt:      nextRunAt.UTC(),
		IsCurrent:      true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
