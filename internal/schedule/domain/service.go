package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Advance recomputes the next run of one schedule from ref and mirrors it
	// onto the owning obligation.
	Advance(ctx context.Context, scheduleID snowflake.ID, ref time.Time) (BillingSchedule, error)
	// AdvanceDue advances the schedule only if, under the obligation lock, it
	// still carries expectedVersion and is due at now. Otherwise it returns
	// ErrScheduleNotDue and writes nothing.
	AdvanceDue(ctx context.Context, scheduleID snowflake.ID, expectedVersion int64, now time.Time) (BillingSchedule, error)
	GetCurrent(ctx context.Context, obligationID snowflake.ID) (BillingSchedule, error)
	Replace(ctx context.Context, obligationID snowflake.ID, params RuleParams, ref time.Time) (BillingSchedule, error)
	History(ctx context.Context, obligationID snowflake.ID) ([]BillingSchedule, error)
}

var (
	ErrInvalidRule            = errors.New("invalid_rule")
	ErrUnsupportedUnit        = errors.New("unsupported_unit")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrScheduleNotFound       = errors.New("schedule_not_found")
	ErrScheduleNotCurrent     = errors.New("schedule_not_current")
	ErrScheduleNotDue         = errors.New("schedule_not_due")
	ErrInvalidObligation      = errors.New("invalid_obligation")
)
