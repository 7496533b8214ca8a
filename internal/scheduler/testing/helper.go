// Package testing provides helpers that move billing schedules through time
// in integration tests.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites next_run_at so schedules become due immediately.
type TimeAccelerator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTimeAccelerator(db *gorm.DB, now func() time.Time) *TimeAccelerator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TimeAccelerator{db: db, now: now}
}

// FastForwardSchedule makes a current schedule due a minute ago.
func (ta *TimeAccelerator) FastForwardSchedule(ctx context.Context, scheduleID snowflake.ID) error {
	now := ta.now().UTC().Truncate(time.Second)
	return ta.db.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET next_run_at = ?, updated_at = ?
		 WHERE id = ? AND is_current = ?`,
		now.Add(-1*time.Minute),
		now,
		scheduleID,
		true,
	).Error
}

// FastForwardAllCurrent makes every current schedule not yet due become due.
func (ta *TimeAccelerator) FastForwardAllCurrent(ctx context.Context) (int64, error) {
	now := ta.now().UTC().Truncate(time.Second)
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET next_run_at = ?, updated_at = ?
		 WHERE is_current = ? AND next_run_at > ?`,
		now.Add(-1*time.Minute),
		now,
		true,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SetNextRun pins the next run of a schedule.
func (ta *TimeAccelerator) SetNextRun(ctx context.Context, scheduleID snowflake.ID, nextRunAt time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE billing_schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		nextRunAt.UTC(),
		ta.now().UTC(),
		scheduleID,
	).Error
}
