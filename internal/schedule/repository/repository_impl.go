package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() scheduledomain.Repository {
	return &repo{}
}

const scheduleColumns = `id, obligation_id, period_unit, period_interval, anchor_day, anchor_weekday,
	 trial_ends_at, grace_days, next_run_at, is_current, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, schedule *scheduledomain.BillingSchedule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_schedules (
			id, obligation_id, period_unit, period_interval, anchor_day, anchor_weekday,
			trial_ends_at, grace_days, next_run_at, is_current, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		schedule.ObligationID,
		schedule.PeriodUnit,
		schedule.PeriodInterval,
		schedule.AnchorDay,
		schedule.AnchorWeekday,
		schedule.TrialEndsAt,
		schedule.GraceDays,
		schedule.NextRunAt,
		schedule.IsCurrent,
		schedule.Version,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scheduledomain.BillingSchedule, error) {
	var schedule scheduledomain.BillingSchedule
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+`
		 FROM billing_schedules WHERE id = ?`,
		id,
	).Scan(&schedule).Error
	if err != nil {
		return nil, err
	}
	if schedule.ID == 0 {
		return nil, nil
	}
	return &schedule, nil
}

func (r *repo) FindCurrentByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (*scheduledomain.BillingSchedule, error) {
	var schedule scheduledomain.BillingSchedule
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+`
		 FROM billing_schedules
		 WHERE obligation_id = ? AND is_current = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		obligationID,
		true,
	).Scan(&schedule).Error
	if err != nil {
		return nil, err
	}
	if schedule.ID == 0 {
		return nil, nil
	}
	return &schedule, nil
}

func (r *repo) ListByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) ([]scheduledomain.BillingSchedule, error) {
	var schedules []scheduledomain.BillingSchedule
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+`
		 FROM billing_schedules
		 WHERE obligation_id = ?
		 ORDER BY created_at DESC, id DESC`,
		obligationID,
	).Scan(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *repo) SaveNextRun(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, nextRunAt, updatedAt time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET next_run_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ? AND is_current = ?`,
		nextRunAt,
		updatedAt,
		id,
		expectedVersion,
		true,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return scheduledomain.ErrConcurrentModification
	}
	return nil
}

func (r *repo) SupersedeCurrent(ctx context.Context, db *gorm.DB, obligationID snowflake.ID, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET is_current = ?, updated_at = ?, version = version + 1
		 WHERE obligation_id = ? AND is_current = ?`,
		false,
		updatedAt,
		obligationID,
		true,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]scheduledomain.BillingSchedule, error) {
	if limit <= 0 {
		return nil, nil
	}

	var schedules []scheduledomain.BillingSchedule
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+`
		 FROM billing_schedules
		 WHERE is_current = ? AND next_run_at <= ?
		 ORDER BY next_run_at ASC, id ASC
		 LIMIT ?`,
		true,
		now,
		limit,
	).Scan(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *repo) DeleteByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM billing_schedules WHERE obligation_id = ?`,
		obligationID,
	).Error
}
