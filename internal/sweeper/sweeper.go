// Package sweeper advances every current billing schedule whose next run has
// passed. Each schedule is advanced in its own transaction; a failing schedule
// never blocks the rest of the batch.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/renewd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/renewd/internal/observability/metrics"
	"github.com/smallbiznis/renewd/internal/observability/tracing"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Advancer moves one listed schedule to its next occurrence, provided it is
// still in the state the listing observed.
type Advancer interface {
	AdvanceDue(ctx context.Context, scheduleID snowflake.ID, expectedVersion int64, now time.Time) (scheduledomain.BillingSchedule, error)
}

// Failure describes a schedule that could not be advanced during a sweep.
type Failure struct {
	ScheduleID   snowflake.ID
	ObligationID snowflake.ID
	Err          error
}

type Result struct {
	// Processed counts schedules advanced successfully.
	Processed int
	// Skipped counts listed schedules that another writer advanced first.
	Skipped  int
	Failures []Failure
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     scheduledomain.Repository
	Advancer scheduledomain.Service
	Metrics  *obsmetrics.SweepMetrics `optional:"true"`
}

type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     scheduledomain.Repository
	advancer Advancer
	metrics  *obsmetrics.SweepMetrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("sweeper"),
		repo:     p.Repo,
		advancer: p.Advancer,
		metrics:  p.Metrics,
	}
}

// SweepDue advances up to limit due schedules, oldest next_run_at first, all
// with now as the reference instant. Per-schedule failures are collected in
// the result. The returned error is set when the due schedules cannot be
// listed or ctx ends before the batch completes; in the latter case the
// unvisited schedules stay due and the partial result is still returned.
func (s *Sweeper) SweepDue(ctx context.Context, now time.Time, limit int) (result Result, err error) {
	ctx, span := tracing.Start(ctx, "sweeper.sweep_due", attribute.Int("sweep.limit", limit))
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.processed", result.Processed),
			attribute.Int("sweep.skipped", result.Skipped),
			attribute.Int("sweep.failed", len(result.Failures)),
		)
		tracing.End(span, err)
	}()

	if limit <= 0 {
		return Result{}, nil
	}
	now = now.UTC()
	log := obslogger.WithContext(ctx, s.log).With(zap.Time("now", now), zap.Int("limit", limit))

	due, err := s.repo.FindDue(ctx, s.db, now, limit)
	if err != nil {
		log.Error("list due schedules failed", zap.Error(err))
		return Result{}, fmt.Errorf("find due schedules: %w", err)
	}
	s.metrics.ObserveBatchSize(len(due))
	if len(due) == 0 {
		return Result{}, nil
	}

	for _, rule := range due {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}

		_, advErr := s.advancer.AdvanceDue(ctx, rule.ID, rule.Version, now)
		if errors.Is(advErr, scheduledomain.ErrScheduleNotDue) {
			result.Skipped++
			continue
		}
		if advErr != nil {
			result.Failures = append(result.Failures, Failure{
				ScheduleID:   rule.ID,
				ObligationID: rule.ObligationID,
				Err:          advErr,
			})
			s.metrics.IncAdvanceFailure(advErr)
			s.logFailure(log, rule, advErr)
			continue
		}
		result.Processed++
	}
	s.metrics.AddAdvanced(result.Processed)
	s.metrics.AddSkipped(result.Skipped)

	fields := []zap.Field{
		zap.Int("due", len(due)),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)),
	}
	if err != nil {
		log.Warn("sweep interrupted", append(fields, zap.Error(err))...)
		return result, err
	}
	log.Info("sweep finished", fields...)
	return result, nil
}

func (s *Sweeper) logFailure(log *zap.Logger, rule scheduledomain.BillingSchedule, err error) {
	fields := []zap.Field{
		zap.String("schedule_id", rule.ID.String()),
		zap.String("obligation_id", rule.ObligationID.String()),
		zap.String("reason", obsmetrics.ClassifySweepReason(err)),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, scheduledomain.ErrUnsupportedUnit), errors.Is(err, scheduledomain.ErrInvalidRule):
		log.Error("schedule cannot be advanced", fields...)
	default:
		log.Warn("schedule advance failed", fields...)
	}
}
