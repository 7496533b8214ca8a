package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/renewd/internal/clock"
	obligationdomain "github.com/smallbiznis/renewd/internal/obligation/domain"
	obslogger "github.com/smallbiznis/renewd/internal/observability/logger"
	"github.com/smallbiznis/renewd/internal/observability/metrics"
	"github.com/smallbiznis/renewd/internal/observability/tracing"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"github.com/smallbiznis/renewd/internal/schedule/recurrence"
	"github.com/smallbiznis/renewd/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAdvanceAttempts bounds the read-modify-write of one advance: the first
// try plus a single retry after a conflict.
const maxAdvanceAttempts = 2

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	engine         *recurrence.Engine
	repo           scheduledomain.Repository
	obligationRepo obligationdomain.Repository

	metrics      *metrics.Metrics
	sweepMetrics *metrics.SweepMetrics
}

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Engine         *recurrence.Engine
	Repo           scheduledomain.Repository
	ObligationRepo obligationdomain.Repository

	Metrics      *metrics.Metrics      `optional:"true"`
	SweepMetrics *metrics.SweepMetrics `optional:"true"`
}

func NewService(p ServiceParam) scheduledomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("schedule.service"),

		genID:          p.GenID,
		clock:          p.Clock,
		engine:         p.Engine,
		repo:           p.Repo,
		obligationRepo: p.ObligationRepo,

		metrics:      p.Metrics,
		sweepMetrics: p.SweepMetrics,
	}
}

// dueGuard pins the state a sweep observed when it listed a schedule as due.
type dueGuard struct {
	version int64
}

// Advance implements domain.Service.
func (s *Service) Advance(ctx context.Context, scheduleID snowflake.ID, ref time.Time) (scheduledomain.BillingSchedule, error) {
	return s.advance(ctx, "schedule.advance", scheduleID, ref, nil)
}

// AdvanceDue implements domain.Service.
func (s *Service) AdvanceDue(ctx context.Context, scheduleID snowflake.ID, expectedVersion int64, now time.Time) (scheduledomain.BillingSchedule, error) {
	return s.advance(ctx, "schedule.advance_due", scheduleID, now, &dueGuard{version: expectedVersion})
}

func (s *Service) advance(ctx context.Context, spanName string, scheduleID snowflake.ID, ref time.Time, guard *dueGuard) (result scheduledomain.BillingSchedule, err error) {
	ctx, span := tracing.Start(ctx, spanName, attribute.Int64("schedule.id", scheduleID.Int64()))
	defer func() { tracing.End(span, err) }()

	if scheduleID == 0 {
		return scheduledomain.BillingSchedule{}, scheduledomain.ErrScheduleNotFound
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("schedule_id", scheduleID.String()),
		zap.Time("reference", ref),
	)

	for attempt := 1; attempt <= maxAdvanceAttempts; attempt++ {
		result, err = s.advanceOnce(ctx, scheduleID, ref, guard)
		if err == nil || !isConflict(err) {
			break
		}
		s.sweepMetrics.IncAdvanceConflict()
		log.Warn("schedule advance conflicted", zap.Int("attempt", attempt), zap.Error(err))
	}

	if err != nil {
		if isConflict(err) && !errors.Is(err, scheduledomain.ErrConcurrentModification) {
			err = fmt.Errorf("%w: %v", scheduledomain.ErrConcurrentModification, err)
		}
		switch {
		case errors.Is(err, scheduledomain.ErrScheduleNotDue):
			log.Debug("schedule no longer due", zap.Int64("expected_version", guard.version))
		case errors.Is(err, scheduledomain.ErrUnsupportedUnit):
			log.Error("schedule has unsupported period unit", zap.Error(err))
		}
		s.metrics.RecordScheduleAdvance(ctx, string(result.PeriodUnit), metrics.ClassifySweepReason(err))
		return scheduledomain.BillingSchedule{}, err
	}

	span.SetAttributes(
		attribute.Int64("obligation.id", result.ObligationID.Int64()),
		attribute.String("schedule.period_unit", string(result.PeriodUnit)),
	)
	s.metrics.RecordScheduleAdvance(ctx, string(result.PeriodUnit), "ok")
	log.Info("schedule advanced",
		zap.String("obligation_id", result.ObligationID.String()),
		zap.Time("next_run_at", result.NextRunAt),
		zap.Int64("version", result.Version),
	)
	return result, nil
}

func (s *Service) advanceOnce(ctx context.Context, scheduleID snowflake.ID, ref time.Time, guard *dueGuard) (scheduledomain.BillingSchedule, error) {
	var updated scheduledomain.BillingSchedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rule, err := s.repo.FindByID(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		if rule == nil {
			return scheduledomain.ErrScheduleNotFound
		}

		obligation, err := s.obligationRepo.FindByIDForUpdate(ctx, tx, rule.ObligationID)
		if err != nil {
			return err
		}
		if obligation == nil {
			return obligationdomain.ErrObligationNotFound
		}

		// Re-read under the obligation lock so a concurrent replace or sweep is observed.
		rule, err = s.repo.FindByID(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		if rule == nil {
			return scheduledomain.ErrScheduleNotFound
		}
		if !rule.IsCurrent {
			return scheduledomain.ErrScheduleNotCurrent
		}
		if guard != nil && (rule.Version != guard.version || rule.NextRunAt.After(ref)) {
			return scheduledomain.ErrScheduleNotDue
		}

		if err := scheduledomain.ValidateRule(rule.Params()); err != nil {
			return err
		}

		next, err := s.engine.ComputeNext(*rule, obligation.Timezone(), ref)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if err := s.repo.SaveNextRun(ctx, tx, rule.ID, rule.Version, next, now); err != nil {
			return err
		}
		if err := s.obligationRepo.UpdateNextBilling(ctx, tx, rule.ObligationID, next, now); err != nil {
			return err
		}

		updated = *rule
		updated.NextRunAt = next
		updated.UpdatedAt = now
		updated.Version++
		return nil
	})
	if err != nil {
		return scheduledomain.BillingSchedule{}, err
	}
	return updated, nil
}

// GetCurrent implements domain.Service.
func (s *Service) GetCurrent(ctx context.Context, obligationID snowflake.ID) (scheduledomain.BillingSchedule, error) {
	if obligationID == 0 {
		return scheduledomain.BillingSchedule{}, scheduledomain.ErrInvalidObligation
	}

	item, err := s.repo.FindCurrentByObligation(ctx, s.db, obligationID)
	if err != nil {
		return scheduledomain.BillingSchedule{}, err
	}
	if item == nil {
		return scheduledomain.BillingSchedule{}, scheduledomain.ErrScheduleNotFound
	}
	return *item, nil
}

// Replace implements domain.Service.
func (s *Service) Replace(ctx context.Context, obligationID snowflake.ID, params scheduledomain.RuleParams, ref time.Time) (result scheduledomain.BillingSchedule, err error) {
	ctx, span := tracing.Start(ctx, "schedule.replace", attribute.Int64("obligation.id", obligationID.Int64()))
	defer func() { tracing.End(span, err) }()

	if obligationID == 0 {
		return scheduledomain.BillingSchedule{}, scheduledomain.ErrInvalidObligation
	}
	if err := scheduledomain.ValidateRule(params); err != nil {
		return scheduledomain.BillingSchedule{}, err
	}
	if ref.IsZero() {
		ref = s.clock.Now()
	}

	var previous int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		obligation, err := s.obligationRepo.FindByIDForUpdate(ctx, tx, obligationID)
		if err != nil {
			return err
		}
		if obligation == nil {
			return obligationdomain.ErrObligationNotFound
		}

		now := s.clock.Now().UTC()
		draft := scheduledomain.NewCurrent(s.genID.Generate(), obligationID, params, time.Time{}, now)
		next, err := s.engine.ComputeNext(draft, obligation.Timezone(), ref)
		if err != nil {
			return err
		}
		draft.NextRunAt = next

		previous, err = s.repo.SupersedeCurrent(ctx, tx, obligationID, now)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &draft); err != nil {
			return err
		}
		if err := s.obligationRepo.UpdateNextBilling(ctx, tx, obligationID, next, now); err != nil {
			return err
		}

		result = draft
		return nil
	})
	if err != nil {
		return scheduledomain.BillingSchedule{}, err
	}

	s.metrics.RecordScheduleReplace(ctx, string(result.PeriodUnit))
	obslogger.WithContext(ctx, s.log).Info("schedule replaced",
		zap.String("obligation_id", obligationID.String()),
		zap.String("schedule_id", result.ID.String()),
		zap.Int64("superseded", previous),
		zap.Time("next_run_at", result.NextRunAt),
	)
	return result, nil
}

// History implements domain.Service.
func (s *Service) History(ctx context.Context, obligationID snowflake.ID) ([]scheduledomain.BillingSchedule, error) {
	if obligationID == 0 {
		return nil, scheduledomain.ErrInvalidObligation
	}
	return s.repo.ListByObligation(ctx, s.db, obligationID)
}

func isConflict(err error) bool {
	return errors.Is(err, scheduledomain.ErrConcurrentModification) || db.IsRetryableConflict(err)
}
