package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/renewd/internal/clock"
	obligationdomain "github.com/smallbiznis/renewd/internal/obligation/domain"
	obslogger "github.com/smallbiznis/renewd/internal/observability/logger"
	"github.com/smallbiznis/renewd/internal/observability/metrics"
	"github.com/smallbiznis/renewd/internal/observability/tracing"
	pricetimelinedomain "github.com/smallbiznis/renewd/internal/pricetimeline/domain"
	pricetimelineservice "github.com/smallbiznis/renewd/internal/pricetimeline/service"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"github.com/smallbiznis/renewd/internal/schedule/recurrence"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	engine       *recurrence.Engine
	repo         obligationdomain.Repository
	scheduleRepo scheduledomain.Repository
	priceRepo    pricetimelinedomain.Repository
	metrics      *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Engine       *recurrence.Engine
	Repo         obligationdomain.Repository
	ScheduleRepo scheduledomain.Repository
	PriceRepo    pricetimelinedomain.Repository
	Metrics      *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) obligationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("obligation.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		engine:       p.Engine,
		repo:         p.Repo,
		scheduleRepo: p.ScheduleRepo,
		priceRepo:    p.PriceRepo,
		metrics:      p.Metrics,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req obligationdomain.CreateRequest) (result obligationdomain.CreateResponse, err error) {
	ctx, span := tracing.Start(ctx, "obligation.create")
	defer func() { tracing.End(span, err) }()

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Price.Currency = strings.TrimSpace(req.Price.Currency)
	if err := translateValidation(validate.Struct(req)); err != nil {
		return obligationdomain.CreateResponse{}, err
	}

	status := obligationdomain.ObligationStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if status == "" {
		status = obligationdomain.ObligationStatusActive
	}
	if !status.Valid() {
		return obligationdomain.CreateResponse{}, fmt.Errorf("%w: %s", obligationdomain.ErrInvalidStatus, req.Status)
	}

	timezone := normalizeTimezone(req.BillingTimezone)
	loc, err := s.engine.Zones().Resolve(derefString(timezone))
	if err != nil {
		return obligationdomain.CreateResponse{}, err
	}
	if err := scheduledomain.ValidateRule(req.Schedule); err != nil {
		return obligationdomain.CreateResponse{}, err
	}

	currencyCode, err := pricetimelineservice.NormalizeCurrency(req.Price.Currency)
	if err != nil {
		return obligationdomain.CreateResponse{}, err
	}
	if err := pricetimelineservice.ValidateAmount(req.Price.Amount); err != nil {
		return obligationdomain.CreateResponse{}, err
	}
	source := req.Price.Source
	if source == "" {
		source = pricetimelinedomain.SourceManual
	}
	if !source.Valid() {
		return obligationdomain.CreateResponse{}, fmt.Errorf("%w: %s", pricetimelinedomain.ErrInvalidSource, source)
	}

	now := s.clock.Now().UTC()
	next, err := recurrence.Next(req.Schedule, loc, now)
	if err != nil {
		return obligationdomain.CreateResponse{}, err
	}

	obligation := obligationdomain.Obligation{
		ID:                   s.genID.Generate(),
		Title:                req.Title,
		Description:          req.Description,
		Status:               status,
		BillingTimezone:      timezone,
		CurrentPriceAmount:   req.Price.Amount.Round(2),
		CurrentPriceCurrency: currencyCode,
		NextBillingAt:        &next,
		Metadata:             datatypes.JSONMap(req.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	price := pricetimelinedomain.PriceEntry{
		ID:            s.genID.Generate(),
		ObligationID:  obligation.ID,
		Amount:        obligation.CurrentPriceAmount,
		Currency:      currencyCode,
		EffectiveFrom: now,
		Reason:        req.Price.Reason,
		Source:        source,
		CreatedAt:     now,
	}
	schedule := scheduledomain.NewCurrent(s.genID.Generate(), obligation.ID, req.Schedule, next, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &obligation); err != nil {
			return err
		}
		if err := s.priceRepo.Insert(ctx, tx, &price); err != nil {
			return err
		}
		return s.scheduleRepo.Insert(ctx, tx, &schedule)
	})
	if err != nil {
		return obligationdomain.CreateResponse{}, err
	}

	span.SetAttributes(attribute.Int64("obligation.id", obligation.ID.Int64()))
	s.metrics.RecordObligationCreated(ctx, string(status))
	obslogger.WithContext(ctx, s.log).Info("obligation created",
		zap.String("obligation_id", obligation.ID.String()),
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("period_unit", string(schedule.PeriodUnit)),
		zap.Time("next_billing_at", next),
	)

	return obligationdomain.CreateResponse{
		Obligation: obligation,
		Schedule:   schedule,
		Price:      price,
	}, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (obligationdomain.Obligation, error) {
	if id == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return obligationdomain.Obligation{}, err
	}
	if item == nil {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationNotFound
	}
	return *item, nil
}

// MarkBilled implements domain.Service.
func (s *Service) MarkBilled(ctx context.Context, id snowflake.ID, at time.Time) (obligationdomain.Obligation, error) {
	if id == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationNotFound
	}
	if at.IsZero() {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidBilledAt
	}
	billedAt := at.UTC()

	var updated obligationdomain.Obligation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return obligationdomain.ErrObligationNotFound
		}

		now := s.clock.Now().UTC()
		if err := s.repo.UpdateLastBilled(ctx, tx, id, billedAt, now); err != nil {
			return err
		}
		updated = *item
		updated.LastBilledAt = &billedAt
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return obligationdomain.Obligation{}, err
	}
	return updated, nil
}

// Delete implements domain.Service.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return obligationdomain.ErrObligationNotFound
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return obligationdomain.ErrObligationNotFound
		}

		if err := s.scheduleRepo.DeleteByObligation(ctx, tx, id); err != nil {
			return err
		}
		if err := s.priceRepo.DeleteByObligation(ctx, tx, id); err != nil {
			return err
		}
		affected, err := s.repo.Delete(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return obligationdomain.ErrObligationNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	obslogger.WithContext(ctx, s.log).Info("obligation deleted", zap.String("obligation_id", id.String()))
	return nil
}

// translateValidation maps request tag failures to domain errors. Schedule
// fields are left to ValidateRule, which reports them as *RuleError.
func translateValidation(err error) error {
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	for _, fe := range errs {
		switch {
		case fe.StructNamespace() == "CreateRequest.Title":
			return fmt.Errorf("%w: %s", obligationdomain.ErrInvalidTitle, fe.Tag())
		case fe.StructNamespace() == "CreateRequest.Price.Currency":
			return pricetimelinedomain.ErrInvalidCurrency
		case strings.HasPrefix(fe.StructNamespace(), "CreateRequest.Schedule."):
			continue
		default:
			return err
		}
	}
	return nil
}

func normalizeTimezone(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
