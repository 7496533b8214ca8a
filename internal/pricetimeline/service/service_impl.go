package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/renewd/internal/clock"
	obligationdomain "github.com/smallbiznis/renewd/internal/obligation/domain"
	obslogger "github.com/smallbiznis/renewd/internal/observability/logger"
	"github.com/smallbiznis/renewd/internal/observability/metrics"
	"github.com/smallbiznis/renewd/internal/observability/tracing"
	pricetimelinedomain "github.com/smallbiznis/renewd/internal/pricetimeline/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	repo           pricetimelinedomain.Repository
	obligationRepo obligationdomain.Repository
	metrics        *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           pricetimelinedomain.Repository
	ObligationRepo obligationdomain.Repository
	Metrics        *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) pricetimelinedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("pricetimeline.service"),

		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		obligationRepo: p.ObligationRepo,
		metrics:        p.Metrics,
	}
}

// SetPrice implements domain.Service.
func (s *Service) SetPrice(ctx context.Context, req pricetimelinedomain.SetPriceRequest) (result pricetimelinedomain.PriceEntry, err error) {
	ctx, span := tracing.Start(ctx, "pricetimeline.set_price", attribute.Int64("obligation.id", req.ObligationID.Int64()))
	defer func() { tracing.End(span, err) }()

	if req.ObligationID == 0 {
		return pricetimelinedomain.PriceEntry{}, pricetimelinedomain.ErrInvalidObligation
	}
	code, err := NormalizeCurrency(req.Currency)
	if err != nil {
		return pricetimelinedomain.PriceEntry{}, err
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return pricetimelinedomain.PriceEntry{}, err
	}
	source, err := normalizeSource(req.Source)
	if err != nil {
		return pricetimelinedomain.PriceEntry{}, err
	}

	now := s.clock.Now().UTC()
	effectiveFrom := req.EffectiveFrom.UTC()
	if req.EffectiveFrom.IsZero() {
		effectiveFrom = now
	}

	entry := pricetimelinedomain.PriceEntry{
		ID:            s.genID.Generate(),
		ObligationID:  req.ObligationID,
		Amount:        req.Amount.Round(2),
		Currency:      code,
		EffectiveFrom: effectiveFrom,
		Reason:        normalizeReason(req.Reason),
		Source:        source,
		CreatedAt:     now,
	}

	var closed *pricetimelinedomain.PriceEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		obligation, err := s.obligationRepo.FindByIDForUpdate(ctx, tx, req.ObligationID)
		if err != nil {
			return err
		}
		if obligation == nil {
			return obligationdomain.ErrObligationNotFound
		}

		open, err := s.repo.FindOpen(ctx, tx, req.ObligationID)
		if err != nil {
			return err
		}
		if open != nil {
			if !open.EffectiveFrom.Before(effectiveFrom) {
				return fmt.Errorf("%w: open entry starts at %s", pricetimelinedomain.ErrNonMonotonicPrice, open.EffectiveFrom.UTC().Format(time.RFC3339))
			}
			if err := s.repo.Close(ctx, tx, open.ID, effectiveFrom); err != nil {
				return err
			}
			closed = open
		}

		if err := s.repo.Insert(ctx, tx, &entry); err != nil {
			return err
		}
		return s.obligationRepo.UpdateCurrentPrice(ctx, tx, req.ObligationID, entry.Amount, entry.Currency, now)
	})
	if err != nil {
		return pricetimelinedomain.PriceEntry{}, err
	}

	s.metrics.RecordPriceChange(ctx, string(entry.Source), entry.Currency)

	fields := []zap.Field{
		zap.String("obligation_id", entry.ObligationID.String()),
		zap.String("price_entry_id", entry.ID.String()),
		zap.String("amount", entry.Amount.StringFixed(2)),
		zap.String("currency", entry.Currency),
		zap.Time("effective_from", entry.EffectiveFrom),
		zap.String("source", string(entry.Source)),
	}
	if closed != nil {
		fields = append(fields, zap.String("closed_entry_id", closed.ID.String()))
	}
	obslogger.WithContext(ctx, s.log).Info("price changed", fields...)
	return entry, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, obligationID snowflake.ID) ([]pricetimelinedomain.PriceEntry, error) {
	if obligationID == 0 {
		return nil, pricetimelinedomain.ErrInvalidObligation
	}
	return s.repo.List(ctx, s.db, obligationID)
}

// PriceAt implements domain.Service.
func (s *Service) PriceAt(ctx context.Context, obligationID snowflake.ID, at time.Time) (pricetimelinedomain.PriceEntry, error) {
	if obligationID == 0 {
		return pricetimelinedomain.PriceEntry{}, pricetimelinedomain.ErrInvalidObligation
	}
	entry, err := s.repo.FindEffectiveAt(ctx, s.db, obligationID, at.UTC())
	if err != nil {
		return pricetimelinedomain.PriceEntry{}, err
	}
	if entry == nil {
		return pricetimelinedomain.PriceEntry{}, pricetimelinedomain.ErrPriceNotFound
	}
	return *entry, nil
}

// NormalizeCurrency upper-cases code and checks it against ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", pricetimelinedomain.ErrInvalidCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %s", pricetimelinedomain.ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

// ValidateAmount rejects negative prices and amounts beyond numeric(12,2).
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return pricetimelinedomain.ErrInvalidAmount
	}
	if amount.Round(2).GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: exceeds %s", pricetimelinedomain.ErrInvalidAmount, maxAmount.String())
	}
	return nil
}

var maxAmount = decimal.New(1, 10)

func normalizeSource(source pricetimelinedomain.Source) (pricetimelinedomain.Source, error) {
	source = pricetimelinedomain.Source(strings.ToLower(strings.TrimSpace(string(source))))
	if source == "" {
		return pricetimelinedomain.SourceManual, nil
	}
	if !source.Valid() {
		return "", fmt.Errorf("%w: %s", pricetimelinedomain.ErrInvalidSource, source)
	}
	return source, nil
}

func normalizeReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
