package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	pricetimelinedomain "github.com/smallbiznis/renewd/internal/pricetimeline/domain"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
)

type CreatePriceRequest struct {
	Amount   decimal.Decimal
	Currency string `validate:"required,len=3"`
	Reason   *string
	Source   pricetimelinedomain.Source
}

type CreateRequest struct {
	Title           string `validate:"required,max=255"`
	Description     string
	Status          ObligationStatus
	BillingTimezone *string
	Metadata        map[string]any
	Price           CreatePriceRequest
	Schedule        scheduledomain.RuleParams
}

type CreateResponse struct {
	Obligation Obligation
	Schedule   scheduledomain.BillingSchedule
	Price      pricetimelinedomain.PriceEntry
}

type Service interface {
	// Create inserts the obligation together with its first price entry and
	// its first current billing schedule.
	Create(ctx context.Context, req CreateRequest) (CreateResponse, error)
	Get(ctx context.Context, id snowflake.ID) (Obligation, error)
	MarkBilled(ctx context.Context, id snowflake.ID, at time.Time) (Obligation, error)
	Delete(ctx context.Context, id snowflake.ID) error
}

var (
	ErrObligationNotFound = errors.New("obligation_not_found")
	ErrInvalidTitle       = errors.New("invalid_title")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidBilledAt    = errors.New("invalid_billed_at")
)
