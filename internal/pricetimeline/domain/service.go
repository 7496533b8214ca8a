package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SetPriceRequest struct {
	ObligationID snowflake.ID
	Amount       decimal.Decimal
	Currency     string
	// EffectiveFrom defaults to the current time when zero.
	EffectiveFrom time.Time
	Reason        *string
	Source        Source
}

type Service interface {
	// SetPrice closes the open entry at req.EffectiveFrom and opens a new one.
	SetPrice(ctx context.Context, req SetPriceRequest) (PriceEntry, error)
	List(ctx context.Context, obligationID snowflake.ID) ([]PriceEntry, error)
	PriceAt(ctx context.Context, obligationID snowflake.ID, at time.Time) (PriceEntry, error)
}

var (
	ErrNonMonotonicPrice = errors.New("non_monotonic_price")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidSource     = errors.New("invalid_source")
	ErrPriceNotFound     = errors.New("price_not_found")
	ErrInvalidObligation = errors.New("invalid_obligation")
)
