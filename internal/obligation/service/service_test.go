package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/renewd/internal/calendar"
	"github.com/smallbiznis/renewd/internal/clock"
	obligationdomain "github.com/smallbiznis/renewd/internal/obligation/domain"
	obligationrepository "github.com/smallbiznis/renewd/internal/obligation/repository"
	pricetimelinedomain "github.com/smallbiznis/renewd/internal/pricetimeline/domain"
	pricetimelinerepository "github.com/smallbiznis/renewd/internal/pricetimeline/repository"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"github.com/smallbiznis/renewd/internal/schedule/recurrence"
	schedulerepository "github.com/smallbiznis/renewd/internal/schedule/repository"
	"github.com/smallbiznis/renewd/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db           *gorm.DB
	clock        *clock.FakeClock
	repo         obligationdomain.Repository
	scheduleRepo scheduledomain.Repository
	priceRepo    pricetimelinedomain.Repository
	svc          obligationdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := dbtest.Open(t,
		&obligationdomain.Obligation{},
		&scheduledomain.BillingSchedule{},
		&pricetimelinedomain.PriceEntry{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	f := &fixture{
		db:           conn,
		clock:        clock.NewFakeClock(time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)),
		repo:         obligationrepository.Provide(),
		scheduleRepo: schedulerepository.Provide(),
		priceRepo:    pricetimelinerepository.Provide(),
	}
	f.svc = NewService(ServiceParam{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        f.clock,
		Engine:       recurrence.NewEngine(calendar.NewZoneResolverWithLocation(time.UTC)),
		Repo:         f.repo,
		ScheduleRepo: f.scheduleRepo,
		PriceRepo:    f.priceRepo,
	})
	return f
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func validRequest() obligationdomain.CreateRequest {
	return obligationdomain.CreateRequest{
		Title:    "  Streaming plan ",
		Metadata: map[string]any{"vendor": "acme"},
		Price: obligationdomain.CreatePriceRequest{
			Amount:   decimal.RequireFromString("9.99"),
			Currency: "usd",
		},
		Schedule: scheduledomain.RuleParams{
			Unit:      scheduledomain.PeriodUnitMonth,
			Interval:  1,
			AnchorDay: intPtr(31),
		},
	}
}

func TestCreatePersistsObligationPriceAndSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, validRequest())
	require.NoError(t, err)

	// Jan 31 10:00 is already past the anchor day's start, so February clamps to the 29th.
	want := time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(resp.Schedule.NextRunAt), "got %s", resp.Schedule.NextRunAt)
	assert.True(t, resp.Schedule.IsCurrent)
	assert.Equal(t, "Streaming plan", resp.Obligation.Title)
	assert.Equal(t, obligationdomain.ObligationStatusActive, resp.Obligation.Status)
	assert.Equal(t, pricetimelinedomain.SourceManual, resp.Price.Source)

	stored, err := f.svc.Get(ctx, resp.Obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextBillingAt)
	assert.True(t, want.Equal(*stored.NextBillingAt))
	assert.Equal(t, "USD", stored.CurrentPriceCurrency)
	assert.True(t, stored.CurrentPriceAmount.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "acme", stored.Metadata["vendor"])

	current, err := f.scheduleRepo.FindCurrentByObligation(ctx, f.db, resp.Obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, resp.Schedule.ID, current.ID)

	open, err := f.priceRepo.FindOpen(ctx, f.db, resp.Obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, f.clock.Now().Equal(open.EffectiveFrom))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(req *obligationdomain.CreateRequest)
		want   error
	}{
		{name: "blank title", mutate: func(req *obligationdomain.CreateRequest) { req.Title = "   " }, want: obligationdomain.ErrInvalidTitle},
		{name: "bad status", mutate: func(req *obligationdomain.CreateRequest) { req.Status = "archived" }, want: obligationdomain.ErrInvalidStatus},
		{name: "unknown timezone", mutate: func(req *obligationdomain.CreateRequest) { req.BillingTimezone = strPtr("Mars/Olympus") }, want: calendar.ErrUnknownTimezone},
		{name: "rule without anchor", mutate: func(req *obligationdomain.CreateRequest) { req.Schedule.AnchorDay = nil }, want: scheduledomain.ErrInvalidRule},
		{name: "rule interval", mutate: func(req *obligationdomain.CreateRequest) { req.Schedule.Interval = 0 }, want: scheduledomain.ErrInvalidRule},
		{name: "negative price", mutate: func(req *obligationdomain.CreateRequest) { req.Price.Amount = decimal.NewFromInt(-5) }, want: pricetimelinedomain.ErrInvalidAmount},
		{name: "bad currency", mutate: func(req *obligationdomain.CreateRequest) { req.Price.Currency = "dollars" }, want: pricetimelinedomain.ErrInvalidCurrency},
		{name: "bad source", mutate: func(req *obligationdomain.CreateRequest) { req.Price.Source = "guess" }, want: pricetimelinedomain.ErrInvalidSource},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := f.svc.Create(context.Background(), req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM obligations`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestCreateHonorsTimezoneAndTrial(t *testing.T) {
	f := newFixture(t)

	trial := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	req := validRequest()
	req.Status = obligationdomain.ObligationStatusTrial
	req.BillingTimezone = strPtr("America/New_York")
	req.Schedule = scheduledomain.RuleParams{
		Unit:        scheduledomain.PeriodUnitDay,
		Interval:    1,
		TrialEndsAt: &trial,
	}

	resp, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, obligationdomain.ObligationStatusTrial, resp.Obligation.Status)
	assert.True(t, trial.AddDate(0, 0, 1).Equal(resp.Schedule.NextRunAt), "got %s", resp.Schedule.NextRunAt)
	require.NotNil(t, resp.Obligation.BillingTimezone)
	assert.Equal(t, "America/New_York", *resp.Obligation.BillingTimezone)
}

func TestMarkBilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, validRequest())
	require.NoError(t, err)

	billedAt := time.Date(2024, time.February, 29, 10, 5, 0, 0, time.UTC)
	updated, err := f.svc.MarkBilled(ctx, resp.Obligation.ID, billedAt)
	require.NoError(t, err)
	require.NotNil(t, updated.LastBilledAt)
	assert.True(t, billedAt.Equal(*updated.LastBilledAt))

	stored, err := f.svc.Get(ctx, resp.Obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastBilledAt)
	assert.True(t, billedAt.Equal(*stored.LastBilledAt))

	_, err = f.svc.MarkBilled(ctx, resp.Obligation.ID, time.Time{})
	assert.True(t, errors.Is(err, obligationdomain.ErrInvalidBilledAt))
}

func TestDeleteRemovesChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, resp.Obligation.ID))

	_, err = f.svc.Get(ctx, resp.Obligation.ID)
	assert.True(t, errors.Is(err, obligationdomain.ErrObligationNotFound))

	history, err := f.scheduleRepo.ListByObligation(ctx, f.db, resp.Obligation.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	entries, err := f.priceRepo.List(ctx, f.db, resp.Obligation.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = f.svc.Delete(ctx, resp.Obligation.ID)
	assert.True(t, errors.Is(err, obligationdomain.ErrObligationNotFound))
}
