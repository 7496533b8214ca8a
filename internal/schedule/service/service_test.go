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
	db             *gorm.DB
	node           *snowflake.Node
	clock          *clock.FakeClock
	repo           scheduledomain.Repository
	obligationRepo obligationdomain.Repository
	svc            *Service
}

func newFixture(t *testing.T, repo scheduledomain.Repository) *fixture {
	t.Helper()

	conn := dbtest.Open(t, &obligationdomain.Obligation{}, &scheduledomain.BillingSchedule{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	if repo == nil {
		repo = schedulerepository.Provide()
	}
	f := &fixture{
		db:             conn,
		node:           node,
		clock:          clock.NewFakeClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)),
		repo:           repo,
		obligationRepo: obligationrepository.Provide(),
	}
	f.svc = NewService(ServiceParam{
		DB:             conn,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          f.clock,
		Engine:         recurrence.NewEngine(calendar.NewZoneResolverWithLocation(time.UTC)),
		Repo:           repo,
		ObligationRepo: f.obligationRepo,
	}).(*Service)
	return f
}

func intPtr(v int) *int { return &v }

func (f *fixture) seedObligation(t *testing.T, timezone *string) obligationdomain.Obligation {
	t.Helper()
	now := f.clock.Now()
	obligation := obligationdomain.Obligation{
		ID:                   f.node.Generate(),
		Title:                "Hosting",
		Status:               obligationdomain.ObligationStatusActive,
		BillingTimezone:      timezone,
		CurrentPriceAmount:   decimal.RequireFromString("10.00"),
		CurrentPriceCurrency: "USD",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, f.obligationRepo.Insert(context.Background(), f.db, &obligation))
	return obligation
}

func (f *fixture) seedSchedule(t *testing.T, obligationID snowflake.ID, params scheduledomain.RuleParams, nextRunAt time.Time) scheduledomain.BillingSchedule {
	t.Helper()
	schedule := scheduledomain.NewCurrent(f.node.Generate(), obligationID, params, nextRunAt, f.clock.Now())
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &schedule))
	return schedule
}

func monthly(anchor int) scheduledomain.RuleParams {
	return scheduledomain.RuleParams{Unit: scheduledomain.PeriodUnitMonth, Interval: 1, AnchorDay: intPtr(anchor)}
}

func TestAdvanceUpdatesScheduleAndObligation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, monthly(15), time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC))

	ref := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.Advance(ctx, schedule.ID, ref)
	require.NoError(t, err)

	want := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(updated.NextRunAt), "got %s", updated.NextRunAt)
	assert.Equal(t, int64(1), updated.Version)

	stored, err := f.repo.FindByID(ctx, f.db, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, want.Equal(stored.NextRunAt))
	assert.Equal(t, int64(1), stored.Version)

	owner, err := f.obligationRepo.FindByID(ctx, f.db, obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, owner.NextBillingAt)
	assert.True(t, want.Equal(*owner.NextBillingAt))

	// Advancing again from the new due instant moves strictly forward.
	again, err := f.svc.Advance(ctx, schedule.ID, want)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC).Equal(again.NextRunAt), "got %s", again.NextRunAt)
}

func TestAdvanceIsRepeatableForSameReference(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, scheduledomain.RuleParams{
		Unit: scheduledomain.PeriodUnitWeek, Interval: 1, AnchorWeekday: intPtr(calendar.Friday),
	}, f.clock.Now())

	ref := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)
	first, err := f.svc.Advance(ctx, schedule.ID, ref)
	require.NoError(t, err)
	second, err := f.svc.Advance(ctx, schedule.ID, ref)
	require.NoError(t, err)

	assert.True(t, first.NextRunAt.Equal(second.NextRunAt))
	assert.Equal(t, int64(2), second.Version)
}

func TestAdvanceUsesObligationTimezone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	zone := "Asia/Tokyo"
	obligation := f.seedObligation(t, &zone)
	schedule := f.seedSchedule(t, obligation.ID, monthly(1), f.clock.Now())

	// 2024-03-31 16:00 UTC is 2024-04-01 01:00 in Tokyo.
	updated, err := f.svc.Advance(ctx, schedule.ID, time.Date(2024, time.March, 31, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.April, 30, 16, 0, 0, 0, time.UTC).Equal(updated.NextRunAt), "got %s", updated.NextRunAt)
}

func TestAdvanceRejectsUnknownTimezone(t *testing.T) {
	f := newFixture(t, nil)

	zone := "Nowhere/City"
	obligation := f.seedObligation(t, &zone)
	schedule := f.seedSchedule(t, obligation.ID, monthly(1), f.clock.Now())

	_, err := f.svc.Advance(context.Background(), schedule.ID, f.clock.Now())
	assert.True(t, errors.Is(err, calendar.ErrUnknownTimezone), "got %v", err)
}

func TestAdvanceInvalidRuleWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	initial := f.clock.Now()
	schedule := f.seedSchedule(t, obligation.ID, scheduledomain.RuleParams{Unit: scheduledomain.PeriodUnitMonth, Interval: 1}, initial)

	_, err := f.svc.Advance(ctx, schedule.ID, initial)
	require.Error(t, err)
	assert.True(t, errors.Is(err, scheduledomain.ErrInvalidRule))

	stored, err := f.repo.FindByID(ctx, f.db, schedule.ID)
	require.NoError(t, err)
	assert.True(t, initial.Equal(stored.NextRunAt))
	assert.Equal(t, int64(0), stored.Version)

	owner, err := f.obligationRepo.FindByID(ctx, f.db, obligation.ID)
	require.NoError(t, err)
	assert.Nil(t, owner.NextBillingAt)
}

func TestAdvanceMissingSchedule(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Advance(context.Background(), f.node.Generate(), f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotFound))

	_, err = f.svc.Advance(context.Background(), 0, f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotFound))
}

func TestAdvanceSupersededSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	old := f.seedSchedule(t, obligation.ID, monthly(1), f.clock.Now())

	_, err := f.svc.Replace(ctx, obligation.ID, monthly(20), f.clock.Now())
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, old.ID, f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotCurrent), "got %v", err)
}

type conflictingRepo struct {
	scheduledomain.Repository
	conflicts int
	calls     int
}

func (r *conflictingRepo) SaveNextRun(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, nextRunAt, updatedAt time.Time) error {
	r.calls++
	if r.calls <= r.conflicts {
		return scheduledomain.ErrConcurrentModification
	}
	return r.Repository.SaveNextRun(ctx, db, id, expectedVersion, nextRunAt, updatedAt)
}

func TestAdvanceRetriesOnceOnConflict(t *testing.T) {
	repo := &conflictingRepo{Repository: schedulerepository.Provide(), conflicts: 1}
	f := newFixture(t, repo)

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, monthly(5), f.clock.Now())

	updated, err := f.svc.Advance(context.Background(), schedule.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
	assert.True(t, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC).Equal(updated.NextRunAt))
}

func TestAdvanceSurfacesRepeatedConflict(t *testing.T) {
	repo := &conflictingRepo{Repository: schedulerepository.Provide(), conflicts: 5}
	f := newFixture(t, repo)

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, monthly(5), f.clock.Now())

	_, err := f.svc.Advance(context.Background(), schedule.ID, f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrConcurrentModification))
	assert.Equal(t, maxAdvanceAttempts, repo.calls)
}

func TestAdvanceDueAdvancesListedSchedule(t *testing.T) {
	f := newFixture(t, nil)

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, monthly(5), f.clock.Now())

	updated, err := f.svc.AdvanceDue(context.Background(), schedule.ID, schedule.Version, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC).Equal(updated.NextRunAt))
	assert.Equal(t, schedule.Version+1, updated.Version)
}

func TestAdvanceDueRejectsScheduleAlreadyAdvanced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, scheduledomain.RuleParams{Unit: scheduledomain.PeriodUnitDay, Interval: 1}, f.clock.Now())

	first, err := f.svc.AdvanceDue(ctx, schedule.ID, schedule.Version, f.clock.Now())
	require.NoError(t, err)

	// A second writer holding the listing from before the first advance.
	_, err = f.svc.AdvanceDue(ctx, schedule.ID, schedule.Version, f.clock.Now().Add(time.Minute))
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotDue), "got %v", err)

	stored, err := f.repo.FindByID(ctx, f.db, schedule.ID)
	require.NoError(t, err)
	assert.True(t, first.NextRunAt.Equal(stored.NextRunAt), "got %s", stored.NextRunAt)
	assert.Equal(t, first.Version, stored.Version)
}

func TestAdvanceDueRejectsScheduleNotYetDue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	nextRunAt := f.clock.Now().Add(time.Hour)
	schedule := f.seedSchedule(t, obligation.ID, monthly(5), nextRunAt)

	_, err := f.svc.AdvanceDue(ctx, schedule.ID, schedule.Version, f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotDue), "got %v", err)

	stored, err := f.repo.FindByID(ctx, f.db, schedule.ID)
	require.NoError(t, err)
	assert.True(t, nextRunAt.Equal(stored.NextRunAt))
	assert.Equal(t, schedule.Version, stored.Version)
}

func TestSaveNextRunDetectsStaleVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	schedule := f.seedSchedule(t, obligation.ID, monthly(5), f.clock.Now())

	next := f.clock.Now().AddDate(0, 1, 0)
	require.NoError(t, f.repo.SaveNextRun(ctx, f.db, schedule.ID, 0, next, f.clock.Now()))
	err := f.repo.SaveNextRun(ctx, f.db, schedule.ID, 0, next, f.clock.Now())
	assert.True(t, errors.Is(err, scheduledomain.ErrConcurrentModification))
}

func TestReplaceKeepsHistoryWithSingleCurrent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	first := f.seedSchedule(t, obligation.ID, monthly(1), f.clock.Now())

	f.clock.Advance(time.Hour)
	replaced, err := f.svc.Replace(ctx, obligation.ID, scheduledomain.RuleParams{
		Unit: scheduledomain.PeriodUnitDay, Interval: 7,
	}, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, replaced.IsCurrent)
	assert.True(t, time.Date(2024, time.February, 8, 0, 0, 0, 0, time.UTC).Equal(replaced.NextRunAt))

	current, err := f.svc.GetCurrent(ctx, obligation.ID)
	require.NoError(t, err)
	assert.Equal(t, replaced.ID, current.ID)

	history, err := f.svc.History(ctx, obligation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, replaced.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	currentCount := 0
	for _, item := range history {
		if item.IsCurrent {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)
	assert.Equal(t, scheduledomain.PeriodUnitMonth, history[1].PeriodUnit, "superseded rule keeps its parameters")

	owner, err := f.obligationRepo.FindByID(ctx, f.db, obligation.ID)
	require.NoError(t, err)
	require.NotNil(t, owner.NextBillingAt)
	assert.True(t, replaced.NextRunAt.Equal(*owner.NextBillingAt))
}

func TestReplaceValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	obligation := f.seedObligation(t, nil)
	f.seedSchedule(t, obligation.ID, monthly(1), f.clock.Now())

	_, err := f.svc.Replace(ctx, obligation.ID, scheduledomain.RuleParams{Unit: scheduledomain.PeriodUnitWeek, Interval: 1}, time.Time{})
	assert.True(t, errors.Is(err, scheduledomain.ErrInvalidRule))

	history, err := f.svc.History(ctx, obligation.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.svc.Replace(ctx, f.node.Generate(), monthly(1), time.Time{})
	assert.True(t, errors.Is(err, obligationdomain.ErrObligationNotFound))
}

func TestGetCurrentNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.GetCurrent(context.Background(), f.node.Generate())
	assert.True(t, errors.Is(err, scheduledomain.ErrScheduleNotFound))

	_, err = f.svc.GetCurrent(context.Background(), 0)
	assert.True(t, errors.Is(err, scheduledomain.ErrInvalidObligation))
}
