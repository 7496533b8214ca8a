// Package recurrence computes the next occurrence of a billing schedule.
//
// Computation happens on local wall-clock time in the obligation's zone and
// the result is returned in UTC. Nothing here touches storage or reads the
// current time.
package recurrence

import (
	"fmt"
	"time"

	"github.com/smallbiznis/renewd/internal/calendar"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
)

// Engine resolves obligation timezones and computes next occurrences.
type Engine struct {
	zones *calendar.ZoneResolver
}

func NewEngine(zones *calendar.ZoneResolver) *Engine {
	if zones == nil {
		zones = calendar.NewZoneResolverWithLocation(time.UTC)
	}
	return &Engine{zones: zones}
}

// Zones returns the resolver the engine was built with.
func (e *Engine) Zones() *calendar.ZoneResolver {
	return e.zones
}

// ComputeNext resolves timezone (empty means the configured default) and
// returns Next for the schedule.
func (e *Engine) ComputeNext(rule scheduledomain.BillingSchedule, timezone string, ref time.Time) (time.Time, error) {
	loc, err := e.zones.Resolve(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return Next(rule.Params(), loc, ref)
}

// Next returns the first occurrence of the rule strictly after ref, evaluated
// in loc. A trial end later than ref replaces ref, so a trial can only push
// the first charge out.
func Next(rule scheduledomain.RuleParams, loc *time.Location, ref time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := ref.In(loc)
	if rule.TrialEndsAt != nil {
		if trial := rule.TrialEndsAt.In(loc); trial.After(local) {
			local = trial
		}
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	var next time.Time
	switch rule.Unit {
	case scheduledomain.PeriodUnitDay:
		next = local.AddDate(0, 0, interval)
	case scheduledomain.PeriodUnitWeek:
		weekday := calendar.Monday
		if rule.AnchorWeekday != nil {
			weekday = *rule.AnchorWeekday
		}
		next = calendar.NextWeekday(local, interval, weekday)
	case scheduledomain.PeriodUnitMonth:
		anchor := 1
		if rule.AnchorDay != nil {
			anchor = *rule.AnchorDay
		}
		next = calendar.WithDay(local, anchor)
		if !next.After(local) {
			next = calendar.AddMonthsWithDay(next, interval, anchor)
		}
	case scheduledomain.PeriodUnitYear:
		next = calendar.AddYears(local, interval)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", scheduledomain.ErrUnsupportedUnit, string(rule.Unit))
	}

	return next.UTC(), nil
}

// GraceEndsAt returns the end of the late-payment window that follows due:
// due plus graceDays local calendar days. The window never moves next_run_at.
func GraceEndsAt(due time.Time, graceDays int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if graceDays <= 0 {
		return due.UTC()
	}
	return due.In(loc).AddDate(0, 0, graceDays).UTC()
}
