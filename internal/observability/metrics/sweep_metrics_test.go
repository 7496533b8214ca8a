package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/renewd/internal/calendar"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
)

func TestClassifySweepReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SweepReasonDeadlineExceeded},
		{name: "canceled", err: fmt.Errorf("sweep: %w", context.Canceled), want: SweepReasonDeadlineExceeded},
		{name: "conflict", err: scheduledomain.ErrConcurrentModification, want: SweepReasonConcurrentModification},
		{name: "invalid_rule", err: &scheduledomain.RuleError{Field: "anchor_day", Message: "is required"}, want: SweepReasonInvalidRule},
		{name: "timezone", err: fmt.Errorf("%w: Mars/Base", calendar.ErrUnknownTimezone), want: SweepReasonUnknownTimezone},
		{name: "unsupported_unit", err: scheduledomain.ErrUnsupportedUnit, want: SweepReasonUnsupportedUnit},
		{name: "not_current", err: scheduledomain.ErrScheduleNotCurrent, want: SweepReasonNotCurrent},
		{name: "not_due", err: scheduledomain.ErrScheduleNotDue, want: SweepReasonNotDue},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SweepReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: SweepReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: SweepReasonDeadlock},
		{name: "unknown", err: errors.New("boom"), want: SweepReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySweepReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSweepMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSweepMetrics(registry, Config{
		ServiceName: "renewd",
		Environment: "test",
	})

	m.AddAdvanced(3)
	m.AddAdvanced(0)
	m.IncAdvanceFailure(scheduledomain.ErrUnsupportedUnit)
	m.IncAdvanceFailure(nil)
	m.IncAdvanceConflict()
	m.AddSkipped(2)

	if got := testutil.ToFloat64(m.advanced); got != 3 {
		t.Fatalf("expected advanced count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.advanceFailures.WithLabelValues(SweepReasonUnsupportedUnit)); got != 1 {
		t.Fatalf("expected failure count 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.advanceConflicts); got != 1 {
		t.Fatalf("expected conflict count 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.skipped); got != 2 {
		t.Fatalf("expected skipped count 2, got %v", got)
	}
}
