package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/renewd/internal/calendar"
	scheduledomain "github.com/smallbiznis/renewd/internal/schedule/domain"
	"github.com/smallbiznis/renewd/pkg/db"
)

const (
	SweepReasonDeadlineExceeded       = "deadline_exceeded"
	SweepReasonDBLockTimeout          = "db_lock_timeout"
	SweepReasonSerializationFailure   = "serialization_failure"
	SweepReasonDeadlock               = "deadlock"
	SweepReasonConcurrentModification = "concurrent_modification"
	SweepReasonInvalidRule            = "invalid_rule"
	SweepReasonUnknownTimezone        = "unknown_timezone"
	SweepReasonUnsupportedUnit        = "unsupported_unit"
	SweepReasonNotCurrent             = "not_current"
	SweepReasonNotDue                 = "not_due"
	SweepReasonNotFound               = "not_found"
	SweepReasonUnknown                = "unknown"
)

// SweepMetrics captures health signals of the due-schedule sweep.
type SweepMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	advanced         prometheus.Counter
	skipped          prometheus.Counter
	advanceFailures  *prometheus.CounterVec
	advanceConflicts prometheus.Counter
	batchSize        prometheus.Histogram
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

// Sweep returns the singleton sweep metrics registry.
func Sweep() *SweepMetrics {
	return SweepWithConfig(Config{})
}

// SweepWithConfig returns the singleton sweep metrics registry using config labels.
func SweepWithConfig(cfg Config) *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweepMetrics
}

// ResetSweepMetricsForTest resets the sweep metrics singleton for tests.
func ResetSweepMetricsForTest() {
	sweepMetricsOnce = sync.Once{}
	sweepMetrics = nil
}

func newSweepMetrics(registerer prometheus.Registerer, cfg Config) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "renewd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "renewd_sweep_job_runs_total",
		Help:        "Sweep job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "renewd_sweep_job_duration_seconds",
		Help:        "Sweep job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "renewd_sweep_job_timeouts_total",
		Help:        "Sweep jobs that hit their deadline before draining the batch.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "renewd_sweep_job_errors_total",
		Help:        "Sweep job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	advanced := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "renewd_sweep_schedules_advanced_total",
		Help:        "Billing schedules advanced by the sweep.",
		ConstLabels: constLabels,
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "renewd_sweep_schedules_skipped_total",
		Help:        "Listed schedules another writer advanced before the sweep reached them.",
		ConstLabels: constLabels,
	})
	advanceFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "renewd_sweep_schedule_failures_total",
		Help:        "Billing schedules the sweep failed to advance, by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	advanceConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "renewd_schedule_advance_conflicts_total",
		Help:        "Advance attempts retried after a concurrent modification.",
		ConstLabels: constLabels,
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "renewd_sweep_batch_size",
		Help:        "Due schedules selected per sweep.",
		Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		advanced,
		skipped,
		advanceFailures,
		advanceConflicts,
		batchSize,
	)

	return &SweepMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		advanced:         advanced,
		skipped:          skipped,
		advanceFailures:  advanceFailures,
		advanceConflicts: advanceConflicts,
		batchSize:        batchSize,
	}
}

// IncJobRun increments the run counter for a sweep job.
func (m *SweepMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records sweep job latency in seconds.
func (m *SweepMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the sweep job.
func (m *SweepMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the sweep job error counter with classification.
func (m *SweepMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySweepReason(err)).Inc()
}

func (m *SweepMetrics) AddAdvanced(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.advanced.Add(float64(count))
}

func (m *SweepMetrics) AddSkipped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.skipped.Add(float64(count))
}

func (m *SweepMetrics) IncAdvanceFailure(err error) {
	if m == nil || err == nil {
		return
	}
	m.advanceFailures.WithLabelValues(ClassifySweepReason(err)).Inc()
}

func (m *SweepMetrics) IncAdvanceConflict() {
	if m == nil {
		return
	}
	m.advanceConflicts.Inc()
}

func (m *SweepMetrics) ObserveBatchSize(size int) {
	if m == nil || size < 0 {
		return
	}
	m.batchSize.Observe(float64(size))
}

// ClassifySweepReason maps advance and job errors to low-cardinality reasons.
func ClassifySweepReason(err error) string {
	switch {
	case err == nil:
		return SweepReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SweepReasonDeadlineExceeded
	case errors.Is(err, scheduledomain.ErrConcurrentModification):
		return SweepReasonConcurrentModification
	case errors.Is(err, scheduledomain.ErrInvalidRule):
		return SweepReasonInvalidRule
	case errors.Is(err, calendar.ErrUnknownTimezone):
		return SweepReasonUnknownTimezone
	case errors.Is(err, scheduledomain.ErrUnsupportedUnit):
		return SweepReasonUnsupportedUnit
	case errors.Is(err, scheduledomain.ErrScheduleNotCurrent):
		return SweepReasonNotCurrent
	case errors.Is(err, scheduledomain.ErrScheduleNotDue):
		return SweepReasonNotDue
	case errors.Is(err, scheduledomain.ErrScheduleNotFound):
		return SweepReasonNotFound
	case db.IsLockTimeout(err):
		return SweepReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return SweepReasonSerializationFailure
	case db.IsDeadlock(err):
		return SweepReasonDeadlock
	default:
		return SweepReasonUnknown
	}
}
