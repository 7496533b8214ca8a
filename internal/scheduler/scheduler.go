package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/renewd/internal/clock"
	"github.com/smallbiznis/renewd/internal/config"
	obsmetrics "github.com/smallbiznis/renewd/internal/observability/metrics"
	"github.com/smallbiznis/renewd/internal/sweeper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Sweeper advances due schedules.
type Sweeper interface {
	SweepDue(ctx context.Context, now time.Time, limit int) (sweeper.Result, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Sweeper     *sweeper.Sweeper
	GenID       *snowflake.Node
	Clock       clock.Clock
	SweepConfig *config.SweepConfigHolder
}

type Scheduler struct {
	log      *zap.Logger
	sweeper  Sweeper
	genID    *snowflake.Node
	clock    clock.Clock
	settings func() Config

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Sweeper == nil || p.GenID == nil || p.Clock == nil || p.SweepConfig == nil {
		return nil, ErrInvalidConfig
	}
	holder := p.SweepConfig
	return &Scheduler{
		log:     p.Log.Named("scheduler"),
		sweeper: p.Sweeper,
		genID:   p.GenID,
		clock:   p.Clock,
		settings: func() Config {
			return fromSweepConfig(holder.Get()).withDefaults()
		},
	}, nil
}

func (s *Scheduler) config() Config {
	if s.settings == nil {
		return DefaultConfig()
	}
	return s.settings()
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("job", name))
	sweepMetrics := obsmetrics.Sweep()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Running out of time leaves the rest of the batch due for the next run.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		sweepMetrics.IncJobTimeout(name)
	}
	sweepMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs a single sweep with the current settings.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.config()
	if !cfg.Enabled {
		s.log.Debug("sweep disabled, skipping run")
		return nil
	}
	return s.runJob(parent, sweepJobName, cfg.BatchSize, cfg.Timeout, s.SweepJob)
}

// SweepJob advances one batch of due schedules using the clock's current time.
func (s *Scheduler) SweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, sweepJobName, s.config().BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.sweeper.SweepDue(ctx, s.clock.Now(), run.batchSize)
	run.AddProcessed(result.Processed)
	// The sweeper logs each failed schedule; the run only tallies them.
	run.AddErrors(len(result.Failures))
	return err
}

// Start registers the sweep on its cron spec. Overlapping ticks are skipped
// while a sweep is still running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cfg := s.config()
	baseCtx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(cfg.Spec, func() {
		if err := s.RunOnce(baseCtx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep %q: %w", cfg.Spec, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.log.Info("scheduler started",
		zap.String("spec", cfg.Spec),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("timeout", cfg.Timeout),
	)
	return nil
}

// Stop cancels any running sweep and waits for it to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
