package scheduler

import (
	"context"

	"github.com/smallbiznis/renewd/internal/config"
	"go.uber.org/fx"
)

// Module runs the sweep on its cron spec for the lifetime of the app.
var Module = fx.Module("scheduler",
	fx.Provide(config.NewSweepConfigHolder),
	fx.Provide(New),
	fx.Invoke(RegisterHooks),
)

// OneShotModule provides the scheduler without starting the cron loop.
var OneShotModule = fx.Module("scheduler.oneshot",
	fx.Provide(config.NewSweepConfigHolder),
	fx.Provide(New),
)

func RegisterHooks(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
