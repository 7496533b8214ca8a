// Command sweep runs a single sweep of due billing schedules and exits.
// It is meant to be driven by an external cron.
package main

import (
	"context"
	"os"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/renewd/internal/clock"
	"github.com/smallbiznis/renewd/internal/config"
	"github.com/smallbiznis/renewd/internal/migration"
	obligationrepository "github.com/smallbiznis/renewd/internal/obligation/repository"
	"github.com/smallbiznis/renewd/internal/observability"
	"github.com/smallbiznis/renewd/internal/observability/tracing"
	"github.com/smallbiznis/renewd/internal/schedule"
	"github.com/smallbiznis/renewd/internal/scheduler"
	"github.com/smallbiznis/renewd/internal/sweeper"
	"github.com/smallbiznis/renewd/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	exitCode := 0
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		fx.Provide(obligationrepository.Provide),
		schedule.Module,
		sweeper.Module,
		scheduler.OneShotModule,

		// No cron loop: one sweep, then shut down.
		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, s *scheduler.Scheduler, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						tracing.SetPropagator()
						ctx := tracing.ContextFromEnv(context.Background())
						if err := s.RunOnce(ctx); err != nil {
							log.Error("sweep failed", zap.Error(err))
							exitCode = 1
						}
						_ = shutdowner.Shutdown(fx.ExitCode(exitCode))
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
	os.Exit(exitCode)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
