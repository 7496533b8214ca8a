package schedule

import (
	"github.com/smallbiznis/renewd/internal/calendar"
	"github.com/smallbiznis/renewd/internal/config"
	"github.com/smallbiznis/renewd/internal/schedule/recurrence"
	"github.com/smallbiznis/renewd/internal/schedule/repository"
	"github.com/smallbiznis/renewd/internal/schedule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("schedule.service",
	fx.Provide(provideZoneResolver),
	fx.Provide(recurrence.NewEngine),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

func provideZoneResolver(cfg config.Config) (*calendar.ZoneResolver, error) {
	return calendar.NewZoneResolver(cfg.DefaultTimezone)
}
