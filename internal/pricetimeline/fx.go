package pricetimeline

import (
	"github.com/smallbiznis/renewd/internal/pricetimeline/repository"
	"github.com/smallbiznis/renewd/internal/pricetimeline/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricetimeline.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
