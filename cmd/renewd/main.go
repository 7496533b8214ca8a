package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/renewd/internal/clock"
	"github.com/smallbiznis/renewd/internal/config"
	"github.com/smallbiznis/renewd/internal/migration"
	"github.com/smallbiznis/renewd/internal/obligation"
	"github.com/smallbiznis/renewd/internal/observability"
	"github.com/smallbiznis/renewd/internal/pricetimeline"
	"github.com/smallbiznis/renewd/internal/schedule"
	"github.com/smallbiznis/renewd/internal/scheduler"
	"github.com/smallbiznis/renewd/internal/sweeper"
	"github.com/smallbiznis/renewd/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Functional Domains
		schedule.Module,
		obligation.Module,
		pricetimeline.Module,
		sweeper.Module,

		// Sweep loop
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
