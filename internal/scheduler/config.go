package scheduler

import (
	"time"

	"github.com/smallbiznis/renewd/internal/config"
)

const sweepJobName = "sweep_due"

// Config is the per-run view of the sweep settings. It is read again from
// the config holder on every run so that reloaded values apply to the next sweep.
type Config struct {
	Enabled   bool
	Spec      string
	BatchSize int
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return fromSweepConfig(config.DefaultSweepConfig())
}

func fromSweepConfig(c config.SweepConfig) Config {
	return Config{
		Enabled:   c.Enabled,
		Spec:      c.Spec,
		BatchSize: c.BatchSize,
		Timeout:   c.Timeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Spec == "" {
		c.Spec = defaults.Spec
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Timeout < 0 {
		c.Timeout = defaults.Timeout
	}
	return c
}
