package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SweepConfig controls the due-schedule sweep.
type SweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Spec      string        `mapstructure:"spec"`
	BatchSize int           `mapstructure:"batchSize"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Enabled:   true,
		Spec:      "@every 5m",
		BatchSize: 500,
		Timeout:   2 * time.Minute,
	}
}

var defaultSweepConfigPaths = []string{
	"/var/lib/renewd/config", // Volume-mounted config
	"/etc/renewd",            // System config
	".",                      // Current directory (dev mode)
}

type SweepConfigHolder struct {
	current atomic.Value // holds SweepConfig
}

func NewSweepConfigHolder(log *zap.Logger) (*SweepConfigHolder, error) {
	return LoadSweepConfig(log, defaultSweepConfigPaths...)
}

// LoadSweepConfig reads sweep.yml from the first path containing it and
// watches it for changes. Defaults apply when no file is found.
func LoadSweepConfig(log *zap.Logger, paths ...string) (*SweepConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.sweep")

	v := viper.New()
	v.SetConfigName("sweep")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("RENEWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSweepConfig()
	v.SetDefault("sweep.enabled", defaults.Enabled)
	v.SetDefault("sweep.spec", defaults.Spec)
	v.SetDefault("sweep.batchSize", defaults.BatchSize)
	v.SetDefault("sweep.timeout", defaults.Timeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg SweepConfig
	if err := v.UnmarshalKey("sweep", &cfg); err != nil {
		return nil, err
	}
	if err := validateSweepConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SweepConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated SweepConfig
			if err := v.UnmarshalKey("sweep", &updated); err != nil {
				log.Warn("sweep config reload failed", zap.Error(err))
				return
			}
			if err := validateSweepConfig(updated); err != nil {
				log.Warn("invalid sweep config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("sweep config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticSweepConfigHolder returns a holder that never reloads.
func NewStaticSweepConfigHolder(cfg SweepConfig) *SweepConfigHolder {
	holder := &SweepConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *SweepConfigHolder) Get() SweepConfig {
	return h.current.Load().(SweepConfig)
}

func validateSweepConfig(cfg SweepConfig) error {
	if cfg.BatchSize <= 0 {
		return errors.New("sweep.batchSize must be positive")
	}
	if cfg.Timeout < 0 {
		return errors.New("sweep.timeout cannot be negative")
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return fmt.Errorf("sweep.spec: %w", err)
	}
	return nil
}
