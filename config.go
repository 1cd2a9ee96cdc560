package stackz

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the environment-driven configuration of a tracer.
type Config struct {
	// Interval between published reports.
	Interval time.Duration `env:"STACKZ_INTERVAL,default=1s"`
	// SlowThreshold flags non-root spans open for at least this long.
	SlowThreshold time.Duration `env:"STACKZ_SLOW_THRESHOLD,default=1s"`
	// ShowDetached renders subtrees detached by cancellation.
	ShowDetached bool `env:"STACKZ_SHOW_DETACHED,default=false"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig(ctx context.Context) (Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that durations are usable.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %v", c.Interval)
	}
	if c.SlowThreshold < 0 {
		return fmt.Errorf("slow threshold must be >= 0, got %v", c.SlowThreshold)
	}
	return nil
}

// NewFromConfig creates a tracer configured by cfg.
func NewFromConfig(cfg Config) *Tracer {
	return New().WithSlowThreshold(cfg.SlowThreshold).WithDetached(cfg.ShowDetached)
}
