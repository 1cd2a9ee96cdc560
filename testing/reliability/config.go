// Package reliability stresses trace scopes under load. The tests only run
// when STACKZ_RELIABILITY_LEVEL is set to "basic" or "stress".
package reliability

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	// Level is "basic" or "stress".
	Level string `env:"STACKZ_RELIABILITY_LEVEL"`
	// Duration bounds the stress storm.
	Duration time.Duration `env:"STACKZ_RELIABILITY_DURATION,default=30s"`
	// MaxGoroutines is the number of concurrent scope drivers.
	MaxGoroutines int `env:"STACKZ_RELIABILITY_MAX_GOROUTINES,default=100"`
	// MaxDepth is the deepest span nesting built in basic mode.
	MaxDepth int `env:"STACKZ_RELIABILITY_MAX_DEPTH,default=200"`
	// MaxLeakRate is the tolerated fraction of scopes ending with spans left.
	MaxLeakRate float64 `env:"STACKZ_RELIABILITY_MAX_LEAK_RATE,default=0"`
}

// getReliabilityConfig reads configuration from environment variables.
// A malformed variable falls back to the zero configuration, which skips.
func getReliabilityConfig() ReliabilityConfig {
	var config ReliabilityConfig
	if err := envconfig.Process(context.Background(), &config); err != nil {
		return ReliabilityConfig{}
	}
	return config
}
