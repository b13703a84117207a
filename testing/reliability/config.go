package reliability

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	// Level is "basic" or "stress"; anything else skips the suite.
	Level string `envconfig:"LEVEL"`
	// Duration bounds time-boxed stress loops.
	Duration time.Duration `envconfig:"DURATION" default:"30s"`
	// Components registered per test.
	Components int `envconfig:"COMPONENTS" default:"200"`
	// Keys is the number of debounce keys per component.
	Keys int `envconfig:"KEYS" default:"50"`
	// MaxGrowMB is the allowed heap growth.
	MaxGrowMB int `envconfig:"MAX_GROW_MB" default:"64"`
}

// getReliabilityConfig reads CALLTRACE_RELIABILITY_* environment variables.
func getReliabilityConfig() ReliabilityConfig {
	var config ReliabilityConfig
	if err := envconfig.Process("CALLTRACE_RELIABILITY", &config); err != nil {
		return ReliabilityConfig{}
	}
	return config
}

// scaled returns n for stress runs and n/10 (at least 1) for basic ones.
func (c ReliabilityConfig) scaled(n int) int {
	if c.Level == "stress" {
		return n
	}
	if n/10 < 1 {
		return 1
	}
	return n / 10
}
