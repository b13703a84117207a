package calltrace

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Role names a styling slot in rendered output.
type Role = string

// Styling roles.
const (
	RoleLight     Role = "light"
	RoleDark      Role = "dark"
	RoleHighlight Role = "highlight"
)

// Settings is the static tracer configuration.
type Settings struct {
	Colors      map[Role]string `yaml:"colors" envconfig:"COLORS" default:"light:white,dark:hiblack,highlight:himagenta"`
	Include     []string        `yaml:"include" envconfig:"INCLUDE" default:".*"`
	Exclude     []string        `yaml:"exclude" envconfig:"EXCLUDE" default:"/vendor/,/pkg/mod/"`
	Threshold   time.Duration   `yaml:"threshold" envconfig:"THRESHOLD" default:"1ms"`
	Enabled     bool            `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	CapturePath bool            `yaml:"capture_path" envconfig:"CAPTURE_PATH" default:"true"`
	TallyCalls  bool            `yaml:"tally_calls" envconfig:"TALLY_CALLS" default:"true"`
}

// DefaultSettings returns the default configuration.
func DefaultSettings() Settings {
	return Settings{
		Enabled:     true,
		Include:     []string{".*"},
		Exclude:     []string{"/vendor/", "/pkg/mod/"},
		Threshold:   time.Millisecond,
		CapturePath: true,
		TallyCalls:  true,
		Colors: map[Role]string{
			RoleLight:     "white",
			RoleDark:      "hiblack",
			RoleHighlight: "himagenta",
		},
	}
}

// SettingsFromEnv loads settings from environment variables, e.g.
// CALLTRACE_THRESHOLD=5ms with prefix "CALLTRACE".
func SettingsFromEnv(prefix string) (Settings, error) {
	var s Settings
	if err := envconfig.Process(prefix, &s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to load settings from environment")
	}
	return s, nil
}

// LoadSettings reads a YAML settings file on top of the defaults.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "read settings %s", path)
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "parse settings %s", path)
	}
	return s, nil
}

func (s Settings) clone() Settings {
	s.Include = append([]string(nil), s.Include...)
	s.Exclude = append([]string(nil), s.Exclude...)
	colors := make(map[Role]string, len(s.Colors))
	for role, token := range s.Colors {
		colors[role] = token
	}
	s.Colors = colors
	return s
}

// snapshot pairs settings with their compiled policy.
type snapshot struct {
	settings Settings
	policy   Policy
}

// Config holds the live settings. Components re-read it at every decision
// point so updates take effect immediately. Safe for concurrent use.
type Config struct {
	current atomic.Pointer[snapshot]
}

// NewConfig validates s and returns a Config holding it.
func NewConfig(s Settings) (*Config, error) {
	c := &Config{}
	if err := c.Store(s); err != nil {
		return nil, err
	}
	return c, nil
}

// MustConfig is NewConfig that panics on invalid patterns.
func MustConfig(s Settings) *Config {
	c, err := NewConfig(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Load returns a copy of the current settings.
func (c *Config) Load() Settings {
	return c.current.Load().settings.clone()
}

// view returns the current settings without copying. Callers must not
// modify the result.
func (c *Config) view() *Settings {
	return &c.current.Load().settings
}

// Store replaces the settings. Invalid patterns leave the previous settings
// in place.
func (c *Config) Store(s Settings) error {
	policy, err := CompilePolicy(s.Include, s.Exclude)
	if err != nil {
		return err
	}
	c.current.Store(&snapshot{settings: s.clone(), policy: policy})
	return nil
}

// Update applies fn to a copy of the current settings and stores the result.
func (c *Config) Update(fn func(*Settings)) error {
	s := c.Load()
	fn(&s)
	return c.Store(s)
}

// Policy returns the compiled inclusion policy for the current settings.
func (c *Config) Policy() Policy {
	return c.current.Load().policy
}

// ShouldInstrument applies the current inclusion policy.
func (c *Config) ShouldInstrument(path, owner string) bool {
	return c.Policy().Allows(path, owner)
}
