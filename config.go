package blueberry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/GoCodeAlone/blueberry/feeders"
	"github.com/GoCodeAlone/blueberry/tracing"
	"github.com/robfig/cron/v3"
)

// Config is the framework configuration. It is read from YAML, TOML or JSON
// files and BLUEBERRY_* environment variables through the feeders package.
type Config struct {
	// Application is the id of the default application (blueberry.application).
	Application string `yaml:"application" toml:"application" json:"application" env:"APPLICATION"`
	// LaunchDefault disables launching the default application when false.
	LaunchDefault *bool `yaml:"launch_default" toml:"launch_default" json:"launch_default" env:"LAUNCH_DEFAULT"`
	// Product is the id of the product whose branding is used (blueberry.product).
	Product string `yaml:"product" toml:"product" json:"product" env:"PRODUCT"`

	ExtensionDir    string `yaml:"extension_dir" toml:"extension_dir" json:"extension_dir" env:"EXTENSION_DIR"`
	RescanSchedule  string `yaml:"rescan_schedule" toml:"rescan_schedule" json:"rescan_schedule" env:"RESCAN_SCHEDULE"`
	AdminAddr       string `yaml:"admin_addr" toml:"admin_addr" json:"admin_addr" env:"ADMIN_ADDR"`
	ApplicationWait string `yaml:"application_wait" toml:"application_wait" json:"application_wait" env:"APPLICATION_WAIT"`
	Debug           bool   `yaml:"debug" toml:"debug" json:"debug" env:"DEBUG"`

	// Properties are extra framework properties passed to the container.
	Properties map[string]string `yaml:"properties" toml:"properties" json:"properties"`

	Tracing tracing.Config `yaml:"tracing" toml:"tracing" json:"tracing"`
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		ApplicationWait: DefaultApplicationWait.String(),
		Tracing:         tracing.DefaultConfig(),
	}
}

// LoadConfig applies feeders to cfg in order, later feeders overriding
// earlier ones, and validates the result.
func LoadConfig(cfg *Config, sources ...feeders.Feeder) error {
	if cfg == nil {
		return ErrConfigNil
	}
	for _, f := range sources {
		if err := f.Feed(cfg); err != nil {
			return fmt.Errorf("feed config: %w", err)
		}
	}
	return cfg.Validate()
}

// Validate checks the schedule and duration fields.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.RescanSchedule); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, c.RescanSchedule, err)
		}
	}
	if _, err := c.applicationWait(); err != nil {
		return err
	}
	return nil
}

func (c *Config) applicationWait() (time.Duration, error) {
	if c.ApplicationWait == "" {
		return DefaultApplicationWait, nil
	}
	d, err := time.ParseDuration(c.ApplicationWait)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: application_wait %q", ErrInvalidArgument, c.ApplicationWait)
	}
	return d, nil
}

// ContainerProperties returns the framework properties the container reads.
func (c *Config) ContainerProperties() map[string]string {
	props := make(map[string]string, len(c.Properties)+3)
	for k, v := range c.Properties {
		props[k] = v
	}
	if c.Application != "" {
		props[PropApplication] = c.Application
	}
	if c.Product != "" {
		props[PropProduct] = c.Product
	}
	if c.LaunchDefault != nil {
		props[PropLaunchDefault] = strconv.FormatBool(*c.LaunchDefault)
	}
	return props
}
