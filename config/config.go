// Package config provides configuration loading for the UniFi speed
// test exporter.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unifi-dashboard/exporter/controller"
)

// Interval clamps, in minutes. Conservative ranges keep the controller
// from rate limiting the exporter.
const (
	MinScheduleInterval = 15
	MaxScheduleInterval = 1440
	MinPollingInterval  = 10
	MaxPollingInterval  = 240
)

// Config holds the application configuration.
type Config struct {
	// Controller connection settings
	Controller ControllerConfig `yaml:"controller"`

	// Speed test scheduling settings
	Speedtest SpeedtestConfig `yaml:"speedtest"`

	// Metrics server configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// ControllerConfig holds controller connection settings.
type ControllerConfig struct {
	// URL is the base URL of the controller
	URL string `yaml:"url"`

	// Username for controller authentication
	Username string `yaml:"username"`

	// Password for controller authentication
	Password string `yaml:"password"`

	// Site is the controller site identifier
	Site string `yaml:"site"`

	// Type is the API dialect (appliance or classic)
	Type string `yaml:"type"`

	// VerifySSL enables TLS certificate verification
	VerifySSL bool `yaml:"verify_ssl"`

	// MultiWAN enables per-interface detection
	MultiWAN bool `yaml:"multi_wan"`

	// Timeout for routine controller requests
	Timeout time.Duration `yaml:"timeout"`

	// LoginTimeout for the login request
	LoginTimeout time.Duration `yaml:"login_timeout"`
}

// SpeedtestConfig holds scheduling settings, in minutes.
type SpeedtestConfig struct {
	// ScheduleInterval is how often a speed test is triggered
	ScheduleInterval int `yaml:"schedule_interval_minutes"`

	// PollingInterval is how often results are polled; 0 derives it
	// from the schedule interval
	PollingInterval int `yaml:"polling_interval_minutes"`
}

// MetricsConfig holds Prometheus metrics server settings.
type MetricsConfig struct {
	// Port to serve metrics on
	Port int `yaml:"port"`

	// Path for metrics endpoint
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Controller: ControllerConfig{
			URL:          "https://192.168.1.1",
			Site:         "default",
			Type:         "appliance",
			VerifySSL:    false,
			Timeout:      10 * time.Second,
			LoginTimeout: 30 * time.Second,
		},
		Speedtest: SpeedtestConfig{
			// 90 minutes is conservative enough to avoid rate limiting.
			ScheduleInterval: 90,
			PollingInterval:  0,
		},
		Metrics: MetricsConfig{
			Port: 9101,
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables.
// Environment variables override values from the config file.
func LoadConfigFromEnv(cfg *Config) {
	if url := os.Getenv("UNIFI_URL"); url != "" {
		cfg.Controller.URL = url
	}
	if username := os.Getenv("UNIFI_USERNAME"); username != "" {
		cfg.Controller.Username = username
	}
	if password := os.Getenv("UNIFI_PASSWORD"); password != "" {
		cfg.Controller.Password = password
	}
	if site := os.Getenv("UNIFI_SITE"); site != "" {
		cfg.Controller.Site = site
	}
	if ctype := os.Getenv("UNIFI_CONTROLLER_TYPE"); ctype != "" {
		cfg.Controller.Type = ctype
	}
	if verify := os.Getenv("UNIFI_VERIFY_SSL"); verify != "" {
		cfg.Controller.VerifySSL = strings.EqualFold(verify, "true")
	}
	if multi := os.Getenv("UNIFI_MULTI_WAN"); multi != "" {
		cfg.Controller.MultiWAN = strings.EqualFold(multi, "true")
	}
	if interval := os.Getenv("UNIFI_SCHEDULE_INTERVAL"); interval != "" {
		var m int
		if _, err := fmt.Sscanf(interval, "%d", &m); err == nil {
			cfg.Speedtest.ScheduleInterval = m
		}
	}
	if interval := os.Getenv("UNIFI_POLLING_INTERVAL"); interval != "" {
		var m int
		if _, err := fmt.Sscanf(interval, "%d", &m); err == nil {
			cfg.Speedtest.PollingInterval = m
		}
	}
	if port := os.Getenv("UNIFI_METRICS_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			cfg.Metrics.Port = p
		}
	}
	if level := os.Getenv("UNIFI_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Normalize clamps the intervals into their allowed ranges and derives
// the polling interval when it is unset. Derivation tiers trade polling
// frequency against the speed test schedule so polls never crowd tests:
// up to 30 minutes a third of the schedule (floor 10), up to an hour
// half of it (floor 15), beyond that a third again (floor 20).
func (c *Config) Normalize() {
	c.Speedtest.ScheduleInterval = clamp(c.Speedtest.ScheduleInterval, MinScheduleInterval, MaxScheduleInterval)
	if c.Speedtest.PollingInterval == 0 {
		c.Speedtest.PollingInterval = DerivePollingInterval(c.Speedtest.ScheduleInterval)
	}
	c.Speedtest.PollingInterval = clamp(c.Speedtest.PollingInterval, MinPollingInterval, MaxPollingInterval)
}

// Validate rejects combinations that would let polling crowd out speed
// tests.
func (c *Config) Validate() error {
	if c.Controller.URL == "" {
		return fmt.Errorf("controller URL is required")
	}
	if c.Speedtest.PollingInterval >= c.Speedtest.ScheduleInterval {
		return fmt.Errorf("polling interval (%dm) must be less than the speed test interval (%dm)",
			c.Speedtest.PollingInterval, c.Speedtest.ScheduleInterval)
	}
	return nil
}

// DerivePollingInterval applies the tiered auto-derivation rule.
func DerivePollingInterval(scheduleMinutes int) int {
	switch {
	case scheduleMinutes <= 30:
		return max(10, scheduleMinutes/3)
	case scheduleMinutes <= 60:
		return max(15, scheduleMinutes/2)
	default:
		return max(20, scheduleMinutes/3)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToClientConfig converts the config to a controller.ClientConfig.
func (c *Config) ToClientConfig() controller.ClientConfig {
	clientCfg := controller.DefaultClientConfig()
	clientCfg.URL = strings.TrimRight(c.Controller.URL, "/")
	clientCfg.Username = c.Controller.Username
	clientCfg.Password = c.Controller.Password
	clientCfg.Site = c.Controller.Site
	clientCfg.Type = ParseControllerType(c.Controller.Type)
	clientCfg.MultiWAN = c.Controller.MultiWAN
	clientCfg.InsecureSkipVerify = !c.Controller.VerifySSL
	if c.Controller.Timeout > 0 {
		clientCfg.Timeout = c.Controller.Timeout
	}
	if c.Controller.LoginTimeout > 0 {
		clientCfg.LoginTimeout = c.Controller.LoginTimeout
	}
	return clientCfg
}

// ParseControllerType maps the accepted spellings onto a dialect.
func ParseControllerType(s string) controller.ControllerType {
	switch strings.ToLower(s) {
	case "classic", "controller", "software":
		return controller.TypeClassic
	default:
		return controller.TypeAppliance
	}
}

// ScheduleInterval returns the trigger cadence as a duration.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Speedtest.ScheduleInterval) * time.Minute
}

// PollingInterval returns the poll cadence as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Speedtest.PollingInterval) * time.Minute
}
