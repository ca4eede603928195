package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pactline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Evaluation struct {
		SweepIntervalSeconds    int `yaml:"sweep_interval_seconds"`
		Workers                 int `yaml:"workers"`
		GraceHours              int `yaml:"grace_hours"`
		TelemetryTimeoutSeconds int `yaml:"telemetry_timeout_seconds"`
		Retry                   struct {
			Attempts    int `yaml:"attempts"`
			BaseDelayMS int `yaml:"base_delay_ms"`
		} `yaml:"retry"`
	} `yaml:"evaluation"`
	Policy struct {
		InvitationTTLDays int `yaml:"invitation_ttl_days"`
		// MaxStrikes ends a pact after that many consecutive broken
		// days. Zero keeps the pact running forever.
		MaxStrikes int `yaml:"max_strikes"`
	} `yaml:"policy"`
	Auth struct {
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Logging  struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// SweepInterval is the pause between evaluation sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Evaluation.SweepIntervalSeconds) * time.Second
}

// Grace is how long past a participant's local day end a missing ledger
// entry still counts as "not yet reported" rather than a miss.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Evaluation.GraceHours) * time.Hour
}

// TelemetryTimeout bounds a single telemetry fetch.
func (c *Config) TelemetryTimeout() time.Duration {
	return time.Duration(c.Evaluation.TelemetryTimeoutSeconds) * time.Second
}

// InvitationTTL is how long a pending invitation stays answerable.
func (c *Config) InvitationTTL() time.Duration {
	return time.Duration(c.Policy.InvitationTTLDays) * 24 * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Evaluation.Workers <= 0 {
		return fmt.Errorf("config.evaluation.workers must be positive")
	}
	if c.Evaluation.GraceHours < 0 {
		return fmt.Errorf("config.evaluation.grace_hours must not be negative")
	}
	if c.Evaluation.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config.evaluation.sweep_interval_seconds must be positive")
	}
	if c.Evaluation.TelemetryTimeoutSeconds <= 0 {
		return fmt.Errorf("config.evaluation.telemetry_timeout_seconds must be positive")
	}
	if c.Evaluation.Retry.Attempts <= 0 {
		return fmt.Errorf("config.evaluation.retry.attempts must be positive")
	}
	if c.Evaluation.Retry.BaseDelayMS <= 0 {
		return fmt.Errorf("config.evaluation.retry.base_delay_ms must be positive")
	}
	if c.Policy.InvitationTTLDays <= 0 {
		return fmt.Errorf("config.policy.invitation_ttl_days must be positive")
	}
	if c.Policy.MaxStrikes < 0 {
		return fmt.Errorf("config.policy.max_strikes must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pactline.yml")
}

// Load reads and validates config from workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// numeric knobs keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML for `pactline config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `service:
  name: pactline

evaluation:
  sweep_interval_seconds: 3600
  workers: 4
  grace_hours: 12
  telemetry_timeout_seconds: 5
  retry:
    attempts: 5
    base_delay_ms: 100

policy:
  invitation_ttl_days: 7
  max_strikes: 0

auth:
  jwt_secret: ""
  allow_legacy_user_header: true

logging:
  level: info
`
