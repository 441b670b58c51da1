// Package config provides YAML-based configuration loading for the back-office service.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from backoffice.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Automation AutomationConfig `yaml:"automation"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// DatabaseConfig selects the store driver and connection string.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite, mysql, postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// HTTPConfig holds settings for the API server.
type HTTPConfig struct {
	Addr      string  `yaml:"addr"`
	JWTSecret string  `yaml:"jwt_secret"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per tenant
	Burst     int     `yaml:"burst"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AutomationConfig controls background automation.
type AutomationConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"` // 5-field cron expression; empty disables the sweep
}

// KafkaConfig enables publishing pipeline events to a Kafka topic.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// Enabled reports whether a Kafka sink should be started.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// NotifyConfig routes selected pipeline events to team chat.
type NotifyConfig struct {
	Events  []string      `yaml:"events"`
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig identifies a bot and the channel it posts to.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

var validDrivers = map[string]bool{"sqlite": true, "mysql": true, "postgres": true}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Overlay adjusts a parsed Config before validation, e.g. to apply
// secrets from the environment.
type Overlay func(*Config)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string, overlays ...Overlay) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, overlays...)
}

// Parse unmarshals YAML bytes into a validated Config. Overlays run after
// defaults are applied.
func Parse(data []byte, overlays ...Overlay) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg, overlays)
}

// Default returns a validated configuration for local development.
func Default(overlays ...Overlay) (*Config, error) {
	return finish(&Config{}, overlays)
}

func finish(cfg *Config, overlays []Overlay) (*Config, error) {
	cfg.applyDefaults()
	for _, o := range overlays {
		o(cfg)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "backoffice.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 20
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 40
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "pipeline-events"
	}
	if len(c.Notify.Events) == 0 {
		c.Notify.Events = []string{"deal.won"}
	}
}

// Validate checks that all required fields are present and consistent.
func (c *Config) Validate() error {
	var errs []string
	if !validDrivers[c.Database.Driver] {
		errs = append(errs, fmt.Sprintf("database.driver %q must be one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must not be negative")
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, "http.rate_limit must not be negative")
	}
	if c.HTTP.Burst < 0 {
		errs = append(errs, "http.burst must not be negative")
	}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	if c.Automation.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Automation.SweepSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("automation.sweep_schedule: %v", err))
		}
	}
	for i, b := range c.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, fmt.Sprintf("kafka.brokers[%d] is empty", i))
		}
	}
	if c.Kafka.Username != "" && c.Kafka.Password == "" {
		errs = append(errs, "kafka.password is required when kafka.username is set")
	}
	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required when a bot token is set")
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when a bot token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
