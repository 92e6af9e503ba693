package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for settlementd.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Environment   string           `yaml:"environment"`
	Database      DatabaseConfig   `yaml:"database"`
	Settlement    SettlementConfig `yaml:"settlement"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	Webhook       WebhookConfig    `yaml:"webhook"`
	Log           LogConfig        `yaml:"log"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SettlementConfig tunes the block cadence and emission.
type SettlementConfig struct {
	Interval      Duration `yaml:"interval"`
	Timeout       Duration `yaml:"timeout"`
	BlockReward   int64    `yaml:"block_reward"`
	ScheduleFile  string   `yaml:"schedule_file"`
	MaxSupply     int64    `yaml:"max_supply"`
	SettleOnStart bool     `yaml:"settle_on_start"`
	LeaseName     string   `yaml:"lease_name"`
	LeaseTTL      Duration `yaml:"lease_ttl"`
}

// RateLimitConfig bounds read API traffic per client.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// WebhookConfig enables block.settled notifications when Endpoint is set.
type WebhookConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Secret      string `yaml:"secret"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// LogConfig controls log output. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
}

type envOverrides struct {
	Listen        string `env:"SETTLEMENTD_LISTEN"`
	Environment   string `env:"SETTLEMENTD_ENV"`
	DBDriver      string `env:"SETTLEMENTD_DATABASE_DRIVER"`
	DBDSN         string `env:"SETTLEMENTD_DATABASE_DSN"`
	WebhookSecret string `env:"SETTLEMENTD_WEBHOOK_SECRET"`
	OTLPHeaders   string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, then validates. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddress, overrides.Listen)
	set(&cfg.Environment, overrides.Environment)
	set(&cfg.Database.Driver, overrides.DBDriver)
	set(&cfg.Database.DSN, overrides.DBDSN)
	set(&cfg.Webhook.Secret, overrides.WebhookSecret)
	set(&cfg.Telemetry.Headers, overrides.OTLPHeaders)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "file:settlementd.db?_pragma=busy_timeout(5000)"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Settlement.Interval.Duration == 0 {
		cfg.Settlement.Interval.Duration = 5 * time.Minute
	}
	if cfg.Settlement.Timeout.Duration == 0 {
		cfg.Settlement.Timeout.Duration = 30 * time.Second
	}
	if cfg.Settlement.BlockReward == 0 && cfg.Settlement.ScheduleFile == "" {
		cfg.Settlement.BlockReward = 100_000
	}
	if cfg.Settlement.LeaseName == "" {
		cfg.Settlement.LeaseName = "block-settlement"
	}
	if cfg.Settlement.LeaseTTL.Duration == 0 {
		cfg.Settlement.LeaseTTL.Duration = 2 * cfg.Settlement.Timeout.Duration
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 7
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

func validate(cfg Config) error {
	var errs []error
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.Database.Driver))
	}
	if cfg.Database.Driver == "postgres" && strings.TrimSpace(cfg.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn required for postgres"))
	}
	if cfg.Settlement.Interval.Duration < time.Second {
		errs = append(errs, errors.New("settlement.interval must be at least 1s"))
	}
	if cfg.Settlement.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("settlement.timeout must be positive"))
	}
	if cfg.Settlement.BlockReward < 0 {
		errs = append(errs, errors.New("settlement.block_reward cannot be negative"))
	}
	if cfg.Settlement.MaxSupply < 0 {
		errs = append(errs, errors.New("settlement.max_supply cannot be negative"))
	}
	if cfg.Settlement.LeaseTTL.Duration <= cfg.Settlement.Timeout.Duration {
		errs = append(errs, errors.New("settlement.lease_ttl must exceed settlement.timeout"))
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values cannot be negative"))
	}
	if strings.TrimSpace(cfg.Webhook.Endpoint) != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		errs = append(errs, errors.New("webhook.secret required when webhook.endpoint is set"))
	}
	return errors.Join(errs...)
}
