package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Aggregator AggregatorConfig
	Connection ConnectionConfig
	Telemetry  TelemetryConfig
}

type AggregatorConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	AuthTimeout  time.Duration
}

type ConnectionConfig struct {
	PollInterval time.Duration
	PollBudget   time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// load builds the environment config without validating required fields, so
// LoadFile can overlay the file before validation runs.
func load() (*Config, error) {
	authTimeout, err := time.ParseDuration(getEnv("AGGREGATOR_AUTH_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid AGGREGATOR_AUTH_TIMEOUT: %w", err)
	}
	pollInterval, err := time.ParseDuration(getEnv("CONNECTION_POLL_INTERVAL", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECTION_POLL_INTERVAL: %w", err)
	}
	pollBudget, err := time.ParseDuration(getEnv("CONNECTION_POLL_BUDGET", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECTION_POLL_BUDGET: %w", err)
	}

	cfg := &Config{
		Aggregator: AggregatorConfig{
			BaseURL:      getEnv("AGGREGATOR_BASE_URL", ""),
			ClientID:     getEnv("AGGREGATOR_CLIENT_ID", ""),
			ClientSecret: getEnv("AGGREGATOR_CLIENT_SECRET", ""),
			AuthTimeout:  authTimeout,
		},
		Connection: ConnectionConfig{
			PollInterval: pollInterval,
			PollBudget:   pollBudget,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankbridge"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}

	return cfg, nil
}

// LoadFile reads environment configuration and overlays values from a YAML
// file. File values win over environment values; unset file fields keep the
// environment result. Required fields are validated only after the overlay,
// so credentials may come from the file alone.
func LoadFile(path string) (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Aggregator.ClientID == "" {
		return fmt.Errorf("AGGREGATOR_CLIENT_ID is required")
	}
	if c.Aggregator.ClientSecret == "" {
		return fmt.Errorf("AGGREGATOR_CLIENT_SECRET is required")
	}
	return nil
}

// fileConfig mirrors Config with YAML tags; durations are strings so the
// file can say "15s" rather than nanoseconds.
type fileConfig struct {
	Aggregator struct {
		BaseURL      string `yaml:"base_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		AuthTimeout  string `yaml:"auth_timeout"`
	} `yaml:"aggregator"`
	Connection struct {
		PollInterval string `yaml:"poll_interval"`
		PollBudget   string `yaml:"poll_budget"`
	} `yaml:"connection"`
	Telemetry struct {
		Enabled      *bool  `yaml:"enabled"`
		ServiceName  string `yaml:"service_name"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		MetricsPort  string `yaml:"metrics_port"`
	} `yaml:"telemetry"`
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Aggregator.BaseURL, fc.Aggregator.BaseURL)
	setString(&cfg.Aggregator.ClientID, fc.Aggregator.ClientID)
	setString(&cfg.Aggregator.ClientSecret, fc.Aggregator.ClientSecret)
	if err := setDuration(&cfg.Aggregator.AuthTimeout, fc.Aggregator.AuthTimeout); err != nil {
		return fmt.Errorf("aggregator.auth_timeout: %w", err)
	}

	if err := setDuration(&cfg.Connection.PollInterval, fc.Connection.PollInterval); err != nil {
		return fmt.Errorf("connection.poll_interval: %w", err)
	}
	if err := setDuration(&cfg.Connection.PollBudget, fc.Connection.PollBudget); err != nil {
		return fmt.Errorf("connection.poll_budget: %w", err)
	}

	if fc.Telemetry.Enabled != nil {
		cfg.Telemetry.Enabled = *fc.Telemetry.Enabled
	}
	setString(&cfg.Telemetry.ServiceName, fc.Telemetry.ServiceName)
	setString(&cfg.Telemetry.OTLPEndpoint, fc.Telemetry.OTLPEndpoint)
	setString(&cfg.Telemetry.MetricsPort, fc.Telemetry.MetricsPort)

	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
