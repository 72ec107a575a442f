// Package config provides configuration structures and loading logic for docmeter.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/polisai/polis-docmeter/internal/governance"
	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/pkg/metrics"
	"gopkg.in/yaml.v3"
)

const (
	defaultAdminAddress = ":19090"
	defaultDataAddress  = ":8090"
	defaultPageSize     = 100
)

// Config holds the global configuration for docmeter.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Headers   HeadersConfig   `yaml:"headers"`
	Backend   BackendConfig   `yaml:"backend"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
	DataAddress  string `yaml:"data_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HeadersConfig names the response headers the request context is annotated with.
type HeadersConfig struct {
	SessionToken  string `yaml:"session_token"`
	RequestCharge string `yaml:"request_charge"`
}

// BackendConfig configures the in-memory document backend.
type BackendConfig struct {
	Charges  docstore.ChargeSchedule                 `yaml:"charges"`
	PageSize int                                     `yaml:"page_size"`
	Limits   map[string]governance.RateLimiterConfig `yaml:"limits"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddress: defaultAdminAddress,
			DataAddress:  defaultDataAddress,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "docmeter",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Headers: HeadersConfig{
			SessionToken:  metrics.HeaderSessionToken,
			RequestCharge: metrics.HeaderRequestCharge,
		},
		Backend: BackendConfig{
			Charges:  docstore.DefaultChargeSchedule(),
			PageSize: defaultPageSize,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func parseFile(path string, cfg *Config) error {
	//nolint:gosec // Config file path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// BackendOptions converts the backend section into docstore options.
func (c *Config) BackendOptions() docstore.MemoryBackendConfig {
	return docstore.MemoryBackendConfig{
		Charges:  c.Backend.Charges,
		PageSize: c.Backend.PageSize,
		Limits:   c.Backend.Limits,
	}
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("DOCMETER_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("DOCMETER_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}

	if val := os.Getenv("DOCMETER_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DOCMETER_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("DOCMETER_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}

	if val := os.Getenv("DOCMETER_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("DOCMETER_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("DOCMETER_SESSION_TOKEN_HEADER"); val != "" {
		cfg.Headers.SessionToken = val
	}
	if val := os.Getenv("DOCMETER_REQUEST_CHARGE_HEADER"); val != "" {
		cfg.Headers.RequestCharge = val
	}

	if val := os.Getenv("DOCMETER_PAGE_SIZE"); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: DOCMETER_PAGE_SIZE %q: %v", domain.ErrConfigInvalid, val, err)
		}
		cfg.Backend.PageSize = size
	}

	// DOCMETER_THROTTLE=<requests_per_second>[:<burst>] applies to every resource type.
	if val := os.Getenv("DOCMETER_THROTTLE"); val != "" {
		limit, err := parseThrottle(val)
		if err != nil {
			return err
		}
		if cfg.Backend.Limits == nil {
			cfg.Backend.Limits = make(map[string]governance.RateLimiterConfig)
		}
		cfg.Backend.Limits[governance.WildcardKey] = limit
	}

	return nil
}

func parseThrottle(val string) (governance.RateLimiterConfig, error) {
	rateText, burstText, hasBurst := strings.Cut(strings.TrimSpace(val), ":")
	rate, err := strconv.Atoi(rateText)
	if err != nil {
		return governance.RateLimiterConfig{}, fmt.Errorf("%w: DOCMETER_THROTTLE %q: %v", domain.ErrConfigInvalid, val, err)
	}
	limit := governance.RateLimiterConfig{RequestsPerSecond: rate, BurstSize: rate}
	if hasBurst {
		burst, err := strconv.Atoi(burstText)
		if err != nil {
			return governance.RateLimiterConfig{}, fmt.Errorf("%w: DOCMETER_THROTTLE %q: %v", domain.ErrConfigInvalid, val, err)
		}
		limit.BurstSize = burst
	}
	return limit, nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Headers.Validate(); err != nil {
		return fmt.Errorf("headers configuration: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = defaultAdminAddress
	}

	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = defaultDataAddress
	}

	if c.AdminAddress == c.DataAddress {
		return fmt.Errorf("%w: admin_address and data_address must differ (both %q)", domain.ErrConfigInvalid, c.AdminAddress)
	}

	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "docmeter"
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("%w: invalid log level %q, supported levels: debug, info, warn, error", domain.ErrConfigInvalid, c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "json", "text":
		c.Format = format
		return nil
	default:
		return fmt.Errorf("%w: invalid log format %q, supported formats: json, text", domain.ErrConfigInvalid, c.Format)
	}
}

// Validate performs validation of header names
func (c *HeadersConfig) Validate() error {
	if strings.TrimSpace(c.SessionToken) == "" {
		c.SessionToken = metrics.HeaderSessionToken
	}
	if strings.TrimSpace(c.RequestCharge) == "" {
		c.RequestCharge = metrics.HeaderRequestCharge
	}
	if strings.EqualFold(c.SessionToken, c.RequestCharge) {
		return fmt.Errorf("%w: session_token and request_charge headers must differ", domain.ErrConfigInvalid)
	}
	return nil
}

// Validate performs validation of the backend section
func (c *BackendConfig) Validate() error {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}

	charges := map[string]float64{
		"read":           c.Charges.Read,
		"write":          c.Charges.Write,
		"delete":         c.Charges.Delete,
		"query_base":     c.Charges.QueryBase,
		"query_per_item": c.Charges.QueryPerItem,
		"procedure":      c.Charges.Procedure,
		"throttled":      c.Charges.Throttled,
		"failed":         c.Charges.Failed,
	}
	for name, value := range charges {
		if value < 0 {
			return fmt.Errorf("%w: charge %s must not be negative, got %v", domain.ErrConfigInvalid, name, value)
		}
	}

	for key, limit := range c.Limits {
		if limit.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: limit %q requests_per_second must be positive", domain.ErrConfigInvalid, key)
		}
		if limit.BurstSize < 0 {
			return fmt.Errorf("%w: limit %q burst must not be negative", domain.ErrConfigInvalid, key)
		}
	}

	return nil
}
