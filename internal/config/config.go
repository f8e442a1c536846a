// Package config loads and validates the finsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// APIURL is the base URL of the aggregation API (e.g. "https://api.example.com").
	APIURL string `yaml:"api_url"`

	// APIToken is the bearer token sent with every API request.
	APIToken string `yaml:"api_token"`

	// DatabasePath is the SQLite file holding the local entity store.
	// Defaults to ~/.local/share/finsync/finsync.db.
	DatabasePath string `yaml:"database_path"`

	// TransactionPageSize is the number of transactions requested per page.
	// 1-500, defaults to 200.
	TransactionPageSize int `yaml:"transaction_page_size"`

	// MerchantBatchSize bounds both merchant pages and by-ID merchant
	// backfill requests. 1-500, defaults to 100.
	MerchantBatchSize int `yaml:"merchant_batch_size"`

	// MaxPages caps a single pagination walk. Defaults to 1000.
	MaxPages int `yaml:"max_pages"`

	// BackfillConcurrency bounds parallel per-ID backfill requests. Defaults to 4.
	BackfillConcurrency int `yaml:"backfill_concurrency"`

	// RequestTimeout bounds each HTTP request. Defaults to 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TransactionWindowDays is how far back a full sync fetches transactions.
	// Defaults to 90.
	TransactionWindowDays int `yaml:"transaction_window_days"`

	// PollInterval controls how often `finsync sync --watch` refreshes.
	// Minimum 1m, maximum 24h. Defaults to 15m.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "finsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

const maxBatch = 500

// DefaultPath returns the default config file path: ~/.config/finsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "finsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and fills in defaults.
func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
	}

	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if c.DatabasePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving default database_path: %w", err)
		}
		c.DatabasePath = filepath.Join(home, ".local", "share", "finsync", "finsync.db")
	}

	if c.TransactionPageSize == 0 {
		c.TransactionPageSize = 200
	}
	if c.TransactionPageSize < 1 || c.TransactionPageSize > maxBatch {
		return fmt.Errorf("transaction_page_size %d must be between 1 and %d", c.TransactionPageSize, maxBatch)
	}

	if c.MerchantBatchSize == 0 {
		c.MerchantBatchSize = 100
	}
	if c.MerchantBatchSize < 1 || c.MerchantBatchSize > maxBatch {
		return fmt.Errorf("merchant_batch_size %d must be between 1 and %d", c.MerchantBatchSize, maxBatch)
	}

	if c.MaxPages == 0 {
		c.MaxPages = 1000
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages %d must be positive", c.MaxPages)
	}

	if c.BackfillConcurrency == 0 {
		c.BackfillConcurrency = 4
	}
	if c.BackfillConcurrency < 1 {
		return fmt.Errorf("backfill_concurrency %d must be positive", c.BackfillConcurrency)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout %v is too short (minimum 1s)", c.RequestTimeout)
	}

	if c.TransactionWindowDays == 0 {
		c.TransactionWindowDays = 90
	}
	if c.TransactionWindowDays < 1 {
		return fmt.Errorf("transaction_window_days %d must be positive", c.TransactionWindowDays)
	}

	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
