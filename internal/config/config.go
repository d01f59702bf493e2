package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Record and directory backends.
const (
	BackendSQL            = "sql"
	BackendFile           = "file"
	BackendRoute53        = "route53"
	BackendCloudFormation = "cloudformation"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Backend  BackendConfig
	Traffic  TrafficConfig
	Auth     AuthConfig
	OIDC     OIDCConfig
	Log      LogConfig
	Client   ClientConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/traffic.db"`
}

// BackendConfig selects where versions are discovered and where weighted records live.
type BackendConfig struct {
	Records      string        `env:"RECORD_BACKEND" envDefault:"sql"`
	Directory    string        `env:"DIRECTORY_BACKEND" envDefault:"sql"`
	AWSRegion    string        `env:"AWS_REGION"`
	HostedZoneID string        `env:"HOSTED_ZONE_ID"`
	ZoneFile     string        `env:"ZONE_FILE"`
	Inventory    string        `env:"INVENTORY_FILE"`
	Route53Wait  time.Duration `env:"ROUTE53_WAIT" envDefault:"0s"` // 0 disables waiting for INSYNC
}

// TrafficConfig holds rebalancing behavior.
type TrafficConfig struct {
	Strategy          string        `env:"TRAFFIC_STRATEGY" envDefault:"proportional"`
	OptimisticLocking bool          `env:"OPTIMISTIC_LOCKING" envDefault:"true"`
	OptimisticRetries int           `env:"OPTIMISTIC_RETRIES" envDefault:"3"`
	RetryInterval     time.Duration `env:"RETRY_INTERVAL" envDefault:"500ms"`
	RecordType        string        `env:"RECORD_TYPE" envDefault:"CNAME"`
	RecordTTL         int64         `env:"RECORD_TTL" envDefault:"20"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// OIDCConfig holds OIDC bearer token configuration.
type OIDCConfig struct {
	Enabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL      string `env:"OIDC_ISSUER_URL"`
	ClientID       string `env:"OIDC_CLIENT_ID"`
	AllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.AllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// ClientConfig holds the settings the CLI uses to reach a remote traffic server.
// When ServerURL is empty the CLI talks to the backends directly.
type ClientConfig struct {
	ServerURL    string `env:"TRAFFIC_SERVER_URL"`
	APIKey       string `env:"TRAFFIC_API_KEY"`
	ClientID     string `env:"TRAFFIC_CLIENT_ID"`
	ClientSecret string `env:"TRAFFIC_CLIENT_SECRET"`
	TokenURL     string `env:"TRAFFIC_TOKEN_URL"`
	Scopes       string `env:"TRAFFIC_SCOPES"`
}

// GetScopes returns the OAuth2 scopes as a slice.
func (c *ClientConfig) GetScopes() []string {
	if c.Scopes == "" {
		return nil
	}
	return strings.Split(c.Scopes, ",")
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Backend); err != nil {
		return nil, fmt.Errorf("parsing backend config: %w", err)
	}
	if err := env.Parse(&cfg.Traffic); err != nil {
		return nil, fmt.Errorf("parsing traffic config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}
	if err := env.Parse(&cfg.Client); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Records {
	case BackendSQL, BackendRoute53:
	case BackendFile:
		if c.Backend.ZoneFile == "" {
			return fmt.Errorf("ZONE_FILE is required when RECORD_BACKEND=file")
		}
	default:
		return fmt.Errorf("RECORD_BACKEND must be one of sql, route53, file (got %q)", c.Backend.Records)
	}

	switch c.Backend.Directory {
	case BackendSQL, BackendCloudFormation:
	case BackendFile:
		if c.Backend.Inventory == "" {
			return fmt.Errorf("INVENTORY_FILE is required when DIRECTORY_BACKEND=file")
		}
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be one of sql, cloudformation, file (got %q)", c.Backend.Directory)
	}

	switch c.Traffic.Strategy {
	case "compensating", "proportional":
	default:
		return fmt.Errorf("TRAFFIC_STRATEGY must be compensating or proportional (got %q)", c.Traffic.Strategy)
	}
	if c.Traffic.OptimisticRetries < 0 {
		return fmt.Errorf("OPTIMISTIC_RETRIES must not be negative")
	}
	if c.Traffic.RecordTTL <= 0 {
		return fmt.Errorf("RECORD_TTL must be positive")
	}

	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
	}

	if c.Client.ClientID != "" && (c.Client.ClientSecret == "" || c.Client.TokenURL == "") {
		return fmt.Errorf("TRAFFIC_CLIENT_SECRET and TRAFFIC_TOKEN_URL are required with TRAFFIC_CLIENT_ID")
	}

	return nil
}

// NeedsDatabase reports whether any backend is served by the SQL database.
func (c *Config) NeedsDatabase() bool {
	return c.Backend.Records == BackendSQL || c.Backend.Directory == BackendSQL
}

// NeedsAWS reports whether any backend talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Backend.Records == BackendRoute53 || c.Backend.Directory == BackendCloudFormation
}
