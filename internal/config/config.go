package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Zoom        ZoomConfig        `yaml:"zoom"`
	Mail        MailConfig        `yaml:"mail"`
	IdP         IdPConfig         `yaml:"idp"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Commission  CommissionConfig  `yaml:"commission"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	RootURL        string   `yaml:"root_url"` // public URL of the web app, used for redirects
	AllowedOrigins []string `yaml:"allowed_origins"`
	SecureCookies  bool     `yaml:"secure_cookies"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Redact *bool  `yaml:"redact"`
}

// RedactEnabled defaults to true when unset.
func (c LogConfig) RedactEnabled() bool {
	return c.Redact == nil || *c.Redact
}

// MarketplaceConfig holds the hosted marketplace API credentials.
type MarketplaceConfig struct {
	BaseURL        string `yaml:"base_url"`
	AuthBaseURL    string `yaml:"auth_base_url"`
	ConsoleURL     string `yaml:"console_url"` // operator console, used by login-as
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	Currency       string `yaml:"currency"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c MarketplaceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TokenCookieName is the cookie the web app stores the user token in.
func (c MarketplaceConfig) TokenCookieName() string {
	return "st-" + c.ClientID + "-token"
}

// ZoomConfig holds Zoom OAuth app credentials and API endpoints.
type ZoomConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RedirectURL    string `yaml:"redirect_url"`
	OAuthBaseURL   string `yaml:"oauth_base_url"`
	APIBaseURL     string `yaml:"api_base_url"`
	MeetingTopic   string `yaml:"meeting_topic"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ZoomConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailConfig holds AWS SES settings for transactional email.
type MailConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	FromEmail     string `yaml:"from_email"`
	FromName      string `yaml:"from_name"`
	ArchiveBucket string `yaml:"archive_bucket"` // empty disables S3 archiving
	TimeZone      string `yaml:"time_zone"`
}

// IdPConfig holds identity provider app credentials.
type IdPConfig struct {
	FacebookAppID      string `yaml:"facebook_app_id"`
	FacebookAppSecret  string `yaml:"facebook_app_secret"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	CallbackBaseURL    string `yaml:"callback_base_url"`
}

// FacebookEnabled reports whether Facebook login is configured.
func (c IdPConfig) FacebookEnabled() bool {
	return c.FacebookAppID != "" && c.FacebookAppSecret != ""
}

// GoogleEnabled reports whether Google login is configured.
func (c IdPConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// StorageConfig selects the meeting ledger backend.
type StorageConfig struct {
	Type          string `yaml:"type"` // "memory", "postgres" or "dynamodb"
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"`
}

// RedisConfig holds the Redis connection used for distributed locks.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lock TTL as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// CommissionConfig holds marketplace fees applied to line items.
type CommissionConfig struct {
	ProviderPercent float64 `yaml:"provider_percent"` // negative, e.g. -10
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3500
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.RootURL == "" {
		cfg.Server.RootURL = "http://localhost:3000"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{cfg.Server.RootURL}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Marketplace.BaseURL == "" {
		cfg.Marketplace.BaseURL = "https://flex-api.sharetribe.com"
	}
	if cfg.Marketplace.AuthBaseURL == "" {
		cfg.Marketplace.AuthBaseURL = "https://flex-api.sharetribe.com/v1/auth"
	}
	if cfg.Marketplace.ConsoleURL == "" {
		cfg.Marketplace.ConsoleURL = "https://flex-console.sharetribe.com"
	}
	if cfg.Marketplace.Currency == "" {
		cfg.Marketplace.Currency = "USD"
	}
	if cfg.Marketplace.TimeoutSeconds == 0 {
		cfg.Marketplace.TimeoutSeconds = 30
	}
	if cfg.Marketplace.MaxRetries == 0 {
		cfg.Marketplace.MaxRetries = 2
	}
	if cfg.Zoom.OAuthBaseURL == "" {
		cfg.Zoom.OAuthBaseURL = "https://zoom.us"
	}
	if cfg.Zoom.APIBaseURL == "" {
		cfg.Zoom.APIBaseURL = "https://api.zoom.us/v2"
	}
	if cfg.Zoom.MeetingTopic == "" {
		cfg.Zoom.MeetingTopic = "Appointment"
	}
	if cfg.Zoom.TimeoutSeconds == 0 {
		cfg.Zoom.TimeoutSeconds = 30
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "us-east-1"
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "Appointments"
	}
	if cfg.Mail.TimeZone == "" {
		cfg.Mail.TimeZone = "UTC"
	}
	if cfg.IdP.CallbackBaseURL == "" {
		cfg.IdP.CallbackBaseURL = cfg.Server.RootURL
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 60
	}
	if cfg.Commission.ProviderPercent == 0 {
		cfg.Commission.ProviderPercent = -10
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ROOT_URL"); v != "" {
		cfg.Server.RootURL = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Marketplace
	if v := os.Getenv("MARKETPLACE_CLIENT_ID"); v != "" {
		cfg.Marketplace.ClientID = v
	}
	if v := os.Getenv("MARKETPLACE_CLIENT_SECRET"); v != "" {
		cfg.Marketplace.ClientSecret = v
	}
	if v := os.Getenv("MARKETPLACE_BASE_URL"); v != "" {
		cfg.Marketplace.BaseURL = v
	}
	if v := os.Getenv("MARKETPLACE_CURRENCY"); v != "" {
		cfg.Marketplace.Currency = v
	}

	// Zoom
	if v := os.Getenv("ZOOM_CLIENT_ID"); v != "" {
		cfg.Zoom.ClientID = v
	}
	if v := os.Getenv("ZOOM_CLIENT_SECRET"); v != "" {
		cfg.Zoom.ClientSecret = v
	}
	if v := os.Getenv("ZOOM_REDIRECT_URL"); v != "" {
		cfg.Zoom.RedirectURL = v
	}

	// Mail
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.Region = v
	}
	if v := os.Getenv("MAIL_FROM_EMAIL"); v != "" {
		cfg.Mail.FromEmail = v
		cfg.Mail.Enabled = true
	}

	// Identity providers
	if v := os.Getenv("FACEBOOK_APP_ID"); v != "" {
		cfg.IdP.FacebookAppID = v
	}
	if v := os.Getenv("FACEBOOK_APP_SECRET"); v != "" {
		cfg.IdP.FacebookAppSecret = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.IdP.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.IdP.GoogleClientSecret = v
	}

	// Storage and locking
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
		if cfg.Storage.Type == "memory" {
			cfg.Storage.Type = "postgres"
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	return cfg, nil
}
