package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the coupon assignment service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig holds HTTP server configuration for the webhook endpoint.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, honoring container environments.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for task scheduling and locking.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// SheetsConfig holds Google Sheets/Drive API settings.
type SheetsConfig struct {
	BaseURL        string `yaml:"base_url"`
	DriveBaseURL   string `yaml:"drive_base_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RefreshToken   string `yaml:"refresh_token"`
	TokenURL       string `yaml:"token_url"`
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Watch renewal policy: bounded retry with a short fixed backoff,
	// plus a floor on how often a channel may be renewed.
	WatchRetries           int `yaml:"watch_retries"`
	WatchBackoffSeconds    int `yaml:"watch_backoff_seconds"`
	WatchExpirationDays    int `yaml:"watch_expiration_days"`
	WatchRenewalFloorHours int `yaml:"watch_renewal_floor_hours"`
}

// Timeout returns the configured timeout as a duration.
func (c SheetsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WatchBackoff returns the fixed backoff between watch-renewal retries.
func (c SheetsConfig) WatchBackoff() time.Duration {
	return time.Duration(c.WatchBackoffSeconds) * time.Second
}

// RenewalFloor returns the minimum interval between renewals of one channel.
func (c SheetsConfig) RenewalFloor() time.Duration {
	return time.Duration(c.WatchRenewalFloorHours) * time.Hour
}

// MailgunConfig holds Mailgun API settings for both sending enrollment
// notifications and querying the delivery-event log.
type MailgunConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Domain         string `yaml:"domain"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReconcileConfig holds reconciliation-pass tuning.
type ReconcileConfig struct {
	// GracePeriodMinutes is how old an assignment must be before a row
	// with no delivery evidence is flagged as never-notified.
	GracePeriodMinutes int `yaml:"grace_period_minutes"`
	// DebounceSeconds is the quiet period after a sheet-change webhook
	// before a reconciliation pass runs.
	DebounceSeconds int `yaml:"debounce_seconds"`
	// PollSeconds is how often the worker checks for due tasks.
	PollSeconds int `yaml:"poll_seconds"`
	// LockTTLMinutes bounds how long one pass may hold the batch lock.
	LockTTLMinutes int `yaml:"lock_ttl_minutes"`
}

// GracePeriod returns the never-notified grace period as a duration.
func (c ReconcileConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

// Debounce returns the webhook debounce delay as a duration.
func (c ReconcileConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// PollInterval returns the worker poll interval as a duration.
func (c ReconcileConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// LockTTL returns the batch lock TTL as a duration.
func (c ReconcileConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Sheets.BaseURL == "" {
		cfg.Sheets.BaseURL = "https://sheets.googleapis.com"
	}
	if cfg.Sheets.DriveBaseURL == "" {
		cfg.Sheets.DriveBaseURL = "https://www.googleapis.com/drive/v3"
	}
	if cfg.Sheets.TokenURL == "" {
		cfg.Sheets.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.Sheets.TimeoutSeconds == 0 {
		cfg.Sheets.TimeoutSeconds = 30
	}
	if cfg.Sheets.WatchRetries == 0 {
		cfg.Sheets.WatchRetries = 3
	}
	if cfg.Sheets.WatchBackoffSeconds == 0 {
		cfg.Sheets.WatchBackoffSeconds = 2
	}
	if cfg.Sheets.WatchExpirationDays == 0 {
		cfg.Sheets.WatchExpirationDays = 7
	}
	if cfg.Sheets.WatchRenewalFloorHours == 0 {
		cfg.Sheets.WatchRenewalFloorHours = 1
	}
	if cfg.Mailgun.BaseURL == "" {
		cfg.Mailgun.BaseURL = "https://api.mailgun.net"
	}
	if cfg.Mailgun.TimeoutSeconds == 0 {
		cfg.Mailgun.TimeoutSeconds = 30
	}
	if cfg.Reconcile.GracePeriodMinutes == 0 {
		cfg.Reconcile.GracePeriodMinutes = 60
	}
	if cfg.Reconcile.DebounceSeconds == 0 {
		cfg.Reconcile.DebounceSeconds = 30
	}
	if cfg.Reconcile.PollSeconds == 0 {
		cfg.Reconcile.PollSeconds = 5
	}
	if cfg.Reconcile.LockTTLMinutes == 0 {
		cfg.Reconcile.LockTTLMinutes = 10
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_BASE_URL"); v != "" {
		cfg.Mailgun.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("SHEETS_CLIENT_ID"); v != "" {
		cfg.Sheets.ClientID = v
	}
	if v := os.Getenv("SHEETS_CLIENT_SECRET"); v != "" {
		cfg.Sheets.ClientSecret = v
	}
	if v := os.Getenv("SHEETS_REFRESH_TOKEN"); v != "" {
		cfg.Sheets.RefreshToken = v
	}
	if v := os.Getenv("SHEETS_WEBHOOK_URL"); v != "" {
		cfg.Sheets.WebhookURL = v
	}
	if v := os.Getenv("RECONCILE_GRACE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reconcile.GracePeriodMinutes = n
		}
	}

	return cfg, nil
}
