package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the peoplehub tenancy service.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Tenancy   TenancyConfig
	Trial     TrialConfig
	Reconcile ReconcileConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type LogConfig struct {
	Level    string
	Encoding string
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// RedisConfig points at the shared cache. An empty URL selects the in-process
// cache, which is only correct for a single instance.
type RedisConfig struct {
	URL string
}

// TenancyConfig tunes tenant resolution. A zero CacheTTL disables the tenant
// snapshot cache.
type TenancyConfig struct {
	CacheTTL      time.Duration
	LookupTimeout time.Duration
}

type TrialConfig struct {
	DefaultDays  int
	ReminderDays int
}

type ReconcileConfig struct {
	Schedule      string
	Concurrency   int
	TenantTimeout time.Duration
}

type NotifyConfig struct {
	QueueSize      int
	Workers        int
	WebhookURL     string
	WebhookTimeout time.Duration
	SMTP           SMTPConfig
	MailTo         string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var validDrivers = map[string]bool{
	DriverPostgres: true,
	DriverMemory:   true,
}

// Load reads configuration from the environment (and a .env file in the
// working directory, if any) and returns a validated Config.
func Load() (*Config, error) {
	// Real environment variables take precedence over .env entries.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PEOPLEHUB_PORT", 8080),
			Env:                envString("PEOPLEHUB_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Log: LogConfig{
			Level:    envString("LOG_LEVEL", "info"),
			Encoding: envString("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Driver:          envString("STORE_DRIVER", DriverPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  envString("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Tenancy: TenancyConfig{
			CacheTTL:      envDuration("TENANT_CACHE_TTL", 5*time.Second),
			LookupTimeout: envDuration("TENANT_LOOKUP_TIMEOUT", 5*time.Second),
		},
		Trial: TrialConfig{
			DefaultDays:  envInt("TRIAL_DEFAULT_DAYS", 14),
			ReminderDays: envInt("TRIAL_REMINDER_DAYS", 3),
		},
		Reconcile: ReconcileConfig{
			Schedule:      envString("RECONCILE_SCHEDULE", "@hourly"),
			Concurrency:   envInt("RECONCILE_CONCURRENCY", 8),
			TenantTimeout: envDuration("RECONCILE_TENANT_TIMEOUT", 10*time.Second),
		},
		Notify: NotifyConfig{
			QueueSize:      envInt("NOTIFY_QUEUE_SIZE", 256),
			Workers:        envInt("NOTIFY_WORKERS", 2),
			WebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
			WebhookTimeout: envDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second),
			SMTP: SMTPConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     envInt("SMTP_PORT", 587),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
				From:     os.Getenv("SMTP_FROM"),
			},
			MailTo: os.Getenv("NOTIFY_MAIL_TO"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("STORE_DRIVER must be one of postgres, memory; got %q", c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Tenancy.CacheTTL < 0 {
		return fmt.Errorf("TENANT_CACHE_TTL must not be negative, got %s", c.Tenancy.CacheTTL)
	}
	if c.Tenancy.LookupTimeout <= 0 {
		return fmt.Errorf("TENANT_LOOKUP_TIMEOUT must be positive, got %s", c.Tenancy.LookupTimeout)
	}

	if c.Trial.DefaultDays <= 0 {
		return fmt.Errorf("TRIAL_DEFAULT_DAYS must be positive, got %d", c.Trial.DefaultDays)
	}
	if c.Trial.ReminderDays < 0 {
		return fmt.Errorf("TRIAL_REMINDER_DAYS must not be negative, got %d", c.Trial.ReminderDays)
	}

	if strings.TrimSpace(c.Reconcile.Schedule) == "" {
		return fmt.Errorf("RECONCILE_SCHEDULE is required")
	}
	if c.Reconcile.Concurrency <= 0 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.Reconcile.Concurrency)
	}

	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL must start with http:// or https://, got %q", c.Notify.WebhookURL)
	}
	if c.Notify.SMTP.Host != "" {
		if c.Notify.SMTP.From == "" {
			return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
		}
		if c.Notify.MailTo == "" {
			return fmt.Errorf("NOTIFY_MAIL_TO is required when SMTP_HOST is set")
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
