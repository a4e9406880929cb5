package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the bookshelf API.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	Environment    string   `mapstructure:"environment"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// IsProduction reports whether the server runs in a production environment.
func (c ServerConfig) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string       `mapstructure:"driver"`
	Path            string       `mapstructure:"path"`
	DSN             string       `mapstructure:"dsn"`
	ConnectAttempts uint         `mapstructure:"connect_attempts"`
	Postgres        DBAuthConfig `mapstructure:"postgres"`
	MySQL           DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	Session   SessionSettings   `mapstructure:"session"`
	Cookie    CookieSettings    `mapstructure:"cookie"`
	Tokens    TokenSettings     `mapstructure:"tokens"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

// SessionSettings configures session lifetime and transport.
type SessionSettings struct {
	TTL                   time.Duration `mapstructure:"ttl"`
	TokenBytes            int           `mapstructure:"token_bytes"`
	Transport             string        `mapstructure:"transport"`
	SuspiciousIPThreshold int           `mapstructure:"suspicious_ip_threshold"`
}

// CookieSettings configures the session cookie carrier.
type CookieSettings struct {
	Name   string `mapstructure:"name"`
	Secret string `mapstructure:"secret"`
	Domain string `mapstructure:"domain"`
	Secure bool   `mapstructure:"secure"`
}

// TokenSettings configures one-time email tokens.
type TokenSettings struct {
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl"`
}

// RateLimitSettings holds the fixed-window policies applied to auth routes.
type RateLimitSettings struct {
	Auth          RateWindow `mapstructure:"auth"`
	Email         RateWindow `mapstructure:"email"`
	PasswordReset RateWindow `mapstructure:"password_reset"`
}

// RateWindow allows Limit requests per Window.
type RateWindow struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	Driver   string         `mapstructure:"driver"`
	From     string         `mapstructure:"from"`
	BaseURL  string         `mapstructure:"base_url"`
	AppName  string         `mapstructure:"app_name"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Postmark PostmarkConfig `mapstructure:"postmark"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PostmarkConfig holds Postmark API credentials.
type PostmarkConfig struct {
	ServerToken   string `mapstructure:"server_token"`
	AccountToken  string `mapstructure:"account_token"`
	MessageStream string `mapstructure:"message_stream"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	SessionSchedule    string `mapstructure:"session_schedule"`
	TokenSchedule      string `mapstructure:"token_schedule"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults. A .env file in the working directory or any of paths is loaded
// into the process environment first; variables already set win.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(paths...); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("BOOKSHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func loadDotEnv(paths ...string) error {
	candidates := []string{".env"}
	for _, path := range paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}

	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/bookshelf.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.session.ttl", "720h") // 30 days
	v.SetDefault("auth.session.token_bytes", 32)
	v.SetDefault("auth.session.transport", "cookie")
	v.SetDefault("auth.session.suspicious_ip_threshold", 5)
	v.SetDefault("auth.cookie.name", "auth_session")
	v.SetDefault("auth.cookie.secret", "")
	v.SetDefault("auth.cookie.domain", "")
	v.SetDefault("auth.cookie.secure", false)
	v.SetDefault("auth.tokens.verification_ttl", "24h")
	v.SetDefault("auth.tokens.reset_ttl", "1h")
	v.SetDefault("auth.rate_limit.auth.limit", 5)
	v.SetDefault("auth.rate_limit.auth.window", "1m")
	v.SetDefault("auth.rate_limit.email.limit", 3)
	v.SetDefault("auth.rate_limit.email.window", "10m")
	v.SetDefault("auth.rate_limit.password_reset.limit", 3)
	v.SetDefault("auth.rate_limit.password_reset.window", "1h")

	v.SetDefault("email.driver", "log")
	v.SetDefault("email.from", "Bookshelf <no-reply@bookshelf.local>")
	v.SetDefault("email.base_url", "http://localhost:8000")
	v.SetDefault("email.app_name", "Bookshelf")
	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.postmark.server_token", "")
	v.SetDefault("email.postmark.account_token", "")
	v.SetDefault("email.postmark.message_stream", "outbound")

	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.token_schedule", "@daily")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.audit_retention_days", 90)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
