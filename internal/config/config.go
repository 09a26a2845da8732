package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultCookieClearPrefixes lists the cookie name prefixes cleared by session recovery.
var DefaultCookieClearPrefixes = []string{
	"orema_",
	"authjs.",
	"__Secure-authjs.",
	"next-auth.",
	"__Secure-next-auth.",
}

// Config holds all application configuration
type Config struct {
	Env       string `validate:"oneof=development staging production test"`
	Server    ServerConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Cookie    CookieConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Events    EventsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `validate:"required"`
	Port string `validate:"required,numeric"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	Secret     string        `validate:"required,min=32"`
	TTL        time.Duration `validate:"gt=0"`
	PinTTL     time.Duration `validate:"gt=0"`
	Issuer     string
	RecoverURL string `validate:"required"`
}

// CookieConfig holds session cookie attributes
type CookieConfig struct {
	Secure        bool
	Domain        string
	ClearPrefixes []string `validate:"dive,required"`
}

// LockoutPolicyConfig bounds failed attempts for one credential kind
type LockoutPolicyConfig struct {
	MaxAttempts int           `validate:"min=1"`
	Window      time.Duration `validate:"gt=0"`
	Duration    time.Duration `validate:"gt=0"`
}

// LockoutConfig holds the password and PIN lockout policies
type LockoutConfig struct {
	Password      LockoutPolicyConfig
	PIN           LockoutPolicyConfig
	SweepInterval time.Duration `validate:"gt=0"`
}

// RateLimitConfig holds rate limiter store settings
type RateLimitConfig struct {
	SweepInterval time.Duration `validate:"gt=0"`
}

// RedisConfig selects the shared stores. An empty URL keeps state in memory.
type RedisConfig struct {
	URL string `validate:"omitempty,url"`
}

// CORSConfig holds allowed origins for the POS front-end
type CORSConfig struct {
	AllowedOrigins []string `validate:"min=1,dive,required"`
}

// EventsConfig sizes the security event buffer and the admin event stream
type EventsConfig struct {
	BufferSize int           `validate:"min=1"`
	Retention  time.Duration `validate:"gt=0"`

	StreamHeartbeat    time.Duration `validate:"gt=0"`
	StreamTimeout      time.Duration `validate:"gt=0"`
	StreamMaxPerTenant int           `validate:"min=1"`
}

// Load reads configuration from the environment, after loading an optional
// .env file, and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables without validating it.
func FromEnv() *Config {
	env := getEnv("APP_ENV", "development")

	return &Config{
		Env: env,
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "orema_pos"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			TTL:        getDurationEnv("SESSION_TTL", 24*time.Hour),
			PinTTL:     getDurationEnv("PIN_SESSION_TTL", 12*time.Hour),
			Issuer:     getEnv("SESSION_ISSUER", "orema-pos"),
			RecoverURL: getEnv("SESSION_RECOVER_REDIRECT", "/login"),
		},
		Cookie: CookieConfig{
			Secure:        getBoolEnv("COOKIE_SECURE", env == "production"),
			Domain:        getEnv("COOKIE_DOMAIN", ""),
			ClearPrefixes: getListEnv("COOKIE_CLEAR_PREFIXES", DefaultCookieClearPrefixes),
		},
		Lockout: LockoutConfig{
			Password: LockoutPolicyConfig{
				MaxAttempts: getIntEnv("LOCKOUT_PASSWORD_MAX_ATTEMPTS", 5),
				Window:      getDurationEnv("LOCKOUT_PASSWORD_WINDOW", 15*time.Minute),
				Duration:    getDurationEnv("LOCKOUT_PASSWORD_DURATION", 15*time.Minute),
			},
			PIN: LockoutPolicyConfig{
				MaxAttempts: getIntEnv("LOCKOUT_PIN_MAX_ATTEMPTS", 3),
				Window:      getDurationEnv("LOCKOUT_PIN_WINDOW", 5*time.Minute),
				Duration:    getDurationEnv("LOCKOUT_PIN_DURATION", 5*time.Minute),
			},
			SweepInterval: getDurationEnv("LOCKOUT_SWEEP_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			SweepInterval: getDurationEnv("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Events: EventsConfig{
			BufferSize: getIntEnv("SECURITY_EVENT_BUFFER", 1000),
			Retention:  getDurationEnv("SECURITY_EVENT_RETENTION", 24*time.Hour),

			StreamHeartbeat:    getDurationEnv("EVENT_STREAM_HEARTBEAT", 30*time.Second),
			StreamTimeout:      getDurationEnv("EVENT_STREAM_TIMEOUT", time.Hour),
			StreamMaxPerTenant: getIntEnv("EVENT_STREAM_MAX_PER_TENANT", 5),
		},
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by migrations
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("15m", "24h") or a bare number of minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
