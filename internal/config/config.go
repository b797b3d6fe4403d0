// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Email       EmailConfig
	I18n        I18nConfig
	Log         LogConfig
	License     LicenseConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int

	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string
}

type DatabaseConfig struct {
	Dialect      string // postgres or sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	ExportPrefix    string
	LocalExportDir  string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
	AdminEmail   string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

type LogConfig struct {
	Level  string
	Format string
}

// LicenseConfig holds the tunables of the licensing engine.
type LicenseConfig struct {
	KeyGenerationAttempts int
	MaxBulkCount          int
	BulkWorkers           int
	LastCheckAsync        bool
	LastCheckQueueSize    int
	StoreRetryAttempts    int
	StoreRetryInitial     time.Duration
	StoreRetryMax         time.Duration
	LockTTL               time.Duration
	RequestTimeout        time.Duration
	AnalyticsHistoryLimit int
	PublicRateLimit       float64
	PublicRateBurst       int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			TrustedProxies: getEnvAsSlice("SERVER_TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			Dialect:      getEnv("DB_DIALECT", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "licensing"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "licensing.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Issuer:    getEnv("JWT_ISSUER", "license-backend"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "license-exports"),
			ExportPrefix:    getEnv("AWS_EXPORT_PREFIX", "bulk-exports"),
			LocalExportDir:  getEnv("LOCAL_EXPORT_DIR", "./exports"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@licensing.local"),
			FromName:     getEnv("FROM_NAME", "License Manager"),
			AdminEmail:   getEnv("ADMIN_EMAIL", ""),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		License: LicenseConfig{
			KeyGenerationAttempts: getEnvAsInt("LICENSE_KEY_ATTEMPTS", 5),
			MaxBulkCount:          getEnvAsInt("LICENSE_MAX_BULK_COUNT", 1000),
			BulkWorkers:           getEnvAsInt("LICENSE_BULK_WORKERS", 8),
			LastCheckAsync:        getEnvAsBool("LICENSE_LAST_CHECK_ASYNC", true),
			LastCheckQueueSize:    getEnvAsInt("LICENSE_LAST_CHECK_QUEUE", 1024),
			StoreRetryAttempts:    getEnvAsInt("LICENSE_STORE_RETRY_ATTEMPTS", 3),
			StoreRetryInitial:     getEnvAsDuration("LICENSE_STORE_RETRY_INITIAL", 50*time.Millisecond),
			StoreRetryMax:         getEnvAsDuration("LICENSE_STORE_RETRY_MAX", time.Second),
			LockTTL:               getEnvAsDuration("LICENSE_LOCK_TTL", 5*time.Second),
			RequestTimeout:        getEnvAsDuration("LICENSE_REQUEST_TIMEOUT", 10*time.Second),
			AnalyticsHistoryLimit: getEnvAsInt("LICENSE_ANALYTICS_HISTORY", 100),
			PublicRateLimit:       getEnvAsFloat("LICENSE_PUBLIC_RATE", 20),
			PublicRateBurst:       getEnvAsInt("LICENSE_PUBLIC_BURST", 40),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" && c.Database.Dialect == "postgres" {
		return fmt.Errorf("database password is required in production")
	}

	switch strings.ToLower(c.Database.Dialect) {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported database dialect %q", c.Database.Dialect)
	}

	if c.License.KeyGenerationAttempts < 1 {
		return fmt.Errorf("LICENSE_KEY_ATTEMPTS must be at least 1")
	}

	if c.License.MaxBulkCount < 1 || c.License.MaxBulkCount > 1000 {
		return fmt.Errorf("LICENSE_MAX_BULK_COUNT must be between 1 and 1000")
	}

	if c.License.BulkWorkers < 1 {
		c.License.BulkWorkers = 1
	}

	if c.License.StoreRetryAttempts < 1 {
		c.License.StoreRetryAttempts = 1
	}

	if c.License.PublicRateLimit <= 0 || c.License.PublicRateBurst < 1 {
		return fmt.Errorf("LICENSE_PUBLIC_RATE and LICENSE_PUBLIC_BURST must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
