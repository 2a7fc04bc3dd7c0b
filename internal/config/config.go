package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Backends accepted by DATA_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var validBackends = []string{BackendSQLite, BackendPostgres, BackendMemory}

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Backend selection
	DataBackend    string
	SQLiteDBPath   string
	DatabaseURL    string
	ClientSeedFile string

	// Client cache
	RedisAddr      string
	ClientCacheTTL time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger export
	GoogleSpreadsheetID string
	GoogleSheetName     string
	ReconcileInterval   time.Duration

	// OCR
	GeminiAPIKey        string
	GeminiModel         string
	AmountContextWindow int

	// Payments
	DefaultTargetAmount float64
	AdminUserID         string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend:    strings.ToLower(getEnv("DATA_BACKEND", BackendSQLite)),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/paytrack.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ClientSeedFile: getEnv("CLIENT_SEED_FILE", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		ClientCacheTTL: getEnvDuration("CLIENT_CACHE_TTL", 10*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "paytrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "payment_reviews"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 15*time.Minute),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		AmountContextWindow: getEnvInt("AMOUNT_CONTEXT_WINDOW", 12),

		DefaultTargetAmount: getEnvFloat("DEFAULT_TARGET_AMOUNT", 10000),
		AdminUserID:         getEnv("ADMIN_USER_ID", "admin"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks the settings the API server needs and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case BackendPostgres:
		// unset is tolerated: the store starts unavailable and says so
		if u, err := url.Parse(c.DatabaseURL); c.DatabaseURL != "" && (err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql")) {
			errs = append(errs, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	case BackendMemory:
		if c.ClientSeedFile != "" {
			if _, err := os.Stat(c.ClientSeedFile); err != nil {
				errs = append(errs, fmt.Sprintf("client seed file not readable: %s", c.ClientSeedFile))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.ClientCacheTTL <= 0 {
		errs = append(errs, fmt.Sprintf("invalid client cache TTL %v: must be positive", c.ClientCacheTTL))
	}
	if c.AmountContextWindow < 1 || c.AmountContextWindow > 200 {
		errs = append(errs, fmt.Sprintf("invalid amount context window %d: must be between 1 and 200", c.AmountContextWindow))
	}
	if c.DefaultTargetAmount < 0 {
		errs = append(errs, fmt.Sprintf("invalid default target amount %v: must not be negative", c.DefaultTargetAmount))
	}
	if strings.TrimSpace(c.AdminUserID) == "" {
		errs = append(errs, "ADMIN_USER_ID cannot be empty")
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	return joined(errs)
}

// ValidateWorker adds the ledger worker's requirements to Validate.
func (c *Config) ValidateWorker() error {
	var errs []string
	if err := c.Validate(); err != nil {
		errs = append(errs, strings.Split(strings.TrimPrefix(err.Error(), validationPrefix), "\n- ")...)
	}
	if c.AMQPURL == "" {
		errs = append(errs, "AMQP_URL is required for the ledger worker")
	}
	if c.GoogleSpreadsheetID == "" {
		errs = append(errs, "GOOGLE_SPREADSHEET_ID is required for the ledger worker")
	}
	if c.ReconcileInterval < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 minute", c.ReconcileInterval))
	}
	return joined(errs)
}

const validationPrefix = "configuration validation failed:\n- "

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s%s", validationPrefix, strings.Join(errs, "\n- "))
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
