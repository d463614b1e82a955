// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Accounting modes understood by the valuation engine.
const (
	AccountingCashFlow    = "cashflow"
	AccountingAverageCost = "average_cost"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Provider ProviderConfig
	Refresh  RefreshConfig
	Ledger   LedgerConfig
	Backup   *BackupConfig // nil when backups are not configured
}

// ProviderConfig holds market-data provider settings
type ProviderConfig struct {
	BaseURL           string
	APIKey            string // Optional demo/pro key sent as x-cg-demo-api-key
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	RequestsPerMinute int
	CacheTTL          time.Duration // TTL for non-price responses (search, history)
}

// RefreshConfig holds background job schedules
type RefreshConfig struct {
	Schedule            string // cron spec for the price refresh job
	CleanupSchedule     string
	MaintenanceSchedule string
}

// LedgerConfig holds accounting policy switches
type LedgerConfig struct {
	AccountingMode string
	RejectOversell bool
}

// BackupConfig holds S3-compatible backup settings (Cloudflare R2, AWS S3, MinIO)
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Schedule        string
	RetentionDays   int // 0 keeps every backup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Provider: ProviderConfig{
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			Timeout:           getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			MaxAttempts:       getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 5),
			BackoffBase:       getEnvAsDuration("PROVIDER_BACKOFF_BASE", time.Second),
			RequestsPerMinute: getEnvAsInt("PROVIDER_REQUESTS_PER_MINUTE", 30),
			CacheTTL:          getEnvAsDuration("PROVIDER_CACHE_TTL", 10*time.Minute),
		},
		Refresh: RefreshConfig{
			Schedule:            getEnv("REFRESH_SCHEDULE", "@every 10m"),
			CleanupSchedule:     getEnv("CACHE_CLEANUP_SCHEDULE", "@hourly"),
			MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "@weekly"),
		},
		Ledger: LedgerConfig{
			AccountingMode: getEnv("ACCOUNTING_MODE", AccountingCashFlow),
			RejectOversell: getEnvAsBool("REJECT_OVERSELL", false),
		},
		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("COINGECKO_BASE_URL must not be empty")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Provider.RequestsPerMinute < 1 {
		return fmt.Errorf("PROVIDER_REQUESTS_PER_MINUTE must be at least 1")
	}
	switch c.Ledger.AccountingMode {
	case AccountingCashFlow, AccountingAverageCost:
	default:
		return fmt.Errorf("unknown ACCOUNTING_MODE %q (want %s or %s)",
			c.Ledger.AccountingMode, AccountingCashFlow, AccountingAverageCost)
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

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

// loadBackupConfig returns nil unless a bucket is configured
func loadBackupConfig() *BackupConfig {
	bucket := getEnv("BACKUP_BUCKET", "")
	if bucket == "" {
		return nil
	}
	return &BackupConfig{
		Bucket:          bucket,
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "cryptofolio"),
		Schedule:        getEnv("BACKUP_SCHEDULE", "@daily"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}
