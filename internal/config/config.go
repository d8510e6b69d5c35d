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

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Upstream sentiment providers, tried in order. Empty entries are skipped.
	PrimaryProviderURL   string
	SecondaryProviderURL string
	ProviderTimeout      time.Duration

	// Rate limit applied to the shared upstream API resource.
	UpstreamRateLimit  int
	UpstreamRateWindow time.Duration

	// Cache snapshot written on shutdown and loaded on boot. Empty disables it.
	CacheSnapshotPath string

	Backup *BackupConfig
}

// BackupConfig holds S3/R2 backup settings. Disabled unless an endpoint,
// bucket and credentials are all present.
type BackupConfig struct {
	Enabled       bool
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check SENTIQ_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("SENTIQ_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("PORT", 8090),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		PrimaryProviderURL:   getEnv("SENTIMENT_PRIMARY_URL", "http://localhost:8000"),
		SecondaryProviderURL: getEnv("SENTIMENT_SECONDARY_URL", ""),
		ProviderTimeout:      time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		UpstreamRateLimit:    getEnvAsInt("UPSTREAM_RATE_LIMIT", 30),
		UpstreamRateWindow:   time.Duration(getEnvAsInt("UPSTREAM_RATE_WINDOW_SECONDS", 60)) * time.Second,
		CacheSnapshotPath:    getEnv("CACHE_SNAPSHOT_PATH", filepath.Join(absDataDir, "cache_snapshot.msgpack")),
		Backup:               loadBackupConfig(),
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
	if c.UpstreamRateLimit < 0 {
		return fmt.Errorf("invalid upstream rate limit: %d", c.UpstreamRateLimit)
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

// loadBackupConfig loads S3/R2 backup settings from the environment.
func loadBackupConfig() *BackupConfig {
	cfg := &BackupConfig{
		Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
		AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
	}
	cfg.Enabled = cfg.Endpoint != "" && cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != ""
	return cfg
}
