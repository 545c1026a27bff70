// Package config provides configuration loading for the migrate worker.
// Values come from an optional YAML file, overridden by environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/migrate-core/internal/archive"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CachePostgres = "postgres"
	CacheSQLite   = "sqlite"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// Config holds all configuration for the migrate worker.
type Config struct {
	// Temporal settings
	TemporalAddress   string `yaml:"temporalAddress"`
	TemporalNamespace string `yaml:"temporalNamespace"`
	TemporalTaskQueue string `yaml:"temporalTaskQueue"`

	// Cache and state persistence
	CacheBackend string `yaml:"cacheBackend"`
	DatabaseURL  string `yaml:"databaseUrl"`
	SQLitePath   string `yaml:"sqlitePath"`

	// Source host settings
	SourceBaseURL   string  `yaml:"sourceBaseUrl"`
	SourceToken     string  `yaml:"sourceToken"`
	SourcePerPage   int     `yaml:"sourcePerPage"`
	SourceRateLimit float64 `yaml:"sourceRateLimit"`

	// Report archive
	ArchiveBackend string           `yaml:"archiveBackend"`
	ArchiveDir     string           `yaml:"archiveDir"`
	ArchivePrefix  string           `yaml:"archivePrefix"`
	ArchiveS3      archive.S3Config `yaml:"archiveS3"`

	// TTLs
	CacheTTLHours   int `yaml:"cacheTtlHours"`
	StateTTLMinutes int `yaml:"stateTtlMinutes"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent), then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.TemporalAddress = getEnv("TEMPORAL_ADDRESS", c.TemporalAddress)
	c.TemporalNamespace = getEnv("TEMPORAL_NAMESPACE", c.TemporalNamespace)
	c.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", c.TemporalTaskQueue)

	c.CacheBackend = getEnv("MIGRATE_CACHE_BACKEND", c.CacheBackend)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("MIGRATE_SQLITE_PATH", c.SQLitePath)

	c.SourceBaseURL = getEnv("MIGRATE_SOURCE_URL", c.SourceBaseURL)
	c.SourceToken = getEnv("MIGRATE_SOURCE_TOKEN", c.SourceToken)
	c.SourcePerPage = getEnvInt("MIGRATE_SOURCE_PER_PAGE", c.SourcePerPage)

	c.ArchiveBackend = getEnv("MIGRATE_ARCHIVE_BACKEND", c.ArchiveBackend)
	c.ArchiveDir = getEnv("MIGRATE_ARCHIVE_DIR", c.ArchiveDir)
	c.ArchivePrefix = getEnv("MIGRATE_ARCHIVE_PREFIX", c.ArchivePrefix)
	c.ArchiveS3.EndpointURL = getEnv("MIGRATE_S3_ENDPOINT", c.ArchiveS3.EndpointURL)
	c.ArchiveS3.AccessKeyID = getEnv("MIGRATE_S3_ACCESS_KEY", c.ArchiveS3.AccessKeyID)
	c.ArchiveS3.SecretAccessKey = getEnv("MIGRATE_S3_SECRET_KEY", c.ArchiveS3.SecretAccessKey)
	c.ArchiveS3.Bucket = getEnv("MIGRATE_S3_BUCKET", c.ArchiveS3.Bucket)
	c.ArchiveS3.Region = getEnv("MIGRATE_S3_REGION", c.ArchiveS3.Region)

	c.CacheTTLHours = getEnvInt("MIGRATE_CACHE_TTL_HOURS", c.CacheTTLHours)
	c.StateTTLMinutes = getEnvInt("MIGRATE_STATE_TTL_MINUTES", c.StateTTLMinutes)
}

func (c *Config) applyDefaults() {
	if c.TemporalAddress == "" {
		c.TemporalAddress = "localhost:7233"
	}
	if c.TemporalNamespace == "" {
		c.TemporalNamespace = "default"
	}
	if c.TemporalTaskQueue == "" {
		c.TemporalTaskQueue = "migrate"
	}
	if c.CacheBackend == "" {
		c.CacheBackend = CacheMemory
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "migrate.db"
	}
	if c.SourcePerPage <= 0 {
		c.SourcePerPage = 50
	}
	if c.ArchiveBackend == "" {
		c.ArchiveBackend = ArchiveNone
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "reports"
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "reports"
	}
	if c.CacheTTLHours <= 0 {
		c.CacheTTLHours = 24
	}
	if c.StateTTLMinutes <= 0 {
		c.StateTTLMinutes = 15
	}
}

// CacheTTL returns the idempotency-cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// StateTTL returns the import-state liveness window as a duration.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
