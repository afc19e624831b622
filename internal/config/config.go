// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// database
	DatabaseURL string

	// nats
	NatsURL string

	// telegram
	TGApiID   int
	TGApiHash string

	// session files and retry snapshots live here
	DataDir string

	// media pipeline
	DownloadDir     string
	ArchiveDir      string
	RemoteDir       string // optional mounted remote archive root
	DownloadWorkers int
	QueueCapacity   int
	MaxRetries      int
	StorageMaxGB    int // 0 disables the storage usage guard

	// retry queue
	RetryWorkers          int
	RetrySnapshotPath     string
	RetrySnapshotInterval time.Duration

	// forward pipeline
	Timezone string

	// optional declarative seed for accounts and rules
	SeedFile string

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:           getEnv("DATABASE_URL", "file:bridge.db"),
		NatsURL:               getEnv("NATS_URL", ""),
		TGApiHash:             getEnv("TG_API_HASH", ""),
		TGApiID:               getEnvInt("TG_API_ID", 0),
		DataDir:               getEnv("DATA_DIR", "./data"),
		DownloadDir:           getEnv("DOWNLOAD_DIR", "./downloads/tmp"),
		ArchiveDir:            getEnv("ARCHIVE_DIR", "./downloads/archive"),
		RemoteDir:             getEnv("REMOTE_ARCHIVE_DIR", ""),
		DownloadWorkers:       getEnvInt("DOWNLOAD_WORKERS", 5),
		QueueCapacity:         getEnvInt("DOWNLOAD_QUEUE_CAPACITY", 256),
		MaxRetries:            getEnvInt("DOWNLOAD_MAX_RETRIES", 3),
		StorageMaxGB:          getEnvInt("STORAGE_MAX_GB", 0),
		RetryWorkers:          getEnvInt("RETRY_WORKERS", 2),
		RetrySnapshotPath:     getEnv("RETRY_SNAPSHOT_PATH", "./data/retry_queue.json"),
		RetrySnapshotInterval: time.Duration(getEnvInt("RETRY_SNAPSHOT_SECONDS", 60)) * time.Second,
		Timezone:              getEnv("TIMEZONE", "UTC"),
		SeedFile:              getEnv("SEED_FILE", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFile:               getEnv("LOG_FILE", "./logs/bridge.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects unusable values once at load time.
func (c *Config) Validate() error {
	if c.DownloadWorkers <= 0 {
		return fmt.Errorf("DOWNLOAD_WORKERS must be positive, got %d", c.DownloadWorkers)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("DOWNLOAD_QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("DOWNLOAD_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.StorageMaxGB < 0 {
		return fmt.Errorf("STORAGE_MAX_GB must not be negative, got %d", c.StorageMaxGB)
	}
	if c.RetryWorkers <= 0 {
		return fmt.Errorf("RETRY_WORKERS must be positive, got %d", c.RetryWorkers)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid location: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the canonical time zone used for time-filter comparisons.
// Validate guarantees the zone parses, so errors are impossible here.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
