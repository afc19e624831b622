package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		DownloadWorkers: 5,
		QueueCapacity:   256,
		MaxRetries:      3,
		RetryWorkers:    2,
		Timezone:        "UTC",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"zero workers", func(c *Config) { c.DownloadWorkers = 0 }, "DOWNLOAD_WORKERS"},
		{"zero queue", func(c *Config) { c.QueueCapacity = 0 }, "DOWNLOAD_QUEUE_CAPACITY"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "DOWNLOAD_MAX_RETRIES"},
		{"negative storage budget", func(c *Config) { c.StorageMaxGB = -1 }, "STORAGE_MAX_GB"},
		{"storage guard disabled", func(c *Config) { c.StorageMaxGB = 0 }, ""},
		{"zero retry workers", func(c *Config) { c.RetryWorkers = 0 }, "RETRY_WORKERS"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TIMEZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
