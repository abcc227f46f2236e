package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, FeedSourceHTTP, cfg.Feed.Source)
	assert.NotEmpty(t, cfg.Feed.URL)
	assert.True(t, cfg.Alerting.Log.Enabled)
	assert.False(t, cfg.Alerting.Telegram.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
scheduler:
  interval: 5m
storage:
  driver: memory
feed:
  source: rpc
  rpc_url: http://localhost:8545
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("GASWATCH_FEED_HISTORY_BLOCKS", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, FeedSourceRPC, cfg.Feed.Source)
	assert.Equal(t, 20, cfg.Feed.HistoryBlocks)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage:   StorageConfig{Driver: DriverMemory},
			Scheduler: SchedulerConfig{Interval: time.Minute},
			Feed:      FeedConfig{Source: FeedSourceHTTP, URL: "https://example.invalid"},
		}
	}

	cases := map[string]func(c *Config){
		"zero interval":        func(c *Config) { c.Scheduler.Interval = 0 },
		"unknown driver":       func(c *Config) { c.Storage.Driver = "bolt" },
		"postgres without dsn": func(c *Config) { c.Storage.Driver = DriverPostgres },
		"unknown feed":         func(c *Config) { c.Feed.Source = "ws" },
		"rpc without url":      func(c *Config) { c.Feed.Source = FeedSourceRPC },
		"telegram without token": func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "1"
		},
	}

	valid := base()
	require.NoError(t, valid.Validate())

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
