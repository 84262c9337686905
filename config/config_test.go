package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, DefaultResultPrecision, cfg.ResultPrecision)
	assert.False(t, cfg.Redis.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Address(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:7099", cfg.Address())

	cfg.Host = "::1"
	assert.Equal(t, "[::1]:7099", cfg.Address())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty host":          func(c *Config) { c.Host = " " },
		"port zero":           func(c *Config) { c.Port = 0 },
		"port too large":      func(c *Config) { c.Port = 70000 },
		"negative retry":      func(c *Config) { c.RetryDelay = -time.Second },
		"negative timeout":    func(c *Config) { c.ConnectTimeout = -time.Second },
		"empty log path":      func(c *Config) { c.LogPath = "" },
		"empty result path":   func(c *Config) { c.ResultPath = "" },
		"same output paths":   func(c *Config) { c.ResultPath = c.LogPath },
		"precision below -1":  func(c *Config) { c.ResultPrecision = -2 },
		"negative redis ttl":  func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.TTL = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	t.Run("zero retry delay is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.RetryDelay = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestParse(t *testing.T) {
	t.Run("overrides only defined keys", func(t *testing.T) {
		cfg, err := Parse(`
host = "10.0.0.5"
token = "team-42"
retry_delay = "250ms"
result_precision = 6

[redis]
addr = "localhost:6379"
`, Default())
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.5", cfg.Host)
		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, "team-42", cfg.Token)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, 6, cfg.ResultPrecision)
		assert.Equal(t, DefaultLogPath, cfg.LogPath)
		assert.True(t, cfg.Redis.Enabled())
		assert.Equal(t, DefaultRedisPrefix, cfg.Redis.Prefix)
		assert.Equal(t, DefaultRedisTTL, cfg.Redis.TTL)
	})

	t.Run("retry_delay_ms", func(t *testing.T) {
		cfg, err := Parse(`retry_delay_ms = 1500`, Default())
		require.NoError(t, err)
		assert.Equal(t, 1500*time.Millisecond, cfg.RetryDelay)
	})

	t.Run("both retry delay keys are rejected", func(t *testing.T) {
		_, err := Parse("retry_delay = \"2s\"\nretry_delay_ms = 1500\n", Default())
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("malformed duration", func(t *testing.T) {
		_, err := Parse(`retry_delay = "soon"`, Default())
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse(`colour = "blue"`, Default())
		assert.ErrorContains(t, err, "colour")
	})

	t.Run("invalid toml", func(t *testing.T) {
		_, err := Parse(`host = `, Default())
		assert.Error(t, err)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
port = 9000
log_path = "out/game.log"
result_path = "out/result.json"
connect_timeout = "3s"
log_level = "debug"
`), 0o644))

		cfg, err := LoadFile(path, Default())
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, "out/game.log", cfg.LogPath)
		assert.Equal(t, "out/result.json", cfg.ResultPath)
		assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"), Default())
		assert.Error(t, err)
	})
}
